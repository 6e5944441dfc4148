// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianCounsel/pkg/extensions"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/intake"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/pipeline"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.counsel.dialogue")

const (
	// DefaultMaxFollowupRounds is the number of follow-up turns after which
	// the engine reasons with whatever it has.
	DefaultMaxFollowupRounds = 6

	// DefaultMaxFollowupChars bounds the follow-up text sent to
	// re-extraction, in runes.
	DefaultMaxFollowupChars = 1500
)

// Follow-up sources used in metrics.
const (
	sourceExtracted = "extracted"
	sourceClosing   = "closing"
	sourceFallback  = "fallback"
)

// Audit outcomes.
const (
	outcomeSuccess  = "success"
	outcomeDegraded = "degraded"
	outcomeFailure  = "failure"
)

// Advisor produces per-domain advice for a complete record.
//
// Only *pipeline.ConfigurationError is expected as an error. Per-domain
// failures belong in the returned entries.
type Advisor interface {
	Advise(ctx context.Context, rec *datatypes.IntakeRecord) ([]datatypes.DomainAdvice, error)
}

// Config tunes the engine. Zero values use defaults.
type Config struct {
	// MaxFollowupRounds caps follow-up turns. Default: 6
	MaxFollowupRounds int

	// MaxFollowupChars bounds re-extraction input. Default: 1500
	MaxFollowupChars int

	// DefaultJurisdiction is used by Start when none is given. Default: "usa"
	DefaultJurisdiction string
}

// Dependencies are the collaborators the engine drives.
type Dependencies struct {
	Store      SessionStore
	Classifier pipeline.Classifier
	Extractor  pipeline.Extractor
	// FollowupExtractor is used on follow-up turns. Default: Extractor
	FollowupExtractor pipeline.Extractor
	Formatter         pipeline.Formatter
	Advisor           Advisor
	Options           extensions.ServiceOptions
	// Metrics may be nil.
	Metrics *observability.DialogueMetrics
}

// Engine runs dialogue turns against stored sessions.
type Engine struct {
	deps Dependencies
	cfg  Config
	now  func() time.Time
}

// NewEngine creates an engine.
//
// # Inputs
//
//   - deps: Store, Classifier, Extractor, Formatter and Advisor are required.
//   - cfg: Engine settings. Zero values use defaults.
//
// # Outputs
//
//   - *Engine: Ready to serve turns.
//   - error: A required dependency is missing or the default jurisdiction
//     is unsupported.
func NewEngine(deps Dependencies, cfg Config) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("dialogue: session store is required")
	case deps.Classifier == nil:
		return nil, errors.New("dialogue: classifier is required")
	case deps.Extractor == nil:
		return nil, errors.New("dialogue: extractor is required")
	case deps.Formatter == nil:
		return nil, errors.New("dialogue: formatter is required")
	case deps.Advisor == nil:
		return nil, errors.New("dialogue: advisor is required")
	}
	if deps.FollowupExtractor == nil {
		deps.FollowupExtractor = deps.Extractor
	}
	deps.Options = deps.Options.Normalize()

	if cfg.MaxFollowupRounds <= 0 {
		cfg.MaxFollowupRounds = DefaultMaxFollowupRounds
	}
	if cfg.MaxFollowupChars <= 0 {
		cfg.MaxFollowupChars = DefaultMaxFollowupChars
	}
	if cfg.DefaultJurisdiction == "" {
		cfg.DefaultJurisdiction = datatypes.DefaultJurisdiction
	}
	def, err := datatypes.NormalizeJurisdiction(cfg.DefaultJurisdiction)
	if err != nil {
		return nil, fmt.Errorf("%w: default %q", ErrInvalidJurisdiction, cfg.DefaultJurisdiction)
	}
	cfg.DefaultJurisdiction = def

	return &Engine{deps: deps, cfg: cfg, now: time.Now}, nil
}

// turn collects the response and bookkeeping for one user turn.
type turn struct {
	resp    *datatypes.TurnResponse
	outcome string
	start   Phase
	began   time.Time
}

func (t *turn) reply(text string) {
	t.resp.Reply = text
}

func (t *turn) warn(msg string) {
	t.resp.Warnings = append(t.resp.Warnings, msg)
}

func (t *turn) degrade() {
	if t.outcome == outcomeSuccess {
		t.outcome = outcomeDegraded
	}
}

// =============================================================================
// Session Lifecycle
// =============================================================================

// Start creates a session and returns the greeting.
//
// # Inputs
//
//   - ctx: Bounds the store call.
//   - jurisdiction: Jurisdiction code, case-insensitive. Empty uses the
//     configured default.
//
// # Outputs
//
//   - *datatypes.TurnResponse: Session ID, phase "greeting" and the greeting.
//   - error: Wraps ErrInvalidJurisdiction, or a store failure.
func (e *Engine) Start(ctx context.Context, jurisdiction string) (*datatypes.TurnResponse, error) {
	code, err := e.normalizeJurisdiction(jurisdiction)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	s := NewSession(uuid.NewString(), code, now)
	s.appendTranscript(RoleAssistant, Greeting, now)
	if err := e.deps.Store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	e.deps.Metrics.SessionOpened()
	e.audit(ctx, extensions.AuditEvent{
		EventType: extensions.EventSessionCreated,
		SessionID: s.ID,
		Action:    "create",
		Outcome:   outcomeSuccess,
		Metadata:  map[string]any{"jurisdiction": code},
	})
	slog.Info("Dialogue session started", "session_id", s.ID, "jurisdiction", code)

	return &datatypes.TurnResponse{
		SessionID: s.ID,
		TurnID:    uuid.NewString(),
		Phase:     string(s.Phase),
		Reply:     Greeting,
	}, nil
}

// Get returns the stored session.
func (e *Engine) Get(ctx context.Context, id string) (*Session, error) {
	return e.deps.Store.Get(ctx, id)
}

// Delete removes a session and everything it holds.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.deps.Store.Delete(ctx, id); err != nil {
		return err
	}
	e.deps.Metrics.SessionClosed()
	e.audit(ctx, extensions.AuditEvent{
		EventType: extensions.EventSessionDeleted,
		SessionID: id,
		Action:    "delete",
		Outcome:   outcomeSuccess,
	})
	return nil
}

// SetJurisdiction changes the jurisdiction used by later turns. The
// record's country is updated on the next turn that merges data or
// reasons.
func (e *Engine) SetJurisdiction(ctx context.Context, id, jurisdiction string) (*Session, error) {
	if strings.TrimSpace(jurisdiction) == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidJurisdiction)
	}
	code, err := e.normalizeJurisdiction(jurisdiction)
	if err != nil {
		return nil, err
	}

	unlock, err := e.deps.Store.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := e.deps.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Jurisdiction = code
	s.UpdatedAt = e.now().UTC()
	if err := e.deps.Store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	slog.Info("Session jurisdiction changed", "session_id", id, "jurisdiction", code)
	return s, nil
}

func (e *Engine) normalizeJurisdiction(code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return e.cfg.DefaultJurisdiction, nil
	}
	norm, err := datatypes.NormalizeJurisdiction(code)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidJurisdiction, code)
	}
	return norm, nil
}

// =============================================================================
// Turns
// =============================================================================

// HandleMessage processes one free-text user turn.
//
// # Description
//
// The message is filtered first. Then the session's phase decides what
// runs:
//   - greeting: intake runs in the same turn.
//   - followups: the message is split into facts and re-extracted, then the
//     follow-up protocol runs.
//   - reason: reasoning is retried, typically after a configuration error.
//   - done: a static acknowledgement, no adapter calls.
//
// Any phase may fall through to reasoning within the turn.
//
// # Inputs
//
//   - ctx: Bounds every adapter call of the turn.
//   - id: Session ID.
//   - message: The user's text.
//
// # Outputs
//
//   - *datatypes.TurnResponse: Always carries a reply on success.
//   - error: ErrSessionNotFound, ErrSessionBusy, or a store failure.
func (e *Engine) HandleMessage(ctx context.Context, id, message string) (*datatypes.TurnResponse, error) {
	ctx, span := tracer.Start(ctx, "Engine.HandleMessage")
	defer span.End()

	unlock, err := e.deps.Store.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := e.deps.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	t := e.beginTurn(s)
	span.SetAttributes(attribute.String("counsel.session_id", id), attribute.String("counsel.phase", string(t.start)))

	text, reason, blocked := e.filter(ctx, t, message)
	if blocked {
		t.outcome = outcomeFailure
		t.reply(blockedTemplate + reason)
		return e.finishTurn(ctx, s, t)
	}
	s.appendTranscript(RoleUser, text, e.now().UTC())

	switch s.Phase {
	case PhaseGreeting, PhaseIntake:
		e.runIntake(ctx, s, t, text)
	case PhaseFollowups:
		if s.Record == nil {
			e.runIntake(ctx, s, t, text)
			break
		}
		intake.Merge(s.Record, datatypes.Answers{Facts: intake.SplitFacts(text)})
		e.reextract(ctx, s, t, text)
		e.advance(ctx, s, t)
	case PhaseReason:
		intake.Merge(s.Record, datatypes.Answers{Country: s.Jurisdiction})
		e.runReason(ctx, s, t)
	case PhaseDone:
		t.reply(doneReply)
	default:
		return nil, fmt.Errorf("session %s in unknown phase %q", id, s.Phase)
	}
	return e.finishTurn(ctx, s, t)
}

// HandleAnswers merges a structured answer payload, such as a follow-up
// form, and continues the dialogue.
//
// # Description
//
// Answers are merged with the merge engine; domains the record does not
// have are ignored. A non-empty country also becomes the session
// jurisdiction. In the followups phase the follow-up protocol runs next.
// In the reason phase reasoning is retried.
//
// # Outputs
//
//   - *datatypes.TurnResponse: The turn result.
//   - error: *PhaseError before intake has run, ErrInvalidJurisdiction,
//     ErrSessionNotFound, ErrSessionBusy or a store failure.
func (e *Engine) HandleAnswers(ctx context.Context, id string, answers datatypes.Answers) (*datatypes.TurnResponse, error) {
	ctx, span := tracer.Start(ctx, "Engine.HandleAnswers")
	defer span.End()

	if answers.Country != "" {
		code, err := e.normalizeJurisdiction(answers.Country)
		if err != nil {
			return nil, err
		}
		answers.Country = code
	}

	unlock, err := e.deps.Store.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := e.deps.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Phase == PhaseGreeting || s.Record == nil {
		return nil, &PhaseError{Phase: s.Phase, Op: "answers"}
	}
	t := e.beginTurn(s)

	if s.Phase == PhaseDone {
		t.reply(doneReply)
		return e.finishTurn(ctx, s, t)
	}

	answers = e.filterAnswers(ctx, t, answers)
	if answers.Country != "" {
		s.Jurisdiction = answers.Country
	}
	s.appendTranscript(RoleUser, SummarizeAnswers(answers), e.now().UTC())
	intake.Merge(s.Record, datatypes.Answers{Country: s.Jurisdiction})
	intake.Merge(s.Record, answers)

	if s.Phase == PhaseReason {
		e.runReason(ctx, s, t)
	} else {
		s.Phase = PhaseFollowups
		e.advance(ctx, s, t)
	}
	return e.finishTurn(ctx, s, t)
}

func (e *Engine) beginTurn(s *Session) *turn {
	return &turn{
		resp:    &datatypes.TurnResponse{SessionID: s.ID, TurnID: uuid.NewString()},
		outcome: outcomeSuccess,
		start:   s.Phase,
		began:   e.now(),
	}
}

func (e *Engine) finishTurn(ctx context.Context, s *Session, t *turn) (*datatypes.TurnResponse, error) {
	now := e.now().UTC()
	s.appendTranscript(RoleAssistant, t.resp.Reply, now)
	s.UpdatedAt = now
	if err := e.deps.Store.Save(ctx, s); err != nil {
		e.deps.Metrics.RecordTurn(string(t.start), false, e.now().Sub(t.began))
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	t.resp.Phase = string(s.Phase)
	if s.Record != nil {
		t.resp.Record = s.Record.Clone()
	}
	e.deps.Metrics.RecordTurn(string(t.start), t.outcome != outcomeFailure, e.now().Sub(t.began))

	event := extensions.EventTurnCompleted
	if t.outcome == outcomeFailure {
		event = extensions.EventTurnFailed
	}
	e.audit(ctx, extensions.AuditEvent{
		EventType: event,
		SessionID: s.ID,
		Action:    string(t.start),
		Outcome:   t.outcome,
		Metadata: map[string]any{
			"turn_id":   t.resp.TurnID,
			"phase":     string(s.Phase),
			"questions": len(t.resp.Questions),
			"advice":    len(t.resp.Advice),
		},
	})
	return t.resp, nil
}

// =============================================================================
// Phases
// =============================================================================

// runIntake builds the first record from the user's opening message.
func (e *Engine) runIntake(ctx context.Context, s *Session, t *turn, text string) {
	ctx, span := tracer.Start(ctx, "Engine.runIntake")
	defer span.End()
	s.Phase = PhaseIntake

	domains := e.deps.Classifier.Classify(ctx, text)
	outputs := e.deps.Extractor.Extract(ctx, text, domains)
	if len(outputs) < len(domains) {
		t.degrade()
	}

	rec := e.deps.Formatter.Format(ctx, outputs)
	if len(rec.Domains) == 0 {
		rec.Domains = append([]string(nil), domains...)
	}
	seeded := intake.SeedDomainSlices(rec)
	if s.Jurisdiction != "" {
		rec.Country = s.Jurisdiction
	}
	s.Record = rec
	s.Phase = PhaseFollowups

	slog.Info("Intake record built",
		"session_id", s.ID,
		"domains", rec.Domains,
		"facts", len(rec.Facts),
		"seeded_slices", seeded)

	questions := intake.NextQuestions(intake.Evaluate(rec), s.Asked)
	if len(questions) > 0 {
		s.Asked.Record(questions)
		e.ask(t, questions)
		return
	}
	e.runReason(ctx, s, t)
}

// reextract runs the follow-up extraction strategy over the message and
// merges the result on top of the session record.
func (e *Engine) reextract(ctx context.Context, s *Session, t *turn, text string) {
	rec := s.Record
	truncated := intake.Truncate(text, e.cfg.MaxFollowupChars)
	outputs := e.deps.FollowupExtractor.Extract(ctx, truncated, rec.Domains)
	if len(outputs) == 0 {
		intake.Merge(rec, datatypes.Answers{Country: s.Jurisdiction})
		return
	}

	extracted := e.deps.Formatter.Format(ctx, outputs)
	intake.SeedDomainSlices(extracted)
	extracted.Country = s.Jurisdiction
	intake.Merge(rec, intake.AnswersFromRecord(extracted))

	if missing := nonBlank(extracted.MissingInfo); len(missing) > 0 {
		rec.MissingInfo = missing
	}
}

// advance runs the follow-up protocol after new information was merged
// and either asks the surfaced questions or moves on to reasoning.
func (e *Engine) advance(ctx context.Context, s *Session, t *turn) {
	s.FollowupRounds++
	questions := intake.NextQuestions(intake.Evaluate(s.Record), s.Asked)
	if len(questions) > 0 && s.FollowupRounds < e.cfg.MaxFollowupRounds {
		s.Asked.Record(questions)
		e.ask(t, questions)
		return
	}
	if len(questions) > 0 {
		slog.Info("Follow-up round limit reached, reasoning with current record",
			"session_id", s.ID, "rounds", s.FollowupRounds)
	}
	e.runReason(ctx, s, t)
}

func (e *Engine) ask(t *turn, questions []intake.Question) {
	texts := intake.Texts(questions)
	t.resp.Questions = texts
	t.reply(FollowupReply(texts))

	source := sourceExtracted
	if len(questions) == 1 {
		switch questions[0].Text {
		case intake.ClosingQuestion:
			source = sourceClosing
		case intake.FallbackQuestion:
			source = sourceFallback
		}
	}
	e.deps.Metrics.RecordFollowUps(source, len(questions))
}

// runReason retrieves and reasons across all domains. A configuration
// error keeps the session in the reason phase so the next turn retries.
func (e *Engine) runReason(ctx context.Context, s *Session, t *turn) {
	ctx, span := tracer.Start(ctx, "Engine.runReason")
	defer span.End()
	s.Phase = PhaseReason

	advice, err := e.deps.Advisor.Advise(ctx, s.Record)
	if err != nil {
		span.RecordError(err)
		t.outcome = outcomeFailure
		t.warn(err.Error())
		if pipeline.IsConfigurationError(err) {
			slog.Warn("Reasoning blocked by configuration", "session_id", s.ID, "error", err)
			t.reply(configurationReply(err))
			return
		}
		slog.Error("Reasoning failed", "session_id", s.ID, "error", err)
		t.reply("Something went wrong while preparing advice. Send any message to try again.")
		return
	}

	failed := 0
	for _, a := range advice {
		if a.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		t.degrade()
	}

	s.Advice = advice
	s.Phase = PhaseDone
	t.resp.Advice = advice
	t.reply(AdviceReply(advice))

	e.audit(ctx, extensions.AuditEvent{
		EventType: extensions.EventAdviceDelivered,
		SessionID: s.ID,
		Action:    string(PhaseReason),
		Outcome:   t.outcome,
		Metadata:  map[string]any{"domains": len(advice), "failed": failed, "jurisdiction": s.Record.Country},
	})
}

// =============================================================================
// Hooks
// =============================================================================

// filter runs the message filter. Filter errors other than a block are
// counted and the original text is used.
func (e *Engine) filter(ctx context.Context, t *turn, text string) (string, string, bool) {
	res, err := e.deps.Options.MessageFilter.FilterInput(ctx, text)
	if err != nil {
		if errors.Is(err, extensions.ErrMessageBlocked) {
			return "", err.Error(), true
		}
		slog.Warn("Message filter failed, using original text", "error", err)
		e.deps.Metrics.RecordAdapterFailure(observability.AdapterFilter)
		t.degrade()
		return text, "", false
	}
	if res.WasBlocked {
		return "", res.BlockReason, true
	}
	for _, d := range res.Detections {
		e.deps.Metrics.RecordRedaction(d.Type)
	}
	if res.WasModified {
		t.warn(fmt.Sprintf("Removed %d sensitive identifier(s) before processing.", len(res.Detections)))
	}
	return res.Filtered, "", false
}

// filterAnswers filters every string of an answer payload. Blocked
// strings are dropped.
func (e *Engine) filterAnswers(ctx context.Context, t *turn, a datatypes.Answers) datatypes.Answers {
	list := func(in []string) []string {
		if len(in) == 0 {
			return in
		}
		out := make([]string, 0, len(in))
		for _, s := range in {
			if filtered, _, blocked := e.filter(ctx, t, s); !blocked {
				out = append(out, filtered)
			}
		}
		return out
	}

	out := datatypes.Answers{
		Country:        a.Country,
		Facts:          list(a.Facts),
		LegalQuestions: list(a.LegalQuestions),
	}
	if len(a.Domains) > 0 {
		out.Domains = make(map[string]datatypes.DomainAnswers, len(a.Domains))
		for domain, d := range a.Domains {
			location := d.Location
			if location != "" {
				if filtered, _, blocked := e.filter(ctx, t, location); blocked {
					location = ""
				} else {
					location = filtered
				}
			}
			out.Domains[domain] = datatypes.DomainAnswers{
				Facts:          list(d.Facts),
				LegalQuestions: list(d.LegalQuestions),
				Entities:       list(d.Entities),
				Timeline:       list(d.Timeline),
				Injuries:       list(d.Injuries),
				Damages:        list(d.Damages),
				Location:       location,
			}
		}
	}
	return out
}

func (e *Engine) audit(ctx context.Context, event extensions.AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now().UTC()
	}
	if err := e.deps.Options.AuditLogger.Log(ctx, event); err != nil {
		slog.Warn("Audit log write failed", "event", event.EventType, "session_id", event.SessionID, "error", err)
		e.deps.Metrics.RecordAdapterFailure(observability.AdapterAudit)
	}
}

// SummarizeAnswers renders an answer payload as transcript text.
func SummarizeAnswers(a datatypes.Answers) string {
	var lines []string
	if a.Country != "" {
		lines = append(lines, "Jurisdiction: "+datatypes.JurisdictionLabel(a.Country))
	}
	if len(a.Facts) > 0 {
		lines = append(lines, "Facts: "+strings.Join(a.Facts, "; "))
	}
	if len(a.LegalQuestions) > 0 {
		lines = append(lines, "Questions: "+strings.Join(a.LegalQuestions, "; "))
	}
	for _, domain := range sortedKeys(a.Domains) {
		d := a.Domains[domain]
		var parts []string
		parts = append(parts, d.Facts...)
		parts = append(parts, d.LegalQuestions...)
		parts = append(parts, d.Entities...)
		parts = append(parts, d.Timeline...)
		parts = append(parts, d.Injuries...)
		parts = append(parts, d.Damages...)
		if d.Location != "" {
			parts = append(parts, d.Location)
		}
		if len(parts) > 0 {
			lines = append(lines, pipeline.DomainTitle(domain)+": "+strings.Join(parts, "; "))
		}
	}
	if len(lines) == 0 {
		return "(no new answers)"
	}
	return strings.Join(lines, "\n")
}
