// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianCounsel/services/llm"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/intake"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/observability"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	notSpecified  = "Not specified"
	noLawsFound   = "No relevant laws found."
	maxSnippetLen = 1200
	maxSourceLen  = 120

	// DefaultReasoningConcurrency bounds in-flight retrieval and reasoning
	// calls during the reason phase.
	DefaultReasoningConcurrency = 4
)

// ReasonerConfig tunes the reason phase.
type ReasonerConfig struct {
	// Concurrency bounds parallel domains. Default: 4
	Concurrency int
	// TopK is the number of passages retrieved per domain. Default: 5
	TopK int
}

// Reasoner retrieves legal text and produces advice for every domain of an
// intake record.
type Reasoner struct {
	model     llm.LLMClient
	retriever Retriever
	catalog   *Catalog
	metrics   *observability.DialogueMetrics
	cfg       ReasonerConfig
}

// NewReasoner creates a reasoner. metrics may be nil.
func NewReasoner(model llm.LLMClient, retriever Retriever, catalog *Catalog, metrics *observability.DialogueMetrics, cfg ReasonerConfig) *Reasoner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultReasoningConcurrency
	}
	if cfg.TopK < 1 {
		cfg.TopK = DefaultTopK
	}
	return &Reasoner{model: model, retriever: retriever, catalog: catalog, metrics: metrics, cfg: cfg}
}

// Advise runs retrieval and then reasoning across all domains.
//
// # Description
//
// This is the whole reason phase. Only a *ConfigurationError is returned;
// every other failure is folded into the affected domain's entry.
//
// # Inputs
//
//   - ctx: Bounds every retrieval and model call.
//   - rec: The intake record. Not modified.
//
// # Outputs
//
//   - []datatypes.DomainAdvice: One entry per domain slice, sorted by domain.
//   - error: *ConfigurationError when reasoning cannot start.
func (r *Reasoner) Advise(ctx context.Context, rec *datatypes.IntakeRecord) ([]datatypes.DomainAdvice, error) {
	laws, err := r.Gather(ctx, rec)
	if err != nil {
		return nil, err
	}
	return r.Reason(ctx, rec, laws), nil
}

// Gather checks the jurisdiction index and retrieves passages per domain.
//
// # Description
//
// The query for a domain is built from its slice facts. Domains with an
// empty query are skipped. A retrieval failure is logged and counted and
// the domain proceeds with no passages. When the index lookup fails for
// any reason other than configuration, retrieval is skipped entirely.
//
// # Outputs
//
//   - map[string][]datatypes.LawResult: Passages keyed by domain.
//   - error: *ConfigurationError for a missing country or index.
func (r *Reasoner) Gather(ctx context.Context, rec *datatypes.IntakeRecord) (map[string][]datatypes.LawResult, error) {
	ctx, span := tracer.Start(ctx, "Reasoner.Gather")
	defer span.End()

	if rec == nil || strings.TrimSpace(rec.Country) == "" {
		return nil, &ConfigurationError{Reason: "no jurisdiction set for the session"}
	}
	if err := r.retriever.EnsureIndex(ctx, rec.Country); err != nil {
		span.RecordError(err)
		if IsConfigurationError(err) {
			return nil, err
		}
		slog.Warn("Legal text index unavailable, reasoning without citations", "country", rec.Country, "error", err)
		r.metrics.RecordAdapterFailure(observability.AdapterRetriever)
		return map[string][]datatypes.LawResult{}, nil
	}

	domains := sortedDomains(rec)
	results := make([][]datatypes.LawResult, len(domains))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, domain := range domains {
		query := intake.BuildQuery(rec.DomainSpecific[domain])
		if query == "" {
			continue
		}
		g.Go(func() error {
			laws, err := r.retriever.Retrieve(gctx, rec.Country, query, r.cfg.TopK)
			if err != nil {
				slog.Warn("Retrieval failed for domain", "domain", domain, "country", rec.Country, "error", err)
				r.metrics.RecordAdapterFailure(observability.AdapterRetriever)
				return nil
			}
			results[i] = laws
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string][]datatypes.LawResult, len(domains))
	for i, domain := range domains {
		if len(results[i]) > 0 {
			out[domain] = results[i]
		}
	}
	return out, nil
}

// Reason invokes the reasoning model once per domain slice.
//
// # Description
//
// Domains run concurrently under the configured limit. A failed call is
// rendered inline as "[Error processing domain <d>]: <err>" and leaves the
// other domains untouched. Output that parses as an advisory is attached
// as structured data; the raw text is always kept.
//
// # Inputs
//
//   - ctx: Bounds every model call.
//   - rec: The intake record. Not modified.
//   - laws: Passages keyed by domain. May be nil.
//
// # Outputs
//
//   - []datatypes.DomainAdvice: One entry per domain slice, sorted by domain.
func (r *Reasoner) Reason(ctx context.Context, rec *datatypes.IntakeRecord, laws map[string][]datatypes.LawResult) []datatypes.DomainAdvice {
	ctx, span := tracer.Start(ctx, "Reasoner.Reason")
	defer span.End()

	domains := sortedDomains(rec)
	span.SetAttributes(attribute.Int("counsel.domain_count", len(domains)))
	advice := make([]datatypes.DomainAdvice, len(domains))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, domain := range domains {
		g.Go(func() error {
			advice[i] = r.reasonOne(gctx, rec, domain, laws[domain])
			return nil
		})
	}
	_ = g.Wait()

	for _, a := range advice {
		r.metrics.RecordAdvice(a.Error == "")
	}
	return advice
}

func (r *Reasoner) reasonOne(ctx context.Context, rec *datatypes.IntakeRecord, domain string, laws []datatypes.LawResult) datatypes.DomainAdvice {
	citations := FormatCitations(laws, rec.Country)
	sources := SourceLabels(laws, rec.Country)
	prompt := r.BuildPrompt(domain, rec.DomainSpecific[domain], rec.Country, citations)

	raw, err := r.model.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: r.catalog.ReasonerSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	}, llm.GenerationParams{Temperature: llm.Float32(0.2), JSONMode: true})
	if err == nil && strings.TrimSpace(raw) == "" {
		err = fmt.Errorf("empty reasoning output")
	}
	if err != nil {
		slog.Warn("Reasoning failed for domain", "domain", domain, "error", err)
		r.metrics.RecordAdapterFailure(observability.AdapterReasoner)
		return datatypes.DomainAdvice{
			Domain:    domain,
			Text:      fmt.Sprintf("[Error processing domain %s]: %v", domain, err),
			Citations: citations,
			Sources:   sources,
			Error:     err.Error(),
		}
	}

	raw = strings.TrimSpace(raw)
	out := datatypes.DomainAdvice{Domain: domain, Text: raw, Citations: citations, Sources: sources}
	var adv datatypes.Advisory
	if err := decodeJSONObject(raw, &adv); err == nil && !adv.IsEmpty() {
		out.Advisory = &adv
	}
	return out
}

// BuildPrompt assembles the reasoning prompt for one domain.
//
// Missing location reads "Not specified". Injuries are shown when present,
// otherwise damages. An empty citation list reads "No relevant laws
// found."
func (r *Reasoner) BuildPrompt(domain string, slice *datatypes.DomainSlice, country string, citations []string) string {
	if slice == nil {
		slice = &datatypes.DomainSlice{}
	}
	spec, _ := r.catalog.Lookup(domain)

	location := notSpecified
	if slice.Location != nil && strings.TrimSpace(*slice.Location) != "" {
		location = strings.TrimSpace(*slice.Location)
	}
	harm := slice.Injuries
	if len(harm) == 0 {
		harm = slice.Damages
	}
	lawText := noLawsFound
	if len(citations) > 0 {
		lawText = strings.Join(citations, "\n\n")
	}

	return render(r.catalog.ReasonerPrompt, map[string]string{
		"domain":          domain,
		"domain_title":    spec.Title,
		"facts":           strings.Join(slice.Facts, "\n"),
		"legal_questions": strings.Join(slice.LegalQuestions, "\n"),
		"entities":        strings.Join(slice.Entities, "\n"),
		"timeline":        strings.Join(slice.Timeline, "\n"),
		"location":        location,
		"harm":            strings.Join(harm, "\n"),
		"jurisdiction":    datatypes.JurisdictionLabel(country),
		"laws":            lawText,
	})
}

// FormatCitations renders retrieved passages for the prompt.
//
// # Description
//
// Each passage is labelled by the best identification it carries:
//  1. act and section: "<act>, Section <section>: <text>"
//  2. title: "<title>: <text>"
//  3. otherwise the text tagged with its jurisdiction, "[<jurisdiction>] <text>",
//     falling back to the session country's label.
//
// An unlabelled passage with empty text is omitted. Text is cut to a
// bounded length.
func FormatCitations(laws []datatypes.LawResult, country string) []string {
	cited := citeAll(laws, country)
	out := make([]string, 0, len(cited))
	for _, c := range cited {
		switch {
		case c.tagged:
			out = append(out, c.label+" "+c.snippet)
		case c.snippet != "":
			out = append(out, c.label+": "+c.snippet)
		default:
			out = append(out, c.label)
		}
	}
	return out
}

// SourceLabels returns the short name of every passage FormatCitations
// would cite, in the same order: the act and section or the title, or the
// start of the text for a passage identified only by its jurisdiction.
func SourceLabels(laws []datatypes.LawResult, country string) []string {
	cited := citeAll(laws, country)
	out := make([]string, 0, len(cited))
	for _, c := range cited {
		if c.tagged {
			out = append(out, intake.Truncate(c.label+" "+c.snippet, maxSourceLen))
			continue
		}
		out = append(out, c.label)
	}
	return out
}

type citation struct {
	label   string
	snippet string
	// tagged marks a passage labelled only by "[<jurisdiction>]".
	tagged bool
}

func citeAll(laws []datatypes.LawResult, country string) []citation {
	out := make([]citation, 0, len(laws))
	for _, law := range laws {
		c := citation{snippet: intake.Truncate(strings.TrimSpace(law.Content), maxSnippetLen)}
		act := strings.TrimSpace(law.Act)
		section := strings.TrimSpace(law.Section)
		title := strings.TrimSpace(law.Title)

		switch {
		case act != "" && section != "":
			c.label = act + ", Section " + section
		case title != "":
			c.label = title
		case c.snippet == "":
			continue
		default:
			tag := strings.TrimSpace(law.Jurisdiction)
			if tag == "" {
				tag = datatypes.JurisdictionLabel(country)
			}
			c.label = "[" + tag + "]"
			c.tagged = true
		}
		out = append(out, c)
	}
	return out
}

func sortedDomains(rec *datatypes.IntakeRecord) []string {
	if rec == nil {
		return nil
	}
	domains := make([]string, 0, len(rec.DomainSpecific))
	for d, s := range rec.DomainSpecific {
		if s != nil {
			domains = append(domains, d)
		}
	}
	sort.Strings(domains)
	return domains
}
