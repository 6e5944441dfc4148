// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types emitted by the dialogue engine.
const (
	EventSessionCreated  = "session.created"
	EventSessionDeleted  = "session.deleted"
	EventTurnCompleted   = "dialogue.turn"
	EventAdviceDelivered = "dialogue.advice"
	EventTurnFailed      = "dialogue.failed"
)

// AuditEvent describes one auditable step of a counsel session.
//
// Events never carry the user's message text. Metadata holds counts and
// identifiers only (phase, domains, number of questions asked).
//
// Example:
//
//	event := AuditEvent{
//	    EventType: EventTurnCompleted,
//	    SessionID: sess.ID,
//	    Action:    "followups",
//	    Outcome:   "success",
//	    Metadata:  map[string]any{"questions": 2},
//	}
type AuditEvent struct {
	// EventType uses the "category.action" form, see the Event constants.
	EventType string

	// Timestamp defaults to time.Now().UTC() when zero.
	Timestamp time.Time

	// SessionID identifies the dialogue the event belongs to.
	SessionID string

	// Action is the dialogue phase or API operation that ran.
	Action string

	// Outcome is "success", "degraded" or "failure".
	Outcome string

	// Metadata carries non-sensitive, event-specific detail.
	Metadata map[string]any
}

// AuditLogger records audit events.
//
// Implementations must be safe for concurrent use. Log must not block the
// turn for long; a slow sink should buffer internally. Errors are logged by
// the caller and never fail a turn.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	return nil
}

var _ AuditLogger = (*NopAuditLogger)(nil)

// SlogAuditLogger writes audit events as structured log lines.
type SlogAuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewSlogAuditLogger creates an audit logger backed by logger. A nil logger
// falls back to slog.Default().
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger.With("component", "audit"), now: time.Now}
}

// Log emits the event at Info level.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	attrs := []any{
		"event_type", event.EventType,
		"timestamp", event.Timestamp,
		"session_id", event.SessionID,
		"action", event.Action,
		"outcome", event.Outcome,
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, "metadata", event.Metadata)
	}
	l.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}

var _ AuditLogger = (*SlogAuditLogger)(nil)
