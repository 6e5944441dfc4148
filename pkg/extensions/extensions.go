// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the hook points the counsel service calls out to
// on every dialogue turn.
//
// The open source build wires a slog-backed audit logger and the PII
// redactor from the policy engine. Deployments with compliance requirements
// can supply their own implementations through ServiceOptions.
package extensions

// ServiceOptions carries the pluggable collaborators used by the dialogue
// engine and the HTTP handlers.
//
// Nil fields are replaced with no-op implementations by Normalize, so
// callers never need to nil-check individual hooks.
//
// Example:
//
//	opts := extensions.DefaultOptions().
//	    WithAudit(extensions.NewSlogAuditLogger(slog.Default())).
//	    WithFilter(redactor)
type ServiceOptions struct {
	// AuditLogger records one event per dialogue turn.
	// Default: NopAuditLogger
	AuditLogger AuditLogger

	// MessageFilter rewrites user text before it reaches any model.
	// Default: NopMessageFilter
	MessageFilter MessageFilter
}

// DefaultOptions returns ServiceOptions with no-op hooks.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuditLogger:   &NopAuditLogger{},
		MessageFilter: &NopMessageFilter{},
	}
}

// WithAudit returns a copy of opts using the given audit logger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// WithFilter returns a copy of opts using the given message filter.
func (opts ServiceOptions) WithFilter(filter MessageFilter) ServiceOptions {
	opts.MessageFilter = filter
	return opts
}

// Normalize fills any nil hook with its no-op implementation.
func (opts ServiceOptions) Normalize() ServiceOptions {
	if opts.AuditLogger == nil {
		opts.AuditLogger = &NopAuditLogger{}
	}
	if opts.MessageFilter == nil {
		opts.MessageFilter = &NopMessageFilter{}
	}
	return opts
}
