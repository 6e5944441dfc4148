// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy_engine detects and redacts sensitive identifiers in user
// messages before they are forwarded to a language model.
//
// Legal guidance needs the facts of a situation, not the caller's email
// address or card number. The Redactor replaces such identifiers with
// stable placeholders like "[REDACTED_EMAIL_ADDRESS]" and reports what it
// replaced. It never blocks a message.
package policy_engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianCounsel/pkg/extensions"
	"github.com/AleutianAI/AleutianCounsel/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

// Redactor holds the compiled pattern set.
type Redactor struct {
	classifications []Classification
}

// NewRedactor loads the embedded pattern file.
//
// # Description
//
// Unmarshals enforcement.PIIPatterns, compiles every regex and sorts the
// classifications by priority.
//
// # Outputs
//
//   - *Redactor: Ready for concurrent use
//   - error: Non-nil if the embedded file is malformed
func NewRedactor() (*Redactor, error) {
	return NewRedactorFromYAML(enforcement.PIIPatterns)
}

// NewRedactorFromYAML builds a Redactor from an arbitrary pattern file.
func NewRedactorFromYAML(data []byte) (*Redactor, error) {
	var file PatternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the pattern file: %w", err)
	}
	if err := file.compile(); err != nil {
		return nil, err
	}
	return &Redactor{classifications: file.Classifications}, nil
}

// Scan reports every match in text, in priority order.
func (r *Redactor) Scan(text string) []Finding {
	var findings []Finding
	for _, c := range r.classifications {
		for _, p := range c.Patterns {
			for _, match := range p.compiled.FindAllString(text, -1) {
				findings = append(findings, Finding{
					MatchedContent:     strings.TrimSpace(match),
					ClassificationName: c.Name,
					PatternId:          p.Id,
					PatternDescription: p.Description,
					Confidence:         p.Confidence,
				})
			}
		}
	}
	return findings
}

// Redact replaces every match with a placeholder and returns the rewritten
// text plus one Detection per pattern that fired.
func (r *Redactor) Redact(text string) (string, []extensions.Detection) {
	var detections []extensions.Detection
	out := text
	for _, c := range r.classifications {
		for _, p := range c.Patterns {
			if !p.compiled.MatchString(out) {
				continue
			}
			placeholder := "[REDACTED_" + p.Id + "]"
			out = p.compiled.ReplaceAllLiteralString(out, placeholder)
			detections = append(detections, extensions.Detection{
				Type:        p.Id,
				Action:      "redacted",
				Replacement: placeholder,
			})
		}
	}
	return out, detections
}

// FilterInput implements extensions.MessageFilter. Messages without a
// finding pass through untouched; otherwise every match is redacted and
// the highest classification is logged, never the matched content.
func (r *Redactor) FilterInput(_ context.Context, message string) (*extensions.FilterResult, error) {
	findings := r.Scan(message)
	if len(findings) == 0 {
		return &extensions.FilterResult{Original: message, Filtered: message}, nil
	}
	filtered, detections := r.Redact(message)
	slog.Info("Redacted sensitive identifiers from user message",
		"classification", findings[0].ClassificationName,
		"matches", len(findings),
		"patterns", len(detections),
	)
	return &extensions.FilterResult{
		Original:    message,
		Filtered:    filtered,
		WasModified: filtered != message,
		Detections:  detections,
	}, nil
}

var _ extensions.MessageFilter = (*Redactor)(nil)
