// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intake

import (
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
)

// SeedDomainSlices gives every listed domain that has no slice a slice
// copied from the global facts and legal questions.
//
// # Description
//
// Applied by the formatter's caller after each formatting pass. A record
// whose DomainSpecific is empty but whose Domains is not ends up with one
// slice per domain, so retrieval and reasoning have something to work on.
//
// # Outputs
//
//   - int: Number of slices created
func SeedDomainSlices(rec *datatypes.IntakeRecord) int {
	if rec == nil {
		return 0
	}
	if rec.DomainSpecific == nil {
		rec.DomainSpecific = map[string]*datatypes.DomainSlice{}
	}
	seeded := 0
	for _, domain := range rec.Domains {
		if _, ok := rec.DomainSpecific[domain]; ok {
			continue
		}
		rec.DomainSpecific[domain] = &datatypes.DomainSlice{
			Facts:          union(nil, rec.Facts),
			LegalQuestions: union(nil, rec.LegalQuestions),
		}
		seeded++
	}
	return seeded
}

// BuildQuery returns the retrieval query for a domain slice: its facts
// joined by single spaces. An empty result means retrieval is skipped for
// the domain.
func BuildQuery(slice *datatypes.DomainSlice) string {
	if slice == nil {
		return ""
	}
	parts := make([]string, 0, len(slice.Facts))
	for _, f := range slice.Facts {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// SplitFacts breaks a free-text reply into candidate fact fragments on
// sentence punctuation, semicolons and newlines. Fragments are trimmed and
// empty ones dropped.
func SplitFacts(message string) []string {
	fields := strings.FieldsFunc(message, func(r rune) bool {
		switch r {
		case '.', '!', '?', ';', '\n', '\r':
			return true
		}
		return false
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Truncate shortens s to at most max runes. Non-positive max disables the
// bound.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
