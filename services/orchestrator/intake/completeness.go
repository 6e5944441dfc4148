// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intake implements the pure decision logic of the counsel
// dialogue: completeness evaluation, the follow-up question protocol, the
// idempotent merge of user answers into an intake record, fallback seeding
// and retrieval query construction.
//
// Nothing in this package performs I/O.
package intake

import (
	"strings"

	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
)

// =============================================================================
// Completeness Evaluator
// =============================================================================

// Key names a field of the intake record that the evaluator tracks.
type Key string

const (
	KeyCountry        Key = "country"
	KeyFacts          Key = "facts"
	KeyLegalQuestions Key = "legal_questions"
	KeyDomains        Key = "domains"

	KeyEntities Key = "entities"
	KeyTimeline Key = "timeline"
	KeyLocation Key = "location"
	KeyInjuries Key = "injuries"
	KeyDamages  Key = "damages"
)

// CriticalKeys must all be present before advice can be generated.
var CriticalKeys = []Key{KeyCountry, KeyFacts, KeyLegalQuestions, KeyDomains}

// OptionalKeys are reported for transparency and never affect completeness.
var OptionalKeys = []Key{KeyEntities, KeyTimeline, KeyLocation, KeyInjuries, KeyDamages}

// Verdict is the result of evaluating a record.
type Verdict struct {
	IsComplete        bool     `json:"is_complete"`
	MissingCritical   []Key    `json:"missing_critical"`
	MissingOptional   []Key    `json:"missing_optional"`
	FollowUpQuestions []string `json:"follow_up_questions"`
}

// Evaluate decides whether rec holds enough information to advise.
//
// # Description
//
// A critical key is missing when its value is empty: a blank country or a
// list with no non-blank entry. Optional keys are read from the domain
// slices and count as present when any slice carries a value.
// FollowUpQuestions passes MissingInfo through unchanged apart from
// dropping blank entries; deciding what to ask belongs to extraction.
//
// # Inputs
//
//   - rec: The record to evaluate. nil is treated as an empty record.
//
// # Outputs
//
//   - Verdict: Keys are reported in the order of CriticalKeys and
//     OptionalKeys.
//
// # Examples
//
//	v := intake.Evaluate(datatypes.NewIntakeRecord())
//	// v.IsComplete == false
//	// v.MissingCritical == [country facts legal_questions domains]
func Evaluate(rec *datatypes.IntakeRecord) Verdict {
	if rec == nil {
		rec = datatypes.NewIntakeRecord()
	}

	v := Verdict{
		MissingCritical:   []Key{},
		MissingOptional:   []Key{},
		FollowUpQuestions: nonBlank(rec.MissingInfo),
	}

	if strings.TrimSpace(rec.Country) == "" {
		v.MissingCritical = append(v.MissingCritical, KeyCountry)
	}
	if !hasValue(rec.Facts) {
		v.MissingCritical = append(v.MissingCritical, KeyFacts)
	}
	if !hasValue(rec.LegalQuestions) {
		v.MissingCritical = append(v.MissingCritical, KeyLegalQuestions)
	}
	if !hasValue(rec.Domains) {
		v.MissingCritical = append(v.MissingCritical, KeyDomains)
	}

	for _, key := range OptionalKeys {
		if !sliceHas(rec, key) {
			v.MissingOptional = append(v.MissingOptional, key)
		}
	}

	v.IsComplete = len(v.MissingCritical) == 0
	return v
}

func sliceHas(rec *datatypes.IntakeRecord, key Key) bool {
	for _, s := range rec.DomainSpecific {
		if s == nil {
			continue
		}
		switch key {
		case KeyEntities:
			if hasValue(s.Entities) {
				return true
			}
		case KeyTimeline:
			if hasValue(s.Timeline) {
				return true
			}
		case KeyLocation:
			if s.Location != nil && strings.TrimSpace(*s.Location) != "" {
				return true
			}
		case KeyInjuries:
			if hasValue(s.Injuries) {
				return true
			}
		case KeyDamages:
			if hasValue(s.Damages) {
				return true
			}
		}
	}
	return false
}

func hasValue(list []string) bool {
	for _, s := range list {
		if strings.TrimSpace(s) != "" {
			return true
		}
	}
	return false
}

func nonBlank(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
