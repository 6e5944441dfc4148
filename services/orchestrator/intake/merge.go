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

	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
)

// =============================================================================
// Response Merge Engine
// =============================================================================

// Merge folds answers into rec and returns rec.
//
// # Description
//
// Total and idempotent. The record is mutated in place; the returned
// pointer is the same record (or a new empty one when rec is nil).
//
//   - Country: a non-empty value overwrites (last write wins).
//   - Facts, LegalQuestions: set union on exact string equality, keeping
//     first-seen order. Blank strings are dropped. Duplicates already in
//     the record are removed as a side effect.
//   - Domains: only domains that already have a slice accept additions.
//     Answers for any other domain are ignored; new domains enter only
//     through the formatter.
//   - Within a slice, list fields union the same way and a non-blank
//     Location overwrites.
//
// # Examples
//
//	rec = intake.Merge(rec, datatypes.Answers{Facts: []string{"Fired on Jan 5"}})
//	rec = intake.Merge(rec, datatypes.Answers{Facts: []string{"Fired on Jan 5"}})
//	// rec.Facts == ["Fired on Jan 5"]
func Merge(rec *datatypes.IntakeRecord, answers datatypes.Answers) *datatypes.IntakeRecord {
	if rec == nil {
		rec = datatypes.NewIntakeRecord()
	}
	if rec.DomainSpecific == nil {
		rec.DomainSpecific = map[string]*datatypes.DomainSlice{}
	}

	if country := strings.TrimSpace(answers.Country); country != "" {
		rec.Country = country
	}
	rec.Facts = union(rec.Facts, answers.Facts)
	rec.LegalQuestions = union(rec.LegalQuestions, answers.LegalQuestions)

	for domain, add := range answers.Domains {
		slice, ok := rec.DomainSpecific[domain]
		if !ok || slice == nil || !rec.HasDomain(domain) {
			continue
		}
		mergeSlice(slice, add)
	}
	return rec
}

func mergeSlice(slice *datatypes.DomainSlice, add datatypes.DomainAnswers) {
	slice.Facts = union(slice.Facts, add.Facts)
	slice.LegalQuestions = union(slice.LegalQuestions, add.LegalQuestions)
	slice.Entities = union(slice.Entities, add.Entities)
	slice.Timeline = union(slice.Timeline, add.Timeline)
	slice.Injuries = union(slice.Injuries, add.Injuries)
	slice.Damages = union(slice.Damages, add.Damages)
	if loc := strings.TrimSpace(add.Location); loc != "" {
		slice.Location = &loc
	}
}

// union returns dst followed by the entries of src not already present,
// with duplicates and blanks removed. A nil result is avoided when either
// input has content so JSON renders [] consistently.
func union(dst, src []string) []string {
	if len(dst) == 0 && len(src) == 0 {
		return dst
	}
	seen := make(map[string]struct{}, len(dst)+len(src))
	out := make([]string, 0, len(dst)+len(src))
	for _, list := range [][]string{dst, src} {
		for _, s := range list {
			if strings.TrimSpace(s) == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// AnswersFromRecord converts a freshly extracted record into an answer
// payload so it can be merged on top of the session record.
//
// Domains are carried for every slice in extracted; Merge drops the ones
// the session record does not already have.
func AnswersFromRecord(extracted *datatypes.IntakeRecord) datatypes.Answers {
	if extracted == nil {
		return datatypes.Answers{}
	}
	answers := datatypes.Answers{
		Country:        extracted.Country,
		Facts:          extracted.Facts,
		LegalQuestions: extracted.LegalQuestions,
	}
	if len(extracted.DomainSpecific) > 0 {
		answers.Domains = make(map[string]datatypes.DomainAnswers, len(extracted.DomainSpecific))
		for domain, s := range extracted.DomainSpecific {
			if s == nil {
				continue
			}
			da := datatypes.DomainAnswers{
				Facts:          s.Facts,
				LegalQuestions: s.LegalQuestions,
				Entities:       s.Entities,
				Timeline:       s.Timeline,
				Injuries:       s.Injuries,
				Damages:        s.Damages,
			}
			if s.Location != nil {
				da.Location = *s.Location
			}
			answers.Domains[domain] = da
		}
	}
	return answers
}
