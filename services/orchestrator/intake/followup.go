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
	"unicode"
)

// =============================================================================
// Follow-up Question Protocol
// =============================================================================

const (
	// ClosingQuestion is asked once when the record is incomplete but
	// extraction has no concrete question left.
	ClosingQuestion = "I have most of the important details. Anything else you'd like to add before I advise?"

	// FallbackQuestion is the last resort once the closing question has
	// been asked.
	FallbackQuestion = "Please add any missing facts, dates, parties, and what outcome you want."
)

// Question is a follow-up question together with its normalized key.
type Question struct {
	Text string `json:"text"`
	Key  string `json:"key"`
}

// Normalize reduces a question to its dedup key: lowercase, punctuation
// and symbols removed, whitespace collapsed to single spaces.
//
// "What is your location?" and "what is  your location" share a key.
func Normalize(question string) string {
	var b strings.Builder
	b.Grow(len(question))
	for _, r := range strings.ToLower(question) {
		switch {
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// TrackingSet records the normalized keys of questions already asked in a
// session. It is owned by exactly one session.
type TrackingSet map[string]struct{}

// NewTrackingSet returns an empty set.
func NewTrackingSet() TrackingSet {
	return TrackingSet{}
}

// Has reports whether key was recorded. Safe on a nil set.
func (t TrackingSet) Has(key string) bool {
	_, ok := t[key]
	return ok
}

// Record marks every question as asked.
func (t TrackingSet) Record(questions []Question) {
	for _, q := range questions {
		t[q.Key] = struct{}{}
	}
}

// Len returns the number of recorded keys.
func (t TrackingSet) Len() int {
	return len(t)
}

// NextQuestions applies the follow-up cascade to a verdict.
//
// # Description
//
// First match wins:
//  1. The record is complete: ask nothing.
//  2. Evaluator questions whose keys are unseen (deduplicated by key, first
//     occurrence kept): ask exactly those.
//  3. The closing question, if its key is unseen.
//  4. The fallback question, if its key is unseen.
//  5. Nothing. The caller advances to reasoning.
//
// The function does not record anything; callers decide whether the
// surfaced questions count as asked.
//
// # Inputs
//
//   - v: Output of Evaluate
//   - asked: Keys already asked. May be nil.
//
// # Outputs
//
//   - []Question: Questions to ask this round. Empty means none.
//
// # Limitations
//
//   - Termination relies on the caller recording surfaced keys. Without
//     that, steps 3 and 4 repeat forever on an incomplete record.
func NextQuestions(v Verdict, asked TrackingSet) []Question {
	if v.IsComplete {
		return nil
	}

	var out []Question
	seen := map[string]bool{}
	for _, text := range v.FollowUpQuestions {
		key := Normalize(text)
		if key == "" || seen[key] || asked.Has(key) {
			continue
		}
		seen[key] = true
		out = append(out, Question{Text: strings.TrimSpace(text), Key: key})
	}
	if len(out) > 0 {
		return out
	}

	for _, text := range []string{ClosingQuestion, FallbackQuestion} {
		if key := Normalize(text); !asked.Has(key) {
			return []Question{{Text: text, Key: key}}
		}
	}
	return nil
}

// Texts extracts the question texts in order.
func Texts(questions []Question) []string {
	out := make([]string, len(questions))
	for i, q := range questions {
		out[i] = q.Text
	}
	return out
}
