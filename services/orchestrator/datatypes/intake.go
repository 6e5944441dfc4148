// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "sort"

// GeneralDomain is the catch-all domain used when classification fails.
const GeneralDomain = "general"

// IntakeRecord is the canonical structured summary of a user's situation.
//
// # Description
//
// Built by the formatter from per-domain extraction output and grown by the
// merge engine on every follow-up turn. Facts and legal questions are
// ordered lists that behave as sets after any merge. Domains behaves as a
// set. DomainSpecific keys are always a subset of Domains.
//
// # Fields
//
//   - Country: Jurisdiction code, empty when absent
//   - Domains: Legal areas the situation touches
//   - Facts / LegalQuestions: Global facts and questions
//   - DomainSpecific: Per-domain detail
//   - MissingInfo: Follow-up questions suggested by the producer
type IntakeRecord struct {
	Country        string                  `json:"country"`
	Domains        []string                `json:"domains" validate:"dive,required"`
	Facts          []string                `json:"facts"`
	LegalQuestions []string                `json:"legal_questions"`
	DomainSpecific map[string]*DomainSlice `json:"domain_specific" validate:"dive"`
	MissingInfo    []string                `json:"missing_info"`
}

// DomainSlice holds the detail captured for one legal domain.
type DomainSlice struct {
	Facts          []string `json:"facts"`
	LegalQuestions []string `json:"legal_questions"`
	Entities       []string `json:"entities"`
	Timeline       []string `json:"timeline"`
	Location       *string  `json:"location"`
	Injuries       []string `json:"injuries"`
	Damages        []string `json:"damages"`
}

// NewIntakeRecord returns an empty record with initialized collections.
func NewIntakeRecord() *IntakeRecord {
	return &IntakeRecord{DomainSpecific: map[string]*DomainSlice{}}
}

// Validate checks struct tags and that every DomainSpecific key is a
// listed domain.
func (r *IntakeRecord) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	for domain, slice := range r.DomainSpecific {
		if slice == nil {
			return &InvalidRecordError{Reason: "nil slice for domain " + domain}
		}
		if !r.HasDomain(domain) {
			return &InvalidRecordError{Reason: "domain_specific key not in domains: " + domain}
		}
	}
	return nil
}

// HasDomain reports whether domain is listed in Domains.
func (r *IntakeRecord) HasDomain(domain string) bool {
	return containsString(r.Domains, domain)
}

// PruneDomainSlices removes DomainSpecific entries that are nil or whose
// key is not a listed domain, and returns the removed keys sorted.
func (r *IntakeRecord) PruneDomainSlices() []string {
	var dropped []string
	for domain, slice := range r.DomainSpecific {
		if slice == nil || !r.HasDomain(domain) {
			delete(r.DomainSpecific, domain)
			dropped = append(dropped, domain)
		}
	}
	sort.Strings(dropped)
	return dropped
}

// Clone returns a deep copy of r.
func (r *IntakeRecord) Clone() *IntakeRecord {
	if r == nil {
		return nil
	}
	out := &IntakeRecord{
		Country:        r.Country,
		Domains:        cloneStrings(r.Domains),
		Facts:          cloneStrings(r.Facts),
		LegalQuestions: cloneStrings(r.LegalQuestions),
		MissingInfo:    cloneStrings(r.MissingInfo),
		DomainSpecific: make(map[string]*DomainSlice, len(r.DomainSpecific)),
	}
	for k, v := range r.DomainSpecific {
		out.DomainSpecific[k] = v.Clone()
	}
	return out
}

// Clone returns a deep copy of s.
func (s *DomainSlice) Clone() *DomainSlice {
	if s == nil {
		return nil
	}
	out := &DomainSlice{
		Facts:          cloneStrings(s.Facts),
		LegalQuestions: cloneStrings(s.LegalQuestions),
		Entities:       cloneStrings(s.Entities),
		Timeline:       cloneStrings(s.Timeline),
		Injuries:       cloneStrings(s.Injuries),
		Damages:        cloneStrings(s.Damages),
	}
	if s.Location != nil {
		loc := *s.Location
		out.Location = &loc
	}
	return out
}

// InvalidRecordError reports a structurally invalid intake record.
type InvalidRecordError struct {
	Reason string
}

func (e *InvalidRecordError) Error() string {
	return "invalid intake record: " + e.Reason
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
