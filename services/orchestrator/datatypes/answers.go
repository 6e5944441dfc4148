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

// Answers is a batch of incremental information supplied by the user,
// either typed into a follow-up form or re-extracted from a free-text
// reply.
type Answers struct {
	Country        string                   `json:"country,omitempty" validate:"omitempty,jurisdiction"`
	Facts          []string                 `json:"facts,omitempty" validate:"max=200,dive,maxbytes"`
	LegalQuestions []string                 `json:"legal_questions,omitempty" validate:"max=200,dive,maxbytes"`
	Domains        map[string]DomainAnswers `json:"domains,omitempty" validate:"max=20,dive"`
}

// DomainAnswers carries additions for one existing domain slice.
type DomainAnswers struct {
	Facts          []string `json:"facts,omitempty" validate:"max=200,dive,maxbytes"`
	LegalQuestions []string `json:"legal_questions,omitempty" validate:"max=200,dive,maxbytes"`
	Entities       []string `json:"entities,omitempty" validate:"max=200,dive,maxbytes"`
	Timeline       []string `json:"timeline,omitempty" validate:"max=200,dive,maxbytes"`
	Injuries       []string `json:"injuries,omitempty" validate:"max=200,dive,maxbytes"`
	Damages        []string `json:"damages,omitempty" validate:"max=200,dive,maxbytes"`
	Location       string   `json:"location,omitempty" validate:"maxbytes"`
}

func (d DomainAnswers) isEmpty() bool {
	return len(d.Facts) == 0 && len(d.LegalQuestions) == 0 && len(d.Entities) == 0 &&
		len(d.Timeline) == 0 && len(d.Injuries) == 0 && len(d.Damages) == 0 && d.Location == ""
}

// IsEmpty reports whether a carries nothing to merge.
func (a Answers) IsEmpty() bool {
	if a.Country != "" || len(a.Facts) > 0 || len(a.LegalQuestions) > 0 {
		return false
	}
	for _, d := range a.Domains {
		if !d.isEmpty() {
			return false
		}
	}
	return true
}
