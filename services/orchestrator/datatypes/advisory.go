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

import (
	"encoding/json"
	"strings"
)

// Advisory is the structured advice requested from the reasoning model.
// Models often return strings where objects are expected, so list fields
// accept either form.
type Advisory struct {
	AnswersToQuestions FlexList `json:"answers_to_questions"`
	NextSteps          FlexList `json:"next_steps"`
	DocumentsNeeded    FlexList `json:"documents_needed"`
	Risks              FlexList `json:"risks"`
	LimitationPeriods  FlexList `json:"limitation_periods"`
	Disclaimer         string   `json:"disclaimer"`
}

// IsEmpty reports whether no advisory field carries content.
func (a *Advisory) IsEmpty() bool {
	return a == nil || (len(a.AnswersToQuestions) == 0 && len(a.NextSteps) == 0 &&
		len(a.DocumentsNeeded) == 0 && len(a.Risks) == 0 &&
		len(a.LimitationPeriods) == 0 && a.Disclaimer == "")
}

// FlexList decodes a JSON array whose items are strings or objects, or a
// single string. Objects are flattened to "key: value" text.
type FlexList []string

func (f *FlexList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if strings.TrimSpace(single) != "" {
			*f = FlexList{single}
		}
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(FlexList, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(item, &obj); err != nil {
			out = append(out, string(item))
			continue
		}
		out = append(out, flattenObject(obj))
	}
	*f = out
	return nil
}

func flattenObject(obj map[string]any) string {
	// question/answer pairs are the common shape
	if q, ok := obj["question"].(string); ok {
		if a, ok := obj["answer"].(string); ok {
			return q + " " + a
		}
	}
	b, _ := json.Marshal(obj)
	return string(b)
}

// DomainAdvice is the reasoning output for one legal domain.
type DomainAdvice struct {
	Domain    string    `json:"domain"`
	Text      string    `json:"text"`
	Advisory  *Advisory `json:"advisory,omitempty"`
	Citations []string  `json:"citations,omitempty"`
	Sources   []string  `json:"sources,omitempty"`
	Error     string    `json:"error,omitempty"`
}
