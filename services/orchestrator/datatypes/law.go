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
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// LawResult is one passage of legal text returned by retrieval.
//
// Any field may be empty. Citation formatting decides what to show based
// on which fields are present.
type LawResult struct {
	Section      string `json:"section"`
	Act          string `json:"act"`
	Jurisdiction string `json:"jurisdiction"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	Additional   struct {
		ID       string   `json:"id"`
		Distance *float32 `json:"distance"`
	} `json:"_additional"`
}

// LawQueryResponse is the GraphQL Get response for a law class. The class
// name differs per jurisdiction so results are keyed by class.
type LawQueryResponse struct {
	Get map[string][]LawResult `json:"Get"`
}

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Converts Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed struct by round-tripping through JSON.
//
// # Inputs
//
//   - resp: The GraphQL response from the client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if resp is nil, carries GraphQL errors, or parsing fails.
//
// # Limitations
//
//   - Type mismatches on individual fields fail the whole parse.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}

// GetLawSchema returns the class definition for a jurisdiction's legal
// text index. Vectors are supplied by the ingesting side.
func GetLawSchema(jurisdiction string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	field := func(name, description string) *models.Property {
		return &models.Property{
			Name:            name,
			DataType:        []string{"text"},
			Description:     description,
			IndexFilterable: indexFilterable,
			Tokenization:    "field",
		}
	}

	return &models.Class{
		Class:       LawClassName(jurisdiction),
		Description: "Statutory and regulatory text for " + JurisdictionLabel(jurisdiction) + ".",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The passage of legal text.",
				Tokenization: "word",
			},
			field("section", "Section or article number."),
			field("act", "Name of the act or regulation."),
			field("jurisdiction", "Jurisdiction tag of the passage."),
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "Heading of the passage.",
				Tokenization: "word",
			},
			field("source", "Where the passage was ingested from."),
		},
	}
}
