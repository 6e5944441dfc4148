// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianCounsel/services/llm"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultTopK is the number of passages retrieved per domain.
const DefaultTopK = 5

// Retriever finds legal text relevant to a query within a jurisdiction.
type Retriever interface {
	// EnsureIndex returns *ConfigurationError when no index exists for
	// country.
	EnsureIndex(ctx context.Context, country string) error

	// Retrieve returns up to k passages. An empty query returns nothing.
	Retrieve(ctx context.Context, country, query string, k int) ([]datatypes.LawResult, error)
}

// UnconfiguredRetriever stands in when no vector index is configured.
// Every jurisdiction reports a configuration error, so sessions still run
// intake and explain why no advice can be given.
type UnconfiguredRetriever struct{}

func (UnconfiguredRetriever) EnsureIndex(_ context.Context, country string) error {
	return &ConfigurationError{Jurisdiction: country, Reason: "no legal text index is configured"}
}

func (UnconfiguredRetriever) Retrieve(context.Context, string, string, int) ([]datatypes.LawResult, error) {
	return nil, &ConfigurationError{Reason: "no legal text index is configured"}
}

// WeaviateRetriever searches one Weaviate class per jurisdiction by vector
// similarity. Query vectors come from the embedder since law classes are
// created without a vectorizer.
type WeaviateRetriever struct {
	client   *weaviate.Client
	embedder llm.Embedder

	mu      sync.RWMutex
	present map[string]bool
}

// NewWeaviateRetriever creates a retriever.
func NewWeaviateRetriever(client *weaviate.Client, embedder llm.Embedder) *WeaviateRetriever {
	return &WeaviateRetriever{client: client, embedder: embedder, present: make(map[string]bool)}
}

// EnsureIndex checks that the law class for country exists.
//
// # Description
//
// A missing country or a class the server reports as not found is a
// *ConfigurationError. Other failures, such as the server being
// unreachable, are returned wrapped so callers can degrade. Positive
// answers are cached for the life of the retriever.
func (r *WeaviateRetriever) EnsureIndex(ctx context.Context, country string) error {
	if strings.TrimSpace(country) == "" {
		return &ConfigurationError{Reason: "no jurisdiction set for the session"}
	}
	class := datatypes.LawClassName(country)

	r.mu.RLock()
	ok := r.present[class]
	r.mu.RUnlock()
	if ok {
		return nil
	}

	ctx, span := tracer.Start(ctx, "WeaviateRetriever.EnsureIndex")
	defer span.End()
	span.SetAttributes(attribute.String("weaviate.class", class))

	_, err := r.client.Schema().ClassGetter().WithClassName(class).Do(ctx)
	if err != nil {
		span.RecordError(err)
		var wce *fault.WeaviateClientError
		if errors.As(err, &wce) && wce.StatusCode == http.StatusNotFound {
			return &ConfigurationError{Jurisdiction: country, Reason: "no legal text index " + class}
		}
		return fmt.Errorf("failed to look up legal text index %s: %w", class, err)
	}

	r.mu.Lock()
	r.present[class] = true
	r.mu.Unlock()
	return nil
}

// CreateIndex creates the empty law class for country when it does not
// exist yet. Loading text into it is done elsewhere.
func (r *WeaviateRetriever) CreateIndex(ctx context.Context, country string) (bool, error) {
	err := r.EnsureIndex(ctx, country)
	if err == nil {
		return false, nil
	}
	var ce *ConfigurationError
	if !errors.As(err, &ce) || ce.Jurisdiction == "" {
		return false, err
	}

	class := datatypes.GetLawSchema(country)
	slog.Info("Legal text index not found, creating it", "class", class.Class)
	if err := r.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return false, fmt.Errorf("failed to create legal text index %s: %w", class.Class, err)
	}
	r.mu.Lock()
	r.present[class.Class] = true
	r.mu.Unlock()
	return true, nil
}

// Retrieve runs a near-vector search against the jurisdiction's class.
//
// # Inputs
//
//   - ctx: Bounds the embedding call and the search.
//   - country: Jurisdiction code. Empty is a *ConfigurationError.
//   - query: Search text. Blank returns (nil, nil) without any call.
//   - k: Result limit. Values below 1 mean DefaultTopK.
//
// # Outputs
//
//   - []datatypes.LawResult: Passages ordered by similarity.
//   - error: Embedding, search or parse failure.
func (r *WeaviateRetriever) Retrieve(ctx context.Context, country, query string, k int) ([]datatypes.LawResult, error) {
	if strings.TrimSpace(country) == "" {
		return nil, &ConfigurationError{Reason: "no jurisdiction set for the session"}
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if k < 1 {
		k = DefaultTopK
	}
	class := datatypes.LawClassName(country)

	ctx, span := tracer.Start(ctx, "WeaviateRetriever.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.String("weaviate.class", class), attribute.Int("counsel.top_k", k))

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	nearVector := r.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	fields := []graphql.Field{
		{Name: "section"},
		{Name: "act"},
		{Name: "jurisdiction"},
		{Name: "title"},
		{Name: "content"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "distance"},
		}},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName(class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.LawQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}
	laws := parsed.Get[class]
	span.SetAttributes(attribute.Int("counsel.results", len(laws)))
	return laws, nil
}
