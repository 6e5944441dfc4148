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
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianCounsel/services/llm"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.counsel.pipeline")

// Classifier maps free text to the legal domains it touches.
type Classifier interface {
	// Classify never fails. It returns ["general"] when nothing usable
	// comes back.
	Classify(ctx context.Context, text string) []string
}

// LLMClassifier asks a chat model to pick domains from the catalog.
type LLMClassifier struct {
	client  llm.LLMClient
	catalog *Catalog
	metrics *observability.DialogueMetrics
}

// NewLLMClassifier creates a classifier. metrics may be nil.
func NewLLMClassifier(client llm.LLMClient, catalog *Catalog, metrics *observability.DialogueMetrics) *LLMClassifier {
	return &LLMClassifier{client: client, catalog: catalog, metrics: metrics}
}

// Classify returns the catalog domains the model selected for text.
//
// # Description
//
// The model is asked for {"domains": [...]}. A bare JSON array is also
// accepted. Names are lowercased, filtered to the catalog and deduplicated
// in the order given. Any failure, an empty answer, or an answer naming
// only unknown domains yields ["general"].
//
// # Inputs
//
//   - ctx: Bounds the model call.
//   - text: The user's description of their situation.
//
// # Outputs
//
//   - []string: At least one domain.
func (c *LLMClassifier) Classify(ctx context.Context, text string) []string {
	ctx, span := tracer.Start(ctx, "LLMClassifier.Classify")
	defer span.End()

	prompt := render(c.catalog.ClassifierPrompt, map[string]string{
		"domain_list": "- " + strings.Join(c.catalog.Names(), "\n- "),
	})
	raw, err := c.client.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: prompt},
		{Role: llm.RoleUser, Content: text},
	}, llm.GenerationParams{Temperature: llm.Float32(0.3), JSONMode: true})
	if err != nil {
		span.RecordError(err)
		slog.Warn("Domain classification failed, using general", "error", err)
		c.metrics.RecordAdapterFailure(observability.AdapterClassifier)
		return []string{datatypes.GeneralDomain}
	}

	domains := c.filter(parseDomainList(raw))
	if len(domains) == 0 {
		slog.Warn("Classifier returned no known domains, using general", "raw_len", len(raw))
		c.metrics.RecordAdapterFailure(observability.AdapterClassifier)
		return []string{datatypes.GeneralDomain}
	}
	span.SetAttributes(attribute.StringSlice("counsel.domains", domains))
	return domains
}

func (c *LLMClassifier) filter(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || seen[n] || !c.catalog.Known(n) {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// parseDomainList accepts {"domains": [...]} or a bare array.
func parseDomainList(raw string) []string {
	body := stripCodeFences(raw)

	var wrapped struct {
		Domains []string `json:"domains"`
	}
	if obj := extractJSONSpan(body, '{', '}'); obj != "" {
		if err := json.Unmarshal([]byte(obj), &wrapped); err == nil && len(wrapped.Domains) > 0 {
			return wrapped.Domains
		}
	}

	var list []string
	if arr := extractJSONSpan(body, '[', ']'); arr != "" {
		if err := json.Unmarshal([]byte(arr), &list); err == nil {
			return list
		}
	}
	return nil
}
