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
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianCounsel/services/llm"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/observability"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Extraction strategies selectable by configuration.
const (
	StrategyFull        = "full"
	StrategyIncremental = "incremental"
)

// Extractor turns free text into per-domain notes for the formatter.
type Extractor interface {
	// Extract returns one entry per domain that produced output. Domains
	// that failed are logged and omitted.
	Extract(ctx context.Context, text string, domains []string) map[string]string
}

// LLMExtractor runs one extraction prompt per domain, concurrently.
type LLMExtractor struct {
	client      llm.LLMClient
	catalog     *Catalog
	metrics     *observability.DialogueMetrics
	concurrency int
}

// NewLLMExtractor creates an extractor. concurrency bounds in-flight model
// calls; values below 1 mean 1.
func NewLLMExtractor(client llm.LLMClient, catalog *Catalog, metrics *observability.DialogueMetrics, concurrency int) *LLMExtractor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &LLMExtractor{client: client, catalog: catalog, metrics: metrics, concurrency: concurrency}
}

// Extract runs the domain extraction prompts.
//
// # Description
//
// Each domain gets its own system prompt built from the catalog entry.
// Calls run under an errgroup limit. A failing or empty domain does not
// affect the others.
//
// # Inputs
//
//   - ctx: Bounds every model call.
//   - text: User text to extract from.
//   - domains: Domains to extract for. Duplicates are processed once.
//
// # Outputs
//
//   - map[string]string: Domain to extracted notes. May be empty.
func (e *LLMExtractor) Extract(ctx context.Context, text string, domains []string) map[string]string {
	ctx, span := tracer.Start(ctx, "LLMExtractor.Extract")
	defer span.End()
	span.SetAttributes(attribute.Int("counsel.domain_count", len(domains)))

	unique := dedupe(domains)
	results := make([]string, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, domain := range unique {
		g.Go(func() error {
			out, err := e.extractOne(gctx, text, domain)
			if err != nil {
				slog.Warn("Extraction failed for domain", "domain", domain, "error", err)
				e.metrics.RecordAdapterFailure(observability.AdapterExtractor)
				return nil
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()

	outputs := make(map[string]string, len(unique))
	for i, domain := range unique {
		if results[i] != "" {
			outputs[domain] = results[i]
		}
	}
	return outputs
}

func (e *LLMExtractor) extractOne(ctx context.Context, text, domain string) (string, error) {
	spec, _ := e.catalog.Lookup(domain)
	prompt := render(e.catalog.ExtractionPrompt, map[string]string{
		"domain":       spec.Name,
		"domain_title": spec.Title,
		"focus":        spec.Focus,
	})
	out, err := e.client.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: prompt},
		{Role: llm.RoleUser, Content: text},
	}, llm.GenerationParams{Temperature: llm.Float32(0.2)})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty extraction output")
	}
	return out, nil
}

// IncrementalExtractor skips re-extraction. With it, follow-up replies
// only contribute the fact fragments split from the message.
type IncrementalExtractor struct{}

// Extract always returns nil.
func (IncrementalExtractor) Extract(context.Context, string, []string) map[string]string {
	return nil
}

// FollowupExtractor picks the extractor used on follow-up turns for the
// configured strategy.
func FollowupExtractor(strategy string, full Extractor) (Extractor, error) {
	switch strategy {
	case "", StrategyFull:
		return full, nil
	case StrategyIncremental:
		return IncrementalExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown extraction strategy %q", strategy)
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
