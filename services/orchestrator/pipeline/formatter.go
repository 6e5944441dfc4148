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
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianCounsel/services/llm"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/observability"
)

// Formatter merges per-domain extraction notes into one intake record.
type Formatter interface {
	// Format never fails. Malformed model output yields an empty record.
	Format(ctx context.Context, outputs map[string]string) *datatypes.IntakeRecord
}

// LLMFormatter asks a chat model to emit the intake record as JSON.
type LLMFormatter struct {
	client  llm.LLMClient
	catalog *Catalog
	metrics *observability.DialogueMetrics
}

// NewLLMFormatter creates a formatter. metrics may be nil.
func NewLLMFormatter(client llm.LLMClient, catalog *Catalog, metrics *observability.DialogueMetrics) *LLMFormatter {
	return &LLMFormatter{client: client, catalog: catalog, metrics: metrics}
}

// Format builds the intake record for the given extraction outputs.
//
// # Description
//
// The outputs are concatenated as "--- <domain> ---" blocks in domain
// order and sent with the formatter prompt in JSON mode. The reply is
// decoded and validated by DecodeIntakeRecord. The formatter does not
// seed domain slices; callers do that.
//
// # Inputs
//
//   - ctx: Bounds the model call.
//   - outputs: Domain to extraction notes. Empty input skips the call.
//
// # Outputs
//
//   - *datatypes.IntakeRecord: Never nil.
func (f *LLMFormatter) Format(ctx context.Context, outputs map[string]string) *datatypes.IntakeRecord {
	if len(outputs) == 0 {
		return datatypes.NewIntakeRecord()
	}
	ctx, span := tracer.Start(ctx, "LLMFormatter.Format")
	defer span.End()

	raw, err := f.client.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: f.catalog.FormatterPrompt},
		{Role: llm.RoleUser, Content: FormatterInput(outputs)},
	}, llm.GenerationParams{Temperature: llm.Float32(0.2), JSONMode: true})
	if err != nil {
		span.RecordError(err)
		slog.Warn("Formatter call failed, returning empty record", "error", err)
		f.metrics.RecordAdapterFailure(observability.AdapterFormatter)
		return datatypes.NewIntakeRecord()
	}

	rec, err := DecodeIntakeRecord(raw)
	if err != nil {
		span.RecordError(err)
		slog.Warn("Formatter output rejected, returning empty record", "error", err)
		f.metrics.RecordAdapterFailure(observability.AdapterFormatter)
		return datatypes.NewIntakeRecord()
	}
	return rec
}

// FormatterInput renders extraction outputs as delimited blocks sorted by
// domain.
func FormatterInput(outputs map[string]string) string {
	domains := make([]string, 0, len(outputs))
	for d := range outputs {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	var sb strings.Builder
	for i, d := range domains {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "--- %s ---\n%s", d, strings.TrimSpace(outputs[d]))
	}
	return sb.String()
}

// DecodeIntakeRecord parses model output into a validated intake record.
//
// # Description
//
// Code fences and text around the outermost JSON object are ignored.
// Domain names and domain_specific keys are lowercased and trimmed, and
// duplicate domains dropped. A country that is not a supported
// jurisdiction is cleared. Null slices and slices for unlisted domains
// are dropped with a warning; the rest of the record is kept. The result
// must then satisfy IntakeRecord.Validate.
//
// # Outputs
//
//   - *datatypes.IntakeRecord: The record with non-nil DomainSpecific.
//   - error: Non-nil when the output is not a JSON object or breaks the
//     record invariants.
func DecodeIntakeRecord(raw string) (*datatypes.IntakeRecord, error) {
	var rec datatypes.IntakeRecord
	if err := decodeJSONObject(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode intake record: %w", err)
	}

	domains := make([]string, 0, len(rec.Domains))
	for _, d := range rec.Domains {
		domains = append(domains, strings.ToLower(strings.TrimSpace(d)))
	}
	rec.Domains = dedupe(domains)

	specific := make(map[string]*datatypes.DomainSlice, len(rec.DomainSpecific))
	for k, v := range rec.DomainSpecific {
		specific[strings.ToLower(strings.TrimSpace(k))] = v
	}
	rec.DomainSpecific = specific
	if dropped := rec.PruneDomainSlices(); len(dropped) > 0 {
		slog.Warn("Dropped formatter slices for unlisted or empty domains", "domains", dropped)
	}

	if rec.Country != "" {
		country, err := datatypes.NormalizeJurisdiction(rec.Country)
		if err != nil {
			country = ""
		}
		rec.Country = country
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}
