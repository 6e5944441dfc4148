// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the counsel
// dialogue service.
//
// # Description
//
// Metrics cover dialogue turns by phase, follow-up questions asked, advice
// outcomes per domain, adapter failures (the degraded paths of the
// pipeline), PII redactions and turn latency. They are exposed on /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is safe to call on a nil *DialogueMetrics, which is what
// tests and the CLI chat mode pass.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "counsel"

const dialogueSubsystem = "dialogue"

// Adapter names used as the "adapter" label.
const (
	AdapterClassifier = "classifier"
	AdapterExtractor  = "extractor"
	AdapterFormatter  = "formatter"
	AdapterRetriever  = "retriever"
	AdapterReasoner   = "reasoner"
	AdapterFilter     = "message_filter"
	AdapterAudit      = "audit"
)

// DialogueMetrics holds the Prometheus collectors for the dialogue engine.
//
// # Fields
//
//   - TurnsTotal: Turns handled. Labels: phase, outcome
//   - FollowUpQuestionsTotal: Questions surfaced. Labels: source (extracted, closing, fallback)
//   - AdviceTotal: Per-domain reasoning results. Labels: status (ok, error)
//   - AdapterFailuresTotal: Degraded adapter calls. Labels: adapter
//   - RedactionsTotal: PII detections replaced in user text. Labels: type
//   - TurnDurationSeconds: Wall time of a turn. Labels: phase
//   - ActiveSessions: Sessions currently stored
type DialogueMetrics struct {
	TurnsTotal             *prometheus.CounterVec
	FollowUpQuestionsTotal *prometheus.CounterVec
	AdviceTotal            *prometheus.CounterVec
	AdapterFailuresTotal   *prometheus.CounterVec
	RedactionsTotal        *prometheus.CounterVec
	TurnDurationSeconds    *prometheus.HistogramVec
	ActiveSessions         prometheus.Gauge
}

// DefaultMetrics is the process-wide instance created by InitMetrics.
var DefaultMetrics *DialogueMetrics

var initOnce sync.Once

// InitMetrics registers the metrics with the default Prometheus registry.
//
// # Description
//
// Safe to call more than once; registration happens on the first call and
// later calls return the same instance.
//
// # Outputs
//
//   - *DialogueMetrics: The initialized metrics instance.
func InitMetrics() *DialogueMetrics {
	initOnce.Do(func() {
		DefaultMetrics = NewDialogueMetrics(prometheus.DefaultRegisterer)
	})
	return DefaultMetrics
}

// NewDialogueMetrics creates and registers the collectors with reg.
//
// # Limitations
//
//   - Panics on duplicate registration with the same registerer.
func NewDialogueMetrics(reg prometheus.Registerer) *DialogueMetrics {
	factory := promauto.With(reg)
	return &DialogueMetrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: dialogueSubsystem,
				Name:      "turns_total",
				Help:      "Dialogue turns handled by phase and outcome",
			},
			[]string{"phase", "outcome"},
		),
		FollowUpQuestionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: dialogueSubsystem,
				Name:      "followup_questions_total",
				Help:      "Follow-up questions surfaced to users by source",
			},
			[]string{"source"},
		),
		AdviceTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: dialogueSubsystem,
				Name:      "advice_total",
				Help:      "Per-domain reasoning results by status",
			},
			[]string{"status"},
		),
		AdapterFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: dialogueSubsystem,
				Name:      "adapter_failures_total",
				Help:      "Adapter calls that failed and were degraded to a default value",
			},
			[]string{"adapter"},
		),
		RedactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: dialogueSubsystem,
				Name:      "redactions_total",
				Help:      "Sensitive identifiers redacted from user messages by pattern",
			},
			[]string{"type"},
		),
		TurnDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: dialogueSubsystem,
				Name:      "turn_duration_seconds",
				Help:      "Wall time to handle a dialogue turn",
				Buckets:   []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"phase"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: dialogueSubsystem,
				Name:      "active_sessions",
				Help:      "Sessions currently held by the session store",
			},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordTurn records a completed turn and its duration. phase is the phase
// the turn started in.
func (m *DialogueMetrics) RecordTurn(phase string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.TurnsTotal.WithLabelValues(phase, outcome).Inc()
	m.TurnDurationSeconds.WithLabelValues(phase).Observe(elapsed.Seconds())
}

// RecordFollowUps counts n questions from source.
func (m *DialogueMetrics) RecordFollowUps(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FollowUpQuestionsTotal.WithLabelValues(source).Add(float64(n))
}

// RecordAdvice counts one per-domain reasoning result.
func (m *DialogueMetrics) RecordAdvice(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.AdviceTotal.WithLabelValues(status).Inc()
}

// RecordAdapterFailure counts one degraded adapter call.
func (m *DialogueMetrics) RecordAdapterFailure(adapter string) {
	if m == nil {
		return
	}
	m.AdapterFailuresTotal.WithLabelValues(adapter).Inc()
}

// RecordRedaction counts one redacted pattern.
func (m *DialogueMetrics) RecordRedaction(patternType string) {
	if m == nil {
		return
	}
	m.RedactionsTotal.WithLabelValues(patternType).Inc()
}

// SessionOpened and SessionClosed track the active session gauge.
func (m *DialogueMetrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *DialogueMetrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}
