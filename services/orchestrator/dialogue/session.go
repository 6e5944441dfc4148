// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dialogue implements the intake dialogue state machine.
//
// A session moves through greeting, intake, followups, reason and done.
// Only user turns advance it. Each turn loads the session under a lock,
// runs the adapters for the current phase, and saves the session before
// the lock is released, so one session never sees two turns at once.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/intake"
)

// Phase is a dialogue state.
type Phase string

const (
	PhaseGreeting  Phase = "greeting"
	PhaseIntake    Phase = "intake"
	PhaseFollowups Phase = "followups"
	PhaseReason    Phase = "reason"
	PhaseDone      Phase = "done"
)

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrSessionNotFound is returned by stores for unknown or expired IDs.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidJurisdiction is returned for unsupported jurisdiction codes.
	ErrInvalidJurisdiction = errors.New("unsupported jurisdiction")

	// ErrSessionBusy is returned when a session lock cannot be acquired.
	ErrSessionBusy = errors.New("session is processing another turn")
)

// PhaseError reports an operation the session's phase does not allow.
type PhaseError struct {
	Phase Phase
	Op    string
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s is not allowed in phase %s", e.Op, e.Phase)
}

// IsPhaseError checks if err is, or wraps, a *PhaseError.
func IsPhaseError(err error) bool {
	var pe *PhaseError
	return errors.As(err, &pe)
}

// Session is the complete state of one dialogue. It is owned by exactly
// one conversation and persisted by a SessionStore between turns.
type Session struct {
	ID             string                      `json:"id"`
	Phase          Phase                       `json:"phase"`
	Jurisdiction   string                      `json:"jurisdiction"`
	Record         *datatypes.IntakeRecord     `json:"record,omitempty"`
	Asked          intake.TrackingSet          `json:"asked"`
	FollowupRounds int                         `json:"followup_rounds"`
	Transcript     []datatypes.TranscriptEntry `json:"transcript"`
	Advice         []datatypes.DomainAdvice    `json:"advice,omitempty"`
	CreatedAt      time.Time                   `json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

// NewSession returns a session in the greeting phase.
func NewSession(id, jurisdiction string, now time.Time) *Session {
	return &Session{
		ID:           id,
		Phase:        PhaseGreeting,
		Jurisdiction: jurisdiction,
		Asked:        intake.NewTrackingSet(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Response renders the externally visible view of s.
func (s *Session) Response() datatypes.SessionResponse {
	transcript := s.Transcript
	if transcript == nil {
		transcript = []datatypes.TranscriptEntry{}
	}
	return datatypes.SessionResponse{
		SessionID:    s.ID,
		Phase:        string(s.Phase),
		Jurisdiction: s.Jurisdiction,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		Record:       s.Record,
		Advice:       s.Advice,
		Transcript:   transcript,
	}
}

func (s *Session) appendTranscript(role, content string, at time.Time) {
	s.Transcript = append(s.Transcript, datatypes.TranscriptEntry{Role: role, Content: content, At: at})
}

// SessionStore persists sessions between turns.
//
// # Description
//
// Implementations must be safe for concurrent use. Lock serializes turns
// for one session ID across every process sharing the store; the returned
// function releases it. Get returns ErrSessionNotFound for unknown or
// expired sessions. Save refreshes the expiry.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	Lock(ctx context.Context, id string) (func(), error)
}
