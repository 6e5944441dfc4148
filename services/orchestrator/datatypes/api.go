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
	"strings"
	"time"
)

// =============================================================================
// Requests
// =============================================================================

// CreateSessionRequest starts a dialogue. Jurisdiction defaults to
// DefaultJurisdiction.
type CreateSessionRequest struct {
	Jurisdiction string `json:"jurisdiction" validate:"omitempty,jurisdiction"`
}

func (r *CreateSessionRequest) Normalize() {
	r.Jurisdiction = strings.ToLower(strings.TrimSpace(r.Jurisdiction))
}

func (r *CreateSessionRequest) Validate() error {
	return validate.Struct(r)
}

// SetJurisdictionRequest changes the session jurisdiction for later turns.
type SetJurisdictionRequest struct {
	Jurisdiction string `json:"jurisdiction" validate:"required,jurisdiction"`
}

func (r *SetJurisdictionRequest) Normalize() {
	r.Jurisdiction = strings.ToLower(strings.TrimSpace(r.Jurisdiction))
}

func (r *SetJurisdictionRequest) Validate() error {
	return validate.Struct(r)
}

// MessageRequest carries one free-text user turn.
type MessageRequest struct {
	Message string `json:"message" validate:"required,maxbytes"`
}

func (r *MessageRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		r.Message = ""
	}
	return validate.Struct(r)
}

// AnswersRequest carries structured follow-up answers from a form.
type AnswersRequest struct {
	Answers Answers `json:"answers" validate:"required"`
}

func (r *AnswersRequest) Validate() error {
	r.Answers.Country = strings.ToLower(strings.TrimSpace(r.Answers.Country))
	return validate.Struct(r)
}

// =============================================================================
// Responses
// =============================================================================

// TranscriptEntry is one line of the visible conversation.
type TranscriptEntry struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// TurnResponse is returned for every user turn.
type TurnResponse struct {
	SessionID string         `json:"session_id"`
	TurnID    string         `json:"turn_id"`
	Phase     string         `json:"phase"`
	Reply     string         `json:"reply"`
	Questions []string       `json:"questions,omitempty"`
	Advice    []DomainAdvice `json:"advice,omitempty"`
	Record    *IntakeRecord  `json:"record,omitempty"`
	Warnings  []string       `json:"warnings,omitempty"`
}

// SessionResponse is the externally visible state of a session.
type SessionResponse struct {
	SessionID    string            `json:"session_id"`
	Phase        string            `json:"phase"`
	Jurisdiction string            `json:"jurisdiction"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Record       *IntakeRecord     `json:"record,omitempty"`
	Advice       []DomainAdvice    `json:"advice,omitempty"`
	Transcript   []TranscriptEntry `json:"transcript"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// WebSocket
// =============================================================================

// Client frame types.
const (
	WSTypeMessage      = "message"
	WSTypeAnswers      = "answers"
	WSTypeJurisdiction = "jurisdiction"
)

// WSClientFrame is a frame sent by a WebSocket client.
type WSClientFrame struct {
	Type         string   `json:"type" validate:"required,oneof=message answers jurisdiction"`
	Message      string   `json:"message,omitempty" validate:"maxbytes"`
	Jurisdiction string   `json:"jurisdiction,omitempty"`
	Answers      *Answers `json:"answers,omitempty"`
}

func (f *WSClientFrame) Validate() error {
	return validate.Struct(f)
}

// WSServerFrame is sent by the server. Type is "greeting", "turn",
// "jurisdiction" or "error".
type WSServerFrame struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id,omitempty"`
	Turn      *TurnResponse `json:"turn,omitempty"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
}
