// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the dialogue engine over HTTP and WebSocket.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/dialogue"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/middleware"
	"github.com/gin-gonic/gin"
)

// DialogueService is the part of dialogue.Engine the transport needs.
type DialogueService interface {
	Start(ctx context.Context, jurisdiction string) (*datatypes.TurnResponse, error)
	Get(ctx context.Context, id string) (*dialogue.Session, error)
	Delete(ctx context.Context, id string) error
	SetJurisdiction(ctx context.Context, id, jurisdiction string) (*dialogue.Session, error)
	HandleMessage(ctx context.Context, id, message string) (*datatypes.TurnResponse, error)
	HandleAnswers(ctx context.Context, id string, answers datatypes.Answers) (*datatypes.TurnResponse, error)
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListJurisdictions returns the jurisdictions a session can be configured
// with.
func ListJurisdictions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"default":       datatypes.DefaultJurisdiction,
		"jurisdictions": datatypes.SupportedJurisdictions(),
	})
}

// CreateSession starts a dialogue and returns the greeting turn.
func CreateSession(svc DialogueService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateSessionRequest
		// An empty body selects the default jurisdiction.
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, "invalid request body", err)
			return
		}
		req.Normalize()
		if err := req.Validate(); err != nil {
			badRequest(c, "invalid jurisdiction", err)
			return
		}

		resp, err := svc.Start(c.Request.Context(), req.Jurisdiction)
		if err != nil {
			writeError(c, "failed to create session", err)
			return
		}
		c.JSON(http.StatusCreated, resp)
	}
}

// GetSession returns the visible state of a session.
func GetSession(svc DialogueService) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := svc.Get(c.Request.Context(), c.Param("sessionId"))
		if err != nil {
			writeError(c, "failed to load session", err)
			return
		}
		c.JSON(http.StatusOK, s.Response())
	}
}

// DeleteSession removes a session with its record and tracking set.
func DeleteSession(svc DialogueService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		if err := svc.Delete(c.Request.Context(), id); err != nil {
			writeError(c, "failed to delete session", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": id})
	}
}

// SetJurisdiction changes the jurisdiction used by the session's later
// turns.
func SetJurisdiction(svc DialogueService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SetJurisdictionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body", err)
			return
		}
		req.Normalize()
		if err := req.Validate(); err != nil {
			badRequest(c, "invalid jurisdiction", err)
			return
		}

		s, err := svc.SetJurisdiction(c.Request.Context(), c.Param("sessionId"), req.Jurisdiction)
		if err != nil {
			writeError(c, "failed to set jurisdiction", err)
			return
		}
		c.JSON(http.StatusOK, s.Response())
	}
}

// PostMessage runs one free-text user turn.
func PostMessage(svc DialogueService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.MessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body", err)
			return
		}
		if err := req.Validate(); err != nil {
			badRequest(c, "message is required", err)
			return
		}

		resp, err := svc.HandleMessage(c.Request.Context(), c.Param("sessionId"), req.Message)
		if err != nil {
			writeError(c, "failed to process message", err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// PostAnswers merges structured follow-up answers into the session.
func PostAnswers(svc DialogueService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AnswersRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body", err)
			return
		}
		if err := req.Validate(); err != nil {
			badRequest(c, "invalid answers", err)
			return
		}

		resp, err := svc.HandleAnswers(c.Request.Context(), c.Param("sessionId"), req.Answers)
		if err != nil {
			writeError(c, "failed to process answers", err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// =============================================================================
// Error Mapping
// =============================================================================

// statusFor maps engine and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dialogue.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, dialogue.ErrInvalidJurisdiction):
		return http.StatusBadRequest
	case errors.Is(err, dialogue.ErrSessionBusy):
		return http.StatusConflict
	case dialogue.IsPhaseError(err):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(msg, "session_id", c.Param("sessionId"), "client", middleware.GetPrincipal(c), "error", err)
		c.JSON(status, datatypes.ErrorResponse{Error: msg})
		return
	}
	slog.Warn(msg, "session_id", c.Param("sessionId"), "client", middleware.GetPrincipal(c), "status", status, "error", err)
	c.JSON(status, datatypes.ErrorResponse{Error: msg, Details: err.Error()})
}

func badRequest(c *gin.Context, msg string, err error) {
	c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: msg, Details: err.Error()})
}
