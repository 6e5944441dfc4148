// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/dialogue"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Server frame types.
const (
	frameGreeting     = "greeting"
	frameTurn         = "turn"
	frameJurisdiction = "jurisdiction"
	frameError        = "error"
)

const (
	// wsTurnTimeout bounds the adapter calls of one WebSocket turn.
	wsTurnTimeout = 5 * time.Minute

	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

func sendFrame(ws *websocket.Conn, frame datatypes.WSServerFrame) error {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	err := ws.WriteJSON(frame)
	if err != nil {
		slog.Warn("Failed to write WebSocket frame", "type", frame.Type, "error", err)
	}
	return err
}

// HandleDialogueWebSocket runs a dialogue over one WebSocket connection.
//
// # Description
//
// Without a session_id query parameter a new session is started (using the
// optional jurisdiction parameter) and its greeting is sent as the first
// frame. With one, the connection resumes that session and the greeting
// frame carries its last assistant message instead.
//
// Each client frame is one turn. Turns are processed in order; a failed
// turn produces an error frame and the connection stays open. The
// connection ends when the client disconnects.
//
// # Inputs
//
//   - svc: The dialogue service.
func HandleDialogueWebSocket(svc DialogueService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		ws.SetReadLimit(2 * datatypes.MaxMessageContentBytes)

		ctx := c.Request.Context()
		sessionID, err := openSession(ctx, svc, ws, c.Query("session_id"), c.Query("jurisdiction"))
		if err != nil {
			return
		}
		slog.Info("Websocket dialogue connected", "session_id", sessionID)

		for {
			var frame datatypes.WSClientFrame
			if err := ws.ReadJSON(&frame); err != nil {
				slog.Info("Websocket client disconnected", "session_id", sessionID, "error", err.Error())
				return
			}
			if err := frame.Validate(); err != nil {
				if sendFrame(ws, errorFrame(sessionID, "invalid frame", err)) != nil {
					return
				}
				continue
			}
			if err := dispatchFrame(ctx, svc, ws, sessionID, frame); err != nil {
				return
			}
		}
	}
}

func openSession(ctx context.Context, svc DialogueService, ws *websocket.Conn, id, jurisdiction string) (string, error) {
	if id == "" {
		resp, err := svc.Start(ctx, jurisdiction)
		if err != nil {
			_ = sendFrame(ws, errorFrame("", "failed to create session", err))
			return "", err
		}
		return resp.SessionID, sendFrame(ws, datatypes.WSServerFrame{
			Type:      frameGreeting,
			SessionID: resp.SessionID,
			Turn:      resp,
			Message:   resp.Reply,
		})
	}

	s, err := svc.Get(ctx, id)
	if err != nil {
		_ = sendFrame(ws, errorFrame(id, "failed to load session", err))
		return "", err
	}
	last := ""
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Role == dialogue.RoleAssistant {
			last = s.Transcript[i].Content
			break
		}
	}
	return s.ID, sendFrame(ws, datatypes.WSServerFrame{
		Type:      frameGreeting,
		SessionID: s.ID,
		Message:   last,
	})
}

// dispatchFrame runs one client frame. The returned error is a write
// failure; turn failures are reported to the client as error frames.
func dispatchFrame(ctx context.Context, svc DialogueService, ws *websocket.Conn, sessionID string, frame datatypes.WSClientFrame) error {
	turnCtx, cancel := context.WithTimeout(ctx, wsTurnTimeout)
	defer cancel()

	switch frame.Type {
	case datatypes.WSTypeMessage:
		resp, err := svc.HandleMessage(turnCtx, sessionID, frame.Message)
		if err != nil {
			return sendFrame(ws, errorFrame(sessionID, "failed to process message", err))
		}
		return sendFrame(ws, turnFrame(resp))

	case datatypes.WSTypeAnswers:
		if frame.Answers == nil {
			return sendFrame(ws, errorFrame(sessionID, "answers frame without answers", nil))
		}
		resp, err := svc.HandleAnswers(turnCtx, sessionID, *frame.Answers)
		if err != nil {
			return sendFrame(ws, errorFrame(sessionID, "failed to process answers", err))
		}
		return sendFrame(ws, turnFrame(resp))

	case datatypes.WSTypeJurisdiction:
		s, err := svc.SetJurisdiction(turnCtx, sessionID, frame.Jurisdiction)
		if err != nil {
			return sendFrame(ws, errorFrame(sessionID, "failed to set jurisdiction", err))
		}
		return sendFrame(ws, datatypes.WSServerFrame{
			Type:      frameJurisdiction,
			SessionID: sessionID,
			Message:   fmt.Sprintf("Jurisdiction set to %s.", datatypes.JurisdictionLabel(s.Jurisdiction)),
		})
	}
	return sendFrame(ws, errorFrame(sessionID, "unknown frame type", nil))
}

func turnFrame(resp *datatypes.TurnResponse) datatypes.WSServerFrame {
	return datatypes.WSServerFrame{
		Type:      frameTurn,
		SessionID: resp.SessionID,
		Turn:      resp,
		Message:   resp.Reply,
	}
}

func errorFrame(sessionID, msg string, err error) datatypes.WSServerFrame {
	frame := datatypes.WSServerFrame{Type: frameError, SessionID: sessionID, Message: msg}
	if err != nil {
		frame.Error = err.Error()
		if statusFor(err) >= http.StatusInternalServerError {
			slog.Error(msg, "session_id", sessionID, "error", err)
			frame.Error = ""
		}
	}
	return frame
}
