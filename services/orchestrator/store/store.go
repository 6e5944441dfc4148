// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists dialogue sessions.
//
// MemoryStore keeps sessions in process and expires idle ones with a
// janitor goroutine. RedisStore shares sessions between replicas and lets
// Redis expire them. Both serialize sessions as JSON so a caller never
// holds a reference into stored state.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/dialogue"
)

// DefaultSessionTTL is how long an idle session is kept.
const DefaultSessionTTL = 2 * time.Hour

// ErrSessionNotFound is returned for unknown or expired sessions.
var ErrSessionNotFound = dialogue.ErrSessionNotFound

// SessionExistsError is returned by Create when the ID is taken.
type SessionExistsError struct {
	ID string
}

func (e *SessionExistsError) Error() string {
	return fmt.Sprintf("session %s already exists", e.ID)
}

func encode(s *dialogue.Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session %s: %w", s.ID, err)
	}
	return data, nil
}

func decode(data []byte) (*dialogue.Session, error) {
	var s dialogue.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}
