// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/dialogue"
)

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	// TTL is the idle lifetime of a session. Default: 2h
	TTL time.Duration

	// SweepInterval is how often the janitor removes expired sessions.
	// Default: TTL / 4, at least one second.
	SweepInterval time.Duration

	// OnExpire is called for every session the janitor removes. Optional.
	OnExpire func(id string)
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// MemoryStore is an in-process SessionStore.
type MemoryStore struct {
	cfg MemoryConfig
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]memoryEntry
	locks    map[string]chan struct{}

	runMu   sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
}

// NewMemoryStore creates a store. Call Start to run the janitor.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.TTL / 4
	}
	if cfg.SweepInterval < time.Second {
		cfg.SweepInterval = time.Second
	}
	return &MemoryStore{
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]memoryEntry),
		locks:    make(map[string]chan struct{}),
	}
}

// Create stores a new session.
func (m *MemoryStore) Create(_ context.Context, s *dialogue.Session) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[s.ID]; ok && m.now().Before(e.expires) {
		return &SessionExistsError{ID: s.ID}
	}
	m.sessions[s.ID] = memoryEntry{data: data, expires: m.now().Add(m.cfg.TTL)}
	return nil
}

// Get returns a copy of the session.
func (m *MemoryStore) Get(_ context.Context, id string) (*dialogue.Session, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.expires) {
		return nil, ErrSessionNotFound
	}
	return decode(e.data)
}

// Save replaces a stored session and refreshes its expiry.
func (m *MemoryStore) Save(_ context.Context, s *dialogue.Session) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[s.ID]
	if !ok || !m.now().Before(e.expires) {
		return ErrSessionNotFound
	}
	m.sessions[s.ID] = memoryEntry{data: data, expires: m.now().Add(m.cfg.TTL)}
	return nil
}

// Delete removes a session.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	if !ok || !m.now().Before(e.expires) {
		return ErrSessionNotFound
	}
	return nil
}

// Lock waits until no other turn holds id or ctx ends.
func (m *MemoryStore) Lock(ctx context.Context, id string) (func(), error) {
	m.mu.Lock()
	ch, ok := m.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[id] = ch
	}
	m.mu.Unlock()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", dialogue.ErrSessionBusy, ctx.Err())
	}
}

// Len returns the number of stored sessions, expired ones included until
// the next sweep.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes expired sessions and idle locks and returns how many
// sessions were removed.
func (m *MemoryStore) Sweep() int {
	now := m.now()
	var expired []string

	m.mu.Lock()
	for id, e := range m.sessions {
		if !now.Before(e.expires) {
			delete(m.sessions, id)
			expired = append(expired, id)
		}
	}
	for id, ch := range m.locks {
		if _, live := m.sessions[id]; !live && len(ch) == 0 {
			delete(m.locks, id)
		}
	}
	m.mu.Unlock()

	if m.cfg.OnExpire != nil {
		for _, id := range expired {
			m.cfg.OnExpire(id)
		}
	}
	return len(expired)
}

// Start runs the janitor until ctx ends or Stop is called.
func (m *MemoryStore) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return fmt.Errorf("session janitor is already running")
	}
	m.running = true
	m.done = make(chan struct{})
	m.stopped = make(chan struct{})

	slog.Info("Session janitor starting", "ttl", m.cfg.TTL.String(), "interval", m.cfg.SweepInterval.String())
	go m.runLoop(ctx, m.done, m.stopped)
	return nil
}

// Stop ends the janitor and waits for it to exit.
func (m *MemoryStore) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	m.running = false
	close(m.done)
	stopped := m.stopped
	m.runMu.Unlock()
	<-stopped
}

func (m *MemoryStore) runLoop(ctx context.Context, done, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Session janitor stopped (context cancelled)")
			return
		case <-done:
			slog.Info("Session janitor stopped (stop requested)")
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				slog.Info("Expired dialogue sessions removed", "count", n)
			}
		}
	}
}

var _ dialogue.SessionStore = (*MemoryStore)(nil)
