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
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/dialogue"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/intake"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// storeSuite runs the same contract against every SessionStore.
type storeSuite struct {
	suite.Suite
	factory func(t *testing.T) (dialogue.SessionStore, func(time.Duration))
	store   dialogue.SessionStore
	advance func(time.Duration)
}

func (s *storeSuite) SetupTest() {
	s.store, s.advance = s.factory(s.T())
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, &storeSuite{factory: func(t *testing.T) (dialogue.SessionStore, func(time.Duration)) {
		clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
		m := NewMemoryStore(MemoryConfig{TTL: time.Hour})
		m.now = clock.Now
		return m, clock.Advance
	}})
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, &storeSuite{factory: func(t *testing.T) (dialogue.SessionStore, func(time.Duration)) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedisStore(client, RedisConfig{TTL: time.Hour, LockRetry: 5 * time.Millisecond}), mr.FastForward
	}})
}

func makeSession() *dialogue.Session {
	s := dialogue.NewSession(uuid.NewString(), "usa", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	s.Phase = dialogue.PhaseFollowups
	s.Record = &datatypes.IntakeRecord{
		Country: "usa",
		Domains: []string{"employment_law"},
		Facts:   []string{"Fired on Jan 5"},
		DomainSpecific: map[string]*datatypes.DomainSlice{
			"employment_law": {Facts: []string{"Fired on Jan 5"}},
		},
	}
	s.Asked.Record([]intake.Question{{Text: "Where?", Key: "where"}})
	s.FollowupRounds = 1
	return s
}

func (s *storeSuite) TestRoundTrip() {
	ctx := context.Background()
	sess := makeSession()
	s.Require().NoError(s.store.Create(ctx, sess))

	got, err := s.store.Get(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(sess.ID, got.ID)
	s.Equal(dialogue.PhaseFollowups, got.Phase)
	s.Equal(sess.Record.Facts, got.Record.Facts)
	s.True(got.Asked.Has("where"))
	s.Equal(1, got.FollowupRounds)
	s.True(sess.CreatedAt.Equal(got.CreatedAt))
}

func (s *storeSuite) TestReturnsCopies() {
	ctx := context.Background()
	sess := makeSession()
	s.Require().NoError(s.store.Create(ctx, sess))

	got, err := s.store.Get(ctx, sess.ID)
	s.Require().NoError(err)
	got.Record.Facts = append(got.Record.Facts, "unsaved")
	sess.Record.Facts = append(sess.Record.Facts, "also unsaved")

	again, err := s.store.Get(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal([]string{"Fired on Jan 5"}, again.Record.Facts)
}

func (s *storeSuite) TestSaveAndDelete() {
	ctx := context.Background()
	sess := makeSession()

	s.ErrorIs(s.store.Save(ctx, sess), ErrSessionNotFound, "save requires an existing session")
	s.Require().NoError(s.store.Create(ctx, sess))

	var exists *SessionExistsError
	s.ErrorAs(s.store.Create(ctx, sess), &exists)

	sess.Phase = dialogue.PhaseDone
	s.Require().NoError(s.store.Save(ctx, sess))
	got, err := s.store.Get(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(dialogue.PhaseDone, got.Phase)

	s.Require().NoError(s.store.Delete(ctx, sess.ID))
	_, err = s.store.Get(ctx, sess.ID)
	s.ErrorIs(err, ErrSessionNotFound)
	s.ErrorIs(s.store.Delete(ctx, sess.ID), ErrSessionNotFound)
}

func (s *storeSuite) TestExpiry() {
	ctx := context.Background()
	sess := makeSession()
	s.Require().NoError(s.store.Create(ctx, sess))

	s.advance(50 * time.Minute)
	s.Require().NoError(s.store.Save(ctx, sess), "save refreshes the TTL")

	s.advance(50 * time.Minute)
	_, err := s.store.Get(ctx, sess.ID)
	s.NoError(err)

	s.advance(61 * time.Minute)
	_, err = s.store.Get(ctx, sess.ID)
	s.ErrorIs(err, ErrSessionNotFound)
}

func (s *storeSuite) TestLockSerializesTurns() {
	ctx := context.Background()
	unlock, err := s.store.Lock(ctx, "abc")
	s.Require().NoError(err)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = s.store.Lock(waitCtx, "abc")
	s.ErrorIs(err, dialogue.ErrSessionBusy)

	other, err := s.store.Lock(ctx, "other")
	s.Require().NoError(err)
	other()

	acquired := make(chan func(), 1)
	go func() {
		u, err := s.store.Lock(ctx, "abc")
		if err == nil {
			acquired <- u
		}
	}()

	unlock()
	unlock()
	select {
	case u := <-acquired:
		u()
	case <-time.After(2 * time.Second):
		s.Fail("lock was not released")
	}
}

func TestRedisStore_LockOutlivesLeaseWhileHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	r := NewRedisStore(client, RedisConfig{
		LockTTL:   time.Minute,
		LockRenew: 5 * time.Millisecond,
		LockRetry: 5 * time.Millisecond,
	})

	ctx := context.Background()
	unlock, err := r.Lock(ctx, "sess")
	require.NoError(t, err)

	// Four minutes pass in 40s steps; the holder renews between steps.
	for i := 0; i < 6; i++ {
		mr.FastForward(40 * time.Second)
		require.Eventually(t, func() bool {
			return mr.TTL(lockKeyPrefix+"sess") > 30*time.Second
		}, 2*time.Second, 5*time.Millisecond)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = r.Lock(waitCtx, "sess")
	require.ErrorIs(t, err, dialogue.ErrSessionBusy)

	unlock()
	require.False(t, mr.Exists(lockKeyPrefix+"sess"))
	next, err := r.Lock(ctx, "sess")
	require.NoError(t, err)
	next()
}

func TestRedisStore_AbandonedLeaseExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	r := NewRedisStore(client, RedisConfig{LockTTL: time.Minute, LockRetry: 5 * time.Millisecond})

	// A holder that crashed leaves only its key behind.
	require.NoError(t, client.Set(context.Background(), lockKeyPrefix+"sess", "dead-holder", time.Minute).Err())
	mr.FastForward(2 * time.Minute)

	unlock, err := r.Lock(context.Background(), "sess")
	require.NoError(t, err)
	unlock()
}

// =============================================================================
// Memory janitor
// =============================================================================

func TestMemoryStore_SweepAndJanitor(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	clock := &fakeClock{now: time.Now()}
	var mu sync.Mutex
	var expired []string
	m := NewMemoryStore(MemoryConfig{TTL: time.Minute, OnExpire: func(id string) {
		mu.Lock()
		defer mu.Unlock()
		expired = append(expired, id)
	}})
	m.now = clock.Now

	ctx := context.Background()
	a, b := makeSession(), makeSession()
	require.NoError(t, m.Create(ctx, a))
	clock.Advance(30 * time.Second)
	require.NoError(t, m.Create(ctx, b))
	unlock, err := m.Lock(ctx, a.ID)
	require.NoError(t, err)
	unlock()

	clock.Advance(45 * time.Second)
	require.Equal(t, 1, m.Sweep())
	require.Equal(t, 1, m.Len())
	mu.Lock()
	require.Equal(t, []string{a.ID}, expired)
	mu.Unlock()

	require.NoError(t, m.Start(ctx))
	require.Error(t, m.Start(ctx))
	m.Stop()
	m.Stop()
}
