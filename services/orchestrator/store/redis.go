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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/dialogue"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "counsel:session:"
	lockKeyPrefix    = "counsel:lock:"

	defaultLockTTL   = 2 * time.Minute
	defaultLockRetry = 50 * time.Millisecond
)

// releaseLock deletes the lock only if this holder still owns it.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewLock extends the lease only if this holder still owns it.
var renewLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// TTL is the idle lifetime of a session. Default: 2h
	TTL time.Duration

	// LockTTL bounds how long a crashed turn can hold a session. A live
	// holder keeps extending its lease, so turns may run longer.
	// Default: 2m
	LockTTL time.Duration

	// LockRenew is how often a held lease is extended back to LockTTL.
	// Default: LockTTL/3
	LockRenew time.Duration

	// LockRetry is the polling interval while waiting for a lock.
	// Default: 50ms
	LockRetry time.Duration
}

// RedisStore keeps sessions in Redis as JSON under a per-session key.
// Every write refreshes the key's TTL.
type RedisStore struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedisStore creates a store on an existing client. The client's
// lifecycle is managed by the caller.
func NewRedisStore(client *redis.Client, cfg RedisConfig) *RedisStore {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.LockRetry <= 0 {
		cfg.LockRetry = defaultLockRetry
	}
	if cfg.LockRenew <= 0 || cfg.LockRenew >= cfg.LockTTL {
		cfg.LockRenew = cfg.LockTTL / 3
	}
	return &RedisStore{client: client, cfg: cfg}
}

// Create stores a new session with SETNX.
func (r *RedisStore) Create(ctx context.Context, s *dialogue.Session) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, sessionKeyPrefix+s.ID, data, r.cfg.TTL).Result()
	if err != nil {
		return fmt.Errorf("redis create session: %w", err)
	}
	if !ok {
		return &SessionExistsError{ID: s.ID}
	}
	return nil
}

// Get loads a session.
func (r *RedisStore) Get(ctx context.Context, id string) (*dialogue.Session, error) {
	data, err := r.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	return decode(data)
}

// Save overwrites an existing session with SET XX.
func (r *RedisStore) Save(ctx context.Context, s *dialogue.Session) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	ok, err := r.client.SetXX(ctx, sessionKeyPrefix+s.ID, data, r.cfg.TTL).Result()
	if err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// Delete removes a session.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, sessionKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Lock acquires a lease on the session with SETNX and a random token.
//
// # Description
//
// Polls every LockRetry until the lease is free or ctx ends. While held,
// a goroutine extends the lease every LockRenew, so a long turn keeps its
// session; the lease lapses after LockTTL only once the holder is gone.
// The release function stops renewal and deletes the key only while the
// token still matches.
//
// # Outputs
//
//   - func(): Releases the lease. Safe to call more than once.
//   - error: Wraps dialogue.ErrSessionBusy when ctx ends first, or a
//     Redis failure.
func (r *RedisStore) Lock(ctx context.Context, id string) (func(), error) {
	key := lockKeyPrefix + id
	token := uuid.NewString()

	ticker := time.NewTicker(r.cfg.LockRetry)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.cfg.LockTTL).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("redis lock session: %w", err)
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go r.keepLease(key, token, stop, done)

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done
					// The turn's context may already be done.
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = releaseLock.Run(ctx, r.client, []string{key}, token).Err()
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", dialogue.ErrSessionBusy, ctx.Err())
		case <-ticker.C:
		}
	}
}

// keepLease extends the lease every LockRenew until stop is closed or the
// lease turns out to belong to someone else.
func (r *RedisStore) keepLease(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.cfg.LockRenew)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.LockRenew)
		n, err := renewLock.Run(ctx, r.client, []string{key}, token, r.cfg.LockTTL.Milliseconds()).Int()
		cancel()
		if err != nil {
			slog.Warn("Failed to renew session lock", "key", key, "error", err)
			continue
		}
		if n == 0 {
			slog.Warn("Session lock lost before release", "key", key)
			return
		}
	}
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

var _ dialogue.SessionStore = (*RedisStore)(nil)
