// Package cache keeps introspection results (model lists, node definitions) for a
// fixed time window so repeated queries do not reach the backend.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is used when a Manager is created with a zero TTL.
const DefaultTTL = 5 * time.Minute

// Store holds encoded values with an expiry.
type Store interface {
	// Get returns the value and true while the entry is fresh.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Manager applies one TTL to every entry and collapses concurrent misses for the
// same key into a single producer call.
type Manager struct {
	store Store
	ttl   time.Duration
	group singleflight.Group
}

// NewManager creates a manager. A nil store selects a new MemoryStore.
func NewManager(store Store, ttl time.Duration) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl}
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Invalidate drops one entry.
func (m *Manager) Invalidate(ctx context.Context, key string) error {
	return m.store.Delete(ctx, key)
}

// Clear drops every entry.
func (m *Manager) Clear(ctx context.Context) error {
	return m.store.Clear(ctx)
}

// Fetch returns the cached value for key, or calls producer and caches its
// result. Producer errors are returned and not cached. A store that fails is
// logged and bypassed.
//
// Concurrent misses share one producer call. The producer runs detached from
// the caller's cancellation so one caller giving up does not fail the others;
// each caller stops waiting when its own ctx is done.
func Fetch[T any](ctx context.Context, m *Manager, key string, producer func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if v, ok := lookup[T](ctx, m, key); ok {
		return v, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (interface{}, error) {
		// a concurrent flight may have filled the entry while we waited
		if data, ok, err := m.store.Get(flightCtx, key); err == nil && ok {
			return data, nil
		}
		v, err := producer(flightCtx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cache: encode %s: %w", key, err)
		}
		if err := m.store.Set(flightCtx, key, data, m.ttl); err != nil {
			slog.Warn("cache store write failed", "key", key, "error", err)
		}
		return data, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	if res.Err != nil {
		return zero, res.Err
	}
	if res.Shared {
		slog.Debug("cache fetch shared with concurrent caller", "key", key)
	}

	var retv T
	if err := json.Unmarshal(res.Val.([]byte), &retv); err != nil {
		return zero, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return retv, nil
}

func lookup[T any](ctx context.Context, m *Manager, key string) (T, bool) {
	var retv T
	data, ok, err := m.store.Get(ctx, key)
	if err != nil {
		slog.Warn("cache store read failed", "key", key, "error", err)
		return retv, false
	}
	if !ok {
		return retv, false
	}
	if err := json.Unmarshal(data, &retv); err != nil {
		slog.Warn("discarding undecodable cache entry", "key", key, "error", err)
		_ = m.store.Delete(ctx, key)
		return retv, false
	}
	return retv, true
}
