// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

// Package statemap is the opaque correlator store the authorization server
// keeps pending upstream consents in. Values are set with a TTL and consumed
// exactly once with GetAndDelete, so a callback can never replay a state.
//
// Two backends exist: an in-process map for single-node deployments and a
// Redis-backed mapper for horizontal scaling. Both honour the same contract.
package statemap

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound indicates the key does not exist or has expired.
var ErrNotFound = errors.New("state not found")

// Mapper stores opaque values under single-use keys with a TTL.
type Mapper interface {
	// Set stores value under key for at most ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// GetAndDelete returns the value and removes it atomically.
	// Returns ErrNotFound for unknown or expired keys.
	GetAndDelete(ctx context.Context, key string) ([]byte, error)

	// Close releases backend resources.
	Close() error
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryMapper is the in-process Mapper backend.
type MemoryMapper struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryMapper creates an empty in-process mapper.
func NewMemoryMapper() *MemoryMapper {
	return &MemoryMapper{entries: make(map[string]memoryEntry)}
}

// Set stores value under key for at most ttl.
func (m *MemoryMapper) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Opportunistic sweep keeps the map from accumulating dead correlators
	// between reads.
	now := time.Now()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}

	m.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: now.Add(ttl),
	}
	return nil
}

// GetAndDelete returns the value and removes it atomically.
func (m *MemoryMapper) GetAndDelete(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.entries, key)

	if time.Now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}
	return entry.value, nil
}

// Close is a no-op for the in-process backend.
func (*MemoryMapper) Close() error {
	return nil
}

var _ Mapper = (*MemoryMapper)(nil)
