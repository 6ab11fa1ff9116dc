// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

// Package session tracks the MCP sessions created by the initialize
// handshake. Each session carries a FIFO push queue drained by at most one
// SSE consumer; re-opening the stream for a session replaces the consumer.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adhdbudget/banking-mcp/pkg/logger"
)

const (
	// DefaultTTL is how long an idle session survives before cleanup.
	DefaultTTL = 3600 * time.Second

	// queueHighWater bounds each push queue; beyond it the oldest entries
	// are dropped so a stalled consumer cannot pin memory.
	queueHighWater = 1024
)

// ErrNotFound indicates the session id is unknown or already evicted.
var ErrNotFound = errors.New("session not found")

// Session is one MCP client connection context.
type Session struct {
	ID              string
	ProtocolVersion string
	ClientInfo      map[string]any
	CreatedAt       time.Time

	mu       sync.Mutex
	lastSeen time.Time
	queue    []map[string]any
	dropped  uint64

	// notify wakes the SSE consumer; capacity one so publishes never block.
	notify chan struct{}

	// detach is closed when a newer consumer attaches.
	detach chan struct{}
}

func newSession(protocolVersion string, clientInfo map[string]any) *Session {
	now := time.Now()
	return &Session{
		ID:              uuid.NewString(),
		ProtocolVersion: protocolVersion,
		ClientInfo:      clientInfo,
		CreatedAt:       now,
		lastSeen:        now,
		notify:          make(chan struct{}, 1),
	}
}

// Touch updates the last-seen timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns the last-seen timestamp.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Publish enqueues a payload for the SSE consumer. Ordering is FIFO per
// session; past the high-water mark the oldest entry is dropped.
func (s *Session) Publish(payload map[string]any) {
	s.mu.Lock()
	if len(s.queue) >= queueHighWater {
		s.queue = s.queue[1:]
		s.dropped++
	}
	s.queue = append(s.queue, payload)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Pop dequeues the next payload, if any.
func (s *Session) Pop() (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil, false
	}
	payload := s.queue[0]
	s.queue = s.queue[1:]
	return payload, true
}

// Notify exposes the wake-up channel for the consumer's select loop.
func (s *Session) Notify() <-chan struct{} {
	return s.notify
}

// Attach registers the calling goroutine as the session's single consumer
// and returns a channel closed when a newer consumer takes over.
func (s *Session) Attach() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detach != nil {
		close(s.detach)
	}
	s.detach = make(chan struct{})
	return s.detach
}

// Manager is the process-wide session registry.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTTL overrides the idle-session TTL.
func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.ttl = ttl
	}
}

// NewManager creates a Manager and starts its cleanup routine.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		ttl:      DefaultTTL,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.cleanupRoutine()

	return m
}

// Create registers a new session with a fresh UUID v4 identifier.
func (m *Manager) Create(protocolVersion string, clientInfo map[string]any) *Session {
	s := newSession(protocolVersion, clientInfo)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	logger.Infow("created MCP session", "session_id", s.ID, "protocol_version", protocolVersion)
	return s
}

// Get returns the session and touches its last-seen timestamp.
func (m *Manager) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}

	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if ok {
		s.Touch()
	}
	return s, ok
}

// Publish enqueues payload on the session's queue.
func (m *Manager) Publish(id string, payload map[string]any) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.Publish(payload)
	return nil
}

// CleanupExpired sweeps sessions idle for longer than the TTL.
func (m *Manager) CleanupExpired() {
	cutoff := time.Now().Add(-m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			logger.Infow("removing expired MCP session", "session_id", id)
			delete(m.sessions, id)
		}
	}
}

// Stop terminates the cleanup routine and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Manager) cleanupRoutine() {
	defer close(m.doneCh)

	interval := m.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.CleanupExpired()
		}
	}
}
