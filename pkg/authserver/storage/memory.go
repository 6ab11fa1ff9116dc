// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/adhdbudget/banking-mcp/pkg/logger"
)

// timedEntry wraps a value with its creation time for TTL tracking.
type timedEntry[T any] struct {
	value     T
	createdAt time.Time
	expiresAt time.Time
}

func (e *timedEntry[T]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// MemoryStore implements the token and consent registries with in-memory
// maps. It is thread-safe. Expired entries are evicted both at read time and
// by a background sweeper.
type MemoryStore struct {
	mu sync.RWMutex

	// clients maps client_id -> RegisteredClient. Clients carry no TTL.
	clients map[string]*RegisteredClient

	// authCodes maps code -> grant context. Codes are one-time-use;
	// TakeCode removes the entry atomically with the lookup.
	authCodes map[string]*timedEntry[*AuthorizationCode]

	accessTokens  map[string]*timedEntry[*Token]
	refreshTokens map[string]*timedEntry[*Token]

	cleanupInterval time.Duration

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// MemoryStoreOption configures a MemoryStore instance.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.cleanupInterval = interval
	}
}

// NewMemoryStore creates a MemoryStore with initialized maps and starts the
// background cleanup goroutine.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		clients:         make(map[string]*RegisteredClient),
		authCodes:       make(map[string]*timedEntry[*AuthorizationCode]),
		accessTokens:    make(map[string]*timedEntry[*Token]),
		refreshTokens:   make(map[string]*timedEntry[*Token]),
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired removes all expired entries. Keys are collected under the
// read lock first so the write lock is held only for the deletes.
func (s *MemoryStore) cleanupExpired() {
	now := time.Now()

	s.mu.RLock()

	var expiredCodes []string
	for k, v := range s.authCodes {
		if v.expired(now) {
			expiredCodes = append(expiredCodes, k)
		}
	}

	var expiredAccess []string
	for k, v := range s.accessTokens {
		if v.expired(now) {
			expiredAccess = append(expiredAccess, k)
		}
	}

	var expiredRefresh []string
	for k, v := range s.refreshTokens {
		if v.expired(now) {
			expiredRefresh = append(expiredRefresh, k)
		}
	}

	s.mu.RUnlock()

	if len(expiredCodes) == 0 && len(expiredAccess) == 0 && len(expiredRefresh) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range expiredCodes {
		delete(s.authCodes, k)
	}
	for _, k := range expiredAccess {
		delete(s.accessTokens, k)
	}
	for _, k := range expiredRefresh {
		delete(s.refreshTokens, k)
	}
}

// -----------------------
// Clients
// -----------------------

// RegisterClient adds or updates a client.
func (s *MemoryStore) RegisterClient(client *RegisteredClient) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client_id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ClientID] = client.clone()
	return nil
}

// GetClient loads a client by id.
func (s *MemoryStore) GetClient(id string) (*RegisteredClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		logger.Debugw("client not found", "client_id", id)
		return nil, fmt.Errorf("%w: client %q", ErrNotFound, id)
	}
	return client.clone(), nil
}

// -----------------------
// Authorization codes
// -----------------------

// PutCode stores an authorization code with the default 300 s TTL.
func (s *MemoryStore) PutCode(code *AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.authCodes[code.Code] = &timedEntry[*AuthorizationCode]{
		value:     code.clone(),
		createdAt: now,
		expiresAt: now.Add(DefaultAuthCodeTTL),
	}
	return nil
}

// TakeCode removes and returns the authorization code atomically. A second
// redemption, or redemption at or after expiry, yields ErrNotFound or
// ErrExpired; either way the entry is gone afterwards.
func (s *MemoryStore) TakeCode(code string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.authCodes[code]
	if !ok {
		return nil, fmt.Errorf("%w: authorization code", ErrNotFound)
	}
	delete(s.authCodes, code)

	if entry.expired(time.Now()) {
		return nil, fmt.Errorf("%w: authorization code", ErrExpired)
	}
	return entry.value.clone(), nil
}

// -----------------------
// Tokens
// -----------------------

// PutTokenPair stores a freshly issued access/refresh pair. The two tokens
// must reference each other via Pair and share the same Extra payload.
func (s *MemoryStore) PutTokenPair(access, refresh *Token) error {
	if access == nil || access.Token == "" {
		return fmt.Errorf("access token cannot be empty")
	}
	if refresh == nil || refresh.Token == "" {
		return fmt.Errorf("refresh token cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.accessTokens[access.Token] = &timedEntry[*Token]{
		value:     access.clone(),
		createdAt: now,
		expiresAt: access.ExpiresAt,
	}
	s.refreshTokens[refresh.Token] = &timedEntry[*Token]{
		value:     refresh.clone(),
		createdAt: now,
		expiresAt: refresh.ExpiresAt,
	}
	return nil
}

// GetAccessToken returns the live access token. An expired entry is evicted
// and reported as ErrExpired.
func (s *MemoryStore) GetAccessToken(token string) (*Token, error) {
	return s.getToken(s.accessTokens, token)
}

// GetRefreshToken returns the live refresh token.
func (s *MemoryStore) GetRefreshToken(token string) (*Token, error) {
	return s.getToken(s.refreshTokens, token)
}

func (s *MemoryStore) getToken(m map[string]*timedEntry[*Token], token string) (*Token, error) {
	s.mu.RLock()
	entry, ok := m[token]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: token", ErrNotFound)
	}
	if entry.expired(time.Now()) {
		s.mu.Lock()
		delete(m, token)
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: token", ErrExpired)
	}
	return entry.value.clone(), nil
}

// TakeRefreshToken removes and returns the refresh token atomically. Used
// for rotation: the prior refresh token is invalid once taken.
func (s *MemoryStore) TakeRefreshToken(token string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.refreshTokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
	}
	delete(s.refreshTokens, token)

	if entry.expired(time.Now()) {
		return nil, fmt.Errorf("%w: refresh token", ErrExpired)
	}

	// Rotation also retires the paired access token.
	if pair := entry.value.Pair; pair != "" {
		delete(s.accessTokens, pair)
	}
	return entry.value.clone(), nil
}

// UpdateTokenExtra rewrites the extra payload of an access token and its
// paired refresh token in one critical section. Readers always observe both
// siblings carrying the same payload.
func (s *MemoryStore) UpdateTokenExtra(accessToken string, extra map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.accessTokens[accessToken]
	if !ok {
		return fmt.Errorf("%w: access token", ErrNotFound)
	}

	entry.value.Extra = cloneExtra(extra)

	if pair := entry.value.Pair; pair != "" {
		if refreshEntry, ok := s.refreshTokens[pair]; ok {
			refreshEntry.value.Extra = cloneExtra(extra)
		}
	}
	return nil
}

// Revoke removes the token from both maps if present. Idempotent per
// RFC 7009: revoking an unknown token is not an error.
func (s *MemoryStore) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accessTokens, token)
	delete(s.refreshTokens, token)
}

// -----------------------
// Stats (for tests and monitoring)
// -----------------------

// Stats contains statistics about the store contents.
type Stats struct {
	Clients       int
	AuthCodes     int
	AccessTokens  int
	RefreshTokens int
}

// Stats returns current statistics about store contents.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Clients:       len(s.clients),
		AuthCodes:     len(s.authCodes),
		AccessTokens:  len(s.accessTokens),
		RefreshTokens: len(s.refreshTokens),
	}
}
