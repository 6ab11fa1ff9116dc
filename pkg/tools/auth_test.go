// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adhdbudget/banking-mcp/pkg/authserver/storage"
	"github.com/adhdbudget/banking-mcp/pkg/enablebanking"
)

func storeTokenPair(t *testing.T, store *storage.MemoryStore, accessToken string, extra map[string]any) {
	t.Helper()
	now := time.Now()
	require.NoError(t, store.PutTokenPair(
		&storage.Token{
			Token:     accessToken,
			Kind:      storage.AccessTokenKind,
			ClientID:  "client-1",
			Scope:     "transactions accounts",
			IssuedAt:  now,
			ExpiresAt: now.Add(time.Hour),
			Pair:      accessToken + "-refresh",
			Extra:     extra,
		},
		&storage.Token{
			Token:     accessToken + "-refresh",
			Kind:      storage.RefreshTokenKind,
			ClientID:  "client-1",
			Scope:     "transactions accounts",
			IssuedAt:  now,
			ExpiresAt: now.Add(24 * time.Hour),
			Pair:      accessToken,
			Extra:     extra,
		},
	))
}

func TestValidateBearer(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore(storage.WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = store.Close() })
	rt := NewRuntime(store, nil, true)

	storeTokenPair(t, store, "local-access", map[string]any{"k": "v"})

	info, err := rt.ValidateBearer("Bearer local-access")
	require.NoError(t, err)
	assert.Equal(t, "client-1", info.ClientID)
	assert.Equal(t, "v", info.Extra["k"])

	_, err = rt.ValidateBearer("Bearer unknown")
	authErr, ok := IsAuthError(err)
	require.True(t, ok)
	assert.Equal(t, 401, authErr.Status)

	_, err = rt.ValidateBearer("")
	_, ok = IsAuthError(err)
	assert.True(t, ok)
}

func TestValidateBearerSandboxEscape(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore(storage.WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = store.Close() })

	sandbox := NewRuntime(store, nil, true)
	info, err := sandbox.ValidateBearer("Bearer eb_session_abc123")
	require.NoError(t, err)
	assert.Equal(t, "enable-sandbox", info.ClientID)
	tokens := enablebanking.TokensFromMap(info.Extra["enable_banking_tokens"].(map[string]any))
	require.NotNil(t, tokens)
	assert.Equal(t, "eb_session_abc123", tokens.AccessToken)

	// Production never honours the escape hatch.
	production := NewRuntime(store, nil, false)
	_, err = production.ValidateBearer("Bearer eb_session_abc123")
	_, ok := IsAuthError(err)
	assert.True(t, ok)
}

func TestAuthorizeRequiresConsentForProtectedTools(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore(storage.WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = store.Close() })
	rt := NewRuntime(store, nil, true)

	def, ok := rt.Lookup("summary.today")
	require.True(t, ok)

	// A valid bearer without upstream consent cannot use protected tools.
	storeTokenPair(t, store, "no-consent", nil)
	_, err := rt.Authorize(context.Background(), def, "Bearer no-consent", nil)
	authErr, ok := IsAuthError(err)
	require.True(t, ok)
	assert.Equal(t, 401, authErr.Status)
	assert.Contains(t, authErr.Message, "consent")
}

func TestAuthorizeResolvesConsent(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore(storage.WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = store.Close() })
	rt := NewRuntime(store, nil, true)

	extra := map[string]any{
		"enable_banking_tokens": map[string]any{
			"access_token":  "eb-access-1",
			"refresh_token": "eb-refresh-1",
			"expires_at":    float64(time.Now().Add(time.Hour).Unix()),
		},
	}
	storeTokenPair(t, store, "consented", extra)

	def, ok := rt.Lookup("transactions.query")
	require.True(t, ok)

	call, err := rt.Authorize(context.Background(), def, "Bearer consented", nil)
	require.NoError(t, err)
	require.NotNil(t, call.Tokens)
	assert.Equal(t, "eb-access-1", call.Tokens.AccessToken)
	assert.Equal(t, "client-1", call.ClientID)
}

func TestAuthorizeRefreshesExpiringConsent(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore(storage.WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = store.Close() })

	bank := &fakeBank{
		refreshed: &enablebanking.Tokens{
			AccessToken:  "eb-access-2",
			RefreshToken: "eb-refresh-2",
			ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		},
	}
	rt := NewRuntime(store, bank, true)

	extra := map[string]any{
		"enable_banking_tokens": map[string]any{
			"access_token":  "eb-access-1",
			"refresh_token": "eb-refresh-1",
			"expires_at":    float64(time.Now().Add(10 * time.Second).Unix()),
		},
	}
	storeTokenPair(t, store, "expiring", extra)

	def, ok := rt.Lookup("transactions.query")
	require.True(t, ok)

	call, err := rt.Authorize(context.Background(), def, "Bearer expiring", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, bank.refreshCalls)
	assert.Equal(t, "eb-access-2", call.Tokens.AccessToken)

	// The refreshed tokens were written back to the stored pair.
	stored, err := store.GetAccessToken("expiring")
	require.NoError(t, err)
	persisted := enablebanking.TokensFromMap(stored.Extra["enable_banking_tokens"].(map[string]any))
	require.NotNil(t, persisted)
	assert.Equal(t, "eb-access-2", persisted.AccessToken)
}

func TestAuthorizePublicToolSkipsValidation(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore(storage.WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = store.Close() })
	rt := NewRuntime(store, nil, true)

	def, ok := rt.Lookup("echo")
	require.True(t, ok)

	call, err := rt.Authorize(context.Background(), def, "", nil)
	require.NoError(t, err)
	assert.Nil(t, call.Tokens)
}
