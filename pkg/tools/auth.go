// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/adhdbudget/banking-mcp/pkg/enablebanking"
	"github.com/adhdbudget/banking-mcp/pkg/logger"
	"github.com/adhdbudget/banking-mcp/pkg/session"
)

// AuthError signals a failed bearer validation; Status is the HTTP status
// the transport should answer with.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// IsAuthError reports whether err is an AuthError.
func IsAuthError(err error) (*AuthError, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

const sandboxBearerPrefix = "eb_session_"

// sandboxClientID is reported for the eb_session_ escape hatch, matching the
// client id the sandbox mints for unregistered callers.
const sandboxClientID = "enable-sandbox"

// BearerInfo is the resolved identity behind a bearer token.
type BearerInfo struct {
	ClientID  string
	Scope     string
	ExpiresAt time.Time
	Extra     map[string]any
}

// ValidateBearer resolves an Authorization header value to a caller
// identity. Raw eb_session_ tokens from upstream short-circuit validation
// outside production so sandbox consents can be driven by hand.
func (rt *Runtime) ValidateBearer(header string) (*BearerInfo, error) {
	token := strings.TrimPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, &AuthError{Status: 401, Message: "Missing bearer token"}
	}

	if rt.sandbox && strings.HasPrefix(token, sandboxBearerPrefix) {
		return &BearerInfo{
			ClientID:  sandboxClientID,
			Scope:     "transactions accounts",
			ExpiresAt: time.Now().Add(time.Hour),
			Extra: map[string]any{
				"enable_banking_tokens": map[string]any{
					"access_token": token,
				},
			},
		}, nil
	}

	stored, err := rt.store.GetAccessToken(token)
	if err != nil {
		return nil, &AuthError{Status: 401, Message: "Invalid or expired token"}
	}
	return &BearerInfo{
		ClientID:  stored.ClientID,
		Scope:     stored.Scope,
		ExpiresAt: stored.ExpiresAt,
		Extra:     stored.Extra,
	}, nil
}

// resolveConsent extracts the caller's upstream tokens from the bearer's
// extra payload and refreshes them in place when close to expiry. A
// successful refresh is written back so subsequent calls reuse it.
func (rt *Runtime) resolveConsent(ctx context.Context, call *CallContext, info *BearerInfo) error {
	raw, _ := info.Extra["enable_banking_tokens"].(map[string]any)
	tokens := enablebanking.TokensFromMap(raw)
	if tokens == nil {
		return &AuthError{
			Status:  401,
			Message: "No Enable Banking consent found. Re-run the OAuth flow to connect your bank.",
		}
	}

	if tokens.NeedsRefresh(time.Now()) && rt.bank != nil {
		refreshed, err := rt.bank.Refresh(ctx, tokens.RefreshToken)
		if err != nil {
			logger.Warnw("upstream token refresh failed",
				"client_id", info.ClientID,
				"access_token", enablebanking.MaskToken(tokens.AccessToken),
				"error", err,
			)
		} else {
			tokens = refreshed
			call.Tokens = tokens
			rt.persistTokens(call)
		}
	}

	call.Tokens = tokens
	return nil
}

// persistTokens writes the call's upstream tokens back to the stored grant
// so later calls pick up a rotated refresh token.
func (rt *Runtime) persistTokens(call *CallContext) {
	if call.AccessToken == "" || call.Tokens == nil {
		return
	}
	extra := map[string]any{"enable_banking_tokens": call.Tokens.ToMap()}
	if err := rt.store.UpdateTokenExtra(call.AccessToken, extra); err != nil {
		logger.Warnw("failed to persist refreshed tokens", "error", err)
	}
}

// Authorize prepares a call context for a tool. Protected tools require a
// valid bearer with upstream consent attached.
func (rt *Runtime) Authorize(ctx context.Context, def *Definition, header string, sess *session.Session) (*CallContext, error) {
	call := &CallContext{Session: sess}
	if !def.Protected {
		return call, nil
	}

	info, err := rt.ValidateBearer(header)
	if err != nil {
		return nil, err
	}
	call.ClientID = info.ClientID
	call.AccessToken = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

	if err := rt.resolveConsent(ctx, call, info); err != nil {
		return nil, err
	}
	return call, nil
}
