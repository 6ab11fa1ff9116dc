// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package enablebanking

import (
	"fmt"
	"time"
)

// tokenExpirationBuffer is subtracted from the token expiry when deciding
// whether to refresh; a token within the buffer is treated as expired.
const tokenExpirationBuffer = 30 * time.Second

// Tokens is the credential pair issued by the upstream provider for one
// consent. It travels opaquely inside local OAuth token metadata.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	// ExpiresAt is unix seconds; zero means the upstream gave no expiry.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

// NeedsRefresh reports whether the tokens must be refreshed before use.
// Without a refresh token there is nothing to do; without an expiry the
// tokens are assumed still valid.
func (t *Tokens) NeedsRefresh(now time.Time) bool {
	if t.RefreshToken == "" || t.ExpiresAt == 0 {
		return false
	}
	return time.Unix(t.ExpiresAt, 0).Sub(now) <= tokenExpirationBuffer
}

// ToMap renders the tokens in the shape stored inside token extra metadata.
func (t *Tokens) ToMap() map[string]any {
	m := map[string]any{"access_token": t.AccessToken}
	if t.RefreshToken != "" {
		m["refresh_token"] = t.RefreshToken
	}
	if t.ExpiresAt != 0 {
		m["expires_at"] = t.ExpiresAt
	}
	return m
}

// TokensFromMap rebuilds Tokens from extra metadata. Returns nil when the
// payload is absent or carries no access token.
func TokensFromMap(m map[string]any) *Tokens {
	if m == nil {
		return nil
	}
	t := &Tokens{}
	if v, ok := m["access_token"].(string); ok {
		t.AccessToken = v
	}
	if t.AccessToken == "" {
		return nil
	}
	if v, ok := m["refresh_token"].(string); ok {
		t.RefreshToken = v
	}
	switch v := m["expires_at"].(type) {
	case int64:
		t.ExpiresAt = v
	case float64:
		t.ExpiresAt = int64(v)
	case int:
		t.ExpiresAt = int64(v)
	}
	return t
}

// MaskToken renders a token safe for logs, keeping the first and last four
// characters only.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "***"
	}
	return fmt.Sprintf("%s…%s", token[:4], token[len(token)-4:])
}
