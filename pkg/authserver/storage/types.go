// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

// Package storage holds the in-memory registries backing the authorization
// server: registered clients, live authorization codes, and the access and
// refresh token maps. Entries carry TTLs enforced both at read time and by a
// background sweeper.
package storage

import (
	"maps"
	"time"
)

// Default TTLs for stored entries.
const (
	DefaultAuthCodeTTL     = 300 * time.Second
	DefaultAccessTokenTTL  = 3600 * time.Second
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	// DefaultCleanupInterval keeps expiry sweeps at 1 Hz granularity.
	DefaultCleanupInterval = time.Second
)

// RegisteredClient is one OAuth client, created via dynamic registration or
// auto-registered for an allow-listed remote redirect prefix. Clients never
// expire within a process run.
type RegisteredClient struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
}

// Public reports whether the client authenticates without a secret.
func (c *RegisteredClient) Public() bool {
	return c.TokenEndpointAuthMethod == "none"
}

// HasRedirectURI checks membership in the client's redirect set.
func (c *RegisteredClient) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

func (c *RegisteredClient) clone() *RegisteredClient {
	cp := *c
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	cp.GrantTypes = append([]string(nil), c.GrantTypes...)
	cp.ResponseTypes = append([]string(nil), c.ResponseTypes...)
	return &cp
}

// AuthorizationCode is a single-use grant minted by the upstream consent
// callback, or directly by /authorize when no upstream is configured. Extra
// carries the upstream token payload into the issued token pair.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Resource            string
	CodeChallenge       string
	CodeChallengeMethod string
	Extra               map[string]any
}

func (a *AuthorizationCode) clone() *AuthorizationCode {
	cp := *a
	cp.Extra = cloneExtra(a.Extra)
	return &cp
}

// TokenKind distinguishes the two halves of an issued pair.
type TokenKind string

// Token kinds.
const (
	AccessTokenKind  TokenKind = "access"
	RefreshTokenKind TokenKind = "refresh"
)

// Token is one issued bearer credential. Pair names the sibling token so
// extra-map updates and rotation can reach both halves of a grant.
type Token struct {
	Token     string
	Kind      TokenKind
	ClientID  string
	Scope     string
	Resource  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Pair      string
	Extra     map[string]any
}

func (t *Token) clone() *Token {
	cp := *t
	cp.Extra = cloneExtra(t.Extra)
	return &cp
}

// cloneExtra performs the copy-on-write duplication of an extra map so no
// reader can observe a half-updated access/refresh pair.
func cloneExtra(extra map[string]any) map[string]any {
	if extra == nil {
		return nil
	}
	cp := make(map[string]any, len(extra))
	maps.Copy(cp, extra)
	return cp
}
