// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

// Package authserver implements the gateway's OAuth 2.1 authorization
// server: dynamic client registration, the authorization-code and
// refresh-token grants, RFC 7009 revocation, RFC 8414 metadata, and the
// federated-consent bridge that re-issues upstream bank consents as local
// codes and tokens.
package authserver

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/adhdbudget/banking-mcp/pkg/authserver/statemap"
	"github.com/adhdbudget/banking-mcp/pkg/authserver/storage"
	"github.com/adhdbudget/banking-mcp/pkg/enablebanking"
	"github.com/adhdbudget/banking-mcp/pkg/httpfront"
)

const defaultScope = "transactions accounts"

// UpstreamConsent is the slice of the upstream client the authorization
// server needs: starting a consent and trading the callback code.
type UpstreamConsent interface {
	InitiateConsent(ctx context.Context, params enablebanking.ConsentParams) (*enablebanking.ConsentResponse, error)
	ExchangeCode(ctx context.Context, code, redirectURI string) (*enablebanking.Tokens, error)
}

// Config carries the server's policy settings.
type Config struct {
	// Production enables the strict redirect-URI policy and disables the
	// sandbox minting escape hatches.
	Production bool

	// IssuerOverride pins the advertised issuer; empty derives it from
	// forwarding headers per request.
	IssuerOverride string

	// Defaults for upstream consent initiation.
	ASPSPName    string
	ASPSPCountry string

	// ConsentCallbackURL overrides the derived upstream callback URL.
	ConsentCallbackURL string
}

// Server holds the handler state for every /oauth and /.well-known route.
type Server struct {
	cfg      Config
	store    *storage.MemoryStore
	pending  statemap.Mapper
	upstream UpstreamConsent
}

// NewServer wires the authorization server. upstream may be nil when no
// signing material is configured; /authorize then falls back to direct code
// issuance outside production.
func NewServer(cfg Config, store *storage.MemoryStore, pending statemap.Mapper, upstream UpstreamConsent) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		pending:  pending,
		upstream: upstream,
	}
}

// RegisterRoutes mounts every OAuth and discovery endpoint on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Post("/oauth/register", s.handleRegister)
	r.Get("/oauth/authorize", s.handleAuthorize)
	r.Get("/oauth/enable-banking/callback", s.handleUpstreamCallback)
	r.Post("/oauth/token", s.handleToken)
	r.Post("/oauth/revoke", s.handleRevoke)
	r.Get("/.well-known/oauth-authorization-server", s.handleMetadata)
	r.Get("/.well-known/oauth-protected-resource", s.handleProtectedResource)
	r.Get("/.well-known/mcp.json", s.handleManifest)
}

// Issuer returns the advertised issuer for a request.
func (s *Server) Issuer(r *http.Request) string {
	if s.cfg.IssuerOverride != "" {
		return s.cfg.IssuerOverride
	}
	return httpfront.ExternalBaseURL(r)
}

// Store exposes the token store for the tool runtime's bearer validation.
func (s *Server) Store() *storage.MemoryStore {
	return s.store
}

// generateRandomToken returns a fresh 256-bit opaque string.
func generateRandomToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// generateClientID returns an identifier for dynamically registered clients.
func generateClientID() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// issueTokenPair mints a linked access/refresh pair sharing one extra
// payload and stores it.
func (s *Server) issueTokenPair(clientID, scope, resource string, extra map[string]any) (map[string]any, error) {
	accessToken := generateRandomToken()
	refreshToken := generateRandomToken()
	now := time.Now()

	access := &storage.Token{
		Token:     accessToken,
		Kind:      storage.AccessTokenKind,
		ClientID:  clientID,
		Scope:     scope,
		Resource:  resource,
		IssuedAt:  now,
		ExpiresAt: now.Add(storage.DefaultAccessTokenTTL),
		Pair:      refreshToken,
		Extra:     extra,
	}
	refresh := &storage.Token{
		Token:     refreshToken,
		Kind:      storage.RefreshTokenKind,
		ClientID:  clientID,
		Scope:     scope,
		Resource:  resource,
		IssuedAt:  now,
		ExpiresAt: now.Add(storage.DefaultRefreshTokenTTL),
		Pair:      accessToken,
		Extra:     extra,
	}
	if err := s.store.PutTokenPair(access, refresh); err != nil {
		return nil, err
	}

	var resourceValue any
	if resource != "" {
		resourceValue = resource
	}
	return map[string]any{
		"access_token":  accessToken,
		"token_type":    "Bearer",
		"expires_in":    int(storage.DefaultAccessTokenTTL / time.Second),
		"refresh_token": refreshToken,
		"scope":         scope,
		"resource":      resourceValue,
	}, nil
}
