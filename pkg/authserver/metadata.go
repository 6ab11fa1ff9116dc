// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"encoding/json"
	"net/http"

	"github.com/adhdbudget/banking-mcp/pkg/httpfront"
)

// OAuthMetadata is the RFC 8414 authorization-server metadata document.
type OAuthMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
}

func (s *Server) metadata(r *http.Request) OAuthMetadata {
	base := httpfront.ExternalBaseURL(r)
	return OAuthMetadata{
		Issuer:                            s.Issuer(r),
		AuthorizationEndpoint:             base + "/oauth/authorize",
		TokenEndpoint:                     base + "/oauth/token",
		RegistrationEndpoint:              base + "/oauth/register",
		RevocationEndpoint:                base + "/oauth/revoke",
		ScopesSupported:                   []string{"transactions", "accounts", "summary"},
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post"},
		CodeChallengeMethodsSupported:     []string{"S256"},
	}
}

// handleMetadata serves RFC 8414 discovery.
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.metadata(r))
}

// handleProtectedResource serves RFC 9728 discovery. The metadata fields are
// flattened into the top level alongside the wrapped form because deployed
// clients read both shapes.
func (s *Server) handleProtectedResource(w http.ResponseWriter, r *http.Request) {
	base := httpfront.ExternalBaseURL(r)
	issuer := s.Issuer(r)

	metadata := map[string]any{
		"resource":              base + "/mcp",
		"authorization_server":  issuer,
		"authorization_servers": []string{issuer},
		"scopes_supported":      []string{"transactions", "accounts", "summary"},
		"bearer_methods_supported": []string{
			"header",
		},
	}

	payload := map[string]any{
		"protectedResourceMetadata": metadata,
	}
	for k, v := range metadata {
		payload[k] = v
	}
	writeJSON(w, payload)
}

// handleManifest serves the MCP server manifest at /.well-known/mcp.json.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	base := httpfront.ExternalBaseURL(r)
	issuer := s.Issuer(r)

	writeJSON(w, map[string]any{
		"name":        "adhd-budget-mcp",
		"version":     "2.0.0",
		"description": "Banking MCP gateway with daily budget tools",
		"endpoint":    base + "/mcp",
		"protocol_versions": []string{
			"2025-06-18",
			"2025-03-26",
		},
		"transports": []string{"streamable-http", "sse"},
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"resources": map[string]any{"subscribe": false, "listChanged": false},
			"prompts":   map[string]any{"listChanged": false},
		},
		"authorization": map[string]any{
			"type":                  "oauth2",
			"authorization_servers": []string{issuer},
			"resource":              base + "/mcp",
		},
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
