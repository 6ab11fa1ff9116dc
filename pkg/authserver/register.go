// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/adhdbudget/banking-mcp/pkg/authserver/storage"
	"github.com/adhdbudget/banking-mcp/pkg/logger"
)

// registrationRequest is the RFC 7591 registration payload subset we honour.
type registrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	ClientName              string   `json:"client_name"`
}

// handleRegister implements dynamic client registration. The well-known
// remote callback URIs are always appended so a single registration serves
// every hosted assistant.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid registration payload", http.StatusBadRequest)
		return
	}

	if len(req.RedirectURIs) == 0 {
		http.Error(w, "Missing redirect_uris", http.StatusBadRequest)
		return
	}

	if s.cfg.Production {
		for _, uri := range req.RedirectURIs {
			if !redirectURIAllowed(uri, true) {
				http.Error(w, "Redirect URI not allowed in production: "+uri, http.StatusBadRequest)
				return
			}
		}
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "client_secret_basic"
	}

	client := &storage.RegisteredClient{
		ClientID:                generateClientID(),
		RedirectURIs:            appendWellKnownCallbacks(req.RedirectURIs),
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		Scope:                   req.Scope,
		TokenEndpointAuthMethod: authMethod,
		ClientIDIssuedAt:        time.Now().Unix(),
	}
	if client.Scope == "" {
		client.Scope = defaultScope
	}
	if len(client.GrantTypes) == 0 {
		client.GrantTypes = []string{"authorization_code", "refresh_token"}
	}
	if len(client.ResponseTypes) == 0 {
		client.ResponseTypes = []string{"code"}
	}
	if !client.Public() {
		client.ClientSecret = generateRandomToken()
	}

	if err := s.store.RegisterClient(client); err != nil {
		http.Error(w, "Registration failed", http.StatusInternalServerError)
		return
	}

	logger.Infow("registered OAuth client",
		"client_id", client.ClientID,
		"auth_method", client.TokenEndpointAuthMethod,
		"redirect_uris", len(client.RedirectURIs),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(client)
}
