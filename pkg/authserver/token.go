// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/adhdbudget/banking-mcp/pkg/authserver/storage"
	"github.com/adhdbudget/banking-mcp/pkg/logger"
)

// tokenError writes an RFC 6749 error body.
func tokenError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// parseTokenRequest accepts both form-encoded and JSON token requests and
// merges HTTP Basic credentials into the payload.
func parseTokenRequest(r *http.Request) (map[string]string, error) {
	payload := make(map[string]string)

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, errors.New("invalid JSON body")
		}
		for k, v := range raw {
			if s, ok := v.(string); ok {
				payload[k] = s
			}
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return nil, errors.New("invalid form body")
		}
		for k := range r.PostForm {
			payload[k] = r.PostForm.Get(k)
		}
	}

	if basicID, basicSecret, ok := r.BasicAuth(); ok {
		if existing := payload["client_id"]; existing != "" && existing != basicID {
			return nil, errClientAuthMismatch
		}
		payload["client_id"] = basicID
		if basicSecret != "" {
			payload["client_secret"] = basicSecret
		}
	}

	return payload, nil
}

var errClientAuthMismatch = errors.New("client_id does not match Basic credentials")

// handleToken implements the authorization_code and refresh_token grants.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	payload, err := parseTokenRequest(r)
	if err != nil {
		if errors.Is(err, errClientAuthMismatch) {
			tokenError(w, http.StatusUnauthorized, "invalid_client", err.Error())
			return
		}
		tokenError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	switch payload["grant_type"] {
	case "authorization_code":
		s.handleCodeGrant(w, payload)
	case "refresh_token":
		s.handleRefreshGrant(w, payload)
	default:
		tokenError(w, http.StatusBadRequest, "unsupported_grant_type",
			"Supported grants: authorization_code, refresh_token")
	}
}

// handleCodeGrant redeems an authorization code. The code is consumed before
// validation, so a failed redemption also burns it.
func (s *Server) handleCodeGrant(w http.ResponseWriter, payload map[string]string) {
	codeValue := payload["code"]
	if codeValue == "" {
		tokenError(w, http.StatusBadRequest, "invalid_request", "Missing code")
		return
	}

	code, codeErr := s.store.TakeCode(codeValue)

	clientID := payload["client_id"]
	if clientID == "" && code != nil {
		clientID = code.ClientID
	}
	if clientID == "" {
		tokenError(w, http.StatusBadRequest, "invalid_request", "Missing client_id")
		return
	}

	client, err := s.store.GetClient(clientID)
	if err != nil {
		if s.cfg.Production {
			tokenError(w, http.StatusUnauthorized, "invalid_client", "Unknown client")
			return
		}
		// Sandbox convenience: clients skipping /register still get
		// through, mirroring the lazy path on /authorize.
		client = &storage.RegisteredClient{
			ClientID:                clientID,
			RedirectURIs:            appendWellKnownCallbacks(nil),
			GrantTypes:              []string{"authorization_code", "refresh_token"},
			ResponseTypes:           []string{"code"},
			Scope:                   defaultScope,
			TokenEndpointAuthMethod: "none",
			ClientIDIssuedAt:        time.Now().Unix(),
		}
		if err := s.store.RegisterClient(client); err != nil {
			tokenError(w, http.StatusInternalServerError, "server_error", "Registration failed")
			return
		}
		logger.Infow("auto-registered client on token exchange", "client_id", clientID)
	}

	if !s.authenticateClient(client, payload["client_secret"]) {
		tokenError(w, http.StatusUnauthorized, "invalid_client", "Client authentication failed")
		return
	}

	var scope, resource string
	var extra map[string]any

	switch {
	case codeErr == nil:
		if code.ClientID != clientID {
			tokenError(w, http.StatusBadRequest, "invalid_grant", "Client mismatch")
			return
		}
		if uri := payload["redirect_uri"]; uri != "" && uri != code.RedirectURI {
			tokenError(w, http.StatusBadRequest, "invalid_grant", "Redirect URI mismatch")
			return
		}
		if res := payload["resource"]; res != "" && code.Resource != "" && res != code.Resource {
			tokenError(w, http.StatusBadRequest, "invalid_grant", "Resource indicator mismatch")
			return
		}
		if verifier := payload["code_verifier"]; verifier != "" && code.CodeChallenge != "" {
			if !verifyPKCE(code.CodeChallenge, code.CodeChallengeMethod, verifier) {
				tokenError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
				return
			}
		}
		scope = code.Scope
		resource = code.Resource
		if res := payload["resource"]; resource == "" && res != "" {
			resource = res
		}
		extra = code.Extra

	case errors.Is(codeErr, storage.ErrExpired):
		tokenError(w, http.StatusBadRequest, "invalid_grant", "Authorization code expired")
		return

	case s.cfg.Production:
		tokenError(w, http.StatusBadRequest, "invalid_grant", "Invalid authorization code")
		return

	default:
		// Sandbox: unknown codes still mint a token pair so the flow
		// can be driven end to end without a live consent.
		scope = payload["scope"]
		if scope == "" {
			scope = client.Scope
		}
		resource = payload["resource"]
		logger.Warnw("minting tokens for unknown code outside production",
			"client_id", clientID)
	}

	response, err := s.issueTokenPair(clientID, scope, resource, extra)
	if err != nil {
		tokenError(w, http.StatusInternalServerError, "server_error", "Failed to issue tokens")
		return
	}
	writeTokenResponse(w, response)
}

// handleRefreshGrant rotates a refresh token. The consent tokens stored in
// the extra payload follow the new pair.
func (s *Server) handleRefreshGrant(w http.ResponseWriter, payload map[string]string) {
	refreshValue := payload["refresh_token"]
	if refreshValue == "" {
		tokenError(w, http.StatusBadRequest, "invalid_request", "Missing refresh_token")
		return
	}

	token, err := s.store.TakeRefreshToken(refreshValue)
	if err != nil {
		if s.cfg.Production {
			tokenError(w, http.StatusBadRequest, "invalid_grant", "Invalid refresh token")
			return
		}
		clientID := payload["client_id"]
		if clientID == "" {
			tokenError(w, http.StatusBadRequest, "invalid_grant", "Invalid refresh token")
			return
		}
		scope := payload["scope"]
		if scope == "" {
			scope = defaultScope
		}
		logger.Warnw("minting tokens for unknown refresh token outside production",
			"client_id", clientID)
		response, issueErr := s.issueTokenPair(clientID, scope, payload["resource"], nil)
		if issueErr != nil {
			tokenError(w, http.StatusInternalServerError, "server_error", "Failed to issue tokens")
			return
		}
		writeTokenResponse(w, response)
		return
	}

	if clientID := payload["client_id"]; clientID != "" && clientID != token.ClientID {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "Client mismatch")
		return
	}
	if res := payload["resource"]; res != "" && token.Resource != "" && res != token.Resource {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "Resource indicator mismatch")
		return
	}

	response, err := s.issueTokenPair(token.ClientID, token.Scope, token.Resource, token.Extra)
	if err != nil {
		tokenError(w, http.StatusInternalServerError, "server_error", "Failed to issue tokens")
		return
	}
	writeTokenResponse(w, response)
}

// authenticateClient checks the secret per the client's registered method.
// Public clients never present one.
func (s *Server) authenticateClient(client *storage.RegisteredClient, secret string) bool {
	if client.Public() {
		return true
	}
	if client.ClientSecret == "" {
		return true
	}
	return secret == client.ClientSecret
}

// verifyPKCE checks an S256 code verifier against the stored challenge.
// "plain" is accepted for compatibility with older clients.
func verifyPKCE(challenge, method, verifier string) bool {
	switch method {
	case "", "S256":
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]) == challenge
	case "plain":
		return verifier == challenge
	default:
		return false
	}
}

func writeTokenResponse(w http.ResponseWriter, response map[string]any) {
	// The resource member is always present, null when unbound.
	if _, ok := response["resource"]; !ok {
		response["resource"] = nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(response)
}
