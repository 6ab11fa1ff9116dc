// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"fmt"
	"html"
	"net/http"
	"net/url"
	"time"

	"github.com/adhdbudget/banking-mcp/pkg/authserver/storage"
	"github.com/adhdbudget/banking-mcp/pkg/enablebanking"
	"github.com/adhdbudget/banking-mcp/pkg/httpfront"
	"github.com/adhdbudget/banking-mcp/pkg/logger"
)

// handleAuthorize starts the authorization flow. When the upstream client is
// configured the user is redirected to the bank's consent page and the local
// code is minted later, on the callback. Without upstream credentials (dev
// and test deployments) the code is minted immediately.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	scope := q.Get("scope")
	state := q.Get("state")
	resource := q.Get("resource")
	codeChallenge := q.Get("code_challenge")
	codeChallengeMethod := q.Get("code_challenge_method")

	if clientID == "" || redirectURI == "" {
		http.Error(w, "Missing client_id or redirect_uri", http.StatusBadRequest)
		return
	}
	if scope == "" {
		scope = defaultScope
	}

	client, err := s.store.GetClient(clientID)
	if err != nil {
		// Unknown client: the hosted assistants use fixed ids without
		// calling /register, so an allow-listed redirect URI lazily
		// materialises a public client.
		if !redirectURIAllowed(redirectURI, s.cfg.Production) {
			writeHTML(w, registrationRequiredPage)
			return
		}
		client = &storage.RegisteredClient{
			ClientID:                clientID,
			RedirectURIs:            appendWellKnownCallbacks([]string{redirectURI}),
			GrantTypes:              []string{"authorization_code", "refresh_token"},
			ResponseTypes:           []string{"code"},
			Scope:                   scope,
			TokenEndpointAuthMethod: "none",
			ClientIDIssuedAt:        time.Now().Unix(),
		}
		if err := s.store.RegisterClient(client); err != nil {
			http.Error(w, "Registration failed", http.StatusInternalServerError)
			return
		}
		logger.Infow("auto-registered remote client", "client_id", clientID, "redirect_uri", redirectURI)
	}

	if !client.HasRedirectURI(redirectURI) && !redirectURIAllowed(redirectURI, s.cfg.Production) {
		http.Error(w, "Invalid redirect_uri", http.StatusBadRequest)
		return
	}

	if s.upstream == nil {
		if s.cfg.Production {
			http.Error(w, "Bank connection is not configured", http.StatusServiceUnavailable)
			return
		}
		s.issueCodeAndRedirect(w, &storage.AuthorizationCode{
			ClientID:            clientID,
			RedirectURI:         redirectURI,
			Scope:               scope,
			State:               state,
			Resource:            resource,
			CodeChallenge:       codeChallenge,
			CodeChallengeMethod: codeChallengeMethod,
		})
		return
	}

	callbackURI := s.cfg.ConsentCallbackURL
	if callbackURI == "" {
		callbackURI = httpfront.ExternalBaseURL(r) + "/oauth/enable-banking/callback"
	}

	upstreamState := generateRandomToken()
	pending := &PendingUpstreamConsent{
		UpstreamState:       upstreamState,
		ClientID:            clientID,
		ClientRedirectURI:   redirectURI,
		Scope:               scope,
		ClientState:         state,
		Resource:            resource,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		CallbackURI:         callbackURI,
		CreatedAt:           time.Now().Unix(),
	}
	if err := s.storePending(r.Context(), pending); err != nil {
		logger.Errorw("failed to store pending consent", "error", err)
		http.Error(w, "Authorization state unavailable", http.StatusServiceUnavailable)
		return
	}

	consent, err := s.upstream.InitiateConsent(r.Context(), enablebanking.ConsentParams{
		ASPSPName:    orDefault(q.Get("aspsp_name"), s.cfg.ASPSPName),
		ASPSPCountry: orDefault(q.Get("aspsp_country"), s.cfg.ASPSPCountry),
		RedirectURL:  callbackURI,
		State:        upstreamState,
		PSUType:      q.Get("psu_type"),
	})
	if err != nil {
		logger.Errorw("upstream consent initiation failed", "error", err)
		http.Error(w, "Bank connection unavailable", http.StatusServiceUnavailable)
		return
	}

	redirectWithLink(w, consent.URL)
}

// handleUpstreamCallback receives the bank's redirect, trades the upstream
// code for tokens, and mints the local authorization code carrying them.
func (s *Server) handleUpstreamCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "Upstream authorization failed: "+errParam, http.StatusBadRequest)
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		http.Error(w, "Missing code or state", http.StatusBadRequest)
		return
	}

	pending, err := s.takePending(r.Context(), state)
	if err != nil {
		http.Error(w, "Unknown or expired state", http.StatusBadRequest)
		return
	}

	tokens, err := s.upstream.ExchangeCode(r.Context(), code, pending.CallbackURI)
	if err != nil {
		logger.Errorw("upstream code exchange failed", "error", err)
		http.Error(w, "Upstream token exchange failed", http.StatusBadRequest)
		return
	}

	extra := map[string]any{
		"enable_banking_tokens": tokens.ToMap(),
	}
	if tokens.ExpiresAt != 0 {
		extra["enable_banking_expires_in"] = tokens.ExpiresAt - time.Now().Unix()
	}

	logger.Infow("upstream consent completed",
		"client_id", pending.ClientID,
		"access_token", enablebanking.MaskToken(tokens.AccessToken),
	)

	s.issueCodeAndRedirect(w, &storage.AuthorizationCode{
		ClientID:            pending.ClientID,
		RedirectURI:         pending.ClientRedirectURI,
		Scope:               pending.Scope,
		State:               pending.ClientState,
		Resource:            pending.Resource,
		CodeChallenge:       pending.CodeChallenge,
		CodeChallengeMethod: pending.CodeChallengeMethod,
		Extra:               extra,
	})
}

// issueCodeAndRedirect mints the local authorization code and sends the user
// agent back to the client callback.
func (s *Server) issueCodeAndRedirect(w http.ResponseWriter, code *storage.AuthorizationCode) {
	code.Code = generateRandomToken()
	if err := s.store.PutCode(code); err != nil {
		http.Error(w, "Failed to issue authorization code", http.StatusInternalServerError)
		return
	}

	location := buildCallbackURL(code.RedirectURI, code.Code, code.State)
	redirectWithLink(w, location)
}

// buildCallbackURL appends code and state to the client redirect URI.
func buildCallbackURL(redirectURI, code, state string) string {
	query := url.Values{"code": {code}}
	if state != "" {
		query.Set("state", state)
	}
	sep := "?"
	if containsQuery(redirectURI) {
		sep = "&"
	}
	return redirectURI + sep + query.Encode()
}

func containsQuery(uri string) bool {
	u, err := url.Parse(uri)
	return err == nil && u.RawQuery != ""
}

// redirectWithLink answers 302 with an HTML body carrying an explicit link
// for non-browser clients that do not follow redirects.
func redirectWithLink(w http.ResponseWriter, location string) {
	escaped := html.EscapeString(location)
	body := fmt.Sprintf(`<!doctype html>
<html>
    <head><title>Enable Banking OAuth</title></head>
    <body>
        <h1>Authorization</h1>
        <p>Continue here:</p>
        <p><a href="%s">%s</a></p>
    </body>
</html>`, escaped, escaped)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusFound)
	_, _ = w.Write([]byte(body))
}

const registrationRequiredPage = `<!doctype html>
<html>
    <head><title>Enable Banking Setup</title></head>
    <body>
        <h1>Select Your Bank</h1>
        <p>Register this client via /oauth/register before starting the OAuth flow.</p>
    </body>
</html>`

func writeHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
