// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

// Package enablebanking is the client for the upstream PSD2 aggregator API.
// Every application-level request is authenticated with a short-lived
// RS256-signed JWT; user-level requests additionally carry the bearer token
// minted for one consent session.
//
// The client is stateless between calls. All mutable auth state lives in the
// caller's [Tokens] value, which the account and transaction reads mutate in
// place when a 401 forces a mid-call refresh.
package enablebanking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adhdbudget/banking-mcp/pkg/logger"
	"github.com/adhdbudget/banking-mcp/pkg/networking"
)

const (
	// DefaultBaseURL is the production upstream API endpoint.
	DefaultBaseURL = "https://api.enablebanking.com"
	// SandboxBaseURL serves the Mock ASPSP used outside production.
	SandboxBaseURL = "https://api.sandbox.enablebanking.com"

	// consentValidity is how long an initiated consent stays usable.
	consentValidity = 90 * 24 * time.Hour

	maxResponseSize = 1 << 20
)

// Client talks to the upstream aggregator.
type Client struct {
	baseURL    string
	appID      string
	signer     *JWTSigner
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the upstream endpoint. Used for the sandbox and for
// tests pointing at an httptest server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a Client. Signing material is loaded once here; a missing or
// unreadable key is a ConfigError.
func New(appID, privateKeyPath string, opts ...Option) (*Client, error) {
	signer, err := NewJWTSigner(appID, privateKeyPath)
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:    DefaultBaseURL,
		appID:      appID,
		signer:     signer,
		httpClient: networking.NewHttpClientBuilder().Build(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ConsentParams selects the bank and callback for a new consent.
type ConsentParams struct {
	ASPSPName    string
	ASPSPCountry string
	RedirectURL  string
	State        string
	PSUType      string
}

// ConsentResponse is the upstream's answer to a consent initiation.
type ConsentResponse struct {
	URL             string `json:"url"`
	AuthorizationID string `json:"authorization_id,omitempty"`
	PSUIDHash       string `json:"psu_id_hash,omitempty"`
}

// InitiateConsent starts the upstream authorization flow and returns the URL
// the end user must visit.
func (c *Client) InitiateConsent(ctx context.Context, params ConsentParams) (*ConsentResponse, error) {
	psuType := params.PSUType
	if psuType == "" {
		psuType = "personal"
	}

	payload := map[string]any{
		"access": map[string]any{
			"valid_until": time.Now().Add(consentValidity).UTC().Format(time.RFC3339),
		},
		"aspsp": map[string]any{
			"name":    params.ASPSPName,
			"country": params.ASPSPCountry,
		},
		"state":        params.State,
		"redirect_url": params.RedirectURL,
		"psu_type":     psuType,
	}

	logger.Infow("initiating upstream consent",
		"aspsp", params.ASPSPName,
		"country", params.ASPSPCountry,
	)

	var out ConsentResponse
	if err := c.postJSON(ctx, "/auth", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// ExchangeCode trades the callback code for upstream tokens. It does not
// retry on 401; a failed exchange means the consent is unusable.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*Tokens, error) {
	form := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
		"client_id":  {c.appID},
	}
	if redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}
	return c.tokenRequest(ctx, form)
}

// Refresh trades a refresh token for a fresh pair. When the upstream omits a
// new refresh token the prior one is carried forward.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.appID},
	}
	tokens, err := c.tokenRequest(ctx, form)
	if err != nil {
		return nil, err
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}
	return tokens, nil
}

// RefreshInPlace refreshes tok and rewrites it in place.
func (c *Client) RefreshInPlace(ctx context.Context, tok *Tokens) error {
	if tok.RefreshToken == "" {
		return fmt.Errorf("no refresh token available")
	}
	refreshed, err := c.Refresh(ctx, tok.RefreshToken)
	if err != nil {
		return err
	}
	*tok = *refreshed
	return nil
}

// Account is one upstream account resource.
type Account struct {
	ResourceID      string `json:"resourceId"`
	UID             string `json:"uid,omitempty"`
	IBAN            string `json:"iban,omitempty"`
	Currency        string `json:"currency,omitempty"`
	Name            string `json:"name,omitempty"`
	Product         string `json:"product,omitempty"`
	CashAccountType string `json:"cashAccountType,omitempty"`
}

// ID returns the identifier usable for transaction reads.
func (a *Account) ID() string {
	if a.ResourceID != "" {
		return a.ResourceID
	}
	return a.UID
}

// ListAccounts fetches the accounts reachable under tok. On a 401 it
// refreshes tok in place and retries exactly once. The returned bool reports
// whether tok changed.
func (c *Client) ListAccounts(ctx context.Context, tok *Tokens) ([]Account, bool, error) {
	var out struct {
		Accounts []Account `json:"accounts"`
	}
	refreshed, err := c.getWithRetry(ctx, "/accounts", nil, tok, &out)
	if err != nil {
		return nil, refreshed, err
	}
	return out.Accounts, refreshed, nil
}

// ListTransactions fetches booked transactions for one account, optionally
// bounded by dateFrom/dateTo (ISO dates). Same single 401-retry contract as
// ListAccounts. Transactions are returned raw; normalisation happens in the
// tool layer.
func (c *Client) ListTransactions(
	ctx context.Context,
	accountID string,
	tok *Tokens,
	dateFrom, dateTo string,
) ([]map[string]any, bool, error) {
	query := url.Values{}
	if dateFrom != "" {
		query.Set("dateFrom", dateFrom)
	}
	if dateTo != "" {
		query.Set("dateTo", dateTo)
	}

	var out struct {
		Transactions struct {
			Booked []map[string]any `json:"booked"`
		} `json:"transactions"`
	}
	path := "/accounts/" + url.PathEscape(accountID) + "/transactions"
	refreshed, err := c.getWithRetry(ctx, path, query, tok, &out)
	if err != nil {
		return nil, refreshed, err
	}
	return out.Transactions.Booked, refreshed, nil
}

// getWithRetry performs a bearer-authenticated GET, refreshing tok and
// retrying once on 401 when a refresh token is available.
func (c *Client) getWithRetry(
	ctx context.Context,
	path string,
	query url.Values,
	tok *Tokens,
	out any,
) (bool, error) {
	err := c.getJSON(ctx, path, query, tok.AccessToken, out)
	if err == nil {
		return false, nil
	}
	if !networking.IsHTTPError(err, http.StatusUnauthorized) || tok.RefreshToken == "" {
		return false, err
	}

	logger.Infow("upstream returned 401, refreshing session",
		"path", path,
		"access_token", MaskToken(tok.AccessToken),
	)
	if refreshErr := c.RefreshInPlace(ctx, tok); refreshErr != nil {
		return false, refreshErr
	}
	return true, c.getJSON(ctx, path, query, tok.AccessToken, out)
}

func (c *Client) tokenRequest(ctx context.Context, form url.Values) (*Tokens, error) {
	endpoint := c.baseURL + "/auth/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if err := c.signRequest(req); err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	tokens := &Tokens{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}
	if tr.ExpiresIn > 0 {
		tokens.ExpiresAt = time.Now().Unix() + tr.ExpiresIn
	}
	return tokens, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if err := c.signRequest(req); err != nil {
		return err
	}

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, bearer string, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// signRequest attaches the application JWT. User bearer tokens, when needed,
// are set by the caller before signing is skipped for them.
func (c *Client) signRequest(req *http.Request) error {
	if req.Header.Get("Authorization") != "" {
		return nil
	}
	token, err := c.signer.Sign(defaultJWTTTL)
	if err != nil {
		return fmt.Errorf("failed to sign upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview := string(body)
		if len(preview) > 256 {
			preview = preview[:256]
		}
		return nil, networking.NewHTTPError(resp.StatusCode, req.URL.String(), preview)
	}
	return body, nil
}
