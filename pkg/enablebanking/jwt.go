// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package enablebanking

import (
	"crypto"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const (
	// jwtIssuer and jwtAudience are fixed by the upstream API contract.
	jwtIssuer   = "enablebanking.com"
	jwtAudience = "api.enablebanking.com"

	// maxJWTTTL is the upstream's hard cap on token lifetime.
	maxJWTTTL = 86400 * time.Second

	// defaultJWTTTL keeps each signed token short-lived; consents carry
	// their own, longer lifetime.
	defaultJWTTTL = time.Hour
)

// JWTSigner produces the RS256-signed JWTs the upstream API authenticates
// application requests with. The application id doubles as the key id.
type JWTSigner struct {
	appID string
	key   crypto.Signer
}

// NewJWTSigner loads the signing key and returns a signer bound to appID.
// Missing signing material is a configuration error, surfaced at construction.
func NewJWTSigner(appID, privateKeyPath string) (*JWTSigner, error) {
	if appID == "" {
		return nil, &ConfigError{Reason: "application id (ENABLE_APP_ID) is required"}
	}
	if privateKeyPath == "" {
		return nil, &ConfigError{Reason: "private key path (ENABLE_PRIVATE_KEY_PATH) is required"}
	}

	key, err := LoadSigningKey(privateKeyPath)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("failed to load signing key: %v", err)}
	}

	return &JWTSigner{appID: appID, key: key}, nil
}

// Sign returns a serialized JWT valid for ttl. The ttl may never exceed 24 h.
func (s *JWTSigner) Sign(ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultJWTTTL
	}
	if ttl > maxJWTTTL {
		return "", fmt.Errorf("token TTL cannot exceed %s", maxJWTTTL)
	}

	opts := (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", s.appID)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: s.key}, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	now := time.Now()
	claims := jwt.Claims{
		Issuer:   jwtIssuer,
		Audience: jwt.Audience{jwtAudience},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(ttl)),
	}

	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}
