// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// PendingConsentTTL bounds how long an upstream consent may stay unanswered.
const PendingConsentTTL = 900 * time.Second

// PendingUpstreamConsent is the bridge state parked between redirecting the
// user to the bank and the upstream callback landing back on the gateway.
// It is keyed by the upstream state correlator and consumed exactly once.
type PendingUpstreamConsent struct {
	UpstreamState       string `json:"upstream_state"`
	ClientID            string `json:"client_id"`
	ClientRedirectURI   string `json:"client_redirect_uri"`
	Scope               string `json:"scope"`
	ClientState         string `json:"client_state,omitempty"`
	Resource            string `json:"resource,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	CallbackURI         string `json:"callback_uri"`
	CreatedAt           int64  `json:"created_at"`
}

// storePending parks the consent context under its upstream state. Expiry
// is the mapper's job, so stale entries need no explicit sweep here.
func (s *Server) storePending(ctx context.Context, pending *PendingUpstreamConsent) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to encode pending consent: %w", err)
	}
	if err := s.pending.Set(ctx, pending.UpstreamState, data, PendingConsentTTL); err != nil {
		return fmt.Errorf("failed to store pending consent: %w", err)
	}
	return nil
}

// takePending consumes the consent context for an upstream state.
func (s *Server) takePending(ctx context.Context, state string) (*PendingUpstreamConsent, error) {
	data, err := s.pending.GetAndDelete(ctx, state)
	if err != nil {
		return nil, err
	}
	var pending PendingUpstreamConsent
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, fmt.Errorf("failed to decode pending consent: %w", err)
	}
	return &pending, nil
}
