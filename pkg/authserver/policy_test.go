// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedirectURIAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		uri        string
		production bool
		want       bool
	}{
		{"https://claude.ai/api/mcp/auth_callback", true, true},
		{"https://app.claude.ai/callback", true, true},
		{"https://chatgpt.com/connector_platform_oauth_redirect", true, true},
		{"https://chat.openai.com/aip/api/auth/callback", true, true},
		{"http://localhost:3000/callback", false, true},
		{"http://localhost:3000/callback", true, false},
		{"http://127.0.0.1:8000/cb", false, true},
		{"https://attacker.example/cb", false, false},
		{"https://attacker.example/cb", true, false},
		// Prefix matching must not be fooled by lookalike hosts.
		{"https://claude.ai.attacker.example/cb", true, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, redirectURIAllowed(tt.uri, tt.production),
			"uri=%s production=%v", tt.uri, tt.production)
	}
}

func TestAppendWellKnownCallbacks(t *testing.T) {
	t.Parallel()

	out := appendWellKnownCallbacks([]string{
		"http://localhost:3000/callback",
		"https://claude.ai/api/mcp/auth_callback",
	})

	// Caller URIs come first; duplicates are not re-appended.
	assert.Equal(t, "http://localhost:3000/callback", out[0])
	assert.Equal(t, "https://claude.ai/api/mcp/auth_callback", out[1])

	count := 0
	for _, u := range out {
		if u == "https://claude.ai/api/mcp/auth_callback" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Contains(t, out, "https://chatgpt.com/connector_platform_oauth_redirect")
}
