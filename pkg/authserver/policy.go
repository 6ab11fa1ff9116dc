// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package authserver

import "strings"

// remoteRedirectPrefixes are the redirect-URI prefixes accepted without
// prior registration. Membership here is the authorisation signal for
// auto-registering the fixed client ids the hosted assistants use.
var remoteRedirectPrefixes = []string{
	"https://claude.ai/",
	"https://www.claude.ai/",
	"https://app.claude.ai/",
	"https://lite.claude.ai/",
	"https://chat.openai.com/",
	"https://www.chat.openai.com/",
	"https://chatgpt.com/",
	"https://www.chatgpt.com/",
}

// wellKnownCallbackURIs are appended to every registered client's redirect
// set so one static client can serve Claude and ChatGPT alike.
var wellKnownCallbackURIs = []string{
	"https://claude.ai/api/mcp/auth_callback",
	"https://www.claude.ai/api/mcp/auth_callback",
	"https://chat.openai.com/aip/api/auth/callback",
	"https://chatgpt.com/connector_platform_oauth_redirect",
}

// redirectURIAllowed implements the redirect-URI policy: remote prefixes are
// always allowed; localhost only outside production.
func redirectURIAllowed(uri string, production bool) bool {
	for _, prefix := range remoteRedirectPrefixes {
		if strings.HasPrefix(uri, prefix) {
			return true
		}
	}
	if production {
		return false
	}
	return strings.HasPrefix(uri, "http://localhost") || strings.HasPrefix(uri, "http://127.0.0.1")
}

// appendWellKnownCallbacks extends uris with the fixed callback list,
// preserving order and insertion uniqueness.
func appendWellKnownCallbacks(uris []string) []string {
	seen := make(map[string]struct{}, len(uris)+len(wellKnownCallbackURIs))
	out := make([]string, 0, len(uris)+len(wellKnownCallbackURIs))
	for _, u := range uris {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	for _, u := range wellKnownCallbackURIs {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
