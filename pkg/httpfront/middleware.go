// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package httpfront

import (
	"net/http"
	"strings"
)

// AllowedOrigins are the origin prefixes permitted for cross-origin access:
// the hosted AI assistants plus local development ports.
var AllowedOrigins = []string{
	"https://claude.ai",
	"https://www.claude.ai",
	"https://app.claude.ai",
	"https://lite.claude.ai",
	"https://chat.openai.com",
	"https://www.chat.openai.com",
	"https://chatgpt.com",
	"https://www.chatgpt.com",
	"https://platform.openai.com",
	"http://localhost:3000",
	"http://127.0.0.1:3000",
}

func originAllowed(origin string) bool {
	for _, allowed := range AllowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

func applyCORSHeaders(w http.ResponseWriter, origin string) {
	if origin != "" && originAllowed(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers",
		"Content-Type, Accept, Authorization, Mcp-Session-Id, MCP-Protocol-Version")
	w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
}

// OriginMiddleware answers preflights and refuses cross-origin requests from
// outside the allow-list. Requests without an Origin header pass untouched.
func OriginMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if r.Method == http.MethodOptions {
			applyCORSHeaders(w, origin)
			w.WriteHeader(http.StatusOK)
			return
		}

		if origin != "" && !originAllowed(origin) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"Invalid origin"}`))
			return
		}

		applyCORSHeaders(w, origin)
		next.ServeHTTP(w, r)
	})
}
