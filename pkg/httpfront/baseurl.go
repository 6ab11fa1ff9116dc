// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

// Package httpfront carries the outermost HTTP concerns of the gateway:
// origin validation, proxy-aware external URL derivation, and the health
// endpoint. TLS terminates at a fronting reverse proxy, so every advertised
// URL must be rebuilt from forwarding headers.
package httpfront

import (
	"encoding/json"
	"net/http"
	"strings"
)

// ProductionHost is the public hostname; requests reaching it are always
// re-advertised as https regardless of what the proxy forwarded.
const ProductionHost = "adhdbudget.bieda.it"

// ExternalBaseURL derives the scheme://host prefix every advertised endpoint
// is built from, honouring X-Forwarded-Proto, X-Forwarded-Host and the
// Cloudflare CF-Visitor hint.
func ExternalBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := headerFirst(r, "X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	if visitor := r.Header.Get("CF-Visitor"); visitor != "" {
		var hint struct {
			Scheme string `json:"scheme"`
		}
		if err := json.Unmarshal([]byte(visitor), &hint); err == nil && hint.Scheme == "https" {
			scheme = "https"
		}
	}

	host := r.Host
	if forwarded := headerFirst(r, "X-Forwarded-Host"); forwarded != "" {
		host = forwarded
	}

	if host == ProductionHost {
		scheme = "https"
	}

	return scheme + "://" + host
}

// headerFirst returns the first comma-separated value of a forwarding
// header; proxies append rather than replace.
func headerFirst(r *http.Request, name string) string {
	value := r.Header.Get(name)
	if value == "" {
		return ""
	}
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}
