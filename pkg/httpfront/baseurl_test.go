// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package httpfront

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExternalBaseURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		host    string
		headers map[string]string
		want    string
	}{
		{
			name: "plain http",
			host: "localhost:8000",
			want: "http://localhost:8000",
		},
		{
			name:    "forwarded proto",
			host:    "localhost:8000",
			headers: map[string]string{"X-Forwarded-Proto": "https"},
			want:    "https://localhost:8000",
		},
		{
			name: "forwarded host and proto",
			host: "127.0.0.1:8000",
			headers: map[string]string{
				"X-Forwarded-Proto": "https",
				"X-Forwarded-Host":  "gw.example",
			},
			want: "https://gw.example",
		},
		{
			name:    "chained forwarding headers use the first value",
			host:    "127.0.0.1:8000",
			headers: map[string]string{"X-Forwarded-Proto": "https, http"},
			want:    "https://127.0.0.1:8000",
		},
		{
			name:    "cloudflare visitor hint",
			host:    "gw.example",
			headers: map[string]string{"CF-Visitor": `{"scheme":"https"}`},
			want:    "https://gw.example",
		},
		{
			name:    "malformed visitor hint ignored",
			host:    "gw.example",
			headers: map[string]string{"CF-Visitor": "not json"},
			want:    "http://gw.example",
		},
		{
			name: "production host forces https",
			host: ProductionHost,
			want: "https://" + ProductionHost,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Host = tt.host
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ExternalBaseURL(req))
		})
	}
}
