// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"encoding/json"
	"net/http"
	"strings"
)

// handleRevoke implements RFC 7009. Revocation is idempotent; unknown tokens
// still get 200 so callers cannot probe the token space.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var token string

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "Invalid revocation payload", http.StatusBadRequest)
			return
		}
		token = body.Token
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid revocation payload", http.StatusBadRequest)
			return
		}
		token = r.PostForm.Get("token")
	}

	if token == "" {
		http.Error(w, "Missing token", http.StatusBadRequest)
		return
	}

	s.store.Revoke(token)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte("{}"))
}
