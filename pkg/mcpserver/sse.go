// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/adhdbudget/banking-mcp/pkg/logger"
	"github.com/adhdbudget/banking-mcp/pkg/session"
)

const heartbeatInterval = time.Second

// handleStream serves the session's SSE push channel. One consumer per
// session; a later GET for the same session detaches the earlier one.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		sessionID = r.URL.Query().Get("sessionId")
	}

	sess, ok := h.sessions.Get(sessionID)
	if !ok {
		writeResponse(w, http.StatusBadRequest,
			errorResponse(nil, codeServerError, "Session ID required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	detached := sess.Attach()

	// connected and the first heartbeat go out before the ticker starts so
	// clients see liveness immediately.
	writeEvent(w, "connected", map[string]any{
		"session":   sess.ID,
		"timestamp": time.Now().Unix(),
	})
	writeEvent(w, "heartbeat", map[string]any{
		"timestamp": time.Now().Unix(),
	})
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		drainQueue(w, sess)
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-detached:
			logger.Debugw("SSE consumer replaced", "session_id", sess.ID)
			return
		case <-sess.Notify():
		case <-heartbeat.C:
			writeEvent(w, "heartbeat", map[string]any{
				"timestamp": time.Now().Unix(),
			})
			flusher.Flush()
			sess.Touch()
		}
	}
}

func drainQueue(w http.ResponseWriter, sess *session.Session) {
	for {
		payload, ok := sess.Pop()
		if !ok {
			return
		}
		name := "message"
		if event, ok := payload["event"].(string); ok && event != "" {
			name = event
		}
		writeEvent(w, name, payload)
	}
}

// writeEvent emits one SSE frame with compact JSON data.
func writeEvent(w http.ResponseWriter, name string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
