// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

// Package mcpserver implements the MCP streamable HTTP transport: JSON-RPC
// over POST with per-session SSE streams on GET.
package mcpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/adhdbudget/banking-mcp/pkg/httpfront"
	"github.com/adhdbudget/banking-mcp/pkg/logger"
	"github.com/adhdbudget/banking-mcp/pkg/networking"
	"github.com/adhdbudget/banking-mcp/pkg/session"
	"github.com/adhdbudget/banking-mcp/pkg/tools"
)

// Protocol versions the transport negotiates, newest first.
const (
	ProtocolVersionLatest = "2025-06-18"
	ProtocolVersion2503   = "2025-03-26"
)

var supportedProtocolVersions = []string{ProtocolVersionLatest, ProtocolVersion2503}

const sessionHeader = "Mcp-Session-Id"

var serverInfo = map[string]any{
	"name":    "adhd-budget-mcp",
	"version": "2.0.0",
}

// Handler serves the /mcp endpoint family.
type Handler struct {
	sessions *session.Manager
	runtime  *tools.Runtime
	issuer   func(*http.Request) string
}

// NewHandler wires the transport. issuer resolves the advertised
// authorization server for a request.
func NewHandler(sessions *session.Manager, runtime *tools.Runtime, issuer func(*http.Request) string) *Handler {
	return &Handler{
		sessions: sessions,
		runtime:  runtime,
		issuer:   issuer,
	}
}

// RegisterRoutes mounts the endpoint and its aliases on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	for _, path := range []string{"/mcp", "/mcp/stream", "/mcp/sse"} {
		r.Post(path, h.handlePost)
		r.Get(path, h.handleStream)
	}
}

func protocolVersionSupported(version string) bool {
	for _, v := range supportedProtocolVersions {
		if v == version {
			return true
		}
	}
	return false
}

// acceptable reports whether the Accept header admits a JSON response.
func acceptable(accept string) bool {
	if accept == "" {
		return true
	}
	for _, part := range strings.Split(accept, ",") {
		media := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		switch media {
		case "application/json", "text/event-stream", "*/*", "application/*":
			return true
		}
	}
	return false
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorw("panic in MCP handler", "panic", fmt.Sprint(rec))
			writeResponse(w, http.StatusInternalServerError,
				errorResponse(nil, codeInternalError, "Internal error"))
		}
	}()

	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return
	}
	if !acceptable(r.Header.Get("Accept")) {
		http.Error(w, "Accept must include application/json or text/event-stream", http.StatusNotAcceptable)
		return
	}
	if pv := r.Header.Get("MCP-Protocol-Version"); pv != "" && !protocolVersionSupported(pv) {
		http.Error(w, "Unsupported MCP-Protocol-Version: "+pv, http.StatusBadRequest)
		return
	}

	// Envelope failures are JSON-RPC errors, not transport errors.
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, http.StatusOK, errorResponse(nil, codeParseError, "Parse error"))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeResponse(w, http.StatusOK, errorResponse(req.ID, codeInvalidRequest, "Invalid Request"))
		return
	}

	// Notifications get acknowledged and dropped.
	if req.ID == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if req.Method == "initialize" {
		h.handleInitialize(w, r, &req)
		return
	}

	sess, _ := h.sessions.Get(r.Header.Get(sessionHeader))
	if sess == nil {
		// tools/list is served sessionless so legacy clients can probe
		// the tool surface before initialising. An unauthenticated
		// tools/call gets the auth challenge; everything else needs a
		// session first.
		switch req.Method {
		case "tools/list":
			writeResponse(w, http.StatusOK, resultResponse(req.ID, map[string]any{
				"tools": h.runtime.List(),
			}))
			return
		case "tools/call":
			if r.Header.Get("Authorization") == "" {
				writeResponse(w, http.StatusUnauthorized,
					errorResponse(req.ID, codeUnauthorized, "Authorization required"))
				return
			}
		}
		writeResponse(w, http.StatusBadRequest,
			errorResponse(req.ID, codeServerError, "Session ID required"))
		return
	}
	sess.Touch()

	h.dispatch(w, r, sess, &req)
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request, req *request) {
	var params struct {
		ProtocolVersion string         `json:"protocolVersion"`
		ClientInfo      map[string]any `json:"clientInfo"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeResponse(w, http.StatusBadRequest,
				errorResponse(req.ID, codeInvalidParams, "Invalid initialize params"))
			return
		}
	}

	version := params.ProtocolVersion
	if version == "" {
		version = r.Header.Get("MCP-Protocol-Version")
	}
	if version == "" {
		version = ProtocolVersionLatest
	}
	if !protocolVersionSupported(version) {
		writeResponse(w, http.StatusBadRequest,
			errorResponse(req.ID, codeInvalidParams, "Unsupported protocol version: "+version))
		return
	}

	sess := h.sessions.Create(version, params.ClientInfo)
	logger.Infow("MCP session initialised",
		"session_id", sess.ID,
		"protocol_version", version,
	)

	base := httpfront.ExternalBaseURL(r)
	result := map[string]any{
		"protocolVersion": version,
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"resources": map[string]any{"subscribe": false, "listChanged": false},
			"prompts":   map[string]any{"listChanged": false},
		},
		"serverInfo": serverInfo,
		"protectedResourceMetadata": map[string]any{
			"resource":              base + "/mcp",
			"authorization_servers": []string{h.issuer(r)},
		},
	}

	w.Header().Set(sessionHeader, sess.ID)
	writeResponse(w, http.StatusOK, resultResponse(req.ID, result))
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, sess *session.Session, req *request) {
	switch req.Method {
	case "ping":
		writeResponse(w, http.StatusOK, resultResponse(req.ID, map[string]any{}))

	case "tools/list":
		writeResponse(w, http.StatusOK, resultResponse(req.ID, map[string]any{
			"tools": h.runtime.List(),
		}))

	case "tools/call":
		h.handleToolCall(w, r, sess, req)

	default:
		writeResponse(w, http.StatusOK,
			errorResponse(req.ID, codeMethodNotFound, "Method not found: "+req.Method))
	}
}

func (h *Handler) handleToolCall(w http.ResponseWriter, r *http.Request, sess *session.Session, req *request) {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		writeResponse(w, http.StatusOK,
			errorResponse(req.ID, codeInvalidParams, "tools/call requires a tool name"))
		return
	}

	def, ok := h.runtime.Lookup(params.Name)
	if !ok {
		writeResponse(w, http.StatusOK,
			errorResponse(req.ID, codeInvalidParams, "Unknown tool: "+params.Name))
		return
	}

	call, err := h.runtime.Authorize(r.Context(), def, r.Header.Get("Authorization"), sess)
	if err != nil {
		if authErr, ok := tools.IsAuthError(err); ok {
			writeResponse(w, authErr.Status, errorResponse(req.ID, codeUnauthorized, authErr.Message))
			return
		}
		writeResponse(w, http.StatusInternalServerError,
			errorResponse(req.ID, codeServerError, err.Error()))
		return
	}

	result, err := def.Handler(r.Context(), call, params.Arguments)
	if err != nil {
		h.writeToolError(w, req.ID, err)
		return
	}

	// Handlers that build their own content blocks pass through untouched.
	if _, ok := result["content"]; ok {
		writeResponse(w, http.StatusOK, resultResponse(req.ID, result))
		return
	}

	text, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		writeResponse(w, http.StatusInternalServerError,
			errorResponse(req.ID, codeInternalError, "Failed to encode tool result"))
		return
	}
	writeResponse(w, http.StatusOK, resultResponse(req.ID, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(text)},
		},
	}))
}

// writeToolError maps tool failures onto JSON-RPC errors with a matching
// transport status.
func (h *Handler) writeToolError(w http.ResponseWriter, id any, err error) {
	if authErr, ok := tools.IsAuthError(err); ok {
		writeResponse(w, authErr.Status, errorResponse(id, codeUnauthorized, authErr.Message))
		return
	}
	if tools.IsArgumentError(err) {
		writeResponse(w, http.StatusOK, errorResponse(id, codeInvalidParams, err.Error()))
		return
	}
	if httpErr, ok := networking.AsHTTPError(err); ok {
		status := httpErr.StatusCode
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		writeResponse(w, status, errorResponse(id, codeServerError, httpErr.Message))
		return
	}
	// Anything else is an upstream failure below the HTTP layer
	// (connection refused, timeout); surface it as unavailability.
	logger.Errorw("tool call failed", "error", err)
	writeResponse(w, http.StatusServiceUnavailable,
		errorResponse(id, codeServerError, err.Error()))
}

func writeResponse(w http.ResponseWriter, status int, resp *response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
