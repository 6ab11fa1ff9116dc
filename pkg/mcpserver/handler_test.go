// SPDX-FileCopyrightText: Copyright 2025 ADHD Budget contributors
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adhdbudget/banking-mcp/pkg/authserver/storage"
	"github.com/adhdbudget/banking-mcp/pkg/session"
	"github.com/adhdbudget/banking-mcp/pkg/tools"
)

func newTestHandler(t *testing.T) (*Handler, *httptest.Server) {
	t.Helper()

	store := storage.NewMemoryStore(storage.WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = store.Close() })

	sessions := session.NewManager()
	t.Cleanup(sessions.Stop)

	runtime := tools.NewRuntime(store, nil, true)
	h := NewHandler(sessions, runtime, func(*http.Request) string {
		return "https://gw.example"
	})

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return h, srv
}

func postRPC(t *testing.T, srv *httptest.Server, body string, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeRPC(t *testing.T, resp *http.Response) *response {
	t.Helper()
	defer resp.Body.Close()
	var out response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return &out
}

func TestContentTypeRequired(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader("{}"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestAcceptHeaderValidated(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)

	resp := postRPC(t, srv, `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		map[string]string{"Accept": "text/html"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
}

func TestUnsupportedProtocolVersionHeader(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)

	resp := postRPC(t, srv, `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		map[string]string{"MCP-Protocol-Version": "1999-01-01"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestParseError(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)

	resp := postRPC(t, srv, `{not json`, nil)
	// Envelope failures stay at the JSON-RPC layer, not the transport.
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeRPC(t, resp)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeParseError, out.Error.Code)
}

func TestInvalidJSONRPCVersion(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)

	resp := postRPC(t, srv, `{"jsonrpc":"1.0","id":1,"method":"ping"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeRPC(t, resp)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeInvalidRequest, out.Error.Code)
}

func TestNotificationAccepted(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)

	resp := postRPC(t, srv, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestInitialize(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)

	resp := postRPC(t, srv,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","clientInfo":{"name":"test"}}}`,
		nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessionID := resp.Header.Get("Mcp-Session-Id")
	assert.NotEmpty(t, sessionID)

	out := decodeRPC(t, resp)
	require.Nil(t, out.Error)

	result, ok := out.Result.(map[string]any)
	require.True(t, ok)
	// The requested version is supported, so it is echoed back.
	assert.Equal(t, "2025-03-26", result["protocolVersion"])

	info, ok := result["serverInfo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "adhd-budget-mcp", info["name"])
	assert.Equal(t, "2.0.0", info["version"])

	prm, ok := result["protectedResourceMetadata"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, prm["authorization_servers"], "https://gw.example")
}

func TestInitializeUnsupportedVersionRejected(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)

	resp := postRPC(t, srv,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2030-01-01"}}`,
		nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	// No session is created for a rejected handshake.
	assert.Empty(t, resp.Header.Get("Mcp-Session-Id"))
	out := decodeRPC(t, resp)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeInvalidParams, out.Error.Code)
	assert.Contains(t, out.Error.Message, "2030-01-01")
}

func TestInitializeVersionFromHeader(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)

	// Params omit the version; the MCP-Protocol-Version header decides.
	resp := postRPC(t, srv,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		map[string]string{"MCP-Protocol-Version": ProtocolVersion2503})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeRPC(t, resp)
	require.Nil(t, out.Error)
	result := out.Result.(map[string]any)
	assert.Equal(t, ProtocolVersion2503, result["protocolVersion"])
}

func TestInitializeDefaultsToLatestVersion(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)

	resp := postRPC(t, srv,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeRPC(t, resp)
	result := out.Result.(map[string]any)
	assert.Equal(t, ProtocolVersionLatest, result["protocolVersion"])
}

func TestToolsListWithoutSession(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)

	resp := postRPC(t, srv, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeRPC(t, resp)
	require.Nil(t, out.Error)

	result := out.Result.(map[string]any)
	list, ok := result["tools"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, list)

	names := make([]string, 0, len(list))
	for _, entry := range list {
		names = append(names, entry.(map[string]any)["name"].(string))
	}
	assert.Contains(t, names, "echo")
	assert.Contains(t, names, "summary.today")
	assert.Contains(t, names, "transactions.query")
}

func TestToolCallWithoutAuthRejected(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)

	resp := postRPC(t, srv,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}`,
		nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	out := decodeRPC(t, resp)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeUnauthorized, out.Error.Code)
	assert.Equal(t, "Authorization required", out.Error.Message)
}

func TestToolCallWithAuthStillRequiresSession(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)

	resp := postRPC(t, srv,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}`,
		map[string]string{"Authorization": "Bearer some-token"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	out := decodeRPC(t, resp)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeServerError, out.Error.Code)
	assert.Contains(t, out.Error.Message, "Session ID required")
}

func TestOtherMethodsRequireSession(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)

	resp := postRPC(t, srv, `{"jsonrpc":"2.0","id":4,"method":"resources/list"}`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	out := decodeRPC(t, resp)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeServerError, out.Error.Code)
	assert.Contains(t, out.Error.Message, "Session ID required")
}

func initializeSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := postRPC(t, srv, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, nil)
	sessionID := resp.Header.Get("Mcp-Session-Id")
	resp.Body.Close()
	require.NotEmpty(t, sessionID)
	return sessionID
}

func TestEchoToolCallWithSession(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)
	sessionID := initializeSession(t, srv)

	resp := postRPC(t, srv,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hello"}}}`,
		map[string]string{"Mcp-Session-Id": sessionID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeRPC(t, resp)
	require.Nil(t, out.Error)

	result := out.Result.(map[string]any)
	content, ok := result["content"].([]any)
	require.True(t, ok)
	require.Len(t, content, 1)

	block := content[0].(map[string]any)
	assert.Equal(t, "text", block["type"])
	// echo answers with the bare message, not a JSON wrapper.
	assert.Equal(t, "hello", block["text"])
}

func TestUnknownToolRejected(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)
	sessionID := initializeSession(t, srv)

	resp := postRPC(t, srv,
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"nonexistent"}}`,
		map[string]string{"Mcp-Session-Id": sessionID})
	out := decodeRPC(t, resp)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeInvalidParams, out.Error.Code)
}

func TestProtectedToolRequiresBearer(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)
	sessionID := initializeSession(t, srv)

	resp := postRPC(t, srv,
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"summary.today","arguments":{}}}`,
		map[string]string{"Mcp-Session-Id": sessionID})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	out := decodeRPC(t, resp)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeUnauthorized, out.Error.Code)
}

func TestUnknownMethodWithSession(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)
	sessionID := initializeSession(t, srv)

	resp := postRPC(t, srv, `{"jsonrpc":"2.0","id":8,"method":"prompts/list"}`,
		map[string]string{"Mcp-Session-Id": sessionID})
	out := decodeRPC(t, resp)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeMethodNotFound, out.Error.Code)
}

func TestPingWithSession(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)
	sessionID := initializeSession(t, srv)

	resp := postRPC(t, srv, `{"jsonrpc":"2.0","id":9,"method":"ping"}`,
		map[string]string{"Mcp-Session-Id": sessionID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeRPC(t, resp)
	require.Nil(t, out.Error)
	assert.Equal(t, map[string]any{}, out.Result)
}

func TestPingWithoutSessionRejected(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)

	resp := postRPC(t, srv, `{"jsonrpc":"2.0","id":9,"method":"ping"}`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	out := decodeRPC(t, resp)
	require.NotNil(t, out.Error)
	assert.Equal(t, codeServerError, out.Error.Code)
	assert.Contains(t, out.Error.Message, "Session ID required")
}

func TestEndpointAliases(t *testing.T) {
	t.Parallel()
	_, srv := newTestHandler(t)

	for _, path := range []string{"/mcp", "/mcp/stream", "/mcp/sse"} {
		req, err := http.NewRequest(http.MethodPost, srv.URL+path,
			strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
