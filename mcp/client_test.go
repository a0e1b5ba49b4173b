package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func rpcOK(w http.ResponseWriter, id int64, result any) {
	json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
}

func decodeReq(t *testing.T, r *http.Request) request {
	t.Helper()
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return req
}

func newTestClient(url string) *Client {
	return NewClient(
		[]Server{{ID: "srv", URL: url, Enabled: true, Timeout: 5 * time.Second}},
		WithRetry(3, time.Millisecond),
	)
}

func TestExecuteRoundTrip(t *testing.T) {
	var got request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = decodeReq(t, r)
		rpcOK(w, got.ID, map[string]any{"ok": true})
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)
	result, err := c.Execute(t.Context(), "srv", "ping", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.JSONRPC != "2.0" || got.Method != "ping" {
		t.Errorf("request = %+v", got)
	}
	if string(result) != `{"ok":true}` {
		t.Errorf("result = %s", result)
	}
}

func TestExecuteIDsIncrease(t *testing.T) {
	var ids []int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeReq(t, r)
		ids = append(ids, req.ID)
		rpcOK(w, req.ID, struct{}{})
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)
	c.Execute(t.Context(), "srv", "ping", nil)
	c.Execute(t.Context(), "srv", "ping", nil)

	if len(ids) != 2 || ids[1] <= ids[0] {
		t.Errorf("ids = %v", ids)
	}
}

func TestExecuteUnknownServer(t *testing.T) {
	c := NewClient(nil)
	_, err := c.Execute(t.Context(), "nope", "ping", nil)
	var notFound *ErrServerNotFound
	if !errors.As(err, &notFound) || notFound.ID != "nope" {
		t.Fatalf("err = %v", err)
	}
}

func TestExecuteSkipsDisabledServers(t *testing.T) {
	c := NewClient([]Server{{ID: "off", URL: "http://unused", Enabled: false}})
	_, err := c.Execute(t.Context(), "off", "ping", nil)
	var notFound *ErrServerNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestExecuteRetriesTransportFailures(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		req := decodeReq(t, r)
		rpcOK(w, req.ID, "pong")
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)
	result, err := c.Execute(t.Context(), "srv", "ping", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if string(result) != `"pong"` {
		t.Errorf("result = %s", result)
	}
}

func TestExecuteGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)
	_, err := c.Execute(t.Context(), "srv", "ping", nil)
	var connErr *ConnError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want *ConnError", err)
	}
	if connErr.Attempts != 3 || calls.Load() != 3 {
		t.Errorf("attempts = %d, calls = %d", connErr.Attempts, calls.Load())
	}
}

func TestExecuteDoesNotRetryRPCErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		req := decodeReq(t, r)
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]any{"code": ErrCodeMethodNotFound, "message": "method not found"},
		})
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)
	_, err := c.Execute(t.Context(), "srv", "nonesuch", nil)
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %v, want *ExecError", err)
	}
	if execErr.Code != ErrCodeMethodNotFound {
		t.Errorf("code = %d", execErr.Code)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestInitializeRecordsCapabilities(t *testing.T) {
	var got request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = decodeReq(t, r)
		rpcOK(w, got.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}},
		})
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)
	if err := c.Initialize(t.Context(), "srv"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	params, _ := json.Marshal(got.Params)
	for _, name := range []string{"tools", "resources", "prompts", "samples"} {
		if !strings.Contains(string(params), `"`+name+`"`) {
			t.Errorf("advertised capabilities missing %q: %s", name, params)
		}
	}
	if !strings.Contains(string(params), "2024-11-05") {
		t.Errorf("protocol version missing: %s", params)
	}

	if !c.SupportsCapability("srv", "tools") {
		t.Error("SupportsCapability(tools) = false")
	}
	if c.SupportsCapability("srv", "prompts") {
		t.Error("SupportsCapability(prompts) = true, server never advertised it")
	}
	if c.SupportsCapability("other", "tools") {
		t.Error("SupportsCapability on unknown server = true")
	}
}

func TestListToolsCaches(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		req := decodeReq(t, r)
		rpcOK(w, req.ID, map[string]any{"tools": []any{}})
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)
	ctx := t.Context()
	c.ListTools(ctx, "srv")
	c.ListTools(ctx, "srv")
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (cached)", calls.Load())
	}

	c.RefreshCache("srv")
	c.ListTools(ctx, "srv")
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 after refresh", calls.Load())
	}
}

func TestCallToolNotCached(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		req := decodeReq(t, r)
		rpcOK(w, req.ID, map[string]any{"content": []any{}})
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)
	ctx := t.Context()
	c.CallTool(ctx, "srv", "echo", map[string]any{"text": "a"})
	c.CallTool(ctx, "srv", "echo", map[string]any{"text": "b"})
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestAuthorizationHeader(t *testing.T) {
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		req := decodeReq(t, r)
		rpcOK(w, req.ID, struct{}{})
	}))
	defer ts.Close()

	c := NewClient([]Server{{ID: "srv", URL: ts.URL, Token: "secret", Enabled: true}})
	c.Execute(context.Background(), "srv", "ping", nil)
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestCustomServerHeaders(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Org")
		req := decodeReq(t, r)
		rpcOK(w, req.ID, struct{}{})
	}))
	defer ts.Close()

	c := NewClient([]Server{{
		ID: "srv", URL: ts.URL, Enabled: true,
		Headers: map[string]string{"X-Org": "armada"},
	}})
	c.Execute(context.Background(), "srv", "ping", nil)
	if got != "armada" {
		t.Errorf("X-Org = %q", got)
	}
}
