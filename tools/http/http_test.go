package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchBasic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><p>Hello from test server</p></body></html>"))
	}))
	defer srv.Close()

	result, err := New().Execute(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	content, _ := result["content"].(string)
	if !strings.Contains(content, "Hello from test server") {
		t.Errorf("content = %q", content)
	}
	if result["status"] != 200 {
		t.Errorf("status = %v", result["status"])
	}
	headers, _ := result["headers"].(map[string]any)
	if headers["Content-Type"] != "text/html" {
		t.Errorf("headers = %v", headers)
	}
}

func TestPostWithHeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.Header.Get("X-Token") != "abc" {
			t.Errorf("X-Token = %q", r.Header.Get("X-Token"))
		}
		body, _ := io.ReadAll(r.Body)
		w.Write([]byte("got: " + string(body)))
	}))
	defer srv.Close()

	result, err := New().Execute(context.Background(), map[string]any{
		"url":     srv.URL,
		"method":  "post",
		"headers": `{"X-Token": "abc"}`,
		"body":    `{"k": 1}`,
	})
	if err != nil {
		t.Fatal(err)
	}
	content, _ := result["content"].(string)
	if content != `got: {"k": 1}` {
		t.Errorf("content = %q", content)
	}
}

func TestBadHeadersJSON(t *testing.T) {
	_, err := New().Execute(context.Background(), map[string]any{
		"url":     "http://example.invalid",
		"headers": "not json",
	})
	if err == nil || !strings.Contains(err.Error(), "JSON") {
		t.Errorf("err = %v", err)
	}
}

func TestFetch404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))
	defer srv.Close()

	_, err := New().Execute(context.Background(), map[string]any{"url": srv.URL})
	if err == nil {
		t.Error("expected error for 404")
	}
}

func TestFetchTruncation(t *testing.T) {
	big := strings.Repeat("A", 10000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(big))
	}))
	defer srv.Close()

	result, err := New().Execute(context.Background(), map[string]any{"url": srv.URL, "raw": true})
	if err != nil {
		t.Fatal(err)
	}
	content, _ := result["content"].(string)
	if len(content) > maxContent+100 {
		t.Errorf("content not truncated: %d", len(content))
	}
}
