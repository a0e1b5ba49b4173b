package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Server is the configuration of one MCP endpoint.
type Server struct {
	ID    string
	Name  string
	URL   string
	Token string
	// Scheme is the Authorization scheme for Token (default "Bearer").
	Scheme string
	// Headers are extra request headers sent on every call.
	Headers map[string]string
	Timeout time.Duration
	Enabled bool
}

const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = time.Second
	defaultTimeout       = 30 * time.Second

	toolsCacheTTL     = 3600 * time.Second
	resourcesCacheTTL = 1800 * time.Second
	healthCacheTTL    = 60 * time.Second
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client. Per-call timeouts still
// come from each server's config.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetry overrides the transport retry policy.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.retryAttempts = attempts
		}
		c.retryDelay = delay
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client is a JSON-RPC 2.0 client for a set of MCP servers. It is
// safe for concurrent use.
type Client struct {
	http          *http.Client
	retryAttempts int
	retryDelay    time.Duration
	logger        *slog.Logger

	nextID atomic.Int64

	mu      sync.RWMutex
	servers map[string]Server
	caps    map[string]map[string]any
	cache   map[string]cacheEntry
}

type cacheEntry struct {
	value     json.RawMessage
	expiresAt time.Time
}

// NewClient creates a client for the given servers. Disabled servers
// are skipped.
func NewClient(servers []Server, opts ...Option) *Client {
	c := &Client{
		http:          &http.Client{},
		retryAttempts: defaultRetryAttempts,
		retryDelay:    defaultRetryDelay,
		logger:        slog.Default(),
		servers:       make(map[string]Server),
		caps:          make(map[string]map[string]any),
		cache:         make(map[string]cacheEntry),
	}
	for _, s := range servers {
		if !s.Enabled {
			continue
		}
		if s.Timeout <= 0 {
			s.Timeout = defaultTimeout
		}
		if s.Scheme == "" {
			s.Scheme = "Bearer"
		}
		c.servers[s.ID] = s
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Servers returns the configured server ids.
func (c *Client) Servers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.servers))
	for id := range c.servers {
		out = append(out, id)
	}
	return out
}

// Execute performs one JSON-RPC call against serverID. Transport
// failures are retried with a fixed delay; RPC error responses are
// not, surfacing as *ExecError.
func (c *Client) Execute(ctx context.Context, serverID, method string, params any) (json.RawMessage, error) {
	c.mu.RLock()
	srv, ok := c.servers[serverID]
	c.mu.RUnlock()
	if !ok {
		return nil, &ErrServerNotFound{ID: serverID}
	}

	ctx, cancel := context.WithTimeout(ctx, srv.Timeout)
	defer cancel()

	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if attempt > 1 {
			c.logger.Debug("mcp retry", "server", serverID, "method", method, "attempt", attempt)
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, &ConnError{Server: serverID, Attempts: attempt - 1, Err: ctx.Err()}
			}
		}
		result, err := c.post(ctx, srv, body)
		if err == nil {
			return result, nil
		}
		var execErr *ExecError
		if errors.As(err, &execErr) {
			return nil, err
		}
		lastErr = err
	}
	return nil, &ConnError{Server: serverID, Attempts: c.retryAttempts, Err: lastErr}
}

func (c *Client) post(ctx context.Context, srv Server, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range srv.Headers {
		httpReq.Header.Set(k, v)
	}
	if srv.Token != "" {
		httpReq.Header.Set("Authorization", srv.Scheme+" "+srv.Token)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d: %s", httpResp.StatusCode, truncate(raw, 200))
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, &ExecError{
			Server:  srv.ID,
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
			Data:    resp.Error.Data,
		}
	}
	return resp.Result, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

// Initialize performs the MCP handshake with serverID, recording the
// server's advertised capabilities for SupportsCapability.
func (c *Client) Initialize(ctx context.Context, serverID string) error {
	result, err := c.Execute(ctx, serverID, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities: map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
			"samples":   map[string]any{},
		},
		ClientInfo: clientInfo{Name: "armada", Version: "1.0"},
	})
	if err != nil {
		return err
	}
	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return fmt.Errorf("decode initialize result: %w", err)
	}
	c.mu.Lock()
	c.caps[serverID] = init.Capabilities
	c.mu.Unlock()
	return nil
}

// SupportsCapability reports whether serverID advertised capability
// during Initialize.
func (c *Client) SupportsCapability(serverID, capability string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	caps, ok := c.caps[serverID]
	if !ok {
		return false
	}
	_, ok = caps[capability]
	return ok
}

// Ping checks liveness. Results are cached for one minute.
func (c *Client) Ping(ctx context.Context, serverID string) error {
	_, err := c.cached(ctx, serverID, "health", healthCacheTTL, func() (json.RawMessage, error) {
		return c.Execute(ctx, serverID, "ping", nil)
	})
	return err
}

// ListTools returns the server's tools/list result, cached for an
// hour.
func (c *Client) ListTools(ctx context.Context, serverID string) (json.RawMessage, error) {
	return c.cached(ctx, serverID, "tools", toolsCacheTTL, func() (json.RawMessage, error) {
		return c.Execute(ctx, serverID, "tools/list", nil)
	})
}

// CallTool invokes a named tool with arguments. Never cached.
func (c *Client) CallTool(ctx context.Context, serverID, name string, args map[string]any) (json.RawMessage, error) {
	return c.Execute(ctx, serverID, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
}

// ListResources returns the server's resources/list result, cached
// for thirty minutes.
func (c *Client) ListResources(ctx context.Context, serverID string) (json.RawMessage, error) {
	return c.cached(ctx, serverID, "resources", resourcesCacheTTL, func() (json.RawMessage, error) {
		return c.Execute(ctx, serverID, "resources/list", nil)
	})
}

// ReadResource reads one resource by URI. Never cached.
func (c *Client) ReadResource(ctx context.Context, serverID, uri string) (json.RawMessage, error) {
	return c.Execute(ctx, serverID, "resources/read", map[string]any{"uri": uri})
}

// ListPrompts returns the server's prompts/list result, cached like
// resources.
func (c *Client) ListPrompts(ctx context.Context, serverID string) (json.RawMessage, error) {
	return c.cached(ctx, serverID, "prompts", resourcesCacheTTL, func() (json.RawMessage, error) {
		return c.Execute(ctx, serverID, "prompts/list", nil)
	})
}

// GetPrompt fetches one prompt by name.
func (c *Client) GetPrompt(ctx context.Context, serverID, name string, args map[string]any) (json.RawMessage, error) {
	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	return c.Execute(ctx, serverID, "prompts/get", params)
}

// ListSamples returns the server's samples/list result, cached like
// resources.
func (c *Client) ListSamples(ctx context.Context, serverID string) (json.RawMessage, error) {
	return c.cached(ctx, serverID, "samples", resourcesCacheTTL, func() (json.RawMessage, error) {
		return c.Execute(ctx, serverID, "samples/list", nil)
	})
}

// GetSample fetches one sample by id.
func (c *Client) GetSample(ctx context.Context, serverID, id string) (json.RawMessage, error) {
	return c.Execute(ctx, serverID, "samples/get", map[string]any{"id": id})
}

// RefreshCache drops every cached capability listing for serverID.
func (c *Client) RefreshCache(serverID string) {
	prefix := serverID + "/"
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.cache {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.cache, k)
		}
	}
}

func (c *Client) cached(ctx context.Context, serverID, capability string, ttl time.Duration, fetch func() (json.RawMessage, error)) (json.RawMessage, error) {
	key := serverID + "/" + capability

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	value, err := fetch()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache[key] = cacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return value, nil
}
