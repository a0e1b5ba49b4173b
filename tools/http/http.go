// Package http provides the built-in "http" tool: issue an HTTP
// request and return status, headers, and body, optionally reduced to
// readable article text.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	armada "github.com/armadahq/armada"
	"github.com/armadahq/armada/ingest"
)

const maxContent = 8000

// Tool issues HTTP requests and extracts readable content.
type Tool struct {
	client *http.Client
}

var _ armada.Tool = (*Tool)(nil)

// Option configures the tool.
type Option func(*Tool)

// WithClient overrides the HTTP client (default 15-second timeout).
func WithClient(c *http.Client) Option {
	return func(t *Tool) { t.client = c }
}

// New creates the http tool.
func New(opts ...Option) *Tool {
	t := &Tool{client: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tool) Name() string { return "http" }

func (t *Tool) Description() string {
	return "Issue an HTTP request and return status, headers, and content. GET responses are reduced to readable text unless raw is set."
}

func (t *Tool) Schema() map[string]armada.Field {
	return map[string]armada.Field{
		"url": {Required: true, Type: "string", MaxLength: 2048},
		// method defaults to GET.
		"method": {Type: "string", MaxLength: 8},
		// headers is a JSON object of request headers.
		"headers": {Type: "string", MaxLength: 4096},
		"body":    {Type: "string", MaxLength: 65536},
		// raw skips readability extraction and returns the body as-is.
		"raw": {Type: "boolean"},
	}
}

func (t *Tool) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	rawURL, _ := input["url"].(string)
	method, _ := input["method"].(string)
	if method == "" {
		method = http.MethodGet
	} else {
		method = strings.ToUpper(method)
	}
	raw, _ := input["raw"].(bool)

	var headers map[string]string
	if encoded, _ := input["headers"].(string); encoded != "" {
		if err := json.Unmarshal([]byte(encoded), &headers); err != nil {
			return nil, fmt.Errorf("headers is not a JSON object: %w", err)
		}
	}

	var reqBody io.Reader
	if body, _ := input["body"].(string); body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ArmadaBot/1.0)")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}

	content := string(data)
	if !raw && method == http.MethodGet {
		content = extract(rawURL, content)
	}
	if len(content) > maxContent {
		content = content[:maxContent] + "\n... (truncated)"
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}
	return map[string]any{
		"url":     rawURL,
		"status":  resp.StatusCode,
		"headers": respHeaders,
		"content": content,
	}, nil
}

// extract reduces an HTML page to its readable article text, falling
// back to plain tag stripping.
func extract(rawURL, html string) string {
	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil && article.TextContent != "" {
		return strings.TrimSpace(article.TextContent)
	}
	return ingest.StripHTML(html)
}
