// Package anthropic implements armada.Provider for the Anthropic Messages
// API.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	armada "github.com/armadahq/armada"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	defaultTimeout = 60 * time.Second
)

// Provider is an Anthropic chat provider. Safe for concurrent use.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	timeout time.Duration

	mu        sync.Mutex
	lastUsage armada.Usage
	hasUsage  bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base, for proxies and tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithTimeout sets the per-request timeout (default: 60s).
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// New creates an Anthropic provider for model.
func New(apiKey, model string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: p.timeout}
	}
	return p
}

func (p *Provider) Name() string  { return "anthropic" }
func (p *Provider) Model() string { return p.model }

// Modes lists the supported modes; Anthropic is chat-only.
func (p *Provider) Modes() []armada.Mode { return []armada.Mode{armada.ModeChat} }

func (p *Provider) SupportsMode(m armada.Mode) bool { return m == armada.ModeChat }

func (p *Provider) SetMode(m armada.Mode) error {
	if m != armada.ModeChat {
		return &armada.ErrInput{Field: "mode", Reason: "unsupported mode " + string(m)}
	}
	return nil
}

// LastUsage returns the token usage of the most recent call.
func (p *Provider) LastUsage() (armada.Usage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUsage, p.hasUsage
}

func (p *Provider) recordUsage(in, out int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastUsage = armada.Usage{PromptTokens: in, CompletionTokens: out}
	p.hasUsage = true
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate sends a single-turn message and returns the response text.
func (p *Provider) Generate(ctx context.Context, prompt string, opts armada.GenerateOptions) (string, error) {
	raw, err := p.post(ctx, p.body(prompt, opts, false))
	if err != nil {
		return "", err
	}
	var resp messagesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("anthropic: decode response: %w", err)
	}
	p.recordUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("anthropic: response has no content blocks")
	}
	return resp.Content[0].Text, nil
}

// streamEvent covers the SSE event payloads we care about:
// content_block_delta carries text, message_start and message_delta carry
// usage.
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Stream streams text deltas into ch and returns the accumulated text.
// ch is closed before returning.
func (p *Provider) Stream(ctx context.Context, prompt string, opts armada.GenerateOptions, ch chan<- string) (string, error) {
	body := p.body(prompt, opts, true)
	resp, err := p.send(ctx, body)
	if err != nil {
		close(ch)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		return "", p.httpErr(resp)
	}

	defer close(ch)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var content strings.Builder
	var inputTokens, outputTokens int
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "message_start":
			inputTokens = ev.Message.Usage.InputTokens
		case "content_block_delta":
			if ev.Delta.Text != "" {
				content.WriteString(ev.Delta.Text)
				select {
				case ch <- ev.Delta.Text:
				case <-ctx.Done():
					return content.String(), ctx.Err()
				}
			}
		case "message_delta":
			outputTokens = ev.Usage.OutputTokens
		}
	}
	if err := scanner.Err(); err != nil {
		return content.String(), err
	}
	p.recordUsage(inputTokens, outputTokens)
	return content.String(), nil
}

func (p *Provider) body(prompt string, opts armada.GenerateOptions, stream bool) map[string]any {
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   []map[string]string{{"role": "user", "content": prompt}},
	}
	if opts.Temperature > 0 {
		body["temperature"] = opts.Temperature
	}
	if stream {
		body["stream"] = true
	}
	for k, v := range opts.Extra {
		body[k] = v
	}
	return body
}

func (p *Provider) send(ctx context.Context, body map[string]any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	return p.client.Do(req)
}

func (p *Provider) post(ctx context.Context, body map[string]any) ([]byte, error) {
	resp, err := p.send(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, p.httpErr(resp)
	}
	return io.ReadAll(resp.Body)
}

func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &armada.ErrRequestFailed{
		Provider:   "anthropic",
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: armada.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

var _ armada.Provider = (*Provider)(nil)
