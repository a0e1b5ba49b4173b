// Package openaicompat implements armada.Provider for any backend that
// speaks the OpenAI API: OpenAI itself, Grok, DeepSeek, OpenRouter, vLLM,
// and the rest of the compatible ecosystem. Chat, legacy completion, and
// embedding modes are supported.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	armada "github.com/armadahq/armada"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 60 * time.Second
)

// grokSystemMessage is the fixed system prompt sent with every Grok
// chat request.
const grokSystemMessage = "You are Grok, a highly intelligent, helpful AI assistant."

// Provider is an OpenAI-compatible provider. Safe for concurrent use.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	name    string
	system  string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	mode      armada.Mode
	lastUsage armada.Usage
	hasUsage  bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL points the provider at a non-default API base, e.g.
// "https://api.x.ai/v1" or "http://localhost:8000/v1".
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithName overrides the provider name used in errors and usage rows.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithTimeout sets the per-request timeout (default: 60s).
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// WithSystemMessage prepends a fixed system message to every chat
// request. Completion and embedding requests are unaffected.
func WithSystemMessage(msg string) Option {
	return func(p *Provider) { p.system = msg }
}

// WithMode sets the starting mode (default: chat).
func WithMode(m armada.Mode) Option {
	return func(p *Provider) { p.mode = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New creates an OpenAI provider for model.
func New(apiKey, model string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		name:    "openai",
		timeout: defaultTimeout,
		mode:    armada.ModeChat,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = &http.Client{Timeout: p.timeout}
	}
	return p
}

// NewGrok creates a provider against the xAI Grok endpoint. Every chat
// request carries Grok's fixed system message.
func NewGrok(apiKey, model string, opts ...Option) *Provider {
	base := []Option{
		WithBaseURL("https://api.x.ai/v1"),
		WithName("grok"),
		WithSystemMessage(grokSystemMessage),
	}
	return New(apiKey, model, append(base, opts...)...)
}

// NewDeepSeek creates a provider against the DeepSeek endpoint.
func NewDeepSeek(apiKey, model string, opts ...Option) *Provider {
	base := []Option{WithBaseURL("https://api.deepseek.com/v1"), WithName("deepseek")}
	return New(apiKey, model, append(base, opts...)...)
}

func (p *Provider) Name() string  { return p.name }
func (p *Provider) Model() string { return p.model }

// Modes lists the supported modes.
func (p *Provider) Modes() []armada.Mode {
	return []armada.Mode{armada.ModeChat, armada.ModeCompletion, armada.ModeEmbedding}
}

// SupportsMode reports whether m is one of the provider's modes.
func (p *Provider) SupportsMode(m armada.Mode) bool {
	return armada.SupportsMode(p.Modes(), m)
}

// SetMode switches the active mode. Unsupported modes error.
func (p *Provider) SetMode(m armada.Mode) error {
	if !p.SupportsMode(m) {
		return &armada.ErrInput{Field: "mode", Reason: "unsupported mode " + string(m)}
	}
	p.mu.Lock()
	p.mode = m
	p.mu.Unlock()
	return nil
}

func (p *Provider) activeMode() armada.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// LastUsage returns the token usage of the most recent call.
func (p *Provider) LastUsage() (armada.Usage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUsage, p.hasUsage
}

func (p *Provider) recordUsage(u usagePayload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastUsage = armada.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
	}
	p.hasUsage = true
}

// Generate sends a single prompt and returns the extracted text. In
// embedding mode Generate is unavailable; use Embed.
func (p *Provider) Generate(ctx context.Context, prompt string, opts armada.GenerateOptions) (string, error) {
	switch p.activeMode() {
	case armada.ModeCompletion:
		return p.generateCompletion(ctx, prompt, opts)
	case armada.ModeEmbedding:
		return "", &armada.ErrInput{Field: "mode", Reason: "embedding mode cannot generate text"}
	default:
		return p.generateChat(ctx, prompt, opts)
	}
}

func (p *Provider) generateChat(ctx context.Context, prompt string, opts armada.GenerateOptions) (string, error) {
	body := p.chatBody(prompt, opts, false)
	raw, err := p.post(ctx, "/chat/completions", body)
	if err != nil {
		return "", err
	}
	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if resp.Usage != nil {
		p.recordUsage(*resp.Usage)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: response has no choices", p.name)
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *Provider) generateCompletion(ctx context.Context, prompt string, opts armada.GenerateOptions) (string, error) {
	body := map[string]any{
		"model":       p.resolveModel(opts),
		"prompt":      prompt,
		"max_tokens":  opts.MaxTokens,
		"temperature": opts.Temperature,
	}
	for k, v := range opts.Extra {
		body[k] = v
	}
	raw, err := p.post(ctx, "/completions", body)
	if err != nil {
		return "", err
	}
	var resp completionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if resp.Usage != nil {
		p.recordUsage(*resp.Usage)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: response has no choices", p.name)
	}
	return resp.Choices[0].Text, nil
}

// Embed returns the embedding vector for input.
func (p *Provider) Embed(ctx context.Context, input string) ([]float32, error) {
	body := map[string]any{
		"model": p.model,
		"input": input,
	}
	raw, err := p.post(ctx, "/embeddings", body)
	if err != nil {
		return nil, err
	}
	var resp embeddingResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if resp.Usage != nil {
		p.recordUsage(*resp.Usage)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%s: response has no embedding data", p.name)
	}
	return resp.Data[0].Embedding, nil
}

// Stream streams the response into ch and returns the accumulated text.
// Chat mode streams SSE deltas; completion mode falls back to a single
// whole-response chunk. ch is closed before returning.
func (p *Provider) Stream(ctx context.Context, prompt string, opts armada.GenerateOptions, ch chan<- string) (string, error) {
	if p.activeMode() != armada.ModeChat {
		return singleChunkFallback(ctx, p, prompt, opts, ch)
	}

	body := p.chatBody(prompt, opts, true)
	payload, err := json.Marshal(body)
	if err != nil {
		close(ch)
		return "", fmt.Errorf("%s: marshal request: %w", p.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		close(ch)
		return "", fmt.Errorf("%s: create request: %w", p.name, err)
	}
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		close(ch)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		return "", p.httpErr(resp)
	}

	content, usage, err := streamSSE(ctx, resp.Body, ch)
	if usage != nil {
		p.recordUsage(*usage)
	}
	return content, err
}

// singleChunkFallback runs Generate and emits the whole response as one
// chunk. Used by modes without a streaming wire format.
func singleChunkFallback(ctx context.Context, p armada.Provider, prompt string, opts armada.GenerateOptions, ch chan<- string) (string, error) {
	content, err := p.Generate(ctx, prompt, opts)
	if err != nil {
		close(ch)
		return "", err
	}
	select {
	case ch <- content:
	case <-ctx.Done():
		close(ch)
		return "", ctx.Err()
	}
	close(ch)
	return content, nil
}

func (p *Provider) resolveModel(opts armada.GenerateOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	return p.model
}

func (p *Provider) chatBody(prompt string, opts armada.GenerateOptions, stream bool) map[string]any {
	var messages []map[string]string
	if p.system != "" {
		messages = append(messages, map[string]string{"role": "system", "content": p.system})
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt})
	body := map[string]any{
		"model":       p.resolveModel(opts),
		"messages":    messages,
		"max_tokens":  opts.MaxTokens,
		"temperature": opts.Temperature,
	}
	if stream {
		body["stream"] = true
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	for k, v := range opts.Extra {
		body[k] = v
	}
	return body
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// post sends body to path and returns the raw response bytes, mapping
// non-2xx statuses to *armada.ErrRequestFailed.
func (p *Provider) post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, p.httpErr(resp)
	}
	return io.ReadAll(resp.Body)
}

// httpErr reads the response body into an ErrRequestFailed so the retry
// middleware can match transient statuses.
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &armada.ErrRequestFailed{
		Provider:   p.name,
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: armada.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// Compile-time interface checks.
var (
	_ armada.Provider          = (*Provider)(nil)
	_ armada.EmbeddingProvider = (*Provider)(nil)
)
