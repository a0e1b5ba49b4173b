// Package ollama implements armada.Provider for a local Ollama server.
package ollama

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
	defaultHost    = "http://localhost:11434"
	defaultTimeout = 60 * time.Second
)

// Provider is an Ollama provider. Safe for concurrent use.
type Provider struct {
	host    string
	model   string
	client  *http.Client
	timeout time.Duration

	mu        sync.Mutex
	lastUsage armada.Usage
	hasUsage  bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithHost points the provider at a non-default Ollama host.
func WithHost(host string) Option {
	return func(p *Provider) { p.host = host }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithTimeout sets the per-request timeout (default: 60s).
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.timeout = d }
}

// New creates an Ollama provider for model.
func New(model string, opts ...Option) *Provider {
	p := &Provider{
		host:    defaultHost,
		model:   model,
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

func (p *Provider) Name() string  { return "ollama" }
func (p *Provider) Model() string { return p.model }

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

func (p *Provider) recordUsage(prompt, completion int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastUsage = armada.Usage{PromptTokens: prompt, CompletionTokens: completion}
	p.hasUsage = true
}

// generateChunk is one line of the /api/generate response. Non-streaming
// calls return a single chunk with Done set.
type generateChunk struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Generate sends a prompt and returns the whole response.
func (p *Provider) Generate(ctx context.Context, prompt string, opts armada.GenerateOptions) (string, error) {
	resp, err := p.send(ctx, p.body(prompt, opts, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", p.httpErr(resp)
	}

	var chunk generateChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	p.recordUsage(chunk.PromptEvalCount, chunk.EvalCount)
	return chunk.Response, nil
}

// Stream reads the JSON-per-line stream, forwarding each fragment into ch
// until the chunk with done=true. ch is closed before returning.
func (p *Provider) Stream(ctx context.Context, prompt string, opts armada.GenerateOptions, ch chan<- string) (string, error) {
	resp, err := p.send(ctx, p.body(prompt, opts, true))
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
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Response != "" {
			content.WriteString(chunk.Response)
			select {
			case ch <- chunk.Response:
			case <-ctx.Done():
				return content.String(), ctx.Err()
			}
		}
		if chunk.Done {
			p.recordUsage(chunk.PromptEvalCount, chunk.EvalCount)
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return content.String(), err
	}
	return content.String(), nil
}

func (p *Provider) body(prompt string, opts armada.GenerateOptions, stream bool) map[string]any {
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}
	options := map[string]any{}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	body := map[string]any{
		"model":   model,
		"prompt":  prompt,
		"stream":  stream,
		"options": options,
	}
	for k, v := range opts.Extra {
		body[k] = v
	}
	return body
}

func (p *Provider) send(ctx context.Context, body map[string]any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return p.client.Do(req)
}

func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &armada.ErrRequestFailed{
		Provider: "ollama",
		Status:   resp.StatusCode,
		Body:     string(body),
	}
}

var _ armada.Provider = (*Provider)(nil)
