// Package gemini implements armada.Provider for the Google Gemini
// generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	armada "github.com/armadahq/armada"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultTimeout = 60 * time.Second
)

// Provider is a Gemini provider. Safe for concurrent use.
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

// New creates a Gemini provider for model.
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

func (p *Provider) Name() string  { return "gemini" }
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

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Generate sends a single-turn generateContent request and returns the
// first candidate's text.
func (p *Provider) Generate(ctx context.Context, prompt string, opts armada.GenerateOptions) (string, error) {
	model := p.model
	if opts.Model != "" {
		model = opts.Model
	}
	genConfig := map[string]any{}
	if opts.Temperature > 0 {
		genConfig["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		genConfig["maxOutputTokens"] = opts.MaxTokens
	}
	body := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": prompt}}},
		},
		"generationConfig": genConfig,
	}
	for k, v := range opts.Extra {
		body[k] = v
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, model, url.QueryEscape(p.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", &armada.ErrRequestFailed{
			Provider:   "gemini",
			Status:     resp.StatusCode,
			Body:       string(raw),
			RetryAfter: armada.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}
	p.mu.Lock()
	p.lastUsage = armada.Usage{
		PromptTokens:     decoded.UsageMetadata.PromptTokenCount,
		CompletionTokens: decoded.UsageMetadata.CandidatesTokenCount,
	}
	p.hasUsage = true
	p.mu.Unlock()

	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini: response has no candidates")
	}
	return decoded.Candidates[0].Content.Parts[0].Text, nil
}

// Stream emits the whole response as a single chunk; the generateContent
// endpoint used here has no incremental wire format. ch is closed before
// returning.
func (p *Provider) Stream(ctx context.Context, prompt string, opts armada.GenerateOptions, ch chan<- string) (string, error) {
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

var _ armada.Provider = (*Provider)(nil)
