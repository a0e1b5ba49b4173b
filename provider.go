package armada

import "context"

// Mode is a provider request mode. A provider declares the modes it
// supports; the request endpoint and payload shape are a function of mode.
type Mode string

const (
	ModeChat       Mode = "chat"
	ModeCompletion Mode = "completion"
	ModeEmbedding  Mode = "embedding"
)

// GenerateOptions carries per-request generation parameters. The zero
// value means "provider defaults".
type GenerateOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// Extra passes dialect-specific fields through to the request payload.
	Extra map[string]any
}

// Usage is the token accounting reported by a provider for one request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt + completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Provider abstracts one LLM backend dialect.
//
// Stream sends chunks into ch as they arrive and closes ch when the
// stream ends; it returns the full accumulated text. Providers without
// native streaming emit a single chunk equal to the whole response.
type Provider interface {
	// Generate sends a request and returns the complete response text.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	// Stream sends a request with streaming enabled, forwarding each
	// incremental chunk into ch. ch is closed when streaming completes.
	Stream(ctx context.Context, prompt string, opts GenerateOptions, ch chan<- string) (string, error)
	// Name returns the provider name (e.g. "openai", "anthropic").
	Name() string
	// Model returns the model in effect for this provider instance.
	Model() string
	// Modes returns the supported request modes.
	Modes() []Mode
	// SetMode switches the request mode. Returns an error for modes the
	// provider does not support; SupportsMode is the authoritative check.
	SetMode(Mode) error
	// SupportsMode reports whether m is in Modes().
	SupportsMode(m Mode) bool
	// LastUsage returns the token usage of the most recent request, and
	// whether the backend reported any.
	LastUsage() (Usage, bool)
}

// EmbeddingProvider is an optional capability for providers that can
// produce embedding vectors. Check via type assertion.
type EmbeddingProvider interface {
	Embed(ctx context.Context, input string) ([]float32, error)
}

// SupportsMode is a helper for implementations: reports whether m is in modes.
func SupportsMode(modes []Mode, m Mode) bool {
	for _, have := range modes {
		if have == m {
			return true
		}
	}
	return false
}
