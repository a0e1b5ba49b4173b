// Package resolve maps string driver names to provider constructors, so
// configuration files can select a backend without importing provider
// packages directly.
package resolve

import (
	"sync"

	armada "github.com/armadahq/armada"
	"github.com/armadahq/armada/provider/anthropic"
	"github.com/armadahq/armada/provider/gemini"
	"github.com/armadahq/armada/provider/ollama"
	"github.com/armadahq/armada/provider/openaicompat"
)

// Credentials is the provider configuration a driver is resolved from.
type Credentials struct {
	// Driver selects the backend: openai, openai-completion, grok,
	// deepseek, anthropic, ollama, gemini.
	Driver string
	APIKey string
	Model  string
	// BaseURL overrides the backend endpoint. For ollama this is the
	// host.
	BaseURL string
}

// Constructor builds a provider from credentials.
type Constructor func(c Credentials) (armada.Provider, error)

var (
	mu      sync.RWMutex
	drivers = map[string]Constructor{
		"openai": func(c Credentials) (armada.Provider, error) {
			return openaicompat.New(c.APIKey, c.Model, baseURLOpt(c)...), nil
		},
		"openai-completion": func(c Credentials) (armada.Provider, error) {
			opts := append(baseURLOpt(c), openaicompat.WithMode(armada.ModeCompletion))
			return openaicompat.New(c.APIKey, c.Model, opts...), nil
		},
		"grok": func(c Credentials) (armada.Provider, error) {
			return openaicompat.NewGrok(c.APIKey, c.Model, baseURLOpt(c)...), nil
		},
		"deepseek": func(c Credentials) (armada.Provider, error) {
			return openaicompat.NewDeepSeek(c.APIKey, c.Model, baseURLOpt(c)...), nil
		},
		"anthropic": func(c Credentials) (armada.Provider, error) {
			var opts []anthropic.Option
			if c.BaseURL != "" {
				opts = append(opts, anthropic.WithBaseURL(c.BaseURL))
			}
			return anthropic.New(c.APIKey, c.Model, opts...), nil
		},
		"ollama": func(c Credentials) (armada.Provider, error) {
			var opts []ollama.Option
			if c.BaseURL != "" {
				opts = append(opts, ollama.WithHost(c.BaseURL))
			}
			return ollama.New(c.Model, opts...), nil
		},
		"gemini": func(c Credentials) (armada.Provider, error) {
			var opts []gemini.Option
			if c.BaseURL != "" {
				opts = append(opts, gemini.WithBaseURL(c.BaseURL))
			}
			return gemini.New(c.APIKey, c.Model, opts...), nil
		},
	}
)

func baseURLOpt(c Credentials) []openaicompat.Option {
	if c.BaseURL == "" {
		return nil
	}
	return []openaicompat.Option{openaicompat.WithBaseURL(c.BaseURL)}
}

// Register adds or replaces a driver constructor. Register custom
// backends before resolving.
func Register(driver string, fn Constructor) {
	mu.Lock()
	defer mu.Unlock()
	drivers[driver] = fn
}

// Drivers returns the registered driver names.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(drivers))
	for name := range drivers {
		out = append(out, name)
	}
	return out
}

// Provider resolves credentials to a constructed provider. Unknown
// drivers fail with *armada.ErrProviderNotConfigured.
func Provider(c Credentials) (armada.Provider, error) {
	mu.RLock()
	fn, ok := drivers[c.Driver]
	mu.RUnlock()
	if !ok {
		return nil, &armada.ErrProviderNotConfigured{Driver: c.Driver}
	}
	return fn(c)
}
