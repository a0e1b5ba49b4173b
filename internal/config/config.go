// Package config loads armada configuration: defaults, then an
// optional armada.toml, then ARMADA_* env vars (env wins).
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Provider  ProviderConfig  `toml:"provider"`
	Providers ProviderKeys    `toml:"providers"`
	Memory    MemoryConfig    `toml:"memory"`
	Usage     UsageConfig     `toml:"usage"`
	Crew      CrewConfig      `toml:"crew"`
	Flow      FlowConfig      `toml:"flow"`
	Streaming StreamingConfig `toml:"streaming"`
	Queue     QueueConfig     `toml:"queue"`
	MCP       MCPConfig       `toml:"mcp"`
	Observer  ObserverConfig  `toml:"observer"`
	Log       LogConfig       `toml:"log"`
}

// ProviderConfig selects the default provider.
type ProviderConfig struct {
	Driver  string `toml:"driver"`
	Model   string `toml:"model"`
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
}

// ProviderKeys holds per-provider API keys for the resolver.
type ProviderKeys struct {
	OpenAI    string `toml:"openai_api_key"`
	Anthropic string `toml:"anthropic_api_key"`
	Gemini    string `toml:"gemini_api_key"`
	Grok      string `toml:"grok_api_key"`
	DeepSeek  string `toml:"deepseek_api_key"`
	// OllamaHost is the Ollama endpoint; no key needed.
	OllamaHost string `toml:"ollama_host"`
}

type MemoryConfig struct {
	Path string `toml:"path"`
	// PostgresURL switches the durable store to PostgreSQL when set.
	PostgresURL string `toml:"postgres_url"`
	// CacheTTLSeconds is the in-process cache TTL; 0 disables caching.
	CacheTTLSeconds        int `toml:"cache_ttl_seconds"`
	CleanupIntervalSeconds int `toml:"cleanup_interval_seconds"`
}

type UsageConfig struct {
	Path    string                   `toml:"path"`
	Pricing map[string]PricingConfig `toml:"pricing"`
}

type PricingConfig struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

type CrewConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
	MaxRetries     int `toml:"max_retries"`
	MaxParallel    int `toml:"max_parallel"`
}

type FlowConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
	MaxSteps       int `toml:"max_steps"`
}

type StreamingConfig struct {
	Enabled        bool `toml:"enabled"`
	BufferSize     int  `toml:"buffer_size"`
	ChunkSize      int  `toml:"chunk_size"`
	TimeoutSeconds int  `toml:"timeout_seconds"`
	ChunkDelayMS   int  `toml:"chunk_delay_ms"`
}

type QueueConfig struct {
	Enabled         bool `toml:"enabled"`
	IntervalSeconds int  `toml:"interval_seconds"`
	BatchSize       int  `toml:"batch_size"`
}

type MCPConfig struct {
	Enabled bool              `toml:"enabled"`
	Servers []MCPServerConfig `toml:"servers"`
}

// MCPServerConfig configures one MCP endpoint. Each field can be
// overridden per server via ARMADA_MCP_<ID>_{URL,TOKEN,TIMEOUT,ENABLED},
// where <ID> is the server id uppercased with non-alphanumerics mapped
// to underscores.
type MCPServerConfig struct {
	ID             string            `toml:"id"`
	Name           string            `toml:"name"`
	URL            string            `toml:"url"`
	Token          string            `toml:"token"`
	Scheme         string            `toml:"scheme"`
	Headers        map[string]string `toml:"headers"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	Enabled        bool              `toml:"enabled"`
}

type ObserverConfig struct {
	Enabled bool                     `toml:"enabled"`
	Pricing map[string]PricingConfig `toml:"pricing"`
}

type LogConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Provider: ProviderConfig{Driver: "openai", Model: "gpt-4o-mini"},
		Memory: MemoryConfig{
			Path:                   "armada.db",
			CacheTTLSeconds:        300,
			CleanupIntervalSeconds: 3600,
		},
		Usage:     UsageConfig{Path: "armada.db"},
		Crew:      CrewConfig{TimeoutSeconds: 60, MaxRetries: 3, MaxParallel: 5},
		Flow:      FlowConfig{TimeoutSeconds: 600, MaxSteps: 50},
		Streaming: StreamingConfig{Enabled: true, BufferSize: 10, TimeoutSeconds: 60},
		Queue:     QueueConfig{IntervalSeconds: 5, BatchSize: 10},
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "armada.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("ARMADA_PROVIDER", &cfg.Provider.Driver)
	envStr("ARMADA_MODEL", &cfg.Provider.Model)
	envStr("ARMADA_API_KEY", &cfg.Provider.APIKey)
	envStr("ARMADA_OPENAI_API_KEY", &cfg.Providers.OpenAI)
	envStr("ARMADA_ANTHROPIC_API_KEY", &cfg.Providers.Anthropic)
	envStr("ARMADA_GEMINI_API_KEY", &cfg.Providers.Gemini)
	envStr("ARMADA_GROK_API_KEY", &cfg.Providers.Grok)
	envStr("ARMADA_DEEPSEEK_API_KEY", &cfg.Providers.DeepSeek)
	envStr("ARMADA_OLLAMA_HOST", &cfg.Providers.OllamaHost)
	envStr("ARMADA_MEMORY_PATH", &cfg.Memory.Path)
	envStr("ARMADA_POSTGRES_URL", &cfg.Memory.PostgresURL)
	envStr("ARMADA_LOG_LEVEL", &cfg.Log.Level)

	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envInt("ARMADA_MEMORY_CACHE_TTL", &cfg.Memory.CacheTTLSeconds)
	envInt("ARMADA_MEMORY_CLEANUP_INTERVAL", &cfg.Memory.CleanupIntervalSeconds)
	envInt("ARMADA_STREAM_BUFFER_SIZE", &cfg.Streaming.BufferSize)
	envInt("ARMADA_STREAM_CHUNK_SIZE", &cfg.Streaming.ChunkSize)
	envInt("ARMADA_STREAM_TIMEOUT", &cfg.Streaming.TimeoutSeconds)
	envInt("ARMADA_STREAM_CHUNK_DELAY", &cfg.Streaming.ChunkDelayMS)

	envBool := func(key string, dst *bool) {
		switch os.Getenv(key) {
		case "true", "1":
			*dst = true
		case "false", "0":
			*dst = false
		}
	}
	envBool("ARMADA_STREAMING_ENABLED", &cfg.Streaming.Enabled)
	envBool("ARMADA_QUEUE_ENABLED", &cfg.Queue.Enabled)
	envBool("ARMADA_MCP_ENABLED", &cfg.MCP.Enabled)
	envBool("ARMADA_OBSERVER_ENABLED", &cfg.Observer.Enabled)
	envBool("ARMADA_LOG_ENABLED", &cfg.Log.Enabled)

	for i := range cfg.MCP.Servers {
		prefix := "ARMADA_MCP_" + envKey(cfg.MCP.Servers[i].ID) + "_"
		envStr(prefix+"URL", &cfg.MCP.Servers[i].URL)
		envStr(prefix+"TOKEN", &cfg.MCP.Servers[i].Token)
		envInt(prefix+"TIMEOUT", &cfg.MCP.Servers[i].TimeoutSeconds)
		envBool(prefix+"ENABLED", &cfg.MCP.Servers[i].Enabled)
	}

	// Fallback: the default provider's key fills from the per-provider
	// table when unset.
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = cfg.APIKeyFor(cfg.Provider.Driver)
	}
	return cfg
}

// envKey maps a server id to its env var fragment: uppercased, with
// non-alphanumerics replaced by underscores.
func envKey(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			return r
		default:
			return '_'
		}
	}, id)
}

// APIKeyFor returns the configured API key for a driver name, or the
// default provider key when the driver matches the default.
func (c Config) APIKeyFor(driver string) string {
	if driver == c.Provider.Driver && c.Provider.APIKey != "" {
		return c.Provider.APIKey
	}
	switch driver {
	case "openai", "openai-completion":
		return c.Providers.OpenAI
	case "anthropic":
		return c.Providers.Anthropic
	case "gemini":
		return c.Providers.Gemini
	case "grok":
		return c.Providers.Grok
	case "deepseek":
		return c.Providers.DeepSeek
	}
	return ""
}
