package llm

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ModelConfig declares a named chat model backend.
type ModelConfig struct {
	// Provider selects the adapter: "openai", "anthropic", or "google".
	// Any OpenAI-compatible endpoint is reached through "openai" plus BaseURL.
	Provider string `yaml:"provider"`

	// Model is the provider model identifier.
	Model string `yaml:"model"`

	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseUrl,omitempty"`

	// Temperature is the default sampling temperature; invocations may
	// override it per agent.
	Temperature *float64 `yaml:"temperature,omitempty"`

	MaxTokens int `yaml:"maxTokens,omitempty"`
}

// Factory builds and caches chat models. Instances are cached by
// (config name, effective temperature) and shared across concurrent
// invocations; derived views never touch the cache.
type Factory struct {
	mu      sync.Mutex
	configs map[string]ModelConfig
	cache   map[string]ChatModel
	logger  *slog.Logger
}

// NewFactory creates a factory over the declared model configs.
func NewFactory(configs map[string]ModelConfig, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		configs: configs,
		cache:   make(map[string]ChatModel),
		logger:  logger.With("component", "llm"),
	}
}

// Model returns the chat model for the named config, with an optional
// temperature override.
func (f *Factory) Model(name string, temperature *float64) (ChatModel, error) {
	cfg, ok := f.configs[name]
	if !ok {
		return nil, fmt.Errorf("llm: unknown model config %q", name)
	}

	effective := cfg.Temperature
	if temperature != nil {
		effective = temperature
	}
	key := cacheKey(name, effective)

	f.mu.Lock()
	defer f.mu.Unlock()
	if model, ok := f.cache[key]; ok {
		return model, nil
	}

	cfg.Temperature = effective
	model, err := f.build(name, cfg)
	if err != nil {
		return nil, err
	}
	f.cache[key] = model
	f.logger.Debug("chat model created", "config", name, "provider", cfg.Provider, "model", cfg.Model)
	return model, nil
}

func (f *Factory) build(name string, cfg ModelConfig) (ChatModel, error) {
	switch cfg.Provider {
	case "openai", "openai-compatible", "":
		return NewOpenAIModel(cfg), nil
	case "anthropic":
		return NewAnthropicModel(cfg), nil
	case "google", "gemini":
		return NewGoogleModel(cfg)
	default:
		return nil, fmt.Errorf("llm: config %q: unsupported provider %q", name, cfg.Provider)
	}
}

func cacheKey(name string, temperature *float64) string {
	if temperature == nil {
		return name
	}
	return fmt.Sprintf("%s|%.4f", name, *temperature)
}

// Retry configuration shared by the adapters.
const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	defaultMaxTokens  = 4096
)
