// Package llm is the gateway to the external decision oracle. A Client
// turns an actor snapshot plus a perception into a proposed action; backends
// are selected by actor configuration, never by code path. Calls are slow,
// unreliable and external: everything here is cancellable and
// timeout-bounded.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scrai/internal/schema"
)

var (
	// ErrTimeout reports that the caller-supplied deadline elapsed before
	// the oracle answered.
	ErrTimeout = errors.New("oracle decision timed out")
	// ErrUnavailable reports that the oracle could not be reached after
	// retries were exhausted.
	ErrUnavailable = errors.New("oracle unavailable")
	// ErrBadResponse reports a reply that could not be parsed into an
	// action.
	ErrBadResponse = errors.New("oracle returned an unusable response")
	// errTransient tags failures worth retrying (connection errors, 429,
	// 5xx). Wrapped, never returned bare.
	errTransient = errors.New("transient oracle failure")
)

// DecisionRequest carries everything the oracle needs to pick an action.
type DecisionRequest struct {
	ActorName        string
	ActorDescription string
	Status           string
	Goals            []string
	Memory           []string
	Emotions         map[string]float64
	Perception       string
	AvailableActions []string
}

// Decision is the oracle's proposed action: a kind plus a parameter bag.
type Decision struct {
	Kind   string
	Params schema.Bag
}

// Client is implemented once per provider.
type Client interface {
	// Decide blocks until the oracle answers, the context is cancelled,
	// or its deadline passes.
	Decide(ctx context.Context, req DecisionRequest) (Decision, error)
	// Available reports whether the client is configured well enough to
	// attempt a request.
	Available() bool
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`

	// Retry policy for transient failures.
	MaxAttempts int           `yaml:"max_attempts"`
	RetryBase   time.Duration `yaml:"retry_base"`
}

// DefaultConfig matches the original prototype's OpenRouter setup.
func DefaultConfig() Config {
	return Config{
		Provider:    "openrouter",
		Model:       "meta-llama/llama-4-maverick:free",
		BaseURL:     "https://openrouter.ai/api/v1",
		Temperature: 0.7,
		MaxTokens:   500,
		Timeout:     30 * time.Second,
		MaxAttempts: 3,
		RetryBase:   500 * time.Millisecond,
	}
}

// FromSettings merges per-actor provider settings over the defaults.
func FromSettings(s schema.ProviderSettings, base Config) Config {
	cfg := base
	if s.Provider != "" {
		cfg.Provider = s.Provider
	}
	if s.Model != "" {
		cfg.Model = s.Model
	}
	if s.BaseURL != "" {
		cfg.BaseURL = s.BaseURL
	}
	if s.Temperature != 0 {
		cfg.Temperature = s.Temperature
	}
	if s.MaxTokens != 0 {
		cfg.MaxTokens = s.MaxTokens
	}
	if s.Timeout != 0 {
		cfg.Timeout = s.Timeout
	}
	return cfg
}

// New builds a client for the configured provider, wrapped with the retry
// policy. Unknown providers are an error at construction time so a
// misconfigured actor fails at load, not mid-round.
func New(cfg Config) (Client, error) {
	var inner Client
	switch cfg.Provider {
	case "openrouter":
		inner = newChatClient(cfg, openRouterHeaders)
	case "lmstudio":
		// LM Studio speaks the same chat-completions dialect on a local
		// port; only the base URL and headers differ.
		if cfg.BaseURL == "" || cfg.BaseURL == DefaultConfig().BaseURL {
			cfg.BaseURL = "http://localhost:1234/v1"
		}
		inner = newChatClient(cfg, nil)
	case "mock":
		inner = NewMock()
	case "":
		return nil, fmt.Errorf("llm: empty provider")
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
	return WithRetry(inner, cfg.MaxAttempts, cfg.RetryBase), nil
}
