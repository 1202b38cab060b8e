package embedder

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables read by NewFromEnv.
const (
	EnvProvider         = "SUTCONTEXT_EMBEDDING_PROVIDER"
	EnvJinaAPIKey       = "JINA_API_KEY"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvOpenRouterAPIKey = "OPENROUTER_API_KEY"
	EnvOpenRouterURL    = "OPENROUTER_BASE_URL"
	EnvModel            = "EMBEDDING_MODEL"
	EnvDimension        = "EMBEDDING_DIMENSION"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
}

// ConfigFromEnv reads the embedder configuration from the environment.
// Provider selection priority:
// 1. SUTCONTEXT_EMBEDDING_PROVIDER (jina, openai, openrouter, local)
// 2. The first API key present: OPENAI_API_KEY, OPENROUTER_API_KEY, JINA_API_KEY
// 3. local
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Provider: DetectProvider(),
		Model:    os.Getenv(EnvModel),
	}

	if raw := os.Getenv(EnvDimension); raw != "" {
		dim, err := strconv.Atoi(raw)
		if err != nil || dim <= 0 {
			return Config{}, fmt.Errorf("%w: %s must be a positive integer, got %q", ErrInvalidInput, EnvDimension, raw)
		}
		cfg.Dimension = dim
	}

	switch cfg.Provider {
	case ProviderJina:
		cfg.APIKey = os.Getenv(EnvJinaAPIKey)
	case ProviderOpenAI:
		cfg.APIKey = os.Getenv(EnvOpenAIAPIKey)
	case ProviderOpenRouter:
		cfg.APIKey = os.Getenv(EnvOpenRouterAPIKey)
		cfg.BaseURL = os.Getenv(EnvOpenRouterURL)
	}

	return cfg, nil
}

// NewFromEnv creates an embedder based on environment variables
func NewFromEnv() (Embedder, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	pc := ProviderConfig{
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		Dimension: cfg.Dimension,
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		return NewJinaProvider(pc)
	case ProviderOpenAI:
		return NewOpenAIProvider(pc)
	case ProviderOpenRouter:
		return NewOpenRouterProvider(pc)
	case ProviderLocal, "":
		return NewLocalProvider(cfg.Dimension)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	if provider := os.Getenv(EnvProvider); provider != "" {
		return strings.ToLower(provider)
	}

	switch {
	case os.Getenv(EnvOpenAIAPIKey) != "":
		return ProviderOpenAI
	case os.Getenv(EnvOpenRouterAPIKey) != "":
		return ProviderOpenRouter
	case os.Getenv(EnvJinaAPIKey) != "":
		return ProviderJina
	}

	return ProviderLocal
}
