package embedder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEmbedderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvProvider, EnvJinaAPIKey, EnvOpenAIAPIKey, EnvOpenRouterAPIKey, EnvOpenRouterURL, EnvModel, EnvDimension} {
		t.Setenv(key, "")
	}
}

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"nothing set", nil, ProviderLocal},
		{"explicit", map[string]string{EnvProvider: "Jina", EnvOpenAIAPIKey: "k"}, ProviderJina},
		{"openai key", map[string]string{EnvOpenAIAPIKey: "k", EnvJinaAPIKey: "j"}, ProviderOpenAI},
		{"openrouter key", map[string]string{EnvOpenRouterAPIKey: "k", EnvJinaAPIKey: "j"}, ProviderOpenRouter},
		{"jina key", map[string]string{EnvJinaAPIKey: "j"}, ProviderJina},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEmbedderEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, DetectProvider())
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	clearEmbedderEnv(t)
	t.Setenv(EnvOpenRouterAPIKey, "router")
	t.Setenv(EnvOpenRouterURL, "https://example.invalid/api/v1")
	t.Setenv(EnvModel, "openai/text-embedding-3-large")
	t.Setenv(EnvDimension, "3072")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, Config{
		Provider:  ProviderOpenRouter,
		APIKey:    "router",
		BaseURL:   "https://example.invalid/api/v1",
		Model:     "openai/text-embedding-3-large",
		Dimension: 3072,
	}, cfg)

	t.Setenv(EnvDimension, "wide")
	_, err = ConfigFromEnv()
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNew(t *testing.T) {
	e, err := New(Config{Provider: ProviderLocal, Dimension: 32})
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, e.Provider())
	assert.Equal(t, 32, e.Dimension())

	e, err = New(Config{Provider: "OPENAI", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, e.Provider())

	_, err = New(Config{Provider: "cohere"})
	assert.ErrorIs(t, err, ErrUnsupportedModel)

	_, err = New(Config{Provider: ProviderJina})
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
}

func TestNewFromEnvDefaultsToLocal(t *testing.T) {
	clearEmbedderEnv(t)
	e, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ProviderLocal, e.Provider())
	assert.Equal(t, LocalDimension, e.Dimension())
}
