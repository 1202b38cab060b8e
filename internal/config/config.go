// Package config loads runtime configuration from the environment, with an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/dshills/sutcontext-mcp/internal/chunker"
	"github.com/dshills/sutcontext-mcp/internal/embedder"
	"github.com/dshills/sutcontext-mcp/internal/indexer"
	"github.com/dshills/sutcontext-mcp/internal/logger"
	"github.com/dshills/sutcontext-mcp/internal/retriever"
)

// Environment variables read by Load. The embedder variables are listed in
// the embedder package.
const (
	EnvIndexDir         = "SUTCONTEXT_INDEX_DIR"
	EnvCacheDir         = "SUTCONTEXT_CACHE_DIR"
	EnvChunkingStrategy = "SUTCONTEXT_CHUNKING_STRATEGY"
	EnvChunkSize        = "CHUNK_SIZE"
	EnvChunkOverlap     = "CHUNK_OVERLAP"
	EnvMinChunkSize     = "MIN_CHUNK_SIZE"
	EnvMaxChunkSize     = "MAX_CHUNK_SIZE"
	EnvTopK             = "TOP_K_CHUNKS"
	EnvWorkers          = "SUTCONTEXT_WORKERS"
	EnvLogLevel         = "SUTCONTEXT_LOG_LEVEL"
	EnvLogPretty        = "SUTCONTEXT_LOG_PRETTY"
	EnvMetricsAddr      = "SUTCONTEXT_METRICS_ADDR"
)

// Defaults for unset variables.
const (
	DefaultIndexDir = "data/index"
	DefaultCacheDir = "data/embedding_cache"
	DefaultLogLevel = "info"
)

// ErrInvalidConfig is returned when a variable cannot be parsed or the
// resulting settings are inconsistent.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete runtime configuration.
type Config struct {
	IndexDir    string
	CacheDir    string // empty keeps the embedding cache in memory only
	Policy      chunker.Policy
	Chunking    chunker.Config
	TopK        int
	Workers     int
	LogLevel    string
	LogPretty   bool
	MetricsAddr string // empty disables the metrics endpoint
	Embedder    embedder.Config
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		IndexDir: DefaultIndexDir,
		CacheDir: DefaultCacheDir,
		Policy:   chunker.PolicySemantic,
		Chunking: chunker.DefaultConfig(),
		TopK:     retriever.DefaultTopK,
		Workers:  runtime.NumCPU(),
		LogLevel: DefaultLogLevel,
		Embedder: embedder.Config{Provider: embedder.ProviderLocal},
	}
}

// Load reads the given .env files (".env" when none are named) and then the
// environment. Missing .env files are ignored; variables already set in the
// environment take precedence over the file.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: load env file: %v", ErrInvalidConfig, err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Default()

	if v := os.Getenv(EnvIndexDir); v != "" {
		cfg.IndexDir = v
	}
	if v, ok := os.LookupEnv(EnvCacheDir); ok {
		cfg.CacheDir = strings.TrimSpace(v)
	}
	if v := os.Getenv(EnvChunkingStrategy); v != "" {
		policy, err := chunker.ParsePolicy(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvChunkingStrategy, err)
		}
		cfg.Policy = policy
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{EnvChunkSize, &cfg.Chunking.ChunkSize},
		{EnvChunkOverlap, &cfg.Chunking.ChunkOverlap},
		{EnvMinChunkSize, &cfg.Chunking.MinChunkSize},
		{EnvMaxChunkSize, &cfg.Chunking.MaxChunkSize},
		{EnvTopK, &cfg.TopK},
		{EnvWorkers, &cfg.Workers},
	}
	for _, v := range ints {
		if err := intEnv(v.name, v.dst); err != nil {
			return Config{}, err
		}
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogPretty); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s must be a boolean, got %q", ErrInvalidConfig, EnvLogPretty, v)
		}
		cfg.LogPretty = pretty
	}
	cfg.MetricsAddr = os.Getenv(EnvMetricsAddr)

	emb, err := embedder.ConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.Embedder = emb

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func intEnv(name string, dst *int) error {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidConfig, name, raw)
	}
	*dst = n
	return nil
}

// Validate checks the settings that cannot be defaulted.
func (c Config) Validate() error {
	if c.IndexDir == "" {
		return fmt.Errorf("%w: index directory is required", ErrInvalidConfig)
	}
	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := chunker.ParsePolicy(string(c.Policy)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, EnvTopK, c.TopK)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, EnvWorkers, c.Workers)
	}
	return nil
}

// Logger returns the logger configuration.
func (c Config) Logger() logger.Config {
	return logger.Config{
		Level:  c.LogLevel,
		Pretty: c.LogPretty,
	}
}

// Indexer returns the indexer configuration.
func (c Config) Indexer() indexer.Config {
	return indexer.Config{
		Chunking: c.Chunking,
		Policy:   c.Policy,
		Workers:  c.Workers,
	}
}
