package embedder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/sutcontext-mcp/internal/metrics"
	"github.com/dshills/sutcontext-mcp/internal/storage"
)

// DefaultCacheSize is the number of vectors kept in memory.
const DefaultCacheSize = 10000

const cacheFileExt = ".vec"

// Cache lookup outcomes, as reported to metrics.
const (
	lookupMemoryHit = "memory_hit"
	lookupDiskHit   = "disk_hit"
	lookupMiss      = "miss"
)

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheDir persists entries under dir, one file per text hash.
func WithCacheDir(dir string) CacheOption {
	return func(c *Cache) {
		c.dir = dir
	}
}

// WithCacheNamespace keeps the entries of e apart from those of any other
// provider, model or dimension sharing the cache directory. Disk entries
// whose length differs from e.Dimension() are treated as misses.
func WithCacheNamespace(e Embedder) CacheOption {
	return func(c *Cache) {
		c.namespace = CacheNamespace(e)
		c.dimension = e.Dimension()
	}
}

// CacheNamespace names the cache subdirectory for e, e.g.
// "openrouter_openai_text-embedding-3-small_1536".
func CacheNamespace(e Embedder) string {
	name := fmt.Sprintf("%s_%s_%d", e.Provider(), e.Model(), e.Dimension())
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}

// WithCacheLogger sets the logger used for persistence failures.
func WithCacheLogger(logger zerolog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithCacheMetrics records lookups and write failures.
func WithCacheMetrics(m *metrics.Metrics) CacheOption {
	return func(c *Cache) {
		c.metrics = m
	}
}

// Cache maps text, by SHA-256, to its embedding vector. Entries live in an
// LRU memory tier and, when a directory is configured, in one file per hash
// so that writing one entry can never damage another. Entries never expire
// within a process. Persistence is best-effort.
type Cache struct {
	dir       string
	namespace string
	dimension int
	mem     *lru.Cache[string, []float32]
	group   singleflight.Group
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewCache creates an embedding cache holding up to size vectors in memory.
func NewCache(size int, opts ...CacheOption) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	mem, err := lru.New[string, []float32](size)
	if err != nil {
		// Should never happen with positive size, but fallback to default
		mem, _ = lru.New[string, []float32](DefaultCacheSize)
	}

	c := &Cache{
		mem:    mem,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompute returns the vector for text, calling compute only on a miss.
// Concurrent misses for the same text share one compute call. Errors from
// compute are returned unchanged; failures to persist the new entry are
// logged and otherwise ignored.
func (c *Cache) GetOrCompute(ctx context.Context, text string, compute ComputeFunc) ([]float32, error) {
	hash := ComputeHash(text)

	if vec, ok := c.lookup(hash); ok {
		return slices.Clone(vec), nil
	}

	v, err, _ := c.group.Do(hash, func() (any, error) {
		if vec, ok := c.mem.Get(hash); ok {
			return vec, nil
		}

		c.metrics.RecordCacheLookup(lookupMiss)
		vec, err := compute(ctx, text)
		if err != nil {
			return nil, err
		}

		vec = slices.Clone(vec)
		c.mem.Add(hash, vec)
		if err := c.persist(hash, vec); err != nil {
			c.metrics.RecordCacheWriteFailure()
			c.logger.Warn().Err(err).Str("hash", hash).Msg("embedding cache write failed")
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}

	return slices.Clone(v.([]float32)), nil
}

// Get returns a copy of the cached vector for text without computing.
func (c *Cache) Get(text string) ([]float32, bool) {
	vec, ok := c.lookup(ComputeHash(text))
	if !ok {
		return nil, false
	}
	return slices.Clone(vec), true
}

// lookup checks the memory tier, then the disk tier.
func (c *Cache) lookup(hash string) ([]float32, bool) {
	if vec, ok := c.mem.Get(hash); ok {
		c.metrics.RecordCacheLookup(lookupMemoryHit)
		return vec, true
	}

	if c.dir == "" {
		return nil, false
	}

	vec, err := c.load(hash)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn().Err(err).Str("hash", hash).Msg("ignoring unreadable embedding cache entry")
		}
		return nil, false
	}

	c.metrics.RecordCacheLookup(lookupDiskHit)
	c.mem.Add(hash, vec)
	return vec, true
}

func (c *Cache) path(hash string) string {
	return filepath.Join(c.Dir(), hash+cacheFileExt)
}

func (c *Cache) load(hash string) ([]float32, error) {
	data, err := os.ReadFile(c.path(hash))
	if err != nil {
		return nil, err
	}
	vec, err := storage.DecodeVector(data)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty cache entry %s", hash)
	}
	if c.dimension > 0 && len(vec) != c.dimension {
		return nil, fmt.Errorf("cache entry %s has dimension %d, expected %d", hash, len(vec), c.dimension)
	}
	return vec, nil
}

// persist writes an entry through a temp file and rename so readers never
// observe a partial file.
func (c *Cache) persist(hash string, vec []float32) error {
	if c.dir == "" {
		return nil
	}

	dir := c.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, hash+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(storage.EncodeVector(vec)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache entry: %w", err)
	}

	if err := os.Rename(tmp.Name(), c.path(hash)); err != nil {
		return fmt.Errorf("publish cache entry: %w", err)
	}
	return nil
}

// Size returns the number of vectors held in memory.
func (c *Cache) Size() int {
	return c.mem.Len()
}

// Dir returns the directory entries are written to, including the
// namespace, or empty when the cache is memory-only.
func (c *Cache) Dir() string {
	if c.dir == "" {
		return ""
	}
	return filepath.Join(c.dir, c.namespace)
}

// Clear empties the memory tier. Persisted entries are kept.
func (c *Cache) Clear() {
	c.mem.Purge()
}
