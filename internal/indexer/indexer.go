package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/sutcontext-mcp/internal/chunker"
	"github.com/dshills/sutcontext-mcp/internal/embedder"
	"github.com/dshills/sutcontext-mcp/internal/index"
	"github.com/dshills/sutcontext-mcp/internal/logger"
	"github.com/dshills/sutcontext-mcp/internal/metrics"
	"github.com/dshills/sutcontext-mcp/internal/storage"
	"github.com/dshills/sutcontext-mcp/pkg/types"
)

// ErrBuildInProgress is returned when another build holds the index lock.
var ErrBuildInProgress = errors.New("index build already in progress")

// Config contains configuration for the indexer
type Config struct {
	Chunking chunker.Config
	Policy   chunker.Policy
	Workers  int // Concurrent embedding calls (default: runtime.NumCPU())
}

// DefaultConfig returns the default chunk sizes with the semantic policy.
func DefaultConfig() Config {
	return Config{
		Chunking: chunker.DefaultConfig(),
		Policy:   chunker.PolicySemantic,
		Workers:  runtime.NumCPU(),
	}
}

// Option configures an Indexer
type Option func(*Indexer)

// WithCache routes chunk embeddings through cache.
func WithCache(cache *embedder.Cache) Option {
	return func(ix *Indexer) {
		ix.cache = cache
	}
}

// WithLogger sets the indexer logger
func WithLogger(l zerolog.Logger) Option {
	return func(ix *Indexer) {
		ix.logger = logger.Component(l, "indexer")
	}
}

// WithMetrics records build metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(ix *Indexer) {
		ix.metrics = m
	}
}

// Statistics describes a completed build
type Statistics struct {
	Documents   int            `json:"documents"`
	Chunks      int            `json:"chunks"`
	PerDocument map[string]int `json:"per_document"` // chunks by doc type
	Duration    time.Duration  `json:"duration"`
	Index       index.Stats    `json:"index"`
}

// Indexer coordinates the ingestion pipeline: chunk -> embed -> index.
// Builds always start from an empty index.
type Indexer struct {
	cfg       Config
	embed     embedder.ComputeFunc
	dimension int
	cache     *embedder.Cache
	lock      IndexLock
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// New creates an Indexer embedding chunks with emb.
func New(cfg Config, emb embedder.Embedder, opts ...Option) (*Indexer, error) {
	if err := cfg.Chunking.Validate(); err != nil {
		return nil, err
	}
	policy, err := chunker.ParsePolicy(string(cfg.Policy))
	if err != nil {
		return nil, err
	}
	cfg.Policy = policy
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	ix := &Indexer{
		cfg:       cfg,
		dimension: emb.Dimension(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.embed = embedder.MeteredFunc(emb, ix.metrics)
	if ix.cache == nil {
		ix.cache = embedder.NewCache(embedder.DefaultCacheSize)
	}
	return ix, nil
}

// Lock returns the lock guarding builds.
func (ix *Indexer) Lock() *IndexLock {
	return &ix.lock
}

// Build chunks every document, embeds the chunks concurrently and adds them
// to a new index in document and chunk order.
func (ix *Indexer) Build(ctx context.Context, docs []Document) (*index.Index, *Statistics, error) {
	if !ix.lock.TryAcquire() {
		return nil, nil, ErrBuildInProgress
	}
	defer ix.lock.Release()

	return ix.timedBuild(ctx, docs)
}

// timedBuild runs a build with the lock held and records its outcome.
func (ix *Indexer) timedBuild(ctx context.Context, docs []Document) (*index.Index, *Statistics, error) {
	start := time.Now()
	idx, stats, err := ix.build(ctx, docs)
	ix.metrics.RecordIndexBuild(time.Since(start), err)
	if err != nil {
		ix.logger.Error().Err(err).Int("documents", len(docs)).Msg("index build failed")
		return nil, nil, err
	}

	stats.Duration = time.Since(start)
	ix.metrics.UpdateIndexStats(stats.Index.Count, stats.Index.Terms)
	ix.logger.Info().
		Int("documents", stats.Documents).
		Int("chunks", stats.Chunks).
		Int("terms", stats.Index.Terms).
		Dur("duration", stats.Duration).
		Msg("index built")
	return idx, stats, nil
}

func (ix *Indexer) build(ctx context.Context, docs []Document) (*index.Index, *Statistics, error) {
	stats := &Statistics{
		Documents:   len(docs),
		PerDocument: make(map[string]int, len(docs)),
	}

	var chunks []*types.Chunk
	for _, doc := range docs {
		c, err := chunker.New(ix.cfg.Chunking,
			chunker.WithDocument(doc.DocType, doc.DocSource),
			chunker.WithLogger(ix.logger))
		if err != nil {
			return nil, nil, err
		}

		docChunks, err := c.Chunk(doc.Text, ix.cfg.Policy)
		if err != nil {
			return nil, nil, fmt.Errorf("chunk %s: %w", doc.DocSource, err)
		}
		ix.logger.Debug().
			Str("doc_type", doc.DocType).
			Str("doc_source", doc.DocSource).
			Int("chunks", len(docChunks)).
			Msg("document chunked")

		stats.PerDocument[doc.DocType] += len(docChunks)
		chunks = append(chunks, docChunks...)
	}
	stats.Chunks = len(chunks)

	vectors, err := ix.embedChunks(ctx, chunks)
	if err != nil {
		return nil, nil, err
	}

	idx, err := index.New(index.Config{Dimension: ix.dimension}, index.WithLogger(ix.logger))
	if err != nil {
		return nil, nil, err
	}

	records := make([]index.Record, len(chunks))
	for i, c := range chunks {
		records[i] = index.RecordFromChunk(c, vectors[i])
	}
	if err := idx.Add(records); err != nil {
		return nil, nil, fmt.Errorf("add records: %w", err)
	}

	stats.Index = idx.Stats()
	return idx, stats, nil
}

// embedChunks computes chunk vectors with at most Workers calls in flight.
// vectors[i] belongs to chunks[i].
func (ix *Indexer) embedChunks(ctx context.Context, chunks []*types.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.Workers)
	for i, c := range chunks {
		g.Go(func() error {
			vec, err := ix.cache.GetOrCompute(gctx, c.Content, ix.embed)
			if err != nil {
				return fmt.Errorf("embed %s: %w", c.ID, err)
			}
			vectors[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// BuildAndSave builds a new index from docs, saves it under paths and, when
// handle is non-nil, publishes it. The lock is held until the save
// completes; the published generation is only replaced after it succeeds.
func (ix *Indexer) BuildAndSave(ctx context.Context, docs []Document, paths storage.Paths, handle *index.Handle) (*Statistics, error) {
	if !ix.lock.TryAcquire() {
		return nil, ErrBuildInProgress
	}
	defer ix.lock.Release()

	idx, stats, err := ix.timedBuild(ctx, docs)
	if err != nil {
		return nil, err
	}

	if err := idx.Save(ctx, paths); err != nil {
		return nil, err
	}

	if handle != nil {
		handle.Publish(idx)
	}
	return stats, nil
}
