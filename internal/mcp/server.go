package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/dshills/sutcontext-mcp/internal/config"
	"github.com/dshills/sutcontext-mcp/internal/embedder"
	"github.com/dshills/sutcontext-mcp/internal/index"
	"github.com/dshills/sutcontext-mcp/internal/indexer"
	"github.com/dshills/sutcontext-mcp/internal/logger"
	"github.com/dshills/sutcontext-mcp/internal/metrics"
	"github.com/dshills/sutcontext-mcp/internal/retriever"
	"github.com/dshills/sutcontext-mcp/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "sutcontext-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger; it is passed on to every component.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetrics records tool calls and component metrics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// Server wraps the MCP server with application dependencies. The indexer
// and the retriever share one embedder, one embedding cache and one index
// handle, so a rebuild is visible to the next retrieval.
type Server struct {
	mcp       *server.MCPServer
	indexDir  string
	paths     storage.Paths
	embedder  embedder.Embedder
	cache     *embedder.Cache
	handle    *index.Handle
	indexer   *indexer.Indexer
	retriever *retriever.Retriever
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewServer creates a new MCP server instance. No index is published until
// LoadIndex succeeds or index_documents completes.
func NewServer(cfg config.Config, emb embedder.Embedder, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		indexDir: cfg.IndexDir,
		paths:    storage.DefaultPaths(cfg.IndexDir),
		embedder: emb,
		handle:   index.NewHandle(nil),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cacheOpts := []embedder.CacheOption{
		embedder.WithCacheLogger(logger.Component(s.logger, "embedding_cache")),
		embedder.WithCacheMetrics(s.metrics),
	}
	if cfg.CacheDir != "" {
		if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		cacheOpts = append(cacheOpts, embedder.WithCacheDir(cfg.CacheDir), embedder.WithCacheNamespace(emb))
	}
	s.cache = embedder.NewCache(embedder.DefaultCacheSize, cacheOpts...)

	ix, err := indexer.New(cfg.Indexer(), emb,
		indexer.WithCache(s.cache),
		indexer.WithLogger(s.logger),
		indexer.WithMetrics(s.metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create indexer: %w", err)
	}
	s.indexer = ix

	s.retriever = retriever.New(s.handle, embedder.MeteredFunc(emb, s.metrics),
		retriever.WithCache(s.cache),
		retriever.WithDefaultTopK(cfg.TopK),
		retriever.WithConcurrency(cfg.Workers),
		retriever.WithLogger(s.logger),
		retriever.WithMetrics(s.metrics))

	s.mcp = server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)
	s.registerTools()

	return s, nil
}

// LoadIndex publishes the index persisted in the configured directory. A
// missing index is not an error: the server starts empty and waits for
// index_documents.
func (s *Server) LoadIndex(ctx context.Context) error {
	idx, err := index.Load(ctx, s.paths, index.WithLogger(s.logger))
	if errors.Is(err, index.ErrIndexNotFound) {
		s.logger.Info().Str("dir", s.indexDir).Msg("no persisted index; waiting for index_documents")
		return nil
	}
	if err != nil {
		return err
	}
	if idx.Dimension() != s.embedder.Dimension() {
		return fmt.Errorf("%w: index has dimension %d, embedder produces %d",
			index.ErrDimensionMismatch, idx.Dimension(), s.embedder.Dimension())
	}

	s.handle.Publish(idx)
	stats := idx.Stats()
	s.metrics.UpdateIndexStats(stats.Count, stats.Terms)
	s.logger.Info().
		Str("generation", stats.Generation.String()).
		Int("records", stats.Count).
		Int("dimension", stats.Dimension).
		Msg("index published")
	return nil
}

// Serve runs the MCP protocol on stdio until ctx is cancelled or stdin
// closes.
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.embedder.Close() }()
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexDocumentsTool(), s.instrument(ToolIndexDocuments, s.handleIndexDocuments))
	s.mcp.AddTool(retrievePassagesTool(), s.instrument(ToolRetrievePassages, s.handleRetrievePassages))
	s.mcp.AddTool(getStatusTool(), s.instrument(ToolGetStatus, s.handleGetStatus))
}

// instrument records the outcome of every call to a tool handler.
func (s *Server) instrument(tool string, h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := h(ctx, request)
		s.metrics.RecordToolCall(tool, err)
		if err != nil {
			s.logger.Warn().Err(err).Str("tool", tool).Msg("tool call failed")
		}
		return res, err
	}
}
