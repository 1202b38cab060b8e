package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/sutcontext-mcp/internal/config"
	"github.com/dshills/sutcontext-mcp/internal/embedder"
	"github.com/dshills/sutcontext-mcp/internal/logger"
	"github.com/dshills/sutcontext-mcp/internal/mcp"
	"github.com/dshills/sutcontext-mcp/internal/metrics"
	"github.com/dshills/sutcontext-mcp/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Handle version flag
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("SUTContext MCP Server\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// stdout is reserved for the MCP protocol
	log := logger.New(cfg.Logger())
	log.Info().
		Str("version", version).
		Str("build_mode", storage.BuildMode).
		Str("driver", storage.DriverName).
		Msg("SUTContext MCP server starting")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("server stopped")
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	emb, err := embedder.New(cfg.Embedder)
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	log.Info().
		Str("provider", emb.Provider()).
		Str("model", emb.Model()).
		Int("dimension", emb.Dimension()).
		Msg("embedder ready")

	m := metrics.New()
	server, err := mcp.NewServer(cfg, emb,
		mcp.WithLogger(log),
		mcp.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// A damaged index must not keep the server down: index_documents can
	// rebuild it.
	if err := server.LoadIndex(ctx); err != nil {
		log.Warn().Err(err).Str("dir", cfg.IndexDir).Msg("persisted index not loaded")
	}

	if cfg.MetricsAddr != "" {
		stop := serveMetrics(cfg.MetricsAddr, m, log)
		defer stop()
	}

	log.Info().Msg("MCP server ready, listening on stdio")
	err = server.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serveMetrics exposes the Prometheus registry on addr and returns a
// function that shuts the listener down.
func serveMetrics(addr string, m *metrics.Metrics, log zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics endpoint failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
