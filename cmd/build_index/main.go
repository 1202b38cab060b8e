package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/sutcontext-mcp/internal/chunker"
	"github.com/dshills/sutcontext-mcp/internal/config"
	"github.com/dshills/sutcontext-mcp/internal/embedder"
	"github.com/dshills/sutcontext-mcp/internal/indexer"
	"github.com/dshills/sutcontext-mcp/internal/logger"
	"github.com/dshills/sutcontext-mcp/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	indexDir := flag.String("index-dir", cfg.IndexDir, "directory the index artifacts are written to")
	strategy := flag.String("strategy", string(cfg.Policy), "chunking strategy: fixed, semantic or hybrid")
	noCache := flag.Bool("no-cache", false, "keep embeddings in memory only")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: build_index [options] [TYPE=]path ...\n\n")
		fmt.Fprintf(os.Stderr, "Example: build_index data/sut.txt EK-4/D=data/ek4d.txt\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	policy, err := chunker.ParsePolicy(*strategy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	cfg.Policy = policy
	cfg.IndexDir = *indexDir
	if *noCache {
		cfg.CacheDir = ""
	}

	stats, err := build(cfg, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(out))
}

func build(cfg config.Config, args []string) (*indexer.Statistics, error) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logger.New(cfg.Logger())

	docs := make([]indexer.Document, 0, len(args))
	for _, arg := range args {
		docType, path := indexer.ParseDocumentArg(arg)
		doc, err := indexer.LoadDocument(path, docType)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	emb, err := embedder.New(cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	defer emb.Close()

	cacheOpts := []embedder.CacheOption{embedder.WithCacheLogger(log)}
	if cfg.CacheDir != "" {
		if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		cacheOpts = append(cacheOpts, embedder.WithCacheDir(cfg.CacheDir), embedder.WithCacheNamespace(emb))
	}

	ix, err := indexer.New(cfg.Indexer(), emb,
		indexer.WithCache(embedder.NewCache(embedder.DefaultCacheSize, cacheOpts...)),
		indexer.WithLogger(log))
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("documents", len(docs)).
		Str("strategy", string(cfg.Policy)).
		Str("provider", emb.Provider()).
		Str("index_dir", cfg.IndexDir).
		Msg("building index")
	return ix.BuildAndSave(ctx, docs, storage.DefaultPaths(cfg.IndexDir), nil)
}
