// Package embedder turns regulatory passages and queries into vector embeddings.
//
// Providers implement the Embedder interface: OpenAI (and OpenRouter through
// its OpenAI-compatible API), Jina AI, and a deterministic local provider
// used for offline builds and tests.
//
// # Basic Usage
//
//	// Provider auto-detected from the environment
//	emb, err := embedder.NewFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: "İlaç: ezetimib | Tanı: hiperkolesterolemi",
//	})
//
// # Caching
//
// Cache is content addressed: the key is the SHA-256 of the exact text.
// GetOrCompute consults an LRU memory tier, then an optional directory
// holding one file per hash, and calls the compute function only on a miss:
//
//	cache := embedder.NewCache(10000, embedder.WithCacheDir("data/embedding_cache"))
//	vec, err := cache.GetOrCompute(ctx, text, embedder.VectorFunc(emb))
//
// Concurrent misses for the same text share one computation. A failure to
// write an entry to disk is logged and counted but never returned; the
// computed vector is still handed back. Errors from the compute function are
// returned unchanged.
//
// MeteredFunc is VectorFunc that also records
// each provider call in the metrics registry.
//
// # Environment Variables
//
//   - SUTCONTEXT_EMBEDDING_PROVIDER: jina, openai, openrouter or local
//   - OPENAI_API_KEY, OPENROUTER_API_KEY, JINA_API_KEY: provider credentials
//   - OPENROUTER_BASE_URL: override the OpenRouter endpoint
//   - EMBEDDING_MODEL, EMBEDDING_DIMENSION: model and expected vector size
//
// # Error Handling
//
// Remote providers retry transient failures (network errors, 429 and 5xx)
// with exponential backoff. Other failures, including a vector dimension that
// does not match the configuration, are returned wrapped in ErrProviderFailed.
package embedder
