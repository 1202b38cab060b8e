// Package indexer coordinates the ingestion pipeline for the regulatory
// corpus.
//
// A build takes one or more documents (the SUT and its EK-4 annexes), chunks
// each under the configured policy, embeds the chunks and adds them to a new
// index. Builds are never incremental: every run produces a fresh index
// generation that replaces the previous one wholesale.
//
// # Basic Usage
//
//	ix, err := indexer.New(indexer.DefaultConfig(), provider,
//	    indexer.WithCache(cache),
//	    indexer.WithLogger(log))
//
//	sut, _ := indexer.LoadDocument("data/sut.txt", "SUT")
//	ek4d, _ := indexer.LoadDocument("data/ek4d.txt", "EK-4/D")
//
//	stats, err := ix.BuildAndSave(ctx, []indexer.Document{sut, ek4d},
//	    storage.DefaultPaths("data/index"), handle)
//
// # Concurrency
//
// Chunk embeddings are computed concurrently through the embedding cache,
// with at most Config.Workers calls in flight (errgroup.SetLimit). Records
// are then added to the index in a single ordered batch, so chunk order and
// ids are the same for every run over the same input.
//
// An IndexLock rejects a build that starts while another is running:
//
//	if _, err := ix.BuildAndSave(ctx, docs, paths, handle); errors.Is(err, indexer.ErrBuildInProgress) {
//	    // retry later
//	}
//
// # Error Handling
//
// Configuration errors (chunk sizes, policy) are returned by New. During a
// build, the first embedding failure cancels the remaining calls and is
// returned wrapped with the chunk id. A dimension mismatch between the
// provider's vectors and its declared dimension surfaces as
// index.ErrDimensionMismatch, and chunk ids repeated across documents of the
// same type as index.ErrDuplicateID. Nothing is saved or published on error.
package indexer
