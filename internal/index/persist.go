package index

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dshills/sutcontext-mcp/internal/storage"
)

// Save writes the index as a vector blob plus metadata sidecar under paths.
// Both artifacts carry the index generation and record count.
func (idx *Index) Save(ctx context.Context, paths storage.Paths) error {
	snap := &storage.Snapshot{
		Generation:  idx.generation,
		Dimension:   idx.cfg.Dimension,
		IndexType:   IndexType,
		CreatedAt:   idx.createdAt,
		Entries:     make([]storage.Entry, len(idx.records)),
		Vectors:     make([][]float32, len(idx.records)),
		IDPositions: idx.ids,
		Terms:       idx.terms,
	}
	for i, r := range idx.records {
		snap.Entries[i] = storage.Entry{
			ID:       r.ID,
			Content:  r.Content,
			StartRef: r.StartRef,
			EndRef:   r.EndRef,
			Metadata: r.Metadata,
		}
		snap.Vectors[i] = r.Vector
	}

	if err := storage.Save(ctx, paths, snap); err != nil {
		return fmt.Errorf("save index: %w", err)
	}

	idx.logger.Info().
		Str("generation", idx.generation.String()).
		Int("records", len(idx.records)).
		Int("terms", len(idx.terms)).
		Str("vectors", paths.Vectors).
		Msg("index saved")
	return nil
}

// Load reads an index previously written by Save. A missing artifact yields
// ErrIndexNotFound; malformed or mismatched artifacts yield ErrIndexCorrupt.
func Load(ctx context.Context, paths storage.Paths, opts ...Option) (*Index, error) {
	snap, err := storage.Load(ctx, paths)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrIndexNotFound, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}

	idx, err := New(Config{Dimension: snap.Dimension}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}

	records := make([]Record, snap.Count())
	for i, e := range snap.Entries {
		records[i] = Record{
			ID:       e.ID,
			Vector:   snap.Vectors[i],
			Content:  e.Content,
			StartRef: e.StartRef,
			EndRef:   e.EndRef,
			Metadata: e.Metadata,
		}
	}
	if err := idx.Add(records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}

	// The stored term map must agree with the one rebuilt from metadata.
	if !sameTerms(idx.terms, snap.Terms) {
		return nil, fmt.Errorf("%w: stored term index does not match record metadata", ErrIndexCorrupt)
	}

	idx.generation = snap.Generation
	idx.createdAt = snap.CreatedAt

	idx.logger.Info().
		Str("generation", idx.generation.String()).
		Int("records", idx.Len()).
		Int("dimension", idx.Dimension()).
		Msg("index loaded")
	return idx, nil
}

func sameTerms(a, b map[string][]int) bool {
	if len(a) != len(b) {
		return false
	}
	for term, positions := range a {
		if !slices.Equal(positions, b[term]) {
			return false
		}
	}
	return true
}
