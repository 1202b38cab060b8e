package index

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dshills/sutcontext-mcp/internal/logger"
	"github.com/dshills/sutcontext-mcp/pkg/types"
)

// IndexType names the search strategy reported in Stats.
const IndexType = "FlatL2"

// DefaultOverfetchMultiplier widens the candidate window of filtered searches.
const DefaultOverfetchMultiplier = 10

var (
	// ErrInvalidConfig is returned for a bad dimension or overfetch multiplier
	ErrInvalidConfig = errors.New("invalid index configuration")
	// ErrDimensionMismatch is returned when a vector does not match the index dimension
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrDuplicateID is returned when a record id is already present
	ErrDuplicateID = errors.New("duplicate record id")
	// ErrInvalidTopK is returned for a non-positive result count
	ErrInvalidTopK = errors.New("topK must be positive")

	// ErrIndexUnavailable groups the load failures below
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrIndexNotFound is returned when a persisted artifact is missing
	ErrIndexNotFound = fmt.Errorf("%w: not found", ErrIndexUnavailable)
	// ErrIndexCorrupt is returned when persisted artifacts are malformed or mismatched
	ErrIndexCorrupt = fmt.Errorf("%w: corrupt", ErrIndexUnavailable)
)

// Config holds index configuration
type Config struct {
	Dimension           int
	OverfetchMultiplier int // 0 selects DefaultOverfetchMultiplier
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, c.Dimension)
	}
	if c.OverfetchMultiplier < 1 {
		return fmt.Errorf("%w: overfetch multiplier must be at least 1, got %d", ErrInvalidConfig, c.OverfetchMultiplier)
	}
	return nil
}

// Option configures an Index
type Option func(*Index)

// WithLogger sets the index logger
func WithLogger(l zerolog.Logger) Option {
	return func(idx *Index) {
		idx.logger = logger.Component(l, "index")
	}
}

// WithOverfetchMultiplier overrides the filtered-search candidate multiplier.
func WithOverfetchMultiplier(n int) Option {
	return func(idx *Index) {
		idx.cfg.OverfetchMultiplier = n
	}
}

// Record is one index entry: a chunk and its embedding.
type Record struct {
	ID       string
	Vector   []float32
	Content  string
	StartRef int
	EndRef   int
	Metadata types.ChunkMetadata
}

// RecordFromChunk pairs a chunk with its embedding.
func RecordFromChunk(c *types.Chunk, vector []float32) Record {
	return Record{
		ID:       c.ID,
		Vector:   vector,
		Content:  c.Content,
		StartRef: c.StartRef,
		EndRef:   c.EndRef,
		Metadata: c.Metadata,
	}
}

// SearchResult is a vector search hit
type SearchResult struct {
	Position   int
	ID         string
	Distance   float64 // squared L2
	Similarity float64 // 1 / (1 + Distance)
}

// Stats describes an index generation
type Stats struct {
	Count      int       `json:"count"`
	Dimension  int       `json:"dimension"`
	Terms      int       `json:"terms"`
	Generation uuid.UUID `json:"generation"`
	IndexType  string    `json:"index_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// Index is an exhaustive L2 vector index with a side term index over active
// ingredients. Records are appended during a build and never removed.
// Add must not run concurrently with reads; a published index is read-only
// and safe for concurrent searches.
type Index struct {
	cfg        Config
	generation uuid.UUID
	createdAt  time.Time

	records []Record
	ids     map[string]int
	terms   map[string][]int

	logger zerolog.Logger
}

// New creates an empty index bound to cfg.Dimension.
func New(cfg Config, opts ...Option) (*Index, error) {
	if cfg.OverfetchMultiplier == 0 {
		cfg.OverfetchMultiplier = DefaultOverfetchMultiplier
	}

	idx := &Index{
		cfg:    cfg,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(idx)
	}

	if err := idx.cfg.Validate(); err != nil {
		return nil, err
	}

	idx.clear()
	return idx, nil
}

// Reset discards all records and rebinds the index to dimension under a
// fresh generation.
func (idx *Index) Reset(dimension int) error {
	cfg := idx.cfg
	cfg.Dimension = dimension
	if err := cfg.Validate(); err != nil {
		return err
	}
	idx.cfg = cfg
	idx.clear()
	return nil
}

func (idx *Index) clear() {
	idx.generation = uuid.New()
	idx.createdAt = time.Now().UTC()
	idx.records = nil
	idx.ids = make(map[string]int)
	idx.terms = make(map[string][]int)
}

// Dimension returns the vector dimension of the index
func (idx *Index) Dimension() int {
	return idx.cfg.Dimension
}

// Len returns the number of records
func (idx *Index) Len() int {
	return len(idx.records)
}

// Add appends records in order. The batch is validated as a whole first:
// on error the index is left unchanged.
func (idx *Index) Add(records []Record) error {
	seen := make(map[string]struct{}, len(records))
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record %d: %w", i, types.ErrInvalidChunkID)
		}
		if len(r.Vector) != idx.cfg.Dimension {
			return fmt.Errorf("%w: record %s has %d values, index dimension is %d",
				ErrDimensionMismatch, r.ID, len(r.Vector), idx.cfg.Dimension)
		}
		if _, ok := idx.ids[r.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
		}
		if _, ok := seen[r.ID]; ok {
			return fmt.Errorf("%w: %s appears twice in batch", ErrDuplicateID, r.ID)
		}
		seen[r.ID] = struct{}{}
	}

	for _, r := range records {
		r.Vector = slices.Clone(r.Vector)
		pos := len(idx.records)
		idx.records = append(idx.records, r)
		idx.ids[r.ID] = pos
		idx.indexTerms(pos, r.Metadata.ActiveIngredients)
	}
	return nil
}

func (idx *Index) indexTerms(pos int, ingredients []string) {
	for _, ing := range ingredients {
		term := NormalizeTerm(ing)
		if term == "" {
			continue
		}
		positions := idx.terms[term]
		if n := len(positions); n > 0 && positions[n-1] == pos {
			continue
		}
		idx.terms[term] = append(positions, pos)
	}
}

// NormalizeTerm lowercases a term for the term index, mapping the Turkish
// dotted capital I to i.
func NormalizeTerm(term string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(term), "İ", "i"))
}

// Search returns the topK records nearest to query by squared L2 distance.
// Ties keep position order. With filters, the nearest topK*overfetch
// candidates are filtered and the first topK survivors returned.
func (idx *Index) Search(query []float32, topK int, filters Filters) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, topK)
	}
	if len(query) != idx.cfg.Dimension {
		return nil, fmt.Errorf("%w: query has %d values, index dimension is %d",
			ErrDimensionMismatch, len(query), idx.cfg.Dimension)
	}
	if len(idx.records) == 0 {
		return []SearchResult{}, nil
	}

	candidates := make([]SearchResult, len(idx.records))
	for pos := range idx.records {
		d := squaredL2(query, idx.records[pos].Vector)
		candidates[pos] = SearchResult{
			Position:   pos,
			ID:         idx.records[pos].ID,
			Distance:   d,
			Similarity: 1 / (1 + d),
		}
	}
	slices.SortStableFunc(candidates, func(a, b SearchResult) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})

	if len(filters) == 0 {
		return candidates[:min(topK, len(candidates))], nil
	}

	window := candidates[:min(topK*idx.cfg.OverfetchMultiplier, len(candidates))]
	results := make([]SearchResult, 0, topK)
	for _, c := range window {
		if !filters.Match(&idx.records[c.Position]) {
			continue
		}
		results = append(results, c)
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// LookupByTerm returns the positions of records listing term as an active
// ingredient, in position order. Matching is case-insensitive.
func (idx *Index) LookupByTerm(term string) []int {
	positions := idx.terms[NormalizeTerm(term)]
	if len(positions) == 0 {
		return []int{}
	}
	return slices.Clone(positions)
}

// Record returns the record at pos.
func (idx *Index) Record(pos int) (Record, bool) {
	if pos < 0 || pos >= len(idx.records) {
		return Record{}, false
	}
	return idx.records[pos], true
}

// RecordByID returns the record with the given id.
func (idx *Index) RecordByID(id string) (Record, bool) {
	pos, ok := idx.ids[id]
	if !ok {
		return Record{}, false
	}
	return idx.records[pos], true
}

// Stats returns index statistics
func (idx *Index) Stats() Stats {
	return Stats{
		Count:      len(idx.records),
		Dimension:  idx.cfg.Dimension,
		Terms:      len(idx.terms),
		Generation: idx.generation,
		IndexType:  IndexType,
		CreatedAt:  idx.createdAt,
	}
}
