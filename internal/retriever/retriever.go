package retriever

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/sutcontext-mcp/internal/embedder"
	"github.com/dshills/sutcontext-mcp/internal/index"
	"github.com/dshills/sutcontext-mcp/internal/logger"
	"github.com/dshills/sutcontext-mcp/internal/metrics"
	"github.com/dshills/sutcontext-mcp/pkg/types"
)

// Fusion constants. Exact term-index hits must outrank any similarity-only
// hit, since similarity is at most 1.
const (
	KeywordScore      = 1.0
	ExactBoost        = 5.0
	KeywordWeight     = 0.8
	SemanticWeight    = 0.2
	PartialBoost      = 2.0
	SemanticBoost     = 1.0
	SemanticOverfetch = 2
)

// DefaultTopK is the number of passages returned when the caller gives none.
const DefaultTopK = 5

// DefaultConcurrency bounds parallel per-drug retrievals in RetrieveMany.
const DefaultConcurrency = 4

var (
	// ErrNoIndex is returned when no index generation has been published
	ErrNoIndex = errors.New("no index loaded")
	// ErrEmptySubject is returned for a query without an active ingredient
	ErrEmptySubject = errors.New("query has no active ingredient")
)

// Option configures a Retriever
type Option func(*Retriever)

// WithCache routes query embeddings through cache.
func WithCache(cache *embedder.Cache) Option {
	return func(r *Retriever) {
		r.cache = cache
	}
}

// WithLogger sets the retriever logger
func WithLogger(l zerolog.Logger) Option {
	return func(r *Retriever) {
		r.logger = logger.Component(l, "retriever")
	}
}

// WithMetrics records retrieval metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Retriever) {
		r.metrics = m
	}
}

// WithDefaultTopK sets the result count used when a caller passes topK <= 0
// to a query-facts entry point.
func WithDefaultTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithConcurrency bounds parallel retrievals in RetrieveMany.
func WithConcurrency(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// Retriever ranks index records for a query by fusing exact term-index
// matches with vector similarity.
type Retriever struct {
	handle      *index.Handle
	embed       embedder.ComputeFunc
	cache       *embedder.Cache
	topK        int
	concurrency int
	logger      zerolog.Logger
	metrics     *metrics.Metrics
}

// New creates a retriever reading the index currently published in handle.
// embed turns query text into a vector; it may be nil for callers that only
// use Retrieve with precomputed vectors.
func New(handle *index.Handle, embed embedder.ComputeFunc, opts ...Option) *Retriever {
	r := &Retriever{
		handle:      handle,
		embed:       embed,
		topK:        DefaultTopK,
		concurrency: DefaultConcurrency,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = embedder.NewCache(embedder.DefaultCacheSize)
	}
	return r
}

func (r *Retriever) current() (*index.Index, error) {
	idx := r.handle.Current()
	if idx == nil {
		return nil, ErrNoIndex
	}
	return idx, nil
}

// Retrieve returns at most topK chunks for subject and queryVector.
func (r *Retriever) Retrieve(subject string, queryVector []float32, topK int) ([]types.RetrievedChunk, error) {
	return r.RetrieveFiltered(subject, queryVector, topK, nil)
}

// RetrieveFiltered is Retrieve restricted to records matching filters. The
// filters apply to exact and similarity hits alike.
func (r *Retriever) RetrieveFiltered(subject string, queryVector []float32, topK int, filters index.Filters) ([]types.RetrievedChunk, error) {
	idx, err := r.current()
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: got %d", index.ErrInvalidTopK, topK)
	}

	keyword := keywordHits(idx, subject, filters)
	semantic, err := idx.Search(queryVector, topK*SemanticOverfetch, filters)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return rerank(idx, subject, keyword, semantic, topK), nil
}

// keywordHits returns the term-index positions for subject that pass filters.
func keywordHits(idx *index.Index, subject string, filters index.Filters) []int {
	positions := idx.LookupByTerm(subject)
	if len(filters) == 0 {
		return positions
	}

	kept := positions[:0]
	for _, pos := range positions {
		rec, ok := idx.Record(pos)
		if ok && filters.Match(&rec) {
			kept = append(kept, pos)
		}
	}
	return kept
}

type scored struct {
	pos   int
	score float64
	kind  types.MatchKind
}

// rerank fuses keyword and semantic hits. Entries keep insertion order
// (keyword hits by position, then semantic hits by rank) and the stable sort
// preserves it among equal scores.
func rerank(idx *index.Index, subject string, keyword []int, semantic []index.SearchResult, topK int) []types.RetrievedChunk {
	ranked := make([]scored, 0, len(keyword)+len(semantic))
	byPos := make(map[int]int, cap(ranked))

	for _, pos := range keyword {
		byPos[pos] = len(ranked)
		ranked = append(ranked, scored{pos: pos, score: KeywordScore * ExactBoost, kind: types.MatchExact})
	}

	needle := index.NormalizeTerm(subject)
	for _, hit := range semantic {
		if i, ok := byPos[hit.Position]; ok {
			ranked[i].score = KeywordWeight*ranked[i].score + SemanticWeight*hit.Similarity
			continue
		}

		rec, _ := idx.Record(hit.Position)
		entry := scored{pos: hit.Position, score: hit.Similarity * SemanticBoost, kind: types.MatchSemantic}
		if needle != "" && strings.Contains(index.NormalizeTerm(rec.Content), needle) {
			entry.score = hit.Similarity * PartialBoost
			entry.kind = types.MatchPartial
		}
		byPos[hit.Position] = len(ranked)
		ranked = append(ranked, entry)
	}

	slices.SortStableFunc(ranked, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})
	ranked = ranked[:min(topK, len(ranked))]

	chunks := make([]types.RetrievedChunk, len(ranked))
	for i, s := range ranked {
		rec, _ := idx.Record(s.pos)
		chunks[i] = types.RetrievedChunk{
			ID:        rec.ID,
			Rank:      i + 1,
			Score:     s.score,
			MatchKind: s.kind,
			Content:   rec.Content,
			StartRef:  rec.StartRef,
			EndRef:    rec.EndRef,
			Metadata:  rec.Metadata,
		}
	}
	return chunks
}

// Response is the result of a query-facts retrieval.
type Response struct {
	Subject string                 `json:"subject"`
	Query   string                 `json:"query"`
	Chunks  []types.RetrievedChunk `json:"chunks"`
	Timings Timings                `json:"timings"`
}

// RetrieveForQuery builds the query text from q, embeds it through the
// cache and returns the fused ranking with per-stage timings.
func (r *Retriever) RetrieveForQuery(ctx context.Context, q types.Query, topK int, filters index.Filters) (*Response, error) {
	idx, err := r.current()
	if err != nil {
		return nil, err
	}
	resp, err := r.retrieveQuery(ctx, idx, q, topK, filters)
	if err != nil {
		r.metrics.RecordRetrieval(nil, err)
		return nil, err
	}
	r.metrics.RecordRetrieval(resp.Timings.stages(), nil)

	for _, c := range resp.Chunks {
		r.metrics.RecordMatch(string(c.MatchKind))
	}
	r.logger.Info().
		Str("subject", resp.Subject).
		Int("chunks", len(resp.Chunks)).
		Dur("total", resp.Timings.Total).
		Msg("retrieved passages")
	return resp, nil
}

func (r *Retriever) retrieveQuery(ctx context.Context, idx *index.Index, q types.Query, topK int, filters index.Filters) (*Response, error) {
	var t Timings
	start := time.Now()

	subject := q.Subject()
	if subject == "" {
		return nil, ErrEmptySubject
	}
	if topK <= 0 {
		topK = r.topK
	}
	if r.embed == nil {
		return nil, fmt.Errorf("%w: no embedder configured", embedder.ErrNoProviderEnabled)
	}

	stage := time.Now()
	text := q.Text()
	t.QueryBuild = time.Since(stage)

	stage = time.Now()
	keyword := keywordHits(idx, subject, filters)
	t.KeywordSearch = time.Since(stage)

	stage = time.Now()
	vec, err := r.cache.GetOrCompute(ctx, text, r.embed)
	t.Embedding = time.Since(stage)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	stage = time.Now()
	semantic, err := idx.Search(vec, topK*SemanticOverfetch, filters)
	t.VectorSearch = time.Since(stage)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	stage = time.Now()
	chunks := rerank(idx, subject, keyword, semantic, topK)
	t.Reranking = time.Since(stage)
	t.Total = time.Since(start)

	r.logger.Debug().
		Str("subject", subject).
		Str("query", text).
		Int("keyword_hits", len(keyword)).
		Int("semantic_hits", len(semantic)).
		Msg("fused retrieval")

	return &Response{
		Subject: subject,
		Query:   text,
		Chunks:  chunks,
		Timings: t,
	}, nil
}

// MultiResponse holds per-drug rankings keyed by active ingredient.
type MultiResponse struct {
	Results map[string][]types.RetrievedChunk `json:"results"`
	Timings Timings                           `json:"timings"` // stage times summed over drugs
	PerDrug time.Duration                     `json:"avg_per_drug"`
}

// RetrieveMany runs one retrieval per drug against the same index
// generation, sharing the diagnoses and patient of base. Drugs repeating an
// active ingredient are retrieved once.
func (r *Retriever) RetrieveMany(ctx context.Context, drugs []types.Drug, base types.Query, topK int, filters index.Filters) (*MultiResponse, error) {
	idx, err := r.current()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var queries []types.Query
	seen := make(map[string]bool, len(drugs))
	for i, d := range drugs {
		q := types.Query{Drug: d, Diagnoses: base.Diagnoses, Patient: base.Patient}
		subject := q.Subject()
		if subject == "" {
			return nil, fmt.Errorf("drug %d: %w", i, ErrEmptySubject)
		}
		if seen[subject] {
			continue
		}
		seen[subject] = true
		queries = append(queries, q)
	}

	responses := make([]*Response, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, q := range queries {
		g.Go(func() error {
			resp, err := r.retrieveQuery(gctx, idx, q, topK, filters)
			if err != nil {
				return fmt.Errorf("retrieve %s: %w", q.Subject(), err)
			}
			responses[i] = resp
			return nil
		})
	}
	err = g.Wait()

	out := &MultiResponse{Results: make(map[string][]types.RetrievedChunk, len(responses))}
	for _, resp := range responses {
		if resp == nil {
			continue
		}
		out.Results[resp.Subject] = resp.Chunks
		out.Timings.add(resp.Timings)
	}
	out.Timings.Total = time.Since(start)
	if len(queries) > 0 {
		out.PerDrug = out.Timings.Total / time.Duration(len(queries))
	}

	r.metrics.RecordRetrieval(out.Timings.stages(), err)
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Int("drugs", len(queries)).
		Dur("total", out.Timings.Total).
		Dur("embedding", out.Timings.Embedding).
		Msg("retrieved passages for drugs")
	return out, nil
}
