package retriever

import "time"

// Stage names used in metrics and tool output.
const (
	StageQueryBuild    = "query_build"
	StageKeywordSearch = "keyword_search"
	StageEmbedding     = "embedding"
	StageVectorSearch  = "vector_search"
	StageReranking     = "reranking"
	StageTotal         = "total"
)

// Timings records how long each retrieval stage took.
type Timings struct {
	QueryBuild    time.Duration `json:"query_build"`
	KeywordSearch time.Duration `json:"keyword_search"`
	Embedding     time.Duration `json:"embedding"`
	VectorSearch  time.Duration `json:"vector_search"`
	Reranking     time.Duration `json:"reranking"`
	Total         time.Duration `json:"total"`
}

func (t *Timings) add(o Timings) {
	t.QueryBuild += o.QueryBuild
	t.KeywordSearch += o.KeywordSearch
	t.Embedding += o.Embedding
	t.VectorSearch += o.VectorSearch
	t.Reranking += o.Reranking
}

func (t Timings) stages() map[string]time.Duration {
	return map[string]time.Duration{
		StageQueryBuild:    t.QueryBuild,
		StageKeywordSearch: t.KeywordSearch,
		StageEmbedding:     t.Embedding,
		StageVectorSearch:  t.VectorSearch,
		StageReranking:     t.Reranking,
		StageTotal:         t.Total,
	}
}

// Milliseconds returns the stage times in milliseconds, keyed by stage name.
func (t Timings) Milliseconds() map[string]float64 {
	out := make(map[string]float64, 6)
	for stage, d := range t.stages() {
		out[stage] = float64(d.Microseconds()) / 1000
	}
	return out
}

func (r *Response) stages() map[string]time.Duration {
	if r == nil {
		return nil
	}
	return r.Timings.stages()
}
