package embedder

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2,
	}
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestLocalProvider(t *testing.T) {
	ctx := context.Background()
	p, err := NewLocalProvider(100)
	require.NoError(t, err)

	a, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "ezetimib"})
	require.NoError(t, err)
	b, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "ezetimib"})
	require.NoError(t, err)
	c, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "metformin"})
	require.NoError(t, err)

	assert.Len(t, a.Vector, 100)
	assert.Equal(t, a.Vector, b.Vector)
	assert.NotEqual(t, a.Vector, c.Vector)
	assert.InDelta(t, 1.0, norm(a.Vector), 1e-5)

	_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{})
	assert.ErrorIs(t, err, ErrEmptyText)

	def, err := NewLocalProvider(0)
	require.NoError(t, err)
	assert.Equal(t, LocalDimension, def.Dimension())
}

func TestLocalProviderHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := NewLocalProvider(8)
	require.NoError(t, err)
	_, err = p.GenerateEmbedding(ctx, EmbeddingRequest{Text: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeVector(t *testing.T) {
	assert.Equal(t, []float32{0.6, 0.8}, NormalizeVector([]float32{3, 4}))
	assert.Equal(t, []float32{0, 0}, NormalizeVector([]float32{0, 0}))
}

type embeddingData struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

func writeEmbeddings(w http.ResponseWriter, model string, vectors ...[]float32) {
	data := make([]embeddingData, len(vectors))
	// reversed on purpose: callers must order by index
	for i := range vectors {
		j := len(vectors) - 1 - i
		data[i] = embeddingData{Object: "embedding", Embedding: vectors[j], Index: j}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   data,
		"model":  model,
	})
}

func TestJinaProvider(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeEmbeddings(w, "jina-test", []float32{1, 0}, []float32{0, 1})
	}))
	defer srv.Close()

	p, err := NewJinaProvider(ProviderConfig{
		APIKey:    "secret",
		BaseURL:   srv.URL + "/v1/",
		Dimension: 2,
		Retry:     fastRetry(),
	})
	require.NoError(t, err)

	resp, err := p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", "b"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 2)
	assert.Equal(t, []float32{1, 0}, resp.Embeddings[0].Vector)
	assert.Equal(t, []float32{0, 1}, resp.Embeddings[1].Vector)
	assert.Equal(t, ComputeHash("b"), resp.Embeddings[1].Hash)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, DefaultJinaModel, gotBody["model"])
	assert.Equal(t, ProviderJina, p.Provider())
}

func TestJinaProviderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		writeEmbeddings(w, "jina-test", []float32{1, 0})
	}))
	defer srv.Close()

	p, err := NewJinaProvider(ProviderConfig{APIKey: "k", BaseURL: srv.URL, Dimension: 2, Retry: fastRetry()})
	require.NoError(t, err)

	emb, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "a"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, emb.Vector)
	assert.Equal(t, int32(3), calls.Load())
}

func TestJinaProviderPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := NewJinaProvider(ProviderConfig{APIKey: "k", BaseURL: srv.URL, Dimension: 2, Retry: fastRetry()})
	require.NoError(t, err)

	_, err = p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "a"})
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestJinaProviderDimensionCheck(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEmbeddings(w, "jina-test", []float32{1, 0, 0})
	}))
	defer srv.Close()

	p, err := NewJinaProvider(ProviderConfig{APIKey: "k", BaseURL: srv.URL, Dimension: 2, Retry: fastRetry()})
	require.NoError(t, err)

	_, err = p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension 3, expected 2")
	assert.Equal(t, int32(1), calls.Load())
}

func TestJinaProviderRequiresKey(t *testing.T) {
	_, err := NewJinaProvider(ProviderConfig{})
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
}

func TestOpenRouterProvider(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer router-key", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeEmbeddings(w, "openai/text-embedding-3-small", []float32{0.5, 0.5, 0.5, 0.5})
	}))
	defer srv.Close()

	p, err := NewOpenRouterProvider(ProviderConfig{
		APIKey:    "router-key",
		BaseURL:   srv.URL + "/api/v1",
		Dimension: 4,
		Retry:     fastRetry(),
	})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenRouter, p.Provider())
	assert.Equal(t, DefaultOpenRouterModel, p.Model())

	emb, err := p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "İlaç: ezetimib"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5}, emb.Vector)
	assert.Equal(t, ProviderOpenRouter, emb.Provider)
	assert.Equal(t, DefaultOpenRouterModel, gotBody["model"])
	assert.EqualValues(t, 4, gotBody["dimensions"])
}

func TestOpenAIProviderPermanentError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(ProviderConfig{APIKey: "k", BaseURL: srv.URL, Retry: fastRetry()})
	require.NoError(t, err)
	assert.Equal(t, OpenAIDimension, p.Dimension())

	_, err = p.GenerateEmbedding(context.Background(), EmbeddingRequest{Text: "a"})
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIProviderRequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(ProviderConfig{})
	assert.ErrorIs(t, err, ErrNoProviderEnabled)

	_, err = NewOpenRouterProvider(ProviderConfig{})
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
}

func TestBatchLimits(t *testing.T) {
	p, err := NewJinaProvider(ProviderConfig{APIKey: "k", Dimension: 2})
	require.NoError(t, err)

	texts := make([]string, MaxBatchSize+1)
	for i := range texts {
		texts[i] = "t"
	}
	_, err = p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: texts})
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	_, err = p.GenerateBatch(context.Background(), BatchEmbeddingRequest{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = p.GenerateBatch(context.Background(), BatchEmbeddingRequest{Texts: []string{"a", ""}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
