package retriever

import (
	"context"
	"fmt"
	"testing"

	"github.com/dshills/sutcontext-mcp/internal/embedder"
	"github.com/dshills/sutcontext-mcp/internal/index"
	"github.com/dshills/sutcontext-mcp/pkg/types"
)

const (
	benchRecords   = 2000
	benchDimension = 256
)

var benchIngredients = []string{"ezetimib", "atorvastatin", "rosuvastatin", "adalimumab", "ramipril"}

// setupRetrieverBenchmark builds a published index of synthetic chunks whose
// vectors come from the deterministic local provider.
func setupRetrieverBenchmark(b *testing.B) (*Retriever, []float32) {
	b.Helper()
	local, err := embedder.NewLocalProvider(benchDimension)
	if err != nil {
		b.Fatal(err)
	}
	embed := embedder.VectorFunc(local)
	ctx := context.Background()

	records := make([]index.Record, benchRecords)
	for i := range records {
		ing := benchIngredients[i%len(benchIngredients)]
		content := fmt.Sprintf("4.2.%d - %s kullanım ilkeleri, uzman hekim raporu ile madde %d", i/10, ing, i)
		vec, err := embed(ctx, content)
		if err != nil {
			b.Fatal(err)
		}
		records[i] = index.Record{
			ID:       fmt.Sprintf("sut_chunk_%04d", i),
			Vector:   vec,
			Content:  content,
			StartRef: i,
			EndRef:   i,
			Metadata: types.ChunkMetadata{
				Section:           fmt.Sprintf("4.2.%d", i/10),
				DocType:           "SUT",
				ActiveIngredients: []string{ing},
			},
		}
	}

	idx, err := index.New(index.Config{Dimension: benchDimension})
	if err != nil {
		b.Fatal(err)
	}
	if err := idx.Add(records); err != nil {
		b.Fatal(err)
	}

	query, err := embed(ctx, "İlaç: ezetimib | kullanım şartları uygunluk kriterleri rapor gerekli")
	if err != nil {
		b.Fatal(err)
	}
	return New(index.NewHandle(idx), embed), query
}

// BenchmarkRetrieve benchmarks fused keyword and vector retrieval
func BenchmarkRetrieve(b *testing.B) {
	r, query := setupRetrieverBenchmark(b)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := r.Retrieve("ezetimib", query, DefaultTopK); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRetrieveFiltered benchmarks retrieval with an over-fetching filter
func BenchmarkRetrieveFiltered(b *testing.B) {
	r, query := setupRetrieverBenchmark(b)
	filters := index.Filters{index.FilterSection: "4.2.7"}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := r.RetrieveFiltered("ezetimib", query, DefaultTopK, filters); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRetrieveForQuery benchmarks the full path with a warm query cache
func BenchmarkRetrieveForQuery(b *testing.B) {
	r, _ := setupRetrieverBenchmark(b)
	q := types.Query{Drug: types.Drug{ActiveIngredient: "ezetimib", Form: "tablet"}}
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := r.RetrieveForQuery(ctx, q, DefaultTopK, nil); err != nil {
			b.Fatal(err)
		}
	}
}
