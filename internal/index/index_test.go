package index

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sutcontext-mcp/internal/storage"
	"github.com/dshills/sutcontext-mcp/pkg/types"
)

func record(id string, vec []float32, ingredients ...string) Record {
	return Record{
		ID:      id,
		Vector:  vec,
		Content: "content of " + id,
		Metadata: types.ChunkMetadata{
			Topic:             "Genel",
			ActiveIngredients: ingredients,
			DocType:           "SUT",
		},
	}
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := New(Config{Dimension: 2})
	require.NoError(t, err)
	require.NoError(t, idx.Add([]Record{
		record("a", []float32{0, 0}, "ezetimib"),
		record("b", []float32{1, 0}, "atorvastatin", "ezetimib"),
		record("c", []float32{3, 4}),
	}))
	return idx
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Dimension: 8, OverfetchMultiplier: 10}, false},
		{"multiplier one", Config{Dimension: 8, OverfetchMultiplier: 1}, false},
		{"zero dimension", Config{Dimension: 0, OverfetchMultiplier: 10}, true},
		{"negative dimension", Config{Dimension: -1, OverfetchMultiplier: 10}, true},
		{"zero multiplier", Config{Dimension: 8}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewDefaults(t *testing.T) {
	idx, err := New(Config{Dimension: 4})
	require.NoError(t, err)
	assert.Equal(t, DefaultOverfetchMultiplier, idx.cfg.OverfetchMultiplier)

	_, err = New(Config{Dimension: 4, OverfetchMultiplier: -2})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestReset(t *testing.T) {
	idx := newTestIndex(t)
	before := idx.Stats().Generation

	require.NoError(t, idx.Reset(3))
	stats := idx.Stats()
	assert.Equal(t, 0, stats.Count)
	assert.Equal(t, 3, stats.Dimension)
	assert.Equal(t, 0, stats.Terms)
	assert.NotEqual(t, before, stats.Generation)

	assert.ErrorIs(t, idx.Reset(0), ErrInvalidConfig)
	assert.Equal(t, 3, idx.Dimension())
}

func TestAddErrorsLeaveIndexUnchanged(t *testing.T) {
	idx := newTestIndex(t)

	err := idx.Add([]Record{record("d", []float32{1, 1}), record("e", []float32{1, 1, 1})})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 3, idx.Len())
	_, ok := idx.RecordByID("d")
	assert.False(t, ok)

	err = idx.Add([]Record{record("a", []float32{1, 1})})
	assert.ErrorIs(t, err, ErrDuplicateID)

	err = idx.Add([]Record{record("x", []float32{1, 1}), record("x", []float32{2, 2})})
	assert.ErrorIs(t, err, ErrDuplicateID)
	assert.Equal(t, 3, idx.Len())

	err = idx.Add([]Record{record("", []float32{1, 1})})
	assert.ErrorIs(t, err, types.ErrInvalidChunkID)
}

func TestAddCopiesVectors(t *testing.T) {
	idx, err := New(Config{Dimension: 2})
	require.NoError(t, err)

	vec := []float32{1, 2}
	require.NoError(t, idx.Add([]Record{record("a", vec)}))
	vec[0] = 99

	r, ok := idx.Record(0)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, r.Vector)
}

func TestSearch(t *testing.T) {
	idx := newTestIndex(t)

	results, err := idx.Search([]float32{0, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, 0.0, results[0].Distance)
	assert.Equal(t, 1.0, results[0].Similarity)

	assert.Equal(t, "b", results[1].ID)
	assert.Equal(t, 1.0, results[1].Distance)
	assert.Equal(t, 0.5, results[1].Similarity)

	assert.Equal(t, "c", results[2].ID)
	assert.Equal(t, 25.0, results[2].Distance)
	assert.InDelta(t, 1.0/26.0, results[2].Similarity, 1e-12)
}

func TestSearchSelfQuery(t *testing.T) {
	idx := newTestIndex(t)
	for pos := 0; pos < idx.Len(); pos++ {
		r, _ := idx.Record(pos)
		results, err := idx.Search(r.Vector, 1, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, r.ID, results[0].ID)
		assert.Equal(t, 1.0, results[0].Similarity)
	}
}

func TestSearchTiesKeepPositionOrder(t *testing.T) {
	idx, err := New(Config{Dimension: 2})
	require.NoError(t, err)
	require.NoError(t, idx.Add([]Record{
		record("far", []float32{5, 5}),
		record("left", []float32{-1, 0}),
		record("right", []float32{1, 0}),
		record("up", []float32{0, 1}),
	}))

	results, err := idx.Search([]float32{0, 0}, 3, nil)
	require.NoError(t, err)
	ids := []string{results[0].ID, results[1].ID, results[2].ID}
	assert.Equal(t, []string{"left", "right", "up"}, ids)
}

func TestSearchEdgeCases(t *testing.T) {
	empty, err := New(Config{Dimension: 2})
	require.NoError(t, err)

	results, err := empty.Search([]float32{1, 1}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	idx := newTestIndex(t)

	results, err = idx.Search([]float32{0, 0}, 100, nil)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	_, err = idx.Search([]float32{0, 0}, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidTopK)

	_, err = idx.Search([]float32{0, 0}, -1, nil)
	assert.ErrorIs(t, err, ErrInvalidTopK)

	_, err = idx.Search([]float32{0, 0, 0}, 1, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSearchFiltered(t *testing.T) {
	idx, err := New(Config{Dimension: 1, OverfetchMultiplier: 2})
	require.NoError(t, err)

	var records []Record
	for i := 0; i < 10; i++ {
		r := record(fmt.Sprintf("r%d", i), []float32{float32(i)})
		if i%3 == 0 {
			r.Metadata.Section = "4.2.28"
		} else {
			r.Metadata.Section = "4.2.1"
		}
		records = append(records, r)
	}
	require.NoError(t, idx.Add(records))

	results, err := idx.Search([]float32{0}, 2, Filters{FilterSection: "4.2.28"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "r0", results[0].ID)
	assert.Equal(t, "r3", results[1].ID)

	// window is topK*2 = 2 candidates (r0, r1), only r0 survives
	results, err = idx.Search([]float32{0}, 1, Filters{FilterSection: "4.2.1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r1", results[0].ID)

	results, err = idx.Search([]float32{9}, 1, Filters{FilterSection: "4.2.28"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r9", results[0].ID)

	results, err = idx.Search([]float32{0}, 1, Filters{FilterSection: "nowhere"})
	require.NoError(t, err)
	assert.Empty(t, results)

	// a window of one candidate holds only r0
	narrow, err := New(Config{Dimension: 1}, WithOverfetchMultiplier(1))
	require.NoError(t, err)
	require.NoError(t, narrow.Add(records))
	results, err = narrow.Search([]float32{0}, 1, Filters{FilterSection: "4.2.1"})
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = New(Config{Dimension: 1}, WithOverfetchMultiplier(-1))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFiltersMatch(t *testing.T) {
	r := &Record{
		ID:       "x",
		Content:  "Ezetimib tablet",
		StartRef: 4,
		EndRef:   9,
		Metadata: types.ChunkMetadata{
			Section:           "4.2.28.A",
			Topic:             "Ezetimib",
			ActiveIngredients: []string{"ezetimib", "simvastatin"},
			Keywords:          []string{"E78", "rapor"},
			IsSubjectRelated:  true,
			DocType:           "SUT",
		},
	}

	tests := []struct {
		name    string
		filters Filters
		want    bool
	}{
		{"empty", Filters{}, true},
		{"section", Filters{FilterSection: "4.2.28.A"}, true},
		{"section case-sensitive", Filters{FilterSection: "4.2.28.a"}, false},
		{"doc type", Filters{FilterDocType: "SUT"}, true},
		{"empty doc source excluded", Filters{FilterDocSource: "anything"}, false},
		{"empty doc source matches empty", Filters{FilterDocSource: ""}, true},
		{"id", Filters{FilterID: "x"}, true},
		{"id mismatch", Filters{FilterID: "y"}, false},
		{"content", Filters{FilterContent: "Ezetimib tablet"}, true},
		{"content is not a substring match", Filters{FilterContent: "Ezetimib"}, false},
		{"unknown key passes", Filters{"color": "blue"}, true},
		{"bool", Filters{FilterSubjectRelated: true}, true},
		{"bool mismatch", Filters{FilterHasConditions: true}, false},
		{"bool wrong type", Filters{FilterSubjectRelated: "true"}, false},
		{"int", Filters{FilterStartRef: 4}, true},
		{"json number", Filters{FilterEndRef: float64(9)}, true},
		{"fractional number", Filters{FilterEndRef: 9.5}, false},
		{"ingredient member", Filters{FilterActiveIngredient: "simvastatin"}, true},
		{"ingredient not member", Filters{FilterActiveIngredient: "rosuvastatin"}, false},
		{"keyword member", Filters{FilterKeyword: "E78"}, true},
		{"all must hold", Filters{FilterDocType: "SUT", FilterTopic: "Other"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filters.Match(r))
		})
	}
}

func TestSearchFilterExcludesEmptySection(t *testing.T) {
	idx, err := New(Config{Dimension: 1})
	require.NoError(t, err)

	records := []Record{
		record("with", []float32{0}),
		record("without", []float32{1}),
		record("other", []float32{2}),
	}
	records[0].Metadata.Section = "4.2.28"
	records[2].Metadata.Section = "4.2.29"
	require.NoError(t, idx.Add(records))

	results, err := idx.Search([]float32{0}, 10, Filters{FilterSection: "4.2.28"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "with", results[0].ID)
}

func TestLookupByTerm(t *testing.T) {
	idx := newTestIndex(t)

	assert.Equal(t, []int{0, 1}, idx.LookupByTerm("ezetimib"))
	assert.Equal(t, []int{0, 1}, idx.LookupByTerm("  EZETİMİB "))
	assert.Equal(t, []int{1}, idx.LookupByTerm("Atorvastatin"))
	assert.Equal(t, []int{}, idx.LookupByTerm("metformin"))
	assert.Equal(t, []int{}, idx.LookupByTerm(""))

	// callers cannot mutate the term index
	got := idx.LookupByTerm("ezetimib")
	got[0] = 2
	assert.Equal(t, []int{0, 1}, idx.LookupByTerm("ezetimib"))
}

func TestTermIndexInvariant(t *testing.T) {
	idx := newTestIndex(t)
	for term, positions := range idx.terms {
		for pos := 0; pos < idx.Len(); pos++ {
			r, _ := idx.Record(pos)
			assert.Equal(t, r.Metadata.HasIngredient(term), containsInt(positions, pos), "term %s pos %d", term, pos)
		}
	}
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func TestRecordAccessors(t *testing.T) {
	idx := newTestIndex(t)

	r, ok := idx.Record(1)
	require.True(t, ok)
	assert.Equal(t, "b", r.ID)

	_, ok = idx.Record(3)
	assert.False(t, ok)
	_, ok = idx.Record(-1)
	assert.False(t, ok)

	r, ok = idx.RecordByID("c")
	require.True(t, ok)
	assert.Equal(t, []float32{3, 4}, r.Vector)

	_, ok = idx.RecordByID("zzz")
	assert.False(t, ok)
}

func TestStats(t *testing.T) {
	idx := newTestIndex(t)
	stats := idx.Stats()
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 2, stats.Dimension)
	assert.Equal(t, 2, stats.Terms)
	assert.Equal(t, "FlatL2", stats.IndexType)
	assert.NotEqual(t, [16]byte{}, [16]byte(stats.Generation))
}

func TestRecordFromChunk(t *testing.T) {
	c := &types.Chunk{
		ID:       "sut_chunk_0003",
		Content:  "Ezetimib",
		StartRef: 2,
		EndRef:   5,
		Metadata: types.ChunkMetadata{ActiveIngredients: []string{"ezetimib"}},
	}
	r := RecordFromChunk(c, []float32{1})
	assert.Equal(t, "sut_chunk_0003", r.ID)
	assert.Equal(t, 2, r.StartRef)
	assert.Equal(t, 5, r.EndRef)
	assert.Equal(t, c.Metadata, r.Metadata)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	paths := storage.DefaultPaths(t.TempDir())

	require.NoError(t, idx.Save(ctx, paths))

	loaded, err := Load(ctx, paths)
	require.NoError(t, err)

	assert.Equal(t, idx.Stats().Generation, loaded.Stats().Generation)
	assert.Equal(t, idx.Stats().Count, loaded.Stats().Count)
	assert.Equal(t, idx.Stats().Terms, loaded.Stats().Terms)
	assert.Equal(t, idx.LookupByTerm("ezetimib"), loaded.LookupByTerm("ezetimib"))

	for pos := 0; pos < idx.Len(); pos++ {
		want, _ := idx.Record(pos)
		got, ok := loaded.Record(pos)
		require.True(t, ok)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Vector, got.Vector)
		assert.Equal(t, want.Content, got.Content)
		assert.Equal(t, want.Metadata.ActiveIngredients, got.Metadata.ActiveIngredients)
	}

	query := []float32{0.7, 0.2}
	want, err := idx.Search(query, 3, nil)
	require.NoError(t, err)
	got, err := loaded.Search(query, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()

	_, err := Load(ctx, storage.DefaultPaths(t.TempDir()))
	assert.ErrorIs(t, err, ErrIndexNotFound)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidConfig)

	paths := storage.DefaultPaths(t.TempDir())
	require.NoError(t, newTestIndex(t).Save(ctx, paths))
	require.NoError(t, os.WriteFile(paths.Vectors, []byte("SUTVgarbage"), 0o644))

	_, err = Load(ctx, paths)
	assert.ErrorIs(t, err, ErrIndexCorrupt)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
	assert.NotErrorIs(t, err, ErrIndexNotFound)
}

func TestHandle(t *testing.T) {
	h := NewHandle(nil)
	assert.Nil(t, h.Current())

	first := newTestIndex(t)
	assert.Nil(t, h.Publish(first))
	assert.Same(t, first, h.Current())

	second, err := New(Config{Dimension: 2})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cur := h.Current()
			_, _ = cur.Search([]float32{0, 0}, 1, nil)
		}()
	}
	assert.Same(t, first, h.Publish(second))
	wg.Wait()

	assert.Same(t, second, h.Current())
}
