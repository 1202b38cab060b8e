package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sutcontext-mcp/internal/chunker"
	"github.com/dshills/sutcontext-mcp/internal/embedder"
	"github.com/dshills/sutcontext-mcp/internal/index"
	"github.com/dshills/sutcontext-mcp/internal/storage"
)

const sutText = `=== Sayfa 1 ===
4.2.28.A - Ezetimib
Ezetimib statin ile birlikte LDL hedefine ulaşılamayan hastalarda kullanılır.

4.2.28.B - Ezetimib kombinasyonları
Sabit doz kombinasyonları uzman hekim raporu ile reçete edilir.
=== Sayfa 2 ===
4.2.30 - Genel hükümler
Reçeteler elektronik ortamda düzenlenir.`

const ek4Text = `20.00 - EK-4/D Listesinde Yer Alan Hastalıklar
Bu listede yer alan hastalıklarda rapor şartı aranmaz.`

// mockEmbedder wraps the local provider, counting calls and optionally
// failing or returning vectors of the wrong size.
type mockEmbedder struct {
	*embedder.LocalProvider
	calls    atomic.Int32
	err      error
	shortVec bool
}

func newMockEmbedder(t *testing.T, dim int) *mockEmbedder {
	t.Helper()
	local, err := embedder.NewLocalProvider(dim)
	require.NoError(t, err)
	return &mockEmbedder{LocalProvider: local}
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	emb, err := m.LocalProvider.GenerateEmbedding(ctx, req)
	if err != nil {
		return nil, err
	}
	if m.shortVec {
		emb.Vector = emb.Vector[:len(emb.Vector)-1]
	}
	return emb, nil
}

func testConfig() Config {
	return Config{
		Chunking: chunker.Config{ChunkSize: 200, ChunkOverlap: 0, MinChunkSize: 1, MaxChunkSize: 400},
		Policy:   chunker.PolicyHybrid,
		Workers:  4,
	}
}

func testDocs() []Document {
	return []Document{
		{DocType: "SUT", DocSource: "sut.txt", Text: sutText},
		{DocType: "EK-4/D", DocSource: "ek4d.txt", Text: ek4Text},
	}
}

func TestNewValidatesConfig(t *testing.T) {
	emb := newMockEmbedder(t, 8)

	cfg := testConfig()
	cfg.Chunking.ChunkOverlap = cfg.Chunking.ChunkSize
	_, err := New(cfg, emb)
	assert.ErrorIs(t, err, chunker.ErrInvalidConfig)

	cfg = testConfig()
	cfg.Policy = "sliding"
	_, err = New(cfg, emb)
	assert.ErrorIs(t, err, chunker.ErrInvalidConfig)

	cfg = testConfig()
	cfg.Workers = 0
	ix, err := New(cfg, emb)
	require.NoError(t, err)
	assert.Positive(t, ix.cfg.Workers)
}

func TestBuild(t *testing.T) {
	emb := newMockEmbedder(t, 16)
	ix, err := New(testConfig(), emb)
	require.NoError(t, err)

	idx, stats, err := ix.Build(context.Background(), testDocs())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 4, stats.Chunks)
	assert.Equal(t, map[string]int{"SUT": 3, "EK-4/D": 1}, stats.PerDocument)
	assert.Equal(t, 4, idx.Len())
	assert.Equal(t, 16, idx.Dimension())
	assert.Equal(t, stats.Index, idx.Stats())
	assert.Positive(t, stats.Duration)

	first, ok := idx.Record(0)
	require.True(t, ok)
	assert.Equal(t, "sut_chunk_0000", first.ID)
	assert.Equal(t, "4.2.28.A", first.Metadata.Section)
	assert.Equal(t, "sut.txt", first.Metadata.DocSource)

	last, ok := idx.Record(3)
	require.True(t, ok)
	assert.Equal(t, "ek_4_d_chunk_0000", last.ID)
	assert.Equal(t, "EK-4/D", last.Metadata.DocType)

	assert.Equal(t, []int{0, 1}, idx.LookupByTerm("ezetimib"))
	for _, pos := range []int{0, 1, 2, 3} {
		r, _ := idx.Record(pos)
		assert.NotContains(t, r.Content, "=== Sayfa")
	}

	// each chunk vector is its content's embedding
	want, err := emb.LocalProvider.GenerateEmbedding(context.Background(), embedder.EmbeddingRequest{Text: first.Content})
	require.NoError(t, err)
	assert.Equal(t, want.Vector, first.Vector)
}

func TestBuildUsesCache(t *testing.T) {
	emb := newMockEmbedder(t, 8)
	cache := embedder.NewCache(100, embedder.WithCacheDir(t.TempDir()))
	ix, err := New(testConfig(), emb, WithCache(cache))
	require.NoError(t, err)

	_, _, err = ix.Build(context.Background(), testDocs())
	require.NoError(t, err)
	assert.Equal(t, int32(4), emb.calls.Load())

	again, _, err := ix.Build(context.Background(), testDocs())
	require.NoError(t, err)
	assert.Equal(t, int32(4), emb.calls.Load())
	assert.Equal(t, 4, again.Len())
}

func TestBuildEmbeddingFailure(t *testing.T) {
	emb := newMockEmbedder(t, 8)
	boom := errors.New("quota exceeded")
	emb.err = boom

	ix, err := New(testConfig(), emb)
	require.NoError(t, err)

	handle := index.NewHandle(nil)
	paths := storage.DefaultPaths(t.TempDir())
	_, err = ix.BuildAndSave(context.Background(), testDocs(), paths, handle)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, handle.Current())

	_, statErr := os.Stat(paths.Vectors)
	assert.True(t, os.IsNotExist(statErr))
	assert.False(t, ix.Lock().Held())
}

func TestBuildDimensionMismatch(t *testing.T) {
	emb := newMockEmbedder(t, 8)
	emb.shortVec = true

	ix, err := New(testConfig(), emb)
	require.NoError(t, err)

	_, _, err = ix.Build(context.Background(), testDocs())
	assert.ErrorIs(t, err, index.ErrDimensionMismatch)
}

func TestBuildDuplicateDocType(t *testing.T) {
	ix, err := New(testConfig(), newMockEmbedder(t, 8))
	require.NoError(t, err)

	docs := []Document{
		{DocType: "SUT", DocSource: "a.txt", Text: sutText},
		{DocType: "SUT", DocSource: "b.txt", Text: sutText},
	}
	_, _, err = ix.Build(context.Background(), docs)
	assert.ErrorIs(t, err, index.ErrDuplicateID)
}

func TestBuildRejectsConcurrentBuild(t *testing.T) {
	ix, err := New(testConfig(), newMockEmbedder(t, 8))
	require.NoError(t, err)

	require.True(t, ix.Lock().TryAcquire())
	_, _, err = ix.Build(context.Background(), testDocs())
	assert.ErrorIs(t, err, ErrBuildInProgress)

	_, err = ix.BuildAndSave(context.Background(), testDocs(), storage.DefaultPaths(t.TempDir()), nil)
	assert.ErrorIs(t, err, ErrBuildInProgress)

	ix.Lock().Release()
	_, _, err = ix.Build(context.Background(), testDocs())
	assert.NoError(t, err)
}

func TestBuildCancelled(t *testing.T) {
	ix, err := New(testConfig(), newMockEmbedder(t, 8))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = ix.Build(ctx, testDocs())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildAndSave(t *testing.T) {
	ctx := context.Background()
	ix, err := New(testConfig(), newMockEmbedder(t, 8))
	require.NoError(t, err)

	handle := index.NewHandle(nil)
	paths := storage.DefaultPaths(t.TempDir())

	stats, err := ix.BuildAndSave(ctx, testDocs(), paths, handle)
	require.NoError(t, err)
	require.NotNil(t, handle.Current())
	assert.Equal(t, stats.Index.Generation, handle.Current().Stats().Generation)

	loaded, err := index.Load(ctx, paths)
	require.NoError(t, err)
	got := loaded.Stats()
	assert.Equal(t, stats.Index.Count, got.Count)
	assert.Equal(t, stats.Index.Terms, got.Terms)
	assert.Equal(t, stats.Index.Generation, got.Generation)
	assert.True(t, stats.Index.CreatedAt.Equal(got.CreatedAt))

	// a rebuild publishes a new generation
	previous := handle.Current()
	_, err = ix.BuildAndSave(ctx, testDocs(), paths, handle)
	require.NoError(t, err)
	assert.NotSame(t, previous, handle.Current())
	assert.NotEqual(t, previous.Stats().Generation, handle.Current().Stats().Generation)
}

func TestBuildEmptyCorpus(t *testing.T) {
	ix, err := New(testConfig(), newMockEmbedder(t, 8))
	require.NoError(t, err)

	idx, stats, err := ix.Build(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, 0, stats.Chunks)
}

func TestLoadDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ek4d.txt")
	require.NoError(t, os.WriteFile(path, []byte(ek4Text), 0o644))

	doc, err := LoadDocument(path, "EK-4/D")
	require.NoError(t, err)
	assert.Equal(t, "EK-4/D", doc.DocType)
	assert.Equal(t, "ek4d.txt", doc.DocSource)
	assert.True(t, strings.HasPrefix(doc.Text, "20.00"))

	doc, err = LoadDocument(path, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultDocType, doc.DocType)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("  \n\n"), 0o644))
	_, err = LoadDocument(empty, "SUT")
	assert.ErrorIs(t, err, ErrEmptyDocument)

	_, err = LoadDocument(filepath.Join(dir, "missing.txt"), "SUT")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseDocumentArg(t *testing.T) {
	tests := []struct {
		arg      string
		wantType string
		wantPath string
	}{
		{"data/sut.txt", "SUT", "data/sut.txt"},
		{"EK-4/D=data/ek4d.txt", "EK-4/D", "data/ek4d.txt"},
		{" EK-4/E = data/ek4e.txt ", "EK-4/E", "data/ek4e.txt"},
		{"=data/x.txt", "SUT", "=data/x.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			docType, path := ParseDocumentArg(tt.arg)
			assert.Equal(t, tt.wantType, docType)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}
