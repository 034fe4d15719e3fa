package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	braerr "github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/model"
)

const testDims = 4

func newTestBackend(t *testing.T) *Embedded {
	t.Helper()
	b, err := NewEmbedded(EmbeddedConfig{
		StateDir:   t.TempDir(),
		Dimensions: testDims,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Initialize(context.Background()))
	t.Cleanup(func() { b.Close() })
	return b
}

func testChunk(id, source, text string, st model.SourceType) model.Chunk {
	return model.Chunk{
		ID:   id,
		Text: text,
		Metadata: model.ChunkMetadata{
			Source:     source,
			SourceType: st,
			Language:   "go",
		},
	}
}

func vec(vals ...float32) []float32 { return vals }

func TestEmbeddedUpsertAndCount(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	chunks := []model.Chunk{
		testChunk("c1", "a.go", "func ParseConfig reads yaml settings", model.SourceTypeCode),
		testChunk("c2", "b.go", "func StartServer listens on a port", model.SourceTypeCode),
	}
	embeddings := [][]float32{vec(1, 0, 0, 0), vec(0, 1, 0, 0)}

	require.NoError(t, b.UpsertDocuments(ctx, chunks, embeddings))

	count, err := b.GetCount(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Upserting the same ID replaces, not duplicates.
	require.NoError(t, b.UpsertDocuments(ctx,
		[]model.Chunk{testChunk("c1", "a.go", "updated text", model.SourceTypeCode)},
		[][]float32{vec(1, 0, 0, 0)}))
	count, err = b.GetCount(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := b.GetByID(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "updated text", got.Text)
}

func TestEmbeddedUpsertLengthMismatch(t *testing.T) {
	b := newTestBackend(t)
	err := b.UpsertDocuments(context.Background(),
		[]model.Chunk{testChunk("c1", "a.go", "text", model.SourceTypeCode)},
		nil)
	require.Error(t, err)
	assert.True(t, braerr.HasCode(err, braerr.ErrCodeInvalidInput))
}

func TestEmbeddedVectorSearchScores(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.UpsertDocuments(ctx,
		[]model.Chunk{
			testChunk("c1", "a.go", "alpha", model.SourceTypeCode),
			testChunk("c2", "b.go", "beta", model.SourceTypeCode),
		},
		[][]float32{vec(1, 0, 0, 0), vec(0, 1, 0, 0)}))

	results, err := b.VectorSearch(ctx, vec(1, 0, 0, 0), 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "c1", results[0].ChunkID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6, "identical vector scores 1")
	assert.InDelta(t, 0.5, results[1].Score, 1e-6, "orthogonal vector scores 0.5")
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
		assert.Equal(t, r.Score, r.VectorScore)
	}
}

func TestEmbeddedVectorSearchMinScore(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.UpsertDocuments(ctx,
		[]model.Chunk{
			testChunk("c1", "a.go", "alpha", model.SourceTypeCode),
			testChunk("c2", "b.go", "beta", model.SourceTypeCode),
		},
		[][]float32{vec(1, 0, 0, 0), vec(0, 1, 0, 0)}))

	// The orthogonal chunk scores 0.5 and falls below the threshold.
	results, err := b.VectorSearch(ctx, vec(1, 0, 0, 0), 10, 0.8, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)

	// Zero disables the threshold.
	results, err = b.VectorSearch(ctx, vec(1, 0, 0, 0), 10, 0, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestEmbeddedGetCountFiltered(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.UpsertDocuments(ctx,
		[]model.Chunk{
			testChunk("c1", "notes.md", "alpha", model.SourceTypeDoc),
			testChunk("c2", "notes.md", "beta", model.SourceTypeDoc),
			testChunk("c3", "main.go", "gamma", model.SourceTypeCode),
		},
		[][]float32{vec(1, 0, 0, 0), vec(0, 1, 0, 0), vec(0, 0, 1, 0)}))

	bySource, err := b.GetCount(ctx, &SearchFilters{PathGlobs: []string{"notes.md"}})
	require.NoError(t, err)
	assert.Equal(t, 2, bySource)

	byType, err := b.GetCount(ctx, &SearchFilters{SourceTypes: []model.SourceType{model.SourceTypeCode}})
	require.NoError(t, err)
	assert.Equal(t, 1, byType)

	total, err := b.GetCount(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestEmbeddedKeywordSearchNormalized(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.UpsertDocuments(ctx,
		[]model.Chunk{
			testChunk("c1", "a.go", "parseConfig reads the config file and validates config entries", model.SourceTypeCode),
			testChunk("c2", "b.go", "startServer opens a listener", model.SourceTypeCode),
			testChunk("c3", "c.go", "config helper", model.SourceTypeCode),
		},
		[][]float32{vec(1, 0, 0, 0), vec(0, 1, 0, 0), vec(0, 0, 1, 0)}))

	results, err := b.KeywordSearch(ctx, "config", 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.InDelta(t, 1.0, results[0].Score, 1e-9, "top hit normalized to 1")
	for _, r := range results {
		assert.LessOrEqual(t, r.Score, 1.0)
		assert.Greater(t, r.Score, 0.0)
		assert.NotEqual(t, "c2", r.ChunkID)
	}
}

func TestEmbeddedKeywordSearchEmptyQuery(t *testing.T) {
	b := newTestBackend(t)
	results, err := b.KeywordSearch(context.Background(), "   ", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEmbeddedFilters(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	docs := testChunk("d1", "docs/guide.md", "configuration guide", model.SourceTypeDoc)
	docs.Metadata.Language = ""
	require.NoError(t, b.UpsertDocuments(ctx,
		[]model.Chunk{
			testChunk("c1", "internal/a.go", "configuration loader", model.SourceTypeCode),
			docs,
		},
		[][]float32{vec(1, 0, 0, 0), vec(0.9, 0.1, 0, 0)}))

	byType, err := b.VectorSearch(ctx, vec(1, 0, 0, 0), 10, 0, &SearchFilters{
		SourceTypes: []model.SourceType{model.SourceTypeDoc},
	})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "d1", byType[0].ChunkID)

	byGlob, err := b.KeywordSearch(ctx, "configuration", 10, &SearchFilters{
		PathGlobs: []string{"internal/*.go"},
	})
	require.NoError(t, err)
	require.Len(t, byGlob, 1)
	assert.Equal(t, "c1", byGlob[0].ChunkID)

	byLang, err := b.VectorSearch(ctx, vec(1, 0, 0, 0), 10, 0, &SearchFilters{
		Languages: []string{"python"},
	})
	require.NoError(t, err)
	assert.Empty(t, byLang)
}

func TestEmbeddedDeleteByIDsEmptyNoOp(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.DeleteByIDs(context.Background(), nil))
	require.NoError(t, b.DeleteByIDs(context.Background(), []string{}))
}

func TestEmbeddedDeleteBySource(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.UpsertDocuments(ctx,
		[]model.Chunk{
			testChunk("c1", "a.go", "first chunk text", model.SourceTypeCode),
			testChunk("c2", "a.go", "second chunk text", model.SourceTypeCode),
			testChunk("c3", "b.go", "other file text", model.SourceTypeCode),
		},
		[][]float32{vec(1, 0, 0, 0), vec(0, 1, 0, 0), vec(0, 0, 1, 0)}))

	removed, err := b.DeleteBySource(ctx, "a.go")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	count, err := b.GetCount(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	removed, err = b.DeleteBySource(ctx, "missing.go")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestEmbeddedPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := NewEmbedded(EmbeddedConfig{StateDir: dir, Dimensions: testDims}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Initialize(ctx))
	require.NoError(t, b.UpsertDocuments(ctx,
		[]model.Chunk{testChunk("c1", "a.go", "persisted chunk", model.SourceTypeCode)},
		[][]float32{vec(1, 0, 0, 0)}))
	require.NoError(t, b.Close())

	reopened, err := NewEmbedded(EmbeddedConfig{StateDir: dir, Dimensions: testDims}, nil)
	require.NoError(t, err)
	require.NoError(t, reopened.Initialize(ctx))
	defer reopened.Close()

	count, err := reopened.GetCount(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := reopened.VectorSearch(ctx, vec(1, 0, 0, 0), 5, 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
}

func TestEmbeddedEmbeddingCompatibility(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	meta := model.EmbeddingMetadata{Provider: "static", Model: "static-256", Dimensions: 256}

	// First validation records the provenance.
	require.NoError(t, b.ValidateEmbeddingCompatibility(ctx, meta))
	stored, err := b.GetEmbeddingMetadata(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, meta, *stored)

	// Same provenance passes.
	require.NoError(t, b.ValidateEmbeddingCompatibility(ctx, meta))

	// Different model fails with a mismatch error.
	err = b.ValidateEmbeddingCompatibility(ctx, model.EmbeddingMetadata{
		Provider: "ollama", Model: "nomic-embed-text", Dimensions: 768,
	})
	require.Error(t, err)
	assert.True(t, braerr.HasCode(err, braerr.ErrCodeProviderMismatch))
}

func TestEmbeddedReset(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.UpsertDocuments(ctx,
		[]model.Chunk{testChunk("c1", "a.go", "some text", model.SourceTypeCode)},
		[][]float32{vec(1, 0, 0, 0)}))
	require.NoError(t, b.GraphPutTriplets(ctx, []model.Triplet{{
		Subject: "a", Predicate: "imports", Object: "b", SourceChunkID: "c1",
	}}))
	require.NoError(t, b.SetEmbeddingMetadata(ctx, model.EmbeddingMetadata{
		Provider: "static", Model: "static-256", Dimensions: 256,
	}))

	require.NoError(t, b.Reset(ctx))

	count, err := b.GetCount(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.False(t, b.GraphHasEntity("a"))

	stored, err := b.GetEmbeddingMetadata(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestEmbeddedGraphOps(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	assert.True(t, b.SupportsGraph())
	require.NoError(t, b.GraphPutTriplets(ctx, []model.Triplet{
		{Subject: "auth", Predicate: "imports", Object: "jwt", SourceChunkID: "c1"},
	}))

	assert.True(t, b.GraphHasEntity("jwt"))
	assert.Equal(t, 1, b.GraphEntityFrequency("auth"))

	neighbors, err := b.GraphNeighbors(ctx, "auth", 2)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "c1", neighbors[0].ChunkID)
}

func TestEmbeddedUninitialized(t *testing.T) {
	b, err := NewEmbedded(EmbeddedConfig{StateDir: t.TempDir(), Dimensions: testDims}, nil)
	require.NoError(t, err)

	_, err = b.GetCount(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, braerr.HasCode(err, braerr.ErrCodeStorage))
}
