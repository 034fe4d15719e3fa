package graph

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbrain/agentbrain/internal/model"
)

func testTriplet(subject, predicate, object, chunkID string) model.Triplet {
	return model.Triplet{
		Subject:       subject,
		SubjectType:   model.EntityTypeModule,
		Predicate:     predicate,
		Object:        object,
		ObjectType:    model.EntityTypeModule,
		SourceChunkID: chunkID,
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "graph_store.json"))
	require.NoError(t, err)
	return s
}

func TestStorePutDeduplicates(t *testing.T) {
	s := newTestStore(t)

	err := s.Put([]model.Triplet{
		testTriplet("auth", "imports", "jwt", "c1"),
		testTriplet("auth", "imports", "jwt", "c1"),
		testTriplet("auth", "imports", "jwt", "c2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count())
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph_store.json")

	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put([]model.Triplet{
		testTriplet("auth", "imports", "jwt", "c1"),
	}))

	reopened, err := NewStore(path)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Count())
	assert.True(t, reopened.HasEntity("jwt"))
	assert.True(t, reopened.HasEntity("AUTH"), "entity lookup is case-insensitive")
}

func TestStoreNeighborsDepthAndScore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put([]model.Triplet{
		testTriplet("a", "imports", "b", "chunk-ab"),
		testTriplet("b", "imports", "c", "chunk-bc"),
		testTriplet("c", "imports", "d", "chunk-cd"),
	}))

	depth1 := s.Neighbors("a", 1)
	require.Len(t, depth1, 1)
	assert.Equal(t, "chunk-ab", depth1[0].ChunkID)
	assert.InDelta(t, 1.0, depth1[0].Score, 1e-9)

	depth2 := s.Neighbors("a", 2)
	require.Len(t, depth2, 2)
	assert.Equal(t, "chunk-ab", depth2[0].ChunkID)
	assert.Equal(t, "chunk-bc", depth2[1].ChunkID)
	assert.Greater(t, depth2[0].Score, depth2[1].Score)
	assert.Equal(t, []string{"a", "b"}, depth2[1].Path)
}

func TestStoreNeighborsUnknownEntity(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put([]model.Triplet{
		testTriplet("a", "imports", "b", "c1"),
	}))
	assert.Empty(t, s.Neighbors("nope", 2))
}

func TestStoreNeighborsHandlesCycles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put([]model.Triplet{
		testTriplet("a", "imports", "b", "c1"),
		testTriplet("b", "imports", "a", "c2"),
	}))

	neighbors := s.Neighbors("a", 4)
	assert.Len(t, neighbors, 2)
}

func TestStoreDeleteByChunkIDs(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put([]model.Triplet{
		testTriplet("a", "imports", "b", "c1"),
		testTriplet("b", "imports", "c", "c2"),
	}))

	require.NoError(t, s.DeleteByChunkIDs([]string{"c1"}))
	assert.Equal(t, 1, s.Count())
	assert.False(t, s.HasEntity("a"))
	assert.True(t, s.HasEntity("c"))

	require.NoError(t, s.DeleteByChunkIDs(nil))
	assert.Equal(t, 1, s.Count())
}

func TestStoreReset(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put([]model.Triplet{
		testTriplet("a", "imports", "b", "c1"),
	}))
	require.NoError(t, s.Reset())
	assert.Equal(t, 0, s.Count())
	assert.False(t, s.HasEntity("a"))
}
