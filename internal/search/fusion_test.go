package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbrain/agentbrain/internal/model"
)

func result(id string, score float64) model.SearchResult {
	return model.SearchResult{ChunkID: id, Text: "text " + id, Score: score}
}

func TestFuseRelativeScoreWeightedSum(t *testing.T) {
	vector := []model.SearchResult{result("a", 1.0), result("b", 0.4)}
	keyword := []model.SearchResult{result("a", 0.5), result("c", 1.0)}

	fused := fuseRelativeScore(vector, keyword, 0.5)
	require.Len(t, fused, 3)

	// a: 0.5*1.0 + 0.5*0.5 = 0.75
	assert.Equal(t, "a", fused[0].ChunkID)
	assert.InDelta(t, 0.75, fused[0].Score, 1e-9)
	assert.InDelta(t, 1.0, fused[0].VectorScore, 1e-9)
	assert.InDelta(t, 0.5, fused[0].KeywordScore, 1e-9)

	// c: keyword only, 0.5*1.0 = 0.5
	assert.Equal(t, "c", fused[1].ChunkID)
	assert.InDelta(t, 0.5, fused[1].Score, 1e-9)
	assert.Zero(t, fused[1].VectorScore)

	// b: vector only, 0.5*0.4 = 0.2
	assert.Equal(t, "b", fused[2].ChunkID)
	assert.InDelta(t, 0.2, fused[2].Score, 1e-9)
}

func TestFuseRelativeScoreTieBreaksByChunkID(t *testing.T) {
	vector := []model.SearchResult{result("z", 0.6), result("a", 0.6)}

	fused := fuseRelativeScore(vector, nil, 0.5)
	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].ChunkID)
	assert.Equal(t, "z", fused[1].ChunkID)
}

func TestFuseRelativeScoreAlphaExtremes(t *testing.T) {
	vector := []model.SearchResult{result("v", 1.0)}
	keyword := []model.SearchResult{result("k", 1.0)}

	vectorOnly := fuseRelativeScore(vector, keyword, 1.0)
	assert.Equal(t, "v", vectorOnly[0].ChunkID)
	assert.InDelta(t, 1.0, vectorOnly[0].Score, 1e-9)
	assert.Zero(t, vectorOnly[1].Score)

	keywordOnly := fuseRelativeScore(vector, keyword, 0.0)
	assert.Equal(t, "k", keywordOnly[0].ChunkID)
}

func TestFuseReciprocalRankAggregates(t *testing.T) {
	rankings := map[string][]model.SearchResult{
		"vector":  {result("a", 0.9), result("b", 0.8)},
		"keyword": {result("b", 1.0), result("a", 0.7)},
		"graph":   {result("a", 1.0)},
	}

	fused := fuseReciprocalRank(rankings, 60)
	require.Len(t, fused, 2)

	// a: 1/61 + 1/62 + 1/61, b: 1/62 + 1/61. a wins and normalizes to 1.
	assert.Equal(t, "a", fused[0].ChunkID)
	assert.InDelta(t, 1.0, fused[0].Score, 1e-9)
	assert.Less(t, fused[1].Score, 1.0)

	assert.InDelta(t, 0.9, fused[0].VectorScore, 1e-9)
	assert.InDelta(t, 0.7, fused[0].KeywordScore, 1e-9)
	assert.InDelta(t, 1.0, fused[0].GraphScore, 1e-9)
	assert.Zero(t, fused[1].GraphScore)
}

func TestFuseReciprocalRankAbsentRankingContributesNothing(t *testing.T) {
	rankings := map[string][]model.SearchResult{
		"vector":  {result("a", 0.9)},
		"keyword": nil,
		"graph":   nil,
	}

	fused := fuseReciprocalRank(rankings, 60)
	require.Len(t, fused, 1)
	assert.Equal(t, "a", fused[0].ChunkID)
	assert.InDelta(t, 1.0, fused[0].Score, 1e-9)
}

func TestFuseReciprocalRankEmpty(t *testing.T) {
	assert.Empty(t, fuseReciprocalRank(map[string][]model.SearchResult{}, 60))
}

func TestClampDepth(t *testing.T) {
	assert.Equal(t, DefaultGraphDepth, clampDepth(0))
	assert.Equal(t, 3, clampDepth(3))
	assert.Equal(t, MaxGraphDepth, clampDepth(10))
}
