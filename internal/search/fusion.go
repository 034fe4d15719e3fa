package search

import (
	"sort"

	"github.com/agentbrain/agentbrain/internal/model"
)

// fuseRelativeScore combines vector and keyword result lists by weighted
// normalized scores: final = alpha*vector + (1-alpha)*keyword. Both inputs
// already carry scores in [0,1]; a chunk missing from one list contributes 0
// for that component. Ties break by chunk ID ascending.
func fuseRelativeScore(vector, keyword []model.SearchResult, alpha float64) []model.SearchResult {
	merged := make(map[string]*model.SearchResult, len(vector)+len(keyword))

	for _, r := range vector {
		c := r
		c.VectorScore = r.Score
		merged[r.ChunkID] = &c
	}
	for _, r := range keyword {
		if existing, ok := merged[r.ChunkID]; ok {
			existing.KeywordScore = r.Score
			continue
		}
		c := r
		c.KeywordScore = r.Score
		merged[r.ChunkID] = &c
	}

	results := make([]model.SearchResult, 0, len(merged))
	for _, r := range merged {
		r.Score = alpha*r.VectorScore + (1-alpha)*r.KeywordScore
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results
}

// fuseReciprocalRank combines up to three rankings with RRF:
// score(d) = sum over rankings of 1/(k + rank(d)), rank 1-indexed. A chunk
// absent from a ranking gets no contribution from it. The final Score is
// normalized so the top result scores 1; original component scores are
// preserved. Ties break by chunk ID ascending.
func fuseReciprocalRank(rankings map[string][]model.SearchResult, k int) []model.SearchResult {
	if k <= 0 {
		k = RRFConstant
	}

	merged := make(map[string]*model.SearchResult)
	rrf := make(map[string]float64)

	for name, ranking := range rankings {
		for rank, r := range ranking {
			entry, ok := merged[r.ChunkID]
			if !ok {
				c := r
				c.VectorScore = 0
				c.KeywordScore = 0
				c.GraphScore = 0
				merged[r.ChunkID] = &c
				entry = merged[r.ChunkID]
			}
			switch name {
			case "vector":
				entry.VectorScore = r.Score
			case "keyword":
				entry.KeywordScore = r.Score
			case "graph":
				entry.GraphScore = r.Score
			}
			if entry.Text == "" && r.Text != "" {
				entry.Text = r.Text
				entry.Metadata = r.Metadata
			}
			rrf[r.ChunkID] += 1.0 / float64(k+rank+1)
		}
	}

	results := make([]model.SearchResult, 0, len(merged))
	for id, r := range merged {
		r.Score = rrf[id]
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if len(results) > 0 && results[0].Score > 0 {
		max := results[0].Score
		for i := range results {
			results[i].Score /= max
		}
	}
	return results
}
