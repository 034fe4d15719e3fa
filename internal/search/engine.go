package search

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/agentbrain/agentbrain/internal/backend"
	braerr "github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/model"
	"github.com/agentbrain/agentbrain/internal/provider"
)

// Engine runs queries against a backend in one of the five modes.
type Engine struct {
	backend  backend.Backend
	embedder provider.Embedder
	logger   *slog.Logger
}

// NewEngine wires the engine. The embedder is required for vector, hybrid,
// and multi modes.
func NewEngine(b backend.Backend, embedder provider.Embedder, logger *slog.Logger) (*Engine, error) {
	if b == nil {
		return nil, braerr.Validation("backend is required")
	}
	if embedder == nil {
		return nil, braerr.Validation("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{backend: b, embedder: embedder, logger: logger}, nil
}

// Search validates the request and dispatches to the mode. All returned
// scores are normalized to [0,1], higher is better.
func (e *Engine) Search(ctx context.Context, req Request) ([]model.SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, braerr.New(braerr.ErrCodeInvalidQuery, "query must not be empty", nil)
	}
	if !req.Mode.Valid() {
		return nil, braerr.New(braerr.ErrCodeInvalidQuery,
			fmt.Sprintf("unknown search mode %q", req.Mode), nil)
	}

	switch req.Mode {
	case ModeKeyword:
		return e.keywordSearch(ctx, req)
	case ModeVector:
		return e.vectorSearch(ctx, req)
	case ModeHybrid:
		return e.hybridSearch(ctx, req)
	case ModeGraph:
		return e.graphSearch(ctx, req)
	case ModeMulti:
		return e.multiSearch(ctx, req)
	}
	return nil, nil
}

func (e *Engine) keywordSearch(ctx context.Context, req Request) ([]model.SearchResult, error) {
	return e.backend.KeywordSearch(ctx, req.Query, req.TopK, req.Filters)
}

func (e *Engine) vectorSearch(ctx context.Context, req Request) ([]model.SearchResult, error) {
	embedding, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	return e.backend.VectorSearch(ctx, embedding, req.TopK, req.MinScore, req.Filters)
}

// hybridSearch runs both retrievers in parallel and fuses with relative
// scores. One retriever failing degrades to the other with a logged
// warning; both failing is an error.
func (e *Engine) hybridSearch(ctx context.Context, req Request) ([]model.SearchResult, error) {
	var vector, keyword []model.SearchResult
	var vectorErr, keywordErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vector, vectorErr = e.vectorSearch(gctx, req)
		return nil
	})
	g.Go(func() error {
		keyword, keywordErr = e.keywordSearch(gctx, req)
		return nil
	})
	_ = g.Wait()

	if vectorErr != nil && keywordErr != nil {
		return nil, braerr.New(braerr.ErrCodeSearchFailed,
			fmt.Sprintf("both retrievers failed: vector: %v; keyword: %v", vectorErr, keywordErr),
			vectorErr)
	}
	if vectorErr != nil {
		e.logger.Warn("vector retriever failed, degrading to keyword only", "error", vectorErr)
	}
	if keywordErr != nil {
		e.logger.Warn("keyword retriever failed, degrading to vector only", "error", keywordErr)
	}

	fused := fuseRelativeScore(vector, keyword, HybridAlpha)
	return truncate(fused, req.TopK), nil
}

// queryTokenRe extracts candidate entity tokens from a query.
var queryTokenRe = regexp.MustCompile(`[a-zA-Z0-9_./-]+`)

// graphSearch matches query tokens against known graph entities and
// traverses their neighborhoods. No entity match yields an empty result,
// not an error. A backend without graph support is an error naming the
// required backend.
func (e *Engine) graphSearch(ctx context.Context, req Request) ([]model.SearchResult, error) {
	if !e.backend.SupportsGraph() {
		return nil, braerr.BackendUnsupported("graph search", e.backend.Name(), "embedded")
	}

	entities := e.matchEntities(req.Query)
	if len(entities) == 0 {
		return []model.SearchResult{}, nil
	}

	depth := clampDepth(req.GraphDepth)

	// Best traversal score per chunk, with the entity frequency of the
	// matched entity that reached it as tie-breaker.
	type graphHit struct {
		score     float64
		frequency int
		path      []string
	}
	hits := make(map[string]graphHit)

	for _, entity := range entities {
		freq := e.backend.GraphEntityFrequency(entity)
		neighbors, err := e.backend.GraphNeighbors(ctx, entity, depth)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			existing, ok := hits[n.ChunkID]
			if !ok || n.Score > existing.score ||
				(n.Score == existing.score && freq > existing.frequency) {
				hits[n.ChunkID] = graphHit{score: n.Score, frequency: freq, path: n.Path}
			}
		}
	}

	ids := make([]string, 0, len(hits))
	for id := range hits {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := hits[ids[i]], hits[ids[j]]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.frequency != b.frequency {
			return a.frequency > b.frequency
		}
		return ids[i] < ids[j]
	})

	topK := req.TopK
	if topK <= 0 {
		topK = backend.DefaultTopK
	}

	results := make([]model.SearchResult, 0, topK)
	for _, id := range ids {
		record, err := e.backend.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if record == nil {
			continue
		}
		if !filtersMatch(req.Filters, record.Metadata) {
			continue
		}
		hit := hits[id]
		results = append(results, model.SearchResult{
			ChunkID:    id,
			Text:       record.Text,
			Metadata:   record.Metadata,
			Score:      hit.score,
			GraphScore: hit.score,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// multiSearch fuses vector, keyword, and graph rankings with RRF. On a
// backend without graph support it degrades to hybrid and logs the
// degradation.
func (e *Engine) multiSearch(ctx context.Context, req Request) ([]model.SearchResult, error) {
	if !e.backend.SupportsGraph() {
		e.logger.Warn("graph unavailable, degrading multi search to hybrid",
			"backend", e.backend.Name())
		return e.hybridSearch(ctx, req)
	}

	var vector, keyword, graphHits []model.SearchResult
	var vectorErr, keywordErr, graphErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vector, vectorErr = e.vectorSearch(gctx, req)
		return nil
	})
	g.Go(func() error {
		keyword, keywordErr = e.keywordSearch(gctx, req)
		return nil
	})
	g.Go(func() error {
		graphHits, graphErr = e.graphSearch(gctx, req)
		return nil
	})
	_ = g.Wait()

	if vectorErr != nil && keywordErr != nil && graphErr != nil {
		return nil, braerr.New(braerr.ErrCodeSearchFailed,
			fmt.Sprintf("all retrievers failed: vector: %v; keyword: %v; graph: %v",
				vectorErr, keywordErr, graphErr),
			vectorErr)
	}
	for name, err := range map[string]error{
		"vector": vectorErr, "keyword": keywordErr, "graph": graphErr,
	} {
		if err != nil {
			e.logger.Warn("retriever failed, continuing without it",
				"retriever", name, "error", err)
		}
	}

	fused := fuseReciprocalRank(map[string][]model.SearchResult{
		"vector":  vector,
		"keyword": keyword,
		"graph":   graphHits,
	}, RRFConstant)
	return truncate(fused, req.TopK), nil
}

// matchEntities returns query tokens known to the graph, longest first so
// specific names win the frequency tie-break ordering.
func (e *Engine) matchEntities(query string) []string {
	seen := make(map[string]bool)
	var entities []string
	for _, token := range queryTokenRe.FindAllString(query, -1) {
		lower := strings.ToLower(token)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		if e.backend.GraphHasEntity(token) {
			entities = append(entities, token)
		}
	}
	return entities
}

func truncate(results []model.SearchResult, topK int) []model.SearchResult {
	if topK <= 0 {
		topK = backend.DefaultTopK
	}
	if topK > backend.MaxTopK {
		topK = backend.MaxTopK
	}
	if len(results) > topK {
		return results[:topK]
	}
	return results
}

// filtersMatch mirrors the backend's metadata filtering for graph results,
// which bypass the backend search paths.
func filtersMatch(f *backend.SearchFilters, meta model.ChunkMetadata) bool {
	if f == nil {
		return true
	}
	if len(f.SourceTypes) > 0 {
		found := false
		for _, t := range f.SourceTypes {
			if t == meta.SourceType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Languages) > 0 {
		found := false
		for _, l := range f.Languages {
			if l == meta.Language {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.PathGlobs) > 0 && !backend.MatchesAnyGlob(f.PathGlobs, meta.Source) {
		return false
	}
	return true
}
