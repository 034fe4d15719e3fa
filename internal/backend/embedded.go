package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio"
	"golang.org/x/sync/semaphore"

	"github.com/agentbrain/agentbrain/internal/config"
	braerr "github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/graph"
	"github.com/agentbrain/agentbrain/internal/model"
)

// Embedded state-directory layout.
const (
	vectorDirName    = "embedded_vector"
	keywordDirName   = "embedded_keyword"
	graphDirName     = "graph_index"
	graphFileName    = "graph_store.json"
	vectorFileName   = "vectors.hnsw"
	docStoreFileName = "chunks.gob"
	embedMetaName    = "embedding_metadata.json"
)

// maxConcurrentOps bounds concurrent heavy operations on the embedded
// backend. The underlying indexes are synchronous; the semaphore keeps the
// asynchronous contract honest under load instead of letting callers pile
// onto the same mutexes.
const maxConcurrentOps = 8

// EmbeddedConfig configures the embedded backend.
type EmbeddedConfig struct {
	// StateDir is the per-project state directory.
	StateDir string

	// Dimensions is the embedding dimension count for a fresh index. An
	// existing index keeps its stored dimensions.
	Dimensions int
}

// Embedded is the local-first backend: HNSW vectors, a Bleve BM25 keyword
// index, full chunk payloads in a gob doc store, and a JSON property graph.
type Embedded struct {
	cfg    EmbeddedConfig
	logger *slog.Logger
	sem    *semaphore.Weighted

	mu          sync.RWMutex
	initialized bool
	vectors     *vectorIndex
	keywords    *keywordIndex
	docs        *docStore
	graphStore  *graph.Store
	embedMeta   *model.EmbeddingMetadata
}

var _ Backend = (*Embedded)(nil)

// NewEmbedded creates the embedded backend. Call Initialize before use.
func NewEmbedded(cfg EmbeddedConfig, logger *slog.Logger) (*Embedded, error) {
	if cfg.StateDir == "" {
		return nil, braerr.Validation("state directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedded{
		cfg:    cfg,
		logger: logger,
		sem:    semaphore.NewWeighted(maxConcurrentOps),
	}, nil
}

func (e *Embedded) Name() string { return config.BackendEmbedded }

// Initialize opens or creates all on-disk structures. Idempotent.
func (e *Embedded) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}

	vectorPath := filepath.Join(e.cfg.StateDir, vectorDirName, vectorFileName)

	dims := e.cfg.Dimensions
	stored, err := StoredDimensions(vectorPath)
	if err != nil {
		return err
	}
	if stored > 0 {
		dims = stored
	}
	if dims <= 0 {
		return braerr.Validation("embedding dimensions must be positive")
	}

	vectors := newVectorIndex(dims)
	if err := vectors.Load(vectorPath); err != nil {
		return braerr.Storage(config.BackendEmbedded, err)
	}

	keywords, err := newKeywordIndex(filepath.Join(e.cfg.StateDir, keywordDirName))
	if err != nil {
		return braerr.Storage(config.BackendEmbedded, err)
	}

	docs, err := newDocStore(filepath.Join(e.cfg.StateDir, vectorDirName, docStoreFileName))
	if err != nil {
		keywords.Close()
		return braerr.Storage(config.BackendEmbedded, err)
	}

	graphStore, err := graph.NewStore(filepath.Join(e.cfg.StateDir, graphDirName, graphFileName))
	if err != nil {
		keywords.Close()
		return err
	}

	meta, err := e.loadEmbedMeta()
	if err != nil {
		keywords.Close()
		return err
	}

	e.vectors = vectors
	e.keywords = keywords
	e.docs = docs
	e.graphStore = graphStore
	e.embedMeta = meta
	e.initialized = true

	e.logger.Info("embedded backend initialized",
		"state_dir", e.cfg.StateDir,
		"dimensions", dims,
		"chunks", docs.Count())
	return nil
}

func (e *Embedded) IsInitialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// acquire takes a semaphore slot and checks initialization. The returned
// release func must be called when the operation finishes.
func (e *Embedded) acquire(ctx context.Context) (func(), error) {
	if !e.IsInitialized() {
		return nil, braerr.New(braerr.ErrCodeStorage, "embedded backend not initialized", nil)
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { e.sem.Release(1) }, nil
}

// UpsertDocuments inserts or replaces chunks and their embeddings, then
// persists the vector and doc stores.
func (e *Embedded) UpsertDocuments(ctx context.Context, chunks []model.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return braerr.Validation(fmt.Sprintf(
			"chunks and embeddings length mismatch: %d vs %d", len(chunks), len(embeddings)))
	}
	if len(chunks) == 0 {
		return nil
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	ids := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		texts[i] = c.Text
	}

	if err := e.vectors.Add(ids, embeddings); err != nil {
		return err
	}
	if err := e.keywords.Index(ids, texts); err != nil {
		return braerr.Storage(config.BackendEmbedded, err)
	}
	e.docs.Put(chunks)

	return e.persist()
}

// DeleteByIDs removes chunks in batches. An empty slice is a no-op.
func (e *Embedded) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	release, err := e.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	for start := 0; start < len(ids); start += DeleteBatchSize {
		end := start + DeleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		e.vectors.Delete(batch)
		if err := e.keywords.Delete(batch); err != nil {
			return braerr.Storage(config.BackendEmbedded, err)
		}
		e.docs.Delete(batch)
		if err := e.graphStore.DeleteByChunkIDs(batch); err != nil {
			return err
		}
	}
	return e.persist()
}

// DeleteBySource removes every chunk indexed for a source path.
func (e *Embedded) DeleteBySource(ctx context.Context, source string) (int, error) {
	if !e.IsInitialized() {
		return 0, braerr.New(braerr.ErrCodeStorage, "embedded backend not initialized", nil)
	}
	ids := e.docs.IDsBySource(source)
	if len(ids) == 0 {
		return 0, nil
	}
	if err := e.DeleteByIDs(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// VectorSearch returns the nearest chunks by cosine similarity, scores in
// [0,1]. Hits below minScore are dropped.
func (e *Embedded) VectorSearch(ctx context.Context, embedding []float32, topK int, minScore float64, filters *SearchFilters) ([]model.SearchResult, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	topK = clampTopK(topK)
	fetch := topK
	if !filters.empty() {
		fetch = topK * 3
	}

	hits, err := e.vectors.Search(embedding, fetch)
	if err != nil {
		return nil, err
	}

	results := make([]model.SearchResult, 0, topK)
	for _, hit := range hits {
		if hit.Score < minScore {
			continue
		}
		c, ok := e.docs.Get(hit.ID)
		if !ok || !filters.match(c.Metadata) {
			continue
		}
		results = append(results, model.SearchResult{
			ChunkID:     c.ID,
			Text:        c.Text,
			Metadata:    c.Metadata,
			Score:       hit.Score,
			VectorScore: hit.Score,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// KeywordSearch returns BM25 matches with scores normalized per result set
// by dividing by the maximum score.
func (e *Embedded) KeywordSearch(ctx context.Context, query string, topK int, filters *SearchFilters) ([]model.SearchResult, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	topK = clampTopK(topK)
	fetch := topK
	if !filters.empty() {
		fetch = topK * 3
	}

	hits, err := e.keywords.Search(ctx, query, fetch)
	if err != nil {
		return nil, braerr.New(braerr.ErrCodeSearchFailed, fmt.Sprintf("keyword search: %v", err), err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	maxScore := hits[0].Score
	for _, hit := range hits {
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}

	results := make([]model.SearchResult, 0, topK)
	for _, hit := range hits {
		c, ok := e.docs.Get(hit.ID)
		if !ok || !filters.match(c.Metadata) {
			continue
		}
		score := 0.0
		if maxScore > 0 {
			score = hit.Score / maxScore
		}
		results = append(results, model.SearchResult{
			ChunkID:      c.ID,
			Text:         c.Text,
			Metadata:     c.Metadata,
			Score:        score,
			KeywordScore: score,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

func (e *Embedded) GetCount(ctx context.Context, filters *SearchFilters) (int, error) {
	if !e.IsInitialized() {
		return 0, braerr.New(braerr.ErrCodeStorage, "embedded backend not initialized", nil)
	}
	if filters.empty() {
		return e.docs.Count(), nil
	}
	return e.docs.CountWhere(filters.match), nil
}

func (e *Embedded) GetByID(ctx context.Context, id string) (*model.SearchResult, error) {
	if !e.IsInitialized() {
		return nil, braerr.New(braerr.ErrCodeStorage, "embedded backend not initialized", nil)
	}
	c, ok := e.docs.Get(id)
	if !ok {
		return nil, nil
	}
	return &model.SearchResult{
		ChunkID:  c.ID,
		Text:     c.Text,
		Metadata: c.Metadata,
		Score:    1.0,
	}, nil
}

// Reset drops all stored data and starts fresh. Takes every semaphore slot
// so no search or upsert runs concurrently with the swap.
func (e *Embedded) Reset(ctx context.Context) error {
	if !e.IsInitialized() {
		return braerr.New(braerr.ErrCodeStorage, "embedded backend not initialized", nil)
	}
	if err := e.sem.Acquire(ctx, maxConcurrentOps); err != nil {
		return err
	}
	defer e.sem.Release(maxConcurrentOps)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.keywords.Close(); err != nil {
		return braerr.Storage(config.BackendEmbedded, err)
	}
	keywordDir := filepath.Join(e.cfg.StateDir, keywordDirName)
	if err := os.RemoveAll(keywordDir); err != nil {
		return braerr.Storage(config.BackendEmbedded, err)
	}
	keywords, err := newKeywordIndex(keywordDir)
	if err != nil {
		return braerr.Storage(config.BackendEmbedded, err)
	}
	e.keywords = keywords

	dims := e.vectors.dimensions
	e.vectors = newVectorIndex(dims)
	e.docs.Reset()
	if err := e.graphStore.Reset(); err != nil {
		return err
	}

	e.embedMeta = nil
	metaPath := filepath.Join(e.cfg.StateDir, embedMetaName)
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return braerr.Storage(config.BackendEmbedded, err)
	}

	return e.persistLocked()
}

func (e *Embedded) GetEmbeddingMetadata(ctx context.Context) (*model.EmbeddingMetadata, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.embedMeta == nil {
		return nil, nil
	}
	meta := *e.embedMeta
	return &meta, nil
}

func (e *Embedded) SetEmbeddingMetadata(ctx context.Context, meta model.EmbeddingMetadata) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.embedMeta = &meta
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return braerr.Storage(config.BackendEmbedded, err)
	}
	metaPath := filepath.Join(e.cfg.StateDir, embedMetaName)
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		return braerr.Storage(config.BackendEmbedded, err)
	}
	if err := renameio.WriteFile(metaPath, data, 0o644); err != nil {
		return braerr.Storage(config.BackendEmbedded, err)
	}
	return nil
}

// ValidateEmbeddingCompatibility compares the stored embedding provenance
// against the current provider. First write records the provenance.
func (e *Embedded) ValidateEmbeddingCompatibility(ctx context.Context, meta model.EmbeddingMetadata) error {
	stored, err := e.GetEmbeddingMetadata(ctx)
	if err != nil {
		return err
	}
	if stored == nil || stored.IsZero() {
		return e.SetEmbeddingMetadata(ctx, meta)
	}
	if !stored.Matches(meta.Provider, meta.Model, meta.Dimensions) {
		return braerr.ProviderMismatch(stored.String(), meta.String())
	}
	return nil
}

func (e *Embedded) SupportsGraph() bool { return true }

func (e *Embedded) GraphPutTriplets(ctx context.Context, triplets []model.Triplet) error {
	if !e.IsInitialized() {
		return braerr.New(braerr.ErrCodeStorage, "embedded backend not initialized", nil)
	}
	return e.graphStore.Put(triplets)
}

func (e *Embedded) GraphNeighbors(ctx context.Context, entity string, depth int) ([]graph.Neighbor, error) {
	if !e.IsInitialized() {
		return nil, braerr.New(braerr.ErrCodeStorage, "embedded backend not initialized", nil)
	}
	return e.graphStore.Neighbors(entity, depth), nil
}

func (e *Embedded) GraphHasEntity(entity string) bool {
	if !e.IsInitialized() {
		return false
	}
	return e.graphStore.HasEntity(entity)
}

func (e *Embedded) GraphEntityFrequency(entity string) int {
	if !e.IsInitialized() {
		return 0
	}
	return e.graphStore.EntityFrequency(entity)
}

// Close persists and releases everything.
func (e *Embedded) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil
	}
	if err := e.persistLocked(); err != nil {
		return err
	}
	e.initialized = false
	return e.keywords.Close()
}

func (e *Embedded) persist() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.persistLocked()
}

func (e *Embedded) persistLocked() error {
	vectorPath := filepath.Join(e.cfg.StateDir, vectorDirName, vectorFileName)
	if err := e.vectors.Save(vectorPath); err != nil {
		return braerr.Storage(config.BackendEmbedded, err)
	}
	if err := e.docs.Save(); err != nil {
		return braerr.Storage(config.BackendEmbedded, err)
	}
	return nil
}

func (e *Embedded) loadEmbedMeta() (*model.EmbeddingMetadata, error) {
	data, err := os.ReadFile(filepath.Join(e.cfg.StateDir, embedMetaName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, braerr.Storage(config.BackendEmbedded, err)
	}
	var meta model.EmbeddingMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, braerr.New(braerr.ErrCodeCorruptState,
			fmt.Sprintf("decode embedding metadata: %v", err), err)
	}
	return &meta, nil
}

// empty reports whether the filters match everything.
func (f *SearchFilters) empty() bool {
	return f == nil || (len(f.SourceTypes) == 0 && len(f.Languages) == 0 && len(f.PathGlobs) == 0)
}

// match applies the filters to one chunk's metadata.
func (f *SearchFilters) match(meta model.ChunkMetadata) bool {
	if f.empty() {
		return true
	}
	if len(f.SourceTypes) > 0 && !containsSourceType(f.SourceTypes, meta.SourceType) {
		return false
	}
	if len(f.Languages) > 0 && !containsString(f.Languages, meta.Language) {
		return false
	}
	if len(f.PathGlobs) > 0 && !MatchesAnyGlob(f.PathGlobs, meta.Source) {
		return false
	}
	return true
}

func containsSourceType(list []model.SourceType, v model.SourceType) bool {
	for _, t := range list {
		if t == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// MatchesAnyGlob matches a slash-separated path against the globs. A glob
// with no slash also matches against the base name, so "*.go" works for
// nested paths.
func MatchesAnyGlob(globs []string, p string) bool {
	for _, g := range globs {
		if ok, _ := path.Match(g, p); ok {
			return true
		}
		if !strings.Contains(g, "/") {
			if ok, _ := path.Match(g, path.Base(p)); ok {
				return true
			}
		}
	}
	return false
}
