// Package backend provides the storage contract and its two
// implementations: an embedded store (HNSW vectors + Bleve keyword index +
// JSON property graph) and a relational store (Postgres with pgvector and
// full-text search).
package backend

import (
	"context"
	"log/slog"

	"github.com/agentbrain/agentbrain/internal/config"
	braerr "github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/graph"
	"github.com/agentbrain/agentbrain/internal/model"
)

const (
	// DefaultTopK is the result count when a query does not specify one.
	DefaultTopK = 10

	// MaxTopK caps the result count per query.
	MaxTopK = 100

	// DeleteBatchSize caps the number of IDs removed per storage round trip.
	DeleteBatchSize = 500
)

// SearchFilters narrows search results by chunk metadata. Empty fields
// match everything.
type SearchFilters struct {
	SourceTypes []model.SourceType `json:"source_types,omitempty"`
	Languages   []string           `json:"languages,omitempty"`
	PathGlobs   []string           `json:"path_globs,omitempty"`
}

// Backend is the storage contract. All scores returned by search methods
// are normalized to [0,1], higher is better. Implementations are safe for
// concurrent use.
type Backend interface {
	// Initialize prepares storage (creates directories, schema, indexes).
	// Idempotent.
	Initialize(ctx context.Context) error

	// IsInitialized reports whether Initialize has completed.
	IsInitialized() bool

	// Name returns the backend kind (embedded, relational).
	Name() string

	// UpsertDocuments inserts or replaces chunks with their embeddings.
	// len(chunks) must equal len(embeddings).
	UpsertDocuments(ctx context.Context, chunks []model.Chunk, embeddings [][]float32) error

	// DeleteByIDs removes chunks by ID. An empty slice is a no-op, not an
	// error. Unknown IDs are ignored.
	DeleteByIDs(ctx context.Context, ids []string) error

	// DeleteBySource removes all chunks for a source path and returns how
	// many were removed.
	DeleteBySource(ctx context.Context, source string) (int, error)

	// VectorSearch returns the topK nearest chunks by embedding similarity.
	// Results scoring below minScore are dropped; zero disables the
	// threshold.
	VectorSearch(ctx context.Context, embedding []float32, topK int, minScore float64, filters *SearchFilters) ([]model.SearchResult, error)

	// KeywordSearch returns the topK best keyword matches, scored by BM25
	// (embedded) or full-text rank (relational), normalized per result set.
	KeywordSearch(ctx context.Context, query string, topK int, filters *SearchFilters) ([]model.SearchResult, error)

	// GetCount returns the number of stored chunks matching the filters.
	// Nil filters count everything.
	GetCount(ctx context.Context, filters *SearchFilters) (int, error)

	// GetByID returns one chunk, or nil when absent.
	GetByID(ctx context.Context, id string) (*model.SearchResult, error)

	// Reset drops all stored data, including graph and embedding metadata.
	Reset(ctx context.Context) error

	// GetEmbeddingMetadata returns the recorded embedding provenance, or
	// nil when the store is empty and none was recorded.
	GetEmbeddingMetadata(ctx context.Context) (*model.EmbeddingMetadata, error)

	// SetEmbeddingMetadata records embedding provenance.
	SetEmbeddingMetadata(ctx context.Context, meta model.EmbeddingMetadata) error

	// ValidateEmbeddingCompatibility fails with a ProviderMismatch error
	// when the store already holds embeddings from a different provider,
	// model, or dimension count.
	ValidateEmbeddingCompatibility(ctx context.Context, meta model.EmbeddingMetadata) error

	// SupportsGraph reports whether graph operations are available.
	SupportsGraph() bool

	// GraphPutTriplets stores triplets. BackendUnsupported when graph is
	// unavailable.
	GraphPutTriplets(ctx context.Context, triplets []model.Triplet) error

	// GraphNeighbors traverses from an entity up to depth hops.
	GraphNeighbors(ctx context.Context, entity string, depth int) ([]graph.Neighbor, error)

	// GraphHasEntity reports whether the graph knows an entity by name.
	// Always false when graph is unavailable.
	GraphHasEntity(entity string) bool

	// GraphEntityFrequency returns the number of triplets touching an
	// entity. Zero when graph is unavailable.
	GraphEntityFrequency(entity string) int

	// Close flushes and releases resources.
	Close() error
}

// New builds the configured backend rooted at the project state directory.
func New(ctx context.Context, settings *config.ProviderSettings, stateDir string, dimensions int, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch settings.Storage.Backend {
	case config.BackendEmbedded:
		return NewEmbedded(EmbeddedConfig{
			StateDir:   stateDir,
			Dimensions: dimensions,
		}, logger)
	case config.BackendRelational:
		return NewRelational(ctx, RelationalBackendConfig{
			Relational: settings.Storage.Relational,
			Dimensions: dimensions,
		}, logger)
	default:
		return nil, braerr.New(braerr.ErrCodeUnknownBackend,
			"unknown storage backend "+settings.Storage.Backend, nil)
	}
}

// clampTopK applies the default and the cap.
func clampTopK(topK int) int {
	if topK <= 0 {
		return DefaultTopK
	}
	if topK > MaxTopK {
		return MaxTopK
	}
	return topK
}
