package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/agentbrain/agentbrain/internal/config"
	braerr "github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/graph"
	"github.com/agentbrain/agentbrain/internal/model"
)

// RelationalBackendConfig configures the Postgres backend.
type RelationalBackendConfig struct {
	Relational config.RelationalConfig
	Dimensions int
}

// Relational is the Postgres backend: pgvector HNSW for vectors, native
// full-text search for keywords. Graph operations are not available here;
// graph-dependent callers must run on the embedded backend.
type Relational struct {
	cfg    RelationalBackendConfig
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu          sync.RWMutex
	initialized bool
}

var _ Backend = (*Relational)(nil)

// NewRelational connects the pool. Call Initialize to create the schema.
func NewRelational(ctx context.Context, cfg RelationalBackendConfig, logger *slog.Logger) (*Relational, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dimensions <= 0 {
		return nil, braerr.Validation("embedding dimensions must be positive")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Relational.ConnString())
	if err != nil {
		return nil, braerr.New(braerr.ErrCodeConfigInvalid,
			fmt.Sprintf("parse database config: %v", err), err)
	}
	if cfg.Relational.PoolSize > 0 {
		poolCfg.MaxConns = int32(cfg.Relational.PoolSize + cfg.Relational.PoolMaxOverflow)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, braerr.Storage(config.BackendRelational, err)
	}

	return &Relational{cfg: cfg, pool: pool, logger: logger}, nil
}

func (r *Relational) Name() string { return config.BackendRelational }

// Initialize creates the extension, tables, and indexes. Idempotent.
func (r *Relational) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return nil
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id           TEXT PRIMARY KEY,
			source       TEXT NOT NULL,
			source_type  TEXT NOT NULL,
			language     TEXT NOT NULL DEFAULT '',
			chunk_index  INT NOT NULL,
			token_count  INT NOT NULL,
			content      TEXT NOT NULL,
			metadata     JSONB NOT NULL,
			embedding    VECTOR(%d),
			tsv          TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
		)`, r.cfg.Dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS chunks_embedding_idx
			ON chunks USING hnsw (embedding vector_cosine_ops)
			WITH (m = %d, ef_construction = %d)`,
			defaultInt(r.cfg.Relational.HNSWM, 16),
			defaultInt(r.cfg.Relational.HNSWEfConstruction, 64)),
		`CREATE INDEX IF NOT EXISTS chunks_tsv_idx ON chunks USING gin (tsv)`,
		`CREATE INDEX IF NOT EXISTS chunks_source_idx ON chunks (source)`,
		`CREATE TABLE IF NOT EXISTS embedding_metadata (
			singleton  BOOL PRIMARY KEY DEFAULT TRUE CHECK (singleton),
			provider   TEXT NOT NULL,
			model      TEXT NOT NULL,
			dimensions INT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return braerr.Storage(config.BackendRelational, err)
		}
	}

	r.initialized = true
	r.logger.Info("relational backend initialized",
		"host", r.cfg.Relational.Host,
		"database", r.cfg.Relational.Database,
		"dimensions", r.cfg.Dimensions)
	return nil
}

func (r *Relational) IsInitialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

func (r *Relational) checkInitialized() error {
	if !r.IsInitialized() {
		return braerr.New(braerr.ErrCodeStorage, "relational backend not initialized", nil)
	}
	return nil
}

// UpsertDocuments writes chunks in one transaction, replacing rows that
// share an ID.
func (r *Relational) UpsertDocuments(ctx context.Context, chunks []model.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return braerr.Validation(fmt.Sprintf(
			"chunks and embeddings length mismatch: %d vs %d", len(chunks), len(embeddings)))
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := r.checkInitialized(); err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return braerr.Storage(config.BackendRelational, err)
	}
	defer tx.Rollback(ctx)

	const upsert = `INSERT INTO chunks
		(id, source, source_type, language, chunk_index, token_count, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			source = EXCLUDED.source,
			source_type = EXCLUDED.source_type,
			language = EXCLUDED.language,
			chunk_index = EXCLUDED.chunk_index,
			token_count = EXCLUDED.token_count,
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`

	for i, c := range chunks {
		metaJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return braerr.Storage(config.BackendRelational, err)
		}
		_, err = tx.Exec(ctx, upsert,
			c.ID, c.Metadata.Source, string(c.Metadata.SourceType), c.Metadata.Language,
			c.Index, c.TokenCount, c.Text, metaJSON, pgvector.NewVector(embeddings[i]))
		if err != nil {
			return braerr.Storage(config.BackendRelational, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return braerr.Storage(config.BackendRelational, err)
	}
	return nil
}

// DeleteByIDs removes chunks in batches. An empty slice is a no-op.
func (r *Relational) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.checkInitialized(); err != nil {
		return err
	}

	for start := 0; start < len(ids); start += DeleteBatchSize {
		end := start + DeleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		if _, err := r.pool.Exec(ctx,
			`DELETE FROM chunks WHERE id = ANY($1)`, ids[start:end]); err != nil {
			return braerr.Storage(config.BackendRelational, err)
		}
	}
	return nil
}

// DeleteBySource removes all chunks for a source path.
func (r *Relational) DeleteBySource(ctx context.Context, source string) (int, error) {
	if err := r.checkInitialized(); err != nil {
		return 0, err
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM chunks WHERE source = $1`, source)
	if err != nil {
		return 0, braerr.Storage(config.BackendRelational, err)
	}
	return int(tag.RowsAffected()), nil
}

// VectorSearch orders by cosine distance; score = 1 - distance/2. Source
// type, language, and min-score filters run in SQL, path globs in Go.
func (r *Relational) VectorSearch(ctx context.Context, embedding []float32, topK int, minScore float64, filters *SearchFilters) ([]model.SearchResult, error) {
	if err := r.checkInitialized(); err != nil {
		return nil, err
	}

	topK = clampTopK(topK)
	fetch := topK
	if filters != nil && len(filters.PathGlobs) > 0 {
		fetch = topK * 3
	}

	query := `SELECT id, content, metadata, embedding <=> $1 AS distance
		FROM chunks WHERE embedding IS NOT NULL`
	args := []any{pgvector.NewVector(embedding)}
	query, args = appendSQLFilters(query, args, filters)
	if minScore > 0 {
		// score >= minScore expressed on the distance column.
		args = append(args, 2*(1-minScore))
		query += fmt.Sprintf(" AND embedding <=> $1 <= $%d", len(args))
	}
	query += fmt.Sprintf(" ORDER BY distance LIMIT %d", fetch)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, braerr.New(braerr.ErrCodeSearchFailed, fmt.Sprintf("vector search: %v", err), err)
	}
	defer rows.Close()

	results := make([]model.SearchResult, 0, topK)
	for rows.Next() {
		var (
			id, content string
			metaJSON    []byte
			distance    float64
		)
		if err := rows.Scan(&id, &content, &metaJSON, &distance); err != nil {
			return nil, braerr.Storage(config.BackendRelational, err)
		}
		meta, err := decodeMetadata(metaJSON)
		if err != nil {
			return nil, err
		}
		if !globsMatch(filters, meta.Source) {
			continue
		}
		score := 1.0 - distance/2.0
		results = append(results, model.SearchResult{
			ChunkID:     id,
			Text:        content,
			Metadata:    meta,
			Score:       score,
			VectorScore: score,
		})
		if len(results) == topK {
			break
		}
	}
	return results, rows.Err()
}

// KeywordSearch ranks with ts_rank_cd and normalizes per result set by the
// maximum rank.
func (r *Relational) KeywordSearch(ctx context.Context, queryStr string, topK int, filters *SearchFilters) ([]model.SearchResult, error) {
	if err := r.checkInitialized(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(queryStr) == "" {
		return nil, nil
	}

	topK = clampTopK(topK)
	fetch := topK
	if filters != nil && len(filters.PathGlobs) > 0 {
		fetch = topK * 3
	}

	query := `SELECT id, content, metadata,
			ts_rank_cd(tsv, plainto_tsquery('english', $1)) AS rank
		FROM chunks WHERE tsv @@ plainto_tsquery('english', $1)`
	args := []any{queryStr}
	query, args = appendSQLFilters(query, args, filters)
	query += fmt.Sprintf(" ORDER BY rank DESC LIMIT %d", fetch)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, braerr.New(braerr.ErrCodeSearchFailed, fmt.Sprintf("keyword search: %v", err), err)
	}
	defer rows.Close()

	type rawHit struct {
		id      string
		content string
		meta    model.ChunkMetadata
		rank    float64
	}
	var hits []rawHit
	maxRank := 0.0
	for rows.Next() {
		var h rawHit
		var metaJSON []byte
		if err := rows.Scan(&h.id, &h.content, &metaJSON, &h.rank); err != nil {
			return nil, braerr.Storage(config.BackendRelational, err)
		}
		if h.meta, err = decodeMetadata(metaJSON); err != nil {
			return nil, err
		}
		if !globsMatch(filters, h.meta.Source) {
			continue
		}
		if h.rank > maxRank {
			maxRank = h.rank
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, braerr.Storage(config.BackendRelational, err)
	}

	results := make([]model.SearchResult, 0, topK)
	for _, h := range hits {
		score := 0.0
		if maxRank > 0 {
			score = h.rank / maxRank
		}
		results = append(results, model.SearchResult{
			ChunkID:      h.id,
			Text:         h.content,
			Metadata:     h.meta,
			Score:        score,
			KeywordScore: score,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// GetCount counts chunks matching the filters. Source type and language
// predicates run in SQL; path globs are matched in Go over sources.
func (r *Relational) GetCount(ctx context.Context, filters *SearchFilters) (int, error) {
	if err := r.checkInitialized(); err != nil {
		return 0, err
	}

	if filters == nil || len(filters.PathGlobs) == 0 {
		query := `SELECT COUNT(*) FROM chunks WHERE TRUE`
		var args []any
		query, args = appendSQLFilters(query, args, filters)
		var count int
		if err := r.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
			return 0, braerr.Storage(config.BackendRelational, err)
		}
		return count, nil
	}

	query := `SELECT source FROM chunks WHERE TRUE`
	var args []any
	query, args = appendSQLFilters(query, args, filters)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return 0, braerr.Storage(config.BackendRelational, err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var source string
		if err := rows.Scan(&source); err != nil {
			return 0, braerr.Storage(config.BackendRelational, err)
		}
		if globsMatch(filters, source) {
			count++
		}
	}
	return count, rows.Err()
}

func (r *Relational) GetByID(ctx context.Context, id string) (*model.SearchResult, error) {
	if err := r.checkInitialized(); err != nil {
		return nil, err
	}

	var content string
	var metaJSON []byte
	err := r.pool.QueryRow(ctx,
		`SELECT content, metadata FROM chunks WHERE id = $1`, id).Scan(&content, &metaJSON)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, braerr.Storage(config.BackendRelational, err)
	}
	meta, err := decodeMetadata(metaJSON)
	if err != nil {
		return nil, err
	}
	return &model.SearchResult{
		ChunkID:  id,
		Text:     content,
		Metadata: meta,
		Score:    1.0,
	}, nil
}

// Reset truncates all data including embedding provenance.
func (r *Relational) Reset(ctx context.Context) error {
	if err := r.checkInitialized(); err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, `TRUNCATE chunks`); err != nil {
		return braerr.Storage(config.BackendRelational, err)
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM embedding_metadata`); err != nil {
		return braerr.Storage(config.BackendRelational, err)
	}
	return nil
}

func (r *Relational) GetEmbeddingMetadata(ctx context.Context) (*model.EmbeddingMetadata, error) {
	if err := r.checkInitialized(); err != nil {
		return nil, err
	}
	var meta model.EmbeddingMetadata
	err := r.pool.QueryRow(ctx,
		`SELECT provider, model, dimensions FROM embedding_metadata`).
		Scan(&meta.Provider, &meta.Model, &meta.Dimensions)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, braerr.Storage(config.BackendRelational, err)
	}
	return &meta, nil
}

func (r *Relational) SetEmbeddingMetadata(ctx context.Context, meta model.EmbeddingMetadata) error {
	if err := r.checkInitialized(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO embedding_metadata (singleton, provider, model, dimensions)
		VALUES (TRUE, $1, $2, $3)
		ON CONFLICT (singleton) DO UPDATE SET
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			dimensions = EXCLUDED.dimensions`,
		meta.Provider, meta.Model, meta.Dimensions)
	if err != nil {
		return braerr.Storage(config.BackendRelational, err)
	}
	return nil
}

func (r *Relational) ValidateEmbeddingCompatibility(ctx context.Context, meta model.EmbeddingMetadata) error {
	stored, err := r.GetEmbeddingMetadata(ctx)
	if err != nil {
		return err
	}
	if stored == nil || stored.IsZero() {
		return r.SetEmbeddingMetadata(ctx, meta)
	}
	if !stored.Matches(meta.Provider, meta.Model, meta.Dimensions) {
		return braerr.ProviderMismatch(stored.String(), meta.String())
	}
	return nil
}

func (r *Relational) SupportsGraph() bool { return false }

func (r *Relational) GraphPutTriplets(ctx context.Context, triplets []model.Triplet) error {
	return braerr.BackendUnsupported("graph_put_triplets", config.BackendRelational, config.BackendEmbedded)
}

func (r *Relational) GraphNeighbors(ctx context.Context, entity string, depth int) ([]graph.Neighbor, error) {
	return nil, braerr.BackendUnsupported("graph_neighbors", config.BackendRelational, config.BackendEmbedded)
}

func (r *Relational) GraphHasEntity(string) bool      { return false }
func (r *Relational) GraphEntityFrequency(string) int { return 0 }

func (r *Relational) Close() error {
	r.pool.Close()
	return nil
}

// appendSQLFilters adds source_type and language predicates with positional
// args. Path globs are matched in Go after the fetch.
func appendSQLFilters(query string, args []any, filters *SearchFilters) (string, []any) {
	if filters == nil {
		return query, args
	}
	if len(filters.SourceTypes) > 0 {
		types := make([]string, len(filters.SourceTypes))
		for i, t := range filters.SourceTypes {
			types[i] = string(t)
		}
		args = append(args, types)
		query += fmt.Sprintf(" AND source_type = ANY($%d)", len(args))
	}
	if len(filters.Languages) > 0 {
		args = append(args, filters.Languages)
		query += fmt.Sprintf(" AND language = ANY($%d)", len(args))
	}
	return query, args
}

// globsMatch applies only the path-glob part of the filters.
func globsMatch(filters *SearchFilters, source string) bool {
	if filters == nil || len(filters.PathGlobs) == 0 {
		return true
	}
	return MatchesAnyGlob(filters.PathGlobs, source)
}

func decodeMetadata(metaJSON []byte) (model.ChunkMetadata, error) {
	var meta model.ChunkMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return meta, braerr.New(braerr.ErrCodeCorruptState,
			fmt.Sprintf("decode chunk metadata: %v", err), err)
	}
	return meta, nil
}

func defaultInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
