// Package pipeline orchestrates indexing: walk a folder, chunk each file,
// extract graph triplets, embed in batches, and prune-and-upsert into the
// storage backend, tracking per-file state in a JSONL manifest.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentbrain/agentbrain/internal/backend"
	"github.com/agentbrain/agentbrain/internal/chunk"
	braerr "github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/graph"
	"github.com/agentbrain/agentbrain/internal/model"
	"github.com/agentbrain/agentbrain/internal/provider"
)

// DefaultProgressEvery is how many files pass between progress reports.
const DefaultProgressEvery = 50

// Progress is a point-in-time snapshot of a running index job.
type Progress struct {
	FilesProcessed int     `json:"files_processed"`
	FilesTotal     int     `json:"files_total"`
	ChunksCreated  int     `json:"chunks_created"`
	CurrentFile    string  `json:"current_file"`
	Percent        float64 `json:"percent"`
}

// ProgressFunc receives periodic progress during Run.
type ProgressFunc func(Progress)

// Options tunes a single Run.
type Options struct {
	// IncludeCode false indexes only doc files.
	IncludeCode bool

	// Patterns restricts the scan to matching paths.
	Patterns []string

	// Force authorizes a full backend reset when the stored embedding
	// metadata does not match the current provider.
	Force bool

	// BatchSize for embedding calls. Defaults to provider.DefaultBatchSize.
	BatchSize int

	// ProgressEvery is the reporting interval in files. Defaults to
	// DefaultProgressEvery.
	ProgressEvery int

	// OnProgress, when set, receives progress snapshots.
	OnProgress ProgressFunc
}

// Result summarizes a completed Run.
type Result struct {
	FilesProcessed int `json:"files_processed"`
	FilesSkipped   int `json:"files_skipped"`
	ChunksCreated  int `json:"chunks_created"`
	ChunksDeleted  int `json:"chunks_deleted"`
	SourcesRemoved int `json:"sources_removed"`
}

// Pipeline indexes folders into a backend.
type Pipeline struct {
	backend      backend.Backend
	embedder     provider.Embedder
	loader       *Loader
	docChunker   *chunk.DocChunker
	codeChunker  *chunk.CodeChunker
	metadata     *graph.MetadataExtractor
	llm          *graph.LLMExtractor
	manifestPath string
	logger       *slog.Logger
}

// New builds a pipeline. llm may be nil, which disables the LLM triplet
// pass. manifestPath is where the file manifest lives.
func New(b backend.Backend, embedder provider.Embedder, llm *graph.LLMExtractor, manifestPath string, logger *slog.Logger) (*Pipeline, error) {
	if b == nil || embedder == nil {
		return nil, braerr.New(braerr.ErrCodeInvalidInput, "pipeline requires a backend and an embedder", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		backend:      b,
		embedder:     embedder,
		loader:       NewLoader(),
		docChunker:   chunk.NewDocChunker(),
		codeChunker:  chunk.NewCodeChunker(),
		metadata:     graph.NewMetadataExtractor(),
		llm:          llm,
		manifestPath: manifestPath,
		logger:       logger,
	}, nil
}

// Run indexes root. It validates embedding compatibility before any write,
// processes files sequentially with prune-and-upsert semantics, and finishes
// with a rename/delete sweep over the manifest.
func (p *Pipeline) Run(ctx context.Context, root string, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, braerr.New(braerr.ErrCodeIndexFailed, "indexing cancelled", err)
	}
	if err := p.validateCompatibility(ctx, opts.Force); err != nil {
		return nil, err
	}

	entries, err := p.loader.Scan(root, LoadOptions{
		IncludeCode: opts.IncludeCode,
		Patterns:    opts.Patterns,
	})
	if err != nil {
		return nil, err
	}

	manifest, err := LoadManifest(p.manifestPath)
	if err != nil {
		return nil, err
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = provider.DefaultBatchSize
	}
	every := opts.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}

	result := &Result{}
	seen := make(map[string]bool, len(entries))

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, braerr.New(braerr.ErrCodeIndexFailed, "indexing cancelled", err)
		}
		seen[entry.Path] = true

		deleted, created, err := p.processFile(ctx, entry, manifest, batchSize)
		if err != nil {
			return result, err
		}
		if created < 0 {
			result.FilesSkipped++
		} else {
			result.ChunksCreated += created
			result.ChunksDeleted += deleted
		}
		result.FilesProcessed++

		if opts.OnProgress != nil && (result.FilesProcessed%every == 0 || i == len(entries)-1) {
			opts.OnProgress(Progress{
				FilesProcessed: result.FilesProcessed,
				FilesTotal:     len(entries),
				ChunksCreated:  result.ChunksCreated,
				CurrentFile:    entry.Path,
				Percent:        100 * float64(result.FilesProcessed) / float64(len(entries)),
			})
		}
	}

	removed, pruned, err := p.sweep(ctx, manifest, seen)
	if err != nil {
		return result, err
	}
	result.SourcesRemoved = removed
	result.ChunksDeleted += pruned

	if err := manifest.Save(); err != nil {
		return result, err
	}

	p.logger.Info("indexing complete",
		"files", result.FilesProcessed,
		"skipped", result.FilesSkipped,
		"chunks_created", result.ChunksCreated,
		"chunks_deleted", result.ChunksDeleted,
		"sources_removed", result.SourcesRemoved)
	return result, nil
}

// validateCompatibility fails fast on embedding provenance drift. With
// force set, a mismatch resets the backend instead.
func (p *Pipeline) validateCompatibility(ctx context.Context, force bool) error {
	meta := model.EmbeddingMetadata{
		Provider:   p.embedder.ProviderName(),
		Model:      p.embedder.ModelName(),
		Dimensions: p.embedder.Dimensions(),
	}
	err := p.backend.ValidateEmbeddingCompatibility(ctx, meta)
	if err == nil {
		return nil
	}
	if !force || !braerr.HasCode(err, braerr.ErrCodeProviderMismatch) {
		return err
	}

	p.logger.Warn("embedding metadata mismatch, resetting backend", "new", meta.String())
	if err := p.backend.Reset(ctx); err != nil {
		return err
	}
	return p.backend.ValidateEmbeddingCompatibility(ctx, meta)
}

// processFile runs prune-and-upsert for one file. created is -1 when the
// file was skipped (unchanged or binary).
func (p *Pipeline) processFile(ctx context.Context, entry FileEntry, manifest *Manifest, batchSize int) (deleted, created int, err error) {
	content, err := ReadFile(entry)
	if err != nil {
		p.logger.Warn("skipping unreadable file", "path", entry.Path, "error", err)
		return 0, -1, nil
	}
	if content == nil {
		return 0, -1, nil
	}

	hash := model.ContentHash(content)
	previous, tracked := manifest.Get(entry.Path)
	if tracked && previous.ContentHash == hash {
		return 0, -1, nil
	}

	chunks, err := p.chunkFile(ctx, entry, content)
	if err != nil {
		return 0, 0, braerr.New(braerr.ErrCodeIndexFailed,
			fmt.Sprintf("chunk %s: %v", entry.Path, err), err)
	}
	// Prune before upsert: IDs are positional, so a shrinking file leaves
	// stale high-index chunks behind unless they are deleted here. A file
	// shrinking to zero chunks prunes the same way.
	switch {
	case tracked && previous.ChunkCount > len(chunks):
		stale := make([]string, 0, previous.ChunkCount-len(chunks))
		for i := len(chunks); i < previous.ChunkCount; i++ {
			stale = append(stale, model.ChunkID(entry.Path, i))
		}
		if err := p.backend.DeleteByIDs(ctx, stale); err != nil {
			return 0, 0, err
		}
		deleted = len(stale)
	case !tracked:
		// No manifest record means prior chunk IDs are unknown.
		n, err := p.backend.DeleteBySource(ctx, entry.Path)
		if err != nil {
			return 0, 0, err
		}
		deleted = n
	}

	if len(chunks) == 0 {
		manifest.Put(model.ManifestEntry{
			Path: entry.Path, ChunkCount: 0, ContentHash: hash, IndexedAt: time.Now().UTC(),
		})
		if err := manifest.Save(); err != nil {
			return deleted, 0, err
		}
		return deleted, 0, nil
	}

	embeddings, err := p.embedChunks(ctx, chunks, batchSize)
	if err != nil {
		return deleted, 0, err
	}
	if err := p.backend.UpsertDocuments(ctx, chunks, embeddings); err != nil {
		return deleted, 0, err
	}

	if entry.SourceType != model.SourceTypeDoc && p.backend.SupportsGraph() {
		if err := p.extractTriplets(ctx, chunks); err != nil {
			return deleted, len(chunks), err
		}
	}

	manifest.Put(model.ManifestEntry{
		Path:        entry.Path,
		ChunkCount:  len(chunks),
		ContentHash: hash,
		IndexedAt:   time.Now().UTC(),
	})
	if err := manifest.Save(); err != nil {
		return deleted, len(chunks), err
	}
	return deleted, len(chunks), nil
}

// chunkFile dispatches to the doc or code chunker.
func (p *Pipeline) chunkFile(ctx context.Context, entry FileEntry, content []byte) ([]model.Chunk, error) {
	input := &chunk.FileInput{
		Path:       entry.Path,
		Content:    content,
		Language:   entry.Language,
		SourceType: entry.SourceType,
	}
	if entry.SourceType == model.SourceTypeDoc {
		return p.docChunker.Chunk(ctx, input)
	}
	return p.codeChunker.Chunk(ctx, input)
}

// embedChunks embeds chunk texts in provider-sized batches, preserving
// order.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []model.Chunk, batchSize int) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		batch, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, batch...)
	}
	return embeddings, nil
}

// extractTriplets runs the metadata pass and, when enabled, the LLM pass.
func (p *Pipeline) extractTriplets(ctx context.Context, chunks []model.Chunk) error {
	triplets := p.metadata.Extract(chunks)
	if p.llm != nil {
		for _, c := range chunks {
			triplets = append(triplets, p.llm.Extract(ctx, c, triplets)...)
		}
	}
	if len(triplets) == 0 {
		return nil
	}
	return p.backend.GraphPutTriplets(ctx, triplets)
}

// sweep removes sources tracked in the manifest but absent from the scan.
// A rename shows up as a delete of the old path plus a fresh index of the
// new one; matching content hashes identify the pair for logging.
func (p *Pipeline) sweep(ctx context.Context, manifest *Manifest, seen map[string]bool) (removed, pruned int, err error) {
	for _, path := range manifest.Paths() {
		if seen[path] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, pruned, braerr.New(braerr.ErrCodeIndexFailed, "indexing cancelled", err)
		}
		entry, _ := manifest.Get(path)
		n, err := p.backend.DeleteBySource(ctx, path)
		if err != nil {
			return removed, pruned, err
		}
		manifest.Delete(path)
		removed++
		pruned += n
		if renamedTo := manifest.FindByHash(entry.ContentHash); renamedTo != "" {
			p.logger.Debug("rename detected", "from", path, "to", renamedTo)
		} else {
			p.logger.Debug("source removed", "path", path, "chunks", n)
		}
	}
	return removed, pruned, nil
}
