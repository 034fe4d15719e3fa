package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agentbrain/agentbrain/internal/model"
	"github.com/agentbrain/agentbrain/internal/provider"
)

// MaxTripletsPerChunk bounds how many LLM-extracted triplets one chunk may
// contribute.
const MaxTripletsPerChunk = 20

const tripletPrompt = `Extract knowledge triplets from the code below.
Return one triplet per line in the exact format:
subject|subject_type|predicate|object|object_type

Types: module, class, function, method, concept.
Return at most %d lines. No commentary, no numbering.

Code:
%s
`

// LLMExtractor asks the summarization provider for open-vocabulary triplets
// and merges them with the deterministic metadata pass. Extraction failures
// are logged and skipped, never fatal: the metadata triplets still stand.
type LLMExtractor struct {
	summarizer provider.Summarizer
	logger     *slog.Logger
}

func NewLLMExtractor(summarizer provider.Summarizer, logger *slog.Logger) *LLMExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMExtractor{summarizer: summarizer, logger: logger}
}

// Extract returns LLM triplets for a chunk, deduplicated against the
// existing set. A nil summarizer disables the pass.
func (e *LLMExtractor) Extract(ctx context.Context, chunk model.Chunk, existing []model.Triplet) []model.Triplet {
	if e.summarizer == nil {
		return nil
	}

	prompt := fmt.Sprintf(tripletPrompt, MaxTripletsPerChunk, chunk.Text)
	response, err := e.summarizer.Complete(ctx, prompt)
	if err != nil {
		e.logger.Warn("llm triplet extraction failed",
			"chunk_id", chunk.ID,
			"error", err)
		return nil
	}

	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t.Key()] = true
	}

	var triplets []model.Triplet
	for _, line := range strings.Split(response, "\n") {
		if len(triplets) >= MaxTripletsPerChunk {
			break
		}
		t, ok := parseTripletLine(line, chunk.ID)
		if !ok {
			continue
		}
		if key := t.Key(); !seen[key] {
			seen[key] = true
			triplets = append(triplets, t)
		}
	}
	return triplets
}

// parseTripletLine parses one pipe-delimited line. Malformed lines are
// dropped silently; LLM output is best-effort.
func parseTripletLine(line, chunkID string) (model.Triplet, bool) {
	parts := strings.Split(strings.TrimSpace(line), "|")
	if len(parts) != 5 {
		return model.Triplet{}, false
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if parts[0] == "" || parts[2] == "" || parts[3] == "" {
		return model.Triplet{}, false
	}

	return model.Triplet{
		Subject:       parts[0],
		SubjectType:   parseEntityType(parts[1]),
		Predicate:     strings.ToLower(parts[2]),
		Object:        parts[3],
		ObjectType:    parseEntityType(parts[4]),
		SourceChunkID: chunkID,
	}, true
}

func parseEntityType(s string) model.EntityType {
	switch model.EntityType(strings.ToLower(s)) {
	case model.EntityTypeModule, model.EntityTypeClass, model.EntityTypeFunction, model.EntityTypeMethod:
		return model.EntityType(strings.ToLower(s))
	default:
		return model.EntityTypeConcept
	}
}
