// Package chunk splits source files into retrievable units. Documents are
// chunked along heading and paragraph structure; code is chunked along
// AST symbol boundaries via tree-sitter.
package chunk

import (
	"context"

	"github.com/agentbrain/agentbrain/internal/model"
)

// Chunk size defaults.
const (
	// DefaultMaxChunkTokens is the target chunk size for doc chunks.
	DefaultMaxChunkTokens = 512

	// DefaultOverlapTokens is the overlap between consecutive doc chunks.
	DefaultOverlapTokens = 50

	// TokensPerChar is the rough chars-per-token approximation used for
	// budget estimates.
	TokensPerChar = 4

	// MaxChunkChars is the character budget for a single code chunk.
	// Symbols above this are split at line boundaries.
	MaxChunkChars = DefaultMaxChunkTokens * TokensPerChar
)

// FileInput is the input to a Chunker.
type FileInput struct {
	Path       string           // path relative to the indexed folder root
	Content    []byte           // file content
	Language   string           // go, python, typescript, ... (code only)
	SourceType model.SourceType // doc, code, or test
}

// Chunker splits a file into chunks. Implementations assign sequential
// chunk indices starting at 0 and derive IDs via model.ChunkID, so chunking
// the same content twice yields identical IDs.
type Chunker interface {
	Chunk(ctx context.Context, file *FileInput) ([]model.Chunk, error)
}

// Symbol holds the AST facts extracted for one code declaration.
type Symbol struct {
	Name       string
	Kind       model.SymbolKind
	StartLine  int // 1-indexed
	EndLine    int // inclusive
	Docstring  string
	Parameters []string
	ReturnType string
	Decorators []string
}

// estimateTokens estimates the number of tokens in content.
func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}
