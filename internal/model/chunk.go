// Package model defines the canonical records shared across the indexing
// pipeline, the storage backends, and the retrieval engine: chunks, search
// results, graph triplets, manifest entries, and embedding metadata.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SourceType classifies the origin of a chunk.
type SourceType string

const (
	SourceTypeDoc  SourceType = "doc"
	SourceTypeCode SourceType = "code"
	SourceTypeTest SourceType = "test"
)

// SymbolKind is the kind of code symbol a code chunk is aligned to.
type SymbolKind string

const (
	SymbolKindModule   SymbolKind = "module"
	SymbolKindClass    SymbolKind = "class"
	SymbolKindFunction SymbolKind = "function"
	SymbolKindMethod   SymbolKind = "method"
)

// ChunkMetadata is the JSON-compatible metadata attached to every chunk.
// Doc chunks populate HeadingPath; code chunks populate the symbol fields.
type ChunkMetadata struct {
	Source     string     `json:"source"`
	SourceType SourceType `json:"source_type"`
	Language   string     `json:"language,omitempty"`

	// Code chunk fields.
	SymbolName string     `json:"symbol_name,omitempty"`
	SymbolKind SymbolKind `json:"symbol_kind,omitempty"`
	StartLine  int        `json:"start_line,omitempty"`
	EndLine    int        `json:"end_line,omitempty"`
	Docstring  string     `json:"docstring,omitempty"`
	Parameters []string   `json:"parameters,omitempty"`
	ReturnType string     `json:"return_type,omitempty"`
	Decorators []string   `json:"decorators,omitempty"`
	Imports    []string   `json:"imports,omitempty"`

	// Doc chunk fields.
	HeadingPath []string `json:"heading_path,omitempty"`
}

// Chunk is a retrievable unit of indexed content.
type Chunk struct {
	ID         string        `json:"id"`
	Text       string        `json:"text"`
	TokenCount int           `json:"token_count"`
	Index      int           `json:"index"` // position within the source file
	Metadata   ChunkMetadata `json:"metadata"`
}

// ChunkID derives the stable chunk identifier from source path and chunk
// index. The same (source, index) pair always yields the same ID, which is
// what makes prune-and-upsert re-indexing deterministic.
func ChunkID(source string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", source, index)))
	return hex.EncodeToString(sum[:])[:24]
}

// ContentHash returns the hash recorded in the file manifest for change and
// rename detection.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
