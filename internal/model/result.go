package model

import "fmt"

// SearchResult is the backend-agnostic search result record. Score is always
// normalized to [0,1], higher is better, regardless of which backend or
// retriever produced it. Component scores are populated by fusion modes.
type SearchResult struct {
	ChunkID  string        `json:"chunk_id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
	Score    float64       `json:"score"`

	// Component scores, set when hybrid or multi fusion ran.
	VectorScore  float64 `json:"vector_score,omitempty"`
	KeywordScore float64 `json:"keyword_score,omitempty"`
	GraphScore   float64 `json:"graph_score,omitempty"`
}

// EmbeddingMetadata describes the provider configuration that produced the
// current index. Exactly one record exists per backend; it changes only via
// the backend's set operation.
type EmbeddingMetadata struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

// Matches reports whether the stored metadata is compatible with the given
// provider configuration. An all-zero record (nothing stored yet) matches
// anything.
func (m EmbeddingMetadata) Matches(provider, model string, dimensions int) bool {
	if m.IsZero() {
		return true
	}
	return m.Provider == provider && m.Model == model && m.Dimensions == dimensions
}

// IsZero reports whether no embedding metadata has been stored yet.
func (m EmbeddingMetadata) IsZero() bool {
	return m.Provider == "" && m.Model == "" && m.Dimensions == 0
}

// String renders the metadata as provider/model/dimensions for error
// messages.
func (m EmbeddingMetadata) String() string {
	return fmt.Sprintf("%s/%s/%d", m.Provider, m.Model, m.Dimensions)
}
