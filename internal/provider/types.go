// Package provider defines the embedding and summarization provider ports
// used by the indexing pipeline and the retrieval engine, plus the local
// implementations shipped in-repo: a deterministic static embedder, an HTTP
// client speaking the Ollama API, and an LRU-cached wrapper.
package provider

import (
	"context"
	"math"
	"time"
)

// Batch and timeout defaults shared by implementations.
const (
	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// MaxBatchSize caps a single embedding request.
	MaxBatchSize = 256

	// DefaultCallTimeout bounds a single provider call.
	DefaultCallTimeout = 60 * time.Second

	// DefaultMaxRetries is the number of retries on transient failures.
	DefaultMaxRetries = 1
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// ProviderName returns the provider identifier (static, ollama, openai).
	ProviderName() string

	// Available checks if the provider is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// Summarizer generates completions, used by the LLM triplet extractor.
type Summarizer interface {
	// Complete generates a completion for the given prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the provider is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
