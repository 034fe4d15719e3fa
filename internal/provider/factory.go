package provider

import (
	"fmt"

	"github.com/agentbrain/agentbrain/internal/config"
	braerr "github.com/agentbrain/agentbrain/internal/errors"
)

// Known embedding model dimensions, used when the configuration does not
// state dimensions explicitly.
var knownModelDimensions = map[string]int{
	"static-256":        StaticDimensions,
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
	"embeddinggemma":    768,
	"qwen3-embedding":   1024,
}

// ModelDimensions looks up the embedding dimension for a known model name.
func ModelDimensions(model string) (int, bool) {
	dims, ok := knownModelDimensions[model]
	return dims, ok
}

// NewEmbedderFromConfig builds the configured embedder, wrapped with the LRU
// cache. Unknown providers are a configuration error.
func NewEmbedderFromConfig(cfg config.ProviderConfig) (Embedder, error) {
	var inner Embedder

	switch cfg.Provider {
	case "static", "":
		inner = NewStaticEmbedder()
	case "ollama", "openai", "http":
		dims, ok := knownModelDimensions[cfg.Model]
		if !ok {
			return nil, braerr.New(braerr.ErrCodeConfigInvalid,
				fmt.Sprintf("unknown embedding dimensions for model %q", cfg.Model), nil)
		}
		inner = NewHTTPEmbedder(HTTPEmbedderConfig{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Provider:   cfg.Provider,
			Dimensions: dims,
		})
	default:
		return nil, braerr.New(braerr.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil)
	}

	return NewCachedEmbedder(inner, DefaultEmbeddingCacheSize), nil
}

// NewSummarizerFromConfig builds the configured summarizer. Provider "none"
// or empty disables summarization and returns nil with no error.
func NewSummarizerFromConfig(cfg config.ProviderConfig) (Summarizer, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "ollama", "openai", "http":
		return NewHTTPSummarizer(cfg.BaseURL, cfg.Model, 0), nil
	default:
		return nil, braerr.New(braerr.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown summarization provider %q", cfg.Provider), nil)
	}
}
