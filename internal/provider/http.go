package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	braerr "github.com/agentbrain/agentbrain/internal/errors"
)

// DefaultOllamaHost is the default endpoint for a local Ollama server.
const DefaultOllamaHost = "http://localhost:11434"

// HTTPEmbedder speaks the Ollama embed API. It serves any provider exposing
// that protocol; base URL and model come from ProviderSettings.
type HTTPEmbedder struct {
	baseURL    string
	model      string
	provider   string
	dimensions int
	client     *http.Client
	retry      RetryConfig
}

// HTTPEmbedderConfig configures an HTTPEmbedder.
type HTTPEmbedderConfig struct {
	BaseURL    string
	Model      string
	Provider   string // provider identifier recorded in embedding metadata
	Dimensions int
	Timeout    time.Duration
}

// NewHTTPEmbedder creates an embedder backed by an HTTP embedding API.
func NewHTTPEmbedder(cfg HTTPEmbedderConfig) *HTTPEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaHost
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultCallTimeout
	}
	if cfg.Provider == "" {
		cfg.Provider = "ollama"
	}
	return &HTTPEmbedder{
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		provider:   cfg.Provider,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: cfg.Timeout},
		retry:      DefaultRetryConfig(),
	}
}

// embedRequest is the Ollama /api/embed request body.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the Ollama /api/embed response body.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates an embedding for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, braerr.New(braerr.ErrCodeProviderFailed, "embed returned no vectors", nil)
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in a single call.
// Transient failures (timeouts, 5xx) are retried with backoff.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, braerr.Validation(fmt.Sprintf("batch size %d exceeds maximum %d", len(texts), MaxBatchSize))
	}

	var result [][]float32
	err := WithRetry(ctx, e.retry, func() error {
		vecs, err := e.embedOnce(ctx, texts)
		if err != nil {
			return err
		}
		result = vecs
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(result) != len(texts) {
		return nil, braerr.New(braerr.ErrCodeProviderFailed,
			fmt.Sprintf("embed returned %d vectors for %d inputs", len(result), len(texts)), nil)
	}
	for i := range result {
		result[i] = normalizeVector(result[i])
	}
	return result, nil
}

// embedOnce performs one embed API round trip.
func (e *HTTPEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, braerr.Wrap(braerr.ErrCodeProviderFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, braerr.Wrap(braerr.ErrCodeProviderFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, braerr.Wrap(braerr.ErrCodeProviderTimeout, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return nil, braerr.New(braerr.ErrCodeProviderUnavailable,
			fmt.Sprintf("embedding server returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, braerr.New(braerr.ErrCodeProviderFailed,
			fmt.Sprintf("embedding server returned %d: %s", resp.StatusCode, string(data)), nil)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, braerr.Wrap(braerr.ErrCodeProviderFailed, err)
	}
	return parsed.Embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *HTTPEmbedder) Dimensions() int { return e.dimensions }

// ModelName returns the model identifier.
func (e *HTTPEmbedder) ModelName() string { return e.model }

// ProviderName returns the provider identifier.
func (e *HTTPEmbedder) ProviderName() string { return e.provider }

// Available probes the server root endpoint.
func (e *HTTPEmbedder) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases resources.
func (e *HTTPEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// HTTPSummarizer speaks the Ollama generate API, used by the LLM triplet
// extraction pass.
type HTTPSummarizer struct {
	baseURL string
	model   string
	client  *http.Client
	retry   RetryConfig
}

// NewHTTPSummarizer creates a summarizer backed by an HTTP generate API.
func NewHTTPSummarizer(baseURL, model string, timeout time.Duration) *HTTPSummarizer {
	if baseURL == "" {
		baseURL = DefaultOllamaHost
	}
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}
	return &HTTPSummarizer{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		retry:   DefaultRetryConfig(),
	}
}

// generateRequest is the Ollama /api/generate request body.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse is the Ollama /api/generate response body.
type generateResponse struct {
	Response string `json:"response"`
}

// Complete generates a completion for the given prompt.
func (s *HTTPSummarizer) Complete(ctx context.Context, prompt string) (string, error) {
	var result string
	err := WithRetry(ctx, s.retry, func() error {
		body, err := json.Marshal(generateRequest{Model: s.model, Prompt: prompt})
		if err != nil {
			return braerr.Wrap(braerr.ErrCodeProviderFailed, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/generate", bytes.NewReader(body))
		if err != nil {
			return braerr.Wrap(braerr.ErrCodeProviderFailed, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return braerr.Wrap(braerr.ErrCodeProviderTimeout, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			return braerr.New(braerr.ErrCodeProviderUnavailable,
				fmt.Sprintf("generation server returned %d", resp.StatusCode), nil)
		}
		if resp.StatusCode != http.StatusOK {
			return braerr.New(braerr.ErrCodeProviderFailed,
				fmt.Sprintf("generation server returned %d", resp.StatusCode), nil)
		}

		var parsed generateResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return braerr.Wrap(braerr.ErrCodeProviderFailed, err)
		}
		result = parsed.Response
		return nil
	})
	return result, err
}

// ModelName returns the model identifier.
func (s *HTTPSummarizer) ModelName() string { return s.model }

// Available probes the server root endpoint.
func (s *HTTPSummarizer) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases resources.
func (s *HTTPSummarizer) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
