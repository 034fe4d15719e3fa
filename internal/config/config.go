// Package config loads Agent Brain provider settings from YAML with
// environment overrides. Resolution order for every field: environment
// variable, then YAML, then built-in default.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	braerr "github.com/agentbrain/agentbrain/internal/errors"
)

// Backend kinds selectable via storage.backend.
const (
	BackendEmbedded   = "embedded"
	BackendRelational = "relational"
)

// Environment variables recognized by the loader.
const (
	EnvStorageBackend   = "AGENTBRAIN_STORAGE_BACKEND"
	EnvDatabaseURL      = "AGENTBRAIN_DATABASE_URL"
	EnvEmbeddingModel   = "AGENTBRAIN_EMBEDDING_MODEL"
	EnvEmbeddingBaseURL = "AGENTBRAIN_EMBEDDING_BASE_URL"
)

// ProviderSettings is the four-section configuration consumed by the core.
type ProviderSettings struct {
	Embedding     ProviderConfig `yaml:"embedding"`
	Summarization ProviderConfig `yaml:"summarization"`
	Reranker      RerankerConfig `yaml:"reranker"`
	Storage       StorageConfig  `yaml:"storage"`
}

// ProviderConfig configures a single embedding or summarization provider.
type ProviderConfig struct {
	Provider  string            `yaml:"provider"`
	Model     string            `yaml:"model"`
	APIKeyEnv string            `yaml:"api_key_env"`
	BaseURL   string            `yaml:"base_url"`
	Params    map[string]string `yaml:"params"`
}

// APIKey resolves the provider API key from the configured environment
// variable. Returns an error when the variable is named but unset.
func (p ProviderConfig) APIKey() (string, error) {
	if p.APIKeyEnv == "" {
		return "", nil
	}
	key := os.Getenv(p.APIKeyEnv)
	if key == "" {
		return "", braerr.New(braerr.ErrCodeMissingAPIKey,
			fmt.Sprintf("environment variable %s is not set", p.APIKeyEnv), nil)
	}
	return key, nil
}

// RerankerConfig configures the optional reranking stage.
type RerankerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	TopK        int    `yaml:"top_k"`
	InitialTopK int    `yaml:"initial_top_k"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend    string           `yaml:"backend"`
	Relational RelationalConfig `yaml:"relational"`
}

// RelationalConfig holds Postgres connection and index tuning settings.
type RelationalConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Database           string `yaml:"database"`
	User               string `yaml:"user"`
	PasswordEnv        string `yaml:"password_env"`
	PoolSize           int    `yaml:"pool_size"`
	PoolMaxOverflow    int    `yaml:"pool_max_overflow"`
	HNSWM              int    `yaml:"hnsw_m"`
	HNSWEfConstruction int    `yaml:"hnsw_ef_construction"`
}

// ConnString builds a pgx connection string from the relational settings.
func (r RelationalConfig) ConnString() string {
	password := ""
	if r.PasswordEnv != "" {
		password = os.Getenv(r.PasswordEnv)
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", r.Host, r.Port),
		Path:   "/" + r.Database,
	}
	if password != "" {
		u.User = url.UserPassword(r.User, password)
	} else {
		u.User = url.User(r.User)
	}
	return u.String()
}

// Default returns the built-in defaults: embedded storage with a local
// static embedding provider.
func Default() *ProviderSettings {
	return &ProviderSettings{
		Embedding: ProviderConfig{
			Provider: "static",
			Model:    "static-256",
		},
		Summarization: ProviderConfig{
			Provider: "none",
		},
		Storage: StorageConfig{
			Backend: BackendEmbedded,
			Relational: RelationalConfig{
				Host:               "localhost",
				Port:               5432,
				Database:           "agentbrain",
				User:               "agentbrain",
				PoolSize:           4,
				PoolMaxOverflow:    2,
				HNSWM:              16,
				HNSWEfConstruction: 64,
			},
		},
	}
}

// Load reads settings from the YAML file at path (if it exists), then applies
// environment overrides. A missing file is not an error; defaults apply.
func Load(path string) (*ProviderSettings, error) {
	settings := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, braerr.Wrap(braerr.ErrCodeConfigInvalid, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, settings); err != nil {
				return nil, braerr.New(braerr.ErrCodeConfigInvalid,
					fmt.Sprintf("parse %s: %v", path, err), err)
			}
		}
	}

	applyEnvOverrides(settings)

	if err := Validate(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// applyEnvOverrides applies environment variables on top of YAML values.
// AGENTBRAIN_DATABASE_URL overrides only the relational connection fields;
// pool and index tuning settings remain from YAML.
func applyEnvOverrides(s *ProviderSettings) {
	if backend := os.Getenv(EnvStorageBackend); backend != "" {
		s.Storage.Backend = backend
	}
	if model := os.Getenv(EnvEmbeddingModel); model != "" {
		s.Embedding.Model = model
	}
	if baseURL := os.Getenv(EnvEmbeddingBaseURL); baseURL != "" {
		s.Embedding.BaseURL = baseURL
	}
	if dbURL := os.Getenv(EnvDatabaseURL); dbURL != "" {
		applyDatabaseURL(&s.Storage.Relational, dbURL)
	}
}

// applyDatabaseURL parses a postgres:// URL into the connection fields.
func applyDatabaseURL(r *RelationalConfig, raw string) {
	u, err := url.Parse(raw)
	if err != nil {
		return
	}
	if host := u.Hostname(); host != "" {
		r.Host = host
	}
	if portStr := u.Port(); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			r.Port = port
		}
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		r.Database = db
	}
	if u.User != nil && u.User.Username() != "" {
		r.User = u.User.Username()
	}
}

// Validate checks settings for conditions that are fatal at startup.
func Validate(s *ProviderSettings) error {
	switch s.Storage.Backend {
	case BackendEmbedded, BackendRelational:
	default:
		return braerr.New(braerr.ErrCodeUnknownBackend,
			fmt.Sprintf("unknown storage backend %q (expected %q or %q)",
				s.Storage.Backend, BackendEmbedded, BackendRelational), nil)
	}

	if s.Embedding.Provider == "" {
		return braerr.New(braerr.ErrCodeConfigInvalid, "embedding.provider is required", nil)
	}

	if _, err := s.Embedding.APIKey(); err != nil {
		return err
	}
	return nil
}
