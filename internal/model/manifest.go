package model

import "time"

// ManifestEntry records what was last indexed for a single source path.
// The pipeline uses it to detect additions, shrinks, renames, and deletions
// without consulting the backend.
type ManifestEntry struct {
	Path        string    `json:"path"`
	ChunkCount  int       `json:"chunk_count"`
	ContentHash string    `json:"content_hash"`
	IndexedAt   time.Time `json:"indexed_at"`
}
