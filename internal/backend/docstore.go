package backend

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	braerr "github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/model"
)

// docStore holds the full chunk payloads for the embedded backend, keyed by
// chunk ID, with a source-path index for prune-and-upsert. Persisted as a
// gob file, temp+rename.
type docStore struct {
	mu       sync.RWMutex
	path     string
	chunks   map[string]model.Chunk
	bySource map[string][]string // source path -> chunk IDs
}

func newDocStore(path string) (*docStore, error) {
	d := &docStore{
		path:     path,
		chunks:   make(map[string]model.Chunk),
		bySource: make(map[string][]string),
	}
	if err := d.load(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *docStore) load() error {
	file, err := os.Open(d.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open doc store: %w", err)
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(&d.chunks); err != nil {
		return braerr.New(braerr.ErrCodeCorruptState,
			fmt.Sprintf("decode doc store %s: %v", d.path, err), err)
	}

	for id, c := range d.chunks {
		source := c.Metadata.Source
		d.bySource[source] = append(d.bySource[source], id)
	}
	return nil
}

// Put upserts chunks in memory. Call Save to persist.
func (d *docStore) Put(chunks []model.Chunk) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, c := range chunks {
		if old, exists := d.chunks[c.ID]; exists {
			d.removeFromSource(old.Metadata.Source, c.ID)
		}
		d.chunks[c.ID] = c
		d.bySource[c.Metadata.Source] = append(d.bySource[c.Metadata.Source], c.ID)
	}
}

// Delete removes chunks by ID. Unknown IDs are ignored.
func (d *docStore) Delete(ids []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, id := range ids {
		if c, exists := d.chunks[id]; exists {
			d.removeFromSource(c.Metadata.Source, id)
			delete(d.chunks, id)
		}
	}
}

// removeFromSource drops one ID from the source index. Caller holds the
// lock.
func (d *docStore) removeFromSource(source, id string) {
	ids := d.bySource[source]
	for i, existing := range ids {
		if existing == id {
			d.bySource[source] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(d.bySource[source]) == 0 {
		delete(d.bySource, source)
	}
}

// IDsBySource returns the chunk IDs stored for a source path.
func (d *docStore) IDsBySource(source string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.bySource[source]...)
}

// Get returns a chunk by ID.
func (d *docStore) Get(id string) (model.Chunk, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.chunks[id]
	return c, ok
}

func (d *docStore) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.chunks)
}

// CountWhere counts chunks whose metadata satisfies pred.
func (d *docStore) CountWhere(pred func(model.ChunkMetadata) bool) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, c := range d.chunks {
		if pred(c.Metadata) {
			n++
		}
	}
	return n
}

// Reset drops everything in memory. Call Save to persist.
func (d *docStore) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chunks = make(map[string]model.Chunk)
	d.bySource = make(map[string][]string)
}

// Save persists the store, temp+rename.
func (d *docStore) Save() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("create doc store dir: %w", err)
	}

	tmpPath := d.path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create doc store file: %w", err)
	}
	if err := gob.NewEncoder(file).Encode(d.chunks); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode doc store: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close doc store file: %w", err)
	}
	return os.Rename(tmpPath, d.path)
}
