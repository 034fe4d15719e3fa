package pipeline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/renameio"

	braerr "github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/model"
)

// Manifest is the per-project file manifest, one JSONL line per indexed
// source path. It lets the pipeline compute stale chunk IDs and detect
// renames without querying the backend.
type Manifest struct {
	path    string
	entries map[string]model.ManifestEntry
}

// LoadManifest reads the manifest at path. A missing file yields an empty
// manifest; malformed lines are dropped rather than failing the load.
func LoadManifest(path string) (*Manifest, error) {
	m := &Manifest{
		path:    path,
		entries: make(map[string]model.ManifestEntry),
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, braerr.New(braerr.ErrCodeFilePermission, fmt.Sprintf("open manifest: %v", err), err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry model.ManifestEntry
		if err := json.Unmarshal(line, &entry); err != nil || entry.Path == "" {
			continue
		}
		m.entries[entry.Path] = entry
	}
	if err := scanner.Err(); err != nil {
		return nil, braerr.New(braerr.ErrCodeCorruptState, fmt.Sprintf("read manifest: %v", err), err)
	}
	return m, nil
}

// Get returns the entry for a path, if any.
func (m *Manifest) Get(path string) (model.ManifestEntry, bool) {
	entry, ok := m.entries[path]
	return entry, ok
}

// Put records or replaces an entry.
func (m *Manifest) Put(entry model.ManifestEntry) {
	m.entries[entry.Path] = entry
}

// Delete drops the entry for a path.
func (m *Manifest) Delete(path string) {
	delete(m.entries, path)
}

// Len returns the number of tracked paths.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Paths returns all tracked paths, sorted.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.entries))
	for p := range m.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// FindByHash returns the tracked path whose content hash matches, used for
// rename detection. Empty string when no match.
func (m *Manifest) FindByHash(hash string) string {
	if hash == "" {
		return ""
	}
	for p, entry := range m.entries {
		if entry.ContentHash == hash {
			return p
		}
	}
	return ""
}

// Save writes the manifest atomically, entries in path order.
func (m *Manifest) Save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return braerr.New(braerr.ErrCodeFilePermission, fmt.Sprintf("create manifest dir: %v", err), err)
	}

	var buf bytes.Buffer
	for _, p := range m.Paths() {
		line, err := json.Marshal(m.entries[p])
		if err != nil {
			return braerr.New(braerr.ErrCodeStorage, fmt.Sprintf("encode manifest entry %s: %v", p, err), err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	if err := renameio.WriteFile(m.path, buf.Bytes(), 0o644); err != nil {
		return braerr.New(braerr.ErrCodeFilePermission, fmt.Sprintf("write manifest: %v", err), err)
	}
	return nil
}
