// Package graph holds the knowledge graph: triplet storage with BFS
// traversal, plus the extractors that produce triplets from code chunks.
package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio"

	braerr "github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/model"
)

// Store is an in-memory property graph persisted as a single JSON file.
// Triplets are value records; entities are referenced by name, never by
// pointer, so cyclic relationships are safe to store and traverse.
type Store struct {
	mu       sync.RWMutex
	path     string
	triplets []model.Triplet
	byKey    map[string]int   // triplet key -> index in triplets
	byEntity map[string][]int // lowercased entity name -> triplet indices
}

// Neighbor is one traversal hit: the chunk a triplet was observed in, the
// entity path that led there, and a rank score.
type Neighbor struct {
	ChunkID string   `json:"chunk_id"`
	Path    []string `json:"path"`
	Score   float64  `json:"score"`
}

// storeFile is the on-disk JSON layout.
type storeFile struct {
	Version  int             `json:"version"`
	Triplets []model.Triplet `json:"triplets"`
}

const storeFileVersion = 1

// NewStore creates a graph store backed by the given JSON file path. The
// file is loaded if it exists; a missing file starts an empty graph.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:     path,
		byKey:    make(map[string]int),
		byEntity: make(map[string][]int),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return braerr.New(braerr.ErrCodeStorage, fmt.Sprintf("read graph store: %v", err), err)
	}

	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return braerr.New(braerr.ErrCodeCorruptState, fmt.Sprintf("decode graph store %s: %v", s.path, err), err)
	}

	for _, t := range file.Triplets {
		s.insert(t)
	}
	return nil
}

// insert adds a triplet to the in-memory indexes. Caller holds the lock.
func (s *Store) insert(t model.Triplet) {
	key := t.Key()
	if _, exists := s.byKey[key]; exists {
		return
	}
	idx := len(s.triplets)
	s.triplets = append(s.triplets, t)
	s.byKey[key] = idx

	for _, entity := range []string{t.Subject, t.Object} {
		name := strings.ToLower(entity)
		s.byEntity[name] = append(s.byEntity[name], idx)
	}
}

// Put adds triplets, deduplicating on (subject, predicate, object, chunk),
// and persists the store.
func (s *Store) Put(triplets []model.Triplet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range triplets {
		s.insert(t)
	}
	return s.save()
}

// DeleteByChunkIDs removes all triplets sourced from the given chunks and
// persists the store. Unknown IDs are ignored.
func (s *Store) DeleteByChunkIDs(chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	drop := make(map[string]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		drop[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.triplets[:0]
	for _, t := range s.triplets {
		if !drop[t.SourceChunkID] {
			kept = append(kept, t)
		}
	}
	s.triplets = kept
	s.reindex()
	return s.save()
}

// Reset drops all triplets and persists the empty store.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.triplets = nil
	s.reindex()
	return s.save()
}

// reindex rebuilds the lookup maps from the triplet list. Caller holds the
// lock.
func (s *Store) reindex() {
	s.byKey = make(map[string]int, len(s.triplets))
	s.byEntity = make(map[string][]int)
	for i, t := range s.triplets {
		s.byKey[t.Key()] = i
		for _, entity := range []string{t.Subject, t.Object} {
			name := strings.ToLower(entity)
			s.byEntity[name] = append(s.byEntity[name], i)
		}
	}
}

// save writes the JSON file atomically via temp+rename. Caller holds the
// lock.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return braerr.New(braerr.ErrCodeStorage, fmt.Sprintf("create graph dir: %v", err), err)
	}

	data, err := json.MarshalIndent(storeFile{
		Version:  storeFileVersion,
		Triplets: s.triplets,
	}, "", "  ")
	if err != nil {
		return braerr.New(braerr.ErrCodeStorage, fmt.Sprintf("encode graph store: %v", err), err)
	}

	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return braerr.New(braerr.ErrCodeStorage, fmt.Sprintf("write graph store: %v", err), err)
	}
	return nil
}

// Count returns the number of triplets.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.triplets)
}

// HasEntity reports whether the graph knows an entity by name
// (case-insensitive).
func (s *Store) HasEntity(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byEntity[strings.ToLower(name)]
	return ok
}

// EntityFrequency returns the number of triplets touching an entity.
func (s *Store) EntityFrequency(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byEntity[strings.ToLower(name)])
}

// Neighbors traverses the graph breadth-first from an entity up to depth
// hops and collects the source chunks of every triplet encountered. Hits
// are scored by inverse traversal distance: a chunk reached at distance d
// scores 1/(1+d), keeping its best (shallowest) score when reached through
// several paths. An unknown entity yields no hits.
func (s *Store) Neighbors(entity string, depth int) []Neighbor {
	if depth < 1 {
		depth = 1
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := strings.ToLower(entity)
	if _, ok := s.byEntity[start]; !ok {
		return nil
	}

	type frontierEntry struct {
		name string
		path []string
	}

	visited := map[string]bool{start: true}
	frontier := []frontierEntry{{name: start, path: []string{entity}}}
	best := make(map[string]Neighbor)

	for dist := 0; dist < depth && len(frontier) > 0; dist++ {
		var next []frontierEntry
		for _, cur := range frontier {
			for _, idx := range s.byEntity[cur.name] {
				t := s.triplets[idx]

				if existing, ok := best[t.SourceChunkID]; !ok || existing.Score < 1.0/float64(1+dist) {
					best[t.SourceChunkID] = Neighbor{
						ChunkID: t.SourceChunkID,
						Path:    cur.path,
						Score:   1.0 / float64(1+dist),
					}
				}

				for _, other := range []string{t.Subject, t.Object} {
					name := strings.ToLower(other)
					if name == cur.name || visited[name] {
						continue
					}
					visited[name] = true
					path := append(append([]string(nil), cur.path...), other)
					next = append(next, frontierEntry{name: name, path: path})
				}
			}
		}
		frontier = next
	}

	neighbors := make([]Neighbor, 0, len(best))
	for _, n := range best {
		neighbors = append(neighbors, n)
	}
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Score != neighbors[j].Score {
			return neighbors[i].Score > neighbors[j].Score
		}
		return neighbors[i].ChunkID < neighbors[j].ChunkID
	})
	return neighbors
}

// Triplets returns a copy of all stored triplets.
func (s *Store) Triplets() []model.Triplet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Triplet(nil), s.triplets...)
}
