package backend

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	braerr "github.com/agentbrain/agentbrain/internal/errors"
)

// vectorIndex is an HNSW approximate-nearest-neighbor index over chunk
// embeddings, cosine metric, with string chunk IDs mapped to internal keys.
// Deletes are lazy: the node stays in the graph but loses its ID mapping,
// which sidesteps coder/hnsw breakage when the last node is removed.
type vectorIndex struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[uint64]
	dimensions int

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
}

// vectorIndexMeta is the gob-encoded sidecar holding ID mappings.
type vectorIndexMeta struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
}

func newVectorIndex(dimensions int) *vectorIndex {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25

	return &vectorIndex{
		graph:      g,
		dimensions: dimensions,
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
	}
}

// vectorHit is one ANN hit with the cosine-derived similarity score.
type vectorHit struct {
	ID    string
	Score float64
}

// Add upserts vectors. Existing IDs are lazily replaced.
func (v *vectorIndex) Add(ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, vec := range vectors {
		if len(vec) != v.dimensions {
			return braerr.New(braerr.ErrCodeProviderMismatch,
				fmt.Sprintf("embedding dimension mismatch: index has %d, got %d", v.dimensions, len(vec)), nil)
		}
	}

	for i, id := range ids {
		if existingKey, exists := v.idMap[id]; exists {
			delete(v.keyMap, existingKey)
			delete(v.idMap, id)
		}

		key := v.nextKey
		v.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		v.graph.Add(hnsw.MakeNode(key, vec))
		v.idMap[id] = key
		v.keyMap[key] = id
	}
	return nil
}

// Search returns up to k nearest neighbors. Scores are cosine similarity
// mapped to [0,1]: score = 1 - distance/2.
func (v *vectorIndex) Search(query []float32, k int) ([]vectorHit, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(query) != v.dimensions {
		return nil, braerr.New(braerr.ErrCodeProviderMismatch,
			fmt.Sprintf("query dimension mismatch: index has %d, got %d", v.dimensions, len(query)), nil)
	}
	if v.graph.Len() == 0 {
		return nil, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Over-fetch to compensate for lazily deleted nodes still in the graph.
	fetch := k + (v.graph.Len() - len(v.idMap))
	nodes := v.graph.Search(normalized, fetch)

	hits := make([]vectorHit, 0, k)
	for _, node := range nodes {
		id, live := v.keyMap[node.Key]
		if !live {
			continue
		}
		distance := v.graph.Distance(normalized, node.Value)
		hits = append(hits, vectorHit{
			ID:    id,
			Score: 1.0 - float64(distance)/2.0,
		})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Delete removes vectors by ID (lazy).
func (v *vectorIndex) Delete(ids []string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, id := range ids {
		if key, exists := v.idMap[id]; exists {
			delete(v.keyMap, key)
			delete(v.idMap, id)
		}
	}
}

func (v *vectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

func (v *vectorIndex) Contains(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.idMap[id]
	return ok
}

// Save writes the graph and its ID-mapping sidecar, temp+rename for both.
func (v *vectorIndex) Save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create vector index dir: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create vector index file: %w", err)
	}
	if err := v.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export vector index: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close vector index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename vector index file: %w", err)
	}

	return v.saveMeta(path + ".meta")
}

func (v *vectorIndex) saveMeta(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create vector meta file: %w", err)
	}

	meta := vectorIndexMeta{
		IDMap:      v.idMap,
		NextKey:    v.nextKey,
		Dimensions: v.dimensions,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode vector meta: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close vector meta file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the graph and ID mappings from disk. Missing files leave
// the index empty.
func (v *vectorIndex) Load(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	metaFile, err := os.Open(path + ".meta")
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open vector meta: %w", err)
	}
	defer metaFile.Close()

	var meta vectorIndexMeta
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return braerr.New(braerr.ErrCodeCorruptState,
			fmt.Sprintf("decode vector meta: %v", err), err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import needs an io.ByteReader.
	if err := v.graph.Import(bufio.NewReader(file)); err != nil {
		return braerr.New(braerr.ErrCodeCorruptState,
			fmt.Sprintf("import vector index: %v", err), err)
	}

	v.idMap = meta.IDMap
	v.nextKey = meta.NextKey
	v.dimensions = meta.Dimensions
	v.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		v.keyMap[key] = id
	}
	return nil
}

// StoredDimensions reads the dimension count from an existing index's
// sidecar without loading the graph. Zero means no index exists yet.
func StoredDimensions(path string) (int, error) {
	file, err := os.Open(path + ".meta")
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open vector meta: %w", err)
	}
	defer file.Close()

	var meta vectorIndexMeta
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return 0, braerr.New(braerr.ErrCodeCorruptState,
			fmt.Sprintf("decode vector meta: %v", err), err)
	}
	return meta.Dimensions, nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
