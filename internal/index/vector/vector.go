// Package vector implements the semantic side of hybrid search on an
// HNSW graph.
//
// Chunks are stored under string IDs mapped to internal uint64 keys.
// Deletion is lazy: removed chunks stay in the graph as orphans but
// never appear in results, which sidesteps graph-repair issues when
// the last node is deleted.
package vector

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/coder/hnsw"

	ragerr "github.com/lballaty/myragdb/internal/errors"
	"github.com/lballaty/myragdb/internal/index"
)

// Config holds HNSW graph parameters.
type Config struct {
	// Dimensions is the embedding width; all vectors must match.
	Dimensions int
	// M is the maximum neighbor count per node.
	M int
	// EfSearch is the candidate list size during search.
	EfSearch int
}

// Index is the HNSW-backed vector index over document chunks.
type Index struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config Config

	idMap   map[string]uint64 // chunk ID -> internal key
	keyMap  map[uint64]string // internal key -> chunk ID
	nextKey uint64

	docSources map[string]string // doc ID -> source ID

	closed bool
}

// Result is one vector search hit, already deduplicated per document.
type Result struct {
	DocID    string
	ChunkID  string
	SourceID string
	Score    float64
}

// metadata is the gob-persisted sidecar next to the graph file.
type metadata struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Config     Config
	DocSources map[string]string
}

// New creates an empty vector index.
func New(cfg Config) (*Index, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector index requires positive dimensions, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &Index{
		graph:      graph,
		config:     cfg,
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
		docSources: make(map[string]string),
	}, nil
}

// Open loads the index from path, or creates an empty one when no
// persisted graph exists yet.
func Open(path string, cfg Config) (*Index, error) {
	v, err := New(cfg)
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return v, nil
	}

	if err := v.Load(path); err != nil {
		return nil, err
	}
	if v.config.Dimensions != cfg.Dimensions {
		return nil, ragerr.New(ragerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("persisted vector index has %d dimensions, embedder produces %d",
				v.config.Dimensions, cfg.Dimensions), nil).
			WithSuggestion("run a full rebuild to re-embed with the current model")
	}
	return v, nil
}

// Add inserts chunk vectors. Existing chunk IDs are replaced.
func (v *Index) Add(ctx context.Context, sourceID string, chunks []*index.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return fmt.Errorf("vector index is closed")
	}

	for _, vec := range vectors {
		if len(vec) != v.config.Dimensions {
			return ragerr.New(ragerr.ErrCodeDimensionMismatch,
				fmt.Sprintf("expected %d dimensions, got %d", v.config.Dimensions, len(vec)), nil)
		}
	}

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Replacing an ID orphans the old graph node.
		if oldKey, exists := v.idMap[chunk.ID]; exists {
			delete(v.keyMap, oldKey)
			delete(v.idMap, chunk.ID)
		}

		key := v.nextKey
		v.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		v.graph.Add(hnsw.MakeNode(key, vec))
		v.idMap[chunk.ID] = key
		v.keyMap[key] = chunk.ID
		v.docSources[chunk.DocID] = sourceID
	}

	return nil
}

// Search returns the k most similar documents. Multiple matching
// chunks of the same file collapse to the best-scoring one.
func (v *Index) Search(ctx context.Context, query []float32, k int) ([]*Result, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(query) != v.config.Dimensions {
		return nil, ragerr.New(ragerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("query has %d dimensions, index expects %d", len(query), v.config.Dimensions), nil)
	}
	if v.graph.Len() == 0 || k <= 0 {
		return []*Result{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Over-fetch so orphans and same-document chunks do not starve the
	// result list.
	nodes := v.graph.Search(normalized, k*4)

	byDoc := make(map[string]*Result)
	var order []string

	for _, node := range nodes {
		chunkID, live := v.keyMap[node.Key]
		if !live {
			continue // lazily deleted
		}
		docID, ok := index.ParseChunkID(chunkID)
		if !ok {
			continue
		}

		distance := v.graph.Distance(normalized, node.Value)
		score := 1.0 - float64(distance)/2.0

		if existing, seen := byDoc[docID]; seen {
			if score > existing.Score {
				existing.Score = score
				existing.ChunkID = chunkID
			}
			continue
		}
		byDoc[docID] = &Result{
			DocID:    docID,
			ChunkID:  chunkID,
			SourceID: v.docSources[docID],
			Score:    score,
		}
		order = append(order, docID)
	}

	results := make([]*Result, 0, min(k, len(order)))
	for _, docID := range order {
		results = append(results, byDoc[docID])
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// DeleteDoc removes every chunk of a document.
func (v *Index) DeleteDoc(_ context.Context, docID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return 0
	}

	removed := 0
	prefix := docID + "::"
	for chunkID, key := range v.idMap {
		if strings.HasPrefix(chunkID, prefix) {
			delete(v.keyMap, key)
			delete(v.idMap, chunkID)
			removed++
		}
	}
	delete(v.docSources, docID)
	return removed
}

// DeleteBySource removes every chunk belonging to a source.
func (v *Index) DeleteBySource(_ context.Context, sourceID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return 0
	}

	var docs []string
	for docID, src := range v.docSources {
		if src == sourceID {
			docs = append(docs, docID)
		}
	}

	removed := 0
	for _, docID := range docs {
		prefix := docID + "::"
		for chunkID, key := range v.idMap {
			if strings.HasPrefix(chunkID, prefix) {
				delete(v.keyMap, key)
				delete(v.idMap, chunkID)
				removed++
			}
		}
		delete(v.docSources, docID)
	}
	return removed
}

// Count returns the number of live chunks.
func (v *Index) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return 0
	}
	return len(v.idMap)
}

// Orphans returns how many lazily deleted nodes remain in the graph.
// A full rebuild reclaims them.
func (v *Index) Orphans() int {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return 0
	}
	return v.graph.Len() - len(v.idMap)
}

// Dimensions returns the configured embedding width.
func (v *Index) Dimensions() int {
	return v.config.Dimensions
}

// Save persists the graph and ID mappings, atomically via tmp+rename.
func (v *Index) Save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return fmt.Errorf("vector index is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create graph file: %w", err)
	}
	if err := v.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close graph file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename graph file: %w", err)
	}

	return v.saveMetadata(path + ".meta")
}

func (v *Index) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}

	meta := metadata{
		IDMap:      v.idMap,
		NextKey:    v.nextKey,
		Config:     v.config,
		DocSources: v.docSources,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the graph and ID mappings from disk.
func (v *Index) Load(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return fmt.Errorf("vector index is closed")
	}

	if err := v.loadMetadata(path + ".meta"); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open graph file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// Import needs an io.ByteReader.
	if err := v.graph.Import(bufio.NewReader(file)); err != nil {
		return ragerr.New(ragerr.ErrCodeCorruptIndex,
			fmt.Sprintf("vector index at %s cannot be read", path), err).
			WithSuggestion("delete the index files and run a full rebuild")
	}
	return nil
}

func (v *Index) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var meta metadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return ragerr.New(ragerr.ErrCodeCorruptIndex,
			fmt.Sprintf("vector index metadata at %s cannot be read", path), err).
			WithSuggestion("delete the index files and run a full rebuild")
	}

	v.idMap = meta.IDMap
	v.nextKey = meta.NextKey
	v.config = meta.Config
	v.docSources = meta.DocSources
	if v.docSources == nil {
		v.docSources = make(map[string]string)
	}

	v.keyMap = make(map[uint64]string, len(v.idMap))
	for id, key := range v.idMap {
		v.keyMap[key] = id
	}
	return nil
}

// Close releases the graph.
func (v *Index) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true
	v.graph = nil
	return nil
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
