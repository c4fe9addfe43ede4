// Package store owns the per-document vector indices. Each document
// gets its own index so a query touches only the selected documents and
// deletion never compacts anything shared.
package store

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"notebook/internal/models"
)

// docIndex is one document's published index: all chunks plus their
// normalized embeddings. Never mutated after publication.
type docIndex struct {
	DocumentID string
	Dim        int
	Chunks     []models.Chunk
	Vectors    [][]float32
}

// FileIndexStore keeps indices in memory for search and persists one
// gob artifact per document so indices survive a restart and load
// independently of each other.
type FileIndexStore struct {
	mu      sync.RWMutex
	dir     string
	indices map[string]*docIndex
}

func NewFileIndexStore(dataDir string) (*FileIndexStore, error) {
	dir := filepath.Join(dataDir, "indices")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %v", err)
	}

	return &FileIndexStore{
		dir:     dir,
		indices: make(map[string]*docIndex),
	}, nil
}

// Build constructs a fresh index from the full chunk/embedding set and
// publishes it atomically: the artifact is written to a temp file and
// renamed, then the in-memory map entry is swapped under the lock.
// Rebuilding an existing document replaces its index wholesale.
func (s *FileIndexStore) Build(_ context.Context, documentID string, chunks []models.Chunk, vectors [][]float32) error {
	idx, err := newDocIndex(documentID, chunks, vectors)
	if err != nil {
		return err
	}

	if err := s.writeArtifact(idx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIndexBuild, err)
	}

	s.mu.Lock()
	s.indices[documentID] = idx
	s.mu.Unlock()

	return nil
}

// Search returns up to k passages by descending cosine similarity.
// Ties break toward the lower chunk id so results are deterministic.
func (s *FileIndexStore) Search(_ context.Context, documentID string, query []float32, k int) ([]models.RetrievedPassage, error) {
	idx, err := s.lookup(documentID)
	if err != nil {
		return nil, err
	}

	if len(query) != idx.Dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(query), idx.Dim)
	}

	return idx.search(normalize(query), k), nil
}

// Drop removes the document's index and its artifact. Dropping an
// unknown document is a no-op.
func (s *FileIndexStore) Drop(_ context.Context, documentID string) error {
	s.mu.Lock()
	delete(s.indices, documentID)
	s.mu.Unlock()

	if err := os.Remove(s.artifactPath(documentID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove index artifact: %v", err)
	}
	return nil
}

func (s *FileIndexStore) Close() error {
	return nil
}

// lookup returns the published index, reloading the artifact from disk
// after a restart. A document deleted concurrently simply misses.
func (s *FileIndexStore) lookup(documentID string) (*docIndex, error) {
	s.mu.RLock()
	idx := s.indices[documentID]
	s.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}

	loaded, err := s.readArtifact(documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrIndexNotFound, documentID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.indices[documentID]; existing != nil {
		return existing, nil
	}
	s.indices[documentID] = loaded
	return loaded, nil
}

func (s *FileIndexStore) artifactPath(documentID string) string {
	return filepath.Join(s.dir, documentID+".idx")
}

func (s *FileIndexStore) writeArtifact(idx *docIndex) error {
	tmp, err := os.CreateTemp(s.dir, idx.DocumentID+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(idx); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), s.artifactPath(idx.DocumentID))
}

func (s *FileIndexStore) readArtifact(documentID string) (*docIndex, error) {
	f, err := os.Open(s.artifactPath(documentID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var idx docIndex
	if err := gob.NewDecoder(f).Decode(&idx); err != nil {
		return nil, err
	}
	return &idx, nil
}

func newDocIndex(documentID string, chunks []models.Chunk, vectors [][]float32) (*docIndex, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks for document %s", models.ErrIndexBuild, documentID)
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d chunks but %d vectors", models.ErrIndexBuild, len(chunks), len(vectors))
	}

	dim := len(vectors[0])
	normalized := make([][]float32, len(vectors))
	for i, vec := range vectors {
		if len(vec) != dim {
			return nil, fmt.Errorf("%w: inconsistent vector dimensions", models.ErrIndexBuild)
		}
		normalized[i] = normalize(vec)
	}

	return &docIndex{
		DocumentID: documentID,
		Dim:        dim,
		Chunks:     chunks,
		Vectors:    normalized,
	}, nil
}

func (idx *docIndex) search(query []float32, k int) []models.RetrievedPassage {
	passages := make([]models.RetrievedPassage, len(idx.Chunks))
	for i, chunk := range idx.Chunks {
		passages[i] = models.RetrievedPassage{
			DocumentID: idx.DocumentID,
			ChunkID:    chunk.ID,
			Text:       chunk.Text,
			SourcePage: chunk.SourcePage,
			Score:      dot(query, idx.Vectors[i]),
		}
	}

	sort.Slice(passages, func(i, j int) bool {
		if passages[i].Score != passages[j].Score {
			return passages[i].Score > passages[j].Score
		}
		return passages[i].ChunkID < passages[j].ChunkID
	})

	if k > 0 && len(passages) > k {
		passages = passages[:k]
	}
	return passages
}

// normalize returns a unit-length copy so cosine similarity reduces to
// a dot product at search time.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return append([]float32(nil), vec...)
	}

	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
