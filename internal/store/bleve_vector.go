package store

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

const bleveVectorFieldName = "embedding"

// BleveVectorStore is the embedded VectorStore backend: vectors live in a
// single Bleve index alongside (or instead of) the BM25 index, so an
// entire project's search index is one embedded store with no external
// service or second on-disk format to manage. It trades the approximate
// nearest-neighbor recall of a purpose-built HNSW library for a single
// embedded dependency already used elsewhere for keyword search.
type BleveVectorStore struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	config VectorStoreConfig
	closed bool
}

// bleveVectorDoc is the document shape stored per vector: the field bleve
// indexes for KNN search plus the caller's original string ID, since
// bleve's own doc IDs and our content-derived chunk IDs are the same
// string here but kept explicit for clarity.
type bleveVectorDoc struct {
	ChunkID   string    `json:"chunk_id"`
	Embedding []float32 `json:"embedding"`
}

// NewBleveVectorStore opens (or creates) a Bleve index at path configured
// with a single KNN-searchable vector field. If path is empty, an
// in-memory index is created for testing.
func NewBleveVectorStore(path string, cfg VectorStoreConfig) (*BleveVectorStore, error) {
	similarity := "cosine"
	if cfg.Metric == "l2" {
		similarity = "l2"
	}

	vectorField := mapping.NewVectorFieldMapping()
	vectorField.Dims = cfg.Dimensions
	vectorField.Similarity = similarity

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt(bleveVectorFieldName, vectorField)
	docMapping.AddFieldMappingsAt("chunk_id", bleve.NewTextFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		idx, err = bleve.New(path, indexMapping)
	} else {
		idx, err = bleve.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve vector index: %w", err)
	}

	return &BleveVectorStore{index: idx, path: path, config: cfg}, nil
}

func (s *BleveVectorStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	batch := s.index.NewBatch()
	for i, id := range ids {
		if len(vectors[i]) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vectors[i])}
		}
		doc := bleveVectorDoc{ChunkID: id, Embedding: vectors[i]}
		if err := batch.Index(id, doc); err != nil {
			return fmt.Errorf("stage %s: %w", id, err)
		}
	}
	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("index batch: %w", err)
	}
	return nil
}

// Search issues a KNN query against the vector field. Bleve's KNN scores
// are similarity scores in the same desc-is-better direction as the rest
// of the store package, so no inversion is needed before ranking.
func (s *BleveVectorStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}

	req := bleve.NewSearchRequest(bleve.NewMatchNoneQuery())
	req.AddKNN(bleveVectorFieldName, query, int64(k), 1.0)
	req.Fields = []string{"chunk_id"}

	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}

	out := make([]*VectorResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id := hit.ID
		if cid, ok := hit.Fields["chunk_id"].(string); ok && cid != "" {
			id = cid
		}
		out = append(out, &VectorResult{ID: id, Score: float32(hit.Score)})
	}
	return out, nil
}

func (s *BleveVectorStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	batch := s.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return s.index.Batch(batch)
}

func (s *BleveVectorStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	query := bleve.NewMatchAllQuery()
	req := bleve.NewSearchRequest(query)
	req.Size = s.count()
	if req.Size == 0 {
		return ids
	}
	res, err := s.index.Search(req)
	if err != nil {
		return ids
	}
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids
}

func (s *BleveVectorStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, err := s.index.Document(id)
	return err == nil && doc != nil
}

func (s *BleveVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count()
}

func (s *BleveVectorStore) count() int {
	n, err := s.index.DocCount()
	if err != nil {
		return 0
	}
	return int(n)
}

// Save is a no-op beyond what the index already persists incrementally to
// path; there is no separate snapshot format for the embedded backend.
func (s *BleveVectorStore) Save(path string) error { return nil }

// Load is a no-op: the index at s.path is already open and current.
func (s *BleveVectorStore) Load(path string) error { return nil }

func (s *BleveVectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.index.Close()
}

var _ VectorStore = (*BleveVectorStore)(nil)
