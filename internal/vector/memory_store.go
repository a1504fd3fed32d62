package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/chongs12/asset-knowledge-base/internal/common/models"
)

type memoryCollection struct {
	dim     int
	records map[string]models.VectorRecord
}

// MemoryStore 进程内向量库，暴力计算 cosine，用于本地开发与测试
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}
}

func (s *MemoryStore) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrSchemaConflict, dimension)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		if c.dim != dimension {
			return fmt.Errorf("%w: collection %s has dimension %d, want %d", ErrSchemaConflict, name, c.dim, dimension)
		}
		return nil
	}
	s.collections[name] = &memoryCollection{dim: dimension, records: make(map[string]models.VectorRecord)}
	return nil
}

func (s *MemoryStore) Upsert(ctx context.Context, name string, records []models.VectorRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%w: collection %s does not exist", ErrWriteFailed, name)
	}
	if err := checkDimensions(records, c.dim); err != nil {
		return err
	}
	for _, r := range records {
		c.records[r.ID] = cloneRecord(r)
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, name string, query []float32, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if k <= 0 {
		return []Hit{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok || len(c.records) == 0 {
		return []Hit{}, nil
	}
	hits := make([]Hit, 0, len(c.records))
	for _, r := range c.records {
		hits = append(hits, Hit{ID: r.ID, Text: r.Text(), Score: CosineSimilarity(query, r.Vector)})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count 返回集合中的记录数，集合不存在时为 0
func (s *MemoryStore) Count(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return len(c.records)
	}
	return 0
}

// Get returns a copy of the record stored under id.
func (s *MemoryStore) Get(name, id string) (models.VectorRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return models.VectorRecord{}, false
	}
	r, ok := c.records[id]
	if !ok {
		return models.VectorRecord{}, false
	}
	return cloneRecord(r), true
}

func cloneRecord(r models.VectorRecord) models.VectorRecord {
	vec := make([]float32, len(r.Vector))
	copy(vec, r.Vector)
	payload := make(map[string]any, len(r.Payload))
	for k, v := range r.Payload {
		payload[k] = v
	}
	return models.VectorRecord{ID: r.ID, Vector: vec, Payload: payload}
}
