package store

import (
	"sync"

	"github.com/quillforge/inkwell/internal/models"
)

// MemoryStore is a goroutine-safe in-memory Store. It provides no
// durability and exists for tests and environments without a filesystem.
type MemoryStore struct {
	mu     sync.RWMutex
	ops    map[string]*models.Operation
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ops: make(map[string]*models.Operation),
	}
}

// Put inserts or overwrites the operation keyed by its id.
func (s *MemoryStore) Put(op *models.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.ID] = op.Clone()
	return nil
}

// Get returns the operation for the given id.
func (s *MemoryStore) Get(id string) (*models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[id]
	if !ok {
		return nil, ErrNotFound
	}
	return op.Clone(), nil
}

// Delete removes the operation for the given id.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, id)
	return nil
}

// GetAll returns every stored operation.
func (s *MemoryStore) GetAll() ([]*models.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ops := make([]*models.Operation, 0, len(s.ops))
	for _, op := range s.ops {
		ops = append(ops, op.Clone())
	}
	return ops, nil
}

// Clear removes every stored operation.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = make(map[string]*models.Operation)
	return nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *MemoryStore) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
