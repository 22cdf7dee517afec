// Package store persists queued sync operations across process restarts.
//
// The store is a transactional key-value collection keyed by operation id.
// The sync queue is the only component permitted to write to it.
package store

import (
	"errors"

	"github.com/quillforge/inkwell/internal/models"
)

// ErrNotFound is returned when no operation exists for the given id.
var ErrNotFound = errors.New("store: operation not found")

// Store is the durable backing for the sync queue. Each call is a single
// transaction against the underlying storage.
type Store interface {
	// Put inserts or overwrites the operation keyed by its id.
	Put(op *models.Operation) error

	// Get returns the operation for the given id, or ErrNotFound.
	Get(id string) (*models.Operation, error)

	// Delete removes the operation for the given id. Deleting a missing
	// id is not an error.
	Delete(id string) error

	// GetAll returns every persisted operation.
	GetAll() ([]*models.Operation, error)

	// Clear removes every persisted operation.
	Clear() error

	// Close releases the underlying storage. The caller must ensure no
	// transactions are in flight; see the queue's shutdown drain.
	Close() error
}
