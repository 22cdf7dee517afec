package queue

import (
	"context"
	"encoding/json"

	"github.com/quillforge/inkwell/internal/models"
)

// Outbound is one record handed to the remote writer during a drain pass.
type Outbound struct {
	OperationID string               `json:"operation_id"`
	Type        models.OperationType `json:"type"`
	RecordID    string               `json:"record_id"`
	Scope       string               `json:"scope,omitempty"`
	Payload     json.RawMessage      `json:"payload"`
}

// UpsertResult reports the outcome of a per-table batch write.
type UpsertResult struct {
	Success          bool     `json:"success"`
	RecordsProcessed int      `json:"records_processed"`
	Errors           []string `json:"errors,omitempty"`
}

// RemoteWriter delivers batches of records to the authoritative store.
//
// A non-success result or a returned error counts as a failure for every
// record in that call; the queue does not assume partial-success
// attribution beyond what the writer reports. Implementations needing
// finer-grained attribution may dispatch one record per call.
type RemoteWriter interface {
	Upsert(ctx context.Context, table string, records []Outbound) (*UpsertResult, error)
}
