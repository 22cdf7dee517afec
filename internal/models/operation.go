package models

import (
	"encoding/json"
	"fmt"
)

// OperationType represents the kind of mutation an operation carries.
type OperationType string

const (
	OperationUpsert OperationType = "upsert"
	OperationDelete OperationType = "delete"
)

// OperationStatus represents the lifecycle state of a queued operation.
// Completed entries are removed on success rather than retained; the status
// only appears transiently or in orphaned rows left by interrupted writes.
type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusSyncing   OperationStatus = "syncing"
	StatusFailed    OperationStatus = "failed"
	StatusCompleted OperationStatus = "completed"
)

// Operation represents one pending mutation intended for the remote store.
type Operation struct {
	ID            string          `db:"id" json:"id"`
	Type          OperationType   `db:"op_type" json:"type"`
	Table         string          `db:"tbl" json:"table"`
	RecordID      string          `db:"record_id" json:"record_id"`
	Scope         string          `db:"scope" json:"scope,omitempty"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Priority      int             `db:"priority" json:"priority"`
	Status        OperationStatus `db:"status" json:"status"`
	Attempts      int             `db:"attempts" json:"attempts"`
	LastAttemptAt int64           `db:"last_attempt_at" json:"last_attempt_at"` // 0 = never attempted
	Error         string          `db:"error" json:"error,omitempty"`
	CreatedAt     int64           `db:"created_at" json:"created_at"`
	UpdatedAt     int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the durable store collection name for Operation.
func (Operation) TableName() string {
	return "sync_queue"
}

// DedupKey identifies the at-most-one outstanding operation per record.
func DedupKey(table, recordID string) string {
	return table + "/" + recordID
}

// DedupKey returns the operation's dedup key.
func (o *Operation) DedupKey() string {
	return DedupKey(o.Table, o.RecordID)
}

// Validate checks the operation for required fields and a known type.
func (o *Operation) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("operation: id is required")
	}
	if o.Table == "" {
		return fmt.Errorf("operation %s: table is required", o.ID)
	}
	if o.RecordID == "" {
		return fmt.Errorf("operation %s: record_id is required", o.ID)
	}
	switch o.Type {
	case OperationUpsert, OperationDelete:
	default:
		return fmt.Errorf("operation %s: unknown type %q", o.ID, o.Type)
	}
	return nil
}

// Clone returns a copy of the operation with its own payload buffer.
func (o *Operation) Clone() *Operation {
	if o == nil {
		return nil
	}
	out := *o
	if o.Payload != nil {
		out.Payload = make(json.RawMessage, len(o.Payload))
		copy(out.Payload, o.Payload)
	}
	return &out
}
