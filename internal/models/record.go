// Package models provides data model definitions for the Inkwell sync core.
package models

import "fmt"

// SyncRecord is the generic shape every syncable record reduces to for
// merge decisions. Product schemas (chapters, notes, projects) carry their
// semantic content in Fields; the sync core never interprets it.
type SyncRecord struct {
	ID string `json:"id"`

	// UpdatedAt is server-assigned on remote copies and client-assigned on
	// local copies, in epoch milliseconds.
	UpdatedAt int64 `json:"updated_at"`

	// LastSyncedAt is only meaningful on local copies. Zero means the
	// record has never been synced.
	LastSyncedAt int64 `json:"last_synced_at,omitempty"`

	// ContentHash is a non-cryptographic hash over the semantic fields,
	// used for cheap equality checks. May be empty.
	ContentHash string `json:"content_hash,omitempty"`

	// Scope is the owning project or container id.
	Scope string `json:"scope,omitempty"`

	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Validate checks the record for required fields.
func (r *SyncRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("sync record: id is required")
	}
	if r.UpdatedAt < 0 {
		return fmt.Errorf("sync record %s: negative updated_at", r.ID)
	}
	return nil
}

// Clone returns a copy of the record with its own Fields map. The field
// values themselves are shared; callers must not mutate nested structures.
func (r *SyncRecord) Clone() *SyncRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Fields != nil {
		out.Fields = make(map[string]interface{}, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return &out
}
