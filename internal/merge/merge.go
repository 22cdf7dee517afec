// Package merge decides which of two diverged copies of a record wins.
//
// The strategy is last-write-wins on the authoritative timestamp with
// hash-based tie-breaking. Remote timestamps originate from a single server
// clock, which removes client clock skew as a source of non-determinism.
// Merge never field-merges content; the winning side is taken wholesale.
package merge

import (
	"fmt"
	"time"

	"github.com/quillforge/inkwell/internal/logging"
	"github.com/quillforge/inkwell/internal/models"
)

// Decision classifies the outcome of a merge.
type Decision string

const (
	DecisionTakeRemote Decision = "take-remote"
	DecisionKeepLocal  Decision = "keep-local"
	DecisionConflict   Decision = "conflict-detected"
)

// Winner names the side whose copy is materialized.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
	WinnerNone   Winner = "none"
)

// Verdict is the structured output of a merge decision.
//
// Exactly one of PushRemote/UpdateLocal is true when Winner is non-none;
// both are false when the records are already in sync or in conflict.
// Merged is the record to materialize, chosen verbatim from one side, and
// nil when there is nothing to do.
type Verdict struct {
	RecordID    string             `json:"record_id"`
	Decision    Decision           `json:"decision"`
	Winner      Winner             `json:"winner"`
	Reason      string             `json:"reason"`
	PushRemote  bool               `json:"should_push_to_remote"`
	UpdateLocal bool               `json:"should_update_local"`
	Merged      *models.SyncRecord `json:"merged_record,omitempty"`
}

// Errors returned by Merge on misuse.
var (
	ErrNilRecord  = &MergeError{Message: "both records must be non-nil"}
	ErrIDMismatch = &MergeError{Message: "record ID mismatch"}
)

// MergeError represents a merge contract violation.
type MergeError struct {
	Message string
}

func (e *MergeError) Error() string {
	return e.Message
}

// Now is the clock used to stamp LastSyncedAt on materialized local copies.
// Tests replace it for deterministic output.
var Now = func() int64 {
	return time.Now().UnixMilli()
}

// Merge compares one local and one remote copy of the same record and
// returns a verdict. It is a pure decision function: no I/O, inputs are
// never mutated, and it is safe to call concurrently.
func Merge(local, remote *models.SyncRecord) (*Verdict, error) {
	if local == nil || remote == nil {
		return nil, ErrNilRecord
	}
	if local.ID != remote.ID {
		return nil, ErrIDMismatch
	}

	// A local record that has never synced has no observed remote
	// counterpart; it unconditionally wins.
	if local.LastSyncedAt == 0 {
		return &Verdict{
			RecordID:   local.ID,
			Decision:   DecisionKeepLocal,
			Winner:     WinnerLocal,
			Reason:     "local record never synced",
			PushRemote: true,
			Merged:     local,
		}, nil
	}

	if remote.UpdatedAt > local.UpdatedAt {
		merged := remote.Clone()
		merged.LastSyncedAt = Now()
		return &Verdict{
			RecordID:    local.ID,
			Decision:    DecisionTakeRemote,
			Winner:      WinnerRemote,
			Reason:      fmt.Sprintf("remote newer (%d > %d)", remote.UpdatedAt, local.UpdatedAt),
			UpdateLocal: true,
			Merged:      merged,
		}, nil
	}

	if local.UpdatedAt > remote.UpdatedAt {
		return &Verdict{
			RecordID:   local.ID,
			Decision:   DecisionKeepLocal,
			Winner:     WinnerLocal,
			Reason:     fmt.Sprintf("local newer (%d > %d)", local.UpdatedAt, remote.UpdatedAt),
			PushRemote: true,
			Merged:     local,
		}, nil
	}

	// Equal timestamps: resolve by content hash.
	if local.ContentHash == "" || remote.ContentHash == "" {
		// Known precision gap: without hashes on both sides a real
		// conflict within the same timestamp granularity cannot be seen.
		logging.Warn("merge: equal timestamps without content hashes, assuming in sync",
			map[string]interface{}{
				"record_id":  local.ID,
				"updated_at": local.UpdatedAt,
			})
		return &Verdict{
			RecordID: local.ID,
			Decision: DecisionKeepLocal,
			Winner:   WinnerNone,
			Reason:   "equal timestamps, hash unavailable, assumed in sync",
		}, nil
	}

	if local.ContentHash == remote.ContentHash {
		return &Verdict{
			RecordID: local.ID,
			Decision: DecisionKeepLocal,
			Winner:   WinnerNone,
			Reason:   "records in sync",
		}, nil
	}

	logging.Warn("merge: concurrent edit conflict detected",
		map[string]interface{}{
			"record_id":   local.ID,
			"updated_at":  local.UpdatedAt,
			"local_hash":  local.ContentHash,
			"remote_hash": remote.ContentHash,
		})
	return &Verdict{
		RecordID: local.ID,
		Decision: DecisionConflict,
		Winner:   WinnerNone,
		Reason:   "equal timestamps with divergent content",
	}, nil
}
