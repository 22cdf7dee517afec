// Package engine runs the reconciliation pass: pull remote records, decide
// winners through the merge engine, materialize remote wins locally, and
// queue local wins for delivery.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quillforge/inkwell/internal/logging"
	"github.com/quillforge/inkwell/internal/merge"
	"github.com/quillforge/inkwell/internal/models"
)

// RemoteReader pulls the authoritative copies of a logical table.
type RemoteReader interface {
	Pull(ctx context.Context, table string) ([]*models.SyncRecord, error)
}

// LocalStore is the application-side record store the engine materializes
// winners into.
type LocalStore interface {
	List(table string) ([]*models.SyncRecord, error)
	Save(table string, rec *models.SyncRecord) error
	LogConflict(log *models.ConflictLog) error
}

// Enqueuer queues local wins for outbound delivery. Satisfied by
// *queue.SyncQueue.
type Enqueuer interface {
	Enqueue(opType models.OperationType, table, recordID, scope string, payload interface{}, priority int) (string, error)
}

// Engine drives reconciliation for a set of logical tables.
type Engine struct {
	remote RemoteReader
	local  LocalStore
	queue  Enqueuer
	online func() bool
}

// New constructs a reconciliation engine. online gates periodic runs; nil
// means always online.
func New(remote RemoteReader, local LocalStore, q Enqueuer, online func() bool) *Engine {
	if online == nil {
		online = func() bool { return true }
	}
	return &Engine{
		remote: remote,
		local:  local,
		queue:  q,
		online: online,
	}
}

// ReconcileResult summarizes one reconciliation pass over a table.
type ReconcileResult struct {
	Table     string        `json:"table"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Stats     merge.Stats   `json:"stats"`
	Pushed    int           `json:"pushed"`
	Updated   int           `json:"updated"`
}

// Reconcile pulls the remote copies of one table, merges them against the
// local copies, materializes remote wins, queues local wins for delivery,
// and logs conflicts for external resolution.
func (e *Engine) Reconcile(ctx context.Context, table string) (*ReconcileResult, error) {
	result := &ReconcileResult{
		Table:     table,
		StartTime: time.Now(),
	}
	defer func() {
		result.Duration = time.Since(result.StartTime)
	}()

	remote, err := e.remote.Pull(ctx, table)
	if err != nil {
		return result, fmt.Errorf("reconcile %s: pull: %w", table, err)
	}
	local, err := e.local.List(table)
	if err != nil {
		return result, fmt.Errorf("reconcile %s: list local: %w", table, err)
	}

	verdicts := merge.BatchMerge(local, remote)
	result.Stats = merge.Summarize(verdicts)

	localByID := make(map[string]*models.SyncRecord, len(local))
	for _, l := range local {
		if l != nil {
			localByID[l.ID] = l
		}
	}
	remoteByID := make(map[string]*models.SyncRecord, len(remote))
	for _, r := range remote {
		if r != nil {
			remoteByID[r.ID] = r
		}
	}

	for _, v := range verdicts {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		switch {
		case v.UpdateLocal && v.Merged != nil:
			if err := e.local.Save(table, v.Merged); err != nil {
				logging.Error("reconcile: failed to materialize remote win", err,
					map[string]interface{}{"table": table, "record_id": v.Merged.ID})
				continue
			}
			result.Updated++
		case v.PushRemote && v.Merged != nil:
			if _, err := e.queue.Enqueue(models.OperationUpsert, table, v.Merged.ID, v.Merged.Scope, v.Merged, 0); err != nil {
				logging.Error("reconcile: failed to queue local win", err,
					map[string]interface{}{"table": table, "record_id": v.Merged.ID})
				continue
			}
			result.Pushed++
		case v.Decision == merge.DecisionConflict:
			e.logConflict(table, localByID[v.RecordID], remoteByID[v.RecordID])
		}
	}

	logging.Info("reconciliation pass complete",
		map[string]interface{}{
			"table":       table,
			"local_wins":  result.Stats.LocalWins,
			"remote_wins": result.Stats.RemoteWins,
			"conflicts":   result.Stats.Conflicts,
			"pushed":      result.Pushed,
			"updated":     result.Updated,
		})
	return result, nil
}

// logConflict records a same-timestamp divergence for later resolution.
// The local record is retained as-is.
func (e *Engine) logConflict(table string, local, remote *models.SyncRecord) {
	if local == nil || remote == nil {
		return
	}
	entry := &models.ConflictLog{
		ID:              uuid.New().String(),
		Table:           table,
		RecordID:        local.ID,
		LocalTimestamp:  local.UpdatedAt,
		RemoteTimestamp: remote.UpdatedAt,
		LocalHash:       local.ContentHash,
		RemoteHash:      remote.ContentHash,
		DetectedAt:      time.Now().UnixMilli(),
	}
	if err := e.local.LogConflict(entry); err != nil {
		logging.Error("reconcile: failed to log conflict", err,
			map[string]interface{}{"table": table, "record_id": local.ID})
	}
}

// StartPeriodic runs Reconcile for every table on a fixed interval until
// the context is cancelled, skipping runs while offline.
func (e *Engine) StartPeriodic(ctx context.Context, interval time.Duration, tables []string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !e.online() {
				continue
			}
			for _, table := range tables {
				if _, err := e.Reconcile(ctx, table); err != nil {
					logging.Error("periodic reconciliation failed", err,
						map[string]interface{}{"table": table})
				}
			}
		}
	}
}
