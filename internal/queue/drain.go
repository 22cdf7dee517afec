package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quillforge/inkwell/internal/logging"
	"github.com/quillforge/inkwell/internal/models"
)

// CalculateBackoff returns the retry delay after the given number of failed
// attempts: BackoffBase doubled per attempt, capped at BackoffMax. The
// delay is strictly increasing until the cap, so a persistently failing
// record cannot starve healthy operations of writer bandwidth.
func (q *SyncQueue) CalculateBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// Beyond 62 doublings the shift would overflow; the cap applies anyway.
	if attempts > 62 {
		return q.cfg.BackoffMax
	}
	d := q.cfg.BackoffBase << uint(attempts)
	if d <= 0 || d > q.cfg.BackoffMax {
		d = q.cfg.BackoffMax
	}
	return d
}

// ProcessQueue runs one drain pass: select eligible pending operations,
// order them by priority then age, group them into per-table batches, and
// hand each batch to the remote writer.
//
// The pass is a no-op while offline, while another pass is running
// (single-flight), or when nothing is queued. Failures inside the pass are
// absorbed into per-operation state and never escape.
func (q *SyncQueue) ProcessQueue(ctx context.Context) {
	q.mu.Lock()
	if !q.online || q.processing || q.closed || q.writer == nil || len(q.ops) == 0 {
		q.mu.Unlock()
		return
	}
	q.processing = true
	batches := q.selectLocked()
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.processing = false
		q.mu.Unlock()
	}()

	if len(batches) == 0 {
		return
	}
	q.notify()

	for _, batch := range batches {
		if ctx.Err() != nil {
			q.revert(batch.ids)
			continue
		}
		q.dispatch(ctx, batch)
	}
	q.notify()
}

// tableBatch is one per-table slice of a drain pass, in dispatch order.
type tableBatch struct {
	table   string
	ids     []string
	records []Outbound
}

// selectLocked picks eligible operations, marks them syncing, and groups
// them by table. Eligible means pending and outside the current backoff
// window. Ordering is priority descending with ties broken oldest-first;
// batches inherit the position of their highest-ranked operation.
func (q *SyncQueue) selectLocked() []*tableBatch {
	now := q.now()

	eligible := make([]*models.Operation, 0, len(q.ops))
	for _, op := range q.ops {
		if op.Status != models.StatusPending {
			continue
		}
		if op.LastAttemptAt > 0 && now-op.LastAttemptAt < q.CalculateBackoff(op.Attempts).Milliseconds() {
			continue
		}
		eligible = append(eligible, op)
	}
	if len(eligible) == 0 {
		return nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		if eligible[i].CreatedAt != eligible[j].CreatedAt {
			return eligible[i].CreatedAt < eligible[j].CreatedAt
		}
		return eligible[i].ID < eligible[j].ID
	})

	var batches []*tableBatch
	byTable := make(map[string]*tableBatch)
	for _, op := range eligible {
		op.Status = models.StatusSyncing
		if err := q.persist(op); err != nil {
			// Leave it pending for the next pass rather than sending an
			// operation whose state could not be recorded.
			op.Status = models.StatusPending
			logging.Error("drain: failed to persist syncing transition", err,
				map[string]interface{}{"operation_id": op.ID})
			continue
		}
		b, ok := byTable[op.Table]
		if !ok {
			b = &tableBatch{table: op.Table}
			byTable[op.Table] = b
			batches = append(batches, b)
		}
		b.ids = append(b.ids, op.ID)
		b.records = append(b.records, Outbound{
			OperationID: op.ID,
			Type:        op.Type,
			RecordID:    op.RecordID,
			Scope:       op.Scope,
			Payload:     op.Payload,
		})
	}
	return batches
}

// dispatch sends one table batch and commits the per-record outcome. One
// batch's failure never prevents other batches from being committed or
// retried independently.
func (q *SyncQueue) dispatch(ctx context.Context, batch *tableBatch) {
	res, err := q.writer.Upsert(ctx, batch.table, batch.records)

	failure := ""
	switch {
	case err != nil:
		failure = err.Error()
	case res == nil:
		failure = "remote writer returned no result"
	case !res.Success:
		failure = strings.Join(res.Errors, "; ")
		if failure == "" {
			failure = "remote writer reported failure"
		}
	}

	if failure == "" {
		q.complete(batch.ids)
		logging.Debug("drain: batch delivered",
			map[string]interface{}{
				"table":   batch.table,
				"records": len(batch.ids),
			})
		return
	}

	q.fail(batch.ids, failure)
	logging.Warn("drain: batch delivery failed",
		map[string]interface{}{
			"table":   batch.table,
			"records": len(batch.ids),
			"error":   failure,
		})
}

// complete removes delivered operations from the map and the durable
// store. An operation re-enqueued while in flight is left pending so the
// fresh payload still gets delivered.
func (q *SyncQueue) complete(ids []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		op, ok := q.ops[id]
		if !ok || op.Status != models.StatusSyncing {
			continue
		}
		op.Status = models.StatusCompleted
		delete(q.ops, id)
		if cur, ok := q.byKey[op.DedupKey()]; ok && cur == id {
			delete(q.byKey, op.DedupKey())
		}
		if err := q.remove(id); err != nil {
			// The row stays behind as an orphaned completed entry;
			// ClearCompleted sweeps it later.
			if perr := q.persist(op); perr != nil {
				logging.Error("drain: failed to mark orphaned completion", perr,
					map[string]interface{}{"operation_id": id})
			}
			logging.Error("drain: failed to delete completed operation", err,
				map[string]interface{}{"operation_id": id})
		}
	}
}

// fail reverts failed operations to pending (or failed once the configured
// attempt ceiling is exceeded), recording the attempt and error.
func (q *SyncQueue) fail(ids []string, msg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for _, id := range ids {
		op, ok := q.ops[id]
		if !ok || op.Status != models.StatusSyncing {
			continue
		}
		op.Attempts++
		op.LastAttemptAt = now
		op.Error = msg
		if q.cfg.MaxAttempts > 0 && op.Attempts >= q.cfg.MaxAttempts {
			op.Status = models.StatusFailed
		} else {
			op.Status = models.StatusPending
		}
		if err := q.persist(op); err != nil {
			logging.Error("drain: failed to persist attempt", err,
				map[string]interface{}{"operation_id": id})
		}
	}
}

// revert returns still-syncing operations to pending without counting an
// attempt, used when a pass is cancelled before dispatch.
func (q *SyncQueue) revert(ids []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		op, ok := q.ops[id]
		if !ok || op.Status != models.StatusSyncing {
			continue
		}
		op.Status = models.StatusPending
		if err := q.persist(op); err != nil {
			logging.Error("drain: failed to revert operation", err,
				map[string]interface{}{"operation_id": id})
		}
	}
}

// RetryFailed resets every failed operation back to pending with a clean
// slate and, when online, triggers a drain pass.
func (q *SyncQueue) RetryFailed() int {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	count := 0
	for _, op := range q.ops {
		if op.Status != models.StatusFailed {
			continue
		}
		op.Status = models.StatusPending
		op.Attempts = 0
		op.LastAttemptAt = 0
		op.Error = ""
		op.UpdatedAt = q.now()
		if err := q.persist(op); err != nil {
			logging.Error("retry: failed to persist reset", err,
				map[string]interface{}{"operation_id": op.ID})
			continue
		}
		count++
	}
	online := q.online
	q.mu.Unlock()

	if count > 0 {
		logging.Info("reset failed operations for retry",
			map[string]interface{}{"count": count})
		q.notify()
		if online {
			go q.ProcessQueue(context.Background())
		}
	}
	return count
}

// ClearCompleted sweeps orphaned completed rows left behind by interrupted
// persistence writes. Completed operations are normally removed on success,
// so this is a best-effort pruning hook.
func (q *SyncQueue) ClearCompleted() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}

	ops, err := q.loadAll()
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	count := 0
	for _, op := range ops {
		if op.Status != models.StatusCompleted {
			continue
		}
		if err := q.remove(op.ID); err != nil {
			return count, fmt.Errorf("clear completed %s: %w", op.ID, err)
		}
		delete(q.ops, op.ID)
		count++
	}
	return count, nil
}
