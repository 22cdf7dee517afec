// Package queue owns the durable set of pending outbound mutations and
// drives their delivery to the remote store across connectivity transitions
// and process restarts.
//
// At most one operation is outstanding per (table, record id) at any time:
// re-enqueuing an already-queued record overwrites the entry in place. The
// queue never attempts network delivery while offline, and a single-flight
// guard keeps concurrent drain passes from double-sending.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quillforge/inkwell/internal/logging"
	"github.com/quillforge/inkwell/internal/models"
	"github.com/quillforge/inkwell/internal/store"
)

// ErrClosed is returned when the queue is used after CloseAndWait.
var ErrClosed = errors.New("queue: closed")

// PayloadCheck validates a table's payload at the enqueue boundary.
type PayloadCheck func(payload json.RawMessage) error

// Listener receives a statistics snapshot after every queue mutation.
type Listener func(Stats)

// Stats is a snapshot of live queue state.
type Stats struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Failed  int `json:"failed"`

	// OldestPendingAt is the minimum CreatedAt among pending operations in
	// epoch milliseconds, or 0 when nothing is pending. A pending
	// operation older than some threshold signals a systemic problem
	// upstream (persistent connectivity loss, poisoned record).
	OldestPendingAt int64 `json:"oldest_pending_at"`
}

// Config holds queue tuning knobs.
type Config struct {
	// BackoffBase is the delay after the first failed attempt; each
	// further attempt doubles it up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// MaxAttempts moves an operation to failed once exceeded.
	// Zero means unlimited retries with growing backoff.
	MaxAttempts int

	// ShutdownPoll is the interval at which CloseAndWait re-checks the
	// in-flight transaction counter; ShutdownTimeout is the hard ceiling
	// after which the store is closed regardless.
	ShutdownPoll    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the reference queue configuration.
func DefaultConfig() Config {
	return Config{
		BackoffBase:     2 * time.Second,
		BackoffMax:      5 * time.Minute,
		MaxAttempts:     0,
		ShutdownPoll:    15 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
	}
}

// SyncQueue is the persistent outbound operation queue.
//
// The in-memory operation map is mutated only by the queue's own methods.
// The durable store is written transactionally per operation; the shutdown
// drain accounts for in-flight transactions via pendingTx.
type SyncQueue struct {
	mu    sync.Mutex
	ops   map[string]*models.Operation // by operation id
	byKey map[string]string            // dedup key -> operation id

	st     store.Store
	writer RemoteWriter
	cfg    Config
	checks map[string]PayloadCheck

	online     bool
	processing bool // single-flight drain guard
	closed     bool
	inited     bool

	pendingTx atomic.Int64
	txDrained chan struct{} // signaled when pendingTx reaches zero

	listeners  map[int]Listener
	nextListen int

	// now returns epoch milliseconds; replaced in tests.
	now func() int64
}

// New constructs a queue over the given durable store and remote writer.
// The queue starts offline; call SetOnline once connectivity is known.
func New(st store.Store, writer RemoteWriter, cfg Config) *SyncQueue {
	def := DefaultConfig()
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.ShutdownPoll <= 0 {
		cfg.ShutdownPoll = def.ShutdownPoll
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	return &SyncQueue{
		ops:       make(map[string]*models.Operation),
		byKey:     make(map[string]string),
		st:        st,
		writer:    writer,
		cfg:       cfg,
		checks:    make(map[string]PayloadCheck),
		listeners: make(map[int]Listener),
		txDrained: make(chan struct{}, 1),
		now: func() int64 {
			return time.Now().UnixMilli()
		},
	}
}

// RegisterPayloadCheck installs a validator run against every payload
// enqueued for the given table, so each table's shape is checked at its
// boundary rather than trusted downstream.
func (q *SyncQueue) RegisterPayloadCheck(table string, check PayloadCheck) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.checks[table] = check
}

// Init loads persisted operations and reconciles state left by a crash:
// operations found syncing are treated as pending again (re-sending is
// idempotent because remote writes are upserts), and orphaned completed
// rows are swept. Init failures propagate; the queue cannot function
// without persistence.
func (q *SyncQueue) Init() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	ops, err := q.loadAll()
	if err != nil {
		return fmt.Errorf("queue init: %w", err)
	}

	recovered := 0
	for _, op := range ops {
		switch op.Status {
		case models.StatusCompleted:
			// Orphaned terminal row from an interrupted persistence write.
			if err := q.remove(op.ID); err != nil {
				return fmt.Errorf("queue init: sweep completed %s: %w", op.ID, err)
			}
			continue
		case models.StatusSyncing:
			op.Status = models.StatusPending
			recovered++
			if err := q.persist(op); err != nil {
				return fmt.Errorf("queue init: recover %s: %w", op.ID, err)
			}
		}

		key := op.DedupKey()
		if prevID, ok := q.byKey[key]; ok {
			// Duplicate entries for one record should not exist; keep the
			// most recently updated one and drop the other.
			prev := q.ops[prevID]
			if prev.UpdatedAt >= op.UpdatedAt {
				if err := q.remove(op.ID); err != nil {
					return fmt.Errorf("queue init: dedupe %s: %w", op.ID, err)
				}
				continue
			}
			if err := q.remove(prevID); err != nil {
				return fmt.Errorf("queue init: dedupe %s: %w", prevID, err)
			}
			delete(q.ops, prevID)
		}
		q.ops[op.ID] = op
		q.byKey[key] = op.ID
	}

	q.inited = true
	logging.Info("sync queue initialized",
		map[string]interface{}{
			"operations": len(q.ops),
			"recovered":  recovered,
		})
	return nil
}

// Enqueue records a mutation for delivery and returns its operation id.
//
// If an operation for the same (table, recordId) is already queued, its
// payload, priority and timestamp are overwritten in place and the existing
// id is returned. The entry is persisted before Enqueue returns; a crash
// immediately afterwards must not lose the operation. When online, an
// asynchronous drain pass is kicked off; Enqueue never blocks on delivery.
func (q *SyncQueue) Enqueue(opType models.OperationType, table, recordID, scope string, payload interface{}, priority int) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("enqueue %s/%s: marshal payload: %w", table, recordID, err)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}

	if check, ok := q.checks[table]; ok {
		if err := check(raw); err != nil {
			q.mu.Unlock()
			return "", fmt.Errorf("enqueue %s/%s: payload rejected: %w", table, recordID, err)
		}
	}

	now := q.now()
	key := models.DedupKey(table, recordID)

	var op *models.Operation
	if id, ok := q.byKey[key]; ok {
		op = q.ops[id]
		op.Type = opType
		op.Scope = scope
		op.Payload = raw
		op.Priority = priority
		op.UpdatedAt = now
		// A fresh payload supersedes a failed or in-flight send; the
		// operation goes back to pending so the new content is what gets
		// delivered. Attempt history is kept for backoff.
		if op.Status == models.StatusFailed || op.Status == models.StatusSyncing {
			op.Status = models.StatusPending
			op.Error = ""
		}
	} else {
		op = &models.Operation{
			ID:        uuid.New().String(),
			Type:      opType,
			Table:     table,
			RecordID:  recordID,
			Scope:     scope,
			Payload:   raw,
			Priority:  priority,
			Status:    models.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		q.ops[op.ID] = op
		q.byKey[key] = op.ID
	}

	if err := q.persist(op); err != nil {
		q.mu.Unlock()
		return "", fmt.Errorf("enqueue %s/%s: persist: %w", table, recordID, err)
	}

	id := op.ID
	online := q.online
	q.mu.Unlock()

	q.notify()
	if online {
		go q.ProcessQueue(context.Background())
	}
	return id, nil
}

// SetOnline updates the connectivity gate. An offline-to-online edge
// immediately attempts a drain pass.
func (q *SyncQueue) SetOnline(online bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	wasOnline := q.online
	q.online = online
	q.mu.Unlock()

	if wasOnline != online {
		logging.Info("sync queue connectivity changed",
			map[string]interface{}{
				"was_online": wasOnline,
				"is_online":  online,
			})
	}
	if !wasOnline && online {
		go q.ProcessQueue(context.Background())
	}
}

// Online reports the current connectivity gate.
func (q *SyncQueue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// GetStats computes a snapshot from the live in-memory map.
func (q *SyncQueue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *SyncQueue) statsLocked() Stats {
	var s Stats
	for _, op := range q.ops {
		switch op.Status {
		case models.StatusPending:
			s.Pending++
			if s.OldestPendingAt == 0 || op.CreatedAt < s.OldestPendingAt {
				s.OldestPendingAt = op.CreatedAt
			}
		case models.StatusSyncing:
			s.Syncing++
		case models.StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Inspect returns a copy of the operation for the given id, letting a UI
// surface per-operation failure detail without touching queue internals.
func (q *SyncQueue) Inspect(id string) (*models.Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	op, ok := q.ops[id]
	if !ok {
		return nil, false
	}
	return op.Clone(), true
}

// AddListener registers a state-change listener and returns its id.
func (q *SyncQueue) AddListener(fn Listener) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextListen
	q.nextListen++
	q.listeners[id] = fn
	return id
}

// RemoveListener unregisters a listener by id.
func (q *SyncQueue) RemoveListener(id int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.listeners, id)
}

// OnStateChange invokes fn immediately with the current snapshot, then on
// every future mutation, and returns an unsubscribe function.
func (q *SyncQueue) OnStateChange(fn Listener) func() {
	q.mu.Lock()
	stats := q.statsLocked()
	id := q.nextListen
	q.nextListen++
	q.listeners[id] = fn
	q.mu.Unlock()

	q.invoke(fn, stats)
	return func() {
		q.RemoveListener(id)
	}
}

// notify delivers a fresh snapshot to every listener. A panicking listener
// is logged and must not prevent delivery to the others or corrupt queue
// state, so each invocation is isolated.
func (q *SyncQueue) notify() {
	q.mu.Lock()
	stats := q.statsLocked()
	fns := make([]Listener, 0, len(q.listeners))
	for _, fn := range q.listeners {
		fns = append(fns, fn)
	}
	q.mu.Unlock()

	for _, fn := range fns {
		q.invoke(fn, stats)
	}
}

func (q *SyncQueue) invoke(fn Listener, stats Stats) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("sync queue listener panicked", fmt.Errorf("%v", r))
		}
	}()
	fn(stats)
}

// CloseAndWait closes the durable store once in-flight transactions have
// drained. The wait is woken on transaction completion, re-checks the
// counter at ShutdownPoll intervals as a safety net, and forces closure at
// the ShutdownTimeout ceiling, trading a small risk of a torn write for
// bounded shutdown latency. Calling it again is a no-op.
func (q *SyncQueue) CloseAndWait() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	if q.pendingTx.Load() > 0 {
		deadline := time.NewTimer(q.cfg.ShutdownTimeout)
		defer deadline.Stop()
		ticker := time.NewTicker(q.cfg.ShutdownPoll)
		defer ticker.Stop()

	wait:
		for q.pendingTx.Load() > 0 {
			select {
			case <-q.txDrained:
			case <-ticker.C:
			case <-deadline.C:
				logging.Warn("forcing store close with transactions in flight",
					map[string]interface{}{
						"pending_transactions": q.pendingTx.Load(),
					})
				break wait
			}
		}
	}
	return q.st.Close()
}

// txDone decrements the transaction counter and wakes a shutdown waiter
// when the last transaction completes. The signal channel is buffered, so a
// stale wakeup at most costs the waiter one extra counter check.
func (q *SyncQueue) txDone() {
	if q.pendingTx.Add(-1) == 0 {
		select {
		case q.txDrained <- struct{}{}:
		default:
		}
	}
}

// persist writes one operation to the durable store, tracked by the
// shutdown transaction counter.
func (q *SyncQueue) persist(op *models.Operation) error {
	q.pendingTx.Add(1)
	defer q.txDone()
	return q.st.Put(op.Clone())
}

// remove deletes one operation from the durable store.
func (q *SyncQueue) remove(id string) error {
	q.pendingTx.Add(1)
	defer q.txDone()
	return q.st.Delete(id)
}

// loadAll reads every persisted operation.
func (q *SyncQueue) loadAll() ([]*models.Operation, error) {
	q.pendingTx.Add(1)
	defer q.txDone()
	return q.st.GetAll()
}
