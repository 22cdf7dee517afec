package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillforge/inkwell/internal/models"
	"github.com/quillforge/inkwell/internal/store"
)

type upsertCall struct {
	table   string
	records []Outbound
}

// fakeWriter records upsert calls and can be told to fail per table,
// return an error, or block until released.
type fakeWriter struct {
	mu         sync.Mutex
	calls      []upsertCall
	failTables map[string]bool
	err        error
	block      chan struct{}
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{failTables: make(map[string]bool)}
}

func (w *fakeWriter) Upsert(ctx context.Context, table string, records []Outbound) (*UpsertResult, error) {
	w.mu.Lock()
	w.calls = append(w.calls, upsertCall{table: table, records: records})
	fail := w.failTables[table]
	err := w.err
	block := w.block
	w.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	if fail {
		return &UpsertResult{Success: false, Errors: []string{"remote rejected batch"}}, nil
	}
	return &UpsertResult{Success: true, RecordsProcessed: len(records)}, nil
}

func (w *fakeWriter) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

func (w *fakeWriter) call(i int) upsertCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[i]
}

func (w *fakeWriter) setFail(table string, fail bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failTables[table] = fail
}

// fakeClock drives the queue's notion of now in epoch milliseconds.
type fakeClock struct {
	mu sync.Mutex
	ts int64
}

func (c *fakeClock) now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ts
}

func (c *fakeClock) set(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ts = ts
}

func newTestQueue(t *testing.T, cfg Config) (*SyncQueue, *store.MemoryStore, *fakeWriter, *fakeClock) {
	t.Helper()
	mem := store.NewMemoryStore()
	w := newFakeWriter()
	q := New(mem, w, cfg)
	clock := &fakeClock{ts: 1000}
	q.now = clock.now
	require.NoError(t, q.Init())
	t.Cleanup(func() { q.CloseAndWait() })
	return q, mem, w, clock
}

// goOnline flips the gate without kicking off an asynchronous drain, so
// tests can run ProcessQueue synchronously.
func goOnline(q *SyncQueue) {
	q.mu.Lock()
	q.online = true
	q.mu.Unlock()
}

func TestEnqueueDedup(t *testing.T) {
	q, mem, _, _ := newTestQueue(t, Config{})

	id1, err := q.Enqueue(models.OperationUpsert, "chapters", "c1", "p1", map[string]string{"title": "A"}, 0)
	require.NoError(t, err)
	id2, err := q.Enqueue(models.OperationUpsert, "chapters", "c1", "p1", map[string]string{"title": "B"}, 0)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "re-enqueuing the same record returns the same id")

	stats := q.GetStats()
	assert.Equal(t, 1, stats.Pending)

	persisted, err := mem.Get(id1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"B"}`, string(persisted.Payload), "last payload wins")

	// A different record gets its own entry.
	id3, err := q.Enqueue(models.OperationUpsert, "chapters", "c2", "p1", map[string]string{"title": "C"}, 0)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
	assert.Equal(t, 2, q.GetStats().Pending)
}

func TestEnqueuePersistsBeforeReturning(t *testing.T) {
	q, mem, _, _ := newTestQueue(t, Config{})

	id, err := q.Enqueue(models.OperationDelete, "notes", "n1", "p1", nil, 0)
	require.NoError(t, err)

	persisted, err := mem.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, persisted.Status)
	assert.Equal(t, models.OperationDelete, persisted.Type)
	assert.Equal(t, "notes", persisted.Table)
	assert.Equal(t, "n1", persisted.RecordID)
}

func TestPayloadCheckRejectsAtBoundary(t *testing.T) {
	q, mem, _, _ := newTestQueue(t, Config{})

	q.RegisterPayloadCheck("chapters", func(raw json.RawMessage) error {
		if string(raw) == "null" {
			return assert.AnError
		}
		return nil
	})

	_, err := q.Enqueue(models.OperationUpsert, "chapters", "c1", "p1", nil, 0)
	require.Error(t, err)

	all, err := mem.GetAll()
	require.NoError(t, err)
	assert.Empty(t, all, "rejected payloads are never persisted")

	_, err = q.Enqueue(models.OperationUpsert, "chapters", "c1", "p1", map[string]string{"title": "A"}, 0)
	assert.NoError(t, err)
}

func TestGetStatsOldestPending(t *testing.T) {
	q, _, _, clock := newTestQueue(t, Config{})

	assert.Zero(t, q.GetStats().OldestPendingAt)

	clock.set(5000)
	_, err := q.Enqueue(models.OperationUpsert, "chapters", "c1", "p1", "a", 0)
	require.NoError(t, err)
	clock.set(9000)
	_, err = q.Enqueue(models.OperationUpsert, "chapters", "c2", "p1", "b", 0)
	require.NoError(t, err)

	stats := q.GetStats()
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, int64(5000), stats.OldestPendingAt)
}

func TestListeners(t *testing.T) {
	q, _, _, _ := newTestQueue(t, Config{})

	var mu sync.Mutex
	var got []Stats
	record := func(s Stats) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}

	unsubscribe := q.OnStateChange(record)

	mu.Lock()
	require.Len(t, got, 1, "OnStateChange invokes immediately")
	assert.Zero(t, got[0].Pending)
	mu.Unlock()

	_, err := q.Enqueue(models.OperationUpsert, "chapters", "c1", "p1", "a", 0)
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[1].Pending)
	mu.Unlock()

	unsubscribe()
	_, err = q.Enqueue(models.OperationUpsert, "chapters", "c2", "p1", "b", 0)
	require.NoError(t, err)

	mu.Lock()
	assert.Len(t, got, 2, "unsubscribed listener is not invoked")
	mu.Unlock()
}

func TestListenerPanicIsolated(t *testing.T) {
	q, _, _, _ := newTestQueue(t, Config{})

	q.AddListener(func(Stats) {
		panic("listener bug")
	})

	var mu sync.Mutex
	calls := 0
	q.AddListener(func(Stats) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	_, err := q.Enqueue(models.OperationUpsert, "chapters", "c1", "p1", "a", 0)
	require.NoError(t, err, "a panicking listener must not corrupt queue state")

	mu.Lock()
	assert.Equal(t, 1, calls, "other listeners still receive the snapshot")
	mu.Unlock()

	assert.Equal(t, 1, q.GetStats().Pending)
}

func TestInspect(t *testing.T) {
	q, _, _, _ := newTestQueue(t, Config{})

	id, err := q.Enqueue(models.OperationUpsert, "chapters", "c1", "p1", "a", 3)
	require.NoError(t, err)

	op, ok := q.Inspect(id)
	require.True(t, ok)
	assert.Equal(t, 3, op.Priority)

	// Mutating the copy must not touch queue state.
	op.Priority = 99
	again, _ := q.Inspect(id)
	assert.Equal(t, 3, again.Priority)

	_, ok = q.Inspect("missing")
	assert.False(t, ok)
}

func TestEnqueueAfterClose(t *testing.T) {
	q, _, _, _ := newTestQueue(t, Config{})
	require.NoError(t, q.CloseAndWait())

	_, err := q.Enqueue(models.OperationUpsert, "chapters", "c1", "p1", "a", 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseAndWaitImmediate(t *testing.T) {
	q, mem, _, _ := newTestQueue(t, Config{})

	start := time.Now()
	require.NoError(t, q.CloseAndWait())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, mem.Closed())

	// Second call is a no-op.
	require.NoError(t, q.CloseAndWait())
}

func TestCloseAndWaitDrainsTransactions(t *testing.T) {
	q, mem, _, _ := newTestQueue(t, Config{
		ShutdownPoll:    5 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
	})

	q.pendingTx.Add(1)
	released := make(chan struct{})
	go func() {
		time.Sleep(80 * time.Millisecond)
		q.txDone()
		close(released)
	}()

	start := time.Now()
	require.NoError(t, q.CloseAndWait())
	elapsed := time.Since(start)

	<-released
	assert.GreaterOrEqual(t, elapsed, 75*time.Millisecond, "waits for the transaction to drain")
	assert.Less(t, elapsed, time.Second, "closes once the counter reaches zero, not at the ceiling")
	assert.True(t, mem.Closed())
}

func TestCloseAndWaitForcesAtCeiling(t *testing.T) {
	q, mem, _, _ := newTestQueue(t, Config{
		ShutdownPoll:    5 * time.Millisecond,
		ShutdownTimeout: 100 * time.Millisecond,
	})

	q.pendingTx.Add(1)
	defer q.pendingTx.Add(-1)

	start := time.Now()
	require.NoError(t, q.CloseAndWait())
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "does not force-close before the ceiling")
	assert.Less(t, elapsed, time.Second)
	assert.True(t, mem.Closed(), "store is force-closed at the ceiling")
}
