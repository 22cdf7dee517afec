package store

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillforge/inkwell/internal/models"
)

func sampleOp(id string, createdAt int64) *models.Operation {
	return &models.Operation{
		ID:        id,
		Type:      models.OperationUpsert,
		Table:     "chapters",
		RecordID:  "c-" + id,
		Scope:     "project-1",
		Payload:   json.RawMessage(`{"title":"Chapter One"}`),
		Priority:  2,
		Status:    models.StatusPending,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	op := sampleOp("op-1", 1000)
	op.Attempts = 3
	op.LastAttemptAt = 5000
	op.Error = "remote rejected batch"

	require.NoError(t, s.Put(op))

	got, err := s.Get("op-1")
	require.NoError(t, err)
	assert.Equal(t, op, got)
}

func TestSQLiteGetMissing(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLitePutOverwrites(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	op := sampleOp("op-1", 1000)
	require.NoError(t, s.Put(op))

	op.Status = models.StatusFailed
	op.Attempts = 1
	op.Payload = json.RawMessage(`{"title":"Chapter One, revised"}`)
	require.NoError(t, s.Put(op))

	got, err := s.Get("op-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.JSONEq(t, `{"title":"Chapter One, revised"}`, string(got.Payload))

	all, err := s.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 1, "overwrite must not duplicate the row")
}

func TestSQLiteGetAllOrder(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(sampleOp("newer", 3000)))
	require.NoError(t, s.Put(sampleOp("oldest", 1000)))
	require.NoError(t, s.Put(sampleOp("middle", 2000)))

	all, err := s.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "oldest", all[0].ID)
	assert.Equal(t, "middle", all[1].ID)
	assert.Equal(t, "newer", all[2].ID)
}

func TestSQLiteDeleteAndClear(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(sampleOp("op-1", 1000)))
	require.NoError(t, s.Put(sampleOp("op-2", 2000)))

	require.NoError(t, s.Delete("op-1"))
	_, err = s.Get("op-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent id is not an error.
	require.NoError(t, s.Delete("op-1"))

	require.NoError(t, s.Clear())
	all, err := s.GetAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(sampleOp("op-1", 1000)))
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get("op-1")
	require.NoError(t, err)
	assert.Equal(t, "c-op-1", got.RecordID)
}

func TestOpenCreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	assert.FileExists(t, filepath.Join(dir, "inkwell-sync.db"))
}

func TestSQLiteNilPayload(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	op := sampleOp("op-1", 1000)
	op.Type = models.OperationDelete
	op.Payload = nil
	require.NoError(t, s.Put(op))

	got, err := s.Get("op-1")
	require.NoError(t, err)
	assert.Empty(t, got.Payload)
}
