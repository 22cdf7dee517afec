package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/quillforge/inkwell/internal/models"
)

// SQLiteStore is the durable store backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens the queue database under dataDir, creating the directory and
// schema on first open. The database is opened with:
// - WAL mode for concurrent reads during writes
// - foreign key constraints enabled
// - a single writer connection (SQLite does not support multiple writers)
func Open(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "inkwell-sync.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initSchema creates the queue table on first open.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_queue (
		id              TEXT PRIMARY KEY,
		op_type         TEXT NOT NULL,
		tbl             TEXT NOT NULL,
		record_id       TEXT NOT NULL,
		scope           TEXT NOT NULL DEFAULT '',
		payload         BLOB,
		priority        INTEGER NOT NULL DEFAULT 0,
		status          TEXT NOT NULL,
		attempts        INTEGER NOT NULL DEFAULT 0,
		last_attempt_at INTEGER NOT NULL DEFAULT 0,
		error           TEXT NOT NULL DEFAULT '',
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_record ON sync_queue(tbl, record_id);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Put inserts or overwrites the operation keyed by its id.
func (s *SQLiteStore) Put(op *models.Operation) error {
	query := `
	INSERT INTO sync_queue (id, op_type, tbl, record_id, scope, payload, priority, status, attempts, last_attempt_at, error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		op_type = excluded.op_type,
		tbl = excluded.tbl,
		record_id = excluded.record_id,
		scope = excluded.scope,
		payload = excluded.payload,
		priority = excluded.priority,
		status = excluded.status,
		attempts = excluded.attempts,
		last_attempt_at = excluded.last_attempt_at,
		error = excluded.error,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
	`
	_, err := s.db.Exec(query, op.ID, op.Type, op.Table, op.RecordID, op.Scope,
		[]byte(op.Payload), op.Priority, op.Status, op.Attempts, op.LastAttemptAt,
		op.Error, op.CreatedAt, op.UpdatedAt)
	return err
}

// Get returns the operation for the given id.
func (s *SQLiteStore) Get(id string) (*models.Operation, error) {
	query := `
	SELECT id, op_type, tbl, record_id, scope, payload, priority, status, attempts, last_attempt_at, error, created_at, updated_at
	FROM sync_queue WHERE id = ?
	`
	op, err := scanOperation(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return op, err
}

// Delete removes the operation for the given id.
func (s *SQLiteStore) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id)
	return err
}

// GetAll returns every persisted operation, oldest first.
func (s *SQLiteStore) GetAll() ([]*models.Operation, error) {
	query := `
	SELECT id, op_type, tbl, record_id, scope, payload, priority, status, attempts, last_attempt_at, error, created_at, updated_at
	FROM sync_queue ORDER BY created_at ASC
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Clear removes every persisted operation.
func (s *SQLiteStore) Clear() error {
	_, err := s.db.Exec(`DELETE FROM sync_queue`)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(row scanner) (*models.Operation, error) {
	var op models.Operation
	var payload []byte
	err := row.Scan(&op.ID, &op.Type, &op.Table, &op.RecordID, &op.Scope,
		&payload, &op.Priority, &op.Status, &op.Attempts, &op.LastAttemptAt,
		&op.Error, &op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		op.Payload = payload
	}
	return &op, nil
}
