package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLiteStore persists records in the shared database. This table is the
// schedule registry: the scheduler re-arms from it at boot, so every row
// corresponds to a live trigger while the process runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore initializes the schedules table on the shared handle.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		at_ms INTEGER NOT NULL DEFAULT 0,
		expr TEXT NOT NULL DEFAULT '',
		tool TEXT NOT NULL,
		args TEXT NOT NULL DEFAULT '{}',
		description TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_session ON schedules(session_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("initialize schedules schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Create stores a record.
func (s *SQLiteStore) Create(ctx context.Context, rec *Record) error {
	if rec == nil {
		return nil
	}
	args, err := json.Marshal(rec.Args)
	if err != nil {
		return fmt.Errorf("marshal schedule args: %w", err)
	}
	var atMs int64
	if !rec.At.IsZero() {
		atMs = rec.At.UnixMilli()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO schedules (id, session_id, kind, at_ms, expr, tool, args, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, string(rec.Kind), atMs, rec.Expr, rec.Tool, string(args), rec.Description, rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// Get returns a record by id, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, kind, at_ms, expr, tool, args, description, created_at
		FROM schedules WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// Delete removes a record. Deleting an unknown id is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

// List returns a session's records in creation order.
func (s *SQLiteStore) List(ctx context.Context, sessionID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, kind, at_ms, expr, tool, args, description, created_at
		FROM schedules WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListAll returns every record, for re-arming triggers at boot.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, kind, at_ms, expr, tool, args, description, created_at
		FROM schedules ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var kind, argsJSON string
	var atMs, createdAt int64
	if err := row.Scan(&rec.ID, &rec.SessionID, &kind, &atMs, &rec.Expr, &rec.Tool, &argsJSON, &rec.Description, &createdAt); err != nil {
		return nil, err
	}
	rec.Kind = Kind(kind)
	if atMs > 0 {
		rec.At = time.UnixMilli(atMs).UTC()
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &rec.Args); err != nil {
			rec.Args = map[string]any{}
		}
	}
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]*Record, error) {
	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
