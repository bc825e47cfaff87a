package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions in a local SQLite database. It owns the
// handle and the auxiliary workspace tables (tasks, edits, diff comments,
// test runs) that tool handlers write through DB().
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS session_history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	type       TEXT NOT NULL DEFAULT '',
	status     INTEGER NOT NULL DEFAULT 0,
	content    TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_session ON session_history(session_id, id);
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'open',
	priority    TEXT NOT NULL DEFAULT 'normal',
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS edits (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	operation  TEXT NOT NULL,
	before     TEXT,
	after      TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_edits_path ON edits(path, created_at);
CREATE TABLE IF NOT EXISTS diff_comments (
	id         TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	line       INTEGER NOT NULL DEFAULT 0,
	severity   TEXT NOT NULL DEFAULT 'note',
	body       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS test_runs (
	id         TEXT PRIMARY KEY,
	command    TEXT NOT NULL,
	exit_code  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	output     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
`

// NewSQLiteStore opens (creating if needed) the database at path and
// applies the schema. Parent directories are created. WAL mode keeps
// readers unblocked during the loop's frequent appends.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sessions: create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sessions: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sessions: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessions: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStoreFromDB wraps an existing handle. Used by tests to inject
// a mock; the caller keeps ownership of the schema.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// DB exposes the underlying handle for the workspace tool tables.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(ctx, id)
	if err == nil {
		return sess, nil
	}
	if err != ErrNotFound {
		return nil, err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, metadata, created_at, updated_at) VALUES (?, '{}', ?, ?)`,
		id, now, now)
	if err != nil {
		return nil, fmt.Errorf("sessions: create %s: %w", id, err)
	}
	return &Session{ID: id, CreatedAt: now, UpdatedAt: now, Metadata: map[string]any{}}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(ctx, id)
}

func (s *SQLiteStore) get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, metadata, created_at, updated_at FROM sessions WHERE id = ?`, id)
	var sess Session
	var rawMeta string
	if err := row.Scan(&sess.ID, &rawMeta, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessions: get %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(rawMeta), &sess.Metadata); err != nil {
		return nil, fmt.Errorf("sessions: decode metadata for %s: %w", id, err)
	}
	return &sess, nil
}

func (s *SQLiteStore) History(ctx context.Context, id string, limit int) ([]*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, role, type, status, content, metadata, created_at
		FROM session_history WHERE session_id = ? ORDER BY id`
	args := []any{id}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sessions: history %s: %w", id, err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var t Turn
		var rawContent, rawMeta string
		if err := rows.Scan(&t.ID, &t.Role, &t.Type, &t.Status, &rawContent, &rawMeta, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("sessions: scan turn: %w", err)
		}
		if err := json.Unmarshal([]byte(rawContent), &t.Content); err != nil {
			// Legacy rows may hold plain text.
			t.Content = rawContent
		}
		if err := json.Unmarshal([]byte(rawMeta), &t.Metadata); err != nil {
			t.Metadata = nil
		}
		turns = append(turns, &t)
	}
	return turns, rows.Err()
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, id string, turn *Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := json.Marshal(turn.Content)
	if err != nil {
		return fmt.Errorf("sessions: encode turn content: %w", err)
	}
	meta := []byte("{}")
	if turn.Metadata != nil {
		if meta, err = json.Marshal(turn.Metadata); err != nil {
			return fmt.Errorf("sessions: encode turn metadata: %w", err)
		}
	}
	now := turn.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
		turn.CreatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sessions: begin append: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO session_history (session_id, role, type, status, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, turn.Role, turn.Type, turn.Status, string(content), string(meta), now)
	if err != nil {
		return fmt.Errorf("sessions: append turn to %s: %w", id, err)
	}
	if rowID, err := res.LastInsertId(); err == nil {
		turn.ID = rowID
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return fmt.Errorf("sessions: touch %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Upsert(ctx context.Context, id string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(ctx, id)
	now := time.Now().UTC()
	if err == ErrNotFound {
		raw, merr := json.Marshal(orEmpty(metadata))
		if merr != nil {
			return fmt.Errorf("sessions: encode metadata: %w", merr)
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO sessions (id, metadata, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			id, string(raw), now, now)
		if err != nil {
			return fmt.Errorf("sessions: upsert create %s: %w", id, err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	merged := sess.Metadata
	if merged == nil {
		merged = map[string]any{}
	}
	for k, v := range metadata {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("sessions: encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET metadata = ?, updated_at = ? WHERE id = ?`,
		string(raw), now, id)
	if err != nil {
		return fmt.Errorf("sessions: upsert %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sessions: begin delete: %w", err)
	}
	defer tx.Rollback()

	// Explicit cascade: foreign_keys may be off on injected handles.
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_history WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("sessions: delete history for %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sessions: delete %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
