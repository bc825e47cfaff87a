package files

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EditRecord is one before/after snapshot in the edit history.
type EditRecord struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Operation string    `json:"operation"`
	Before    string    `json:"before,omitempty"`
	After     string    `json:"after,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// History persists edit snapshots in the shared workspace database.
type History struct {
	db *sql.DB
}

func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

// Record stores a snapshot and returns its id.
func (h *History) Record(ctx context.Context, path, operation, before, after string) (string, error) {
	id := uuid.NewString()
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO edits (id, path, operation, before, after, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, path, operation, before, after, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("files: record edit: %w", err)
	}
	return id, nil
}

// List returns snapshots for a path (all paths when empty), newest
// first, capped at limit (default 50).
func (h *History) List(ctx context.Context, path string, limit int) ([]EditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, path, operation, before, after, created_at FROM edits`
	args := []any{}
	if path != "" {
		query += ` WHERE path = ?`
		args = append(args, path)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("files: list edits: %w", err)
	}
	defer rows.Close()

	var out []EditRecord
	for rows.Next() {
		var rec EditRecord
		var before, after sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Path, &rec.Operation, &before, &after, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("files: scan edit: %w", err)
		}
		rec.Before = before.String
		rec.After = after.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get returns one snapshot by id.
func (h *History) Get(ctx context.Context, id string) (*EditRecord, error) {
	row := h.db.QueryRowContext(ctx,
		`SELECT id, path, operation, before, after, created_at FROM edits WHERE id = ?`, id)
	var rec EditRecord
	var before, after sql.NullString
	if err := row.Scan(&rec.ID, &rec.Path, &rec.Operation, &before, &after, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("files: edit %s not found", id)
		}
		return nil, fmt.Errorf("files: get edit: %w", err)
	}
	rec.Before = before.String
	rec.After = after.String
	return &rec, nil
}
