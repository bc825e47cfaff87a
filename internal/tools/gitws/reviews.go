package gitws

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DiffComment is one recorded review remark.
type DiffComment struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Line      int       `json:"line,omitempty"`
	Severity  string    `json:"severity"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// ReviewStore persists diff comments in the shared workspace database.
type ReviewStore struct {
	db *sql.DB
}

func NewReviewStore(db *sql.DB) *ReviewStore {
	return &ReviewStore{db: db}
}

func (s *ReviewStore) Add(ctx context.Context, path string, line int, severity, body string) (*DiffComment, error) {
	if severity == "" {
		severity = "note"
	}
	comment := &DiffComment{
		ID:        uuid.NewString(),
		Path:      path,
		Line:      line,
		Severity:  severity,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO diff_comments (id, path, line, severity, body, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		comment.ID, comment.Path, comment.Line, comment.Severity, comment.Body, comment.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("gitws: record comment: %w", err)
	}
	return comment, nil
}

// List returns comments, newest first, optionally filtered by path.
func (s *ReviewStore) List(ctx context.Context, path string) ([]DiffComment, error) {
	query := `SELECT id, path, line, severity, body, created_at FROM diff_comments`
	args := []any{}
	if path != "" {
		query += ` WHERE path = ?`
		args = append(args, path)
	}
	query += ` ORDER BY created_at DESC LIMIT 200`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("gitws: list comments: %w", err)
	}
	defer rows.Close()

	var out []DiffComment
	for rows.Next() {
		var c DiffComment
		if err := rows.Scan(&c.ID, &c.Path, &c.Line, &c.Severity, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("gitws: scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
