// Package sessions persists conversation transcripts keyed by
// client-supplied session ids.
package sessions

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session id has no stored session.
var ErrNotFound = errors.New("session not found")

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Session is a durable conversation context. Identity is an opaque id
// supplied by the client or generated on first contact.
type Session struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Generated is true when the id was minted server-side because the
	// client supplied none. Not persisted.
	Generated bool `json:"-"`
}

// Turn is a single append-only entry in a session history.
type Turn struct {
	ID        int64          `json:"id,omitempty"`
	Role      Role           `json:"role"`
	Type      string         `json:"type,omitempty"`
	Status    int            `json:"status,omitempty"`
	Content   any            `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is the persistence contract for sessions and their histories.
// Implementations serialize their own writes; a single writer process
// is assumed.
type Store interface {
	// GetOrCreate returns the session with the given id, creating it
	// lazily on first contact.
	GetOrCreate(ctx context.Context, id string) (*Session, error)

	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// History returns turns in insertion order. limit <= 0 means all.
	History(ctx context.Context, id string, limit int) ([]*Turn, error)

	// AppendTurn appends a turn to the session history and bumps the
	// session's update time.
	AppendTurn(ctx context.Context, id string, turn *Turn) error

	// Upsert merges metadata into the session, creating it if needed.
	Upsert(ctx context.Context, id string, metadata map[string]any) error

	// Delete removes the session and cascades its history.
	Delete(ctx context.Context, id string) error

	Close() error
}
