package sessions

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and when no database
// path is configured. Values are deep-cloned on the way in and out so
// callers cannot mutate stored state through aliased maps.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	history  map[string][]*Turn
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		history:  make(map[string][]*Turn),
	}
}

func (m *MemoryStore) GetOrCreate(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok {
		return cloneSession(sess), nil
	}
	now := time.Now().UTC()
	sess := &Session{ID: id, CreatedAt: now, UpdatedAt: now, Metadata: map[string]any{}}
	m.sessions[id] = sess
	return cloneSession(sess), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(sess), nil
}

func (m *MemoryStore) History(_ context.Context, id string, limit int) ([]*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	turns := m.history[id]
	if limit > 0 && limit < len(turns) {
		turns = turns[:limit]
	}
	out := make([]*Turn, len(turns))
	for i, t := range turns {
		out[i] = cloneTurn(t)
	}
	return out, nil
}

func (m *MemoryStore) AppendTurn(_ context.Context, id string, turn *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	m.nextID++
	turn.ID = m.nextID
	m.history[id] = append(m.history[id], cloneTurn(turn))
	if sess, ok := m.sessions[id]; ok {
		sess.UpdatedAt = turn.CreatedAt
	}
	return nil
}

func (m *MemoryStore) Upsert(_ context.Context, id string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	sess, ok := m.sessions[id]
	if !ok {
		sess = &Session{ID: id, CreatedAt: now, Metadata: map[string]any{}}
		m.sessions[id] = sess
	}
	for k, v := range metadata {
		sess.Metadata[k] = deepCloneValue(v)
	}
	sess.UpdatedAt = now
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.history, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func cloneSession(s *Session) *Session {
	out := *s
	out.Metadata = deepCloneMap(s.Metadata)
	return &out
}

func cloneTurn(t *Turn) *Turn {
	out := *t
	out.Content = deepCloneValue(t.Content)
	out.Metadata = deepCloneMap(t.Metadata)
	return &out
}

func deepCloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCloneValue(v)
	}
	return out
}

func deepCloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCloneValue(item)
		}
		return out
	default:
		return v
	}
}
