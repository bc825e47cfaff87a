package sessions

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if sess.ID != "sess-1" {
		t.Fatalf("session id = %q, want sess-1", sess.ID)
	}

	// Creating again returns the same session.
	again, err := store.GetOrCreate(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	if !again.CreatedAt.Equal(sess.CreatedAt) {
		t.Errorf("CreatedAt changed on second GetOrCreate")
	}

	turns := []*Turn{
		{Role: RoleUser, Type: "message", Content: map[string]any{"text": "hello"}},
		{Role: RoleAssistant, Type: "message", Content: map[string]any{"text": "hi"}},
		{Role: RoleTool, Type: "tool_result", Status: 200, Content: map[string]any{"ok": true}},
	}
	for _, turn := range turns {
		if err := store.AppendTurn(ctx, "sess-1", turn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	got, err := store.History(ctx, "sess-1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("history length = %d, want 3", len(got))
	}
	for i, turn := range got {
		if turn.Role != turns[i].Role {
			t.Errorf("turn %d role = %q, want %q", i, turn.Role, turns[i].Role)
		}
	}
	if got[2].Status != 200 {
		t.Errorf("tool turn status = %d, want 200", got[2].Status)
	}
	if got[0].ID >= got[1].ID || got[1].ID >= got[2].ID {
		t.Errorf("turn ids not monotonic: %d %d %d", got[0].ID, got[1].ID, got[2].ID)
	}

	limited, err := store.History(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("History limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited history length = %d, want 2", len(limited))
	}
}

func TestSQLiteStoreUpsertMergesMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Upsert(ctx, "sess-2", map[string]any{"model": "a", "keep": true}); err != nil {
		t.Fatalf("Upsert create: %v", err)
	}
	if err := store.Upsert(ctx, "sess-2", map[string]any{"model": "b"}); err != nil {
		t.Fatalf("Upsert merge: %v", err)
	}

	sess, err := store.Get(ctx, "sess-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Metadata["model"] != "b" {
		t.Errorf("metadata model = %v, want b", sess.Metadata["model"])
	}
	if sess.Metadata["keep"] != true {
		t.Errorf("metadata keep = %v, want true", sess.Metadata["keep"])
	}
}

func TestSQLiteStoreDeleteCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "sess-3"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := store.AppendTurn(ctx, "sess-3", &Turn{Role: RoleUser, Content: "x"}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if err := store.Delete(ctx, "sess-3"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "sess-3"); err != ErrNotFound {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
	history, err := store.History(ctx, "sess-3", 0)
	if err != nil {
		t.Fatalf("History after delete: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history after delete = %d rows, want 0", len(history))
	}
}

func TestSQLiteStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreQueryErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	store := NewSQLiteStoreFromDB(db)
	ctx := context.Background()

	boom := errors.New("disk I/O error")

	mock.ExpectQuery(`SELECT id, metadata, created_at, updated_at FROM sessions`).
		WithArgs("sess-err").WillReturnError(boom)
	if _, err := store.Get(ctx, "sess-err"); !errors.Is(err, boom) {
		t.Errorf("Get error = %v, want wrapped %v", err, boom)
	}

	mock.ExpectQuery(`SELECT id, role, type, status, content, metadata, created_at`).
		WithArgs("sess-err").WillReturnError(boom)
	if _, err := store.History(ctx, "sess-err", 0); !errors.Is(err, boom) {
		t.Errorf("History error = %v, want wrapped %v", err, boom)
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO session_history`).WillReturnError(boom)
	mock.ExpectRollback()
	if err := store.AppendTurn(ctx, "sess-err", &Turn{Role: RoleUser, Content: "x"}); !errors.Is(err, boom) {
		t.Errorf("AppendTurn error = %v, want wrapped %v", err, boom)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
