package tasks

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/modelrelay/relay/internal/agent"
	"github.com/modelrelay/relay/internal/sessions"
)

func newTools(t *testing.T) *Tools {
	t.Helper()
	store, err := sessions.NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewTools(NewStore(store.DB()))
}

func call(args map[string]any) *agent.ToolCall {
	return &agent.ToolCall{ID: "c1", Args: args}
}

func createTask(t *testing.T, tools *Tools, args map[string]any) *Task {
	t.Helper()
	out, err := tools.create(context.Background(), call(args), nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return out.(map[string]any)["task"].(*Task)
}

func TestCreateDefaults(t *testing.T) {
	tools := newTools(t)
	task := createTask(t, tools, map[string]any{"title": "fix the build"})
	if task.Status != "open" || task.Priority != "normal" {
		t.Errorf("defaults = %s/%s", task.Status, task.Priority)
	}
	if task.ID == "" || task.CreatedAt.IsZero() {
		t.Errorf("task = %+v", task)
	}
}

func TestCreateValidation(t *testing.T) {
	tools := newTools(t)
	ctx := context.Background()
	if _, err := tools.create(ctx, call(map[string]any{}), nil); err == nil {
		t.Error("missing title accepted")
	}
	if _, err := tools.create(ctx, call(map[string]any{"title": "x", "status": "bogus"}), nil); err == nil {
		t.Error("bogus status accepted")
	}
	if _, err := tools.create(ctx, call(map[string]any{"title": "x", "priority": "asap"}), nil); err == nil {
		t.Error("bogus priority accepted")
	}
}

func TestGetUpdateRoundTrip(t *testing.T) {
	tools := newTools(t)
	ctx := context.Background()
	task := createTask(t, tools, map[string]any{
		"title": "review PR", "metadata": map[string]any{"pr": float64(42)},
	})

	out, err := tools.get(ctx, call(map[string]any{"id": task.ID}), nil)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got := out.(map[string]any)["task"].(*Task)
	if got.Title != "review PR" || got.Metadata["pr"] != float64(42) {
		t.Errorf("got = %+v", got)
	}

	out, err = tools.update(ctx, call(map[string]any{
		"id": task.ID, "priority": "high", "description": "blocking release",
	}), nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	updated := out.(map[string]any)["task"].(*Task)
	if updated.Priority != "high" || updated.Description != "blocking release" {
		t.Errorf("updated = %+v", updated)
	}
	if updated.Title != "review PR" {
		t.Error("update clobbered unrelated field")
	}
}

func TestSetStatusAndListFilter(t *testing.T) {
	tools := newTools(t)
	ctx := context.Background()
	a := createTask(t, tools, map[string]any{"title": "a"})
	createTask(t, tools, map[string]any{"title": "b"})

	if _, err := tools.setStatus(ctx, call(map[string]any{"id": a.ID, "status": "done"}), nil); err != nil {
		t.Fatalf("set_status: %v", err)
	}
	if _, err := tools.setStatus(ctx, call(map[string]any{"id": a.ID, "status": "nope"}), nil); err == nil {
		t.Error("bad status accepted")
	}

	out, err := tools.list(ctx, call(map[string]any{"status": "done"}), nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	result := out.(map[string]any)
	if result["count"].(int) != 1 {
		t.Errorf("done count = %v", result["count"])
	}

	out, _ = tools.list(ctx, call(map[string]any{}), nil)
	if out.(map[string]any)["count"].(int) != 2 {
		t.Errorf("total count = %v", out.(map[string]any)["count"])
	}
}

func TestDelete(t *testing.T) {
	tools := newTools(t)
	ctx := context.Background()
	task := createTask(t, tools, map[string]any{"title": "ephemeral"})

	if _, err := tools.delete(ctx, call(map[string]any{"id": task.ID}), nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := tools.get(ctx, call(map[string]any{"id": task.ID}), nil); err == nil {
		t.Error("deleted task still readable")
	}
	if _, err := tools.delete(ctx, call(map[string]any{"id": task.ID}), nil); err == nil {
		t.Error("double delete succeeded")
	}
}

func TestRegisterInstallsTaskTools(t *testing.T) {
	tools := newTools(t)
	reg := agent.NewRegistry(nil)
	tools.Register(reg)
	for _, name := range []string{
		"workspace_task_create", "workspace_task_get", "workspace_task_update",
		"workspace_task_set_status", "workspace_task_delete", "workspace_tasks_list",
	} {
		if _, ok := reg.Resolve(name); !ok {
			t.Errorf("missing %s", name)
		}
	}
}
