// Package tasks implements the workspace task tracker tools backed by
// the shared workspace database.
package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/relay/internal/agent"
)

var validStatuses = map[string]bool{
	"open": true, "in_progress": true, "blocked": true, "done": true, "cancelled": true,
}

var validPriorities = map[string]bool{
	"low": true, "normal": true, "high": true, "urgent": true,
}

// Task is one tracked work item.
type Task struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Status      string         `json:"status"`
	Priority    string         `json:"priority"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Store persists tasks.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = "open"
	}
	if task.Priority == "" {
		task.Priority = "normal"
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	meta, err := json.Marshal(orEmpty(task.Metadata))
	if err != nil {
		return fmt.Errorf("tasks: marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, description, status, priority, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, task.Status, task.Priority, string(meta),
		task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("tasks: create: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, status, priority, metadata, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	return scanTask(row.Scan)
}

// Update overwrites the mutable fields of an existing task.
func (s *Store) Update(ctx context.Context, task *Task) error {
	task.UpdatedAt = time.Now().UTC()
	meta, err := json.Marshal(orEmpty(task.Metadata))
	if err != nil {
		return fmt.Errorf("tasks: marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		task.Title, task.Description, task.Status, task.Priority, string(meta), task.UpdatedAt, task.ID)
	if err != nil {
		return fmt.Errorf("tasks: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tasks: task %s not found", task.ID)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("tasks: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tasks: task %s not found", id)
	}
	return nil
}

// List returns tasks, optionally filtered by status, newest first.
func (s *Store) List(ctx context.Context, status string) ([]*Task, error) {
	query := `SELECT id, title, description, status, priority, metadata, created_at, updated_at FROM tasks`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tasks: list: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func scanTask(scan func(...any) error) (*Task, error) {
	var task Task
	var meta string
	err := scan(&task.ID, &task.Title, &task.Description, &task.Status,
		&task.Priority, &meta, &task.CreatedAt, &task.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tasks: task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("tasks: scan: %w", err)
	}
	if meta != "" && meta != "{}" {
		_ = json.Unmarshal([]byte(meta), &task.Metadata)
	}
	return &task, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Tools exposes the store through the registry.
type Tools struct {
	store *Store
}

func NewTools(store *Store) *Tools {
	return &Tools{store: store}
}

func (t *Tools) Register(reg *agent.Registry) {
	register := func(name, description string, handler agent.Handler) {
		reg.Register(&agent.ToolSpec{
			Name: name, Category: "tasks",
			Description: description,
			Handler:     handler,
		})
	}
	register("workspace_task_create", "Create a tracked task.", t.create)
	register("workspace_task_get", "Fetch a task by id.", t.get)
	register("workspace_task_update", "Update a task's fields.", t.update)
	register("workspace_task_set_status", "Change a task's status.", t.setStatus)
	register("workspace_task_delete", "Delete a task.", t.delete)
	register("workspace_tasks_list", "List tasks, optionally by status.", t.list)
}

func (t *Tools) create(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	title, _ := call.Args["title"].(string)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	task := &Task{Title: title}
	task.Description, _ = call.Args["description"].(string)
	if status, ok := call.Args["status"].(string); ok {
		if !validStatuses[status] {
			return nil, fmt.Errorf("invalid status %q", status)
		}
		task.Status = status
	}
	if priority, ok := call.Args["priority"].(string); ok {
		if !validPriorities[priority] {
			return nil, fmt.Errorf("invalid priority %q", priority)
		}
		task.Priority = priority
	}
	if meta, ok := call.Args["metadata"].(map[string]any); ok {
		task.Metadata = meta
	}
	if err := t.store.Create(ctx, task); err != nil {
		return nil, err
	}
	return map[string]any{"task": task}, nil
}

func (t *Tools) get(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	id, err := idArg(call.Args)
	if err != nil {
		return nil, err
	}
	task, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"task": task}, nil
}

func (t *Tools) update(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	id, err := idArg(call.Args)
	if err != nil {
		return nil, err
	}
	task, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if title, ok := call.Args["title"].(string); ok && title != "" {
		task.Title = title
	}
	if desc, ok := call.Args["description"].(string); ok {
		task.Description = desc
	}
	if status, ok := call.Args["status"].(string); ok {
		if !validStatuses[status] {
			return nil, fmt.Errorf("invalid status %q", status)
		}
		task.Status = status
	}
	if priority, ok := call.Args["priority"].(string); ok {
		if !validPriorities[priority] {
			return nil, fmt.Errorf("invalid priority %q", priority)
		}
		task.Priority = priority
	}
	if meta, ok := call.Args["metadata"].(map[string]any); ok {
		task.Metadata = meta
	}
	if err := t.store.Update(ctx, task); err != nil {
		return nil, err
	}
	return map[string]any{"task": task}, nil
}

func (t *Tools) setStatus(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	id, err := idArg(call.Args)
	if err != nil {
		return nil, err
	}
	status, _ := call.Args["status"].(string)
	if !validStatuses[status] {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	task, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	task.Status = status
	if err := t.store.Update(ctx, task); err != nil {
		return nil, err
	}
	return map[string]any{"task": task}, nil
}

func (t *Tools) delete(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	id, err := idArg(call.Args)
	if err != nil {
		return nil, err
	}
	if err := t.store.Delete(ctx, id); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": id}, nil
}

func (t *Tools) list(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	status, _ := call.Args["status"].(string)
	if status != "" && !validStatuses[status] {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	list, err := t.store.List(ctx, status)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tasks": list, "count": len(list)}, nil
}

func idArg(args map[string]any) (string, error) {
	for _, key := range []string{"id", "task_id"} {
		if v, ok := args[key].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("id is required")
}
