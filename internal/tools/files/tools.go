package files

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelrelay/relay/internal/agent"
)

// maxReadBytes bounds fs_read output.
const maxReadBytes = 1 << 20

// Tools bundles the filesystem tool handlers.
type Tools struct {
	resolver *Resolver
	history  *History
}

func NewTools(resolver *Resolver, history *History) *Tools {
	return &Tools{resolver: resolver, history: history}
}

// Register installs fs_read, fs_write, edit_patch, and the edit-history
// tools.
func (t *Tools) Register(reg *agent.Registry) {
	reg.Register(&agent.ToolSpec{
		Name: "fs_read", Category: "workspace",
		Description: "Read a text file from the workspace.",
		Handler:     t.read,
	})
	reg.Register(&agent.ToolSpec{
		Name: "fs_write", Category: "workspace",
		Description: "Write a text file inside the workspace, recording an edit snapshot.",
		Handler:     t.write,
	})
	reg.Register(&agent.ToolSpec{
		Name: "edit_patch", Category: "workspace",
		Description: "Apply a unified diff to a workspace file.",
		Handler:     t.patch,
	})
	reg.Register(&agent.ToolSpec{
		Name: "workspace_edit_history", Category: "workspace",
		Description: "List recorded edit snapshots, optionally for one path.",
		Handler:     t.editHistory,
	})
	reg.Register(&agent.ToolSpec{
		Name: "workspace_edit_revert", Category: "workspace",
		Description: "Restore a file to the state captured by an edit snapshot.",
		Handler:     t.editRevert,
	})
}

// pathArg accepts the path synonyms clients use.
func pathArg(args map[string]any) string {
	for _, key := range []string{"path", "file", "file_path", "filename"} {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (t *Tools) read(_ context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	path := pathArg(call.Args)
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	abs, err := t.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	if len(raw) > maxReadBytes {
		raw = raw[:maxReadBytes]
	}
	content := string(raw)

	// Optional line window.
	start, startOK := intArg(call.Args, "start_line")
	count, countOK := intArg(call.Args, "line_count")
	if startOK || countOK {
		lines := strings.Split(content, "\n")
		if !startOK || start < 1 {
			start = 1
		}
		if start > len(lines) {
			return "", nil
		}
		end := len(lines)
		if countOK && count > 0 && start-1+count < end {
			end = start - 1 + count
		}
		content = strings.Join(lines[start-1:end], "\n")
	}
	return content, nil
}

func (t *Tools) write(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	path := pathArg(call.Args)
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	content, ok := call.Args["content"].(string)
	if !ok {
		if content, ok = call.Args["text"].(string); !ok {
			return nil, fmt.Errorf("content is required")
		}
	}
	abs, err := t.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}

	before := ""
	operation := "create"
	if raw, err := os.ReadFile(abs); err == nil {
		before = string(raw)
		operation = "update"
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, err
	}

	editID := ""
	if t.history != nil {
		if editID, err = t.history.Record(ctx, path, operation, before, content); err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"path":      path,
		"operation": operation,
		"bytes":     len(content),
		"edit_id":   editID,
	}, nil
}

func (t *Tools) patch(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	path := pathArg(call.Args)
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	diff, _ := call.Args["diff"].(string)
	if diff == "" {
		if diff, _ = call.Args["patch"].(string); diff == "" {
			return nil, fmt.Errorf("diff is required")
		}
	}
	abs, err := t.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	before := string(raw)
	after, err := ApplyUnifiedDiff(before, diff)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(abs, []byte(after), 0o644); err != nil {
		return nil, err
	}
	editID := ""
	if t.history != nil {
		if editID, err = t.history.Record(ctx, path, "patch", before, after); err != nil {
			return nil, err
		}
	}
	return map[string]any{"path": path, "edit_id": editID, "bytes": len(after)}, nil
}

func (t *Tools) editHistory(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	if t.history == nil {
		return nil, fmt.Errorf("edit history is not configured")
	}
	limit, _ := intArg(call.Args, "limit")
	records, err := t.history.List(ctx, pathArg(call.Args), limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"edits": records}, nil
}

func (t *Tools) editRevert(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	if t.history == nil {
		return nil, fmt.Errorf("edit history is not configured")
	}
	id, _ := call.Args["edit_id"].(string)
	if id == "" {
		if id, _ = call.Args["id"].(string); id == "" {
			return nil, fmt.Errorf("edit_id is required")
		}
	}
	rec, err := t.history.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	abs, err := t.resolver.Resolve(rec.Path)
	if err != nil {
		return nil, err
	}
	current := ""
	if raw, err := os.ReadFile(abs); err == nil {
		current = string(raw)
	}
	if err := os.WriteFile(abs, []byte(rec.Before), 0o644); err != nil {
		return nil, err
	}
	if _, err := t.history.Record(ctx, rec.Path, "revert", current, rec.Before); err != nil {
		return nil, err
	}
	return map[string]any{"path": rec.Path, "reverted_to": rec.ID}, nil
}

func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
