package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func echoHandler(ctx context.Context, call *ToolCall, tc *ToolContext) (any, error) {
	return "echo:" + call.Name, nil
}

func TestRegistryResolutionOrder(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&ToolSpec{Name: "Shell", Handler: echoHandler}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&ToolSpec{Name: "shell", Handler: echoHandler}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Exact match is case-sensitive and wins.
	if spec, ok := r.Resolve("Shell"); !ok || spec.Name != "Shell" {
		t.Errorf("Resolve(Shell) = %v, %v", spec, ok)
	}
	// Lowercase shadow catches case variants.
	if spec, ok := r.Resolve("SHELL"); !ok || spec.Name != "shell" {
		t.Errorf("Resolve(SHELL) = %v, %v", spec, ok)
	}
	// Alias table maps synonyms.
	if spec, ok := r.Resolve("bash"); !ok || spec.Name != "shell" {
		t.Errorf("Resolve(bash) = %v, %v", spec, ok)
	}
	if _, ok := r.Resolve("no_such_tool"); ok {
		t.Errorf("Resolve(no_such_tool) succeeded")
	}
}

func TestRegistryCustomAlias(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&ToolSpec{Name: "workspace_search", Handler: echoHandler})
	if spec, ok := r.Resolve("grep"); !ok || spec.Name != "workspace_search" {
		t.Errorf("Resolve(grep) = %v, %v", spec, ok)
	}
	r.Alias("ripgrep", "workspace_search")
	if spec, ok := r.Resolve("RipGrep"); !ok || spec.Name != "workspace_search" {
		t.Errorf("Resolve(RipGrep) = %v, %v", spec, ok)
	}
}

func TestNormalizeCallArgumentShapes(t *testing.T) {
	r := NewRegistry(nil)

	obj := r.NormalizeCall("id-1", "shell", map[string]any{"command": "ls"}, nil)
	if obj.Args["command"] != "ls" {
		t.Errorf("object args = %v", obj.Args)
	}

	str := r.NormalizeCall("id-2", "shell", `{"command":"pwd"}`, nil)
	if str.Args["command"] != "pwd" {
		t.Errorf("string args = %v", str.Args)
	}

	bad := r.NormalizeCall("id-3", "shell", `{not json`, nil)
	if len(bad.Args) != 0 {
		t.Errorf("invalid JSON should yield empty args, got %v", bad.Args)
	}

	missing := r.NormalizeCall("", "shell", nil, nil)
	if missing.ID == "" {
		t.Errorf("call id not assigned")
	}
	if !strings.HasPrefix(missing.ID, "call_") {
		t.Errorf("generated id = %q", missing.ID)
	}
}

func TestExecuteUnregisteredTool(t *testing.T) {
	r := NewRegistry(nil)
	result := r.Execute(context.Background(), &ToolCall{ID: "x", Name: "ghost"}, &ToolContext{})
	if result.OK {
		t.Fatal("unregistered tool reported ok")
	}
	if result.Status != 404 {
		t.Errorf("status = %d, want 404", result.Status)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content), &payload); err != nil {
		t.Fatalf("content not JSON: %v", err)
	}
	if payload["error"] != "tool_not_found" {
		t.Errorf("error = %v", payload["error"])
	}
}

func TestExecuteHandlerError(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&ToolSpec{Name: "broken", Handler: func(context.Context, *ToolCall, *ToolContext) (any, error) {
		return nil, errors.New("boom")
	}})
	result := r.Execute(context.Background(), &ToolCall{Name: "broken"}, &ToolContext{})
	if result.OK || result.Status != 500 {
		t.Fatalf("result = %+v, want 500", result)
	}
	var payload map[string]any
	json.Unmarshal([]byte(result.Content), &payload)
	if payload["error"] != "tool_execution_failed" {
		t.Errorf("error kind = %v", payload["error"])
	}
	if payload["message"] != "boom" {
		t.Errorf("message = %v", payload["message"])
	}
}

func TestExecuteHandlerPanic(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&ToolSpec{Name: "panicky", Handler: func(context.Context, *ToolCall, *ToolContext) (any, error) {
		panic("unexpected state")
	}})
	result := r.Execute(context.Background(), &ToolCall{Name: "panicky"}, &ToolContext{})
	if result.OK || result.Status != 500 {
		t.Fatalf("result = %+v, want 500 failure", result)
	}
	if !strings.Contains(result.Content, "tool_execution_failed") {
		t.Errorf("content = %s", result.Content)
	}
}

func TestCoerceResultShapes(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&ToolSpec{Name: "str", Handler: func(context.Context, *ToolCall, *ToolContext) (any, error) {
		return "plain text", nil
	}})
	r.Register(&ToolSpec{Name: "typed", Handler: func(context.Context, *ToolCall, *ToolContext) (any, error) {
		return &ToolResult{OK: false, Status: 418, Content: "teapot"}, nil
	}})
	r.Register(&ToolSpec{Name: "structured", Handler: func(context.Context, *ToolCall, *ToolContext) (any, error) {
		return map[string]any{"files": []string{"a.go"}}, nil
	}})

	if res := r.Execute(context.Background(), &ToolCall{Name: "str"}, nil); !res.OK || res.Status != 200 || res.Content != "plain text" {
		t.Errorf("string result = %+v", res)
	}
	if res := r.Execute(context.Background(), &ToolCall{Name: "typed"}, nil); res.Status != 418 || res.Content != "teapot" {
		t.Errorf("typed result = %+v", res)
	}
	res := r.Execute(context.Background(), &ToolCall{Name: "structured"}, nil)
	if !res.OK || !strings.Contains(res.Content, `"a.go"`) {
		t.Errorf("structured result = %+v", res)
	}
}
