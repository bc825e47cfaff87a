package testrun

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelrelay/relay/internal/agent"
	"github.com/modelrelay/relay/internal/runner"
	"github.com/modelrelay/relay/internal/sessions"
)

func newTools(t *testing.T, defaultCommand string) *Tools {
	t.Helper()
	store, err := sessions.NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewTools(runner.New(nil, nil), t.TempDir(), store.DB(), defaultCommand)
}

func TestRunRecordsOutcome(t *testing.T) {
	tools := newTools(t, "")
	ctx := context.Background()

	out, err := tools.run(ctx, &agent.ToolCall{Args: map[string]any{"command": "echo ok"}}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	result := out.(map[string]any)
	if result["passed"] != true {
		t.Errorf("passed = %v", result["passed"])
	}
	run := result["run"].(*Run)
	if run.Output != "ok" || run.ExitCode != 0 {
		t.Errorf("run = %+v", run)
	}

	out, err = tools.run(ctx, &agent.ToolCall{Args: map[string]any{"command": "echo boom; exit 1"}}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.(map[string]any)["passed"] != false {
		t.Error("failing command reported as passed")
	}
}

func TestRunDefaultCommand(t *testing.T) {
	tools := newTools(t, "echo default-suite")
	out, err := tools.run(context.Background(), &agent.ToolCall{Args: map[string]any{}}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	run := out.(map[string]any)["run"].(*Run)
	if run.Command != "echo default-suite" {
		t.Errorf("command = %q", run.Command)
	}

	empty := newTools(t, "")
	if _, err := empty.run(context.Background(), &agent.ToolCall{Args: map[string]any{}}, nil); err == nil {
		t.Error("no command configured but run succeeded")
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	tools := newTools(t, "")
	ctx := context.Background()

	for _, cmd := range []string{"echo first", "echo second"} {
		if _, err := tools.RunCommand(ctx, cmd); err != nil {
			t.Fatalf("RunCommand: %v", err)
		}
		time.Sleep(5 * time.Millisecond) // distinct created_at ordering
	}

	out, err := tools.history(ctx, &agent.ToolCall{Args: map[string]any{}}, nil)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	runs := out.(map[string]any)["runs"].([]Run)
	if len(runs) != 2 {
		t.Fatalf("runs = %d", len(runs))
	}
	if runs[0].Command != "echo second" {
		t.Errorf("order wrong: %+v", runs)
	}
}

func TestSummary(t *testing.T) {
	tools := newTools(t, "")
	ctx := context.Background()

	out, err := tools.summary(ctx, &agent.ToolCall{Args: map[string]any{}}, nil)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if out.(map[string]any)["runs"] != 0 {
		t.Errorf("empty summary = %+v", out)
	}

	tools.RunCommand(ctx, "true")
	time.Sleep(5 * time.Millisecond)
	tools.RunCommand(ctx, "false")
	time.Sleep(5 * time.Millisecond)
	tools.RunCommand(ctx, "true")

	out, err = tools.summary(ctx, &agent.ToolCall{Args: map[string]any{}}, nil)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	summary := out.(map[string]any)
	if summary["runs"] != 3 || summary["passed"] != 2 || summary["failed"] != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if summary["latest_passed"] != true {
		t.Errorf("latest_passed = %v", summary["latest_passed"])
	}
}

func TestRegisterMarksRunSandboxed(t *testing.T) {
	tools := newTools(t, "")
	reg := agent.NewRegistry(nil)
	tools.Register(reg)
	spec, ok := reg.Resolve("workspace_test_run")
	if !ok || !spec.Sandboxed {
		t.Errorf("workspace_test_run spec = %+v", spec)
	}
	for _, name := range []string{"workspace_test_history", "workspace_test_summary"} {
		if _, ok := reg.Resolve(name); !ok {
			t.Errorf("missing %s", name)
		}
	}
}
