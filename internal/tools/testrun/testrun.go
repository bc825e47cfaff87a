// Package testrun runs workspace test commands and keeps their history
// in the shared database.
package testrun

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/relay/internal/agent"
	"github.com/modelrelay/relay/internal/runner"
)

const (
	defaultTimeout = 5 * time.Minute
	maxStoredBytes = 64 * 1024 // output kept per run in history
)

// Run is one recorded test execution.
type Run struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	ExitCode   int       `json:"exit_code"`
	DurationMS int64     `json:"duration_ms"`
	Output     string    `json:"output,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Tools executes test commands through the runner and persists runs.
type Tools struct {
	runner         *runner.Runner
	root           string
	db             *sql.DB
	defaultCommand string
}

func NewTools(r *runner.Runner, root string, db *sql.DB, defaultCommand string) *Tools {
	return &Tools{runner: r, root: root, db: db, defaultCommand: defaultCommand}
}

func (t *Tools) Register(reg *agent.Registry) {
	reg.Register(&agent.ToolSpec{
		Name: "workspace_test_run", Category: "tests", Sandboxed: true,
		Description: "Run the test suite (or a given test command) and record the result.",
		Handler:     t.run,
	})
	reg.Register(&agent.ToolSpec{
		Name: "workspace_test_history", Category: "tests",
		Description: "List recorded test runs, newest first.",
		Handler:     t.history,
	})
	reg.Register(&agent.ToolSpec{
		Name: "workspace_test_summary", Category: "tests",
		Description: "Summarize recent test runs: pass rate and latest outcome.",
		Handler:     t.summary,
	})
}

// RunCommand executes a test command and records it. The orchestrator
// also calls this directly when commit policy demands a green suite.
func (t *Tools) RunCommand(ctx context.Context, command string) (*Run, error) {
	if command == "" {
		command = t.defaultCommand
	}
	if command == "" {
		return nil, fmt.Errorf("testrun: no test command configured")
	}
	result, err := t.runner.Run(ctx, runner.Request{
		Command: command,
		Cwd:     t.root,
		Timeout: defaultTimeout,
		Shell:   true,
		Sandbox: runner.SandboxAuto,
	})
	if err != nil {
		return nil, err
	}

	output := result.Stdout
	if result.Stderr != "" {
		output += "\n" + result.Stderr
	}
	if len(output) > maxStoredBytes {
		output = output[:maxStoredBytes]
	}
	run := &Run{
		ID:         uuid.NewString(),
		Command:    command,
		ExitCode:   result.ExitCode,
		DurationMS: result.DurationMS,
		Output:     strings.TrimSpace(output),
		CreatedAt:  time.Now().UTC(),
	}
	if t.db != nil {
		_, err = t.db.ExecContext(ctx,
			`INSERT INTO test_runs (id, command, exit_code, duration_ms, output, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, run.Command, run.ExitCode, run.DurationMS, run.Output, run.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("testrun: record run: %w", err)
		}
	}
	return run, nil
}

func (t *Tools) run(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	command, _ := call.Args["command"].(string)
	run, err := t.RunCommand(ctx, command)
	if err != nil {
		return nil, err
	}
	return map[string]any{"run": run, "passed": run.ExitCode == 0}, nil
}

func (t *Tools) history(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	limit := 20
	if v, ok := call.Args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	runs, err := t.recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"runs": runs, "count": len(runs)}, nil
}

func (t *Tools) summary(ctx context.Context, _ *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	runs, err := t.recent(ctx, 50)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return map[string]any{"runs": 0}, nil
	}
	passed := 0
	for _, r := range runs {
		if r.ExitCode == 0 {
			passed++
		}
	}
	latest := runs[0]
	return map[string]any{
		"runs":          len(runs),
		"passed":        passed,
		"failed":        len(runs) - passed,
		"pass_rate":     float64(passed) / float64(len(runs)),
		"latest_passed": latest.ExitCode == 0,
		"latest_at":     latest.CreatedAt,
	}, nil
}

func (t *Tools) recent(ctx context.Context, limit int) ([]Run, error) {
	if t.db == nil {
		return nil, fmt.Errorf("testrun: history storage is not configured")
	}
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, command, exit_code, duration_ms, output, created_at
		 FROM test_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("testrun: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Command, &r.ExitCode, &r.DurationMS, &r.Output, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("testrun: scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
