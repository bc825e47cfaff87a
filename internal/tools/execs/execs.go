// Package execs exposes the shell and python execution tools. Both
// delegate to the subprocess runner and are marked sandboxed so the
// policy engine can gate them by permission mode.
package execs

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelrelay/relay/internal/agent"
	"github.com/modelrelay/relay/internal/policy"
	"github.com/modelrelay/relay/internal/runner"
)

// Tools wires the execution handlers to a runner rooted at the
// workspace.
type Tools struct {
	runner        *runner.Runner
	workspaceRoot string
	pythonBinary  string
}

func NewTools(r *runner.Runner, workspaceRoot string) *Tools {
	return &Tools{runner: r, workspaceRoot: workspaceRoot, pythonBinary: "python3"}
}

func (t *Tools) Register(reg *agent.Registry) {
	reg.Register(&agent.ToolSpec{
		Name: "shell", Category: "exec", Sandboxed: true,
		Description: "Run a shell command in the workspace and return its output.",
		Handler:     t.shell,
	})
	reg.Register(&agent.ToolSpec{
		Name: "python_exec", Category: "exec", Sandboxed: true,
		Description: "Execute a Python snippet in the workspace.",
		Handler:     t.python,
	})
}

func (t *Tools) shell(ctx context.Context, call *agent.ToolCall, tc *agent.ToolContext) (any, error) {
	// The same normalizer the policy engine evaluates: a command shape
	// the engine cannot see is a command shape that does not run.
	command := policy.NormalizeShellCommand(call.Args)
	if command == "" {
		return nil, fmt.Errorf("command is required")
	}
	cwd, err := t.cwd(call.Args)
	if err != nil {
		return nil, err
	}
	req := runner.Request{
		Command:   command,
		Cwd:       cwd,
		Timeout:   timeoutArg(call.Args),
		Shell:     true,
		Sandbox:   sandboxArg(call.Args),
		SessionID: sessionID(tc),
	}
	result, err := t.runner.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return execResult(result), nil
}

func (t *Tools) python(ctx context.Context, call *agent.ToolCall, tc *agent.ToolContext) (any, error) {
	code := stringArg(call.Args, "code", "script", "source")
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}
	cwd, err := t.cwd(call.Args)
	if err != nil {
		return nil, err
	}
	req := runner.Request{
		Command:   t.pythonBinary,
		Args:      []string{"-c", code},
		Cwd:       cwd,
		Timeout:   timeoutArg(call.Args),
		Sandbox:   sandboxArg(call.Args),
		SessionID: sessionID(tc),
	}
	result, err := t.runner.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return execResult(result), nil
}

// cwd resolves a requested working directory against the workspace
// root. Escapes fail closed whether or not the run is sandboxed.
func (t *Tools) cwd(args map[string]any) (string, error) {
	v, ok := args["cwd"].(string)
	if !ok || v == "" {
		return t.workspaceRoot, nil
	}
	candidate := v
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(t.workspaceRoot, candidate)
	}
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve cwd %q: %w", v, err)
	}
	root, err := filepath.Abs(t.workspaceRoot)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("cwd %q escapes the workspace", v)
	}
	return abs, nil
}

// execResult flattens a run into the map shape models consume well.
func execResult(res *runner.Result) map[string]any {
	out := map[string]any{
		"exit_code":   res.ExitCode,
		"stdout":      res.Stdout,
		"stderr":      res.Stderr,
		"duration_ms": res.DurationMS,
	}
	if res.Signal != "" {
		out["signal"] = res.Signal
	}
	if res.TimedOut {
		out["timed_out"] = true
	}
	if res.StdoutOverflow || res.StderrOverflow {
		out["output_truncated"] = true
	}
	if res.Sandboxed {
		out["sandboxed"] = true
	}
	return out
}

func stringArg(args map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func timeoutArg(args map[string]any) time.Duration {
	switch v := args["timeout_ms"].(type) {
	case float64:
		return time.Duration(v) * time.Millisecond
	case int:
		return time.Duration(v) * time.Millisecond
	}
	if v, ok := args["timeout"].(float64); ok {
		return time.Duration(v) * time.Second
	}
	return 0
}

func sandboxArg(args map[string]any) runner.SandboxMode {
	if v, ok := args["sandbox"].(string); ok {
		switch runner.SandboxMode(v) {
		case runner.SandboxAlways, runner.SandboxNever, runner.SandboxAuto:
			return runner.SandboxMode(v)
		}
	}
	return runner.SandboxAuto
}

func sessionID(tc *agent.ToolContext) string {
	if tc == nil {
		return ""
	}
	return tc.SessionID
}
