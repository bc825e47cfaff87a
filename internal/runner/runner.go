// Package runner executes workspace subprocesses with bounded output,
// timeouts, and an optional containerized sandbox.
package runner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	DefaultMaxBuffer = 1 << 20 // 1 MiB per stream
	DefaultTimeout   = 15 * time.Second
	MinTimeout       = time.Millisecond
	MaxTimeout       = 15 * time.Minute
)

// SandboxMode selects whether a run goes through the container runtime.
type SandboxMode string

const (
	SandboxAlways SandboxMode = "always"
	SandboxNever  SandboxMode = "never"
	SandboxAuto   SandboxMode = "auto"
)

// Request describes one subprocess invocation.
type Request struct {
	Command   string
	Args      []string
	Cwd       string
	Env       map[string]string
	Input     string
	Timeout   time.Duration
	MaxBuffer int
	// Shell wraps the command in `sh -c` so pipes and globs work.
	Shell     bool
	Sandbox   SandboxMode
	SessionID string
}

// Result is the observable outcome of a run. Process failures are data,
// not errors; Run returns an error only when the process could not be
// started at all.
type Result struct {
	ExitCode       int           `json:"exit_code"`
	Signal         string        `json:"signal,omitempty"`
	Stdout         string        `json:"stdout"`
	Stderr         string        `json:"stderr"`
	StdoutOverflow bool          `json:"stdout_overflow,omitempty"`
	StderrOverflow bool          `json:"stderr_overflow,omitempty"`
	TimedOut       bool          `json:"timed_out,omitempty"`
	Duration       time.Duration `json:"-"`
	DurationMS     int64         `json:"duration_ms"`
	Sandboxed      bool          `json:"sandboxed,omitempty"`
}

// Runner launches subprocesses, directly or via the sandbox runtime.
type Runner struct {
	sandbox  *SandboxConfig // nil when sandboxing is disabled
	logger   *slog.Logger
	sessions *SessionTracker
}

func New(sandbox *SandboxConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{sandbox: sandbox, logger: logger, sessions: NewSessionTracker()}
}

// Sessions exposes sandbox-session bookkeeping.
func (r *Runner) Sessions() *SessionTracker { return r.sessions }

// Sandboxes reports whether the given mode would run req in the sandbox.
func (r *Runner) Sandboxes(mode SandboxMode) bool {
	if r.sandbox == nil || !r.sandbox.Enabled {
		return false
	}
	switch mode {
	case SandboxAlways:
		return true
	case SandboxNever:
		return false
	default:
		return r.sandbox.Default
	}
}

// Run executes the request and returns its bounded result. The context
// bounds the whole run in addition to the request timeout.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	timeout := clampTimeout(req.Timeout)
	maxBuffer := req.MaxBuffer
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}

	sandboxed := r.Sandboxes(req.Sandbox)
	command, args, err := r.buildCommand(req, sandboxed)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, args...)
	if !sandboxed {
		// Sandboxed runs set cwd and env on the container instead.
		cmd.Dir = req.Cwd
		cmd.Env = mergeEnv(os.Environ(), req.Env)
	}
	if req.Input != "" {
		cmd.Stdin = bytes.NewBufferString(req.Input)
	}
	// SIGKILL the whole process group so shell children do not survive
	// a timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	stdout := newBoundedBuffer(maxBuffer)
	stderr := newBoundedBuffer(maxBuffer)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	res := &Result{
		Stdout:         stdout.String(),
		Stderr:         stderr.String(),
		StdoutOverflow: stdout.Overflowed(),
		StderrOverflow: stderr.Overflowed(),
		Duration:       duration,
		DurationMS:     duration.Milliseconds(),
		Sandboxed:      sandboxed,
		TimedOut:       errors.Is(runCtx.Err(), context.DeadlineExceeded),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				res.Signal = ws.Signal().String()
			}
		} else {
			// Could not start at all (binary missing, cwd invalid).
			return nil, runErr
		}
	} else {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if sandboxed && req.SessionID != "" {
		r.sessions.Touch(req.SessionID)
	}
	r.logger.Debug("subprocess finished",
		"command", req.Command,
		"exit_code", res.ExitCode,
		"duration_ms", res.DurationMS,
		"timed_out", res.TimedOut,
		"sandboxed", sandboxed)
	return res, nil
}

func (r *Runner) buildCommand(req Request, sandboxed bool) (string, []string, error) {
	if sandboxed {
		return r.sandbox.wrap(req)
	}
	if req.Shell {
		cmdline := req.Command
		if len(req.Args) > 0 {
			cmdline = shellJoin(append([]string{req.Command}, req.Args...))
		}
		return "sh", []string{"-c", cmdline}, nil
	}
	return req.Command, req.Args, nil
}

func clampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}

func mergeEnv(base []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return base
	}
	out := make([]string, len(base), len(base)+len(overlay))
	copy(out, base)
	for k, v := range overlay {
		out = append(out, k+"="+v)
	}
	return out
}

func shellJoin(parts []string) string {
	var b bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return b.String()
}

// boundedBuffer truncates after max bytes and records the overflow.
type boundedBuffer struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	max      int
	overflow bool
}

func newBoundedBuffer(max int) *boundedBuffer {
	return &boundedBuffer{max: max}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.max - b.buf.Len()
	if remaining <= 0 {
		b.overflow = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.overflow = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *boundedBuffer) Overflowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow
}
