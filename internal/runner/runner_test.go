package runner

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	r := New(nil, nil)
	res, err := r.Run(context.Background(), Request{
		Command: "echo hello",
		Shell:   true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("stdout = %q, want hello", res.Stdout)
	}
	if res.TimedOut || res.Sandboxed {
		t.Errorf("unexpected flags: %+v", res)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	r := New(nil, nil)
	res, err := r.Run(context.Background(), Request{Command: "exit 3", Shell: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	r := New(nil, nil)
	start := time.Now()
	res, err := r.Run(context.Background(), Request{
		Command: "sleep 30",
		Shell:   true,
		Timeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut {
		t.Errorf("TimedOut = false, want true")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v, process not killed promptly", elapsed)
	}
}

func TestRunBoundedOutput(t *testing.T) {
	r := New(nil, nil)
	res, err := r.Run(context.Background(), Request{
		Command:   "yes x | head -c 4096",
		Shell:     true,
		MaxBuffer: 1024,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Stdout) != 1024 {
		t.Errorf("stdout length = %d, want 1024", len(res.Stdout))
	}
	if !res.StdoutOverflow {
		t.Errorf("StdoutOverflow = false, want true")
	}
	if res.StderrOverflow {
		t.Errorf("StderrOverflow = true, want false")
	}
}

func TestRunStdin(t *testing.T) {
	r := New(nil, nil)
	res, err := r.Run(context.Background(), Request{
		Command: "cat",
		Input:   "piped input",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "piped input" {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestClampTimeout(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, DefaultTimeout},
		{-time.Second, DefaultTimeout},
		{time.Microsecond, MinTimeout},
		{time.Second, time.Second},
		{time.Hour, MaxTimeout},
	}
	for _, tt := range tests {
		if got := clampTimeout(tt.in); got != tt.want {
			t.Errorf("clampTimeout(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSandboxWrapBuildsDockerArgs(t *testing.T) {
	cfg := &SandboxConfig{
		Enabled:            true,
		Image:              "relay-sandbox:latest",
		WorkspaceRoot:      "/srv/work",
		ContainerWorkspace: "/workspace",
		MountWorkspace:     true,
		ExtraMounts:        []string{"/data:/data:ro"},
	}
	cmd, args, err := cfg.wrap(Request{
		Command:   "pytest",
		Args:      []string{"-q"},
		Cwd:       "/srv/work/proj",
		SessionID: "sess-9",
	})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if cmd != "docker" {
		t.Errorf("runtime = %q, want docker", cmd)
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"run --rm",
		"--network none",
		"-w /workspace/proj",
		"-v /srv/work:/workspace",
		"-v /data:/data:ro",
		"-e MCP_SANDBOX_SESSION=sess-9",
		"relay-sandbox:latest pytest -q",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}
}

func TestSandboxWrapRejectsEscapingCwd(t *testing.T) {
	cfg := &SandboxConfig{Enabled: true, Image: "img", WorkspaceRoot: "/srv/work"}
	if _, _, err := cfg.wrap(Request{Command: "ls", Cwd: "/etc"}); err == nil {
		t.Fatal("cwd outside workspace accepted")
	}
	if _, _, err := cfg.wrap(Request{Command: "ls", Cwd: "/srv/work/../other"}); err == nil {
		t.Fatal("dot-dot cwd accepted")
	}
}

func TestSessionTracker(t *testing.T) {
	tr := NewSessionTracker()
	tr.Touch("a")
	tr.Touch("a")
	tr.Touch("b")

	sessions := tr.List()
	if len(sessions) != 2 {
		t.Fatalf("len = %d, want 2", len(sessions))
	}
	if sessions[0].ID != "a" || sessions[0].RunCount != 2 {
		t.Errorf("session a = %+v", sessions[0])
	}
	if !tr.Release("a") {
		t.Errorf("Release(a) = false")
	}
	if tr.Release("a") {
		t.Errorf("second Release(a) = true")
	}
	if len(tr.List()) != 1 {
		t.Errorf("len after release = %d, want 1", len(tr.List()))
	}
}
