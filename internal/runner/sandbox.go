package runner

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// SandboxConfig describes the container runtime used for sandboxed runs.
type SandboxConfig struct {
	Enabled bool
	// Default selects sandboxing when the request says SandboxAuto.
	Default bool
	Runtime string // default "docker"
	Image   string

	WorkspaceRoot      string
	ContainerWorkspace string // default "/workspace"
	MountWorkspace     bool
	// ExtraMounts are "host:container:mode" bind specs.
	ExtraMounts []string

	AllowNetworking bool
	NetworkMode     string // default "none" unless AllowNetworking

	// PassthroughEnv names host environment variables exported into the
	// container.
	PassthroughEnv []string
	EnvValues      map[string]string

	User       string
	Entrypoint string
}

func (c *SandboxConfig) runtime() string {
	if c.Runtime == "" {
		return "docker"
	}
	return c.Runtime
}

func (c *SandboxConfig) containerWorkspace() string {
	if c.ContainerWorkspace == "" {
		return "/workspace"
	}
	return c.ContainerWorkspace
}

func (c *SandboxConfig) networkMode() string {
	if c.NetworkMode != "" {
		return c.NetworkMode
	}
	if c.AllowNetworking {
		return "bridge"
	}
	return "none"
}

// wrap rewrites the request into a `docker run --rm` invocation. The
// request cwd must resolve inside the workspace root; anything else
// fails before a container is spawned.
func (c *SandboxConfig) wrap(req Request) (string, []string, error) {
	if c.Image == "" {
		return "", nil, fmt.Errorf("sandbox: no image configured")
	}

	workdir := c.containerWorkspace()
	if req.Cwd != "" {
		rel, err := containedRel(c.WorkspaceRoot, req.Cwd)
		if err != nil {
			return "", nil, err
		}
		workdir = filepath.Join(c.containerWorkspace(), rel)
	}

	args := []string{"run", "--rm", "-i",
		"--network", c.networkMode(),
		"-w", workdir,
	}
	if c.MountWorkspace && c.WorkspaceRoot != "" {
		args = append(args, "-v", c.WorkspaceRoot+":"+c.containerWorkspace())
	}
	for _, mount := range c.ExtraMounts {
		if mount != "" {
			args = append(args, "-v", mount)
		}
	}
	if c.User != "" {
		args = append(args, "--user", c.User)
	}
	if c.Entrypoint != "" {
		args = append(args, "--entrypoint", c.Entrypoint)
	}
	for _, name := range c.PassthroughEnv {
		if v, ok := c.EnvValues[name]; ok {
			args = append(args, "-e", name+"="+v)
		} else {
			args = append(args, "-e", name)
		}
	}
	for _, kv := range sortedEnvSlice(req.Env) {
		args = append(args, "-e", kv)
	}
	if req.SessionID != "" {
		args = append(args, "-e", "MCP_SANDBOX_SESSION="+req.SessionID)
	}
	args = append(args, c.Image)

	if req.Shell {
		cmdline := req.Command
		if len(req.Args) > 0 {
			cmdline = strings.Join(append([]string{req.Command}, req.Args...), " ")
		}
		args = append(args, "sh", "-c", cmdline)
	} else {
		args = append(args, req.Command)
		args = append(args, req.Args...)
	}
	return c.runtime(), args, nil
}

// containedRel returns cwd relative to root, failing closed when cwd
// escapes the root.
func containedRel(root, cwd string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("sandbox: no workspace root configured")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absCwd, err := filepath.Abs(cwd)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absRoot, absCwd)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("sandbox: cwd %q escapes workspace root", cwd)
	}
	return rel, nil
}

func sortedEnvSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// SandboxSession records per-session runner usage so tools can correlate
// container activity with conversations.
type SandboxSession struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
	RunCount  int       `json:"run_count"`
}

// SessionTracker is the in-memory SandboxSession registry.
type SessionTracker struct {
	mu       sync.Mutex
	sessions map[string]*SandboxSession
}

func NewSessionTracker() *SessionTracker {
	return &SessionTracker{sessions: make(map[string]*SandboxSession)}
}

// Touch records a run for the session, creating it on first use.
func (t *SessionTracker) Touch(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC()
	sess, ok := t.sessions[id]
	if !ok {
		sess = &SandboxSession{ID: id, CreatedAt: now}
		t.sessions[id] = sess
	}
	sess.LastUsed = now
	sess.RunCount++
}

// List enumerates sessions ordered by id.
func (t *SessionTracker) List() []*SandboxSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*SandboxSession, 0, len(t.sessions))
	for _, sess := range t.sessions {
		copied := *sess
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Release drops the session; reports whether it existed.
func (t *SessionTracker) Release(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[id]
	delete(t.sessions, id)
	return ok
}
