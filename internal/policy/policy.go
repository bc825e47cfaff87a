// Package policy decides whether a model-emitted tool call may execute
// and sanitizes content flowing back to the client.
package policy

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Denial codes surfaced in tool results.
const (
	CodeToolDisallowed     = "tool_disallowed"
	CodeToolLimitReached   = "tool_limit_reached"
	CodeGitPushDisabled    = "git_push_disabled"
	CodeGitPullDisabled    = "git_pull_disabled"
	CodeGitCommitDisabled  = "git_commit_disabled"
	CodeGitCommitRejected  = "git_commit_message_rejected"
	CodeGitTestsRequired   = "git_precommit_tests_required"
	CodeUnsafeShell        = "unsafe_shell_command"
	CodeUnsafePython       = "unsafe_python_code"
	CodeSandboxDenied      = "sandbox_permission_denied"
)

// GitPolicy holds the sub-flags gating workspace_git_* tools.
type GitPolicy struct {
	AllowPush    bool
	AllowPull    bool
	AllowCommit  bool
	RequireTests bool
	TestCommand  string
	CommitRegex  string
	Autostash    bool

	commitRE *regexp.Regexp
}

// SandboxPermissions controls which tools may run sandboxed.
// Mode is one of "auto", "require", "deny". Patterns support a single
// trailing '*' wildcard.
type SandboxPermissions struct {
	Mode  string
	Allow []string
	Deny  []string
}

// Config is the policy engine's tunable surface.
type Config struct {
	DisallowedTools     []string
	MaxToolCallsPerTurn int
	Git                 GitPolicy
	Sandbox             SandboxPermissions
}

// Call is the subset of a tool call the engine inspects.
type Call struct {
	Name string
	Args map[string]any
	// Sandboxed is true when the tool will run under the sandbox runtime.
	Sandboxed bool
}

// Decision is the outcome of evaluating a call.
type Decision struct {
	Allowed bool
	Status  int
	Code    string
	Reason  string
	// RunTests is the pre-commit test command that must exit zero before
	// the gated commit proceeds. Empty unless git policy demands it.
	RunTests string
}

var allow = Decision{Allowed: true}

func deny(status int, code, reason string) Decision {
	return Decision{Status: status, Code: code, Reason: reason}
}

// Engine evaluates the ordered rule set from §Config against candidate
// tool calls. Safe for concurrent use; all state is read-only after New.
type Engine struct {
	cfg        Config
	disallowed map[string]bool
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxToolCallsPerTurn <= 0 {
		cfg.MaxToolCallsPerTurn = 12
	}
	if cfg.Git.CommitRegex != "" {
		re, err := regexp.Compile(cfg.Git.CommitRegex)
		if err != nil {
			return nil, fmt.Errorf("policy: invalid commit regex %q: %w", cfg.Git.CommitRegex, err)
		}
		cfg.Git.commitRE = re
	}
	switch cfg.Sandbox.Mode {
	case "", "auto":
		cfg.Sandbox.Mode = "auto"
	case "require", "deny":
	default:
		return nil, fmt.Errorf("policy: invalid sandbox permission mode %q", cfg.Sandbox.Mode)
	}
	disallowed := make(map[string]bool, len(cfg.DisallowedTools))
	for _, name := range cfg.DisallowedTools {
		if name = strings.TrimSpace(name); name != "" {
			disallowed[name] = true
		}
	}
	return &Engine{cfg: cfg, disallowed: disallowed, logger: logger}, nil
}

// MaxToolCallsPerTurn reports the effective per-turn quota.
func (e *Engine) MaxToolCallsPerTurn() int { return e.cfg.MaxToolCallsPerTurn }

// Evaluate applies the rules in order. toolCallsExecuted is the number
// of real executions already performed this turn. A disallowed tool is
// reported as 403 even when the quota is exhausted.
func (e *Engine) Evaluate(call Call, toolCallsExecuted int) Decision {
	if e.disallowed[call.Name] {
		return deny(403, CodeToolDisallowed, fmt.Sprintf("tool %q is disallowed by policy", call.Name))
	}
	if toolCallsExecuted >= e.cfg.MaxToolCallsPerTurn {
		return deny(429, CodeToolLimitReached,
			fmt.Sprintf("per-turn tool call limit (%d) reached", e.cfg.MaxToolCallsPerTurn))
	}
	if strings.HasPrefix(call.Name, "workspace_git_") {
		if d := e.evaluateGit(call); !d.Allowed {
			return d
		} else if d.RunTests != "" {
			return d
		}
	}
	if call.Name == "shell" {
		if d := e.evaluateShell(call); !d.Allowed {
			return d
		}
	}
	if call.Name == "python_exec" {
		if d := e.evaluatePython(call); !d.Allowed {
			return d
		}
	}
	if call.Sandboxed {
		if d := e.evaluateSandbox(call); !d.Allowed {
			return d
		}
	}
	return allow
}

func (e *Engine) evaluateGit(call Call) Decision {
	switch call.Name {
	case "workspace_git_push":
		if !e.cfg.Git.AllowPush {
			return deny(403, CodeGitPushDisabled, "git push is disabled by policy")
		}
	case "workspace_git_pull":
		if !e.cfg.Git.AllowPull {
			return deny(403, CodeGitPullDisabled, "git pull is disabled by policy")
		}
	case "workspace_git_commit":
		if !e.cfg.Git.AllowCommit {
			return deny(403, CodeGitCommitDisabled, "git commit is disabled by policy")
		}
		if e.cfg.Git.commitRE != nil {
			msg := stringArg(call.Args, "message", "msg", "commit_message")
			if !e.cfg.Git.commitRE.MatchString(msg) {
				return deny(403, CodeGitCommitRejected,
					fmt.Sprintf("commit message does not match required pattern %q", e.cfg.Git.CommitRegex))
			}
		}
		if e.cfg.Git.RequireTests {
			cmd := e.cfg.Git.TestCommand
			if cmd == "" {
				return deny(403, CodeGitTestsRequired, "commits require passing tests but no test command is configured")
			}
			d := allow
			d.RunTests = cmd
			return d
		}
	}
	return allow
}

var shellBlocklist = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)[a-z]*\s+/(\s|$)`),
	regexp.MustCompile(`(?i)\bshutdown\b`),
	regexp.MustCompile(`(?i)\breboot\b`),
	regexp.MustCompile(`(?i)\bsystemctl\s+stop\b`),
	regexp.MustCompile(`(?i)\bmkfs\S*`),
	regexp.MustCompile(`(?i)\bdd\s+if=/dev/`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`),
	regexp.MustCompile(`(?i)\bchown\s+-R\s+root\b`),
}

func (e *Engine) evaluateShell(call Call) Decision {
	cmd := NormalizeShellCommand(call.Args)
	for _, re := range shellBlocklist {
		if re.MatchString(cmd) {
			return deny(403, CodeUnsafeShell,
				fmt.Sprintf("shell command blocked by safety policy: matched %q", re.String()))
		}
	}
	return allow
}

// NormalizeShellCommand flattens the argument shapes clients send for
// the shell tool (command, cmd, run, args, or an argv array) into a
// single command string.
func NormalizeShellCommand(args map[string]any) string {
	for _, key := range []string{"command", "cmd", "run"} {
		switch v := args[key].(type) {
		case string:
			return v
		case []any:
			return joinArgv(v)
		}
	}
	if v, ok := args["args"].([]any); ok {
		return joinArgv(v)
	}
	return ""
}

func joinArgv(argv []any) string {
	parts := make([]string, 0, len(argv))
	for _, a := range argv {
		parts = append(parts, fmt.Sprint(a))
	}
	return strings.Join(parts, " ")
}

var pythonBlocklist = []*regexp.Regexp{
	regexp.MustCompile(`os\.remove\(\s*['"]/['"]`),
	regexp.MustCompile(`subprocess\.(call|run)\(\s*['"]rm\s+-rf`),
	regexp.MustCompile(`shutil\.rmtree\(\s*['"]/['"]`),
}

func (e *Engine) evaluatePython(call Call) Decision {
	code := stringArg(call.Args, "code", "script", "source")
	for _, re := range pythonBlocklist {
		if re.MatchString(code) {
			return deny(403, CodeUnsafePython,
				fmt.Sprintf("python code blocked by safety policy: matched %q", re.String()))
		}
	}
	return allow
}

func (e *Engine) evaluateSandbox(call Call) Decision {
	switch e.cfg.Sandbox.Mode {
	case "deny":
		return deny(403, CodeSandboxDenied, "sandboxed execution is denied by policy")
	case "require":
		if matchAny(e.cfg.Sandbox.Deny, call.Name) {
			return deny(403, CodeSandboxDenied,
				fmt.Sprintf("tool %q matches the sandbox deny list", call.Name))
		}
		if !matchAny(e.cfg.Sandbox.Allow, call.Name) {
			return deny(403, CodeSandboxDenied,
				fmt.Sprintf("tool %q is not on the sandbox allow list", call.Name))
		}
	default: // auto
		if matchAny(e.cfg.Sandbox.Deny, call.Name) {
			return deny(403, CodeSandboxDenied,
				fmt.Sprintf("tool %q matches the sandbox deny list", call.Name))
		}
		if len(e.cfg.Sandbox.Allow) > 0 && !matchAny(e.cfg.Sandbox.Allow, call.Name) {
			e.logger.Debug("sandbox allow list miss, admitting in auto mode", "tool", call.Name)
		}
	}
	return allow
}

// matchAny reports whether name matches any pattern. Patterns are exact
// strings or prefixes ending in a single trailing '*'.
func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "*") {
			if strings.HasPrefix(name, p[:len(p)-1]) {
				return true
			}
			continue
		}
		if p == name {
			return true
		}
	}
	return false
}

func stringArg(args map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := args[key].(string); ok {
			return v
		}
	}
	return ""
}
