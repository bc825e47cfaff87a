// Package gitws implements the git workspace tools. Every tool maps to
// a fixed git invocation run through the subprocess runner; arguments
// from the model are passed as argv entries, never through a shell.
package gitws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelrelay/relay/internal/agent"
	"github.com/modelrelay/relay/internal/runner"
)

const gitTimeout = 60 * time.Second

// Tools runs git against the workspace checkout.
type Tools struct {
	runner  *runner.Runner
	root    string
	reviews *ReviewStore // nil disables workspace_diff_review
}

func NewTools(r *runner.Runner, root string, reviews *ReviewStore) *Tools {
	return &Tools{runner: r, root: root, reviews: reviews}
}

func (t *Tools) Register(reg *agent.Registry) {
	register := func(name, description string, handler agent.Handler) {
		reg.Register(&agent.ToolSpec{
			Name: name, Category: "git",
			Description: description,
			Handler:     handler,
		})
	}
	register("workspace_git_status", "Show the git status of the workspace.", t.status)
	register("workspace_git_stage", "Stage files for commit.", t.stage)
	register("workspace_git_unstage", "Unstage files.", t.unstage)
	register("workspace_git_commit", "Create a commit from staged changes.", t.commit)
	register("workspace_git_push", "Push the current branch to its remote.", t.push)
	register("workspace_git_pull", "Pull from the tracked remote.", t.pull)
	register("workspace_git_merge", "Merge a branch into the current one.", t.merge)
	register("workspace_git_rebase", "Rebase the current branch onto another.", t.rebase)
	register("workspace_git_checkout", "Check out a branch or ref.", t.checkout)
	register("workspace_git_branch", "Create a branch.", t.branch)
	register("workspace_git_branches", "List local branches.", t.branches)
	register("workspace_git_stash", "Stash, pop, or list stashed changes.", t.stash)
	register("workspace_git_conflicts", "List files with merge conflicts.", t.conflicts)
	register("workspace_diff", "Show the workspace diff, optionally against a ref.", t.diff)
	register("workspace_diff_summary", "Summarize changed files with line counts.", t.diffSummary)
	register("workspace_diff_review", "Record or list review comments on the current diff.", t.diffReview)
	register("workspace_release_notes", "Draft release notes from commits since a ref.", t.releaseNotes)
}

// git runs one git subcommand rooted at the workspace.
func (t *Tools) git(ctx context.Context, args ...string) (*runner.Result, error) {
	return t.runner.Run(ctx, runner.Request{
		Command: "git",
		Args:    append([]string{"-C", t.root}, args...),
		Timeout: gitTimeout,
		Sandbox: runner.SandboxNever,
	})
}

// gitOutput runs git and returns stdout, treating a non-zero exit as an
// error carrying stderr.
func (t *Tools) gitOutput(ctx context.Context, args ...string) (string, error) {
	res, err := t.git(ctx, args...)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(res.Stdout)
		}
		return "", fmt.Errorf("git %s: %s", args[0], detail)
	}
	return res.Stdout, nil
}

func (t *Tools) status(ctx context.Context, _ *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	out, err := t.gitOutput(ctx, "status", "--porcelain=v1", "--branch")
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	status := map[string]any{"clean": len(lines) <= 1}
	var files []map[string]string
	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			status["branch"] = strings.TrimPrefix(line, "## ")
			continue
		}
		if len(line) < 4 {
			continue
		}
		files = append(files, map[string]string{
			"state": strings.TrimSpace(line[:2]),
			"path":  line[3:],
		})
	}
	status["files"] = files
	return status, nil
}

func (t *Tools) stage(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	paths := pathsArg(call.Args)
	if len(paths) == 0 {
		paths = []string{"."}
	}
	if _, err := t.gitOutput(ctx, append([]string{"add", "--"}, paths...)...); err != nil {
		return nil, err
	}
	return map[string]any{"staged": paths}, nil
}

func (t *Tools) unstage(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	paths := pathsArg(call.Args)
	args := []string{"reset", "HEAD", "--"}
	if len(paths) == 0 {
		args = []string{"reset", "HEAD"}
	} else {
		args = append(args, paths...)
	}
	if _, err := t.gitOutput(ctx, args...); err != nil {
		return nil, err
	}
	return map[string]any{"unstaged": paths}, nil
}

func (t *Tools) commit(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	message := stringArg(call.Args, "message", "msg")
	if message == "" {
		return nil, fmt.Errorf("message is required")
	}
	if _, err := t.gitOutput(ctx, "commit", "-m", message); err != nil {
		return nil, err
	}
	sha, err := t.gitOutput(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	return map[string]any{"commit": strings.TrimSpace(sha), "message": message}, nil
}

func (t *Tools) push(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	args := []string{"push"}
	if remote := stringArg(call.Args, "remote"); remote != "" {
		args = append(args, remote)
		if branch := stringArg(call.Args, "branch"); branch != "" {
			args = append(args, branch)
		}
	}
	out, err := t.gitOutput(ctx, args...)
	if err != nil {
		return nil, err
	}
	return map[string]any{"pushed": true, "output": strings.TrimSpace(out)}, nil
}

func (t *Tools) pull(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	args := []string{"pull", "--ff-only"}
	if remote := stringArg(call.Args, "remote"); remote != "" {
		args = append(args, remote)
	}
	out, err := t.gitOutput(ctx, args...)
	if err != nil {
		return nil, err
	}
	return map[string]any{"pulled": true, "output": strings.TrimSpace(out)}, nil
}

func (t *Tools) merge(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	branch := stringArg(call.Args, "branch", "ref")
	if branch == "" {
		return nil, fmt.Errorf("branch is required")
	}
	res, err := t.git(ctx, "merge", "--no-edit", branch)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		// A conflicted merge is a state the model can act on, not a
		// hard failure.
		return map[string]any{
			"merged":    false,
			"conflicts": true,
			"output":    strings.TrimSpace(res.Stdout + res.Stderr),
		}, nil
	}
	return map[string]any{"merged": true, "output": strings.TrimSpace(res.Stdout)}, nil
}

func (t *Tools) rebase(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	if abort, _ := call.Args["abort"].(bool); abort {
		if _, err := t.gitOutput(ctx, "rebase", "--abort"); err != nil {
			return nil, err
		}
		return map[string]any{"aborted": true}, nil
	}
	onto := stringArg(call.Args, "onto", "branch", "ref")
	if onto == "" {
		return nil, fmt.Errorf("onto is required")
	}
	res, err := t.git(ctx, "rebase", onto)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return map[string]any{
			"rebased":   false,
			"conflicts": true,
			"output":    strings.TrimSpace(res.Stdout + res.Stderr),
		}, nil
	}
	return map[string]any{"rebased": true, "onto": onto}, nil
}

func (t *Tools) checkout(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	ref := stringArg(call.Args, "branch", "ref")
	if ref == "" {
		return nil, fmt.Errorf("branch is required")
	}
	args := []string{"checkout"}
	if create, _ := call.Args["create"].(bool); create {
		args = append(args, "-b")
	}
	args = append(args, ref)
	if _, err := t.gitOutput(ctx, args...); err != nil {
		return nil, err
	}
	return map[string]any{"checked_out": ref}, nil
}

func (t *Tools) branch(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	name := stringArg(call.Args, "name", "branch")
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if _, err := t.gitOutput(ctx, "branch", name); err != nil {
		return nil, err
	}
	return map[string]any{"created": name}, nil
}

func (t *Tools) branches(ctx context.Context, _ *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	out, err := t.gitOutput(ctx, "branch", "--format=%(refname:short)\t%(HEAD)")
	if err != nil {
		return nil, err
	}
	var names []string
	current := ""
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		name, marker, _ := strings.Cut(line, "\t")
		if name == "" {
			continue
		}
		names = append(names, name)
		if marker == "*" {
			current = name
		}
	}
	return map[string]any{"branches": names, "current": current}, nil
}

func (t *Tools) stash(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	action := stringArg(call.Args, "action")
	switch action {
	case "", "push":
		args := []string{"stash", "push"}
		if msg := stringArg(call.Args, "message"); msg != "" {
			args = append(args, "-m", msg)
		}
		out, err := t.gitOutput(ctx, args...)
		if err != nil {
			return nil, err
		}
		return map[string]any{"action": "push", "output": strings.TrimSpace(out)}, nil
	case "pop":
		out, err := t.gitOutput(ctx, "stash", "pop")
		if err != nil {
			return nil, err
		}
		return map[string]any{"action": "pop", "output": strings.TrimSpace(out)}, nil
	case "list":
		out, err := t.gitOutput(ctx, "stash", "list")
		if err != nil {
			return nil, err
		}
		var entries []string
		for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
			if line != "" {
				entries = append(entries, line)
			}
		}
		return map[string]any{"action": "list", "stashes": entries}, nil
	default:
		return nil, fmt.Errorf("unknown stash action %q", action)
	}
}

func (t *Tools) conflicts(ctx context.Context, _ *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	out, err := t.gitOutput(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return map[string]any{"conflicts": files, "clean": len(files) == 0}, nil
}

func (t *Tools) diff(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	args := []string{"diff"}
	if staged, _ := call.Args["staged"].(bool); staged {
		args = append(args, "--cached")
	}
	if ref := stringArg(call.Args, "ref", "base"); ref != "" {
		args = append(args, ref)
	}
	if path := stringArg(call.Args, "path", "file"); path != "" {
		args = append(args, "--", path)
	}
	out, err := t.gitOutput(ctx, args...)
	if err != nil {
		return nil, err
	}
	return map[string]any{"diff": out, "empty": strings.TrimSpace(out) == ""}, nil
}

func (t *Tools) diffSummary(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	args := []string{"diff", "--numstat"}
	if staged, _ := call.Args["staged"].(bool); staged {
		args = append(args, "--cached")
	}
	if ref := stringArg(call.Args, "ref", "base"); ref != "" {
		args = append(args, ref)
	}
	out, err := t.gitOutput(ctx, args...)
	if err != nil {
		return nil, err
	}
	var files []map[string]any
	totalAdd, totalDel := 0, 0
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		add, del := parseStat(fields[0]), parseStat(fields[1])
		totalAdd += add
		totalDel += del
		files = append(files, map[string]any{
			"path": fields[2], "additions": add, "deletions": del,
		})
	}
	return map[string]any{
		"files":     files,
		"additions": totalAdd,
		"deletions": totalDel,
	}, nil
}

func (t *Tools) diffReview(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	if t.reviews == nil {
		return nil, fmt.Errorf("diff review storage is not configured")
	}
	if body := stringArg(call.Args, "comment", "body"); body != "" {
		path := stringArg(call.Args, "path", "file")
		if path == "" {
			return nil, fmt.Errorf("path is required")
		}
		line := 0
		if v, ok := call.Args["line"].(float64); ok {
			line = int(v)
		}
		severity := stringArg(call.Args, "severity")
		comment, err := t.reviews.Add(ctx, path, line, severity, body)
		if err != nil {
			return nil, err
		}
		return map[string]any{"recorded": comment}, nil
	}
	comments, err := t.reviews.List(ctx, stringArg(call.Args, "path", "file"))
	if err != nil {
		return nil, err
	}
	return map[string]any{"comments": comments}, nil
}

func (t *Tools) releaseNotes(ctx context.Context, call *agent.ToolCall, _ *agent.ToolContext) (any, error) {
	since := stringArg(call.Args, "since", "ref", "base")
	args := []string{"log", "--pretty=format:%h\t%s", "--no-merges"}
	if since != "" {
		args = append(args, since+"..HEAD")
	} else {
		args = append(args, "-20")
	}
	out, err := t.gitOutput(ctx, args...)
	if err != nil {
		return nil, err
	}

	groups := map[string][]string{}
	var order []string
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		sha, subject, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		section := sectionFor(subject)
		if _, seen := groups[section]; !seen {
			order = append(order, section)
		}
		groups[section] = append(groups[section], fmt.Sprintf("%s (%s)", subject, sha))
	}

	var b strings.Builder
	b.WriteString("## Release Notes\n")
	for _, section := range order {
		fmt.Fprintf(&b, "\n### %s\n", section)
		for _, entry := range groups[section] {
			fmt.Fprintf(&b, "- %s\n", entry)
		}
	}
	return map[string]any{"notes": b.String(), "commits": countEntries(groups)}, nil
}

// sectionFor buckets a commit subject by conventional-commit prefix.
func sectionFor(subject string) string {
	lower := strings.ToLower(subject)
	switch {
	case strings.HasPrefix(lower, "feat"):
		return "Features"
	case strings.HasPrefix(lower, "fix"):
		return "Fixes"
	case strings.HasPrefix(lower, "doc"):
		return "Documentation"
	case strings.HasPrefix(lower, "refactor"), strings.HasPrefix(lower, "chore"), strings.HasPrefix(lower, "test"):
		return "Maintenance"
	default:
		return "Changes"
	}
}

func countEntries(groups map[string][]string) int {
	n := 0
	for _, entries := range groups {
		n += len(entries)
	}
	return n
}

func parseStat(s string) int {
	var n int
	fmt.Sscanf(s, "%d", &n)
	return n
}

func stringArg(args map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// pathsArg accepts "paths" ([]any of string), "files", or a single
// "path"/"file".
func pathsArg(args map[string]any) []string {
	for _, key := range []string{"paths", "files"} {
		if list, ok := args[key].([]any); ok {
			var out []string
			for _, v := range list {
				if s, ok := v.(string); ok && s != "" {
					out = append(out, s)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	if s := stringArg(args, "path", "file"); s != "" {
		return []string{s}
	}
	return nil
}
