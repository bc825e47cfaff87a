package gitws

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelrelay/relay/internal/agent"
	"github.com/modelrelay/relay/internal/runner"
	"github.com/modelrelay/relay/internal/sessions"
)

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	root := t.TempDir()
	for _, args := range [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "dev@example.com"},
		{"config", "user.name", "Dev"},
	} {
		cmd := exec.Command("git", append([]string{"-C", root}, args...)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	return root
}

func newTools(t *testing.T, root string) *Tools {
	t.Helper()
	store, err := sessions.NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewTools(runner.New(nil, nil), root, NewReviewStore(store.DB()))
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func call(args map[string]any) *agent.ToolCall {
	if args == nil {
		args = map[string]any{}
	}
	return &agent.ToolCall{ID: "c1", Args: args}
}

func TestStatusStageCommit(t *testing.T) {
	root := initRepo(t)
	tools := newTools(t, root)
	ctx := context.Background()

	writeFile(t, root, "a.txt", "hello")

	out, err := tools.status(ctx, call(nil), nil)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	st := out.(map[string]any)
	if st["clean"] != false {
		t.Errorf("clean = %v with untracked file", st["clean"])
	}

	if _, err := tools.stage(ctx, call(map[string]any{"paths": []any{"a.txt"}}), nil); err != nil {
		t.Fatalf("stage: %v", err)
	}
	out, err = tools.commit(ctx, call(map[string]any{"message": "feat: add a"}), nil)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	sha := out.(map[string]any)["commit"].(string)
	if len(sha) != 40 {
		t.Errorf("commit sha = %q", sha)
	}

	out, err = tools.status(ctx, call(nil), nil)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if out.(map[string]any)["clean"] != true {
		t.Errorf("repo not clean after commit")
	}
}

func TestDiffAndSummary(t *testing.T) {
	root := initRepo(t)
	tools := newTools(t, root)
	ctx := context.Background()

	writeFile(t, root, "f.txt", "one\ntwo\n")
	tools.stage(ctx, call(map[string]any{"path": "f.txt"}), nil)
	tools.commit(ctx, call(map[string]any{"message": "initial"}), nil)

	writeFile(t, root, "f.txt", "one\nTWO\nthree\n")

	out, err := tools.diff(ctx, call(nil), nil)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	diff := out.(map[string]any)["diff"].(string)
	if !strings.Contains(diff, "+TWO") {
		t.Errorf("diff missing change:\n%s", diff)
	}

	out, err = tools.diffSummary(ctx, call(nil), nil)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	summary := out.(map[string]any)
	if summary["additions"].(int) < 2 || summary["deletions"].(int) < 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestBranchesAndCheckout(t *testing.T) {
	root := initRepo(t)
	tools := newTools(t, root)
	ctx := context.Background()

	writeFile(t, root, "a.txt", "x")
	tools.stage(ctx, call(nil), nil)
	tools.commit(ctx, call(map[string]any{"message": "initial"}), nil)

	if _, err := tools.branch(ctx, call(map[string]any{"name": "feature"}), nil); err != nil {
		t.Fatalf("branch: %v", err)
	}
	if _, err := tools.checkout(ctx, call(map[string]any{"branch": "feature"}), nil); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	out, err := tools.branches(ctx, call(nil), nil)
	if err != nil {
		t.Fatalf("branches: %v", err)
	}
	result := out.(map[string]any)
	if result["current"] != "feature" {
		t.Errorf("current = %v", result["current"])
	}
	names := strings.Join(result["branches"].([]string), ",")
	if !strings.Contains(names, "main") || !strings.Contains(names, "feature") {
		t.Errorf("branches = %s", names)
	}
}

func TestMergeReportsConflicts(t *testing.T) {
	root := initRepo(t)
	tools := newTools(t, root)
	ctx := context.Background()

	writeFile(t, root, "f.txt", "base\n")
	tools.stage(ctx, call(nil), nil)
	tools.commit(ctx, call(map[string]any{"message": "base"}), nil)

	tools.checkout(ctx, call(map[string]any{"branch": "other", "create": true}), nil)
	writeFile(t, root, "f.txt", "other\n")
	tools.stage(ctx, call(nil), nil)
	tools.commit(ctx, call(map[string]any{"message": "other change"}), nil)

	tools.checkout(ctx, call(map[string]any{"branch": "main"}), nil)
	writeFile(t, root, "f.txt", "main\n")
	tools.stage(ctx, call(nil), nil)
	tools.commit(ctx, call(map[string]any{"message": "main change"}), nil)

	out, err := tools.merge(ctx, call(map[string]any{"branch": "other"}), nil)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	result := out.(map[string]any)
	if result["merged"] != false || result["conflicts"] != true {
		t.Fatalf("merge result = %+v", result)
	}

	out, err = tools.conflicts(ctx, call(nil), nil)
	if err != nil {
		t.Fatalf("conflicts: %v", err)
	}
	files := out.(map[string]any)["conflicts"].([]string)
	if len(files) != 1 || files[0] != "f.txt" {
		t.Errorf("conflict files = %v", files)
	}
}

func TestReleaseNotesGrouping(t *testing.T) {
	root := initRepo(t)
	tools := newTools(t, root)
	ctx := context.Background()

	for i, msg := range []string{"feat: widget", "fix: leak", "chore: tidy"} {
		writeFile(t, root, "f.txt", strings.Repeat("x", i+1))
		tools.stage(ctx, call(nil), nil)
		if _, err := tools.commit(ctx, call(map[string]any{"message": msg}), nil); err != nil {
			t.Fatalf("commit %q: %v", msg, err)
		}
	}

	out, err := tools.releaseNotes(ctx, call(nil), nil)
	if err != nil {
		t.Fatalf("release notes: %v", err)
	}
	result := out.(map[string]any)
	notes := result["notes"].(string)
	for _, want := range []string{"### Features", "### Fixes", "### Maintenance", "feat: widget"} {
		if !strings.Contains(notes, want) {
			t.Errorf("notes missing %q:\n%s", want, notes)
		}
	}
	if result["commits"].(int) != 3 {
		t.Errorf("commits = %v", result["commits"])
	}
}

func TestDiffReviewRoundTrip(t *testing.T) {
	root := initRepo(t)
	tools := newTools(t, root)
	ctx := context.Background()

	out, err := tools.diffReview(ctx, call(map[string]any{
		"path": "f.txt", "line": float64(3), "comment": "missing error check", "severity": "warn",
	}), nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	recorded := out.(map[string]any)["recorded"].(*DiffComment)
	if recorded.Severity != "warn" || recorded.Line != 3 {
		t.Errorf("recorded = %+v", recorded)
	}

	out, err = tools.diffReview(ctx, call(map[string]any{"path": "f.txt"}), nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	comments := out.(map[string]any)["comments"].([]DiffComment)
	if len(comments) != 1 || comments[0].Body != "missing error check" {
		t.Errorf("comments = %+v", comments)
	}
}

func TestRegisterInstallsAllGitTools(t *testing.T) {
	root := initRepo(t)
	tools := newTools(t, root)
	reg := agent.NewRegistry(nil)
	tools.Register(reg)
	for _, name := range []string{
		"workspace_git_status", "workspace_git_commit", "workspace_git_push",
		"workspace_git_stash", "workspace_diff", "workspace_diff_summary",
		"workspace_diff_review", "workspace_release_notes",
	} {
		if _, ok := reg.Resolve(name); !ok {
			t.Errorf("missing %s", name)
		}
	}
}
