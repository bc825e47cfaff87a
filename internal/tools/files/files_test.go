package files

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelrelay/relay/internal/agent"
	"github.com/modelrelay/relay/internal/sessions"
)

func newFixture(t *testing.T) (*Tools, string) {
	t.Helper()
	root := t.TempDir()
	resolver, err := NewResolver(root)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	store, err := sessions.NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewTools(resolver, NewHistory(store.DB())), root
}

func call(name string, args map[string]any) *agent.ToolCall {
	return &agent.ToolCall{ID: "c1", Name: name, Args: args}
}

func TestResolverConfinement(t *testing.T) {
	root := t.TempDir()
	resolver, _ := NewResolver(root)

	ok := []string{"a.txt", "sub/dir/b.txt", "./c.txt", filepath.Join(root, "d.txt")}
	for _, p := range ok {
		if _, err := resolver.Resolve(p); err != nil {
			t.Errorf("Resolve(%q) failed: %v", p, err)
		}
	}
	escapes := []string{"../outside.txt", "sub/../../x", "/etc/passwd", ""}
	for _, p := range escapes {
		if _, err := resolver.Resolve(p); err == nil {
			t.Errorf("Resolve(%q) should fail closed", p)
		}
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	tools, _ := newFixture(t)
	ctx := context.Background()

	out, err := tools.write(ctx, call("fs_write", map[string]any{
		"path": "notes/hello.txt", "content": "line one\nline two",
	}), nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	result := out.(map[string]any)
	if result["operation"] != "create" {
		t.Errorf("operation = %v", result["operation"])
	}

	got, err := tools.read(ctx, call("fs_read", map[string]any{"file": "notes/hello.txt"}), nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "line one\nline two" {
		t.Errorf("content = %q", got)
	}
}

func TestReadLineWindow(t *testing.T) {
	tools, _ := newFixture(t)
	ctx := context.Background()
	tools.write(ctx, call("fs_write", map[string]any{
		"path": "f.txt", "content": "l1\nl2\nl3\nl4",
	}), nil)

	got, err := tools.read(ctx, call("fs_read", map[string]any{
		"path": "f.txt", "start_line": float64(2), "line_count": float64(2),
	}), nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "l2\nl3" {
		t.Errorf("window = %q", got)
	}
}

func TestWriteRejectsEscape(t *testing.T) {
	tools, root := newFixture(t)
	_, err := tools.write(context.Background(), call("fs_write", map[string]any{
		"path": "../escape.txt", "content": "x",
	}), nil)
	if err == nil {
		t.Fatal("escaping write accepted")
	}
	if _, statErr := os.Stat(filepath.Join(root, "..", "escape.txt")); statErr == nil {
		t.Fatal("file written outside workspace")
	}
}

func TestApplyUnifiedDiff(t *testing.T) {
	content := "alpha\nbeta\ngamma\ndelta"
	diff := `--- a/f.txt
+++ b/f.txt
@@ -2,2 +2,2 @@
 beta
-gamma
+GAMMA
`
	got, err := ApplyUnifiedDiff(content, diff)
	if err != nil {
		t.Fatalf("ApplyUnifiedDiff: %v", err)
	}
	if got != "alpha\nbeta\nGAMMA\ndelta" {
		t.Errorf("patched = %q", got)
	}
}

func TestApplyUnifiedDiffContextMismatch(t *testing.T) {
	diff := "@@ -1,1 +1,1 @@\n-not there\n+x\n"
	if _, err := ApplyUnifiedDiff("actual content", diff); err == nil {
		t.Fatal("mismatched context accepted")
	}
	if _, err := ApplyUnifiedDiff("anything", "no hunks here"); err == nil {
		t.Fatal("hunkless diff accepted")
	}
}

func TestPatchToolRecordsHistoryAndRevert(t *testing.T) {
	tools, _ := newFixture(t)
	ctx := context.Background()

	tools.write(ctx, call("fs_write", map[string]any{"path": "f.txt", "content": "one\ntwo"}), nil)
	out, err := tools.patch(ctx, call("edit_patch", map[string]any{
		"path": "f.txt",
		"diff": "@@ -1,2 +1,2 @@\n one\n-two\n+TWO\n",
	}), nil)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	editID := out.(map[string]any)["edit_id"].(string)
	if editID == "" {
		t.Fatal("no edit id recorded")
	}

	got, _ := tools.read(ctx, call("fs_read", map[string]any{"path": "f.txt"}), nil)
	if got != "one\nTWO" {
		t.Fatalf("patched content = %q", got)
	}

	// History lists both edits, newest first.
	histOut, err := tools.editHistory(ctx, call("workspace_edit_history", map[string]any{"path": "f.txt"}), nil)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	records := histOut.(map[string]any)["edits"].([]EditRecord)
	if len(records) != 2 {
		t.Fatalf("history = %d records, want 2", len(records))
	}

	// Revert the patch: content returns to the pre-patch snapshot.
	if _, err := tools.editRevert(ctx, call("workspace_edit_revert", map[string]any{"edit_id": editID}), nil); err != nil {
		t.Fatalf("revert: %v", err)
	}
	got, _ = tools.read(ctx, call("fs_read", map[string]any{"path": "f.txt"}), nil)
	if got != "one\ntwo" {
		t.Errorf("reverted content = %q", got)
	}
}

func TestRegisterInstallsTools(t *testing.T) {
	tools, _ := newFixture(t)
	reg := agent.NewRegistry(nil)
	tools.Register(reg)
	names := strings.Join(reg.Names(), ",")
	for _, want := range []string{"fs_read", "fs_write", "edit_patch", "workspace_edit_history", "workspace_edit_revert"} {
		if !strings.Contains(names, want) {
			t.Errorf("registry missing %s", want)
		}
	}
}
