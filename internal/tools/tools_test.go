package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lincona/lincona/internal/config"
	"github.com/lincona/lincona/internal/fsboundary"
	"github.com/lincona/lincona/internal/ptyexec"
)

func newDeps(t *testing.T) (Deps, string) {
	t.Helper()
	root := t.TempDir()
	return Deps{Boundary: fsboundary.New(root, config.FSModeRestricted), PTY: ptyexec.New()}, root
}

func TestListDirBreadthFirst(t *testing.T) {
	deps, root := newDeps(t)
	os.MkdirAll(filepath.Join(root, "a", "b"), 0o755)
	os.WriteFile(filepath.Join(root, "top.txt"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(root, "a", "b", "leaf.txt"), []byte("x"), 0o644)

	tool := listDirTool(deps)
	res, err := tool.Handler(context.Background(), map[string]any{"path": ".", "depth": float64(5)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("unexpected failure: %+v", res)
	}
	if !strings.Contains(res.Content, "top.txt") || !strings.Contains(res.Content, "a/b/leaf.txt") {
		t.Fatalf("unexpected listing: %q", res.Content)
	}
}

func TestListDirRejectsEscape(t *testing.T) {
	deps, _ := newDeps(t)
	tool := listDirTool(deps)
	if _, err := tool.Handler(context.Background(), map[string]any{"path": "/etc"}, nil); err == nil {
		t.Fatal("expected boundary rejection")
	}
}

func TestReadFileSliceMode(t *testing.T) {
	deps, root := newDeps(t)
	os.WriteFile(filepath.Join(root, "f.txt"), []byte("l1\nl2\nl3\nl4\n"), 0o644)

	tool := readFileTool(deps)
	res, err := tool.Handler(context.Background(), map[string]any{"path": "f.txt", "offset": float64(1), "limit": float64(2)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "l2\nl3" {
		t.Fatalf("unexpected content: %q", res.Content)
	}
}

func TestReadFileIndentationMode(t *testing.T) {
	deps, root := newDeps(t)
	body := "func f() {\n    if true {\n        return\n    }\n}\nfunc g() {\n}\n"
	os.WriteFile(filepath.Join(root, "f.go"), []byte(body), 0o644)

	tool := readFileTool(deps)
	res, err := tool.Handler(context.Background(), map[string]any{
		"path": "f.go", "mode": "indentation", "offset": float64(0), "indent": float64(4),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(res.Content, "func g()") {
		t.Fatalf("indentation block should stop before next top-level decl: %q", res.Content)
	}
	if !strings.Contains(res.Content, "return") {
		t.Fatalf("expected block body included: %q", res.Content)
	}
}

func TestGrepFilesMatchesWithIncludeGlob(t *testing.T) {
	deps, root := newDeps(t)
	os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\nfunc needle() {}\n"), 0o644)
	os.WriteFile(filepath.Join(root, "b.txt"), []byte("needle\n"), 0o644)

	tool := grepFilesTool(deps)
	res, err := tool.Handler(context.Background(), map[string]any{
		"pattern": "needle",
		"path":    ".",
		"include": []any{"**/*.go"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Content, "a.go") {
		t.Fatalf("expected match in a.go: %q", res.Content)
	}
	if strings.Contains(res.Content, "b.txt") {
		t.Fatalf("include glob should have excluded b.txt: %q", res.Content)
	}
}

func TestGrepFilesRejectsBadPattern(t *testing.T) {
	deps, _ := newDeps(t)
	tool := grepFilesTool(deps)
	if _, err := tool.Handler(context.Background(), map[string]any{"pattern": "(", "path": "."}, nil); err == nil {
		t.Fatal("expected regex compile error")
	}
}

func TestApplyPatchFreeformAddsFile(t *testing.T) {
	deps, root := newDeps(t)
	body := "*** Begin Patch\n*** Add File: new.txt\n+hello\n+world\n*** End Patch\n"

	tool := applyPatchFreeformTool(deps)
	res, err := tool.Handler(context.Background(), map[string]any{"patch": body}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || !strings.Contains(res.Content, "created new.txt") {
		t.Fatalf("unexpected result: %+v", res)
	}
	got, err := os.ReadFile(filepath.Join(root, "new.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello\nworld" {
		t.Fatalf("unexpected file content: %q", got)
	}
}

func TestApplyPatchJSONUpdatesFile(t *testing.T) {
	deps, root := newDeps(t)
	os.WriteFile(filepath.Join(root, "f.txt"), []byte("one\ntwo\nthree\n"), 0o644)

	body := "--- a/f.txt\n+++ b/f.txt\n@@ -1,3 +1,3 @@\n one\n-two\n+TWO\n three\n"
	tool := applyPatchJSONTool(deps)
	res, err := tool.Handler(context.Background(), map[string]any{"patch": body}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || !strings.Contains(res.Content, "updated f.txt") {
		t.Fatalf("unexpected result: %+v", res)
	}
	got, _ := os.ReadFile(filepath.Join(root, "f.txt"))
	if string(got) != "one\nTWO\nthree\n" {
		t.Fatalf("unexpected file content: %q", got)
	}
}

func TestShellCapturesStdoutAndExitCode(t *testing.T) {
	deps, _ := newDeps(t)
	tool := shellTool(deps)
	res, err := tool.Handler(context.Background(), map[string]any{"command": "echo hi"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || !strings.Contains(res.Content, "hi") {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Content, "exit_code=0") {
		t.Fatalf("expected exit_code=0 marker: %q", res.Content)
	}
}

func TestShellReportsNonZeroExit(t *testing.T) {
	deps, _ := newDeps(t)
	tool := shellTool(deps)
	res, err := tool.Handler(context.Background(), map[string]any{"command": "exit 3"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Content, "exit_code=3") {
		t.Fatalf("expected exit_code=3 marker: %q", res.Content)
	}
}

func TestShellTimesOut(t *testing.T) {
	deps, _ := newDeps(t)
	tool := shellTool(deps)
	res, err := tool.Handler(context.Background(), map[string]any{
		"command":    "sleep 5",
		"timeout_ms": float64(50),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("expected timed-out command to be reported as unsuccessful")
	}
	if !strings.Contains(res.Content, "timed_out=true") {
		t.Fatalf("expected timed_out marker: %q", res.Content)
	}
}

func TestExecCommandAndWriteStdinRoundTrip(t *testing.T) {
	deps, _ := newDeps(t)
	execTool := execCommandTool(deps)
	res, err := execTool.Handler(context.Background(), map[string]any{
		"session_id": "s1",
		"cmd":        "/bin/cat",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("unexpected failure: %+v", res)
	}
	defer deps.PTY.CloseAll()

	writeTool := writeStdinTool(deps)
	res2, err := writeTool.Handler(context.Background(), map[string]any{
		"session_id": "s1",
		"chars":      "echoed\n",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res2.Content, "echoed") {
		t.Fatalf("expected echoed output, got %q", res2.Content)
	}
}

func TestWriteStdinUnknownSession(t *testing.T) {
	deps, _ := newDeps(t)
	writeTool := writeStdinTool(deps)
	if _, err := writeTool.Handler(context.Background(), map[string]any{
		"session_id": "nope",
		"chars":      "x",
	}, nil); err == nil {
		t.Fatal("expected error for unknown pty session")
	}
}
