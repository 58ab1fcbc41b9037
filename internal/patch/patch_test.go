package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lincona/lincona/internal/config"
	"github.com/lincona/lincona/internal/fsboundary"
	"github.com/lincona/lincona/internal/lerrors"
)

func TestParseFreeformAddUpdateDelete(t *testing.T) {
	body := `*** Begin Patch
*** Add File: b.txt
+hi
*** Update File: a.txt
@@
-foo
+bar
*** Delete File: c.txt
*** End Patch`

	ops, err := ParseFreeform(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 ops, got %d", len(ops))
	}
	if ops[0].Op != OpAdd || ops[0].Path != "b.txt" || string(ops[0].Content) != "hi" {
		t.Errorf("unexpected add op: %+v", ops[0])
	}
	if ops[1].Op != OpUpdate || ops[1].Path != "a.txt" {
		t.Errorf("unexpected update op: %+v", ops[1])
	}
	if ops[2].Op != OpDelete || ops[2].Path != "c.txt" {
		t.Errorf("unexpected delete op: %+v", ops[2])
	}
}

func TestParseUnifiedDiffUpdate(t *testing.T) {
	body := `--- a/a.txt
+++ b/a.txt
@@ -1,1 +1,1 @@
-foo
+bar
`
	ops, err := ParseUnifiedDiff(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].Op != OpUpdate || ops[0].Path != "a.txt" {
		t.Fatalf("unexpected ops: %+v", ops)
	}
}

func newBoundary(t *testing.T) (*fsboundary.Boundary, string) {
	t.Helper()
	root := t.TempDir()
	return fsboundary.New(root, config.FSModeRestricted), root
}

func TestVerifyAndApplyUpdateAndAdd(t *testing.T) {
	b, root := newBoundary(t)
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("foo"), 0o644); err != nil {
		t.Fatal(err)
	}

	ops := []FileOp{
		{Op: OpUpdate, Path: "a.txt", Hunks: []Hunk{{Lines: []HunkLine{
			{Kind: LineRemove, Text: "foo"},
			{Kind: LineAdd, Text: "bar"},
		}}}},
		{Op: OpAdd, Path: "b.txt", Content: []byte("hi")},
	}

	changes, err := Verify(ops, b)
	if err != nil {
		t.Fatal(err)
	}
	results, err := Apply(changes)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	got, _ := os.ReadFile(filepath.Join(root, "a.txt"))
	if string(got) != "bar" {
		t.Errorf("expected a.txt to contain bar, got %q", got)
	}
	got, _ = os.ReadFile(filepath.Join(root, "b.txt"))
	if string(got) != "hi" {
		t.Errorf("expected b.txt to contain hi, got %q", got)
	}
}

func TestVerifyRejectsAddOverExisting(t *testing.T) {
	b, root := newBoundary(t)
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644)

	_, err := Verify([]FileOp{{Op: OpAdd, Path: "a.txt", Content: []byte("y")}}, b)
	if !lerrors.Is(err, lerrors.PatchVerification) {
		t.Fatalf("expected PatchVerification, got %v", err)
	}
}

func TestVerifyRejectsUpdateMissing(t *testing.T) {
	b, _ := newBoundary(t)
	_, err := Verify([]FileOp{{Op: OpUpdate, Path: "missing.txt"}}, b)
	if !lerrors.Is(err, lerrors.PatchVerification) {
		t.Fatalf("expected PatchVerification, got %v", err)
	}
}

func TestVerifyRejectsContextMismatch(t *testing.T) {
	b, root := newBoundary(t)
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("actual"), 0o644)

	_, err := Verify([]FileOp{{Op: OpUpdate, Path: "a.txt", Hunks: []Hunk{{Lines: []HunkLine{
		{Kind: LineRemove, Text: "expected-but-wrong"},
		{Kind: LineAdd, Text: "new"},
	}}}}}, b)
	if !lerrors.Is(err, lerrors.PatchVerification) {
		t.Fatalf("expected PatchVerification for context mismatch, got %v", err)
	}
}

// TestApplyAtomicityOnMidApplyFailure is end-to-end scenario 1 from
// spec.md §8: a patch that updates a.txt and adds b.txt must leave a.txt
// unchanged and b.txt absent if the add's rename fails.
func TestApplyAtomicityOnMidApplyFailure(t *testing.T) {
	b, root := newBoundary(t)
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("foo"), 0o644)

	ops := []FileOp{
		{Op: OpUpdate, Path: "a.txt", Hunks: []Hunk{{Lines: []HunkLine{
			{Kind: LineRemove, Text: "foo"},
			{Kind: LineAdd, Text: "bar"},
		}}}},
		{Op: OpAdd, Path: "b.txt", Content: []byte("hi")},
	}
	changes, err := Verify(ops, b)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a rename failure for b.txt by pre-creating a directory at its
	// target path: os.Rename onto an existing non-empty/incompatible path fails.
	if err := os.Mkdir(filepath.Join(root, "b.txt"), 0o755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "b.txt", "keepme")
	os.WriteFile(nested, []byte("x"), 0o644)

	_, err = Apply(changes)
	if !lerrors.Is(err, lerrors.PatchApplyFailed) {
		t.Fatalf("expected PatchApplyFailed, got %v", err)
	}

	got, _ := os.ReadFile(filepath.Join(root, "a.txt"))
	if string(got) != "foo" {
		t.Fatalf("expected a.txt to still contain foo after rollback, got %q", got)
	}
	if _, err := os.Stat(nested); err != nil {
		t.Fatalf("expected b.txt directory to be untouched, got %v", err)
	}
}

func TestApplyAbortsOnConcurrentModification(t *testing.T) {
	b, root := newBoundary(t)
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("foo"), 0o644)

	ops := []FileOp{{Op: OpUpdate, Path: "a.txt", Hunks: []Hunk{{Lines: []HunkLine{
		{Kind: LineRemove, Text: "foo"},
		{Kind: LineAdd, Text: "bar"},
	}}}}}
	changes, err := Verify(ops, b)
	if err != nil {
		t.Fatal(err)
	}

	// Mutate the file after verification but before apply.
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("changed-by-someone-else"), 0o644)

	_, err = Apply(changes)
	if !lerrors.Is(err, lerrors.PatchApplyFailed) {
		t.Fatalf("expected PatchApplyFailed for concurrent modification, got %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(root, "a.txt"))
	if string(got) != "changed-by-someone-else" {
		t.Fatalf("apply should not have touched the file, got %q", got)
	}
}
