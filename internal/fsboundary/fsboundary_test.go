package fsboundary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lincona/lincona/internal/config"
	"github.com/lincona/lincona/internal/lerrors"
)

func TestResolveRestrictedAllowsDescendant(t *testing.T) {
	root := t.TempDir()
	b := New(root, config.FSModeRestricted)

	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	resolved, err := b.Resolve("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !b.Contains(resolved) {
		t.Fatalf("resolved path %q should be contained in root %q", resolved, root)
	}
}

func TestResolveRestrictedRejectsEscape(t *testing.T) {
	root := t.TempDir()
	b := New(root, config.FSModeRestricted)

	_, err := b.Resolve("/etc/passwd")
	if !lerrors.Is(err, lerrors.OutsideBoundary) {
		t.Fatalf("expected OutsideBoundary, got %v", err)
	}
}

func TestResolveRestrictedRejectsDotDotEscape(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	b := New(sub, config.FSModeRestricted)

	_, err := b.Resolve("../../etc/passwd")
	if !lerrors.Is(err, lerrors.OutsideBoundary) {
		t.Fatalf("expected OutsideBoundary, got %v", err)
	}
}

func TestResolveRestrictedRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	b := New(root, config.FSModeRestricted)

	_, err := b.Resolve("escape")
	if !lerrors.Is(err, lerrors.OutsideBoundary) {
		t.Fatalf("expected OutsideBoundary for symlink escape, got %v", err)
	}
}

func TestResolveUnrestrictedAllowsAnyAbsolutePath(t *testing.T) {
	b := New(t.TempDir(), config.FSModeUnrestricted)
	resolved, err := b.Resolve("/etc/hostname")
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "/etc/hostname" {
		t.Fatalf("expected unchanged absolute path, got %q", resolved)
	}
}

func TestResolveRejectsEmptyPath(t *testing.T) {
	b := New(t.TempDir(), config.FSModeRestricted)
	if _, err := b.Resolve(""); !lerrors.Is(err, lerrors.InvalidArguments) {
		t.Fatalf("expected InvalidArguments, got %v", err)
	}
}
