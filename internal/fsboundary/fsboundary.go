// Package fsboundary implements component D: path validation against a
// root, described in spec.md §4.D. No single teacher file implements this
// exact check (see DESIGN.md); the lexical-clean-then-symlink-resolve idiom
// follows the path-safety pattern used throughout the corpus wherever a tool
// handler touches a caller-supplied path before opening it.
package fsboundary

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lincona/lincona/internal/config"
	"github.com/lincona/lincona/internal/lerrors"
)

// Boundary holds a root path and a mode, and is consulted by every tool that
// accepts a path. mode is mutated at runtime by the driver's /fsmode slash
// command (spec.md:138), so every access goes through mu.
type Boundary struct {
	root string

	mu   sync.Mutex
	mode config.FSMode
}

// New builds a Boundary rooted at root (which must already be an absolute,
// cleaned path) operating in mode.
func New(root string, mode config.FSMode) *Boundary {
	return &Boundary{root: filepath.Clean(root), mode: mode}
}

// Root returns the boundary's root path.
func (b *Boundary) Root() string { return b.root }

// Mode returns the boundary's current mode.
func (b *Boundary) Mode() config.FSMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// SetMode changes the boundary's mode in place, taking effect for every
// Resolve/Contains call made after it returns. Called by the driver's
// /fsmode handler so the running session's tools immediately honor the new
// mode instead of only updating the display-only SessionState field.
func (b *Boundary) SetMode(mode config.FSMode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = mode
}

// Resolve returns a canonical absolute path for input, or an
// *lerrors.Error of kind OutsideBoundary if restricted mode forbids it.
//
// Restricted mode: the resolved path, after following any existing
// symlinks, must equal or descend from the root. Unrestricted mode: any
// absolute path is allowed; relative paths resolve against the process
// working directory.
func (b *Boundary) Resolve(input string) (string, error) {
	if input == "" {
		return "", lerrors.New(lerrors.InvalidArguments, "path must not be empty")
	}

	mode := b.Mode()

	var abs string
	if filepath.IsAbs(input) {
		abs = filepath.Clean(input)
	} else {
		switch mode {
		case config.FSModeRestricted:
			abs = filepath.Clean(filepath.Join(b.root, input))
		default:
			wd, err := os.Getwd()
			if err != nil {
				return "", lerrors.Wrap(lerrors.FatalKind, err, "resolving working directory")
			}
			abs = filepath.Clean(filepath.Join(wd, input))
		}
	}

	if mode == config.FSModeUnrestricted {
		return abs, nil
	}

	if !withinRoot(abs, b.root) {
		return "", lerrors.New(lerrors.OutsideBoundary, "path %q escapes root %q", input, b.root)
	}

	resolved, err := resolveSymlinks(abs)
	if err != nil {
		return "", lerrors.Wrap(lerrors.FatalKind, err, "resolving symlinks for %q", input)
	}
	if !withinRoot(resolved, b.root) {
		return "", lerrors.New(lerrors.OutsideBoundary, "path %q resolves (via symlink) outside root %q", input, b.root)
	}
	return resolved, nil
}

// Contains reports whether path (already resolved) lies within the
// boundary's root; used by tests verifying spec.md §8's universal
// invariant that every tool-accepted path satisfies the boundary.
func (b *Boundary) Contains(path string) bool {
	if b.Mode() == config.FSModeUnrestricted {
		return true
	}
	return withinRoot(filepath.Clean(path), b.root)
}

func withinRoot(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// resolveSymlinks resolves symlinks in path's existing prefix, tolerating
// paths (or path suffixes) that do not exist yet — e.g. a write target that
// is about to be created. It resolves the longest existing ancestor and
// rejoins the remaining, not-yet-existing suffix.
func resolveSymlinks(path string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved, nil
	}

	dir, base := filepath.Split(path)
	dir = filepath.Clean(dir)
	if dir == path {
		return path, nil // reached the filesystem root without resolving
	}
	resolvedDir, err := resolveSymlinks(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}
