package patch

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/lincona/lincona/internal/fsboundary"
	"github.com/lincona/lincona/internal/lerrors"
	"github.com/zeebo/blake3"
)

// Verify resolves every op's target path through boundary and checks the
// preconditions spec.md §4.F names: add targets must not exist, update and
// delete targets must exist, and update hunks must match the current file
// byte-for-byte at their specified context (no fuzz). It returns the
// model-visible error identifying the first failing path and reason.
func Verify(ops []FileOp, boundary *fsboundary.Boundary) ([]PatchChange, error) {
	changes := make([]PatchChange, 0, len(ops))
	for _, op := range ops {
		resolved, err := boundary.Resolve(op.Path)
		if err != nil {
			return nil, err
		}

		_, statErr := os.Stat(resolved)
		exists := statErr == nil

		switch op.Op {
		case OpAdd:
			if exists {
				return nil, lerrors.New(lerrors.PatchVerification, "add target %q already exists", op.Path)
			}
			changes = append(changes, PatchChange{Op: OpAdd, Path: resolved, NewContent: op.Content, hadFile: false})

		case OpDelete:
			if !exists {
				return nil, lerrors.New(lerrors.PatchVerification, "delete target %q does not exist", op.Path)
			}
			cur, err := os.ReadFile(resolved)
			if err != nil {
				return nil, lerrors.Wrap(lerrors.PatchVerification, err, "reading delete target %q", op.Path)
			}
			changes = append(changes, PatchChange{Op: OpDelete, Path: resolved, hadFile: true, preimage: hashOf(cur)})

		case OpUpdate:
			if !exists {
				return nil, lerrors.New(lerrors.PatchVerification, "update target %q does not exist", op.Path)
			}
			cur, err := os.ReadFile(resolved)
			if err != nil {
				return nil, lerrors.Wrap(lerrors.PatchVerification, err, "reading update target %q", op.Path)
			}
			newContent, err := applyHunks(cur, op.Hunks)
			if err != nil {
				return nil, lerrors.Wrap(lerrors.PatchVerification, err, "applying hunks to %q", op.Path)
			}
			changes = append(changes, PatchChange{Op: OpUpdate, Path: resolved, NewContent: newContent, hadFile: true, preimage: hashOf(cur)})

		default:
			return nil, lerrors.New(lerrors.PatchVerification, "unknown operation %q for %q", op.Op, op.Path)
		}
	}
	return changes, nil
}

// applyHunks applies hunks, in order, against current, matching each hunk's
// context+removal lines byte-for-byte starting the search no earlier than
// the end of the previous hunk's match.
func applyHunks(current []byte, hunks []Hunk) ([]byte, error) {
	lines := strings.Split(string(current), "\n")
	var result []string
	cursor := 0

	for _, h := range hunks {
		var old []string
		for _, hl := range h.Lines {
			if hl.Kind != LineAdd {
				old = append(old, hl.Text)
			}
		}
		idx := indexOfSubsequence(lines, old, cursor)
		if idx == -1 {
			return nil, fmt.Errorf("no byte-for-byte match for hunk context at or after line %d", cursor+1)
		}

		result = append(result, lines[cursor:idx]...)
		pos := idx
		for _, hl := range h.Lines {
			switch hl.Kind {
			case LineContext, LineRemove:
				if pos >= len(lines) || lines[pos] != hl.Text {
					return nil, fmt.Errorf("context mismatch at line %d", pos+1)
				}
				if hl.Kind == LineContext {
					result = append(result, lines[pos])
				}
				pos++
			case LineAdd:
				result = append(result, hl.Text)
			}
		}
		cursor = pos
	}
	result = append(result, lines[cursor:]...)
	return []byte(strings.Join(result, "\n")), nil
}

func indexOfSubsequence(lines, needle []string, from int) int {
	if len(needle) == 0 {
		return from
	}
	for i := from; i+len(needle) <= len(lines); i++ {
		match := true
		for j, n := range needle {
			if lines[i+j] != n {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

type rollbackStep struct {
	path    string
	hadFile bool
	prior   []byte
}

// Apply commits a verified change set atomically: either every change lands
// on disk, or none does, per spec.md §4.F / §8. Tempfiles are written for
// every add/update first; only once all succeed are they renamed over their
// targets (and deletions unlinked). Each target's pre-image is re-hashed
// immediately before committing to detect concurrent modification since
// Verify ran; a mismatch aborts with no renames performed.
func Apply(changes []PatchChange) ([]Result, error) {
	tempFiles := make(map[int]string, len(changes))
	cleanupTemps := func() {
		for _, tmp := range tempFiles {
			os.Remove(tmp)
		}
	}

	for i, ch := range changes {
		if ch.Op == OpAdd || ch.Op == OpUpdate {
			tmp, err := writeTempSibling(ch.Path, ch.NewContent)
			if err != nil {
				cleanupTemps()
				return nil, lerrors.Wrap(lerrors.PatchApplyFailed, err, "writing temporary file for %q", ch.Path)
			}
			tempFiles[i] = tmp
		}
	}

	for _, ch := range changes {
		if !ch.hadFile {
			continue
		}
		cur, err := os.ReadFile(ch.Path)
		if err != nil {
			cleanupTemps()
			return nil, lerrors.Wrap(lerrors.PatchApplyFailed, err, "re-reading %q before commit", ch.Path)
		}
		if hashOf(cur) != ch.preimage {
			cleanupTemps()
			return nil, lerrors.New(lerrors.PatchApplyFailed, "%q changed on disk since verification; aborting", ch.Path)
		}
	}

	var rollbacks []rollbackStep
	results := make([]Result, len(changes))
	undo := func() {
		for i := len(rollbacks) - 1; i >= 0; i-- {
			step := rollbacks[i]
			if step.hadFile {
				os.WriteFile(step.path, step.prior, 0o644)
			} else {
				os.Remove(step.path)
			}
		}
	}

	for i, ch := range changes {
		switch ch.Op {
		case OpAdd, OpUpdate:
			var prior []byte
			if ch.hadFile {
				prior, _ = os.ReadFile(ch.Path)
			}
			if err := os.Rename(tempFiles[i], ch.Path); err != nil {
				undo()
				cleanupTemps()
				return nil, lerrors.Wrap(lerrors.PatchApplyFailed, err, "renaming into place for %q", ch.Path)
			}
			rollbacks = append(rollbacks, rollbackStep{path: ch.Path, hadFile: ch.hadFile, prior: prior})
			results[i] = Result{Path: ch.Path, BytesWritten: len(ch.NewContent), Created: !ch.hadFile}

		case OpDelete:
			prior, _ := os.ReadFile(ch.Path)
			if err := os.Remove(ch.Path); err != nil {
				undo()
				cleanupTemps()
				return nil, lerrors.Wrap(lerrors.PatchApplyFailed, err, "deleting %q", ch.Path)
			}
			rollbacks = append(rollbacks, rollbackStep{path: ch.Path, hadFile: true, prior: prior})
			results[i] = Result{Path: ch.Path, Deleted: true}
		}
	}

	cleanupTemps() // no-ops for entries already renamed away; harmless otherwise
	return results, nil
}

// hashOf computes a BLAKE3-256 digest of data, using the same
// New()/Write()/Sum(nil) hash.Hash-style call sequence as kilroy's
// attractor/engine/cxdb_sink.go artifact hashing.
func hashOf(data []byte) [32]byte {
	h := blake3.New()
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func writeTempSibling(target string, content []byte) (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	tmp := fmt.Sprintf("%s.lincona-tmp-%s", target, hex.EncodeToString(buf[:]))
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return "", err
	}
	return tmp, nil
}
