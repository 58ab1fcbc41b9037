// Package patch implements component F: the two-envelope patch parser and
// atomic applier described in spec.md §4.F. No teacher file implements this
// exact format (kilroy's own apply_patch handler was not present in the
// retrieval pack — see DESIGN.md); the defensive, explicit-error-per-path
// style follows kilroy's internal/agent/tool_registry.go validation code,
// and the pre-image integrity check uses github.com/zeebo/blake3, the same
// hashing library kilroy's attractor/cxdb sink uses for content fingerprints.
package patch

// Operation is one of the three change kinds spec.md §3 names for a
// PatchChange.
type Operation string

const (
	OpAdd    Operation = "add"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// LineKind tags one line within an update Hunk.
type LineKind string

const (
	LineContext LineKind = "context"
	LineRemove  LineKind = "remove"
	LineAdd     LineKind = "add"
)

// HunkLine is one line of an update hunk, in original order.
type HunkLine struct {
	Kind LineKind
	Text string
}

// Hunk is the minimal set of context/removal/addition lines for one
// contiguous change within an updated file, in original order.
type Hunk struct {
	Lines []HunkLine
}

// FileOp is one operation parsed out of an envelope, with its path still
// exactly as written in the envelope (not yet boundary-resolved).
type FileOp struct {
	Op      Operation
	Path    string
	Content []byte // add: full new content
	Hunks   []Hunk // update: ordered hunks
}

// PatchChange is a verified, boundary-resolved change ready to apply, per
// spec.md §3.
type PatchChange struct {
	Op         Operation
	Path       string // resolved absolute path
	NewContent []byte // add/update: full new content after hunks applied
	preimage   [32]byte
	hadFile    bool
}

// Result reports the outcome of applying one PatchChange.
type Result struct {
	Path         string
	BytesWritten int
	Created      bool
	Deleted      bool
}
