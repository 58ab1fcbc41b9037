// Package tools implements component I: the seven tool handlers spec.md
// §4.I names (eight registrations, since apply_patch has two envelope
// variants). It is grounded on kilroy's registerCoreTools
// (internal/agent/session.go) for the registration-closure idiom and
// argument-coercion helpers; grep_files' include-glob filter uses
// github.com/bmatcuk/doublestar/v4, a teacher dependency whose exact call
// site was filtered out of the retrieval pack (see DESIGN.md).
package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/lincona/lincona/internal/fsboundary"
	"github.com/lincona/lincona/internal/lerrors"
	"github.com/lincona/lincona/internal/outputlimit"
	"github.com/lincona/lincona/internal/patch"
	"github.com/lincona/lincona/internal/ptyexec"
	"github.com/lincona/lincona/internal/session"
	"github.com/lincona/lincona/internal/toolsvc"
)

// DefaultShellTimeoutMS is spec.md §4.I's default shell timeout.
const DefaultShellTimeoutMS = 60_000

// Deps are the shared collaborators every tool handler is invoked with;
// tools never hold global state of their own (spec.md §5's "tools receive
// references to the boundary and PTY manager only").
type Deps struct {
	Boundary *fsboundary.Boundary
	PTY      *ptyexec.Manager
}

// RegisterAll registers every tool from spec.md §4.I into reg.
func RegisterAll(reg *toolsvc.Registry, deps Deps) error {
	for _, r := range []toolsvc.Registration{
		listDirTool(deps),
		readFileTool(deps),
		grepFilesTool(deps),
		applyPatchJSONTool(deps),
		applyPatchFreeformTool(deps),
		shellTool(deps),
		execCommandTool(deps),
		writeStdinTool(deps),
	} {
		if err := reg.Register(r); err != nil {
			return err
		}
	}
	return nil
}

func intArg(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

func stringArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}

// --- list_dir ---

func listDirTool(deps Deps) toolsvc.Registration {
	return toolsvc.Registration{
		Name:        "list_dir",
		Description: "Breadth-first directory listing rooted at path, up to depth, paginated by offset/limit.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"path"},
			"properties": map[string]any{
				"path":   map[string]any{"type": "string"},
				"depth":  map[string]any{"type": "integer", "minimum": 0},
				"offset": map[string]any{"type": "integer", "minimum": 0},
				"limit":  map[string]any{"type": "integer", "minimum": 1},
			},
		},
		Handler: func(ctx context.Context, args map[string]any, st *session.SessionState) (session.ToolResult, error) {
			root, err := deps.Boundary.Resolve(stringArg(args, "path", ""))
			if err != nil {
				return session.ToolResult{}, err
			}
			depth := intArg(args, "depth", 0)
			offset := intArg(args, "offset", 0)
			limit := intArg(args, "limit", 1000)

			entries, err := breadthFirstList(root, depth)
			if err != nil {
				return session.ToolResult{}, lerrors.Wrap(lerrors.FatalKind, err, "listing %q", root)
			}
			if offset > len(entries) {
				offset = len(entries)
			}
			end := offset + limit
			if end > len(entries) {
				end = len(entries)
			}
			return session.ToolResult{Success: true, Content: strings.Join(entries[offset:end], "\n")}, nil
		},
	}
}

func breadthFirstList(root string, depth int) ([]string, error) {
	type queued struct {
		path string
		d    int
	}
	var out []string
	queue := []queued{{root, 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		entries, err := os.ReadDir(cur.path)
		if err != nil {
			return nil, err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			rel, _ := filepath.Rel(root, filepath.Join(cur.path, e.Name()))
			if e.IsDir() {
				out = append(out, rel+"/")
				if cur.d < depth {
					queue = append(queue, queued{filepath.Join(cur.path, e.Name()), cur.d + 1})
				}
			} else {
				out = append(out, rel)
			}
		}
	}
	return out, nil
}

// --- read_file ---

const maxLineDisplayChars = 500

func readFileTool(deps Deps) toolsvc.Registration {
	return toolsvc.Registration{
		Name:        "read_file",
		Description: "Reads a slice of lines, or an indentation-delimited block, from a file.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"path"},
			"properties": map[string]any{
				"path":   map[string]any{"type": "string"},
				"offset": map[string]any{"type": "integer", "minimum": 0},
				"limit":  map[string]any{"type": "integer", "minimum": 1},
				"mode":   map[string]any{"type": "string", "enum": []any{"slice", "indentation"}},
				"indent": map[string]any{"type": "integer", "minimum": 0},
			},
		},
		Handler: func(ctx context.Context, args map[string]any, st *session.SessionState) (session.ToolResult, error) {
			path, err := deps.Boundary.Resolve(stringArg(args, "path", ""))
			if err != nil {
				return session.ToolResult{}, err
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return session.ToolResult{}, lerrors.Wrap(lerrors.FatalKind, err, "reading %q", path)
			}
			lines := strings.Split(string(raw), "\n")
			for i, l := range lines {
				if len(l) > maxLineDisplayChars {
					lines[i] = cutUTF8(l, maxLineDisplayChars) + "…"
				}
			}

			offset := intArg(args, "offset", 0)
			limit := intArg(args, "limit", 200)
			mode := stringArg(args, "mode", "slice")

			var selected []string
			switch mode {
			case "indentation":
				anchor := intArg(args, "indent", 0)
				for i := offset; i < len(lines); i++ {
					if i > offset && indentOf(lines[i]) < anchor && strings.TrimSpace(lines[i]) != "" {
						break
					}
					selected = append(selected, lines[i])
				}
			default:
				end := offset + limit
				if end > len(lines) {
					end = len(lines)
				}
				if offset < len(lines) {
					selected = lines[offset:end]
				}
			}
			content, truncated := outputlimit.Truncate(strings.Join(selected, "\n"), outputlimit.DefaultMaxBytes, outputlimit.DefaultMaxLines)
			return session.ToolResult{Success: true, Content: content, Truncated: truncated}, nil
		},
	}
}

func cutUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func indentOf(line string) int {
	n := 0
	for _, r := range line {
		if r == ' ' {
			n++
		} else if r == '\t' {
			n += 8
		} else {
			break
		}
	}
	return n
}

// --- grep_files ---

func grepFilesTool(deps Deps) toolsvc.Registration {
	return toolsvc.Registration{
		Name:        "grep_files",
		Description: "Recursive regex search rooted at path, filtered by include globs.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"pattern", "path"},
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string"},
				"path":    map[string]any{"type": "string"},
				"include": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"limit":   map[string]any{"type": "integer", "minimum": 1},
			},
		},
		Handler: func(ctx context.Context, args map[string]any, st *session.SessionState) (session.ToolResult, error) {
			root, err := deps.Boundary.Resolve(stringArg(args, "path", ""))
			if err != nil {
				return session.ToolResult{}, err
			}
			re, err := regexp.Compile(stringArg(args, "pattern", ""))
			if err != nil {
				return session.ToolResult{}, lerrors.New(lerrors.InvalidArguments, "pattern is not a valid regex: %v", err)
			}
			limit := intArg(args, "limit", 100)

			var include []string
			if raw, ok := args["include"].([]any); ok {
				for _, v := range raw {
					if s, ok := v.(string); ok {
						include = append(include, s)
					}
				}
			}
			if len(include) == 0 {
				include = []string{"**"}
			}

			var sb strings.Builder
			hits := 0
			err = filepath.Walk(root, func(p string, info os.FileInfo, walkErr error) error {
				if walkErr != nil || info.IsDir() || hits >= limit {
					return nil
				}
				rel, _ := filepath.Rel(root, p)
				if !matchesAnyGlob(include, rel) {
					return nil
				}
				if !looksTextual(p) {
					return nil
				}
				f, err := os.Open(p)
				if err != nil {
					return nil
				}
				defer f.Close()

				lineNum := 0
				sc := bufio.NewScanner(f)
				for sc.Scan() && hits < limit {
					lineNum++
					line := sc.Text()
					if re.MatchString(line) {
						fmt.Fprintf(&sb, "%s:%d:%s\n", rel, lineNum, line)
						hits++
					}
				}
				return nil
			})
			if err != nil {
				return session.ToolResult{}, lerrors.Wrap(lerrors.FatalKind, err, "walking %q", root)
			}
			content, truncated := outputlimit.Truncate(sb.String(), outputlimit.DefaultMaxBytes, outputlimit.DefaultMaxLines)
			return session.ToolResult{Success: true, Content: content, Truncated: truncated}, nil
		},
	}
}

func matchesAnyGlob(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}

func looksTextual(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	return utf8.Valid(buf[:n])
}

// --- apply_patch_json / apply_patch_freeform ---

func applyPatchJSONTool(deps Deps) toolsvc.Registration {
	return applyPatchTool("apply_patch_json", "Applies a unified-diff patch atomically.", patch.ParseUnifiedDiff, deps)
}

func applyPatchFreeformTool(deps Deps) toolsvc.Registration {
	return applyPatchTool("apply_patch_freeform", "Applies a *** Begin Patch freeform-envelope patch atomically.", patch.ParseFreeform, deps)
}

func applyPatchTool(name, desc string, parse func(string) ([]patch.FileOp, error), deps Deps) toolsvc.Registration {
	return toolsvc.Registration{
		Name:        name,
		Description: desc,
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"patch"},
			"properties": map[string]any{
				"patch": map[string]any{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any, st *session.SessionState) (session.ToolResult, error) {
			ops, err := parse(stringArg(args, "patch", ""))
			if err != nil {
				return session.ToolResult{}, err
			}
			changes, err := patch.Verify(ops, deps.Boundary)
			if err != nil {
				return session.ToolResult{}, err
			}
			results, err := patch.Apply(changes)
			if err != nil {
				return session.ToolResult{}, err
			}
			var sb strings.Builder
			for _, r := range results {
				shown := r.Path
				if rel, err := filepath.Rel(deps.Boundary.Root(), r.Path); err == nil && rel != ".." && !strings.HasPrefix(rel, "../") {
					shown = rel
				}
				switch {
				case r.Deleted:
					fmt.Fprintf(&sb, "deleted %s\n", shown)
				case r.Created:
					fmt.Fprintf(&sb, "created %s (%d bytes)\n", shown, r.BytesWritten)
				default:
					fmt.Fprintf(&sb, "updated %s (%d bytes)\n", shown, r.BytesWritten)
				}
			}
			return session.ToolResult{Success: true, Content: sb.String()}, nil
		},
	}
}

// --- shell ---

func shellTool(deps Deps) toolsvc.Registration {
	return toolsvc.Registration{
		Name:             "shell",
		Description:      "Runs a one-shot command via /bin/sh -c, collecting stdout/stderr.",
		RequiresApproval: true,
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"command"},
			"properties": map[string]any{
				"command":    map[string]any{"type": "string"},
				"workdir":    map[string]any{"type": []any{"string", "null"}},
				"timeout_ms": map[string]any{"type": "integer", "minimum": 1},
			},
		},
		Handler: func(ctx context.Context, args map[string]any, st *session.SessionState) (session.ToolResult, error) {
			workdir := stringArg(args, "workdir", ".")
			resolvedDir, err := deps.Boundary.Resolve(workdir)
			if err != nil {
				return session.ToolResult{}, err
			}
			timeoutMS := intArg(args, "timeout_ms", DefaultShellTimeoutMS)

			cctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
			defer cancel()

			cmd := exec.CommandContext(cctx, "/bin/sh", "-c", stringArg(args, "command", ""))
			cmd.Dir = resolvedDir
			var stdout, stderr strings.Builder
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			runErr := cmd.Run()
			timedOut := cctx.Err() == context.DeadlineExceeded
			exitCode := 0
			if exitErr, ok := runErr.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else if runErr != nil && !timedOut {
				exitCode = -1
			}

			outText, outTrunc := outputlimit.Truncate(stdout.String(), outputlimit.DefaultMaxBytes, outputlimit.DefaultMaxLines)
			errText, errTrunc := outputlimit.Truncate(stderr.String(), outputlimit.DefaultMaxBytes, outputlimit.DefaultMaxLines)

			var sb strings.Builder
			sb.WriteString(outText)
			if errText != "" {
				sb.WriteString("\n--- stderr ---\n")
				sb.WriteString(errText)
			}
			if timedOut {
				sb.WriteString("\n[error: command timed out]")
			}
			fmt.Fprintf(&sb, "\n[exit_code=%d timed_out=%v]", exitCode, timedOut)

			return session.ToolResult{Success: !timedOut, Content: sb.String(), Truncated: outTrunc || errTrunc}, nil
		},
	}
}

// --- exec_command / write_stdin (PTY) ---

func execCommandTool(deps Deps) toolsvc.Registration {
	return toolsvc.Registration{
		Name:             "exec_command",
		Description:      "Opens a long-lived pseudoterminal session running cmd.",
		RequiresApproval: true,
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"session_id", "cmd"},
			"properties": map[string]any{
				"session_id": map[string]any{"type": "string"},
				"cmd":        map[string]any{"type": "string"},
				"workdir":    map[string]any{"type": []any{"string", "null"}},
			},
		},
		Handler: func(ctx context.Context, args map[string]any, st *session.SessionState) (session.ToolResult, error) {
			id := stringArg(args, "session_id", "")
			workdir := stringArg(args, "workdir", ".")
			out, err := deps.PTY.Open(id, stringArg(args, "cmd", ""), workdir, deps.Boundary)
			if err != nil {
				return session.ToolResult{}, err
			}
			if st != nil {
				st.MarkPTYOpen(id)
			}
			return session.ToolResult{Success: true, Content: out}, nil
		},
	}
}

func writeStdinTool(deps Deps) toolsvc.Registration {
	return toolsvc.Registration{
		Name:             "write_stdin",
		Description:      "Writes characters to an open pseudoterminal session and returns new output.",
		RequiresApproval: true,
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"session_id", "chars"},
			"properties": map[string]any{
				"session_id": map[string]any{"type": "string"},
				"chars":      map[string]any{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any, st *session.SessionState) (session.ToolResult, error) {
			id := stringArg(args, "session_id", "")
			out, err := deps.PTY.Write(id, stringArg(args, "chars", ""), 0, 0)
			if err != nil {
				if lerrors.Is(err, lerrors.PtyUnknownSession) && st != nil {
					st.MarkPTYClosed(id)
				}
				return session.ToolResult{}, err
			}
			return session.ToolResult{Success: true, Content: out}, nil
		},
	}
}
