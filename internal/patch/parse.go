package patch

import (
	"strings"

	"github.com/lincona/lincona/internal/lerrors"
)

// ParseFreeform parses the "*** Begin Patch" / "*** End Patch" envelope
// described in spec.md §4.F.
func ParseFreeform(body string) ([]FileOp, error) {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(firstNonEmpty(lines)) != "*** Begin Patch" {
		return nil, lerrors.New(lerrors.PatchVerification, "freeform patch must begin with '*** Begin Patch'")
	}

	var ops []FileOp
	i := 0
	// skip to and past the begin marker
	for i < len(lines) && strings.TrimSpace(lines[i]) != "*** Begin Patch" {
		i++
	}
	i++

	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "*** End Patch":
			return ops, nil
		case strings.HasPrefix(trimmed, "*** Add File: "):
			path := strings.TrimPrefix(trimmed, "*** Add File: ")
			i++
			var content []string
			for i < len(lines) && !isDirectiveLine(lines[i]) {
				content = append(content, strings.TrimPrefix(lines[i], "+"))
				i++
			}
			ops = append(ops, FileOp{Op: OpAdd, Path: path, Content: []byte(strings.Join(content, "\n"))})
		case strings.HasPrefix(trimmed, "*** Delete File: "):
			path := strings.TrimPrefix(trimmed, "*** Delete File: ")
			ops = append(ops, FileOp{Op: OpDelete, Path: path})
			i++
		case strings.HasPrefix(trimmed, "*** Update File: "):
			path := strings.TrimPrefix(trimmed, "*** Update File: ")
			i++
			hunks, next, err := parseFreeformHunks(lines, i)
			if err != nil {
				return nil, err
			}
			i = next
			ops = append(ops, FileOp{Op: OpUpdate, Path: path, Hunks: hunks})
		case trimmed == "":
			i++
		default:
			return nil, lerrors.New(lerrors.PatchVerification, "unexpected line in freeform patch: %q", line)
		}
	}
	return nil, lerrors.New(lerrors.PatchVerification, "freeform patch missing '*** End Patch'")
}

func isDirectiveLine(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "*** ")
}

func firstNonEmpty(lines []string) string {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return l
		}
	}
	return ""
}

func parseFreeformHunks(lines []string, i int) ([]Hunk, int, error) {
	var hunks []Hunk
	for i < len(lines) {
		t := strings.TrimSpace(lines[i])
		if isDirectiveLine(lines[i]) {
			return hunks, i, nil
		}
		if strings.HasPrefix(t, "@@") {
			i++
			var hl []HunkLine
			for i < len(lines) && !isDirectiveLine(lines[i]) && !strings.HasPrefix(strings.TrimSpace(lines[i]), "@@") {
				line := lines[i]
				switch {
				case strings.HasPrefix(line, "+"):
					hl = append(hl, HunkLine{Kind: LineAdd, Text: line[1:]})
				case strings.HasPrefix(line, "-"):
					hl = append(hl, HunkLine{Kind: LineRemove, Text: line[1:]})
				case strings.HasPrefix(line, " "):
					hl = append(hl, HunkLine{Kind: LineContext, Text: line[1:]})
				case line == "":
					hl = append(hl, HunkLine{Kind: LineContext, Text: ""})
				default:
					return nil, i, lerrors.New(lerrors.PatchVerification, "malformed hunk line: %q", line)
				}
				i++
			}
			hunks = append(hunks, Hunk{Lines: hl})
			continue
		}
		i++
	}
	return hunks, i, nil
}

// ParseUnifiedDiff parses the conventional unified-diff envelope described
// in spec.md §4.F.
func ParseUnifiedDiff(body string) ([]FileOp, error) {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	var ops []FileOp
	i := 0
	for i < len(lines) {
		line := lines[i]
		if !strings.HasPrefix(line, "--- ") {
			i++
			continue
		}
		oldHeader := strings.TrimPrefix(line, "--- ")
		if i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "+++ ") {
			return nil, lerrors.New(lerrors.PatchVerification, "unified diff missing +++ header after %q", line)
		}
		newHeader := strings.TrimPrefix(lines[i+1], "+++ ")
		i += 2

		isAdd := strings.TrimSpace(oldHeader) == "/dev/null"
		isDelete := strings.TrimSpace(newHeader) == "/dev/null"
		path := stripDiffPrefix(newHeader)
		if isDelete {
			path = stripDiffPrefix(oldHeader)
		}

		var hunks []Hunk
		var addContent []string
		for i < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i]), "@@") {
			i++
			var hl []HunkLine
			for i < len(lines) && !strings.HasPrefix(lines[i], "--- ") && !strings.HasPrefix(strings.TrimSpace(lines[i]), "@@") {
				line := lines[i]
				if line == "" {
					i++
					continue
				}
				switch line[0] {
				case '+':
					hl = append(hl, HunkLine{Kind: LineAdd, Text: line[1:]})
					addContent = append(addContent, line[1:])
				case '-':
					hl = append(hl, HunkLine{Kind: LineRemove, Text: line[1:]})
				case ' ':
					hl = append(hl, HunkLine{Kind: LineContext, Text: line[1:]})
				case '\\':
					// "\ No newline at end of file" marker: ignore.
				default:
					return nil, lerrors.New(lerrors.PatchVerification, "malformed unified diff line: %q", line)
				}
				i++
			}
			hunks = append(hunks, Hunk{Lines: hl})
		}

		switch {
		case isAdd:
			ops = append(ops, FileOp{Op: OpAdd, Path: path, Content: []byte(strings.Join(addContent, "\n"))})
		case isDelete:
			ops = append(ops, FileOp{Op: OpDelete, Path: path})
		default:
			ops = append(ops, FileOp{Op: OpUpdate, Path: path, Hunks: hunks})
		}
	}
	if len(ops) == 0 {
		return nil, lerrors.New(lerrors.PatchVerification, "unified diff contained no file headers")
	}
	return ops, nil
}

func stripDiffPrefix(header string) string {
	h := strings.TrimSpace(header)
	if idx := strings.IndexByte(h, '\t'); idx >= 0 {
		h = h[:idx]
	}
	for _, prefix := range []string{"a/", "b/"} {
		if strings.HasPrefix(h, prefix) {
			return h[len(prefix):]
		}
	}
	return h
}
