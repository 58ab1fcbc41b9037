// Package outputlimit implements component E: byte/line truncation with a
// sentinel marker, described in spec.md §4.E. It is grounded on kilroy's
// internal/agent/tool_registry.go truncateChars/truncateLines helpers,
// adapted from kilroy's head/tail-split warning banner to spec.md's single
// sentinel line and line-cap-first-then-byte-cap ordering.
package outputlimit

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Defaults used by tools per spec.md §4.E.
const (
	DefaultMaxBytes = 8 * 1024
	DefaultMaxLines = 200
)

// Truncate enforces maxLines first, then maxBytes, appending exactly one
// sentinel line "[truncated N bytes / M lines]" whenever either cap bites.
// If nothing was truncated, it returns (text, false) unchanged.
func Truncate(text string, maxBytes, maxLines int) (string, bool) {
	original := text
	lines := splitKeepingCount(text)
	truncated := false

	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
		text = strings.Join(lines, "\n")
		truncated = true
	}

	if maxBytes > 0 && len(text) > maxBytes {
		text = cutAtUTF8Boundary(text, maxBytes)
		truncated = true
	}

	if !truncated {
		return original, false
	}

	droppedBytes := len(original) - len(text)
	droppedLines := countLines(original) - countLines(text)
	if droppedBytes < 0 {
		droppedBytes = 0
	}
	if droppedLines < 0 {
		droppedLines = 0
	}
	sentinel := fmt.Sprintf("[truncated %d bytes / %d lines]", droppedBytes, droppedLines)
	if text == "" {
		return sentinel, true
	}
	return text + "\n" + sentinel, true
}

func splitKeepingCount(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

// cutAtUTF8Boundary truncates s to at most maxBytes bytes, never splitting
// a multi-byte rune.
func cutAtUTF8Boundary(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
