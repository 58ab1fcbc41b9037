package sessionlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenCreatesAndWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.log")
	l, err := Open(path, DefaultMaxBytes, "info")
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hello", "key", "value")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatalf("expected log to contain message, got %q", data)
	}
}

func TestUnknownLevelDowngradesWithWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.log")
	l, err := Open(path, DefaultMaxBytes, "nonsense")
	if err != nil {
		t.Fatal(err)
	}
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "downgraded to default") {
		t.Fatalf("expected a downgrade warning, got %q", data)
	}
}

func TestOpenTruncatesOversizedFileToTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.log")
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		sb.WriteString("0123456789\n")
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	const cap = 200
	l, err := Open(path, cap, "info")
	if err != nil {
		t.Fatal(err)
	}
	l.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() > cap {
		t.Fatalf("expected size <= %d after truncation, got %d", cap, info.Size())
	}

	data, _ := os.ReadFile(path)
	if !strings.HasSuffix(strings.TrimRight(string(data), "\n"), "0123456789") {
		t.Fatalf("expected tail content preserved, got %q", data)
	}
}
