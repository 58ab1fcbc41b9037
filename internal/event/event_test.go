package event

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppendRejectsMissingTimestampAndUnknownKind(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "s.jsonl"), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Append(Event{Kind: KindSystem}); err == nil {
		t.Fatal("expected error for missing timestamp")
	}
	if err := w.Append(Event{Timestamp: time.Now(), Kind: "bogus"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestAppendRejectsOutOfOrderTimestamps(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "s.jsonl"), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	now := time.Now().UTC()
	if err := w.Append(Event{Timestamp: now, Kind: KindSystem}); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(Event{Timestamp: now.Add(-time.Second), Kind: KindSystem}); err == nil {
		t.Fatal("expected error for out-of-order timestamp")
	}
}

func TestRoundTripAppendThenIterEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	w, err := Open(path, 0)
	if err != nil {
		t.Fatal(err)
	}

	want := []Event{
		{Timestamp: time.Now().UTC(), Kind: KindSystem, Payload: map[string]any{"msg": "start"}},
		{Timestamp: time.Now().UTC(), Kind: KindUserMessage, Payload: map[string]any{"text": "hello"}},
	}
	for _, ev := range want {
		if err := w.Append(ev); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	var got []Event
	if err := IterEvents(path, func(ev Event) error {
		got = append(got, ev)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Kind != want[i].Kind {
			t.Errorf("event %d: got kind %s, want %s", i, got[i].Kind, want[i].Kind)
		}
	}
}

func TestIterEventsReportsLineNumberOnMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	content := "{\"timestamp\":\"2026-01-01T00:00:00Z\",\"kind\":\"system\"}\nnot json\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	err := IterEvents(path, func(Event) error { return nil })
	if err == nil {
		t.Fatal("expected error for malformed line")
	}
	lerr, ok := err.(*LineError)
	if !ok {
		t.Fatalf("expected *LineError, got %T", err)
	}
	if lerr.Line != 2 {
		t.Fatalf("expected line 2, got %d", lerr.Line)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "s.jsonl"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "s.jsonl"), 0)
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	if err := w.Append(Event{Timestamp: time.Now(), Kind: KindSystem}); err == nil {
		t.Fatal("expected error appending after close")
	}
}
