package lerrors

import (
	"testing"
	"time"
)

func TestErrorFromHTTPStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{429, TransportRetryable},
		{401, TransportFatal},
		{500, TransportRetryable},
		{503, TransportRetryable},
		{404, TransportFatal},
	}
	for _, c := range cases {
		err := ErrorFromHTTPStatus(c.status, "boom", nil)
		if err.Kind != c.want {
			t.Errorf("status %d: got kind %s, want %s", c.status, err.Kind, c.want)
		}
	}
}

func TestRetryableOnlyForTransportRetryable(t *testing.T) {
	if !New(TransportRetryable, "x").Retryable() {
		t.Fatal("TransportRetryable should be retryable")
	}
	if New(TransportFatal, "x").Retryable() {
		t.Fatal("TransportFatal should not be retryable")
	}
	if New(Timeout, "x").Retryable() {
		t.Fatal("Timeout should not be retryable")
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	d := ParseRetryAfter("5", time.Now())
	if d == nil || *d != 5*time.Second {
		t.Fatalf("expected 5s, got %v", d)
	}
}

func TestParseRetryAfterEmpty(t *testing.T) {
	if d := ParseRetryAfter("", time.Now()); d != nil {
		t.Fatalf("expected nil for empty header, got %v", d)
	}
}

func TestIsHelper(t *testing.T) {
	err := New(OutsideBoundary, "escaped root")
	if !Is(err, OutsideBoundary) {
		t.Fatal("Is should match kind")
	}
	if Is(err, ToolNotFound) {
		t.Fatal("Is should not match a different kind")
	}
}
