package llm

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"math/big"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lincona/lincona/internal/lerrors"
)

const (
	maxQueue      = 16 // spec.md §4.J's consume_stream max_queue
	maxAttempts   = 4
	backoffBase   = 500 * time.Millisecond
	backoffFactor = 2.0
	backoffCap    = 30 * time.Second
	jitterFrac    = 0.25
)

// Client assembles requests and drives the retry/backoff loop around one
// Transport, per spec.md §4.J.
type Client struct {
	Transport        Transport
	DefaultVerbosity string
	Log              *slog.Logger
}

// NewClient builds a Client; log defaults to slog.Default() if nil.
func NewClient(t Transport, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{Transport: t, Log: log}
}

// Submit sends req and returns a channel of Events, closed once the stream
// terminates (TurnDone, an unretried ErrorEvent, or context cancellation).
// The channel has spec.md §4.J's max_queue=16 capacity: a slow consumer
// back-pressures the SSE reader goroutine via the blocking channel send.
func (c *Client) Submit(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, maxQueue)
	go c.run(ctx, req, out)
	return out
}

func (c *Client) run(ctx context.Context, req Request, out chan<- Event) {
	defer close(out)

	traceID := ulid.Make().String()

	body, err := json.Marshal(req.marshalBody(c.DefaultVerbosity))
	if err != nil {
		sendEvent(ctx, out, Event{Kind: EventError, Err: lerrors.Wrap(lerrors.FatalKind, err, "marshaling request body")})
		return
	}

	emittedAny := false
	emit := func(ev Event) bool {
		emittedAny = true
		return sendEvent(ctx, out, ev)
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, retryAfterHeader, stream, sendErr := c.Transport.Send(ctx, body)
		if sendErr != nil {
			if emittedAny || attempt == maxAttempts || ctx.Err() != nil {
				sendEvent(ctx, out, Event{Kind: EventError, Err: lerrors.Wrap(lerrors.TransportRetryable, sendErr, "transport send failed")})
				return
			}
			c.Log.Debug("llm: retrying after transport error", "trace_id", traceID, "attempt", attempt, "error", sendErr)
			c.sleepBackoff(ctx, attempt, nil)
			continue
		}

		if status < 200 || status >= 300 {
			raw, _ := io.ReadAll(stream)
			stream.Close()
			retryAfter := lerrors.ParseRetryAfter(retryAfterHeader, time.Now())
			classified := lerrors.ErrorFromHTTPStatus(status, string(raw), retryAfter)
			if !emittedAny && classified.Retryable() && attempt < maxAttempts {
				c.Log.Debug("llm: retrying after non-2xx", "trace_id", traceID, "status", status, "attempt", attempt)
				c.sleepBackoff(ctx, attempt, retryAfter)
				continue
			}
			sendEvent(ctx, out, Event{Kind: EventError, Err: classified})
			return
		}

		err := parseSSE(stream, emit)
		stream.Close()
		if err != nil {
			sendEvent(ctx, out, Event{Kind: EventError, Err: lerrors.Wrap(lerrors.ParseError, err, "parsing SSE stream")})
		}
		return
	}
}

// sendEvent delivers ev on out unless ctx is already done, respecting the
// channel's back-pressure (it blocks until the consumer has capacity).
func sendEvent(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int, retryAfter *time.Duration) {
	delay := backoffDelay(attempt)
	if retryAfter != nil && *retryAfter > 0 {
		delay = *retryAfter
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

// backoffDelay computes spec.md §4.J's exponential backoff with jitter:
// base 500ms, factor 2, cap 30s, ±25% jitter.
func backoffDelay(attempt int) time.Duration {
	raw := float64(backoffBase) * math.Pow(backoffFactor, float64(attempt-1))
	if raw > float64(backoffCap) {
		raw = float64(backoffCap)
	}
	jitterRange := raw * jitterFrac
	offset := 0.0 // midpoint fallback if random draw fails
	if n, err := rand.Int(rand.Reader, big.NewInt(int64(2*jitterRange)+1)); err == nil {
		offset = float64(n.Int64()) - jitterRange
	}
	d := time.Duration(raw + offset)
	if d < 0 {
		d = 0
	}
	if d > backoffCap {
		d = backoffCap
	}
	return d
}
