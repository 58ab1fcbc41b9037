package llm

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/lincona/lincona/internal/lerrors"
)

// maxArgBufferBytes is spec.md §4.J's per-call-id tool-argument buffer cap.
const maxArgBufferBytes = 1 << 20

// rawChunk is the subset of payload shapes every spec.md §4.J payload type
// can populate; unused fields are simply absent for a given "type".
type rawChunk struct {
	Type string `json:"type"`

	Index int    `json:"index"`
	Text  string `json:"text"`

	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Delta  string `json:"delta"`

	Message    string `json:"message"`
	Kind       string `json:"kind"`
	RetryAfter string `json:"retry_after"`
}

// parseSSE reads body line-by-line per spec.md §4.J's SSE contract ("data: "
// prefix, blank-line event delimiter, "data: [DONE]" termination) and emits
// one Event per line to emit. It is a pure function of its input bytes
// (spec.md §8's "parser purity" invariant): the only state it carries is the
// per-call-id argument buffer, which is local to one call and never leaks
// across streams.
func parseSSE(body io.Reader, emit func(Event) bool) error {
	argBufs := make(map[string]*strings.Builder)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			return nil
		}

		var chunk rawChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			ok := emit(Event{Kind: EventError, Err: lerrors.Wrap(lerrors.ParseError, err, "malformed SSE payload")})
			if !ok {
				return nil
			}
			continue
		}

		if !translateChunk(chunk, argBufs, emit) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		emit(Event{Kind: EventError, Err: lerrors.Wrap(lerrors.TransportRetryable, err, "reading SSE stream")})
	}
	return nil
}

// translateChunk converts one decoded chunk into zero or more Events,
// returning false if emit asked to stop (queue closed / caller done).
func translateChunk(c rawChunk, argBufs map[string]*strings.Builder, emit func(Event) bool) bool {
	switch c.Type {
	case "response.output_text.delta":
		return emit(Event{Kind: EventTextDelta, Index: c.Index, Text: c.Text})

	case "response.output_text.done":
		return emit(Event{Kind: EventMessageDone, Index: c.Index})

	case "response.tool_call.created":
		argBufs[c.CallID] = &strings.Builder{}
		return emit(Event{Kind: EventToolCallStart, CallID: c.CallID, Name: c.Name})

	case "response.tool_call.arguments.delta":
		buf, ok := argBufs[c.CallID]
		if !ok {
			buf = &strings.Builder{}
			argBufs[c.CallID] = buf
		}
		if buf.Len()+len(c.Delta) > maxArgBufferBytes {
			return emit(Event{Kind: EventError, Err: lerrors.New(lerrors.ParseError,
				"tool call %q argument buffer exceeded %d bytes", c.CallID, maxArgBufferBytes)})
		}
		buf.WriteString(c.Delta)
		return true

	case "response.tool_call.done":
		buf := argBufs[c.CallID]
		argsRaw := ""
		if buf != nil {
			argsRaw = buf.String()
		}
		delete(argBufs, c.CallID)
		if argsRaw != "" && !json.Valid([]byte(argsRaw)) {
			return emit(Event{Kind: EventError, Err: lerrors.New(lerrors.ParseError,
				"tool call %q produced invalid argument JSON", c.CallID)})
		}
		return emit(Event{Kind: EventToolCallReady, CallID: c.CallID, Name: c.Name, ArgsRaw: argsRaw})

	case "response.error":
		return emit(Event{Kind: EventError, Err: lerrors.New(lerrors.TransportFatal, "%s", c.Message)})

	case "response.completed":
		return emit(Event{Kind: EventTurnDone})

	default:
		return true
	}
}
