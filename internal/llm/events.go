package llm

import "github.com/lincona/lincona/internal/lerrors"

// EventKind tags one parsed stream event, per spec.md §4.J's payload table.
type EventKind string

const (
	EventTextDelta     EventKind = "text_delta"
	EventMessageDone   EventKind = "message_done"
	EventToolCallStart EventKind = "tool_call_start"
	EventToolCallReady EventKind = "tool_call_ready"
	EventError         EventKind = "error"
	EventTurnDone      EventKind = "turn_done"
)

// Event is the single union type consume_stream hands the driver. Only the
// fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	Index int    // TextDelta / MessageDone
	Text  string // TextDelta

	CallID  string // ToolCallStart / ToolCallReady
	Name    string // ToolCallStart / ToolCallReady
	ArgsRaw string // ToolCallReady: the buffered argument JSON

	Err *lerrors.Error // Error
}
