// Package driver implements component K: the conversation driver described
// in spec.md §4.K. It is grounded on kilroy's internal/agent/session.go
// processOneInput (history-append, per-round model call, loop-detection
// fingerprinting, malformed-tool-call guardrail, context-window-usage
// warning) generalized from kilroy's single-shot Complete loop to the
// streaming llm.Client.Submit/event-consumption model spec.md §4.J
// requires, and from kilroy's optional parallel tool dispatch to spec.md
// §5's mandatory per-turn serialization (see DESIGN.md's "Open Question
// decisions").
package driver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lincona/lincona/internal/config"
	"github.com/lincona/lincona/internal/event"
	"github.com/lincona/lincona/internal/fsboundary"
	"github.com/lincona/lincona/internal/lerrors"
	"github.com/lincona/lincona/internal/llm"
	"github.com/lincona/lincona/internal/sessionlog"
	"github.com/lincona/lincona/internal/session"
	"github.com/lincona/lincona/internal/toolsvc"
)

// MaxToolHopsPerTurn is spec.md §4.K's N=8 bound on tool-call round trips
// within a single user turn.
const MaxToolHopsPerTurn = 8

// LoopDetectionWindow is how many consecutive identical tool-call
// fingerprints trigger a steering warning, mirroring kilroy's
// SessionConfig.LoopDetectionWindow default.
const LoopDetectionWindow = 10

// ContextWarningThreshold is the fraction of a model's context window at
// which the driver emits a context-warning event, per SPEC_FULL.md §4.N.
const ContextWarningThreshold = 0.8

// MalformedToolCallLimit mirrors kilroy's RepeatedMalformedToolCallLimit
// default: once the model repeats the same malformed tool call this many
// times running, the turn fails instead of burning the rest of the hop
// budget, per SPEC_FULL.md §4.N's turn-loop guardrail.
const MalformedToolCallLimit = 3

// QuitRequested is returned by HandleInput when the user issues /quit.
var QuitRequested = fmt.Errorf("driver: quit requested")

// Clock lets tests control timestamps; Now defaults to time.Now in
// production.
type Clock func() time.Time

// ApprovalPrompter asks the user (or a host-provided UI) to confirm an
// on-request tool call; see toolsvc.ApprovalCallback.
type ApprovalPrompter = toolsvc.ApprovalCallback

// Driver owns one SessionState and drives turns against a llm.Client and a
// toolsvc.Registry, persisting every step through an event.Writer, per
// spec.md §5's "SessionState is owned by the driver" rule.
type Driver struct {
	State    *session.SessionState
	Client   *llm.Client
	Tools    *toolsvc.Registry
	Writer   *event.Writer
	Log      *sessionlog.Logger
	Approve  ApprovalPrompter
	Boundary *fsboundary.Boundary // mode mutated in place by /fsmode; nil is tolerated for tests that don't exercise it

	AllowedModels     []string
	ContextWindowSize int    // 0 disables the context-usage warning
	SystemPrompt      string // prepended to every request; empty disables it
	Now               Clock

	lastToolFP        string
	toolRepeats       int
	lastMalformedFP   string
	malformedRepeats  int
	ctxWarnedThisTurn bool
}

// New builds a Driver with Now defaulting to time.Now.
func New(state *session.SessionState, client *llm.Client, tools *toolsvc.Registry, w *event.Writer, log *sessionlog.Logger, approve ApprovalPrompter) *Driver {
	return &Driver{State: state, Client: client, Tools: tools, Writer: w, Log: log, Approve: approve, Now: time.Now}
}

func (d *Driver) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Driver) persist(kind event.Kind, payload map[string]any) {
	if err := d.Writer.Append(event.Event{Timestamp: d.now(), Kind: kind, Payload: payload}); err != nil && d.Log != nil {
		d.Log.Error("driver: failed to persist event", "kind", string(kind), "error", err)
	}
}

// HandleInput processes one line of user input: a slash command, or a
// regular message that drives a full turn. It returns the text to show the
// user. QuitRequested signals the caller to shut down and exit 0 (or 130 if
// SIGINT-initiated, a distinction cmd/lincona makes, not this package).
func (d *Driver) HandleInput(ctx context.Context, input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "/") {
		return d.handleSlash(ctx, trimmed)
	}
	return d.runTurn(ctx, trimmed)
}

func (d *Driver) handleSlash(ctx context.Context, cmd string) (string, error) {
	fields := strings.Fields(cmd)
	name := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], " ")
	}
	d.persist(event.KindSlashCommand, map[string]any{"command": name, "argument": arg})

	switch name {
	case "/newsession":
		id, err := session.NewID(d.now())
		if err != nil {
			return "", lerrors.Wrap(lerrors.FatalKind, err, "minting new session id")
		}
		d.State = session.New(id, config.ResolvedConfig{
			DefaultModel:    d.State.Model,
			ReasoningEffort: d.State.ReasoningLevel,
			FSMode:          d.State.FSMode,
			ApprovalPolicy:  d.State.ApprovalPolicy,
		})
		return fmt.Sprintf("started new session %s", id), nil

	case "/model":
		if arg == "" {
			return "", lerrors.New(lerrors.InvalidArguments, "/model requires a model id")
		}
		if len(d.AllowedModels) > 0 && !contains(d.AllowedModels, arg) {
			return "", lerrors.New(lerrors.InvalidArguments, "unknown model %q", arg)
		}
		d.State.SetModel(arg)
		return fmt.Sprintf("model set to %s", arg), nil

	case "/reasoning":
		r := config.ReasoningEffort(arg)
		if !r.Valid() {
			return "", lerrors.New(lerrors.InvalidArguments, "invalid reasoning level %q", arg)
		}
		d.State.SetReasoningLevel(r)
		return fmt.Sprintf("reasoning effort set to %s", arg), nil

	case "/approvals":
		p := config.ApprovalPolicy(arg)
		if !p.Valid() {
			return "", lerrors.New(lerrors.InvalidArguments, "invalid approval policy %q", arg)
		}
		d.State.SetApprovalPolicy(p)
		return fmt.Sprintf("approval policy set to %s", arg), nil

	case "/fsmode":
		m := config.FSMode(arg)
		if !m.Valid() {
			return "", lerrors.New(lerrors.InvalidArguments, "invalid fs mode %q", arg)
		}
		d.State.SetFSMode(m)
		if d.Boundary != nil {
			d.Boundary.SetMode(m)
		}
		return fmt.Sprintf("fs mode set to %s", arg), nil

	case "/help":
		return d.helpText(), nil

	case "/quit":
		return "", QuitRequested

	default:
		return "", lerrors.New(lerrors.InvalidArguments, "unknown slash command %q", name)
	}
}

func (d *Driver) helpText() string {
	snap := d.State.Snapshot()
	b, err := yaml.Marshal(snap)
	summary := string(b)
	if err != nil {
		summary = fmt.Sprintf("(failed to render session summary: %v)", err)
	}
	return "commands: /newsession /model <id> /reasoning <level> /approvals <never|on-request|always> /fsmode <restricted|unrestricted> /help /quit\n\n" + summary
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// runTurn implements spec.md §4.K step 2: append the user message, then
// loop submitting requests (one per tool-hop "leg") until the model
// produces a final answer with no further tool calls, a fatal error
// surfaces, or the hop limit is reached.
func (d *Driver) runTurn(ctx context.Context, input string) (string, error) {
	d.persist(event.KindUserMessage, map[string]any{"text": input})
	d.State.AppendMessage(session.Message{Role: session.RoleUser, Content: input})
	d.ctxWarnedThisTurn = false

	for hop := 0; ; hop++ {
		req := d.buildRequest()
		d.maybeWarnContextUsage(req)

		assistantText, calls, termErr, _ := d.consumeOneLeg(ctx, req)
		if termErr != nil {
			return "", termErr
		}

		if len(calls) == 0 {
			d.State.AppendMessage(session.Message{Role: session.RoleAssistant, Content: assistantText})
			d.persist(event.KindAssistantMessage, map[string]any{"text": assistantText})
			return assistantText, nil
		}

		if hop >= MaxToolHopsPerTurn {
			msg := "tool-hop limit reached"
			d.persist(event.KindError, map[string]any{"error": msg})
			return "", lerrors.New(lerrors.FatalKind, "%s", msg)
		}

		if assistantText != "" {
			d.State.AppendMessage(session.Message{Role: session.RoleAssistant, Content: assistantText, ToolCalls: calls})
		} else {
			d.State.AppendMessage(session.Message{Role: session.RoleAssistant, ToolCalls: calls})
		}

		d.checkLoopDetection(calls)

		malformedThisHop := false
		for _, call := range calls {
			d.persist(event.KindToolCall, map[string]any{"call_id": call.ID, "name": call.Name, "args": call.Args})

			rawArgs, err := marshalArgs(call.Args)
			if err != nil {
				rawArgs = []byte("{}")
			}

			result, dispatchErr := d.Tools.Dispatch(ctx, d.State.ApprovalPolicy, d.Approve, call.Name, rawArgs, d.State)
			if dispatchErr != nil {
				d.persist(event.KindError, map[string]any{"error": dispatchErr.Error(), "call_id": call.ID})
				return "", dispatchErr
			}
			if !result.Success && strings.Contains(result.Content, "invalid tool arguments JSON") {
				malformedThisHop = true
			}
			if result.Truncated {
				d.persist(event.KindTruncationNotice, map[string]any{"call_id": call.ID})
			}
			d.persist(event.KindToolResult, map[string]any{"call_id": call.ID, "success": result.Success, "content": result.Content})
			d.State.AppendMessage(session.Message{Role: session.RoleTool, Content: result.Content, ToolCallID: call.ID})
		}

		if d.checkMalformedLoop(calls, malformedThisHop) {
			msg := "repeated malformed tool call arguments"
			d.persist(event.KindError, map[string]any{"error": msg})
			return "", lerrors.New(lerrors.FatalKind, "%s", msg)
		}
		// Tool results are now in history; loop back for the next leg per
		// spec.md §4.K step 2 ("feed back to the client ... in the same turn").
	}
}

// consumeOneLeg drives one llm.Client.Submit call to completion, returning
// the accumulated assistant text, any ToolCallReady calls seen (dispatched
// by the caller, never here, to keep dispatch serialized and in one place),
// a terminal error (ErrorEvent), and whether TurnDone was observed.
func (d *Driver) consumeOneLeg(ctx context.Context, req llm.Request) (string, []session.ToolCall, error, bool) {
	var text strings.Builder
	var calls []session.ToolCall
	turnDone := false

	for ev := range d.Client.Submit(ctx, req) {
		switch ev.Kind {
		case llm.EventTextDelta:
			text.WriteString(ev.Text)
			d.persist(event.KindAssistantDelta, map[string]any{"index": ev.Index, "delta": ev.Text})
		case llm.EventMessageDone:
			// nothing further to do; the accumulated buffer already holds the text
		case llm.EventToolCallStart:
			// buffering happens inside llm; nothing to persist until ToolCallReady
		case llm.EventToolCallReady:
			var args map[string]any
			if ev.ArgsRaw != "" {
				if err := unmarshalArgs([]byte(ev.ArgsRaw), &args); err != nil {
					args = map[string]any{}
				}
			}
			calls = append(calls, session.ToolCall{ID: ev.CallID, Name: ev.Name, Args: args})
		case llm.EventError:
			d.persist(event.KindError, map[string]any{"error": ev.Err.Error()})
			return text.String(), calls, ev.Err, turnDone
		case llm.EventTurnDone:
			turnDone = true
		}
	}
	return text.String(), calls, nil, turnDone
}

func (d *Driver) buildRequest() llm.Request {
	history := d.State.History()
	input := make([]llm.InputItem, 0, len(history)+1)
	if d.SystemPrompt != "" {
		input = append(input, llm.InputItem{Role: session.RoleSystem, Content: d.SystemPrompt})
	}
	for _, m := range history {
		input = append(input, llm.InputItem{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID})
	}
	tools := make([]llm.ToolSpec, 0)
	for _, s := range d.Tools.Specs() {
		tools = append(tools, llm.ToolSpec{Name: s.Name, Description: s.Description, InputSchema: s.InputSchema})
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	return llm.Request{
		Model:  d.State.Model,
		Input:  input,
		Tools:  tools,
		Effort: d.State.ReasoningLevel,
	}
}

// maybeWarnContextUsage emits a context-warning event once per turn, per
// SPEC_FULL.md §4.N, adapted from kilroy's Session.maybeWarnContextUsage
// (approximate-tokens-from-chars heuristic, 80% threshold).
func (d *Driver) maybeWarnContextUsage(req llm.Request) {
	if d.ContextWindowSize <= 0 || d.ctxWarnedThisTurn {
		return
	}
	chars := 0
	for _, it := range req.Input {
		chars += len(it.Content)
	}
	approxTokens := float64(chars) / 4.0
	threshold := float64(d.ContextWindowSize) * ContextWarningThreshold
	if approxTokens <= threshold {
		return
	}
	d.ctxWarnedThisTurn = true
	pct := int((approxTokens / float64(d.ContextWindowSize)) * 100)
	d.persist(event.KindContextWarning, map[string]any{
		"approx_tokens":       int(approxTokens),
		"context_window_size": d.ContextWindowSize,
		"percent":             pct,
	})
}

// checkLoopDetection mirrors kilroy's toolCallsFingerprint-based repeat
// counter: if the model emits the same tool-call set LoopDetectionWindow
// times running, inject a steering message.
func (d *Driver) checkLoopDetection(calls []session.ToolCall) {
	fp := toolCallsFingerprint(calls)
	if fp == "" {
		return
	}
	if fp == d.lastToolFP {
		d.toolRepeats++
	} else {
		d.lastToolFP = fp
		d.toolRepeats = 1
	}
	if d.toolRepeats >= LoopDetectionWindow {
		d.toolRepeats = 0
		msg := "Loop detection: you are repeating the same tool calls. Stop and change approach."
		d.State.AppendMessage(session.Message{Role: session.RoleUser, Content: msg})
		d.persist(event.KindSystem, map[string]any{"message": msg, "reason": "loop-detection"})
	}
}

// checkMalformedLoop mirrors kilroy's malformedToolCallsFingerprint guard:
// repeated malformed-argument tool calls fail the turn instead of burning
// the full hop budget, per SPEC_FULL.md §4.N's turn-loop guardrail. It
// returns true once MalformedToolCallLimit consecutive repeats are seen,
// telling the caller to fail the turn.
func (d *Driver) checkMalformedLoop(calls []session.ToolCall, malformedThisHop bool) bool {
	if !malformedThisHop {
		d.lastMalformedFP = ""
		d.malformedRepeats = 0
		return false
	}
	fp := toolCallsFingerprint(calls)
	if fp == d.lastMalformedFP {
		d.malformedRepeats++
	} else {
		d.lastMalformedFP = fp
		d.malformedRepeats = 1
	}
	return d.malformedRepeats >= MalformedToolCallLimit
}

func marshalArgs(args map[string]any) ([]byte, error) {
	return json.Marshal(args)
}

func unmarshalArgs(raw []byte, out *map[string]any) error {
	return json.Unmarshal(raw, out)
}

func toolCallsFingerprint(calls []session.ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	h := sha256.New()
	for _, c := range calls {
		h.Write([]byte(c.Name))
		h.Write([]byte{':'})
		h.Write([]byte(fmt.Sprint(c.Args)))
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
