// Package llm implements component J: the streaming model client described
// in spec.md §4.J. It replaces kilroy's multi-provider internal/llm package
// (Client/ProviderAdapter/Complete+Stream dispatch across
// anthropic/google/openai/openaicompat) with a single Responses-style
// transport, since spec.md names exactly one wire format rather than a
// provider-abstraction layer. The SSE line parser is grounded on the
// other_examples antwort-dev-antwort reference (pkg/provider/openaicompat/
// stream.go: bufio.Scanner line loop, "data: "/"[DONE]" handling,
// per-call-id argument-buffer accumulation across chunks); error
// classification and Retry-After parsing reuse internal/lerrors, itself grounded on this
// same package's deleted errors.go (httpErrorBase/ErrorFromHTTPStatus).
package llm

import (
	"github.com/lincona/lincona/internal/config"
	"github.com/lincona/lincona/internal/session"
)

// Request is one Responses-style call, assembled by the driver from
// SessionState history plus the tool registry's specs (spec.md §4.J).
type Request struct {
	Model     string
	Input     []InputItem
	Tools     []ToolSpec
	Effort    config.ReasoningEffort
	Verbosity string // optional; empty means "use client default"
}

// InputItem is one entry of the request's "input" array: either a plain
// message or a tool-result entry (role=tool).
type InputItem struct {
	Role       session.Role
	Content    string
	ToolCallID string // set only when Role == session.RoleTool
}

// ToolSpec mirrors toolsvc.Spec without importing toolsvc, keeping this
// package's only dependency on tool definitions a plain data shape.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

func (r Request) marshalBody(defaultVerbosity string) map[string]any {
	verbosity := r.Verbosity
	if verbosity == "" {
		verbosity = defaultVerbosity
	}
	input := make([]map[string]any, 0, len(r.Input))
	for _, it := range r.Input {
		entry := map[string]any{"role": string(it.Role), "content": it.Content}
		if it.Role == session.RoleTool {
			entry["tool_call_id"] = it.ToolCallID
		}
		input = append(input, entry)
	}
	tools := make([]map[string]any, 0, len(r.Tools))
	for _, t := range r.Tools {
		tools = append(tools, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.InputSchema,
		})
	}
	body := map[string]any{
		"model":  r.Model,
		"input":  input,
		"tools":  tools,
		"stream": true,
		"reasoning": map[string]any{
			"effort": string(r.Effort),
		},
	}
	if verbosity != "" {
		body["verbosity"] = verbosity
	}
	return body
}
