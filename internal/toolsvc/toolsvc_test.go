package toolsvc

import (
	"context"
	"testing"

	"github.com/lincona/lincona/internal/config"
	"github.com/lincona/lincona/internal/session"
)

func echoTool(requiresApproval bool) Registration {
	return Registration{
		Name:             "echo",
		Description:      "echoes its input",
		RequiresApproval: requiresApproval,
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"text"},
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, args map[string]any, st *session.SessionState) (session.ToolResult, error) {
			return session.ToolResult{Success: true, Content: args["text"].(string)}, nil
		},
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	r := New(nil)
	res, err := r.Dispatch(context.Background(), config.ApprovalAlways, nil, "nope", []byte(`{}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("expected failure result for unknown tool")
	}
}

func TestDispatchInvalidArguments(t *testing.T) {
	r := New(nil)
	r.Register(echoTool(false))
	res, err := r.Dispatch(context.Background(), config.ApprovalAlways, nil, "echo", []byte(`{}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("expected validation failure for missing required field")
	}
}

func TestDispatchSuccess(t *testing.T) {
	r := New(nil)
	r.Register(echoTool(false))
	res, err := r.Dispatch(context.Background(), config.ApprovalAlways, nil, "echo", []byte(`{"text":"hi"}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Content != "hi" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

// TestDispatchApprovalNeverDeniesWithoutSpawning is end-to-end scenario 3
// from spec.md §8.
func TestDispatchApprovalNeverDeniesWithoutSpawning(t *testing.T) {
	spawned := false
	reg := echoTool(true)
	reg.Handler = func(ctx context.Context, args map[string]any, st *session.SessionState) (session.ToolResult, error) {
		spawned = true
		return session.ToolResult{Success: true}, nil
	}

	r := New(nil)
	r.Register(reg)
	res, err := r.Dispatch(context.Background(), config.ApprovalNever, nil, "echo", []byte(`{"text":"hi"}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("expected approval denial")
	}
	if spawned {
		t.Fatal("handler must not run when approval policy is never")
	}
}

func TestDispatchApprovalOnRequestUsesCallback(t *testing.T) {
	r := New(nil)
	r.Register(echoTool(true))

	approved := false
	cb := func(ctx context.Context, toolName string, args map[string]any) (bool, error) {
		approved = true
		return true, nil
	}
	res, err := r.Dispatch(context.Background(), config.ApprovalOnRequest, cb, "echo", []byte(`{"text":"hi"}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !approved {
		t.Fatal("expected approval callback to be consulted")
	}
	if !res.Success {
		t.Fatalf("expected success after approval, got %+v", res)
	}
}

func TestDispatchTruncatesLongOutput(t *testing.T) {
	reg := echoTool(false)
	reg.Limit = OutputLimit{MaxBytes: 10, MaxLines: 100}
	r := New(nil)
	r.Register(reg)

	res, err := r.Dispatch(context.Background(), config.ApprovalAlways, nil, "echo", []byte(`{"text":"0123456789abcdef"}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Truncated {
		t.Fatal("expected output to be truncated")
	}
}

func TestSpecsReflectsRegistrations(t *testing.T) {
	r := New(nil)
	r.Register(echoTool(false))
	specs := r.Specs()
	if len(specs) != 1 || specs[0].Name != "echo" {
		t.Fatalf("unexpected specs: %+v", specs)
	}
}
