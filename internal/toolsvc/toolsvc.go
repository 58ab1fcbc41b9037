// Package toolsvc implements component H: the tool registry and router
// described in spec.md §4.H. It is grounded almost directly on kilroy's
// internal/agent/tool_registry.go (RegisteredTool/ToolRegistry.Register/
// ExecuteCall: schema compilation once at registration, name lookup ->
// validate -> invoke -> truncate), generalized with the approval-policy
// gate step spec.md requires that kilroy's registry does not have.
package toolsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lincona/lincona/internal/config"
	"github.com/lincona/lincona/internal/lerrors"
	"github.com/lincona/lincona/internal/outputlimit"
	"github.com/lincona/lincona/internal/session"
)

// Handler executes one validated tool invocation.
type Handler func(ctx context.Context, args map[string]any, st *session.SessionState) (session.ToolResult, error)

// ApprovalCallback prompts the user (host-provided) for on-request approval
// and blocks until they answer, per spec.md §4.H step 3.
type ApprovalCallback func(ctx context.Context, toolName string, args map[string]any) (bool, error)

// OutputLimit overrides the outputlimit defaults for one tool.
type OutputLimit struct {
	MaxBytes int
	MaxLines int
}

// Registration bundles everything spec.md §4.H says a tool advertises.
type Registration struct {
	Name             string
	Description      string
	InputSchema      map[string]any // JSON-Schema subset; nil => empty object schema
	RequiresApproval bool
	Handler          Handler
	Limit            OutputLimit
}

type registeredTool struct {
	reg    Registration
	schema *jsonschema.Schema
}

// Spec is what tool_specs() advertises to the model (spec.md §4.H).
type Spec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Registry is the sole keeper of the name -> tool map; safe for concurrent
// dispatch.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
	log   *slog.Logger
}

// New builds an empty Registry, logging dispatch events through log (or
// slog.Default() if nil).
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{tools: make(map[string]*registeredTool), log: log}
}

// Register compiles reg's input schema and adds it to the registry.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return fmt.Errorf("toolsvc: tool registration missing a name")
	}
	if reg.Handler == nil {
		return fmt.Errorf("toolsvc: tool %q missing a handler", reg.Name)
	}
	schema, err := compileSchema(reg.InputSchema)
	if err != nil {
		return fmt.Errorf("toolsvc: tool %q schema: %w", reg.Name, err)
	}
	if reg.Limit.MaxBytes == 0 {
		reg.Limit.MaxBytes = outputlimit.DefaultMaxBytes
	}
	if reg.Limit.MaxLines == 0 {
		reg.Limit.MaxLines = outputlimit.DefaultMaxLines
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[reg.Name] = &registeredTool{reg: reg, schema: schema}
	return nil
}

// Specs returns the array delivered to the model (spec.md §4.H tool_specs).
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Spec{Name: t.reg.Name, Description: t.reg.Description, InputSchema: t.reg.InputSchema})
	}
	return out
}

// Dispatch performs the full pipeline spec.md §4.H names: name lookup,
// input validation, approval gating, handler invocation, and output
// truncation. Non-fatal failures are converted into a
// session.ToolResult{Success:false}; a *lerrors.Error with Fatal()==true is
// returned as an error so the driver can terminate the turn instead of
// feeding it back to the model.
func (r *Registry) Dispatch(ctx context.Context, policy config.ApprovalPolicy, approve ApprovalCallback, name string, rawArgsJSON []byte, st *session.SessionState) (session.ToolResult, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		r.log.Info("toolsvc: dispatch", "tool", name, "outcome", "unknown-tool")
		return failure(fmt.Sprintf("unknown tool: %s", name)), nil
	}

	var args map[string]any
	if len(rawArgsJSON) > 0 {
		if err := json.Unmarshal(rawArgsJSON, &args); err != nil {
			r.log.Info("toolsvc: dispatch", "tool", name, "outcome", "invalid-json")
			return failure(fmt.Sprintf("invalid tool arguments JSON: %v", err)), nil
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	if err := t.schema.Validate(args); err != nil {
		r.log.Info("toolsvc: dispatch", "tool", name, "outcome", "invalid-args")
		return failure(fmt.Sprintf("tool %q argument validation failed: %v", name, err)), nil
	}

	if t.reg.RequiresApproval {
		switch policy {
		case config.ApprovalNever:
			r.log.Info("toolsvc: dispatch", "tool", name, "outcome", "approval-denied")
			return failure(fmt.Sprintf("approval policy forbids running %q without confirmation", name)), nil
		case config.ApprovalOnRequest:
			if approve == nil {
				return failure(fmt.Sprintf("approval required for %q but no approval callback is configured", name)), nil
			}
			ok, err := approve(ctx, name, args)
			if err != nil {
				return session.ToolResult{}, lerrors.Wrap(lerrors.FatalKind, err, "approval callback for %q", name)
			}
			if !ok {
				r.log.Info("toolsvc: dispatch", "tool", name, "outcome", "user-denied")
				return failure(fmt.Sprintf("user declined to approve %q", name)), nil
			}
		case config.ApprovalAlways:
			// auto-approved
		}
	}

	r.log.Info("toolsvc: dispatch", "tool", name, "outcome", "invoking")
	result, err := t.reg.Handler(ctx, args, st)
	if err != nil {
		var le *lerrors.Error
		if asFatal(err, &le) && le.Fatal() {
			return session.ToolResult{}, err
		}
		r.log.Debug("toolsvc: dispatch", "tool", name, "outcome", "handler-error", "error", err)
		return failure(err.Error()), nil
	}

	result.Content, result.Truncated = outputlimit.Truncate(result.Content, t.reg.Limit.MaxBytes, t.reg.Limit.MaxLines)
	r.log.Debug("toolsvc: dispatch", "tool", name, "outcome", "success", "truncated", result.Truncated)
	return result, nil
}

func failure(msg string) session.ToolResult {
	return session.ToolResult{Success: false, Content: msg}
}

func asFatal(err error, target **lerrors.Error) bool {
	if le, ok := err.(*lerrors.Error); ok {
		*target = le
		return true
	}
	return false
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}
