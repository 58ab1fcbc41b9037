// Package session holds the mutable per-session data model: SessionState,
// Message, ToolCall, and ToolResult, as named in spec.md §3. It is grounded
// on kilroy's internal/agent Turn/TurnKind history shape, generalized from a
// single history slice into the richer message/role model spec.md requires.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/lincona/lincona/internal/config"
)

// IDPattern is the authoritative session id shape from spec.md §6.
var IDPattern = regexp.MustCompile(`^[0-9]{12}-[0-9a-f]{32}$`)

// NewID mints a session id: a UTC YYYYMMDDHHMM timestamp followed by 128
// bits of hex-encoded randomness, matching IDPattern exactly.
func NewID(now time.Time) (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("session: generating random id component: %w", err)
	}
	id := fmt.Sprintf("%s-%s", now.UTC().Format("200601021504"), hex.EncodeToString(buf[:]))
	if !IDPattern.MatchString(id) {
		return "", fmt.Errorf("session: generated id %q does not match pattern", id)
	}
	return id, nil
}

// Role is one of the four message roles spec.md §3 names.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single model-initiated tool invocation.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult is what a tool handler or the router hands back for one call.
type ToolResult struct {
	Success    bool
	Content    string
	Structured any
	Truncated  bool
}

// Message is immutable once appended to a SessionState's history.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall // assistant messages only
	ToolCallID string     // tool messages only: the call this output satisfies
}

// SessionState is created at session start and mutated only by the driver.
type SessionState struct {
	mu sync.Mutex

	ID             string
	Messages       []Message
	Model          string
	ReasoningLevel config.ReasoningEffort
	FSMode         config.FSMode
	ApprovalPolicy config.ApprovalPolicy
	ActivePTYIDs   map[string]bool
}

// New builds a SessionState overlay derived from cfg, matching kilroy's
// SessionConfig.applyDefaults idiom: defaults are copied in once here and
// never re-read from a global afterward.
func New(id string, cfg config.ResolvedConfig) *SessionState {
	return &SessionState{
		ID:             id,
		Model:          cfg.DefaultModel,
		ReasoningLevel: cfg.ReasoningEffort,
		FSMode:         cfg.FSMode,
		ApprovalPolicy: cfg.ApprovalPolicy,
		ActivePTYIDs:   make(map[string]bool),
	}
}

// AppendMessage appends msg to history under the state's lock.
func (s *SessionState) AppendMessage(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, msg)
}

// History returns a snapshot copy of the message list.
func (s *SessionState) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// MarkPTYOpen records id as an active PTY session on this state.
func (s *SessionState) MarkPTYOpen(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ActivePTYIDs[id] = true
}

// MarkPTYClosed removes id from the active PTY session set.
func (s *SessionState) MarkPTYClosed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ActivePTYIDs, id)
}

// SetModel overlays a new model id, used by the /model slash command.
func (s *SessionState) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Model = model
}

// SetReasoningLevel overlays a new reasoning effort, used by /reasoning.
func (s *SessionState) SetReasoningLevel(r config.ReasoningEffort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReasoningLevel = r
}

// SetApprovalPolicy overlays a new approval policy, used by /approvals.
func (s *SessionState) SetApprovalPolicy(p config.ApprovalPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ApprovalPolicy = p
}

// SetFSMode overlays a new filesystem mode, used by /fsmode.
func (s *SessionState) SetFSMode(m config.FSMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FSMode = m
}

// Snapshot returns a value copy of the session's scalar fields for
// diagnostic dumps (the driver's YAML summary), without the message history.
func (s *SessionState) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	ptyIDs := make([]string, 0, len(s.ActivePTYIDs))
	for id := range s.ActivePTYIDs {
		ptyIDs = append(ptyIDs, id)
	}
	return map[string]any{
		"id":              s.ID,
		"model":           s.Model,
		"reasoning_level": s.ReasoningLevel,
		"fs_mode":         s.FSMode,
		"approval_policy": s.ApprovalPolicy,
		"message_count":   len(s.Messages),
		"active_pty_ids":  ptyIDs,
	}
}
