// Package config holds the immutable configuration Lincona is started with.
package config

import "fmt"

// ReasoningEffort is the tag requested from the model for how much latent
// reasoning it should spend before answering.
type ReasoningEffort string

const (
	ReasoningNone    ReasoningEffort = "none"
	ReasoningMinimal ReasoningEffort = "minimal"
	ReasoningLow     ReasoningEffort = "low"
	ReasoningMedium  ReasoningEffort = "medium"
	ReasoningHigh    ReasoningEffort = "high"
)

func (r ReasoningEffort) Valid() bool {
	switch r {
	case ReasoningNone, ReasoningMinimal, ReasoningLow, ReasoningMedium, ReasoningHigh:
		return true
	}
	return false
}

// FSMode governs whether tool paths are confined to a root.
type FSMode string

const (
	FSModeRestricted   FSMode = "restricted"
	FSModeUnrestricted FSMode = "unrestricted"
)

func (m FSMode) Valid() bool {
	return m == FSModeRestricted || m == FSModeUnrestricted
}

// ApprovalPolicy governs whether side-effectful tools require confirmation.
type ApprovalPolicy string

const (
	ApprovalNever     ApprovalPolicy = "never"
	ApprovalOnRequest ApprovalPolicy = "on-request"
	ApprovalAlways    ApprovalPolicy = "always"
)

func (p ApprovalPolicy) Valid() bool {
	switch p {
	case ApprovalNever, ApprovalOnRequest, ApprovalAlways:
		return true
	}
	return false
}

// ResolvedConfig is constructed once before driver start and never mutated.
// Slash commands derive a session-scoped overlay instead of editing it.
type ResolvedConfig struct {
	BearerToken      string
	DefaultModel     string
	ReasoningEffort  ReasoningEffort
	Verbosity        string
	FSMode           FSMode
	ApprovalPolicy   ApprovalPolicy
	LogLevel         string
	DataRoot         string
	BaseURL          string
	RequestTimeoutMS int
}

// Validate checks the invariants the rest of the system assumes hold for
// every ResolvedConfig instance it is handed.
func (c ResolvedConfig) Validate() error {
	if c.BearerToken == "" {
		return fmt.Errorf("config: bearer token is required")
	}
	if c.DefaultModel == "" {
		return fmt.Errorf("config: default model is required")
	}
	if !c.ReasoningEffort.Valid() {
		return fmt.Errorf("config: invalid reasoning effort %q", c.ReasoningEffort)
	}
	if !c.FSMode.Valid() {
		return fmt.Errorf("config: invalid fs mode %q", c.FSMode)
	}
	if !c.ApprovalPolicy.Valid() {
		return fmt.Errorf("config: invalid approval policy %q", c.ApprovalPolicy)
	}
	if c.DataRoot == "" {
		return fmt.Errorf("config: data root is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("config: base url is required")
	}
	if c.RequestTimeoutMS <= 0 {
		return fmt.Errorf("config: request timeout must be positive")
	}
	return nil
}

// Default fills in the defaults applied when a field is left zero-valued,
// mirroring the one-time defaults-at-construction idiom used for session
// configuration in the teacher's agent package.
func Default() ResolvedConfig {
	return ResolvedConfig{
		ReasoningEffort:  ReasoningMedium,
		Verbosity:        "medium",
		FSMode:           FSModeRestricted,
		ApprovalPolicy:   ApprovalOnRequest,
		LogLevel:         "info",
		BaseURL:          "https://api.openai.com/v1",
		RequestTimeoutMS: 60_000,
	}
}
