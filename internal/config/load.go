package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// fileConfig mirrors config.toml's on-disk shape (spec.md §6): a subset of
// ResolvedConfig's fields the core is allowed to read from disk. The bearer
// token still comes from the environment only, never from a file that
// might end up in a repo or a backup.
type fileConfig struct {
	DefaultModel     string `toml:"default_model"`
	ReasoningEffort  string `toml:"reasoning_effort"`
	Verbosity        string `toml:"verbosity"`
	FSMode           string `toml:"fs_mode"`
	ApprovalPolicy   string `toml:"approval_policy"`
	LogLevel         string `toml:"log_level"`
	BaseURL          string `toml:"base_url"`
	RequestTimeoutMS int    `toml:"request_timeout_ms"`
}

// LoadFile overlays path's TOML fields onto base, returning the merged
// config. A missing file is not an error: config.toml is optional, per
// spec.md §6 ("consumed, not produced"). An unparseable existing file is.
func LoadFile(path string, base ResolvedConfig) (ResolvedConfig, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return base, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	merged := base
	if fc.DefaultModel != "" {
		merged.DefaultModel = fc.DefaultModel
	}
	if fc.ReasoningEffort != "" {
		merged.ReasoningEffort = ReasoningEffort(fc.ReasoningEffort)
	}
	if fc.Verbosity != "" {
		merged.Verbosity = fc.Verbosity
	}
	if fc.FSMode != "" {
		merged.FSMode = FSMode(fc.FSMode)
	}
	if fc.ApprovalPolicy != "" {
		merged.ApprovalPolicy = ApprovalPolicy(fc.ApprovalPolicy)
	}
	if fc.LogLevel != "" {
		merged.LogLevel = fc.LogLevel
	}
	if fc.BaseURL != "" {
		merged.BaseURL = fc.BaseURL
	}
	if fc.RequestTimeoutMS > 0 {
		merged.RequestTimeoutMS = fc.RequestTimeoutMS
	}
	return merged, nil
}
