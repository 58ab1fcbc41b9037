// Package promptenv builds the system prompt the driver prepends to every
// request, adapted from kilroy's internal/agent/profile.go
// (ProviderProfile.BuildSystemPrompt, EnvironmentInfo, envInfoFromEnv,
// snapshotGit) — generalized from kilroy's per-provider prompt/tool-list
// variants (OpenAI/Anthropic/Gemini each get a different base prompt and
// tool set) to Lincona's single fixed tool set and single endpoint, so only
// one prompt template survives instead of three.
package promptenv

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/lincona/lincona/internal/config"
	"github.com/lincona/lincona/internal/toolsvc"
)

// Info is a point-in-time snapshot of the process's environment, taken once
// per session (kilroy takes the same snapshot once per Session, not once
// per turn, since a cwd or branch mid-session change is out of scope).
type Info struct {
	WorkingDir        string
	Platform          string
	Today             string // YYYY-MM-DD, UTC
	IsGitRepo         bool
	GitBranch         string
	GitModifiedFiles  int
	GitUntrackedFiles int
	GitRecentCommits  []string
}

// Detect snapshots Info for workdir. Git fields are left zero-valued if
// workdir is not inside a git repository or git is not on PATH.
func Detect(workdir string) Info {
	info := Info{
		WorkingDir: workdir,
		Platform:   runtime.GOOS,
		Today:      time.Now().UTC().Format("2006-01-02"),
	}
	branch, ok := gitOutput(workdir, "rev-parse", "--abbrev-ref", "HEAD")
	if !ok {
		return info
	}
	info.IsGitRepo = true
	info.GitBranch = strings.TrimSpace(branch)

	if status, ok := gitOutput(workdir, "status", "--porcelain"); ok {
		for _, line := range strings.Split(status, "\n") {
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "??") {
				info.GitUntrackedFiles++
			} else {
				info.GitModifiedFiles++
			}
		}
	}

	if log, ok := gitOutput(workdir, "log", "-n", "5", "--format=%s"); ok {
		for _, line := range strings.Split(strings.TrimSpace(log), "\n") {
			if line != "" {
				info.GitRecentCommits = append(info.GitRecentCommits, line)
			}
		}
	}
	return info
}

func gitOutput(workdir string, args ...string) (string, bool) {
	cmd := exec.Command("git", args...)
	cmd.Dir = workdir
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	return string(out), true
}

// Build assembles the system prompt text for one session: an
// <environment>/<git> block (per kilroy's BuildSystemPrompt) followed by
// the registry's tool list, so the model sees exactly the tools
// toolsvc.Registry.Specs() will actually dispatch.
func Build(env Info, model string, fsMode config.FSMode, specs []toolsvc.Spec) string {
	var b strings.Builder

	b.WriteString("You are Lincona, an interactive coding assistant operating in a terminal. ")
	b.WriteString("Use the available tools to inspect the codebase before editing, apply patches ")
	b.WriteString("with apply_patch_json or apply_patch_freeform rather than rewriting whole files, ")
	b.WriteString("and read command output carefully before deciding on a next step.\n\n")

	b.WriteString("<environment>\n")
	fmt.Fprintf(&b, "Working directory: %s\n", env.WorkingDir)
	fmt.Fprintf(&b, "Platform: %s\n", env.Platform)
	fmt.Fprintf(&b, "Today's date: %s\n", env.Today)
	fmt.Fprintf(&b, "Model: %s\n", model)
	fmt.Fprintf(&b, "Filesystem mode: %s\n", fsMode)
	b.WriteString("</environment>\n\n")

	if env.IsGitRepo {
		b.WriteString("<git>\n")
		fmt.Fprintf(&b, "Branch: %s\n", env.GitBranch)
		fmt.Fprintf(&b, "Modified files: %d\n", env.GitModifiedFiles)
		fmt.Fprintf(&b, "Untracked files: %d\n", env.GitUntrackedFiles)
		if len(env.GitRecentCommits) > 0 {
			b.WriteString("Recent commits:\n")
			for _, c := range env.GitRecentCommits {
				b.WriteString("- " + c + "\n")
			}
		}
		b.WriteString("</git>\n\n")
	}

	b.WriteString("Tools:\n")
	for _, s := range specs {
		desc := strings.TrimSpace(s.Description)
		if desc == "" {
			desc = "(no description)"
		}
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, desc)
	}
	return b.String()
}
