package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lincona/lincona/internal/config"
	"github.com/lincona/lincona/internal/driver"
	"github.com/lincona/lincona/internal/event"
	"github.com/lincona/lincona/internal/fsboundary"
	"github.com/lincona/lincona/internal/llm"
	"github.com/lincona/lincona/internal/promptenv"
	"github.com/lincona/lincona/internal/ptyexec"
	"github.com/lincona/lincona/internal/session"
	"github.com/lincona/lincona/internal/sessionlog"
	"github.com/lincona/lincona/internal/shutdown"
	"github.com/lincona/lincona/internal/tools"
	"github.com/lincona/lincona/internal/toolsvc"
)

func main() {
	os.Exit(run())
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  lincona --version")
	fmt.Fprintln(os.Stderr, "  lincona run [--model <id>] [--fs-root <dir>] [--timeout-ms <ms>]")
}

// run is main's testable body: it returns the process exit code rather than
// calling os.Exit directly, mirroring kilroy's cmd/kilroy "subcommand
// function returns, main() exits" split.
func run() int {
	if len(os.Args) < 2 {
		usage()
		return 2
	}

	switch os.Args[1] {
	case "--version", "-v", "version":
		fmt.Println("lincona (dev)")
		return 0
	case "run":
		return runREPL(os.Args[2:])
	default:
		usage()
		return 2
	}
}

func runREPL(args []string) int {
	cfg, fsRoot, err := resolveConfig(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lincona:", err)
		return 2
	}

	sessionsDir := filepath.Join(cfg.DataRoot, "sessions")
	logsDir := filepath.Join(cfg.DataRoot, "logs")
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "lincona: creating sessions dir:", err)
		return 1
	}
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "lincona: creating logs dir:", err)
		return 1
	}

	ctx, coord, cleanupSignals := shutdown.WatchSignals(context.Background())
	defer cleanupSignals()

	id, err := session.NewID(time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, "lincona: minting session id:", err)
		return 1
	}

	logger, err := sessionlog.Open(filepath.Join(logsDir, id+".log"), sessionlog.DefaultMaxBytes, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lincona: opening session log:", err)
		return 1
	}
	coord.RegisterLogger(logger)

	writer, err := event.Open(filepath.Join(sessionsDir, id+".jsonl"), 1)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lincona: opening transcript:", err)
		return 1
	}
	coord.RegisterWriter(writer)

	boundary := fsboundary.New(fsRoot, cfg.FSMode)
	ptyMgr := ptyexec.New()
	coord.RegisterPTYManager(ptyMgr)

	reg := toolsvc.New(logger.Logger())
	if err := tools.RegisterAll(reg, tools.Deps{Boundary: boundary, PTY: ptyMgr}); err != nil {
		fmt.Fprintln(os.Stderr, "lincona: registering tools:", err)
		return 1
	}

	httpTransport := llm.NewHTTPTransport(cfg.BaseURL, cfg.BearerToken, &http.Client{Timeout: time.Duration(cfg.RequestTimeoutMS) * time.Millisecond})
	client := llm.NewClient(httpTransport, logger.Logger())

	state := session.New(id, cfg)
	approve := promptApproval
	d := driver.New(state, client, reg, writer, logger, approve)
	d.Boundary = boundary
	d.ContextWindowSize = 128_000
	d.SystemPrompt = promptenv.Build(promptenv.Detect(fsRoot), state.Model, state.FSMode, reg.Specs())

	fmt.Printf("lincona session %s started (model=%s, fsmode=%s, approvals=%s)\n", id, state.Model, state.FSMode, state.ApprovalPolicy)

	exitCode := repl(ctx, coord, d)
	coord.Shutdown()
	return exitCode
}

// repl reads one line at a time from stdin and feeds it to the driver,
// printing its reply, until EOF, /quit, or the shutdown context is
// cancelled (SIGINT/SIGTERM), per spec.md §6's exit-code table. Each turn
// runs under its own coord.NewTurn child context (spec.md:154), so a first
// SIGINT aborts only that turn's in-flight stream and returns control
// here, while ctx itself is only cancelled by SIGTERM or a second SIGINT.
func repl(ctx context.Context, coord *shutdown.Coordinator, d *driver.Driver) int {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if ctx.Err() != nil {
			return 130
		}
		fmt.Print("> ")
		if !scanner.Scan() {
			return 0
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		turnCtx, done := coord.NewTurn(ctx)
		out, err := d.HandleInput(turnCtx, line)
		done()
		if err == driver.QuitRequested {
			return 0
		}
		if err != nil {
			if turnCtx.Err() != nil && ctx.Err() == nil {
				fmt.Fprintln(os.Stderr, "turn aborted:", err)
			} else {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			continue
		}
		fmt.Println(out)
	}
}

// promptApproval is the default ApprovalPrompter: a blocking yes/no prompt
// on stdin/stdout, per spec.md §4.H's on-request approval flow.
func promptApproval(ctx context.Context, toolName string, args map[string]any) (bool, error) {
	fmt.Printf("approve %s %v? [y/N] ", toolName, args)
	var answer string
	if _, err := fmt.Scanln(&answer); err != nil {
		return false, nil
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

// resolveConfig builds a config.ResolvedConfig and a filesystem-boundary
// root. Precedence, lowest to highest: config.Default() < config.toml
// (spec.md §6's "consumed, not produced" data-root file) < LINCONA_* env
// vars, following kilroy's os.Getenv-driven provider-credential loading
// (see e.g. internal/llm/providers/openai/adapter.go's OPENAI_API_KEY
// lookup, generalized to Lincona's single fixed endpoint) < run flags.
func resolveConfig(args []string) (config.ResolvedConfig, string, error) {
	cfg := config.Default()

	dataRoot := strings.TrimSpace(os.Getenv("LINCONA_HOME"))
	if dataRoot == "" {
		home, _ := os.UserHomeDir()
		dataRoot = filepath.Join(home, ".lincona")
	}
	cfg.DataRoot = dataRoot

	var err error
	cfg, err = config.LoadFile(filepath.Join(dataRoot, "config.toml"), cfg)
	if err != nil {
		return cfg, "", err
	}

	cfg.BearerToken = strings.TrimSpace(os.Getenv("LINCONA_API_KEY"))
	if v := strings.TrimSpace(os.Getenv("LINCONA_BASE_URL")); v != "" {
		cfg.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LINCONA_MODEL")); v != "" {
		cfg.DefaultModel = v
	}
	if v := strings.TrimSpace(os.Getenv("LINCONA_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}

	fsRoot, err := os.Getwd()
	if err != nil {
		return cfg, "", fmt.Errorf("determining working directory: %w", err)
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--model":
			i++
			if i >= len(args) {
				return cfg, "", fmt.Errorf("--model requires a value")
			}
			cfg.DefaultModel = args[i]
		case "--fs-root":
			i++
			if i >= len(args) {
				return cfg, "", fmt.Errorf("--fs-root requires a value")
			}
			fsRoot = args[i]
		case "--timeout-ms":
			i++
			if i >= len(args) {
				return cfg, "", fmt.Errorf("--timeout-ms requires a value")
			}
			ms, err := strconv.Atoi(args[i])
			if err != nil {
				return cfg, "", fmt.Errorf("--timeout-ms: %w", err)
			}
			cfg.RequestTimeoutMS = ms
		default:
			return cfg, "", fmt.Errorf("unrecognized argument %q", args[i])
		}
	}

	fsRoot, err = filepath.Abs(fsRoot)
	if err != nil {
		return cfg, "", fmt.Errorf("resolving fs root: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, "", err
	}
	return cfg, fsRoot, nil
}
