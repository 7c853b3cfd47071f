package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/skillminer/internal/ai"
	"github.com/hpungsan/skillminer/internal/collab"
	"github.com/hpungsan/skillminer/internal/config"
	"github.com/hpungsan/skillminer/internal/mcp"
	"github.com/hpungsan/skillminer/internal/ops"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"scan": true, "classify": true, "extract": true, "generate": true, "mine": true, "runs": true,
	"list": true, "show": true, "approve": true, "reject": true, "deploy": true, "diff": true,
	"consolidate": true, "prune": true,
	"export": true, "import": true, "verify": true, "validate": true,
	"graph": true, "today": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	// global flags come before the subcommand
	if len(arg) > 1 && arg[0] == '-' {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
  skillminer

  Mines agent session logs into reusable skills

  Usage: skillminer <command> [options]
         skillminer --help

  MCP server mode requires piped input.`)
}

// newLogger builds the console logger on stderr. Stdout carries JSON results only.
func newLogger(level string, verbose bool) zerolog.Logger {
	lvl := zerolog.InfoLevel
	if level != "" {
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			lvl = parsed
		}
	}
	if verbose {
		lvl = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(lvl).
		With().Timestamp().Logger()
}

// newCollaborators connects the Gemini backend when GEMINI_API_KEY is set.
// Without a key the returned set is nil and AI-backed commands report it.
func newCollaborators(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*collab.Set, func(), error) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		return nil, func() {}, nil
	}
	client, err := ai.NewGeminiClient(ctx, key, ai.Options{
		Model:             cfg.AIModel,
		RequestsPerMinute: cfg.AIRequestsPerMinute,
		Logger:            logger,
	})
	if err != nil {
		return nil, nil, err
	}
	set := ai.New(client, logger).Set()
	return &set, func() { _ = client.Close() }, nil
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// --help/--version need no config
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}
	baseDir := filepath.Join(homeDir, ".skillminer")

	config.LoadEnv(baseDir)
	cwd, _ := os.Getwd()
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.ResolveDirs(baseDir, homeDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := &cliState{baseDir: baseDir, cfg: cfg, now: time.Now}

	if isCLIMode() {
		app := newCLIApp(rt)
		if err := app.RunContext(ctx, os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'skillminer --help' for usage.\n")
		os.Exit(1)
	}

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		fmt.Fprintf(os.Stderr, "warning: unknown disabled_tools: %v\n", unknown)
	}

	logger := newLogger(cfg.LogLevel, false)
	env, err := ops.Open(baseDir, cfg, ops.OpenOptions{Logger: logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer env.Close()

	set, closeAI, err := newCollaborators(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closeAI()
	env.Collab = set

	if err := mcp.Run(env, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
