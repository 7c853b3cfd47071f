package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/skillminer/internal/collab"
	"github.com/hpungsan/skillminer/internal/config"
	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/ops"
	"github.com/hpungsan/skillminer/internal/web"
)

// cliState opens the environment on first use, once the global flags are parsed.
type cliState struct {
	baseDir string
	cfg     *config.Config
	now     func() time.Time
	// loc is the zone "today" reports in. Nil means local time.
	loc *time.Location

	// logOut receives log lines. Nil means stderr.
	logOut io.Writer
	// collab, when set, is used instead of connecting to Gemini.
	collab *collab.Set

	env     *ops.Env
	closeAI func()
}

// open returns the environment for this invocation. withAI connects the AI
// backend; commands that never call a collaborator skip it.
func (s *cliState) open(c *cli.Context, withAI bool) (*ops.Env, error) {
	if s == nil {
		return nil, errors.NewInternal(fmt.Errorf("no configuration loaded"))
	}
	if s.env == nil {
		logger := newLogger(s.cfg.LogLevel, c.Bool("verbose"))
		if s.logOut != nil {
			logger = logger.Output(s.logOut)
		}
		env, err := ops.Open(s.baseDir, s.cfg, ops.OpenOptions{
			DryRun: c.Bool("dry-run"),
			Logger: logger,
			Now:    s.now,
		})
		if err != nil {
			return nil, err
		}
		s.env = env
	}
	if withAI && s.env.Collab == nil {
		if s.collab != nil {
			s.env.Collab = s.collab
		} else {
			set, closeAI, err := newCollaborators(c.Context, s.cfg, s.env.Logger)
			if err != nil {
				return nil, errors.NewInvalidRequest(err.Error())
			}
			s.env.Collab = set
			s.closeAI = closeAI
		}
	}
	return s.env, nil
}

func (s *cliState) close() error {
	if s == nil {
		return nil
	}
	if s.closeAI != nil {
		s.closeAI()
		s.closeAI = nil
	}
	if s.env != nil {
		err := s.env.Close()
		s.env = nil
		return err
	}
	return nil
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(s *cliState) *cli.App {
	app := &cli.App{
		Name:    "skillminer",
		Usage:   "Mine agent session logs into reusable skills",
		Version: Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Aliases: []string{"n"}, Usage: "Report what would change without writing anything"},
			&cli.BoolFlag{Name: "verbose", Usage: "Debug logging"},
		},
		Commands: []*cli.Command{
			scanCmd(s),
			classifyCmd(s),
			extractCmd(s),
			generateCmd(s),
			mineCmd(s),
			runsCmd(s),
			listCmd(s),
			showCmd(s),
			approveCmd(s),
			rejectCmd(s),
			deployCmd(s),
			diffCmd(s),
			consolidateCmd(s),
			pruneCmd(s),
			exportCmd(s),
			importCmd(s),
			verifyCmd(s),
			validateCmd(s),
			graphCmd(s),
			todayCmd(s),
			serveCmd(s),
		},
		After: func(*cli.Context) error {
			return s.close()
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// scanCmd creates the scan command.
func scanCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Index session logs (conversations and skill invocations)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "full", Usage: "Reparse every log, including unchanged ones"},
		},
		Action: func(c *cli.Context) error {
			env, err := s.open(c, false)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Scan(c.Context, env, ops.ScanInput{Full: c.Bool("full")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// windowFlags are shared by the mining commands.
func windowFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "days", Aliases: []string{"d"}, Usage: "Maximum lookback in days (default from config)"},
		&cli.IntFlag{Name: "max-windows", Usage: "Stop after this many windows"},
		&cli.IntFlag{Name: "min-messages", Usage: "Skip conversations with fewer messages"},
		&cli.Float64Flag{Name: "min-significance", Usage: "Stop when a window's significance falls below this"},
	}
}

func windowInput(c *cli.Context) ops.MineInput {
	in := ops.MineInput{
		Days:        c.Int("days"),
		MaxWindows:  c.Int("max-windows"),
		MinMessages: c.Int("min-messages"),
	}
	if c.IsSet("min-significance") {
		in.MinSignificance = config.Float(c.Float64("min-significance"))
	}
	return in
}

// classifyCmd creates the classify command.
func classifyCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:  "classify",
		Usage: "Classify conversations window by window (commits nothing)",
		Flags: windowFlags(),
		Action: func(c *cli.Context) error {
			env, err := s.open(c, true)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Classify(c.Context, env, windowInput(c))
			if err != nil {
				return partialError(output, err)
			}
			return outputJSON(output)
		},
	}
}

// extractCmd creates the extract command.
func extractCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:  "extract",
		Usage: "Classify and extract patterns, committing each window",
		Flags: windowFlags(),
		Action: func(c *cli.Context) error {
			env, err := s.open(c, true)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Extract(c.Context, env, windowInput(c))
			if err != nil {
				return partialError(output, err)
			}
			return outputJSON(output)
		},
	}
}

// generateCmd creates the generate command.
func generateCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Generate or merge drafts from pending observations",
		Action: func(c *cli.Context) error {
			env, err := s.open(c, true)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Generate(c.Context, env)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// mineCmd creates the mine command.
func mineCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:  "mine",
		Usage: "Extract then generate in one run",
		Flags: windowFlags(),
		Action: func(c *cli.Context) error {
			env, err := s.open(c, true)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Mine(c.Context, env, windowInput(c))
			if err != nil {
				return partialError(output, err)
			}
			return outputJSON(output)
		},
	}
}

// runsCmd creates the runs command.
func runsCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List recent mining runs",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum runs to show"},
		},
		Action: func(c *cli.Context) error {
			env, err := s.open(c, false)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Runs(c.Context, env, c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// listCmd creates the list command.
func listCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List skills",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status: draft|approved|deployed|rejected"},
			&cli.StringFlag{Name: "domain", Usage: "Filter by domain"},
		},
		Action: func(c *cli.Context) error {
			env, err := s.open(c, false)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.List(env, ops.ListInput{Status: c.String("status"), Domain: c.String("domain")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// showCmd creates the show command.
func showCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one skill with its content",
		ArgsUsage: "<slug>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one slug is required"))
			}
			env, err := s.open(c, false)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Show(env, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// approveCmd creates the approve command.
func approveCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:      "approve",
		Usage:     "Approve draft skills",
		ArgsUsage: "<slug>...",
		Action: func(c *cli.Context) error {
			env, err := s.open(c, false)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Approve(env, c.Args().Slice())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// rejectCmd creates the reject command.
func rejectCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:      "reject",
		Usage:     "Reject skills (removes deployed copies)",
		ArgsUsage: "<slug>...",
		Action: func(c *cli.Context) error {
			env, err := s.open(c, false)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Reject(env, c.Args().Slice())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// deployCmd creates the deploy command.
func deployCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:      "deploy",
		Usage:     "Deploy named skills, or every approved skill with --approved",
		ArgsUsage: "[slug...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "approved", Usage: "Deploy all approved skills"},
		},
		Action: func(c *cli.Context) error {
			env, err := s.open(c, false)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Deploy(env, ops.DeployInput{Slugs: c.Args().Slice(), Approved: c.Bool("approved")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// diffCmd creates the diff command.
func diffCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "Diff drafts against their deployed copies",
		ArgsUsage: "[slug]",
		Action: func(c *cli.Context) error {
			env, err := s.open(c, false)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Diff(env, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// consolidateCmd creates the consolidate command.
func consolidateCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:      "consolidate",
		Usage:     "Score skills by usage and reject those below the threshold",
		ArgsUsage: "[slug...]",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "min-score", Usage: "Reject threshold in [0,1] (default from config)"},
			&cli.BoolFlag{Name: "refine", Usage: "Rewrite kept skills' descriptions from their triggers"},
		},
		Action: func(c *cli.Context) error {
			minScore := c.Float64("min-score")
			if minScore < 0 || minScore > 1 {
				return outputError(errors.NewInvalidRequest("--min-score must be in [0,1]"))
			}
			env, err := s.open(c, c.Bool("refine"))
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Consolidate(c.Context, env, ops.ConsolidateInput{
				Slugs:    c.Args().Slice(),
				MinScore: minScore,
				Refine:   c.Bool("refine"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// pruneCmd creates the prune command.
func pruneCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Retire catch-all drafts, rejected skills or duplicate drafts",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "misc", Usage: "Drop catch-all drafts and observations"},
			&cli.BoolFlag{Name: "rejected", Usage: "Retire rejected skills"},
			&cli.BoolFlag{Name: "duplicates", Usage: "Drop drafts duplicating another skill's content"},
		},
		Action: func(c *cli.Context) error {
			env, err := s.open(c, false)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Prune(env, ops.PruneInput{
				Misc:       c.Bool("misc"),
				Rejected:   c.Bool("rejected"),
				Duplicates: c.Bool("duplicates"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export skills as a .skillpack bundle",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Usage: "Target directory (default ~/.skillminer/exports)"},
			&cli.StringFlag{Name: "bundle-version", Value: "1.0.0", Usage: "Bundle version"},
			&cli.StringFlag{Name: "author", Usage: "Bundle author"},
			&cli.StringFlag{Name: "description", Usage: "Bundle description"},
			&cli.BoolFlag{Name: "public", Usage: "Sanitize local paths and author for sharing"},
			&cli.BoolFlag{Name: "approved-only", Usage: "Only approved and deployed skills"},
			&cli.StringFlag{Name: "skills", Usage: "Comma-separated slugs to include"},
			&cli.StringSliceFlag{Name: "context", Usage: "Extra context file to bundle (repeatable)"},
			&cli.BoolFlag{Name: "overwrite", Usage: "Replace an existing bundle"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("bundle name is required"))
			}
			env, err := s.open(c, false)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Export(env, ops.ExportInput{
				Name:         c.Args().First(),
				Dir:          c.String("dir"),
				Version:      c.String("bundle-version"),
				Author:       c.String("author"),
				Description:  c.String("description"),
				Public:       c.Bool("public"),
				ApprovedOnly: c.Bool("approved-only"),
				Slugs:        splitList(c.String("skills")),
				ContextFiles: c.StringSlice("context"),
				Overwrite:    c.Bool("overwrite"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// importCmd creates the import command.
func importCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import a bundle's skills as drafts",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "error", Usage: "Collision mode: error|replace|rename"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("bundle path is required"))
			}
			env, err := s.open(c, false)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Import(env, ops.ImportInput{Path: c.Args().First(), Mode: c.String("mode")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// verifyCmd creates the verify command.
func verifyCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Recompute a bundle's checksums",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("bundle path is required"))
			}
			env, err := s.open(c, false)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Verify(env, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			if err := outputJSON(output); err != nil {
				return err
			}
			if !output.OK {
				return cli.Exit(fmt.Sprintf("[%s] %d mismatched, %d missing", errors.ErrChecksumMismatch, len(output.Mismatches), len(output.Missing)), 1)
			}
			return nil
		},
	}
}

// validateCmd creates the validate command.
func validateCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a bundle; --fix repairs what it can first",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "fix", Usage: "Apply mechanical fixes, then re-validate"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("bundle path is required"))
			}
			env, err := s.open(c, false)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Validate(env, ops.ValidateInput{Path: c.Args().First(), Fix: c.Bool("fix")})
			if err != nil {
				return outputError(err)
			}
			if err := outputJSON(output); err != nil {
				return err
			}
			if output.Validation != nil && !output.Validation.Valid {
				return cli.Exit(fmt.Sprintf("[%s] %d error(s)", errors.ErrBundleInvalid, output.Validation.Errors), 1)
			}
			return nil
		},
	}
}

// graphCmd creates the graph command.
func graphCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:  "graph",
		Usage: "Reference graph among deployed skills",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "drafts", Usage: "Include draft content files"},
		},
		Action: func(c *cli.Context) error {
			env, err := s.open(c, false)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Graph(env, ops.GraphInput{Drafts: c.Bool("drafts")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// todayCmd creates the today command.
func todayCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:  "today",
		Usage: "Activity timeline for one day",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "date", Usage: "Day as YYYY-MM-DD (default today)"},
			&cli.IntFlag{Name: "slot", Value: 30, Usage: "Slot width in minutes"},
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "Only activity in projects matching this"},
		},
		Action: func(c *cli.Context) error {
			if c.Int("slot") <= 0 {
				return outputError(errors.NewInvalidRequest("--slot must be positive"))
			}
			env, err := s.open(c, false)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Today(c.Context, env, ops.TodayInput{
				Date:        c.String("date"),
				SlotMinutes: c.Int("slot"),
				Project:     c.String("project"),
				Location:    s.loc,
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(s *cliState) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the local review UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: 7424, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			port := c.Int("port")
			if port < 1 || port > 65535 {
				return outputError(errors.NewInvalidRequest("--port must be between 1 and 65535"))
			}
			env, err := s.open(c, false)
			if err != nil {
				return outputError(err)
			}
			srv, err := web.NewServer(env, Version, c.String("bind"), port)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			if err := web.Run(srv, env.Logger); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if sErr, ok := errors.As(err); ok {
		msg := sErr.Message
		if prefix := strings.TrimSuffix(err.Error(), sErr.Error()); prefix != err.Error() {
			msg = prefix + msg
		}
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, msg), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// partialError prints the partial result of a run that stopped abnormally, then
// formats err like outputError.
func partialError[T any](output *T, err error) error {
	if output != nil {
		_ = outputJSON(output)
	}
	return outputError(err)
}

// splitList splits a comma-separated string, dropping empty entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
