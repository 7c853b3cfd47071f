package ops

import (
	"context"
	"os"
	"time"

	"github.com/hpungsan/skillminer/internal/db"
	"github.com/hpungsan/skillminer/internal/mining"
	"github.com/hpungsan/skillminer/internal/session"
	"github.com/hpungsan/skillminer/internal/skill"
)

// MineInput overrides the configured window limits. Zero values use the config.
type MineInput struct {
	Days            int
	MaxWindows      int
	MinMessages     int
	// MinSignificance, when set, replaces the configured floor; 0 disables it.
	MinSignificance *float64
}

// MineOutput contains the result of the Mine operation.
type MineOutput struct {
	Extract  *mining.Result         `json:"extract"`
	Generate *mining.GenerateReport `json:"generate,omitempty"`

	// Uncovered lists projects worked in during the mined windows that no skill
	// is named after.
	Uncovered []session.UncoveredProject `json:"uncovered_projects,omitempty"`
}

func (e *Env) mineOptions(mode mining.Mode, command string, input MineInput) mining.Options {
	opts := mining.Options{
		Mode:            mode,
		Command:         command,
		MaxDays:         e.Config.DaysBack,
		MaxWindows:      e.Config.MaxWindows,
		MinMessages:     e.Config.MinMessages,
		MinSignificance: e.Config.Significance(),
		Now:             e.now(),
	}
	if input.Days > 0 {
		opts.MaxDays = input.Days
	}
	if input.MaxWindows > 0 {
		opts.MaxWindows = input.MaxWindows
	}
	if input.MinMessages > 0 {
		opts.MinMessages = input.MinMessages
	}
	if input.MinSignificance != nil {
		opts.MinSignificance = *input.MinSignificance
	}
	return opts
}

func (e *Env) miner() (*mining.Miner, error) {
	set, err := e.collaborators()
	if err != nil {
		return nil, err
	}
	return &mining.Miner{
		Store:      e.Store,
		Source:     e.index(),
		Catalog:    e.catalog(),
		Classifier: set.Classifier,
		Extractor:  set.Extractor,
		Pool:       e.pool(),
		Policy:     e.policy(),
		Logger:     e.Logger,
	}, nil
}

// Classify runs the windows with classification only. Nothing is committed.
func Classify(ctx context.Context, env *Env, input MineInput) (*mining.Result, error) {
	mn, err := env.miner()
	if err != nil {
		return nil, err
	}
	return mn.Run(ctx, env.mineOptions(mining.ModeClassify, "classify", input))
}

// Extract runs the windows with classification and extraction, committing each
// window, and records the run in the index.
func Extract(ctx context.Context, env *Env, input MineInput) (*mining.Result, error) {
	return env.extract(ctx, "extract", input)
}

func (e *Env) extract(ctx context.Context, command string, input MineInput) (*mining.Result, error) {
	mn, err := e.miner()
	if err != nil {
		return nil, err
	}
	res, runErr := mn.Run(ctx, e.mineOptions(mining.ModeExtract, command, input))
	if res != nil && !e.DryRun() {
		rec := db.RunRecord{
			ID:            res.RunID,
			Command:       res.Command,
			StartedAt:     res.StartedAt,
			FinishedAt:    res.FinishedAt,
			Windows:       len(res.Windows),
			Conversations: res.Conversations,
			Committed:     res.Committed,
			Failed:        res.Failed,
			StopReason:    string(res.StopReason),
		}
		// A cancelled run still committed its finished windows.
		if err := db.InsertRun(context.WithoutCancel(ctx), e.DB, rec); err != nil {
			e.Logger.Warn().Err(err).Str("run_id", res.RunID).Msg("failed to record mining run")
		}
	}
	return res, runErr
}

// Generate turns pending observations into drafts.
func Generate(ctx context.Context, env *Env) (*mining.GenerateReport, error) {
	set, err := env.collaborators()
	if err != nil {
		return nil, err
	}
	d := &mining.Drafter{
		Store:     env.Store,
		Catalog:   env.catalog(),
		Generator: set.Generator,
		Pool:      env.pool(),
		Policy:    env.policy(),
		Logger:    env.Logger,
	}
	return d.Generate(ctx, env.now())
}

// Mine runs Extract then Generate. An extraction that stops abnormally (cancelled,
// or a window where every conversation failed) skips generation and returns the
// partial extraction result with its error.
func Mine(ctx context.Context, env *Env, input MineInput) (*MineOutput, error) {
	res, err := env.extract(ctx, "mine", input)
	if err != nil {
		if res != nil {
			return &MineOutput{Extract: res}, err
		}
		return nil, err
	}
	out := &MineOutput{Extract: res}
	out.Generate, err = Generate(ctx, env)
	if err != nil {
		return out, err
	}
	out.Uncovered = env.uncovered(ctx, res, input)
	return out, nil
}

// uncovered reports the projects touched in res's windows that have no skill.
// The report is advisory: failures are logged and yield no report.
func (e *Env) uncovered(ctx context.Context, res *mining.Result, input MineInput) []session.UncoveredProject {
	if len(res.Windows) == 0 {
		return nil
	}
	var start, end time.Time
	for i, w := range res.Windows {
		if i == 0 || w.Start.Before(start) {
			start = w.Start
		}
		if i == 0 || w.End.After(end) {
			end = w.End
		}
	}
	opts := e.mineOptions(mining.ModeExtract, "mine", input)
	convs, err := e.index().Conversations(ctx, start, end, opts.MinMessages)
	if err != nil {
		e.Logger.Warn().Err(err).Msg("failed to load conversations for coverage")
		return nil
	}

	home := e.Home
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return session.UncoveredProjects(convs, e.skillNames(), home)
}

// skillNames lists live manifest slugs and the skill directories already deployed.
func (e *Env) skillNames() []string {
	var names []string
	for slug, sk := range e.Store.Snapshot().Skills {
		if sk.Status != skill.StatusRejected {
			names = append(names, slug)
		}
	}
	entries, err := os.ReadDir(e.Deployer.Dir)
	if err != nil {
		return names
	}
	for _, ent := range entries {
		if ent.IsDir() {
			names = append(names, ent.Name())
		}
	}
	return names
}

// Runs returns recent mining runs, newest first.
func Runs(ctx context.Context, env *Env, limit int) ([]db.RunRecord, error) {
	runs, err := db.ListRuns(ctx, env.DB, limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []db.RunRecord{}
	}
	return runs, nil
}
