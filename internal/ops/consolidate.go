package ops

import (
	"context"
	"time"

	"github.com/hpungsan/skillminer/internal/scoring"
)

// ConsolidateInput contains parameters for the Consolidate operation.
type ConsolidateInput struct {
	Slugs    []string // optional; empty scores every skill
	MinScore float64  // 0 means the configured threshold
	Refine   bool
}

// Consolidate scores skills from the indexed invocation log and rejects those
// below the threshold. With Refine, kept skills get rewritten descriptions.
func Consolidate(ctx context.Context, env *Env, input ConsolidateInput) (*scoring.Report, error) {
	c := &scoring.Consolidator{
		Store:    env.Store,
		Deployer: env.Deployer,
		Pool:     env.pool(),
		Policy:   env.policy(),
		Logger:   env.Logger,
	}
	if input.Refine {
		set, err := env.collaborators()
		if err != nil {
			return nil, err
		}
		c.Refiner = set.Refiner
	}

	now := env.now()
	lookback := env.Config.ScoreLookbackDays
	var since time.Time
	if lookback > 0 {
		since = now.AddDate(0, 0, -lookback)
	}
	invs, err := env.index().Invocations(ctx, since)
	if err != nil {
		return nil, err
	}

	minScore := input.MinScore
	if minScore <= 0 {
		minScore = env.Config.MinScore
	}
	return c.Run(ctx, invs, scoring.Options{
		MinScore:     minScore,
		Slugs:        input.Slugs,
		Now:          now,
		LookbackDays: lookback,
		Refine:       input.Refine,
	})
}
