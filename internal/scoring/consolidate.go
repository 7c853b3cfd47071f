package scoring

import (
	"context"
	stderrors "errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/skillminer/internal/collab"
	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/manifest"
	"github.com/hpungsan/skillminer/internal/skill"
)

// refineTriggers is the number of trigger phrases shown to the refiner.
const refineTriggers = 5

var errEmptyDescription = stderrors.New("refiner returned an empty description")

// InvocationSource supplies the invocation log.
type InvocationSource interface {
	Invocations(ctx context.Context, since time.Time) ([]Invocation, error)
}

// Options configures one consolidation run.
type Options struct {
	// MinScore is the reject threshold. 0 means DefaultMinScore.
	MinScore float64
	// Slugs restricts the run to these skills. Empty means every skill.
	Slugs []string
	Now   time.Time
	// LookbackDays bounds the invocations counted. 0 counts everything.
	LookbackDays int
	// Refine rewrites kept skills' descriptions from their trigger phrases.
	Refine bool
}

// Verdict is the consolidation decision for one skill.
type Verdict string

const (
	VerdictKeep   Verdict = "keep"
	VerdictReject Verdict = "reject"
	// VerdictRejected marks a skill that was already rejected; it is scored for
	// normalization but never transitioned.
	VerdictRejected Verdict = "already_rejected"
)

// SkillScore is the scored state of one skill.
type SkillScore struct {
	Slug        string       `json:"slug"`
	Domain      string       `json:"domain"`
	Status      skill.Status `json:"status"`
	FireCount   int          `json:"fire_count"`
	LastFiredAt *time.Time   `json:"last_fired_at,omitempty"`
	Breakdown   Breakdown    `json:"breakdown"`
	Verdict     Verdict      `json:"verdict"`

	triggers []string
}

// Refinement is a rewritten description.
type Refinement struct {
	Slug   string `json:"slug"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// RefineFailure is a refinement that did not apply. It never affects reject decisions.
type RefineFailure struct {
	Slug  string `json:"slug"`
	Error string `json:"error"`
}

// Report is the outcome of a consolidation run.
type Report struct {
	MinScore       float64                    `json:"min_score"`
	Scored         []SkillScore               `json:"scored"`
	Rejected       []manifest.Change          `json:"rejected"`
	Skipped        []manifest.TransitionError `json:"skipped,omitempty"`
	Refined        []Refinement               `json:"refined,omitempty"`
	RefineFailures []RefineFailure            `json:"refine_failures,omitempty"`
	DryRun         bool                       `json:"dry_run"`
}

// Evaluate scores the skills in scope against stats. Scope is opts.Slugs or every
// entry; rejected entries take part in normalization so that rejecting a skill
// never shifts the scores of the others on the next run. Unknown slugs are
// returned as skipped.
func Evaluate(m *manifest.Manifest, stats map[string]Stats, opts Options) ([]SkillScore, []manifest.TransitionError) {
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = DefaultMinScore
	}

	var scope []*skill.Skill
	var skipped []manifest.TransitionError
	if len(opts.Slugs) == 0 {
		for _, slug := range m.Slugs() {
			scope = append(scope, m.Skills[slug])
		}
	} else {
		seen := map[string]bool{}
		for _, slug := range opts.Slugs {
			if seen[slug] {
				continue
			}
			seen[slug] = true
			sk, ok := m.Get(slug)
			if !ok {
				e := errors.NewNotFound(slug)
				skipped = append(skipped, manifest.TransitionError{Slug: slug, Code: string(e.Code), Message: e.Message})
				continue
			}
			scope = append(scope, sk)
		}
		sort.Slice(scope, func(i, j int) bool { return scope[i].Slug < scope[j].Slug })
	}

	maxFire, maxRich := 0, 0
	for _, sk := range scope {
		maxFire = max(maxFire, stats[sk.Slug].FireCount)
		maxRich = max(maxRich, sk.PatternWeight())
	}

	out := make([]SkillScore, 0, len(scope))
	for _, sk := range scope {
		st := stats[sk.Slug]
		last := latest(st.LastFiredAt, sk.LastFiredAt)
		b := Score(Inputs{
			FireCount:          st.FireCount,
			MaxFireCount:       maxFire,
			Richness:           sk.PatternWeight(),
			MaxRichness:        maxRich,
			ProductiveFraction: st.ProductiveFraction(),
			DaysIdle:           DaysIdle(sk, last, opts.Now),
		})

		v := VerdictKeep
		switch {
		case sk.Status == skill.StatusRejected:
			v = VerdictRejected
		case b.Final < minScore:
			v = VerdictReject
		}
		out = append(out, SkillScore{
			Slug:        sk.Slug,
			Domain:      sk.Domain,
			Status:      sk.Status,
			FireCount:   st.FireCount,
			LastFiredAt: last,
			Breakdown:   b,
			Verdict:     v,
			triggers:    st.TopTriggers(refineTriggers),
		})
	}
	return out, skipped
}

func latest(a, b *time.Time) *time.Time {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		t := *b
		return &t
	case b == nil || a.After(*b):
		t := *a
		return &t
	}
	t := *b
	return &t
}

// Consolidator applies scores and reject decisions to the manifest.
type Consolidator struct {
	Store    *manifest.Store
	Deployer *manifest.Deployer
	Refiner  collab.Refiner
	Pool     *collab.Pool
	Policy   collab.Policy
	Logger   zerolog.Logger
}

// Run scores the invocation log, persists scores and fire stats, rejects skills
// below the threshold and then, if asked, refines the descriptions of kept skills.
func (c *Consolidator) Run(ctx context.Context, invs []Invocation, opts Options) (*Report, error) {
	if opts.Now.IsZero() {
		opts.Now = c.Store.Now()
	}
	if opts.MinScore <= 0 {
		opts.MinScore = DefaultMinScore
	}
	var since time.Time
	if opts.LookbackDays > 0 {
		since = opts.Now.AddDate(0, 0, -opts.LookbackDays)
	}
	stats := CollectStats(invs, since, opts.Now)

	report := &Report{MinScore: opts.MinScore, DryRun: c.Store.DryRun(), Rejected: []manifest.Change{}}
	report.Scored, report.Skipped = Evaluate(c.Store.Snapshot(), stats, opts)

	var reject []string
	for _, s := range report.Scored {
		if s.Verdict == VerdictReject {
			reject = append(reject, s.Slug)
		}
	}

	var res manifest.BatchResult
	_, err := c.Store.Update(func(m *manifest.Manifest) error {
		for _, s := range report.Scored {
			sk, ok := m.Skills[s.Slug]
			if !ok {
				continue
			}
			final := s.Breakdown.Final
			sk.Score = &final
			sk.FireCount = s.FireCount
			sk.LastFiredAt = s.LastFiredAt
		}
		res = manifest.Apply(m, reject, manifest.ActionReject, manifest.ApplyOptions{
			Now:      opts.Now,
			Deployer: c.Deployer,
		})
		return nil
	})
	if err := res.Finish(err); err != nil {
		return nil, err
	}
	report.Rejected = res.Changed
	report.Skipped = append(report.Skipped, res.Skipped...)
	report.Skipped = append(report.Skipped, res.Cleanup...)
	for _, ch := range report.Rejected {
		c.Logger.Info().Str("slug", ch.Slug).Str("from", string(ch.From)).Msg("rejected below min score")
	}

	if opts.Refine && c.Refiner != nil {
		if err := c.refine(ctx, report, opts.Now); err != nil {
			return report, err
		}
	}
	return report, nil
}

type refineJob struct {
	slug     string
	doc      skill.Document
	triggers []string
	result   string
}

func (c *Consolidator) refine(ctx context.Context, report *Report, now time.Time) error {
	var jobs []*refineJob
	for _, s := range report.Scored {
		if s.Verdict != VerdictKeep || len(s.triggers) == 0 {
			continue
		}
		content, err := c.Store.ReadContent(s.Slug)
		if err != nil {
			report.RefineFailures = append(report.RefineFailures, RefineFailure{Slug: s.Slug, Error: err.Error()})
			continue
		}
		doc, err := skill.Parse(content)
		if err != nil {
			report.RefineFailures = append(report.RefineFailures, RefineFailure{Slug: s.Slug, Error: err.Error()})
			continue
		}
		jobs = append(jobs, &refineJob{slug: s.Slug, doc: doc, triggers: s.triggers})
	}

	pool := c.Pool
	if pool == nil {
		pool = collab.NewPool(collab.DefaultLimit)
	}
	errs, err := pool.Run(ctx, len(jobs), func(ctx context.Context, i int) error {
		j := jobs[i]
		desc, err := collab.Retry(ctx, c.Policy, func(ctx context.Context) (string, error) {
			return c.Refiner.Refine(ctx, collab.RefineRequest{
				Slug:        j.slug,
				Description: j.doc.Description,
				Body:        j.doc.Body,
				Triggers:    j.triggers,
			})
		})
		if err != nil {
			return err
		}
		if desc == "" {
			return collab.Invalid("refine", errEmptyDescription)
		}
		j.result = desc
		return nil
	})
	if err != nil {
		return errors.NewCancelled("refine")
	}

	for i, j := range jobs {
		if errs[i] != nil {
			c.Logger.Warn().Err(errs[i]).Str("slug", j.slug).Msg("refinement failed")
			report.RefineFailures = append(report.RefineFailures, RefineFailure{Slug: j.slug, Error: errs[i].Error()})
			continue
		}
		if j.result == j.doc.Description {
			continue
		}
		if err := c.applyRefinement(j, now); err != nil {
			report.RefineFailures = append(report.RefineFailures, RefineFailure{Slug: j.slug, Error: err.Error()})
			continue
		}
		report.Refined = append(report.Refined, Refinement{Slug: j.slug, Before: j.doc.Description, After: j.result})
	}
	return nil
}

func (c *Consolidator) applyRefinement(j *refineJob, now time.Time) error {
	doc := j.doc
	doc.Description = j.result
	doc.Updated = skill.Stamp(now)
	content, err := doc.Render()
	if err != nil {
		return err
	}
	stage := c.Store.Stage()
	if err := stage.Write(j.slug, content); err != nil {
		return err
	}
	_, err = c.Store.Update(func(m *manifest.Manifest) error {
		sk, ok := m.Skills[j.slug]
		if !ok {
			return errors.NewNotFound(j.slug)
		}
		sk.Description = j.result
		sk.ContentHash = skill.Checksum(content)
		sk.UpdatedAt = now.UTC()
		return nil
	})
	return stage.Settle(err)
}
