package mining

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/skillminer/internal/collab"
	"github.com/hpungsan/skillminer/internal/domains"
	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/manifest"
	"github.com/hpungsan/skillminer/internal/skill"
)

var errEmptyBody = stderrors.New("generator returned an empty body")

// Drafter turns pending observations into draft skills.
type Drafter struct {
	Store     *manifest.Store
	Catalog   *domains.Catalog
	Generator collab.Generator
	Pool      *collab.Pool
	Policy    collab.Policy
	Logger    zerolog.Logger
}

// DraftResult is one generated or regenerated skill.
type DraftResult struct {
	Slug          string             `json:"slug"`
	Domain        string             `json:"domain"`
	Status        skill.Status       `json:"status"`
	Merged        bool               `json:"merged"`
	Patterns      []skill.PatternRef `json:"patterns"`
	Conversations int                `json:"conversations"`
	Candidates    []PatternCandidate `json:"-"`
}

// DomainFailure is a domain whose generation failed. Its observations stay pending.
type DomainFailure struct {
	Domain string `json:"domain"`
	Error  string `json:"error"`
}

// GenerateReport is the outcome of Generate.
type GenerateReport struct {
	Drafts   []DraftResult   `json:"drafts"`
	Failures []DomainFailure `json:"failures,omitempty"`
	// Consumed counts observations removed from pending.
	Consumed int  `json:"consumed"`
	Pending  int  `json:"pending"`
	DryRun   bool `json:"dry_run"`
}

type draftJob struct {
	domain   domains.Domain
	slug     string
	target   *skill.Skill
	cands    []PatternCandidate
	patterns []skill.PatternRef
	convs    int
	content  []byte
	desc     string
}

// Generate aggregates the manifest's pending observations and writes one draft per
// domain with surviving patterns. A domain with a live skill regenerates that skill
// in place; otherwise a new slug is allocated. Observations of a domain are consumed
// only when its draft was written. Domains with no surviving pattern keep their
// observations pending so they can reach the threshold in a later run.
func (d *Drafter) Generate(ctx context.Context, now time.Time) (*GenerateReport, error) {
	if d.Generator == nil {
		return nil, errors.NewInvalidRequest("no generator configured")
	}
	if d.Catalog == nil {
		d.Catalog = domains.NewCatalog(nil, "")
	}
	if now.IsZero() {
		now = d.Store.Now()
	}
	pool := d.Pool
	if pool == nil {
		pool = collab.NewPool(collab.DefaultLimit)
	}

	plan := d.Store.Snapshot()
	agg := Aggregate(plan.Pending)
	report := &GenerateReport{Drafts: []DraftResult{}, DryRun: d.Store.DryRun()}

	var jobs []*draftJob
	for _, domain := range SortedDomains(agg) {
		if domain == d.Catalog.CatchAll() {
			continue
		}
		dom, ok := d.Catalog.Lookup(domain)
		if !ok {
			dom = domains.Domain{Name: domain, Slug: domain}
		}
		cands := agg[domain]
		refs := make([]skill.PatternRef, len(cands))
		for i, c := range cands {
			refs[i] = c.Ref()
		}

		j := &draftJob{domain: dom, cands: cands, convs: ConversationCount(cands)}
		if target := plan.TargetFor(domain); target != nil {
			j.target = target
			j.slug = target.Slug
			j.patterns = manifest.MergePatterns(target.Patterns, refs)
		} else {
			j.slug = plan.AllocateSlug(domain)
			j.patterns = refs
			// reserve the slug for the rest of this plan
			plan.Skills[j.slug] = &skill.Skill{Slug: j.slug, Domain: domain, Status: skill.StatusDraft}
		}
		jobs = append(jobs, j)
	}

	errs, err := pool.Run(ctx, len(jobs), func(ctx context.Context, i int) error {
		j := jobs[i]
		content, err := collab.Retry(ctx, d.Policy, func(ctx context.Context) (collab.Content, error) {
			c, err := d.Generator.Generate(ctx, collab.GenerateRequest{
				Slug:              j.slug,
				Domain:            j.domain,
				Patterns:          j.patterns,
				ConversationCount: j.convs,
			})
			if err == nil && strings.TrimSpace(c.Body) == "" {
				err = collab.Invalid("generate", errEmptyBody)
			}
			return c, err
		})
		if err != nil {
			return err
		}
		return j.render(content, now)
	})
	if err != nil {
		return nil, errors.NewCancelled("generate")
	}

	var done []*draftJob
	stage := d.Store.Stage()
	for i, j := range jobs {
		if errs[i] != nil {
			d.Logger.Warn().Err(errs[i]).Str("domain", j.domain.Slug).Msg("generation failed")
			report.Failures = append(report.Failures, DomainFailure{Domain: j.domain.Slug, Error: errs[i].Error()})
			continue
		}
		if err := stage.Write(j.slug, j.content); err != nil {
			report.Failures = append(report.Failures, DomainFailure{Domain: j.domain.Slug, Error: err.Error()})
			continue
		}
		done = append(done, j)
	}

	consumed := map[string]bool{}
	for _, j := range done {
		consumed[j.domain.Slug] = true
	}
	m, err := d.Store.Update(func(m *manifest.Manifest) error {
		for _, j := range done {
			sk := m.Upsert(manifest.Generated{
				Slug:              j.slug,
				Domain:            j.domain.Slug,
				Description:       j.desc,
				Patterns:          j.patterns,
				ConversationCount: j.convs,
				ContentHash:       skill.Checksum(j.content),
			}, now)
			report.Drafts = append(report.Drafts, DraftResult{
				Slug:          sk.Slug,
				Domain:        sk.Domain,
				Status:        sk.Status,
				Merged:        j.target != nil,
				Patterns:      sk.Patterns,
				Conversations: j.convs,
				Candidates:    j.cands,
			})
		}
		kept := m.Pending[:0:0]
		for _, o := range m.Pending {
			if consumed[o.Domain] {
				report.Consumed++
				continue
			}
			kept = append(kept, o)
		}
		m.Pending = kept
		return nil
	})
	if err := stage.Settle(err); err != nil {
		return nil, err
	}
	report.Pending = len(m.Pending)

	d.Logger.Info().
		Int("drafts", len(report.Drafts)).
		Int("failed", len(report.Failures)).
		Int("pending", report.Pending).
		Msg("generation finished")
	return report, nil
}

func (j *draftJob) render(c collab.Content, now time.Time) error {
	desc := strings.TrimSpace(c.Description)
	if desc == "" {
		desc = fmt.Sprintf("Use when working on %s tasks", strings.ToLower(j.domain.Name))
	}
	created := now
	if j.target != nil {
		created = j.target.CreatedAt
	}
	body := strings.TrimSpace(c.Body) + "\n"
	content, err := skill.NewDocument(j.slug, desc, j.domain.Slug, created, now, body).Render()
	if err != nil {
		return collab.Permanent("generate", err)
	}
	j.content = content
	j.desc = desc
	return nil
}
