package ops

import (
	"fmt"
	"strings"

	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/manifest"
	"github.com/hpungsan/skillminer/internal/skill"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Status string // optional; one of draft, approved, deployed, rejected
	Domain string // optional
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Skills  []skill.Summary      `json:"skills"`
	Counts  map[skill.Status]int `json:"counts"`
	Pending int                  `json:"pending_observations"`
	LastRun *manifest.RunInfo    `json:"last_run,omitempty"`
}

// List returns manifest entries matching the filters, ordered by slug.
func List(env *Env, input ListInput) (*ListOutput, error) {
	var f manifest.Filter
	if input.Status != "" {
		st, ok := skill.ParseStatus(input.Status)
		if !ok {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown status %q", input.Status))
		}
		f.Status = st
	}
	f.Domain = skill.Normalize(input.Domain)

	m := env.Store.Snapshot()
	out := &ListOutput{
		Skills:  []skill.Summary{},
		Counts:  m.CountByStatus(),
		Pending: len(m.Pending),
		LastRun: m.LastRun,
	}
	for _, sk := range m.List(f) {
		out.Skills = append(out.Skills, sk.ToSummary())
	}
	return out, nil
}

// ShowOutput is one skill with its draft content.
type ShowOutput struct {
	Skill   *skill.Skill `json:"skill"`
	Content string       `json:"content"`
	// Deployed is the active copy when one exists.
	Deployed string `json:"deployed,omitempty"`
}

// Show returns a skill record and its content.
func Show(env *Env, slug string) (*ShowOutput, error) {
	slug = strings.TrimSpace(slug)
	sk, ok := env.Store.Snapshot().Get(slug)
	if !ok {
		return nil, errors.NewNotFound(slug)
	}
	content, err := env.Store.ReadContent(slug)
	if err != nil {
		return nil, err
	}
	out := &ShowOutput{Skill: sk, Content: string(content)}
	if sk.Status == skill.StatusDeployed {
		if deployed, err := env.Deployer.Read(slug); err == nil {
			out.Deployed = string(deployed)
		}
	}
	return out, nil
}

// TransitionOutput reports a batch of lifecycle transitions.
type TransitionOutput struct {
	manifest.BatchResult
	DryRun bool `json:"dry_run"`
}

func transition(env *Env, slugs []string, action manifest.Action, approvedOnly bool) (*TransitionOutput, error) {
	if len(slugs) == 0 {
		return nil, errors.NewInvalidRequest("at least one slug is required")
	}

	var contents map[string][]byte
	if action == manifest.ActionDeploy {
		// Read before taking the store lock; content reads share it in dry-run.
		contents = make(map[string][]byte, len(slugs))
		for _, slug := range slugs {
			if data, err := env.Store.ReadContent(slug); err == nil {
				contents[slug] = data
			}
		}
	}
	content := func(slug string) ([]byte, error) {
		data, ok := contents[slug]
		if !ok {
			return nil, errors.NewFileNotFound(env.Store.ContentPath(slug))
		}
		return data, nil
	}

	var res manifest.BatchResult
	_, err := env.Store.Update(func(m *manifest.Manifest) error {
		res = manifest.Apply(m, slugs, action, manifest.ApplyOptions{
			Now:          env.now(),
			ApprovedOnly: approvedOnly,
			Content:      content,
			Deployer:     env.Deployer,
		})
		return nil
	})
	if err := res.Finish(err); err != nil {
		return nil, err
	}
	for _, ch := range res.Changed {
		env.Logger.Info().Str("slug", ch.Slug).Str("from", string(ch.From)).Str("to", string(ch.To)).Msg(string(action))
	}
	for _, s := range res.Skipped {
		env.Logger.Warn().Str("slug", s.Slug).Str("code", s.Code).Msg(s.Message)
	}
	for _, s := range res.Cleanup {
		env.Logger.Warn().Str("slug", s.Slug).Str("code", s.Code).Msg("active copy not removed: " + s.Message)
	}
	return &TransitionOutput{BatchResult: res, DryRun: env.DryRun()}, nil
}

// Approve moves drafts to approved.
func Approve(env *Env, slugs []string) (*TransitionOutput, error) {
	return transition(env, slugs, manifest.ActionApprove, false)
}

// Reject moves skills to rejected, removing any deployed copy.
func Reject(env *Env, slugs []string) (*TransitionOutput, error) {
	return transition(env, slugs, manifest.ActionReject, false)
}

// DeployInput contains parameters for the Deploy operation.
type DeployInput struct {
	// Slugs are deployed regardless of approval.
	Slugs []string
	// Approved deploys every approved skill and enforces the approval gate.
	Approved bool
}

// Deploy copies skills into the deployment location.
func Deploy(env *Env, input DeployInput) (*TransitionOutput, error) {
	if input.Approved {
		if len(input.Slugs) > 0 {
			return nil, errors.NewInvalidRequest("specify slugs or --approved, not both")
		}
		var slugs []string
		for _, sk := range env.Store.Snapshot().List(manifest.Filter{Status: skill.StatusApproved}) {
			slugs = append(slugs, sk.Slug)
		}
		if len(slugs) == 0 {
			return &TransitionOutput{BatchResult: manifest.BatchResult{Changed: []manifest.Change{}}, DryRun: env.DryRun()}, nil
		}
		return transition(env, slugs, manifest.ActionDeploy, true)
	}
	return transition(env, input.Slugs, manifest.ActionDeploy, false)
}

// DiffOutput contains the result of the Diff operation.
type DiffOutput struct {
	Diffs []manifest.DiffResult `json:"diffs"`
}

// Diff compares draft content against the deployed copy for one slug, or for
// every deployed skill when slug is empty.
func Diff(env *Env, slug string) (*DiffOutput, error) {
	m := env.Store.Snapshot()
	var slugs []string
	if slug = strings.TrimSpace(slug); slug != "" {
		if _, ok := m.Get(slug); !ok {
			return nil, errors.NewNotFound(slug)
		}
		slugs = []string{slug}
	} else {
		for _, sk := range m.List(manifest.Filter{Status: skill.StatusDeployed}) {
			slugs = append(slugs, sk.Slug)
		}
	}

	out := &DiffOutput{Diffs: []manifest.DiffResult{}}
	for _, s := range slugs {
		draft, err := env.Store.ReadContent(s)
		if err != nil {
			return nil, err
		}
		deployed, err := env.Deployer.Read(s)
		if err != nil {
			if !errors.Is(err, errors.ErrFileNotFound) {
				return nil, err
			}
			deployed = nil
		}
		out.Diffs = append(out.Diffs, manifest.Diff(s, draft, deployed))
	}
	return out, nil
}
