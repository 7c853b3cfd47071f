package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/skill"
)

// Action is an operator or consolidation request against a skill.
type Action string

const (
	ActionApprove Action = "approve"
	ActionDeploy  Action = "deploy"
	ActionReject  Action = "reject"
)

func (a Action) target() skill.Status {
	switch a {
	case ActionApprove:
		return skill.StatusApproved
	case ActionDeploy:
		return skill.StatusDeployed
	default:
		return skill.StatusRejected
	}
}

// Next returns the status an action moves a skill to.
//
//	draft    -> approved               (approve)
//	approved -> deployed               (deploy)
//	draft    -> deployed               (deploy, unless approvedOnly)
//	deployed -> deployed               (deploy, refreshes the active copy)
//	draft|approved|deployed -> rejected (reject)
//
// rejected is terminal.
func Next(from skill.Status, action Action, approvedOnly bool) (skill.Status, bool) {
	switch action {
	case ActionApprove:
		if from == skill.StatusDraft {
			return skill.StatusApproved, true
		}
	case ActionDeploy:
		switch from {
		case skill.StatusApproved, skill.StatusDeployed:
			return skill.StatusDeployed, true
		case skill.StatusDraft:
			if !approvedOnly {
				return skill.StatusDeployed, true
			}
		}
	case ActionReject:
		switch from {
		case skill.StatusDraft, skill.StatusApproved, skill.StatusDeployed:
			return skill.StatusRejected, true
		}
	}
	return from, false
}

// Change is one applied transition.
type Change struct {
	Slug      string       `json:"slug"`
	From      skill.Status `json:"from"`
	To        skill.Status `json:"to"`
	Refreshed bool         `json:"refreshed,omitempty"`
}

// TransitionError is a per-skill failure inside a batch. The batch continues.
type TransitionError struct {
	Slug    string `json:"slug"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchResult reports a batch of transitions.
type BatchResult struct {
	Changed []Change          `json:"changed"`
	Skipped []TransitionError `json:"skipped,omitempty"`

	// Cleanup lists committed rejections whose active copy could not be removed.
	Cleanup []TransitionError `json:"cleanup_failed,omitempty"`

	deployer *Deployer
	installs []install
	removals []string
}

// install remembers the active copy a deploy replaced.
type install struct {
	slug     string
	previous []byte // nil when there was no active copy
}

// Finish settles the deployment location once the Update that ran Apply has
// returned. commitErr is that Update's error. On failure the active copies written
// by the batch are put back and commitErr is returned; on success the active
// copies of rejected skills are removed.
func (r *BatchResult) Finish(commitErr error) error {
	d := r.deployer
	if commitErr != nil {
		if d != nil {
			for i := len(r.installs) - 1; i >= 0; i-- {
				in := r.installs[i]
				if in.previous != nil {
					_ = d.Install(in.slug, in.previous)
				} else {
					_ = d.Uninstall(in.slug)
				}
			}
		}
		r.installs = nil
		r.removals = nil
		return commitErr
	}
	if d != nil {
		for _, slug := range r.removals {
			if err := d.Uninstall(slug); err != nil {
				r.Cleanup = append(r.Cleanup, skipped(slug, err))
			}
		}
	}
	r.installs = nil
	r.removals = nil
	return nil
}

// ApplyOptions carries the side-effect capabilities of a batch.
type ApplyOptions struct {
	Now time.Time

	// ApprovedOnly enforces the approval gate for deploy.
	ApprovedOnly bool

	// Content reads a skill's draft content (deploy only).
	Content func(slug string) ([]byte, error)

	// Deployer owns the active deployment location.
	Deployer *Deployer
}

// Apply runs action against each slug in m. Unknown slugs and forbidden transitions
// are reported in Skipped and leave that skill untouched.
//
// Deploy copies content verbatim to the deployment location right away, so a
// failed install skips the skill. Removing the active copy of a rejected skill is
// deferred. Call Finish with the Update error once the snapshot is committed (or
// not).
func Apply(m *Manifest, slugs []string, action Action, opts ApplyOptions) BatchResult {
	res := BatchResult{Changed: []Change{}, deployer: opts.Deployer}
	seen := map[string]bool{}
	for _, slug := range slugs {
		if seen[slug] {
			continue
		}
		seen[slug] = true

		sk, ok := m.Skills[slug]
		if !ok {
			res.Skipped = append(res.Skipped, skipped(slug, errors.NewNotFound(slug)))
			continue
		}
		to, ok := Next(sk.Status, action, opts.ApprovedOnly)
		if !ok {
			res.Skipped = append(res.Skipped, skipped(slug,
				errors.NewInvalidTransition(slug, string(sk.Status), string(action.target()))))
			continue
		}

		from := sk.Status
		if err := res.stage(sk, action, opts); err != nil {
			res.Skipped = append(res.Skipped, skipped(slug, err))
			continue
		}

		now := opts.Now.UTC()
		sk.Status = to
		sk.UpdatedAt = now
		if action == ActionDeploy {
			sk.DeployedAt = &now
		}
		res.Changed = append(res.Changed, Change{
			Slug:      slug,
			From:      from,
			To:        to,
			Refreshed: from == skill.StatusDeployed && to == skill.StatusDeployed,
		})
	}
	return res
}

func (r *BatchResult) stage(sk *skill.Skill, action Action, opts ApplyOptions) error {
	switch action {
	case ActionDeploy:
		if opts.Deployer == nil || opts.Content == nil {
			return errors.NewInternal(fmt.Errorf("deploy requires a deployer and a content reader"))
		}
		content, err := opts.Content(sk.Slug)
		if err != nil {
			return err
		}
		previous, err := opts.Deployer.Read(sk.Slug)
		if err != nil {
			if !errors.Is(err, errors.ErrFileNotFound) {
				return err
			}
			previous = nil
		}
		if err := opts.Deployer.Install(sk.Slug, content); err != nil {
			return err
		}
		r.installs = append(r.installs, install{slug: sk.Slug, previous: previous})
	case ActionReject:
		if sk.Status == skill.StatusDeployed && opts.Deployer != nil {
			r.removals = append(r.removals, sk.Slug)
		}
	}
	return nil
}

func skipped(slug string, err error) TransitionError {
	if sErr, ok := errors.As(err); ok {
		return TransitionError{Slug: slug, Code: string(sErr.Code), Message: sErr.Message}
	}
	return TransitionError{Slug: slug, Code: string(errors.ErrInternal), Message: err.Error()}
}

// SkillFile is the file name of a deployed skill inside its directory.
const SkillFile = "SKILL.md"

// Deployer manages the active deployment location: one <slug>/SKILL.md per deployed skill.
type Deployer struct {
	Dir    string
	DryRun bool
}

// Path returns the deployed file path for slug.
func (d *Deployer) Path(slug string) string {
	return filepath.Join(d.Dir, slug, SkillFile)
}

// Install writes content verbatim as the active copy of slug.
func (d *Deployer) Install(slug string, content []byte) error {
	if !skill.ValidSlug(slug) {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid slug %q", slug))
	}
	if d.DryRun {
		return nil
	}
	return WriteFileAtomic(d.Path(slug), content, 0644)
}

// Uninstall removes the active copy of slug. A missing copy is not an error.
func (d *Deployer) Uninstall(slug string) error {
	if !skill.ValidSlug(slug) {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid slug %q", slug))
	}
	if d.DryRun {
		return nil
	}
	if err := os.Remove(d.Path(slug)); err != nil && !os.IsNotExist(err) {
		return errors.NewInternal(err)
	}
	// Only removes the directory when nothing else lives in it.
	_ = os.Remove(filepath.Join(d.Dir, slug))
	return nil
}

// Read returns the active copy of slug, or FILE_NOT_FOUND.
func (d *Deployer) Read(slug string) ([]byte, error) {
	if !skill.ValidSlug(slug) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid slug %q", slug))
	}
	return ReadFileNoFollow(d.Path(slug))
}
