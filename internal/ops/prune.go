package ops

import (
	"sort"

	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/manifest"
	"github.com/hpungsan/skillminer/internal/skill"
)

// PruneInput selects what Prune removes. At least one field must be set.
type PruneInput struct {
	// Misc drops catch-all drafts and pending catch-all observations.
	Misc bool
	// Rejected retires rejected entries.
	Rejected bool
	// Duplicates drops drafts whose content hash duplicates another skill.
	Duplicates bool
}

// Pruned is one removed skill.
type Pruned struct {
	Slug   string       `json:"slug"`
	Status skill.Status `json:"status"`
	Reason string       `json:"reason"`
	// DuplicateOf names the kept skill for duplicates.
	DuplicateOf string `json:"duplicate_of,omitempty"`
}

// PruneOutput contains the result of the Prune operation.
type PruneOutput struct {
	Removed      []Pruned `json:"removed"`
	Observations int      `json:"observations_dropped"`
	DryRun       bool     `json:"dry_run"`
}

// Prune retires skills in one manifest update and then removes their content
// files. Retired slugs are never reassigned.
func Prune(env *Env, input PruneInput) (*PruneOutput, error) {
	if !input.Misc && !input.Rejected && !input.Duplicates {
		return nil, errors.NewInvalidRequest("specify at least one of --misc, --rejected, --duplicates")
	}
	catchAll := env.catalog().CatchAll()

	out := &PruneOutput{Removed: []Pruned{}, DryRun: env.DryRun()}
	_, err := env.Store.Update(func(m *manifest.Manifest) error {
		out.Removed = out.Removed[:0]
		out.Observations = 0

		seen := map[string]bool{}
		add := func(p Pruned) {
			if !seen[p.Slug] {
				seen[p.Slug] = true
				out.Removed = append(out.Removed, p)
			}
		}

		if input.Misc {
			for _, sk := range m.List(manifest.Filter{Status: skill.StatusDraft, Domain: catchAll}) {
				add(Pruned{Slug: sk.Slug, Status: sk.Status, Reason: "misc"})
			}
			kept := m.Pending[:0:0]
			for _, o := range m.Pending {
				if o.Domain == catchAll {
					out.Observations++
					continue
				}
				kept = append(kept, o)
			}
			m.Pending = kept
		}
		if input.Rejected {
			for _, sk := range m.List(manifest.Filter{Status: skill.StatusRejected}) {
				add(Pruned{Slug: sk.Slug, Status: sk.Status, Reason: "rejected"})
			}
		}
		if input.Duplicates {
			for _, p := range duplicates(m) {
				add(p)
			}
		}

		for _, p := range out.Removed {
			m.Retire(p.Slug)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, p := range out.Removed {
		if err := env.Store.RemoveContent(p.Slug); err != nil {
			env.Logger.Warn().Err(err).Str("slug", p.Slug).Msg("failed to remove content file")
		}
		env.Logger.Info().Str("slug", p.Slug).Str("reason", p.Reason).Msg("pruned")
	}
	return out, nil
}

// duplicates finds drafts sharing a content hash with another skill. In each group
// the keeper is a non-draft when there is one, else the oldest draft.
func duplicates(m *manifest.Manifest) []Pruned {
	groups := map[string][]*skill.Skill{}
	for _, slug := range m.Slugs() {
		sk := m.Skills[slug]
		if sk.ContentHash == "" {
			continue
		}
		groups[sk.ContentHash] = append(groups[sk.ContentHash], sk)
	}

	var out []Pruned
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			di, dj := group[i].Status == skill.StatusDraft, group[j].Status == skill.StatusDraft
			if di != dj {
				return !di
			}
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.Before(group[j].CreatedAt)
			}
			return group[i].Slug < group[j].Slug
		})
		keeper := group[0]
		for _, sk := range group[1:] {
			if sk.Status == skill.StatusDraft {
				out = append(out, Pruned{Slug: sk.Slug, Status: sk.Status, Reason: "duplicate", DuplicateOf: keeper.Slug})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}
