package bundle

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/manifest"
	"github.com/hpungsan/skillminer/internal/skill"
)

// ImportMode controls collision behavior during import.
type ImportMode string

const (
	ImportModeError   ImportMode = "error"   // fail on any live slug collision
	ImportModeReplace ImportMode = "replace" // overwrite the colliding skill
	ImportModeRename  ImportMode = "rename"  // auto-suffix the slug on collision
)

// ParseImportMode validates a mode name. Empty means ImportModeError.
func ParseImportMode(s string) (ImportMode, error) {
	switch ImportMode(strings.TrimSpace(s)) {
	case "", ImportModeError:
		return ImportModeError, nil
	case ImportModeReplace:
		return ImportModeReplace, nil
	case ImportModeRename:
		return ImportModeRename, nil
	}
	return "", errors.NewInvalidRequest(fmt.Sprintf("invalid mode %q: must be error, replace, or rename", s))
}

// ImportInput contains parameters for Import.
type ImportInput struct {
	Dir  string
	Mode ImportMode
	// Deployer, when set, removes the active copy of a deployed skill that is replaced.
	Deployer *manifest.Deployer
}

// Imported describes one skill written by Import.
type Imported struct {
	Slug     string `json:"slug"`
	Source   string `json:"source,omitempty"` // bundle slug when renamed
	Replaced bool   `json:"replaced,omitempty"`
	Revived  bool   `json:"revived,omitempty"` // slug was rejected or retired before
}

// ImportOutput is the result of Import.
type ImportOutput struct {
	Bundle   string     `json:"bundle"`
	Mode     ImportMode `json:"mode"`
	Imported []Imported `json:"imported"`
	DryRun   bool       `json:"dry_run"`
}

type importPlan struct {
	entry   Entry
	slug    string
	content []byte
	action  Imported
}

// Import adds every skill of the bundle at input.Dir to the store as a draft. The
// whole bundle is verified first; a checksum problem aborts before anything is
// written. A slug held by a rejected (or retired) skill re-enters as a fresh draft.
func Import(store *manifest.Store, input ImportInput, now time.Time) (*ImportOutput, error) {
	mode, err := ParseImportMode(string(input.Mode))
	if err != nil {
		return nil, err
	}

	b, err := Read(input.Dir)
	if err != nil {
		return nil, err
	}
	if problems := entryProblems(b); len(problems) > 0 {
		return nil, errors.NewBundleInvalid(problems)
	}
	contents, err := LoadSkills(input.Dir, b)
	if err != nil {
		return nil, err
	}

	plans, err := planImport(store.Snapshot(), b, contents, mode)
	if err != nil {
		return nil, err
	}

	out := &ImportOutput{Bundle: b.Name, Mode: mode, Imported: []Imported{}, DryRun: store.DryRun()}
	stage := store.Stage()
	for _, p := range plans {
		if err := stage.Write(p.slug, p.content); err != nil {
			return nil, stage.Settle(err)
		}
	}

	var uninstall []string
	_, err = store.Update(func(m *manifest.Manifest) error {
		// re-plan against the committed manifest in case it moved since the snapshot
		fresh, err := planImport(m, b, contents, mode)
		if err != nil {
			return err
		}
		for i, p := range fresh {
			if p.slug != plans[i].slug {
				return errors.NewConflict(fmt.Sprintf("slug %q was taken during import", plans[i].slug))
			}
		}
		now := now.UTC()
		for _, p := range fresh {
			if old, ok := m.Skills[p.slug]; ok && old.Status == skill.StatusDeployed {
				uninstall = append(uninstall, p.slug)
			}
			m.Retired = removeString(m.Retired, p.slug)
			m.Skills[p.slug] = &skill.Skill{
				Slug:              p.slug,
				Domain:            p.entry.Domain,
				Status:            skill.StatusDraft,
				Description:       p.entry.Description,
				Patterns:          p.entry.patterns(),
				ConversationCount: p.entry.ConversationCount,
				ContentHash:       skill.Checksum(p.content),
				Origin:            skill.OriginImported,
				CreatedAt:         now,
				UpdatedAt:         now,
			}
			out.Imported = append(out.Imported, p.action)
		}
		return nil
	})
	if err := stage.Settle(err); err != nil {
		return nil, err
	}

	if input.Deployer != nil && !store.DryRun() {
		for _, slug := range uninstall {
			if err := input.Deployer.Uninstall(slug); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func entryProblems(b *Bundle) []string {
	var problems []string
	seen := map[string]bool{}
	for _, e := range b.Skills {
		if !skill.ValidSlug(e.Slug) {
			problems = append(problems, fmt.Sprintf("invalid slug %q", e.Slug))
		}
		if seen[e.Slug] {
			problems = append(problems, fmt.Sprintf("duplicate slug %q", e.Slug))
		}
		seen[e.Slug] = true
	}
	if len(b.Skills) == 0 {
		problems = append(problems, "bundle has no skills")
	}
	return problems
}

func planImport(m *manifest.Manifest, b *Bundle, contents map[string][]byte, mode ImportMode) ([]importPlan, error) {
	var conflicts []string
	var plans []importPlan
	taken := map[string]bool{}

	for _, e := range b.Skills {
		existing, exists := m.Skills[e.Slug]
		live := exists && existing.Status != skill.StatusRejected
		p := importPlan{entry: e, slug: e.Slug, content: contents[e.Slug], action: Imported{Slug: e.Slug}}

		switch {
		case !live:
			p.action.Revived = exists || m.IsRetired(e.Slug)
		case mode == ImportModeError:
			conflicts = append(conflicts, e.Slug)
			continue
		case mode == ImportModeReplace:
			p.action.Replaced = true
		case mode == ImportModeRename:
			slug := m.AllocateSlug(e.Slug)
			for n := 2; taken[slug]; n++ {
				slug = m.AllocateSlug(fmt.Sprintf("%s-%d", e.Slug, n))
			}
			p.slug = slug
			p.action = Imported{Slug: slug, Source: e.Slug}
			p.content = renameContent(p.content, slug)
		}
		if taken[p.slug] {
			conflicts = append(conflicts, p.slug)
			continue
		}
		taken[p.slug] = true
		plans = append(plans, p)
	}

	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return nil, errors.NewConflict(fmt.Sprintf("slugs already exist: %s", strings.Join(conflicts, ", ")))
	}
	return plans, nil
}

// renameContent points the frontmatter name at slug. Content without parsable
// frontmatter is kept as is.
func renameContent(content []byte, slug string) []byte {
	doc, err := skill.Parse(content)
	if err != nil {
		return content
	}
	doc.Name = slug
	out, err := doc.Render()
	if err != nil {
		return content
	}
	return out
}

func removeString(list []string, s string) []string {
	var out []string
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
