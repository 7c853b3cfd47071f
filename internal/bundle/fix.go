package bundle

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/skill"
)

// FixReport lists the corrections Fix made (or would make in dry-run) and the
// validation result afterwards.
type FixReport struct {
	Changes    []string          `json:"changes"`
	Validation *ValidationReport `json:"validation,omitempty"`
	DryRun     bool              `json:"dry_run"`
}

// Fix repairs what can be repaired mechanically: misnamed skill files, missing or
// unparsable frontmatter, frontmatter names that drift from the slug, empty
// descriptions, leaked home paths in public bundles, stale checksums and empty
// metadata. Running it twice makes no further changes.
func Fix(dir string, now time.Time, dryRun bool) (*FixReport, error) {
	b, err := Read(dir)
	if err != nil {
		return nil, err
	}
	rep := &FixReport{Changes: []string{}, DryRun: dryRun}
	note := func(format string, args ...any) {
		rep.Changes = append(rep.Changes, fmt.Sprintf(format, args...))
	}

	if b.Format == "" {
		b.Format = FormatVersion
		note("set format to %s", FormatVersion)
	}
	if b.ID == "" {
		b.ID = newID(now)
		note("assigned id %s", b.ID)
	}
	if b.Version == "" {
		b.Version = DefaultVersion
		note("set version to %s", DefaultVersion)
	}
	if b.Visibility != VisibilityPrivate && b.Visibility != VisibilityPublic {
		b.Visibility = VisibilityPrivate
		note("set visibility to %s", VisibilityPrivate)
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now.UTC().Truncate(time.Second)
		note("set created_at")
	}

	for i := range b.Skills {
		e := &b.Skills[i]
		if !skill.ValidSlug(e.Slug) {
			slug := skill.Slugify(e.Slug)
			note("renamed slug %q to %q", e.Slug, slug)
			e.Slug = slug
		}

		if want := SkillFile(e.Slug); e.File != want {
			moved, err := moveFile(dir, e.File, want, dryRun)
			if err != nil {
				return nil, err
			}
			if moved {
				note("moved %s to %s", e.File, want)
				e.File = want
			}
		}

		path, err := resolve(dir, e.File)
		if err != nil {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		fixed, changes := fixContent(b, e, content, now)
		for _, c := range changes {
			note("%s: %s", e.File, c)
		}
		if len(changes) > 0 && !dryRun {
			if err := os.WriteFile(path, fixed, 0600); err != nil {
				return nil, errors.NewInternal(err)
			}
		}
		if sum := skill.Checksum(fixed); sum != e.Checksum {
			note("%s: updated checksum", e.File)
			e.Checksum = sum
		}
	}

	for i := range b.Context {
		c := &b.Context[i]
		path, err := resolve(dir, c.File)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if sum := skill.Checksum(data); sum != c.Checksum {
			note("%s: updated checksum", c.File)
			c.Checksum = sum
		}
	}

	if len(rep.Changes) > 0 && !dryRun {
		if err := write(dir, b); err != nil {
			return nil, errors.NewInternal(err)
		}
	}

	if !dryRun {
		v, err := Validate(dir)
		if err != nil {
			return nil, err
		}
		rep.Validation = v
	}
	return rep, nil
}

// fixContent returns the corrected content and a description of each change.
func fixContent(b *Bundle, e *Entry, content []byte, now time.Time) ([]byte, []string) {
	var changes []string

	doc, err := skill.Parse(content)
	rewrite := false
	if err != nil {
		body := string(content)
		if stderrors.Is(err, skill.ErrMalformedFrontMatter) {
			if _, rest, splitErr := skill.SplitFrontMatter(content); splitErr == nil {
				body = string(rest)
			}
		}
		doc = skill.NewDocument(e.Slug, "", e.Domain, b.CreatedAt, now, body)
		changes = append(changes, "rebuilt frontmatter")
		rewrite = true
	}
	if doc.Name != e.Slug {
		if !rewrite {
			changes = append(changes, fmt.Sprintf("renamed %q to %q", doc.Name, e.Slug))
		}
		doc.Name = e.Slug
		rewrite = true
	}
	if strings.TrimSpace(doc.Description) == "" {
		doc.Description = e.Description
		if strings.TrimSpace(doc.Description) == "" {
			doc.Description = fallbackDescription(e)
		}
		changes = append(changes, "filled description")
		rewrite = true
	}
	if e.Description == "" {
		e.Description = doc.Description
	}

	out := content
	if rewrite {
		rendered, err := doc.Render()
		if err == nil {
			out = rendered
		}
	}
	if b.Public() && len(skill.LeakMarkers(out)) > 0 {
		out = skill.SanitizePublic(out)
		changes = append(changes, "removed local paths")
	}
	return out, changes
}

func fallbackDescription(e *Entry) string {
	topic := e.Domain
	if topic == "" {
		topic = e.Slug
	}
	return "Use when working on " + strings.ReplaceAll(topic, "-", " ") + " tasks"
}

// moveFile renames a declared skill file to its conventional location. It reports
// false when the source is unusable or the destination is taken.
func moveFile(dir, from, to string, dryRun bool) (bool, error) {
	src, err := resolve(dir, from)
	if err != nil {
		return false, nil
	}
	if _, err := os.Stat(src); err != nil {
		return false, nil
	}
	dst := filepath.Join(dir, filepath.FromSlash(to))
	if _, err := os.Lstat(dst); err == nil {
		return false, nil
	}
	if dryRun {
		return true, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return false, errors.NewInternal(err)
	}
	if err := os.Rename(src, dst); err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}
