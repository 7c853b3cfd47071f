package bundle

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/manifest"
	"github.com/hpungsan/skillminer/internal/skill"
)

// DefaultVersion is the bundle version when none is given.
const DefaultVersion = "1.0.0"

// ContentReader returns the content file of slug.
type ContentReader func(slug string) ([]byte, error)

// Options configures Export.
type Options struct {
	// Dir is the directory the bundle directory is created in.
	Dir         string
	Name        string
	Version     string
	Author      string
	Description string
	Public      bool
	// ApprovedOnly restricts the export to approved and deployed skills.
	ApprovedOnly bool
	// Slugs restricts the export to these skills. Empty means every live skill.
	Slugs        []string
	ContextFiles []string
	Overwrite    bool
	DryRun       bool
	Now          time.Time
}

// ExportResult describes a written (or, in dry-run, planned) bundle.
type ExportResult struct {
	Path   string  `json:"path"`
	Bundle *Bundle `json:"bundle"`
	DryRun bool    `json:"dry_run"`
}

type file struct {
	rel  string
	data []byte
}

// Export writes the selected skills of m as a bundle under opts.Dir. The bundle is
// assembled in a temporary sibling directory and renamed into place, so a failed
// export never leaves a partial bundle behind.
func Export(m *manifest.Manifest, read ContentReader, opts Options) (*ExportResult, error) {
	if opts.Name == "" {
		return nil, errors.NewInvalidRequest("bundle name is required")
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}

	selected, err := selectSkills(m, opts)
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		Format:      FormatVersion,
		ID:          newID(opts.Now),
		Name:        opts.Name,
		Version:     opts.Version,
		Author:      opts.Author,
		Description: opts.Description,
		Visibility:  VisibilityPrivate,
		CreatedAt:   opts.Now.UTC().Truncate(time.Second),
		Skills:      []Entry{},
	}
	if opts.Public {
		b.Name = skill.PublicName(opts.Name)
		b.Author = ""
		b.Visibility = VisibilityPublic
	}

	var files []file
	domains := map[string]bool{}
	for _, sk := range selected {
		content, err := read(sk.Slug)
		if err != nil {
			return nil, err
		}
		if opts.Public {
			content = skill.SanitizePublic(content)
		}
		rel := SkillFile(sk.Slug)
		files = append(files, file{rel: rel, data: content})
		b.Skills = append(b.Skills, Entry{
			Slug:         sk.Slug,
			Domain:       sk.Domain,
			File:         rel,
			Checksum:     skill.Checksum(content),
			Status:       sk.Status,
			Description:  sk.Description,
			Score:        sk.Score,
			FireCount:    sk.FireCount,
			PatternCount: sk.PatternCount(),
			DeployedAt:   sk.DeployedAt,

			Patterns:          exportPatterns(sk.Patterns, opts.Public),
			ConversationCount: sk.ConversationCount,
		})
		b.Source.Conversations += sk.ConversationCount
		b.Source.Patterns += sk.PatternCount()
		domains[sk.Domain] = true
	}
	for d := range domains {
		b.Source.Domains = append(b.Source.Domains, d)
	}
	sort.Strings(b.Source.Domains)

	seen := map[string]bool{}
	for _, p := range opts.ContextFiles {
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.NewFileNotFound(p)
			}
			return nil, errors.NewInternal(err)
		}
		name := SanitizeForFilename(filepath.Base(p))
		if seen[name] {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("duplicate context file name %q", name))
		}
		seen[name] = true
		if opts.Public {
			data = skill.SanitizePublic(data)
		}
		rel := ContextDir + "/" + name
		files = append(files, file{rel: rel, data: data})
		b.Context = append(b.Context, ContextFile{File: rel, Checksum: skill.Checksum(data)})
	}

	dest := filepath.Join(opts.Dir, DirName(b.Name))
	res := &ExportResult{Path: dest, Bundle: b, DryRun: opts.DryRun}
	if opts.DryRun {
		return res, nil
	}
	if err := writeDir(dest, b, files, opts.Overwrite); err != nil {
		return nil, err
	}
	return res, nil
}

func selectSkills(m *manifest.Manifest, opts Options) ([]*skill.Skill, error) {
	eligible := func(sk *skill.Skill) bool {
		if sk.Status == skill.StatusRejected {
			return false
		}
		if opts.ApprovedOnly {
			return sk.Status == skill.StatusApproved || sk.Status == skill.StatusDeployed
		}
		return true
	}

	var out []*skill.Skill
	if len(opts.Slugs) > 0 {
		seen := map[string]bool{}
		for _, slug := range opts.Slugs {
			if seen[slug] {
				continue
			}
			seen[slug] = true
			sk, ok := m.Get(slug)
			if !ok {
				return nil, errors.NewNotFound(slug)
			}
			if !eligible(sk) {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("skill %q is %s and cannot be exported", slug, sk.Status))
			}
			out = append(out, sk)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	} else {
		for _, slug := range m.Slugs() {
			if sk := m.Skills[slug]; eligible(sk) {
				out = append(out, sk)
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.NewInvalidRequest("no skills to export")
	}
	return out, nil
}

func writeDir(dest string, b *Bundle, files []file, overwrite bool) error {
	if _, err := os.Lstat(dest); err == nil && !overwrite {
		return errors.NewConflict(fmt.Sprintf("bundle %s already exists", dest))
	}
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0700); err != nil {
		return errors.NewInternal(err)
	}

	tmp, err := os.MkdirTemp(parent, ".export-*")
	if err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create temp dir: %w", err))
	}
	success := false
	defer func() {
		if !success {
			os.RemoveAll(tmp)
		}
	}()

	for _, dir := range []string{SkillsDir, ContextDir} {
		if err := os.MkdirAll(filepath.Join(tmp, dir), 0700); err != nil {
			return errors.NewInternal(err)
		}
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(tmp, filepath.FromSlash(f.rel)), f.data, 0600); err != nil {
			return errors.NewInternal(fmt.Errorf("failed to write %s: %w", f.rel, err))
		}
	}
	if err := write(tmp, b); err != nil {
		return errors.NewInternal(err)
	}

	if overwrite {
		if err := os.RemoveAll(dest); err != nil {
			return errors.NewInternal(err)
		}
	}
	if err := os.Rename(tmp, dest); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to finalize bundle: %w", err))
	}
	success = true
	return nil
}

func newID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// exportPatterns copies patterns; the public profile sanitizes their text like
// the content itself.
func exportPatterns(ps []skill.PatternRef, public bool) []skill.PatternRef {
	if len(ps) == 0 {
		return nil
	}
	out := make([]skill.PatternRef, len(ps))
	for i, p := range ps {
		if public {
			p.Text = string(skill.SanitizePublic([]byte(p.Text)))
		}
		out[i] = p
	}
	return out
}
