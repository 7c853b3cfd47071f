package bundle

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/skill"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Severity Severity `json:"severity"`
	File     string   `json:"file,omitempty"`
	Message  string   `json:"message"`
}

// ValidationReport is the outcome of Validate. Valid is false when any issue is an error.
type ValidationReport struct {
	Name     string  `json:"name"`
	Issues   []Issue `json:"issues"`
	Errors   int     `json:"errors"`
	Warnings int     `json:"warnings"`
	Valid    bool    `json:"valid"`
}

func (r *ValidationReport) add(sev Severity, file, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Severity: sev, File: file, Message: fmt.Sprintf(format, args...)})
	if sev == SeverityError {
		r.Errors++
	} else {
		r.Warnings++
	}
}

var validate = validator.New()

// Validate checks integrity and structure: checksums, required metadata, slug
// uniqueness, declared paths, frontmatter, sections and public-profile leaks. An
// unparsable bundle.json is reported as an issue; the error is non-nil only when
// the bundle cannot be read at all.
func Validate(dir string) (*ValidationReport, error) {
	r := &ValidationReport{Issues: []Issue{}}
	b, err := Read(dir)
	if err != nil {
		if errors.Is(err, errors.ErrBundleInvalid) {
			r.add(SeverityError, ManifestFile, "%v", err)
			return r, nil
		}
		return nil, err
	}
	r.Name = b.Name

	checkMetadata(r, b)

	seen := map[string]bool{}
	for _, e := range b.Skills {
		if seen[e.Slug] {
			r.add(SeverityError, e.File, "duplicate slug %q", e.Slug)
		}
		seen[e.Slug] = true
		if e.Slug != "" && !skill.ValidSlug(e.Slug) {
			r.add(SeverityError, e.File, "invalid slug %q", e.Slug)
		}
		if e.File != "" && e.File != SkillFile(e.Slug) {
			if _, err := resolve(dir, e.File); err == nil {
				r.add(SeverityWarning, e.File, "file name does not match slug, expected %s", SkillFile(e.Slug))
			}
		}
	}

	integrity, contents := check(dir, b)
	for _, p := range integrity.Unsafe {
		r.add(SeverityError, "", "unsafe path: %s", p)
	}
	for _, f := range integrity.Missing {
		r.add(SeverityError, f, "file missing")
	}
	for _, m := range integrity.Mismatches {
		r.add(SeverityError, m.File, "checksum mismatch: recorded %s, actual %s", m.Expected, m.Actual)
	}

	for _, e := range b.Skills {
		content, ok := contents[e.Slug]
		if !ok {
			// unreadable or mismatched content was reported above; still lint what is on disk
			path, err := resolve(dir, e.File)
			if err != nil {
				continue
			}
			if content, err = os.ReadFile(path); err != nil {
				continue
			}
		}
		checkContent(r, b, e, content)
	}

	r.Valid = r.Errors == 0
	return r, nil
}

func checkMetadata(r *ValidationReport, b *Bundle) {
	if err := validate.Struct(b); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) {
			for _, fe := range verrs {
				r.add(SeverityError, ManifestFile, "%s failed %q", strings.TrimPrefix(fe.Namespace(), "Bundle."), fe.Tag())
			}
		} else {
			r.add(SeverityError, ManifestFile, "%v", err)
		}
	}
	if b.CreatedAt.IsZero() {
		r.add(SeverityError, ManifestFile, "created_at is required")
	}
	if b.Format != "" && b.Format != FormatVersion {
		r.add(SeverityWarning, ManifestFile, "unknown format %q", b.Format)
	}
	if len(b.Skills) == 0 {
		r.add(SeverityWarning, ManifestFile, "bundle has no skills")
	}
	if b.Public() && b.Author != "" {
		r.add(SeverityWarning, ManifestFile, "public bundle carries an author")
	}
}

func checkContent(r *ValidationReport, b *Bundle, e Entry, content []byte) {
	doc, err := skill.Parse(content)
	if err != nil {
		r.add(SeverityError, e.File, "frontmatter: %v", err)
		return
	}
	if strings.TrimSpace(doc.Name) == "" {
		r.add(SeverityError, e.File, "frontmatter name is empty")
	} else if doc.Name != e.Slug {
		r.add(SeverityWarning, e.File, "frontmatter name %q does not match slug %q", doc.Name, e.Slug)
	}
	if strings.TrimSpace(doc.Description) == "" {
		r.add(SeverityError, e.File, "frontmatter description is empty")
	}
	if !skill.HasLevel(skill.ParseSections(doc.Body), 2) {
		r.add(SeverityWarning, e.File, "no ## sections")
	}
	if b.Public() {
		if leaks := skill.LeakMarkers(content); len(leaks) > 0 {
			r.add(SeverityWarning, e.File, "public bundle contains local paths: %s", strings.Join(leaks, ", "))
		}
	}
}
