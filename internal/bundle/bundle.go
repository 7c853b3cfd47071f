// Package bundle packages skills into portable .skillpack directories and checks
// them on the way back in.
//
// A bundle is a directory:
//
//	<name>.skillpack/
//	  bundle.json        metadata and one entry per skill with its sha256
//	  skills/<slug>.md   skill content exactly as checksummed
//	  context/<file>     optional referenced context files
//
// Public bundles are sanitized before checksumming, so a skill's public and
// private checksums differ.
package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/skill"
)

const (
	// Ext is the bundle directory suffix.
	Ext = ".skillpack"
	// ManifestFile is the metadata file at the bundle root.
	ManifestFile = "bundle.json"
	// SkillsDir holds one content file per skill.
	SkillsDir = "skills"
	// ContextDir holds optional context files.
	ContextDir = "context"
	// FormatVersion is the bundle.json format written by this build.
	FormatVersion = "1"
)

// Visibility is the sharing profile of a bundle.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Source records what the bundled skills were mined from.
type Source struct {
	Conversations int      `json:"conversations"`
	Domains       []string `json:"domains"`
	Patterns      int      `json:"patterns"`
}

// Entry is one skill in a bundle.
type Entry struct {
	Slug         string       `json:"slug" validate:"required"`
	Domain       string       `json:"domain"`
	File         string       `json:"file" validate:"required"`
	Checksum     string       `json:"checksum" validate:"required,len=64,hexadecimal"`
	Status       skill.Status `json:"status"`
	Description  string       `json:"description"`
	Score        *float64     `json:"score,omitempty"`
	FireCount    int          `json:"fire_count"`
	PatternCount int          `json:"pattern_count"`
	DeployedAt   *time.Time   `json:"deployed_at,omitempty"`

	// Patterns and ConversationCount carry the mining provenance, which is the
	// richness input to scoring on the importing side.
	Patterns          []skill.PatternRef `json:"patterns,omitempty"`
	ConversationCount int                `json:"conversation_count,omitempty"`
}

func (e Entry) patterns() []skill.PatternRef {
	if len(e.Patterns) == 0 {
		return nil
	}
	out := make([]skill.PatternRef, len(e.Patterns))
	copy(out, e.Patterns)
	return out
}

// ContextFile is a bundled reference file.
type ContextFile struct {
	File     string `json:"file" validate:"required"`
	Checksum string `json:"checksum" validate:"required,len=64,hexadecimal"`
}

// Bundle is the content of bundle.json.
type Bundle struct {
	Format      string        `json:"format"`
	ID          string        `json:"id" validate:"required"`
	Name        string        `json:"name" validate:"required"`
	Version     string        `json:"version" validate:"required"`
	Author      string        `json:"author,omitempty"`
	Description string        `json:"description"`
	Visibility  Visibility    `json:"visibility" validate:"required,oneof=private public"`
	CreatedAt   time.Time     `json:"created_at"`
	Source      Source        `json:"source"`
	Skills      []Entry       `json:"skills" validate:"dive"`
	Context     []ContextFile `json:"context,omitempty" validate:"dive"`
}

// Public reports whether the bundle was exported with the public profile.
func (b *Bundle) Public() bool {
	return b.Visibility == VisibilityPublic
}

// SkillFile is the conventional bundle-relative path for slug.
func SkillFile(slug string) string {
	return SkillsDir + "/" + slug + ".md"
}

// DirName returns the bundle directory name for a bundle name.
func DirName(name string) string {
	return SanitizeForFilename(name) + Ext
}

// Read loads bundle.json from dir. It does not check content.
func Read(dir string) (*Bundle, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFound(filepath.Join(dir, ManifestFile))
		}
		return nil, errors.NewInternal(err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, errors.NewBundleInvalid([]string{fmt.Sprintf("%s: %v", ManifestFile, err)})
	}
	return &b, nil
}

func write(dir string, b *Bundle) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return errors.NewInternal(err)
	}
	return os.WriteFile(filepath.Join(dir, ManifestFile), append(data, '\n'), 0600)
}

// resolve maps a declared bundle-relative file to a path inside dir. Absolute
// paths, traversal and anything outside SkillsDir or ContextDir are refused.
func resolve(dir, file string) (string, error) {
	if file == "" {
		return "", fmt.Errorf("empty file name")
	}
	if filepath.IsAbs(file) || strings.HasPrefix(file, "/") || strings.HasPrefix(file, `\`) || filepath.VolumeName(file) != "" {
		return "", fmt.Errorf("%s: absolute path", file)
	}
	if containsTraversal(file) {
		return "", fmt.Errorf("%s: path traversal", file)
	}
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(file)))
	top, rest, ok := strings.Cut(clean, "/")
	if !ok || rest == "" || strings.Contains(rest, "/") || (top != SkillsDir && top != ContextDir) {
		return "", fmt.Errorf("%s: must be %s/<file> or %s/<file>", file, SkillsDir, ContextDir)
	}
	return filepath.Join(dir, filepath.FromSlash(clean)), nil
}
