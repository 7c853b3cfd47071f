package ops

import (
	"path/filepath"
	"strings"

	"github.com/hpungsan/skillminer/internal/bundle"
	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/skill"
)

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Name string // required
	// Dir is the directory the bundle is created in. Empty means the exports directory.
	Dir          string
	Version      string
	Author       string
	Description  string
	Public       bool
	ApprovedOnly bool
	Slugs        []string
	ContextFiles []string
	Overwrite    bool
}

// Export packages skills into a bundle directory.
func Export(env *Env, input ExportInput) (*bundle.ExportResult, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.NewInvalidRequest("bundle name is required")
	}
	dir := input.Dir
	if dir == "" {
		dir = env.ExportsDir()
	}
	final := name
	if input.Public {
		final = skill.PublicName(name)
	}
	if err := bundle.ValidatePath(filepath.Join(dir, bundle.DirName(final)), bundle.PathCheckWrite, env.ExportsDir(), env.Config); err != nil {
		return nil, err
	}

	res, err := bundle.Export(env.Store.Snapshot(), env.Store.ReadContent, bundle.Options{
		Dir:          dir,
		Name:         name,
		Version:      input.Version,
		Author:       input.Author,
		Description:  input.Description,
		Public:       input.Public,
		ApprovedOnly: input.ApprovedOnly,
		Slugs:        input.Slugs,
		ContextFiles: input.ContextFiles,
		Overwrite:    input.Overwrite,
		DryRun:       env.DryRun(),
		Now:          env.now(),
	})
	if err != nil {
		return nil, err
	}
	env.Logger.Info().Str("path", res.Path).Int("skills", len(res.Bundle.Skills)).Msg("bundle exported")
	return res, nil
}

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string // required, a .skillpack directory
	Mode string // error (default), replace or rename
}

// Import adds a bundle's skills to the manifest as drafts.
func Import(env *Env, input ImportInput) (*bundle.ImportOutput, error) {
	mode, err := bundle.ParseImportMode(input.Mode)
	if err != nil {
		return nil, err
	}
	if err := bundle.ValidatePath(input.Path, bundle.PathCheckRead, env.ExportsDir(), env.Config); err != nil {
		return nil, err
	}
	out, err := bundle.Import(env.Store, bundle.ImportInput{
		Dir:      input.Path,
		Mode:     mode,
		Deployer: env.Deployer,
	}, env.now())
	if err != nil {
		return nil, err
	}
	env.Logger.Info().Str("bundle", out.Bundle).Int("skills", len(out.Imported)).Str("mode", string(mode)).Msg("bundle imported")
	return out, nil
}

// Verify recomputes every checksum of the bundle at path.
func Verify(env *Env, path string) (*bundle.VerifyReport, error) {
	if err := bundle.ValidatePath(path, bundle.PathCheckRead, env.ExportsDir(), env.Config); err != nil {
		return nil, err
	}
	return bundle.Verify(path)
}

// ValidateInput contains parameters for the Validate operation.
type ValidateInput struct {
	Path string
	// Fix applies mechanical corrections first, then re-validates.
	Fix bool
}

// ValidateOutput contains the result of the Validate operation.
type ValidateOutput struct {
	Validation *bundle.ValidationReport `json:"validation,omitempty"`
	Fix        *bundle.FixReport        `json:"fix,omitempty"`
}

// Validate checks the bundle at path. With Fix, the fix report carries the
// validation that follows it (none in dry-run).
func Validate(env *Env, input ValidateInput) (*ValidateOutput, error) {
	if err := bundle.ValidatePath(input.Path, bundle.PathCheckRead, env.ExportsDir(), env.Config); err != nil {
		return nil, err
	}
	if input.Fix {
		rep, err := bundle.Fix(input.Path, env.now(), env.DryRun())
		if err != nil {
			return nil, err
		}
		out := &ValidateOutput{Fix: rep, Validation: rep.Validation}
		if out.Validation == nil {
			// dry-run: report the bundle as it is on disk
			out.Validation, err = bundle.Validate(input.Path)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	rep, err := bundle.Validate(input.Path)
	if err != nil {
		return nil, err
	}
	return &ValidateOutput{Validation: rep}, nil
}
