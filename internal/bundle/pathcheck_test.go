package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hpungsan/skillminer/internal/config"
	"github.com/hpungsan/skillminer/internal/errors"
)

func TestValidatePath_TraversalRejected(t *testing.T) {
	cfg := config.DefaultConfig()
	exports := t.TempDir()

	tests := []struct {
		name string
		path string
	}{
		{"parent traversal", "../team.skillpack"},
		{"deep traversal", "../../etc/team.skillpack"},
		{"mid-path traversal", exports + "/../team.skillpack"},
		{"backslash traversal", `exports\..\team.skillpack`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePath(tc.path, PathCheckWrite, exports, cfg)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got: %v", err)
			}
		})
	}
}

func TestValidatePath_ExtensionRequired(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true
	dir := t.TempDir()

	for _, name := range []string{"team", "team.json", "team.skillpack.bak"} {
		t.Run(name, func(t *testing.T) {
			err := ValidatePath(filepath.Join(dir, name), PathCheckWrite, dir, cfg)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got: %v", err)
			}
		})
	}
}

func TestValidatePath_DirectoryRestriction(t *testing.T) {
	cfg := config.DefaultConfig()
	exports := t.TempDir()

	if err := ValidatePath(filepath.Join(exports, "team.skillpack"), PathCheckWrite, exports, cfg); err != nil {
		t.Errorf("bundle directly in exports dir should be allowed: %v", err)
	}

	err := ValidatePath(filepath.Join(exports, "sub", "team.skillpack"), PathCheckWrite, exports, cfg)
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for subdirectory, got: %v", err)
	}

	other := t.TempDir()
	err = ValidatePath(filepath.Join(other, "team.skillpack"), PathCheckWrite, exports, cfg)
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest outside allowed dirs, got: %v", err)
	}

	cfg.AllowedPaths = []string{other}
	if err := ValidatePath(filepath.Join(other, "team.skillpack"), PathCheckWrite, exports, cfg); err != nil {
		t.Errorf("allowed_paths entry should be accepted: %v", err)
	}
}

func TestValidatePath_AllowUnsafePaths(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true
	dir := t.TempDir()

	if err := ValidatePath(filepath.Join(dir, "deep", "team.skillpack"), PathCheckWrite, t.TempDir(), cfg); err != nil {
		t.Errorf("expected no error with allow_unsafe_paths, got: %v", err)
	}
}

func TestValidatePath_ReadMode(t *testing.T) {
	cfg := config.DefaultConfig()
	exports := t.TempDir()
	path := filepath.Join(exports, "team.skillpack")

	err := ValidatePath(path, PathCheckRead, exports, cfg)
	if !errors.Is(err, errors.ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got: %v", err)
	}

	if err := os.Mkdir(path, 0700); err != nil {
		t.Fatal(err)
	}
	if err := ValidatePath(path, PathCheckRead, exports, cfg); err != nil {
		t.Errorf("existing bundle should pass: %v", err)
	}

	file := filepath.Join(exports, "file.skillpack")
	if err := os.WriteFile(file, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := ValidatePath(file, PathCheckRead, exports, cfg); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for a plain file, got: %v", err)
	}
}

func TestValidatePath_SymlinkRejected(t *testing.T) {
	cfg := config.DefaultConfig()
	exports := t.TempDir()
	target := t.TempDir()
	link := filepath.Join(exports, "team.skillpack")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	err := ValidatePath(link, PathCheckRead, exports, cfg)
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for symlink, got: %v", err)
	}
}

func TestSanitizeForFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"team", "team"},
		{"a/b", "a-b"},
		{`a\b`, "a-b"},
		{"../x", "x"},
		{"", "unnamed"},
		{"--", "unnamed"},
		{"tab\there", "tabhere"},
	}
	for _, tt := range tests {
		if got := SanitizeForFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeForFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
