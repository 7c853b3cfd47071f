package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/skill"
)

// FileName is the manifest file inside the drafts directory.
const FileName = "manifest.json"

// Options configures a Store.
type Options struct {
	// DryRun keeps every mutation in memory. Nothing under the drafts directory is touched.
	DryRun bool

	// Now overrides the clock (tests).
	Now func() time.Time

	Logger zerolog.Logger
}

// Store is the exclusive owner of the manifest. It serialises all mutations.
type Store struct {
	mu      sync.Mutex
	dir     string
	opts    Options
	current *Manifest

	// dry-run overlay of content files; a nil value is a pending removal.
	overlay map[string][]byte
}

// Open loads the manifest from dir. A missing manifest yields an empty one.
// An unreadable or corrupt manifest is fatal: MANIFEST_CORRUPT is returned and
// nothing is created or modified.
func Open(dir string, opts Options) (*Store, error) {
	if dir == "" {
		return nil, errors.NewInvalidRequest("drafts directory is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{dir: dir, opts: opts}
	if opts.DryRun {
		s.overlay = map[string][]byte{}
	}
	m, err := load(s.Path())
	if err != nil {
		return nil, err
	}
	s.current = m
	return s, nil
}

func load(path string) (*Manifest, error) {
	data, err := ReadFileNoFollow(path)
	if err != nil {
		if errors.Is(err, errors.ErrFileNotFound) {
			return New(), nil
		}
		return nil, errors.NewManifestCorrupt(path, err)
	}

	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, errors.NewManifestCorrupt(path, err)
	}
	if m.Version != "" && m.Version != Version {
		return nil, errors.NewManifestCorrupt(path, fmt.Errorf("unsupported manifest version %q", m.Version))
	}
	m.ensure()
	if err := checkConsistent(m); err != nil {
		return nil, errors.NewManifestCorrupt(path, err)
	}
	return m, nil
}

// Dir returns the drafts directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the manifest file path.
func (s *Store) Path() string { return filepath.Join(s.dir, FileName) }

// DryRun reports whether mutations stay in memory.
func (s *Store) DryRun() bool { return s.opts.DryRun }

// Now returns the store clock.
func (s *Store) Now() time.Time { return s.opts.Now() }

// Snapshot returns a deep copy of the committed manifest.
func (s *Store) Snapshot() *Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Update applies fn to a copy of the committed manifest and commits the result as a
// new snapshot. If fn fails, or the result would shrink mined_ids or break slug
// uniqueness, nothing is written and the committed manifest is unchanged.
func (s *Store) Update(fn func(m *Manifest) error) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ensure()

	for id := range s.current.MinedIDs {
		if !next.MinedIDs.Has(id) {
			return nil, errors.NewInternal(fmt.Errorf("mined_ids would lose %q", id))
		}
	}
	if err := checkConsistent(next); err != nil {
		return nil, errors.NewInternal(err)
	}

	next.UpdatedAt = s.opts.Now().UTC()

	if !s.opts.DryRun {
		data, err := json.MarshalIndent(next, "", "  ")
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		if err := WriteFileAtomic(s.Path(), append(data, '\n'), 0600); err != nil {
			return nil, err
		}
	}

	s.current = next
	s.opts.Logger.Debug().
		Int("skills", len(next.Skills)).
		Int("mined_ids", len(next.MinedIDs)).
		Int("pending", len(next.Pending)).
		Bool("dry_run", s.opts.DryRun).
		Msg("manifest committed")
	return next.Clone(), nil
}

// checkConsistent enforces per-snapshot invariants.
func checkConsistent(m *Manifest) error {
	for key, sk := range m.Skills {
		if sk == nil {
			return fmt.Errorf("skill %q is empty", key)
		}
		if sk.Slug != key {
			return fmt.Errorf("skill keyed %q has slug %q", key, sk.Slug)
		}
		if !sk.Status.Valid() {
			return fmt.Errorf("skill %q has unknown status %q", key, sk.Status)
		}
		if m.IsRetired(key) {
			return fmt.Errorf("skill %q uses a retired slug", key)
		}
	}
	return nil
}

// ContentPath returns the content file path for slug.
func (s *Store) ContentPath(slug string) string {
	return filepath.Join(s.dir, slug+".md")
}

// WriteContent atomically replaces the content file for slug.
func (s *Store) WriteContent(slug string, data []byte) error {
	if !skill.ValidSlug(slug) {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid slug %q", slug))
	}
	if s.opts.DryRun {
		s.mu.Lock()
		s.overlay[slug] = append([]byte(nil), data...)
		s.mu.Unlock()
		return nil
	}
	return WriteFileAtomic(s.ContentPath(slug), data, 0600)
}

// ReadContent returns the content file for slug.
func (s *Store) ReadContent(slug string) ([]byte, error) {
	if !skill.ValidSlug(slug) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid slug %q", slug))
	}
	if s.opts.DryRun {
		s.mu.Lock()
		data, ok := s.overlay[slug]
		s.mu.Unlock()
		if ok {
			if data == nil {
				return nil, errors.NewFileNotFound(s.ContentPath(slug))
			}
			return append([]byte(nil), data...), nil
		}
	}
	return ReadFileNoFollow(s.ContentPath(slug))
}

// RemoveContent deletes the content file for slug. A missing file is not an error.
func (s *Store) RemoveContent(slug string) error {
	if !skill.ValidSlug(slug) {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid slug %q", slug))
	}
	if s.opts.DryRun {
		s.mu.Lock()
		s.overlay[slug] = nil
		s.mu.Unlock()
		return nil
	}
	if err := os.Remove(s.ContentPath(slug)); err != nil && !os.IsNotExist(err) {
		return errors.NewInternal(err)
	}
	return nil
}

// Stage collects content writes made ahead of an Update. The manifest snapshot is
// the commit point: when the Update fails, Settle puts the previous content
// files back.
type Stage struct {
	s    *Store
	prev map[string][]byte // nil value: the file did not exist
	done []string
}

// Stage starts an empty set of staged content writes.
func (s *Store) Stage() *Stage {
	return &Stage{s: s, prev: map[string][]byte{}}
}

// Write replaces the content file for slug, remembering the file it replaced.
func (st *Stage) Write(slug string, data []byte) error {
	if _, ok := st.prev[slug]; !ok {
		old, err := st.s.ReadContent(slug)
		if err != nil {
			if !errors.Is(err, errors.ErrFileNotFound) {
				return err
			}
			old = nil
		}
		if err := st.s.WriteContent(slug, data); err != nil {
			return err
		}
		st.prev[slug] = old
		st.done = append(st.done, slug)
		return nil
	}
	return st.s.WriteContent(slug, data)
}

// Settle passes commitErr through, restoring every staged file first when it is
// non-nil.
func (st *Stage) Settle(commitErr error) error {
	if commitErr == nil {
		return nil
	}
	for i := len(st.done) - 1; i >= 0; i-- {
		slug := st.done[i]
		if old := st.prev[slug]; old != nil {
			_ = st.s.WriteContent(slug, old)
		} else {
			_ = st.s.RemoveContent(slug)
		}
	}
	st.done = nil
	return commitErr
}
