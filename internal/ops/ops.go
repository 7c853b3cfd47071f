// Package ops implements the commands shared by the CLI, the MCP server and the
// review UI. Each operation takes an Env plus an input struct and returns an
// output struct that serialises as the command's JSON result.
package ops

import (
	"database/sql"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/skillminer/internal/collab"
	"github.com/hpungsan/skillminer/internal/config"
	"github.com/hpungsan/skillminer/internal/db"
	"github.com/hpungsan/skillminer/internal/domains"
	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/manifest"
)

// Env carries everything an operation needs.
type Env struct {
	BaseDir  string
	Config   *config.Config
	DB       *sql.DB
	Store    *manifest.Store
	Deployer *manifest.Deployer

	// Collab is nil until an AI backend is configured. Operations that need a
	// collaborator fail with INVALID_REQUEST without one.
	Collab *collab.Set

	Logger zerolog.Logger
	Now    func() time.Time

	// Home is the user's home directory, used to name projects in the coverage
	// report. Empty means os.UserHomeDir.
	Home string

	// borrowed is set on copies that share another Env's index.
	borrowed bool
}

// OpenOptions configures Open.
type OpenOptions struct {
	DryRun bool
	Logger zerolog.Logger
	Now    func() time.Time
}

// Open initialises the index and the manifest store under baseDir. cfg must have
// its directories resolved.
func Open(baseDir string, cfg *config.Config, opts OpenOptions) (*Env, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	database, err := db.Init(baseDir)
	if err != nil {
		return nil, err
	}
	db.ConfigurePool(database, cfg)

	store, err := manifest.Open(cfg.DraftsDir, manifest.Options{
		DryRun: opts.DryRun,
		Now:    opts.Now,
		Logger: opts.Logger,
	})
	if err != nil {
		database.Close()
		return nil, err
	}
	return &Env{
		BaseDir:  baseDir,
		Config:   cfg,
		DB:       database,
		Store:    store,
		Deployer: &manifest.Deployer{Dir: cfg.SkillsDir, DryRun: opts.DryRun},
		Logger:   opts.Logger,
		Now:      opts.Now,
	}, nil
}

// DryRunCopy returns an Env sharing e's index and collaborators over a freshly
// loaded dry-run store. Closing it is a no-op.
func (e *Env) DryRunCopy() (*Env, error) {
	if e.DryRun() {
		return e, nil
	}
	store, err := manifest.Open(e.Config.DraftsDir, manifest.Options{
		DryRun: true,
		Now:    e.Now,
		Logger: e.Logger,
	})
	if err != nil {
		return nil, err
	}
	c := *e
	c.Store = store
	c.Deployer = &manifest.Deployer{Dir: e.Deployer.Dir, DryRun: true}
	c.borrowed = true
	return &c, nil
}

// Close releases the index.
func (e *Env) Close() error {
	if e.DB == nil || e.borrowed {
		return nil
	}
	return e.DB.Close()
}

// DryRun reports whether mutations stay in memory.
func (e *Env) DryRun() bool {
	return e.Store.DryRun()
}

// ExportsDir is the default bundle location.
func (e *Env) ExportsDir() string {
	return filepath.Join(e.BaseDir, "exports")
}

func (e *Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Env) catalog() *domains.Catalog {
	return e.Config.Catalog()
}

func (e *Env) pool() *collab.Pool {
	return collab.NewPool(e.Config.MaxParallel)
}

func (e *Env) policy() collab.Policy {
	p := collab.DefaultPolicy
	if e.Config.MaxRetries > 0 {
		p.Attempts = e.Config.MaxRetries
	}
	p.BaseDelay = time.Duration(e.Config.RetryBaseDelayMS) * time.Millisecond
	return p
}

func (e *Env) collaborators() (collab.Set, error) {
	if e.Collab == nil {
		return collab.Set{}, errors.NewInvalidRequest("no AI backend configured (set GEMINI_API_KEY)")
	}
	return *e.Collab, nil
}

func (e *Env) index() db.Index {
	return db.Index{DB: e.DB}
}
