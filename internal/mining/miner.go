package mining

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/hpungsan/skillminer/internal/collab"
	"github.com/hpungsan/skillminer/internal/domains"
	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/manifest"
	"github.com/hpungsan/skillminer/internal/skill"
)

// Source is the read-only, time-queryable conversation store.
type Source interface {
	Conversations(ctx context.Context, start, end time.Time, minMessages int) ([]collab.Summary, error)
}

// Mode selects how far a run goes per window.
type Mode string

const (
	// ModeClassify classifies and reports. It never commits.
	ModeClassify Mode = "classify"
	// ModeExtract classifies, extracts and commits each window.
	ModeExtract Mode = "extract"
)

// Options configures one mining run.
type Options struct {
	Mode            Mode
	Command         string
	MaxDays         int
	MaxWindows      int
	MinMessages     int
	MinSignificance float64
	Now             time.Time
}

// ConversationFailure is a conversation left out of a window's commit.
type ConversationFailure struct {
	ConversationID string `json:"conversation_id"`
	Stage          string `json:"stage"`
	Error          string `json:"error"`
}

// WindowReport describes one processed window.
type WindowReport struct {
	Window
	Conversations int                   `json:"conversations"`
	Skipped       int                   `json:"already_mined"`
	Classified    int                   `json:"classified"`
	Domains       map[string]int        `json:"domains,omitempty"`
	Significance  float64               `json:"significance"`
	Observations  int                   `json:"observations"`
	Committed     int                   `json:"committed"`
	Failures      []ConversationFailure `json:"failures,omitempty"`
}

// Result is the outcome of a run.
type Result struct {
	RunID         string         `json:"run_id"`
	Command       string         `json:"command"`
	Mode          Mode           `json:"mode"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Windows       []WindowReport `json:"windows"`
	Conversations int            `json:"conversations"`
	Committed     int            `json:"committed"`
	Failed        int            `json:"failed"`
	StopReason    StopReason     `json:"stop_reason"`
	DryRun        bool           `json:"dry_run"`
}

// Miner runs the window scheduler against a Source and the collaborators.
type Miner struct {
	Store      *manifest.Store
	Source     Source
	Catalog    *domains.Catalog
	Classifier collab.Classifier
	Extractor  collab.Extractor
	Pool       *collab.Pool
	Policy     collab.Policy
	Logger     zerolog.Logger
}

// NewRunID returns a fresh sortable run id.
func NewRunID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Run walks windows backward from opts.Now until a stop condition holds. In
// ModeExtract every window that produced results is committed before the next
// one starts. When ctx is cancelled the current window is discarded, the result
// so far is returned with StopCancelled, and the error is CANCELLED. A window in
// which every conversation failed ends the run with StopAllFailed; the result is
// returned with a COLLABORATOR error.
func (mn *Miner) Run(ctx context.Context, opts Options) (*Result, error) {
	if mn.Catalog == nil {
		mn.Catalog = domains.NewCatalog(nil, "")
	}
	if mn.Classifier == nil {
		return nil, errors.NewInvalidRequest("no classifier configured")
	}
	if opts.Mode == "" {
		opts.Mode = ModeExtract
	}
	if opts.Mode == ModeExtract && mn.Extractor == nil {
		return nil, errors.NewInvalidRequest("no extractor configured")
	}
	if opts.Now.IsZero() {
		opts.Now = mn.Store.Now()
	}
	if opts.MinMessages < 1 {
		opts.MinMessages = 1
	}
	if opts.Command == "" {
		opts.Command = string(opts.Mode)
	}
	pool := mn.Pool
	if pool == nil {
		pool = collab.NewPool(collab.DefaultLimit)
	}

	res := &Result{
		RunID:     NewRunID(opts.Now),
		Command:   opts.Command,
		Mode:      opts.Mode,
		StartedAt: opts.Now.UTC(),
		DryRun:    mn.Store.DryRun(),
		Windows:   []WindowReport{},
	}
	log := mn.Logger.With().Str("run_id", res.RunID).Str("mode", string(opts.Mode)).Logger()

	seq := NewWindowSeq(opts.Now, WindowOptions{MaxDays: opts.MaxDays, MaxWindows: opts.MaxWindows})
	for {
		if ctx.Err() != nil {
			res.StopReason = StopCancelled
			break
		}
		w, ok := seq.Next()
		if !ok {
			res.StopReason = seq.Reason()
			break
		}

		rep, stop, err := mn.window(ctx, pool, w, opts, log)
		if err != nil {
			if ctx.Err() != nil {
				res.StopReason = StopCancelled
				break
			}
			return nil, err
		}
		res.Windows = append(res.Windows, rep)
		res.Conversations += rep.Conversations
		res.Committed += rep.Committed
		res.Failed += len(rep.Failures)
		if stop != "" {
			res.StopReason = stop
			break
		}
	}
	res.FinishedAt = mn.Store.Now().UTC()

	log.Info().
		Int("windows", len(res.Windows)).
		Int("committed", res.Committed).
		Int("failed", res.Failed).
		Str("stop_reason", string(res.StopReason)).
		Msg("mining run finished")

	if opts.Mode == ModeExtract && res.StopReason != StopCancelled {
		_, err := mn.Store.Update(func(m *manifest.Manifest) error {
			m.LastRun = &manifest.RunInfo{
				ID:            res.RunID,
				Command:       res.Command,
				StartedAt:     res.StartedAt,
				FinishedAt:    res.FinishedAt,
				Windows:       len(res.Windows),
				Conversations: res.Conversations,
				StopReason:    string(res.StopReason),
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	switch {
	case res.StopReason == StopCancelled:
		return res, errors.NewCancelled("mining")
	case !res.StopReason.Normal() && len(res.Windows) > 0:
		last := res.Windows[len(res.Windows)-1]
		return res, errors.NewCollaborator(string(opts.Mode),
			fmt.Errorf("all %d conversations in window %d failed", len(last.Failures), last.Window.Index))
	}
	return res, nil
}

type item struct {
	summary  collab.Summary
	domain   string
	patterns []string
}

// window processes one window. A non-empty StopReason halts the run.
func (mn *Miner) window(ctx context.Context, pool *collab.Pool, w Window, opts Options, log zerolog.Logger) (WindowReport, StopReason, error) {
	rep := WindowReport{Window: w, Domains: map[string]int{}}
	wlog := log.With().Int("window", w.Index).Time("start", w.Start).Time("end", w.End).Logger()

	convs, err := mn.Source.Conversations(ctx, w.Start, w.End, opts.MinMessages)
	if err != nil {
		return rep, "", err
	}
	mined := mn.Store.Snapshot().MinedIDs
	var items []*item
	for _, c := range convs {
		if mined.Has(c.ConversationID) {
			rep.Skipped++
			continue
		}
		items = append(items, &item{summary: c})
	}
	rep.Conversations = len(items)
	if len(items) == 0 {
		wlog.Info().Int("already_mined", rep.Skipped).Msg("window has no new conversations")
		return rep, StopNoNewConversations, nil
	}

	errs, err := pool.Run(ctx, len(items), func(ctx context.Context, i int) error {
		it := items[i]
		label, err := collab.Retry(ctx, mn.Policy, func(ctx context.Context) (string, error) {
			return mn.Classifier.Classify(ctx, it.summary, mn.Catalog)
		})
		if err != nil {
			return err
		}
		it.domain = mn.Catalog.Resolve(label)
		return nil
	})
	if err != nil {
		return rep, "", err
	}

	var classified []Classified
	var ok []*item
	for i, it := range items {
		if errs[i] != nil {
			rep.Failures = append(rep.Failures, failure(it, "classify", errs[i]))
			wlog.Warn().Err(errs[i]).Str("conversation", it.summary.ConversationID).Msg("classification failed")
			continue
		}
		classified = append(classified, Classified{ConversationID: it.summary.ConversationID, Domain: it.domain})
		rep.Domains[it.domain]++
		ok = append(ok, it)
	}
	rep.Classified = len(classified)
	rep.Significance = Significance(classified, mn.Catalog.CatchAll())

	if len(ok) == 0 {
		wlog.Warn().Int("failed", len(rep.Failures)).Msg("every conversation in window failed")
		return rep, StopAllFailed, nil
	}

	if opts.Mode == ModeExtract {
		committed, err := mn.extractAndCommit(ctx, pool, w, ok, &rep, wlog)
		if err != nil {
			return rep, "", err
		}
		rep.Committed = committed
	}

	wlog.Info().
		Int("conversations", rep.Conversations).
		Int("classified", rep.Classified).
		Float64("significance", rep.Significance).
		Int("committed", rep.Committed).
		Msg("window done")

	if rep.Significance < opts.MinSignificance {
		return rep, StopLowSignificance, nil
	}
	return rep, "", nil
}

func (mn *Miner) extractAndCommit(ctx context.Context, pool *collab.Pool, w Window, ok []*item, rep *WindowReport, log zerolog.Logger) (int, error) {
	catchAll := mn.Catalog.CatchAll()
	var targets []*item
	for _, it := range ok {
		if it.domain != catchAll {
			targets = append(targets, it)
		}
	}

	errs, err := pool.Run(ctx, len(targets), func(ctx context.Context, i int) error {
		it := targets[i]
		d, _ := mn.Catalog.Lookup(it.domain)
		patterns, err := collab.Retry(ctx, mn.Policy, func(ctx context.Context) ([]string, error) {
			return mn.Extractor.Extract(ctx, it.summary, d)
		})
		if err != nil {
			return err
		}
		it.patterns = patterns
		return nil
	})
	if err != nil {
		return 0, err
	}

	failed := map[*item]bool{}
	for i, it := range targets {
		if errs[i] != nil {
			failed[it] = true
			rep.Failures = append(rep.Failures, failure(it, "extract", errs[i]))
			log.Warn().Err(errs[i]).Str("conversation", it.summary.ConversationID).Msg("extraction failed")
		}
	}

	var ids []string
	var obs []manifest.Observation
	for _, it := range ok {
		if failed[it] {
			continue
		}
		ids = append(ids, it.summary.ConversationID)
		obs = append(obs, observations(it)...)
	}
	rep.Observations = len(obs)
	if len(ids) == 0 {
		return 0, nil
	}

	_, err = mn.Store.Update(func(m *manifest.Manifest) error {
		m.MinedIDs.Add(ids...)
		m.Pending = append(m.Pending, obs...)
		m.AdvanceCursor(w.Start)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// observations turns an item's raw patterns into one observation per distinct key.
func observations(it *item) []manifest.Observation {
	seen := map[string]bool{}
	var out []manifest.Observation
	for _, text := range it.patterns {
		key := skill.PatternKey(text)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, manifest.Observation{
			Domain:         it.domain,
			Key:            key,
			Text:           text,
			ConversationID: it.summary.ConversationID,
			At:             it.summary.StartedAt.UTC(),
		})
	}
	return out
}

func failure(it *item, stage string, err error) ConversationFailure {
	return ConversationFailure{ConversationID: it.summary.ConversationID, Stage: stage, Error: err.Error()}
}
