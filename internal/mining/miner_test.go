package mining

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/skillminer/internal/collab"
	"github.com/hpungsan/skillminer/internal/domains"
	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/manifest"
	"github.com/hpungsan/skillminer/internal/skill"
)

type fakeSource struct {
	convs []collab.Summary
}

func (f *fakeSource) Conversations(_ context.Context, start, end time.Time, minMessages int) ([]collab.Summary, error) {
	var out []collab.Summary
	for _, c := range f.convs {
		if !c.StartedAt.Before(start) && c.StartedAt.Before(end) && c.MessageCount >= minMessages {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeClassifier struct {
	labels map[string]string
	fail   map[string]bool
	// cancel is called when the conversation named by cancelOn is classified.
	cancel   context.CancelFunc
	cancelOn string

	mu    sync.Mutex
	calls []string
}

func (f *fakeClassifier) Classify(ctx context.Context, conv collab.Summary, _ *domains.Catalog) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, conv.ConversationID)
	f.mu.Unlock()

	if conv.ConversationID == f.cancelOn && f.cancel != nil {
		f.cancel()
		return "", ctx.Err()
	}
	if f.fail[conv.ConversationID] {
		return "", collab.Permanent("classify", stderrors.New("quota exhausted"))
	}
	if label, ok := f.labels[conv.ConversationID]; ok {
		return label, nil
	}
	return "Go development", nil
}

type fakeExtractor struct {
	fail map[string]bool
}

func (f *fakeExtractor) Extract(_ context.Context, conv collab.Summary, d domains.Domain) ([]string, error) {
	if f.fail[conv.ConversationID] {
		return nil, collab.Permanent("extract", stderrors.New("blocked"))
	}
	return []string{"Run go test -race", "run go test race", "Check " + conv.ConversationID}, nil
}

func conv(id string, at time.Time) collab.Summary {
	return collab.Summary{ConversationID: id, StartedAt: at, MessageCount: 6, FirstMessage: "hi"}
}

func openStore(t *testing.T, dir string, dryRun bool) *manifest.Store {
	t.Helper()
	s, err := manifest.Open(dir, manifest.Options{DryRun: dryRun, Now: func() time.Time { return now }, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return s
}

func newMiner(store *manifest.Store, src Source, cls collab.Classifier) *Miner {
	return &Miner{
		Store:      store,
		Source:     src,
		Catalog:    domains.NewCatalog(nil, ""),
		Classifier: cls,
		Extractor:  &fakeExtractor{},
		Pool:       collab.NewPool(2),
		Policy:     collab.Policy{Attempts: 1},
		Logger:     zerolog.Nop(),
	}
}

func opts() Options {
	return Options{Mode: ModeExtract, MaxDays: 30, MinMessages: 4, MinSignificance: 0.3, Now: now}
}

func TestMiner_HaltsOnEmptyWindow(t *testing.T) {
	src := &fakeSource{convs: []collab.Summary{
		conv("a1", now.Add(-2*time.Hour)),
		conv("a2", now.Add(-3*time.Hour)),
		// window 1 is empty; this one sits in window 2
		conv("c1", now.Add(-40*time.Hour)),
	}}
	store := openStore(t, t.TempDir(), false)

	res, err := newMiner(store, src, &fakeClassifier{}).Run(context.Background(), opts())
	require.NoError(t, err)

	assert.Len(t, res.Windows, 2)
	assert.Equal(t, StopNoNewConversations, res.StopReason)
	assert.Equal(t, 2, res.Committed)

	m := store.Snapshot()
	assert.Equal(t, []string{"a1", "a2"}, m.MinedIDs.Sorted())
	require.NotNil(t, m.Cursor)
	assert.True(t, m.Cursor.Equal(now.Add(-12*time.Hour)))
	require.NotNil(t, m.LastRun)
	assert.Equal(t, res.RunID, m.LastRun.ID)
	assert.Equal(t, string(StopNoNewConversations), m.LastRun.StopReason)
}

func TestMiner_FailedConversationsAreNotMined(t *testing.T) {
	src := &fakeSource{convs: []collab.Summary{
		conv("b1", now.Add(-1*time.Hour)),
		conv("b2", now.Add(-2*time.Hour)),
		conv("b3", now.Add(-3*time.Hour)),
		conv("b4", now.Add(-4*time.Hour)),
	}}
	store := openStore(t, t.TempDir(), false)
	cls := &fakeClassifier{
		labels: map[string]string{"b4": "misc"},
		fail:   map[string]bool{"b2": true},
	}
	mn := newMiner(store, src, cls)
	mn.Extractor = &fakeExtractor{fail: map[string]bool{"b3": true}}

	res, err := mn.Run(context.Background(), opts())
	require.NoError(t, err)
	require.NotEmpty(t, res.Windows)

	w := res.Windows[0]
	assert.Equal(t, 4, w.Conversations)
	assert.Equal(t, 3, w.Classified)
	assert.InDelta(t, 2.0/3.0, w.Significance, 1e-9)
	assert.Equal(t, map[string]int{"go-dev": 2, "misc": 1}, w.Domains)
	assert.Equal(t, 2, res.Failed)

	m := store.Snapshot()
	assert.Equal(t, []string{"b1", "b4"}, m.MinedIDs.Sorted())

	var fromB1 []string
	for _, o := range m.Pending {
		assert.Equal(t, "b1", o.ConversationID, "only extracted conversations leave observations")
		fromB1 = append(fromB1, o.Key)
	}
	sort.Strings(fromB1)
	assert.Equal(t, []string{"check b1", "run go test race"}, fromB1)
}

func TestMiner_AllFailedIsAnError(t *testing.T) {
	src := &fakeSource{convs: []collab.Summary{
		conv("f1", now.Add(-1*time.Hour)),
		conv("f2", now.Add(-2*time.Hour)),
	}}
	store := openStore(t, t.TempDir(), false)
	cls := &fakeClassifier{fail: map[string]bool{"f1": true, "f2": true}}

	res, err := newMiner(store, src, cls).Run(context.Background(), opts())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCollaborator))
	assert.Contains(t, err.Error(), "all 2 conversations in window 0 failed")

	require.NotNil(t, res)
	assert.Equal(t, StopAllFailed, res.StopReason)
	assert.False(t, res.StopReason.Normal())
	assert.Equal(t, 2, res.Failed)

	m := store.Snapshot()
	assert.Empty(t, m.MinedIDs.Sorted())
	require.NotNil(t, m.LastRun)
	assert.Equal(t, string(StopAllFailed), m.LastRun.StopReason)
}

func TestMiner_LowSignificanceCommitsThenHalts(t *testing.T) {
	src := &fakeSource{convs: []collab.Summary{
		conv("m1", now.Add(-1*time.Hour)),
		conv("m2", now.Add(-2*time.Hour)),
		conv("m3", now.Add(-20*time.Hour)),
	}}
	store := openStore(t, t.TempDir(), false)
	cls := &fakeClassifier{labels: map[string]string{"m1": "misc", "m2": "misc"}}

	res, err := newMiner(store, src, cls).Run(context.Background(), opts())
	require.NoError(t, err)

	assert.Equal(t, StopLowSignificance, res.StopReason)
	assert.Len(t, res.Windows, 1)
	assert.Equal(t, []string{"m1", "m2"}, store.Snapshot().MinedIDs.Sorted())
	assert.Empty(t, store.Snapshot().Pending, "catch-all conversations are not extracted")
}

func TestMiner_MinedIDsOnlyGrow(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{convs: []collab.Summary{
		conv("r1", now.Add(-1*time.Hour)),
		conv("r2", now.Add(-14*time.Hour)),
	}}

	first, err := newMiner(openStore(t, dir, false), src, &fakeClassifier{}).Run(context.Background(), opts())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Committed)

	src.convs = append(src.convs, conv("r3", now.Add(-2*time.Hour)))
	store := openStore(t, dir, false)
	cls := &fakeClassifier{}
	second, err := newMiner(store, src, cls).Run(context.Background(), opts())
	require.NoError(t, err)

	assert.Equal(t, []string{"r3"}, cls.calls, "already mined conversations are never reclassified")
	assert.Equal(t, 1, second.Windows[0].Skipped)
	assert.Equal(t, []string{"r1", "r2", "r3"}, store.Snapshot().MinedIDs.Sorted())
}

func TestMiner_ClassifyModeNeverCommits(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{convs: []collab.Summary{conv("k1", now.Add(-time.Hour))}}
	store := openStore(t, dir, false)
	mn := newMiner(store, src, &fakeClassifier{})
	mn.Extractor = nil

	o := opts()
	o.Mode = ModeClassify
	res, err := mn.Run(context.Background(), o)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Windows[0].Domains["go-dev"])
	assert.Equal(t, 0, res.Committed)
	assert.Empty(t, store.Snapshot().MinedIDs)
	assert.Nil(t, store.Snapshot().LastRun)
}

func TestMiner_CancellationDiscardsWindow(t *testing.T) {
	src := &fakeSource{convs: []collab.Summary{
		conv("x1", now.Add(-1*time.Hour)),
		conv("x2", now.Add(-2*time.Hour)),
	}}
	store := openStore(t, t.TempDir(), false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cls := &fakeClassifier{cancel: cancel, cancelOn: "x1"}

	res, err := newMiner(store, src, cls).Run(ctx, opts())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCancelled))
	require.NotNil(t, res)
	assert.Equal(t, StopCancelled, res.StopReason)
	assert.Empty(t, store.Snapshot().MinedIDs)
	assert.Nil(t, store.Snapshot().LastRun)
}

func TestMiner_DryRunLeavesManifestUntouched(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{convs: []collab.Summary{conv("d1", now.Add(-time.Hour))}}

	res, err := newMiner(openStore(t, dir, true), src, &fakeClassifier{}).Run(context.Background(), opts())
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Committed)

	assert.Empty(t, openStore(t, dir, false).Snapshot().MinedIDs)
}

type fakeGenerator struct {
	fail map[string]bool
}

func (f *fakeGenerator) Generate(_ context.Context, req collab.GenerateRequest) (collab.Content, error) {
	if f.fail[req.Domain.Slug] {
		return collab.Content{}, collab.Permanent("generate", stderrors.New("blocked"))
	}
	var b strings.Builder
	b.WriteString("# " + req.Domain.Name + "\n\n")
	for _, p := range req.Patterns {
		b.WriteString("## " + p.Text + "\n\nDo it.\n\n")
	}
	return collab.Content{Description: "Use when working on " + req.Domain.Name, Body: b.String()}, nil
}

func seedPending(t *testing.T, store *manifest.Store, obs []manifest.Observation) {
	t.Helper()
	_, err := store.Update(func(m *manifest.Manifest) error {
		m.Pending = append(m.Pending, obs...)
		return nil
	})
	require.NoError(t, err)
}

func newDrafter(store *manifest.Store, gen collab.Generator) *Drafter {
	return &Drafter{
		Store:     store,
		Catalog:   domains.NewCatalog(nil, ""),
		Generator: gen,
		Pool:      collab.NewPool(2),
		Policy:    collab.Policy{Attempts: 1},
		Logger:    zerolog.Nop(),
	}
}

func TestGenerate_CreatesDraftAndConsumesPending(t *testing.T) {
	store := openStore(t, t.TempDir(), false)
	var obs []manifest.Observation
	obs = append(obs, spread("go-dev", "run go test -race", 3, now.Add(-time.Hour))...)
	obs = append(obs, spread("go-dev", "use table tests", 2, now.Add(-30*time.Minute))...)
	obs = append(obs, spread("testing", "mock the clock", 1, now)...)
	seedPending(t, store, obs)

	report, err := newDrafter(store, &fakeGenerator{}).Generate(context.Background(), now)
	require.NoError(t, err)

	require.Len(t, report.Drafts, 1)
	d := report.Drafts[0]
	assert.Equal(t, "go-dev", d.Slug)
	assert.Equal(t, skill.StatusDraft, d.Status)
	assert.False(t, d.Merged)
	assert.Equal(t, 5, d.Conversations)
	require.Len(t, d.Patterns, 2)
	assert.Equal(t, 3, d.Patterns[0].Frequency)
	assert.Equal(t, 5, report.Consumed)
	assert.Equal(t, 1, report.Pending, "below-threshold observations stay pending")

	content, err := store.ReadContent("go-dev")
	require.NoError(t, err)
	doc, err := skill.Parse(content)
	require.NoError(t, err)
	assert.Equal(t, "go-dev", doc.Name)
	assert.Equal(t, "go-dev", doc.Domain)
	assert.Equal(t, "Use when working on Go development", doc.Description)
	assert.Contains(t, doc.Body, "## run go test -race")

	sk := store.Snapshot().Skills["go-dev"]
	assert.Equal(t, skill.Checksum(content), sk.ContentHash)
	assert.Equal(t, skill.OriginMined, sk.Origin)
}

func TestGenerate_MergesIntoLiveSkill(t *testing.T) {
	store := openStore(t, t.TempDir(), false)
	seedPending(t, store, spread("go-dev", "run go test -race", 2, now.Add(-2*time.Hour)))
	_, err := newDrafter(store, &fakeGenerator{}).Generate(context.Background(), now)
	require.NoError(t, err)

	_, err = store.Update(func(m *manifest.Manifest) error {
		m.Skills["go-dev"].Status = skill.StatusApproved
		return nil
	})
	require.NoError(t, err)

	more := spread("go-dev", "Run go test -race", 3, now.Add(-time.Hour))
	for i := range more {
		more[i].ConversationID = "later-" + more[i].ConversationID
	}
	seedPending(t, store, more)

	report, err := newDrafter(store, &fakeGenerator{}).Generate(context.Background(), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, report.Drafts, 1)
	d := report.Drafts[0]
	assert.Equal(t, "go-dev", d.Slug)
	assert.True(t, d.Merged)
	assert.Equal(t, skill.StatusApproved, d.Status, "regeneration keeps the lifecycle state")
	require.Len(t, d.Patterns, 1)
	assert.Equal(t, 5, d.Patterns[0].Frequency)

	m := store.Snapshot()
	assert.Len(t, m.Skills, 1)
	assert.Equal(t, 5, m.Skills["go-dev"].ConversationCount)
}

func TestGenerate_RejectedSkillGetsNewSlug(t *testing.T) {
	store := openStore(t, t.TempDir(), false)
	_, err := store.Update(func(m *manifest.Manifest) error {
		m.Skills["docs"] = &skill.Skill{Slug: "docs", Domain: "docs", Status: skill.StatusRejected, CreatedAt: now}
		return nil
	})
	require.NoError(t, err)
	seedPending(t, store, spread("docs", "keep the changelog current", 2, now))

	report, err := newDrafter(store, &fakeGenerator{}).Generate(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, report.Drafts, 1)
	assert.Equal(t, "docs-2", report.Drafts[0].Slug)
	assert.Equal(t, skill.StatusRejected, store.Snapshot().Skills["docs"].Status)
}

func TestGenerate_FailedDomainStaysPending(t *testing.T) {
	store := openStore(t, t.TempDir(), false)
	var obs []manifest.Observation
	obs = append(obs, spread("go-dev", "run go test -race", 2, now)...)
	obs = append(obs, spread("docs", "keep the changelog current", 2, now)...)
	seedPending(t, store, obs)

	report, err := newDrafter(store, &fakeGenerator{fail: map[string]bool{"docs": true}}).Generate(context.Background(), now)
	require.NoError(t, err)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "docs", report.Failures[0].Domain)
	assert.Equal(t, 2, report.Pending)
	for _, o := range store.Snapshot().Pending {
		assert.Equal(t, "docs", o.Domain)
	}
	_, ok := store.Snapshot().Skills["docs"]
	assert.False(t, ok)
}
