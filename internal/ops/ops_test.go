package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/skillminer/internal/collab"
	"github.com/hpungsan/skillminer/internal/config"
	"github.com/hpungsan/skillminer/internal/domains"
	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/manifest"
	"github.com/hpungsan/skillminer/internal/mining"
	"github.com/hpungsan/skillminer/internal/scoring"
	"github.com/hpungsan/skillminer/internal/skill"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeAI struct{}

func (fakeAI) Classify(context.Context, collab.Summary, *domains.Catalog) (string, error) {
	return "go-dev", nil
}

func (fakeAI) Extract(context.Context, collab.Summary, domains.Domain) ([]string, error) {
	return []string{"Run go test -race before pushing"}, nil
}

func (fakeAI) Generate(_ context.Context, req collab.GenerateRequest) (collab.Content, error) {
	return collab.Content{
		Description: "Use when writing Go tests",
		Body:        "## 1. Race detector\n\nRun go test -race before pushing.\n",
	}, nil
}

func (fakeAI) Refine(context.Context, collab.RefineRequest) (string, error) {
	return "Use when a Go test needs the race detector", nil
}

func sessionLog(hour int) string {
	at := func(min int) string {
		return time.Date(2026, 3, 1, hour, min, 0, 0, time.UTC).Format(time.RFC3339)
	}
	lines := []string{
		`{"type":"user","cwd":"/home/dev/shop","timestamp":"` + at(0) + `","message":{"role":"user","content":"write a table test for the parser"}}`,
		`{"type":"assistant","timestamp":"` + at(1) + `","message":{"role":"assistant","content":[{"type":"text","text":"Loading the skill."},{"type":"tool_use","name":"Skill","input":{"skill":"go-dev"}}]}}`,
		`{"type":"assistant","timestamp":"` + at(2) + `","message":{"role":"assistant","content":[{"type":"tool_use","name":"Bash","input":{"command":"go test -race ./..."}},{"type":"tool_use","name":"Edit","input":{"file_path":"/home/dev/shop/parser_test.go"}}]}}`,
		`{"type":"user","timestamp":"` + at(3) + `","message":{"role":"user","content":"now check the race detector output"}}`,
		`{"type":"assistant","timestamp":"` + at(4) + `","message":{"role":"assistant","content":"No races found."}}`,
	}
	return strings.Join(lines, "\n") + "\n"
}

func newEnv(t *testing.T, base string, dryRun bool) *Env {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ResolveDirs(base, filepath.Join(base, "home"))
	cfg.ProjectsDir = filepath.Join(base, "projects")
	cfg.MinMessages = 2
	cfg.RetryBaseDelayMS = 0

	env, err := Open(base, cfg, OpenOptions{DryRun: dryRun, Logger: zerolog.Nop(), Now: func() time.Time { return now }})
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	var ai fakeAI
	env.Collab = &collab.Set{Classifier: ai, Extractor: ai, Generator: ai, Refiner: ai}
	return env
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func seedLogs(t *testing.T, env *Env) {
	t.Helper()
	writeFile(t, filepath.Join(env.Config.ProjectsDir, "shop", "c1.jsonl"), sessionLog(8))
	writeFile(t, filepath.Join(env.Config.ProjectsDir, "shop", "c2.jsonl"), sessionLog(9))
}

func TestWorkflow(t *testing.T) {
	ctx := context.Background()
	env := newEnv(t, t.TempDir(), false)
	env.Home = "/home/dev"
	seedLogs(t, env)

	// scan, then rescan skips unchanged logs
	scan, err := Scan(ctx, env, ScanInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, scan.Files)
	assert.Equal(t, 2, scan.Indexed)
	assert.Equal(t, 2, scan.Invocations)
	assert.Equal(t, 2, scan.Index.Conversations)

	scan, err = Scan(ctx, env, ScanInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, scan.Unchanged)
	assert.Equal(t, 0, scan.Indexed)

	// classify never commits
	cls, err := Classify(ctx, env, MineInput{})
	require.NoError(t, err)
	require.NotEmpty(t, cls.Windows)
	assert.Equal(t, 2, cls.Windows[0].Domains["go-dev"])
	assert.Empty(t, env.Store.Snapshot().MinedIDs)

	mined, err := Mine(ctx, env, MineInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, mined.Extract.Committed)
	require.Len(t, mined.Generate.Drafts, 1)
	slug := mined.Generate.Drafts[0].Slug
	assert.Equal(t, "go-dev", slug)

	// both conversations edited files in shop, which no skill is named after
	require.Len(t, mined.Uncovered, 1)
	assert.Equal(t, "shop", mined.Uncovered[0].Name)
	assert.Equal(t, "/home/dev/shop", mined.Uncovered[0].Path)
	assert.Equal(t, 2, mined.Uncovered[0].Conversations)

	runs, err := Runs(ctx, env, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "mine", runs[0].Command)
	assert.Equal(t, mined.Extract.RunID, runs[0].ID)

	list, err := List(env, ListInput{Status: "draft"})
	require.NoError(t, err)
	require.Len(t, list.Skills, 1)
	assert.Equal(t, 0, list.Pending)

	// the approval gate holds for --approved
	dep, err := Deploy(env, DeployInput{Approved: true})
	require.NoError(t, err)
	assert.Empty(t, dep.Changed)

	_, err = Approve(env, []string{slug})
	require.NoError(t, err)
	dep, err = Deploy(env, DeployInput{Approved: true})
	require.NoError(t, err)
	require.Len(t, dep.Changed, 1)
	assert.FileExists(t, env.Deployer.Path(slug))

	diff, err := Diff(env, "")
	require.NoError(t, err)
	require.Len(t, diff.Diffs, 1)
	assert.Equal(t, manifest.DiffIdentical, diff.Diffs[0].Status)

	rep, err := Consolidate(ctx, env, ConsolidateInput{Refine: true})
	require.NoError(t, err)
	require.Len(t, rep.Scored, 1)
	assert.Equal(t, 2, rep.Scored[0].FireCount)
	assert.Equal(t, scoring.VerdictKeep, rep.Scored[0].Verdict)
	assert.Empty(t, rep.Rejected)

	// export, verify, then import under a new slug
	exp, err := Export(env, ExportInput{Name: "team", ApprovedOnly: true})
	require.NoError(t, err)
	assert.DirExists(t, exp.Path)

	ver, err := Verify(env, exp.Path)
	require.NoError(t, err)
	assert.True(t, ver.OK)

	val, err := Validate(env, ValidateInput{Path: exp.Path})
	require.NoError(t, err)
	assert.True(t, val.Validation.Valid, "issues: %v", val.Validation.Issues)

	_, err = Import(env, ImportInput{Path: exp.Path})
	assert.True(t, errors.Is(err, errors.ErrConflict), "got %v", err)

	imp, err := Import(env, ImportInput{Path: exp.Path, Mode: "rename"})
	require.NoError(t, err)
	require.Len(t, imp.Imported, 1)
	copySlug := imp.Imported[0].Slug
	assert.NotEqual(t, slug, copySlug)
	assert.Equal(t, slug, imp.Imported[0].Source)

	// reject and prune the copy
	_, err = Reject(env, []string{copySlug})
	require.NoError(t, err)
	pr, err := Prune(env, PruneInput{Rejected: true})
	require.NoError(t, err)
	require.Len(t, pr.Removed, 1)
	assert.Equal(t, copySlug, pr.Removed[0].Slug)
	assert.True(t, env.Store.Snapshot().IsRetired(copySlug))
	assert.NoFileExists(t, env.Store.ContentPath(copySlug))

	g, err := Graph(env, GraphInput{})
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 1)

	// refinement rewrote the draft, so it now differs from the deployed copy
	show, err := Show(env, slug)
	require.NoError(t, err)
	assert.Equal(t, "Use when a Go test needs the race detector", show.Skill.Description)
	assert.NotEqual(t, show.Content, show.Deployed)

	diff, err = Diff(env, slug)
	require.NoError(t, err)
	assert.Equal(t, manifest.DiffChanged, diff.Diffs[0].Status)
}

func TestDryRunPersistsNothing(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	env := newEnv(t, base, false)
	seedLogs(t, env)
	_, err := Scan(ctx, env, ScanInput{})
	require.NoError(t, err)
	_, err = Mine(ctx, env, MineInput{})
	require.NoError(t, err)
	before, err := os.ReadFile(env.Store.Path())
	require.NoError(t, err)

	dry := newEnv(t, base, true)
	out, err := Deploy(dry, DeployInput{Slugs: []string{"go-dev"}})
	require.NoError(t, err)
	require.Len(t, out.Changed, 1)
	assert.True(t, out.DryRun)
	assert.NoFileExists(t, dry.Deployer.Path("go-dev"))

	_, err = Prune(dry, PruneInput{Duplicates: true, Rejected: true, Misc: true})
	require.NoError(t, err)
	_, err = Export(dry, ExportInput{Name: "dry"})
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(dry.ExportsDir(), "dry.skillpack"))

	after, err := os.ReadFile(dry.Store.Path())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.FileExists(t, dry.Store.ContentPath("go-dev"))
}

func TestNoCollaborators(t *testing.T) {
	env := newEnv(t, t.TempDir(), false)
	env.Collab = nil
	_, err := Mine(context.Background(), env, MineInput{})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)

	// consolidation without refinement needs no collaborator
	_, err = Consolidate(context.Background(), env, ConsolidateInput{})
	assert.NoError(t, err)
}

func TestListValidation(t *testing.T) {
	env := newEnv(t, t.TempDir(), false)
	_, err := List(env, ListInput{Status: "archived"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = Approve(env, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = Deploy(env, DeployInput{Slugs: []string{"x"}, Approved: true})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = Diff(env, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	out, err := Approve(env, []string{"missing"})
	require.NoError(t, err)
	require.Len(t, out.Skipped, 1)
	assert.Equal(t, string(errors.ErrNotFound), out.Skipped[0].Code)
}

func seedSkill(t *testing.T, env *Env, slug, domain string, status skill.Status, body string, created time.Time) {
	t.Helper()
	content := []byte(fmt.Sprintf("---\nname: %s\ndescription: Use when testing\n---\n%s", slug, body))
	require.NoError(t, env.Store.WriteContent(slug, content))
	_, err := env.Store.Update(func(m *manifest.Manifest) error {
		m.Skills[slug] = &skill.Skill{
			Slug:        slug,
			Domain:      domain,
			Status:      status,
			ContentHash: skill.Checksum([]byte(body)),
			CreatedAt:   created,
			UpdatedAt:   created,
		}
		return nil
	})
	require.NoError(t, err)
}

func TestPrune(t *testing.T) {
	env := newEnv(t, t.TempDir(), false)
	old := now.Add(-48 * time.Hour)
	seedSkill(t, env, "misc", "misc", skill.StatusDraft, "a", old)
	seedSkill(t, env, "go-dev", "go-dev", skill.StatusApproved, "same", now)
	seedSkill(t, env, "go-dev-2", "go-dev", skill.StatusDraft, "same", old)
	seedSkill(t, env, "testing", "testing", skill.StatusDraft, "other", old)
	seedSkill(t, env, "testing-2", "testing", skill.StatusDraft, "other", now)
	seedSkill(t, env, "old", "docs", skill.StatusRejected, "b", old)
	_, err := env.Store.Update(func(m *manifest.Manifest) error {
		m.Pending = []manifest.Observation{
			{Domain: "misc", Key: "a", Text: "a", ConversationID: "c1", At: old},
			{Domain: "go-dev", Key: "b", Text: "b", ConversationID: "c1", At: old},
		}
		return nil
	})
	require.NoError(t, err)

	_, err = Prune(env, PruneInput{})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	out, err := Prune(env, PruneInput{Misc: true, Rejected: true, Duplicates: true})
	require.NoError(t, err)

	got := map[string]Pruned{}
	for _, p := range out.Removed {
		got[p.Slug] = p
	}
	assert.Len(t, got, 4)
	assert.Equal(t, "misc", got["misc"].Reason)
	assert.Equal(t, "rejected", got["old"].Reason)
	// a non-draft keeps its place over an older draft
	assert.Equal(t, "go-dev", got["go-dev-2"].DuplicateOf)
	// among drafts the oldest is kept
	assert.Equal(t, "testing", got["testing-2"].DuplicateOf)
	assert.Equal(t, 1, out.Observations)

	m := env.Store.Snapshot()
	assert.ElementsMatch(t, []string{"go-dev", "testing"}, m.Slugs())
	require.Len(t, m.Pending, 1)
	assert.Equal(t, "go-dev", m.Pending[0].Domain)
	assert.Equal(t, 4, len(m.Retired))
	assert.Equal(t, "go-dev-3", m.AllocateSlug("go-dev"))
}

func TestToday(t *testing.T) {
	env := newEnv(t, t.TempDir(), false)
	seedLogs(t, env)
	_, err := Scan(context.Background(), env, ScanInput{})
	require.NoError(t, err)

	ms := func(h, m int) string {
		return fmt.Sprint(time.Date(2026, 3, 1, h, m, 0, 0, time.UTC).UnixMilli())
	}
	writeFile(t, env.Config.HistoryFile, strings.Join([]string{
		`{"display":"refactor the order service to use the repository","timestamp":` + ms(10, 0) + `,"project":"/home/dev/shop"}`,
		`{"display":"write tests for the checkout flow please","timestamp":` + ms(10, 40) + `,"project":"/home/dev/shop"}`,
		`{"display":"yesterday's work on the blog engine","timestamp":` + fmt.Sprint(now.Add(-30*time.Hour).UnixMilli()) + `,"project":"/home/dev/blog"}`,
	}, "\n")+"\n")

	out, err := Today(context.Background(), env, TodayInput{Location: time.UTC})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", out.Date)
	assert.Equal(t, 2, out.Prompts)
	assert.Equal(t, 2, out.Conversations)
	assert.Equal(t, []string{"shop"}, out.Projects)
	assert.True(t, strings.HasPrefix(out.FirstActivity, "08:00"), out.FirstActivity)
	assert.NotEmpty(t, out.Slots)

	out, err = Today(context.Background(), env, TodayInput{Date: "2026-02-28", Location: time.UTC})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Prompts)
	assert.Equal(t, 0, out.Conversations)

	_, err = Today(context.Background(), env, TodayInput{Date: "March 1"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestTodayWithoutHistory(t *testing.T) {
	env := newEnv(t, t.TempDir(), false)
	out, err := Today(context.Background(), env, TodayInput{Location: time.UTC})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Prompts)
	assert.Empty(t, out.Slots)
}

func TestMineModeOptions(t *testing.T) {
	env := newEnv(t, t.TempDir(), false)
	env.Config.MaxWindows = 5
	opts := env.mineOptions(mining.ModeExtract, "extract", MineInput{Days: 7, MinSignificance: config.Float(0.5)})
	assert.Equal(t, 7, opts.MaxDays)
	assert.Equal(t, 5, opts.MaxWindows)
	assert.Equal(t, 2, opts.MinMessages)
	assert.Equal(t, 0.5, opts.MinSignificance)
	assert.Equal(t, now, opts.Now)

	// an explicit zero turns the significance stop off
	opts = env.mineOptions(mining.ModeExtract, "extract", MineInput{MinSignificance: config.Float(0)})
	assert.Equal(t, 0.0, opts.MinSignificance)
	opts = env.mineOptions(mining.ModeExtract, "extract", MineInput{})
	assert.Equal(t, env.Config.Significance(), opts.MinSignificance)
}
