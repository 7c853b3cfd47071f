package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/skillminer/internal/collab"
	"github.com/hpungsan/skillminer/internal/config"
	"github.com/hpungsan/skillminer/internal/domains"
	"github.com/hpungsan/skillminer/internal/errors"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeAI struct{}

func (fakeAI) Classify(context.Context, collab.Summary, *domains.Catalog) (string, error) {
	return "go-dev", nil
}

func (fakeAI) Extract(context.Context, collab.Summary, domains.Domain) ([]string, error) {
	return []string{"Run go test -race before pushing"}, nil
}

func (fakeAI) Generate(context.Context, collab.GenerateRequest) (collab.Content, error) {
	return collab.Content{
		Description: "Use when writing Go tests",
		Body:        "## 1. Race detector\n\nRun go test -race before pushing.\n",
	}, nil
}

func (fakeAI) Refine(context.Context, collab.RefineRequest) (string, error) {
	return "Use when a Go test needs the race detector", nil
}

// sessionLog is a short conversation on 2026-03-01 that loads the go-dev skill.
func sessionLog(hour int) string {
	at := func(min int) string {
		return time.Date(2026, 3, 1, hour, min, 0, 0, time.UTC).Format(time.RFC3339)
	}
	lines := []string{
		`{"type":"user","cwd":"/home/dev/shop","timestamp":"` + at(0) + `","message":{"role":"user","content":"write a table test for the parser"}}`,
		`{"type":"assistant","timestamp":"` + at(1) + `","message":{"role":"assistant","content":[{"type":"text","text":"Loading the skill."},{"type":"tool_use","name":"Skill","input":{"skill":"go-dev"}}]}}`,
		`{"type":"assistant","timestamp":"` + at(2) + `","message":{"role":"assistant","content":[{"type":"tool_use","name":"Bash","input":{"command":"go test -race ./..."}}]}}`,
		`{"type":"user","timestamp":"` + at(3) + `","message":{"role":"user","content":"now check the race detector output"}}`,
		`{"type":"assistant","timestamp":"` + at(4) + `","message":{"role":"assistant","content":"No races found."}}`,
	}
	return strings.Join(lines, "\n") + "\n"
}

// setupState creates a cliState rooted in a temp dir with fake collaborators.
func setupState(t *testing.T) *cliState {
	t.Helper()
	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.ResolveDirs(tmpDir, filepath.Join(tmpDir, "home"))
	cfg.ProjectsDir = filepath.Join(tmpDir, "projects")
	cfg.MinMessages = 2
	cfg.RetryBaseDelayMS = 0

	var ai fakeAI
	s := &cliState{
		baseDir: tmpDir,
		cfg:     cfg,
		now:     func() time.Time { return testNow },
		loc:     time.UTC,
		logOut:  io.Discard,
		collab:  &collab.Set{Classifier: ai, Extractor: ai, Generator: ai, Refiner: ai},
	}
	t.Cleanup(func() { s.close() })
	return s
}

func seedLogs(t *testing.T, s *cliState) {
	t.Helper()
	dir := filepath.Join(s.cfg.ProjectsDir, "shop")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for i, hour := range []int{8, 9} {
		path := filepath.Join(dir, fmt.Sprintf("c%d.jsonl", i+1))
		if err := os.WriteFile(path, []byte(sessionLog(hour)), 0o600); err != nil {
			t.Fatal(err)
		}
	}
}

// runCLI runs one command and returns what it printed to stdout.
func runCLI(t *testing.T, s *cliState, args ...string) (string, error) {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.String()
	}()

	app := newCLIApp(s)
	runErr := app.Run(append([]string{"skillminer"}, args...))

	w.Close()
	os.Stdout = oldStdout
	return <-done, runErr
}

func decodeJSON(t *testing.T, out string) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("failed to parse output %q: %v", out, err)
	}
	return v
}

func TestWorkflow(t *testing.T) {
	s := setupState(t)
	seedLogs(t, s)

	out, err := runCLI(t, s, "scan")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if scan := decodeJSON(t, out); scan["files"] != float64(2) {
		t.Errorf("scan files = %v, want 2", scan["files"])
	}

	out, err = runCLI(t, s, "mine", "--days", "7")
	if err != nil {
		t.Fatalf("mine failed: %v", err)
	}
	if mine := decodeJSON(t, out); mine["generate"] == nil {
		t.Errorf("mine should report generation: %s", out)
	}

	out, err = runCLI(t, s, "list", "--status", "draft")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	skills := decodeJSON(t, out)["skills"].([]any)
	if len(skills) != 1 || skills[0].(map[string]any)["slug"] != "go-dev" {
		t.Fatalf("skills = %v, want one go-dev draft", skills)
	}

	// the approval gate holds for --approved
	out, err = runCLI(t, s, "deploy", "--approved")
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	if changed := decodeJSON(t, out)["changed"].([]any); len(changed) != 0 {
		t.Errorf("deploy --approved with no approved skills changed %v", changed)
	}

	if _, err := runCLI(t, s, "--dry-run", "approve", "go-dev"); err != nil {
		t.Fatalf("dry-run approve failed: %v", err)
	}
	out, _ = runCLI(t, s, "show", "go-dev")
	if status := decodeJSON(t, out)["skill"].(map[string]any)["status"]; status != "draft" {
		t.Errorf("status after dry-run approve = %v, want draft", status)
	}

	if _, err := runCLI(t, s, "approve", "go-dev"); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	out, err = runCLI(t, s, "deploy", "--approved")
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	if changed := decodeJSON(t, out)["changed"].([]any); len(changed) != 1 {
		t.Errorf("deploy changed = %v, want 1", changed)
	}
	if _, err := os.Stat(filepath.Join(s.cfg.SkillsDir, "go-dev", "SKILL.md")); err != nil {
		t.Errorf("deployed file missing: %v", err)
	}

	out, err = runCLI(t, s, "diff")
	if err != nil {
		t.Fatalf("diff failed: %v", err)
	}
	diffs := decodeJSON(t, out)["diffs"].([]any)
	if len(diffs) != 1 || diffs[0].(map[string]any)["status"] != "identical" {
		t.Errorf("diffs = %v", diffs)
	}

	out, err = runCLI(t, s, "export", "--author", "dev", "team")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	path := decodeJSON(t, out)["path"].(string)

	out, err = runCLI(t, s, "verify", path)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if decodeJSON(t, out)["ok"] != true {
		t.Errorf("verify = %s", out)
	}

	out, err = runCLI(t, s, "runs")
	if err != nil {
		t.Fatalf("runs failed: %v", err)
	}
	if !strings.Contains(out, `"mine"`) {
		t.Errorf("runs should list the mine run: %s", out)
	}
}

func TestCommandErrors(t *testing.T) {
	s := setupState(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"show without slug", []string{"show"}, "[INVALID_REQUEST]"},
		{"show unknown", []string{"show", "nope"}, "[NOT_FOUND] skill not found: nope"},
		{"approve without slugs", []string{"approve"}, "[INVALID_REQUEST]"},
		{"deploy both", []string{"deploy", "--approved", "go-dev"}, "[INVALID_REQUEST]"},
		{"prune without flags", []string{"prune"}, "[INVALID_REQUEST]"},
		{"list bad status", []string{"list", "--status", "archived"}, "[INVALID_REQUEST]"},
		{"consolidate bad score", []string{"consolidate", "--min-score", "2"}, "[INVALID_REQUEST]"},
		{"import bad mode", []string{"import", "--mode", "merge", "x.skillpack"}, "[INVALID_REQUEST]"},
		{"export traversal", []string{"export", "--dir", "../out", "team"}, "[INVALID_REQUEST]"},
		{"today bad date", []string{"today", "--date", "yesterday"}, "[INVALID_REQUEST]"},
		{"today bad slot", []string{"today", "--slot", "0"}, "[INVALID_REQUEST]"},
		{"serve bad port", []string{"serve", "--port", "0"}, "[INVALID_REQUEST]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, s, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestMineWithoutBackend(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	s := setupState(t)
	s.collab = nil

	_, err := runCLI(t, s, "mine")
	if err == nil || !strings.Contains(err.Error(), "[INVALID_REQUEST] no AI backend configured") {
		t.Errorf("err = %v, want missing backend error", err)
	}

	// commands that never call a collaborator still work
	if _, err := runCLI(t, s, "list"); err != nil {
		t.Errorf("list failed without backend: %v", err)
	}
}

type failingClassifier struct{}

func (failingClassifier) Classify(context.Context, collab.Summary, *domains.Catalog) (string, error) {
	return "", collab.Permanent("classify", fmt.Errorf("quota exhausted"))
}

func TestMineAllFailedExitsNonZero(t *testing.T) {
	s := setupState(t)
	var ai fakeAI
	s.collab = &collab.Set{Classifier: failingClassifier{}, Extractor: ai, Generator: ai, Refiner: ai}
	seedLogs(t, s)
	if _, err := runCLI(t, s, "scan"); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, s, "mine", "--days", "7")
	if err == nil || !strings.Contains(err.Error(), "[COLLABORATOR] extract failed: all 2 conversations in window 0 failed") {
		t.Fatalf("err = %v, want all-failed collaborator error", err)
	}
	mine := decodeJSON(t, out)
	extract, _ := mine["extract"].(map[string]any)
	if extract["stop_reason"] != "all_failed" {
		t.Errorf("stop_reason = %v, want all_failed", extract["stop_reason"])
	}
	if mine["generate"] != nil {
		t.Errorf("generate should be skipped: %s", out)
	}
}

func TestToday(t *testing.T) {
	s := setupState(t)
	seedLogs(t, s)
	if _, err := runCLI(t, s, "scan"); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, s, "today", "--date", "2026-03-01", "--slot", "60")
	if err != nil {
		t.Fatalf("today failed: %v", err)
	}
	today := decodeJSON(t, out)
	if today["date"] != "2026-03-01" {
		t.Errorf("date = %v", today["date"])
	}
	if today["conversations"] != float64(2) {
		t.Errorf("conversations = %v, want 2", today["conversations"])
	}
}

func TestOutputError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"skill error", errors.NewNotFound("go-dev"), "[NOT_FOUND] skill not found: go-dev"},
		{"wrapped", fmt.Errorf("skills[1]: %w", errors.NewInvalidRequest("bad slug")), "[INVALID_REQUEST] skills[1]: bad slug"},
		{"plain", fmt.Errorf("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := outputError(tt.err).Error(); got != tt.want {
				t.Errorf("outputError() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"", nil},
		{"go-dev", []string{"go-dev"}},
		{" go-dev , testing ,, ", []string{"go-dev", "testing"}},
	}
	for _, tt := range tests {
		got := splitList(tt.input)
		if len(got) != len(tt.expected) {
			t.Errorf("splitList(%q) = %v, want %v", tt.input, got, tt.expected)
			continue
		}
		for i := range got {
			if got[i] != tt.expected[i] {
				t.Errorf("splitList(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.expected[i])
			}
		}
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level   string
		verbose bool
		want    zerolog.Level
	}{
		{"", false, zerolog.InfoLevel},
		{"warn", false, zerolog.WarnLevel},
		{"bogus", false, zerolog.InfoLevel},
		{"warn", true, zerolog.DebugLevel},
	}
	for _, tt := range tests {
		if got := newLogger(tt.level, tt.verbose).GetLevel(); got != tt.want {
			t.Errorf("newLogger(%q, %v) level = %v, want %v", tt.level, tt.verbose, got, tt.want)
		}
	}
}

func TestIsCLIMode(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	tests := []struct {
		args []string
		want bool
	}{
		{[]string{"skillminer"}, false},
		{[]string{"skillminer", "mine"}, true},
		{[]string{"skillminer", "--dry-run", "prune"}, true},
		{[]string{"skillminer", "bogus"}, false},
	}
	for _, tt := range tests {
		os.Args = tt.args
		if got := isCLIMode(); got != tt.want {
			t.Errorf("isCLIMode(%v) = %v, want %v", tt.args, got, tt.want)
		}
	}
}
