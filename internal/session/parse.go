package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/skillminer/internal/errors"
)

const (
	maxLineBytes     = 32 << 20
	toolInputLimit   = 200
	toolCommandLimit = 100
)

// systemTags are wrapper blocks injected by the agent runtime rather than typed by the user.
var systemTags = []string{
	"system-reminder",
	"local-command-caveat",
	"command-name",
	"command-message",
	"command-args",
}

type rawEntry struct {
	Type      string      `json:"type"`
	Cwd       string      `json:"cwd"`
	GitBranch string      `json:"gitBranch"`
	Timestamp string      `json:"timestamp"`
	IsMeta    bool        `json:"isMeta"`
	Message   *rawMessage `json:"message"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type rawBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ParseFile parses one conversation log. The conversation ID is the file stem.
func ParseFile(path string) (*Conversation, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFound(path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	conv, err := Parse(f, id)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	conv.SourcePath = path
	return conv, nil
}

// Parse reads a JSONL transcript. Lines that are not JSON, snapshot records, meta
// entries and messages with nothing but runtime tags are skipped.
func Parse(r io.Reader, id string) (*Conversation, error) {
	conv := &Conversation{ID: id}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var entry rawEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry.Type == "file-history-snapshot" {
			continue
		}

		if conv.Cwd == "" {
			conv.Cwd = entry.Cwd
		}
		if conv.GitBranch == "" {
			conv.GitBranch = entry.GitBranch
		}

		var ts time.Time
		if entry.Timestamp != "" {
			if t, err := time.Parse(time.RFC3339Nano, entry.Timestamp); err == nil {
				ts = t.UTC()
				if conv.StartTime.IsZero() {
					conv.StartTime = ts
				}
				conv.EndTime = ts
			}
		}

		if entry.IsMeta || entry.Message == nil {
			continue
		}

		var role Role
		switch entry.Message.Role {
		case "user":
			role = RoleUser
		case "assistant":
			role = RoleAssistant
		default:
			continue
		}

		content, tools := extractContent(entry.Message.Content)
		if strings.TrimSpace(content) == "" && len(tools) == 0 {
			continue
		}
		if role == RoleUser && isSystemOnly(content) {
			continue
		}

		conv.Messages = append(conv.Messages, Message{
			Role:      role,
			Content:   content,
			Timestamp: ts,
			ToolUses:  tools,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return conv, nil
}

func extractContent(raw json.RawMessage) (string, []ToolUse) {
	if len(raw) == 0 {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return stripTags(s), nil
	}

	var blocks []rawBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", nil
	}

	var texts []string
	var tools []ToolUse
	for _, b := range blocks {
		switch b.Type {
		case "text":
			texts = append(texts, stripTags(b.Text))
		case "tool_use":
			tools = append(tools, toolUse(b))
		}
		// tool_result blocks are execution output and carry no intent
	}
	return strings.Join(texts, "\n"), tools
}

func toolUse(b rawBlock) ToolUse {
	name := b.Name
	if name == "" {
		name = "unknown"
	}
	tu := ToolUse{Name: name, Input: truncate(string(b.Input), toolInputLimit)}

	var input struct {
		FilePath string `json:"file_path"`
		Command  string `json:"command"`
		Skill    string `json:"skill"`
	}
	if len(b.Input) > 0 {
		_ = json.Unmarshal(b.Input, &input)
	}

	switch name {
	case "Edit", "Read", "Write":
		tu.FilePath = input.FilePath
	case "Bash":
		tu.Command = truncate(input.Command, toolCommandLimit)
	case "Skill":
		tu.Skill = input.Skill
	}
	return tu
}

func stripTags(s string) string {
	for _, tag := range systemTags {
		s = removeTagBlock(s, tag)
	}
	return strings.TrimSpace(s)
}

func removeTagBlock(s, tag string) string {
	open := "<" + tag
	closing := "</" + tag + ">"
	for {
		start := strings.Index(s, open)
		if start < 0 {
			return s
		}
		end := strings.Index(s[start:], closing)
		if end < 0 {
			return s
		}
		s = s[:start] + s[start+end+len(closing):]
	}
}

func isSystemOnly(content string) bool {
	c := strings.TrimSpace(content)
	return c == "" ||
		strings.HasPrefix(c, "<local-command-caveat>") ||
		strings.HasPrefix(c, "<command-name>")
}

// Discover returns the JSONL logs one level below projectsDir, sorted by path.
func Discover(projectsDir string) ([]string, error) {
	entries, err := os.ReadDir(projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFound(projectsDir)
		}
		return nil, fmt.Errorf("read projects dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(projectsDir, e.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.Type().IsRegular() && strings.EqualFold(filepath.Ext(f.Name()), ".jsonl") {
				paths = append(paths, filepath.Join(dir, f.Name()))
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// ParseFailure records a log file that could not be parsed.
type ParseFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// ParseAll parses paths with at most limit files open at once. Unparseable files are
// reported, not fatal. Conversations come back ordered by start time, then ID.
func ParseAll(ctx context.Context, paths []string, limit int, logger zerolog.Logger) ([]*Conversation, []ParseFailure, error) {
	if limit < 1 {
		limit = 1
	}

	var (
		mu       sync.Mutex
		convs    []*Conversation
		failures []ParseFailure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			conv, err := ParseFile(p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn().Err(err).Str("path", p).Msg("skipping session log")
				failures = append(failures, ParseFailure{Path: p, Error: err.Error()})
				return nil
			}
			convs = append(convs, conv)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].StartTime.Equal(convs[j].StartTime) {
			return convs[i].StartTime.Before(convs[j].StartTime)
		}
		return convs[i].ID < convs[j].ID
	})
	sort.Slice(failures, func(i, j int) bool { return failures[i].Path < failures[j].Path })
	return convs, failures, nil
}
