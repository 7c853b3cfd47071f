package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hpungsan/skillminer/internal/errors"
)

// HistoryEntry is one prompt from the agent's history file.
type HistoryEntry struct {
	Display string    `json:"display"`
	At      time.Time `json:"at"`
	Project string    `json:"project"`
}

// ReadHistory parses a history JSONL file. Entries without display text are skipped,
// as are lines that do not parse.
func ReadHistory(path string) ([]HistoryEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFound(path)
		}
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	var entries []HistoryEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		var raw struct {
			Display   string `json:"display"`
			Timestamp int64  `json:"timestamp"` // unix millis
			Project   string `json:"project"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &raw); err != nil {
			continue
		}
		if raw.Display == "" {
			continue
		}
		entries = append(entries, HistoryEntry{
			Display: raw.Display,
			At:      time.UnixMilli(raw.Timestamp).UTC(),
			Project: raw.Project,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return entries, nil
}

// FilterHistory keeps entries at or after since (zero keeps all) whose project
// contains project, case-insensitively (empty keeps all).
func FilterHistory(entries []HistoryEntry, since time.Time, project string) []HistoryEntry {
	project = strings.ToLower(project)
	var out []HistoryEntry
	for _, e := range entries {
		if !since.IsZero() && e.At.Before(since) {
			continue
		}
		if project != "" && !strings.Contains(strings.ToLower(e.Project), project) {
			continue
		}
		out = append(out, e)
	}
	return out
}
