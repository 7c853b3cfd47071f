package session

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hpungsan/skillminer/internal/collab"
)

const (
	// DefaultSlotMinutes is the width of one timeline slot.
	DefaultSlotMinutes = 30

	quotesPerSlot = 2
	filesPerSlot  = 5
	minQuoteRunes = 15
	quoteLimit    = 160
)

// genericDirectives are prompts that say nothing about the work itself.
var genericDirectives = map[string]bool{
	"ok": true, "yes": true, "continue": true, "go on": true, "go ahead": true,
	"do it": true, "please continue": true, "next": true, "thanks": true,
}

// Slot is one time bucket of a day's activity.
type Slot struct {
	Date          string   `json:"date"`
	Start         string   `json:"start"`
	Prompts       int      `json:"prompts"`
	Conversations int      `json:"conversations"`
	Projects      []string `json:"projects,omitempty"`
	Files         []string `json:"files,omitempty"`
	Quotes        []string `json:"quotes,omitempty"`
}

// TimelineOptions configures Timeline.
type TimelineOptions struct {
	SlotMinutes int
	Location    *time.Location
}

type slotKey struct{ date, start string }

// Timeline buckets prompts and conversations into fixed-width slots of local time,
// ordered by date then slot.
func Timeline(entries []HistoryEntry, convs []collab.Summary, opts TimelineOptions) []Slot {
	width := opts.SlotMinutes
	if width <= 0 || width > 24*60 {
		width = DefaultSlotMinutes
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	slots := map[slotKey]*Slot{}
	get := func(t time.Time) *Slot {
		k := bucket(t.In(loc), width)
		s, ok := slots[k]
		if !ok {
			s = &Slot{Date: k.date, Start: k.start}
			slots[k] = s
		}
		return s
	}

	for _, e := range entries {
		s := get(e.At)
		s.Prompts++
		s.Projects = appendUnique(s.Projects, ProjectName(e.Project))
		if q, ok := quote(e.Display); ok && len(s.Quotes) < quotesPerSlot {
			s.Quotes = appendUnique(s.Quotes, q)
		}
	}

	for _, c := range convs {
		if c.StartedAt.IsZero() {
			continue
		}
		s := get(c.StartedAt)
		s.Conversations++
		s.Projects = appendUnique(s.Projects, c.Project)
		for _, f := range c.FilesTouched {
			if len(s.Files) >= filesPerSlot {
				break
			}
			if !isNoisePath(f) {
				s.Files = appendUnique(s.Files, f)
			}
		}
	}

	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Start < out[j].Start
	})
	return out
}

func bucket(t time.Time, width int) slotKey {
	minute := t.Hour()*60 + t.Minute()
	start := (minute / width) * width
	return slotKey{
		date:  t.Format("2006-01-02"),
		start: fmt.Sprintf("%02d:%02d", start/60, start%60),
	}
}

func quote(display string) (string, bool) {
	s := strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(display))
	if len([]rune(s)) < minQuoteRunes || strings.HasPrefix(s, "/") {
		return "", false
	}
	if genericDirectives[strings.ToLower(s)] {
		return "", false
	}
	return truncate(s, quoteLimit), true
}

func isNoisePath(p string) bool {
	l := strings.ToLower(strings.ReplaceAll(p, `\`, "/"))
	return strings.Contains(l, "node_modules") ||
		strings.Contains(l, "appdata") ||
		strings.Contains(l, ".claude/plugins/cache")
}

func appendUnique(list []string, s string) []string {
	if s == "" {
		return list
	}
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
