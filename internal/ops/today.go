package ops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/session"
)

const dateLayout = "2006-01-02"

// TodayInput contains parameters for the Today operation.
type TodayInput struct {
	// Date is YYYY-MM-DD in local time. Empty means today.
	Date        string
	SlotMinutes int
	Project     string
	Location    *time.Location
}

// TodayOutput contains the result of the Today operation.
type TodayOutput struct {
	Date          string         `json:"date"`
	Prompts       int            `json:"prompts"`
	Conversations int            `json:"conversations"`
	Projects      []string       `json:"projects"`
	FirstActivity string         `json:"first_activity,omitempty"`
	LastActivity  string         `json:"last_activity,omitempty"`
	Slots         []session.Slot `json:"slots"`
}

// Today reports one day of activity as fixed-width time slots, from the prompt
// history and the indexed conversations. A missing history file is an empty day.
func Today(ctx context.Context, env *Env, input TodayInput) (*TodayOutput, error) {
	loc := input.Location
	if loc == nil {
		loc = time.Local
	}
	now := env.now().In(loc)

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if input.Date != "" {
		d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(input.Date), loc)
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid date %q: want YYYY-MM-DD", input.Date))
		}
		day = d
	}
	end := day.AddDate(0, 0, 1)

	entries, err := session.ReadHistory(env.Config.HistoryFile)
	if err != nil && !errors.Is(err, errors.ErrFileNotFound) {
		return nil, errors.NewInternal(err)
	}
	var prompts []session.HistoryEntry
	for _, e := range session.FilterHistory(entries, day, input.Project) {
		if e.At.Before(end) {
			prompts = append(prompts, e)
		}
	}

	convs, err := env.index().Conversations(ctx, day, end, 1)
	if err != nil {
		return nil, err
	}
	if input.Project != "" {
		needle := strings.ToLower(input.Project)
		kept := convs[:0]
		for _, c := range convs {
			if strings.Contains(strings.ToLower(c.Project), needle) {
				kept = append(kept, c)
			}
		}
		convs = kept
	}

	out := &TodayOutput{
		Date:          day.Format(dateLayout),
		Prompts:       len(prompts),
		Conversations: len(convs),
		Projects:      []string{},
		Slots:         session.Timeline(prompts, convs, session.TimelineOptions{SlotMinutes: input.SlotMinutes, Location: loc}),
	}
	if out.Slots == nil {
		out.Slots = []session.Slot{}
	}

	seen := map[string]bool{}
	var first, last time.Time
	note := func(t time.Time, project string) {
		if first.IsZero() || t.Before(first) {
			first = t
		}
		if t.After(last) {
			last = t
		}
		if p := session.ProjectName(project); p != "" && !seen[p] {
			seen[p] = true
			out.Projects = append(out.Projects, p)
		}
	}
	for _, e := range prompts {
		note(e.At, e.Project)
	}
	for _, c := range convs {
		note(c.StartedAt, c.Project)
	}
	if !first.IsZero() {
		out.FirstActivity = fmt.Sprintf("%s (%s)", first.In(loc).Format("15:04"), humanize.RelTime(first, now, "ago", "from now"))
		out.LastActivity = fmt.Sprintf("%s (%s)", last.In(loc).Format("15:04"), humanize.RelTime(last, now, "ago", "from now"))
	}
	return out, nil
}
