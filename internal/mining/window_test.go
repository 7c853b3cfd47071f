package mining

import (
	"fmt"
	"testing"
	"time"

	"github.com/hpungsan/skillminer/internal/manifest"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func TestWindowSeq_Boundaries(t *testing.T) {
	seq := NewWindowSeq(now, WindowOptions{MaxDays: 2})

	want := []Window{
		{Index: 0, Start: now.Add(-12 * time.Hour), End: now},
		{Index: 1, Start: now.Add(-36 * time.Hour), End: now.Add(-12 * time.Hour)},
		{Index: 2, Start: now.Add(-48 * time.Hour), End: now.Add(-36 * time.Hour)},
	}
	for i, w := range want {
		got, ok := seq.Next()
		if !ok {
			t.Fatalf("Next() #%d returned false", i)
		}
		if got != w {
			t.Errorf("Next() #%d = %+v, want %+v", i, got, w)
		}
	}
	if _, ok := seq.Next(); ok {
		t.Fatal("Next() after lookback should return false")
	}
	if seq.Reason() != StopMaxLookback {
		t.Errorf("Reason() = %q, want %q", seq.Reason(), StopMaxLookback)
	}

	seq.Reset()
	got, ok := seq.Next()
	if !ok || got != want[0] {
		t.Errorf("after Reset, Next() = %+v, %v", got, ok)
	}
	if seq.Reason() != "" {
		t.Errorf("Reason() after Reset = %q", seq.Reason())
	}
}

func TestWindowSeq_NoOverlap(t *testing.T) {
	seq := NewWindowSeq(now, WindowOptions{MaxDays: 10})
	prev, ok := seq.Next()
	if !ok {
		t.Fatal("no first window")
	}
	for {
		w, ok := seq.Next()
		if !ok {
			break
		}
		if !w.End.Equal(prev.Start) {
			t.Errorf("window %d ends at %v, previous starts at %v", w.Index, w.End, prev.Start)
		}
		if !w.Start.Before(w.End) {
			t.Errorf("window %d is empty", w.Index)
		}
		prev = w
	}
	if !prev.Start.Equal(seq.Floor()) {
		t.Errorf("last window starts at %v, want floor %v", prev.Start, seq.Floor())
	}
}

func TestWindowSeq_MaxWindows(t *testing.T) {
	seq := NewWindowSeq(now, WindowOptions{MaxDays: 30, MaxWindows: 2})
	n := 0
	for {
		if _, ok := seq.Next(); !ok {
			break
		}
		n++
	}
	if n != 2 {
		t.Errorf("windows = %d, want 2", n)
	}
	if seq.Reason() != StopMaxWindows {
		t.Errorf("Reason() = %q, want %q", seq.Reason(), StopMaxWindows)
	}
}

func TestStopReason_Normal(t *testing.T) {
	for _, r := range []StopReason{StopNoNewConversations, StopLowSignificance, StopMaxLookback, StopMaxWindows} {
		if !r.Normal() {
			t.Errorf("%q should be normal", r)
		}
	}
	for _, r := range []StopReason{StopAllFailed, StopCancelled} {
		if r.Normal() {
			t.Errorf("%q should not be normal", r)
		}
	}
}

func TestSignificance(t *testing.T) {
	tests := []struct {
		name    string
		domains []string
		want    float64
	}{
		{"empty", nil, 0},
		{"all misc", []string{"misc", "misc"}, 0},
		{"none misc", []string{"go-dev", "testing"}, 1},
		{"quarter misc", []string{"misc", "go-dev", "go-dev", "docs"}, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cs []Classified
			for i, d := range tt.domains {
				cs = append(cs, Classified{ConversationID: fmt.Sprint(i), Domain: d})
			}
			if got := Significance(cs, "misc"); got != tt.want {
				t.Errorf("Significance() = %v, want %v", got, tt.want)
			}
		})
	}
}

// spread returns text observed in n distinct conversations, the first at first.
func spread(domain, text string, n int, first time.Time) []manifest.Observation {
	out := make([]manifest.Observation, n)
	for i := range out {
		out[i] = manifest.Observation{
			Domain:         domain,
			Text:           text,
			ConversationID: fmt.Sprintf("%s-%d", text, i),
			At:             first.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func frequencies(cs []PatternCandidate) []int {
	out := make([]int, len(cs))
	for i, c := range cs {
		out[i] = c.Frequency
	}
	return out
}

func TestAggregate_DropsBelowThreshold(t *testing.T) {
	var obs []manifest.Observation
	obs = append(obs, spread("go-dev", "run tests with race", 5, now)...)
	obs = append(obs, spread("go-dev", "vendor deps", 1, now)...)

	got := Aggregate(obs)["go-dev"]
	if fmt.Sprint(frequencies(got)) != "[5]" {
		t.Errorf("frequencies = %v, want [5]", frequencies(got))
	}
}

func TestAggregate_TopThreeWithTieBreak(t *testing.T) {
	var obs []manifest.Observation
	obs = append(obs, spread("go-dev", "later five", 5, now.Add(2*time.Hour))...)
	obs = append(obs, spread("go-dev", "earlier five", 5, now.Add(time.Hour))...)
	obs = append(obs, spread("go-dev", "three", 3, now)...)
	obs = append(obs, spread("go-dev", "two", 2, now)...)
	obs = append(obs, spread("go-dev", "one", 1, now)...)

	got := Aggregate(obs)["go-dev"]
	if fmt.Sprint(frequencies(got)) != "[5 5 3]" {
		t.Fatalf("frequencies = %v, want [5 5 3]", frequencies(got))
	}
	if got[0].Text != "earlier five" || got[1].Text != "later five" {
		t.Errorf("tie order = %q, %q", got[0].Text, got[1].Text)
	}
}

func TestAggregate_CountsDistinctConversations(t *testing.T) {
	obs := []manifest.Observation{
		{Domain: "docs", Text: "Update the README!", ConversationID: "c1", At: now.Add(time.Hour)},
		{Domain: "docs", Text: "update the readme", ConversationID: "c1", At: now.Add(2 * time.Hour)},
		{Domain: "docs", Text: "update  the README", ConversationID: "c2", At: now},
		{Domain: "testing", Text: "update the readme", ConversationID: "c3", At: now},
	}
	agg := Aggregate(obs)

	docs := agg["docs"]
	if len(docs) != 1 || docs[0].Frequency != 2 {
		t.Fatalf("docs = %+v", docs)
	}
	if docs[0].Text != "update  the README" || !docs[0].FirstSeen.Equal(now) {
		t.Errorf("representative = %q at %v, want the earliest", docs[0].Text, docs[0].FirstSeen)
	}
	if _, ok := agg["testing"]; ok {
		t.Error("patterns must not be counted across domains")
	}
	if ConversationCount(docs) != 2 {
		t.Errorf("ConversationCount() = %d", ConversationCount(docs))
	}
}
