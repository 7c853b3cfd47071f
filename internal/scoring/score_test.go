package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/hpungsan/skillminer/internal/manifest"
	"github.com/hpungsan/skillminer/internal/skill"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestDormancyMultiplier(t *testing.T) {
	tests := []struct {
		days float64
		want float64
	}{
		{0, 1},
		{7, 1},
		{10.5, 0.6},
		{14, 0.2},
		{90, 0.2},
	}
	for _, tt := range tests {
		if got := DormancyMultiplier(tt.days); !approx(got, tt.want) {
			t.Errorf("DormancyMultiplier(%v) = %v, want %v", tt.days, got, tt.want)
		}
	}
}

func TestProductivityMultiplier(t *testing.T) {
	tests := []struct {
		frac, want float64
	}{
		{0, 0.5},
		{0.5, 0.75},
		{1, 1},
		{2, 1},
		{-1, 0.5},
	}
	for _, tt := range tests {
		if got := ProductivityMultiplier(tt.frac); !approx(got, tt.want) {
			t.Errorf("ProductivityMultiplier(%v) = %v, want %v", tt.frac, got, tt.want)
		}
	}
}

func TestScore(t *testing.T) {
	b := Score(Inputs{
		FireCount:          2,
		MaxFireCount:       4,
		Richness:           3,
		MaxRichness:        6,
		ProductiveFraction: 0.5,
		DaysIdle:           1,
	})
	// base = 0.6*0.5 + 0.4*0.5 = 0.5; final = 0.5 * 0.75 * 1
	if !approx(b.Base, 0.5) || !approx(b.Final, 0.375) {
		t.Errorf("Score() = %+v", b)
	}

	if b := Score(Inputs{}); b.Final != 0 || b.Fire != 0 || b.Richness != 0 {
		t.Errorf("Score(zero) = %+v, want zero components", b)
	}
}

func TestEvaluate_NeverFiredOldSkillIsFloored(t *testing.T) {
	m := manifest.New()
	m.Skills["old"] = &skill.Skill{
		Slug:      "old",
		Status:    skill.StatusDeployed,
		Patterns:  []skill.PatternRef{{Key: "a", Frequency: 4}},
		CreatedAt: now.AddDate(0, 0, -14),
	}
	m.Skills["busy"] = &skill.Skill{
		Slug:      "busy",
		Status:    skill.StatusDeployed,
		Patterns:  []skill.PatternRef{{Key: "b", Frequency: 2}},
		CreatedAt: now.AddDate(0, 0, -30),
	}
	stats := CollectStats([]Invocation{{Skill: "busy", At: now.Add(-time.Hour), Productive: true}}, time.Time{}, now)

	scores, skipped := Evaluate(m, stats, Options{Now: now})
	if len(skipped) != 0 || len(scores) != 2 {
		t.Fatalf("Evaluate() = %+v, %+v", scores, skipped)
	}

	old := scores[1]
	if old.Slug != "old" {
		t.Fatalf("order = %s, %s", scores[0].Slug, scores[1].Slug)
	}
	if old.Breakdown.Dormancy != DormancyFloor {
		t.Errorf("dormancy = %v, want %v", old.Breakdown.Dormancy, DormancyFloor)
	}
	if old.Breakdown.Final > DormancyFloor*old.Breakdown.Base+1e-12 {
		t.Errorf("final %v exceeds 0.2 * base %v", old.Breakdown.Final, old.Breakdown.Base)
	}
}

func TestEvaluate_UnknownSlugSkipped(t *testing.T) {
	m := manifest.New()
	m.Skills["a"] = &skill.Skill{Slug: "a", Status: skill.StatusDraft, CreatedAt: now}

	scores, skipped := Evaluate(m, nil, Options{Now: now, Slugs: []string{"a", "ghost", "a"}})
	if len(scores) != 1 || len(skipped) != 1 || skipped[0].Code != "NOT_FOUND" {
		t.Errorf("Evaluate() = %+v / %+v", scores, skipped)
	}
}

func TestCollectStats(t *testing.T) {
	invs := []Invocation{
		{Skill: "a", At: now.Add(-48 * time.Hour), Productive: true, Trigger: "x"},
		{Skill: "a", At: now.Add(-time.Hour), Productive: false, Trigger: "y"},
		{Skill: "a", At: now.Add(-2 * time.Hour), Productive: true, Trigger: "y"},
		{Skill: "a", At: now.AddDate(0, 0, -40), Productive: true},
		{Skill: "b", At: now.Add(-time.Minute)},
	}

	stats := CollectStats(invs, now.AddDate(0, 0, -30), now)
	a := stats["a"]
	if a.FireCount != 3 || a.Productive != 2 {
		t.Errorf("stats[a] = %+v", a)
	}
	if a.LastFiredAt == nil || !a.LastFiredAt.Equal(now.Add(-time.Hour)) {
		t.Errorf("LastFiredAt = %v", a.LastFiredAt)
	}
	if got := a.TopTriggers(5); len(got) != 2 || got[0] != "y" {
		t.Errorf("TopTriggers() = %v", got)
	}
	if stats["b"].ProductiveFraction() != 0 {
		t.Errorf("stats[b] fraction = %v", stats["b"].ProductiveFraction())
	}
	if (Stats{}).ProductiveFraction() != 1 {
		t.Error("never-fired fraction should be 1")
	}
}
