// Package scoring computes skill scores from the invocation log and consolidates the
// manifest by rejecting skills that fall below a minimum score.
package scoring

import (
	"sort"
	"time"

	"github.com/hpungsan/skillminer/internal/skill"
)

const (
	FireWeight     = 0.6
	RichnessWeight = 0.4

	// ProductivityFloor is the multiplier when no invocation led to a tool use.
	ProductivityFloor = 0.5

	// DormancyGraceDays is the age below which no dormancy penalty applies.
	DormancyGraceDays = 7.0
	// DormancyFloorDays is the age at which the penalty reaches DormancyFloor.
	DormancyFloorDays = 14.0
	DormancyFloor     = 0.2

	// DefaultMinScore is the consolidation threshold.
	DefaultMinScore = 0.1
)

// Invocation is one observed firing of a skill.
type Invocation struct {
	Skill          string    `json:"skill"`
	ConversationID string    `json:"conversation_id"`
	At             time.Time `json:"at"`
	Productive     bool      `json:"productive"`
	Trigger        string    `json:"trigger,omitempty"`
}

// Stats aggregates the invocations of one skill.
type Stats struct {
	FireCount   int
	Productive  int
	LastFiredAt *time.Time
	Triggers    map[string]int
}

// ProductiveFraction is the share of invocations followed by a tool use.
// A skill that never fired has nothing to hold against it and gets 1.
func (s Stats) ProductiveFraction() float64 {
	if s.FireCount == 0 {
		return 1
	}
	return float64(s.Productive) / float64(s.FireCount)
}

// TopTriggers returns up to n trigger phrases, most frequent first.
func (s Stats) TopTriggers(n int) []string {
	out := make([]string, 0, len(s.Triggers))
	for t := range s.Triggers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := s.Triggers[out[i]], s.Triggers[out[j]]
		if ci != cj {
			return ci > cj
		}
		return out[i] < out[j]
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// CollectStats groups invocations in [since, until] by skill slug.
// A zero since or until leaves that side open.
func CollectStats(invs []Invocation, since, until time.Time) map[string]Stats {
	out := map[string]Stats{}
	for _, inv := range invs {
		if !since.IsZero() && inv.At.Before(since) {
			continue
		}
		if !until.IsZero() && inv.At.After(until) {
			continue
		}
		s := out[inv.Skill]
		s.FireCount++
		if inv.Productive {
			s.Productive++
		}
		if s.LastFiredAt == nil || inv.At.After(*s.LastFiredAt) {
			at := inv.At
			s.LastFiredAt = &at
		}
		if inv.Trigger != "" {
			if s.Triggers == nil {
				s.Triggers = map[string]int{}
			}
			s.Triggers[inv.Trigger]++
		}
		out[inv.Skill] = s
	}
	return out
}

// Inputs are the raw values behind one skill's score.
type Inputs struct {
	FireCount          int
	MaxFireCount       int
	Richness           int
	MaxRichness        int
	ProductiveFraction float64
	// DaysIdle is the time since the last fire, or since creation if never fired.
	DaysIdle float64
}

// Breakdown is a computed score and its factors.
type Breakdown struct {
	Fire         float64 `json:"fire"`
	Richness     float64 `json:"richness"`
	Base         float64 `json:"base"`
	Productivity float64 `json:"productivity"`
	Dormancy     float64 `json:"dormancy"`
	Final        float64 `json:"final"`
}

// Score computes a skill's score:
//
//	base  = 0.6*fire/maxFire + 0.4*richness/maxRichness
//	final = clamp(base * productivity * dormancy, 0, 1)
func Score(in Inputs) Breakdown {
	b := Breakdown{
		Fire:         ratio(in.FireCount, in.MaxFireCount),
		Richness:     ratio(in.Richness, in.MaxRichness),
		Productivity: ProductivityMultiplier(in.ProductiveFraction),
		Dormancy:     DormancyMultiplier(in.DaysIdle),
	}
	b.Base = FireWeight*b.Fire + RichnessWeight*b.Richness
	b.Final = Clamp01(b.Base * b.Productivity * b.Dormancy)
	return b
}

// ProductivityMultiplier maps a productive fraction in [0,1] linearly onto [0.5,1].
func ProductivityMultiplier(fraction float64) float64 {
	return ProductivityFloor + (1-ProductivityFloor)*Clamp01(fraction)
}

// DormancyMultiplier is 1 up to 7 idle days, falls linearly to 0.2 at 14 days and
// stays there.
func DormancyMultiplier(days float64) float64 {
	switch {
	case days <= DormancyGraceDays:
		return 1
	case days >= DormancyFloorDays:
		return DormancyFloor
	}
	span := DormancyFloorDays - DormancyGraceDays
	return 1 - (1-DormancyFloor)*(days-DormancyGraceDays)/span
}

// Clamp01 limits v to [0,1].
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func ratio(n, d int) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// DaysIdle returns the days between the skill's last fire (or creation) and now.
func DaysIdle(sk *skill.Skill, lastFired *time.Time, now time.Time) float64 {
	ref := sk.CreatedAt
	if lastFired != nil {
		ref = *lastFired
	}
	if ref.IsZero() || !now.After(ref) {
		return 0
	}
	return now.Sub(ref).Hours() / 24
}
