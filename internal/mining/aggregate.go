package mining

import (
	"sort"
	"time"

	"github.com/hpungsan/skillminer/internal/manifest"
	"github.com/hpungsan/skillminer/internal/skill"
)

const (
	// MinPatternFrequency is the number of distinct conversations a pattern needs.
	MinPatternFrequency = 2
	// MaxPatternsPerDomain caps the patterns kept per domain.
	MaxPatternsPerDomain = 3
)

// PatternCandidate is an aggregated pattern for one domain.
type PatternCandidate struct {
	Domain    string    `json:"domain"`
	Key       string    `json:"key"`
	Text      string    `json:"text"`
	Frequency int       `json:"frequency"`
	FirstSeen time.Time `json:"first_seen"`

	// Conversations are the contributing conversation ids, sorted.
	Conversations []string `json:"conversations"`
}

// Ref converts c to the pattern reference stored on a skill.
func (c PatternCandidate) Ref() skill.PatternRef {
	return skill.PatternRef{Key: c.Key, Text: c.Text, Frequency: c.Frequency, FirstSeen: c.FirstSeen}
}

type tally struct {
	cand  PatternCandidate
	convs map[string]struct{}
}

// Aggregate groups observations by domain and canonical key. Frequency counts
// distinct conversations. Candidates below MinPatternFrequency are dropped and the
// rest are ranked by frequency, then earliest occurrence, then key; the top
// MaxPatternsPerDomain per domain are kept. Domains with no survivors are absent.
func Aggregate(obs []manifest.Observation) map[string][]PatternCandidate {
	byDomain := map[string]map[string]*tally{}
	for _, o := range obs {
		key := o.Key
		if key == "" {
			key = skill.PatternKey(o.Text)
		}
		if key == "" || o.Domain == "" {
			continue
		}
		keys, ok := byDomain[o.Domain]
		if !ok {
			keys = map[string]*tally{}
			byDomain[o.Domain] = keys
		}
		t, ok := keys[key]
		if !ok {
			t = &tally{
				cand:  PatternCandidate{Domain: o.Domain, Key: key, Text: o.Text, FirstSeen: o.At},
				convs: map[string]struct{}{},
			}
			keys[key] = t
		} else if o.At.Before(t.cand.FirstSeen) {
			t.cand.FirstSeen = o.At
			t.cand.Text = o.Text
		}
		t.convs[o.ConversationID] = struct{}{}
	}

	out := map[string][]PatternCandidate{}
	for domain, keys := range byDomain {
		var list []PatternCandidate
		for _, t := range keys {
			if len(t.convs) < MinPatternFrequency {
				continue
			}
			c := t.cand
			c.Frequency = len(t.convs)
			for id := range t.convs {
				c.Conversations = append(c.Conversations, id)
			}
			sort.Strings(c.Conversations)
			list = append(list, c)
		}
		if len(list) == 0 {
			continue
		}
		rank(list)
		if len(list) > MaxPatternsPerDomain {
			list = list[:MaxPatternsPerDomain]
		}
		out[domain] = list
	}
	return out
}

func rank(list []PatternCandidate) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		if !a.FirstSeen.Equal(b.FirstSeen) {
			return a.FirstSeen.Before(b.FirstSeen)
		}
		return a.Key < b.Key
	})
}

// ConversationCount is the number of distinct conversations behind cands.
func ConversationCount(cands []PatternCandidate) int {
	seen := map[string]struct{}{}
	for _, c := range cands {
		for _, id := range c.Conversations {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

// SortedDomains returns the domains of agg in lexical order.
func SortedDomains(agg map[string][]PatternCandidate) []string {
	out := make([]string, 0, len(agg))
	for d := range agg {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
