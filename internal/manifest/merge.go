package manifest

import (
	"fmt"
	"sort"
	"time"

	"github.com/hpungsan/skillminer/internal/skill"
)

// AllocateSlug returns base if it is free, else base-2, base-3, ... A slug is taken
// when any skill (in any status) holds it or it has been retired.
func (m *Manifest) AllocateSlug(base string) string {
	base = skill.Slugify(base)
	if m.slugFree(base) {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if m.slugFree(candidate) {
			return candidate
		}
	}
}

func (m *Manifest) slugFree(slug string) bool {
	if _, ok := m.Skills[slug]; ok {
		return false
	}
	return !m.IsRetired(slug)
}

// TargetFor returns the live skill a regenerated draft for domain merges into, or nil
// when a new slug must be allocated. Rejected skills never absorb new drafts. Among
// several candidates the oldest mined one wins.
func (m *Manifest) TargetFor(domain string) *skill.Skill {
	var best *skill.Skill
	for _, slug := range m.Slugs() {
		sk := m.Skills[slug]
		if sk.Domain != domain || sk.Status == skill.StatusRejected {
			continue
		}
		if best == nil || betterTarget(sk, best) {
			best = sk
		}
	}
	return best
}

func betterTarget(a, b *skill.Skill) bool {
	am, bm := a.Origin != skill.OriginImported, b.Origin != skill.OriginImported
	if am != bm {
		return am
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// MergePatterns folds incoming patterns into existing ones by key: frequencies are
// summed and the earliest occurrence (with its text) is kept. The result is ordered
// by frequency descending, then earliest occurrence, then key.
func MergePatterns(existing, incoming []skill.PatternRef) []skill.PatternRef {
	byKey := make(map[string]skill.PatternRef, len(existing)+len(incoming))
	for _, list := range [][]skill.PatternRef{existing, incoming} {
		for _, p := range list {
			cur, ok := byKey[p.Key]
			if !ok {
				byKey[p.Key] = p
				continue
			}
			cur.Frequency += p.Frequency
			if p.FirstSeen.Before(cur.FirstSeen) {
				cur.FirstSeen = p.FirstSeen
				cur.Text = p.Text
			}
			byKey[p.Key] = cur
		}
	}
	out := make([]skill.PatternRef, 0, len(byKey))
	for _, p := range byKey {
		out = append(out, p)
	}
	SortPatterns(out)
	return out
}

// SortPatterns orders by frequency descending, earliest occurrence, then key.
func SortPatterns(ps []skill.PatternRef) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Frequency != ps[j].Frequency {
			return ps[i].Frequency > ps[j].Frequency
		}
		if !ps[i].FirstSeen.Equal(ps[j].FirstSeen) {
			return ps[i].FirstSeen.Before(ps[j].FirstSeen)
		}
		return ps[i].Key < ps[j].Key
	})
}

// Generated is a freshly generated draft for one domain.
type Generated struct {
	Slug              string
	Domain            string
	Description       string
	Patterns          []skill.PatternRef
	ConversationCount int
	ContentHash       string
}

// Upsert records a generated draft. A new slug becomes a draft. An existing live
// skill keeps its status, deployment timestamp, score and fire counts; only its
// content-derived fields change. Returns the stored record.
func (m *Manifest) Upsert(g Generated, now time.Time) *skill.Skill {
	now = now.UTC()
	if sk, ok := m.Skills[g.Slug]; ok && sk.Status != skill.StatusRejected {
		sk.Description = g.Description
		sk.Patterns = g.Patterns
		sk.ConversationCount += g.ConversationCount
		sk.ContentHash = g.ContentHash
		sk.UpdatedAt = now
		return sk
	}
	sk := &skill.Skill{
		Slug:              g.Slug,
		Domain:            g.Domain,
		Status:            skill.StatusDraft,
		Description:       g.Description,
		Patterns:          g.Patterns,
		ConversationCount: g.ConversationCount,
		ContentHash:       g.ContentHash,
		Origin:            skill.OriginMined,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	m.Skills[g.Slug] = sk
	return sk
}
