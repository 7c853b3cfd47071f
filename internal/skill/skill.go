// Package skill defines the persisted skill record and its on-disk content format.
package skill

import (
	"time"
)

// Status is the lifecycle state of a skill.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusApproved Status = "approved"
	StatusDeployed Status = "deployed"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusApproved, StatusDeployed, StatusRejected:
		return true
	}
	return false
}

// ParseStatus parses a status name (case-insensitive, whitespace-trimmed).
func ParseStatus(s string) (Status, bool) {
	st := Status(Normalize(s))
	return st, st.Valid()
}

// Origin records how a skill entered the manifest.
type Origin string

const (
	OriginMined    Origin = "mined"
	OriginImported Origin = "imported"
)

// PatternRef is one contributing pattern of a skill.
type PatternRef struct {
	Key       string    `json:"key"`
	Text      string    `json:"text"`
	Frequency int       `json:"frequency"`
	FirstSeen time.Time `json:"first_seen"`
}

// Skill is the persisted unit of the manifest.
type Skill struct {
	// Slug is the unique key. Once assigned it is never reused.
	Slug string `json:"slug"`

	// Domain is the domain slug the skill was mined from.
	Domain string `json:"domain"`

	Status Status `json:"status"`

	// Description is the trigger description written into the frontmatter.
	Description string `json:"description"`

	// Patterns is ordered by frequency descending.
	Patterns []PatternRef `json:"patterns,omitempty"`

	// ConversationCount is the number of distinct conversations behind the patterns.
	ConversationCount int `json:"conversation_count"`

	// ContentHash is the sha256 of the content file as last written.
	ContentHash string `json:"content_hash"`

	Origin Origin `json:"origin,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeployedAt *time.Time `json:"deployed_at,omitempty"`

	// Populated by scoring.
	FireCount   int        `json:"fire_count"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	Score       *float64   `json:"score,omitempty"`
}

// PatternCount returns the number of contributing patterns.
func (s *Skill) PatternCount() int {
	return len(s.Patterns)
}

// PatternWeight returns the sum of pattern frequencies (the richness input to scoring).
func (s *Skill) PatternWeight() int {
	total := 0
	for _, p := range s.Patterns {
		total += p.Frequency
	}
	return total
}

// Clone returns a deep copy.
func (s *Skill) Clone() *Skill {
	if s == nil {
		return nil
	}
	c := *s
	if s.Patterns != nil {
		c.Patterns = make([]PatternRef, len(s.Patterns))
		copy(c.Patterns, s.Patterns)
	}
	c.DeployedAt = cloneTime(s.DeployedAt)
	c.LastFiredAt = cloneTime(s.LastFiredAt)
	if s.Score != nil {
		v := *s.Score
		c.Score = &v
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Summary is the list view of a skill.
type Summary struct {
	Slug         string     `json:"slug"`
	Domain       string     `json:"domain"`
	Status       Status     `json:"status"`
	Description  string     `json:"description"`
	PatternCount int        `json:"pattern_count"`
	FireCount    int        `json:"fire_count"`
	Score        *float64   `json:"score,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeployedAt   *time.Time `json:"deployed_at,omitempty"`
}

// ToSummary strips a skill down to its list view.
func (s *Skill) ToSummary() Summary {
	return Summary{
		Slug:         s.Slug,
		Domain:       s.Domain,
		Status:       s.Status,
		Description:  s.Description,
		PatternCount: s.PatternCount(),
		FireCount:    s.FireCount,
		Score:        s.Score,
		UpdatedAt:    s.UpdatedAt,
		DeployedAt:   s.DeployedAt,
	}
}
