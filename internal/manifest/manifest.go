// Package manifest owns the persisted cross-run state: every skill record, the
// dedup registry of mined conversations, the mining cursor and pending pattern
// observations. Mutations go through Store.Update, which writes a complete new
// snapshot with replace-on-success semantics.
package manifest

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/hpungsan/skillminer/internal/skill"
)

// Version is the manifest schema version written by this build.
const Version = "1"

// IDSet is a set of conversation ids. It serialises as a sorted JSON array.
type IDSet map[string]struct{}

// Has reports membership.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts ids.
func (s IDSet) Add(ids ...string) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// Sorted returns the ids in lexical order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON implements json.Marshaler.
func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	set := make(IDSet, len(ids))
	set.Add(ids...)
	*s = set
	return nil
}

// Observation is one pattern reported by the extractor for one conversation.
// Observations wait in the manifest between the window commit and generation.
type Observation struct {
	Domain         string    `json:"domain"`
	Key            string    `json:"key"`
	Text           string    `json:"text"`
	ConversationID string    `json:"conversation_id"`
	At             time.Time `json:"at"`
}

// RunInfo summarises the most recent mining run.
type RunInfo struct {
	ID            string    `json:"id"`
	Command       string    `json:"command"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Windows       int       `json:"windows"`
	Conversations int       `json:"conversations"`
	StopReason    string    `json:"stop_reason"`
}

// Manifest is the single persisted source of truth.
type Manifest struct {
	Version   string                  `json:"version"`
	UpdatedAt time.Time               `json:"updated_at"`
	Skills    map[string]*skill.Skill `json:"skills"`
	MinedIDs  IDSet                   `json:"mined_ids"`

	// Cursor is the oldest window boundary committed so far.
	Cursor *time.Time `json:"cursor,omitempty"`

	Pending []Observation `json:"pending,omitempty"`

	// Retired holds slugs that were pruned; they are never reassigned.
	Retired []string `json:"retired,omitempty"`

	LastRun *RunInfo `json:"last_run,omitempty"`
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{
		Version:  Version,
		Skills:   map[string]*skill.Skill{},
		MinedIDs: IDSet{},
	}
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	c := &Manifest{
		Version:   m.Version,
		UpdatedAt: m.UpdatedAt,
		Skills:    make(map[string]*skill.Skill, len(m.Skills)),
		MinedIDs:  make(IDSet, len(m.MinedIDs)),
	}
	for slug, s := range m.Skills {
		c.Skills[slug] = s.Clone()
	}
	for id := range m.MinedIDs {
		c.MinedIDs[id] = struct{}{}
	}
	if m.Cursor != nil {
		v := *m.Cursor
		c.Cursor = &v
	}
	if m.Pending != nil {
		c.Pending = append([]Observation(nil), m.Pending...)
	}
	if m.Retired != nil {
		c.Retired = append([]string(nil), m.Retired...)
	}
	if m.LastRun != nil {
		v := *m.LastRun
		c.LastRun = &v
	}
	return c
}

// Get returns the skill for slug.
func (m *Manifest) Get(slug string) (*skill.Skill, bool) {
	s, ok := m.Skills[slug]
	return s, ok
}

// Slugs returns every skill slug in lexical order.
func (m *Manifest) Slugs() []string {
	out := make([]string, 0, len(m.Skills))
	for slug := range m.Skills {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// Filter selects skills for list views. Empty fields match everything.
type Filter struct {
	Status skill.Status
	Domain string
}

// List returns the skills matching f, ordered by slug.
func (m *Manifest) List(f Filter) []*skill.Skill {
	var out []*skill.Skill
	for _, slug := range m.Slugs() {
		s := m.Skills[slug]
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.Domain != "" && s.Domain != f.Domain {
			continue
		}
		out = append(out, s)
	}
	return out
}

// CountByStatus tallies skills per status.
func (m *Manifest) CountByStatus() map[skill.Status]int {
	out := map[skill.Status]int{}
	for _, s := range m.Skills {
		out[s.Status]++
	}
	return out
}

// IsRetired reports whether slug was pruned.
func (m *Manifest) IsRetired(slug string) bool {
	for _, r := range m.Retired {
		if r == slug {
			return true
		}
	}
	return false
}

// Retire removes a skill and blocks its slug from reuse.
func (m *Manifest) Retire(slug string) {
	delete(m.Skills, slug)
	if !m.IsRetired(slug) {
		m.Retired = append(m.Retired, slug)
		sort.Strings(m.Retired)
	}
}

// AdvanceCursor moves the cursor back to t if t is older than the current cursor.
func (m *Manifest) AdvanceCursor(t time.Time) {
	if m.Cursor == nil || t.Before(*m.Cursor) {
		v := t.UTC()
		m.Cursor = &v
	}
}

func (m *Manifest) ensure() {
	if m.Version == "" {
		m.Version = Version
	}
	if m.Skills == nil {
		m.Skills = map[string]*skill.Skill{}
	}
	if m.MinedIDs == nil {
		m.MinedIDs = IDSet{}
	}
}
