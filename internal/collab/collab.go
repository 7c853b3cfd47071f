// Package collab defines the AI collaborator capabilities the miner depends on and
// the bounded-concurrency and retry machinery wrapped around them.
//
// Collaborators are nondeterministic; everything downstream of them is not. Each call
// returns either a value or a *Failure describing why it failed.
package collab

import (
	"context"
	"time"

	"github.com/hpungsan/skillminer/internal/domains"
	"github.com/hpungsan/skillminer/internal/skill"
)

// Summary is the condensed view of a conversation handed to collaborators.
type Summary struct {
	ConversationID string    `json:"conversation_id"`
	Project        string    `json:"project"`
	StartedAt      time.Time `json:"started_at"`
	MessageCount   int       `json:"message_count"`
	FirstMessage   string    `json:"first_message"`
	Topics         []string  `json:"topics,omitempty"`
	ToolsUsed      []string  `json:"tools_used,omitempty"`
	FilesTouched   []string  `json:"files_touched,omitempty"`

	// Transcript is a bounded excerpt of the user and assistant turns.
	Transcript string `json:"transcript,omitempty"`
}

// Classifier assigns a conversation to one domain. The returned label is free text;
// callers resolve it against the catalog.
type Classifier interface {
	Classify(ctx context.Context, conv Summary, catalog *domains.Catalog) (string, error)
}

// Extractor proposes candidate pattern strings for a classified conversation.
type Extractor interface {
	Extract(ctx context.Context, conv Summary, domain domains.Domain) ([]string, error)
}

// GenerateRequest describes one domain's retained patterns.
type GenerateRequest struct {
	Slug              string
	Domain            domains.Domain
	Patterns          []skill.PatternRef
	ConversationCount int
}

// Content is generated skill text before the core wraps it with metadata.
type Content struct {
	Description string
	Body        string
}

// Generator writes skill body text for a domain's patterns.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Content, error)
}

// RefineRequest asks for a better trigger description using real invocation phrases.
type RefineRequest struct {
	Slug        string
	Description string
	Body        string
	Triggers    []string
}

// Refiner rewrites a kept skill's trigger description.
type Refiner interface {
	Refine(ctx context.Context, req RefineRequest) (string, error)
}

// Set bundles the collaborators a command needs. Nil members are unavailable.
type Set struct {
	Classifier Classifier
	Extractor  Extractor
	Generator  Generator
	Refiner    Refiner
}
