package ai

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hpungsan/skillminer/internal/collab"
	"github.com/hpungsan/skillminer/internal/domains"
)

// Collaborators implements every collab capability on top of one Model.
type Collaborators struct {
	model  Model
	logger zerolog.Logger
}

// New wraps model.
func New(model Model, logger zerolog.Logger) *Collaborators {
	return &Collaborators{model: model, logger: logger}
}

// Set returns c as a collab.Set.
func (c *Collaborators) Set() collab.Set {
	return collab.Set{Classifier: c, Extractor: c, Generator: c, Refiner: c}
}

func (c *Collaborators) Classify(ctx context.Context, conv collab.Summary, catalog *domains.Catalog) (string, error) {
	raw, err := c.model.Generate(ctx, classifyPrompt(conv, catalog), true)
	if err != nil {
		return "", err
	}
	var out struct {
		Domain string `json:"domain"`
	}
	if err := decode("classify", classifyValidator, raw, &out); err != nil {
		return "", err
	}
	c.logger.Debug().Str("conversation", conv.ConversationID).Str("label", out.Domain).Msg("classified")
	return strings.TrimSpace(out.Domain), nil
}

func (c *Collaborators) Extract(ctx context.Context, conv collab.Summary, d domains.Domain) ([]string, error) {
	raw, err := c.model.Generate(ctx, extractPrompt(conv, d), true)
	if err != nil {
		return nil, err
	}
	var out struct {
		Patterns []string `json:"patterns"`
	}
	if err := decode("extract", extractValidator, raw, &out); err != nil {
		return nil, err
	}
	patterns := make([]string, 0, len(out.Patterns))
	for _, p := range out.Patterns {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns, nil
}

func (c *Collaborators) Generate(ctx context.Context, req collab.GenerateRequest) (collab.Content, error) {
	raw, err := c.model.Generate(ctx, generatePrompt(req), true)
	if err != nil {
		return collab.Content{}, err
	}
	var out struct {
		Description string `json:"description"`
		Body        string `json:"body"`
	}
	if err := decode("generate", generateValidator, raw, &out); err != nil {
		return collab.Content{}, err
	}
	body := strings.TrimSpace(out.Body)
	if body != "" {
		body += "\n"
	}
	return collab.Content{Description: strings.TrimSpace(out.Description), Body: body}, nil
}

func (c *Collaborators) Refine(ctx context.Context, req collab.RefineRequest) (string, error) {
	raw, err := c.model.Generate(ctx, refinePrompt(req), true)
	if err != nil {
		return "", err
	}
	var out struct {
		Description string `json:"description"`
	}
	if err := decode("refine", refineValidator, raw, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Description), nil
}
