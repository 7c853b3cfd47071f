// Package ai implements the collaborator capabilities on Google Gemini.
package ai

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/hpungsan/skillminer/internal/collab"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-1.5-flash"

// Model produces text for a prompt. When jsonMode is set the response is a JSON
// document with any markdown fences removed.
type Model interface {
	Generate(ctx context.Context, prompt string, jsonMode bool) (string, error)
}

// Options configures a GeminiClient.
type Options struct {
	Model string
	// RequestsPerMinute paces requests across every caller. 0 means unlimited.
	RequestsPerMinute int
	Logger            zerolog.Logger
}

// GeminiClient implements Model for Google Gemini.
type GeminiClient struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, apiKey string, opts Options) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required (set GEMINI_API_KEY)")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	return &GeminiClient{
		client:  client,
		model:   opts.Model,
		limiter: NewLimiter(opts.RequestsPerMinute),
		logger:  opts.Logger,
	}, nil
}

// NewLimiter returns a limiter allowing rpm requests per minute, or an unlimited
// one when rpm is not positive.
func NewLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

// Generate sends one prompt. Failures are returned as *collab.Failure.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(0.2)
	if jsonMode {
		model.ResponseMIMEType = "application/json"
	}

	start := time.Now()
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		c.logger.Debug().Err(err).Str("model", c.model).Msg("gemini request failed")
		return "", classifyError("generate", err)
	}
	c.logger.Debug().Str("model", c.model).Dur("elapsed", time.Since(start)).Msg("gemini request")

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return "", collab.Invalid("generate", err)
	}
	if jsonMode {
		text = cleanJSONBlock(text)
	}
	return text, nil
}

// Close releases resources held by the client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse extracts text from Gemini API response
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}

// cleanJSONBlock removes markdown code block wrappers from JSON
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

var transientCodes = []string{"ResourceExhausted", "Unavailable", "DeadlineExceeded", "Internal", "Aborted"}

// classifyError maps a provider error to a failure kind. Rate limits, timeouts
// and server errors are transient; blocked prompts and rejected requests are
// permanent. Context errors pass through unchanged.
func classifyError(op string, err error) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var blocked *genai.BlockedError
	if stderrors.As(err, &blocked) {
		return collab.Permanent(op, err)
	}

	var gErr *googleapi.Error
	if stderrors.As(err, &gErr) {
		return byHTTPStatus(op, gErr.Code, err)
	}
	var coded interface{ HTTPCode() int }
	if stderrors.As(err, &coded) && coded.HTTPCode() > 0 {
		return byHTTPStatus(op, coded.HTTPCode(), err)
	}

	msg := err.Error()
	for _, code := range transientCodes {
		if strings.Contains(msg, "code = "+code) {
			return collab.Transient(op, err)
		}
	}
	if strings.Contains(msg, "code = ") {
		return collab.Permanent(op, err)
	}
	return collab.Transient(op, err)
}

func byHTTPStatus(op string, status int, err error) error {
	switch {
	case status == 429, status == 408, status >= 500:
		return collab.Transient(op, err)
	default:
		return collab.Permanent(op, err)
	}
}
