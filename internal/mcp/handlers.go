package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/skillminer/internal/errors"
	"github.com/hpungsan/skillminer/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	env *ops.Env
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(env *ops.Env) *Handlers {
	return &Handlers{env: env}
}

// Request types for each tool

// ListRequest represents the arguments for skill_list.
type ListRequest struct {
	Status string `json:"status,omitempty"`
	Domain string `json:"domain,omitempty"`
}

// SlugRequest represents the arguments for skill_show and skill_diff.
type SlugRequest struct {
	Slug string `json:"slug,omitempty"`
}

// BatchRequest represents the arguments for skill_approve and skill_reject.
type BatchRequest struct {
	Slugs  []string `json:"slugs"`
	DryRun bool     `json:"dry_run,omitempty"`
}

// DeployRequest represents the arguments for skill_deploy.
type DeployRequest struct {
	Slugs    []string `json:"slugs,omitempty"`
	Approved bool     `json:"approved,omitempty"`
	DryRun   bool     `json:"dry_run,omitempty"`
}

// ConsolidateRequest represents the arguments for skill_consolidate.
type ConsolidateRequest struct {
	Slugs    []string `json:"slugs,omitempty"`
	MinScore float64  `json:"min_score,omitempty"`
	Refine   bool     `json:"refine,omitempty"`
	DryRun   bool     `json:"dry_run,omitempty"`
}

// PruneRequest represents the arguments for skill_prune.
type PruneRequest struct {
	Misc       bool `json:"misc,omitempty"`
	Rejected   bool `json:"rejected,omitempty"`
	Duplicates bool `json:"duplicates,omitempty"`
	DryRun     bool `json:"dry_run,omitempty"`
}

// GraphRequest represents the arguments for skill_graph.
type GraphRequest struct {
	Drafts bool `json:"drafts,omitempty"`
}

// ExportRequest represents the arguments for bundle_export.
type ExportRequest struct {
	Name         string   `json:"name"`
	Dir          string   `json:"dir,omitempty"`
	Author       string   `json:"author,omitempty"`
	Description  string   `json:"description,omitempty"`
	Public       bool     `json:"public,omitempty"`
	ApprovedOnly bool     `json:"approved_only,omitempty"`
	Slugs        []string `json:"slugs,omitempty"`
	Overwrite    bool     `json:"overwrite,omitempty"`
	DryRun       bool     `json:"dry_run,omitempty"`
}

// ImportRequest represents the arguments for bundle_import.
type ImportRequest struct {
	Path   string `json:"path"`
	Mode   string `json:"mode,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// PathRequest represents the arguments for bundle_verify.
type PathRequest struct {
	Path string `json:"path"`
}

// ValidateRequest represents the arguments for bundle_validate.
type ValidateRequest struct {
	Path   string `json:"path"`
	Fix    bool   `json:"fix,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// decode unmarshals MCP request arguments into a typed struct. Malformed
// arguments are INVALID_REQUEST.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return result, errors.NewInvalidRequest(fmt.Sprintf("marshal args: %v", err))
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, errors.NewInvalidRequest(fmt.Sprintf("unmarshal args: %v", err))
	}
	return result, nil
}

// envFor returns the environment for one call: a dry-run copy when asked.
func (h *Handlers) envFor(dryRun bool) (*ops.Env, error) {
	if !dryRun {
		return h.env, nil
	}
	return h.env.DryRunCopy()
}

// Handler implementations

// HandleList handles the skill_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.List(h.env, ops.ListInput{Status: input.Status, Domain: input.Domain})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleShow handles the skill_show tool call.
func (h *Handlers) HandleShow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SlugRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if strings.TrimSpace(input.Slug) == "" {
		return errorResult(errors.NewInvalidRequest("slug is required")), nil
	}
	result, err := ops.Show(h.env, input.Slug)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleApprove handles the skill_approve tool call.
func (h *Handlers) HandleApprove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.batch(req, ops.Approve)
}

// HandleReject handles the skill_reject tool call.
func (h *Handlers) HandleReject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.batch(req, ops.Reject)
}

func (h *Handlers) batch(req mcp.CallToolRequest, op func(*ops.Env, []string) (*ops.TransitionOutput, error)) (*mcp.CallToolResult, error) {
	input, err := decode[BatchRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	env, err := h.envFor(input.DryRun)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := op(env, input.Slugs)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDeploy handles the skill_deploy tool call.
func (h *Handlers) HandleDeploy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DeployRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	env, err := h.envFor(input.DryRun)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Deploy(env, ops.DeployInput{Slugs: input.Slugs, Approved: input.Approved})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDiff handles the skill_diff tool call.
func (h *Handlers) HandleDiff(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SlugRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Diff(h.env, input.Slug)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleConsolidate handles the skill_consolidate tool call.
func (h *Handlers) HandleConsolidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ConsolidateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.MinScore < 0 || input.MinScore > 1 {
		return errorResult(errors.NewInvalidRequest("min_score must be in [0,1]")), nil
	}
	env, err := h.envFor(input.DryRun)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Consolidate(ctx, env, ops.ConsolidateInput{
		Slugs:    input.Slugs,
		MinScore: input.MinScore,
		Refine:   input.Refine,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandlePrune handles the skill_prune tool call.
func (h *Handlers) HandlePrune(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PruneRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	env, err := h.envFor(input.DryRun)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Prune(env, ops.PruneInput{
		Misc:       input.Misc,
		Rejected:   input.Rejected,
		Duplicates: input.Duplicates,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleGraph handles the skill_graph tool call.
func (h *Handlers) HandleGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GraphRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Graph(h.env, ops.GraphInput{Drafts: input.Drafts})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleExport handles the bundle_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	env, err := h.envFor(input.DryRun)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Export(env, ops.ExportInput{
		Name:         input.Name,
		Dir:          input.Dir,
		Author:       input.Author,
		Description:  input.Description,
		Public:       input.Public,
		ApprovedOnly: input.ApprovedOnly,
		Slugs:        input.Slugs,
		Overwrite:    input.Overwrite,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleImport handles the bundle_import tool call.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	env, err := h.envFor(input.DryRun)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Import(env, ops.ImportInput{Path: input.Path, Mode: input.Mode})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleVerify handles the bundle_verify tool call.
func (h *Handlers) HandleVerify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PathRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Verify(h.env, input.Path)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleValidate handles the bundle_validate tool call.
func (h *Handlers) HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ValidateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	env, err := h.envFor(input.DryRun)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Validate(env, ops.ValidateInput{Path: input.Path, Fix: input.Fix})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are never exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if sErr, ok := errors.As(err); ok {
		msg := sErr.Message
		// keep context added by wrapping, e.g. "skills[2]: "
		if prefix := strings.TrimSuffix(err.Error(), sErr.Error()); prefix != err.Error() {
			msg = prefix + msg
		}
		errorObj := map[string]any{
			"code":    sErr.Code,
			"message": msg,
			"status":  sErr.Status,
		}
		if sErr.Code != errors.ErrInternal && sErr.Details != nil {
			errorObj["details"] = sErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
