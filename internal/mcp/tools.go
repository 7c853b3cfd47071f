package mcp

import "github.com/mark3labs/mcp-go/mcp"

var stringItems = mcp.Items(map[string]any{"type": "string"})

var listToolDef = mcp.NewTool("skill_list",
	mcp.WithDescription("List skills in the manifest with their status, score and fire count."),
	mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum("draft", "approved", "deployed", "rejected")),
	mcp.WithString("domain", mcp.Description("Filter by domain slug")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var showToolDef = mcp.NewTool("skill_show",
	mcp.WithDescription("Show one skill record with its draft content and deployed copy."),
	mcp.WithString("slug", mcp.Required(), mcp.Description("Skill slug")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var approveToolDef = mcp.NewTool("skill_approve",
	mcp.WithDescription("Approve draft skills. Skills in other states are reported as skipped."),
	mcp.WithArray("slugs", mcp.Required(), mcp.Description("Skill slugs"), stringItems),
	mcp.WithBoolean("dry_run", mcp.Description("Report the transitions without persisting them")),
)

var rejectToolDef = mcp.NewTool("skill_reject",
	mcp.WithDescription("Reject skills. A deployed skill is removed from the skills directory. Rejection is final."),
	mcp.WithArray("slugs", mcp.Required(), mcp.Description("Skill slugs"), stringItems),
	mcp.WithBoolean("dry_run", mcp.Description("Report the transitions without persisting them")),
	mcp.WithDestructiveHintAnnotation(true),
)

var deployToolDef = mcp.NewTool("skill_deploy",
	mcp.WithDescription("Deploy skills to the skills directory. Named slugs bypass approval; approved=true deploys every approved skill."),
	mcp.WithArray("slugs", mcp.Description("Skill slugs"), stringItems),
	mcp.WithBoolean("approved", mcp.Description("Deploy all approved skills")),
	mcp.WithBoolean("dry_run", mcp.Description("Report the transitions without writing anything")),
)

var diffToolDef = mcp.NewTool("skill_diff",
	mcp.WithDescription("Diff draft content against the deployed copy, for one skill or every deployed skill."),
	mcp.WithString("slug", mcp.Description("Skill slug; omit for every deployed skill")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var consolidateToolDef = mcp.NewTool("skill_consolidate",
	mcp.WithDescription("Score skills from the invocation log and reject those below the minimum score."),
	mcp.WithArray("slugs", mcp.Description("Restrict to these skills"), stringItems),
	mcp.WithNumber("min_score", mcp.Description("Reject threshold in [0,1]; defaults to config")),
	mcp.WithBoolean("refine", mcp.Description("Rewrite kept skills' descriptions from their trigger phrases")),
	mcp.WithBoolean("dry_run", mcp.Description("Score without persisting anything")),
	mcp.WithDestructiveHintAnnotation(true),
)

var pruneToolDef = mcp.NewTool("skill_prune",
	mcp.WithDescription("Retire catch-all drafts, rejected skills or duplicate drafts. Retired slugs are never reused."),
	mcp.WithBoolean("misc", mcp.Description("Drop catch-all drafts and observations")),
	mcp.WithBoolean("rejected", mcp.Description("Retire rejected skills")),
	mcp.WithBoolean("duplicates", mcp.Description("Drop drafts whose content duplicates another skill")),
	mcp.WithBoolean("dry_run", mcp.Description("Report without removing anything")),
	mcp.WithDestructiveHintAnnotation(true),
)

var graphToolDef = mcp.NewTool("skill_graph",
	mcp.WithDescription("Reference graph among deployed skills: edges, broken links and orphans."),
	mcp.WithBoolean("drafts", mcp.Description("Include draft content files")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var exportToolDef = mcp.NewTool("bundle_export",
	mcp.WithDescription("Export skills as a .skillpack bundle directory."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Bundle name")),
	mcp.WithString("dir", mcp.Description("Target directory; defaults to ~/.skillminer/exports")),
	mcp.WithString("author", mcp.Description("Bundle author (dropped for public bundles)")),
	mcp.WithString("description", mcp.Description("Bundle description")),
	mcp.WithBoolean("public", mcp.Description("Sanitize local paths and author for sharing")),
	mcp.WithBoolean("approved_only", mcp.Description("Only approved and deployed skills")),
	mcp.WithArray("slugs", mcp.Description("Restrict to these skills"), stringItems),
	mcp.WithBoolean("overwrite", mcp.Description("Replace an existing bundle")),
	mcp.WithBoolean("dry_run", mcp.Description("Plan the bundle without writing it")),
)

var importToolDef = mcp.NewTool("bundle_import",
	mcp.WithDescription("Import a bundle's skills as drafts after verifying every checksum."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Path to the .skillpack directory")),
	mcp.WithString("mode", mcp.Description("Collision handling"), mcp.Enum("error", "replace", "rename")),
	mcp.WithBoolean("dry_run", mcp.Description("Plan the import without writing anything")),
)

var verifyToolDef = mcp.NewTool("bundle_verify",
	mcp.WithDescription("Recompute every checksum in a bundle and report mismatches and missing files."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Path to the .skillpack directory")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var validateToolDef = mcp.NewTool("bundle_validate",
	mcp.WithDescription("Validate bundle metadata, integrity and skill content; fix=true repairs what it can first."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Path to the .skillpack directory")),
	mcp.WithBoolean("fix", mcp.Description("Apply mechanical fixes, then re-validate")),
	mcp.WithBoolean("dry_run", mcp.Description("Report fixes without applying them")),
)
