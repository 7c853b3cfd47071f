package ai

import (
	"fmt"
	"strings"

	"github.com/hpungsan/skillminer/internal/collab"
	"github.com/hpungsan/skillminer/internal/domains"
	"github.com/hpungsan/skillminer/internal/skill"
)

// maxTranscript bounds the transcript excerpt embedded in a prompt.
const maxTranscript = 6000

func writeConversation(b *strings.Builder, conv collab.Summary) {
	fmt.Fprintf(b, "Project: %s\n", conv.Project)
	fmt.Fprintf(b, "Messages: %d\n", conv.MessageCount)
	fmt.Fprintf(b, "First message: %s\n", conv.FirstMessage)
	if len(conv.Topics) > 0 {
		fmt.Fprintf(b, "Topics: %s\n", strings.Join(conv.Topics, ", "))
	}
	if len(conv.ToolsUsed) > 0 {
		fmt.Fprintf(b, "Tools used: %s\n", strings.Join(conv.ToolsUsed, ", "))
	}
	if len(conv.FilesTouched) > 0 {
		fmt.Fprintf(b, "Files touched: %s\n", strings.Join(conv.FilesTouched, ", "))
	}
	if conv.Transcript != "" {
		t := conv.Transcript
		if len(t) > maxTranscript {
			t = t[:maxTranscript] + "\n[truncated]"
		}
		fmt.Fprintf(b, "\nTranscript excerpt:\n%s\n", t)
	}
}

func classifyPrompt(conv collab.Summary, catalog *domains.Catalog) string {
	var b strings.Builder
	b.WriteString("Classify this coding-assistant conversation into exactly one domain.\n\n")
	b.WriteString("Domains:\n")
	b.WriteString(catalog.PromptList())
	b.WriteString("\n\nConversation:\n")
	writeConversation(&b, conv)
	fmt.Fprintf(&b, "\nRespond with JSON {\"domain\": \"<slug>\"}. Use %q when nothing fits.\n", catalog.CatchAll())
	return b.String()
}

func extractPrompt(conv collab.Summary, d domains.Domain) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This conversation is about %s.\n", d.Name)
	b.WriteString("List the reusable working patterns it shows: repeatable steps, conventions or fixes ")
	b.WriteString("that would help in a future session. Skip one-off details and project-specific names.\n\n")
	writeConversation(&b, conv)
	b.WriteString("\nRespond with JSON {\"patterns\": [\"<short imperative sentence>\", ...]}, at most 5 items. ")
	b.WriteString("An empty list is fine.\n")
	return b.String()
}

func generatePrompt(req collab.GenerateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a skill document named %q for the domain %s.\n", req.Slug, req.Domain.Name)
	fmt.Fprintf(&b, "It distills patterns observed across %d conversations, most frequent first:\n\n", req.ConversationCount)
	for i, p := range req.Patterns {
		fmt.Fprintf(&b, "%d. %s (seen %d times)\n", i+1, p.Text, p.Frequency)
	}
	b.WriteString("\nThe body is markdown without frontmatter. Give each pattern its own section ")
	b.WriteString("headed \"## N. <title>\" with concrete steps. The description is one sentence that ")
	b.WriteString("starts with \"Use when\" and says when the skill applies.\n\n")
	b.WriteString("Respond with JSON {\"description\": \"...\", \"body\": \"...\"}.\n")
	return b.String()
}

func refinePrompt(req collab.RefineRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The skill %q has this trigger description:\n%s\n\n", req.Slug, req.Description)
	b.WriteString("These are real requests that invoked it:\n")
	for _, t := range req.Triggers {
		fmt.Fprintf(&b, "- %s\n", t)
	}
	if sections := skill.ParseSections(req.Body); len(sections) > 0 {
		b.WriteString("\nIts sections:\n")
		for _, s := range sections {
			if s.Level == 2 {
				fmt.Fprintf(&b, "- %s\n", s.Title)
			}
		}
	}
	b.WriteString("\nRewrite the description so it matches requests like these. One sentence starting with \"Use when\".\n")
	b.WriteString("Respond with JSON {\"description\": \"...\"}.\n")
	return b.String()
}
