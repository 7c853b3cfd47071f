// Package session reads agent session logs: per-conversation JSONL transcripts and
// the prompt history file.
package session

import (
	"strings"
	"time"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolUse is a tool call made by the assistant.
type ToolUse struct {
	Name     string `json:"name"`
	Input    string `json:"input,omitempty"` // truncated JSON of the call input
	FilePath string `json:"file_path,omitempty"`
	Command  string `json:"command,omitempty"`
	Skill    string `json:"skill,omitempty"` // set for Skill tool calls
}

// Message is one user or assistant turn.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ToolUses  []ToolUse `json:"tool_uses,omitempty"`
}

// Conversation is a parsed session log. Its ID is the log's file stem.
type Conversation struct {
	ID         string
	SourcePath string
	Cwd        string
	GitBranch  string
	Messages   []Message
	StartTime  time.Time
	EndTime    time.Time
}

// MessageCount returns the number of kept messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// FirstUserMessage returns the first non-empty user message.
func (c *Conversation) FirstUserMessage() string {
	return c.first(RoleUser)
}

// FirstAssistantMessage returns the first non-empty assistant text.
func (c *Conversation) FirstAssistantMessage() string {
	return c.first(RoleAssistant)
}

func (c *Conversation) first(role Role) string {
	for _, m := range c.Messages {
		if m.Role == role && strings.TrimSpace(m.Content) != "" {
			return m.Content
		}
	}
	return ""
}

// Project returns the last element of the working directory, accepting both
// slash styles since logs may come from either platform.
func (c *Conversation) Project() string {
	return ProjectName(c.Cwd)
}

// ProjectName returns the last element of a slash- or backslash-separated path.
func ProjectName(path string) string {
	path = strings.TrimRight(strings.ReplaceAll(path, `\`, "/"), "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// truncate shortens s to limit runes, appending "..." when cut.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
