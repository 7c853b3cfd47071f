package session

import (
	"strings"
	"time"
)

const triggerLimit = 200

// Invocation is one Skill tool call found in a conversation.
type Invocation struct {
	Skill          string    `json:"skill"`
	ConversationID string    `json:"conversation_id"`
	At             time.Time `json:"at"`
	// Productive is true when the next assistant turn went on to use a tool.
	Productive bool `json:"productive"`
	// Trigger is the most recent user message before the call.
	Trigger string `json:"trigger,omitempty"`
}

// Invocations extracts the skill invocations of conv in message order.
// Calls without a timestamp are stamped with the conversation start.
func Invocations(conv *Conversation) []Invocation {
	var out []Invocation
	for i, msg := range conv.Messages {
		if msg.Role != RoleAssistant {
			continue
		}
		for _, tu := range msg.ToolUses {
			if tu.Name != "Skill" || tu.Skill == "" {
				continue
			}
			at := msg.Timestamp
			if at.IsZero() {
				at = conv.StartTime
			}
			out = append(out, Invocation{
				Skill:          tu.Skill,
				ConversationID: conv.ID,
				At:             at,
				Productive:     nextAssistantUsesTools(conv.Messages[i+1:]),
				Trigger:        precedingUserMessage(conv.Messages[:i]),
			})
		}
	}
	return out
}

func nextAssistantUsesTools(rest []Message) bool {
	for _, m := range rest {
		if m.Role == RoleAssistant {
			return len(m.ToolUses) > 0
		}
	}
	return false
}

func precedingUserMessage(before []Message) string {
	for i := len(before) - 1; i >= 0; i-- {
		m := before[i]
		if m.Role == RoleUser && strings.TrimSpace(m.Content) != "" {
			return truncate(m.Content, triggerLimit)
		}
	}
	return ""
}
