package session

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hpungsan/skillminer/internal/collab"
)

const (
	firstMessageLimit = 500
	turnLimit         = 300
	transcriptLimit   = 4000
	topicMessages     = 5
)

var topicExtensions = []string{".go", ".rs", ".py", ".ts", ".tsx", ".json", ".toml", ".yaml", ".md", ".sql", ".xlsx", ".pdf"}

var topicKeywords = map[string]string{
	"docker":     "docker",
	"kubernetes": "kubernetes",
	"migration":  "migration",
	"test":       "test",
	"benchmark":  "benchmark",
	"refactor":   "refactor",
	"git":        "git",
	"ci":         "ci",
	"pdf":        "pdf",
	"excel":      "excel",
	"wasm":       "wasm",
	"prompt":     "prompt",
	"skill":      "skill",
	"deploy":     "deploy",
}

// Summarize condenses conv into the view handed to classification and extraction.
func Summarize(conv *Conversation) collab.Summary {
	s := collab.Summary{
		ConversationID: conv.ID,
		Project:        conv.Project(),
		StartedAt:      conv.StartTime,
		MessageCount:   conv.MessageCount(),
		FirstMessage:   truncate(conv.FirstUserMessage(), firstMessageLimit),
		Topics:         topics(conv),
	}

	seenTool := map[string]bool{}
	seenFile := map[string]bool{}
	for _, m := range conv.Messages {
		for _, tu := range m.ToolUses {
			if !seenTool[tu.Name] {
				seenTool[tu.Name] = true
				s.ToolsUsed = append(s.ToolsUsed, tu.Name)
			}
			if tu.FilePath != "" && !seenFile[tu.FilePath] {
				seenFile[tu.FilePath] = true
				s.FilesTouched = append(s.FilesTouched, tu.FilePath)
			}
		}
	}

	s.Transcript = transcript(conv)
	return s
}

func topics(conv *Conversation) []string {
	var users []string
	for _, m := range conv.Messages {
		if m.Role == RoleUser {
			users = append(users, m.Content)
			if len(users) == topicMessages {
				break
			}
		}
	}
	text := strings.Join(users, " ")
	lower := strings.ToLower(text)

	set := map[string]bool{}
	for _, ext := range topicExtensions {
		if strings.Contains(lower, ext) {
			set["file:"+ext] = true
		}
	}
	for _, word := range strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if topic, ok := topicKeywords[word]; ok {
			set[topic] = true
		}
	}

	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func transcript(conv *Conversation) string {
	var b strings.Builder
	for _, m := range conv.Messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			if len(m.ToolUses) == 0 {
				continue
			}
			names := make([]string, 0, len(m.ToolUses))
			for _, tu := range m.ToolUses {
				names = append(names, tu.Name)
			}
			text = "[tools: " + strings.Join(names, ", ") + "]"
		}
		line := fmt.Sprintf("%s: %s\n", m.Role, truncate(strings.ReplaceAll(text, "\n", " "), turnLimit))
		if b.Len()+len(line) > transcriptLimit {
			break
		}
		b.WriteString(line)
	}
	return strings.TrimRight(b.String(), "\n")
}
