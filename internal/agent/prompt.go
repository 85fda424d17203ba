package agent

import (
	"fmt"
	"strings"
	"time"

	"hkbot/internal/domain"
)

// Meta describes the sender of the message being answered.
type Meta struct {
	SenderPhone string
	SenderName  string
	Now         time.Time
}

// SystemPrompt renders the definition's instructions followed by a context
// block the agent needs to address tools and replies.
func SystemPrompt(def Definition, meta Meta) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(def.Instructions))
	b.WriteString("\n\n## Context\n")
	if def.Audience != "" {
		fmt.Fprintf(&b, "- You are talking to %s.\n", def.Audience)
	}
	if meta.SenderPhone != "" {
		fmt.Fprintf(&b, "- Sender phone number: %s\n", meta.SenderPhone)
	}
	if meta.SenderName != "" {
		fmt.Fprintf(&b, "- Sender name: %s\n", meta.SenderName)
	}
	now := meta.Now
	if now.IsZero() {
		now = time.Now()
	}
	fmt.Fprintf(&b, "- Current time: %s\n", now.Format(time.RFC3339))
	return b.String()
}

// buildMessages lays out the system prompt and the conversation turns,
// oldest first, as chat messages.
func buildMessages(system string, turns []domain.Turn) []domain.ChatMessage {
	msgs := make([]domain.ChatMessage, 0, len(turns)+1)
	msgs = append(msgs, domain.ChatMessage{Role: domain.RoleSystem, Content: system})
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		role := t.Role
		if role != domain.RoleAssistant {
			role = domain.RoleUser
		}
		msgs = append(msgs, domain.ChatMessage{Role: role, Content: t.Content})
	}
	return msgs
}
