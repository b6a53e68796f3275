package agent

import (
	"fmt"
	"strings"

	"github.com/polyphonic-ai/maestro/pkg/llm"
	"github.com/polyphonic-ai/maestro/pkg/plan"
	"github.com/polyphonic-ai/maestro/pkg/roles"
	"github.com/polyphonic-ai/maestro/pkg/scheduler"
)

// historyClipLimit caps each carried history message. The agents need the
// gist of prior exchanges, not their full text.
const historyClipLimit = 150

// buildMessages assembles the two-message exchange for one invocation: the
// role's system prompt plus a user turn with query, history tail, dependency
// context, task and position.
func buildMessages(role *roles.Role, inv scheduler.Invocation, historyLimit int) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Original query: %s\n\n", inv.Query)

	if tail := historyTail(inv.History, historyLimit); tail != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(tail)
		b.WriteString("\n\n")
	}
	if inv.DepContext != "" {
		b.WriteString("Context from previous agents:\n")
		b.WriteString(inv.DepContext)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Your task: %s\n\n", inv.Task)
	fmt.Fprintf(&b, "You are agent %d of %d, working in stage %d of %d.",
		inv.Position+1, inv.TotalAgents, inv.Layer+1, inv.TotalLayers)

	return []llm.Message{
		{Role: llm.RoleSystem, Content: role.SystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

// historyTail renders the last limit history messages, each clipped.
func historyTail(history []plan.HistoryEntry, limit int) string {
	if limit <= 0 || len(history) == 0 {
		return ""
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	lines := make([]string, 0, len(history))
	for _, h := range history {
		content := h.Content
		if len(content) > historyClipLimit {
			content = content[:historyClipLimit] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s: %s", h.Role, content))
	}
	return strings.Join(lines, "\n")
}
