package plan

import (
	"fmt"
	"strings"

	"github.com/polyphonic-ai/maestro/pkg/roles"
)

const planningInstructions = `You are a meta-agent planner. Decompose the user's query into a dependency graph of specialist agents.

Respond with ONLY a JSON object, no prose and no markdown fences, of the form:
{"description": "<one line>", "agents": [{"role": "<role>", "task": "<what this agent does>", "depends_on": [<indices of earlier agents>]}]}

Rules:
- Use only the roles listed below. Any other role will be discarded.
- depends_on lists 0-based indices of agents defined EARLIER in the array. Never reference an agent's own index or a later one.
- Agents with disjoint dependencies run in parallel; keep the graph as wide as the task allows.
- The LAST agent's output is returned to the user, so end with an agent that produces the final answer (usually a synthesizer).
- Simple queries deserve simple plans. A greeting needs exactly one analyzer.

Available roles:
%s
Delegation depth budget for this query: %d.

Examples:

Query: "hi"
{"description": "Simple greeting", "agents": [{"role": "analyzer", "task": "Respond warmly in 1-2 sentences", "depends_on": []}]}

Query: "Compare Python and Rust for backend services"
{"description": "Parallel research then synthesis", "agents": [{"role": "researcher", "task": "Research Python for backend services: performance, ecosystem, operational story", "depends_on": []}, {"role": "researcher", "task": "Research Rust for backend services: performance, ecosystem, operational story", "depends_on": []}, {"role": "synthesizer", "task": "Compare the findings and recommend when to pick each", "depends_on": [0, 1]}]}`

// planningMessages builds the planner's message sequence: the system prompt
// with the role catalog and depth budget, then the user turn carrying recent
// history and the query.
func planningMessages(query string, history []HistoryEntry, maxDepth int) (system, user string) {
	system = fmt.Sprintf(planningInstructions, roles.Describe(), maxDepth)

	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "%s: %s\n", h.Role, clip(h.Content, 200))
		}
		b.WriteString("\n")
	}
	b.WriteString("Query: ")
	b.WriteString(query)
	return system, b.String()
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
