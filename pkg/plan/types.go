// Package plan defines the execution plan model and everything that produces
// one: the complexity heuristic, the planner, the validator with its JSON
// repair rules, and the layered topological sort.
package plan

import "fmt"

// AgentSpec is one node of the dependency graph.
type AgentSpec struct {
	Index       int    `json:"index"`
	Role        string `json:"role"`
	Task        string `json:"task"`
	DependsOn   []int  `json:"depends_on"`
	CanDelegate bool   `json:"can_delegate"`
}

// ID is the canonical agent identifier, "<role>_<index>".
func (a *AgentSpec) ID() string {
	return fmt.Sprintf("%s_%d", a.Role, a.Index)
}

// HistoryEntry is one prior conversation turn supplied by the caller. The
// planner and agent runners consume it read-only.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExecutionPlan is the validated DAG for one query. RejectedRoles keeps the
// roles the validator dropped visible in the run's record.
type ExecutionPlan struct {
	Description   string      `json:"description"`
	Agents        []AgentSpec `json:"agents"`
	Depth         int         `json:"depth"`
	RejectedRoles []string    `json:"rejected_roles,omitempty"`
}

// LastAgentID returns the id of the highest-indexed agent, whose output is
// the run's final answer.
func (p *ExecutionPlan) LastAgentID() string {
	if len(p.Agents) == 0 {
		return ""
	}
	return p.Agents[len(p.Agents)-1].ID()
}
