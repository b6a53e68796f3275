package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/polyphonic-ai/maestro/pkg/llm"
	"github.com/polyphonic-ai/maestro/pkg/roles"
	"github.com/polyphonic-ai/maestro/pkg/scheduler"
)

// maxSubtasks caps one delegation request. Anything larger belongs in the
// root plan, not a nested run.
const maxSubtasks = 5

type delegationRequest struct {
	NeedsDelegation bool      `json:"needs_delegation"`
	Subtasks        []Subtask `json:"subtasks"`
}

// maybeDelegate checks whether the agent's output is a delegation request
// and, if so, runs the subtasks as a nested run and synthesizes their
// outputs. handled=false means the output is ordinary text and stands.
func (r *Runner) maybeDelegate(ctx context.Context, inv scheduler.Invocation, role *roles.Role, output string) (handled bool, result string, err error) {
	req, ok := parseDelegation(output)
	if !ok || !req.NeedsDelegation {
		return false, "", nil
	}
	if inv.Depth >= inv.MaxDepth {
		r.logger.Warn("Delegation refused at depth ceiling",
			"agent_id", inv.AgentID, "depth", inv.Depth, "max_depth", inv.MaxDepth)
		return false, "", nil
	}

	subtasks := validSubtasks(req.Subtasks)
	if len(subtasks) == 0 {
		r.logger.Warn("Delegation request had no usable subtasks", "agent_id", inv.AgentID)
		return false, "", nil
	}

	r.logger.Info("Delegating subtasks",
		"agent_id", inv.AgentID, "subtasks", len(subtasks), "depth", inv.Depth+1)
	outputs, err := r.delegator.RunSubtasks(ctx, inv, subtasks)
	if err != nil {
		return true, "", fmt.Errorf("agent %s: delegation: %w", inv.AgentID, err)
	}

	synthesized, err := r.synthesize(ctx, inv, role, outputs)
	if err != nil {
		return true, "", err
	}
	return true, synthesized, nil
}

// parseDelegation extracts a delegation object from the agent output. The
// object may be bare or inside a fenced block; anything else is plain text.
func parseDelegation(output string) (*delegationRequest, bool) {
	trimmed := strings.TrimSpace(output)
	if !strings.Contains(trimmed, "needs_delegation") {
		return nil, false
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	var req delegationRequest
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &req); err != nil {
		return nil, false
	}
	return &req, true
}

// validSubtasks drops subtasks with unknown roles or empty tasks and caps
// the remainder.
func validSubtasks(subtasks []Subtask) []Subtask {
	valid := make([]Subtask, 0, len(subtasks))
	for _, st := range subtasks {
		if _, ok := roles.Get(st.Role); !ok {
			continue
		}
		if strings.TrimSpace(st.Task) == "" {
			continue
		}
		valid = append(valid, st)
		if len(valid) == maxSubtasks {
			break
		}
	}
	return valid
}

// synthesize folds the nested run's outputs into one final answer with a
// single further LLM call.
func (r *Runner) synthesize(ctx context.Context, inv scheduler.Invocation, role *roles.Role, outputs []SubtaskOutput) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Original query: %s\n\n", inv.Query)
	fmt.Fprintf(&b, "Your task: %s\n\n", inv.Task)
	b.WriteString("You delegated parts of this task. Results from the delegated agents:\n\n")
	for _, out := range outputs {
		fmt.Fprintf(&b, "From %s (%s):\n%s\n\n", out.AgentID, out.Role, out.Output)
	}
	b.WriteString("Combine these results into a single coherent response to your task.")

	resp, err := r.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: role.SystemPrompt},
			{Role: llm.RoleUser, Content: b.String()},
		},
		Metadata: map[string]string{
			"agent_id":   inv.AgentID,
			"session_id": inv.SessionID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("agent %s: synthesis: %w", inv.AgentID, err)
	}
	if inv.Tracker != nil {
		inv.Tracker.RecordAgent(inv.AgentID, resp.Usage)
	}
	return resp.Text, nil
}
