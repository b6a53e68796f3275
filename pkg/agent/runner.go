// Package agent runs one specialist agent invocation: prompt assembly from
// dependency outputs and history, the LLM call with role-scoped tools, the
// tool round-trip loop, and optional delegation to a nested run.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/polyphonic-ai/maestro/pkg/llm"
	"github.com/polyphonic-ai/maestro/pkg/roles"
	"github.com/polyphonic-ai/maestro/pkg/scheduler"
	"github.com/polyphonic-ai/maestro/pkg/toolclient"
)

// maxToolIterations bounds the tool round-trip loop so a model that keeps
// requesting tools cannot spin forever.
const maxToolIterations = 5

// Subtask is one delegated unit of work inside a delegation request.
type Subtask struct {
	Role string `json:"role"`
	Task string `json:"task"`
}

// SubtaskOutput is one nested agent's final output.
type SubtaskOutput struct {
	AgentID string
	Role    string
	Output  string
}

// Delegator executes delegated subtasks as a nested run at depth+1.
// Implemented by the orchestrator service.
type Delegator interface {
	RunSubtasks(ctx context.Context, inv scheduler.Invocation, subtasks []Subtask) ([]SubtaskOutput, error)
}

// Runner implements scheduler.Runner on top of the LLM client and the tool
// gateway client.
type Runner struct {
	llm          llm.Client
	tools        *toolclient.Client
	delegator    Delegator
	historyLimit int
	logger       *slog.Logger
}

func NewRunner(client llm.Client, tools *toolclient.Client, historyLimit int) *Runner {
	return &Runner{
		llm:          client,
		tools:        tools,
		historyLimit: historyLimit,
		logger:       slog.Default().With("component", "agent"),
	}
}

// SetDelegator wires the nested-run executor in after construction. The
// orchestrator service needs the runner first, so this breaks the cycle.
func (r *Runner) SetDelegator(d Delegator) {
	r.delegator = d
}

// RunAgent executes one invocation and returns the agent's final text.
func (r *Runner) RunAgent(ctx context.Context, inv scheduler.Invocation) (string, error) {
	role, ok := roles.Get(inv.Role)
	if !ok {
		return "", fmt.Errorf("unknown role %q", inv.Role)
	}

	messages := buildMessages(role, inv, r.historyLimit)

	var tools []llm.ToolSchema
	if role.NeedsTools && r.tools != nil {
		var err error
		tools, err = r.tools.ToolsForRole(ctx, role)
		if err != nil {
			// Degrade to a tool-less call rather than failing the agent.
			r.logger.Warn("Tool discovery failed, running without tools",
				"agent_id", inv.AgentID, "error", err)
			tools = nil
		}
	}

	output, err := r.converse(ctx, inv, role, messages, tools)
	if err != nil {
		return "", err
	}

	if inv.CanDelegate && role.CanDelegate && r.delegator != nil {
		if handled, delegated, err := r.maybeDelegate(ctx, inv, role, output); handled {
			return delegated, err
		}
	}
	return output, nil
}

// converse drives the LLM call and resolves tool calls until the model
// produces plain text or the iteration cap is hit.
func (r *Runner) converse(ctx context.Context, inv scheduler.Invocation, role *roles.Role, messages []llm.Message, tools []llm.ToolSchema) (string, error) {
	for iteration := 0; ; iteration++ {
		resp, err := r.llm.Complete(ctx, llm.Request{
			Messages: messages,
			Tools:    tools,
			Metadata: map[string]string{
				"agent_id":   inv.AgentID,
				"session_id": inv.SessionID,
			},
		})
		if err != nil {
			return "", fmt.Errorf("agent %s: %w", inv.AgentID, err)
		}
		if inv.Tracker != nil {
			inv.Tracker.RecordAgent(inv.AgentID, resp.Usage)
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Text, nil
		}
		if iteration >= maxToolIterations {
			r.logger.Warn("Tool iteration cap reached",
				"agent_id", inv.AgentID, "iterations", iteration)
			return resp.Text, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			result := r.tools.ExecuteCall(ctx, role, call)
			r.logger.Info("Tool call resolved",
				"agent_id", inv.AgentID, "tool", call.Name, "result_length", len(result))
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}
}
