package plan

import (
	"context"
	"log/slog"

	"github.com/polyphonic-ai/maestro/pkg/llm"
	"github.com/polyphonic-ai/maestro/pkg/tokens"
)

// planningTemperature keeps the planner near-deterministic.
const planningTemperature = 0.2

// Planner asks the LLM for an execution plan and validates it. Every failure
// mode degrades to the deterministic fallback; Plan never returns an error
// other than context cancellation.
type Planner struct {
	client  llm.Client
	tracker *tokens.Tracker
	logger  *slog.Logger
}

func NewPlanner(client llm.Client, tracker *tokens.Tracker) *Planner {
	return &Planner{
		client:  client,
		tracker: tracker,
		logger:  slog.Default().With("component", "plan.planner"),
	}
}

// Plan produces a validated plan for the query at the given recursion depth.
func (p *Planner) Plan(ctx context.Context, query string, history []HistoryEntry, depth, maxDepth int) (*ExecutionPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	system, user := planningMessages(query, history, maxDepth)
	resp, err := p.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature: llm.Temp(planningTemperature),
		JSONOnly:    true,
		Metadata:    map[string]string{"phase": "planning"},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("Planner LLM call failed, using fallback plan", "error", err)
		return FallbackPlan(query, depth), nil
	}
	p.tracker.RecordPlanning(resp.Usage)

	result := Validate(resp.Text, query, depth)
	result.Plan.RejectedRoles = result.RejectedRoles
	if result.Fallback {
		p.logger.Info("Planner output replaced by fallback",
			"rejected_roles", result.RejectedRoles)
	} else {
		p.logger.Info("Plan validated",
			"agents", len(result.Plan.Agents),
			"description", result.Plan.Description)
	}
	return result.Plan, nil
}
