// Package orchestrator ties the pipeline together: complexity scoring,
// planning, layered execution and token accounting for one query, plus
// nested runs for delegating agents.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polyphonic-ai/maestro/pkg/agent"
	"github.com/polyphonic-ai/maestro/pkg/config"
	"github.com/polyphonic-ai/maestro/pkg/events"
	"github.com/polyphonic-ai/maestro/pkg/llm"
	"github.com/polyphonic-ai/maestro/pkg/plan"
	"github.com/polyphonic-ai/maestro/pkg/roles"
	"github.com/polyphonic-ai/maestro/pkg/scheduler"
	"github.com/polyphonic-ai/maestro/pkg/tokens"
	"github.com/polyphonic-ai/maestro/pkg/toolclient"
)

// RunResult is the full outcome of one query run.
type RunResult struct {
	SessionID       string                        `json:"session_id"`
	FinalOutput     string                        `json:"final_output"`
	Plan            *plan.ExecutionPlan           `json:"plan"`
	AgentCount      int                           `json:"agent_count"`
	LayerCount      int                           `json:"layer_count"`
	ExecutionTrace  []scheduler.TraceEntry        `json:"execution_trace"`
	ConversationLog []scheduler.ConversationEntry `json:"conversation_history"`
	TokenUsage      tokens.Summary                `json:"token_usage"`
	Elapsed         time.Duration                 `json:"-"`
}

// Service runs queries end to end. One service instance serves every
// request; per-run state lives in the tracker and execution state.
type Service struct {
	cfg    *config.Config
	llm    llm.Client
	runner *agent.Runner
	sched  *scheduler.Scheduler
	broker *events.Broker
	logger *slog.Logger
}

func New(cfg *config.Config, client llm.Client, broker *events.Broker) *Service {
	tools := toolclient.New(cfg.GatewayURL, cfg.RequestTimeout)
	runner := agent.NewRunner(client, tools, cfg.AgentHistoryLimit)
	s := &Service{
		cfg:    cfg,
		llm:    client,
		runner: runner,
		sched:  scheduler.New(runner, cfg.MaxParallelAgents, cfg.AgentContextLimit, broker),
		broker: broker,
		logger: slog.Default().With("component", "orchestrator"),
	}
	runner.SetDelegator(s)
	return s
}

// Run plans and executes one query. A missing session id gets a fresh one.
func (s *Service) Run(ctx context.Context, query, sessionID string, history []plan.HistoryEntry) (*RunResult, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	start := time.Now()
	tracker := tokens.NewTracker()

	maxDepth := plan.MaxDepth(query)
	if maxDepth > s.cfg.MaxDepthCeiling {
		maxDepth = s.cfg.MaxDepthCeiling
	}
	s.logger.Info("Processing query",
		"session_id", sessionID,
		"max_depth", maxDepth,
		"history_messages", len(history))

	planner := plan.NewPlanner(s.llm, tracker)
	p, err := planner.Plan(ctx, query, history, 0, maxDepth)
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}

	state, err := s.sched.Execute(ctx, scheduler.Run{
		Plan:      p,
		Query:     query,
		SessionID: sessionID,
		History:   history,
		MaxDepth:  maxDepth,
		Tracker:   tracker,
	})
	if err != nil {
		return nil, fmt.Errorf("executing plan: %w", err)
	}

	result := &RunResult{
		SessionID:       sessionID,
		FinalOutput:     state.FinalOutput,
		Plan:            p,
		AgentCount:      len(p.Agents),
		LayerCount:      state.TotalLayers,
		ExecutionTrace:  state.ExecutionTrace,
		ConversationLog: state.ConversationLog,
		TokenUsage:      tracker.Summary(),
		Elapsed:         time.Since(start),
	}
	s.logger.Info("Query completed",
		"session_id", sessionID,
		"agents", result.AgentCount,
		"layers", result.LayerCount,
		"total_tokens", result.TokenUsage.Total.Total,
		"elapsed", result.Elapsed)
	return result, nil
}

// RunSubtasks executes delegated subtasks as a nested run at depth+1. The
// nested run gets its own scheduler so its agents never contend for the
// permit the delegating agent is still holding.
func (s *Service) RunSubtasks(ctx context.Context, inv scheduler.Invocation, subtasks []agent.Subtask) ([]agent.SubtaskOutput, error) {
	nested := &plan.ExecutionPlan{
		Description: fmt.Sprintf("delegated by %s", inv.AgentID),
		Depth:       inv.Depth + 1,
	}
	for _, st := range subtasks {
		role, ok := roleFor(st.Role)
		if !ok {
			continue
		}
		nested.Agents = append(nested.Agents, plan.AgentSpec{
			Index:       len(nested.Agents),
			Role:        role,
			Task:        st.Task,
			CanDelegate: false,
		})
	}
	if len(nested.Agents) == 0 {
		return nil, fmt.Errorf("no valid subtasks to delegate")
	}

	sched := scheduler.New(s.runner, s.cfg.MaxParallelAgents, s.cfg.AgentContextLimit, s.broker)
	state, err := sched.Execute(ctx, scheduler.Run{
		Plan:      nested,
		Query:     inv.Query,
		SessionID: inv.SessionID,
		History:   inv.History,
		MaxDepth:  inv.MaxDepth,
		Tracker:   inv.Tracker,
	})
	if err != nil {
		return nil, err
	}

	outputs := make([]agent.SubtaskOutput, 0, len(nested.Agents))
	for i := range nested.Agents {
		spec := &nested.Agents[i]
		outputs = append(outputs, agent.SubtaskOutput{
			AgentID: spec.ID(),
			Role:    spec.Role,
			Output:  state.AgentOutputs[spec.ID()],
		})
	}
	return outputs, nil
}

// Broker exposes the trace event broker for the API layer.
func (s *Service) Broker() *events.Broker {
	return s.broker
}

// roleFor resolves a subtask role to its canonical registry name.
func roleFor(name string) (string, bool) {
	r, ok := roles.Get(name)
	if !ok {
		return "", false
	}
	return r.Name, true
}
