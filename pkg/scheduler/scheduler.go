package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyphonic-ai/maestro/pkg/events"
	"github.com/polyphonic-ai/maestro/pkg/plan"
	"github.com/polyphonic-ai/maestro/pkg/tokens"
)

// Invocation is everything one agent run receives.
type Invocation struct {
	AgentID     string
	Role        string
	Task        string
	DepContext  string
	Query       string
	Layer       int
	TotalLayers int
	Position    int
	TotalAgents int
	History     []plan.HistoryEntry
	Depth       int
	MaxDepth    int
	CanDelegate bool
	SessionID   string
	Tracker     *tokens.Tracker
}

// Runner executes one agent invocation. Implemented by pkg/agent.
type Runner interface {
	RunAgent(ctx context.Context, inv Invocation) (string, error)
}

// Run carries the per-run inputs into Execute.
type Run struct {
	Plan      *plan.ExecutionPlan
	Query     string
	SessionID string
	History   []plan.HistoryEntry
	MaxDepth  int
	Tracker   *tokens.Tracker
}

// agentResult is what one agent run reports back for the barrier merge.
type agentResult struct {
	agentID      string
	output       string
	trace        []TraceEntry
	conversation ConversationEntry
}

// Scheduler owns the global agent semaphore. One scheduler serves every
// in-flight run, so the concurrency cap holds across runs.
type Scheduler struct {
	runner       Runner
	sem          chan struct{}
	broker       *events.Broker
	contextLimit int
	logger       *slog.Logger
}

func New(runner Runner, maxParallel, contextLimit int, broker *events.Broker) *Scheduler {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Scheduler{
		runner:       runner,
		sem:          make(chan struct{}, maxParallel),
		broker:       broker,
		contextLimit: contextLimit,
		logger:       slog.Default().With("component", "scheduler"),
	}
}

// Execute runs the plan to completion. Individual agent failures become
// error-string outputs and the run continues; only cancellation aborts.
// The returned state is valid (with a partial trace) even on error.
func (s *Scheduler) Execute(ctx context.Context, run Run) (*ExecutionState, error) {
	p := run.Plan
	layers := plan.ExecutionLayers(p)

	agentToLayer := make(map[string]int, len(p.Agents))
	for layerIdx, layer := range layers {
		for _, idx := range layer {
			agentToLayer[p.Agents[idx].ID()] = layerIdx
		}
	}
	state := newExecutionState(run.Query, run.SessionID, len(layers), agentToLayer)

	if err := ctx.Err(); err != nil {
		return state, err
	}

	s.broker.Publish(events.TraceEvent{
		SessionID: run.SessionID,
		Status:    events.StatusRunStarted,
	})
	s.logger.Info("Executing plan",
		"session_id", run.SessionID,
		"agents", len(p.Agents),
		"layers", len(layers),
		"depth", p.Depth)

	for layerIdx, layer := range layers {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		results := make([]agentResult, len(layer))
		if len(layer) == 1 {
			// Single agent: run directly in the caller's context.
			results[0] = s.runOne(ctx, run, state, layer[0], layerIdx, len(layers))
		} else {
			var eg errgroup.Group
			for i, idx := range layer {
				if err := ctx.Err(); err != nil {
					return state, err
				}
				eg.Go(func() error {
					results[i] = s.runOne(ctx, run, state, idx, layerIdx, len(layers))
					return nil
				})
			}
			// Layer barrier: nothing in the next layer starts until every
			// agent here has produced an output or a failure.
			_ = eg.Wait()
		}

		if err := ctx.Err(); err != nil {
			return state, err
		}
		state.mergeLayer(layerIdx, results)
	}

	lastID := p.LastAgentID()
	if out, ok := state.AgentOutputs[lastID]; ok && out != "" {
		state.FinalOutput = out
	} else {
		state.FinalOutput = noFinalOutput
	}

	s.broker.Publish(events.TraceEvent{
		SessionID:    run.SessionID,
		Status:       events.StatusRunCompleted,
		Layer:        len(layers) - 1,
		OutputLength: len(state.FinalOutput),
	})
	s.logger.Info("Plan executed",
		"session_id", run.SessionID,
		"layers", len(layers),
		"elapsed", time.Since(state.StartTime))
	return state, nil
}

// runOne executes a single agent under a semaphore permit, which is held for
// the whole invocation including LLM and tool round-trips.
func (s *Scheduler) runOne(ctx context.Context, run Run, state *ExecutionState, idx, layerIdx, totalLayers int) agentResult {
	spec := run.Plan.Agents[idx]
	agentID := spec.ID()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return s.failureResult(run, spec, layerIdx, ctx.Err().Error(), "")
	}
	defer func() { <-s.sem }()

	depIDs := make([]string, 0, len(spec.DependsOn))
	for _, dep := range spec.DependsOn {
		depIDs = append(depIDs, run.Plan.Agents[dep].ID())
	}
	depContext := dependencyContext(state, depIDs)

	started := time.Now()
	s.broker.Publish(events.TraceEvent{
		SessionID: run.SessionID,
		AgentID:   agentID,
		Role:      spec.Role,
		Layer:     layerIdx,
		Status:    events.StatusStarted,
	})

	output, err := s.runner.RunAgent(ctx, Invocation{
		AgentID:     agentID,
		Role:        spec.Role,
		Task:        spec.Task,
		DepContext:  depContext,
		Query:       run.Query,
		Layer:       layerIdx,
		TotalLayers: totalLayers,
		Position:    idx,
		TotalAgents: len(run.Plan.Agents),
		History:     run.History,
		Depth:       run.Plan.Depth,
		MaxDepth:    run.MaxDepth,
		CanDelegate: spec.CanDelegate,
		SessionID:   run.SessionID,
		Tracker:     run.Tracker,
	})
	if err != nil {
		s.logger.Warn("Agent failed",
			"session_id", run.SessionID, "agent_id", agentID, "error", err)
		s.broker.Publish(events.TraceEvent{
			SessionID: run.SessionID,
			AgentID:   agentID,
			Role:      spec.Role,
			Layer:     layerIdx,
			Status:    events.StatusFailed,
			Error:     err.Error(),
		})
		res := s.failureResult(run, spec, layerIdx, err.Error(), depContext)
		res.trace = append([]TraceEntry{{
			AgentID:   agentID,
			Role:      spec.Role,
			Layer:     layerIdx,
			Timestamp: started,
			Status:    events.StatusStarted,
		}}, res.trace...)
		return res
	}

	s.broker.Publish(events.TraceEvent{
		SessionID:    run.SessionID,
		AgentID:      agentID,
		Role:         spec.Role,
		Layer:        layerIdx,
		Status:       events.StatusCompleted,
		OutputLength: len(output),
	})
	return agentResult{
		agentID: agentID,
		output:  output,
		trace: []TraceEntry{
			{AgentID: agentID, Role: spec.Role, Layer: layerIdx, Timestamp: started, Status: events.StatusStarted},
			{AgentID: agentID, Role: spec.Role, Layer: layerIdx, Timestamp: time.Now(), Status: events.StatusCompleted, OutputLength: len(output)},
		},
		conversation: ConversationEntry{
			AgentID:      agentID,
			Role:         spec.Role,
			Task:         spec.Task,
			InputContext: clipForLog(depContext, s.contextLimit),
			Output:       clipForLog(output, s.contextLimit),
			Layer:        layerIdx,
			Timestamp:    time.Now(),
		},
	}
}

// failureResult records an agent failure as an "Error: ..." output so
// downstream agents can still run and report the partial failure.
func (s *Scheduler) failureResult(run Run, spec plan.AgentSpec, layerIdx int, message, depContext string) agentResult {
	agentID := spec.ID()
	output := "Error: " + message
	return agentResult{
		agentID: agentID,
		output:  output,
		trace: []TraceEntry{
			{AgentID: agentID, Role: spec.Role, Layer: layerIdx, Timestamp: time.Now(), Status: events.StatusFailed, Error: message},
		},
		conversation: ConversationEntry{
			AgentID:      agentID,
			Role:         spec.Role,
			Task:         spec.Task,
			InputContext: clipForLog(depContext, s.contextLimit),
			Output:       output,
			Layer:        layerIdx,
			Timestamp:    time.Now(),
		},
	}
}
