// Package scheduler executes a validated plan layer by layer: parallel
// fan-out inside a layer under a global concurrency cap, a hard barrier
// between layers, and dependency-output propagation into each agent's
// context.
package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// noOutputPlaceholder stands in for a missing or empty dependency output.
// Diagnostic for the downstream agent, not fatal.
const noOutputPlaceholder = "(no output from previous agent)"

// noFinalOutput is returned when the last agent produced nothing at all.
const noFinalOutput = "No output generated"

// TraceEntry is one event of the execution trace.
type TraceEntry struct {
	AgentID      string    `json:"agent_id"`
	Role         string    `json:"role"`
	Layer        int       `json:"layer"`
	Timestamp    time.Time `json:"timestamp"`
	Status       string    `json:"status"`
	OutputLength int       `json:"output_length,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// ConversationEntry records one agent's full exchange for the run log.
type ConversationEntry struct {
	AgentID      string    `json:"agent_id"`
	Role         string    `json:"role"`
	Task         string    `json:"task"`
	InputContext string    `json:"input_context"`
	Output       string    `json:"output"`
	Layer        int       `json:"layer"`
	Timestamp    time.Time `json:"timestamp"`
}

// ExecutionState is the shared record threaded through one run. The
// scheduler merges into it only between layer barriers, so no lock is
// needed: concurrent agents report through result values, never directly.
type ExecutionState struct {
	Query           string                  `json:"query"`
	SessionID       string                  `json:"session_id"`
	StartTime       time.Time               `json:"start_time"`
	AgentOutputs    map[string]string       `json:"agent_outputs"`
	ExecutionTrace  []TraceEntry            `json:"execution_trace"`
	ConversationLog []ConversationEntry     `json:"conversation_log"`
	CurrentLayer    int                     `json:"current_layer"`
	TotalLayers     int                     `json:"total_layers"`
	AgentToLayer    map[string]int          `json:"agent_to_layer"`
	FinalOutput     string                  `json:"final_output"`
}

func newExecutionState(query, sessionID string, totalLayers int, agentToLayer map[string]int) *ExecutionState {
	return &ExecutionState{
		Query:        query,
		SessionID:    sessionID,
		StartTime:    time.Now(),
		AgentOutputs: make(map[string]string),
		TotalLayers:  totalLayers,
		AgentToLayer: agentToLayer,
	}
}

// mergeLayer folds one layer's results in. CurrentLayer is a monotonic
// maximum; output keys are disjoint by construction.
func (s *ExecutionState) mergeLayer(layer int, results []agentResult) {
	if layer > s.CurrentLayer {
		s.CurrentLayer = layer
	}
	for _, r := range results {
		s.AgentOutputs[r.agentID] = r.output
		s.ExecutionTrace = append(s.ExecutionTrace, r.trace...)
		s.ConversationLog = append(s.ConversationLog, r.conversation)
	}
}

// dependencyContext concatenates the listed dependencies' outputs in order
// as "From <agent_id>:" blocks separated by blank lines.
func dependencyContext(state *ExecutionState, depIDs []string) string {
	if len(depIDs) == 0 {
		return ""
	}
	blocks := make([]string, 0, len(depIDs))
	for _, id := range depIDs {
		output := state.AgentOutputs[id]
		if strings.TrimSpace(output) == "" {
			output = noOutputPlaceholder
		}
		blocks = append(blocks, fmt.Sprintf("From %s:\n%s", id, output))
	}
	return strings.Join(blocks, "\n\n")
}

// clipForLog truncates conversation log fields to the configured limit.
func clipForLog(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "... [truncated]"
}
