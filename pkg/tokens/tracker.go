// Package tokens aggregates LLM token usage across one run: a planning
// bucket plus one bucket per agent id.
package tokens

import "sync"

// Usage is a componentwise-additive token count.
type Usage struct {
	Prompt     int `json:"prompt_tokens"`
	Completion int `json:"completion_tokens"`
	Total      int `json:"total_tokens"`
}

// Add returns the componentwise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		Prompt:     u.Prompt + other.Prompt,
		Completion: u.Completion + other.Completion,
		Total:      u.Total + other.Total,
	}
}

// AgentUsage is one agent's accumulated usage with its call count.
type AgentUsage struct {
	Usage
	Calls int `json:"calls"`
}

// Summary is the read-only view reported at the end of a run.
type Summary struct {
	Total    Usage                 `json:"total"`
	Planning Usage                 `json:"planning"`
	Agents   map[string]AgentUsage `json:"agents"`
}

// Tracker accumulates usage. Safe for concurrent use; agents in one layer
// record in parallel.
type Tracker struct {
	mu       sync.Mutex
	planning Usage
	agents   map[string]AgentUsage
}

func NewTracker() *Tracker {
	return &Tracker{agents: make(map[string]AgentUsage)}
}

// RecordPlanning attributes usage to the planning bucket.
func (t *Tracker) RecordPlanning(u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.planning = t.planning.Add(u)
}

// RecordAgent attributes usage to one agent id.
func (t *Tracker) RecordAgent(agentID string, u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a := t.agents[agentID]
	a.Usage = a.Usage.Add(u)
	a.Calls++
	t.agents[agentID] = a
}

// Summary snapshots the tracker. Total equals planning plus the sum of all
// agent buckets.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{
		Planning: t.planning,
		Total:    t.planning,
		Agents:   make(map[string]AgentUsage, len(t.agents)),
	}
	for id, a := range t.agents {
		s.Agents[id] = a
		s.Total = s.Total.Add(a.Usage)
	}
	return s
}
