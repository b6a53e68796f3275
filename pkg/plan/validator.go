package plan

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/polyphonic-ai/maestro/pkg/roles"
)

// Agent caps per recursion level.
const (
	maxAgentsRoot   = 10
	maxAgentsNested = 5
)

// aggregation roles get the synthesizer auto-fix; they never feed other
// aggregators' dependency lists.
func isAggregator(role string) bool {
	return role == "synthesizer" || role == "writer"
}

func feedsAggregators(role string) bool {
	return !isAggregator(role) && role != "critic"
}

// ValidationResult is the validator's outcome: either a usable plan or the
// deterministic fallback, with any rejected roles recorded for the trace.
type ValidationResult struct {
	Plan          *ExecutionPlan
	Fallback      bool
	RejectedRoles []string
}

// Validate turns the planner's raw output into a validated ExecutionPlan,
// falling back deterministically when nothing usable survives.
func Validate(raw, query string, depth int) ValidationResult {
	logger := slog.Default().With("component", "plan.validator")

	obj, err := extractJSON(raw)
	if err != nil {
		logger.Warn("Plan output unparseable, using fallback", "error", err)
		return fallbackResult(query, depth, nil)
	}

	rawAgents, ok := obj["agents"].([]any)
	if !ok || len(rawAgents) == 0 {
		logger.Warn("Plan missing agents array, using fallback")
		return fallbackResult(query, depth, nil)
	}

	agents, rejected := normalizeAgents(rawAgents)
	if len(rejected) > 0 {
		logger.Warn("Dropped agents with unknown roles", "roles", rejected)
	}
	if len(agents) == 0 {
		return fallbackResult(query, depth, rejected)
	}

	limit := maxAgentsRoot
	if depth > 0 {
		limit = maxAgentsNested
	}
	if len(agents) > limit {
		logger.Warn("Plan truncated", "proposed", len(agents), "cap", limit)
		agents = agents[:limit]
		clampDeps(agents)
	}

	autoFixAggregators(agents)

	if !depsValid(agents) {
		agents = reshapeAggregators(agents)
		if !depsValid(agents) {
			logger.Warn("Plan has forward or self dependencies after reshape, using fallback")
			return fallbackResult(query, depth, rejected)
		}
	}

	description, _ := obj["description"].(string)
	p := &ExecutionPlan{
		Description: description,
		Agents:      agents,
		Depth:       depth,
	}
	return ValidationResult{Plan: p, RejectedRoles: rejected}
}

// normalizeAgents lowercases roles, drops entries with unknown roles or
// missing fields, coerces depends_on and reindexes the survivors.
func normalizeAgents(rawAgents []any) (agents []AgentSpec, rejected []string) {
	for _, entry := range rawAgents {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		roleName, _ := m["role"].(string)
		task, _ := m["task"].(string)
		roleName = strings.ToLower(strings.TrimSpace(roleName))
		if roleName == "" || strings.TrimSpace(task) == "" {
			continue
		}
		role, ok := roles.Get(roleName)
		if !ok {
			rejected = append(rejected, roleName)
			continue
		}
		agents = append(agents, AgentSpec{
			Index:       len(agents),
			Role:        role.Name,
			Task:        task,
			DependsOn:   coerceDeps(m["depends_on"]),
			CanDelegate: role.CanDelegate,
		})
	}
	return agents, rejected
}

// coerceDeps accepts a list, a scalar, or numeric strings.
func coerceDeps(v any) []int {
	var deps []int
	appendDep := func(item any) {
		switch d := item.(type) {
		case float64:
			deps = append(deps, int(d))
		case int:
			deps = append(deps, d)
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(d)); err == nil {
				deps = append(deps, n)
			}
		}
	}
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			appendDep(item)
		}
	case nil:
	default:
		appendDep(list)
	}
	return deps
}

// clampDeps drops dependencies that point past the truncated plan.
func clampDeps(agents []AgentSpec) {
	n := len(agents)
	for i := range agents {
		kept := agents[i].DependsOn[:0]
		for _, dep := range agents[i].DependsOn {
			if dep < n {
				kept = append(kept, dep)
			}
		}
		agents[i].DependsOn = kept
	}
}

// autoFixAggregators gives every dependency-less synthesizer/writer past
// position 0 a dependency on all prior non-aggregation agents.
func autoFixAggregators(agents []AgentSpec) {
	for i := range agents {
		if i == 0 || !isAggregator(agents[i].Role) || len(agents[i].DependsOn) > 0 {
			continue
		}
		for j := 0; j < i; j++ {
			if feedsAggregators(agents[j].Role) {
				agents[i].DependsOn = append(agents[i].DependsOn, j)
			}
		}
	}
}

func depsValid(agents []AgentSpec) bool {
	for i, a := range agents {
		for _, dep := range a.DependsOn {
			if dep < 0 || dep >= i {
				return false
			}
		}
	}
	return true
}

// reshapeAggregators lifts standalone synthesizers to the end of the plan,
// depending on every earlier agent, and remaps the remaining indices.
func reshapeAggregators(agents []AgentSpec) []AgentSpec {
	var kept, lifted []AgentSpec
	remap := make(map[int]int, len(agents))
	for _, a := range agents {
		if a.Role == "synthesizer" && len(a.DependsOn) == 0 {
			lifted = append(lifted, a)
			continue
		}
		remap[a.Index] = len(kept)
		kept = append(kept, a)
	}
	if len(lifted) == 0 {
		return agents
	}

	out := make([]AgentSpec, 0, len(agents))
	for _, a := range kept {
		deps := make([]int, 0, len(a.DependsOn))
		for _, dep := range a.DependsOn {
			if mapped, ok := remap[dep]; ok {
				deps = append(deps, mapped)
			}
		}
		a.Index = len(out)
		a.DependsOn = deps
		out = append(out, a)
	}
	for _, a := range lifted {
		deps := make([]int, len(out))
		for i := range out {
			deps[i] = i
		}
		a.Index = len(out)
		a.DependsOn = deps
		out = append(out, a)
	}
	return out
}

func fallbackResult(query string, depth int, rejected []string) ValidationResult {
	return ValidationResult{
		Plan:          FallbackPlan(query, depth),
		Fallback:      true,
		RejectedRoles: rejected,
	}
}
