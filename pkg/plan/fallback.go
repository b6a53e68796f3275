package plan

import (
	"strconv"
	"strings"
	"time"
)

// recencyMarkers flag queries that need fresh information; such fallbacks get
// a researcher in front of the synthesizer. The current year is added at
// runtime.
var recencyMarkers = []string{"current", "latest", "today", "news", "weather", "now"}

// FallbackPlan is the deterministic plan used whenever the planner's output
// cannot be salvaged.
func FallbackPlan(query string, depth int) *ExecutionPlan {
	lower := strings.ToLower(query)
	markers := append([]string{strconv.Itoa(time.Now().Year())}, recencyMarkers...)
	for _, marker := range markers {
		if !strings.Contains(lower, marker) {
			continue
		}
		return &ExecutionPlan{
			Description: "Fallback: research and synthesize",
			Depth:       depth,
			Agents: []AgentSpec{
				{Index: 0, Role: "researcher", Task: "Research current information about: " + query},
				{Index: 1, Role: "synthesizer", Task: "Synthesize the research into a direct answer to: " + query, DependsOn: []int{0}},
			},
		}
	}
	return &ExecutionPlan{
		Description: "Fallback: direct analysis",
		Depth:       depth,
		Agents: []AgentSpec{
			{Index: 0, Role: "analyzer", Task: "Analyze and respond to: " + query},
		},
	}
}
