package plan

import "strings"

// Lexical signals for the depth heuristic.
var (
	multiStepMarkers = []string{
		"plan", "design", "create", "build", "develop", "comprehensive",
		"complete", "detailed", "step-by-step", "workflow", "process",
		"strategy", "roadmap", "architecture", "system",
	}
	analysisMarkers = []string{
		"compare", "analyze", "evaluate", "assess", "review",
		"investigate", "research", "study", "examine",
	}
)

// MaxDepth scores the query on lexical signals and maps the score to a
// delegation depth budget in [1,5].
func MaxDepth(query string) int {
	lower := strings.ToLower(query)
	var score float64

	for _, marker := range multiStepMarkers {
		score += 2 * float64(strings.Count(lower, marker))
	}
	for _, marker := range analysisMarkers {
		score += 1.5 * float64(strings.Count(lower, marker))
	}
	score += float64(strings.Count(lower, " and "))

	words := len(strings.Fields(query))
	switch {
	case words > 20:
		score += 2
	case words > 10:
		score++
	}

	if q := strings.Count(query, "?"); q > 1 {
		score += float64(q)
	}

	switch {
	case score >= 8:
		return 5
	case score >= 5:
		return 4
	case score >= 3:
		return 3
	case score >= 1:
		return 2
	default:
		return 1
	}
}
