package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_CleanPlan(t *testing.T) {
	raw := `{"description": "Compare languages", "agents": [
		{"role": "researcher", "task": "Research Python", "depends_on": []},
		{"role": "researcher", "task": "Research Rust", "depends_on": []},
		{"role": "synthesizer", "task": "Compare findings", "depends_on": [0, 1]}
	]}`

	result := Validate(raw, "Compare Python and Rust", 0)
	require.False(t, result.Fallback)
	require.Len(t, result.Plan.Agents, 3)
	assert.Equal(t, "Compare languages", result.Plan.Description)
	assert.Equal(t, []int{0, 1}, result.Plan.Agents[2].DependsOn)
	assert.Equal(t, "synthesizer_2", result.Plan.LastAgentID())
}

func TestValidate_JSONRepair(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "markdown fences",
			raw:  "Here is the plan:\n```json\n{\"agents\": [{\"role\": \"analyzer\", \"task\": \"t\", \"depends_on\": []}]}\n```",
		},
		{
			name: "surrounding prose",
			raw:  `Sure! {"agents": [{"role": "analyzer", "task": "t", "depends_on": []}]} Hope that helps.`,
		},
		{
			name: "single quotes",
			raw:  `{'agents': [{'role': 'analyzer', 'task': 't', 'depends_on': []}]}`,
		},
		{
			name: "trailing commas",
			raw:  `{"agents": [{"role": "analyzer", "task": "t", "depends_on": [],},]}`,
		},
		{
			name: "missing comma between objects",
			raw:  `{"agents": [{"role": "analyzer", "task": "a", "depends_on": []} {"role": "synthesizer", "task": "s", "depends_on": [0]}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Validate(tt.raw, "query", 0)
			assert.False(t, result.Fallback, "repair should recover the plan")
			assert.NotEmpty(t, result.Plan.Agents)
		})
	}
}

func TestValidate_UnknownRoleDropped(t *testing.T) {
	// S6: a lone unknown role leaves zero agents, triggering the fallback.
	raw := `{"agents": [{"role": "architect", "task": "design it", "depends_on": []}]}`

	result := Validate(raw, "design a system", 0)
	assert.True(t, result.Fallback)
	assert.Equal(t, []string{"architect"}, result.RejectedRoles)
	require.Len(t, result.Plan.Agents, 1)
	assert.Equal(t, "analyzer", result.Plan.Agents[0].Role)
}

func TestValidate_MixedRolesKeepsKnown(t *testing.T) {
	raw := `{"agents": [
		{"role": "architect", "task": "design", "depends_on": []},
		{"role": "Researcher", "task": "research", "depends_on": []}
	]}`

	result := Validate(raw, "q", 0)
	require.False(t, result.Fallback)
	require.Len(t, result.Plan.Agents, 1)
	assert.Equal(t, "researcher", result.Plan.Agents[0].Role)
	assert.Equal(t, 0, result.Plan.Agents[0].Index)
	assert.Equal(t, []string{"architect"}, result.RejectedRoles)
}

func TestValidate_DependsOnCoercion(t *testing.T) {
	raw := `{"agents": [
		{"role": "researcher", "task": "a", "depends_on": []},
		{"role": "analyzer", "task": "b", "depends_on": "0"},
		{"role": "synthesizer", "task": "c", "depends_on": ["0", 1]}
	]}`

	result := Validate(raw, "q", 0)
	require.False(t, result.Fallback)
	assert.Equal(t, []int{0}, result.Plan.Agents[1].DependsOn)
	assert.Equal(t, []int{0, 1}, result.Plan.Agents[2].DependsOn)
}

func TestValidate_AgentCap(t *testing.T) {
	agents := `{"role": "researcher", "task": "r", "depends_on": []}`
	raw := `{"agents": [` + agents
	for i := 1; i < 14; i++ {
		raw += `,` + agents
	}
	raw += `]}`

	root := Validate(raw, "q", 0)
	require.False(t, root.Fallback)
	assert.Len(t, root.Plan.Agents, 10)

	nested := Validate(raw, "q", 2)
	require.False(t, nested.Fallback)
	assert.Len(t, nested.Plan.Agents, 5)
}

func TestValidate_SynthesizerAutoFix(t *testing.T) {
	raw := `{"agents": [
		{"role": "researcher", "task": "a", "depends_on": []},
		{"role": "critic", "task": "b", "depends_on": [0]},
		{"role": "synthesizer", "task": "c", "depends_on": []}
	]}`

	result := Validate(raw, "q", 0)
	require.False(t, result.Fallback)
	// Synthesizer picks up all prior non-aggregation, non-critic agents.
	assert.Equal(t, []int{0}, result.Plan.Agents[2].DependsOn)
}

func TestValidate_ForwardDependencyFallsBack(t *testing.T) {
	// S3: mutual dependency between agents 0 and 1.
	raw := `{"agents": [
		{"role": "researcher", "task": "a", "depends_on": [1]},
		{"role": "analyzer", "task": "b", "depends_on": [0]}
	]}`

	result := Validate(raw, "what is go", 0)
	assert.True(t, result.Fallback)
	require.Len(t, result.Plan.Agents, 1)
	assert.Equal(t, "analyzer", result.Plan.Agents[0].Role)
}

func TestReshapeAggregators(t *testing.T) {
	// A dependency-less synthesizer parked at position 0 gets lifted to the
	// end, depending on every remaining agent, with indices remapped.
	agents := []AgentSpec{
		{Index: 0, Role: "synthesizer", Task: "combine"},
		{Index: 1, Role: "researcher", Task: "a"},
		{Index: 2, Role: "researcher", Task: "b", DependsOn: []int{1}},
	}

	out := reshapeAggregators(agents)
	require.Len(t, out, 3)
	assert.Equal(t, "researcher", out[0].Role)
	assert.Equal(t, []int{0}, out[1].DependsOn, "kept deps remapped to new indices")
	assert.Equal(t, "synthesizer", out[2].Role)
	assert.Equal(t, []int{0, 1}, out[2].DependsOn)
	for i, a := range out {
		assert.Equal(t, i, a.Index)
	}
	assert.True(t, depsValid(out))
}

func TestValidate_Garbage(t *testing.T) {
	for _, raw := range []string{"", "not json at all", `{"agents": []}`, `{"plan": "missing agents"}`} {
		result := Validate(raw, "hello", 0)
		assert.True(t, result.Fallback, "raw=%q", raw)
	}
}

func TestFallbackPlan(t *testing.T) {
	tests := []struct {
		name  string
		query string
		roles []string
	}{
		{"recency marker", "what is the latest Go release", []string{"researcher", "synthesizer"}},
		{"weather", "weather in Oslo", []string{"researcher", "synthesizer"}},
		{"plain", "explain goroutines", []string{"analyzer"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := FallbackPlan(tt.query, 0)
			require.Len(t, p.Agents, len(tt.roles))
			for i, role := range tt.roles {
				assert.Equal(t, role, p.Agents[i].Role)
				assert.Equal(t, i, p.Agents[i].Index)
			}
			if len(tt.roles) == 2 {
				assert.Equal(t, []int{0}, p.Agents[1].DependsOn)
			}
		})
	}
}
