package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyphonic-ai/maestro/pkg/llm"
	"github.com/polyphonic-ai/maestro/pkg/scheduler"
	"github.com/polyphonic-ai/maestro/pkg/tokens"
)

type fakeDelegator struct {
	subtasks []Subtask
	outputs  []SubtaskOutput
	err      error
	calls    int
}

func (f *fakeDelegator) RunSubtasks(_ context.Context, _ scheduler.Invocation, subtasks []Subtask) ([]SubtaskOutput, error) {
	f.calls++
	f.subtasks = subtasks
	return f.outputs, f.err
}

const delegationOutput = `{
  "needs_delegation": true,
  "subtasks": [
    {"role": "researcher", "task": "Find recent Go releases"},
    {"role": "wizard", "task": "Cast a spell"},
    {"role": "analyzer", "task": "Compare the releases"}
  ]
}`

func delegatingInvocation() scheduler.Invocation {
	inv := testInvocation("coordinator")
	inv.AgentID = "coordinator_0"
	inv.CanDelegate = true
	return inv
}

func TestRunAgentDelegates(t *testing.T) {
	fake := &fakeLLM{responses: []*llm.Response{
		{Text: delegationOutput, Usage: tokens.Usage{Total: 30}},
		{Text: "Combined answer.", Usage: tokens.Usage{Total: 20}},
	}}
	deleg := &fakeDelegator{outputs: []SubtaskOutput{
		{AgentID: "researcher_0", Role: "researcher", Output: "Go 1.25 shipped in August"},
		{AgentID: "analyzer_1", Role: "analyzer", Output: "Mostly runtime work"},
	}}
	r := NewRunner(fake, nil, 4)
	r.SetDelegator(deleg)

	inv := delegatingInvocation()
	out, err := r.RunAgent(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "Combined answer.", out)

	require.Equal(t, 1, deleg.calls)
	require.Len(t, deleg.subtasks, 2, "unknown roles are dropped")
	assert.Equal(t, "researcher", deleg.subtasks[0].Role)
	assert.Equal(t, "analyzer", deleg.subtasks[1].Role)

	// The synthesis turn carries the nested outputs.
	require.Len(t, fake.requests, 2)
	synth := fake.requests[1].Messages[1].Content
	assert.Contains(t, synth, "From researcher_0 (researcher):\nGo 1.25 shipped in August")
	assert.Contains(t, synth, "From analyzer_1 (analyzer):\nMostly runtime work")

	summary := inv.Tracker.Summary()
	assert.Equal(t, 50, summary.Agents["coordinator_0"].Total)
}

func TestRunAgentDelegationAtDepthCeiling(t *testing.T) {
	fake := &fakeLLM{responses: []*llm.Response{{Text: delegationOutput}}}
	deleg := &fakeDelegator{}
	r := NewRunner(fake, nil, 4)
	r.SetDelegator(deleg)

	inv := delegatingInvocation()
	inv.Depth = 2
	inv.MaxDepth = 2

	out, err := r.RunAgent(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, delegationOutput, out, "refused delegation returns the raw output")
	assert.Zero(t, deleg.calls)
}

func TestRunAgentDelegationError(t *testing.T) {
	fake := &fakeLLM{responses: []*llm.Response{{Text: delegationOutput}}}
	deleg := &fakeDelegator{err: errors.New("nested run failed")}
	r := NewRunner(fake, nil, 4)
	r.SetDelegator(deleg)

	_, err := r.RunAgent(context.Background(), delegatingInvocation())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delegation")
}

func TestRunAgentDelegationIgnoredWithoutDelegator(t *testing.T) {
	fake := &fakeLLM{responses: []*llm.Response{{Text: delegationOutput}}}
	r := NewRunner(fake, nil, 4)

	out, err := r.RunAgent(context.Background(), delegatingInvocation())
	require.NoError(t, err)
	assert.Equal(t, delegationOutput, out)
}

func TestParseDelegation(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		want      bool
		delegates bool
	}{
		{
			name:      "bare object",
			output:    `{"needs_delegation": true, "subtasks": [{"role":"researcher","task":"x"}]}`,
			want:      true,
			delegates: true,
		},
		{
			name:      "fenced object",
			output:    "```json\n{\"needs_delegation\": true, \"subtasks\": []}\n```",
			want:      true,
			delegates: true,
		},
		{
			name:      "explicitly declined",
			output:    `{"needs_delegation": false}`,
			want:      true,
			delegates: false,
		},
		{name: "plain prose", output: "The answer is 42.", want: false},
		{
			name:   "mentions the key without an object",
			output: "I considered whether needs_delegation applies here, but no.",
			want:   false,
		},
		{
			name:   "broken json",
			output: `{"needs_delegation": true, "subtasks": [`,
			want:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, ok := parseDelegation(tt.output)
			assert.Equal(t, tt.want, ok)
			if ok {
				assert.Equal(t, tt.delegates, req.NeedsDelegation)
			}
		})
	}
}

func TestValidSubtasksCaps(t *testing.T) {
	var subtasks []Subtask
	for i := 0; i < 8; i++ {
		subtasks = append(subtasks, Subtask{Role: "researcher", Task: "t"})
	}
	subtasks = append(subtasks, Subtask{Role: "researcher", Task: "   "})

	valid := validSubtasks(subtasks)
	assert.Len(t, valid, maxSubtasks)
}
