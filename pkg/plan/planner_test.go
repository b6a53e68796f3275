package plan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyphonic-ai/maestro/pkg/llm"
	"github.com/polyphonic-ai/maestro/pkg/tokens"
)

// fakeLLM returns canned responses and records the requests it saw.
type fakeLLM struct {
	response *llm.Response
	err      error
	requests []llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func TestPlanner_ValidPlan(t *testing.T) {
	fake := &fakeLLM{response: &llm.Response{
		Text:  `{"description": "d", "agents": [{"role": "analyzer", "task": "respond", "depends_on": []}]}`,
		Usage: tokens.Usage{Prompt: 100, Completion: 40, Total: 140},
	}}
	tracker := tokens.NewTracker()
	p := NewPlanner(fake, tracker)

	got, err := p.Plan(context.Background(), "hi", nil, 0, 1)
	require.NoError(t, err)
	require.Len(t, got.Agents, 1)
	assert.Equal(t, "analyzer", got.Agents[0].Role)

	// Planner usage lands in the planning bucket.
	assert.Equal(t, 140, tracker.Summary().Planning.Total)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.True(t, req.JSONOnly)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.2, *req.Temperature, 0.001)
	assert.Empty(t, req.Tools, "planning never binds tools")
}

func TestPlanner_RejectedRolesSurfaceInPlan(t *testing.T) {
	fake := &fakeLLM{response: &llm.Response{
		Text: `{"agents": [
			{"role": "architect", "task": "design", "depends_on": []},
			{"role": "analyzer", "task": "respond", "depends_on": []}
		]}`,
	}}
	p := NewPlanner(fake, tokens.NewTracker())

	got, err := p.Plan(context.Background(), "hi", nil, 0, 1)
	require.NoError(t, err)
	require.Len(t, got.Agents, 1)
	assert.Equal(t, []string{"architect"}, got.RejectedRoles,
		"dropped roles stay visible in the plan record")
}

func TestPlanner_LLMErrorFallsBack(t *testing.T) {
	fake := &fakeLLM{err: errors.New("connection refused")}
	p := NewPlanner(fake, tokens.NewTracker())

	got, err := p.Plan(context.Background(), "what is the latest Go release", nil, 0, 1)
	require.NoError(t, err)
	require.Len(t, got.Agents, 2)
	assert.Equal(t, "researcher", got.Agents[0].Role)
	assert.Equal(t, "synthesizer", got.Agents[1].Role)
}

func TestPlanner_HistoryInUserTurn(t *testing.T) {
	fake := &fakeLLM{response: &llm.Response{
		Text: `{"agents": [{"role": "analyzer", "task": "t", "depends_on": []}]}`,
	}}
	p := NewPlanner(fake, tokens.NewTracker())

	history := []HistoryEntry{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	_, err := p.Plan(context.Background(), "follow-up", history, 0, 2)
	require.NoError(t, err)

	user := fake.requests[0].Messages[1].Content
	assert.Contains(t, user, "earlier question")
	assert.Contains(t, user, "earlier answer")
	assert.Contains(t, user, "follow-up")
}

func TestPlanner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPlanner(&fakeLLM{}, tokens.NewTracker())
	_, err := p.Plan(ctx, "hi", nil, 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
