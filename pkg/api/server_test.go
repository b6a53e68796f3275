package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyphonic-ai/maestro/pkg/config"
	"github.com/polyphonic-ai/maestro/pkg/events"
	"github.com/polyphonic-ai/maestro/pkg/llm"
	"github.com/polyphonic-ai/maestro/pkg/notify"
	"github.com/polyphonic-ai/maestro/pkg/orchestrator"
	"github.com/polyphonic-ai/maestro/pkg/tokens"
)

type fakeLLM struct {
	mu       sync.Mutex
	fn       func(req llm.Request) (*llm.Response, error)
	requests []llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.fn(req)
}

const simplePlan = `{
  "description": "draft then polish",
  "agents": [
    {"role": "writer", "task": "Draft the answer", "depends_on": []},
    {"role": "synthesizer", "task": "Polish the draft", "depends_on": [0]}
  ]
}`

func answeringLLM() *fakeLLM {
	return &fakeLLM{fn: func(req llm.Request) (*llm.Response, error) {
		if req.JSONOnly {
			return &llm.Response{Text: simplePlan, Usage: tokens.Usage{Total: 50}}, nil
		}
		switch req.Metadata["agent_id"] {
		case "writer_0":
			return &llm.Response{Text: "rough draft", Usage: tokens.Usage{Total: 20}}, nil
		default:
			return &llm.Response{Text: "the final answer", Usage: tokens.Usage{Total: 10}}, nil
		}
	}}
}

func testServer(fake *fakeLLM, notifier *notify.Service) *Server {
	cfg := &config.Config{
		MaxParallelAgents: 2,
		MaxDepthCeiling:   5,
		AgentContextLimit: 2000,
		AgentHistoryLimit: 4,
		RequestTimeout:    time.Second,
		GatewayURL:        "http://127.0.0.1:1",
	}
	svc := orchestrator.New(cfg, fake, events.NewBroker())
	return NewServer(svc, nil, notifier)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestQueryEndpoint(t *testing.T) {
	s := testServer(answeringLLM(), nil)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/queries", queryRequest{Query: "Explain Go generics"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		FinalOutput string `json:"final_output"`
		SessionID   string `json:"session_id"`
		AgentCount  int    `json:"agent_count"`
		LayerCount  int    `json:"layer_count"`
		DurationMS  *int64 `json:"duration_ms"`
		TokenUsage  struct {
			Total tokens.Usage `json:"total"`
		} `json:"token_usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "the final answer", resp.FinalOutput)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, 2, resp.AgentCount)
	assert.Equal(t, 2, resp.LayerCount)
	require.NotNil(t, resp.DurationMS)
	assert.Equal(t, 80, resp.TokenUsage.Total.Total)
}

func TestQueryValidation(t *testing.T) {
	s := testServer(answeringLLM(), nil)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/queries", queryRequest{Query: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuerySeedsFollowUpHistory(t *testing.T) {
	fake := answeringLLM()
	s := testServer(fake, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/queries",
		queryRequest{Query: "first question", SessionID: "sess-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, s, http.MethodPost, "/api/v1/queries",
		queryRequest{Query: "follow-up question", SessionID: "sess-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	// The second planning call carries the first exchange.
	var planningUsers []string
	for _, r := range fake.requests {
		if r.JSONOnly {
			planningUsers = append(planningUsers, r.Messages[1].Content)
		}
	}
	require.Len(t, planningUsers, 2)
	assert.NotContains(t, planningUsers[0], "Recent conversation")
	assert.Contains(t, planningUsers[1], "Recent conversation")
	assert.Contains(t, planningUsers[1], "first question")
	assert.Contains(t, planningUsers[1], "the final answer")
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(answeringLLM(), nil)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "not_configured", resp["database"])
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestSessionEndpointsRequireStore(t *testing.T) {
	s := testServer(answeringLLM(), nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/sessions"},
		{http.MethodGet, "/api/v1/sessions/sess-1"},
		{http.MethodGet, "/api/v1/sessions/sess-1/messages"},
		{http.MethodDelete, "/api/v1/sessions/sess-1"},
	} {
		rec := doJSON(t, s, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestMemoryEndpoints(t *testing.T) {
	s := testServer(answeringLLM(), nil)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/queries", queryRequest{Query: "remember me"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/memory", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary memorySummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.MessageCount)
	assert.Equal(t, 1, summary.Exchanges)
	require.Len(t, summary.Preview, 2)
	assert.Equal(t, "user: remember me", summary.Preview[0])

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/memory", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cleared map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cleared))
	assert.Equal(t, 2, cleared["cleared"])

	rec = doJSON(t, s, http.MethodGet, "/api/v1/memory", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Zero(t, summary.MessageCount)
}

func TestWSStreamsTraceEvents(t *testing.T) {
	s := testServer(answeringLLM(), nil)
	srv := httptest.NewServer(s.echo)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return s.svc.Broker().SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond, "subscriber registered")

	rec := doJSON(t, s, http.MethodPost, "/api/v1/queries", queryRequest{Query: "stream this"})
	require.Equal(t, http.StatusOK, rec.Code)

	var statuses []string
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var ev events.TraceEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		statuses = append(statuses, ev.Status)
		if ev.Status == events.StatusRunCompleted {
			break
		}
	}
	assert.Contains(t, statuses, events.StatusRunStarted)
	assert.Contains(t, statuses, events.StatusStarted)
	assert.Contains(t, statuses, events.StatusCompleted)
}

func TestQueryTriggersNotification(t *testing.T) {
	var mu sync.Mutex
	var captured string
	slackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		mu.Lock()
		captured = r.FormValue("blocks")
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer slackSrv.Close()

	notifier := notify.NewServiceWithAPIURL("xoxb-test", "C123", slackSrv.URL+"/")
	s := testServer(answeringLLM(), notifier)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/queries", queryRequest{Query: "notify me"})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return strings.Contains(captured, "the final answer")
	}, 3*time.Second, 20*time.Millisecond, "notification delivered asynchronously")
}
