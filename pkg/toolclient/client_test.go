package toolclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyphonic-ai/maestro/pkg/llm"
	"github.com/polyphonic-ai/maestro/pkg/roles"
)

// fakeGateway serves the two endpoints the client consumes.
func fakeGateway(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var executeCalls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tools", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total_tools":3,"tools":[
			{"server":"websearch","name":"search","description":"web search","parameters":{"query":{"type":"string"},"limit":{"type":"integer","default":10}}},
			{"server":"python","name":"execute","description":"run code","parameters":{"code":{"type":"string"}}},
			{"server":"memory","name":"recall","description":"recall","parameters":{"key":{"type":"any"}}}
		],"by_server":{"websearch":1,"python":1,"memory":1}}`))
	})
	mux.HandleFunc("POST /execute", func(w http.ResponseWriter, r *http.Request) {
		executeCalls.Add(1)
		var req struct {
			Server string         `json:"server"`
			Tool   string         `json:"tool"`
			Params map[string]any `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		switch req.Server {
		case "broken":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"detail":"circuit breaker for broken is OPEN"}`))
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"result":  "result for " + req.Tool,
			})
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &executeCalls
}

func TestToolsForRole(t *testing.T) {
	gw, _ := fakeGateway(t)
	c := New(gw.URL, 5*time.Second)

	researcher, ok := roles.Get("researcher")
	require.True(t, ok)

	schemas, err := c.ToolsForRole(context.Background(), researcher)
	require.NoError(t, err)

	// researcher reaches websearch and memory, not python.
	names := make([]string, 0, len(schemas))
	for _, s := range schemas {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{"websearch__search", "memory__recall"}, names)

	var search llm.ToolSchema
	for _, s := range schemas {
		if s.Name == "websearch__search" {
			search = s
		}
	}
	props := search.Parameters["properties"].(map[string]any)
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "limit")
	// Only the defaultless parameter is required.
	assert.Equal(t, []string{"query"}, search.Parameters["required"])
}

func TestToolsCache(t *testing.T) {
	gw, _ := fakeGateway(t)
	c := New(gw.URL, 5*time.Second)
	coder, _ := roles.Get("coder")

	_, err := c.ToolsForRole(context.Background(), coder)
	require.NoError(t, err)
	fetchedAt := c.fetchedAt

	_, err = c.ToolsForRole(context.Background(), coder)
	require.NoError(t, err)
	assert.Equal(t, fetchedAt, c.fetchedAt, "second call served from cache")
}

func TestExecuteCall(t *testing.T) {
	gw, calls := fakeGateway(t)
	c := New(gw.URL, 5*time.Second)
	researcher, _ := roles.Get("researcher")

	result := c.ExecuteCall(context.Background(), researcher, llm.ToolCall{
		ID:        "call_1",
		Name:      "websearch__search",
		Arguments: []byte(`{"query":"rust"}`),
	})
	assert.Equal(t, "result for search", result)
	assert.Equal(t, int64(1), calls.Load())
}

func TestExecuteCallErrorsBecomeStrings(t *testing.T) {
	gw, _ := fakeGateway(t)
	c := New(gw.URL, 5*time.Second)
	researcher, _ := roles.Get("researcher")

	tests := []struct {
		name string
		role *roles.Role
		call llm.ToolCall
		want string
	}{
		{
			name: "disallowed backend",
			role: researcher,
			call: llm.ToolCall{Name: "python__execute", Arguments: []byte(`{}`)},
			want: "may not call backend python",
		},
		{
			name: "malformed tool name",
			role: researcher,
			call: llm.ToolCall{Name: "search", Arguments: []byte(`{}`)},
			want: "malformed tool name",
		},
		{
			name: "bad arguments",
			role: researcher,
			call: llm.ToolCall{Name: "websearch__search", Arguments: []byte(`not json`)},
			want: "unparseable arguments",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := c.ExecuteCall(context.Background(), tt.role, tt.call)
			assert.Contains(t, out, tt.want)
		})
	}

	// A 503 from the gateway comes back as a tool-error string, not a panic
	// or an empty result.
	out := c.Execute(context.Background(), "broken", "anything", nil)
	assert.Contains(t, out, "Tool error")
	assert.Contains(t, out, "OPEN")
}
