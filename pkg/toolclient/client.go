// Package toolclient is the orchestrator-side client for the tool gateway.
// It caches discovered tools, scopes them per role, and turns gateway errors
// into tool-result strings agents can reason about.
package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/polyphonic-ai/maestro/pkg/gateway"
	"github.com/polyphonic-ai/maestro/pkg/llm"
	"github.com/polyphonic-ai/maestro/pkg/roles"
)

// toolsCacheTTL bounds how long the discovered tool list is reused before
// the next call re-fetches it.
const toolsCacheTTL = 60 * time.Second

// toolNameSeparator joins backend and tool into the function name exposed to
// the model, e.g. "websearch__search".
const toolNameSeparator = "__"

// Client talks to one gateway. Safe for concurrent use by parallel agents.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	mu        sync.RWMutex
	tools     map[string][]gateway.ToolDescriptor
	fetchedAt time.Time
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  slog.Default().With("component", "toolclient"),
	}
}

// ToolsForRole returns the LLM tool schemas for every discovered tool whose
// backend the role is entitled to call.
func (c *Client) ToolsForRole(ctx context.Context, role *roles.Role) ([]llm.ToolSchema, error) {
	tools, err := c.cachedTools(ctx)
	if err != nil {
		return nil, err
	}

	var schemas []llm.ToolSchema
	for server, descriptors := range tools {
		if !role.AllowedServer(server) {
			continue
		}
		for _, d := range descriptors {
			schemas = append(schemas, llm.ToolSchema{
				Name:        server + toolNameSeparator + d.Name,
				Description: fmt.Sprintf("[%s] %s", server, d.Description),
				Parameters:  toJSONSchema(d.Parameters),
			})
		}
	}
	return schemas, nil
}

// Execute forwards one tool call to the gateway and renders the outcome as a
// string. Gateway failures come back as an error-describing string rather
// than an error: agents receive them as tool results and carry on.
func (c *Client) Execute(ctx context.Context, server, tool string, params map[string]any) string {
	result, err := c.execute(ctx, server, tool, params)
	if err != nil {
		c.logger.Warn("Tool call failed", "server", server, "tool", tool, "error", err)
		return fmt.Sprintf("Tool error (%s/%s): %v", server, tool, err)
	}
	return result
}

// ExecuteCall resolves a model tool call ("<server>__<tool>") through the
// gateway, enforcing the role's backend entitlements.
func (c *Client) ExecuteCall(ctx context.Context, role *roles.Role, call llm.ToolCall) string {
	server, tool, ok := strings.Cut(call.Name, toolNameSeparator)
	if !ok {
		return fmt.Sprintf("Tool error: malformed tool name %q", call.Name)
	}
	if !role.AllowedServer(server) {
		return fmt.Sprintf("Tool error: role %s may not call backend %s", role.Name, server)
	}

	var params map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &params); err != nil {
			return fmt.Sprintf("Tool error: unparseable arguments for %s: %v", call.Name, err)
		}
	}
	return c.Execute(ctx, server, tool, params)
}

func (c *Client) execute(ctx context.Context, server, tool string, params map[string]any) (string, error) {
	body, err := json.Marshal(map[string]any{
		"server":    server,
		"tool":      tool,
		"params":    params,
		"use_cache": true,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Detail != "" {
			return "", fmt.Errorf("gateway HTTP %d: %s", resp.StatusCode, errResp.Detail)
		}
		return "", fmt.Errorf("gateway HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Success bool            `json:"success"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return "", fmt.Errorf("unparseable gateway response: %w", err)
	}

	// Unwrap plain strings so agents see text, not quoted JSON.
	var s string
	if json.Unmarshal(payload.Result, &s) == nil {
		return s, nil
	}
	return string(payload.Result), nil
}

func (c *Client) cachedTools(ctx context.Context) (map[string][]gateway.ToolDescriptor, error) {
	c.mu.RLock()
	fresh := c.tools != nil && time.Since(c.fetchedAt) < toolsCacheTTL
	tools := c.tools
	c.mu.RUnlock()
	if fresh {
		return tools, nil
	}
	return c.refreshTools(ctx)
}

// refreshTools re-fetches GET /tools and replaces the cache.
func (c *Client) refreshTools(ctx context.Context) (map[string][]gateway.ToolDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tools", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway /tools returned HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Tools []struct {
			Server      string                       `json:"server"`
			Name        string                       `json:"name"`
			Description string                       `json:"description"`
			Parameters  map[string]gateway.ToolParam `json:"parameters"`
		} `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	tools := make(map[string][]gateway.ToolDescriptor)
	for _, t := range payload.Tools {
		tools[t.Server] = append(tools[t.Server], gateway.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}

	c.mu.Lock()
	c.tools = tools
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return tools, nil
}

// toJSONSchema converts a gateway parameter map into the JSON Schema object
// the LLM tool-calling APIs expect. Parameters without defaults are required.
func toJSONSchema(params map[string]gateway.ToolParam) map[string]any {
	properties := make(map[string]any, len(params))
	var required []string
	for name, p := range params {
		prop := map[string]any{"type": normalizeType(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		} else {
			required = append(required, name)
		}
		properties[name] = prop
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sort.Strings(required)
		schema["required"] = required
	}
	return schema
}

func normalizeType(t string) string {
	switch t {
	case "string", "integer", "number", "boolean", "array", "object":
		return t
	default:
		// "any" and unknown types degrade to string for schema validity.
		return "string"
	}
}
