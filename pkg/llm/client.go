// Package llm provides a provider-neutral chat completion client. Adapters
// exist for OpenAI (and OpenAI-compatible endpoints such as Ollama) and for
// Anthropic Claude. The client never transforms model output; callers own
// tool-call execution and any JSON repair.
package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/polyphonic-ai/maestro/pkg/tokens"
)

// Message roles. These match the OpenAI wire names; the Anthropic adapter
// translates.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrLLM wraps every transport or protocol failure from a provider.
var ErrLLM = errors.New("llm request failed")

// Message is one turn of a conversation. ToolCalls is set on assistant turns
// that requested tools; ToolCallID on tool-result turns.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolSchema describes one callable tool exposed to the model.
type ToolSchema struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object ({"type":"object","properties":...}).
	Parameters map[string]any
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Request is one completion call.
type Request struct {
	Messages []Message
	// Temperature overrides the client default when non-nil.
	Temperature *float32
	// JSONOnly asks the provider for a JSON-object response where supported.
	JSONOnly bool
	// Tools, when non-empty, enables function calling.
	Tools []ToolSchema
	// Metadata carries run tags for logging only.
	Metadata map[string]string
}

// Response is the model's answer. ToolCalls is non-empty when the model
// requested tools instead of (or alongside) text.
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     tokens.Usage
}

// Client is the single capability the rest of the system depends on.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Temp is a convenience for Request.Temperature.
func Temp(t float32) *float32 { return &t }
