package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/polyphonic-ai/maestro/pkg/config"
	"github.com/polyphonic-ai/maestro/pkg/tokens"
)

const anthropicMaxTokens = 4096

type anthropicClient struct {
	client      sdk.Client
	model       string
	temperature float32
	timeout     time.Duration
}

var _ Client = (*anthropicClient)(nil)

func newAnthropicClient(cfg config.LLMConfig) *anthropicClient {
	return &anthropicClient{
		client:      sdk.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}
}

func (c *anthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	// LLM_TIMEOUT bounds every provider round-trip, SDK retries included.
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: anthropicMaxTokens,
	}
	temp := c.temperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	params.Temperature = sdk.Float(float64(temp))

	system, messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params.System = system
	params.Messages = messages

	for _, t := range req.Tools {
		schema := sdk.ToolInputSchemaParam{ExtraFields: map[string]any{}}
		for k, v := range t.Parameters {
			if k == "type" {
				continue
			}
			schema.ExtraFields[k] = v
		}
		tool := sdk.ToolUnionParamOfTool(schema, t.Name)
		if t.Description != "" {
			tool.OfTool.Description = sdk.String(t.Description)
		}
		params.Tools = append(params.Tools, tool)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLLM, err)
	}

	out := &Response{
		Usage: tokens.Usage{
			Prompt:     int(msg.Usage.InputTokens),
			Completion: int(msg.Usage.OutputTokens),
			Total:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: json.RawMessage(block.Input),
			})
		}
	}
	return out, nil
}

// toAnthropicMessages splits system turns out (Anthropic carries them as a
// top-level parameter) and folds tool-result turns into user messages.
func toAnthropicMessages(messages []Message) ([]sdk.TextBlockParam, []sdk.MessageParam, error) {
	var system []sdk.TextBlockParam
	var out []sdk.MessageParam

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case RoleUser:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					return nil, nil, fmt.Errorf("%w: tool call %s arguments: %v", ErrLLM, tc.Name, err)
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			out = append(out, sdk.NewAssistantMessage(blocks...))
		case RoleTool:
			out = append(out, sdk.NewUserMessage(
				sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			return nil, nil, fmt.Errorf("%w: unknown message role %q", ErrLLM, m.Role)
		}
	}
	return system, out, nil
}
