// Package notify delivers run-completed notifications to Slack. Delivery is
// fail-open: a Slack outage never affects the query response.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"
)

const (
	postTimeout        = 10 * time.Second
	maxBlockTextLength = 2900
)

// RunCompletedInput carries the run facts worth surfacing in the channel.
type RunCompletedInput struct {
	SessionID   string
	Query       string
	FinalOutput string
	AgentCount  int
	LayerCount  int
	TotalTokens int
	Elapsed     time.Duration
	Failed      bool
	Error       string
}

// Service posts notifications to one channel.
// Nil-safe: all methods are no-ops when the service is nil.
type Service struct {
	api     *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewService returns nil when token or channel is empty, which disables
// notifications entirely.
func NewService(token, channel string) *Service {
	if token == "" || channel == "" {
		return nil
	}
	return newService(goslack.New(token), channel)
}

// NewServiceWithAPIURL targets a custom Slack API URL. Tests point this at a
// mock server.
func NewServiceWithAPIURL(token, channel, apiURL string) *Service {
	return newService(goslack.New(token, goslack.OptionAPIURL(apiURL)), channel)
}

func newService(api *goslack.Client, channel string) *Service {
	return &Service{
		api:     api,
		channel: channel,
		logger:  slog.Default().With("component", "notify"),
	}
}

// NotifyRunCompleted posts the run summary. Errors are logged, never
// returned.
func (s *Service) NotifyRunCompleted(ctx context.Context, input RunCompletedInput) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	_, _, err := s.api.PostMessageContext(ctx, s.channel,
		goslack.MsgOptionBlocks(buildRunCompletedMessage(input)...))
	if err != nil {
		s.logger.Error("Failed to send Slack notification",
			"session_id", input.SessionID, "error", err)
	}
}

func buildRunCompletedMessage(input RunCompletedInput) []goslack.Block {
	header := fmt.Sprintf(":white_check_mark: *Query completed* — session `%s`", input.SessionID)
	if input.Failed {
		header = fmt.Sprintf(":x: *Query failed* — session `%s`", input.SessionID)
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
	}

	if input.Failed && input.Error != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType,
				"*Error:*\n"+truncateForSlack(input.Error), false, false),
			nil, nil,
		))
	} else if input.FinalOutput != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType,
				"*Query:* "+truncateForSlack(input.Query), false, false),
			nil, nil,
		))
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType,
				truncateForSlack(input.FinalOutput), false, false),
			nil, nil,
		))
	}

	stats := fmt.Sprintf("%d agents · %d layers · %d tokens · %s",
		input.AgentCount, input.LayerCount, input.TotalTokens, input.Elapsed.Round(time.Millisecond))
	blocks = append(blocks, goslack.NewContextBlock("",
		goslack.NewTextBlockObject(goslack.MarkdownType, stats, false, false)))

	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
