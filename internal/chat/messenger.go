// Package chat posts messages back to Slack, either through the Web API
// or through a slash command's response_url.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"courier/internal/logging"
)

// Recipient identifies where a message should land. When ResponseURL is
// set it takes precedence: slash commands expect their reply there.
type Recipient struct {
	ChannelID   string
	ThreadTS    string
	ResponseURL string
}

// Messenger delivers one message to a recipient.
type Messenger interface {
	Send(ctx context.Context, to Recipient, text string) error
}

// postAPI is the slice of the Slack Web API the messenger uses;
// *slack.Client satisfies it.
type postAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// webhookPoster posts to a response_url. Split out so tests can stub the
// outbound HTTP call.
type webhookPoster func(ctx context.Context, url string, msg *slack.WebhookMessage) error

// SlackMessenger implements Messenger against the real Slack endpoints.
type SlackMessenger struct {
	api     postAPI
	webhook webhookPoster
	logger  logging.Logger
}

// NewSlackMessenger wraps a Slack client for delivery.
func NewSlackMessenger(client *slack.Client, logger logging.Logger) (*SlackMessenger, error) {
	if client == nil {
		return nil, fmt.Errorf("slack messenger requires a client")
	}
	return &SlackMessenger{
		api:     client,
		webhook: slack.PostWebhookContext,
		logger:  logging.OrNop(logger),
	}, nil
}

// Send posts text to the recipient. Empty text is rejected: every
// terminal outcome must stay visible, and an empty post would fail
// Slack-side anyway.
func (m *SlackMessenger) Send(ctx context.Context, to Recipient, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("refusing to send empty message")
	}

	if to.ResponseURL != "" {
		err := m.webhook(ctx, to.ResponseURL, &slack.WebhookMessage{
			ResponseType: "in_channel",
			Text:         text,
		})
		if err != nil {
			return fmt.Errorf("post to response_url: %w", err)
		}
		return nil
	}

	if to.ChannelID == "" {
		return fmt.Errorf("recipient has neither channel nor response_url")
	}

	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if to.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(to.ThreadTS))
	}
	if _, _, err := m.api.PostMessageContext(ctx, to.ChannelID, opts...); err != nil {
		return fmt.Errorf("post to channel %s: %w", to.ChannelID, err)
	}
	return nil
}
