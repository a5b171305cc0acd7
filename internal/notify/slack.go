package notify

import (
	"context"
	"fmt"

	slacklib "github.com/slack-go/slack"
)

// SlackAPI abstracts the subset of the Slack client used by
// SlackNotifier. This allows testing without real HTTP calls.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slacklib.MsgOption) (string, string, error)
}

// SlackNotifier posts approval alerts into a single Slack channel.
type SlackNotifier struct {
	api     SlackAPI
	channel string
}

// NewSlackNotifier creates a SlackNotifier posting to the given channel.
func NewSlackNotifier(api SlackAPI, channel string) *SlackNotifier {
	return &SlackNotifier{api: api, channel: channel}
}

// NewSlackNotifierFromToken builds the Slack client from a bot token.
func NewSlackNotifierFromToken(token, channel string) *SlackNotifier {
	return NewSlackNotifier(slacklib.New(token), channel)
}

// Notify posts the message as plain text.
func (n *SlackNotifier) Notify(ctx context.Context, message string) error {
	_, _, err := n.api.PostMessageContext(ctx, n.channel, slacklib.MsgOptionText(message, false))
	if err != nil {
		return fmt.Errorf("notify.SlackNotifier.Notify: %w", err)
	}

	return nil
}
