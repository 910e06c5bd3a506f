package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/ticketform/backend/internal/models"
)

// slackPoster is the part of the Slack API the notifier uses.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier announces new tickets in a Slack channel.
type SlackNotifier struct {
	client    slackPoster
	channelID string
}

func NewSlackNotifier(botToken, channelID string) *SlackNotifier {
	return &SlackNotifier{client: slack.New(botToken), channelID: channelID}
}

func (n *SlackNotifier) TicketCreated(ctx context.Context, t models.Ticket) error {
	_, _, err := n.client.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(formatTicket(t), false),
	)
	if err != nil {
		return fmt.Errorf("notify: slack post: %w", err)
	}
	return nil
}

func formatTicket(t models.Ticket) string {
	msg := fmt.Sprintf("*New ticket #%d* from user %d: %s", t.ID, t.UserID, t.Title)
	if t.AIUsed {
		msg += fmt.Sprintf("\nAI assisted, category %q, urgency %s", t.Category, t.Urgency)
	}
	msg += fmt.Sprintf("\nTime to submit: %dms", t.TimeToSubmitMs)
	return msg
}
