package events

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/p-blackswan/specforge/internal/models"
)

// SlackAPI is the part of the Slack client the publisher needs.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackPublisher posts a short Block Kit message per approved change.
type SlackPublisher struct {
	api     SlackAPI
	channel string
	logger  zerolog.Logger
}

// NewSlackPublisher creates a publisher backed by a bot token.
func NewSlackPublisher(botToken, channel string, logger zerolog.Logger) *SlackPublisher {
	return NewSlackPublisherWithAPI(slack.New(botToken), channel, logger)
}

// NewSlackPublisherWithAPI creates a publisher over an existing client.
func NewSlackPublisherWithAPI(api SlackAPI, channel string, logger zerolog.Logger) *SlackPublisher {
	return &SlackPublisher{
		api:     api,
		channel: channel,
		logger:  logger.With().Str("component", "slack").Logger(),
	}
}

func (p *SlackPublisher) Name() string { return "slack" }

func (p *SlackPublisher) Publish(ctx context.Context, ev models.ChangeApproved) error {
	_, ts, err := p.api.PostMessageContext(ctx, p.channel,
		slack.MsgOptionText(approvedSummary(ev), false),
		slack.MsgOptionBlocks(approvedBlocks(ev)...),
	)
	if err != nil {
		return fmt.Errorf("posting to slack channel %s: %w", p.channel, err)
	}
	p.logger.Debug().Str("channel", p.channel).Str("ts", ts).Str("change_id", ev.ChangeID).Msg("slack notification sent")
	return nil
}

func approvedSummary(ev models.ChangeApproved) string {
	return fmt.Sprintf("Change approved: %s %s", ev.Kind, ev.FilePath)
}

// approvedBlocks renders the notification body.
func approvedBlocks(ev models.ChangeApproved) []slack.Block {
	header := fmt.Sprintf("*Change approved* `%s`\n%s (%s) by %s", ev.FilePath, ev.Kind, ev.Capability, ev.ApprovedBy)
	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject("mrkdwn", "*Project*\n"+ev.ProjectID, false, false),
		slack.NewTextBlockObject("mrkdwn", "*Task*\n"+ev.TaskID, false, false),
	}
	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", header, false, false), nil, nil),
		slack.NewSectionBlock(nil, fields, nil),
		slack.NewContextBlock("",
			slack.NewTextBlockObject("mrkdwn", "change "+ev.ChangeID, false, false),
		),
	}
}
