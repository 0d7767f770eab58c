// Package notify delivers operator notifications about sync outcomes.
package notify

import (
	"fmt"
	"log"

	"github.com/slack-go/slack"

	syncengine "github.com/casebridge/casebridge/internal/sync"
)

// SlackNotifier posts sync cycle outcomes to a Slack channel. All methods
// are nil-safe so callers never need to guard on Slack being configured.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier creates a notifier, or nil when no token is configured
func NewSlackNotifier(botToken, channel string) *SlackNotifier {
	if botToken == "" {
		return nil
	}
	return &SlackNotifier{
		client:  slack.New(botToken),
		channel: channel,
	}
}

// CycleFinished posts the outcome of one sync cycle. Failures get a red
// attachment; successful cycles with activity get a summary. Quiet cycles
// (nothing created, updated, or failed) are not posted.
func (n *SlackNotifier) CycleFinished(result syncengine.CycleResult) {
	if n == nil {
		return
	}
	if result.Succeeded() && result.Created == 0 && result.Updated == 0 && result.Failed == 0 {
		return
	}

	color := "good"
	title := fmt.Sprintf("Sync completed: %s", result.IntegrationName)
	if !result.Succeeded() {
		color = "danger"
		title = fmt.Sprintf("Sync failed: %s", result.IntegrationName)
	}

	attachment := slack.Attachment{
		Color: color,
		Title: title,
		Fields: []slack.AttachmentField{
			{Title: "Vendor", Value: string(result.VendorKind), Short: true},
			{Title: "Created", Value: fmt.Sprintf("%d", result.Created), Short: true},
			{Title: "Updated", Value: fmt.Sprintf("%d", result.Updated), Short: true},
			{Title: "Failed", Value: fmt.Sprintf("%d", result.Failed), Short: true},
		},
	}
	if result.Error != "" {
		attachment.Text = result.Error
	}

	_, _, err := n.client.PostMessage(n.channel, slack.MsgOptionAttachments(attachment))
	if err != nil {
		log.Printf("SlackNotifier: failed to post cycle result for %s: %v", result.IntegrationName, err)
	}
}
