// Package alerts posts operational notifications to a Slack channel so
// operators hear about degraded attribution without tailing logs.
package alerts

import (
	"context"
	"log/slog"

	"github.com/slack-go/slack"
)

// Notifier sends operator alerts. A Notifier built without a token is a
// no-op, which keeps call sites unconditional.
type Notifier struct {
	api       *slack.Client
	channelID string
	log       *slog.Logger
}

// New creates a notifier. Empty token or channel disables delivery.
func New(token, channelID string, log *slog.Logger) *Notifier {
	n := &Notifier{channelID: channelID, log: log}
	if token != "" && channelID != "" {
		n.api = slack.New(token)
	} else {
		log.Info("ops alerts disabled", "reason", "missing slack token or channel")
	}
	return n
}

// Alert posts a message to the ops channel. Delivery failures are
// logged and swallowed; alerting must never take down the caller.
func (n *Notifier) Alert(ctx context.Context, text string) {
	if n.api == nil {
		n.log.Debug("ops alert suppressed", "message", text)
		return
	}

	_, _, err := n.api.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(":rotating_light: "+text, false),
	)
	if err != nil {
		n.log.Warn("failed to deliver ops alert", "channel", n.channelID, "error", err)
		return
	}
	n.log.Debug("ops alert delivered", "channel", n.channelID)
}
