// Package announce formats and delivers join/leave announcements.
// Delivery is best-effort: failures are logged and swallowed, never
// surfaced to the arriving member's event processing.
package announce

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lanternlabs/doorman/internal/invites"
)

// Default templates used when a community has not configured its own.
const (
	defaultJoinMessage = "👋 {user} just joined the server!\n" +
		"Invited by {inviter} ({invites} invites)"
	defaultJoinMessageUnknown = "👋 {user} just joined the server!\n" +
		"Could not determine who invited them."
	defaultLeaveMessage = "👋 {user} left the server.\n" +
		"They had been invited by {inviter} ({invites} invites)"
	defaultLeaveMessageUnknown = "👋 {user} left the server."
)

// Sink posts a formatted message to a community channel.
type Sink interface {
	PostMessage(ctx context.Context, channelID, content string) error
}

// Announcer formats join/leave messages from community templates and
// posts them through the sink.
type Announcer struct {
	log  *slog.Logger
	sink Sink
}

// New creates an announcer over the given sink.
func New(log *slog.Logger, sink Sink) *Announcer {
	return &Announcer{log: log, sink: sink}
}

// MemberJoined announces an arrival. Unresolved attributions are
// announced with the "inviter unknown" template rather than blocking
// the welcome.
func (a *Announcer) MemberJoined(ctx context.Context, communityID string, cfg invites.Config, userID string, attr invites.Attribution, inviterTotal int64) {
	if cfg.JoinChannelID == "" {
		return
	}

	var msg string
	if attr.Known() {
		msg = Format(orDefault(cfg.JoinMessage, defaultJoinMessage), map[string]string{
			"user":    Mention(userID),
			"inviter": Mention(attr.InviterID),
			"invites": strconv.FormatInt(clampDisplay(inviterTotal), 10),
			"code":    attr.InviteCode,
		})
	} else {
		msg = Format(orDefault(cfg.JoinMessageUnknown, defaultJoinMessageUnknown), map[string]string{
			"user": Mention(userID),
		})
	}

	a.post(ctx, "join", cfg.JoinChannelID, msg)
}

// MemberLeft announces a departure. rec may be nil when the member's
// inviter was never known.
func (a *Announcer) MemberLeft(ctx context.Context, communityID string, cfg invites.Config, userID string, rec *invites.JoinRecord, inviterTotal int64) {
	if cfg.LeaveChannelID == "" {
		return
	}

	var msg string
	if rec != nil {
		msg = Format(orDefault(cfg.LeaveMessage, defaultLeaveMessage), map[string]string{
			"user":    Mention(userID),
			"inviter": Mention(rec.InviterID),
			"invites": strconv.FormatInt(clampDisplay(inviterTotal), 10),
			"code":    rec.InviteCode,
		})
	} else {
		msg = Format(orDefault(cfg.LeaveMessageUnknown, defaultLeaveMessageUnknown), map[string]string{
			"user": Mention(userID),
		})
	}

	a.post(ctx, "leave", cfg.LeaveChannelID, msg)
}

func (a *Announcer) post(ctx context.Context, kind, channelID, msg string) {
	if err := a.sink.PostMessage(ctx, channelID, msg); err != nil {
		announcementsTotal.WithLabelValues(kind, "error").Inc()
		a.log.Warn("announcement delivery failed", "kind", kind, "channel", channelID, "error", err)
		return
	}
	announcementsTotal.WithLabelValues(kind, "ok").Inc()
}

// Format substitutes {name} placeholders in a message template.
// Unknown placeholders are left as-is.
func Format(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Mention renders a user mention in platform markup.
func Mention(userID string) string {
	return "<@" + userID + ">"
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// clampDisplay floors negative effective totals for display only;
// storage keeps the real value.
func clampDisplay(total int64) int64 {
	if total < 0 {
		return 0
	}
	return total
}
