package announce

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanternlabs/doorman/internal/invites"
)

type fakeSink struct {
	channels []string
	messages []string
	err      error
}

func (s *fakeSink) PostMessage(_ context.Context, channelID, content string) error {
	if s.err != nil {
		return s.err
	}
	s.channels = append(s.channels, channelID)
	s.messages = append(s.messages, content)
	return nil
}

func TestAnnounce_Format(t *testing.T) {
	t.Parallel()

	got := Format("hi {user}, thanks {inviter} ({invites})", map[string]string{
		"user":    "<@u1>",
		"inviter": "<@u2>",
		"invites": "5",
	})
	require.Equal(t, "hi <@u1>, thanks <@u2> (5)", got)

	// Unknown placeholders survive untouched.
	require.Equal(t, "{nope} x", Format("{nope} {user}", map[string]string{"user": "x"}))
}

func TestAnnounce_MemberJoined_Attributed(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	a := New(slog.Default(), sink)

	cfg := invites.Config{
		JoinChannelID: "c1",
		JoinMessage:   "{user} in via {code} from {inviter} ({invites})",
	}
	a.MemberJoined(context.Background(), "g1", cfg, "u1", invites.Attribution{InviterID: "u2", InviteCode: "abc"}, 7)

	require.Equal(t, []string{"c1"}, sink.channels)
	require.Equal(t, []string{"<@u1> in via abc from <@u2> (7)"}, sink.messages)
}

func TestAnnounce_MemberJoined_UnknownInviter(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	a := New(slog.Default(), sink)

	cfg := invites.Config{JoinChannelID: "c1"}
	a.MemberJoined(context.Background(), "g1", cfg, "u1", invites.Attribution{}, 0)

	require.Len(t, sink.messages, 1)
	require.Contains(t, sink.messages[0], "<@u1>")
	require.Contains(t, sink.messages[0], "Could not determine")
}

func TestAnnounce_MemberJoined_NoChannelConfigured(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	a := New(slog.Default(), sink)

	a.MemberJoined(context.Background(), "g1", invites.Config{}, "u1", invites.Attribution{InviterID: "u2"}, 1)
	require.Empty(t, sink.messages)
}

func TestAnnounce_MemberLeft(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	a := New(slog.Default(), sink)

	cfg := invites.Config{
		LeaveChannelID: "c2",
		LeaveMessage:   "{user} out, was invited by {inviter} ({invites})",
	}
	rec := &invites.JoinRecord{InviterID: "u2", InviteCode: "abc"}
	a.MemberLeft(context.Background(), "g1", cfg, "u1", rec, 3)

	require.Equal(t, []string{"<@u1> out, was invited by <@u2> (3)"}, sink.messages)
}

func TestAnnounce_MemberLeft_NoRecordUsesUnknownTemplate(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	a := New(slog.Default(), sink)

	cfg := invites.Config{LeaveChannelID: "c2"}
	a.MemberLeft(context.Background(), "g1", cfg, "u1", nil, 0)

	require.Equal(t, []string{"👋 <@u1> left the server."}, sink.messages)
}

func TestAnnounce_NegativeTotalsDisplayAsZero(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	a := New(slog.Default(), sink)

	cfg := invites.Config{JoinChannelID: "c1", JoinMessage: "{invites}"}
	a.MemberJoined(context.Background(), "g1", cfg, "u1", invites.Attribution{InviterID: "u2"}, -2)

	require.Equal(t, []string{"0"}, sink.messages)
}

func TestAnnounce_SinkFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{err: errors.New("boom")}
	a := New(slog.Default(), sink)

	cfg := invites.Config{JoinChannelID: "c1"}
	// Must not panic or propagate.
	a.MemberJoined(context.Background(), "g1", cfg, "u1", invites.Attribution{InviterID: "u2"}, 1)
	require.Empty(t, sink.messages)
}
