package store

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/lanternlabs/doorman/internal/invites"
)

// newTestStore starts a disposable Postgres container, runs the
// embedded migrations, and returns a connected store.
func newTestStore(t *testing.T) *InviteStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed store test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("doorman_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		tcpostgres.BasicWaitStrategies(),
		tcpostgres.WithSQLDriver("pgx"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(terminateCtx)
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, Migrate(connStr, slog.Default()))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewInviteStore(pool)
}

func TestStore_ConfigDefaultsWhenUnconfigured(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg, err := s.Config(ctx, "g-missing")
	require.NoError(t, err)
	require.False(t, cfg.Enabled)
	require.Equal(t, invites.DefaultMinAccountAgeDays, cfg.MinAccountAgeDays)
}

func TestStore_ConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetEnabled(ctx, "g1", true))
	want := invites.Config{
		Enabled:           true,
		JoinChannelID:     "c-join",
		LeaveChannelID:    "c-leave",
		MinAccountAgeDays: 14,
		JoinMessage:       "welcome {user}",
		LeaveMessage:      "bye {user}",
	}
	require.NoError(t, s.UpsertConfig(ctx, "g1", want))

	got, err := s.Config(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, want, got)

	communities, err := s.EnabledCommunities(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"g1"}, communities)

	require.NoError(t, s.SetEnabled(ctx, "g1", false))
	communities, err = s.EnabledCommunities(ctx)
	require.NoError(t, err)
	require.Empty(t, communities)
}

func TestStore_CountersIncrementAndBonus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Absent rows read as zero.
	c, err := s.Counters(ctx, "g1", "u1")
	require.NoError(t, err)
	require.Equal(t, invites.Counters{}, c)

	require.NoError(t, s.IncrementRegular(ctx, "g1", "u1"))
	require.NoError(t, s.IncrementRegular(ctx, "g1", "u1"))
	require.NoError(t, s.IncrementFake(ctx, "g1", "u1"))
	require.NoError(t, s.IncrementLeaves(ctx, "g1", "u1"))
	require.NoError(t, s.AddBonus(ctx, "g1", "u1", 5))
	require.NoError(t, s.AddBonus(ctx, "g1", "u1", -2))

	c, err = s.Counters(ctx, "g1", "u1")
	require.NoError(t, err)
	require.Equal(t, invites.Counters{Regular: 2, Leaves: 1, Fake: 1, Bonus: 3}, c)
	require.Equal(t, int64(3), c.EffectiveTotal())

	// Counters are scoped per community.
	c, err = s.Counters(ctx, "g2", "u1")
	require.NoError(t, err)
	require.Equal(t, invites.Counters{}, c)
}

func TestStore_JoinRecordLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	joined := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := invites.JoinRecord{
		CommunityID: "g1", UserID: "u1", InviterID: "u2",
		InviteCode: "abc", JoinedAt: joined,
	}
	require.NoError(t, s.UpsertJoinRecord(ctx, rec))

	got, err := s.JoinRecordFor(ctx, "g1", "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "u2", got.InviterID)
	require.True(t, got.JoinedAt.Equal(joined))

	consumed, err := s.ConsumeJoinRecord(ctx, "g1", "u1")
	require.NoError(t, err)
	require.NotNil(t, consumed)
	require.Equal(t, "abc", consumed.InviteCode)

	// A second departure finds nothing.
	consumed, err = s.ConsumeJoinRecord(ctx, "g1", "u1")
	require.NoError(t, err)
	require.Nil(t, consumed)

	// A rejoin makes the record consumable again.
	rec.InviteCode = "def"
	require.NoError(t, s.UpsertJoinRecord(ctx, rec))
	consumed, err = s.ConsumeJoinRecord(ctx, "g1", "u1")
	require.NoError(t, err)
	require.NotNil(t, consumed)
	require.Equal(t, "def", consumed.InviteCode)
}

func TestStore_InvitedByExcludesDeparted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, userID := range []string{"m1", "m2", "m3"} {
		require.NoError(t, s.UpsertJoinRecord(ctx, invites.JoinRecord{
			CommunityID: "g1", UserID: userID, InviterID: "u2",
			InviteCode: "abc", JoinedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	_, err := s.ConsumeJoinRecord(ctx, "g1", "m2")
	require.NoError(t, err)

	members, err := s.InvitedBy(ctx, "g1", "u2")
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.Equal(t, "m1", members[0].UserID)
	require.Equal(t, "m3", members[1].UserID)
}

func TestStore_Leaderboard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.IncrementRegular(ctx, "g1", "low"))
	for range 3 {
		require.NoError(t, s.IncrementRegular(ctx, "g1", "high"))
	}
	require.NoError(t, s.IncrementRegular(ctx, "g1", "mid"))
	require.NoError(t, s.AddBonus(ctx, "g1", "mid", 1))

	entries, err := s.Leaderboard(ctx, "g1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "high", entries[0].UserID)
	require.Equal(t, "mid", entries[1].UserID)
	require.Equal(t, "low", entries[2].UserID)

	entries, err = s.Leaderboard(ctx, "g1", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestStore_RewardTiers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertTier(ctx, "g1", invites.RewardTier{RequiredInvites: 5, RoleID: "r5"}))
	require.NoError(t, s.UpsertTier(ctx, "g1", invites.RewardTier{RequiredInvites: 10, RoleID: "r10"}))
	require.NoError(t, s.UpsertTier(ctx, "g1", invites.RewardTier{RequiredInvites: 25, RoleID: "r25"}))

	tiers, err := s.TiersWithin(ctx, "g1", 12)
	require.NoError(t, err)
	require.Equal(t, []invites.RewardTier{
		{RequiredInvites: 10, RoleID: "r10"},
		{RequiredInvites: 5, RoleID: "r5"},
	}, tiers)

	// Replacing a threshold's role.
	require.NoError(t, s.UpsertTier(ctx, "g1", invites.RewardTier{RequiredInvites: 5, RoleID: "r5b"}))
	all, err := s.ListTiers(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "r5b", all[0].RoleID)

	require.NoError(t, s.DeleteTier(ctx, "g1", 10))
	all, err = s.ListTiers(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestStore_Resets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	joined := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.IncrementRegular(ctx, "g1", "u2"))
	require.NoError(t, s.IncrementRegular(ctx, "g1", "u3"))
	require.NoError(t, s.UpsertJoinRecord(ctx, invites.JoinRecord{
		CommunityID: "g1", UserID: "m1", InviterID: "u2", InviteCode: "abc", JoinedAt: joined,
	}))
	require.NoError(t, s.UpsertJoinRecord(ctx, invites.JoinRecord{
		CommunityID: "g1", UserID: "m2", InviterID: "u3", InviteCode: "def", JoinedAt: joined,
	}))

	require.NoError(t, s.ResetUser(ctx, "g1", "u2"))

	c, err := s.Counters(ctx, "g1", "u2")
	require.NoError(t, err)
	require.Equal(t, invites.Counters{}, c)
	rec, err := s.JoinRecordFor(ctx, "g1", "m1")
	require.NoError(t, err)
	require.Nil(t, rec)

	// The other inviter is untouched.
	c, err = s.Counters(ctx, "g1", "u3")
	require.NoError(t, err)
	require.Equal(t, invites.Counters{Regular: 1}, c)

	require.NoError(t, s.ResetCommunity(ctx, "g1"))
	c, err = s.Counters(ctx, "g1", "u3")
	require.NoError(t, err)
	require.Equal(t, invites.Counters{}, c)
	rec, err = s.JoinRecordFor(ctx, "g1", "m2")
	require.NoError(t, err)
	require.Nil(t, rec)
}
