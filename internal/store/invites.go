package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lanternlabs/doorman/internal/invites"
)

// InviteStore implements the invite core's persistence on Postgres,
// plus the query surface used by the admin panel.
type InviteStore struct {
	pool *pgxpool.Pool
}

// NewInviteStore wraps a connected pool.
func NewInviteStore(pool *pgxpool.Pool) *InviteStore {
	return &InviteStore{pool: pool}
}

// Config loads a community's invite configuration. Communities without
// rows get the zero config with the default account-age threshold, so
// untouched communities behave as disabled rather than erroring.
func (s *InviteStore) Config(ctx context.Context, communityID string) (invites.Config, error) {
	cfg := invites.Config{MinAccountAgeDays: invites.DefaultMinAccountAgeDays}

	err := s.pool.QueryRow(ctx,
		`SELECT invites_enabled FROM community_settings WHERE community_id = $1`,
		communityID,
	).Scan(&cfg.Enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return cfg, nil
	}
	if err != nil {
		return invites.Config{}, fmt.Errorf("load community settings: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT join_channel_id, leave_channel_id, min_account_age_days,
		        join_message, join_message_unknown, leave_message, leave_message_unknown
		   FROM invite_config WHERE community_id = $1`,
		communityID,
	).Scan(
		&cfg.JoinChannelID, &cfg.LeaveChannelID, &cfg.MinAccountAgeDays,
		&cfg.JoinMessage, &cfg.JoinMessageUnknown, &cfg.LeaveMessage, &cfg.LeaveMessageUnknown,
	)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return invites.Config{}, fmt.Errorf("load invite config: %w", err)
	}
	return cfg, nil
}

// EnabledCommunities lists communities with invite tracking turned on.
func (s *InviteStore) EnabledCommunities(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT community_id FROM community_settings WHERE invites_enabled ORDER BY community_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list enabled communities: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan community id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SetEnabled flips invite tracking for a community.
func (s *InviteStore) SetEnabled(ctx context.Context, communityID string, enabled bool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO community_settings (community_id, invites_enabled)
		 VALUES ($1, $2)
		 ON CONFLICT (community_id) DO UPDATE SET invites_enabled = $2, updated_at = now()`,
		communityID, enabled,
	)
	if err != nil {
		return fmt.Errorf("set invites enabled: %w", err)
	}
	return nil
}

// UpsertConfig replaces a community's invite configuration. The enabled
// flag lives in community_settings and is managed by SetEnabled.
func (s *InviteStore) UpsertConfig(ctx context.Context, communityID string, cfg invites.Config) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO invite_config (community_id, join_channel_id, leave_channel_id,
		        min_account_age_days, join_message, join_message_unknown,
		        leave_message, leave_message_unknown)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (community_id) DO UPDATE SET
		        join_channel_id = $2, leave_channel_id = $3,
		        min_account_age_days = $4, join_message = $5,
		        join_message_unknown = $6, leave_message = $7,
		        leave_message_unknown = $8, updated_at = now()`,
		communityID, cfg.JoinChannelID, cfg.LeaveChannelID,
		cfg.MinAccountAgeDays, cfg.JoinMessage, cfg.JoinMessageUnknown,
		cfg.LeaveMessage, cfg.LeaveMessageUnknown,
	)
	if err != nil {
		return fmt.Errorf("upsert invite config: %w", err)
	}
	return nil
}

func (s *InviteStore) IncrementRegular(ctx context.Context, communityID, userID string) error {
	return s.increment(ctx, communityID, userID, "regular")
}

func (s *InviteStore) IncrementFake(ctx context.Context, communityID, userID string) error {
	return s.increment(ctx, communityID, userID, "fake")
}

func (s *InviteStore) IncrementLeaves(ctx context.Context, communityID, userID string) error {
	return s.increment(ctx, communityID, userID, "leaves")
}

// increment bumps one counter column by 1, creating the row on first
// use. column is always one of the compile-time constants above, never
// caller input.
func (s *InviteStore) increment(ctx context.Context, communityID, userID, column string) error {
	q := fmt.Sprintf(
		`INSERT INTO inviter_counters (community_id, user_id, %s)
		 VALUES ($1, $2, 1)
		 ON CONFLICT (community_id, user_id)
		 DO UPDATE SET %s = inviter_counters.%s + 1, updated_at = now()`,
		column, column, column,
	)
	if _, err := s.pool.Exec(ctx, q, communityID, userID); err != nil {
		return fmt.Errorf("increment %s counter: %w", column, err)
	}
	return nil
}

// AddBonus applies an admin adjustment, positive or negative.
func (s *InviteStore) AddBonus(ctx context.Context, communityID, userID string, delta int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO inviter_counters (community_id, user_id, bonus)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (community_id, user_id)
		 DO UPDATE SET bonus = inviter_counters.bonus + $3, updated_at = now()`,
		communityID, userID, delta,
	)
	if err != nil {
		return fmt.Errorf("add bonus: %w", err)
	}
	return nil
}

// Counters reads an inviter's counters; absent rows read as all zeros.
func (s *InviteStore) Counters(ctx context.Context, communityID, userID string) (invites.Counters, error) {
	var c invites.Counters
	err := s.pool.QueryRow(ctx,
		`SELECT regular, leaves, fake, bonus FROM inviter_counters
		  WHERE community_id = $1 AND user_id = $2`,
		communityID, userID,
	).Scan(&c.Regular, &c.Leaves, &c.Fake, &c.Bonus)
	if errors.Is(err, pgx.ErrNoRows) {
		return invites.Counters{}, nil
	}
	if err != nil {
		return invites.Counters{}, fmt.Errorf("load counters: %w", err)
	}
	return c, nil
}

// UpsertJoinRecord records who invited an arrived member. A rejoin
// overwrites the old record and clears any departure marker, making the
// record consumable again.
func (s *InviteStore) UpsertJoinRecord(ctx context.Context, rec invites.JoinRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO join_records (community_id, user_id, inviter_id, invite_code, is_fake, joined_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (community_id, user_id) DO UPDATE SET
		        inviter_id = $3, invite_code = $4, is_fake = $5,
		        joined_at = $6, departed_at = NULL`,
		rec.CommunityID, rec.UserID, rec.InviterID, rec.InviteCode, rec.IsFake, rec.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert join record: %w", err)
	}
	return nil
}

// ConsumeJoinRecord marks a member's join record departed and returns
// it. The departure marker is set in the same statement that reads the
// record, so a duplicate departure event finds nothing and returns nil.
func (s *InviteStore) ConsumeJoinRecord(ctx context.Context, communityID, userID string) (*invites.JoinRecord, error) {
	rec := invites.JoinRecord{CommunityID: communityID, UserID: userID}
	err := s.pool.QueryRow(ctx,
		`UPDATE join_records SET departed_at = now()
		  WHERE community_id = $1 AND user_id = $2 AND departed_at IS NULL
		 RETURNING inviter_id, invite_code, is_fake, joined_at`,
		communityID, userID,
	).Scan(&rec.InviterID, &rec.InviteCode, &rec.IsFake, &rec.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consume join record: %w", err)
	}
	return &rec, nil
}

// JoinRecordFor returns a member's current join record, consumed or
// not, or nil when the member was never attributed.
func (s *InviteStore) JoinRecordFor(ctx context.Context, communityID, userID string) (*invites.JoinRecord, error) {
	rec := invites.JoinRecord{CommunityID: communityID, UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT inviter_id, invite_code, is_fake, joined_at FROM join_records
		  WHERE community_id = $1 AND user_id = $2`,
		communityID, userID,
	).Scan(&rec.InviterID, &rec.InviteCode, &rec.IsFake, &rec.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load join record: %w", err)
	}
	return &rec, nil
}

// InvitedBy lists members still present whose arrival was credited to
// the given inviter.
func (s *InviteStore) InvitedBy(ctx context.Context, communityID, inviterID string) ([]invites.JoinRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, invite_code, is_fake, joined_at FROM join_records
		  WHERE community_id = $1 AND inviter_id = $2 AND departed_at IS NULL
		  ORDER BY joined_at`,
		communityID, inviterID,
	)
	if err != nil {
		return nil, fmt.Errorf("list invited members: %w", err)
	}
	defer rows.Close()

	var out []invites.JoinRecord
	for rows.Next() {
		rec := invites.JoinRecord{CommunityID: communityID, InviterID: inviterID}
		if err := rows.Scan(&rec.UserID, &rec.InviteCode, &rec.IsFake, &rec.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan join record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LeaderboardEntry is one inviter's standing.
type LeaderboardEntry struct {
	UserID   string
	Counters invites.Counters
}

// Leaderboard returns inviters ordered by effective total, descending.
func (s *InviteStore) Leaderboard(ctx context.Context, communityID string, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 25
	}
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, regular, leaves, fake, bonus FROM inviter_counters
		  WHERE community_id = $1
		  ORDER BY (regular - leaves - fake + bonus) DESC, user_id
		  LIMIT $2`,
		communityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}
	defer rows.Close()

	var out []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Counters.Regular, &e.Counters.Leaves, &e.Counters.Fake, &e.Counters.Bonus); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TiersWithin returns the tiers an inviter with the given total has
// reached, highest threshold first.
func (s *InviteStore) TiersWithin(ctx context.Context, communityID string, total int64) ([]invites.RewardTier, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT required_invites, role_id FROM reward_tiers
		  WHERE community_id = $1 AND required_invites <= $2
		  ORDER BY required_invites DESC`,
		communityID, total,
	)
	if err != nil {
		return nil, fmt.Errorf("load reached tiers: %w", err)
	}
	defer rows.Close()
	return scanTiers(rows)
}

// ListTiers returns all reward tiers for a community, ascending.
func (s *InviteStore) ListTiers(ctx context.Context, communityID string) ([]invites.RewardTier, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT required_invites, role_id FROM reward_tiers
		  WHERE community_id = $1 ORDER BY required_invites`,
		communityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reward tiers: %w", err)
	}
	defer rows.Close()
	return scanTiers(rows)
}

func scanTiers(rows pgx.Rows) ([]invites.RewardTier, error) {
	var out []invites.RewardTier
	for rows.Next() {
		var t invites.RewardTier
		if err := rows.Scan(&t.RequiredInvites, &t.RoleID); err != nil {
			return nil, fmt.Errorf("scan reward tier: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertTier creates or replaces the tier at a threshold.
func (s *InviteStore) UpsertTier(ctx context.Context, communityID string, tier invites.RewardTier) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reward_tiers (community_id, required_invites, role_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (community_id, required_invites) DO UPDATE SET role_id = $3`,
		communityID, tier.RequiredInvites, tier.RoleID,
	)
	if err != nil {
		return fmt.Errorf("upsert reward tier: %w", err)
	}
	return nil
}

// DeleteTier removes the tier at a threshold, if present.
func (s *InviteStore) DeleteTier(ctx context.Context, communityID string, requiredInvites int64) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM reward_tiers WHERE community_id = $1 AND required_invites = $2`,
		communityID, requiredInvites,
	); err != nil {
		return fmt.Errorf("delete reward tier: %w", err)
	}
	return nil
}

// ResetUser wipes one inviter's counters and the join records credited
// to them.
func (s *InviteStore) ResetUser(ctx context.Context, communityID, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM inviter_counters WHERE community_id = $1 AND user_id = $2`,
		communityID, userID,
	); err != nil {
		return fmt.Errorf("reset counters: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM join_records WHERE community_id = $1 AND inviter_id = $2`,
		communityID, userID,
	); err != nil {
		return fmt.Errorf("reset join records: %w", err)
	}
	return tx.Commit(ctx)
}

// ResetCommunity wipes all counters and join records for a community.
// Configuration and reward tiers survive.
func (s *InviteStore) ResetCommunity(ctx context.Context, communityID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM inviter_counters WHERE community_id = $1`, communityID,
	); err != nil {
		return fmt.Errorf("reset counters: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM join_records WHERE community_id = $1`, communityID,
	); err != nil {
		return fmt.Errorf("reset join records: %w", err)
	}
	return tx.Commit(ctx)
}

var _ invites.Store = (*InviteStore)(nil)
