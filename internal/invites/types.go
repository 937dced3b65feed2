// Package invites implements invite attribution for community servers:
// diffing per-link use counters to name the inviter responsible for a
// new arrival, keeping durable per-inviter counters, classifying fake
// joins, and granting reward roles on thresholds.
package invites

import (
	"context"
	"time"
)

// Invite is one live invite link as reported by the platform.
type Invite struct {
	Code    string
	Uses    int
	OwnerID string
}

// Attribution names the invite link (and therefore the inviter)
// responsible for an arrival. The zero value means no responsible link
// could be determined.
type Attribution struct {
	InviterID  string
	InviteCode string
}

// Known reports whether the attribution resolved to an inviter.
func (a Attribution) Known() bool {
	return a.InviterID != ""
}

// Counters holds the durable invite counters for one inviter in one
// community. All fields only ever increment, except Bonus which admins
// may adjust in either direction.
type Counters struct {
	Regular int64
	Leaves  int64
	Fake    int64
	Bonus   int64
}

// EffectiveTotal is the net invite count credited to an inviter. It
// may be transiently negative when an admin reduces bonus below zero;
// display layers clamp, storage does not.
func (c Counters) EffectiveTotal() int64 {
	return c.Regular - c.Leaves - c.Fake + c.Bonus
}

// JoinRecord is the durable causal link between an arrived member and
// the inviter credited for them. At most one live record exists per
// (community, member) pair.
type JoinRecord struct {
	CommunityID string
	UserID      string
	InviterID   string
	InviteCode  string
	IsFake      bool
	JoinedAt    time.Time
}

// RewardTier maps an invite threshold to a grantable role.
type RewardTier struct {
	RequiredInvites int64
	RoleID          string
}

// Config is the per-community invite tracking configuration.
type Config struct {
	Enabled             bool
	JoinChannelID       string
	LeaveChannelID      string
	MinAccountAgeDays   int
	JoinMessage         string
	JoinMessageUnknown  string
	LeaveMessage        string
	LeaveMessageUnknown string
}

// User is an identity as reported by the platform.
type User struct {
	ID        string
	CreatedAt time.Time
	IsBot     bool
}

// Platform events consumed by the service. These are decoded from the
// platform event stream by the dispatcher.
type (
	LinkCreated struct {
		Code    string `json:"code"`
		OwnerID string `json:"owner_id"`
		Uses    int    `json:"uses"`
	}

	LinkDeleted struct {
		Code string `json:"code"`
	}

	MemberArrived struct {
		UserID    string    `json:"user_id"`
		CreatedAt time.Time `json:"created_at"`
		IsBot     bool      `json:"is_bot"`
	}

	MemberDeparted struct {
		UserID string `json:"user_id"`
	}
)

// CommunityDirectory lists the live invite links of a community.
// Implementations fail with gateway.ErrPermissionDenied or
// gateway.ErrUnavailable kinds; callers treat any failure as "cannot
// attribute".
type CommunityDirectory interface {
	ListInvites(ctx context.Context, communityID string) ([]Invite, error)
}

// IdentityDirectory resolves platform users, used to backfill account
// creation times when the arrival event does not carry one.
type IdentityDirectory interface {
	GetUser(ctx context.Context, userID string) (User, error)
}

// EntitlementGranter grants a role to a community member. Grants are
// idempotent on the platform side.
type EntitlementGranter interface {
	GrantRole(ctx context.Context, communityID, userID, roleID string) error
}

// Announcer delivers best-effort join/leave announcements. Delivery
// failures are swallowed by implementations.
type Announcer interface {
	MemberJoined(ctx context.Context, communityID string, cfg Config, userID string, attr Attribution, inviterTotal int64)
	MemberLeft(ctx context.Context, communityID string, cfg Config, userID string, rec *JoinRecord, inviterTotal int64)
}

// Alerter mirrors operational failures to an ops channel. A nil
// Alerter is valid and means alerting is disabled.
type Alerter interface {
	Alert(ctx context.Context, text string)
}

// Store is the durable persistence consumed by the invite core. All
// operations are single-row upserts, increments, or reads.
type Store interface {
	Config(ctx context.Context, communityID string) (Config, error)
	EnabledCommunities(ctx context.Context) ([]string, error)

	IncrementRegular(ctx context.Context, communityID, userID string) error
	IncrementFake(ctx context.Context, communityID, userID string) error
	IncrementLeaves(ctx context.Context, communityID, userID string) error
	AddBonus(ctx context.Context, communityID, userID string, delta int64) error
	Counters(ctx context.Context, communityID, userID string) (Counters, error)

	UpsertJoinRecord(ctx context.Context, rec JoinRecord) error
	ConsumeJoinRecord(ctx context.Context, communityID, userID string) (*JoinRecord, error)

	TiersWithin(ctx context.Context, communityID string, total int64) ([]RewardTier, error)
}
