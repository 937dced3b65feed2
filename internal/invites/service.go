package invites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
)

// ServiceConfig holds the collaborators of the invite service.
type ServiceConfig struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Directory CommunityDirectory
	Identity  IdentityDirectory
	Store     Store
	Granter   EntitlementGranter
	Announcer Announcer
	Alerter   Alerter // optional
}

func (cfg *ServiceConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Directory == nil {
		return errors.New("community directory is required")
	}
	if cfg.Identity == nil {
		return errors.New("identity directory is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Granter == nil {
		return errors.New("entitlement granter is required")
	}
	if cfg.Announcer == nil {
		return errors.New("announcer is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Service orchestrates invite tracking for platform events: structural
// link changes keep the snapshot current, arrivals run through
// attribution, classification, the ledger and rewards, departures
// reverse the credit.
//
// Nothing here raises to the event-dispatch layer except persistence
// failures, which propagate so the caller can retry the whole event.
type Service struct {
	log       *slog.Logger
	clock     clockwork.Clock
	snapshots *SnapshotStore
	engine    *Engine
	ledger    *Ledger
	rewards   *Evaluator
	store     Store
	identity  IdentityDirectory
	announcer Announcer
}

// NewService wires up the invite core from its collaborators.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service config: %w", err)
	}

	snapshots := NewSnapshotStore(cfg.Logger, cfg.Directory)
	return &Service{
		log:       cfg.Logger,
		clock:     cfg.Clock,
		snapshots: snapshots,
		engine:    NewEngine(cfg.Logger, cfg.Directory, snapshots),
		ledger:    NewLedger(cfg.Logger, cfg.Store, cfg.Clock),
		rewards:   NewEvaluator(cfg.Logger, cfg.Store, cfg.Granter, cfg.Alerter),
		store:     cfg.Store,
		identity:  cfg.Identity,
		announcer: cfg.Announcer,
	}, nil
}

// Snapshots exposes the snapshot store for the periodic refresher.
func (s *Service) Snapshots() *SnapshotStore {
	return s.snapshots
}

// HandleLinkCreated records a newly created invite link in the
// snapshot.
func (s *Service) HandleLinkCreated(ctx context.Context, communityID string, ev LinkCreated) error {
	s.snapshots.OnLinkCreated(communityID, ev.Code, ev.Uses)
	return nil
}

// HandleLinkDeleted drops a deleted invite link from the snapshot. A
// pending not-yet-attributed increase on the deleted code simply
// contributes no diff on the next attribution.
func (s *Service) HandleLinkDeleted(ctx context.Context, communityID string, ev LinkDeleted) error {
	s.snapshots.OnLinkDeleted(communityID, ev.Code)
	return nil
}

// HandleMemberArrived attributes a new arrival, classifies it, commits
// it to the ledger, re-evaluates the inviter's rewards, and announces
// the join. Attribution failures degrade to an "inviter unknown"
// announcement; only store errors are returned.
func (s *Service) HandleMemberArrived(ctx context.Context, communityID string, ev MemberArrived) error {
	if ev.IsBot {
		return nil
	}

	cfg, err := s.store.Config(ctx, communityID)
	if err != nil {
		return fmt.Errorf("load invite config for %s: %w", communityID, err)
	}
	if !cfg.Enabled {
		return nil
	}

	attr := s.engine.Attribute(ctx, communityID)

	var inviterTotal int64
	if attr.Known() {
		isFake := s.classify(ctx, ev, cfg)
		if err := s.ledger.RecordArrival(ctx, communityID, ev.UserID, attr, isFake); err != nil {
			return err
		}
		inviterTotal, err = s.rewards.Evaluate(ctx, communityID, attr.InviterID)
		if err != nil {
			return err
		}
	}

	s.announcer.MemberJoined(ctx, communityID, cfg, ev.UserID, attr, inviterTotal)
	return nil
}

// classify decides whether the arrival counts as fake. The creation
// time usually rides on the event; when it doesn't, the identity
// directory is consulted, and an unresolvable identity is treated as
// legitimate rather than blocking the arrival.
func (s *Service) classify(ctx context.Context, ev MemberArrived, cfg Config) bool {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		user, err := s.identity.GetUser(ctx, ev.UserID)
		if err != nil {
			s.log.Debug("account creation time unavailable", "user", ev.UserID, "error", err)
			return false
		}
		createdAt = user.CreatedAt
	}
	if createdAt.IsZero() {
		return false
	}
	return IsFake(createdAt, s.clock.Now(), cfg.MinAccountAgeDays)
}

// HandleMemberDeparted reverses the departed member's attributed
// credit and announces the leave. A departure with no live join record
// is a no-op, which also makes duplicate departure events harmless.
func (s *Service) HandleMemberDeparted(ctx context.Context, communityID string, ev MemberDeparted) error {
	cfg, err := s.store.Config(ctx, communityID)
	if err != nil {
		return fmt.Errorf("load invite config for %s: %w", communityID, err)
	}
	if !cfg.Enabled {
		return nil
	}

	rec, err := s.ledger.RecordDeparture(ctx, communityID, ev.UserID)
	if err != nil {
		return err
	}

	var inviterTotal int64
	if rec != nil {
		counters, err := s.store.Counters(ctx, communityID, rec.InviterID)
		if err != nil {
			return fmt.Errorf("read counters for %s: %w", rec.InviterID, err)
		}
		inviterTotal = counters.EffectiveTotal()
	}

	s.announcer.MemberLeft(ctx, communityID, cfg, ev.UserID, rec, inviterTotal)
	return nil
}

// AdjustBonus applies an admin bonus adjustment and re-evaluates the
// user's rewards, returning the new effective total.
func (s *Service) AdjustBonus(ctx context.Context, communityID, userID string, delta int64) (int64, error) {
	if err := s.ledger.AdjustBonus(ctx, communityID, userID, delta); err != nil {
		return 0, err
	}
	return s.rewards.Evaluate(ctx, communityID, userID)
}
