package invites

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
)

// Ledger applies attribution results to the durable per-inviter
// counters and join records.
//
// Counters only ever increment (except through AdjustBonus): undoing
// an arrival is always modeled as a new leaves debit, never as a
// regular decrement, so the audit history survives.
type Ledger struct {
	log   *slog.Logger
	store Store
	clock clockwork.Clock
}

// NewLedger creates a ledger over the given store.
func NewLedger(log *slog.Logger, store Store, clock clockwork.Clock) *Ledger {
	return &Ledger{log: log, store: store, clock: clock}
}

// RecordArrival credits the inviter named by the attribution and
// stores the causal join record for later reversal. Unknown
// attributions leave the counters untouched; the arrival is still
// announced upstream as "inviter unknown".
func (l *Ledger) RecordArrival(ctx context.Context, communityID, userID string, attr Attribution, isFake bool) error {
	if !attr.Known() {
		arrivalsRecordedTotal.WithLabelValues("unknown").Inc()
		return nil
	}

	if isFake {
		if err := l.store.IncrementFake(ctx, communityID, attr.InviterID); err != nil {
			return fmt.Errorf("increment fake for %s: %w", attr.InviterID, err)
		}
		arrivalsRecordedTotal.WithLabelValues("fake").Inc()
	} else {
		if err := l.store.IncrementRegular(ctx, communityID, attr.InviterID); err != nil {
			return fmt.Errorf("increment regular for %s: %w", attr.InviterID, err)
		}
		arrivalsRecordedTotal.WithLabelValues("regular").Inc()
	}

	rec := JoinRecord{
		CommunityID: communityID,
		UserID:      userID,
		InviterID:   attr.InviterID,
		InviteCode:  attr.InviteCode,
		IsFake:      isFake,
		JoinedAt:    l.clock.Now().UTC(),
	}
	if err := l.store.UpsertJoinRecord(ctx, rec); err != nil {
		return fmt.Errorf("upsert join record for %s: %w", userID, err)
	}

	l.log.Info("arrival recorded",
		"community", communityID,
		"user", userID,
		"inviter", attr.InviterID,
		"code", attr.InviteCode,
		"fake", isFake,
	)
	return nil
}

// RecordDeparture reverses the regular credit for a departed member as
// a leaves debit and returns the consumed join record, or nil when
// none existed (member joined before tracking, attribution failed at
// arrival, or a duplicate departure event). Fake joins never count
// toward leaves.
func (l *Ledger) RecordDeparture(ctx context.Context, communityID, userID string) (*JoinRecord, error) {
	rec, err := l.store.ConsumeJoinRecord(ctx, communityID, userID)
	if err != nil {
		return nil, fmt.Errorf("consume join record for %s: %w", userID, err)
	}
	if rec == nil {
		departuresRecordedTotal.WithLabelValues("orphan").Inc()
		return nil, nil
	}

	if rec.IsFake {
		departuresRecordedTotal.WithLabelValues("fake").Inc()
		return rec, nil
	}

	if err := l.store.IncrementLeaves(ctx, communityID, rec.InviterID); err != nil {
		return nil, fmt.Errorf("increment leaves for %s: %w", rec.InviterID, err)
	}
	departuresRecordedTotal.WithLabelValues("reversed").Inc()

	l.log.Info("departure recorded",
		"community", communityID,
		"user", userID,
		"inviter", rec.InviterID,
	)
	return rec, nil
}

// AdjustBonus adds delta (possibly negative) to a user's bonus
// counter. No floor is enforced at the storage level.
func (l *Ledger) AdjustBonus(ctx context.Context, communityID, userID string, delta int64) error {
	if err := l.store.AddBonus(ctx, communityID, userID, delta); err != nil {
		return fmt.Errorf("adjust bonus for %s: %w", userID, err)
	}
	l.log.Info("bonus adjusted", "community", communityID, "user", userID, "delta", delta)
	return nil
}
