package invites

import (
	"context"
	"fmt"
	"log/slog"
)

// Evaluator grants reward roles when an inviter's effective total
// reaches configured thresholds.
//
// Grants are one-way: tiers at or below the current total are granted
// (idempotently), tiers above it are not touched, and nothing is
// revoked when a total later decreases.
type Evaluator struct {
	log     *slog.Logger
	store   Store
	granter EntitlementGranter
	alerter Alerter
}

// NewEvaluator creates a reward evaluator. alerter may be nil.
func NewEvaluator(log *slog.Logger, store Store, granter EntitlementGranter, alerter Alerter) *Evaluator {
	return &Evaluator{log: log, store: store, granter: granter, alerter: alerter}
}

// Evaluate re-derives the inviter's effective total and grants every
// qualifying tier's role. Grant failures (missing permission, role
// ordering) are logged and not retried. The effective total is
// returned for announcement use.
func (e *Evaluator) Evaluate(ctx context.Context, communityID, userID string) (int64, error) {
	counters, err := e.store.Counters(ctx, communityID, userID)
	if err != nil {
		return 0, fmt.Errorf("read counters for %s: %w", userID, err)
	}
	total := counters.EffectiveTotal()

	tiers, err := e.store.TiersWithin(ctx, communityID, total)
	if err != nil {
		return 0, fmt.Errorf("list reward tiers: %w", err)
	}

	for _, tier := range tiers {
		if err := e.granter.GrantRole(ctx, communityID, userID, tier.RoleID); err != nil {
			rewardGrantsTotal.WithLabelValues("error").Inc()
			e.log.Warn("reward grant failed",
				"community", communityID,
				"user", userID,
				"role", tier.RoleID,
				"required", tier.RequiredInvites,
				"error", err,
			)
			if e.alerter != nil {
				e.alerter.Alert(ctx, fmt.Sprintf(
					"reward grant failed: community=%s user=%s role=%s err=%v",
					communityID, userID, tier.RoleID, err,
				))
			}
			continue
		}
		rewardGrantsTotal.WithLabelValues("ok").Inc()
	}

	return total, nil
}
