package invites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// DefaultRefreshInterval matches the original tracker's sync cadence.
const DefaultRefreshInterval = 10 * time.Minute

// RefresherConfig configures the periodic snapshot refresher.
type RefresherConfig struct {
	Logger         *slog.Logger
	Clock          clockwork.Clock
	Store          Store
	Snapshots      *SnapshotStore
	Alerter        Alerter // optional
	Interval       time.Duration
	MaxConcurrency int
}

func (cfg *RefresherConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Snapshots == nil {
		return errors.New("snapshot store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRefreshInterval
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	return nil
}

// Refresher periodically rebuilds every enabled community's invite
// snapshot, so diffs stay close to reality even when structural events
// are missed.
type Refresher struct {
	cfg RefresherConfig
}

// NewRefresher creates a refresher from the given config.
func NewRefresher(cfg RefresherConfig) (*Refresher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid refresher config: %w", err)
	}
	return &Refresher{cfg: cfg}, nil
}

// Run refreshes all enabled communities once immediately, then on
// every tick until the context is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	r.RefreshAll(ctx)

	ticker := r.cfg.Clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			r.RefreshAll(ctx)
		}
	}
}

// RefreshAll refreshes every enabled community's snapshot with bounded
// parallelism. Per-community failures are logged and skipped; the
// previous snapshot for a failed community stays in place.
func (r *Refresher) RefreshAll(ctx context.Context) {
	communities, err := r.cfg.Store.EnabledCommunities(ctx)
	if err != nil {
		r.cfg.Logger.Error("failed to list enabled communities", "error", err)
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrency)
	for _, communityID := range communities {
		g.Go(func() error {
			if err := r.cfg.Snapshots.Refresh(ctx, communityID); err != nil {
				r.cfg.Logger.Warn("snapshot refresh failed", "community", communityID, "error", err)
				if r.cfg.Alerter != nil {
					r.cfg.Alerter.Alert(ctx, fmt.Sprintf("invite snapshot refresh failed: community=%s err=%v", communityID, err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}
