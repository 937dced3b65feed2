package invites

import (
	"context"
	"log/slog"
	"sync"
)

// Engine attributes a new arrival to the invite link that admitted it.
//
// The platform exposes only cumulative per-link use counters, never a
// direct "this link brought this member" signal, so attribution diffs
// a fresh fetch against the previous snapshot and names the first link
// whose count grew. When two links grew at once (concurrent joins)
// the first match wins and the small chance of misattribution is
// accepted; the counters the platform offers cannot support anything
// stronger.
type Engine struct {
	log       *slog.Logger
	dir       CommunityDirectory
	snapshots *SnapshotStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates an attribution engine over the given directory and
// snapshot store.
func NewEngine(log *slog.Logger, dir CommunityDirectory, snapshots *SnapshotStore) *Engine {
	return &Engine{
		log:       log,
		dir:       dir,
		snapshots: snapshots,
		locks:     make(map[string]*sync.Mutex),
	}
}

// communityLock returns the mutex serializing attribution for one
// community, creating it on first use.
func (e *Engine) communityLock(communityID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[communityID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[communityID] = lock
	}
	return lock
}

// Attribute names the invite link responsible for an arrival that just
// happened in the community.
//
// The fetch-diff-replace sequence runs under a per-community mutex so
// two simultaneous arrivals cannot both diff against the same stale
// snapshot and claim the same single-use increment. Whenever a fresh
// list was obtained, the snapshot is replaced with it before
// returning, even when no link shows an increase, so the next call
// diffs against current reality.
//
// A fetch failure (permission or transient) degrades to an unknown
// attribution and leaves the existing snapshot untouched.
//
// Attribution is not replayable: the snapshot replace consumes the
// counter increase, so calling again for the same arrival (a caller
// retrying after a downstream failure) diffs against current reality
// and resolves unknown. Like the cold-start gap, this is a limitation
// of counter-diff attribution, not something to repair.
func (e *Engine) Attribute(ctx context.Context, communityID string) Attribution {
	lock := e.communityLock(communityID)
	lock.Lock()
	defer lock.Unlock()

	fresh, err := e.dir.ListInvites(ctx, communityID)
	if err != nil {
		e.log.Warn("invite list fetch failed, cannot attribute arrival",
			"community", communityID,
			"error", err,
		)
		attributionsTotal.WithLabelValues("fetch_failed").Inc()
		return Attribution{}
	}

	prev := e.snapshots.Get(communityID)
	defer e.snapshots.Replace(communityID, usesByCode(fresh))

	for _, inv := range fresh {
		// Codes absent from the previous snapshot are brand-new links
		// whose first use is this arrival; they diff against zero.
		if inv.Uses > prev[inv.Code] {
			e.log.Debug("arrival attributed",
				"community", communityID,
				"code", inv.Code,
				"inviter", inv.OwnerID,
				"uses", inv.Uses,
			)
			attributionsTotal.WithLabelValues("attributed").Inc()
			return Attribution{InviterID: inv.OwnerID, InviteCode: inv.Code}
		}
	}

	// Vanity URL, widget invite, or a counter race. Not an error.
	attributionsTotal.WithLabelValues("unknown").Inc()
	return Attribution{}
}
