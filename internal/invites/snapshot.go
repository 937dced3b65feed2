package invites

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// SnapshotStore caches the last known invite use-counts per community.
// Snapshots live only in memory: after a restart, arrivals cannot be
// attributed until the first refresh completes. That is a documented
// limitation of counter-diff attribution, not something to repair.
type SnapshotStore struct {
	log *slog.Logger
	dir CommunityDirectory

	mu          sync.Mutex
	communities map[string]*communitySnapshot
}

// communitySnapshot holds one community's snapshot behind its own
// lock, so one community's refresh never blocks another's reads.
type communitySnapshot struct {
	mu   sync.Mutex
	uses map[string]int
}

// NewSnapshotStore creates an empty snapshot store.
func NewSnapshotStore(log *slog.Logger, dir CommunityDirectory) *SnapshotStore {
	return &SnapshotStore{
		log:         log,
		dir:         dir,
		communities: make(map[string]*communitySnapshot),
	}
}

// community returns the snapshot entry for a community, creating it on
// first use.
func (s *SnapshotStore) community(communityID string) *communitySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.communities[communityID]
	if !ok {
		entry = &communitySnapshot{uses: make(map[string]int)}
		s.communities[communityID] = entry
	}
	return entry
}

// Get returns a copy of the community's current snapshot. Unknown
// communities yield an empty map, never nil.
func (s *SnapshotStore) Get(communityID string) map[string]int {
	entry := s.community(communityID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	uses := make(map[string]int, len(entry.uses))
	for code, n := range entry.uses {
		uses[code] = n
	}
	return uses
}

// Replace installs uses as the community's new snapshot wholesale.
// The input map is copied; callers keep ownership of theirs.
func (s *SnapshotStore) Replace(communityID string, uses map[string]int) {
	fresh := make(map[string]int, len(uses))
	for code, n := range uses {
		fresh[code] = n
	}

	entry := s.community(communityID)
	entry.mu.Lock()
	entry.uses = fresh
	entry.mu.Unlock()
}

// OnLinkCreated records a newly created invite link, keeping the
// snapshot correct between periodic refreshes.
func (s *SnapshotStore) OnLinkCreated(communityID, code string, uses int) {
	entry := s.community(communityID)
	entry.mu.Lock()
	entry.uses[code] = uses
	entry.mu.Unlock()
}

// OnLinkDeleted drops a deleted invite link from the snapshot.
func (s *SnapshotStore) OnLinkDeleted(communityID, code string) {
	entry := s.community(communityID)
	entry.mu.Lock()
	delete(entry.uses, code)
	entry.mu.Unlock()
}

// Refresh fetches the authoritative invite list and replaces the
// community's snapshot. On failure the previous snapshot stays in
// place: a stale snapshot still lets most diffs succeed, an empty one
// guarantees total attribution failure.
func (s *SnapshotStore) Refresh(ctx context.Context, communityID string) error {
	fresh, err := s.dir.ListInvites(ctx, communityID)
	if err != nil {
		snapshotRefreshesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("list invites for %s: %w", communityID, err)
	}

	s.Replace(communityID, usesByCode(fresh))
	snapshotRefreshesTotal.WithLabelValues("ok").Inc()
	return nil
}

func usesByCode(list []Invite) map[string]int {
	uses := make(map[string]int, len(list))
	for _, inv := range list {
		uses[inv.Code] = inv.Uses
	}
	return uses
}
