package invites

import (
	"context"
	"sync"
	"time"
)

// fakeDirectory serves a scripted invite list, or an error.
type fakeDirectory struct {
	mu      sync.Mutex
	invites map[string][]Invite
	err     error
	calls   int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{invites: make(map[string][]Invite)}
}

func (d *fakeDirectory) set(communityID string, invites ...Invite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invites[communityID] = invites
}

func (d *fakeDirectory) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDirectory) ListInvites(ctx context.Context, communityID string) ([]Invite, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	out := make([]Invite, len(d.invites[communityID]))
	copy(out, d.invites[communityID])
	return out, nil
}

// fakeIdentity resolves scripted users.
type fakeIdentity struct {
	users map[string]User
	err   error
}

func (f *fakeIdentity) GetUser(ctx context.Context, userID string) (User, error) {
	if f.err != nil {
		return User{}, f.err
	}
	return f.users[userID], nil
}

// memStore is an in-memory Store for unit tests.
type memStore struct {
	mu       sync.Mutex
	configs  map[string]Config
	counters map[string]map[string]*Counters
	records  map[string]map[string]*joinRecordRow
	tiers    map[string][]RewardTier
	err      error
}

type joinRecordRow struct {
	rec      JoinRecord
	consumed bool
}

func newMemStore() *memStore {
	return &memStore{
		configs:  make(map[string]Config),
		counters: make(map[string]map[string]*Counters),
		records:  make(map[string]map[string]*joinRecordRow),
		tiers:    make(map[string][]RewardTier),
	}
}

func (m *memStore) countersFor(communityID, userID string) *Counters {
	if m.counters[communityID] == nil {
		m.counters[communityID] = make(map[string]*Counters)
	}
	c, ok := m.counters[communityID][userID]
	if !ok {
		c = &Counters{}
		m.counters[communityID][userID] = c
	}
	return c
}

func (m *memStore) Config(ctx context.Context, communityID string) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Config{}, m.err
	}
	return m.configs[communityID], nil
}

func (m *memStore) EnabledCommunities(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []string
	for id, cfg := range m.configs {
		if cfg.Enabled {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memStore) IncrementRegular(ctx context.Context, communityID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.countersFor(communityID, userID).Regular++
	return nil
}

func (m *memStore) IncrementFake(ctx context.Context, communityID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.countersFor(communityID, userID).Fake++
	return nil
}

func (m *memStore) IncrementLeaves(ctx context.Context, communityID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.countersFor(communityID, userID).Leaves++
	return nil
}

func (m *memStore) AddBonus(ctx context.Context, communityID, userID string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.countersFor(communityID, userID).Bonus += delta
	return nil
}

func (m *memStore) Counters(ctx context.Context, communityID, userID string) (Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Counters{}, m.err
	}
	return *m.countersFor(communityID, userID), nil
}

func (m *memStore) UpsertJoinRecord(ctx context.Context, rec JoinRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.records[rec.CommunityID] == nil {
		m.records[rec.CommunityID] = make(map[string]*joinRecordRow)
	}
	m.records[rec.CommunityID][rec.UserID] = &joinRecordRow{rec: rec}
	return nil
}

func (m *memStore) ConsumeJoinRecord(ctx context.Context, communityID, userID string) (*JoinRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	row, ok := m.records[communityID][userID]
	if !ok || row.consumed {
		return nil, nil
	}
	row.consumed = true
	rec := row.rec
	return &rec, nil
}

func (m *memStore) TiersWithin(ctx context.Context, communityID string, total int64) ([]RewardTier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []RewardTier
	for _, tier := range m.tiers[communityID] {
		if tier.RequiredInvites <= total {
			out = append(out, tier)
		}
	}
	return out, nil
}

// fakeGranter records grant calls and optionally fails them.
type fakeGranter struct {
	mu     sync.Mutex
	grants []string // communityID:userID:roleID
	err    error
}

func (g *fakeGranter) GrantRole(ctx context.Context, communityID, userID, roleID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.grants = append(g.grants, communityID+":"+userID+":"+roleID)
	return nil
}

// fakeAnnouncer records announcement calls.
type fakeAnnouncer struct {
	mu     sync.Mutex
	joins  []Attribution
	leaves []*JoinRecord
	totals []int64
}

func (a *fakeAnnouncer) MemberJoined(ctx context.Context, communityID string, cfg Config, userID string, attr Attribution, inviterTotal int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.joins = append(a.joins, attr)
	a.totals = append(a.totals, inviterTotal)
}

func (a *fakeAnnouncer) MemberLeft(ctx context.Context, communityID string, cfg Config, userID string, rec *JoinRecord, inviterTotal int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leaves = append(a.leaves, rec)
	a.totals = append(a.totals, inviterTotal)
}

var testTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
