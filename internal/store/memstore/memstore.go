// Package memstore is the reference StateStore adapter (spec §6):
// an in-process, mutex-guarded map keyed by id, with optimistic
// concurrency enforced by comparing a caller-supplied expected version
// against the row's current version before applying a write. It is the
// store used by this repository's own tests and by cmd/roscad; a
// production deployment would swap this for a relational adapter behind
// the same ports.StateStore interface (spec §1 non-goal).
//
// Grounded on the compare-and-swap / compare-and-delete KeyValueStore
// shape of ep-eaglepoint...lease-manager-repository_after.go, adapted
// from raw byte values with an int64 revision to typed rows with a
// Version field.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/mypoolr/roscacore/internal/engineerr"
	"github.com/mypoolr/roscacore/internal/model"
)

type Store struct {
	// mu guards the maps for every individual call.
	mu sync.Mutex
	// txMu is held for the full duration of InTransaction so that
	// concurrent transactions (e.g. two CycleCloser runs) never
	// interleave their multi-step writes. It is a separate lock from mu
	// (rather than reusing mu across the whole callback) because mu must
	// remain available, non-reentrantly, to the individual Write*/Read*
	// calls issued from inside fn.
	txMu sync.Mutex

	groups       map[model.GroupID]*model.Group
	members      map[model.MemberID]*model.Member
	transactions map[model.TransactionID]*model.Transaction
	leases       map[model.LeaseID]*model.Lease
}

func New() *Store {
	return &Store{
		groups:       make(map[model.GroupID]*model.Group),
		members:      make(map[model.MemberID]*model.Member),
		transactions: make(map[model.TransactionID]*model.Transaction),
		leases:       make(map[model.LeaseID]*model.Lease),
	}
}

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

// --- Group ---

func (s *Store) CreateGroup(_ context.Context, g *model.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.groups[g.ID]; exists {
		return engineerr.Conflictf("already_exists", "group %s already exists", g.ID)
	}
	g.Version = 1
	s.groups[g.ID] = clone(g)
	return nil
}

func (s *Store) ReadGroup(_ context.Context, id model.GroupID) (*model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, engineerr.NotFoundf("group %s not found", id)
	}
	return clone(g), nil
}

func (s *Store) WriteGroup(_ context.Context, g *model.Group, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.groups[g.ID]
	if !ok {
		return false, engineerr.NotFoundf("group %s not found", g.ID)
	}
	if cur.Version != expectedVersion {
		return false, nil
	}
	g.Version = cur.Version + 1
	s.groups[g.ID] = clone(g)
	return true, nil
}

// --- Member ---

func (s *Store) CreateMember(_ context.Context, m *model.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.members[m.ID]; exists {
		return engineerr.Conflictf("already_exists", "member %s already exists", m.ID)
	}
	for _, existing := range s.members {
		if existing.GroupID == m.GroupID && existing.ExternalUserID == m.ExternalUserID {
			return engineerr.Conflictf("already_member", "external user %s already a member of group %s", m.ExternalUserID, m.GroupID)
		}
	}
	m.Version = 1
	s.members[m.ID] = clone(m)
	return nil
}

func (s *Store) ReadMember(_ context.Context, id model.MemberID) (*model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return nil, engineerr.NotFoundf("member %s not found", id)
	}
	return clone(m), nil
}

func (s *Store) ReadMembersByGroup(_ context.Context, groupID model.GroupID) ([]*model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Member
	for _, m := range s.members {
		if m.GroupID == groupID {
			out = append(out, clone(m))
		}
	}
	return out, nil
}

func (s *Store) FindMemberByExternalUser(_ context.Context, groupID model.GroupID, externalUserID string) (*model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.GroupID == groupID && m.ExternalUserID == externalUserID {
			return clone(m), nil
		}
	}
	return nil, engineerr.NotFoundf("no member %s in group %s", externalUserID, groupID)
}

func (s *Store) WriteMember(_ context.Context, m *model.Member, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.members[m.ID]
	if !ok {
		return false, engineerr.NotFoundf("member %s not found", m.ID)
	}
	if cur.Version != expectedVersion {
		return false, nil
	}
	m.Version = cur.Version + 1
	s.members[m.ID] = clone(m)
	return true, nil
}

// --- Transaction ---

func (s *Store) CreateTransaction(_ context.Context, t *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.transactions[t.ID]; exists {
		return engineerr.Conflictf("already_exists", "transaction %s already exists", t.ID)
	}
	if t.Kind == model.KindDefaultCoverage {
		key := model.DefaultCoverageKey{GroupID: t.GroupID, RotationIndex: t.RotationIndex, DefaultingMember: *t.From}
		for _, existing := range s.transactions {
			if existing.Kind != model.KindDefaultCoverage {
				continue
			}
			if existing.GroupID == key.GroupID && existing.RotationIndex == key.RotationIndex && existing.From != nil && *existing.From == key.DefaultingMember {
				return engineerr.Conflictf("already_exists", "default coverage for %+v already recorded", key)
			}
		}
	}
	t.Version = 1
	s.transactions[t.ID] = clone(t)
	return nil
}

func (s *Store) ReadTransaction(_ context.Context, id model.TransactionID) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, engineerr.NotFoundf("transaction %s not found", id)
	}
	return clone(t), nil
}

func (s *Store) ReadTransactionsByRotation(_ context.Context, groupID model.GroupID, rotationIndex int) ([]*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Transaction
	for _, t := range s.transactions {
		if t.GroupID == groupID && t.RotationIndex == rotationIndex {
			out = append(out, clone(t))
		}
	}
	return out, nil
}

func (s *Store) WriteTransaction(_ context.Context, t *model.Transaction, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.transactions[t.ID]
	if !ok {
		return false, engineerr.NotFoundf("transaction %s not found", t.ID)
	}
	if cur.Version != expectedVersion {
		return false, nil
	}
	t.Version = cur.Version + 1
	s.transactions[t.ID] = clone(t)
	return true, nil
}

func (s *Store) FindDefaultCoverage(_ context.Context, key model.DefaultCoverageKey) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transactions {
		if t.Kind != model.KindDefaultCoverage {
			continue
		}
		if t.GroupID == key.GroupID && t.RotationIndex == key.RotationIndex && t.From != nil && *t.From == key.DefaultingMember {
			return clone(t), nil
		}
	}
	return nil, nil
}

// --- Lease ---

func (s *Store) AcquireLease(_ context.Context, kind model.LockKind, resource, holderID string, ttl time.Duration) (*model.Lease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, l := range s.leases {
		if l.Kind == kind && l.Resource == resource && !l.Expired(now) {
			return nil, false, nil
		}
	}
	lease := &model.Lease{
		ID:        model.NewLeaseID(),
		Kind:      kind,
		Resource:  resource,
		HolderID:  holderID,
		ExpiresAt: now.Add(ttl),
	}
	s.leases[lease.ID] = clone(lease)
	return clone(lease), true, nil
}

func (s *Store) ReleaseLease(_ context.Context, leaseID model.LeaseID, holderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[leaseID]
	if !ok || l.HolderID != holderID {
		// Releasing a lease that's gone or was reassigned is a no-op,
		// per spec §4.2: "delete only by (lease id, holder id)".
		return nil
	}
	delete(s.leases, leaseID)
	return nil
}

func (s *Store) SweepExpiredLeases(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, l := range s.leases {
		if l.Expired(now) {
			delete(s.leases, id)
			n++
		}
	}
	return n, nil
}

// InTransaction serializes the whole callback against other
// transactions so the multi-step writes of spec §4.6 step 5 ("single
// store transaction") are never interleaved with another transaction's.
// Individual Read*/Write* calls issued from inside fn still take mu for
// their own brief critical section, same as when called standalone.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(ctx)
}
