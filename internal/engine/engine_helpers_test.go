package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mypoolr/roscacore/internal/model"
	"github.com/mypoolr/roscacore/internal/obsmetrics"
	"github.com/mypoolr/roscacore/internal/ports"
	"github.com/mypoolr/roscacore/internal/store/memstore"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeScheduler records armed/cancelled handles without ever firing
// them itself; tests drive fires explicitly via CoreContext.HandleTimerFire.
type fakeScheduler struct {
	mu     sync.Mutex
	armed  map[string]struct{}
	nextID int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{armed: make(map[string]struct{})}
}

var _ ports.Scheduler = (*fakeScheduler)(nil)

func (s *fakeScheduler) Arm(_ context.Context, taskID string, _ time.Time, _ map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	handle := taskID
	s.armed[handle] = struct{}{}
	return handle, nil
}

func (s *fakeScheduler) Cancel(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.armed, handle)
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	emitted []string
}

var _ ports.NotificationSink = (*fakeNotifier)(nil)

func (n *fakeNotifier) Emit(_ context.Context, eventKind, recipientRef, templateKey string, _ map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emitted = append(n.emitted, eventKind+":"+recipientRef+":"+templateKey)
	return nil
}

type fakeAuditSink struct {
	mu      sync.Mutex
	entries []string
}

var _ ports.Audit = (*fakeAuditSink)(nil)

func (a *fakeAuditSink) Append(_ context.Context, kind, severity string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, kind+":"+severity)
	return nil
}

func newTestContext(holderID string, clock ports.Clock) (*CoreContext, *fakeScheduler, *fakeNotifier, *fakeAuditSink) {
	sched := newFakeScheduler()
	notifier := &fakeNotifier{}
	auditSink := &fakeAuditSink{}
	c := New(Deps{
		Store:         memstore.New(),
		Scheduler:     sched,
		Notifications: notifier,
		AuditSink:     auditSink,
		Clock:         clock,
		Metrics:       obsmetrics.New(),
		HolderID:      holderID,
	})
	return c, sched, notifier, auditSink
}

// buildGroup creates a group of n members, each joined at their natural
// position and deposit-confirmed at exactly the required amount for
// that position.
func buildGroup(t *testing.T, ctx context.Context, c *CoreContext, n int, contributionAmount decimal.Decimal, period model.RotationPeriod) (model.GroupID, []*model.Member) {
	t.Helper()
	groupID, err := c.CreateGroup(ctx, CreateGroupInput{
		Name:               "test group",
		AdminRef:           "admin-1",
		ContributionAmount: contributionAmount,
		Period:             period,
		MemberLimit:        n,
		DepositMultiplier:  decimal.NewFromInt(1),
		Tier:               model.TierEssential,
	})
	require.NoError(t, err)

	members := make([]*model.Member, n)
	for i := 0; i < n; i++ {
		res, err := c.JoinGroup(ctx, groupID, externalUserRef(i), 0)
		require.NoError(t, err)
		err = c.ConfirmDeposit(ctx, res.Member.ID, "admin-1", res.RequiredDeposit, "ref-"+externalUserRef(i))
		require.NoError(t, err)
		members[res.Member.Position-1] = res.Member
	}
	return groupID, members
}

func externalUserRef(i int) string {
	return "user-" + string(rune('a'+i))
}

// settleContribution records one contribution and drives it to
// both_confirmed via sender then recipient confirmation.
func settleContribution(t *testing.T, ctx context.Context, c *CoreContext, groupID model.GroupID, from, to model.MemberID, amount decimal.Decimal, rotationIndex int) model.TransactionID {
	t.Helper()
	txID, err := c.RecordContribution(ctx, groupID, from, to, amount, rotationIndex, "ext-ref")
	require.NoError(t, err)

	_, err = c.ConfirmContribution(ctx, txID, "sender", from.String())
	require.NoError(t, err)
	status, err := c.ConfirmContribution(ctx, txID, "recipient", to.String())
	require.NoError(t, err)
	require.Equal(t, model.ConfirmBothConfirmed, status)
	return txID
}
