package defaulthandler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mypoolr/roscacore/internal/engineerr"
	"github.com/mypoolr/roscacore/internal/eventbus"
	"github.com/mypoolr/roscacore/internal/lockmgr"
	"github.com/mypoolr/roscacore/internal/model"
	"github.com/mypoolr/roscacore/internal/store/memstore"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func newGroup(t *testing.T, store *memstore.Store, memberLimit int) *model.Group {
	t.Helper()
	g := &model.Group{
		ID:   model.NewGroupID(),
		Name: "test",
		Tier: model.TierStarter,
		Config: model.GroupConfig{
			ContributionAmount: decimal.NewFromInt(1000),
			MemberLimit:        memberLimit,
			DepositMultiplier:  decimal.NewFromInt(1),
			Period:             model.PeriodMonthly,
		},
		Status:    model.GroupActive,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateGroup(context.Background(), g))
	return g
}

func newMember(t *testing.T, store *memstore.Store, groupID model.GroupID, position int, deposit decimal.Decimal, received bool) *model.Member {
	t.Helper()
	m := &model.Member{
		ID:                model.NewMemberID(),
		GroupID:           groupID,
		ExternalUserID:    "user-" + position2string(position),
		Position:          position,
		DepositAmount:     deposit,
		DepositStatus:     model.DepositConfirmed,
		Status:            model.MemberActive,
		HasReceivedPayout: received,
		JoinedAt:          time.Now(),
	}
	require.NoError(t, store.CreateMember(context.Background(), m))
	return m
}

func position2string(p int) string {
	return string(rune('0' + p))
}

func TestHandle_DrawsDownDepositAndSuspendsMember(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	group := newGroup(t, store, 5)
	defaulting := newMember(t, store, group.ID, 3, decimal.NewFromInt(2000), false)
	recipient := newMember(t, store, group.ID, 1, decimal.NewFromInt(3000), false)
	m4 := newMember(t, store, group.ID, 4, decimal.NewFromInt(1000), false)
	m5 := newMember(t, store, group.ID, 5, decimal.NewFromInt(1000), false)

	h := New(store, lockmgr.New(store, "holder-a"), eventbus.New(), &fakeClock{t: time.Now()})

	err := h.Handle(ctx, Input{
		GroupID:          group.ID,
		DefaultingMember: defaulting.ID,
		Recipient:        recipient.ID,
		Amount:           decimal.NewFromInt(1000),
		RotationIndex:    0,
	})
	require.NoError(t, err)

	updated, err := store.ReadMember(ctx, defaulting.ID)
	require.NoError(t, err)
	require.True(t, updated.DepositAmount.Equal(decimal.NewFromInt(1000)))
	require.Equal(t, model.DepositLocked, updated.DepositStatus)
	require.Equal(t, model.MemberSuspended, updated.Status)
	require.True(t, updated.IsLockedIn)
	require.Equal(t, model.RemovedPosition, updated.Position)
	require.False(t, updated.ReplenishmentRequired.IsZero(), "expected a nonzero replenishment requirement")

	// Positions above the removed member's old slot (3) shift down by one.
	shifted4, err := store.ReadMember(ctx, m4.ID)
	require.NoError(t, err)
	require.Equal(t, 3, shifted4.Position)
	shifted5, err := store.ReadMember(ctx, m5.ID)
	require.NoError(t, err)
	require.Equal(t, 4, shifted5.Position)

	coverage, err := store.FindDefaultCoverage(ctx, model.DefaultCoverageKey{
		GroupID: group.ID, RotationIndex: 0, DefaultingMember: defaulting.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, coverage)
	require.Equal(t, model.ConfirmBothConfirmed, coverage.Status)
}

func TestHandle_DoesNotRemovePositionIfPayoutAlreadyReceived(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	group := newGroup(t, store, 5)
	defaulting := newMember(t, store, group.ID, 1, decimal.NewFromInt(2000), true)
	recipient := newMember(t, store, group.ID, 2, decimal.NewFromInt(2000), false)

	h := New(store, lockmgr.New(store, "holder-a"), eventbus.New(), &fakeClock{t: time.Now()})

	err := h.Handle(ctx, Input{
		GroupID:          group.ID,
		DefaultingMember: defaulting.ID,
		Recipient:        recipient.ID,
		Amount:           decimal.NewFromInt(1000),
		RotationIndex:    0,
	})
	require.NoError(t, err)

	updated, err := store.ReadMember(ctx, defaulting.ID)
	require.NoError(t, err)
	require.Equal(t, 1, updated.Position, "member who already received their payout keeps their rotation slot for accounting")
	require.Equal(t, model.MemberSuspended, updated.Status)
}

func TestHandle_IdempotentOnceCoverageExists(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	group := newGroup(t, store, 5)
	defaulting := newMember(t, store, group.ID, 2, decimal.NewFromInt(3000), false)
	recipient := newMember(t, store, group.ID, 1, decimal.NewFromInt(3000), false)

	h := New(store, lockmgr.New(store, "holder-a"), eventbus.New(), &fakeClock{t: time.Now()})
	in := Input{GroupID: group.ID, DefaultingMember: defaulting.ID, Recipient: recipient.ID, Amount: decimal.NewFromInt(1000), RotationIndex: 0}

	require.NoError(t, h.Handle(ctx, in))
	afterFirst, err := store.ReadMember(ctx, defaulting.ID)
	require.NoError(t, err)

	require.NoError(t, h.Handle(ctx, in))
	afterSecond, err := store.ReadMember(ctx, defaulting.ID)
	require.NoError(t, err)

	require.True(t, afterFirst.DepositAmount.Equal(afterSecond.DepositAmount), "repeated signal must not draw the deposit down twice")
}

func TestHandle_InsufficientDepositEscalates(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	group := newGroup(t, store, 5)
	defaulting := newMember(t, store, group.ID, 2, decimal.NewFromInt(500), false)
	recipient := newMember(t, store, group.ID, 1, decimal.NewFromInt(500), false)

	var published []model.Event
	bus := eventbus.New()
	bus.Subscribe(ctx, model.EventGroupHalted, func(_ context.Context, evt model.Event) {
		published = append(published, evt)
	})

	h := New(store, lockmgr.New(store, "holder-a"), bus, &fakeClock{t: time.Now()})
	err := h.Handle(ctx, Input{
		GroupID:          group.ID,
		DefaultingMember: defaulting.ID,
		Recipient:        recipient.ID,
		Amount:           decimal.NewFromInt(1000),
		RotationIndex:    0,
	})
	require.Error(t, err)
	require.Equal(t, engineerr.Precondition, engineerr.KindOf(err))
}

func TestReplenish_RestoresConfirmedAndReactivatesIfStillInRotation(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	group := newGroup(t, store, 5)
	m := newMember(t, store, group.ID, 2, decimal.NewFromInt(500), false)
	m.Status = model.MemberSuspended
	m.DepositStatus = model.DepositLocked
	m.ReplenishmentRequired = decimal.NewFromInt(500)
	_, err := store.WriteMember(ctx, m, m.Version)
	require.NoError(t, err)

	h := New(store, lockmgr.New(store, "holder-a"), eventbus.New(), &fakeClock{t: time.Now()})
	require.NoError(t, h.Replenish(ctx, m.ID, decimal.NewFromInt(500)))

	updated, err := store.ReadMember(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, model.DepositConfirmed, updated.DepositStatus)
	require.Equal(t, model.MemberActive, updated.Status)
	require.True(t, updated.ReplenishmentRequired.IsZero())
}

func TestReplenish_RemovedMemberStaysPassive(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	group := newGroup(t, store, 5)
	m := newMember(t, store, group.ID, 2, decimal.NewFromInt(500), false)
	m.Status = model.MemberSuspended
	m.Position = model.RemovedPosition
	m.DepositStatus = model.DepositLocked
	m.ReplenishmentRequired = decimal.NewFromInt(500)
	_, err := store.WriteMember(ctx, m, m.Version)
	require.NoError(t, err)

	h := New(store, lockmgr.New(store, "holder-a"), eventbus.New(), &fakeClock{t: time.Now()})
	require.NoError(t, h.Replenish(ctx, m.ID, decimal.NewFromInt(500)))

	updated, err := store.ReadMember(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, model.DepositConfirmed, updated.DepositStatus)
	require.Equal(t, model.MemberSuspended, updated.Status, "a member removed from rotation never returns to active status within the cycle")
}
