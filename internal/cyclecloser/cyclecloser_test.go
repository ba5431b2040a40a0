package cyclecloser

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

func setupCompletedGroup(t *testing.T, store *memstore.Store, n int) (*model.Group, []*model.Member) {
	t.Helper()
	ctx := context.Background()
	g := &model.Group{
		ID:   model.NewGroupID(),
		Name: "closing",
		Tier: model.TierStarter,
		Config: model.GroupConfig{
			ContributionAmount: decimal.NewFromInt(100),
			MemberLimit:        n,
			DepositMultiplier:  decimal.NewFromInt(1),
			Period:             model.PeriodMonthly,
		},
		Status:             model.GroupActive,
		CurrentRotationIx:  n,
		CompletedRotations: n,
		CreatedAt:          time.Now(),
	}
	require.NoError(t, store.CreateGroup(ctx, g))

	members := make([]*model.Member, 0, n)
	for p := 1; p <= n; p++ {
		m := &model.Member{
			ID:                model.NewMemberID(),
			GroupID:           g.ID,
			ExternalUserID:    "user",
			Position:          p,
			DepositAmount:     decimal.NewFromInt(100),
			DepositStatus:     model.DepositConfirmed,
			Status:            model.MemberActive,
			HasReceivedPayout: true,
			JoinedAt:          time.Now(),
		}
		require.NoError(t, store.CreateMember(ctx, m))
		members = append(members, m)
	}

	// Every member pays into each of the other members' rotations and
	// receives one rotation's payout, balancing the no-loss audit of
	// spec §8.
	for rotationIx := 0; rotationIx < n; rotationIx++ {
		recipient := members[rotationIx]
		for _, m := range members {
			if m.ID == recipient.ID {
				continue
			}
			now := time.Now()
			tx := &model.Transaction{
				ID:                   model.NewTransactionID(),
				GroupID:              g.ID,
				Kind:                 model.KindContribution,
				From:                 &m.ID,
				To:                   &recipient.ID,
				Amount:               decimal.NewFromInt(100),
				RotationIndex:        rotationIx,
				Status:               model.ConfirmBothConfirmed,
				SenderConfirmedAt:    &now,
				RecipientConfirmedAt: &now,
				CreatedAt:            now,
			}
			require.NoError(t, store.CreateTransaction(ctx, tx))
		}
	}

	return g, members
}

func TestClose_ReturnsAllOutstandingDeposits(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	group, members := setupCompletedGroup(t, store, 3)

	c := New(store, lockmgr.New(store, "holder-a"), eventbus.New(), &fakeClock{t: time.Now()})
	summary, err := c.Close(ctx, group.ID)
	require.NoError(t, err)
	require.Equal(t, 3, summary.DepositsReturned)
	require.True(t, summary.TotalReturned.Equal(decimal.NewFromInt(300)))

	closedGroup, err := store.ReadGroup(ctx, group.ID)
	require.NoError(t, err)
	require.Equal(t, model.GroupCompleted, closedGroup.Status)

	for _, m := range members {
		updated, err := store.ReadMember(ctx, m.ID)
		require.NoError(t, err)
		require.Equal(t, model.DepositReturned, updated.DepositStatus)
		require.False(t, updated.IsLockedIn)
	}
}

func TestClose_FailsIfAMemberHasNotReceivedPayout(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	group, members := setupCompletedGroup(t, store, 3)
	members[1].HasReceivedPayout = false
	_, err := store.WriteMember(ctx, members[1], members[1].Version)
	require.NoError(t, err)

	c := New(store, lockmgr.New(store, "holder-a"), eventbus.New(), &fakeClock{t: time.Now()})
	_, err = c.Close(ctx, group.ID)
	require.Error(t, err)
	require.Equal(t, engineerr.Precondition, engineerr.KindOf(err))
}

func TestClose_FailsOnNonTerminalTransaction(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	group, members := setupCompletedGroup(t, store, 3)

	now := time.Now()
	pending := &model.Transaction{
		ID:            model.NewTransactionID(),
		GroupID:       group.ID,
		Kind:          model.KindContribution,
		From:          &members[0].ID,
		To:            &members[1].ID,
		Amount:        decimal.NewFromInt(100),
		RotationIndex: 0,
		Status:        model.ConfirmSenderConfirmed,
		CreatedAt:     now,
	}
	require.NoError(t, store.CreateTransaction(ctx, pending))

	c := New(store, lockmgr.New(store, "holder-a"), eventbus.New(), &fakeClock{t: time.Now()})
	_, err := c.Close(ctx, group.ID)
	require.Error(t, err)
	require.Equal(t, engineerr.Precondition, engineerr.KindOf(err))
}

func TestNoLossAudit_DetectsShortfall(t *testing.T) {
	memberA := &model.Member{ID: model.NewMemberID()}
	memberB := &model.Member{ID: model.NewMemberID()}
	contribution := &model.Transaction{
		Kind:   model.KindContribution,
		From:   &memberA.ID,
		To:     &memberB.ID,
		Amount: decimal.NewFromInt(100),
		Status: model.ConfirmBothConfirmed,
	}
	ok, _ := NoLossAudit([]*model.Member{memberA, memberB}, []*model.Transaction{contribution})
	require.False(t, ok, "memberA paid in 100 and received nothing back, which must fail the audit")
}

func TestNoLossAudit_PassesWhenBalanced(t *testing.T) {
	memberA := &model.Member{ID: model.NewMemberID()}
	memberB := &model.Member{ID: model.NewMemberID()}
	contribution := &model.Transaction{
		Kind:   model.KindContribution,
		From:   &memberA.ID,
		To:     &memberB.ID,
		Amount: decimal.NewFromInt(100),
		Status: model.ConfirmBothConfirmed,
	}
	payout := &model.Transaction{
		Kind:   model.KindContribution,
		From:   &memberB.ID,
		To:     &memberA.ID,
		Amount: decimal.NewFromInt(100),
		Status: model.ConfirmBothConfirmed,
	}
	ok, _ := NoLossAudit([]*model.Member{memberA, memberB}, []*model.Transaction{contribution, payout})
	require.True(t, ok)
}
