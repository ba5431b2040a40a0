package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mypoolr/roscacore/internal/engineerr"
	"github.com/mypoolr/roscacore/internal/model"
)

func TestExitConditionFor_MapsEveryKind(t *testing.T) {
	cases := []struct {
		err  error
		want ExitCondition
	}{
		{nil, ExitOK},
		{engineerr.Conflictf("c", "conflict"), ExitConflict},
		{engineerr.Transientf("t", "transient"), ExitConflict},
		{engineerr.Invariantf("i", "invariant"), ExitInvariantViolation},
		{engineerr.Validationf("v", "validation"), ExitPreconditionFailed},
		{engineerr.Preconditionf("p", "precondition"), ExitPreconditionFailed},
		{engineerr.NotFoundf("not found"), ExitNotFound},
		{errors.New("raw store error"), ExitInternal},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ExitConditionFor(tc.err))
	}
}

func TestCreateGroup_SucceedsWithinTierLimit(t *testing.T) {
	ctx := context.Background()
	c, _, _, _ := newTestContext("holder-1", newFakeClock(time.Now()))

	groupID, err := c.CreateGroup(ctx, CreateGroupInput{
		Name:               "weekly four",
		AdminRef:           "admin-1",
		ContributionAmount: decimal.NewFromInt(1000),
		Period:             model.PeriodWeekly,
		MemberLimit:        4,
		DepositMultiplier:  decimal.NewFromInt(1),
		Tier:               model.TierStarter,
	})
	require.NoError(t, err)
	require.False(t, groupID.IsZero())
}

func TestCreateGroup_RejectsOverTierLimit(t *testing.T) {
	ctx := context.Background()
	c, _, _, _ := newTestContext("holder-1", newFakeClock(time.Now()))

	_, err := c.CreateGroup(ctx, CreateGroupInput{
		Name:               "too big",
		ContributionAmount: decimal.NewFromInt(1000),
		Period:             model.PeriodWeekly,
		MemberLimit:        50,
		DepositMultiplier:  decimal.NewFromInt(1),
		Tier:               model.TierStarter,
	})
	require.Error(t, err)
	require.Equal(t, engineerr.Validation, engineerr.KindOf(err))
}

func TestJoinGroup_AssignsSequentialPositionsAndRequiredDeposit(t *testing.T) {
	ctx := context.Background()
	c, _, _, _ := newTestContext("holder-1", newFakeClock(time.Now()))

	groupID, err := c.CreateGroup(ctx, CreateGroupInput{
		Name: "g", ContributionAmount: decimal.NewFromInt(1000), Period: model.PeriodWeekly,
		MemberLimit: 3, DepositMultiplier: decimal.NewFromInt(1), Tier: model.TierStarter,
	})
	require.NoError(t, err)

	first, err := c.JoinGroup(ctx, groupID, "user-a", 0)
	require.NoError(t, err)
	require.Equal(t, 1, first.Member.Position)
	require.True(t, decimal.NewFromInt(2000).Equal(first.RequiredDeposit))

	second, err := c.JoinGroup(ctx, groupID, "user-b", 0)
	require.NoError(t, err)
	require.Equal(t, 2, second.Member.Position)
	require.True(t, decimal.NewFromInt(1000).Equal(second.RequiredDeposit))
}

func TestConfirmDeposit_ActivatesMemberWhenAmountMeetsRequirement(t *testing.T) {
	ctx := context.Background()
	c, _, _, _ := newTestContext("holder-1", newFakeClock(time.Now()))

	groupID, err := c.CreateGroup(ctx, CreateGroupInput{
		Name: "g", ContributionAmount: decimal.NewFromInt(500), Period: model.PeriodWeekly,
		MemberLimit: 2, DepositMultiplier: decimal.NewFromInt(1), Tier: model.TierStarter,
	})
	require.NoError(t, err)
	res, err := c.JoinGroup(ctx, groupID, "user-a", 0)
	require.NoError(t, err)

	err = c.ConfirmDeposit(ctx, res.Member.ID, "admin-1", res.RequiredDeposit, "ref-1")
	require.NoError(t, err)

	member, err := c.store.ReadMember(ctx, res.Member.ID)
	require.NoError(t, err)
	require.Equal(t, model.DepositConfirmed, member.DepositStatus)
	require.Equal(t, model.MemberActive, member.Status)
}

func TestConfirmDeposit_RejectsWhenNotPending(t *testing.T) {
	ctx := context.Background()
	c, _, _, _ := newTestContext("holder-1", newFakeClock(time.Now()))

	groupID, err := c.CreateGroup(ctx, CreateGroupInput{
		Name: "g", ContributionAmount: decimal.NewFromInt(500), Period: model.PeriodWeekly,
		MemberLimit: 2, DepositMultiplier: decimal.NewFromInt(1), Tier: model.TierStarter,
	})
	require.NoError(t, err)
	res, err := c.JoinGroup(ctx, groupID, "user-a", 0)
	require.NoError(t, err)
	require.NoError(t, c.ConfirmDeposit(ctx, res.Member.ID, "admin-1", res.RequiredDeposit, "ref-1"))

	err = c.ConfirmDeposit(ctx, res.Member.ID, "admin-1", res.RequiredDeposit, "ref-2")
	require.Error(t, err)
	require.Equal(t, engineerr.Precondition, engineerr.KindOf(err))
}

func TestRequestLeave_BlocksAMemberThatHasReceivedPayout(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Now())
	c, _, _, _ := newTestContext("holder-1", clock)

	groupID, members := buildGroup(t, ctx, c, 2, decimal.NewFromInt(1000), model.PeriodWeekly)
	settleContribution(t, ctx, c, groupID, members[1].ID, members[0].ID, decimal.NewFromInt(1000), 0)

	res, err := c.AdvanceRotation(ctx, groupID, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.NewIndex)

	decision, err := c.RequestLeave(ctx, members[0].ID, members[0].ExternalUserID)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Contains(t, decision.Reason, "is_locked_in=true")
}

func TestRequestLeave_AllowsAMemberNotYetLockedIn(t *testing.T) {
	ctx := context.Background()
	c, _, _, _ := newTestContext("holder-1", newFakeClock(time.Now()))

	groupID, members := buildGroup(t, ctx, c, 2, decimal.NewFromInt(1000), model.PeriodWeekly)
	_ = groupID

	decision, err := c.RequestLeave(ctx, members[1].ID, members[1].ExternalUserID)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

func TestAudit_ReportsNoFindingsOnFreshlyBuiltGroup(t *testing.T) {
	ctx := context.Background()
	c, _, _, _ := newTestContext("holder-1", newFakeClock(time.Now()))

	groupID, _ := buildGroup(t, ctx, c, 3, decimal.NewFromInt(900), model.PeriodMonthly)

	report, err := c.Audit(ctx, groupID)
	require.NoError(t, err)
	require.Empty(t, report.Findings)
}
