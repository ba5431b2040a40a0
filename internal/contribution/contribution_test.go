package contribution

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

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newFSM() *FSM {
	store := memstore.New()
	return New(store, lockmgr.New(store, "holder-1"), eventbus.New(), fixedClock{t: time.Now()})
}

func TestRecordContribution_RejectsNonPositiveAmount(t *testing.T) {
	f := newFSM()
	_, err := f.RecordContribution(context.Background(), model.NewGroupID(), model.NewMemberID(), model.NewMemberID(), decimal.Zero, 0, "ref")
	require.Error(t, err)
	require.Equal(t, engineerr.Validation, engineerr.KindOf(err))
}

func TestConfirm_SenderThenRecipientReachesBothConfirmed(t *testing.T) {
	f := newFSM()
	ctx := context.Background()
	from, to := model.NewMemberID(), model.NewMemberID()
	tx, err := f.RecordContribution(ctx, model.NewGroupID(), from, to, decimal.NewFromInt(100), 0, "ref")
	require.NoError(t, err)

	status, err := f.Confirm(ctx, tx.ID, PartySender)
	require.NoError(t, err)
	require.Equal(t, model.ConfirmSenderConfirmed, status)

	status, err = f.Confirm(ctx, tx.ID, PartyRecipient)
	require.NoError(t, err)
	require.Equal(t, model.ConfirmBothConfirmed, status)
}

func TestConfirm_DuplicateSameSideIsIdempotent(t *testing.T) {
	f := newFSM()
	ctx := context.Background()
	from, to := model.NewMemberID(), model.NewMemberID()
	tx, err := f.RecordContribution(ctx, model.NewGroupID(), from, to, decimal.NewFromInt(100), 0, "ref")
	require.NoError(t, err)

	first, err := f.Confirm(ctx, tx.ID, PartySender)
	require.NoError(t, err)
	second, err := f.Confirm(ctx, tx.ID, PartySender)
	require.NoError(t, err)
	require.Equal(t, first, second)

	stored, err := f.store.ReadTransaction(ctx, tx.ID)
	require.NoError(t, err)
	// Create stores version 1 and the first confirm writes version 2.
	require.Equal(t, int64(2), stored.Version, "an idempotent re-confirm must not write a new version")
}

func TestConfirm_RejectsOnACancelledTransaction(t *testing.T) {
	f := newFSM()
	ctx := context.Background()
	from, to := model.NewMemberID(), model.NewMemberID()
	tx, err := f.RecordContribution(ctx, model.NewGroupID(), from, to, decimal.NewFromInt(100), 0, "ref")
	require.NoError(t, err)
	require.NoError(t, f.DeadlineElapsed(ctx, tx.ID))

	_, err = f.Confirm(ctx, tx.ID, PartySender)
	require.Error(t, err)
	require.Equal(t, engineerr.Precondition, engineerr.KindOf(err))
}

func TestDeadlineElapsed_CancelsAPendingTransactionAndPublishesDefaulted(t *testing.T) {
	store := memstore.New()
	bus := eventbus.New()
	f := New(store, lockmgr.New(store, "holder-1"), bus, fixedClock{t: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received := make(chan model.Event, 1)
	bus.Subscribe(ctx, model.EventContributionDefaulted, func(_ context.Context, evt model.Event) {
		received <- evt
	})

	from, to := model.NewMemberID(), model.NewMemberID()
	tx, err := f.RecordContribution(ctx, model.NewGroupID(), from, to, decimal.NewFromInt(250), 2, "ref")
	require.NoError(t, err)

	require.NoError(t, f.DeadlineElapsed(ctx, tx.ID))

	stored, err := store.ReadTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, model.ConfirmCancelled, stored.Status)

	select {
	case evt := <-received:
		require.Equal(t, tx.GroupID, evt.GroupID)
		require.Equal(t, 2, evt.Payload["rotation_index"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ContributionDefaulted")
	}
}

func TestDeadlineElapsed_OnAlreadyTerminalTransactionIsANoOp(t *testing.T) {
	f := newFSM()
	ctx := context.Background()
	from, to := model.NewMemberID(), model.NewMemberID()
	tx, err := f.RecordContribution(ctx, model.NewGroupID(), from, to, decimal.NewFromInt(100), 0, "ref")
	require.NoError(t, err)
	require.NoError(t, f.DeadlineElapsed(ctx, tx.ID))

	require.NoError(t, f.DeadlineElapsed(ctx, tx.ID))
}

func TestDeadline_AddsConfiguredWindowToRotationStart(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := model.GroupConfig{Period: model.PeriodWeekly}
	require.Equal(t, start.Add(cfg.Period.DeadlineWindow()), Deadline(start, cfg))
}
