// Package contribution implements spec §4.4: one ContributionFSM
// instance per expected contribution, driving sender/recipient dual
// confirmation, idempotent re-confirmation, and the deadline_elapsed
// transition into the default flow. Grounded on the same
// conditional-transition/optimistic-concurrency discipline as
// internal/rotation, itself grounded on luxfi-evm's txpool reservation
// handling.
package contribution

import (
	"context"
	"time"

	luxlog "github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/mypoolr/roscacore/internal/engineerr"
	"github.com/mypoolr/roscacore/internal/eventbus"
	"github.com/mypoolr/roscacore/internal/lockmgr"
	"github.com/mypoolr/roscacore/internal/model"
	"github.com/mypoolr/roscacore/internal/ports"
)

// Party identifies which side of a contribution is confirming.
type Party string

const (
	PartySender    Party = "sender"
	PartyRecipient Party = "recipient"
)

type FSM struct {
	store  ports.StateStore
	locks  *lockmgr.Manager
	bus    *eventbus.Bus
	clock  ports.Clock
	logger luxlog.Logger
}

func New(store ports.StateStore, locks *lockmgr.Manager, bus *eventbus.Bus, clock ports.Clock) *FSM {
	return &FSM{store: store, locks: locks, bus: bus, clock: clock, logger: luxlog.Root()}
}

// RecordContribution creates a new pending contribution transaction for
// one (from, to) pair in one rotation.
func (f *FSM) RecordContribution(ctx context.Context, groupID model.GroupID, from, to model.MemberID, amount decimal.Decimal, rotationIndex int, externalRef string) (*model.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, engineerr.Validationf("invalid_amount", "contribution amount must be positive, got %s", amount)
	}
	tx := &model.Transaction{
		ID:            model.NewTransactionID(),
		GroupID:       groupID,
		Kind:          model.KindContribution,
		From:          &from,
		To:            &to,
		Amount:        amount,
		RotationIndex: rotationIndex,
		Status:        model.ConfirmPending,
		Metadata:      map[string]string{"external_ref": externalRef},
		CreatedAt:     f.clock.Now(),
	}
	if err := f.store.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// Confirm implements the sender_confirm / recipient_confirm transitions
// of spec §4.4. Each confirmation is idempotent: a party confirming
// twice is a no-op that returns the current state without error.
func (f *FSM) Confirm(ctx context.Context, txID model.TransactionID, party Party) (model.ConfirmationStatus, error) {
	handle, err := f.locks.Acquire(ctx, model.LockTransactionWrite, txID.String(), model.DefaultTTL)
	if err != nil {
		return "", err
	}
	defer handle.Release(ctx)

	tx, err := f.store.ReadTransaction(ctx, txID)
	if err != nil {
		return "", err
	}
	if tx.Status == model.ConfirmCancelled {
		return "", engineerr.Preconditionf("transaction_cancelled", "transaction %s already cancelled", txID)
	}

	now := f.clock.Now()
	next, alreadyApplied := nextState(tx.Status, party)
	if alreadyApplied {
		return tx.Status, nil
	}

	switch party {
	case PartySender:
		if tx.SenderConfirmedAt == nil {
			tx.SenderConfirmedAt = &now
		}
	case PartyRecipient:
		if tx.RecipientConfirmedAt == nil {
			tx.RecipientConfirmedAt = &now
		}
	default:
		return "", engineerr.Validationf("invalid_party", "unknown confirming party %q", party)
	}
	tx.Status = next

	applied, err := f.store.WriteTransaction(ctx, tx, tx.Version)
	if err != nil {
		return "", err
	}
	if !applied {
		return "", engineerr.ErrStale
	}

	if tx.Status == model.ConfirmBothConfirmed {
		f.bus.Publish(model.Event{
			Kind:      model.EventContributionCompleted,
			GroupID:   tx.GroupID,
			MemberID:  memberIDOrZero(tx.From),
			Payload:   map[string]any{"transaction_id": txID.String(), "amount": tx.Amount.String()},
			EmittedAt: now,
		})

		last, err := f.isLastOutstandingOfRotation(ctx, tx.GroupID, tx.RotationIndex, tx.ID)
		if err != nil {
			return "", err
		}
		if last {
			f.bus.Publish(model.Event{
				Kind:      model.EventRotationReadyToAdvance,
				GroupID:   tx.GroupID,
				Payload:   map[string]any{"rotation_index": tx.RotationIndex},
				EmittedAt: now,
			})
		}
	}

	return tx.Status, nil
}

func memberIDOrZero(id *model.MemberID) model.MemberID {
	if id == nil {
		return model.MemberID{}
	}
	return *id
}

// nextState computes the transition table of spec §4.4's diagram.
// alreadyApplied is true when this exact confirmation was already
// recorded, making the call a no-op.
func nextState(current model.ConfirmationStatus, party Party) (next model.ConfirmationStatus, alreadyApplied bool) {
	switch current {
	case model.ConfirmPending:
		if party == PartySender {
			return model.ConfirmSenderConfirmed, false
		}
		return model.ConfirmRecipientConfirmed, false
	case model.ConfirmSenderConfirmed:
		if party == PartySender {
			return current, true
		}
		return model.ConfirmBothConfirmed, false
	case model.ConfirmRecipientConfirmed:
		if party == PartyRecipient {
			return current, true
		}
		return model.ConfirmBothConfirmed, false
	case model.ConfirmBothConfirmed:
		return current, true
	default:
		return current, true
	}
}

func (f *FSM) isLastOutstandingOfRotation(ctx context.Context, groupID model.GroupID, rotationIndex int, justCompleted model.TransactionID) (bool, error) {
	txs, err := f.store.ReadTransactionsByRotation(ctx, groupID, rotationIndex)
	if err != nil {
		return false, err
	}
	for _, tx := range txs {
		if tx.Kind != model.KindContribution {
			continue
		}
		if tx.ID == justCompleted {
			continue
		}
		if !tx.Terminal() {
			return false, nil
		}
	}
	return true, nil
}

// DeadlineElapsed implements the deadline_elapsed transition: moves a
// non-terminal transaction to cancelled and emits ContributionDefaulted.
// Driven by TimerDispatcher; a fire on an already-terminal transaction
// is a safe no-op (spec §5 idempotency).
func (f *FSM) DeadlineElapsed(ctx context.Context, txID model.TransactionID) error {
	handle, err := f.locks.Acquire(ctx, model.LockTransactionWrite, txID.String(), model.DefaultTTL)
	if err != nil {
		return err
	}
	defer handle.Release(ctx)

	tx, err := f.store.ReadTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Terminal() {
		return nil
	}

	tx.Status = model.ConfirmCancelled
	applied, err := f.store.WriteTransaction(ctx, tx, tx.Version)
	if err != nil {
		return err
	}
	if !applied {
		return engineerr.ErrStale
	}

	f.bus.Publish(model.Event{
		Kind:      model.EventContributionDefaulted,
		GroupID:   tx.GroupID,
		MemberID:  memberIDOrZero(tx.From),
		Payload: map[string]any{
			"transaction_id": txID.String(),
			"amount":         tx.Amount.String(),
			"recipient":      memberIDOrZero(tx.To).String(),
			"rotation_index": tx.RotationIndex,
		},
		EmittedAt: f.clock.Now(),
	})
	return nil
}

// Deadline computes the dual-confirmation deadline for a rotation given
// when it started, per spec §4.4.
func Deadline(rotationStartedAt time.Time, cfg model.GroupConfig) time.Time {
	return rotationStartedAt.Add(cfg.Deadline())
}

// ReminderOffsets are the three reminder lead times of spec §4.4.
var ReminderOffsets = []time.Duration{24 * time.Hour, 6 * time.Hour, 1 * time.Hour}
