// Package cyclecloser implements spec §4.6: validating that a cycle is
// actually complete, returning every outstanding deposit simultaneously,
// and running the no-loss audit of spec §8 before anything is written.
package cyclecloser

import (
	"context"

	luxlog "github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/mypoolr/roscacore/internal/engineerr"
	"github.com/mypoolr/roscacore/internal/eventbus"
	"github.com/mypoolr/roscacore/internal/lockmgr"
	"github.com/mypoolr/roscacore/internal/model"
	"github.com/mypoolr/roscacore/internal/ports"
)

type Closer struct {
	store  ports.StateStore
	locks  *lockmgr.Manager
	bus    *eventbus.Bus
	clock  ports.Clock
	logger luxlog.Logger
}

func New(store ports.StateStore, locks *lockmgr.Manager, bus *eventbus.Bus, clock ports.Clock) *Closer {
	return &Closer{store: store, locks: locks, bus: bus, clock: clock, logger: luxlog.Root()}
}

// Summary is the close_cycle command's output (spec §6).
type Summary struct {
	GroupID         model.GroupID
	DepositsReturned int
	TotalReturned   decimal.Decimal
}

// memberLedger accumulates the four sums the no-loss audit of spec §8
// needs per member.
type memberLedger struct {
	payoutsReceived    decimal.Decimal
	depositReturns     decimal.Decimal
	contributionsMade  decimal.Decimal
	depositsPaid       decimal.Decimal
}

// NoLossAudit implements spec §8's quantified invariant:
//
//	sum(payouts received) + sum(deposit returns) >= sum(contributions made) + sum(deposits paid)
//
// for every member, scanning every transaction in the group.
func NoLossAudit(members []*model.Member, txs []*model.Transaction) (bool, map[model.MemberID]memberLedger) {
	ledgers := make(map[model.MemberID]memberLedger, len(members))
	for _, m := range members {
		ledgers[m.ID] = memberLedger{
			payoutsReceived:   decimal.Zero,
			depositReturns:    decimal.Zero,
			contributionsMade: decimal.Zero,
			depositsPaid:      decimal.Zero,
		}
	}

	for _, tx := range txs {
		if tx.Status != model.ConfirmBothConfirmed {
			continue
		}
		switch tx.Kind {
		case model.KindContribution, model.KindDefaultCoverage:
			if tx.From != nil {
				l := ledgers[*tx.From]
				l.contributionsMade = l.contributionsMade.Add(tx.Amount)
				ledgers[*tx.From] = l
			}
			if tx.To != nil {
				l := ledgers[*tx.To]
				l.payoutsReceived = l.payoutsReceived.Add(tx.Amount)
				ledgers[*tx.To] = l
			}
		case model.KindSecurityDeposit:
			if tx.From != nil {
				l := ledgers[*tx.From]
				l.depositsPaid = l.depositsPaid.Add(tx.Amount)
				ledgers[*tx.From] = l
			}
		case model.KindDepositReturn:
			if tx.To != nil {
				l := ledgers[*tx.To]
				l.depositReturns = l.depositReturns.Add(tx.Amount)
				ledgers[*tx.To] = l
			}
		}
	}

	ok := true
	for _, l := range ledgers {
		inflow := l.payoutsReceived.Add(l.depositReturns)
		outflow := l.contributionsMade.Add(l.depositsPaid)
		if inflow.LessThan(outflow) {
			ok = false
		}
	}
	return ok, ledgers
}

// preconditions implements spec §4.6's precondition list.
func (c *Closer) preconditions(ctx context.Context, group *model.Group, members []*model.Member) error {
	for _, m := range members {
		if m.Status == model.MemberRemoved {
			continue
		}
		accountedForRemoval := !m.InRotation() && m.ReplenishmentRequired.IsZero()
		if !m.HasReceivedPayout && !accountedForRemoval {
			return engineerr.Preconditionf("cycle_incomplete", "member %s has not received payout and has no fully-accounted removal", m.ID)
		}
	}

	if group.CompletedRotations < len(members) {
		return engineerr.Preconditionf("cycle_incomplete", "completed_rotations=%d < member_count=%d", group.CompletedRotations, len(members))
	}

	for rotationIx := 0; rotationIx <= group.CurrentRotationIx; rotationIx++ {
		txs, err := c.store.ReadTransactionsByRotation(ctx, group.ID, rotationIx)
		if err != nil {
			return err
		}
		for _, tx := range txs {
			if !tx.Terminal() {
				return engineerr.Preconditionf("non_terminal_transaction", "transaction %s is in non-terminal state %s", tx.ID, tx.Status)
			}
		}
	}

	allTxs, err := c.allTransactions(ctx, group.ID)
	if err != nil {
		return err
	}
	if ok, _ := NoLossAudit(members, allTxs); !ok {
		return engineerr.Invariantf("no_loss_audit_failed", "no-loss audit failed for group %s", group.ID)
	}
	return nil
}

func (c *Closer) allTransactions(ctx context.Context, groupID model.GroupID) ([]*model.Transaction, error) {
	var all []*model.Transaction
	group, err := c.store.ReadGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	for rotationIx := 0; rotationIx <= group.CurrentRotationIx; rotationIx++ {
		txs, err := c.store.ReadTransactionsByRotation(ctx, groupID, rotationIx)
		if err != nil {
			return nil, err
		}
		all = append(all, txs...)
	}
	return all, nil
}

// Close implements spec §4.6's close_cycle procedure.
func (c *Closer) Close(ctx context.Context, groupID model.GroupID) (*Summary, error) {
	handle, err := c.locks.Acquire(ctx, model.LockCycleClose, groupID.String(), model.DefaultTTL)
	if err != nil {
		return nil, err
	}
	defer handle.Release(ctx)

	var summary *Summary
	err = c.store.InTransaction(ctx, func(ctx context.Context) error {
		group, err := c.store.ReadGroup(ctx, groupID)
		if err != nil {
			return err
		}
		members, err := c.store.ReadMembersByGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if err := c.preconditions(ctx, group, members); err != nil {
			return err
		}

		total := decimal.Zero
		returned := 0
		now := c.clock.Now()
		for _, m := range members {
			if (m.DepositStatus == model.DepositConfirmed || m.DepositStatus == model.DepositLocked) && m.DepositAmount.IsPositive() {
				amount := m.DepositAmount
				m.DepositStatus = model.DepositReturned
				m.IsLockedIn = false
				applied, err := c.store.WriteMember(ctx, m, m.Version)
				if err != nil {
					return err
				}
				if !applied {
					return engineerr.ErrStale
				}

				returnTx := &model.Transaction{
					ID:                   model.NewTransactionID(),
					GroupID:              groupID,
					Kind:                 model.KindDepositReturn,
					To:                   &m.ID,
					Amount:               amount,
					RotationIndex:        group.CurrentRotationIx,
					Status:               model.ConfirmBothConfirmed,
					SenderConfirmedAt:    &now,
					RecipientConfirmedAt: &now,
					CreatedAt:            now,
				}
				if err := c.store.CreateTransaction(ctx, returnTx); err != nil {
					return err
				}
				total = total.Add(amount)
				returned++
				continue
			}
			if m.IsLockedIn {
				m.IsLockedIn = false
				applied, err := c.store.WriteMember(ctx, m, m.Version)
				if err != nil {
					return err
				}
				if !applied {
					return engineerr.ErrStale
				}
			}
		}

		group.Status = model.GroupCompleted
		applied, err := c.store.WriteGroup(ctx, group, group.Version)
		if err != nil {
			return err
		}
		if !applied {
			return engineerr.ErrStale
		}

		summary = &Summary{GroupID: groupID, DepositsReturned: returned, TotalReturned: total}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.bus.Publish(model.Event{
		Kind:      model.EventCycleClosed,
		GroupID:   groupID,
		Payload:   map[string]any{"deposits_returned": summary.DepositsReturned, "total_returned": summary.TotalReturned.String()},
		EmittedAt: c.clock.Now(),
	})
	return summary, nil
}
