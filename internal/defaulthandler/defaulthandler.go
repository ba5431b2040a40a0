// Package defaulthandler implements spec §4.5: drawing from a
// defaulting member's security deposit to cover a missed contribution,
// suspending the member, excluding them from future rotation turns if
// they hadn't received their payout yet, and computing the
// replenishment they now owe. Grounded on the same store/lease
// discipline as internal/rotation and internal/contribution.
package defaulthandler

import (
	"context"

	luxlog "github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/mypoolr/roscacore/internal/depositcalc"
	"github.com/mypoolr/roscacore/internal/engineerr"
	"github.com/mypoolr/roscacore/internal/eventbus"
	"github.com/mypoolr/roscacore/internal/lockmgr"
	"github.com/mypoolr/roscacore/internal/model"
	"github.com/mypoolr/roscacore/internal/ports"
)

type Handler struct {
	store  ports.StateStore
	locks  *lockmgr.Manager
	bus    *eventbus.Bus
	clock  ports.Clock
	logger luxlog.Logger
}

func New(store ports.StateStore, locks *lockmgr.Manager, bus *eventbus.Bus, clock ports.Clock) *Handler {
	return &Handler{store: store, locks: locks, bus: bus, clock: clock, logger: luxlog.Root()}
}

// Input is the ContributionDefaulted payload this handler reacts to.
type Input struct {
	GroupID          model.GroupID
	DefaultingMember model.MemberID
	Recipient        model.MemberID
	Amount           decimal.Decimal
	RotationIndex    int
}

// Handle implements spec §4.5 steps 1-4. It is idempotent: a repeated
// signal for the same (group, rotation_index, defaulting_member) is a
// no-op once the default_coverage transaction exists (spec §5).
func (h *Handler) Handle(ctx context.Context, in Input) error {
	resource := in.GroupID.String() + ":" + in.DefaultingMember.String()
	handle, err := h.locks.Acquire(ctx, model.LockDefaultHandling, resource, model.DefaultTTL)
	if err != nil {
		return err
	}
	defer handle.Release(ctx)

	existing, err := h.store.FindDefaultCoverage(ctx, model.DefaultCoverageKey{
		GroupID: in.GroupID, RotationIndex: in.RotationIndex, DefaultingMember: in.DefaultingMember,
	})
	if err != nil {
		return err
	}
	if existing != nil {
		h.logger.Debug("default already covered, skipping", "group", in.GroupID.String(), "member", in.DefaultingMember.String())
		return nil
	}

	// Ordered acquisition: security_deposit(member) before
	// transaction_write(new), per spec §4.5's "nested-free ordered
	// acquisition".
	depositHandle, err := h.locks.Acquire(ctx, model.LockSecurityDeposit, in.DefaultingMember.String(), model.DefaultTTL)
	if err != nil {
		return err
	}
	defer depositHandle.Release(ctx)

	member, err := h.store.ReadMember(ctx, in.DefaultingMember)
	if err != nil {
		return err
	}

	if (member.DepositStatus != model.DepositConfirmed && member.DepositStatus != model.DepositLocked) || member.DepositAmount.LessThan(in.Amount) {
		h.bus.Publish(model.Event{
			Kind:     model.EventGroupHalted,
			GroupID:  in.GroupID,
			MemberID: in.DefaultingMember,
			Payload: map[string]any{
				"reason":           "insufficient_deposit",
				"owed":             in.Amount.String(),
				"available":        member.DepositAmount.String(),
			},
			EmittedAt: h.clock.Now(),
		})
		return engineerr.Preconditionf("insufficient_deposit", "member %s deposit %s cannot cover contribution %s", member.ID, member.DepositAmount, in.Amount)
	}

	newTxID := model.NewTransactionID()
	txHandle, err := h.locks.Acquire(ctx, model.LockTransactionWrite, newTxID.String(), model.DefaultTTL)
	if err != nil {
		return err
	}
	defer txHandle.Release(ctx)

	member.DepositAmount = member.DepositAmount.Sub(in.Amount)
	if member.DepositAmount.IsZero() {
		member.DepositStatus = model.DepositUsed
	} else {
		member.DepositStatus = model.DepositLocked
	}
	applied, err := h.store.WriteMember(ctx, member, member.Version)
	if err != nil {
		return err
	}
	if !applied {
		return engineerr.ErrStale
	}

	now := h.clock.Now()
	coverage := &model.Transaction{
		ID:                   newTxID,
		GroupID:              in.GroupID,
		Kind:                 model.KindDefaultCoverage,
		From:                 &in.DefaultingMember,
		To:                   &in.Recipient,
		Amount:               in.Amount,
		RotationIndex:        in.RotationIndex,
		Status:               model.ConfirmBothConfirmed,
		SenderConfirmedAt:    &now,
		RecipientConfirmedAt: &now,
		CreatedAt:            now,
	}
	if err := h.store.CreateTransaction(ctx, coverage); err != nil {
		return err
	}

	if err := h.applyConsequences(ctx, member); err != nil {
		return err
	}

	return nil
}

// applyConsequences implements spec §4.5 step 4: suspend the member,
// lock them in, and if they hadn't received a payout yet, remove them
// from rotation (position = -1) and shift higher positions down by one
// under group_write, then persist the replenishment requirement.
func (h *Handler) applyConsequences(ctx context.Context, member *model.Member) error {
	groupHandle, err := h.locks.Acquire(ctx, model.LockGroupWrite, member.GroupID.String(), model.DefaultTTL)
	if err != nil {
		return err
	}
	defer groupHandle.Release(ctx)

	group, err := h.store.ReadGroup(ctx, member.GroupID)
	if err != nil {
		return err
	}

	member.Status = model.MemberSuspended
	member.IsLockedIn = true

	newPositionOrOld := member.Position
	if !member.HasReceivedPayout {
		removedPosition := member.Position
		member.Position = model.RemovedPosition
		newPositionOrOld = removedPosition

		others, err := h.store.ReadMembersByGroup(ctx, member.GroupID)
		if err != nil {
			return err
		}
		for _, other := range others {
			if other.ID == member.ID {
				continue
			}
			if other.Position > removedPosition {
				other.Position--
				applied, err := h.store.WriteMember(ctx, other, other.Version)
				if err != nil {
					return err
				}
				if !applied {
					return engineerr.ErrStale
				}
			}
		}
	}

	required, err := depositcalc.RequiredForPosition(group.Config, clamp(newPositionOrOld, 1, group.Config.MemberLimit))
	if err != nil {
		return err
	}
	replenishment := required.Sub(member.DepositAmount)
	if replenishment.IsNegative() {
		replenishment = decimal.Zero
	}
	member.ReplenishmentRequired = replenishment

	applied, err := h.store.WriteMember(ctx, member, member.Version)
	if err != nil {
		return err
	}
	if !applied {
		return engineerr.ErrStale
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Replenish implements spec §4.5's replenishment path: an external
// deposit top-up transitions deposit_status back to confirmed. The
// member returns to active status only if they have not yet been
// removed from rotation (position <= 0 means they stay passive per the
// Open Question resolution in spec.md §9: "once removed, a member never
// re-enters rotation within that cycle").
func (h *Handler) Replenish(ctx context.Context, memberID model.MemberID, amount decimal.Decimal) error {
	handle, err := h.locks.Acquire(ctx, model.LockSecurityDeposit, memberID.String(), model.DefaultTTL)
	if err != nil {
		return err
	}
	defer handle.Release(ctx)

	member, err := h.store.ReadMember(ctx, memberID)
	if err != nil {
		return err
	}
	if member.Status == model.MemberRemoved {
		return engineerr.Preconditionf("member_not_suspendable", "member %s already removed", memberID)
	}

	member.DepositAmount = member.DepositAmount.Add(amount)
	member.ReplenishmentRequired = member.ReplenishmentRequired.Sub(amount)
	if member.ReplenishmentRequired.IsNegative() {
		member.ReplenishmentRequired = decimal.Zero
	}
	if member.ReplenishmentRequired.IsZero() {
		member.DepositStatus = model.DepositConfirmed
		if member.InRotation() {
			member.Status = model.MemberActive
		}
		// Passive members (InRotation() == false) stay accounting-only:
		// pay-in without further payouts, per spec.md §9.
	}

	applied, err := h.store.WriteMember(ctx, member, member.Version)
	if err != nil {
		return err
	}
	if !applied {
		return engineerr.ErrStale
	}

	h.bus.Publish(model.Event{
		Kind:      model.EventDepositReplenished,
		GroupID:   member.GroupID,
		MemberID:  member.ID,
		Payload:   map[string]any{"amount": amount.String(), "remaining_required": member.ReplenishmentRequired.String()},
		EmittedAt: h.clock.Now(),
	})
	return nil
}
