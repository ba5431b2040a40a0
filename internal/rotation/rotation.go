// Package rotation implements spec §4.3: position assignment, turn
// advancement, and payout eligibility. Grounded on the account
// reservation and conditional-state patterns of
// luxfi-evm/core/txpool/txpool.go (reserveLock-guarded map, idempotent
// reservation, conditional acceptance), adapted from "one slot per
// sender address" to "one rotation position per member".
package rotation

import (
	"context"
	"sort"
	"time"

	luxlog "github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/mypoolr/roscacore/internal/depositcalc"
	"github.com/mypoolr/roscacore/internal/engineerr"
	"github.com/mypoolr/roscacore/internal/eventbus"
	"github.com/mypoolr/roscacore/internal/lockmgr"
	"github.com/mypoolr/roscacore/internal/model"
	"github.com/mypoolr/roscacore/internal/ports"
)

type Engine struct {
	store  ports.StateStore
	locks  *lockmgr.Manager
	bus    *eventbus.Bus
	clock  ports.Clock
	logger luxlog.Logger
}

func New(store ports.StateStore, locks *lockmgr.Manager, bus *eventbus.Bus, clock ports.Clock) *Engine {
	return &Engine{store: store, locks: locks, bus: bus, clock: clock, logger: luxlog.Root()}
}

// AssignResult is the output of AssignPosition.
type AssignResult struct {
	Member          *model.Member
	RequiredDeposit decimal.Decimal
}

// AssignPosition implements spec §4.3's assign_position: acquires
// group_write, rejects a full or non-accepting group, then places the
// new member at preferred (if free and in range) or the lowest
// unoccupied position.
func (e *Engine) AssignPosition(ctx context.Context, groupID model.GroupID, externalUserID string, preferred int) (*AssignResult, error) {
	handle, err := e.locks.Acquire(ctx, model.LockGroupWrite, groupID.String(), model.DefaultTTL)
	if err != nil {
		return nil, err
	}
	defer handle.Release(ctx)

	group, err := e.store.ReadGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.Accepting() {
		return nil, engineerr.Preconditionf("group_not_accepting", "group %s has status %s", groupID, group.Status)
	}

	members, err := e.store.ReadMembersByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	occupied := make(map[int]bool, len(members))
	for _, m := range members {
		if m.Position > 0 {
			occupied[m.Position] = true
		}
	}
	if len(occupied) >= group.Config.MemberLimit {
		return nil, engineerr.Preconditionf("group_full", "group %s already has %d members", groupID, group.Config.MemberLimit)
	}

	position := 0
	if preferred >= 1 && preferred <= group.Config.MemberLimit && !occupied[preferred] {
		position = preferred
	} else {
		for p := 1; p <= group.Config.MemberLimit; p++ {
			if !occupied[p] {
				position = p
				break
			}
		}
	}
	if position == 0 {
		return nil, engineerr.Preconditionf("group_full", "group %s has no free position", groupID)
	}

	required, err := depositcalc.RequiredForPosition(group.Config, position)
	if err != nil {
		return nil, err
	}

	member := &model.Member{
		ID:             model.NewMemberID(),
		GroupID:        groupID,
		ExternalUserID: externalUserID,
		Position:       position,
		DepositAmount:  decimal.Zero,
		DepositStatus:  model.DepositPending,
		Status:         model.MemberPending,
		JoinedAt:       e.clock.Now(),
	}
	if err := e.store.CreateMember(ctx, member); err != nil {
		return nil, err
	}

	return &AssignResult{Member: member, RequiredDeposit: required}, nil
}

// AdvanceOutcome is the result kind of AdvanceRotation, mirroring the
// three named outcomes of spec §4.3.
type AdvanceOutcome string

const (
	Advanced AdvanceOutcome = "advanced"
	Stale    AdvanceOutcome = "stale"
	Blocked  AdvanceOutcome = "blocked"
)

type AdvanceResult struct {
	Outcome  AdvanceOutcome
	NewIndex int
}

// AdvanceRotation implements spec §4.3's advance_rotation.
func (e *Engine) AdvanceRotation(ctx context.Context, groupID model.GroupID, expectedIndex int) (*AdvanceResult, error) {
	handle, err := e.locks.Acquire(ctx, model.LockRotationAdvance, groupID.String(), model.DefaultTTL)
	if err != nil {
		return nil, err
	}
	defer handle.Release(ctx)

	group, err := e.store.ReadGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.CurrentRotationIx != expectedIndex {
		return &AdvanceResult{Outcome: Stale, NewIndex: group.CurrentRotationIx}, nil
	}

	blocked, err := e.rotationBlocked(ctx, groupID, expectedIndex)
	if err != nil {
		return nil, err
	}
	if blocked {
		return &AdvanceResult{Outcome: Blocked, NewIndex: group.CurrentRotationIx}, nil
	}

	members, err := e.store.ReadMembersByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	recipientPosition := expectedIndex + 1
	var recipient *model.Member
	for _, m := range members {
		if m.Position == recipientPosition {
			recipient = m
			break
		}
	}
	if recipient == nil {
		return nil, engineerr.Invariantf("no_recipient_at_position", "group %s rotation %d: no member at position %d", groupID, expectedIndex, recipientPosition)
	}

	newIndex := expectedIndex + 1
	group.CurrentRotationIx = newIndex
	group.CompletedRotations++
	if group.RotationStartedAt == nil {
		group.RotationStartedAt = make(map[int]time.Time)
	}
	group.RotationStartedAt[newIndex] = e.clock.Now()

	applied, err := e.store.WriteGroup(ctx, group, group.Version)
	if err != nil {
		return nil, err
	}
	if !applied {
		return &AdvanceResult{Outcome: Stale, NewIndex: group.CurrentRotationIx}, nil
	}

	recipient.HasReceivedPayout = true
	recipient.IsLockedIn = true
	recipient.DepositStatus = model.DepositLocked
	recipientApplied, err := e.store.WriteMember(ctx, recipient, recipient.Version)
	if err != nil {
		return nil, err
	}
	if !recipientApplied {
		return nil, engineerr.ErrStale
	}

	e.bus.Publish(model.Event{
		Kind:      model.EventRotationAdvanced,
		GroupID:   groupID,
		MemberID:  recipient.ID,
		Payload:   map[string]any{"new_index": newIndex},
		EmittedAt: e.clock.Now(),
	})

	return &AdvanceResult{Outcome: Advanced, NewIndex: newIndex}, nil
}

// rotationBlocked implements spec §4.3's block condition: any
// outstanding contribution for the current rotation that is neither
// both_confirmed nor covered by a default_coverage transaction.
func (e *Engine) rotationBlocked(ctx context.Context, groupID model.GroupID, rotationIndex int) (bool, error) {
	txs, err := e.store.ReadTransactionsByRotation(ctx, groupID, rotationIndex)
	if err != nil {
		return false, err
	}
	for _, tx := range txs {
		if tx.Kind != model.KindContribution {
			continue
		}
		if tx.Status == model.ConfirmBothConfirmed {
			continue
		}
		if tx.Status == model.ConfirmCancelled && tx.From != nil {
			covered, err := e.store.FindDefaultCoverage(ctx, model.DefaultCoverageKey{
				GroupID: groupID, RotationIndex: rotationIndex, DefaultingMember: *tx.From,
			})
			if err != nil {
				return false, err
			}
			if covered != nil && covered.Status == model.ConfirmBothConfirmed {
				continue
			}
		}
		return true, nil
	}
	return false, nil
}

// EligibleForPayout implements spec §4.3's eligible_for_payout.
func EligibleForPayout(m *model.Member) bool {
	return m.EligibleForPayout()
}

// ActivePositionsAscending returns the positions still in rotation,
// sorted ascending, used by callers that need deterministic ordering
// (spec §4.3: "rotation order is strictly ascending by position").
func ActivePositionsAscending(members []*model.Member) []int {
	var positions []int
	for _, m := range members {
		if m.InRotation() {
			positions = append(positions, m.Position)
		}
	}
	sort.Ints(positions)
	return positions
}
