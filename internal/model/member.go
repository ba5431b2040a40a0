package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositStatus progresses pending -> confirmed -> {locked|used|returned}.
// `used` requires replenishment back to `confirmed` before reactivation
// (spec §3).
type DepositStatus string

const (
	DepositPending   DepositStatus = "pending"
	DepositConfirmed DepositStatus = "confirmed"
	DepositLocked    DepositStatus = "locked"
	DepositUsed      DepositStatus = "used"
	DepositReturned  DepositStatus = "returned"
)

// MemberStatus mirrors spec §3.
type MemberStatus string

const (
	MemberPending   MemberStatus = "pending"
	MemberActive    MemberStatus = "active"
	MemberSuspended MemberStatus = "suspended"
	MemberRemoved   MemberStatus = "removed"
)

// RemovedPosition is the sentinel rotation position assigned to a member
// excluded from rotation due to default handling (spec §4.5 step 4).
const RemovedPosition = -1

// Member is a participant in one group (spec §3). Uniqueness of
// (GroupID, ExternalUserID) is enforced by the StateStore's conditional
// create, not here.
type Member struct {
	ID             MemberID
	GroupID        GroupID
	ExternalUserID string

	Position int // 1-based; <= 0 means removed from rotation.

	DepositAmount decimal.Decimal
	DepositStatus DepositStatus
	// ReplenishmentRequired is the outstanding top-up owed after a
	// default drew down the deposit (spec §4.5 step 4). Zero means
	// nothing owed. Supplemented from original_source's persisted
	// replenishment ledger (SPEC_FULL.md §9).
	ReplenishmentRequired decimal.Decimal

	HasReceivedPayout bool
	IsLockedIn        bool
	Status            MemberStatus

	JoinedAt time.Time
	Version  int64
}

// InRotation reports whether the member still holds an active slot.
func (m *Member) InRotation() bool {
	return m.Position > 0
}

// EligibleForPayout implements spec §4.3: status=active, deposit
// confirmed, has not yet received a payout.
func (m *Member) EligibleForPayout() bool {
	return m.Status == MemberActive &&
		m.DepositStatus == DepositConfirmed &&
		!m.HasReceivedPayout
}
