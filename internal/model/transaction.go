package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind enumerates the money movements tracked within a group
// (spec §3).
type TransactionKind string

const (
	KindContribution    TransactionKind = "contribution"
	KindSecurityDeposit TransactionKind = "security_deposit"
	KindDefaultCoverage TransactionKind = "default_coverage"
	KindDepositReturn   TransactionKind = "deposit_return"
	KindTierUpgrade     TransactionKind = "tier_upgrade"
)

// ConfirmationStatus is the dual-confirmation state of a Transaction
// (spec §3, §4.4).
type ConfirmationStatus string

const (
	ConfirmPending            ConfirmationStatus = "pending"
	ConfirmSenderConfirmed    ConfirmationStatus = "sender_confirmed"
	ConfirmRecipientConfirmed ConfirmationStatus = "recipient_confirmed"
	ConfirmBothConfirmed      ConfirmationStatus = "both_confirmed"
	ConfirmCancelled          ConfirmationStatus = "cancelled"
)

// Transaction is a money movement within a group (spec §3). From and
// To are pointers so they can be nil (e.g. a deposit_return has no
// "from").
type Transaction struct {
	ID      TransactionID
	GroupID GroupID

	Kind   TransactionKind
	From   *MemberID
	To     *MemberID
	Amount decimal.Decimal

	RotationIndex int // the rotation this transaction belongs to, for uniqueness keys.

	Status               ConfirmationStatus
	SenderConfirmedAt    *time.Time
	RecipientConfirmedAt *time.Time

	Metadata map[string]string

	CreatedAt time.Time
	Version   int64
}

// BothConfirmedConsistent checks the confirmation-symmetry invariant of
// spec §8: both_confirmed iff both timestamps are set.
func (t *Transaction) BothConfirmedConsistent() bool {
	bothTimestamps := t.SenderConfirmedAt != nil && t.RecipientConfirmedAt != nil
	return (t.Status == ConfirmBothConfirmed) == bothTimestamps
}

// Terminal reports whether the transaction can no longer change state.
func (t *Transaction) Terminal() bool {
	return t.Status == ConfirmBothConfirmed || t.Status == ConfirmCancelled
}

// DefaultCoverageKey is the uniqueness key for default_coverage
// transactions (spec §5 idempotency: "uniqueness constraint on (group,
// rotation_index, defaulting_member)").
type DefaultCoverageKey struct {
	GroupID           GroupID
	RotationIndex     int
	DefaultingMember MemberID
}
