// Package model holds the persistent domain types shared by every
// subsystem: groups, members, transactions, and leases. The types here
// carry no behavior beyond invariant-preserving constructors; the state
// machines that mutate them live in the sibling packages.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// GroupID, MemberID, TransactionID and LeaseID wrap uuid.UUID so the
// compiler rejects passing one entity's id where another's is expected.
type GroupID uuid.UUID

type MemberID uuid.UUID

type TransactionID uuid.UUID

type LeaseID uuid.UUID

func NewGroupID() GroupID             { return GroupID(uuid.New()) }
func NewMemberID() MemberID           { return MemberID(uuid.New()) }
func NewTransactionID() TransactionID { return TransactionID(uuid.New()) }
func NewLeaseID() LeaseID             { return LeaseID(uuid.New()) }

func (id GroupID) String() string       { return uuid.UUID(id).String() }
func (id MemberID) String() string      { return uuid.UUID(id).String() }
func (id TransactionID) String() string { return uuid.UUID(id).String() }
func (id LeaseID) String() string       { return uuid.UUID(id).String() }

func (id GroupID) IsZero() bool       { return uuid.UUID(id) == uuid.Nil }
func (id MemberID) IsZero() bool      { return uuid.UUID(id) == uuid.Nil }
func (id TransactionID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

// ParseGroupID parses an opaque string into a GroupID. Malformed input
// yields a plain wrapped error naming the input (not an engineerr
// error, so engineerr.KindOf reports it as External).
func ParseGroupID(s string) (GroupID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return GroupID{}, fmt.Errorf("invalid group id %q: %w", s, err)
	}
	return GroupID(u), nil
}

func ParseMemberID(s string) (MemberID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return MemberID{}, fmt.Errorf("invalid member id %q: %w", s, err)
	}
	return MemberID(u), nil
}

func ParseTransactionID(s string) (TransactionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TransactionID{}, fmt.Errorf("invalid transaction id %q: %w", s, err)
	}
	return TransactionID(u), nil
}
