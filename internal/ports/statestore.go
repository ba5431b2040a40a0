// Package ports declares the seven external collaborators of spec §6 as
// Go interfaces. The core only ever depends on these; production
// adapters (a relational database, a payments gateway, a chat bot, a
// scheduled-task executor) live outside this repository per spec §1.
package ports

import (
	"context"
	"time"

	"github.com/mypoolr/roscacore/internal/model"
)

// StateStore is spec §6's persistence port, specialized to the four
// entity kinds this core actually manipulates (group, member,
// transaction, lease) rather than a generic entity/predicate pair, the
// same way a typed repository interface narrows a generic KeyValueStore
// (grounded on the KeyValueStore shape in
// ep-eaglepoint...lease-manager-repository_after.go, adapted from raw
// bytes+revision to typed rows+version).
//
// Every Write* call is a conditional write: it succeeds only if
// expectedVersion matches the row's current Version, mirroring a SQL
// `UPDATE ... WHERE version = ?`. A false return (nil error) means
// Stale, exactly as spec §6 describes "0 affected rows".
type StateStore interface {
	CreateGroup(ctx context.Context, g *model.Group) error
	ReadGroup(ctx context.Context, id model.GroupID) (*model.Group, error)
	WriteGroup(ctx context.Context, g *model.Group, expectedVersion int64) (bool, error)

	CreateMember(ctx context.Context, m *model.Member) error
	ReadMember(ctx context.Context, id model.MemberID) (*model.Member, error)
	ReadMembersByGroup(ctx context.Context, groupID model.GroupID) ([]*model.Member, error)
	// FindMemberByExternalUser enforces the (group_id, external_user_id)
	// uniqueness invariant of spec §3.
	FindMemberByExternalUser(ctx context.Context, groupID model.GroupID, externalUserID string) (*model.Member, error)
	WriteMember(ctx context.Context, m *model.Member, expectedVersion int64) (bool, error)

	CreateTransaction(ctx context.Context, t *model.Transaction) error
	ReadTransaction(ctx context.Context, id model.TransactionID) (*model.Transaction, error)
	ReadTransactionsByRotation(ctx context.Context, groupID model.GroupID, rotationIndex int) ([]*model.Transaction, error)
	WriteTransaction(ctx context.Context, t *model.Transaction, expectedVersion int64) (bool, error)
	// FindDefaultCoverage backs the idempotency uniqueness constraint of
	// spec §5 ("(group, rotation_index, defaulting_member)").
	FindDefaultCoverage(ctx context.Context, key model.DefaultCoverageKey) (*model.Transaction, error)

	// AcquireLease inserts a lease row where none exists with
	// expires_at > now; ok is false (no error) on contention.
	AcquireLease(ctx context.Context, kind model.LockKind, resource, holderID string, ttl time.Duration) (lease *model.Lease, ok bool, err error)
	// ReleaseLease deletes only by (lease id, holder id), per spec §4.2,
	// so a reassigned lease can never be released by its former holder.
	ReleaseLease(ctx context.Context, leaseID model.LeaseID, holderID string) error
	// SweepExpiredLeases removes lease rows whose expiry has passed and
	// returns how many were removed.
	SweepExpiredLeases(ctx context.Context, now time.Time) (int, error)

	// InTransaction runs fn with all writes inside it committed or
	// rolled back atomically, per spec §4.6 step 5 ("single store
	// transaction").
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
