// Package audit implements spec §4.7's ConsistencyAuditor: a periodic
// and on-demand scan for invariant violations, auto-correcting the safe
// subset and reporting the rest. Grounded on the violation/correction
// split of original_source/backend/data_consistency.py, adapted from a
// Python batch job to a Go scanner driven off the StateStore port.
package audit

import (
	"context"
	"time"

	luxlog "github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/mypoolr/roscacore/internal/depositcalc"
	"github.com/mypoolr/roscacore/internal/model"
	"github.com/mypoolr/roscacore/internal/ports"
)

// Severity is one of spec §4.7's four levels.
type Severity string

const (
	Info     Severity = "info"
	Warning  Severity = "warning"
	Error    Severity = "error"
	Critical Severity = "critical"
)

// Finding is one detected condition, auto-corrected or report-only.
type Finding struct {
	Severity      Severity
	Code          string
	GroupID       model.GroupID
	MemberID      model.MemberID
	TransactionID model.TransactionID
	Detail        string
	AutoCorrected bool
}

// Report is the result of one audit pass over a single group.
type Report struct {
	GroupID  model.GroupID
	Findings []Finding
}

const clockSkewTolerance = 5 * time.Minute

type Auditor struct {
	store  ports.StateStore
	audit  ports.Audit
	clock  ports.Clock
	logger luxlog.Logger
}

func New(store ports.StateStore, auditSink ports.Audit, clock ports.Clock) *Auditor {
	return &Auditor{store: store, audit: auditSink, clock: clock, logger: luxlog.Root()}
}

// Scan runs every check of spec §4.7 against one group, applying
// auto-corrections as it finds them and appending every finding, whether
// corrected or not, to the Audit port.
func (a *Auditor) Scan(ctx context.Context, groupID model.GroupID) (*Report, error) {
	group, err := a.store.ReadGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	members, err := a.store.ReadMembersByGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	report := &Report{GroupID: groupID}
	now := a.clock.Now()

	activeCount := 0
	for _, m := range members {
		if m.Status != model.MemberRemoved {
			activeCount++
		}
	}

	for _, m := range members {
		if m.GroupID != groupID {
			report.Findings = append(report.Findings, Finding{
				Severity: Critical, Code: "orphaned_member", GroupID: groupID, MemberID: m.ID,
				Detail: "member references a different group than the one it was read from",
			})
			continue
		}

		clamped := m.DepositAmount.IsNegative()
		if clamped {
			corrected := m.DepositAmount
			m.DepositAmount = decimal.Zero
			if _, err := a.store.WriteMember(ctx, m, m.Version); err == nil {
				report.Findings = append(report.Findings, Finding{
					Severity: Error, Code: "negative_balance", GroupID: groupID, MemberID: m.ID,
					Detail: "deposit_amount " + corrected.String() + " clamped to 0", AutoCorrected: true,
				})
			}
		}

		if m.Status != model.MemberRemoved && m.Position > 0 && (m.Position < 1 || m.Position > activeCount) {
			report.Findings = append(report.Findings, Finding{
				Severity: Warning, Code: "position_out_of_range", GroupID: groupID, MemberID: m.ID,
				Detail: "rotation position outside [1, active_count]",
			})
		}

		if m.JoinedAt.After(now.Add(clockSkewTolerance)) {
			report.Findings = append(report.Findings, Finding{
				Severity: Warning, Code: "future_dated_created_at", GroupID: groupID, MemberID: m.ID,
				Detail: "joined_at is in the future beyond clock-skew tolerance",
			})
		}

		if !clamped && m.InRotation() && m.Status != model.MemberRemoved {
			expected, err := depositcalc.RequiredForPosition(group.Config, m.Position)
			if err == nil && !expected.Equal(m.DepositAmount) && m.DepositStatus != model.DepositUsed {
				stale := m.DepositAmount
				m.DepositAmount = expected
				if _, err := a.store.WriteMember(ctx, m, m.Version); err == nil {
					report.Findings = append(report.Findings, Finding{
						Severity: Info, Code: "deposit_sum_mismatch", GroupID: groupID, MemberID: m.ID,
						Detail: "deposit_amount " + stale.String() + " recomputed to " + expected.String() + " from required-for-position formula",
						AutoCorrected: true,
					})
				}
			}
		}
	}

	for rotationIx := 0; rotationIx <= group.CurrentRotationIx; rotationIx++ {
		txs, err := a.store.ReadTransactionsByRotation(ctx, groupID, rotationIx)
		if err != nil {
			return nil, err
		}
		for _, tx := range txs {
			if tx.GroupID != groupID {
				report.Findings = append(report.Findings, Finding{
					Severity: Critical, Code: "orphaned_transaction", GroupID: groupID, TransactionID: tx.ID,
					Detail: "transaction references a different group",
				})
				continue
			}

			if tx.Status == model.ConfirmBothConfirmed && !tx.BothConfirmedConsistent() {
				now := a.clock.Now()
				if tx.SenderConfirmedAt == nil {
					tx.SenderConfirmedAt = &now
				}
				if tx.RecipientConfirmedAt == nil {
					tx.RecipientConfirmedAt = &now
				}
				if _, err := a.store.WriteTransaction(ctx, tx, tx.Version); err == nil {
					report.Findings = append(report.Findings, Finding{
						Severity: Error, Code: "confirmation_timestamp_mismatch", GroupID: groupID, TransactionID: tx.ID,
						Detail: "both_confirmed without both timestamps; timestamps backfilled", AutoCorrected: true,
					})
				}
			}

			if tx.CreatedAt.After(now.Add(clockSkewTolerance)) {
				report.Findings = append(report.Findings, Finding{
					Severity: Warning, Code: "future_dated_created_at", GroupID: groupID, TransactionID: tx.ID,
					Detail: "created_at is in the future beyond clock-skew tolerance",
				})
			}
		}
	}

	for _, f := range report.Findings {
		fields := map[string]any{
			"group_id":       f.GroupID.String(),
			"code":           f.Code,
			"detail":         f.Detail,
			"auto_corrected": f.AutoCorrected,
		}
		if !f.MemberID.IsZero() {
			fields["member_id"] = f.MemberID.String()
		}
		if !f.TransactionID.IsZero() {
			fields["transaction_id"] = f.TransactionID.String()
		}
		if err := a.audit.Append(ctx, "InvariantViolation", string(f.Severity), fields); err != nil {
			a.logger.Warn("failed to append audit record", "code", f.Code, "error", err)
		}
	}

	return report, nil
}
