// Package timerdispatch implements spec §4.8: arming and cancelling the
// deadline and reminder timers behind the Scheduler port, and handling
// fires idempotently by re-validating state before acting on them, the
// way spec §5 requires for every advisory timer fire.
package timerdispatch

import (
	"context"
	"strconv"
	"time"

	luxlog "github.com/luxfi/log"

	"github.com/mypoolr/roscacore/internal/contribution"
	"github.com/mypoolr/roscacore/internal/model"
	"github.com/mypoolr/roscacore/internal/ports"
)

const (
	taskKindDeadline = "contribution_deadline"
	taskKindReminder = "contribution_reminder"
)

// Dispatcher arms/cancels deadline and reminder timers for
// contributions and reacts to their fires.
type Dispatcher struct {
	scheduler    ports.Scheduler
	notification ports.NotificationSink
	store        ports.StateStore
	fsm          *contribution.FSM
	logger       luxlog.Logger
}

func New(scheduler ports.Scheduler, notification ports.NotificationSink, store ports.StateStore, fsm *contribution.FSM) *Dispatcher {
	return &Dispatcher{scheduler: scheduler, notification: notification, store: store, fsm: fsm, logger: luxlog.Root()}
}

// ArmedHandles are the handles returned by ArmAll, needed to cancel all
// four timers for one transaction together.
type ArmedHandles struct {
	DeadlineHandle  string
	ReminderHandles []string
}

// ArmAll arms the deadline timer plus the three reminder timers of spec
// §4.4 (T-24h, T-6h, T-1h before the deadline) for one contribution.
func (d *Dispatcher) ArmAll(ctx context.Context, tx *model.Transaction, deadline time.Time) (*ArmedHandles, error) {
	payload := map[string]string{
		"transaction_id": tx.ID.String(),
		"group_id":       tx.GroupID.String(),
		"rotation_index": strconv.Itoa(tx.RotationIndex),
	}

	deadlineHandle, err := d.scheduler.Arm(ctx, taskKindDeadline+":"+tx.ID.String(), deadline, payload)
	if err != nil {
		return nil, err
	}

	result := &ArmedHandles{DeadlineHandle: deadlineHandle}
	for _, offset := range contribution.ReminderOffsets {
		fireAt := deadline.Add(-offset)
		if !fireAt.After(time.Now()) {
			continue
		}
		h, err := d.scheduler.Arm(ctx, taskKindReminder+":"+tx.ID.String()+":"+offset.String(), fireAt, payload)
		if err != nil {
			return nil, err
		}
		result.ReminderHandles = append(result.ReminderHandles, h)
	}
	return result, nil
}

// CancelAll cancels every timer recorded in handles. The engine discards
// ArmAll's handles and does not call it; a timer that fires after its
// transaction settled is a no-op in HandleFire.
func (d *Dispatcher) CancelAll(ctx context.Context, handles *ArmedHandles) error {
	if err := d.scheduler.Cancel(ctx, handles.DeadlineHandle); err != nil {
		return err
	}
	for _, h := range handles.ReminderHandles {
		if err := d.scheduler.Cancel(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// HandleFire reacts to one Scheduler fire. A reminder fire only notifies;
// a deadline fire re-reads the transaction and, if it is still
// non-terminal, drives ContributionFSM.DeadlineElapsed. Both branches are
// safe no-ops when the underlying transaction is already terminal (spec
// §5 idempotency).
func (d *Dispatcher) HandleFire(ctx context.Context, fire ports.TimerFire) error {
	txIDStr, ok := fire.Payload["transaction_id"]
	if !ok {
		d.logger.Warn("timer fire missing transaction_id", "task_id", fire.TaskID)
		return nil
	}
	txID, err := model.ParseTransactionID(txIDStr)
	if err != nil {
		return err
	}

	tx, err := d.store.ReadTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Terminal() {
		return nil
	}

	if isReminderTask(fire.TaskID) {
		recipient := memberRef(tx.From)
		return d.notification.Emit(ctx, string(model.EventReminderDue), recipient, "contribution_reminder", map[string]string{
			"transaction_id": txIDStr,
			"amount":         tx.Amount.String(),
		})
	}

	return d.fsm.DeadlineElapsed(ctx, txID)
}

func isReminderTask(taskID string) bool {
	return len(taskID) >= len(taskKindReminder) && taskID[:len(taskKindReminder)] == taskKindReminder
}

func memberRef(id *model.MemberID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
