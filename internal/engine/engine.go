// Package engine wires every subsystem behind spec §6's command
// surface: CoreContext holds the port handles, clock, and
// configuration that the source's module-level singletons used to
// carry (spec.md §9's "global mutable state" design note), and each
// exported method is one command of the table in spec §6.
//
// Command errors are never returned raw: every one is classified via
// internal/engineerr and, for the Conflict/Transient kinds, retried
// with a bounded exponential backoff before being surfaced, per spec
// §7's explicit parameters (50ms base, 6 attempts).
package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	luxlog "github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/mypoolr/roscacore/internal/audit"
	"github.com/mypoolr/roscacore/internal/contribution"
	"github.com/mypoolr/roscacore/internal/cyclecloser"
	"github.com/mypoolr/roscacore/internal/defaulthandler"
	"github.com/mypoolr/roscacore/internal/depositcalc"
	"github.com/mypoolr/roscacore/internal/engineerr"
	"github.com/mypoolr/roscacore/internal/eventbus"
	"github.com/mypoolr/roscacore/internal/lockmgr"
	"github.com/mypoolr/roscacore/internal/model"
	"github.com/mypoolr/roscacore/internal/obsmetrics"
	"github.com/mypoolr/roscacore/internal/ports"
	"github.com/mypoolr/roscacore/internal/rotation"
	"github.com/mypoolr/roscacore/internal/timerdispatch"
)

// ExitCondition is one of the exit codes of spec §6's command table.
type ExitCondition string

const (
	ExitOK                 ExitCondition = "ok"
	ExitConflict           ExitCondition = "conflict"
	ExitInvariantViolation ExitCondition = "invariant_violation"
	ExitPreconditionFailed ExitCondition = "precondition_failed"
	ExitNotFound           ExitCondition = "not_found"
	ExitInternal           ExitCondition = "internal"
)

// ExitConditionFor classifies err into the exit condition a transport
// layer (CLI, RPC) should report. Validation and Precondition both
// surface as precondition_failed: both are the caller's fault and
// neither is retryable, so the command-surface table of spec §6
// doesn't distinguish them with a separate code. External errors that
// escape a retry loop surface as internal, the same as anything that
// didn't originate in internal/engineerr at all.
func ExitConditionFor(err error) ExitCondition {
	if err == nil {
		return ExitOK
	}
	switch engineerr.KindOf(err) {
	case engineerr.Conflict, engineerr.Transient:
		return ExitConflict
	case engineerr.Invariant:
		return ExitInvariantViolation
	case engineerr.Validation, engineerr.Precondition:
		return ExitPreconditionFailed
	case engineerr.NotFound:
		return ExitNotFound
	default:
		return ExitInternal
	}
}

// guardResource names the singleton slot LockEngineGuard protects; one
// CoreContext per process ever holds it.
const guardResource = "singleton"

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Deps are CoreContext's external collaborators. Store, Scheduler,
// Notifications and AuditSink must be set: they are called without a
// nil check. A nil Clock defaults to the system clock, a nil Payments
// skips the gateway check in ConfirmDeposit, and a nil Metrics disables
// metrics. Flags is stored but not consulted by any command.
type Deps struct {
	Store         ports.StateStore
	Payments      ports.PaymentGateway
	Notifications ports.NotificationSink
	Scheduler     ports.Scheduler
	Flags         ports.FeatureFlags
	AuditSink     ports.Audit
	Clock         ports.Clock
	Metrics       *obsmetrics.Metrics
	HolderID      string
}

// CoreContext is spec §9's replacement for the source's module-level
// singletons: one value, threaded explicitly through every command,
// holding the port handles, clock, and the six domain engines that
// implement them.
type CoreContext struct {
	store ports.StateStore
	locks *lockmgr.Manager
	bus   *eventbus.Bus
	clock ports.Clock

	rotation     *rotation.Engine
	contribution *contribution.FSM
	defaults     *defaulthandler.Handler
	closer       *cyclecloser.Closer
	auditor      *audit.Auditor
	timers       *timerdispatch.Dispatcher

	payments      ports.PaymentGateway
	notifications ports.NotificationSink
	scheduler     ports.Scheduler
	flags         ports.FeatureFlags

	metrics *obsmetrics.Metrics
	logger  luxlog.Logger

	guard *lockmgr.Handle
}

// New wires every subsystem from deps. The returned CoreContext has not
// yet acquired the startup guard lease; callers must call Start before
// serving commands.
func New(deps Deps) *CoreContext {
	clock := deps.Clock
	if clock == nil {
		clock = systemClock{}
	}

	locks := lockmgr.New(deps.Store, deps.HolderID)
	bus := eventbus.New()

	c := &CoreContext{
		store:         deps.Store,
		locks:         locks,
		bus:           bus,
		clock:         clock,
		rotation:      rotation.New(deps.Store, locks, bus, clock),
		contribution:  contribution.New(deps.Store, locks, bus, clock),
		defaults:      defaulthandler.New(deps.Store, locks, bus, clock),
		closer:        cyclecloser.New(deps.Store, locks, bus, clock),
		auditor:       audit.New(deps.Store, deps.AuditSink, clock),
		payments:      deps.Payments,
		notifications: deps.Notifications,
		scheduler:     deps.Scheduler,
		flags:         deps.Flags,
		metrics:       deps.Metrics,
		logger:        luxlog.Root().With("component", "engine"),
	}
	c.timers = timerdispatch.New(deps.Scheduler, deps.Notifications, deps.Store, c.contribution)
	c.wireEventHandlers(context.Background())
	return c
}

// Start acquires the process-wide startup guard lease, per spec §5's
// supplement on preventing two processes from driving the same store
// as independent writers (the split-brain hazard the ManuGH-xg2g
// orchestrator guards against with an equivalent singleton lease).
// The lease is taken once with model.DefaultTTL and is not renewed, so
// it stops guarding once it expires.
func (c *CoreContext) Start(ctx context.Context) error {
	handle, err := c.locks.Acquire(ctx, model.LockEngineGuard, guardResource, model.DefaultTTL)
	if err != nil {
		return fmt.Errorf("acquire engine guard lease: %w", err)
	}
	c.guard = handle
	return nil
}

// Stop releases the startup guard lease. Safe to call on a CoreContext
// that never started.
func (c *CoreContext) Stop(ctx context.Context) error {
	if c.guard == nil {
		return nil
	}
	err := c.guard.Release(ctx)
	c.guard = nil
	return err
}

// Locks exposes the lock manager so a process can run its sweeper
// alongside the engine.
func (c *CoreContext) Locks() *lockmgr.Manager { return c.locks }

// wireEventHandlers subscribes the engine's own reactions to the
// domain events its subsystems publish: DefaultHandler runs off
// ContributionDefaulted (spec §4.5 step 1), and every terminal event
// feeds the command-duration-adjacent counters in internal/obsmetrics.
func (c *CoreContext) wireEventHandlers(ctx context.Context) {
	c.bus.Subscribe(ctx, model.EventContributionDefaulted, c.onContributionDefaulted)
	c.bus.Subscribe(ctx, model.EventContributionCompleted, c.onContributionCompleted)
	c.bus.Subscribe(ctx, model.EventRotationAdvanced, c.onRotationAdvanced)
	c.bus.Subscribe(ctx, model.EventCycleClosed, c.onCycleClosed)
}

func (c *CoreContext) onContributionDefaulted(ctx context.Context, evt model.Event) {
	if c.metrics != nil {
		c.metrics.ContributionsDefaulted.Inc()
	}
	in, err := defaultInputFromEvent(evt)
	if err != nil {
		c.logger.Error("malformed ContributionDefaulted payload", "group", evt.GroupID.String(), "err", err)
		return
	}
	if err := c.defaults.Handle(ctx, in); err != nil {
		if engineerr.KindOf(err) == engineerr.Precondition {
			c.logger.Warn("default handling blocked, group likely needs operator review", "group", evt.GroupID.String(), "err", err)
			return
		}
		c.logger.Error("default handling failed", "group", evt.GroupID.String(), "err", err)
		return
	}
	if c.metrics != nil {
		c.metrics.DefaultsHandled.Inc()
	}
}

func (c *CoreContext) onContributionCompleted(_ context.Context, _ model.Event) {
	if c.metrics != nil {
		c.metrics.ContributionsConfirmed.Inc()
	}
}

func (c *CoreContext) onRotationAdvanced(_ context.Context, _ model.Event) {
	if c.metrics != nil {
		c.metrics.RotationsAdvanced.Inc()
	}
}

func (c *CoreContext) onCycleClosed(_ context.Context, _ model.Event) {
	if c.metrics != nil {
		c.metrics.CyclesClosed.Inc()
	}
}

func defaultInputFromEvent(evt model.Event) (defaulthandler.Input, error) {
	recipientStr, _ := evt.Payload["recipient"].(string)
	recipient, err := model.ParseMemberID(recipientStr)
	if err != nil {
		return defaulthandler.Input{}, fmt.Errorf("parse recipient: %w", err)
	}
	amountStr, _ := evt.Payload["amount"].(string)
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return defaulthandler.Input{}, fmt.Errorf("parse amount: %w", err)
	}
	rotationIndex, _ := evt.Payload["rotation_index"].(int)
	return defaulthandler.Input{
		GroupID:          evt.GroupID,
		DefaultingMember: evt.MemberID,
		Recipient:        recipient,
		Amount:           amount,
		RotationIndex:    rotationIndex,
	}, nil
}

// withRetry wraps fn with spec §7's bounded retry: 50ms base interval,
// doubling, full jitter (RandomizationFactor 1, so each wait is drawn
// from [0, 2x] the current interval), 6 attempts (one try plus 5
// retries), and only for Retryable (Conflict/Transient) errors -
// everything else is permanent on the first try.
func withRetry(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 1
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, 5), ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if engineerr.Retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func (c *CoreContext) observe(command string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.CommandDuration.
		WithLabelValues(command, string(ExitConditionFor(err))).
		Observe(time.Since(start).Seconds())
}

func track[T any](c *CoreContext, command string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := fn()
	c.observe(command, start, err)
	return result, err
}

func trackErr(c *CoreContext, command string, fn func() error) error {
	start := time.Now()
	err := fn()
	c.observe(command, start, err)
	return err
}

// CreateGroupInput is create_group's request shape (spec §6).
type CreateGroupInput struct {
	Name               string
	AdminRef           string
	ContributionAmount decimal.Decimal
	Period             model.RotationPeriod
	MemberLimit        int
	DepositMultiplier  decimal.Decimal
	Tier               model.Tier
}

// CreateGroup implements spec §6's create_group.
func (c *CoreContext) CreateGroup(ctx context.Context, in CreateGroupInput) (model.GroupID, error) {
	return track(c, "create_group", func() (model.GroupID, error) {
		if in.Name == "" {
			return model.GroupID{}, engineerr.Validationf("invalid_name", "group name must not be empty")
		}
		if in.MemberLimit <= 0 || in.MemberLimit > in.Tier.MaxMembers() {
			return model.GroupID{}, engineerr.Validationf("invalid_member_limit", "member limit %d outside tier %s's cap of %d", in.MemberLimit, in.Tier, in.Tier.MaxMembers())
		}
		cfg := model.GroupConfig{
			ContributionAmount: in.ContributionAmount,
			MemberLimit:        in.MemberLimit,
			DepositMultiplier:  in.DepositMultiplier,
			Period:             in.Period,
		}
		if _, err := depositcalc.RequiredForPosition(cfg, cfg.MemberLimit); err != nil {
			return model.GroupID{}, err
		}

		now := c.clock.Now()
		group := &model.Group{
			ID:                model.NewGroupID(),
			Name:              in.Name,
			AdminRef:          in.AdminRef,
			Tier:              in.Tier,
			Config:            cfg,
			Status:            model.GroupActive,
			RotationStartedAt: map[int]time.Time{0: now},
			CreatedAt:         now,
		}
		if err := c.store.CreateGroup(ctx, group); err != nil {
			return model.GroupID{}, err
		}
		return group.ID, nil
	})
}

// JoinGroup implements spec §6's join_group.
func (c *CoreContext) JoinGroup(ctx context.Context, groupID model.GroupID, externalUserID string, preferredPosition int) (*rotation.AssignResult, error) {
	return track(c, "join_group", func() (*rotation.AssignResult, error) {
		var res *rotation.AssignResult
		err := withRetry(ctx, func() error {
			var innerErr error
			res, innerErr = c.rotation.AssignPosition(ctx, groupID, externalUserID, preferredPosition)
			return innerErr
		})
		return res, err
	})
}

// ConfirmDeposit implements spec §6's confirm_deposit: an admin
// attests that a member's security deposit arrived. It has no
// dedicated subsystem of its own in §4 - it's command-surface glue
// over the member's deposit fields, the same conditional-write
// discipline as every other mutation here.
func (c *CoreContext) ConfirmDeposit(ctx context.Context, memberID model.MemberID, adminRef string, amount decimal.Decimal, reference string) error {
	return trackErr(c, "confirm_deposit", func() error {
		if amount.IsNegative() {
			return engineerr.Validationf("invalid_amount", "deposit amount must not be negative, got %s", amount)
		}
		// Gateway confirmation happens outside any lease window (spec
		// §5). A reference that doesn't resolve to a completed payment
		// fails the command before any state is touched.
		if c.payments != nil && reference != "" {
			status, err := c.payments.Query(ctx, reference)
			if err != nil {
				return err
			}
			if status != ports.PaymentCompleted {
				return engineerr.Preconditionf("payment_not_completed", "payment %s is %s, not completed", reference, status)
			}
		}
		return withRetry(ctx, func() error {
			handle, err := c.locks.Acquire(ctx, model.LockSecurityDeposit, memberID.String(), model.DefaultTTL)
			if err != nil {
				return err
			}
			defer handle.Release(ctx)

			member, err := c.store.ReadMember(ctx, memberID)
			if err != nil {
				return err
			}
			if member.DepositStatus != model.DepositPending {
				return engineerr.Preconditionf("deposit_not_pending", "member %s deposit status is %s, not pending", memberID, member.DepositStatus)
			}
			group, err := c.store.ReadGroup(ctx, member.GroupID)
			if err != nil {
				return err
			}
			required, err := depositcalc.RequiredForPosition(group.Config, member.Position)
			if err != nil {
				return err
			}

			member.DepositAmount = amount
			if amount.GreaterThanOrEqual(required) {
				member.DepositStatus = model.DepositConfirmed
				member.Status = model.MemberActive
			}
			applied, err := c.store.WriteMember(ctx, member, member.Version)
			if err != nil {
				return err
			}
			if !applied {
				return engineerr.ErrStale
			}

			now := c.clock.Now()
			tx := &model.Transaction{
				ID:                   model.NewTransactionID(),
				GroupID:              member.GroupID,
				Kind:                 model.KindSecurityDeposit,
				To:                   &member.ID,
				Amount:               amount,
				RotationIndex:        group.CurrentRotationIx,
				Status:               model.ConfirmBothConfirmed,
				SenderConfirmedAt:    &now,
				RecipientConfirmedAt: &now,
				Metadata:             map[string]string{"admin_ref": adminRef, "reference": reference},
				CreatedAt:            now,
			}
			return c.store.CreateTransaction(ctx, tx)
		})
	})
}

// RecordContribution implements spec §6's record_contribution and arms
// the dual-confirmation deadline/reminder timers for the new
// transaction (spec §4.4).
func (c *CoreContext) RecordContribution(ctx context.Context, groupID model.GroupID, from, to model.MemberID, amount decimal.Decimal, rotationIndex int, externalRef string) (model.TransactionID, error) {
	return track(c, "record_contribution", func() (model.TransactionID, error) {
		group, err := c.store.ReadGroup(ctx, groupID)
		if err != nil {
			return model.TransactionID{}, err
		}
		startedAt, ok := group.RotationStartedAt[rotationIndex]
		if !ok {
			startedAt = c.clock.Now()
		}
		deadline := contribution.Deadline(startedAt, group.Config)

		var tx *model.Transaction
		err = withRetry(ctx, func() error {
			var innerErr error
			tx, innerErr = c.contribution.RecordContribution(ctx, groupID, from, to, amount, rotationIndex, externalRef)
			return innerErr
		})
		if err != nil {
			return model.TransactionID{}, err
		}

		if _, err := c.timers.ArmAll(ctx, tx, deadline); err != nil {
			c.logger.Warn("failed to arm contribution timers", "transaction", tx.ID.String(), "err", err)
		}
		return tx.ID, nil
	})
}

// ConfirmContribution implements spec §6's confirm_contribution.
func (c *CoreContext) ConfirmContribution(ctx context.Context, txID model.TransactionID, party contribution.Party, actorRef string) (model.ConfirmationStatus, error) {
	return track(c, "confirm_contribution", func() (model.ConfirmationStatus, error) {
		c.logger.Debug("confirm_contribution", "transaction", txID.String(), "party", string(party), "actor", actorRef)
		var status model.ConfirmationStatus
		err := withRetry(ctx, func() error {
			var innerErr error
			status, innerErr = c.contribution.Confirm(ctx, txID, party)
			return innerErr
		})
		return status, err
	})
}

// AdvanceRotation implements spec §6's advance_rotation, turning the
// Stale/Blocked outcomes of rotation.AdvanceRotation into the
// Precondition errors scenario 4 of spec §8 names explicitly.
func (c *CoreContext) AdvanceRotation(ctx context.Context, groupID model.GroupID, expectedIndex int) (*rotation.AdvanceResult, error) {
	return track(c, "advance_rotation", func() (*rotation.AdvanceResult, error) {
		var res *rotation.AdvanceResult
		err := withRetry(ctx, func() error {
			var innerErr error
			res, innerErr = c.rotation.AdvanceRotation(ctx, groupID, expectedIndex)
			return innerErr
		})
		if err != nil {
			return res, err
		}
		switch res.Outcome {
		case rotation.Stale:
			return res, engineerr.Preconditionf("stale_expected_index", "group %s rotation index is %d, expected %d", groupID, res.NewIndex, expectedIndex)
		case rotation.Blocked:
			return res, engineerr.Preconditionf("rotation_blocked", "group %s rotation %d has outstanding uncovered contributions", groupID, expectedIndex)
		default:
			return res, nil
		}
	})
}

// LeaveDecision is request_leave's response shape (spec §6).
type LeaveDecision struct {
	Allowed bool
	Reason  string
}

// RequestLeave implements spec §6's request_leave. A member who is
// locked in (has received a payout still owed to the rotation, or is
// mid-default-recovery) can never leave early - spec §8 scenario 6 -
// so this never mutates state; it only reports the decision.
func (c *CoreContext) RequestLeave(ctx context.Context, memberID model.MemberID, actorRef string) (*LeaveDecision, error) {
	return track(c, "request_leave", func() (*LeaveDecision, error) {
		member, err := c.store.ReadMember(ctx, memberID)
		if err != nil {
			return nil, err
		}
		if member.IsLockedIn {
			group, err := c.store.ReadGroup(ctx, member.GroupID)
			if err != nil {
				return nil, err
			}
			remaining := group.Config.MemberLimit - group.CompletedRotations
			if remaining < 0 {
				remaining = 0
			}
			return &LeaveDecision{
				Allowed: false,
				Reason:  fmt.Sprintf("is_locked_in=true, %d rotation(s) remaining before cycle close", remaining),
			}, nil
		}
		return &LeaveDecision{Allowed: true}, nil
	})
}

// CloseCycle implements spec §6's close_cycle.
func (c *CoreContext) CloseCycle(ctx context.Context, groupID model.GroupID, adminRef string) (*cyclecloser.Summary, error) {
	return track(c, "close_cycle", func() (*cyclecloser.Summary, error) {
		c.logger.Debug("close_cycle", "group", groupID.String(), "admin", adminRef)
		var summary *cyclecloser.Summary
		err := withRetry(ctx, func() error {
			var innerErr error
			summary, innerErr = c.closer.Close(ctx, groupID)
			return innerErr
		})
		return summary, err
	})
}

// HandleTimerFire implements spec §6's inbound timer-fire delivery: a
// Scheduler adapter calls this when an armed deadline or reminder
// fires, routing through internal/timerdispatch's idempotent
// re-validation.
func (c *CoreContext) HandleTimerFire(ctx context.Context, fire ports.TimerFire) error {
	return trackErr(c, "timer_fire", func() error {
		return c.timers.HandleFire(ctx, fire)
	})
}

// Audit implements spec §6's audit command.
func (c *CoreContext) Audit(ctx context.Context, groupID model.GroupID) (*audit.Report, error) {
	return track(c, "audit", func() (*audit.Report, error) {
		report, err := c.auditor.Scan(ctx, groupID)
		if err != nil {
			return nil, err
		}
		if c.metrics != nil {
			for _, f := range report.Findings {
				c.metrics.AuditFindings.WithLabelValues(string(f.Severity), strconv.FormatBool(f.AutoCorrected)).Inc()
			}
		}
		return report, nil
	})
}
