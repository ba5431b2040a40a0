package main

import (
	"context"
	"sync"
	"time"

	luxlog "github.com/luxfi/log"

	"github.com/mypoolr/roscacore/internal/ports"
)

// inProcessScheduler arms real wall-clock timers via time.AfterFunc and
// delivers fires on a channel a background goroutine drains into
// CoreContext.HandleTimerFire. Grounded on the Scheduler port's own
// contract (spec §6: fires are advisory, the caller re-validates), a
// single-process stand-in for the durable scheduler a production
// deployment would run outside this repo.
type inProcessScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	fires  chan ports.TimerFire
}

func newInProcessScheduler() *inProcessScheduler {
	return &inProcessScheduler{
		timers: make(map[string]*time.Timer),
		fires:  make(chan ports.TimerFire, 64),
	}
}

var _ ports.Scheduler = (*inProcessScheduler)(nil)

func (s *inProcessScheduler) Arm(_ context.Context, taskID string, fireAt time.Time, payload map[string]string) (string, error) {
	d := time.Until(fireAt)
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.timers[taskID]; ok {
		existing.Stop()
	}
	s.timers[taskID] = time.AfterFunc(d, func() {
		s.fires <- ports.TimerFire{TaskID: taskID, Payload: payload}
	})
	return taskID, nil
}

func (s *inProcessScheduler) Cancel(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[handle]; ok {
		t.Stop()
		delete(s.timers, handle)
	}
	return nil
}

// logNotifier emits notifications as structured log lines, standing in
// for the outbound notification channel (SMS, push, email) a production
// deployment wires outside this repo.
type logNotifier struct {
	logger luxlog.Logger
}

var _ ports.NotificationSink = (*logNotifier)(nil)

func (n *logNotifier) Emit(_ context.Context, eventKind, recipientRef, templateKey string, variables map[string]string) error {
	n.logger.Info("notification", "event", eventKind, "recipient", recipientRef, "template", templateKey, "vars", variables)
	return nil
}

// logAudit appends audit entries as structured log lines rather than to
// an external append-only store.
type logAudit struct {
	logger luxlog.Logger
}

var _ ports.Audit = (*logAudit)(nil)

func (a *logAudit) Append(_ context.Context, kind, severity string, fields map[string]any) error {
	a.logger.Info("audit_entry", "kind", kind, "severity", severity, "fields", fields)
	return nil
}

// staticFlags gates nothing on by default; roscad is a local demo
// harness with no feature-flag backend of its own.
type staticFlags struct{}

var _ ports.FeatureFlags = (*staticFlags)(nil)

func (staticFlags) IsEnabled(_ context.Context, _ string, _ string) bool { return false }

// noopPayments treats every reference as an already-settled payment,
// since roscad has no real payment rail wired in; confirm_deposit's
// gateway check is skipped whenever Deps.Payments is nil, but this
// adapter exists so the CLI can demonstrate the query path too.
type noopPayments struct{}

var _ ports.PaymentGateway = (*noopPayments)(nil)

func (noopPayments) Initiate(_ context.Context, _ int64, _, _, reference string, _ map[string]string) (string, error) {
	return reference, nil
}

func (noopPayments) Query(_ context.Context, _ string) (ports.PaymentStatus, error) {
	return ports.PaymentCompleted, nil
}
