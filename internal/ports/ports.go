package ports

import (
	"context"
	"time"
)

// PaymentStatus is the lifecycle of a payment at the gateway (spec §6).
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentExpired   PaymentStatus = "expired"
)

// PaymentGateway initiates and tracks real money movement. The core
// never calls this synchronously inside a lease-held critical section
// (spec §5: "External calls ... are always outside the lease window").
type PaymentGateway interface {
	Initiate(ctx context.Context, amountCents int64, currency, payerRef, reference string, metadata map[string]string) (paymentID string, err error)
	Query(ctx context.Context, paymentID string) (PaymentStatus, error)
}

// PaymentCallback is the shape of an inbound gateway callback.
type PaymentCallback struct {
	PaymentID    string
	FinalStatus  PaymentStatus
}

// NotificationSink delivers at-least-once, recipient-deduplicated
// notifications (spec §6).
type NotificationSink interface {
	Emit(ctx context.Context, eventKind, recipientRef, templateKey string, variables map[string]string) error
}

// Scheduler arms and cancels deadline timers (spec §6). Fires are
// advisory: the caller must re-validate state before acting on one
// (spec §5).
type Scheduler interface {
	Arm(ctx context.Context, taskID string, fireAt time.Time, payload map[string]string) (handle string, err error)
	Cancel(ctx context.Context, handle string) error
}

// TimerFire is what the Scheduler port delivers inbound (spec §6).
type TimerFire struct {
	TaskID  string
	Payload map[string]string
}

// Clock abstracts wall-clock time so every time computation goes
// through one seam (spec §6: "All time math uses UTC").
type Clock interface {
	Now() time.Time
}

// FeatureFlags gates optional behaviors (tier caps, new flows) per
// spec §6.
type FeatureFlags interface {
	IsEnabled(ctx context.Context, flag string, groupID string) bool
}

// Audit is an append-only sink for system events; never read back by
// the core (spec §6).
type Audit interface {
	Append(ctx context.Context, kind, severity string, fields map[string]any) error
}
