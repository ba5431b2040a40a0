package model

import "time"

// EventKind enumerates the domain events fanned out by EventBus (spec
// §2, §4.4, §4.5, §4.6, §4.7).
type EventKind string

const (
	EventContributionCompleted  EventKind = "ContributionCompleted"
	EventContributionDefaulted  EventKind = "ContributionDefaulted"
	EventRotationReadyToAdvance EventKind = "RotationReadyToAdvance"
	EventRotationAdvanced       EventKind = "RotationAdvanced"
	EventGroupHalted            EventKind = "GroupHalted"
	EventDepositReplenished     EventKind = "DepositReplenished"
	EventCycleClosed            EventKind = "CycleClosed"
	EventInvariantViolation     EventKind = "InvariantViolation"
	EventReminderDue            EventKind = "ReminderDue"
)

// Event is the envelope published on the EventBus. Payload is kind-
// specific and left loosely typed (map) the way the teacher's bus
// carries arbitrary JSON-ish messages between subsystems; strongly
// typed accessors live next to each producer.
type Event struct {
	Kind      EventKind
	GroupID   GroupID
	MemberID  MemberID // zero value when not member-scoped
	Payload   map[string]any
	EmittedAt time.Time
}
