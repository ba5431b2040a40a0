package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RotationPeriod is one of the three cadences a group can run at.
type RotationPeriod string

const (
	PeriodDaily   RotationPeriod = "daily"
	PeriodWeekly  RotationPeriod = "weekly"
	PeriodMonthly RotationPeriod = "monthly"
)

// DeadlineWindow returns the default dual-confirmation deadline for the
// period, per spec §4.4. Groups may override this in GroupConfig.
func (p RotationPeriod) DeadlineWindow() time.Duration {
	switch p {
	case PeriodDaily:
		return 24 * time.Hour
	case PeriodWeekly:
		return 168 * time.Hour
	case PeriodMonthly:
		return 720 * time.Hour
	default:
		return 168 * time.Hour
	}
}

// GroupStatus tracks the lifecycle of a group. Transitions only move
// forward except active<->paused (spec §3).
type GroupStatus string

const (
	GroupActive    GroupStatus = "active"
	GroupPaused    GroupStatus = "paused"
	GroupCompleted GroupStatus = "completed"
	GroupCancelled GroupStatus = "cancelled"
)

// Tier bounds member_limit through MaxMembers. Supplemented from
// original_source's TierLevel (SPEC_FULL.md §3); it is plain
// configuration here, not billing, and no FeatureFlags lookup is made
// for it.
type Tier string

const (
	TierStarter   Tier = "starter"
	TierEssential Tier = "essential"
	TierAdvanced  Tier = "advanced"
	TierExtended  Tier = "extended"
)

// MaxMembers returns the tier's member cap, i.e. spec's tier_max.
func (t Tier) MaxMembers() int {
	switch t {
	case TierStarter:
		return 10
	case TierEssential:
		return 25
	case TierAdvanced:
		return 60
	case TierExtended:
		return 150
	default:
		return 10
	}
}

// GroupConfig is the immutable-once-created arithmetic configuration of
// a group: everything DepositCalculator and RotationEngine need and
// nothing else. Kept distinct from Group so pure calculators never touch
// the full mutable aggregate.
type GroupConfig struct {
	ContributionAmount decimal.Decimal
	MemberLimit        int
	DepositMultiplier  decimal.Decimal
	Period             RotationPeriod
	// DeadlineOverride, when non-zero, replaces Period.DeadlineWindow().
	DeadlineOverride time.Duration
}

func (c GroupConfig) Deadline() time.Duration {
	if c.DeadlineOverride > 0 {
		return c.DeadlineOverride
	}
	return c.Period.DeadlineWindow()
}

// Group is the savings pool aggregate (spec §3).
type Group struct {
	ID                GroupID
	Name              string
	AdminRef          string
	Tier              Tier
	Config            GroupConfig
	Status            GroupStatus
	CurrentRotationIx int
	CompletedRotations int
	// RotationStartedAt records, per rotation index, when that rotation's
	// contribution deadlines begin ticking from. Resolves the Open
	// Question in spec.md §9 ("deadline start for the first rotation").
	RotationStartedAt map[int]time.Time
	CreatedAt         time.Time
	// Version is the optimistic-concurrency token StateStore compares
	// on every conditional write.
	Version int64
}

// Accepting reports whether the group currently allows join_group.
func (g *Group) Accepting() bool {
	return g.Status == GroupActive || g.Status == GroupPaused
}
