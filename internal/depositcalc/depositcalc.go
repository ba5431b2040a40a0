// Package depositcalc implements the pure arithmetic of spec §4.1: the
// protective deposit a member must post so that their worst-case future
// default never costs another member principal. Nothing here performs
// I/O; every function is a deterministic function of its inputs, grounded
// on original_source/backend/services/security_deposit.py.
package depositcalc

import (
	"github.com/shopspring/decimal"

	"github.com/mypoolr/roscacore/internal/engineerr"
	"github.com/mypoolr/roscacore/internal/model"
)

var cent = decimal.New(1, -2)

// ceilToCent rounds d up to the nearest cent, per spec §4.1's
// "ceil_to_cent" requirement that actual >= required always holds.
func ceilToCent(d decimal.Decimal) decimal.Decimal {
	return d.Div(cent).Ceil().Mul(cent)
}

func validatePosition(cfg model.GroupConfig, position int) error {
	if err := validateGroupConfig(cfg); err != nil {
		return err
	}
	if position < 1 || position > cfg.MemberLimit {
		return engineerr.Validationf("invalid_position", "position %d outside [1, %d]", position, cfg.MemberLimit)
	}
	return nil
}

func validateGroupConfig(cfg model.GroupConfig) error {
	if cfg.MemberLimit < 2 {
		return engineerr.Validationf("invalid_group", "member limit %d must be >= 2", cfg.MemberLimit)
	}
	if cfg.ContributionAmount.LessThanOrEqual(decimal.Zero) {
		return engineerr.Validationf("invalid_group", "contribution amount must be positive, got %s", cfg.ContributionAmount)
	}
	return nil
}

// RequiredForPosition implements spec §4.1:
//
//	required(p, N, c, m) = ceil_to_cent(c * (N - p) * m)
//
// The last position (p == N) always requires zero deposit.
func RequiredForPosition(cfg model.GroupConfig, position int) (decimal.Decimal, error) {
	if err := validatePosition(cfg, position); err != nil {
		return decimal.Zero, err
	}
	remaining := decimal.NewFromInt(int64(cfg.MemberLimit - position))
	multiplier := cfg.DepositMultiplier
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}
	raw := cfg.ContributionAmount.Mul(remaining).Mul(multiplier)
	return ceilToCent(raw), nil
}

// MaxLossIfDefaults implements spec §4.1's max_loss_if_defaults: the
// multiplier-independent worst-case residual liability at position p.
func MaxLossIfDefaults(cfg model.GroupConfig, position int) (decimal.Decimal, error) {
	if err := validatePosition(cfg, position); err != nil {
		return decimal.Zero, err
	}
	remaining := decimal.NewFromInt(int64(cfg.MemberLimit - position))
	return cfg.ContributionAmount.Mul(remaining), nil
}

// MemberCoverage is one row of ValidateGroup's per-member report.
type MemberCoverage struct {
	Position int
	Actual   decimal.Decimal
	Required decimal.Decimal
	Gap      decimal.Decimal // max(0, Required - Actual)
}

// ValidationReport is the output of ValidateGroup (spec §4.1).
type ValidationReport struct {
	Sufficient bool
	PerMember  []MemberCoverage
	SystemGap  decimal.Decimal
}

// ValidateGroup checks every member's actual deposit against the
// required coverage for their position, per
// original_source/backend/services/security_deposit.py's
// validate_deposit_sufficiency, which the distilled spec compresses to
// the one-line validate_group contract (SPEC_FULL.md §4.1).
func ValidateGroup(cfg model.GroupConfig, members []*model.Member) (ValidationReport, error) {
	if err := validateGroupConfig(cfg); err != nil {
		return ValidationReport{}, err
	}

	report := ValidationReport{Sufficient: true, SystemGap: decimal.Zero}
	for _, m := range members {
		if !m.InRotation() {
			continue
		}
		required, err := RequiredForPosition(cfg, m.Position)
		if err != nil {
			return ValidationReport{}, err
		}
		gap := required.Sub(m.DepositAmount)
		if gap.IsNegative() {
			gap = decimal.Zero
		} else if gap.IsPositive() {
			report.Sufficient = false
		}
		report.SystemGap = report.SystemGap.Add(gap)
		report.PerMember = append(report.PerMember, MemberCoverage{
			Position: m.Position,
			Actual:   m.DepositAmount,
			Required: required,
			Gap:      gap,
		})
	}
	return report, nil
}
