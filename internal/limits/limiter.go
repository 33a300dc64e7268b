// Package limits implements optional position caps for teams: a maximum
// absolute quantity per bond and a maximum aggregate absolute quantity across
// all bonds. A zero limit disables the corresponding check.
package limits

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerBondLimitExceeded is returned when a trade would push a single
	// bond's position beyond the per-bond maximum.
	ErrPerBondLimitExceeded = errors.New("limits: per-bond position limit exceeded")

	// ErrTotalLimitExceeded is returned when a trade would push the sum of
	// absolute positions across all bonds beyond the total maximum.
	ErrTotalLimitExceeded = errors.New("limits: total position limit exceeded")
)

// PositionLimiter enforces per-bond and aggregate quantity caps.
type PositionLimiter struct {
	// MaxPerBond is the maximum absolute quantity held in any one bond.
	MaxPerBond decimal.Decimal

	// MaxTotal is the maximum of Σ|quantity| over all bonds.
	MaxTotal decimal.Decimal
}

// NewPositionLimiter creates a limiter. Negative limits are treated as zero
// (unlimited).
func NewPositionLimiter(maxPerBond, maxTotal decimal.Decimal) *PositionLimiter {
	if maxPerBond.IsNegative() {
		maxPerBond = decimal.Zero
	}
	if maxTotal.IsNegative() {
		maxTotal = decimal.Zero
	}
	return &PositionLimiter{MaxPerBond: maxPerBond, MaxTotal: maxTotal}
}

// CheckLimit validates a signed quantity change (+buy / -sell) in bondID
// against the team's current holdings.
func (l *PositionLimiter) CheckLimit(
	bondID string,
	delta decimal.Decimal,
	holdings map[string]decimal.Decimal,
) error {
	newPosition := holdings[bondID].Add(delta)

	// 1. Per-bond limit.
	if l.MaxPerBond.IsPositive() && newPosition.Abs().GreaterThan(l.MaxPerBond) {
		return fmt.Errorf("%w: %s would reach %s (max %s)",
			ErrPerBondLimitExceeded, bondID, newPosition, l.MaxPerBond)
	}

	// 2. Aggregate limit across every bond.
	if !l.MaxTotal.IsPositive() {
		return nil
	}
	total := newPosition.Abs()
	for id, qty := range holdings {
		if id == bondID {
			continue // already counted via newPosition above
		}
		total = total.Add(qty.Abs())
	}
	if total.GreaterThan(l.MaxTotal) {
		return fmt.Errorf("%w: total would reach %s (max %s)", ErrTotalLimitExceeded, total, l.MaxTotal)
	}
	return nil
}
