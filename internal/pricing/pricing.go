// Package pricing implements discounted-cash-flow valuation of fixed-coupon
// bonds at a given effective annual yield.
//
// Coupon per period = face * rate / freq, n = round(years * freq) periods,
// per-period discount rate r = y / freq:
//
//	PV = Σ_{k=1..n} coupon / (1+r)^k + face / (1+r)^n
//
// Callable bonds are priced to worst: the lesser of the value to maturity and
// the value to the call date (final cash flow = call price), since the issuer
// calls whenever that is cheaper for it.
//
// Internal math uses float64; results are converted to decimal rounded to
// PriceScale places.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/misionbonos/bond-engine/internal/model"
)

var (
	// ErrInvalidBond is returned for bonds that cannot be discounted:
	// non-positive frequency, maturity or face value, or a callable bond
	// without a call price.
	ErrInvalidBond = errors.New("pricing: invalid bond definition")

	// ErrInvalidYield is returned when 1 + y/freq <= 0, where discount
	// factors are undefined.
	ErrInvalidYield = errors.New("pricing: yield implies non-positive discount factor")

	// PriceScale is the number of decimal places prices are rounded to.
	PriceScale int32 = 8
)

// Valuation is the detailed result of pricing one bond.
type Valuation struct {
	ToMaturity decimal.Decimal `json:"to_maturity"`
	ToCall     decimal.Decimal `json:"to_call,omitempty"` // zero unless callable
	Price      decimal.Decimal `json:"price"`
	Called     bool            `json:"called"` // Price came from the call schedule
	Periods    int             `json:"periods"`
}

// Validate checks that a bond can be priced.
func Validate(b model.Bond) error {
	if b.Frequency <= 0 {
		return fmt.Errorf("%w: %s coupon frequency %d must be positive", ErrInvalidBond, b.ID, b.Frequency)
	}
	if !b.YearsToMaturity.IsPositive() {
		return fmt.Errorf("%w: %s years to maturity %s must be positive", ErrInvalidBond, b.ID, b.YearsToMaturity)
	}
	if !b.FaceValue.IsPositive() {
		return fmt.Errorf("%w: %s face value %s must be positive", ErrInvalidBond, b.ID, b.FaceValue)
	}
	if b.CouponRate.IsNegative() {
		return fmt.Errorf("%w: %s coupon rate %s must not be negative", ErrInvalidBond, b.ID, b.CouponRate)
	}
	if b.Callable {
		if b.CallPrice == nil || !b.CallPrice.IsPositive() {
			return fmt.Errorf("%w: %s is callable without a positive call price", ErrInvalidBond, b.ID)
		}
		if b.CallYears != nil && b.CallYears.IsNegative() {
			return fmt.Errorf("%w: %s call years %s must not be negative", ErrInvalidBond, b.ID, b.CallYears)
		}
	}
	return nil
}

// Periods returns the number of remaining coupon periods, at least one.
func Periods(b model.Bond) int {
	return periodsFor(b.YearsToMaturity, b.Frequency)
}

func periodsFor(years decimal.Decimal, freq int) int {
	n := int(math.Round(years.InexactFloat64() * float64(freq)))
	if n < 1 {
		return 1
	}
	return n
}

// callPeriods is the number of periods until the first call date, capped at
// the periods to maturity.
func callPeriods(b model.Bond, n int) int {
	if b.CallYears == nil {
		return 1
	}
	k := periodsFor(*b.CallYears, b.Frequency)
	if k > n {
		return n
	}
	return k
}

// presentValue discounts n equal coupons plus a final redemption amount.
func presentValue(coupon, redemption, r float64, n int) float64 {
	if r == 0 {
		return coupon*float64(n) + redemption
	}
	var pv float64
	growth := 1.0
	for k := 1; k <= n; k++ {
		growth *= 1 + r
		pv += coupon / growth
	}
	return pv + redemption/growth
}

// Value prices a bond at the given effective annual yield (a fraction,
// 0.0225 = 2.25%) and reports both legs of the callable policy.
func Value(b model.Bond, effectiveAnnualYield decimal.Decimal) (Valuation, error) {
	if err := Validate(b); err != nil {
		return Valuation{}, err
	}

	freq := float64(b.Frequency)
	r := effectiveAnnualYield.InexactFloat64() / freq
	if 1+r <= 0 {
		return Valuation{}, fmt.Errorf("%w: yield %s", ErrInvalidYield, effectiveAnnualYield)
	}

	face := b.FaceValue.InexactFloat64()
	coupon := face * b.CouponRate.InexactFloat64() / freq
	n := Periods(b)

	toMaturity := decimal.NewFromFloat(presentValue(coupon, face, r, n)).Round(PriceScale)
	v := Valuation{
		ToMaturity: toMaturity,
		Price:      toMaturity,
		Periods:    n,
	}

	if b.Callable {
		k := callPeriods(b, n)
		toCall := decimal.NewFromFloat(presentValue(coupon, b.CallPrice.InexactFloat64(), r, k)).Round(PriceScale)
		v.ToCall = toCall
		if toCall.LessThan(toMaturity) {
			v.Price = toCall
			v.Called = true
		}
	}
	return v, nil
}

// Price returns the present value of a bond at the given effective annual
// yield, applying the callable policy.
func Price(b model.Bond, effectiveAnnualYield decimal.Decimal) (decimal.Decimal, error) {
	v, err := Value(b, effectiveAnnualYield)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Price, nil
}

// Age returns a copy of the bond with elapsed years taken off its maturity
// and call schedule. Maturity never drops below one coupon period; a call
// date already passed means the bond is callable from the next coupon.
func Age(b model.Bond, elapsed decimal.Decimal) model.Bond {
	if !elapsed.IsPositive() || b.Frequency <= 0 {
		return b
	}
	minYears := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(b.Frequency)))
	remaining := b.YearsToMaturity.Sub(elapsed)
	if remaining.LessThan(minYears) {
		remaining = minYears
	}
	b.YearsToMaturity = remaining

	if b.CallYears != nil {
		left := b.CallYears.Sub(elapsed)
		if left.IsPositive() {
			b.CallYears = &left
		} else {
			b.CallYears = nil
		}
	}
	return b
}
