package trade

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/misionbonos/bond-engine/internal/model"
	"github.com/misionbonos/bond-engine/internal/pricing"
	"github.com/misionbonos/bond-engine/internal/shock"
)

var two = decimal.NewFromInt(2)

// HalfSpread returns half the configured bid/ask spread as a fraction.
func HalfSpread(cfg model.GameConfig) decimal.Decimal {
	return cfg.BidAskSpreadBps.Div(two).Div(shock.BpsPerUnit)
}

// elapsedYears is the time decay applied when pricing at round n: the first
// round prices the bond as issued.
func elapsedYears(cfg model.GameConfig, n int) decimal.Decimal {
	if n <= 1 || !cfg.YearFractionPerRound.IsPositive() {
		return decimal.Zero
	}
	return cfg.YearFractionPerRound.Mul(decimal.NewFromInt(int64(n - 1)))
}

// Value prices bond at round n using only the session's published shocks.
// It is computed fresh on every call.
func Value(s *model.GameSession, bond model.Bond, n int) (pricing.Valuation, shock.Breakdown, error) {
	breakdown := shock.Compose(bond, n, s.PublishedEvents())
	aged := pricing.Age(bond, elapsedYears(s.Config, n))
	v, err := pricing.Value(aged, breakdown.Yield())
	if err != nil {
		return pricing.Valuation{}, breakdown, fmt.Errorf("value %s at round %d: %w", bond.ID, n, err)
	}
	return v, breakdown, nil
}

// ReferencePrice is the mid price of bond at round n.
func ReferencePrice(s *model.GameSession, bond model.Bond, n int) (decimal.Decimal, error) {
	v, _, err := Value(s, bond, n)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Price, nil
}

// ExecutionPrice applies half the spread to the reference price: buyers pay
// the ask, sellers receive the bid.
func ExecutionPrice(cfg model.GameConfig, side model.Side, reference decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	half := HalfSpread(cfg)
	if side == model.SideBuy {
		return reference.Mul(one.Add(half)).Round(pricing.PriceScale)
	}
	return reference.Mul(one.Sub(half)).Round(pricing.PriceScale)
}

// Quote builds the price board line for one bond at round n.
func Quote(s *model.GameSession, bond model.Bond, n int) (model.Quote, error) {
	v, breakdown, err := Value(s, bond, n)
	if err != nil {
		return model.Quote{}, err
	}
	return model.Quote{
		BondID:            bond.ID,
		Name:              bond.Name,
		Round:             n,
		EffectiveYieldBps: breakdown.TotalBps(),
		EffectiveYield:    breakdown.Yield(),
		Mid:               v.Price,
		Bid:               ExecutionPrice(s.Config, model.SideSell, v.Price),
		Ask:               ExecutionPrice(s.Config, model.SideBuy, v.Price),
		CalledPricing:     v.Called,
	}, nil
}

// Quotes builds the price board for every bond at round n, in scenario order.
func Quotes(s *model.GameSession, n int) ([]model.Quote, error) {
	quotes := make([]model.Quote, 0, len(s.Scenario.Bonds))
	for _, b := range s.Scenario.Bonds {
		q, err := Quote(s, b, n)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}
