// Package shock composes a bond's base credit spread with the market-wide and
// idiosyncratic shocks published up to a round into one effective yield.
//
// Composition is a plain sum of basis points, so it is order independent and
// multiple shocks in the same round simply add up.
package shock

import (
	"github.com/shopspring/decimal"

	"github.com/misionbonos/bond-engine/internal/model"
)

// BpsPerUnit converts basis points to a fraction.
var BpsPerUnit = decimal.NewFromInt(10000)

// Breakdown splits an effective yield into its components, all in bps.
type Breakdown struct {
	BaseSpreadBps    decimal.Decimal `json:"base_spread_bps"`
	MarketBps        decimal.Decimal `json:"market_bps"`
	IdiosyncraticBps decimal.Decimal `json:"idiosyncratic_bps"`
}

// TotalBps is the effective yield in basis points.
func (b Breakdown) TotalBps() decimal.Decimal {
	return b.BaseSpreadBps.Add(b.MarketBps).Add(b.IdiosyncraticBps)
}

// Yield is the effective annual yield as a fraction.
func (b Breakdown) Yield() decimal.Decimal {
	return b.TotalBps().Div(BpsPerUnit)
}

// Compose sums the shocks from published events with round <= round that
// apply to the bond. Events for later rounds are ignored, so passing the
// full published set is always safe.
func Compose(bond model.Bond, round int, published []model.Event) Breakdown {
	out := Breakdown{BaseSpreadBps: bond.BaseSpreadBps}
	for _, e := range published {
		if e.Round > round || !e.Applies(bond.ID) {
			continue
		}
		switch e.Kind {
		case model.EventMarket:
			out.MarketBps = out.MarketBps.Add(e.Bps)
		case model.EventIdiosyncratic:
			out.IdiosyncraticBps = out.IdiosyncraticBps.Add(e.Bps)
		}
	}
	return out
}

// EffectiveYieldBps returns the bond's effective yield at round in bps.
func EffectiveYieldBps(bond model.Bond, round int, published []model.Event) decimal.Decimal {
	return Compose(bond, round, published).TotalBps()
}

// EffectiveYield returns the bond's effective annual yield at round as a
// fraction (225 bps → 0.0225).
func EffectiveYield(bond model.Bond, round int, published []model.Event) decimal.Decimal {
	return Compose(bond, round, published).Yield()
}
