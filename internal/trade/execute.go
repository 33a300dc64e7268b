// Package trade executes team buy/sell requests against a game session at the
// engine's current valuation, applying bid/ask spread and commission.
//
// Execution works on the session it is handed and either applies every
// change (cash, holdings, trade log) or none. Callers serialize access per
// game and persist the result.
//
// All monetary values use shopspring/decimal.
package trade

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/misionbonos/bond-engine/internal/limits"
	"github.com/misionbonos/bond-engine/internal/model"
	"github.com/misionbonos/bond-engine/internal/pricing"
	"github.com/misionbonos/bond-engine/internal/round"
)

var (
	ErrInvalidSide          = errors.New("trade: side must be BUY or SELL")
	ErrNonPositiveQuantity  = errors.New("trade: quantity must be positive")
	ErrFractionalQuantity   = errors.New("trade: quantity must be a whole number")
	ErrUnknownBond          = errors.New("trade: unknown bond")
	ErrUnknownTeam          = errors.New("trade: unknown team")
	ErrInsufficientCash     = errors.New("trade: insufficient cash")
	ErrInsufficientHoldings = errors.New("trade: insufficient holdings")
)

// Request is a team's order to trade immediately at the current price.
type Request struct {
	TeamName string          `json:"team_name"`
	BondID   string          `json:"bond_id"`
	Side     model.Side      `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Validate checks the request fields that do not depend on session state.
func (r Request) Validate(cfg model.GameConfig) error {
	if !r.Side.Valid() {
		return fmt.Errorf("%w: got %q", ErrInvalidSide, r.Side)
	}
	if !r.Quantity.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrNonPositiveQuantity, r.Quantity)
	}
	if !cfg.FractionalQuantities && !r.Quantity.Equal(r.Quantity.Truncate(0)) {
		return fmt.Errorf("%w: got %s", ErrFractionalQuantity, r.Quantity)
	}
	return nil
}

// Execute runs the request against s. On success the team's cash and
// holdings are updated, the trade is appended to s.Trades and returned. On
// failure s is left untouched.
func Execute(s *model.GameSession, req Request, id string, now time.Time) (model.Trade, error) {
	if err := round.CanTrade(s); err != nil {
		return model.Trade{}, err
	}
	if err := req.Validate(s.Config); err != nil {
		return model.Trade{}, err
	}

	team, ok := s.Teams[req.TeamName]
	if !ok {
		return model.Trade{}, fmt.Errorf("%w: %s", ErrUnknownTeam, req.TeamName)
	}
	bond, ok := s.Scenario.Bond(req.BondID)
	if !ok {
		return model.Trade{}, fmt.Errorf("%w: %s", ErrUnknownBond, req.BondID)
	}

	delta := req.Quantity
	if req.Side == model.SideSell {
		delta = req.Quantity.Neg()
	}
	limiter := limits.NewPositionLimiter(s.Config.MaxPositionPerBond, s.Config.MaxTotalPosition)
	if err := limiter.CheckLimit(bond.ID, delta, team.Holdings); err != nil {
		return model.Trade{}, err
	}

	v, breakdown, err := Value(s, bond, s.RoundNumber)
	if err != nil {
		return model.Trade{}, err
	}

	execPrice := ExecutionPrice(s.Config, req.Side, v.Price)
	notional := execPrice.Mul(req.Quantity)
	commission := notional.Mul(s.Config.CommissionRate).Round(pricing.PriceScale)

	var newCash decimal.Decimal
	held := team.Holdings[bond.ID]
	switch req.Side {
	case model.SideBuy:
		newCash = team.CashBalance.Sub(notional).Sub(commission)
		if newCash.IsNegative() && !s.Config.AllowMargin {
			return model.Trade{}, fmt.Errorf("%w: need %s, have %s",
				ErrInsufficientCash, notional.Add(commission), team.CashBalance)
		}
	case model.SideSell:
		if held.LessThan(req.Quantity) && !s.Config.AllowShortSelling {
			return model.Trade{}, fmt.Errorf("%w: selling %s %s, holding %s",
				ErrInsufficientHoldings, req.Quantity, bond.ID, held)
		}
		newCash = team.CashBalance.Add(notional).Sub(commission)
	}

	tr := model.Trade{
		ID:             id,
		TeamName:       team.Name,
		BondID:         bond.ID,
		Side:           req.Side,
		RoundNumber:    s.RoundNumber,
		Quantity:       req.Quantity,
		ReferencePrice: v.Price,
		ExecutionPrice: execPrice,
		CommissionPaid: commission,
		EffectiveYield: breakdown.Yield(),
		Timestamp:      now,
	}

	// Every check has passed: apply all changes together.
	team.CashBalance = newCash
	if team.Holdings == nil {
		team.Holdings = make(map[string]decimal.Decimal)
	}
	if newHeld := held.Add(delta); newHeld.IsZero() {
		delete(team.Holdings, bond.ID)
	} else {
		team.Holdings[bond.ID] = newHeld
	}
	s.Trades = append(s.Trades, tr)
	return tr, nil
}
