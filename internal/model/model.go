// Package model defines the core domain types shared across the game engine.
// All monetary values and quantities use shopspring/decimal, never float64.
package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Bond is the static definition of a fixed-coupon bond. Immutable once the
// scenario is loaded.
type Bond struct {
	ID              string           `json:"bond_id"`
	Name            string           `json:"name"`
	FaceValue       decimal.Decimal  `json:"face_value"`
	CouponRate      decimal.Decimal  `json:"annual_coupon_rate"`        // fraction, 0.05 = 5%
	Frequency       int              `json:"coupon_frequency_per_year"` // coupons per year
	YearsToMaturity decimal.Decimal  `json:"years_to_maturity"`
	BaseSpreadBps   decimal.Decimal  `json:"base_spread_bps"`
	Callable        bool             `json:"callable"`
	CallPrice       *decimal.Decimal `json:"call_price,omitempty"`
	// CallYears is the time to the first call date. Nil means callable from
	// the next coupon date.
	CallYears   *decimal.Decimal `json:"call_years,omitempty"`
	Description string           `json:"description,omitempty"`
}

// EventKind tags the Event variant.
type EventKind string

const (
	EventMarket        EventKind = "MARKET"
	EventIdiosyncratic EventKind = "IDIOS"
)

// Event is a yield shock scheduled for a round. MARKET events move every
// bond; IDIOS events move only BondID.
type Event struct {
	Kind        EventKind       `json:"type"`
	Round       int             `json:"round"`
	BondID      string          `json:"bond_id,omitempty"`
	Bps         decimal.Decimal `json:"bps"` // delta_bps for MARKET, impact_bps for IDIOS
	Description string          `json:"description,omitempty"`
}

// MarketShock builds a market-wide event.
func MarketShock(round int, deltaBps decimal.Decimal) Event {
	return Event{Kind: EventMarket, Round: round, Bps: deltaBps}
}

// IdiosyncraticShock builds an event targeting a single bond.
func IdiosyncraticShock(round int, bondID string, impactBps decimal.Decimal) Event {
	return Event{Kind: EventIdiosyncratic, Round: round, BondID: bondID, Bps: impactBps}
}

// Applies reports whether the event moves the given bond's yield.
func (e Event) Applies(bondID string) bool {
	switch e.Kind {
	case EventMarket:
		return true
	case EventIdiosyncratic:
		return e.BondID == bondID
	}
	return false
}

// Scenario is the set of bonds and scheduled events of one game.
type Scenario struct {
	Bonds  []Bond  `json:"bonds"`
	Events []Event `json:"events"`
}

// Bond looks up a bond by ID.
func (s Scenario) Bond(id string) (Bond, bool) {
	for _, b := range s.Bonds {
		if b.ID == id {
			return b, true
		}
	}
	return Bond{}, false
}

// MaxRound returns the highest round any event is scheduled for.
func (s Scenario) MaxRound() int {
	max := 0
	for _, e := range s.Events {
		if e.Round > max {
			max = e.Round
		}
	}
	return max
}

// GameConfig holds the moderator-chosen parameters of a game.
type GameConfig struct {
	TotalRounds     int             `json:"total_rounds"`
	InitialCash     decimal.Decimal `json:"initial_cash"`
	CommissionRate  decimal.Decimal `json:"commission_rate"` // fraction of notional
	BidAskSpreadBps decimal.Decimal `json:"bid_ask_spread_bps"`
	// YearFractionPerRound shortens every bond's maturity by this many years
	// per elapsed round. Zero disables time decay.
	YearFractionPerRound decimal.Decimal `json:"year_fraction_per_round"`
	AllowShortSelling    bool            `json:"allow_short_selling"`
	AllowMargin          bool            `json:"allow_margin"`
	FractionalQuantities bool            `json:"fractional_quantities"`
	MaxPositionPerBond   decimal.Decimal `json:"max_position_per_bond"` // 0 = unlimited
	MaxTotalPosition     decimal.Decimal `json:"max_total_position"`    // 0 = unlimited
}

// DefaultConfig mirrors the classroom defaults: three rounds, one million of
// starting cash, 40 bps bid/ask and 10 bps commission.
func DefaultConfig() GameConfig {
	return GameConfig{
		TotalRounds:     3,
		InitialCash:     decimal.NewFromInt(1_000_000),
		CommissionRate:  decimal.NewFromFloat(0.001),
		BidAskSpreadBps: decimal.NewFromInt(40),
	}
}

// Phase is the externally visible state of the round state machine.
type Phase string

const (
	PhaseSetup          Phase = "SETUP"
	PhaseRoundPublished Phase = "ROUND_PUBLISHED"
	PhaseTradingOn      Phase = "TRADING_ON"
	PhaseTradingOff     Phase = "TRADING_OFF"
	PhaseFinal          Phase = "FINAL"
)

// Team is a competing team and its portfolio.
type Team struct {
	Name         string                     `json:"team_name"`
	CashBalance  decimal.Decimal            `json:"cash_balance"`
	InitialCash  decimal.Decimal            `json:"initial_cash"`
	Holdings     map[string]decimal.Decimal `json:"holdings"` // bond_id → quantity
	RegisteredAt time.Time                  `json:"registered_at"`
}

// Trade is an immutable record of an executed trade.
type Trade struct {
	ID             string          `json:"id"`
	TeamName       string          `json:"team_name"`
	BondID         string          `json:"bond_id"`
	Side           Side            `json:"side"`
	RoundNumber    int             `json:"round_number"`
	Quantity       decimal.Decimal `json:"quantity"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	CommissionPaid decimal.Decimal `json:"commission_paid"`
	EffectiveYield decimal.Decimal `json:"effective_yield"`
	Timestamp      time.Time       `json:"timestamp"`
}

// CashDelta is the signed change in cash caused by the trade.
func (t Trade) CashDelta() decimal.Decimal {
	notional := t.ExecutionPrice.Mul(t.Quantity)
	if t.Side == SideBuy {
		return notional.Add(t.CommissionPaid).Neg()
	}
	return notional.Sub(t.CommissionPaid)
}

// GameSession is the full mutable state of one game. Mutated only under the
// per-game lock and persisted after every mutation.
type GameSession struct {
	GameCode          string           `json:"game_code"`
	Config            GameConfig       `json:"config"`
	Scenario          Scenario         `json:"scenario"`
	RoundNumber       int              `json:"round_number"`
	TradingWindowOpen bool             `json:"trading_window_open"`
	PublishedRounds   []int            `json:"published_rounds"`
	TradedRound       int              `json:"traded_round"` // last round whose window was opened
	Finalized         bool             `json:"finalized"`
	Teams             map[string]*Team `json:"teams"`
	Trades            []Trade          `json:"trades"`
	Version           int64            `json:"version"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// NewGameSession creates an empty session in SETUP.
func NewGameSession(code string, cfg GameConfig, now time.Time) *GameSession {
	return &GameSession{
		GameCode:  code,
		Config:    cfg,
		Teams:     make(map[string]*Team),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsPublished reports whether round n's shocks are visible for pricing.
// Round 0 (base spreads only) is always visible.
func (s *GameSession) IsPublished(n int) bool {
	if n == 0 {
		return true
	}
	for _, r := range s.PublishedRounds {
		if r == n {
			return true
		}
	}
	return false
}

// PublishedEvents returns the scenario events whose round is published.
func (s *GameSession) PublishedEvents() []Event {
	var out []Event
	for _, e := range s.Scenario.Events {
		if s.IsPublished(e.Round) {
			out = append(out, e)
		}
	}
	return out
}

// TeamNames returns the registered team names in ascending order.
func (s *GameSession) TeamNames() []string {
	names := make([]string, 0, len(s.Teams))
	for name := range s.Teams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy so a mutation can be prepared and discarded
// without touching the original.
func (s *GameSession) Clone() *GameSession {
	c := *s
	c.Scenario.Bonds = append([]Bond(nil), s.Scenario.Bonds...)
	c.Scenario.Events = append([]Event(nil), s.Scenario.Events...)
	c.PublishedRounds = append([]int(nil), s.PublishedRounds...)
	c.Trades = append([]Trade(nil), s.Trades...)
	c.Teams = make(map[string]*Team, len(s.Teams))
	for name, t := range s.Teams {
		tc := *t
		tc.Holdings = make(map[string]decimal.Decimal, len(t.Holdings))
		for id, q := range t.Holdings {
			tc.Holdings[id] = q
		}
		c.Teams[name] = &tc
	}
	return &c
}

// Quote is the published price board line for one bond in one round.
type Quote struct {
	BondID            string          `json:"bond_id"`
	Name              string          `json:"name"`
	Round             int             `json:"round"`
	EffectiveYieldBps decimal.Decimal `json:"effective_yield_bps"`
	EffectiveYield    decimal.Decimal `json:"effective_yield"`
	Mid               decimal.Decimal `json:"mid"`
	Bid               decimal.Decimal `json:"bid"`
	Ask               decimal.Decimal `json:"ask"`
	CalledPricing     bool            `json:"called_pricing"` // price capped by the call schedule
}

// PositionValue is one marked holding.
type PositionValue struct {
	BondID   string          `json:"bond_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Value    decimal.Decimal `json:"value"`
}

// Portfolio is a team's mark-to-market valuation at a round.
type Portfolio struct {
	TeamName       string          `json:"team_name"`
	Round          int             `json:"round"`
	Cash           decimal.Decimal `json:"cash"`
	Positions      []PositionValue `json:"positions"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	TotalValue     decimal.Decimal `json:"portfolio_value"`
	InitialCash    decimal.Decimal `json:"initial_cash"`
	Return         decimal.Decimal `json:"return"`
}

// LeaderboardEntry is one ranked line of the leaderboard.
type LeaderboardEntry struct {
	Rank           int             `json:"rank"`
	TeamName       string          `json:"team_name"`
	Cash           decimal.Decimal `json:"cash"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	Return         decimal.Decimal `json:"return"`
}
