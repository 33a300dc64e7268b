package game

import (
	"time"

	"github.com/misionbonos/bond-engine/internal/model"
)

// Event types pushed to subscribers after a change has been persisted.
const (
	EventGameCreated    = "game_created"
	EventScenarioLoaded = "scenario_loaded"
	EventTeamRegistered = "team_registered"
	EventTradeExecuted  = "trade_executed"
	EventRoundPublished = "round_published"
	EventTradingOpened  = "trading_opened"
	EventTradingClosed  = "trading_closed"
	EventGameFinalized  = "game_finalized"
)

// Event describes a persisted state change.
type Event struct {
	Type      string        `json:"type"`
	GameCode  string        `json:"game_code"`
	Round     int           `json:"round"`
	Phase     model.Phase   `json:"phase"`
	TeamName  string        `json:"team_name,omitempty"`
	Trade     *model.Trade  `json:"trade,omitempty"`
	Quotes    []model.Quote `json:"quotes,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Notifier receives events. Notify must not block.
type Notifier interface {
	Notify(Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
