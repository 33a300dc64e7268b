package game

import (
	"context"
	"fmt"

	"github.com/misionbonos/bond-engine/internal/model"
	"github.com/misionbonos/bond-engine/internal/round"
	"github.com/misionbonos/bond-engine/internal/scoring"
	"github.com/misionbonos/bond-engine/internal/trade"
)

// CurrentRound asks a query for the session's latest published round.
const CurrentRound = -1

// Summary is the externally visible state of a game.
type Summary struct {
	GameCode          string           `json:"game_code"`
	Phase             model.Phase      `json:"phase"`
	RoundNumber       int              `json:"round_number"`
	TotalRounds       int              `json:"total_rounds"`
	TradingWindowOpen bool             `json:"trading_window_open"`
	PublishedRounds   []int            `json:"published_rounds"`
	Config            model.GameConfig `json:"config"`
	Bonds             []model.Bond     `json:"bonds"`
	PublishedEvents   []model.Event    `json:"published_events"`
	Teams             []string         `json:"teams"`
	TradeCount        int              `json:"trade_count"`
	Version           int64            `json:"version"`
}

// Summarize builds the public view of s. Unpublished events stay hidden.
func Summarize(s *model.GameSession) Summary {
	published := s.PublishedEvents()
	if published == nil {
		published = []model.Event{}
	}
	rounds := s.PublishedRounds
	if rounds == nil {
		rounds = []int{}
	}
	bonds := s.Scenario.Bonds
	if bonds == nil {
		bonds = []model.Bond{}
	}
	return Summary{
		GameCode:          s.GameCode,
		Phase:             round.Phase(s),
		RoundNumber:       s.RoundNumber,
		TotalRounds:       round.TotalRounds(s),
		TradingWindowOpen: s.TradingWindowOpen,
		PublishedRounds:   rounds,
		Config:            s.Config,
		Bonds:             bonds,
		PublishedEvents:   published,
		Teams:             s.TeamNames(),
		TradeCount:        len(s.Trades),
		Version:           s.Version,
	}
}

// Session returns the last persisted snapshot of the game.
func (e *Engine) Session(ctx context.Context, code string) (*model.GameSession, error) {
	return e.load(ctx, code)
}

// Games lists the known game codes.
func (e *Engine) Games(ctx context.Context) ([]string, error) {
	codes, err := e.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if codes == nil {
		codes = []string{}
	}
	return codes, nil
}

func resolveRound(s *model.GameSession, n int) int {
	if n == CurrentRound {
		return s.RoundNumber
	}
	return n
}

// Quotes returns the price board for round n.
func (e *Engine) Quotes(ctx context.Context, code string, n int) ([]model.Quote, error) {
	s, err := e.load(ctx, code)
	if err != nil {
		return nil, err
	}
	n = resolveRound(s, n)
	if n < 0 || n > s.RoundNumber || !s.IsPublished(n) {
		return nil, fmt.Errorf("%w: round %d (current %d)", round.ErrNoPublishedRound, n, s.RoundNumber)
	}
	return trade.Quotes(s, n)
}

// Leaderboard ranks every team at round n.
func (e *Engine) Leaderboard(ctx context.Context, code string, n int) ([]model.LeaderboardEntry, error) {
	s, err := e.load(ctx, code)
	if err != nil {
		return nil, err
	}
	return scoring.Leaderboard(s, resolveRound(s, n))
}

// MarkToMarket values one team's portfolio at round n.
func (e *Engine) MarkToMarket(ctx context.Context, code, team string, n int) (model.Portfolio, error) {
	s, err := e.load(ctx, code)
	if err != nil {
		return model.Portfolio{}, err
	}
	return scoring.MarkToMarket(s, team, resolveRound(s, n))
}

// Trades returns the trade log, optionally for one team.
func (e *Engine) Trades(ctx context.Context, code, team string) ([]model.Trade, error) {
	s, err := e.load(ctx, code)
	if err != nil {
		return nil, err
	}
	if team != "" {
		if _, ok := s.Teams[team]; !ok {
			return nil, fmt.Errorf("%w: %s", trade.ErrUnknownTeam, team)
		}
	}
	out := make([]model.Trade, 0, len(s.Trades))
	for _, t := range s.Trades {
		if team == "" || t.TeamName == team {
			out = append(out, t)
		}
	}
	return out, nil
}

// Reconcile replays the trade log against every team's stored state.
func (e *Engine) Reconcile(ctx context.Context, code string) ([]trade.Mismatch, error) {
	s, err := e.load(ctx, code)
	if err != nil {
		return nil, err
	}
	out := trade.Reconcile(s)
	if out == nil {
		out = []trade.Mismatch{}
	}
	return out, nil
}
