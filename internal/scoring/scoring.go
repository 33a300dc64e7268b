// Package scoring marks team portfolios to market and ranks teams by return.
//
// Holdings are valued at the mid (reference) price, without spread, using the
// shocks published up to the requested round. Nothing is cached: every call
// reprices from the session.
package scoring

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/misionbonos/bond-engine/internal/model"
	"github.com/misionbonos/bond-engine/internal/round"
	"github.com/misionbonos/bond-engine/internal/trade"
)

// ErrUnknownTeam is returned when marking a team that is not registered.
var ErrUnknownTeam = errors.New("scoring: unknown team")

// checkRound rejects rounds that have not been published yet.
func checkRound(s *model.GameSession, n int) error {
	if n < 0 || n > s.RoundNumber || !s.IsPublished(n) {
		return fmt.Errorf("%w: round %d (current %d)", round.ErrNoPublishedRound, n, s.RoundNumber)
	}
	return nil
}

// priceBook prices every bond once at round n.
func priceBook(s *model.GameSession, n int) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(s.Scenario.Bonds))
	for _, b := range s.Scenario.Bonds {
		p, err := trade.ReferencePrice(s, b, n)
		if err != nil {
			return nil, err
		}
		prices[b.ID] = p
	}
	return prices, nil
}

// Return computes (value - initial) / initial. Zero initial cash scores zero.
func Return(value, initial decimal.Decimal) decimal.Decimal {
	if initial.IsZero() {
		return decimal.Zero
	}
	return value.Sub(initial).Div(initial)
}

func markTeam(team *model.Team, n int, prices map[string]decimal.Decimal) (model.Portfolio, error) {
	p := model.Portfolio{
		TeamName:    team.Name,
		Round:       n,
		Cash:        team.CashBalance,
		InitialCash: team.InitialCash,
		Positions:   []model.PositionValue{},
	}

	ids := make([]string, 0, len(team.Holdings))
	for id := range team.Holdings {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		qty := team.Holdings[id]
		price, ok := prices[id]
		if !ok {
			return model.Portfolio{}, fmt.Errorf("%w: %s held by %s", trade.ErrUnknownBond, id, team.Name)
		}
		value := qty.Mul(price)
		p.Positions = append(p.Positions, model.PositionValue{
			BondID:   id,
			Quantity: qty,
			Price:    price,
			Value:    value,
		})
		p.PositionsValue = p.PositionsValue.Add(value)
	}

	p.TotalValue = p.Cash.Add(p.PositionsValue)
	p.Return = Return(p.TotalValue, p.InitialCash)
	return p, nil
}

// MarkToMarket values one team's portfolio at round n:
// cash + Σ holdings[b] × price(b, round n).
func MarkToMarket(s *model.GameSession, teamName string, n int) (model.Portfolio, error) {
	if err := checkRound(s, n); err != nil {
		return model.Portfolio{}, err
	}
	team, ok := s.Teams[teamName]
	if !ok {
		return model.Portfolio{}, fmt.Errorf("%w: %s", ErrUnknownTeam, teamName)
	}
	prices, err := priceBook(s, n)
	if err != nil {
		return model.Portfolio{}, err
	}
	return markTeam(team, n, prices)
}

// Leaderboard ranks every team by return at round n, highest first; ties
// are broken by team name ascending.
func Leaderboard(s *model.GameSession, n int) ([]model.LeaderboardEntry, error) {
	if err := checkRound(s, n); err != nil {
		return nil, err
	}
	prices, err := priceBook(s, n)
	if err != nil {
		return nil, err
	}

	entries := make([]model.LeaderboardEntry, 0, len(s.Teams))
	for _, name := range s.TeamNames() {
		p, err := markTeam(s.Teams[name], n, prices)
		if err != nil {
			return nil, err
		}
		entries = append(entries, model.LeaderboardEntry{
			TeamName:       name,
			Cash:           p.Cash,
			PositionsValue: p.PositionsValue,
			PortfolioValue: p.TotalValue,
			Return:         p.Return,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if c := entries[i].Return.Cmp(entries[j].Return); c != 0 {
			return c > 0
		}
		return entries[i].TeamName < entries[j].TeamName
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}
