package trade

import (
	"github.com/shopspring/decimal"

	"github.com/misionbonos/bond-engine/internal/model"
)

// Replay rebuilds a team's cash and holdings from the trade log.
func Replay(teamName string, initialCash decimal.Decimal, trades []model.Trade) (decimal.Decimal, map[string]decimal.Decimal) {
	cash := initialCash
	holdings := make(map[string]decimal.Decimal)
	for _, tr := range trades {
		if tr.TeamName != teamName {
			continue
		}
		cash = cash.Add(tr.CashDelta())
		q := tr.Quantity
		if tr.Side == model.SideSell {
			q = q.Neg()
		}
		holdings[tr.BondID] = holdings[tr.BondID].Add(q)
		if holdings[tr.BondID].IsZero() {
			delete(holdings, tr.BondID)
		}
	}
	return cash, holdings
}

// Mismatch describes a team whose stored state disagrees with its trade log.
type Mismatch struct {
	TeamName       string                     `json:"team_name"`
	StoredCash     decimal.Decimal            `json:"stored_cash"`
	ReplayedCash   decimal.Decimal            `json:"replayed_cash"`
	StoredHoldings map[string]decimal.Decimal `json:"stored_holdings"`
	ReplayHoldings map[string]decimal.Decimal `json:"replayed_holdings"`
}

// Reconcile replays the trade log for every team and reports the teams
// whose cash or holdings differ from the stored state.
func Reconcile(s *model.GameSession) []Mismatch {
	var out []Mismatch
	for _, name := range s.TeamNames() {
		team := s.Teams[name]
		cash, holdings := Replay(name, team.InitialCash, s.Trades)
		if cash.Equal(team.CashBalance) && sameHoldings(holdings, team.Holdings) {
			continue
		}
		out = append(out, Mismatch{
			TeamName:       name,
			StoredCash:     team.CashBalance,
			ReplayedCash:   cash,
			StoredHoldings: team.Holdings,
			ReplayHoldings: holdings,
		})
	}
	return out
}

func sameHoldings(a, b map[string]decimal.Decimal) bool {
	for id, q := range a {
		if !q.Equal(b[id]) {
			return false
		}
	}
	for id, q := range b {
		if !q.Equal(a[id]) {
			return false
		}
	}
	return true
}
