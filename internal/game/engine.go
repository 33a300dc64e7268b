// Package game is the transactional front of the bond competition. Every
// state change runs as
//
//	lock(game) → load → clone → validate → mutate clone → save → unlock
//
// so concurrent trades and moderator actions on one game are serialized and
// a failed save leaves the persisted session untouched. Reads (quotes,
// portfolios, leaderboard) use the last persisted snapshot without locking.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/misionbonos/bond-engine/internal/lock"
	"github.com/misionbonos/bond-engine/internal/metrics"
	"github.com/misionbonos/bond-engine/internal/model"
	"github.com/misionbonos/bond-engine/internal/round"
	"github.com/misionbonos/bond-engine/internal/scenario"
	"github.com/misionbonos/bond-engine/internal/store"
	"github.com/misionbonos/bond-engine/internal/trade"
)

const maxTeamNameLen = 64

// Engine runs games on top of a SessionStore and a Locker.
type Engine struct {
	store    store.SessionStore
	locker   lock.Locker
	notifier Notifier
	now      func() time.Time
	newID    func() string
	lockWait time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the receiver of post-save events.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides the trade ID source.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithLockWait bounds how long a call waits for the game lock. Zero waits
// as long as the caller's context allows.
func WithLockWait(d time.Duration) Option {
	return func(e *Engine) { e.lockWait = d }
}

// New creates an Engine.
func New(st store.SessionStore, locker lock.Locker, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		locker:   locker,
		notifier: nopNotifier{},
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// mutate runs fn on a clone of the latest session under the game lock and
// persists the result. If fn returns errUnchanged nothing is saved and the
// current session is returned.
func (e *Engine) mutate(ctx context.Context, code string, fn func(s *model.GameSession) error) (*model.GameSession, error) {
	release, err := e.lock(ctx, code)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := e.load(ctx, code)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, errUnchanged) {
			return current, nil
		}
		return nil, err
	}

	next.Version = current.Version + 1
	next.UpdatedAt = e.now()
	if err := e.save(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (e *Engine) lock(ctx context.Context, code string) (func(), error) {
	lctx := ctx
	if e.lockWait > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, e.lockWait)
		defer cancel()
	}
	release, err := e.locker.Lock(lctx, code)
	if err != nil {
		return nil, fmt.Errorf("game %s: %w", code, err)
	}
	return release, nil
}

func (e *Engine) load(ctx context.Context, code string) (*model.GameSession, error) {
	s, err := e.store.Load(ctx, code)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrUnknownGame, code)
	case errors.Is(err, store.ErrInvalidCode):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return s, nil
}

func (e *Engine) save(ctx context.Context, s *model.GameSession) error {
	if err := e.store.Save(ctx, s); err != nil {
		metrics.PersistenceFailures.Inc()
		slog.Error("session save failed", "game", s.GameCode, "version", s.Version, "err", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func (e *Engine) notify(typ string, s *model.GameSession, fill func(*Event)) {
	ev := Event{
		Type:      typ,
		GameCode:  s.GameCode,
		Round:     s.RoundNumber,
		Phase:     round.Phase(s),
		Timestamp: s.UpdatedAt,
	}
	if fill != nil {
		fill(&ev)
	}
	e.notifier.Notify(ev)
}

// ValidateConfig checks moderator parameters.
func ValidateConfig(cfg model.GameConfig) error {
	switch {
	case cfg.TotalRounds < 0:
		return fmt.Errorf("%w: total_rounds must not be negative", ErrInvalidConfig)
	case !cfg.InitialCash.IsPositive():
		return fmt.Errorf("%w: initial_cash must be positive", ErrInvalidConfig)
	case cfg.CommissionRate.IsNegative() || cfg.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: commission_rate must be in [0, 1)", ErrInvalidConfig)
	case cfg.BidAskSpreadBps.IsNegative() || cfg.BidAskSpreadBps.GreaterThanOrEqual(decimal.NewFromInt(20000)):
		return fmt.Errorf("%w: bid_ask_spread_bps must be in [0, 20000)", ErrInvalidConfig)
	case cfg.YearFractionPerRound.IsNegative():
		return fmt.Errorf("%w: year_fraction_per_round must not be negative", ErrInvalidConfig)
	case cfg.MaxPositionPerBond.IsNegative() || cfg.MaxTotalPosition.IsNegative():
		return fmt.Errorf("%w: position limits must not be negative", ErrInvalidConfig)
	}
	return nil
}

// CreateGame starts a new game in SETUP.
func (e *Engine) CreateGame(ctx context.Context, code string, cfg model.GameConfig) (*model.GameSession, error) {
	if err := store.ValidCode(code); err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	release, err := e.lock(ctx, code)
	if err != nil {
		return nil, err
	}
	defer release()

	_, err = e.store.Load(ctx, code)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", ErrGameExists, code)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s := model.NewGameSession(code, cfg, e.now())
	s.Version = 1
	if err := e.save(ctx, s); err != nil {
		return nil, err
	}

	metrics.ActiveGames.Inc()
	slog.Info("game created",
		"game", code,
		"total_rounds", cfg.TotalRounds,
		"initial_cash", cfg.InitialCash.String(),
		"commission_rate", cfg.CommissionRate.String(),
		"spread_bps", cfg.BidAskSpreadBps.String(),
	)
	e.notify(EventGameCreated, s, nil)
	return s, nil
}

// LoadScenario validates records and installs them as the game's scenario.
// Only allowed during SETUP; reloading replaces the previous scenario. A
// bond list without events gets scenario.DefaultEvents.
func (e *Engine) LoadScenario(ctx context.Context, code string, records []scenario.Record) (*model.GameSession, error) {
	sc, err := scenario.Build(records)
	if err != nil {
		return nil, err
	}
	defaulted := len(sc.Events) == 0
	if defaulted {
		sc.Events = scenario.DefaultEvents(sc.Bonds)
	}

	s, err := e.mutate(ctx, code, func(s *model.GameSession) error {
		if s.Finalized || s.RoundNumber > 0 {
			return fmt.Errorf("%w: %s is in %s", ErrScenarioLocked, code, round.Phase(s))
		}
		total := s.Config.TotalRounds
		if defaulted && total > 0 {
			kept := sc.Events[:0]
			for _, ev := range sc.Events {
				if ev.Round <= total {
					kept = append(kept, ev)
				}
			}
			sc.Events = kept
		}
		if total > 0 && sc.MaxRound() > total {
			return fmt.Errorf("%w: event in round %d, game has %d rounds", ErrScenarioTooLong, sc.MaxRound(), total)
		}
		s.Scenario = sc
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("scenario loaded", "game", code, "bonds", len(sc.Bonds), "events", len(sc.Events))
	e.notify(EventScenarioLoaded, s, nil)
	return s, nil
}

// RegisterTeam adds a team with the configured starting cash. Teams may join
// until the game is finalized.
func (e *Engine) RegisterTeam(ctx context.Context, code, name string) (*model.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxTeamNameLen {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTeamName, name)
	}

	s, err := e.mutate(ctx, code, func(s *model.GameSession) error {
		if s.Finalized {
			return round.ErrGameClosed
		}
		if _, ok := s.Teams[name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTeam, name)
		}
		s.Teams[name] = &model.Team{
			Name:         name,
			CashBalance:  s.Config.InitialCash,
			InitialCash:  s.Config.InitialCash,
			Holdings:     make(map[string]decimal.Decimal),
			RegisteredAt: e.now(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("team registered", "game", code, "team", name)
	e.notify(EventTeamRegistered, s, func(ev *Event) { ev.TeamName = name })
	return s.Teams[name], nil
}

// Execute runs a team's trade at the current round's price.
func (e *Engine) Execute(ctx context.Context, code string, req trade.Request) (model.Trade, error) {
	start := time.Now()
	var tr model.Trade

	s, err := e.mutate(ctx, code, func(s *model.GameSession) error {
		var err error
		tr, err = trade.Execute(s, req, e.newID(), e.now())
		return err
	})
	if err != nil {
		metrics.TradeRejections.WithLabelValues(string(Kind(err))).Inc()
		slog.Warn("trade rejected",
			"game", code,
			"team", req.TeamName,
			"bond", req.BondID,
			"side", string(req.Side),
			"qty", req.Quantity.String(),
			"err", err,
		)
		return model.Trade{}, err
	}

	side := string(tr.Side)
	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())
	metrics.TradedQuantity.WithLabelValues(tr.BondID, side).Add(tr.Quantity.InexactFloat64())

	slog.Info("trade executed",
		"game", code,
		"trade_id", tr.ID,
		"team", tr.TeamName,
		"bond", tr.BondID,
		"side", side,
		"round", tr.RoundNumber,
		"qty", tr.Quantity.String(),
		"reference_price", tr.ReferencePrice.String(),
		"execution_price", tr.ExecutionPrice.String(),
		"commission", tr.CommissionPaid.String(),
		"cash_after", s.Teams[tr.TeamName].CashBalance.String(),
	)
	e.notify(EventTradeExecuted, s, func(ev *Event) {
		ev.TeamName = tr.TeamName
		ev.Trade = &tr
	})
	return tr, nil
}

// PublishRound reveals round n's shocks and closes any open window.
func (e *Engine) PublishRound(ctx context.Context, code string, n int) (*model.GameSession, error) {
	s, err := e.mutate(ctx, code, func(s *model.GameSession) error {
		return round.PublishRound(s, n)
	})
	if err != nil {
		return nil, err
	}

	metrics.RoundsPublished.Inc()
	slog.Info("round published", "game", code, "round", n, "total_rounds", round.TotalRounds(s))

	quotes, qerr := trade.Quotes(s, n)
	if qerr != nil {
		slog.Warn("quote board unavailable", "game", code, "round", n, "err", qerr)
	}
	e.notify(EventRoundPublished, s, func(ev *Event) { ev.Quotes = quotes })
	return s, nil
}

// OpenTrading opens the window for the current round.
func (e *Engine) OpenTrading(ctx context.Context, code string) (*model.GameSession, error) {
	s, err := e.mutate(ctx, code, round.OpenTrading)
	if err != nil {
		return nil, err
	}
	slog.Info("trading opened", "game", code, "round", s.RoundNumber)
	e.notify(EventTradingOpened, s, nil)
	return s, nil
}

// CloseTrading closes the window. Closing a closed window is a no-op.
func (e *Engine) CloseTrading(ctx context.Context, code string) (*model.GameSession, error) {
	changed := false
	s, err := e.mutate(ctx, code, func(s *model.GameSession) error {
		if !round.CloseTrading(s) {
			return errUnchanged
		}
		changed = true
		return nil
	})
	if err != nil || !changed {
		return s, err
	}
	slog.Info("trading closed", "game", code, "round", s.RoundNumber)
	e.notify(EventTradingClosed, s, nil)
	return s, nil
}

// Finalize ends the game once every round has been published. Finalizing a
// finished game is a no-op.
func (e *Engine) Finalize(ctx context.Context, code string) (*model.GameSession, error) {
	changed := false
	s, err := e.mutate(ctx, code, func(s *model.GameSession) error {
		if s.Finalized {
			return errUnchanged
		}
		if err := round.Finalize(s); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil || !changed {
		return s, err
	}
	metrics.ActiveGames.Dec()
	slog.Info("game finalized", "game", code, "rounds", s.RoundNumber, "trades", len(s.Trades))
	e.notify(EventGameFinalized, s, nil)
	return s, nil
}
