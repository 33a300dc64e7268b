package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/misionbonos/bond-engine/internal/limits"
	"github.com/misionbonos/bond-engine/internal/lock"
	"github.com/misionbonos/bond-engine/internal/model"
	"github.com/misionbonos/bond-engine/internal/pricing"
	"github.com/misionbonos/bond-engine/internal/round"
	"github.com/misionbonos/bond-engine/internal/scenario"
	"github.com/misionbonos/bond-engine/internal/store"
	"github.com/misionbonos/bond-engine/internal/trade"
)

const code = "MB-001"

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// flakyStore fails every Save while failing is set.
type flakyStore struct {
	*store.MemoryStore
	failing atomic.Bool
}

func (s *flakyStore) Save(ctx context.Context, sess *model.GameSession) error {
	if s.failing.Load() {
		return errors.New("disk full")
	}
	return s.MemoryStore.Save(ctx, sess)
}

// recorder collects notified events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	engine *Engine
	store  *flakyStore
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := &flakyStore{MemoryStore: store.NewMemoryStore()}
	rec := &recorder{}
	var seq atomic.Int64
	clock := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	e := New(st, lock.NewKeyedMutex(),
		WithNotifier(rec),
		WithClock(func() time.Time { return clock }),
		WithIDGenerator(func() string { return fmt.Sprintf("trade-%d", seq.Add(1)) }),
		WithLockWait(5*time.Second),
	)
	return &fixture{engine: e, store: st, events: rec}
}

// bondARecords is bond A (1000 face, 5% semiannual, 5y, 150 bps) with a
// +75 bps market shock and a zero idiosyncratic shock in round 1.
func bondARecords() []scenario.Record {
	return []scenario.Record{
		{Type: scenario.TypeBond, BondID: "A", Name: "Bond A", FaceValue: d(1000), CouponRate: d(0.05),
			Frequency: 2, YearsToMaturity: d(5), BaseSpreadBps: d(150)},
		{Type: scenario.TypeMarket, Round: 1, DeltaBps: d(75)},
		{Type: scenario.TypeIdios, Round: 1, BondID: "A", ImpactBps: decimal.Zero},
	}
}

// setup creates a two-round game with bond A, registers teams and opens
// trading for round 1.
func (f *fixture) setup(t *testing.T, cfg model.GameConfig, teams ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.engine.CreateGame(ctx, code, cfg)
	require.NoError(t, err)
	_, err = f.engine.LoadScenario(ctx, code, bondARecords())
	require.NoError(t, err)
	for _, name := range teams {
		_, err := f.engine.RegisterTeam(ctx, code, name)
		require.NoError(t, err)
	}
	_, err = f.engine.PublishRound(ctx, code, 1)
	require.NoError(t, err)
	_, err = f.engine.OpenTrading(ctx, code)
	require.NoError(t, err)
}

func twoRounds() model.GameConfig {
	cfg := model.DefaultConfig()
	cfg.TotalRounds = 2
	return cfg
}

func buy(team string, qty float64) trade.Request {
	return trade.Request{TeamName: team, BondID: "A", Side: model.SideBuy, Quantity: d(qty)}
}

func TestEngine_EndToEndBuyAndLeaderboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setup(t, twoRounds(), "T1")

	tr, err := f.engine.Execute(ctx, code, buy("T1", 10))
	require.NoError(t, err)

	ref := decimal.RequireFromString("1129.3614699")
	assert.True(t, tr.ReferencePrice.Equal(ref), "reference price %s", tr.ReferencePrice)
	wantExec := ref.Mul(d(1.002)).Round(pricing.PriceScale)
	assert.True(t, tr.ExecutionPrice.Equal(wantExec), "execution price %s, want %s", tr.ExecutionPrice, wantExec)
	wantCommission := wantExec.Mul(d(10)).Mul(d(0.001)).Round(pricing.PriceScale)
	assert.True(t, tr.CommissionPaid.Equal(wantCommission))
	assert.Equal(t, "trade-1", tr.ID)
	assert.Equal(t, 1, tr.RoundNumber)

	s, err := f.engine.Session(ctx, code)
	require.NoError(t, err)
	wantCash := d(1_000_000).Sub(wantExec.Mul(d(10))).Sub(wantCommission)
	assert.True(t, s.Teams["T1"].CashBalance.Equal(wantCash), "cash %s, want %s", s.Teams["T1"].CashBalance, wantCash)
	assert.True(t, s.Teams["T1"].Holdings["A"].Equal(d(10)))

	p, err := f.engine.MarkToMarket(ctx, code, "T1", CurrentRound)
	require.NoError(t, err)
	board, err := f.engine.Leaderboard(ctx, code, 1)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, "T1", board[0].TeamName)
	assert.True(t, board[0].Return.Equal(p.Return))
	assert.True(t, p.Return.IsNegative(), "spread and commission make the return negative")

	mismatches, err := f.engine.Reconcile(ctx, code)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestEngine_ConcurrentBuysNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cfg := twoRounds()
	cfg.InitialCash = d(10_000)
	f.setup(t, cfg, "T1")

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		rejected  atomic.Int64
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Execute(ctx, code, buy("T1", 1))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, trade.ErrInsufficientCash):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	s, err := f.engine.Session(ctx, code)
	require.NoError(t, err)
	// One unit costs about 1132.75 with spread and commission.
	assert.EqualValues(t, 8, succeeded.Load())
	assert.EqualValues(t, 22, rejected.Load())
	assert.Len(t, s.Trades, 8)
	assert.False(t, s.Teams["T1"].CashBalance.IsNegative())
	assert.True(t, s.Teams["T1"].Holdings["A"].Equal(d(8)))

	mismatches, err := f.engine.Reconcile(ctx, code)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestEngine_PersistenceFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setup(t, twoRounds(), "T1")

	before, err := f.engine.Session(ctx, code)
	require.NoError(t, err)

	f.store.failing.Store(true)
	_, err = f.engine.Execute(ctx, code, buy("T1", 10))
	require.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, KindInternal, Kind(err))

	_, err = f.engine.PublishRound(ctx, code, 2)
	require.ErrorIs(t, err, ErrPersistence)
	f.store.failing.Store(false)

	after, err := f.engine.Session(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Empty(t, after.Trades)
	assert.Equal(t, 1, after.RoundNumber)
	assert.True(t, after.TradingWindowOpen)
	assert.True(t, after.Teams["T1"].CashBalance.Equal(d(1_000_000)))

	// The rejected trade was never announced.
	assert.NotContains(t, f.events.types(), EventTradeExecuted)
}

func TestEngine_TradingRequiresOpenWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setup(t, twoRounds(), "T1")

	_, err := f.engine.CloseTrading(ctx, code)
	require.NoError(t, err)
	_, err = f.engine.Execute(ctx, code, buy("T1", 1))
	assert.ErrorIs(t, err, round.ErrTradingClosed)
	assert.Equal(t, KindConflict, Kind(err))

	// A closed round cannot be reopened.
	_, err = f.engine.OpenTrading(ctx, code)
	assert.ErrorIs(t, err, round.ErrNoPublishedRound)

	_, err = f.engine.PublishRound(ctx, code, 2)
	require.NoError(t, err)
	_, err = f.engine.OpenTrading(ctx, code)
	require.NoError(t, err)
	tr, err := f.engine.Execute(ctx, code, buy("T1", 1))
	require.NoError(t, err)
	assert.Equal(t, 2, tr.RoundNumber)
}

func TestEngine_CloseTradingIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setup(t, twoRounds())

	first, err := f.engine.CloseTrading(ctx, code)
	require.NoError(t, err)
	second, err := f.engine.CloseTrading(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, model.PhaseTradingOff, round.Phase(second))
}

func TestEngine_FinalizeLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setup(t, twoRounds(), "T1")

	_, err := f.engine.Finalize(ctx, code)
	assert.ErrorIs(t, err, round.ErrIncompleteRounds)

	_, err = f.engine.PublishRound(ctx, code, 2)
	require.NoError(t, err)
	_, err = f.engine.PublishRound(ctx, code, 3)
	assert.ErrorIs(t, err, round.ErrOutOfSequence)

	s, err := f.engine.Finalize(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseFinal, round.Phase(s))
	again, err := f.engine.Finalize(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, s.Version, again.Version)

	_, err = f.engine.Execute(ctx, code, buy("T1", 1))
	assert.ErrorIs(t, err, round.ErrGameClosed)
	_, err = f.engine.RegisterTeam(ctx, code, "late")
	assert.ErrorIs(t, err, round.ErrGameClosed)
	_, err = f.engine.OpenTrading(ctx, code)
	assert.ErrorIs(t, err, round.ErrGameClosed)

	// Scores stay readable after the game ends.
	board, err := f.engine.Leaderboard(ctx, code, CurrentRound)
	require.NoError(t, err)
	assert.Len(t, board, 1)
}

func TestEngine_CreateAndRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateGame(ctx, "bad code", model.DefaultConfig())
	assert.ErrorIs(t, err, store.ErrInvalidCode)

	bad := model.DefaultConfig()
	bad.InitialCash = decimal.Zero
	_, err = f.engine.CreateGame(ctx, code, bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = f.engine.CreateGame(ctx, code, model.DefaultConfig())
	require.NoError(t, err)
	_, err = f.engine.CreateGame(ctx, code, model.DefaultConfig())
	assert.ErrorIs(t, err, ErrGameExists)

	team, err := f.engine.RegisterTeam(ctx, code, "  Bulls ")
	require.NoError(t, err)
	assert.Equal(t, "Bulls", team.Name)
	assert.True(t, team.CashBalance.Equal(d(1_000_000)))

	_, err = f.engine.RegisterTeam(ctx, code, "Bulls")
	assert.ErrorIs(t, err, ErrDuplicateTeam)
	_, err = f.engine.RegisterTeam(ctx, code, "   ")
	assert.ErrorIs(t, err, ErrInvalidTeamName)

	_, err = f.engine.RegisterTeam(ctx, "nope", "Bears")
	assert.ErrorIs(t, err, ErrUnknownGame)
	assert.Equal(t, KindNotFound, Kind(err))

	codes, err := f.engine.Games(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{code}, codes)
}

func TestEngine_LoadScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.CreateGame(ctx, code, twoRounds())
	require.NoError(t, err)

	// Bonds without events get the standard shocks that fit the game.
	s, err := f.engine.LoadScenario(ctx, code, bondARecords()[:1])
	require.NoError(t, err)
	require.Len(t, s.Scenario.Events, 2)
	assert.True(t, s.Scenario.Events[0].Bps.Equal(d(75)))

	tooLong := append(bondARecords(), scenario.Record{Type: scenario.TypeMarket, Round: 3, DeltaBps: d(10)})
	_, err = f.engine.LoadScenario(ctx, code, tooLong)
	assert.ErrorIs(t, err, ErrScenarioTooLong)
	assert.Equal(t, KindValidation, Kind(err))

	_, err = f.engine.LoadScenario(ctx, code, []scenario.Record{{Type: scenario.TypeMarket, Round: 1}})
	assert.ErrorIs(t, err, scenario.ErrNoBonds)

	_, err = f.engine.LoadScenario(ctx, code, bondARecords())
	require.NoError(t, err)
	_, err = f.engine.PublishRound(ctx, code, 1)
	require.NoError(t, err)
	_, err = f.engine.LoadScenario(ctx, code, bondARecords())
	assert.ErrorIs(t, err, ErrScenarioLocked)
}

func TestEngine_PublishWithoutScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.CreateGame(ctx, code, twoRounds())
	require.NoError(t, err)

	_, err = f.engine.PublishRound(ctx, code, 1)
	assert.ErrorIs(t, err, round.ErrNoScenario)
}

func TestEngine_QuotesFollowPublishedRounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setup(t, twoRounds())

	q1, err := f.engine.Quotes(ctx, code, CurrentRound)
	require.NoError(t, err)
	require.Len(t, q1, 1)
	assert.True(t, q1[0].EffectiveYieldBps.Equal(d(225)))
	assert.True(t, q1[0].Bid.LessThan(q1[0].Mid))
	assert.True(t, q1[0].Ask.GreaterThan(q1[0].Mid))

	q0, err := f.engine.Quotes(ctx, code, 0)
	require.NoError(t, err)
	assert.True(t, q0[0].EffectiveYieldBps.Equal(d(150)))

	_, err = f.engine.Quotes(ctx, code, 2)
	assert.ErrorIs(t, err, round.ErrNoPublishedRound)
	_, err = f.engine.Leaderboard(ctx, code, 2)
	assert.ErrorIs(t, err, round.ErrNoPublishedRound)
}

func TestEngine_TradesFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setup(t, twoRounds(), "T1", "T2")

	_, err := f.engine.Execute(ctx, code, buy("T1", 1))
	require.NoError(t, err)
	_, err = f.engine.Execute(ctx, code, buy("T2", 2))
	require.NoError(t, err)
	_, err = f.engine.Execute(ctx, code, trade.Request{TeamName: "T1", BondID: "A", Side: model.SideSell, Quantity: d(1)})
	require.NoError(t, err)

	all, err := f.engine.Trades(ctx, code, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	t1, err := f.engine.Trades(ctx, code, "T1")
	require.NoError(t, err)
	require.Len(t, t1, 2)
	assert.Equal(t, model.SideSell, t1[1].Side)

	_, err = f.engine.Trades(ctx, code, "ghost")
	assert.ErrorIs(t, err, trade.ErrUnknownTeam)
}

func TestEngine_NotifiesAfterSave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setup(t, twoRounds(), "T1")
	_, err := f.engine.Execute(ctx, code, buy("T1", 1))
	require.NoError(t, err)

	assert.Equal(t, []string{
		EventGameCreated,
		EventScenarioLoaded,
		EventTeamRegistered,
		EventRoundPublished,
		EventTradingOpened,
		EventTradeExecuted,
	}, f.events.types())

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	published := f.events.events[3]
	assert.Equal(t, 1, published.Round)
	assert.Len(t, published.Quotes, 1)
	last := f.events.events[5]
	require.NotNil(t, last.Trade)
	assert.Equal(t, "T1", last.TeamName)
	assert.Equal(t, model.PhaseTradingOn, last.Phase)
}

func TestEngine_LockTimeout(t *testing.T) {
	st := store.NewMemoryStore()
	locker := lock.NewKeyedMutex()
	e := New(st, locker, WithLockWait(20*time.Millisecond))
	ctx := context.Background()
	_, err := e.CreateGame(ctx, code, model.DefaultConfig())
	require.NoError(t, err)

	release, err := locker.Lock(ctx, code)
	require.NoError(t, err)
	defer release()

	_, err = e.RegisterTeam(ctx, code, "T1")
	assert.ErrorIs(t, err, lock.ErrNotAcquired)
	assert.Equal(t, KindUnavailable, Kind(err))
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{fmt.Errorf("wrap: %w", trade.ErrNonPositiveQuantity), KindValidation},
		{trade.ErrUnknownBond, KindNotFound},
		{round.ErrOutOfSequence, KindConflict},
		{trade.ErrInsufficientHoldings, KindResource},
		{limits.ErrTotalLimitExceeded, KindResource},
		{fmt.Errorf("%w: %w", ErrPersistence, store.ErrStaleVersion), KindUnavailable},
		{fmt.Errorf("%w: %w", ErrPersistence, errors.New("io")), KindInternal},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err), "%v", tt.err)
	}
}
