package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/misionbonos/bond-engine/internal/model"
)

func sampleSession(code string, version int64) *model.GameSession {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	s := model.NewGameSession(code, model.DefaultConfig(), now)
	s.Version = version
	s.Scenario.Bonds = []model.Bond{{
		ID:              "A",
		FaceValue:       decimal.NewFromInt(1000),
		CouponRate:      decimal.RequireFromString("0.05"),
		Frequency:       2,
		YearsToMaturity: decimal.NewFromInt(5),
		BaseSpreadBps:   decimal.NewFromInt(150),
	}}
	s.Teams["T1"] = &model.Team{
		Name:        "T1",
		CashBalance: decimal.RequireFromString("988670.1234"),
		InitialCash: decimal.NewFromInt(1_000_000),
		Holdings:    map[string]decimal.Decimal{"A": decimal.NewFromInt(10)},
	}
	s.Trades = []model.Trade{{
		ID:             "7f9c2d4e-0000-4000-8000-000000000001",
		TeamName:       "T1",
		BondID:         "A",
		Side:           model.SideBuy,
		RoundNumber:    1,
		Quantity:       decimal.NewFromInt(10),
		ExecutionPrice: decimal.RequireFromString("1131.62019284"),
		Timestamp:      now,
	}}
	return s
}

// stores returns one fresh instance of every local implementation.
func stores(t *testing.T) map[string]SessionStore {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	return map[string]SessionStore{
		"memory": NewMemoryStore(),
		"file":   fs,
	}
}

func TestSessionStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			in := sampleSession("MB-001", 1)
			require.NoError(t, st.Save(ctx, in))

			out, err := st.Load(ctx, "MB-001")
			require.NoError(t, err)
			assert.Equal(t, in.GameCode, out.GameCode)
			assert.Equal(t, in.Version, out.Version)
			assert.True(t, in.Teams["T1"].CashBalance.Equal(out.Teams["T1"].CashBalance))
			assert.True(t, out.Teams["T1"].Holdings["A"].Equal(decimal.NewFromInt(10)))
			require.Len(t, out.Trades, 1)
			assert.True(t, out.Trades[0].ExecutionPrice.Equal(in.Trades[0].ExecutionPrice))
			require.Len(t, out.Scenario.Bonds, 1)
			assert.Equal(t, 2, out.Scenario.Bonds[0].Frequency)
		})
	}
}

func TestSessionStore_NotFound(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.Load(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSessionStore_RejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.Save(ctx, sampleSession("MB-001", 2)))
			assert.ErrorIs(t, st.Save(ctx, sampleSession("MB-001", 2)), ErrStaleVersion)
			assert.ErrorIs(t, st.Save(ctx, sampleSession("MB-001", 1)), ErrStaleVersion)
			assert.NoError(t, st.Save(ctx, sampleSession("MB-001", 3)))

			out, err := st.Load(ctx, "MB-001")
			require.NoError(t, err)
			assert.EqualValues(t, 3, out.Version)
		})
	}
}

func TestSessionStore_List(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, code := range []string{"zeta", "alpha", "MB-7"} {
				require.NoError(t, st.Save(ctx, sampleSession(code, 1)))
			}
			codes, err := st.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"MB-7", "alpha", "zeta"}, codes)
		})
	}
}

func TestSessionStore_InvalidCode(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, st.Save(ctx, sampleSession("../etc/passwd", 1)), ErrInvalidCode)
		})
	}
}

func TestMemoryStore_IsolatesCopies(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	in := sampleSession("MB-001", 1)
	require.NoError(t, st.Save(ctx, in))

	in.Teams["T1"].CashBalance = decimal.Zero
	out, err := st.Load(ctx, "MB-001")
	require.NoError(t, err)
	out.Teams["T1"].Holdings["A"] = decimal.NewFromInt(999)

	again, err := st.Load(ctx, "MB-001")
	require.NoError(t, err)
	assert.False(t, again.Teams["T1"].CashBalance.IsZero())
	assert.True(t, again.Teams["T1"].Holdings["A"].Equal(decimal.NewFromInt(10)))
}

func TestFileStore_LeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, st.Save(ctx, sampleSession("MB-001", 1)))
	require.NoError(t, st.Save(ctx, sampleSession("MB-001", 2)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "MB-001.json", entries[0].Name())
}
