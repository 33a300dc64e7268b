package shock

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/misionbonos/bond-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var bondA = model.Bond{ID: "A", BaseSpreadBps: d(150)}

func TestEffectiveYield_NoEvents(t *testing.T) {
	if got := EffectiveYieldBps(bondA, 3, nil); !got.Equal(d(150)) {
		t.Errorf("expected base spread 150, got %s", got)
	}
	if got := EffectiveYield(bondA, 3, nil); !got.Equal(d(0.015)) {
		t.Errorf("expected 0.015, got %s", got)
	}
}

func TestEffectiveYield_EndToEndRoundOne(t *testing.T) {
	events := []model.Event{
		model.MarketShock(1, d(75)),
		model.IdiosyncraticShock(1, "A", decimal.Zero),
	}
	if got := EffectiveYield(bondA, 1, events); !got.Equal(d(0.0225)) {
		t.Errorf("expected 0.0225, got %s", got)
	}
}

func TestEffectiveYield_CumulativeAcrossRounds(t *testing.T) {
	events := []model.Event{
		model.MarketShock(1, d(75)),
		model.MarketShock(2, d(-40)),
		model.IdiosyncraticShock(3, "A", d(120)),
	}
	tests := []struct {
		round int
		want  float64
	}{
		{0, 150},
		{1, 225},
		{2, 185},
		{3, 305},
	}
	for _, tt := range tests {
		if got := EffectiveYieldBps(bondA, tt.round, events); !got.Equal(d(tt.want)) {
			t.Errorf("round %d: expected %v bps, got %s", tt.round, tt.want, got)
		}
	}
}

func TestEffectiveYield_OffsettingShocksCancel(t *testing.T) {
	events := []model.Event{
		model.MarketShock(1, d(60)),
		model.MarketShock(2, d(-60)),
	}
	if got, base := EffectiveYield(bondA, 2, events), EffectiveYield(bondA, 2, nil); !got.Equal(base) {
		t.Errorf("+X then -X should cancel: got %s want %s", got, base)
	}
}

func TestEffectiveYield_IdiosyncraticTargetsOnlyItsBond(t *testing.T) {
	events := []model.Event{
		model.IdiosyncraticShock(1, "B", d(500)),
		model.IdiosyncraticShock(1, "A", d(20)),
		model.IdiosyncraticShock(1, "A", d(5)),
	}
	b := Compose(bondA, 1, events)
	if !b.IdiosyncraticBps.Equal(d(25)) {
		t.Errorf("expected 25 idiosyncratic bps, got %s", b.IdiosyncraticBps)
	}
	if !b.MarketBps.IsZero() {
		t.Errorf("expected no market bps, got %s", b.MarketBps)
	}
}

func TestCompose_OrderIndependent(t *testing.T) {
	events := []model.Event{
		model.MarketShock(1, d(75)),
		model.IdiosyncraticShock(1, "A", d(-30)),
		model.MarketShock(1, d(10)),
	}
	reversed := []model.Event{events[2], events[1], events[0]}
	if a, b := EffectiveYieldBps(bondA, 1, events), EffectiveYieldBps(bondA, 1, reversed); !a.Equal(b) {
		t.Errorf("composition should not depend on order: %s vs %s", a, b)
	}
}
