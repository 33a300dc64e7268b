package scenario

import (
	"github.com/shopspring/decimal"

	"github.com/misionbonos/bond-engine/internal/model"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// Example returns the classroom scenario: a sovereign, a callable corporate
// and a short high-yield corporate, with one shock per round.
func Example() model.Scenario {
	callPrice := dec("1020")
	sc, err := Build([]Record{
		{Type: TypeBond, BondID: "B1", Name: "Tesoro 2028", FaceValue: dec("1000"), CouponRate: dec("0.08"),
			Frequency: 2, YearsToMaturity: dec("3"), BaseSpreadBps: dec("50"), Description: "Sovereign"},
		{Type: TypeBond, BondID: "B2", Name: "Corp Alfa 2030", FaceValue: dec("1000"), CouponRate: dec("0.09"),
			Frequency: 2, YearsToMaturity: dec("4"), BaseSpreadBps: dec("150"), Callable: true, CallPrice: &callPrice,
			Description: "Callable corporate"},
		{Type: TypeBond, BondID: "B3", Name: "Corp Beta 2027", FaceValue: dec("1000"), CouponRate: dec("0.07"),
			Frequency: 4, YearsToMaturity: dec("2"), BaseSpreadBps: dec("220"), Description: "High yield"},
		{Type: TypeMarket, Round: 1, DeltaBps: dec("75"), Description: "Central bank hikes rates"},
		{Type: TypeMarket, Round: 2, DeltaBps: dec("-40"), Description: "Inflation cools"},
		{Type: TypeIdios, Round: 3, BondID: "B3", ImpactBps: dec("120"), Description: "Corp Beta downgraded"},
	})
	if err != nil {
		panic("scenario: invalid example: " + err.Error())
	}
	return sc
}

// DefaultEvents builds the three standard shocks for a bond list that came
// without events: a +75 bps hike in round 1, a -40 bps rally in round 2 and
// a +120 bps credit event in round 3 on the bond with the widest base spread.
func DefaultEvents(bonds []model.Bond) []model.Event {
	if len(bonds) == 0 {
		return nil
	}
	widest := bonds[0]
	for _, b := range bonds[1:] {
		if b.BaseSpreadBps.GreaterThan(widest.BaseSpreadBps) {
			widest = b
		}
	}
	hike := model.MarketShock(1, dec("75"))
	hike.Description = "Rate hike"
	rally := model.MarketShock(2, dec("-40"))
	rally.Description = "Rate cut"
	credit := model.IdiosyncraticShock(3, widest.ID, dec("120"))
	credit.Description = "Credit event: " + widest.Name
	return []model.Event{hike, rally, credit}
}
