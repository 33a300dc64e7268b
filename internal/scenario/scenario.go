// Package scenario validates the moderator's BOND / MARKET / IDIOS records
// and turns them into a model.Scenario.
//
// Records are keyed explicitly by type and round; their order carries no
// meaning.
package scenario

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/misionbonos/bond-engine/internal/model"
	"github.com/misionbonos/bond-engine/internal/pricing"
)

// Record types.
const (
	TypeBond   = "BOND"
	TypeMarket = "MARKET"
	TypeIdios  = "IDIOS"
)

// bondIDRegex matches identifiers such as B1, UST-2030 or corp_alfa.
var bondIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,31}$`)

var (
	ErrInvalidRecord = errors.New("scenario: invalid record")
	ErrInvalidType   = errors.New("scenario: unsupported record type")
	ErrDuplicateBond = errors.New("scenario: duplicate bond id")
	ErrNoBonds       = errors.New("scenario: no bonds defined")
)

// Record is one typed scenario line. Fields not used by the record type are
// ignored.
type Record struct {
	Type string `json:"type"`

	// BOND
	BondID          string           `json:"bond_id,omitempty"`
	Name            string           `json:"name,omitempty"`
	FaceValue       decimal.Decimal  `json:"face_value"`
	CouponRate      decimal.Decimal  `json:"annual_coupon_rate"`
	Frequency       int              `json:"coupon_frequency_per_year,omitempty"`
	YearsToMaturity decimal.Decimal  `json:"years_to_maturity"`
	BaseSpreadBps   decimal.Decimal  `json:"base_spread_bps"`
	Callable        bool             `json:"callable,omitempty"`
	CallPrice       *decimal.Decimal `json:"call_price,omitempty"`
	CallYears       *decimal.Decimal `json:"call_years,omitempty"`

	// MARKET / IDIOS
	Round     int             `json:"round,omitempty"`
	DeltaBps  decimal.Decimal `json:"delta_bps"`
	ImpactBps decimal.Decimal `json:"impact_bps"`

	Description string `json:"description,omitempty"`
}

// Bond converts a BOND record.
func (r Record) Bond() model.Bond {
	return model.Bond{
		ID:              r.BondID,
		Name:            r.Name,
		FaceValue:       r.FaceValue,
		CouponRate:      r.CouponRate,
		Frequency:       r.Frequency,
		YearsToMaturity: r.YearsToMaturity,
		BaseSpreadBps:   r.BaseSpreadBps,
		Callable:        r.Callable,
		CallPrice:       r.CallPrice,
		CallYears:       r.CallYears,
		Description:     r.Description,
	}
}

// Build validates records and assembles the scenario. Bonds keep their
// record order; events are sorted by round, MARKET before IDIOS.
func Build(records []Record) (model.Scenario, error) {
	var sc model.Scenario
	seen := make(map[string]bool)

	for i, r := range records {
		if strings.ToUpper(r.Type) != TypeBond {
			continue
		}
		b := r.Bond()
		if !bondIDRegex.MatchString(b.ID) {
			return model.Scenario{}, fmt.Errorf("%w: record %d: bond id %q", ErrInvalidRecord, i, b.ID)
		}
		if seen[b.ID] {
			return model.Scenario{}, fmt.Errorf("%w: %s", ErrDuplicateBond, b.ID)
		}
		if err := pricing.Validate(b); err != nil {
			return model.Scenario{}, fmt.Errorf("record %d: %w", i, err)
		}
		if b.Name == "" {
			b.Name = b.ID
		}
		seen[b.ID] = true
		sc.Bonds = append(sc.Bonds, b)
	}
	if len(sc.Bonds) == 0 {
		return model.Scenario{}, ErrNoBonds
	}

	for i, r := range records {
		var e model.Event
		switch strings.ToUpper(r.Type) {
		case TypeBond:
			continue
		case TypeMarket:
			e = model.MarketShock(r.Round, r.DeltaBps)
		case TypeIdios:
			if !seen[r.BondID] {
				return model.Scenario{}, fmt.Errorf("%w: record %d: IDIOS targets unknown bond %q", ErrInvalidRecord, i, r.BondID)
			}
			e = model.IdiosyncraticShock(r.Round, r.BondID, r.ImpactBps)
		default:
			return model.Scenario{}, fmt.Errorf("%w: record %d: %q", ErrInvalidType, i, r.Type)
		}
		if r.Round < 1 {
			return model.Scenario{}, fmt.Errorf("%w: record %d: round must be >= 1, got %d", ErrInvalidRecord, i, r.Round)
		}
		e.Description = r.Description
		sc.Events = append(sc.Events, e)
	}

	sort.SliceStable(sc.Events, func(i, j int) bool {
		if sc.Events[i].Round != sc.Events[j].Round {
			return sc.Events[i].Round < sc.Events[j].Round
		}
		return sc.Events[i].Kind == model.EventMarket && sc.Events[j].Kind != model.EventMarket
	})
	return sc, nil
}

// Records flattens a scenario back into records, bonds first.
func Records(sc model.Scenario) []Record {
	out := make([]Record, 0, len(sc.Bonds)+len(sc.Events))
	for _, b := range sc.Bonds {
		out = append(out, Record{
			Type:            TypeBond,
			BondID:          b.ID,
			Name:            b.Name,
			FaceValue:       b.FaceValue,
			CouponRate:      b.CouponRate,
			Frequency:       b.Frequency,
			YearsToMaturity: b.YearsToMaturity,
			BaseSpreadBps:   b.BaseSpreadBps,
			Callable:        b.Callable,
			CallPrice:       b.CallPrice,
			CallYears:       b.CallYears,
			Description:     b.Description,
		})
	}
	for _, e := range sc.Events {
		r := Record{Type: string(e.Kind), Round: e.Round, Description: e.Description}
		if e.Kind == model.EventMarket {
			r.DeltaBps = e.Bps
		} else {
			r.BondID = e.BondID
			r.ImpactBps = e.Bps
		}
		out = append(out, r)
	}
	return out
}
