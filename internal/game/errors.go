package game

import (
	"errors"

	"github.com/misionbonos/bond-engine/internal/limits"
	"github.com/misionbonos/bond-engine/internal/lock"
	"github.com/misionbonos/bond-engine/internal/pricing"
	"github.com/misionbonos/bond-engine/internal/round"
	"github.com/misionbonos/bond-engine/internal/scenario"
	"github.com/misionbonos/bond-engine/internal/scoring"
	"github.com/misionbonos/bond-engine/internal/store"
	"github.com/misionbonos/bond-engine/internal/trade"
)

var (
	ErrUnknownGame     = errors.New("game: unknown game")
	ErrGameExists      = errors.New("game: game code already in use")
	ErrInvalidConfig   = errors.New("game: invalid configuration")
	ErrInvalidTeamName = errors.New("game: invalid team name")
	ErrDuplicateTeam   = errors.New("game: team name already registered")
	ErrScenarioLocked  = errors.New("game: scenario can only be loaded during setup")
	ErrScenarioTooLong = errors.New("game: scenario has events beyond the configured rounds")
	ErrPersistence     = errors.New("game: persistence failed")
	errUnchanged       = errors.New("game: unchanged")
)

// ErrorKind groups engine errors for transport adapters.
type ErrorKind string

const (
	KindNone        ErrorKind = ""
	KindValidation  ErrorKind = "validation"  // malformed input
	KindNotFound    ErrorKind = "not_found"   // unknown game, team or bond
	KindConflict    ErrorKind = "conflict"    // wrong phase, duplicate, unpriceable state
	KindResource    ErrorKind = "resource"    // cash, holdings or position limits
	KindUnavailable ErrorKind = "unavailable" // lock contention or a concurrent writer
	KindInternal    ErrorKind = "internal"    // persistence and everything unexpected
)

// Kind classifies err.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone

	case errors.Is(err, lock.ErrNotAcquired),
		errors.Is(err, store.ErrStaleVersion):
		return KindUnavailable

	case errors.Is(err, ErrPersistence):
		return KindInternal

	case errors.Is(err, trade.ErrInvalidSide),
		errors.Is(err, trade.ErrNonPositiveQuantity),
		errors.Is(err, trade.ErrFractionalQuantity),
		errors.Is(err, pricing.ErrInvalidBond),
		errors.Is(err, scenario.ErrInvalidRecord),
		errors.Is(err, scenario.ErrInvalidType),
		errors.Is(err, scenario.ErrDuplicateBond),
		errors.Is(err, scenario.ErrNoBonds),
		errors.Is(err, store.ErrInvalidCode),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrInvalidTeamName),
		errors.Is(err, ErrScenarioTooLong):
		return KindValidation

	case errors.Is(err, ErrUnknownGame),
		errors.Is(err, trade.ErrUnknownBond),
		errors.Is(err, trade.ErrUnknownTeam),
		errors.Is(err, scoring.ErrUnknownTeam):
		return KindNotFound

	case errors.Is(err, round.ErrOutOfSequence),
		errors.Is(err, round.ErrNoPublishedRound),
		errors.Is(err, round.ErrIncompleteRounds),
		errors.Is(err, round.ErrGameClosed),
		errors.Is(err, round.ErrTradingClosed),
		errors.Is(err, round.ErrNoScenario),
		errors.Is(err, pricing.ErrInvalidYield),
		errors.Is(err, ErrGameExists),
		errors.Is(err, ErrDuplicateTeam),
		errors.Is(err, ErrScenarioLocked):
		return KindConflict

	case errors.Is(err, trade.ErrInsufficientCash),
		errors.Is(err, trade.ErrInsufficientHoldings),
		errors.Is(err, limits.ErrPerBondLimitExceeded),
		errors.Is(err, limits.ErrTotalLimitExceeded):
		return KindResource
	}
	return KindInternal
}
