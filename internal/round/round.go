// Package round implements the moderator-driven round state machine:
//
//	SETUP → ROUND_PUBLISHED(1) → TRADING_ON(1) → TRADING_OFF(1) →
//	ROUND_PUBLISHED(2) → … → FINAL
//
// Rounds only move forward. Publishing makes a round's shocks visible for
// pricing and closes the trading window; a window that has been opened and
// closed for a round is never reopened.
//
// Functions mutate the session they are given. Callers hold the per-game
// lock and pass a clone they can discard if persistence fails.
package round

import (
	"errors"
	"fmt"

	"github.com/misionbonos/bond-engine/internal/model"
)

var (
	// ErrOutOfSequence is returned when publishing any round other than
	// round_number + 1, or a round beyond the configured total.
	ErrOutOfSequence = errors.New("round: rounds must be published in sequence")

	// ErrNoPublishedRound is returned when trading cannot be opened because
	// the current round is unpublished, already open, or already traded.
	ErrNoPublishedRound = errors.New("round: no published round available for trading")

	// ErrIncompleteRounds is returned when finalizing before every round
	// has been published.
	ErrIncompleteRounds = errors.New("round: not all rounds have been published")

	// ErrGameClosed is returned for any state change or trade after FINAL.
	ErrGameClosed = errors.New("round: game is finalized")

	// ErrTradingClosed is returned when trading while the window is closed.
	ErrTradingClosed = errors.New("round: trading window is closed")

	// ErrNoScenario is returned when publishing before bonds are loaded.
	ErrNoScenario = errors.New("round: no scenario loaded")
)

// TotalRounds returns the number of rounds the game will run.
func TotalRounds(s *model.GameSession) int {
	if s.Config.TotalRounds > 0 {
		return s.Config.TotalRounds
	}
	if n := s.Scenario.MaxRound(); n > 0 {
		return n
	}
	return 1
}

// Phase derives the externally visible state.
func Phase(s *model.GameSession) model.Phase {
	switch {
	case s.Finalized:
		return model.PhaseFinal
	case s.RoundNumber == 0:
		return model.PhaseSetup
	case s.TradingWindowOpen:
		return model.PhaseTradingOn
	case s.TradedRound == s.RoundNumber:
		return model.PhaseTradingOff
	default:
		return model.PhaseRoundPublished
	}
}

// PublishRound publishes round n. n must be exactly round_number + 1.
func PublishRound(s *model.GameSession, n int) error {
	if s.Finalized {
		return ErrGameClosed
	}
	if len(s.Scenario.Bonds) == 0 {
		return ErrNoScenario
	}
	if n != s.RoundNumber+1 {
		return fmt.Errorf("%w: requested %d, next is %d", ErrOutOfSequence, n, s.RoundNumber+1)
	}
	if total := TotalRounds(s); n > total {
		return fmt.Errorf("%w: round %d exceeds the %d configured rounds", ErrOutOfSequence, n, total)
	}

	s.PublishedRounds = append(s.PublishedRounds, n)
	s.RoundNumber = n
	s.TradingWindowOpen = false
	return nil
}

// OpenTrading opens the window for the current round. The round must be
// published, the window closed, and the round not traded before.
func OpenTrading(s *model.GameSession) error {
	if s.Finalized {
		return ErrGameClosed
	}
	if s.RoundNumber == 0 || !s.IsPublished(s.RoundNumber) {
		return fmt.Errorf("%w: publish a round first", ErrNoPublishedRound)
	}
	if s.TradingWindowOpen {
		return fmt.Errorf("%w: trading for round %d is already open", ErrNoPublishedRound, s.RoundNumber)
	}
	if s.TradedRound >= s.RoundNumber {
		return fmt.Errorf("%w: trading for round %d was closed; publish the next round", ErrNoPublishedRound, s.RoundNumber)
	}

	s.TradingWindowOpen = true
	s.TradedRound = s.RoundNumber
	return nil
}

// CloseTrading closes the window. It reports whether anything changed and is
// safe to call repeatedly.
func CloseTrading(s *model.GameSession) bool {
	if !s.TradingWindowOpen {
		return false
	}
	s.TradingWindowOpen = false
	return true
}

// Finalize moves the game to FINAL once every configured round has been
// published. Finalizing an already final game is a no-op.
func Finalize(s *model.GameSession) error {
	if s.Finalized {
		return nil
	}
	if total := TotalRounds(s); s.RoundNumber < total {
		return fmt.Errorf("%w: %d of %d published", ErrIncompleteRounds, s.RoundNumber, total)
	}
	s.TradingWindowOpen = false
	s.Finalized = true
	return nil
}

// CanTrade reports whether a trade may execute against the session now.
func CanTrade(s *model.GameSession) error {
	if s.Finalized {
		return ErrGameClosed
	}
	if !s.TradingWindowOpen || s.RoundNumber == 0 || !s.IsPublished(s.RoundNumber) {
		return ErrTradingClosed
	}
	return nil
}
