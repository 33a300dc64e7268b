// Package store persists game sessions. Implementations include PostgreSQL
// (source of truth), a JSON file directory (single instance), Redis
// (read-through cache) and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/misionbonos/bond-engine/internal/model"
)

var (
	// ErrNotFound is returned by Load for an unknown game code.
	ErrNotFound = errors.New("store: game not found")

	// ErrStaleVersion is returned by Save when the stored session is already
	// at or beyond the version being written.
	ErrStaleVersion = errors.New("store: stale session version")

	// ErrInvalidCode is returned for game codes that cannot be used as keys.
	ErrInvalidCode = errors.New("store: invalid game code")
)

// codeRegex matches game codes such as MB-2025 or finance101.
var codeRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidCode checks that code is safe to use as a key, file name or URL part.
func ValidCode(code string) error {
	if !codeRegex.MatchString(code) {
		return fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	return nil
}

// SessionStore is the persistence interface. Save replaces the whole
// session; a session's Version must increase on every save.
type SessionStore interface {
	// Load returns the latest persisted session for code.
	Load(ctx context.Context, code string) (*model.GameSession, error)

	// Save persists the session, rejecting stale versions.
	Save(ctx context.Context, s *model.GameSession) error

	// List returns the known game codes in ascending order.
	List(ctx context.Context) ([]string, error)
}

func checkVersion(stored, incoming *model.GameSession) error {
	if stored != nil && stored.Version >= incoming.Version {
		return fmt.Errorf("%w: %s stored v%d, saving v%d",
			ErrStaleVersion, incoming.GameCode, stored.Version, incoming.Version)
	}
	return nil
}
