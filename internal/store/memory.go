package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/misionbonos/bond-engine/internal/model"
)

// MemoryStore implements SessionStore with an in-memory map. Used for
// testing and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.GameSession
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.GameSession),
	}
}

func (s *MemoryStore) Load(_ context.Context, code string) (*model.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	// Hand out a copy to avoid external mutation.
	return sess.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, sess *model.GameSession) error {
	if err := ValidCode(sess.GameCode); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkVersion(s.sessions[sess.GameCode], sess); err != nil {
		return err
	}
	s.sessions[sess.GameCode] = sess.Clone()
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	codes := make([]string, 0, len(s.sessions))
	for code := range s.sessions {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}
