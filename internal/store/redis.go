package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/misionbonos/bond-engine/internal/model"
)

// CachedStore wraps a primary SessionStore with a Redis read-through cache.
// Writes go to the primary store and then overwrite the cache entry; reads
// check Redis first then fall back to the primary. A read-through fill only
// sets a missing key, so it can never replace a newer saved session.
type CachedStore struct {
	primary SessionStore
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary SessionStore, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) Save(ctx context.Context, sess *model.GameSession) error {
	if err := s.primary.Save(ctx, sess); err != nil {
		return err
	}
	data, err := json.Marshal(sess)
	if err != nil || s.rdb.Set(ctx, sessionKey(sess.GameCode), data, s.ttl).Err() != nil {
		// Drop the entry so the next read goes to the primary.
		s.rdb.Del(ctx, sessionKey(sess.GameCode))
	}
	return nil
}

func (s *CachedStore) Load(ctx context.Context, code string) (*model.GameSession, error) {
	data, err := s.rdb.Get(ctx, sessionKey(code)).Bytes()
	if err == nil {
		var sess model.GameSession
		if json.Unmarshal(data, &sess) == nil {
			if sess.Teams == nil {
				sess.Teams = make(map[string]*model.Team)
			}
			return &sess, nil
		}
	}

	// Cache miss: read from primary.
	sess, err := s.primary.Load(ctx, code)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(sess); err == nil {
		s.rdb.SetNX(ctx, sessionKey(code), data, s.ttl)
	}
	return sess, nil
}

func (s *CachedStore) List(ctx context.Context) ([]string, error) {
	return s.primary.List(ctx)
}

func sessionKey(code string) string { return fmt.Sprintf("bondgame:session:%s", code) }
