// Package cache is the content-addressed decision cache. Keys are
// fingerprints of the inputs that produced a value, so entries never go
// stale and identical reprocessing replays past decisions without
// touching the classifier.
package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"horse.fit/cairn/internal/db"
)

// Backend is the persistence surface the store needs; *db.Pool
// satisfies it.
type Backend interface {
	UpsertCacheEntry(ctx context.Context, namespace string, key []byte, value json.RawMessage) (bool, error)
	GetCacheEntry(ctx context.Context, namespace string, key []byte) (json.RawMessage, error)
}

type Store struct {
	backend Backend
	logger  zerolog.Logger
}

func NewStore(backend Backend, logger zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger,
	}
}

// Get looks up a cached value. A miss is not an error.
func (s *Store) Get(ctx context.Context, namespace string, key []byte) (json.RawMessage, bool, error) {
	value, err := s.backend.GetCacheEntry(ctx, namespace, key)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// Put stores a value under its content key. Write failures are logged
// and swallowed: the cache is an accelerator, losing a write only costs
// a recomputation later. Concurrent writers of the same key race
// benignly; the first stored value wins.
func (s *Store) Put(ctx context.Context, namespace string, key []byte, value json.RawMessage) {
	if _, err := s.backend.UpsertCacheEntry(ctx, namespace, key, value); err != nil {
		s.logger.Warn().
			Err(err).
			Str("namespace", namespace).
			Str("cache_key", hex.EncodeToString(key)).
			Msg("cache write failed; value will be recomputed next time")
	}
}
