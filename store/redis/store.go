// Package redis stores recordings in Redis through grove's KV layer.
//
// Entities are JSON blobs under "rewind:<kind>:<id>". Listing goes through
// sorted-set indexes maintained next to each write, and event streams are
// one hash per session keyed by sequence number. Redis has no multi-key
// transactions here, so a crash between an entity write and its index
// update can leave an index entry pointing at nothing; readers skip those.
package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/grove/kv"
	"github.com/xraph/grove/kv/drivers/redisdriver"

	rewindstore "github.com/xraph/rewind/store"
)

var _ rewindstore.Store = (*Store)(nil)

// Store is a Redis-backed store.Store.
type Store struct {
	kv  *kv.Store
	rdb goredis.UniversalClient
}

// New wraps an open grove KV store. The underlying go-redis client is used
// directly for sorted sets and hashes.
func New(store *kv.Store) *Store {
	return &Store{kv: store, rdb: redisdriver.UnwrapClient(store)}
}

// Migrate does nothing; keys need no schema.
func (s *Store) Migrate(context.Context) error { return nil }

func (s *Store) Ping(ctx context.Context) error { return s.kv.Ping(ctx) }

func (s *Store) Close() error { return s.kv.Close() }

func now() time.Time { return time.Now().UTC() }

// scoreFromTime scores by fractional unix seconds so sub-second ordering
// survives in sorted sets.
func scoreFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

func isNotFound(err error) bool { return errors.Is(err, kv.ErrNotFound) }

func isRedisNil(err error) bool { return errors.Is(err, goredis.Nil) }

func (s *Store) getEntity(ctx context.Context, key string, dest any) error {
	raw, err := s.kv.GetRaw(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func (s *Store) setEntity(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("rewind/redis: encode %s: %w", key, err)
	}
	return s.kv.SetRaw(ctx, key, raw)
}

// loadAll fetches the entities for ids. Index entries whose entity has
// gone are skipped.
func loadAll[T any](ctx context.Context, s *Store, prefix string, ids []string) ([]*T, error) {
	out := make([]*T, 0, len(ids))
	for _, eid := range ids {
		v := new(T)
		if err := s.getEntity(ctx, entityKey(prefix, eid), v); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// zRangeByScoreIDs returns the members of key scored within [lo, hi]. Pass
// math.Inf for an open bound.
func (s *Store) zRangeByScoreIDs(ctx context.Context, key string, lo, hi float64) ([]string, error) {
	by := &goredis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !math.IsInf(lo, -1) {
		by.Min = formatScore(lo)
	}
	if !math.IsInf(hi, 1) {
		by.Max = formatScore(hi)
	}
	return s.rdb.ZRangeByScore(ctx, key, by).Result()
}

// applyPagination slices items to the requested window.
func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset >= len(items) {
		return nil
	}
	items = items[max(offset, 0):]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
