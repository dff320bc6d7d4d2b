package redis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/quarantine"
)

func (s *Store) PushQuarantine(ctx context.Context, entries ...*quarantine.Entry) error {
	for _, e := range entries {
		if err := s.setEntity(ctx, entityKey(prefixQuarantine, e.ID.String()), e); err != nil {
			return fmt.Errorf("rewind/redis: push quarantine: %w", err)
		}
	}
	if len(entries) == 0 {
		return nil
	}

	members := make([]goredis.Z, len(entries))
	for i, e := range entries {
		members[i] = goredis.Z{Score: scoreFromTime(e.FailedAt), Member: e.ID.String()}
	}
	if err := s.rdb.ZAdd(ctx, zQuarantineAll, members...).Err(); err != nil {
		return fmt.Errorf("rewind/redis: push quarantine index: %w", err)
	}
	return nil
}

func (s *Store) GetQuarantine(ctx context.Context, entryID id.ID) (*quarantine.Entry, error) {
	var e quarantine.Entry
	if err := s.getEntity(ctx, entityKey(prefixQuarantine, entryID.String()), &e); err != nil {
		if isNotFound(err) {
			return nil, rewind.ErrQuarantineNotFound
		}
		return nil, fmt.Errorf("rewind/redis: get quarantine: %w", err)
	}
	return &e, nil
}

func (s *Store) matchingQuarantine(ctx context.Context, opts quarantine.ListOpts) ([]*quarantine.Entry, error) {
	lo, hi := math.Inf(-1), math.Inf(1)
	if opts.From != nil {
		lo = scoreFromTime(*opts.From)
	}
	if opts.To != nil {
		hi = scoreFromTime(*opts.To)
	}
	ids, err := s.zRangeByScoreIDs(ctx, zQuarantineAll, lo, hi)
	if err != nil {
		return nil, err
	}
	all, err := loadAll[quarantine.Entry](ctx, s, prefixQuarantine, ids)
	if err != nil {
		return nil, err
	}
	result := all[:0]
	for _, e := range all {
		if opts.Match(e) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *Store) ListQuarantine(ctx context.Context, opts quarantine.ListOpts) ([]*quarantine.Entry, error) {
	result, err := s.matchingQuarantine(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("rewind/redis: list quarantine: %w", err)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].FailedAt.Equal(result[j].FailedAt) {
			return result[i].FailedAt.After(result[j].FailedAt)
		}
		if result[i].BatchID != result[j].BatchID {
			return result[i].BatchID.String() > result[j].BatchID.String()
		}
		return result[i].Index < result[j].Index
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) CountQuarantine(ctx context.Context, opts quarantine.ListOpts) (int64, error) {
	result, err := s.matchingQuarantine(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("rewind/redis: count quarantine: %w", err)
	}
	return int64(len(result)), nil
}

func (s *Store) MarkReplayed(ctx context.Context, entryID id.ID, at time.Time) error {
	e, err := s.GetQuarantine(ctx, entryID)
	if err != nil {
		return err
	}
	at = at.UTC()
	e.ReplayedAt = &at
	if err := s.setEntity(ctx, entityKey(prefixQuarantine, e.ID.String()), e); err != nil {
		return fmt.Errorf("rewind/redis: mark replayed: %w", err)
	}
	return nil
}

func (s *Store) PurgeQuarantine(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, zQuarantineAll, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + formatScore(scoreFromTime(before)),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("rewind/redis: purge quarantine: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.rdb.Pipeline()
	members := make([]any, len(ids))
	for i, qid := range ids {
		pipe.Del(ctx, entityKey(prefixQuarantine, qid))
		members[i] = qid
	}
	pipe.ZRem(ctx, zQuarantineAll, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rewind/redis: purge quarantine: %w", err)
	}
	return int64(len(ids)), nil
}
