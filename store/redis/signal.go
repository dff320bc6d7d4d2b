package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/signal"
)

func (s *Store) UpsertErrorGroup(ctx context.Context, g *signal.ErrorGroup) error {
	gid := g.ID.String()
	if err := s.setEntity(ctx, entityKey(prefixGroup, gid), g); err != nil {
		return fmt.Errorf("rewind/redis: upsert error group: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, fingerprintKey(g.ProjectID.String(), g.Fingerprint), gid, 0)
	pipe.ZAdd(ctx, zGroupAll, goredis.Z{Score: float64(g.Count), Member: gid})
	pipe.ZAdd(ctx, zGroupProject+g.ProjectID.String(), goredis.Z{Score: float64(g.Count), Member: gid})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rewind/redis: upsert error group indexes: %w", err)
	}
	return nil
}

func (s *Store) GetErrorGroup(ctx context.Context, groupID id.ID) (*signal.ErrorGroup, error) {
	var g signal.ErrorGroup
	if err := s.getEntity(ctx, entityKey(prefixGroup, groupID.String()), &g); err != nil {
		if isNotFound(err) {
			return nil, rewind.ErrErrorGroupNotFound
		}
		return nil, fmt.Errorf("rewind/redis: get error group: %w", err)
	}
	return &g, nil
}

func (s *Store) GetErrorGroupByFingerprint(ctx context.Context, projectID id.ID, fingerprint string) (*signal.ErrorGroup, error) {
	gid, err := s.rdb.Get(ctx, fingerprintKey(projectID.String(), fingerprint)).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, rewind.ErrErrorGroupNotFound
		}
		return nil, fmt.Errorf("rewind/redis: get error group by fingerprint: %w", err)
	}
	groupID, err := id.ParseErrorGroupID(gid)
	if err != nil {
		return nil, fmt.Errorf("rewind/redis: get error group by fingerprint: %w", err)
	}
	return s.GetErrorGroup(ctx, groupID)
}

func (s *Store) ListErrorGroups(ctx context.Context, opts signal.ListOpts) ([]*signal.ErrorGroup, error) {
	index := zGroupAll
	if !opts.ProjectID.IsNil() {
		index = zGroupProject + opts.ProjectID.String()
	}
	ids, err := s.rdb.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("rewind/redis: list error groups: %w", err)
	}

	all, err := loadAll[signal.ErrorGroup](ctx, s, prefixGroup, ids)
	if err != nil {
		return nil, fmt.Errorf("rewind/redis: list error groups: %w", err)
	}
	result := all[:0]
	for _, g := range all {
		if opts.Match(g) {
			result = append(result, g)
		}
	}
	signal.SortGroups(result)
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) DeleteErrorGroups(ctx context.Context, projectID id.ID) (int64, error) {
	index := zGroupProject + projectID.String()
	ids, err := s.rdb.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("rewind/redis: delete error groups: %w", err)
	}
	groups, err := loadAll[signal.ErrorGroup](ctx, s, prefixGroup, ids)
	if err != nil {
		return 0, fmt.Errorf("rewind/redis: delete error groups: %w", err)
	}

	pipe := s.rdb.Pipeline()
	for _, g := range groups {
		pipe.Del(ctx, entityKey(prefixGroup, g.ID.String()))
		pipe.Del(ctx, fingerprintKey(projectID.String(), g.Fingerprint))
		pipe.ZRem(ctx, zGroupAll, g.ID.String())
	}
	pipe.Del(ctx, index)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rewind/redis: delete error groups: %w", err)
	}
	return int64(len(groups)), nil
}
