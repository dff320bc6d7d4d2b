package redis

import (
	"context"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/id"
)

func (s *Store) RegisterDefinition(ctx context.Context, d *catalog.EventDefinition) error {
	existingID, err := s.rdb.Get(ctx, uniqueDefinitionName+d.Definition.Name).Result()
	switch {
	case err == nil:
		var existing catalog.EventDefinition
		if gerr := s.getEntity(ctx, entityKey(prefixDefinition, existingID), &existing); gerr == nil {
			d.ID = existing.ID
			d.CreatedAt = existing.CreatedAt
			d.UpdatedAt = now()
			d.Deprecated = false
			d.DeprecatedAt = nil
		} else if !isNotFound(gerr) {
			return fmt.Errorf("rewind/redis: register definition: %w", gerr)
		}
	case !isRedisNil(err):
		return fmt.Errorf("rewind/redis: register definition: %w", err)
	}

	did := d.ID.String()
	if err := s.setEntity(ctx, entityKey(prefixDefinition, did), d); err != nil {
		return fmt.Errorf("rewind/redis: register definition: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, uniqueDefinitionName+d.Definition.Name, did, 0)
	pipe.ZAdd(ctx, zDefinitionAll, goredis.Z{Score: 0, Member: did})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rewind/redis: register definition indexes: %w", err)
	}
	return nil
}

func (s *Store) GetDefinition(ctx context.Context, name string) (*catalog.EventDefinition, error) {
	did, err := s.rdb.Get(ctx, uniqueDefinitionName+name).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, rewind.ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("rewind/redis: get definition: %w", err)
	}
	return s.getDefinition(ctx, did)
}

func (s *Store) GetDefinitionByID(ctx context.Context, defID id.ID) (*catalog.EventDefinition, error) {
	return s.getDefinition(ctx, defID.String())
}

func (s *Store) getDefinition(ctx context.Context, did string) (*catalog.EventDefinition, error) {
	var d catalog.EventDefinition
	if err := s.getEntity(ctx, entityKey(prefixDefinition, did), &d); err != nil {
		if isNotFound(err) {
			return nil, rewind.ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("rewind/redis: get definition: %w", err)
	}
	return &d, nil
}

func (s *Store) allDefinitions(ctx context.Context) ([]*catalog.EventDefinition, error) {
	ids, err := s.rdb.ZRange(ctx, zDefinitionAll, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	defs, err := loadAll[catalog.EventDefinition](ctx, s, prefixDefinition, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Definition.Name < defs[j].Definition.Name
	})
	return defs, nil
}

func (s *Store) ListDefinitions(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventDefinition, error) {
	all, err := s.allDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("rewind/redis: list definitions: %w", err)
	}
	result := all[:0]
	for _, d := range all {
		if !opts.IncludeDeprecated && d.Deprecated {
			continue
		}
		if opts.Group != "" && d.Definition.Group != opts.Group {
			continue
		}
		result = append(result, d)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) DeprecateDefinition(ctx context.Context, name string) error {
	d, err := s.GetDefinition(ctx, name)
	if err != nil {
		return err
	}
	t := now()
	d.Deprecated = true
	d.DeprecatedAt = &t
	d.UpdatedAt = t
	if err := s.setEntity(ctx, entityKey(prefixDefinition, d.ID.String()), d); err != nil {
		return fmt.Errorf("rewind/redis: deprecate definition: %w", err)
	}
	return nil
}

func (s *Store) MatchDefinitions(ctx context.Context, pattern string) ([]*catalog.EventDefinition, error) {
	all, err := s.allDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("rewind/redis: match definitions: %w", err)
	}
	var result []*catalog.EventDefinition
	for _, d := range all {
		if !d.Deprecated && catalog.Match(pattern, d.Definition.Name) {
			result = append(result, d)
		}
	}
	return result, nil
}
