package redis

import (
	"context"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/project"
)

// projectModel persists the ingest key, which Project never serializes.
type projectModel struct {
	Project   *project.Project `json:"project"`
	IngestKey string           `json:"ingest_key"`
}

func (s *Store) CreateProject(ctx context.Context, p *project.Project) error {
	ok, err := s.rdb.SetNX(ctx, uniqueProjectKey+p.IngestKey, p.ID.String(), 0).Result()
	if err != nil {
		return fmt.Errorf("rewind/redis: create project key check: %w", err)
	}
	if !ok {
		return fmt.Errorf("rewind/redis: create project: ingest key already in use")
	}
	return s.writeProject(ctx, p)
}

func (s *Store) writeProject(ctx context.Context, p *project.Project) error {
	pid := p.ID.String()
	if err := s.setEntity(ctx, entityKey(prefixProject, pid), projectModel{Project: p, IngestKey: p.IngestKey}); err != nil {
		return fmt.Errorf("rewind/redis: write project: %w", err)
	}
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, uniqueProjectKey+p.IngestKey, pid, 0)
	pipe.ZAdd(ctx, zProjectAll, goredis.Z{Score: 0, Member: pid})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rewind/redis: write project indexes: %w", err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, projectID id.ID) (*project.Project, error) {
	var m projectModel
	if err := s.getEntity(ctx, entityKey(prefixProject, projectID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, rewind.ErrProjectNotFound
		}
		return nil, fmt.Errorf("rewind/redis: get project: %w", err)
	}
	m.Project.IngestKey = m.IngestKey
	return m.Project, nil
}

func (s *Store) GetProjectByKey(ctx context.Context, key string) (*project.Project, error) {
	pid, err := s.rdb.Get(ctx, uniqueProjectKey+key).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, rewind.ErrProjectNotFound
		}
		return nil, fmt.Errorf("rewind/redis: get project by key: %w", err)
	}
	projectID, err := id.ParseProjectID(pid)
	if err != nil {
		return nil, fmt.Errorf("rewind/redis: get project by key: %w", err)
	}
	return s.GetProject(ctx, projectID)
}

func (s *Store) UpdateProject(ctx context.Context, p *project.Project) error {
	old, err := s.GetProject(ctx, p.ID)
	if err != nil {
		return err
	}
	if old.IngestKey != p.IngestKey {
		if err := s.rdb.Del(ctx, uniqueProjectKey+old.IngestKey).Err(); err != nil {
			return fmt.Errorf("rewind/redis: update project key: %w", err)
		}
	}
	return s.writeProject(ctx, p)
}

func (s *Store) DeleteProject(ctx context.Context, projectID id.ID) error {
	p, err := s.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	pid := projectID.String()
	if err := s.kv.Delete(ctx, entityKey(prefixProject, pid)); err != nil {
		return fmt.Errorf("rewind/redis: delete project: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, uniqueProjectKey+p.IngestKey)
	pipe.ZRem(ctx, zProjectAll, pid)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rewind/redis: delete project indexes: %w", err)
	}
	return nil
}

func (s *Store) ListProjects(ctx context.Context, opts project.ListOpts) ([]*project.Project, error) {
	ids, err := s.rdb.ZRange(ctx, zProjectAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("rewind/redis: list projects: %w", err)
	}
	models, err := loadAll[projectModel](ctx, s, prefixProject, ids)
	if err != nil {
		return nil, fmt.Errorf("rewind/redis: list projects: %w", err)
	}

	result := make([]*project.Project, 0, len(models))
	for _, m := range models {
		if opts.Enabled != nil && m.Project.RecordingEnabled != *opts.Enabled {
			continue
		}
		m.Project.IngestKey = m.IngestKey
		result = append(result, m.Project)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}
