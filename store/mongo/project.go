package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/project"
)

// CreateProject persists a new project.
func (s *Store) CreateProject(ctx context.Context, p *project.Project) error {
	_, err := s.mdb.NewInsert(toProjectModel(p)).Exec(ctx)
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return fmt.Errorf("rewind/mongo: create project: ingest key already in use: %w", err)
		}

		return fmt.Errorf("rewind/mongo: create project: %w", err)
	}

	return nil
}

// GetProject returns a project by ID.
func (s *Store) GetProject(ctx context.Context, projectID id.ID) (*project.Project, error) {
	return s.findProject(ctx, bson.M{"_id": projectID.String()})
}

// GetProjectByKey resolves an ingest key.
func (s *Store) GetProjectByKey(ctx context.Context, key string) (*project.Project, error) {
	return s.findProject(ctx, bson.M{"ingest_key": key})
}

func (s *Store) findProject(ctx context.Context, filter bson.M) (*project.Project, error) {
	var m projectModel

	err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, rewind.ErrProjectNotFound
		}

		return nil, fmt.Errorf("rewind/mongo: get project: %w", err)
	}

	return fromProjectModel(&m)
}

// UpdateProject replaces a project.
func (s *Store) UpdateProject(ctx context.Context, p *project.Project) error {
	m := toProjectModel(p)

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rewind/mongo: update project: %w", err)
	}

	if res.MatchedCount() == 0 {
		return rewind.ErrProjectNotFound
	}

	return nil
}

// DeleteProject removes a project.
func (s *Store) DeleteProject(ctx context.Context, projectID id.ID) error {
	res, err := s.mdb.NewDelete((*projectModel)(nil)).
		Filter(bson.M{"_id": projectID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rewind/mongo: delete project: %w", err)
	}

	if res.DeletedCount() == 0 {
		return rewind.ErrProjectNotFound
	}

	return nil
}

// ListProjects returns projects ordered by name.
func (s *Store) ListProjects(ctx context.Context, opts project.ListOpts) ([]*project.Project, error) {
	var models []projectModel

	filter := bson.M{}
	if opts.Enabled != nil {
		filter["recording_enabled"] = *opts.Enabled
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rewind/mongo: list projects: %w", err)
	}

	return convertAll(models, fromProjectModel)
}
