package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/id"
)

// RegisterDefinition creates or replaces a definition by name. A replaced
// definition keeps its id and creation time.
func (s *Store) RegisterDefinition(ctx context.Context, d *catalog.EventDefinition) error {
	existing, err := s.GetDefinition(ctx, d.Definition.Name)
	switch {
	case err == nil:
		d.ID = existing.ID
		d.CreatedAt = existing.CreatedAt
		d.UpdatedAt = now()
		d.Deprecated = false
		d.DeprecatedAt = nil
	case !errors.Is(err, rewind.ErrDefinitionNotFound):
		return err
	}

	m := toDefinitionModel(d)

	_, err = s.mdb.NewUpdate(m).
		Filter(bson.M{"name": m.Name}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"description":   m.Description,
				"group_name":    m.GroupName,
				"schema":        m.Schema,
				"version":       m.Version,
				"example":       m.Example,
				"metadata":      m.Metadata,
				"is_deprecated": false,
				"deprecated_at": nil,
				"updated_at":    m.UpdatedAt,
			},
			"$setOnInsert": bson.M{
				"_id":        m.ID,
				"created_at": m.CreatedAt,
			},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rewind/mongo: register definition: %w", err)
	}

	return nil
}

// GetDefinition returns a definition by name.
func (s *Store) GetDefinition(ctx context.Context, name string) (*catalog.EventDefinition, error) {
	return s.findDefinition(ctx, bson.M{"name": name})
}

// GetDefinitionByID returns a definition by its TypeID.
func (s *Store) GetDefinitionByID(ctx context.Context, defID id.ID) (*catalog.EventDefinition, error) {
	return s.findDefinition(ctx, bson.M{"_id": defID.String()})
}

func (s *Store) findDefinition(ctx context.Context, filter bson.M) (*catalog.EventDefinition, error) {
	var m definitionModel

	err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, rewind.ErrDefinitionNotFound
		}

		return nil, fmt.Errorf("rewind/mongo: get definition: %w", err)
	}

	return fromDefinitionModel(&m)
}

// ListDefinitions returns definitions ordered by name.
func (s *Store) ListDefinitions(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventDefinition, error) {
	var models []definitionModel

	filter := bson.M{}
	if !opts.IncludeDeprecated {
		filter["is_deprecated"] = false
	}

	if opts.Group != "" {
		filter["group_name"] = opts.Group
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "name", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rewind/mongo: list definitions: %w", err)
	}

	return convertAll(models, fromDefinitionModel)
}

// DeprecateDefinition soft-deletes a definition.
func (s *Store) DeprecateDefinition(ctx context.Context, name string) error {
	t := now()

	res, err := s.mdb.NewUpdate((*definitionModel)(nil)).
		Filter(bson.M{"name": name}).
		Set("is_deprecated", true).
		Set("deprecated_at", t).
		Set("updated_at", t).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rewind/mongo: deprecate definition: %w", err)
	}

	if res.MatchedCount() == 0 {
		return rewind.ErrDefinitionNotFound
	}

	return nil
}

// MatchDefinitions returns non-deprecated definitions matching a glob pattern.
func (s *Store) MatchDefinitions(ctx context.Context, pattern string) ([]*catalog.EventDefinition, error) {
	var models []definitionModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{"is_deprecated": false}).
		Sort(bson.D{{Key: "name", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("rewind/mongo: match definitions: %w", err)
	}

	var result []*catalog.EventDefinition

	for i := range models {
		if catalog.Match(pattern, models[i].Name) {
			d, err := fromDefinitionModel(&models[i])
			if err != nil {
				return nil, err
			}

			result = append(result, d)
		}
	}

	return result, nil
}
