package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/signal"
)

// UpsertErrorGroup inserts a group or replaces the one with the same ID.
func (s *Store) UpsertErrorGroup(ctx context.Context, g *signal.ErrorGroup) error {
	m := toErrorGroupModel(g)

	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"project_id":  m.ProjectID,
				"fingerprint": m.Fingerprint,
				"message":     m.Message,
				"top_frame":   m.TopFrame,
				"count":       m.Count,
				"first_seen":  m.FirstSeen,
				"last_seen":   m.LastSeen,
				"session_ids": m.SessionIDs,
				"pages":       m.Pages,
				"updated_at":  m.UpdatedAt,
			},
			"$setOnInsert": bson.M{"created_at": m.CreatedAt},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rewind/mongo: upsert error group: %w", err)
	}

	return nil
}

// GetErrorGroup returns a group by ID.
func (s *Store) GetErrorGroup(ctx context.Context, groupID id.ID) (*signal.ErrorGroup, error) {
	return s.findErrorGroup(ctx, bson.M{"_id": groupID.String()})
}

// GetErrorGroupByFingerprint returns the group for a project fingerprint.
func (s *Store) GetErrorGroupByFingerprint(ctx context.Context, projectID id.ID, fingerprint string) (*signal.ErrorGroup, error) {
	return s.findErrorGroup(ctx, bson.M{
		"project_id":  projectID.String(),
		"fingerprint": fingerprint,
	})
}

func (s *Store) findErrorGroup(ctx context.Context, filter bson.M) (*signal.ErrorGroup, error) {
	var m errorGroupModel

	err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, rewind.ErrErrorGroupNotFound
		}

		return nil, fmt.Errorf("rewind/mongo: get error group: %w", err)
	}

	return fromErrorGroupModel(&m)
}

// ListErrorGroups returns groups ordered by count, most frequent first.
func (s *Store) ListErrorGroups(ctx context.Context, opts signal.ListOpts) ([]*signal.ErrorGroup, error) {
	var models []errorGroupModel

	filter := bson.M{}
	if !opts.ProjectID.IsNil() {
		filter["project_id"] = opts.ProjectID.String()
	}

	if opts.From != nil {
		filter["last_seen"] = bson.M{"$gte": *opts.From}
	}

	if opts.To != nil {
		filter["first_seen"] = bson.M{"$lte": *opts.To}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "count", Value: -1}, {Key: "fingerprint", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rewind/mongo: list error groups: %w", err)
	}

	return convertAll(models, fromErrorGroupModel)
}

// DeleteErrorGroups removes every group of a project.
func (s *Store) DeleteErrorGroups(ctx context.Context, projectID id.ID) (int64, error) {
	res, err := s.mdb.NewDelete((*errorGroupModel)(nil)).
		Many().
		Filter(bson.M{"project_id": projectID.String()}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("rewind/mongo: delete error groups: %w", err)
	}

	return res.DeletedCount(), nil
}
