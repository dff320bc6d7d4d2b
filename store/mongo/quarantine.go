package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/quarantine"
)

// PushQuarantine stores rejected events.
func (s *Store) PushQuarantine(ctx context.Context, entries ...*quarantine.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	models := make([]quarantineModel, len(entries))
	for i, e := range entries {
		models[i] = *toQuarantineModel(e)
	}

	_, err := s.mdb.NewInsert(&models).Exec(ctx)
	if err != nil {
		return fmt.Errorf("rewind/mongo: push quarantine: %w", err)
	}

	return nil
}

// GetQuarantine returns an entry by ID.
func (s *Store) GetQuarantine(ctx context.Context, entryID id.ID) (*quarantine.Entry, error) {
	var m quarantineModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": entryID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, rewind.ErrQuarantineNotFound
		}

		return nil, fmt.Errorf("rewind/mongo: get quarantine: %w", err)
	}

	return fromQuarantineModel(&m)
}

func quarantineFilter(opts quarantine.ListOpts) bson.M {
	filter := bson.M{}
	if !opts.ProjectID.IsNil() {
		filter["project_id"] = opts.ProjectID.String()
	}

	if !opts.SessionID.IsNil() {
		filter["session_id"] = opts.SessionID.String()
	}

	if opts.Pending {
		filter["replayed_at"] = nil
	}

	if opts.From != nil || opts.To != nil {
		filter["failed_at"] = timeRange(opts.From, opts.To, "$lt")
	}

	return filter
}

// ListQuarantine returns entries newest first.
func (s *Store) ListQuarantine(ctx context.Context, opts quarantine.ListOpts) ([]*quarantine.Entry, error) {
	var models []quarantineModel

	q := s.mdb.NewFind(&models).
		Filter(quarantineFilter(opts)).
		Sort(bson.D{
			{Key: "failed_at", Value: -1},
			{Key: "batch_id", Value: -1},
			{Key: "idx", Value: 1},
		})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rewind/mongo: list quarantine: %w", err)
	}

	return convertAll(models, fromQuarantineModel)
}

// CountQuarantine counts entries matching opts.
func (s *Store) CountQuarantine(ctx context.Context, opts quarantine.ListOpts) (int64, error) {
	count, err := s.mdb.NewFind((*quarantineModel)(nil)).
		Filter(quarantineFilter(opts)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("rewind/mongo: count quarantine: %w", err)
	}

	return count, nil
}

// MarkReplayed stamps an entry as replayed.
func (s *Store) MarkReplayed(ctx context.Context, entryID id.ID, at time.Time) error {
	res, err := s.mdb.NewUpdate((*quarantineModel)(nil)).
		Filter(bson.M{"_id": entryID.String()}).
		Set("replayed_at", at.UTC()).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rewind/mongo: mark replayed: %w", err)
	}

	if res.MatchedCount() == 0 {
		return rewind.ErrQuarantineNotFound
	}

	return nil
}

// PurgeQuarantine deletes entries that failed before the threshold.
func (s *Store) PurgeQuarantine(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.mdb.NewDelete((*quarantineModel)(nil)).
		Many().
		Filter(bson.M{"failed_at": bson.M{"$lt": before}}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("rewind/mongo: purge quarantine: %w", err)
	}

	return res.DeletedCount(), nil
}
