package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/session"
)

// CreateSession persists a new session.
func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	_, err := s.mdb.NewInsert(toSessionModel(sess)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("rewind/mongo: create session: %w", err)
	}

	return nil
}

// GetSession returns a session by ID.
func (s *Store) GetSession(ctx context.Context, sessionID id.ID) (*session.Session, error) {
	var m sessionModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": sessionID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, rewind.ErrSessionNotFound
		}

		return nil, fmt.Errorf("rewind/mongo: get session: %w", err)
	}

	return fromSessionModel(&m)
}

// UpdateSession replaces a stored session.
func (s *Store) UpdateSession(ctx context.Context, sess *session.Session) error {
	m := toSessionModel(sess)

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rewind/mongo: update session: %w", err)
	}

	if res.MatchedCount() == 0 {
		return rewind.ErrSessionNotFound
	}

	return nil
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(ctx context.Context, opts session.ListOpts) ([]*session.Session, error) {
	var models []sessionModel

	filter := bson.M{}
	if !opts.ProjectID.IsNil() {
		filter["project_id"] = opts.ProjectID.String()
	}

	if opts.UserID != "" {
		filter["user_id"] = opts.UserID
	}

	if opts.From != nil || opts.To != nil {
		filter["started_at"] = timeRange(opts.From, opts.To, "$lte")
	}

	if opts.HasErrors != nil {
		filter["has_errors"] = *opts.HasErrors
	}

	if opts.HasRageClicks != nil {
		filter["has_rage_clicks"] = *opts.HasRageClicks
	}

	if opts.OnlyOpen {
		filter["ended_at"] = nil
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "started_at", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rewind/mongo: list sessions: %w", err)
	}

	return convertAll(models, fromSessionModel)
}

// ListIdleSessions returns open sessions last seen before the cutoff.
func (s *Store) ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]*session.Session, error) {
	var models []sessionModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"ended_at":     nil,
			"last_seen_at": bson.M{"$lt": before},
		}).
		Sort(bson.D{{Key: "last_seen_at", Value: 1}})

	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rewind/mongo: list idle sessions: %w", err)
	}

	return convertAll(models, fromSessionModel)
}

// DeleteSession removes a session and its claimed batch ids.
func (s *Store) DeleteSession(ctx context.Context, sessionID id.ID) error {
	res, err := s.mdb.NewDelete((*sessionModel)(nil)).
		Filter(bson.M{"_id": sessionID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rewind/mongo: delete session: %w", err)
	}

	if res.DeletedCount() == 0 {
		return rewind.ErrSessionNotFound
	}

	_, err = s.mdb.NewDelete((*batchModel)(nil)).
		Many().
		Filter(bson.M{"session_id": sessionID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rewind/mongo: delete batches: %w", err)
	}

	return nil
}

// ClaimBatch records a batch id. A duplicate _id means the batch was
// already ingested.
func (s *Store) ClaimBatch(ctx context.Context, sessionID, batchID id.ID) (bool, error) {
	m := &batchModel{
		ID:        sessionID.String() + "/" + batchID.String(),
		SessionID: sessionID.String(),
		ClaimedAt: now(),
	}

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return false, nil
		}

		return false, fmt.Errorf("rewind/mongo: claim batch: %w", err)
	}

	return true, nil
}

// AppendEvents adds events to a session's stream.
func (s *Store) AppendEvents(ctx context.Context, sessionID id.ID, events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}

	models := make([]eventModel, len(events))
	for i, e := range events {
		m, err := toEventModel(sessionID, e)
		if err != nil {
			return fmt.Errorf("rewind/mongo: append events: %w", err)
		}

		models[i] = *m
	}

	_, err := s.mdb.NewInsert(&models).Exec(ctx)
	if err != nil {
		return fmt.Errorf("rewind/mongo: append events: %w", err)
	}

	return nil
}

// ListEvents returns a session's events in (timestamp, seq) order.
func (s *Store) ListEvents(ctx context.Context, sessionID id.ID, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel

	filter := bson.M{"session_id": sessionID.String()}
	if opts.After != nil {
		filter["$or"] = bson.A{
			bson.M{"ts": bson.M{"$gt": opts.After.Timestamp}},
			bson.M{"ts": opts.After.Timestamp, "seq": bson.M{"$gt": opts.After.Seq}},
		}
	}

	if opts.SinceSeq > 0 {
		filter["seq"] = bson.M{"$gt": opts.SinceSeq}
	}

	if len(opts.Types) > 0 {
		types := make(bson.A, len(opts.Types))
		for i, t := range opts.Types {
			types[i] = int(t)
		}

		filter["type"] = bson.M{"$in": types}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "ts", Value: 1}, {Key: "seq", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rewind/mongo: list events: %w", err)
	}

	return convertAll(models, fromEventModel)
}

// CountEvents returns the number of stored events for a session.
func (s *Store) CountEvents(ctx context.Context, sessionID id.ID) (int64, error) {
	count, err := s.mdb.NewFind((*eventModel)(nil)).
		Filter(bson.M{"session_id": sessionID.String()}).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("rewind/mongo: count events: %w", err)
	}

	return count, nil
}

// DeleteEvents removes every event of a session.
func (s *Store) DeleteEvents(ctx context.Context, sessionID id.ID) error {
	_, err := s.mdb.NewDelete((*eventModel)(nil)).
		Many().
		Filter(bson.M{"session_id": sessionID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rewind/mongo: delete events: %w", err)
	}

	return nil
}
