package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/store"
)

// Collection name constants.
const (
	colSessions    = "rewind_sessions"
	colBatches     = "rewind_session_batches"
	colEvents      = "rewind_events"
	colErrorGroups = "rewind_error_groups"
	colDefinitions = "rewind_event_definitions"
	colQuarantine  = "rewind_quarantine"
	colProjects    = "rewind_projects"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all rewind collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}

		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("rewind/mongo: %w: %s indexes: %w", rewind.ErrMigrationFailed, col, err)
		}
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func convertAll[M, T any](models []M, conv func(*M) (*T, error)) ([]*T, error) {
	result := make([]*T, 0, len(models))

	for i := range models {
		v, err := conv(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, v)
	}

	return result, nil
}

// timeRange builds a range filter; nil bounds are omitted.
func timeRange(gte, lt *time.Time, ltOp string) bson.M {
	r := bson.M{}
	if gte != nil {
		r["$gte"] = *gte
	}

	if lt != nil {
		r[ltOp] = *lt
	}

	return r
}

// migrationIndexes returns the index definitions for all rewind collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colSessions: {
			{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "started_at", Value: -1}}},
			{Keys: bson.D{{Key: "ended_at", Value: 1}, {Key: "last_seen_at", Value: 1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		},
		colBatches: {
			{Keys: bson.D{{Key: "session_id", Value: 1}}},
		},
		colEvents: {
			{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "ts", Value: 1}, {Key: "seq", Value: 1}}},
		},
		colErrorGroups: {
			{
				Keys:    bson.D{{Key: "project_id", Value: 1}, {Key: "fingerprint", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "count", Value: -1}}},
		},
		colDefinitions: {
			{
				Keys:    bson.D{{Key: "name", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "group_name", Value: 1}}},
		},
		colQuarantine: {
			{Keys: bson.D{{Key: "project_id", Value: 1}, {Key: "failed_at", Value: -1}}},
			{Keys: bson.D{{Key: "session_id", Value: 1}}},
		},
		colProjects: {
			{
				Keys:    bson.D{{Key: "ingest_key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}
