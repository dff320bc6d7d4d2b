package signal

import (
	"context"
	"time"

	"github.com/xraph/rewind/id"
)

// ListOpts configures error group listing.
type ListOpts struct {
	Offset    int
	Limit     int
	ProjectID id.ID
	// From keeps groups last seen at or after this time.
	From *time.Time
	// To keeps groups first seen at or before this time.
	To *time.Time
}

// Match reports whether g satisfies the filters in opts (ignoring paging).
func (o ListOpts) Match(g *ErrorGroup) bool {
	if !o.ProjectID.IsNil() && g.ProjectID != o.ProjectID {
		return false
	}
	if o.From != nil && g.LastSeen.Before(*o.From) {
		return false
	}
	if o.To != nil && g.FirstSeen.After(*o.To) {
		return false
	}
	return true
}

// Store persists materialized error groups. Groups are a cache over the
// event streams: Service.Rebuild can always regenerate them.
type Store interface {
	// UpsertErrorGroup inserts a group or replaces the one with the same ID.
	UpsertErrorGroup(ctx context.Context, g *ErrorGroup) error

	// GetErrorGroup returns a group by ID.
	GetErrorGroup(ctx context.Context, groupID id.ID) (*ErrorGroup, error)

	// GetErrorGroupByFingerprint returns the group for a project fingerprint.
	GetErrorGroupByFingerprint(ctx context.Context, projectID id.ID, fingerprint string) (*ErrorGroup, error)

	// ListErrorGroups returns groups ordered by count, most frequent first.
	ListErrorGroups(ctx context.Context, opts ListOpts) ([]*ErrorGroup, error)

	// DeleteErrorGroups removes every group of a project.
	DeleteErrorGroups(ctx context.Context, projectID id.ID) (int64, error)
}
