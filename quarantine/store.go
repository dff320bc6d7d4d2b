package quarantine

import (
	"context"
	"time"

	"github.com/xraph/rewind/id"
)

// Store defines the persistence contract for quarantined events.
type Store interface {
	PushQuarantine(ctx context.Context, entries ...*Entry) error
	GetQuarantine(ctx context.Context, entryID id.ID) (*Entry, error)

	// ListQuarantine returns entries newest first.
	ListQuarantine(ctx context.Context, opts ListOpts) ([]*Entry, error)
	CountQuarantine(ctx context.Context, opts ListOpts) (int64, error)

	MarkReplayed(ctx context.Context, entryID id.ID, at time.Time) error

	// PurgeQuarantine deletes entries that failed before the threshold.
	PurgeQuarantine(ctx context.Context, before time.Time) (int64, error)
}
