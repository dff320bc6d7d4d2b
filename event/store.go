package event

import (
	"context"

	"github.com/xraph/rewind/id"
)

// Store defines the persistence contract for session event streams.
type Store interface {
	// AppendEvents persists events for a session. Events arrive with Seq
	// already assigned and must be durable before returning.
	AppendEvents(ctx context.Context, sessionID id.ID, events []*Event) error

	// ListEvents returns a session's events in (timestamp, seq) order,
	// filtered by opts.
	ListEvents(ctx context.Context, sessionID id.ID, opts ListOpts) ([]*Event, error)

	// CountEvents returns the number of stored events for a session.
	CountEvents(ctx context.Context, sessionID id.ID) (int64, error)

	// DeleteEvents removes every event of a session.
	DeleteEvents(ctx context.Context, sessionID id.ID) error
}
