package session

import (
	"context"
	"time"

	"github.com/xraph/rewind/id"
)

// Store defines the persistence contract for recording sessions.
type Store interface {
	// CreateSession persists a new session.
	CreateSession(ctx context.Context, s *Session) error

	// GetSession returns a session by ID.
	GetSession(ctx context.Context, sessionID id.ID) (*Session, error)

	// UpdateSession replaces a stored session.
	UpdateSession(ctx context.Context, s *Session) error

	// ListSessions returns sessions newest first, filtered by opts.
	ListSessions(ctx context.Context, opts ListOpts) ([]*Session, error)

	// ListIdleSessions returns open sessions last seen before the cutoff.
	ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]*Session, error)

	// DeleteSession removes a session and its claimed batch ids.
	DeleteSession(ctx context.Context, sessionID id.ID) error

	// ClaimBatch records a batch id for a session. It returns false when the
	// batch was already claimed, which makes uploads idempotent.
	ClaimBatch(ctx context.Context, sessionID, batchID id.ID) (bool, error)
}
