package quarantine

import (
	"time"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/internal/entity"
)

// Reasons recorded on entries.
const (
	ReasonSchema     = "schema"
	ReasonDeprecated = "deprecated"
	ReasonCatalog    = "catalog"
)

// Entry is an event rejected at ingestion, kept verbatim so it can be
// inspected and replayed once the cause is fixed.
type Entry struct {
	entity.Entity

	ID        id.ID `json:"id"`
	ProjectID id.ID `json:"project_id"`
	SessionID id.ID `json:"session_id"`
	BatchID   id.ID `json:"batch_id"`

	// Index is the event's position in its batch.
	Index int `json:"index"`

	// Code is the wire type code, zero when the envelope was unreadable.
	Code event.Type `json:"code"`

	// Kind is one of the Reason constants; Reason is the detail.
	Kind   string `json:"kind"`
	Reason string `json:"reason"`

	// Raw is the event as received.
	Raw []byte `json:"raw"`

	FailedAt   time.Time  `json:"failed_at"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
}

// ListOpts configures filtering and pagination for quarantine listing.
type ListOpts struct {
	Offset    int
	Limit     int
	ProjectID id.ID
	SessionID id.ID
	// Pending limits results to entries not yet replayed.
	Pending bool
	From    *time.Time
	To      *time.Time
}

// Match reports whether e passes the filters in o, ignoring paging.
func (o ListOpts) Match(e *Entry) bool {
	if !o.ProjectID.IsNil() && e.ProjectID != o.ProjectID {
		return false
	}
	if !o.SessionID.IsNil() && e.SessionID != o.SessionID {
		return false
	}
	if o.Pending && e.ReplayedAt != nil {
		return false
	}
	if o.From != nil && e.FailedAt.Before(*o.From) {
		return false
	}
	if o.To != nil && !e.FailedAt.Before(*o.To) {
		return false
	}
	return true
}
