// Package session defines the recording session aggregate: identity, client
// context, lifecycle and the summary derived from its event stream.
package session

import (
	"time"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/internal/entity"
)

// Session is one continuous recording of a browser tab.
type Session struct {
	entity.Entity

	// ID is the recorder-generated session identity.
	ID id.ID `json:"id"`

	// ProjectID is the project whose ingest key uploaded the session.
	ProjectID id.ID `json:"project_id"`

	// UserID is set by the most recent Identify event.
	UserID string `json:"user_id,omitempty"`

	// Client context from SessionStart.
	UserAgent string `json:"user_agent,omitempty"`
	Browser   string `json:"browser,omitempty"`
	OS        string `json:"os,omitempty"`
	Device    string `json:"device,omitempty"`
	Country   string `json:"country,omitempty"`
	EntryURL  string `json:"entry_url,omitempty"`

	// StartedAt is the wall-clock start of the recording. It comes from the
	// client when reported, otherwise from the first ingestion.
	StartedAt time.Time `json:"started_at"`

	// EndedAt is set once the session is closed.
	EndedAt *time.Time `json:"ended_at,omitempty"`

	// LastSeenAt is the server time of the most recent accepted batch.
	LastSeenAt time.Time `json:"last_seen_at"`

	// Partial is true until a SessionStart event has been ingested.
	Partial bool `json:"partial"`

	// NextSeq is the sequence number the next accepted event receives.
	NextSeq int64 `json:"next_seq"`

	Summary
}

// Summary is derived from the event stream as events arrive.
type Summary struct {
	DurationMs    int64 `json:"duration_ms"`
	PageCount     int   `json:"page_count"`
	EventCount    int64 `json:"event_count"`
	ClickCount    int   `json:"click_count"`
	ErrorCount    int   `json:"error_count"`
	HasRageClicks bool  `json:"has_rage_clicks"`
	HasErrors     bool  `json:"has_errors"`
}

// New returns an open, partial session first seen at now.
func New(sessionID, projectID id.ID, now time.Time) *Session {
	return &Session{
		Entity:     entity.New(),
		ID:         sessionID,
		ProjectID:  projectID,
		StartedAt:  now,
		LastSeenAt: now,
		Partial:    true,
		NextSeq:    1,
	}
}

// Closed reports whether the session has ended.
func (s *Session) Closed() bool { return s.EndedAt != nil }

// Close fixes the end time. Closing twice keeps the first end time.
func (s *Session) Close(at time.Time) {
	if s.EndedAt != nil {
		return
	}
	end := at.UTC()
	s.EndedAt = &end
	s.Touch()
}

// AssignSeq stamps events with consecutive sequence numbers in slice order.
func (s *Session) AssignSeq(events []*event.Event) {
	for _, e := range events {
		e.Seq = s.NextSeq
		s.NextSeq++
	}
}

// Fold updates the summary and client context with newly appended events.
// Folding is order-insensitive across batches: duration is a maximum and
// counters only grow.
func (s *Session) Fold(events []*event.Event) {
	if len(events) == 0 {
		return
	}
	if s.EventCount == 0 {
		s.PageCount = 1
	}
	s.EventCount += int64(len(events))

	for _, e := range events {
		if e.Timestamp > s.DurationMs {
			s.DurationMs = e.Timestamp
		}
		switch p := e.Data.(type) {
		case event.SessionStart:
			s.Partial = false
			s.UserAgent = p.UserAgent
			s.Browser = p.Browser
			s.OS = p.OS
			s.Device = p.Device
			s.Country = p.Country
			s.EntryURL = e.URL
			if p.StartedAt > 0 {
				s.StartedAt = time.UnixMilli(p.StartedAt).UTC()
			}
		case event.PageNavigation:
			s.PageCount++
		case event.MouseClick:
			s.ClickCount++
		case event.ErrorReport:
			s.ErrorCount++
			s.HasErrors = true
		case event.RageClick:
			s.HasRageClicks = true
		case event.Identify:
			s.UserID = p.UserID
		}
	}
	s.Touch()
}

// Duration returns the recorded span as a time.Duration.
func (s *Session) Duration() time.Duration {
	return time.Duration(s.DurationMs) * time.Millisecond
}

// ListOpts configures filtering and pagination for session listing.
type ListOpts struct {
	Offset        int
	Limit         int
	ProjectID     id.ID
	UserID        string
	From          *time.Time
	To            *time.Time
	HasErrors     *bool
	HasRageClicks *bool
	OnlyOpen      bool
}

// Match reports whether s satisfies the filters in opts (ignoring paging).
func (o ListOpts) Match(s *Session) bool {
	if !o.ProjectID.IsNil() && s.ProjectID != o.ProjectID {
		return false
	}
	if o.UserID != "" && s.UserID != o.UserID {
		return false
	}
	if o.From != nil && s.StartedAt.Before(*o.From) {
		return false
	}
	if o.To != nil && s.StartedAt.After(*o.To) {
		return false
	}
	if o.HasErrors != nil && s.HasErrors != *o.HasErrors {
		return false
	}
	if o.HasRageClicks != nil && s.HasRageClicks != *o.HasRageClicks {
		return false
	}
	if o.OnlyOpen && s.Closed() {
		return false
	}
	return true
}
