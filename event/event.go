package event

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xraph/rewind/id"
)

// Event is one captured occurrence in a recording session.
type Event struct {
	// SessionID identifies the recording this event belongs to.
	SessionID id.ID

	// Seq is the ingestion sequence number within the session. It is zero
	// until the event is accepted and breaks timestamp ties.
	Seq int64

	// Type selects the shape of Data.
	Type Type

	// Timestamp is milliseconds since the session's SessionStart.
	Timestamp int64

	// URL is the page the event was captured on.
	URL string

	// Data is the type-specific payload. Data.Kind() equals Type except for
	// Unrecognized payloads.
	Data Payload
}

// New builds an event whose Type is taken from the payload.
func New(ts int64, url string, data Payload) *Event {
	return &Event{Type: data.Kind(), Timestamp: ts, URL: url, Data: data}
}

// Clone returns a shallow copy of e. Payloads are immutable values once
// decoded, so sharing them is safe.
func (e *Event) Clone() *Event {
	c := *e
	return &c
}

// Cursor is a position in the stable (timestamp, seq) order of a session.
type Cursor struct {
	Timestamp int64
	Seq       int64
}

// CursorOf returns the cursor pointing at e.
func CursorOf(e *Event) Cursor {
	return Cursor{Timestamp: e.Timestamp, Seq: e.Seq}
}

// After reports whether e sorts strictly after the cursor.
func (c Cursor) After(e *Event) bool {
	if e.Timestamp != c.Timestamp {
		return e.Timestamp > c.Timestamp
	}
	return e.Seq > c.Seq
}

// String encodes the cursor as "timestamp.seq".
func (c Cursor) String() string {
	return strconv.FormatInt(c.Timestamp, 10) + "." + strconv.FormatInt(c.Seq, 10)
}

// ParseCursor decodes a cursor produced by Cursor.String.
func ParseCursor(s string) (Cursor, error) {
	tsPart, seqPart, ok := strings.Cut(s, ".")
	if !ok {
		return Cursor{}, fmt.Errorf("event: malformed cursor %q", s)
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("event: malformed cursor %q: %w", s, err)
	}
	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("event: malformed cursor %q: %w", s, err)
	}
	return Cursor{Timestamp: ts, Seq: seq}, nil
}

// ListOpts configures reads of a session's event stream.
type ListOpts struct {
	// After returns only events strictly after this position.
	After *Cursor

	// SinceSeq returns only events ingested after this sequence number,
	// regardless of timestamp. Live tails use it so late batches are not
	// skipped.
	SinceSeq int64

	// Types restricts results to the given types. Empty means all.
	Types []Type

	// Limit caps the number of events returned. Zero means no limit.
	Limit int
}

// Match reports whether e passes the filters in opts (ignoring Limit).
func (o ListOpts) Match(e *Event) bool {
	if o.After != nil && !o.After.After(e) {
		return false
	}
	if o.SinceSeq > 0 && e.Seq <= o.SinceSeq {
		return false
	}
	if len(o.Types) == 0 {
		return true
	}
	for _, t := range o.Types {
		if e.Type == t {
			return true
		}
	}
	return false
}
