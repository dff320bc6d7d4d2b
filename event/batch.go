package event

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/xraph/rewind/id"
)

// Batch is the unit of upload from a recorder to the ingestion boundary.
// Events inside a batch are in capture order.
type Batch struct {
	// ID is the client-generated idempotency key. Re-sent batches carry the
	// same ID and are accepted once.
	ID id.ID

	// SessionID is the recording every event in the batch belongs to.
	SessionID id.ID

	// Final marks the last batch of a session (page unload or Stop).
	Final bool

	// Events are the decoded events, in capture order.
	Events []*Event
}

type wireBatch struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sid"`
	Final     bool              `json:"final,omitempty"`
	Events    []json.RawMessage `json:"events"`
}

// EncodeBatch serializes a batch. Every event must encode cleanly.
func EncodeBatch(b *Batch) ([]byte, error) {
	w := wireBatch{
		ID:        b.ID.String(),
		SessionID: b.SessionID.String(),
		Final:     b.Final,
		Events:    make([]json.RawMessage, 0, len(b.Events)),
	}
	for i, e := range b.Events {
		raw, err := Encode(e)
		if err != nil {
			return nil, fmt.Errorf("event: encode batch[%d]: %w", i, err)
		}
		w.Events = append(w.Events, raw)
	}
	return json.Marshal(w)
}

// DecodeBatch parses a batch tolerantly: events that fail schema checks are
// reported in the returned slice (with their batch index) and left out of
// Batch.Events, which keeps the order of the valid events. The error is
// non-nil only when the envelope itself is unusable.
func DecodeBatch(data []byte) (*Batch, []*SchemaError, error) {
	var w wireBatch
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, nil, fmt.Errorf("event: decode batch: %w", err)
	}

	b := &Batch{Final: w.Final}
	var err error
	if b.ID, err = id.ParseBatchID(w.ID); err != nil {
		return nil, nil, fmt.Errorf("event: decode batch id: %w", err)
	}
	if b.SessionID, err = id.ParseSessionID(w.SessionID); err != nil {
		return nil, nil, fmt.Errorf("event: decode batch session: %w", err)
	}

	var rejected []*SchemaError
	b.Events = make([]*Event, 0, len(w.Events))
	for i, raw := range w.Events {
		e, serr := decode(raw)
		if serr == nil && !e.SessionID.IsNil() && e.SessionID != b.SessionID {
			serr = &SchemaError{Type: e.Type, Field: "sid", Reason: "does not match batch session", Raw: clone(raw)}
		}
		if serr != nil {
			serr.Index = i
			rejected = append(rejected, serr)
			continue
		}
		e.SessionID = b.SessionID
		b.Events = append(b.Events, e)
	}
	return b, rejected, nil
}
