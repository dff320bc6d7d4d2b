package event

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/xraph/rewind/id"
)

// wireEvent is the serialized envelope. Field names are short because
// recordings are dominated by envelope overhead.
type wireEvent struct {
	SessionID string          `json:"sid,omitempty"`
	Seq       int64           `json:"seq,omitempty"`
	Type      *Type           `json:"t"`
	Timestamp *int64          `json:"ts"`
	URL       string          `json:"url,omitempty"`
	Data      json.RawMessage `json:"d,omitempty"`
}

// Encode serializes an event to its wire form.
func Encode(e *Event) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("event: encode nil event")
	}
	w := wireEvent{
		SessionID: e.SessionID.String(),
		Seq:       e.Seq,
		URL:       e.URL,
	}
	ts := e.Timestamp
	w.Timestamp = &ts

	switch p := e.Data.(type) {
	case nil:
		return nil, fmt.Errorf("event: encode %s: nil payload", e.Type)
	case Unrecognized:
		code := p.Code
		w.Type = &code
		w.Data = p.Raw
	case *Unrecognized:
		code := p.Code
		w.Type = &code
		w.Data = p.Raw
	default:
		t := p.Kind()
		if e.Type != t {
			return nil, fmt.Errorf("event: encode: type %s does not match payload %s", e.Type, t)
		}
		if serr := p.validate(); serr != nil {
			return nil, serr
		}
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("event: encode %s: %w", t, err)
		}
		w.Type = &t
		w.Data = raw
	}

	return json.Marshal(w)
}

// Decode parses a single wire event. Unknown type codes decode to an
// Unrecognized payload rather than failing.
func Decode(data []byte) (*Event, error) {
	e, serr := decode(data)
	if serr != nil {
		return nil, serr
	}
	return e, nil
}

func decode(data []byte) (*Event, *SchemaError) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &SchemaError{Index: -1, Reason: "malformed envelope: " + err.Error(), Raw: clone(data)}
	}
	if w.Type == nil {
		return nil, &SchemaError{Index: -1, Field: "t", Reason: "required", Raw: clone(data)}
	}
	if w.Timestamp == nil {
		return nil, &SchemaError{Index: -1, Type: *w.Type, Field: "ts", Reason: "required", Raw: clone(data)}
	}
	if *w.Timestamp < 0 {
		return nil, &SchemaError{Index: -1, Type: *w.Type, Field: "ts", Reason: "negative timestamp", Raw: clone(data)}
	}

	e := &Event{
		Seq:       w.Seq,
		Type:      *w.Type,
		Timestamp: *w.Timestamp,
		URL:       w.URL,
	}
	if w.SessionID != "" {
		sid, err := id.ParseSessionID(w.SessionID)
		if err != nil {
			return nil, &SchemaError{Index: -1, Type: e.Type, Field: "sid", Reason: err.Error(), Raw: clone(data)}
		}
		e.SessionID = sid
	}

	if !e.Type.Known() {
		e.Type = TypeUnrecognized
		e.Data = Unrecognized{Code: *w.Type, Raw: clone(w.Data)}
		return e, nil
	}

	p := newPayload(e.Type)
	body := bytes.TrimSpace(w.Data)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, p); err != nil {
		return nil, &SchemaError{Index: -1, Type: e.Type, Field: "d", Reason: err.Error(), Raw: clone(data)}
	}
	p = deref(p)
	if serr := p.validate(); serr != nil {
		serr.Raw = clone(data)
		return nil, serr
	}
	e.Data = p
	return e, nil
}

// MarshalJSON encodes the event in its wire form.
func (e *Event) MarshalJSON() ([]byte, error) {
	return Encode(e)
}

// UnmarshalJSON decodes the wire form into e.
func (e *Event) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*e = *decoded
	return nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *SessionStart:
		return *v
	case *DomSnapshot:
		return *v
	case *DomMutation:
		return *v
	case *MouseMove:
		return *v
	case *MouseClick:
		return *v
	case *Scroll:
		return *v
	case *Input:
		return *v
	case *Resize:
		return *v
	case *PageNavigation:
		return *v
	case *Console:
		return *v
	case *Network:
		return *v
	case *ErrorReport:
		return *v
	case *RageClick:
		return *v
	case *Identify:
		return *v
	case *Custom:
		return *v
	default:
		return p
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
