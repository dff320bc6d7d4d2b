package event_test

import (
	"fmt"
	"testing"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
)

func TestDecodeBatchIsTolerant(t *testing.T) {
	sid := id.NewSessionID()
	bid := id.NewBatchID()
	wire := fmt.Sprintf(`{"id":%q,"sid":%q,"events":[
		{"t":1,"ts":0,"d":{}},
		{"t":5,"ts":10,"d":{}},
		{"t":5,"ts":20,"d":{"selector":"a.buy"}},
		{"t":999,"ts":25,"d":{}},
		{"t":6,"ts":30,"d":{"pct":25}}
	]}`, bid, sid)

	b, rejected, err := event.DecodeBatch([]byte(wire))
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if b.ID != bid || b.SessionID != sid {
		t.Fatal("batch identity not decoded")
	}
	if len(rejected) != 1 || rejected[0].Index != 1 {
		t.Fatalf("expected event 1 rejected, got %v", rejected)
	}

	wantTypes := []event.Type{event.TypeSessionStart, event.TypeMouseClick, event.TypeUnrecognized, event.TypeScroll}
	if len(b.Events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d", len(wantTypes), len(b.Events))
	}
	for i, want := range wantTypes {
		if b.Events[i].Type != want {
			t.Fatalf("event %d: got %s, want %s", i, b.Events[i].Type, want)
		}
		if b.Events[i].SessionID != sid {
			t.Fatalf("event %d not stamped with batch session", i)
		}
	}
}

func TestDecodeBatchRejectsForeignSession(t *testing.T) {
	sid := id.NewSessionID()
	other := id.NewSessionID()
	wire := fmt.Sprintf(`{"id":%q,"sid":%q,"events":[{"sid":%q,"t":1,"ts":0}]}`, id.NewBatchID(), sid, other)

	b, rejected, err := event.DecodeBatch([]byte(wire))
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Events) != 0 || len(rejected) != 1 || rejected[0].Field != "sid" {
		t.Fatalf("expected foreign event rejected on sid, got events=%d rejected=%v", len(b.Events), rejected)
	}
}

func TestDecodeBatchBadEnvelope(t *testing.T) {
	for _, wire := range []string{`not json`, `{"id":"nope","sid":"","events":[]}`} {
		if _, _, err := event.DecodeBatch([]byte(wire)); err == nil {
			t.Fatalf("expected envelope error for %q", wire)
		}
	}
}

func TestEncodeBatchRoundTrip(t *testing.T) {
	b := &event.Batch{
		ID:        id.NewBatchID(),
		SessionID: id.NewSessionID(),
		Final:     true,
		Events: []*event.Event{
			event.New(0, "/", event.SessionStart{}),
			event.New(40, "/", event.Resize{Width: 800, Height: 600}),
		},
	}
	raw, err := event.EncodeBatch(b)
	if err != nil {
		t.Fatal(err)
	}
	got, rejected, err := event.DecodeBatch(raw)
	if err != nil || len(rejected) != 0 {
		t.Fatalf("decode: %v %v", err, rejected)
	}
	if !got.Final || len(got.Events) != 2 || got.Events[1].Type != event.TypeResize {
		t.Fatalf("unexpected batch %+v", got)
	}
}
