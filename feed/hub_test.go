package feed

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
)

func clickAt(ts int64) *event.Event {
	return event.New(ts, "https://example.com/", event.MouseClick{Selector: "button#buy", X: 1, Y: 2})
}

func receive(t *testing.T, s *Subscription) []*event.Event {
	t.Helper()
	select {
	case evs, ok := <-s.Events():
		if !ok {
			t.Fatal("subscription closed")
		}
		return evs
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	return nil
}

func TestHubPublishSubscribe(t *testing.T) {
	h := NewHub()
	sid := id.NewSessionID()
	other := id.NewSessionID()

	a := h.Subscribe(sid)
	b := h.Subscribe(sid)
	c := h.Subscribe(other)
	defer c.Close()

	if n := h.Subscribers(sid); n != 2 {
		t.Fatalf("subscribers = %d, want 2", n)
	}

	_ = h.Publish(context.Background(), sid, []*event.Event{clickAt(10), clickAt(20)})

	for _, s := range []*Subscription{a, b} {
		evs := receive(t, s)
		if len(evs) != 2 || evs[1].Timestamp != 20 {
			t.Fatalf("unexpected delivery %+v", evs)
		}
	}
	select {
	case <-c.Events():
		t.Fatal("other session should not receive")
	default:
	}

	a.Close()
	a.Close()
	if n := h.Subscribers(sid); n != 1 {
		t.Fatalf("subscribers after close = %d, want 1", n)
	}
	if _, ok := <-a.Events(); ok {
		t.Fatal("closed subscription channel should be closed")
	}
	b.Close()
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub(WithBuffer(2))
	sid := id.NewSessionID()
	s := h.Subscribe(sid)
	defer s.Close()

	for i := 0; i < 5; i++ {
		_ = h.Publish(context.Background(), sid, []*event.Event{clickAt(int64(i))})
	}

	if got := s.Dropped(); got != 3 {
		t.Fatalf("dropped = %d, want 3", got)
	}
	// The retained deliveries are the oldest, in order.
	if evs := receive(t, s); evs[0].Timestamp != 0 {
		t.Fatalf("first retained ts = %d, want 0", evs[0].Timestamp)
	}
}

func TestHubClose(t *testing.T) {
	var live int
	h := NewHub(WithSubscriberHook(func(d int) { live += d }))
	s := h.Subscribe(id.NewSessionID())
	if live != 1 {
		t.Fatalf("live = %d, want 1", live)
	}

	h.Close()
	if _, ok := <-s.Events(); ok {
		t.Fatal("hub close should close subscriptions")
	}
	if live != 0 {
		t.Fatalf("live after close = %d, want 0", live)
	}
	s.Close()

	late := h.Subscribe(id.NewSessionID())
	if _, ok := <-late.Events(); ok {
		t.Fatal("subscribing to a closed hub should yield a closed channel")
	}
}

func TestMessageCodec(t *testing.T) {
	sid := id.NewSessionID()
	e := clickAt(42)
	e.Seq = 7

	data, err := encodeMessage(sid, []*event.Event{e})
	if err != nil {
		t.Fatal(err)
	}
	gotSID, evs, err := decodeMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if gotSID != sid {
		t.Fatalf("session = %s, want %s", gotSID, sid)
	}
	if len(evs) != 1 || evs[0].Seq != 7 || evs[0].Type != event.TypeMouseClick {
		t.Fatalf("unexpected events %+v", evs)
	}
	if evs[0].SessionID != sid {
		t.Fatal("decoded events should carry the session id")
	}

	if _, _, err := decodeMessage([]byte(`{"sid":"nope"}`)); err == nil {
		t.Fatal("expected error for bad session id")
	}
}

func TestBridgeHandleSkipsOwnOrigin(t *testing.T) {
	h := NewHub()
	b := NewNATSBridge(nil, h)
	sid := id.NewSessionID()
	s := h.Subscribe(sid)
	defer s.Close()

	data, err := encodeMessage(sid, []*event.Event{clickAt(1)})
	if err != nil {
		t.Fatal(err)
	}

	own := nats.NewMsg(b.Subject(sid))
	own.Header.Set(originHeader, b.origin)
	own.Data = data
	b.handle(own)
	select {
	case <-s.Events():
		t.Fatal("own message should be ignored")
	default:
	}

	remote := nats.NewMsg(b.Subject(sid))
	remote.Header.Set(originHeader, "other-instance")
	remote.Data = data
	b.handle(remote)
	if evs := receive(t, s); len(evs) != 1 {
		t.Fatalf("expected relayed event, got %d", len(evs))
	}

	b.handle(&nats.Msg{Subject: "rewind.session.x", Data: []byte("garbage")})
}

func TestBridgeSubject(t *testing.T) {
	b := NewNATSBridge(nil, NewHub(), WithSubjectPrefix("tenant.live."))
	sid := id.NewSessionID()
	if got, want := b.Subject(sid), "tenant.live."+sid.String(); got != want {
		t.Fatalf("subject = %q, want %q", got, want)
	}
}
