package badger

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/store"
	"github.com/xraph/rewind/store/storetest"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openMemory(t) })
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	sid := id.NewSessionID()

	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	e := event.New(10, "https://x.test/", event.Custom{Name: "signup.started", Properties: map[string]any{"plan": "pro"}})
	e.Seq = 1
	if err := s.AppendEvents(ctx, sid, []*event.Event{e}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	got, err := s.ListEvents(ctx, sid, event.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event after reopen, got %d", len(got))
	}
	c, ok := got[0].Data.(event.Custom)
	if !ok || c.Properties["plan"] != "pro" {
		t.Fatalf("payload not preserved: %#v", got[0].Data)
	}
}

func TestClosedStore(t *testing.T) {
	s := openMemory(t)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, rewind.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
	if _, err := s.GetSession(context.Background(), id.NewSessionID()); !errors.Is(err, rewind.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}
