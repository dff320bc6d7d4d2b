package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/session"
	"github.com/xraph/rewind/store"
	"github.com/xraph/rewind/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return New() })
}

func TestLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx); !errors.Is(err, rewind.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
	if err := s.AppendEvents(ctx, id.NewSessionID(), nil); !errors.Is(err, rewind.ErrStoreClosed) {
		t.Fatalf("append after close: %v", err)
	}
}

func TestSessionsAreCopied(t *testing.T) {
	s := New()
	ctx := context.Background()

	sess := session.New(id.NewSessionID(), id.NewProjectID(), sessionEpoch)
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatal(err)
	}
	sess.EventCount = 99

	got, _ := s.GetSession(ctx, sess.ID)
	if got.EventCount != 0 {
		t.Fatal("caller mutation leaked into the store")
	}
	got.EventCount = 7
	again, _ := s.GetSession(ctx, sess.ID)
	if again.EventCount != 0 {
		t.Fatal("returned session aliases stored state")
	}
}

func TestAppendDoesNotAliasEvents(t *testing.T) {
	s := New()
	ctx := context.Background()
	sid := id.NewSessionID()

	e := event.New(5, "https://x.test/", event.Resize{Width: 10, Height: 10})
	e.Seq = 1
	if err := s.AppendEvents(ctx, sid, []*event.Event{e}); err != nil {
		t.Fatal(err)
	}
	e.Timestamp = 9000

	got, _ := s.ListEvents(ctx, sid, event.ListOpts{})
	if got[0].Timestamp != 5 {
		t.Fatal("stored event changed with the caller's copy")
	}
}

var sessionEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
