package quarantine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/quarantine"
	"github.com/xraph/rewind/store/memory"
)

func ctx() context.Context { return context.Background() }

func origin() quarantine.Origin {
	return quarantine.Origin{ProjectID: id.NewProjectID(), SessionID: id.NewSessionID(), BatchID: id.NewBatchID()}
}

func decodeWithRejects(t *testing.T, o quarantine.Origin) []*event.SchemaError {
	t.Helper()
	raw := fmt.Sprintf(`{"id":%q,"sid":%q,"events":[`+
		`{"t":8,"ts":1,"d":{"w":800,"h":600}},`+
		`{"t":8,"ts":2,"d":{"w":0,"h":0}},`+
		`{"t":9,"ts":3,"d":{}}]}`, o.BatchID, o.SessionID)
	b, rejected, err := event.DecodeBatch([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Events) != 1 || len(rejected) != 2 {
		t.Fatalf("decoded %d, rejected %d", len(b.Events), len(rejected))
	}
	return rejected
}

func TestPushSchemaErrors(t *testing.T) {
	store := memory.New()
	svc := quarantine.NewService(store, nil)
	o := origin()

	n, err := svc.PushSchemaErrors(ctx(), o, decodeWithRejects(t, o))
	if err != nil || n != 2 {
		t.Fatalf("PushSchemaErrors() = %d, %v", n, err)
	}

	entries, err := svc.List(ctx(), quarantine.ListOpts{SessionID: o.SessionID})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Kind != quarantine.ReasonSchema || e.ProjectID != o.ProjectID || e.BatchID != o.BatchID || len(e.Raw) == 0 {
			t.Errorf("entry = %+v", e)
		}
	}
	if entries[0].Index == entries[1].Index {
		t.Error("entries should keep their batch positions")
	}

	if got, _ := svc.Count(ctx(), quarantine.ListOpts{ProjectID: o.ProjectID, Pending: true}); got != 2 {
		t.Errorf("pending count = %d", got)
	}
	if got, _ := svc.Count(ctx(), quarantine.ListOpts{ProjectID: id.NewProjectID()}); got != 0 {
		t.Errorf("other project count = %d", got)
	}
}

func TestReplay(t *testing.T) {
	store := memory.New()
	svc := quarantine.NewService(store, nil)
	o := origin()

	custom := event.New(40, "https://shop.test/", event.Custom{Name: "signup.completed"})
	if err := svc.PushRejected(ctx(), o, 3, custom, quarantine.ReasonDeprecated, errors.New("definition deprecated")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.PushSchemaErrors(ctx(), o, decodeWithRejects(t, o)); err != nil {
		t.Fatal(err)
	}

	entries, _ := svc.List(ctx(), quarantine.ListOpts{})
	var rejected, broken *quarantine.Entry
	for _, e := range entries {
		if e.Kind == quarantine.ReasonDeprecated {
			rejected = e
		} else {
			broken = e
		}
	}

	var got *event.Event
	reingest := func(_ context.Context, entry *quarantine.Entry, e *event.Event) error {
		got = e
		return nil
	}

	if err := svc.Replay(ctx(), rejected.ID, reingest); err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Type != event.TypeCustom || got.Timestamp != 40 || got.SessionID != o.SessionID {
		t.Fatalf("reingested %+v", got)
	}
	if err := svc.Replay(ctx(), rejected.ID, reingest); !errors.Is(err, quarantine.ErrReplayed) {
		t.Errorf("second replay = %v", err)
	}

	got = nil
	if err := svc.Replay(ctx(), broken.ID, reingest); !errors.Is(err, event.ErrSchema) {
		t.Errorf("broken replay = %v", err)
	}
	if got != nil {
		t.Error("broken entry must not reach the ingester")
	}

	failing := func(context.Context, *quarantine.Entry, *event.Event) error { return errors.New("store down") }
	_ = svc.PushRejected(ctx(), o, 4, custom, quarantine.ReasonCatalog, errors.New("schema"))
	pending, _ := svc.List(ctx(), quarantine.ListOpts{Pending: true})
	for _, e := range pending {
		if e.Kind == quarantine.ReasonCatalog {
			if err := svc.Replay(ctx(), e.ID, failing); err == nil {
				t.Error("expected reingest failure")
			}
			if again, _ := svc.Get(ctx(), e.ID); again.ReplayedAt != nil {
				t.Error("failed replay must leave the entry pending")
			}
		}
	}
}

func TestPurge(t *testing.T) {
	store := memory.New()
	svc := quarantine.NewService(store, nil)
	o := origin()
	if _, err := svc.PushSchemaErrors(ctx(), o, decodeWithRejects(t, o)); err != nil {
		t.Fatal(err)
	}

	n, err := svc.Purge(ctx(), time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("purge old = %d, %v", n, err)
	}
	n, err = svc.Purge(ctx(), time.Now().Add(time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("purge all = %d, %v", n, err)
	}
}
