package rewind_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/feed"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/player"
	"github.com/xraph/rewind/project"
	"github.com/xraph/rewind/quarantine"
	"github.com/xraph/rewind/signal"
	"github.com/xraph/rewind/store/memory"
)

func ctx() context.Context { return context.Background() }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setup(t *testing.T, opts ...rewind.Option) (*rewind.Rewind, *project.Project, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	opts = append([]rewind.Option{
		rewind.WithStore(memory.New()),
		rewind.WithClock(c.Now),
	}, opts...)
	rw, err := rewind.New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	p, err := rw.Projects().Create(ctx(), project.Input{Name: "storefront"})
	if err != nil {
		t.Fatal(err)
	}
	return rw, p, c
}

func batch(sid id.ID, events ...*event.Event) *event.Batch {
	return &event.Batch{ID: id.NewBatchID(), SessionID: sid, Events: events}
}

func start(ts int64) *event.Event {
	return event.New(ts, "https://shop.test/", event.SessionStart{UserAgent: "test", Browser: "firefox"})
}

func click(ts int64, sel string) *event.Event {
	return event.New(ts, "https://shop.test/", event.MouseClick{Selector: sel, X: 10, Y: 10})
}

func custom(ts int64, name string, props map[string]any) *event.Event {
	return event.New(ts, "https://shop.test/", event.Custom{Name: name, Properties: props})
}

func ingest(t *testing.T, rw *rewind.Rewind, key string, b *event.Batch) *rewind.IngestResult {
	t.Helper()
	res, err := rw.Ingest(ctx(), key, b)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := rewind.New(); !errors.Is(err, rewind.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestIngestHappyPath(t *testing.T) {
	rw, p, _ := setup(t)
	sid := id.NewSessionID()

	res := ingest(t, rw, p.IngestKey, batch(sid, start(0), click(100, "#buy"), custom(150, "checkout.started", nil)))
	if res.Accepted != 3 || res.Quarantined != 0 || res.Duplicate {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.FirstSeq != 1 || res.LastSeq != 3 {
		t.Fatalf("expected seq 1..3, got %d..%d", res.FirstSeq, res.LastSeq)
	}

	sess, err := rw.Session(ctx(), sid)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Partial {
		t.Fatal("expected session to be complete after SessionStart")
	}
	if sess.ProjectID != p.ID {
		t.Fatalf("project = %s, want %s", sess.ProjectID, p.ID)
	}
	if sess.EventCount != 3 || sess.ClickCount != 1 || sess.Browser != "firefox" {
		t.Fatalf("unexpected summary %+v", sess.Summary)
	}

	events, err := rw.Events(ctx(), sid, event.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 || events[0].Type != event.TypeSessionStart || events[2].Type != event.TypeCustom {
		t.Fatalf("unexpected stream of %d events", len(events))
	}
}

func TestIngestPartialSession(t *testing.T) {
	rw, p, _ := setup(t)
	sid := id.NewSessionID()

	ingest(t, rw, p.IngestKey, batch(sid, click(100, "#buy")))

	sess, err := rw.Session(ctx(), sid)
	if err != nil {
		t.Fatal(err)
	}
	if !sess.Partial {
		t.Fatal("expected partial session without SessionStart")
	}
}

func TestIngestDuplicateBatch(t *testing.T) {
	rw, p, _ := setup(t)
	sid := id.NewSessionID()
	b := batch(sid, start(0), click(100, "#buy"))

	ingest(t, rw, p.IngestKey, b)
	res := ingest(t, rw, p.IngestKey, b)
	if !res.Duplicate || res.Accepted != 0 {
		t.Fatalf("expected duplicate no-op, got %+v", res)
	}

	n, err := rw.Store().CountEvents(ctx(), sid)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 stored events, got %d", n)
	}
}

func TestIngestDropsRepeatedSessionStart(t *testing.T) {
	rw, p, _ := setup(t)
	sid := id.NewSessionID()

	ingest(t, rw, p.IngestKey, batch(sid, start(0), start(5)))
	res := ingest(t, rw, p.IngestKey, batch(sid, start(10), click(20, "#a")))
	if res.DroppedStarts != 1 || res.Accepted != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	starts, err := rw.Events(ctx(), sid, event.ListOpts{Types: []event.Type{event.TypeSessionStart}})
	if err != nil {
		t.Fatal(err)
	}
	if len(starts) != 1 {
		t.Fatalf("expected exactly one SessionStart, got %d", len(starts))
	}
}

func TestIngestRejections(t *testing.T) {
	rw, p, _ := setup(t)
	sid := id.NewSessionID()

	if _, err := rw.Ingest(ctx(), "rwk_unknown", batch(sid, click(1, "#a"))); !errors.Is(err, rewind.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}

	if _, err := rw.Ingest(ctx(), p.IngestKey, &event.Batch{SessionID: sid}); !errors.Is(err, rewind.ErrInvalidBatch) {
		t.Fatalf("expected ErrInvalidBatch for missing batch id, got %v", err)
	}

	if err := rw.Projects().SetRecording(ctx(), p.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := rw.Ingest(ctx(), p.IngestKey, batch(sid, click(1, "#a"))); !errors.Is(err, rewind.ErrRecordingDisabled) {
		t.Fatalf("expected ErrRecordingDisabled, got %v", err)
	}
}

func TestIngestRateLimited(t *testing.T) {
	rw, p, c := setup(t, rewind.WithRateLimit(2))
	sid := id.NewSessionID()

	ingest(t, rw, p.IngestKey, batch(sid, start(0), click(1, "#a")))
	if _, err := rw.Ingest(ctx(), p.IngestKey, batch(sid, click(2, "#a"))); !errors.Is(err, rewind.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	c.Advance(time.Second)
	ingest(t, rw, p.IngestKey, batch(sid, click(2, "#a")))
}

func TestIngestRawQuarantinesSchemaErrors(t *testing.T) {
	rw, p, _ := setup(t)
	sid := id.NewSessionID()

	good, err := event.Encode(click(5, "#a"))
	if err != nil {
		t.Fatal(err)
	}
	body, err := json.Marshal(map[string]any{
		"id":  id.NewBatchID().String(),
		"sid": sid.String(),
		"events": []json.RawMessage{
			good,
			json.RawMessage(`{"t":15,"ts":6,"d":{}}`),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := rw.IngestRaw(ctx(), p.IngestKey, body)
	if err != nil {
		t.Fatal(err)
	}
	if res.Accepted != 1 || res.Quarantined != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	entries, err := rw.Quarantine().List(ctx(), quarantine.ListOpts{SessionID: sid})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Kind != quarantine.ReasonSchema || entries[0].Index != 1 {
		t.Fatalf("unexpected quarantine %+v", entries)
	}

	if _, err := rw.IngestRaw(ctx(), p.IngestKey, []byte(`{`)); !errors.Is(err, rewind.ErrInvalidBatch) {
		t.Fatalf("expected ErrInvalidBatch for malformed body, got %v", err)
	}
}

func TestDeprecatedCustomEventIsQuarantinedAndReplayed(t *testing.T) {
	rw, p, _ := setup(t)
	sid := id.NewSessionID()

	def := catalog.Definition{
		Name:   "checkout.completed",
		Schema: json.RawMessage(`{"type":"object","required":["total"]}`),
	}
	if _, err := rw.Catalog().Register(ctx(), def); err != nil {
		t.Fatal(err)
	}
	if err := rw.Catalog().Deprecate(ctx(), def.Name); err != nil {
		t.Fatal(err)
	}

	res := ingest(t, rw, p.IngestKey, batch(sid, start(0), custom(10, def.Name, map[string]any{"total": 12})))
	if res.Accepted != 1 || res.Quarantined != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	entries, err := rw.Quarantine().List(ctx(), quarantine.ListOpts{SessionID: sid})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Kind != quarantine.ReasonDeprecated {
		t.Fatalf("unexpected quarantine %+v", entries)
	}

	// Still deprecated: replay fails and the entry stays pending.
	if err := rw.ReplayQuarantined(ctx(), entries[0].ID); !errors.Is(err, catalog.ErrDeprecated) {
		t.Fatalf("expected ErrDeprecated, got %v", err)
	}

	if _, err := rw.Catalog().Register(ctx(), def); err != nil {
		t.Fatal(err)
	}
	if err := rw.ReplayQuarantined(ctx(), entries[0].ID); err != nil {
		t.Fatal(err)
	}

	events, err := rw.Events(ctx(), sid, event.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[1].Type != event.TypeCustom || events[1].Seq != 2 {
		t.Fatalf("expected replayed custom event with seq 2, got %d events", len(events))
	}

	if err := rw.ReplayQuarantined(ctx(), entries[0].ID); !errors.Is(err, quarantine.ErrReplayed) {
		t.Fatalf("expected ErrReplayed, got %v", err)
	}
}

func TestSchemaViolationQuarantined(t *testing.T) {
	rw, p, _ := setup(t)
	sid := id.NewSessionID()

	if _, err := rw.Catalog().Register(ctx(), catalog.Definition{
		Name:   "plan.selected",
		Schema: json.RawMessage(`{"type":"object","required":["plan"]}`),
	}); err != nil {
		t.Fatal(err)
	}

	res := ingest(t, rw, p.IngestKey, batch(sid,
		custom(1, "plan.selected", map[string]any{"plan": "pro"}),
		custom(2, "plan.selected", map[string]any{}),
	))
	if res.Accepted != 1 || res.Quarantined != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestStrictCatalog(t *testing.T) {
	rw, p, _ := setup(t, rewind.WithStrictCatalog(true))
	sid := id.NewSessionID()

	res := ingest(t, rw, p.IngestKey, batch(sid,
		custom(1, "unknown.event", nil),
		event.New(2, "", event.Identify{UserID: "u1"}),
	))
	if res.Accepted != 1 || res.Quarantined != 1 {
		t.Fatalf("identify should be exempt in strict mode, got %+v", res)
	}
}

func TestInlineSignals(t *testing.T) {
	rw, p, _ := setup(t)
	sid := id.NewSessionID()

	ingest(t, rw, p.IngestKey, batch(sid, start(0), click(100, "#pay"), click(400, "#pay")))
	ingest(t, rw, p.IngestKey, batch(sid,
		click(700, "#pay"),
		event.New(900, "https://shop.test/", event.ErrorReport{Message: "x is undefined", Stack: "at pay (app.js:1:2)"}),
	))

	sess, err := rw.Session(ctx(), sid)
	if err != nil {
		t.Fatal(err)
	}
	if !sess.HasRageClicks {
		t.Fatal("expected rage clicks across batches to flag the session")
	}
	if !sess.HasErrors || sess.ErrorCount != 1 {
		t.Fatalf("unexpected error summary %+v", sess.Summary)
	}

	groups, err := rw.ErrorGroups(ctx(), signal.ListOpts{ProjectID: p.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].Count != 1 {
		t.Fatalf("expected one error group, got %d", len(groups))
	}

	report, err := rw.SessionSignals(ctx(), sid)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.RageClicks) != 1 {
		t.Fatalf("expected one rage click cluster, got %d", len(report.RageClicks))
	}

	n, err := rw.RebuildErrorGroups(ctx(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("rebuild wrote %d groups, want 1", n)
	}
}

func TestInlineSignalsDisabled(t *testing.T) {
	rw, p, _ := setup(t, rewind.WithInlineSignals(false))
	sid := id.NewSessionID()

	ingest(t, rw, p.IngestKey, batch(sid, click(100, "#pay"), click(200, "#pay"), click(300, "#pay")))

	sess, err := rw.Session(ctx(), sid)
	if err != nil {
		t.Fatal(err)
	}
	if sess.HasRageClicks {
		t.Fatal("expected no inline rage-click flag")
	}
	report, err := rw.SessionSignals(ctx(), sid)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.RageClicks) != 1 {
		t.Fatal("expected rage clicks to be computed on read")
	}
}

func TestReplayIsTotallyOrdered(t *testing.T) {
	rw, p, _ := setup(t)
	sid := id.NewSessionID()

	ingest(t, rw, p.IngestKey, batch(sid, start(0), click(500, "#late")))
	// A late batch carrying an earlier capture timestamp.
	ingest(t, rw, p.IngestKey, batch(sid, click(200, "#early")))

	data, err := rw.Replay(ctx(), sid)
	if err != nil {
		t.Fatal(err)
	}
	if !event.IsSorted(data.Events) {
		t.Fatal("expected replay events in (timestamp, seq) order")
	}
	if data.Events[1].Data.(event.MouseClick).Selector != "#early" {
		t.Fatal("expected the earlier click second")
	}

	pl, err := rw.NewPlayer(ctx(), sid, player.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if pl.Duration() != 500*time.Millisecond {
		t.Fatalf("duration = %s, want 500ms", pl.Duration())
	}
}

func TestEventsCursor(t *testing.T) {
	rw, p, _ := setup(t)
	sid := id.NewSessionID()

	ingest(t, rw, p.IngestKey, batch(sid, start(0), click(10, "#a"), click(20, "#b"), click(30, "#c")))

	first, err := rw.Events(ctx(), sid, event.ListOpts{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	cur := event.CursorOf(first[len(first)-1])
	rest, err := rw.Events(ctx(), sid, event.ListOpts{After: &cur})
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || len(rest) != 2 || rest[0].Seq != 3 {
		t.Fatalf("unexpected pages %d + %d", len(first), len(rest))
	}

	if _, err := rw.Events(ctx(), id.NewSessionID(), event.ListOpts{}); !errors.Is(err, rewind.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestFinalBatchClosesSession(t *testing.T) {
	rw, p, _ := setup(t)
	sid := id.NewSessionID()

	b := batch(sid, start(0))
	b.Final = true
	ingest(t, rw, p.IngestKey, b)

	sess, err := rw.Session(ctx(), sid)
	if err != nil {
		t.Fatal(err)
	}
	if !sess.Closed() {
		t.Fatal("expected final batch to close the session")
	}

	// Late batches are still accepted after close.
	res := ingest(t, rw, p.IngestKey, batch(sid, click(10, "#a")))
	if res.Accepted != 1 {
		t.Fatalf("expected late batch to be accepted, got %+v", res)
	}
}

func TestReapIdle(t *testing.T) {
	rw, p, c := setup(t, rewind.WithSessionTimeout(time.Minute))
	idle, active := id.NewSessionID(), id.NewSessionID()

	ingest(t, rw, p.IngestKey, batch(idle, start(0)))
	c.Advance(50 * time.Second)
	ingest(t, rw, p.IngestKey, batch(active, start(0)))
	c.Advance(20 * time.Second)

	n, err := rw.ReapIdle(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("closed %d sessions, want 1", n)
	}

	s1, _ := rw.Session(ctx(), idle)
	s2, _ := rw.Session(ctx(), active)
	if !s1.Closed() || s2.Closed() {
		t.Fatalf("idle closed=%v active closed=%v", s1.Closed(), s2.Closed())
	}
}

func TestCloseSession(t *testing.T) {
	rw, p, _ := setup(t)
	sid := id.NewSessionID()
	ingest(t, rw, p.IngestKey, batch(sid, start(0)))

	sess, err := rw.CloseSession(ctx(), sid)
	if err != nil {
		t.Fatal(err)
	}
	first := *sess.EndedAt

	again, err := rw.CloseSession(ctx(), sid)
	if err != nil {
		t.Fatal(err)
	}
	if !again.EndedAt.Equal(first) {
		t.Fatal("closing twice must keep the first end time")
	}

	if _, err := rw.CloseSession(ctx(), id.NewSessionID()); !errors.Is(err, rewind.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestPurgeSessions(t *testing.T) {
	rw, p, c := setup(t)
	old, fresh := id.NewSessionID(), id.NewSessionID()

	ingest(t, rw, p.IngestKey, batch(old, click(1, "#a")))
	c.Advance(48 * time.Hour)
	ingest(t, rw, p.IngestKey, batch(fresh, click(1, "#a")))

	n, err := rw.PurgeSessions(ctx(), p.ID, c.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("purged %d sessions, want 1", n)
	}
	if _, err := rw.Session(ctx(), old); !errors.Is(err, rewind.ErrSessionNotFound) {
		t.Fatalf("expected purged session to be gone, got %v", err)
	}
	if count, _ := rw.Store().CountEvents(ctx(), old); count != 0 {
		t.Fatalf("expected purged events to be gone, got %d", count)
	}
	if _, err := rw.Session(ctx(), fresh); err != nil {
		t.Fatal(err)
	}
}

func TestFeedReceivesAppendedEvents(t *testing.T) {
	hub := feed.NewHub()
	defer hub.Close()
	rw, p, _ := setup(t, rewind.WithFeed(hub))
	sid := id.NewSessionID()

	sub := hub.Subscribe(sid)
	defer sub.Close()

	ingest(t, rw, p.IngestKey, batch(sid, start(0), click(5, "#a")))

	select {
	case got := <-sub.Events():
		if len(got) != 2 || got[1].Seq != 2 {
			t.Fatalf("unexpected live delivery of %d events", len(got))
		}
	case <-time.After(time.Second):
		t.Fatal("no live delivery")
	}
}

func TestLocalSender(t *testing.T) {
	rw, p, _ := setup(t)
	sid := id.NewSessionID()

	res := rw.LocalSender(p.IngestKey).Send(ctx(), batch(sid, start(0)))
	if res.StatusCode != http.StatusAccepted || res.Err != nil {
		t.Fatalf("unexpected result %+v", res)
	}

	res = rw.LocalSender("rwk_wrong").Send(ctx(), batch(sid, start(0)))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.StatusCode)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusAccepted},
		{rewind.ErrProjectNotFound, http.StatusUnauthorized},
		{rewind.ErrRecordingDisabled, http.StatusForbidden},
		{rewind.ErrRateLimited, http.StatusTooManyRequests},
		{rewind.ErrInvalidBatch, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := rewind.HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
