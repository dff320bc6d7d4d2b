// Package storetest is a conformance suite run against every store.Store
// backend.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/internal/entity"
	"github.com/xraph/rewind/project"
	"github.com/xraph/rewind/quarantine"
	"github.com/xraph/rewind/session"
	"github.com/xraph/rewind/signal"
	"github.com/xraph/rewind/store"
)

// Factory returns a fresh, migrated, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run exercises every subsystem contract of a backend.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"Sessions", testSessions},
		{"ClaimBatch", testClaimBatch},
		{"IdleSessions", testIdleSessions},
		{"Events", testEvents},
		{"ErrorGroups", testErrorGroups},
		{"Definitions", testDefinitions},
		{"Quarantine", testQuarantine},
		{"Projects", testProjects},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func ctx() context.Context { return context.Background() }

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSession(projectID id.ID, started time.Time) *session.Session {
	sess := session.New(id.NewSessionID(), projectID, started)
	sess.Partial = false
	sess.UserAgent = "Mozilla/5.0"
	return sess
}

func testSessions(t *testing.T, s store.Store) {
	pid := id.NewProjectID()
	a := newSession(pid, base)
	b := newSession(pid, base.Add(time.Hour))
	b.HasErrors = true
	c := newSession(id.NewProjectID(), base.Add(2*time.Hour))

	for _, sess := range []*session.Session{a, b, c} {
		if err := s.CreateSession(ctx(), sess); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.GetSession(ctx(), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ProjectID != pid || got.UserAgent != "Mozilla/5.0" || !got.StartedAt.Equal(base) {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	got.Close(base.Add(10 * time.Minute))
	got.EventCount = 12
	got.NextSeq = 13
	if err := s.UpdateSession(ctx(), got); err != nil {
		t.Fatal(err)
	}
	again, _ := s.GetSession(ctx(), a.ID)
	if !again.Closed() || again.EventCount != 12 || again.NextSeq != 13 {
		t.Fatalf("update not persisted: %+v", again)
	}

	list, err := s.ListSessions(ctx(), session.ListOpts{ProjectID: pid})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != b.ID {
		t.Fatalf("expected 2 sessions newest first, got %d", len(list))
	}

	yes := true
	withErrors, _ := s.ListSessions(ctx(), session.ListOpts{HasErrors: &yes})
	if len(withErrors) != 1 || withErrors[0].ID != b.ID {
		t.Fatalf("has_errors filter returned %d", len(withErrors))
	}

	open, _ := s.ListSessions(ctx(), session.ListOpts{ProjectID: pid, OnlyOpen: true})
	if len(open) != 1 || open[0].ID != b.ID {
		t.Fatalf("only_open filter returned %d", len(open))
	}

	paged, _ := s.ListSessions(ctx(), session.ListOpts{Offset: 1, Limit: 1})
	if len(paged) != 1 || paged[0].ID != b.ID {
		t.Fatalf("paging returned %d", len(paged))
	}

	if err := s.DeleteSession(ctx(), a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSession(ctx(), a.ID); !errors.Is(err, rewind.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := s.UpdateSession(ctx(), a); !errors.Is(err, rewind.ErrSessionNotFound) {
		t.Fatalf("update of missing session: %v", err)
	}
}

func testClaimBatch(t *testing.T, s store.Store) {
	sid := id.NewSessionID()
	bid := id.NewBatchID()

	ok, err := s.ClaimBatch(ctx(), sid, bid)
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v", ok, err)
	}
	ok, err = s.ClaimBatch(ctx(), sid, bid)
	if err != nil || ok {
		t.Fatalf("second claim = %v, %v", ok, err)
	}
	ok, _ = s.ClaimBatch(ctx(), id.NewSessionID(), bid)
	if !ok {
		t.Fatal("claims are per session")
	}
}

func testIdleSessions(t *testing.T, s store.Store) {
	pid := id.NewProjectID()
	stale := newSession(pid, base)
	stale.LastSeenAt = base
	staler := newSession(pid, base)
	staler.LastSeenAt = base.Add(-time.Minute)
	fresh := newSession(pid, base)
	fresh.LastSeenAt = base.Add(time.Hour)
	closed := newSession(pid, base)
	closed.LastSeenAt = base.Add(-time.Hour)
	closed.Close(base)

	for _, sess := range []*session.Session{stale, staler, fresh, closed} {
		if err := s.CreateSession(ctx(), sess); err != nil {
			t.Fatal(err)
		}
	}

	idle, err := s.ListIdleSessions(ctx(), base.Add(time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(idle) != 2 || idle[0].ID != staler.ID || idle[1].ID != stale.ID {
		t.Fatalf("expected staler then stale, got %d sessions", len(idle))
	}

	one, _ := s.ListIdleSessions(ctx(), base.Add(time.Minute), 1)
	if len(one) != 1 {
		t.Fatalf("limit ignored: %d", len(one))
	}
}

func click(ts, seq int64, sel string) *event.Event {
	e := event.New(ts, "https://shop.test/cart", event.MouseClick{Selector: sel, X: 10, Y: 20})
	e.Seq = seq
	return e
}

func testEvents(t *testing.T, s store.Store) {
	sid := id.NewSessionID()
	start := event.New(0, "https://shop.test/", event.SessionStart{UserAgent: "ua", Viewport: event.Size{Width: 800, Height: 600}})
	start.Seq = 1

	// Second batch arrives carrying earlier timestamps.
	if err := s.AppendEvents(ctx(), sid, []*event.Event{start, click(500, 2, "#a"), click(900, 3, "#b")}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendEvents(ctx(), sid, []*event.Event{click(500, 4, "#c"), click(100, 5, "#d")}); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListEvents(ctx(), sid, event.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	wantSeq := []int64{1, 5, 2, 4, 3}
	if len(all) != len(wantSeq) {
		t.Fatalf("expected %d events, got %d", len(wantSeq), len(all))
	}
	for i, e := range all {
		if e.Seq != wantSeq[i] {
			t.Fatalf("position %d: seq %d, want %d", i, e.Seq, wantSeq[i])
		}
		if e.SessionID != sid {
			t.Fatalf("event %d lost its session id", e.Seq)
		}
	}
	if p, ok := all[0].Data.(event.SessionStart); !ok || p.Viewport.Width != 800 {
		t.Fatalf("payload not preserved: %#v", all[0].Data)
	}

	cur := event.CursorOf(all[2])
	page, _ := s.ListEvents(ctx(), sid, event.ListOpts{After: &cur, Limit: 1})
	if len(page) != 1 || page[0].Seq != 4 {
		t.Fatalf("cursor read returned %+v", page)
	}

	since, _ := s.ListEvents(ctx(), sid, event.ListOpts{SinceSeq: 3})
	if len(since) != 2 {
		t.Fatalf("since_seq returned %d", len(since))
	}

	starts, _ := s.ListEvents(ctx(), sid, event.ListOpts{Types: []event.Type{event.TypeSessionStart}})
	if len(starts) != 1 {
		t.Fatalf("type filter returned %d", len(starts))
	}

	if n, _ := s.CountEvents(ctx(), sid); n != 5 {
		t.Fatalf("count = %d, want 5", n)
	}
	if err := s.DeleteEvents(ctx(), sid); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.CountEvents(ctx(), sid); n != 0 {
		t.Fatalf("count after delete = %d", n)
	}
}

func testErrorGroups(t *testing.T, s store.Store) {
	pid := id.NewProjectID()
	g := &signal.ErrorGroup{
		Entity:      entity.New(),
		ID:          id.NewErrorGroupID(),
		ProjectID:   pid,
		Fingerprint: "abc123",
		Message:     "TypeError: x is undefined",
		TopFrame:    "render (app.js:10:5)",
		Count:       2,
		FirstSeen:   base,
		LastSeen:    base.Add(time.Minute),
		SessionIDs:  []string{"sess_a"},
		Pages:       []string{"https://shop.test/"},
	}
	if err := s.UpsertErrorGroup(ctx(), g); err != nil {
		t.Fatal(err)
	}
	other := &signal.ErrorGroup{
		Entity:      entity.New(),
		ID:          id.NewErrorGroupID(),
		ProjectID:   pid,
		Fingerprint: "def456",
		Message:     "ReferenceError",
		Count:       5,
		FirstSeen:   base,
		LastSeen:    base,
	}
	if err := s.UpsertErrorGroup(ctx(), other); err != nil {
		t.Fatal(err)
	}

	byFP, err := s.GetErrorGroupByFingerprint(ctx(), pid, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if byFP.ID != g.ID || byFP.Count != 2 || len(byFP.SessionIDs) != 1 {
		t.Fatalf("fingerprint lookup mismatch: %+v", byFP)
	}

	byFP.Count = 3
	byFP.SessionIDs = append(byFP.SessionIDs, "sess_b")
	if err := s.UpsertErrorGroup(ctx(), byFP); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetErrorGroup(ctx(), g.ID)
	if got.Count != 3 || len(got.SessionIDs) != 2 {
		t.Fatalf("upsert did not replace: %+v", got)
	}

	list, _ := s.ListErrorGroups(ctx(), signal.ListOpts{ProjectID: pid})
	if len(list) != 2 || list[0].ID != other.ID {
		t.Fatalf("expected most frequent first, got %d groups", len(list))
	}

	if _, err := s.GetErrorGroupByFingerprint(ctx(), id.NewProjectID(), "abc123"); !errors.Is(err, rewind.ErrErrorGroupNotFound) {
		t.Fatalf("fingerprints are per project: %v", err)
	}

	n, err := s.DeleteErrorGroups(ctx(), pid)
	if err != nil || n != 2 {
		t.Fatalf("delete = %d, %v", n, err)
	}
	if _, err := s.GetErrorGroup(ctx(), g.ID); !errors.Is(err, rewind.ErrErrorGroupNotFound) {
		t.Fatalf("expected ErrErrorGroupNotFound, got %v", err)
	}
}

func testDefinitions(t *testing.T, s store.Store) {
	d := &catalog.EventDefinition{
		Entity: entity.New(),
		ID:     id.NewDefinitionID(),
		Definition: catalog.Definition{
			Name:   "checkout.completed",
			Group:  "checkout",
			Schema: json.RawMessage(`{"type":"object"}`),
		},
		Metadata: map[string]string{"owner": "payments"},
	}
	if err := s.RegisterDefinition(ctx(), d); err != nil {
		t.Fatal(err)
	}
	other := &catalog.EventDefinition{
		Entity:     entity.New(),
		ID:         id.NewDefinitionID(),
		Definition: catalog.Definition{Name: "signup.started", Group: "signup"},
	}
	if err := s.RegisterDefinition(ctx(), other); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDefinition(ctx(), "checkout.completed")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != d.ID || got.Metadata["owner"] != "payments" || len(got.Definition.Schema) == 0 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if byID, err := s.GetDefinitionByID(ctx(), d.ID); err != nil || byID.Definition.Name != "checkout.completed" {
		t.Fatalf("lookup by id: %v", err)
	}

	if err := s.DeprecateDefinition(ctx(), "checkout.completed"); err != nil {
		t.Fatal(err)
	}
	dep, _ := s.GetDefinition(ctx(), "checkout.completed")
	if !dep.Deprecated || dep.DeprecatedAt == nil {
		t.Fatal("expected deprecated")
	}

	visible, _ := s.ListDefinitions(ctx(), catalog.ListOpts{})
	if len(visible) != 1 {
		t.Fatalf("deprecated definitions should be hidden, got %d", len(visible))
	}
	everything, _ := s.ListDefinitions(ctx(), catalog.ListOpts{IncludeDeprecated: true})
	if len(everything) != 2 {
		t.Fatalf("expected 2 with deprecated, got %d", len(everything))
	}
	if matched, _ := s.MatchDefinitions(ctx(), "checkout.*"); len(matched) != 0 {
		t.Fatal("match should skip deprecated definitions")
	}

	// Re-registering keeps the id and clears deprecation.
	again := &catalog.EventDefinition{
		Entity:     entity.New(),
		ID:         id.NewDefinitionID(),
		Definition: catalog.Definition{Name: "checkout.completed", Version: "2"},
	}
	if err := s.RegisterDefinition(ctx(), again); err != nil {
		t.Fatal(err)
	}
	if again.ID != d.ID {
		t.Fatal("re-register must report the existing id")
	}
	re, _ := s.GetDefinition(ctx(), "checkout.completed")
	if re.Deprecated || re.Definition.Version != "2" || re.ID != d.ID {
		t.Fatalf("re-register mismatch: %+v", re)
	}
	if matched, _ := s.MatchDefinitions(ctx(), "checkout.*"); len(matched) != 1 {
		t.Fatalf("expected match after re-register, got %d", len(matched))
	}

	if err := s.DeprecateDefinition(ctx(), "missing"); !errors.Is(err, rewind.ErrDefinitionNotFound) {
		t.Fatalf("expected ErrDefinitionNotFound, got %v", err)
	}
}

func testQuarantine(t *testing.T, s store.Store) {
	pid := id.NewProjectID()
	sid := id.NewSessionID()
	bid := id.NewBatchID()
	mk := func(idx int, at time.Time) *quarantine.Entry {
		return &quarantine.Entry{
			Entity:    entity.New(),
			ID:        id.NewQuarantineID(),
			ProjectID: pid,
			SessionID: sid,
			BatchID:   bid,
			Index:     idx,
			Code:      event.TypeCustom,
			Kind:      quarantine.ReasonSchema,
			Reason:    "props.plan: required",
			Raw:       []byte(`{"t":15,"ts":10,"d":{"name":"x"}}`),
			FailedAt:  at,
		}
	}
	old := mk(0, base.Add(-48*time.Hour))
	recent := mk(1, base)
	if err := s.PushQuarantine(ctx(), old, recent); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetQuarantine(ctx(), recent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Raw) != string(recent.Raw) || got.Code != event.TypeCustom || got.Index != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	list, _ := s.ListQuarantine(ctx(), quarantine.ListOpts{ProjectID: pid})
	if len(list) != 2 || list[0].ID != recent.ID {
		t.Fatal("expected newest first")
	}

	if err := s.MarkReplayed(ctx(), old.ID, base); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.CountQuarantine(ctx(), quarantine.ListOpts{Pending: true}); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}

	n, err := s.PurgeQuarantine(ctx(), base.Add(-time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("purge = %d, %v", n, err)
	}
	if _, err := s.GetQuarantine(ctx(), old.ID); !errors.Is(err, rewind.ErrQuarantineNotFound) {
		t.Fatalf("expected ErrQuarantineNotFound, got %v", err)
	}
	if err := s.MarkReplayed(ctx(), old.ID, base); !errors.Is(err, rewind.ErrQuarantineNotFound) {
		t.Fatalf("mark missing: %v", err)
	}
}

func testProjects(t *testing.T, s store.Store) {
	p := &project.Project{
		Entity:           entity.New(),
		ID:               id.NewProjectID(),
		Name:             "storefront",
		IngestKey:        "rwk_one",
		RecordingEnabled: true,
		MaskSelectors:    []string{".card"},
		RateLimit:        50,
	}
	if err := s.CreateProject(ctx(), p); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetProjectByKey(ctx(), "rwk_one")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != p.ID || got.IngestKey != "rwk_one" || len(got.MaskSelectors) != 1 || got.RateLimit != 50 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	got.IngestKey = "rwk_two"
	got.RecordingEnabled = false
	if err := s.UpdateProject(ctx(), got); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetProjectByKey(ctx(), "rwk_one"); !errors.Is(err, rewind.ErrProjectNotFound) {
		t.Fatalf("old key should not resolve: %v", err)
	}
	if byKey, err := s.GetProjectByKey(ctx(), "rwk_two"); err != nil || byKey.RecordingEnabled {
		t.Fatalf("new key lookup: %v", err)
	}

	off := false
	list, _ := s.ListProjects(ctx(), project.ListOpts{Enabled: &off})
	if len(list) != 1 {
		t.Fatalf("expected 1 disabled project, got %d", len(list))
	}

	if err := s.DeleteProject(ctx(), p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetProject(ctx(), p.ID); !errors.Is(err, rewind.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}
