package session_test

import (
	"testing"
	"time"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/session"
)

func TestFoldSummary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := session.New(id.NewSessionID(), id.NewProjectID(), now)

	first := []*event.Event{
		event.New(0, "https://shop.test/", event.SessionStart{Browser: "chrome", StartedAt: now.Add(-time.Second).UnixMilli()}),
		event.New(120, "https://shop.test/", event.MouseClick{Selector: "a"}),
	}
	second := []*event.Event{
		event.New(900, "https://shop.test/cart", event.PageNavigation{To: "https://shop.test/cart"}),
		event.New(1500, "https://shop.test/cart", event.ErrorReport{Message: "boom"}),
		event.New(1600, "https://shop.test/cart", event.Identify{UserID: "u-42"}),
	}

	// Later batch first: the summary must not depend on arrival order.
	s.AssignSeq(second)
	s.Fold(second)
	s.AssignSeq(first)
	s.Fold(first)

	if s.Partial {
		t.Fatal("expected session start to clear partial")
	}
	if s.DurationMs != 1600 {
		t.Fatalf("expected duration 1600, got %d", s.DurationMs)
	}
	if s.PageCount != 2 {
		t.Fatalf("expected 2 pages, got %d", s.PageCount)
	}
	if s.EventCount != 5 || s.ClickCount != 1 || s.ErrorCount != 1 {
		t.Fatalf("unexpected counters %+v", s.Summary)
	}
	if !s.HasErrors || s.HasRageClicks {
		t.Fatalf("unexpected flags %+v", s.Summary)
	}
	if s.UserID != "u-42" || s.Browser != "chrome" {
		t.Fatalf("context not folded: user=%q browser=%q", s.UserID, s.Browser)
	}
	if !s.StartedAt.Equal(now.Add(-time.Second)) {
		t.Fatalf("expected client start time, got %v", s.StartedAt)
	}
	if s.NextSeq != 6 || second[0].Seq != 1 || first[1].Seq != 5 {
		t.Fatalf("unexpected seq assignment: next=%d", s.NextSeq)
	}
}

func TestCloseKeepsFirstEnd(t *testing.T) {
	s := session.New(id.NewSessionID(), id.NewProjectID(), time.Now())
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Close(first)
	s.Close(first.Add(time.Hour))
	if !s.Closed() || !s.EndedAt.Equal(first) {
		t.Fatalf("expected end %v, got %v", first, s.EndedAt)
	}
}

func TestListOptsMatch(t *testing.T) {
	proj := id.NewProjectID()
	s := session.New(id.NewSessionID(), proj, time.Now())
	s.HasErrors = true

	yes, no := true, false
	if !(session.ListOpts{ProjectID: proj, HasErrors: &yes}).Match(s) {
		t.Fatal("expected match")
	}
	if (session.ListOpts{HasErrors: &no}).Match(s) {
		t.Fatal("expected has_errors=false to exclude")
	}
	if (session.ListOpts{ProjectID: id.NewProjectID()}).Match(s) {
		t.Fatal("expected other project to exclude")
	}
}
