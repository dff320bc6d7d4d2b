package event_test

import (
	"testing"

	"github.com/xraph/rewind/dom"
	"github.com/xraph/rewind/event"
)

func TestSortBreaksTiesBySeq(t *testing.T) {
	a := &event.Event{Timestamp: 10, Seq: 3, Type: event.TypeScroll}
	b := &event.Event{Timestamp: 10, Seq: 1, Type: event.TypeMouseClick}
	c := &event.Event{Timestamp: 5, Seq: 9, Type: event.TypeResize}

	got := event.Sorted([]*event.Event{a, b, c})
	if got[0] != c || got[1] != b || got[2] != a {
		t.Fatalf("unexpected order: %v %v %v", got[0].Seq, got[1].Seq, got[2].Seq)
	}
	if !event.IsSorted(got) {
		t.Fatal("expected sorted")
	}
}

func TestApplyCursorAndLimit(t *testing.T) {
	events := []*event.Event{
		{Timestamp: 0, Seq: 1, Type: event.TypeSessionStart},
		{Timestamp: 10, Seq: 2, Type: event.TypeMouseClick},
		{Timestamp: 10, Seq: 3, Type: event.TypeScroll},
		{Timestamp: 20, Seq: 4, Type: event.TypeMouseClick},
	}

	after := event.Cursor{Timestamp: 10, Seq: 2}
	got := event.Apply(events, event.ListOpts{After: &after})
	if len(got) != 2 || got[0].Seq != 3 {
		t.Fatalf("cursor read returned %d events", len(got))
	}

	got = event.Apply(events, event.ListOpts{Types: []event.Type{event.TypeMouseClick}, Limit: 1})
	if len(got) != 1 || got[0].Seq != 2 {
		t.Fatalf("type filter with limit returned %v", got)
	}

	got = event.Apply(events, event.ListOpts{SinceSeq: 3})
	if len(got) != 1 || got[0].Seq != 4 {
		t.Fatalf("since-seq read returned %v", got)
	}
}

func TestCursorString(t *testing.T) {
	c := event.Cursor{Timestamp: 1200, Seq: 17}
	parsed, err := event.ParseCursor(c.String())
	if err != nil || parsed != c {
		t.Fatalf("ParseCursor(%q) = %v, %v", c.String(), parsed, err)
	}
	if _, err := event.ParseCursor("garbage"); err == nil {
		t.Fatal("expected error for malformed cursor")
	}
}

func TestCheck(t *testing.T) {
	snap := event.DomSnapshot{Root: &dom.Node{ID: 1, Kind: dom.KindDocument}}
	mut := event.DomMutation{Ops: []dom.Mutation{{Op: dom.OpText, ID: 1}}}

	good := []*event.Event{
		event.New(0, "/", event.SessionStart{}),
		event.New(1, "/", snap),
		event.New(2, "/", mut),
		event.New(3, "/b", event.PageNavigation{To: "/b"}),
		event.New(4, "/b", snap),
		event.New(5, "/b", mut),
	}
	if v := event.Check(good); len(v) != 0 {
		t.Fatalf("expected no violations, got %v", v)
	}

	bad := []*event.Event{
		event.New(0, "/", snap),
		event.New(1, "/", event.SessionStart{}),
		event.New(2, "/b", event.PageNavigation{To: "/b"}),
		event.New(3, "/b", mut),
		event.New(4, "/b", event.SessionStart{}),
	}
	rules := map[event.Rule]bool{}
	for _, v := range event.Check(bad) {
		rules[v.Rule] = true
	}
	for _, want := range []event.Rule{event.RuleStartFirst, event.RuleStartOnce, event.RuleSnapshotFirst} {
		if !rules[want] {
			t.Fatalf("missing violation %s in %v", want, rules)
		}
	}
}
