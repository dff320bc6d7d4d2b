package recorder_test

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xraph/rewind/dom"
	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/recorder"
)

type collector struct {
	mu     sync.Mutex
	events []*event.Event
}

func (c *collector) Enqueue(e *event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) types() []event.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Type, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

func (c *collector) last() *event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }
func (f *fakeClock) Set(t time.Time)         { f.now = t }

var t0 = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

const page = `<!DOCTYPE html><html><head><title>Shop</title></head><body>` +
	`<div id="app"><p class="a b">Hi</p><input type="password" value="x"></div>` +
	`<form id="pay"><input class="card" type="text"><input name="email" type="text"></form>` +
	`</body></html>`

func parse(t *testing.T, s string) recorder.Node {
	t.Helper()
	root, err := recorder.ParseHTMLString(s)
	if err != nil {
		t.Fatal(err)
	}
	return root
}

func raw(t *testing.T, root recorder.Node, pred func(recorder.Node) bool) *html.Node {
	t.Helper()
	n := recorder.FindHTML(root, pred)
	if n == nil {
		t.Fatal("node not found")
	}
	return n.(recorder.HTMLNode).Raw()
}

func byTag(tag string) func(recorder.Node) bool {
	return func(n recorder.Node) bool { return n.Kind() == dom.KindElement && n.Tag() == tag }
}

func byAttr(key, val string) func(recorder.Node) bool {
	return func(n recorder.Node) bool { return n.Kind() == dom.KindElement && n.Attrs()[key] == val }
}

func start(t *testing.T, cfg recorder.Config, root recorder.Node) (*recorder.Recorder, *collector, *fakeClock) {
	t.Helper()
	sink := &collector{}
	clock := &fakeClock{now: t0}
	rec := recorder.New(sink, cfg, recorder.WithClock(clock))
	rec.Start(recorder.StartInfo{URL: "https://shop.test/", SessionStart: event.SessionStart{UserAgent: "test"}}, root)
	return rec, sink, clock
}

func snapshotOf(t *testing.T, sink *collector) *dom.Tree {
	t.Helper()
	for i := len(sink.events) - 1; i >= 0; i-- {
		if s, ok := sink.events[i].Data.(event.DomSnapshot); ok {
			tree, err := dom.NewTree(s.Root)
			if err != nil {
				t.Fatalf("snapshot is not a valid tree: %v", err)
			}
			return tree
		}
	}
	t.Fatal("no snapshot emitted")
	return nil
}

func TestStartEmitsSessionStartAndSnapshot(t *testing.T) {
	root := parse(t, page)
	rec, sink, _ := start(t, recorder.Config{}, root)

	got := sink.types()
	if len(got) != 2 || got[0] != event.TypeSessionStart || got[1] != event.TypeDomSnapshot {
		t.Fatalf("types = %v", got)
	}
	for _, e := range sink.events {
		if e.Timestamp != 0 {
			t.Errorf("%s at %d, want 0", e.Type, e.Timestamp)
		}
		if e.SessionID != rec.SessionID() || e.SessionID.IsNil() {
			t.Errorf("session id not stamped")
		}
		if e.URL != "https://shop.test/" {
			t.Errorf("url = %q", e.URL)
		}
	}
	if ss := sink.events[0].Data.(event.SessionStart); ss.StartedAt != t0.UnixMilli() || ss.UserAgent != "test" {
		t.Errorf("session start = %+v", ss)
	}

	tree := snapshotOf(t, sink)
	out := tree.HTML()
	if !strings.Contains(out, `<p class="a b">Hi</p>`) {
		t.Errorf("snapshot html missing paragraph: %s", out)
	}
	if strings.Contains(out, `value="x"`) {
		t.Errorf("password value leaked into snapshot: %s", out)
	}
}

func TestObservedMutationsRebuildLiveDocument(t *testing.T) {
	root := parse(t, page)
	rec, sink, clock := start(t, recorder.Config{}, root)
	tree := snapshotOf(t, sink)

	app := raw(t, root, recorder.ByID("app"))
	p := raw(t, root, byTag("p"))
	pw := raw(t, root, byAttr("type", "password"))

	span := &html.Node{Type: html.ElementNode, Data: "span", DataAtom: atom.Span}
	span.AppendChild(&html.Node{Type: html.TextNode, Data: "new"})
	app.InsertBefore(span, p)
	p.Attr = []html.Attribute{{Key: "class", Val: "c"}, {Key: "title", Val: "greeting"}}
	p.FirstChild.Data = "Hello"
	app.RemoveChild(pw)

	clock.Advance(40 * time.Millisecond)
	rec.Observe(
		recorder.MutationRecord{Kind: recorder.ChildList, Target: recorder.WrapHTML(app),
			Added: []recorder.Node{recorder.WrapHTML(span)}, Before: recorder.WrapHTML(p)},
		recorder.MutationRecord{Kind: recorder.Attributes, Target: recorder.WrapHTML(p), Attribute: "class"},
		recorder.MutationRecord{Kind: recorder.Attributes, Target: recorder.WrapHTML(p), Attribute: "title"},
		recorder.MutationRecord{Kind: recorder.CharacterData, Target: recorder.WrapHTML(p.FirstChild)},
		recorder.MutationRecord{Kind: recorder.ChildList, Target: recorder.WrapHTML(app),
			Removed: []recorder.Node{recorder.WrapHTML(pw)}},
	)

	mut, ok := sink.last().Data.(event.DomMutation)
	if !ok {
		t.Fatalf("last event = %s", sink.last().Type)
	}
	if sink.last().Timestamp != 40 {
		t.Errorf("mutation ts = %d", sink.last().Timestamp)
	}
	for _, op := range mut.Ops {
		if err := tree.Apply(op); err != nil {
			t.Fatalf("apply %+v: %v", op, err)
		}
	}

	fresh := &collector{}
	other := recorder.New(fresh, recorder.Config{}, recorder.WithClock(&fakeClock{now: t0}))
	other.Start(recorder.StartInfo{URL: "https://shop.test/"}, root)
	want := snapshotOf(t, fresh).HTML()

	if got := tree.HTML(); got != want {
		t.Errorf("replayed document differs\n got: %s\nwant: %s", got, want)
	}
	if rec.Stats().CaptureErrors != 0 {
		t.Errorf("capture errors: %v", rec.LastError())
	}
}

func TestMutationChunking(t *testing.T) {
	root := parse(t, page)
	rec, sink, _ := start(t, recorder.Config{MutationChunkSize: 2}, root)
	app := raw(t, root, recorder.ByID("app"))

	var added []recorder.Node
	for range 5 {
		n := &html.Node{Type: html.ElementNode, Data: "i", DataAtom: atom.I}
		app.AppendChild(n)
		added = append(added, recorder.WrapHTML(n))
	}
	rec.Observe(recorder.MutationRecord{Kind: recorder.ChildList, Target: recorder.WrapHTML(app), Added: added})

	var sizes []int
	for _, e := range sink.events {
		if m, ok := e.Data.(event.DomMutation); ok {
			sizes = append(sizes, len(m.Ops))
		}
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Errorf("chunk sizes = %v", sizes)
	}
}

func TestUnknownNodeIsCaptureError(t *testing.T) {
	root := parse(t, page)
	rec, sink, _ := start(t, recorder.Config{}, root)
	before := len(sink.events)

	detached := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	rec.Observe(recorder.MutationRecord{Kind: recorder.Attributes, Target: recorder.WrapHTML(detached), Attribute: "id"})
	rec.Scroll(recorder.WrapHTML(detached), 0, 10, 100, 50)

	if len(sink.events) != before {
		t.Errorf("events emitted for unknown nodes")
	}
	if got := rec.Stats().CaptureErrors; got != 2 {
		t.Errorf("capture errors = %d, want 2", got)
	}
	if err := rec.LastError(); !errors.Is(err, recorder.ErrUnknownNode) {
		t.Errorf("last error = %v", err)
	}
}

func TestMouseMovesCoalesce(t *testing.T) {
	root := parse(t, page)
	rec, sink, clock := start(t, recorder.Config{}, root)

	for _, at := range []time.Duration{0, 10, 60, 120, 600} {
		clock.Set(t0.Add(at * time.Millisecond))
		rec.MouseMove(float64(at), 1)
	}
	clock.Set(t0.Add(700 * time.Millisecond))
	p := raw(t, root, byTag("p"))
	rec.Click(recorder.WrapHTML(p), 5, 5, event.Rect{})

	evs := sink.events[2:]
	if len(evs) != 3 {
		t.Fatalf("events = %v", sink.types())
	}
	first := evs[0].Data.(event.MouseMove)
	if evs[0].Timestamp != 0 || len(first.Positions) != 3 {
		t.Errorf("first run at %d with %d samples", evs[0].Timestamp, len(first.Positions))
	}
	for i, want := range []int64{0, 60, 120} {
		if first.Positions[i].Offset != want {
			t.Errorf("offset %d = %d, want %d", i, first.Positions[i].Offset, want)
		}
	}
	if second := evs[1].Data.(event.MouseMove); evs[1].Timestamp != 600 || len(second.Positions) != 1 {
		t.Errorf("second run at %d with %d samples", evs[1].Timestamp, len(second.Positions))
	}
	click := evs[2].Data.(event.MouseClick)
	if evs[2].Timestamp != 700 || click.Text != "Hi" || click.Selector != "div#app > p.a.b" || click.NodeID == 0 {
		t.Errorf("click = %+v at %d", click, evs[2].Timestamp)
	}
}

func TestTimestampsNeverDecrease(t *testing.T) {
	rec, sink, clock := start(t, recorder.Config{}, parse(t, page))

	clock.Advance(100 * time.Millisecond)
	rec.Resize(800, 600)
	clock.Set(t0.Add(50 * time.Millisecond))
	rec.Resize(1024, 768)

	if got := sink.last().Timestamp; got != 100 {
		t.Errorf("ts = %d, want clamped 100", got)
	}
}

func TestConsentGatesCapture(t *testing.T) {
	sink := &collector{}
	clock := &fakeClock{now: t0}
	root := parse(t, page)
	rec := recorder.New(sink, recorder.Config{ConsentRequired: true}, recorder.WithClock(clock))

	rec.Start(recorder.StartInfo{URL: "https://shop.test/"}, root)
	rec.Resize(800, 600)
	if len(sink.events) != 0 {
		t.Fatalf("captured before consent: %v", sink.types())
	}

	clock.Advance(time.Second)
	rec.GrantConsent()
	if got := sink.types(); len(got) != 2 || got[0] != event.TypeSessionStart {
		t.Fatalf("after grant: %v", got)
	}
	if sink.events[0].Timestamp != 0 {
		t.Errorf("session epoch should be consent time")
	}

	rec.MouseMove(1, 1)
	rec.RevokeConsent()
	rec.Resize(640, 480)
	rec.Flush()
	if len(sink.events) != 2 {
		t.Fatalf("captured after revoke: %v", sink.types())
	}

	rec.GrantConsent()
	if sink.last().Type != event.TypeDomSnapshot {
		t.Errorf("resume should snapshot, got %s", sink.last().Type)
	}
	if rec.Stats().Discarded < 3 {
		t.Errorf("discarded = %d", rec.Stats().Discarded)
	}
}

func TestInputMasking(t *testing.T) {
	root := parse(t, page)
	rec, sink, _ := start(t, recorder.Config{MaskSelectors: []string{"input.card"}}, root)

	card := recorder.WrapHTML(raw(t, root, byAttr("class", "card")))
	email := recorder.WrapHTML(raw(t, root, byAttr("name", "email")))
	pw := recorder.WrapHTML(raw(t, root, byAttr("type", "password")))

	rec.Input(card, "4111111111111111")
	if in := sink.last().Data.(event.Input); !in.Masked || in.Value != "" {
		t.Errorf("card input = %+v", in)
	}
	rec.Input(pw, "hunter2")
	if in := sink.last().Data.(event.Input); !in.Masked || in.Value != "" || !in.Changed {
		t.Errorf("password input = %+v", in)
	}
	rec.Input(email, "a@b.test")
	if in := sink.last().Data.(event.Input); in.Masked || in.Value != "a@b.test" || !in.Changed {
		t.Errorf("email input = %+v", in)
	}
	rec.Input(email, "a@b.test")
	if in := sink.last().Data.(event.Input); in.Changed {
		t.Errorf("repeated value reported as change")
	}
	if got := rec.Stats().MaskedInputs; got != 2 {
		t.Errorf("masked = %d", got)
	}
}

func TestMaskAllInputs(t *testing.T) {
	root := parse(t, page)
	rec, sink, _ := start(t, recorder.Config{MaskAllInputs: true}, root)
	rec.Input(recorder.WrapHTML(raw(t, root, byAttr("name", "email"))), "a@b.test")
	if in := sink.last().Data.(event.Input); !in.Masked {
		t.Errorf("input not masked")
	}
}

type explodingNode struct{}

func (explodingNode) Kind() dom.Kind            { return dom.KindElement }
func (explodingNode) Tag() string               { return "div" }
func (explodingNode) Attrs() map[string]string  { panic("attrs unavailable") }
func (explodingNode) Text() string              { return "" }
func (explodingNode) Parent() recorder.Node     { return nil }
func (explodingNode) Children() []recorder.Node { return nil }

func TestEntrypointsRecoverPanics(t *testing.T) {
	rec, sink, _ := start(t, recorder.Config{}, parse(t, page))

	rec.Click(explodingNode{}, 1, 1, event.Rect{})

	err := rec.LastError()
	if !errors.Is(err, recorder.ErrPanic) || err.Op != "click" {
		t.Fatalf("last error = %v", err)
	}
	rec.Resize(800, 600)
	if sink.last().Type != event.TypeResize {
		t.Errorf("recorder unusable after recovered panic")
	}
}

func TestHostSignals(t *testing.T) {
	rec, sink, clock := start(t, recorder.Config{}, parse(t, page))

	clock.Advance(10 * time.Millisecond)
	rec.Scroll(nil, 0, 500, 2000, 500)
	if s := sink.last().Data.(event.Scroll); s.Percent != 50 || s.NodeID != 0 {
		t.Errorf("scroll = %+v", s)
	}
	rec.Console("shout", "a", 1)
	if c := sink.last().Data.(event.Console); c.Level != event.LevelLog || c.Message != "a1" || len(c.Args) != 2 {
		t.Errorf("console = %+v", c)
	}
	rec.Network(event.Network{Method: "post", URL: "/api/cart", Status: 500})
	if n := sink.last().Data.(event.Network); n.Method != "POST" {
		t.Errorf("network = %+v", n)
	}
	rec.RecoverPanic(errors.New("boom"))
	if e := sink.last().Data.(event.ErrorReport); e.Message != "boom" || e.Stack == "" {
		t.Errorf("error = %+v", e)
	}
	rec.Track("checkout", map[string]any{"items": 2})
	rec.Identify("user-1", nil)
	if sink.last().Type != event.TypeIdentify {
		t.Errorf("identify not recorded")
	}
	rec.Track("", nil)
	if rec.Stats().CaptureErrors != 1 {
		t.Errorf("empty track should be a capture error")
	}
}

func TestNavigateResnapshots(t *testing.T) {
	rec, sink, clock := start(t, recorder.Config{}, parse(t, page))

	clock.Advance(time.Second)
	next := parse(t, `<html><body><h1>Cart</h1></body></html>`)
	rec.Navigate("https://shop.test/cart", "Cart", next)

	evs := sink.events[len(sink.events)-2:]
	nav, ok := evs[0].Data.(event.PageNavigation)
	if !ok || nav.From != "https://shop.test/" || nav.To != "https://shop.test/cart" {
		t.Fatalf("navigation = %+v", evs[0].Data)
	}
	if evs[1].Type != event.TypeDomSnapshot || evs[1].URL != "https://shop.test/cart" {
		t.Errorf("snapshot after navigation = %s %s", evs[1].Type, evs[1].URL)
	}
	if !strings.Contains(snapshotOf(t, sink).HTML(), "<h1>Cart</h1>") {
		t.Errorf("snapshot is of the old page")
	}
}

func TestStopEndsCapture(t *testing.T) {
	rec, sink, _ := start(t, recorder.Config{}, parse(t, page))
	rec.MouseMove(3, 3)
	rec.Stop()
	if sink.last().Type != event.TypeMouseMove {
		t.Errorf("stop should flush samples")
	}
	n := len(sink.events)
	rec.Resize(10, 10)
	if len(sink.events) != n {
		t.Errorf("captured after stop")
	}
}
