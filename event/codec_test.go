package event_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/xraph/rewind/dom"
	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
)

func TestEncodeDecode(t *testing.T) {
	sid := id.NewSessionID()
	tests := []struct {
		name string
		evt  *event.Event
	}{
		{"session start", event.New(0, "https://shop.test/", event.SessionStart{Browser: "firefox", Viewport: event.Size{Width: 1280, Height: 720}})},
		{"snapshot", event.New(5, "https://shop.test/", event.DomSnapshot{Root: &dom.Node{ID: 1, Kind: dom.KindDocument, Children: []*dom.Node{
			{ID: 2, Kind: dom.KindElement, Tag: "html", Attrs: map[string]string{"lang": "en"}},
		}}})},
		{"mutation", event.New(9, "https://shop.test/", event.DomMutation{Ops: []dom.Mutation{
			{Op: dom.OpAttr, ID: 2, Name: "class", Value: "dark"},
			{Op: dom.OpAdd, ParentID: 2, Node: &dom.Node{ID: 3, Kind: dom.KindText, Text: "hi"}},
		}})},
		{"click", event.New(100, "https://shop.test/", event.MouseClick{Selector: "button#buy", Text: "Buy", X: 10, Y: 20})},
		{"scroll", event.New(150, "https://shop.test/", event.Scroll{Y: 400, Percent: 50})},
		{"masked input", event.New(170, "https://shop.test/", event.Input{Selector: "input#card", Changed: true, Masked: true})},
		{"error", event.New(200, "https://shop.test/", event.ErrorReport{Message: "boom", Stack: "at f (app.js:1:2)"})},
		{"custom", event.New(250, "https://shop.test/", event.Custom{Name: "checkout.started", Properties: map[string]any{"plan": "pro"}})},
		{"mouse move", event.New(260, "https://shop.test/", event.MouseMove{Positions: []event.Position{{X: 1, Y: 2}, {X: 30.5, Y: 40, Offset: 16}}})},
		{"input", event.New(270, "https://shop.test/", event.Input{NodeID: 4, Selector: "input#qty", Changed: true, Value: "2"})},
		{"resize", event.New(280, "https://shop.test/", event.Resize{Width: 390, Height: 844})},
		{"navigation", event.New(290, "https://shop.test/cart", event.PageNavigation{From: "/", To: "/cart", Title: "Cart"})},
		{"console", event.New(300, "https://shop.test/cart", event.Console{Level: event.LevelWarn, Message: "slow render", Args: []string{"cart", "412ms"}})},
		{"network", event.New(310, "https://shop.test/cart", event.Network{Method: "POST", URL: "/api/cart", Status: 502, DurationMs: 88, Failed: true, Initiator: "fetch"})},
		{"rage click", event.New(320, "https://shop.test/cart", event.RageClick{Selector: "button#pay", Count: 5, StartMs: 300, EndMs: 320, X: 12, Y: 8})},
		{"identify", event.New(330, "https://shop.test/cart", event.Identify{UserID: "u_42", Traits: map[string]any{
			"plan":  "pro",
			"seats": float64(3),
			"admin": true,
			"org":   map[string]any{"id": "org_1"},
			"tags":  []any{"beta"},
		}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.evt.SessionID = sid
			tt.evt.Seq = 7

			raw, err := event.Encode(tt.evt)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := event.Decode(raw)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(got, tt.evt) {
				t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, tt.evt)
			}
		})
	}
}

func TestDecodeNormalizesFreeFormMaps(t *testing.T) {
	tests := []struct {
		name    string
		payload event.Payload
		want    event.Payload
	}{
		{
			"integer trait becomes float64",
			event.Identify{UserID: "u_1", Traits: map[string]any{"seats": 3, "quota": int64(1 << 20)}},
			event.Identify{UserID: "u_1", Traits: map[string]any{"seats": float64(3), "quota": float64(1 << 20)}},
		},
		{
			"empty traits become nil",
			event.Identify{UserID: "u_1", Traits: map[string]any{}},
			event.Identify{UserID: "u_1"},
		},
		{
			"empty properties become nil",
			event.Custom{Name: "noop", Properties: map[string]any{}},
			event.Custom{Name: "noop"},
		},
		{
			"typed nested values become generic",
			event.Custom{Name: "cart", Properties: map[string]any{"skus": []string{"a", "b"}, "totals": map[string]int{"eur": 12}}},
			event.Custom{Name: "cart", Properties: map[string]any{"skus": []any{"a", "b"}, "totals": map[string]any{"eur": float64(12)}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := event.Encode(event.New(10, "", tt.payload))
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := event.Decode(raw)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(got.Data, tt.want) {
				t.Fatalf("decoded payload:\n got %#v\nwant %#v", got.Data, tt.want)
			}
		})
	}
}

func TestDecodeSchemaErrors(t *testing.T) {
	tests := []struct {
		name  string
		wire  string
		field string
	}{
		{"missing type", `{"ts":1,"d":{}}`, "t"},
		{"missing timestamp", `{"t":5,"d":{"selector":"a"}}`, "ts"},
		{"negative timestamp", `{"t":5,"ts":-1,"d":{"selector":"a"}}`, "ts"},
		{"click without target", `{"t":5,"ts":1,"d":{"x":1}}`, "selector"},
		{"snapshot without root", `{"t":2,"ts":1,"d":{}}`, "root"},
		{"empty mutation", `{"t":3,"ts":1,"d":{"ops":[]}}`, "ops"},
		{"scroll out of range", `{"t":6,"ts":1,"d":{"pct":140}}`, "pct"},
		{"masked with value", `{"t":7,"ts":1,"d":{"selector":"#pw","masked":true,"value":"hunter2"}}`, "value"},
		{"wrong payload shape", `{"t":5,"ts":1,"d":{"selector":42}}`, "d"},
		{"navigation without target", `{"t":9,"ts":1,"d":{"from":"/a"}}`, "to"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := event.Decode([]byte(tt.wire))
			if !errors.Is(err, event.ErrSchema) {
				t.Fatalf("expected schema error, got %v", err)
			}
			var serr *event.SchemaError
			if !errors.As(err, &serr) {
				t.Fatalf("expected *SchemaError, got %T", err)
			}
			if serr.Field != tt.field {
				t.Fatalf("expected field %q, got %q (%v)", tt.field, serr.Field, serr)
			}
			if len(serr.Raw) == 0 {
				t.Fatal("expected raw wire bytes to be kept")
			}
		})
	}
}

func TestDecodeUnknownTypeCode(t *testing.T) {
	raw := `{"t":412,"ts":30,"url":"https://shop.test/","d":{"future":true}}`

	e, err := event.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("unknown codes must not fail: %v", err)
	}
	if e.Type != event.TypeUnrecognized {
		t.Fatalf("expected unrecognized, got %s", e.Type)
	}
	u, ok := e.Data.(event.Unrecognized)
	if !ok {
		t.Fatalf("expected Unrecognized payload, got %T", e.Data)
	}
	if u.Code != 412 {
		t.Fatalf("expected code 412, got %d", u.Code)
	}

	// Re-encoding keeps the original code and body.
	again, err := event.Encode(e)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(again), `"t":412`) || !strings.Contains(string(again), `"future":true`) {
		t.Fatalf("re-encoded form lost data: %s", again)
	}
}

func TestEncodeRejectsMismatchedType(t *testing.T) {
	e := &event.Event{Type: event.TypeScroll, Data: event.MouseClick{Selector: "a"}}
	if _, err := event.Encode(e); err == nil {
		t.Fatal("expected error for mismatched type")
	}
}

func TestTypeCodesAreStable(t *testing.T) {
	want := map[event.Type]uint16{
		event.TypeSessionStart: 1, event.TypeDomSnapshot: 2, event.TypeDomMutation: 3,
		event.TypeMouseMove: 4, event.TypeMouseClick: 5, event.TypeScroll: 6,
		event.TypeInput: 7, event.TypeResize: 8, event.TypePageNavigation: 9,
		event.TypeConsole: 10, event.TypeNetwork: 11, event.TypeError: 12,
		event.TypeRageClick: 13, event.TypeIdentify: 14, event.TypeCustom: 15,
	}
	for typ, code := range want {
		if uint16(typ) != code {
			t.Fatalf("%s: code %d, want %d", typ, uint16(typ), code)
		}
		parsed, err := event.ParseType(typ.String())
		if err != nil || parsed != typ {
			t.Fatalf("ParseType(%q) = %v, %v", typ.String(), parsed, err)
		}
	}
	if len(event.Types()) != len(want) {
		t.Fatalf("expected %d known types, got %d", len(want), len(event.Types()))
	}
}

// payloadGen draws a valid payload of a random known type. Free-form maps
// hold strings so decoded values compare equal.
func payloadGen() *rapid.Generator[event.Payload] {
	str := rapid.StringMatching(`[a-z0-9#.\- ]{1,12}`)
	coord := rapid.Float64Range(0, 4000)
	return rapid.OneOf(
		rapid.Custom(func(t *rapid.T) event.Payload {
			return event.SessionStart{Browser: str.Draw(t, "browser"), Viewport: event.Size{Width: rapid.IntRange(1, 4000).Draw(t, "w"), Height: rapid.IntRange(1, 4000).Draw(t, "h")}}
		}),
		rapid.Custom(func(t *rapid.T) event.Payload {
			return event.MouseClick{Selector: str.Draw(t, "sel"), X: coord.Draw(t, "x"), Y: coord.Draw(t, "y")}
		}),
		rapid.Custom(func(t *rapid.T) event.Payload {
			return event.Scroll{Y: coord.Draw(t, "y"), Percent: rapid.Float64Range(0, 100).Draw(t, "pct")}
		}),
		rapid.Custom(func(t *rapid.T) event.Payload {
			n := rapid.IntRange(1, 5).Draw(t, "n")
			ps := make([]event.Position, n)
			for i := range ps {
				ps[i] = event.Position{X: coord.Draw(t, "x"), Y: coord.Draw(t, "y"), Offset: int64(i * 10)}
			}
			return event.MouseMove{Positions: ps}
		}),
		rapid.Custom(func(t *rapid.T) event.Payload {
			return event.DomMutation{Ops: []dom.Mutation{{Op: dom.OpText, ID: rapid.Int64Range(1, 1000).Draw(t, "id"), Value: str.Draw(t, "text")}}}
		}),
		rapid.Custom(func(t *rapid.T) event.Payload {
			return event.ErrorReport{Message: str.Draw(t, "msg"), Stack: str.Draw(t, "stack")}
		}),
		rapid.Custom(func(t *rapid.T) event.Payload {
			return event.Custom{Name: str.Draw(t, "name"), Properties: map[string]any{"k": str.Draw(t, "v")}}
		}),
		rapid.Custom(func(t *rapid.T) event.Payload {
			return event.PageNavigation{To: "/" + str.Draw(t, "to")}
		}),
		rapid.Custom(func(t *rapid.T) event.Payload {
			masked := rapid.Bool().Draw(t, "masked")
			p := event.Input{Selector: str.Draw(t, "sel"), Changed: rapid.Bool().Draw(t, "changed"), Masked: masked}
			if !masked {
				p.Value = rapid.StringMatching(`[a-z0-9]{0,8}`).Draw(t, "value")
			}
			return p
		}),
		rapid.Custom(func(t *rapid.T) event.Payload {
			return event.Resize{Width: rapid.IntRange(1, 8000).Draw(t, "w"), Height: rapid.IntRange(1, 8000).Draw(t, "h")}
		}),
		rapid.Custom(func(t *rapid.T) event.Payload {
			level := rapid.SampledFrom([]string{event.LevelDebug, event.LevelLog, event.LevelInfo, event.LevelWarn, event.LevelError}).Draw(t, "level")
			return event.Console{Level: level, Message: str.Draw(t, "msg")}
		}),
		rapid.Custom(func(t *rapid.T) event.Payload {
			return event.Network{
				Method:     rapid.SampledFrom([]string{"GET", "POST", "PUT"}).Draw(t, "method"),
				URL:        "/" + str.Draw(t, "url"),
				Status:     rapid.IntRange(0, 599).Draw(t, "status"),
				DurationMs: rapid.Int64Range(0, 60000).Draw(t, "dur"),
				Failed:     rapid.Bool().Draw(t, "failed"),
			}
		}),
		rapid.Custom(func(t *rapid.T) event.Payload {
			start := rapid.Int64Range(0, 1<<30).Draw(t, "start")
			return event.RageClick{
				Selector: str.Draw(t, "sel"),
				Count:    rapid.IntRange(1, 50).Draw(t, "count"),
				StartMs:  start,
				EndMs:    start + rapid.Int64Range(0, 2000).Draw(t, "span"),
			}
		}),
		rapid.Custom(func(t *rapid.T) event.Payload {
			return event.Identify{UserID: str.Draw(t, "user"), Traits: map[string]any{"plan": str.Draw(t, "plan")}}
		}),
	)
}

func TestCodecRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := event.New(
			rapid.Int64Range(0, 1<<40).Draw(t, "ts"),
			rapid.StringMatching(`(https://[a-z]{1,8}\.test/[a-z]{0,8})?`).Draw(t, "url"),
			payloadGen().Draw(t, "payload"),
		)
		e.Seq = rapid.Int64Range(0, 1<<30).Draw(t, "seq")

		raw, err := event.Encode(e)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		got, err := event.Decode(raw)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !reflect.DeepEqual(got, e) {
			t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, e)
		}
	})
}
