package event

import (
	"github.com/goccy/go-json"

	"github.com/xraph/rewind/dom"
)

// Payload is the type-specific body of an event. The set of implementations
// is closed: one struct per Type, plus Unrecognized.
type Payload interface {
	// Kind returns the event type this payload belongs to.
	Kind() Type

	validate() *SchemaError
}

// Size is a width/height pair in CSS pixels.
type Size struct {
	Width  int `json:"w"`
	Height int `json:"h"`
}

// Rect is a bounding box in viewport coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

// SessionStart carries host-supplied context for a new recording.
type SessionStart struct {
	UserAgent      string `json:"ua,omitempty"`
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	Device         string `json:"device,omitempty"`
	Country        string `json:"country,omitempty"`
	Language       string `json:"lang,omitempty"`
	Referrer       string `json:"referrer,omitempty"`
	TabID          string `json:"tab,omitempty"`
	Viewport       Size   `json:"viewport"`
	Screen         Size   `json:"screen"`
	// StartedAt is the client wall clock at capture start, in unix ms.
	StartedAt int64 `json:"started_at,omitempty"`
}

func (SessionStart) Kind() Type             { return TypeSessionStart }
func (SessionStart) validate() *SchemaError { return nil }

// DomSnapshot is a full serialization of the document with node ids.
type DomSnapshot struct {
	Root *dom.Node `json:"root"`
	// ScrollX and ScrollY are the document scroll offsets at capture time.
	ScrollX float64 `json:"sx,omitempty"`
	ScrollY float64 `json:"sy,omitempty"`
}

func (DomSnapshot) Kind() Type { return TypeDomSnapshot }

func (p DomSnapshot) validate() *SchemaError {
	if p.Root == nil {
		return missing(TypeDomSnapshot, "root")
	}
	if err := p.Root.Validate(); err != nil {
		return invalid(TypeDomSnapshot, "root", err.Error())
	}
	return nil
}

// DomMutation is an ordered list of incremental document changes.
type DomMutation struct {
	Ops []dom.Mutation `json:"ops"`
}

func (DomMutation) Kind() Type { return TypeDomMutation }

func (p DomMutation) validate() *SchemaError {
	if len(p.Ops) == 0 {
		return missing(TypeDomMutation, "ops")
	}
	for _, op := range p.Ops {
		if err := op.Validate(); err != nil {
			return invalid(TypeDomMutation, "ops", err.Error())
		}
	}
	return nil
}

// Position is one pointer sample. Offset is milliseconds after the
// enclosing event's timestamp.
type Position struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Offset int64   `json:"o,omitempty"`
}

// MouseMove is a down-sampled run of pointer positions.
type MouseMove struct {
	Positions []Position `json:"positions"`
}

func (MouseMove) Kind() Type { return TypeMouseMove }

func (p MouseMove) validate() *SchemaError {
	if len(p.Positions) == 0 {
		return missing(TypeMouseMove, "positions")
	}
	for _, pos := range p.Positions {
		if pos.Offset < 0 {
			return invalid(TypeMouseMove, "positions", "negative offset")
		}
	}
	return nil
}

// MouseClick records a click on an element.
type MouseClick struct {
	NodeID   int64   `json:"node,omitempty"`
	Selector string  `json:"selector,omitempty"`
	Text     string  `json:"text,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Button   int     `json:"button,omitempty"`
	Rect     Rect    `json:"rect"`
}

func (MouseClick) Kind() Type { return TypeMouseClick }

func (p MouseClick) validate() *SchemaError {
	if p.Selector == "" && p.NodeID == 0 {
		return missing(TypeMouseClick, "selector")
	}
	return nil
}

// Scroll records a scroll position. NodeID 0 is the document itself.
type Scroll struct {
	NodeID  int64   `json:"node,omitempty"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Percent float64 `json:"pct"`
}

func (Scroll) Kind() Type { return TypeScroll }

func (p Scroll) validate() *SchemaError {
	if p.Percent < 0 || p.Percent > 100 {
		return invalid(TypeScroll, "pct", "must be within [0,100]")
	}
	return nil
}

// Input records a form field change. Masked inputs never carry a value.
type Input struct {
	NodeID   int64  `json:"node,omitempty"`
	Selector string `json:"selector,omitempty"`
	Changed  bool   `json:"changed"`
	Masked   bool   `json:"masked,omitempty"`
	Value    string `json:"value,omitempty"`
}

func (Input) Kind() Type { return TypeInput }

func (p Input) validate() *SchemaError {
	if p.Selector == "" && p.NodeID == 0 {
		return missing(TypeInput, "selector")
	}
	if p.Masked && p.Value != "" {
		return invalid(TypeInput, "value", "masked input carries a value")
	}
	return nil
}

// Resize records a viewport size change.
type Resize struct {
	Width  int `json:"w"`
	Height int `json:"h"`
}

func (Resize) Kind() Type { return TypeResize }

func (p Resize) validate() *SchemaError {
	if p.Width <= 0 || p.Height <= 0 {
		return invalid(TypeResize, "w", "dimensions must be positive")
	}
	return nil
}

// PageNavigation marks a new page load. A fresh DomSnapshot follows it.
type PageNavigation struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to"`
	Title string `json:"title,omitempty"`
}

func (PageNavigation) Kind() Type { return TypePageNavigation }

func (p PageNavigation) validate() *SchemaError {
	if p.To == "" {
		return missing(TypePageNavigation, "to")
	}
	return nil
}

// Console levels accepted by the codec.
const (
	LevelDebug = "debug"
	LevelLog   = "log"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Console records a console call.
type Console struct {
	Level   string   `json:"level"`
	Message string   `json:"msg,omitempty"`
	Args    []string `json:"args,omitempty"`
}

func (Console) Kind() Type { return TypeConsole }

func (p Console) validate() *SchemaError {
	switch p.Level {
	case LevelDebug, LevelLog, LevelInfo, LevelWarn, LevelError:
		return nil
	case "":
		return missing(TypeConsole, "level")
	default:
		return invalid(TypeConsole, "level", "unknown level "+p.Level)
	}
}

// Network records a completed or failed request.
type Network struct {
	Method     string `json:"method"`
	URL        string `json:"url"`
	Status     int    `json:"status,omitempty"`
	DurationMs int64  `json:"dur,omitempty"`
	Failed     bool   `json:"failed,omitempty"`
	Initiator  string `json:"initiator,omitempty"`
}

func (Network) Kind() Type { return TypeNetwork }

func (p Network) validate() *SchemaError {
	if p.Method == "" {
		return missing(TypeNetwork, "method")
	}
	if p.URL == "" {
		return missing(TypeNetwork, "url")
	}
	return nil
}

// Error kinds.
const (
	ErrorKindException = "exception"
	ErrorKindRejection = "rejection"
)

// ErrorReport records an uncaught exception or unhandled rejection.
type ErrorReport struct {
	ErrorKind string `json:"kind,omitempty"`
	Message   string `json:"msg"`
	Stack     string `json:"stack,omitempty"`
	Source    string `json:"source,omitempty"`
	Line      int    `json:"line,omitempty"`
	Column    int    `json:"col,omitempty"`
}

func (ErrorReport) Kind() Type { return TypeError }

func (p ErrorReport) validate() *SchemaError {
	if p.Message == "" {
		return missing(TypeError, "msg")
	}
	return nil
}

// RageClick is a detected cluster of rapid repeated clicks.
type RageClick struct {
	Selector string  `json:"selector"`
	Count    int     `json:"count"`
	StartMs  int64   `json:"start"`
	EndMs    int64   `json:"end"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
}

func (RageClick) Kind() Type { return TypeRageClick }

func (p RageClick) validate() *SchemaError {
	if p.Selector == "" {
		return missing(TypeRageClick, "selector")
	}
	if p.Count < 1 {
		return invalid(TypeRageClick, "count", "must be positive")
	}
	if p.EndMs < p.StartMs {
		return invalid(TypeRageClick, "end", "ends before it starts")
	}
	return nil
}

// Identify associates the session with a host user.
//
// Traits are free-form JSON. After a decode every number is a float64,
// nested objects are map[string]any, and an empty map comes back nil
// because it is omitted on the wire.
type Identify struct {
	UserID string         `json:"user_id"`
	Traits map[string]any `json:"traits,omitempty"`
}

func (Identify) Kind() Type { return TypeIdentify }

func (p Identify) validate() *SchemaError {
	if p.UserID == "" {
		return missing(TypeIdentify, "user_id")
	}
	return nil
}

// Custom is a host-defined event recorded with Track. Properties decode
// under the same rules as Identify.Traits.
type Custom struct {
	Name       string         `json:"name"`
	Properties map[string]any `json:"props,omitempty"`
}

func (Custom) Kind() Type { return TypeCustom }

func (p Custom) validate() *SchemaError {
	if p.Name == "" {
		return missing(TypeCustom, "name")
	}
	return nil
}

// Unrecognized holds an event whose type code is unknown to this build.
// Replay skips it; storage keeps it verbatim.
type Unrecognized struct {
	Code Type            `json:"-"`
	Raw  json.RawMessage `json:"-"`
}

func (Unrecognized) Kind() Type             { return TypeUnrecognized }
func (Unrecognized) validate() *SchemaError { return nil }

// newPayload returns a zero payload for a known type.
func newPayload(t Type) Payload {
	switch t {
	case TypeSessionStart:
		return &SessionStart{}
	case TypeDomSnapshot:
		return &DomSnapshot{}
	case TypeDomMutation:
		return &DomMutation{}
	case TypeMouseMove:
		return &MouseMove{}
	case TypeMouseClick:
		return &MouseClick{}
	case TypeScroll:
		return &Scroll{}
	case TypeInput:
		return &Input{}
	case TypeResize:
		return &Resize{}
	case TypePageNavigation:
		return &PageNavigation{}
	case TypeConsole:
		return &Console{}
	case TypeNetwork:
		return &Network{}
	case TypeError:
		return &ErrorReport{}
	case TypeRageClick:
		return &RageClick{}
	case TypeIdentify:
		return &Identify{}
	case TypeCustom:
		return &Custom{}
	default:
		return nil
	}
}
