package player

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/xraph/rewind/dom"
	"github.com/xraph/rewind/event"
)

// Point is a position in page coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Integrity reasons reported by ReplayIntegrityError.
const (
	IntegrityMissingSnapshot = "missing_snapshot"
	IntegrityBrokenReference = "broken_reference"
	IntegrityBadSnapshot     = "bad_snapshot"
)

// ReplayIntegrityError describes an event the player could not apply
// faithfully. Playback continues past it.
type ReplayIntegrityError struct {
	Index     int
	Timestamp int64
	Reason    string
	Err       error
}

func (e *ReplayIntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("replay: event %d at %dms: %s: %v", e.Index, e.Timestamp, e.Reason, e.Err)
	}
	return fmt.Sprintf("replay: event %d at %dms: %s", e.Index, e.Timestamp, e.Reason)
}

func (e *ReplayIntegrityError) Unwrap() error { return e.Err }

// Frame is the reconstructed page at one instant.
type Frame struct {
	At       time.Duration
	URL      string
	Tree     *dom.Tree
	Viewport event.Size
	Pointer  Point
	// PointerSeen is false until the first pointer event.
	PointerSeen   bool
	Scroll        Point
	ScrollPercent float64
	// HasSnapshot is false while the current page has no snapshot yet.
	HasSnapshot bool
	// Degraded is true when events on the current page could not be
	// applied because the snapshot was missing or unreadable.
	Degraded         bool
	SkippedMutations int
	Issues           []*ReplayIntegrityError
}

// Hash digests everything visible in the frame.
func (f *Frame) Hash() uint64 {
	d := xxhash.New()
	var buf [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = d.Write(buf[:])
	}
	put(f.Tree.Hash())
	_, _ = d.WriteString(f.URL)
	put(uint64(f.Viewport.Width))
	put(uint64(f.Viewport.Height))
	put(math.Float64bits(f.Pointer.X))
	put(math.Float64bits(f.Pointer.Y))
	put(math.Float64bits(f.Scroll.X))
	put(math.Float64bits(f.Scroll.Y))
	if f.Degraded {
		put(1)
	} else {
		put(0)
	}
	return d.Sum64()
}

const maxIssues = 32

// pageState is everything needed to render a frame, folded from events.
type pageState struct {
	tree        *dom.Tree
	url         string
	viewport    event.Size
	pointer     Point
	pointerSeen bool
	lastMove    *event.Event
	scroll      Point
	scrollPct   float64
	hasSnapshot bool
	degraded    bool
	skipped     int
	unknown     int
	issues      []*ReplayIntegrityError

	// log is set only on the indexing pass so each problem is reported
	// once, not on every seek.
	log *slog.Logger
}

func newPageState() *pageState {
	return &pageState{tree: dom.Blank()}
}

func (s *pageState) clone() *pageState {
	c := *s
	c.tree = s.tree.Clone()
	c.log = nil
	c.issues = append([]*ReplayIntegrityError(nil), s.issues...)
	return &c
}

func (s *pageState) issue(idx int, e *event.Event, reason string, err error) {
	if len(s.issues) == maxIssues {
		s.issues = s.issues[1:]
	}
	ie := &ReplayIntegrityError{Index: idx, Timestamp: e.Timestamp, Reason: reason, Err: err}
	s.issues = append(s.issues, ie)
	if s.log != nil {
		s.log.Warn("replay degraded",
			"index", idx,
			"ts", e.Timestamp,
			"type", e.Type.String(),
			"reason", reason,
			"error", err,
		)
	}
}

// apply folds event idx into the state. It never fails: problems are
// recorded as issues and the event is skipped.
func (s *pageState) apply(idx int, e *event.Event) {
	if e.URL != "" && e.Type != event.TypePageNavigation {
		s.url = e.URL
	}

	switch p := e.Data.(type) {
	case event.SessionStart:
		if p.Viewport.Width > 0 {
			s.viewport = p.Viewport
		}
	case event.DomSnapshot:
		tree, err := dom.NewTree(p.Root)
		if err != nil {
			s.tree = dom.Blank()
			s.hasSnapshot = false
			s.degraded = true
			s.issue(idx, e, IntegrityBadSnapshot, err)
			return
		}
		s.tree = tree
		s.hasSnapshot = true
		s.degraded = false
		s.scroll = Point{X: p.ScrollX, Y: p.ScrollY}
	case event.DomMutation:
		if !s.hasSnapshot {
			s.skipped += len(p.Ops)
			if !s.degraded {
				s.issue(idx, e, IntegrityMissingSnapshot, nil)
			}
			s.degraded = true
			return
		}
		for _, op := range p.Ops {
			if err := s.tree.Apply(op); err != nil {
				s.skipped++
				s.issue(idx, e, IntegrityBrokenReference, err)
			}
		}
	case event.MouseMove:
		s.lastMove = e
		s.pointerSeen = true
	case event.MouseClick:
		s.pointer = Point{X: p.X, Y: p.Y}
		s.pointerSeen = true
		s.lastMove = nil
	case event.Scroll:
		if p.NodeID == 0 {
			s.scroll = Point{X: p.X, Y: p.Y}
			s.scrollPct = p.Percent
		}
	case event.Input:
		if p.NodeID != 0 && s.hasSnapshot {
			val := p.Value
			if p.Masked {
				val = "••••"
			}
			// Inputs on nodes the mirror never saw are not worth an issue.
			_ = s.tree.Apply(dom.Mutation{Op: dom.OpAttr, ID: p.NodeID, Name: "value", Value: val})
		}
	case event.Resize:
		s.viewport = event.Size{Width: p.Width, Height: p.Height}
	case event.PageNavigation:
		s.url = p.To
		s.tree = dom.Blank()
		s.hasSnapshot = false
		s.degraded = false
		s.scroll = Point{}
		s.scrollPct = 0
	case event.Unrecognized:
		s.unknown++
	}
}

// frame renders the state at position pos. The frame owns its tree.
func (s *pageState) frame(pos time.Duration) *Frame {
	f := &Frame{
		At:               pos,
		URL:              s.url,
		Tree:             s.tree.Clone(),
		Viewport:         s.viewport,
		Pointer:          s.pointer,
		PointerSeen:      s.pointerSeen,
		Scroll:           s.scroll,
		ScrollPercent:    s.scrollPct,
		HasSnapshot:      s.hasSnapshot,
		Degraded:         s.degraded,
		SkippedMutations: s.skipped,
		Issues:           append([]*ReplayIntegrityError(nil), s.issues...),
	}
	if s.lastMove != nil {
		if mm, ok := s.lastMove.Data.(event.MouseMove); ok {
			limit := pos.Milliseconds()
			for _, p := range mm.Positions {
				if s.lastMove.Timestamp+p.Offset > limit {
					break
				}
				f.Pointer = Point{X: p.X, Y: p.Y}
			}
		}
	}
	return f
}
