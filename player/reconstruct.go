package player

import (
	"log/slog"
	"sort"
	"time"

	"github.com/xraph/rewind/event"
)

type checkpoint struct {
	// next is the number of events folded into st.
	next int
	st   *pageState
}

// Reconstructor rebuilds the page at any instant of a sorted stream. It
// folds the whole stream once up front and keeps checkpoints at every
// snapshot and after every CheckpointEvery mutation ops, so a seek replays
// at most one checkpoint interval.
type Reconstructor struct {
	events      []*event.Event
	checkpoints []checkpoint
	final       *pageState

	// snapless holds the index of every page-view start (the first event
	// or a PageNavigation) whose page view never gets a DomSnapshot.
	snapless map[int]struct{}
}

// NewReconstructor indexes events, which must already be sorted and must not
// be modified afterwards. Integrity problems found while indexing are
// logged once each at Warn; a nil logger discards them.
func NewReconstructor(events []*event.Event, every int, logger *slog.Logger) *Reconstructor {
	if every <= 0 {
		every = 200
	}
	r := &Reconstructor{events: events, snapless: snaplessPageViews(events)}

	st := newPageState()
	r.checkpoints = append(r.checkpoints, checkpoint{next: 0, st: st.clone()})
	st.log = logger
	ops := 0
	for i, e := range events {
		r.apply(st, i)
		switch p := e.Data.(type) {
		case event.DomSnapshot:
			r.checkpoints = append(r.checkpoints, checkpoint{next: i + 1, st: st.clone()})
			ops = 0
		case event.DomMutation:
			ops += len(p.Ops)
			if ops >= every {
				r.checkpoints = append(r.checkpoints, checkpoint{next: i + 1, st: st.clone()})
				ops = 0
			}
		}
	}
	r.final = st
	return r
}

// snaplessPageViews finds the page views that never receive a snapshot.
func snaplessPageViews(events []*event.Event) map[int]struct{} {
	out := make(map[int]struct{})
	start, seen := 0, false
	closeView := func(end int) {
		if end > start && !seen {
			out[start] = struct{}{}
		}
	}
	for i, e := range events {
		switch e.Type {
		case event.TypePageNavigation:
			closeView(i)
			start, seen = i, false
		case event.TypeDomSnapshot:
			seen = true
		}
	}
	closeView(len(events))
	return out
}

// apply folds event i into st and flags page views that will never be
// reconstructible.
func (r *Reconstructor) apply(st *pageState, i int) {
	e := r.events[i]
	st.apply(i, e)
	if _, ok := r.snapless[i]; ok {
		st.degraded = true
		st.issue(i, e, IntegrityMissingSnapshot, nil)
	}
}

// Count returns how many events have a timestamp at or before pos.
func (r *Reconstructor) Count(pos time.Duration) int {
	ms := pos.Milliseconds()
	return sort.Search(len(r.events), func(i int) bool {
		return r.events[i].Timestamp > ms
	})
}

// state returns a private state with the first n events folded in.
func (r *Reconstructor) state(n int) *pageState {
	i := sort.Search(len(r.checkpoints), func(i int) bool {
		return r.checkpoints[i].next > n
	}) - 1
	cp := r.checkpoints[i]
	st := cp.st.clone()
	for j := cp.next; j < n; j++ {
		r.apply(st, j)
	}
	return st
}

// FrameAt reconstructs the page as it was at pos. The result depends only on
// pos, never on earlier calls.
func (r *Reconstructor) FrameAt(pos time.Duration) *Frame {
	return r.state(r.Count(pos)).frame(pos)
}

// Checkpoints returns the number of memoized restore points.
func (r *Reconstructor) Checkpoints() int { return len(r.checkpoints) }

// SkippedMutations returns how many mutation ops the whole stream skips.
func (r *Reconstructor) SkippedMutations() int { return r.final.skipped }

// Issues returns the most recent integrity problems found in the stream.
func (r *Reconstructor) Issues() []*ReplayIntegrityError {
	return append([]*ReplayIntegrityError(nil), r.final.issues...)
}

// Unrecognized returns how many events carry unknown type codes.
func (r *Reconstructor) Unrecognized() int { return r.final.unknown }
