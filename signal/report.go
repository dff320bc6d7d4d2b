package signal

import (
	"cmp"
	"slices"
	"time"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
)

// Report bundles every signal derived from one session.
type Report struct {
	SessionID  id.ID              `json:"session_id"`
	RageClicks []RageClickCluster `json:"rage_clicks"`
	Milestones []ScrollMilestone  `json:"scroll_milestones"`
	Depths     []PageDepth        `json:"scroll_depths"`
	Errors     []*ErrorGroup      `json:"errors"`
}

// Analyze runs every detector over a session's events. start anchors error
// timestamps on the wall clock.
func Analyze(sessionID, projectID id.ID, start time.Time, events []*event.Event, cfg Config) *Report {
	cfg = cfg.withDefaults()
	sorted := sortedCopy(events)
	return &Report{
		SessionID:  sessionID,
		RageClicks: DetectRageClicks(sorted, cfg.RageClick),
		Milestones: ScrollMilestones(sorted, cfg.ScrollThresholds),
		Depths:     ScrollDepths(sorted),
		Errors:     GroupErrors(projectID, Occurrences(sessionID, start, sorted)),
	}
}

// RageClickEvents returns the detected clusters as RageClick events, ready
// to merge into a replay feed.
func (r *Report) RageClickEvents() []*event.Event {
	out := make([]*event.Event, 0, len(r.RageClicks))
	for _, c := range r.RageClicks {
		out = append(out, c.Event())
	}
	return out
}

func sortedCopy(events []*event.Event) []*event.Event {
	if event.IsSorted(events) {
		return events
	}
	return event.Sorted(events)
}

func sortClusters(cs []RageClickCluster) {
	slices.SortStableFunc(cs, func(a, b RageClickCluster) int {
		return cmp.Compare(a.StartMs, b.StartMs)
	})
}
