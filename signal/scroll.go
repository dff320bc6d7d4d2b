package signal

import (
	"slices"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
)

// ScrollMilestone records the first time a page view reached a depth.
type ScrollMilestone struct {
	SessionID   id.ID   `json:"session_id"`
	URL         string  `json:"url"`
	PageView    int     `json:"page_view"`
	Threshold   float64 `json:"threshold"`
	ReachedAtMs int64   `json:"reached_at_ms"`
}

// PageDepth is the deepest document scroll of one page view.
type PageDepth struct {
	SessionID  id.ID   `json:"session_id"`
	URL        string  `json:"url"`
	PageView   int     `json:"page_view"`
	MaxPercent float64 `json:"max_percent"`
}

// ScrollMilestones reports, for every page view, each threshold the document
// scroll depth reached, at most once and in the order they were reached.
// Scrolling back up never retracts a milestone. Page views are delimited by
// PageNavigation events; element scrolls are ignored.
func ScrollMilestones(events []*event.Event, thresholds []float64) []ScrollMilestone {
	if len(thresholds) == 0 {
		thresholds = DefaultScrollThresholds
	}
	thresholds = slices.Sorted(slices.Values(thresholds))

	var out []ScrollMilestone
	view := 0
	next := 0
	for _, e := range sortedCopy(events) {
		switch p := e.Data.(type) {
		case event.PageNavigation:
			view++
			next = 0
		case event.Scroll:
			if p.NodeID != 0 {
				continue
			}
			for next < len(thresholds) && p.Percent >= thresholds[next] {
				out = append(out, ScrollMilestone{
					SessionID:   e.SessionID,
					URL:         e.URL,
					PageView:    view,
					Threshold:   thresholds[next],
					ReachedAtMs: e.Timestamp,
				})
				next++
			}
		}
	}
	return out
}

// ScrollDepths returns the maximum document scroll depth of each page view
// that scrolled at all.
func ScrollDepths(events []*event.Event) []PageDepth {
	var out []PageDepth
	view := 0
	cur := -1
	for _, e := range sortedCopy(events) {
		switch p := e.Data.(type) {
		case event.PageNavigation:
			view++
			cur = -1
		case event.Scroll:
			if p.NodeID != 0 {
				continue
			}
			if cur < 0 {
				out = append(out, PageDepth{SessionID: e.SessionID, URL: e.URL, PageView: view})
				cur = len(out) - 1
			}
			out[cur].MaxPercent = max(out[cur].MaxPercent, p.Percent)
		}
	}
	return out
}
