package event

import (
	"cmp"
	"slices"
)

// Compare orders events by timestamp, breaking ties by ingestion sequence.
// This is the stable total order every reader observes.
func Compare(a, b *Event) int {
	if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}

// Sort orders events in place by (timestamp, seq). Events that compare equal
// keep their relative order.
func Sort(events []*Event) {
	slices.SortStableFunc(events, Compare)
}

// Sorted returns a sorted copy of events.
func Sorted(events []*Event) []*Event {
	out := slices.Clone(events)
	Sort(out)
	return out
}

// IsSorted reports whether events are already in (timestamp, seq) order.
func IsSorted(events []*Event) bool {
	return slices.IsSortedFunc(events, Compare)
}

// Filter returns the events whose type is one of types, preserving order.
func Filter(events []*Event, types ...Type) []*Event {
	out := make([]*Event, 0, len(events))
	for _, e := range events {
		if slices.Contains(types, e.Type) {
			out = append(out, e)
		}
	}
	return out
}

// Apply returns the events matching opts, honouring opts.Limit. The input
// must already be sorted.
func Apply(events []*Event, opts ListOpts) []*Event {
	out := make([]*Event, 0, len(events))
	for _, e := range events {
		if !opts.Match(e) {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out
}
