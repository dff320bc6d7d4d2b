package player

import (
	"time"

	"github.com/xraph/rewind/event"
)

// Gap is an idle span of session time compressed during playback.
type Gap struct {
	From time.Duration `json:"from"`
	To   time.Duration `json:"to"`
}

// Len returns the session-time length of the gap.
func (g Gap) Len() time.Duration { return g.To - g.From }

// Timeline maps session time to playback time. Idle spans longer than the
// inactivity threshold play back in a fixed short interval; everything else
// plays at its recorded pace. The mapping is monotonic, so event order is
// unchanged.
type Timeline struct {
	gaps     []Gap
	keep     time.Duration
	duration time.Duration
}

// NewTimeline finds idle spans longer than threshold between consecutive
// events of a sorted stream and compresses each to keep.
func NewTimeline(events []*event.Event, threshold, keep time.Duration) *Timeline {
	keep = min(keep, threshold)
	t := &Timeline{keep: keep}
	if len(events) == 0 {
		return t
	}
	t.duration = at(events[len(events)-1])
	if threshold <= 0 {
		return t
	}
	for i := 1; i < len(events); i++ {
		a, b := at(events[i-1]), at(events[i])
		if b-a > threshold {
			t.gaps = append(t.gaps, Gap{From: a, To: b})
		}
	}
	return t
}

// Gaps returns the compressed spans in order.
func (t *Timeline) Gaps() []Gap { return t.gaps }

// Duration returns the session-time length.
func (t *Timeline) Duration() time.Duration { return t.duration }

// PlaybackDuration returns how long the whole session takes to play at 1x.
func (t *Timeline) PlaybackDuration() time.Duration {
	return t.ToPlayback(t.duration)
}

// ToPlayback converts a session-time position to playback time.
func (t *Timeline) ToPlayback(s time.Duration) time.Duration {
	p := s
	for _, g := range t.gaps {
		if s >= g.To {
			p -= g.Len() - t.keep
			continue
		}
		if s > g.From {
			into := s - g.From
			p -= into - scale(into, t.keep, g.Len())
		}
		break
	}
	return p
}

// ToSession converts a playback-time position to session time.
func (t *Timeline) ToSession(p time.Duration) time.Duration {
	var removed time.Duration
	for _, g := range t.gaps {
		pFrom := g.From - removed
		if p <= pFrom {
			break
		}
		pTo := pFrom + t.keep
		if p >= pTo {
			removed += g.Len() - t.keep
			continue
		}
		return g.From + scale(p-pFrom, g.Len(), t.keep)
	}
	return p + removed
}

// scale returns x*num/den without overflowing for long sessions.
func scale(x, num, den time.Duration) time.Duration {
	if den == 0 {
		return 0
	}
	return time.Duration(float64(x) * float64(num) / float64(den))
}

func at(e *event.Event) time.Duration {
	return time.Duration(e.Timestamp) * time.Millisecond
}
