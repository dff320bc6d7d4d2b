package player

import (
	"log/slog"
	"time"

	"github.com/xraph/rewind/event"
)

// Options configures a Player.
type Options struct {
	// Speed multiplies the playback cadence. It must be positive.
	Speed float64

	// SkipInactivity compresses idle spans longer than InactivityThreshold
	// to SkippedGap of playback time.
	SkipInactivity      bool
	InactivityThreshold time.Duration
	SkippedGap          time.Duration

	// CheckpointEvery is the number of mutation ops between memoized
	// reconstruction checkpoints.
	CheckpointEvery int

	// FrameInterval is the tick period used by Run.
	FrameInterval time.Duration

	Clock  Clock
	Logger *slog.Logger

	// OnEvent is called, outside the player's lock, for every event crossed
	// during playback. Seeks do not fire events.
	OnEvent func(*event.Event)

	// OnState is called, outside the player's lock, on every transition.
	OnState func(from, to State)
}

// DefaultOptions returns 1x playback with inactivity skipping enabled.
func DefaultOptions() Options {
	return Options{
		Speed:               1,
		SkipInactivity:      true,
		InactivityThreshold: 5 * time.Second,
		SkippedGap:          time.Second,
		CheckpointEvery:     200,
		FrameInterval:       16 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Speed <= 0 {
		o.Speed = d.Speed
	}
	if o.InactivityThreshold <= 0 {
		o.InactivityThreshold = d.InactivityThreshold
	}
	if o.SkippedGap <= 0 {
		o.SkippedGap = d.SkippedGap
	}
	if o.CheckpointEvery <= 0 {
		o.CheckpointEvery = d.CheckpointEvery
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = d.FrameInterval
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// FeedFilter selects which events a replay feed shows.
type FeedFilter func(*event.Event) bool

// DefaultFeedFilter hides high-frequency and structural events.
func DefaultFeedFilter(e *event.Event) bool {
	switch e.Type {
	case event.TypeMouseMove, event.TypeResize, event.TypeDomMutation, event.TypeDomSnapshot, event.TypeUnrecognized:
		return false
	default:
		return true
	}
}

// TypesFilter shows only the given types.
func TypesFilter(types ...event.Type) FeedFilter {
	return func(e *event.Event) bool {
		for _, t := range types {
			if e.Type == t {
				return true
			}
		}
		return false
	}
}
