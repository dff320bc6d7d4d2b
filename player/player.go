// Package player replays a recorded session deterministically: it rebuilds
// the page at any instant from snapshots and mutations, and drives a
// play/pause/seek state machine against an injectable clock.
package player

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/xraph/rewind/event"
)

var (
	// ErrNoEvents is returned when a player is built over an empty stream.
	ErrNoEvents = errors.New("player: no events")

	// ErrInvalidSpeed is returned for non-positive or non-finite speeds.
	ErrInvalidSpeed = errors.New("player: speed must be positive")

	// ErrRunning is returned when Run is called on a running player.
	ErrRunning = errors.New("player: already running")
)

// State is a playback state.
type State int

const (
	Idle State = iota
	Playing
	Paused
	Seeking
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Seeking:
		return "seeking"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Stats reports replay integrity counters.
type Stats struct {
	Events           int
	SkippedMutations int
	Unrecognized     int
	Checkpoints      int
	Issues           int
}

type transition struct{ from, to State }

// Player owns an immutable copy of a session's events. All methods are safe
// for concurrent use.
type Player struct {
	opts     Options
	events   []*event.Event
	recon    *Reconstructor
	skipping *Timeline
	linear   *Timeline

	mu         sync.Mutex
	state      State
	pos        time.Duration
	anchorWall time.Time
	anchorPlay time.Duration
	cur        *pageState
	next       int

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a player over a private, sorted copy of events.
func New(events []*event.Event, opts Options) (*Player, error) {
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	opts = opts.withDefaults()

	own := make([]*event.Event, len(events))
	for i, e := range events {
		own[i] = e.Clone()
	}
	event.Sort(own)

	p := &Player{
		opts:     opts,
		events:   own,
		recon:    NewReconstructor(own, opts.CheckpointEvery, opts.Logger),
		skipping: NewTimeline(own, opts.InactivityThreshold, opts.SkippedGap),
		linear:   NewTimeline(own, 0, 0),
		state:    Idle,
	}
	p.cur = p.recon.state(0)
	return p, nil
}

// State returns the current playback state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Duration returns the session length.
func (p *Player) Duration() time.Duration { return p.linear.Duration() }

// Timeline returns the active session/playback time mapping.
func (p *Player) Timeline() *Timeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeline()
}

func (p *Player) timeline() *Timeline {
	if p.opts.SkipInactivity {
		return p.skipping
	}
	return p.linear
}

// Speed returns the current speed multiplier.
func (p *Player) Speed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opts.Speed
}

// Elapsed returns the current position in session time.
func (p *Player) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Playing {
		return p.livePos()
	}
	return p.pos
}

// livePos computes the playing position from the wall clock.
// Callers hold p.mu.
func (p *Player) livePos() time.Duration {
	wall := p.opts.Clock.Now().Sub(p.anchorWall)
	if wall <= 0 {
		return p.pos
	}
	play := p.anchorPlay + time.Duration(float64(wall)*p.opts.Speed)
	return min(p.timeline().ToSession(play), p.Duration())
}

// reanchor pins the current position to the current wall time.
// Callers hold p.mu.
func (p *Player) reanchor() {
	p.anchorWall = p.opts.Clock.Now()
	p.anchorPlay = p.timeline().ToPlayback(p.pos)
}

// Play starts or resumes playback. Playing from Ended restarts at zero.
func (p *Player) Play() {
	p.mu.Lock()
	ts := p.play()
	p.mu.Unlock()
	p.notify(ts, nil)
}

// Pause freezes playback at the current position.
func (p *Player) Pause() {
	p.mu.Lock()
	fired, ts := p.pause()
	p.mu.Unlock()
	p.notify(ts, fired)
}

// Toggle pauses when playing and plays otherwise. The paused position is
// kept exactly, so resuming continues from the same instant.
func (p *Player) Toggle() {
	p.mu.Lock()
	var fired []*event.Event
	var ts []transition
	if p.state == Playing {
		fired, ts = p.pause()
	} else {
		ts = p.play()
	}
	p.mu.Unlock()
	p.notify(ts, fired)
}

// play and pause are called with p.mu held.
func (p *Player) play() []transition {
	switch p.state {
	case Idle, Paused:
	case Ended:
		// Restart before the first event so the t=0 events fire again.
		p.cur = p.recon.state(0)
		p.next = 0
		p.pos = 0
	default:
		return nil
	}
	ts := []transition{p.set(Playing)}
	p.reanchor()
	return ts
}

func (p *Player) pause() ([]*event.Event, []transition) {
	if p.state != Playing {
		return nil, nil
	}
	fired, ts := p.advance(p.livePos())
	if p.state == Playing {
		ts = append(ts, p.set(Paused))
	}
	return fired, ts
}

// SeekTo jumps to t, clamped to [0, Duration]. The player passes through
// Seeking and returns to the state it was in, except that seeking to the end
// while playing ends playback and seeking back from Ended pauses.
func (p *Player) SeekTo(t time.Duration) {
	t = max(0, min(t, p.Duration()))

	p.mu.Lock()
	prev := p.state
	ts := []transition{p.set(Seeking)}
	p.rebuild(t)

	to := prev
	switch {
	case prev == Playing && t >= p.Duration():
		to = Ended
	case prev == Ended && t < p.Duration():
		to = Paused
	}
	ts = append(ts, p.set(to))
	if to == Playing {
		p.reanchor()
	}
	p.mu.Unlock()
	p.notify(ts, nil)
}

// SeekBy moves the position by delta relative to the current position.
func (p *Player) SeekBy(delta time.Duration) {
	p.SeekTo(p.Elapsed() + delta)
}

// SetSpeed changes the playback cadence without moving the position.
func (p *Player) SetSpeed(m float64) error {
	if m <= 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		return ErrInvalidSpeed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Playing {
		p.pos = p.livePos()
	}
	p.opts.Speed = m
	if p.state == Playing {
		p.reanchor()
	}
	return nil
}

// SetSkipInactivity toggles idle-span compression without moving the
// position.
func (p *Player) SetSkipInactivity(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Playing {
		p.pos = p.livePos()
	}
	p.opts.SkipInactivity = on
	if p.state == Playing {
		p.reanchor()
	}
}

// Tick advances a playing player to the current clock time, firing crossed
// events in order. It is a no-op in any other state.
func (p *Player) Tick() {
	p.mu.Lock()
	var fired []*event.Event
	var ts []transition
	if p.state == Playing {
		fired, ts = p.advance(p.livePos())
	}
	p.mu.Unlock()
	p.notify(ts, fired)
}

// advance folds events up to target and ends playback at the end of the
// stream. Callers hold p.mu.
func (p *Player) advance(target time.Duration) ([]*event.Event, []transition) {
	n := p.recon.Count(target)
	fired := p.events[p.next:n]
	for i := p.next; i < n; i++ {
		p.recon.apply(p.cur, i)
	}
	p.next = n
	p.pos = target

	var ts []transition
	if target >= p.Duration() {
		p.pos = p.Duration()
		ts = append(ts, p.set(Ended))
	}
	return fired, ts
}

// rebuild replaces the live state with a reconstruction at t.
// Callers hold p.mu.
func (p *Player) rebuild(t time.Duration) {
	n := p.recon.Count(t)
	p.cur = p.recon.state(n)
	p.next = n
	p.pos = t
}

func (p *Player) set(to State) transition {
	from := p.state
	p.state = to
	return transition{from, to}
}

func (p *Player) notify(ts []transition, fired []*event.Event) {
	if p.opts.OnEvent != nil {
		for _, e := range fired {
			p.opts.OnEvent(e)
		}
	}
	if p.opts.OnState != nil {
		for _, t := range ts {
			if t.from != t.to {
				p.opts.OnState(t.from, t.to)
			}
		}
	}
}

// Frame renders the page at the current position.
func (p *Player) Frame() *Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur.frame(p.pos)
}

// FrameAt reconstructs the page at t without changing the player's state.
func (p *Player) FrameAt(t time.Duration) *Frame {
	return p.recon.FrameAt(max(0, min(t, p.Duration())))
}

// Feed returns the events a feed should show, in order.
func (p *Player) Feed(filter FeedFilter) []*event.Event {
	if filter == nil {
		filter = DefaultFeedFilter
	}
	out := make([]*event.Event, 0, len(p.events))
	for _, e := range p.events {
		if filter(e) {
			out = append(out, e)
		}
	}
	return out
}

// Events returns the player's private stream. Callers must not modify it.
func (p *Player) Events() []*event.Event { return slices.Clip(p.events) }

// Stats returns integrity counters for the whole stream.
func (p *Player) Stats() Stats {
	return Stats{
		Events:           len(p.events),
		SkippedMutations: p.recon.SkippedMutations(),
		Unrecognized:     p.recon.Unrecognized(),
		Checkpoints:      p.recon.Checkpoints(),
		Issues:           len(p.recon.Issues()),
	}
}

// Run drives Tick from a ticker until Stop is called, ctx ends, or playback
// ends. It returns immediately.
func (p *Player) Run(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.done != nil {
		select {
		case <-p.done:
			p.cancel()
			p.cancel, p.done = nil, nil
		default:
			return ErrRunning
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	ticker := p.opts.Clock.NewTicker(p.opts.FrameInterval)

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				p.Tick()
				if p.State() == Ended {
					return
				}
			}
		}
	}()
	return nil
}

// Stop pauses playback and waits for the Run goroutine to exit. After Stop
// returns no timer fires and no callback runs on the player's behalf.
func (p *Player) Stop() {
	p.Pause()

	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.runMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
