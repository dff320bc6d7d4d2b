package recorder

import (
	"log/slog"
	"time"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
)

// Config tunes what the recorder captures.
type Config struct {
	// SessionID is stamped on every event. A new id is generated on Start
	// when it is nil.
	SessionID id.ID

	// ConsentRequired defers all capture until GrantConsent.
	ConsentRequired bool

	// MouseSampleInterval is both the minimum spacing between retained
	// pointer samples and the span one MouseMove event covers.
	MouseSampleInterval time.Duration

	// MouseWindow bounds how long samples coalesce before a MouseMove is
	// emitted.
	MouseWindow time.Duration

	// MutationChunkSize caps the ops carried by one DomMutation event.
	MutationChunkSize int

	// MaskAllInputs masks every input value.
	MaskAllInputs bool

	// MaskSelectors masks inputs matching any entry, either as a simple
	// selector ("input.card", "[data-private]") or as a glob over the
	// built selector ("form#pay > *").
	MaskSelectors []string

	// MaxTextLength truncates click text excerpts and console arguments.
	MaxTextLength int
}

// DefaultConfig returns the capture defaults.
func DefaultConfig() Config {
	return Config{
		MouseSampleInterval: 50 * time.Millisecond,
		MouseWindow:         500 * time.Millisecond,
		MutationChunkSize:   100,
		MaxTextLength:       120,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MouseSampleInterval <= 0 {
		c.MouseSampleInterval = d.MouseSampleInterval
	}
	if c.MouseWindow <= 0 {
		c.MouseWindow = d.MouseWindow
	}
	if c.MutationChunkSize <= 0 {
		c.MutationChunkSize = d.MutationChunkSize
	}
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = d.MaxTextLength
	}
	return c
}

// Sink receives captured events in capture order. *transport.Batcher
// implements it.
type Sink interface {
	Enqueue(e *event.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e *event.Event)

// Enqueue calls f(e).
func (f SinkFunc) Enqueue(e *event.Event) { f(e) }

// Clock supplies capture time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock sets the capture clock.
func WithClock(c Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

// WithLogger sets the logger used for capture errors.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// StartInfo is the host context recorded in SessionStart.
type StartInfo struct {
	URL   string
	Title string
	event.SessionStart
}
