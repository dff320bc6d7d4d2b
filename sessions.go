package rewind

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/player"
	"github.com/xraph/rewind/quarantine"
	"github.com/xraph/rewind/scope"
	"github.com/xraph/rewind/session"
	"github.com/xraph/rewind/signal"
)

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// CloseSession fixes a session's end time. Closing a closed session is a
// no-op. Closed sessions still accept late batches.
func (r *Rewind) CloseSession(ctx context.Context, sessionID id.ID) (*session.Session, error) {
	unlock := r.locks.Lock(sessionID.String())
	defer unlock()

	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Closed() {
		return sess, nil
	}
	sess.Close(r.now())
	if err := r.store.UpdateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("rewind: close session: %w", err)
	}
	if r.metrics != nil {
		r.metrics.SessionsClosed.WithLabelValues("explicit").Inc()
	}
	r.logger.DebugContext(ctx, "session closed", "session_id", sessionID)
	return sess, nil
}

// closeIdle closes a session the reaper found idle, unless a batch arrived
// since it was listed.
func (r *Rewind) closeIdle(ctx context.Context, sessionID id.ID, cutoff time.Time) (bool, error) {
	unlock := r.locks.Lock(sessionID.String())
	defer unlock()

	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if sess.Closed() || !sess.LastSeenAt.Before(cutoff) {
		return false, nil
	}
	sess.Close(sess.LastSeenAt)
	if err := r.store.UpdateSession(ctx, sess); err != nil {
		return false, err
	}
	r.limiter.Reset(sessionID.String())
	if r.metrics != nil {
		r.metrics.SessionsClosed.WithLabelValues("idle").Inc()
	}
	return true, nil
}

// PurgeSessions deletes a project's sessions that started before the
// threshold, together with their events. It returns the number removed.
func (r *Rewind) PurgeSessions(ctx context.Context, projectID id.ID, before time.Time) (int, error) {
	const page = 100
	purged := 0
	for {
		batch, err := r.store.ListSessions(ctx, session.ListOpts{
			ProjectID: projectID,
			To:        &before,
			Limit:     page,
		})
		if err != nil {
			return purged, fmt.Errorf("rewind: purge sessions: %w", err)
		}
		removed := 0
		for _, s := range batch {
			if !s.StartedAt.Before(before) {
				continue
			}
			if err := r.deleteSession(ctx, s.ID); err != nil {
				return purged, err
			}
			removed++
		}
		purged += removed
		if len(batch) < page || removed == 0 {
			break
		}
	}
	if purged > 0 {
		r.logger.InfoContext(ctx, "sessions purged",
			"project_id", projectID,
			"before", before,
			"count", purged,
		)
	}
	return purged, nil
}

func (r *Rewind) deleteSession(ctx context.Context, sessionID id.ID) error {
	unlock := r.locks.Lock(sessionID.String())
	defer unlock()

	if err := r.store.DeleteEvents(ctx, sessionID); err != nil {
		return fmt.Errorf("rewind: delete events %s: %w", sessionID, err)
	}
	if err := r.store.DeleteSession(ctx, sessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("rewind: delete session %s: %w", sessionID, err)
	}
	r.limiter.Reset(sessionID.String())
	return nil
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// Session returns a session's metadata and summary.
func (r *Rewind) Session(ctx context.Context, sessionID id.ID) (*session.Session, error) {
	return r.store.GetSession(ctx, sessionID)
}

// ListSessions returns sessions newest first. A project scoped on ctx is
// the default project filter.
func (r *Rewind) ListSessions(ctx context.Context, opts session.ListOpts) ([]*session.Session, error) {
	if opts.ProjectID.IsNil() {
		if pid, ok := scope.Project(ctx); ok {
			opts.ProjectID = pid
		}
	}
	return r.store.ListSessions(ctx, opts)
}

// Events reads a session's stream in (timestamp, seq) order from a cursor.
func (r *Rewind) Events(ctx context.Context, sessionID id.ID, opts event.ListOpts) ([]*event.Event, error) {
	if _, err := r.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return r.store.ListEvents(ctx, sessionID, opts)
}

// ReplayData is everything a player needs to reconstruct a session.
type ReplayData struct {
	Session *session.Session `json:"session"`

	// Events are totally ordered by (timestamp, seq).
	Events []*event.Event `json:"events"`

	// Violations lists stream invariants the recording breaks. Playback
	// degrades around them instead of failing.
	Violations []string `json:"violations,omitempty"`
}

// Replay returns a session with its full, ordered event stream.
func (r *Rewind) Replay(ctx context.Context, sessionID id.ID) (*ReplayData, error) {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events, err := r.store.ListEvents(ctx, sessionID, event.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("rewind: replay %s: %w", sessionID, err)
	}
	if !event.IsSorted(events) {
		events = event.Sorted(events)
	}

	data := &ReplayData{Session: sess, Events: events}
	for _, v := range event.Check(events) {
		data.Violations = append(data.Violations, v.String())
	}
	return data, nil
}

// NewPlayer loads a session and returns a player over a private copy of
// its events.
func (r *Rewind) NewPlayer(ctx context.Context, sessionID id.ID, opts player.Options) (*player.Player, error) {
	data, err := r.Replay(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = r.logger.With("session_id", sessionID.String())
	}
	return player.New(data.Events, opts)
}

// ──────────────────────────────────────────────────
// Signals
// ──────────────────────────────────────────────────

// SessionSignals computes rage clicks, scroll milestones and errors for a
// session from its stored events.
func (r *Rewind) SessionSignals(ctx context.Context, sessionID id.ID) (*signal.Report, error) {
	return r.signals.SessionReport(ctx, sessionID)
}

// ProjectSignals aggregates signals across a project's sessions.
func (r *Rewind) ProjectSignals(ctx context.Context, q signal.ProjectQuery) (*signal.ProjectReport, error) {
	if q.ProjectID.IsNil() {
		if pid, ok := scope.Project(ctx); ok {
			q.ProjectID = pid
		}
	}
	return r.signals.ProjectReport(ctx, q)
}

// ErrorGroups lists materialized error groups, most frequent first.
func (r *Rewind) ErrorGroups(ctx context.Context, opts signal.ListOpts) ([]*signal.ErrorGroup, error) {
	if opts.ProjectID.IsNil() {
		if pid, ok := scope.Project(ctx); ok {
			opts.ProjectID = pid
		}
	}
	return r.signals.ListErrorGroups(ctx, opts)
}

// RebuildErrorGroups regenerates a project's error groups from its events.
func (r *Rewind) RebuildErrorGroups(ctx context.Context, projectID id.ID) (int, error) {
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.StartRebuildSpan(ctx, projectID.String())
		defer span.End()
	}
	return r.signals.Rebuild(ctx, projectID)
}

// ──────────────────────────────────────────────────
// Quarantine
// ──────────────────────────────────────────────────

// ReplayQuarantined re-ingests a quarantined event into its session once
// the cause is fixed, for example after its definition was registered.
// The event keeps its original timestamp and receives the next sequence
// number.
func (r *Rewind) ReplayQuarantined(ctx context.Context, entryID id.ID) error {
	return r.quarantine.Replay(ctx, entryID, r.reingest)
}

func (r *Rewind) reingest(ctx context.Context, entry *quarantine.Entry, e *event.Event) error {
	unlock := r.locks.Lock(entry.SessionID.String())
	defer unlock()

	sess, err := r.store.GetSession(ctx, entry.SessionID)
	if err != nil {
		return err
	}

	switch p := e.Data.(type) {
	case event.SessionStart:
		if !sess.Partial {
			return nil
		}
	case event.Custom:
		if err := r.catalog.Validate(ctx, p.Name, p.Properties); err != nil {
			return err
		}
	case event.Identify:
		if err := r.catalog.Validate(ctx, catalog.IdentifyName, p.Traits); err != nil {
			return err
		}
	}

	e.SessionID = sess.ID
	events := []*event.Event{e}
	sess.AssignSeq(events)
	if err := r.store.AppendEvents(ctx, sess.ID, events); err != nil {
		return fmt.Errorf("rewind: reingest: %w", err)
	}
	sess.Fold(events)
	if r.config.InlineSignals {
		r.inlineSignals(ctx, sess, events)
	}
	if err := r.store.UpdateSession(ctx, sess); err != nil {
		return fmt.Errorf("rewind: reingest: %w", err)
	}
	r.publish(ctx, sess.ID, events)
	return nil
}
