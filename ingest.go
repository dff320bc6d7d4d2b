package rewind

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/observability"
	"github.com/xraph/rewind/project"
	"github.com/xraph/rewind/quarantine"
	"github.com/xraph/rewind/scope"
	"github.com/xraph/rewind/session"
	"github.com/xraph/rewind/signal"
	"github.com/xraph/rewind/transport"
)

// IngestResult reports what happened to one uploaded batch.
type IngestResult struct {
	SessionID id.ID `json:"session_id"`
	BatchID   id.ID `json:"batch_id"`

	// Accepted is the number of events appended to the session stream.
	Accepted int `json:"accepted"`

	// Quarantined counts events diverted to quarantine, whether the codec
	// or the catalog refused them.
	Quarantined int `json:"quarantined"`

	// Duplicate is true when the batch id had already been ingested. Nothing
	// was appended and the upload counts as delivered.
	Duplicate bool `json:"duplicate"`

	// DroppedStarts counts repeated SessionStart events that were ignored.
	DroppedStarts int `json:"dropped_starts"`

	// FirstSeq and LastSeq bound the sequence numbers assigned, zero when
	// nothing was accepted.
	FirstSeq int64 `json:"first_seq,omitempty"`
	LastSeq  int64 `json:"last_seq,omitempty"`
}

// IngestRaw decodes a wire batch and ingests it. Events the codec rejects
// are quarantined; the rest of the batch is still accepted.
func (r *Rewind) IngestRaw(ctx context.Context, key string, body []byte) (*IngestResult, error) {
	batch, rejects, err := event.DecodeBatch(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBatch, err)
	}
	return r.ingest(ctx, key, batch, rejects)
}

// Ingest accepts a decoded batch uploaded with the given ingest key.
//
// The critical path:
//  1. Resolve the project and reject when recording is disabled.
//  2. Apply the per-session rate limit.
//  3. Validate the batch envelope.
//  4. Claim the batch id (re-sent batches are a no-op success).
//  5. Under the session lock: load or create the session, drop repeated
//     SessionStart events, check custom events against the catalog,
//     assign sequence numbers, append and fold the summary.
//  6. Materialize inline signals.
//  7. Publish the appended events to the live feed.
func (r *Rewind) Ingest(ctx context.Context, key string, batch *event.Batch) (*IngestResult, error) {
	return r.ingest(ctx, key, batch, nil)
}

func (r *Rewind) ingest(ctx context.Context, key string, batch *event.Batch, rejects []*event.SchemaError) (res *IngestResult, err error) {
	start := r.now()
	outcome := observability.OutcomeRejected
	if r.tracer != nil {
		var bid, sid string
		var n int
		if batch != nil {
			bid, sid, n = batch.ID.String(), batch.SessionID.String(), len(batch.Events)
		}
		var span trace.Span
		ctx, span = r.tracer.StartIngestSpan(ctx, bid, sid, n+len(rejects))
		defer func() {
			if res != nil {
				r.tracer.EndIngestSpan(span, res.Accepted, res.Quarantined, res.Duplicate, err)
				return
			}
			r.tracer.EndIngestSpan(span, 0, 0, false, err)
		}()
	}
	if r.metrics != nil {
		defer func() { r.metrics.RecordBatch(outcome, r.now().Sub(start)) }()
	}

	// 1. Resolve project.
	p, err := r.projects.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if !p.RecordingEnabled {
		outcome = observability.OutcomeDisabled
		return nil, ErrRecordingDisabled
	}
	ctx = scope.WithProject(ctx, p.ID)

	// 3. Validate envelope before spending rate limit tokens on it.
	if verr := validateBatch(batch); verr != nil {
		return nil, verr
	}

	// 2. Rate limit.
	if !r.limiter.AllowN(batch.SessionID.String(), r.rateLimit(p), len(batch.Events)+len(rejects)) {
		outcome = observability.OutcomeLimited
		return nil, ErrRateLimited
	}

	res = &IngestResult{SessionID: batch.SessionID, BatchID: batch.ID}
	origin := quarantine.Origin{ProjectID: p.ID, SessionID: batch.SessionID, BatchID: batch.ID}

	unlock := r.locks.Lock(batch.SessionID.String())
	defer unlock()

	// 4. Claim the batch.
	claimed, err := r.store.ClaimBatch(ctx, batch.SessionID, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("rewind: claim batch: %w", err)
	}
	if !claimed {
		outcome = observability.OutcomeDuplicate
		res.Duplicate = true
		r.logger.DebugContext(ctx, "duplicate batch ignored",
			"session_id", batch.SessionID,
			"batch_id", batch.ID,
		)
		return res, nil
	}

	n, err := r.quarantine.PushSchemaErrors(ctx, origin, rejects)
	if err != nil {
		return nil, err
	}
	res.Quarantined += n
	r.countQuarantined(quarantine.ReasonSchema, n)

	// 5. Append under the session lock.
	sess, created, err := r.loadOrCreateSession(ctx, p, batch.SessionID)
	if err != nil {
		return nil, err
	}

	accepted, err := r.admit(ctx, origin, sess, batch.Events, res)
	if err != nil {
		return nil, err
	}

	if len(accepted) > 0 {
		sess.AssignSeq(accepted)
		if err := r.store.AppendEvents(ctx, sess.ID, accepted); err != nil {
			return nil, fmt.Errorf("rewind: append events: %w", err)
		}
		sess.Fold(accepted)
		res.Accepted = len(accepted)
		res.FirstSeq = accepted[0].Seq
		res.LastSeq = accepted[len(accepted)-1].Seq
	}
	sess.LastSeenAt = r.now()
	sess.Touch()

	// 6. Inline signals.
	if r.config.InlineSignals && len(accepted) > 0 {
		r.inlineSignals(ctx, sess, accepted)
	}

	if batch.Final {
		sess.Close(sess.LastSeenAt)
	}

	if created {
		err = r.store.CreateSession(ctx, sess)
	} else {
		err = r.store.UpdateSession(ctx, sess)
	}
	if err != nil {
		return nil, fmt.Errorf("rewind: save session: %w", err)
	}

	if r.metrics != nil {
		if created {
			r.metrics.SessionsStarted.Inc()
		}
		if batch.Final {
			r.metrics.SessionsClosed.WithLabelValues("final").Inc()
		}
		r.metrics.RecordEvents(countByType(accepted))
	}

	// 7. Publish.
	r.publish(ctx, sess.ID, accepted)

	outcome = observability.OutcomeAccepted
	r.logger.DebugContext(ctx, "batch ingested",
		"session_id", sess.ID,
		"batch_id", batch.ID,
		"accepted", res.Accepted,
		"quarantined", res.Quarantined,
		"dropped_starts", res.DroppedStarts,
	)
	return res, nil
}

func (r *Rewind) rateLimit(p *project.Project) int {
	if p.RateLimit > 0 {
		return p.RateLimit
	}
	return r.config.RateLimit
}

func validateBatch(b *event.Batch) error {
	if b == nil {
		return fmt.Errorf("%w: empty body", ErrInvalidBatch)
	}
	if b.ID.IsNil() {
		return fmt.Errorf("%w: missing batch id", ErrInvalidBatch)
	}
	if b.SessionID.IsNil() {
		return fmt.Errorf("%w: missing session id", ErrInvalidBatch)
	}
	for i, e := range b.Events {
		if e == nil || e.Data == nil {
			return fmt.Errorf("%w: event %d has no payload", ErrInvalidBatch, i)
		}
		if !e.SessionID.IsNil() && e.SessionID != b.SessionID {
			return fmt.Errorf("%w: event %d belongs to session %s", ErrInvalidBatch, i, e.SessionID)
		}
		if e.Timestamp < 0 {
			return fmt.Errorf("%w: event %d has a negative timestamp", ErrInvalidBatch, i)
		}
	}
	return nil
}

// loadOrCreateSession returns the stored session, or a fresh partial one
// when this is its first batch. The caller holds the session lock.
func (r *Rewind) loadOrCreateSession(ctx context.Context, p *project.Project, sessionID id.ID) (*session.Session, bool, error) {
	sess, err := r.store.GetSession(ctx, sessionID)
	switch {
	case err == nil:
		if sess.ProjectID != p.ID {
			return nil, false, fmt.Errorf("%w: session %s belongs to another project", ErrInvalidBatch, sessionID)
		}
		return sess, false, nil
	case errors.Is(err, ErrSessionNotFound):
		return session.New(sessionID, p.ID, r.now()), true, nil
	default:
		return nil, false, fmt.Errorf("rewind: load session: %w", err)
	}
}

// admit filters a batch down to the events that will be appended, in
// batch order. Repeated SessionStart events are dropped and custom or
// identify events refused by the catalog are quarantined.
func (r *Rewind) admit(ctx context.Context, origin quarantine.Origin, sess *session.Session, events []*event.Event, res *IngestResult) ([]*event.Event, error) {
	started := !sess.Partial
	accepted := make([]*event.Event, 0, len(events))
	for i, e := range events {
		e = e.Clone()
		e.SessionID = sess.ID

		switch p := e.Data.(type) {
		case event.SessionStart:
			if started {
				res.DroppedStarts++
				continue
			}
			started = true
		case event.Custom:
			ok, err := r.checkCatalog(ctx, origin, i, e, p.Name, p.Properties)
			if err != nil {
				return nil, err
			}
			if !ok {
				res.Quarantined++
				continue
			}
		case event.Identify:
			ok, err := r.checkCatalog(ctx, origin, i, e, catalog.IdentifyName, p.Traits)
			if err != nil {
				return nil, err
			}
			if !ok {
				res.Quarantined++
				continue
			}
		}
		accepted = append(accepted, e)
	}
	return accepted, nil
}

// checkCatalog validates one event and quarantines it when refused. It
// returns false for quarantined events; the error is for store failures.
func (r *Rewind) checkCatalog(ctx context.Context, origin quarantine.Origin, index int, e *event.Event, name string, props map[string]any) (bool, error) {
	verr := r.catalog.Validate(ctx, name, props)
	if verr == nil {
		return true, nil
	}

	var kind string
	switch {
	case errors.Is(verr, catalog.ErrDeprecated):
		kind = quarantine.ReasonDeprecated
	case errors.Is(verr, catalog.ErrSchemaViolation), errors.Is(verr, catalog.ErrUndefined):
		kind = quarantine.ReasonCatalog
	default:
		return false, fmt.Errorf("rewind: validate %s: %w", name, verr)
	}

	if err := r.quarantine.PushRejected(ctx, origin, index, e, kind, verr); err != nil {
		return false, err
	}
	r.countQuarantined(kind, 1)
	return false, nil
}

// inlineSignals folds error events into the project's groups and flags
// sessions whose clicks form a rage-click cluster. Failures are logged:
// signals can always be rebuilt from the stored events.
func (r *Rewind) inlineSignals(ctx context.Context, sess *session.Session, appended []*event.Event) {
	touched, err := r.signals.Record(ctx, sess, appended)
	if err != nil {
		r.logger.ErrorContext(ctx, "record error groups failed", "session_id", sess.ID, "error", err)
	}
	if r.metrics != nil && len(touched) > 0 {
		r.metrics.ErrorGroupsTouched.Add(float64(len(touched)))
	}

	if sess.HasRageClicks || !hasType(appended, event.TypeMouseClick) {
		return
	}
	clicks, err := r.store.ListEvents(ctx, sess.ID, event.ListOpts{Types: []event.Type{event.TypeMouseClick}})
	if err != nil {
		r.logger.ErrorContext(ctx, "load clicks failed", "session_id", sess.ID, "error", err)
		return
	}
	if len(signal.DetectRageClicks(clicks, r.signals.Config().RageClick)) > 0 {
		sess.HasRageClicks = true
		if r.metrics != nil {
			r.metrics.RageClicksDetected.Inc()
		}
		r.logger.DebugContext(ctx, "rage clicks detected", "session_id", sess.ID)
	}
}

func (r *Rewind) publish(ctx context.Context, sessionID id.ID, events []*event.Event) {
	if r.feed == nil || len(events) == 0 {
		return
	}
	if err := r.feed.Publish(ctx, sessionID, events); err != nil {
		r.logger.WarnContext(ctx, "live feed publish failed", "session_id", sessionID, "error", err)
	}
}

func (r *Rewind) countQuarantined(reason string, n int) {
	if r.metrics != nil {
		r.metrics.RecordQuarantined(reason, n)
	}
}

func countByType(events []*event.Event) map[string]int {
	counts := make(map[string]int)
	for _, e := range events {
		counts[e.Type.String()]++
	}
	return counts
}

func hasType(events []*event.Event, t event.Type) bool {
	for _, e := range events {
		if e.Type == t {
			return true
		}
	}
	return false
}

// HTTPStatus maps an ingestion error to the status an upload client sees.
// The transport retrier relies on it to tell retryable failures apart.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusAccepted
	case errors.Is(err, ErrProjectNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRecordingDisabled):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrInvalidBatch):
		return http.StatusBadRequest
	case errors.Is(err, ErrDuplicateBatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// LocalSender returns a transport sender that ingests batches in-process
// under the given ingest key.
func (r *Rewind) LocalSender(key string) *transport.LocalSender {
	return transport.NewLocalSender(func(ctx context.Context, b *event.Batch) error {
		_, err := r.Ingest(ctx, key, b)
		return err
	}, HTTPStatus)
}
