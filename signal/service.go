package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/internal/entity"
	"github.com/xraph/rewind/internal/keylock"
	"github.com/xraph/rewind/session"
)

const sessionPage = 200

// Service materializes and serves derived signals.
type Service struct {
	store    Store
	sessions session.Store
	events   event.Store
	cfg      Config
	locks    *keylock.Map
	logger   *slog.Logger
}

// NewService creates a signal service.
func NewService(store Store, sessions session.Store, events event.Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		sessions: sessions,
		events:   events,
		cfg:      cfg.withDefaults(),
		locks:    keylock.New(),
		logger:   logger,
	}
}

// Config returns the effective detector thresholds.
func (svc *Service) Config() Config { return svc.cfg }

// Record folds the error events of a freshly appended batch into the
// project's materialized groups and returns the groups it touched.
func (svc *Service) Record(ctx context.Context, sess *session.Session, events []*event.Event) ([]*ErrorGroup, error) {
	fresh := GroupErrors(sess.ProjectID, Occurrences(sess.ID, sess.StartedAt, events))
	touched := make([]*ErrorGroup, 0, len(fresh))
	for _, g := range fresh {
		merged, err := svc.upsert(ctx, g)
		if err != nil {
			return touched, err
		}
		touched = append(touched, merged)
	}
	return touched, nil
}

func (svc *Service) upsert(ctx context.Context, g *ErrorGroup) (*ErrorGroup, error) {
	unlock := svc.locks.Lock(g.ProjectID.String() + "/" + g.Fingerprint)
	defer unlock()

	existing, err := svc.store.GetErrorGroupByFingerprint(ctx, g.ProjectID, g.Fingerprint)
	switch {
	case err == nil:
		existing.Merge(g)
		existing.Touch()
		g = existing
	case errors.Is(err, ErrGroupNotFound):
		g.Entity = entity.New()
		g.ID = id.NewErrorGroupID()
	default:
		return nil, fmt.Errorf("signal: load group %s: %w", g.Fingerprint, err)
	}

	if err := svc.store.UpsertErrorGroup(ctx, g); err != nil {
		return nil, fmt.Errorf("signal: save group %s: %w", g.Fingerprint, err)
	}
	return g, nil
}

// SessionReport computes every signal for one session from its stored events.
func (svc *Service) SessionReport(ctx context.Context, sessionID id.ID) (*Report, error) {
	sess, err := svc.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events, err := svc.events.ListEvents(ctx, sessionID, event.ListOpts{})
	if err != nil {
		return nil, err
	}
	return Analyze(sess.ID, sess.ProjectID, sess.StartedAt, events, svc.cfg), nil
}

// ProjectQuery selects the sessions aggregated by ProjectReport.
type ProjectQuery struct {
	ProjectID id.ID
	From      *time.Time
	To        *time.Time
	// MaxSessions bounds the scan. Zero means every matching session.
	MaxSessions int
}

// ThresholdReach counts page views that reached a scroll depth.
type ThresholdReach struct {
	Threshold float64 `json:"threshold"`
	PageViews int     `json:"page_views"`
}

// ProjectReport aggregates signals across a project's sessions.
type ProjectReport struct {
	ProjectID  id.ID              `json:"project_id"`
	Sessions   int                `json:"sessions"`
	PageViews  int                `json:"page_views"`
	RageClicks []RageClickCluster `json:"rage_clicks"`
	Milestones []ScrollMilestone  `json:"scroll_milestones"`
	Reach      []ThresholdReach   `json:"scroll_reach"`
	Errors     []*ErrorGroup      `json:"error_groups"`
}

// ProjectReport recomputes signals over every session that started in the
// query range.
func (svc *Service) ProjectReport(ctx context.Context, q ProjectQuery) (*ProjectReport, error) {
	rep := &ProjectReport{ProjectID: q.ProjectID}
	var occs []Occurrence
	reach := make(map[float64]int)

	err := svc.eachSession(ctx, session.ListOpts{ProjectID: q.ProjectID, From: q.From, To: q.To}, q.MaxSessions,
		func(sess *session.Session, events []*event.Event) {
			rep.Sessions++
			rep.PageViews += sess.PageCount
			rep.RageClicks = append(rep.RageClicks, DetectRageClicks(events, svc.cfg.RageClick)...)
			ms := ScrollMilestones(events, svc.cfg.ScrollThresholds)
			rep.Milestones = append(rep.Milestones, ms...)
			for _, m := range ms {
				reach[m.Threshold]++
			}
			occs = append(occs, Occurrences(sess.ID, sess.StartedAt, events)...)
		})
	if err != nil {
		return nil, err
	}

	for _, th := range svc.cfg.ScrollThresholds {
		rep.Reach = append(rep.Reach, ThresholdReach{Threshold: th, PageViews: reach[th]})
	}
	rep.Errors = GroupErrors(q.ProjectID, occs)
	return rep, nil
}

// ListErrorGroups returns materialized groups.
func (svc *Service) ListErrorGroups(ctx context.Context, opts ListOpts) ([]*ErrorGroup, error) {
	return svc.store.ListErrorGroups(ctx, opts)
}

// GetErrorGroup returns one materialized group.
func (svc *Service) GetErrorGroup(ctx context.Context, groupID id.ID) (*ErrorGroup, error) {
	return svc.store.GetErrorGroup(ctx, groupID)
}

// Rebuild discards a project's materialized groups and regenerates them from
// the stored events. It returns the number of groups written.
func (svc *Service) Rebuild(ctx context.Context, projectID id.ID) (int, error) {
	var occs []Occurrence
	err := svc.eachSession(ctx, session.ListOpts{ProjectID: projectID}, 0,
		func(sess *session.Session, events []*event.Event) {
			occs = append(occs, Occurrences(sess.ID, sess.StartedAt, events)...)
		})
	if err != nil {
		return 0, err
	}

	if _, err := svc.store.DeleteErrorGroups(ctx, projectID); err != nil {
		return 0, fmt.Errorf("signal: clear groups: %w", err)
	}
	groups := GroupErrors(projectID, occs)
	for _, g := range groups {
		if _, err := svc.upsert(ctx, g); err != nil {
			return 0, err
		}
	}

	svc.logger.InfoContext(ctx, "error groups rebuilt",
		"project_id", projectID,
		"groups", len(groups),
		"occurrences", len(occs),
	)
	return len(groups), nil
}

func (svc *Service) eachSession(ctx context.Context, opts session.ListOpts, limit int, fn func(*session.Session, []*event.Event)) error {
	seen := 0
	opts.Limit = sessionPage
	for {
		page, err := svc.sessions.ListSessions(ctx, opts)
		if err != nil {
			return fmt.Errorf("signal: list sessions: %w", err)
		}
		for _, sess := range page {
			if limit > 0 && seen >= limit {
				return nil
			}
			events, err := svc.events.ListEvents(ctx, sess.ID, event.ListOpts{})
			if err != nil {
				return fmt.Errorf("signal: list events %s: %w", sess.ID, err)
			}
			fn(sess, events)
			seen++
		}
		if len(page) < sessionPage {
			return nil
		}
		opts.Offset += len(page)
	}
}

// SortGroups orders groups most frequent first, ties by fingerprint.
func SortGroups(groups []*ErrorGroup) {
	slices.SortStableFunc(groups, func(a, b *ErrorGroup) int {
		switch {
		case a.Count > b.Count:
			return -1
		case a.Count < b.Count:
			return 1
		case a.Fingerprint < b.Fingerprint:
			return -1
		case a.Fingerprint > b.Fingerprint:
			return 1
		}
		return 0
	})
}
