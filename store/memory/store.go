// Package memory provides an in-memory Store implementation for tests and
// single-process deployments.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/project"
	"github.com/xraph/rewind/quarantine"
	"github.com/xraph/rewind/session"
	"github.com/xraph/rewind/signal"
	rewindstore "github.com/xraph/rewind/store"
)

// compile-time interface check.
var _ rewindstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store. Aggregates are
// copied on the way in and out, so callers never share state with it.
// Events are immutable once appended and are shared.
type Store struct {
	mu sync.RWMutex

	sessions map[id.ID]*session.Session
	batches  map[id.ID]map[id.ID]struct{} // claimed batch ids per session
	events   map[id.ID][]*event.Event

	groups       map[id.ID]*signal.ErrorGroup
	groupsByFP   map[string]id.ID // projectID/fingerprint
	definitions  map[string]*catalog.EventDefinition
	defsByID     map[id.ID]string
	quarantine   map[id.ID]*quarantine.Entry
	projects     map[id.ID]*project.Project
	projectsByKy map[string]id.ID

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		sessions:     make(map[id.ID]*session.Session),
		batches:      make(map[id.ID]map[id.ID]struct{}),
		events:       make(map[id.ID][]*event.Event),
		groups:       make(map[id.ID]*signal.ErrorGroup),
		groupsByFP:   make(map[string]id.ID),
		definitions:  make(map[string]*catalog.EventDefinition),
		defsByID:     make(map[id.ID]string),
		quarantine:   make(map[id.ID]*quarantine.Entry),
		projects:     make(map[id.ID]*project.Project),
		projectsByKy: make(map[string]id.ID),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is still open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return rewind.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// session.Store
// ──────────────────────────────────────────────────

func copySession(sess *session.Session) *session.Session {
	c := *sess
	if sess.EndedAt != nil {
		end := *sess.EndedAt
		c.EndedAt = &end
	}
	return &c
}

// CreateSession persists a new session.
func (s *Store) CreateSession(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

// GetSession returns a session by ID.
func (s *Store) GetSession(_ context.Context, sessionID id.ID) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, rewind.ErrSessionNotFound
	}
	return copySession(sess), nil
}

// UpdateSession replaces a stored session.
func (s *Store) UpdateSession(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return rewind.ErrSessionNotFound
	}
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(_ context.Context, opts session.ListOpts) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if opts.Match(sess) {
			result = append(result, copySession(sess))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return result[i].ID.String() > result[j].ID.String()
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// ListIdleSessions returns open sessions last seen before the cutoff,
// longest idle first.
func (s *Store) ListIdleSessions(_ context.Context, before time.Time, limit int) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*session.Session
	for _, sess := range s.sessions {
		if !sess.Closed() && sess.LastSeenAt.Before(before) {
			result = append(result, copySession(sess))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastSeenAt.Before(result[j].LastSeenAt)
	})
	return applyPagination(result, 0, limit), nil
}

// DeleteSession removes a session and its claimed batch ids.
func (s *Store) DeleteSession(_ context.Context, sessionID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return rewind.ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	delete(s.batches, sessionID)
	return nil
}

// ClaimBatch records a batch id, reporting false for a repeat.
func (s *Store) ClaimBatch(_ context.Context, sessionID, batchID id.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claimed, ok := s.batches[sessionID]
	if !ok {
		claimed = make(map[id.ID]struct{})
		s.batches[sessionID] = claimed
	}
	if _, dup := claimed[batchID]; dup {
		return false, nil
	}
	claimed[batchID] = struct{}{}
	return true, nil
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// AppendEvents adds events to a session's stream.
func (s *Store) AppendEvents(_ context.Context, sessionID id.ID, events []*event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return rewind.ErrStoreClosed
	}
	for _, e := range events {
		c := e.Clone()
		c.SessionID = sessionID
		s.events[sessionID] = append(s.events[sessionID], c)
	}
	return nil
}

// ListEvents returns a session's events in (timestamp, seq) order.
func (s *Store) ListEvents(_ context.Context, sessionID id.ID, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	sorted := event.Sorted(s.events[sessionID])
	s.mu.RUnlock()

	return event.Apply(sorted, opts), nil
}

// CountEvents returns the number of stored events for a session.
func (s *Store) CountEvents(_ context.Context, sessionID id.ID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events[sessionID])), nil
}

// DeleteEvents removes every event of a session.
func (s *Store) DeleteEvents(_ context.Context, sessionID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, sessionID)
	return nil
}

// ──────────────────────────────────────────────────
// signal.Store
// ──────────────────────────────────────────────────

func copyGroup(g *signal.ErrorGroup) *signal.ErrorGroup {
	c := *g
	c.SessionIDs = slices.Clone(g.SessionIDs)
	c.Pages = slices.Clone(g.Pages)
	return &c
}

func fpKey(projectID id.ID, fingerprint string) string {
	return projectID.String() + "/" + fingerprint
}

// UpsertErrorGroup inserts or replaces a group.
func (s *Store) UpsertErrorGroup(_ context.Context, g *signal.ErrorGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.groups[g.ID] = copyGroup(g)
	s.groupsByFP[fpKey(g.ProjectID, g.Fingerprint)] = g.ID
	return nil
}

// GetErrorGroup returns a group by ID.
func (s *Store) GetErrorGroup(_ context.Context, groupID id.ID) (*signal.ErrorGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil, rewind.ErrErrorGroupNotFound
	}
	return copyGroup(g), nil
}

// GetErrorGroupByFingerprint returns the group for a project fingerprint.
func (s *Store) GetErrorGroupByFingerprint(_ context.Context, projectID id.ID, fingerprint string) (*signal.ErrorGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gid, ok := s.groupsByFP[fpKey(projectID, fingerprint)]
	if !ok {
		return nil, rewind.ErrErrorGroupNotFound
	}
	return copyGroup(s.groups[gid]), nil
}

// ListErrorGroups returns groups most frequent first.
func (s *Store) ListErrorGroups(_ context.Context, opts signal.ListOpts) ([]*signal.ErrorGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*signal.ErrorGroup
	for _, g := range s.groups {
		if opts.Match(g) {
			result = append(result, copyGroup(g))
		}
	}
	signal.SortGroups(result)
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// DeleteErrorGroups removes every group of a project.
func (s *Store) DeleteErrorGroups(_ context.Context, projectID id.ID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for gid, g := range s.groups {
		if g.ProjectID == projectID {
			delete(s.groups, gid)
			delete(s.groupsByFP, fpKey(g.ProjectID, g.Fingerprint))
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// catalog.Store
// ──────────────────────────────────────────────────

func copyDefinition(d *catalog.EventDefinition) *catalog.EventDefinition {
	c := *d
	c.Definition.Schema = slices.Clone(d.Definition.Schema)
	c.Definition.Example = slices.Clone(d.Definition.Example)
	c.Metadata = maps.Clone(d.Metadata)
	if d.DeprecatedAt != nil {
		at := *d.DeprecatedAt
		c.DeprecatedAt = &at
	}
	return &c
}

// RegisterDefinition creates or replaces a definition by name.
func (s *Store) RegisterDefinition(_ context.Context, d *catalog.EventDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.definitions[d.Definition.Name]; ok {
		d.ID = existing.ID
		d.CreatedAt = existing.CreatedAt
		d.UpdatedAt = time.Now().UTC()
		d.Deprecated = false
		d.DeprecatedAt = nil
	}
	s.definitions[d.Definition.Name] = copyDefinition(d)
	s.defsByID[d.ID] = d.Definition.Name
	return nil
}

// GetDefinition returns a definition by name.
func (s *Store) GetDefinition(_ context.Context, name string) (*catalog.EventDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.definitions[name]
	if !ok {
		return nil, rewind.ErrDefinitionNotFound
	}
	return copyDefinition(d), nil
}

// GetDefinitionByID returns a definition by its ID.
func (s *Store) GetDefinitionByID(_ context.Context, defID id.ID) (*catalog.EventDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name, ok := s.defsByID[defID]
	if !ok {
		return nil, rewind.ErrDefinitionNotFound
	}
	return copyDefinition(s.definitions[name]), nil
}

// ListDefinitions returns definitions ordered by name.
func (s *Store) ListDefinitions(_ context.Context, opts catalog.ListOpts) ([]*catalog.EventDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*catalog.EventDefinition
	for _, d := range s.definitions {
		if !opts.IncludeDeprecated && d.Deprecated {
			continue
		}
		if opts.Group != "" && d.Definition.Group != opts.Group {
			continue
		}
		result = append(result, copyDefinition(d))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Definition.Name < result[j].Definition.Name
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// DeprecateDefinition soft-deletes a definition.
func (s *Store) DeprecateDefinition(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.definitions[name]
	if !ok {
		return rewind.ErrDefinitionNotFound
	}
	now := time.Now().UTC()
	d.Deprecated = true
	d.DeprecatedAt = &now
	d.UpdatedAt = now
	return nil
}

// MatchDefinitions returns non-deprecated definitions matching pattern.
func (s *Store) MatchDefinitions(_ context.Context, pattern string) ([]*catalog.EventDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*catalog.EventDefinition
	for name, d := range s.definitions {
		if !d.Deprecated && catalog.Match(pattern, name) {
			result = append(result, copyDefinition(d))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Definition.Name < result[j].Definition.Name
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// quarantine.Store
// ──────────────────────────────────────────────────

func copyEntry(e *quarantine.Entry) *quarantine.Entry {
	c := *e
	c.Raw = slices.Clone(e.Raw)
	if e.ReplayedAt != nil {
		at := *e.ReplayedAt
		c.ReplayedAt = &at
	}
	return &c
}

// PushQuarantine stores rejected events.
func (s *Store) PushQuarantine(_ context.Context, entries ...*quarantine.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		s.quarantine[e.ID] = copyEntry(e)
	}
	return nil
}

// GetQuarantine returns an entry by ID.
func (s *Store) GetQuarantine(_ context.Context, entryID id.ID) (*quarantine.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.quarantine[entryID]
	if !ok {
		return nil, rewind.ErrQuarantineNotFound
	}
	return copyEntry(e), nil
}

// ListQuarantine returns entries newest first.
func (s *Store) ListQuarantine(_ context.Context, opts quarantine.ListOpts) ([]*quarantine.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*quarantine.Entry
	for _, e := range s.quarantine {
		if opts.Match(e) {
			result = append(result, copyEntry(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].FailedAt.Equal(result[j].FailedAt) {
			return result[i].FailedAt.After(result[j].FailedAt)
		}
		if result[i].BatchID != result[j].BatchID {
			return result[i].BatchID.String() > result[j].BatchID.String()
		}
		return result[i].Index < result[j].Index
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// CountQuarantine counts entries matching opts.
func (s *Store) CountQuarantine(_ context.Context, opts quarantine.ListOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.quarantine {
		if opts.Match(e) {
			n++
		}
	}
	return n, nil
}

// MarkReplayed stamps an entry as replayed.
func (s *Store) MarkReplayed(_ context.Context, entryID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.quarantine[entryID]
	if !ok {
		return rewind.ErrQuarantineNotFound
	}
	at = at.UTC()
	e.ReplayedAt = &at
	return nil
}

// PurgeQuarantine deletes entries that failed before the threshold.
func (s *Store) PurgeQuarantine(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for k, e := range s.quarantine {
		if e.FailedAt.Before(before) {
			delete(s.quarantine, k)
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// project.Store
// ──────────────────────────────────────────────────

func copyProject(p *project.Project) *project.Project {
	c := *p
	c.MaskSelectors = slices.Clone(p.MaskSelectors)
	c.Metadata = maps.Clone(p.Metadata)
	return &c
}

// CreateProject persists a new project.
func (s *Store) CreateProject(_ context.Context, p *project.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.projects[p.ID] = copyProject(p)
	s.projectsByKy[p.IngestKey] = p.ID
	return nil
}

// GetProject returns a project by ID.
func (s *Store) GetProject(_ context.Context, projectID id.ID) (*project.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[projectID]
	if !ok {
		return nil, rewind.ErrProjectNotFound
	}
	return copyProject(p), nil
}

// GetProjectByKey resolves an ingest key.
func (s *Store) GetProjectByKey(_ context.Context, key string) (*project.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pid, ok := s.projectsByKy[key]
	if !ok {
		return nil, rewind.ErrProjectNotFound
	}
	return copyProject(s.projects[pid]), nil
}

// UpdateProject replaces a project, re-indexing its ingest key.
func (s *Store) UpdateProject(_ context.Context, p *project.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.projects[p.ID]
	if !ok {
		return rewind.ErrProjectNotFound
	}
	if old.IngestKey != p.IngestKey {
		delete(s.projectsByKy, old.IngestKey)
	}
	s.projects[p.ID] = copyProject(p)
	s.projectsByKy[p.IngestKey] = p.ID
	return nil
}

// DeleteProject removes a project.
func (s *Store) DeleteProject(_ context.Context, projectID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return rewind.ErrProjectNotFound
	}
	delete(s.projectsByKy, p.IngestKey)
	delete(s.projects, projectID)
	return nil
}

// ListProjects returns projects ordered by name.
func (s *Store) ListProjects(_ context.Context, opts project.ListOpts) ([]*project.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*project.Project
	for _, p := range s.projects {
		if opts.Enabled != nil && p.RecordingEnabled != *opts.Enabled {
			continue
		}
		result = append(result, copyProject(p))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return strings.Compare(result[i].Name, result[j].Name) < 0
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
