package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

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

// compile-time interface check
var _ rewindstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("rewind/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("rewind/sqlite: %w: %w", rewind.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Session Store ====================

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	_, err := s.sdb.NewInsert(toSessionModel(sess)).Exec(ctx)
	return err
}

func (s *Store) GetSession(ctx context.Context, sessionID id.ID) (*session.Session, error) {
	m := new(sessionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", sessionID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rewind.ErrSessionNotFound
		}
		return nil, err
	}
	return fromSessionModel(m)
}

func (s *Store) UpdateSession(ctx context.Context, sess *session.Session) error {
	res, err := s.sdb.NewUpdate(toSessionModel(sess)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, rewind.ErrSessionNotFound)
}

func (s *Store) ListSessions(ctx context.Context, opts session.ListOpts) ([]*session.Session, error) {
	var models []sessionModel
	q := s.sdb.NewSelect(&models)

	if !opts.ProjectID.IsNil() {
		q = q.Where("project_id = ?", opts.ProjectID.String())
	}
	if opts.UserID != "" {
		q = q.Where("user_id = ?", opts.UserID)
	}
	if opts.From != nil {
		q = q.Where("started_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("started_at <= ?", *opts.To)
	}
	if opts.HasErrors != nil {
		q = q.Where("has_errors = ?", *opts.HasErrors)
	}
	if opts.HasRageClicks != nil {
		q = q.Where("has_rage_clicks = ?", *opts.HasRageClicks)
	}
	if opts.OnlyOpen {
		q = q.Where("ended_at IS NULL")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("started_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return convertAll(models, fromSessionModel)
}

func (s *Store) ListIdleSessions(ctx context.Context, before time.Time, limit int) ([]*session.Session, error) {
	var models []sessionModel
	q := s.sdb.NewSelect(&models).
		Where("ended_at IS NULL").
		Where("last_seen_at < ?", before).
		OrderExpr("last_seen_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return convertAll(models, fromSessionModel)
}

func (s *Store) DeleteSession(ctx context.Context, sessionID id.ID) error {
	res, err := s.sdb.NewDelete((*sessionModel)(nil)).
		Where("id = ?", sessionID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	if err := expectRows(res, rewind.ErrSessionNotFound); err != nil {
		return err
	}
	_, err = s.sdb.NewDelete((*batchModel)(nil)).
		Where("session_id = ?", sessionID.String()).
		Exec(ctx)
	return err
}

func (s *Store) ClaimBatch(ctx context.Context, sessionID, batchID id.ID) (bool, error) {
	m := &batchModel{
		SessionID: sessionID.String(),
		BatchID:   batchID.String(),
		ClaimedAt: now(),
	}
	res, err := s.sdb.NewInsert(m).
		OnConflict("(session_id, batch_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ==================== Event Store ====================

func (s *Store) AppendEvents(ctx context.Context, sessionID id.ID, events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}
	models := make([]eventModel, len(events))
	for i, e := range events {
		m, err := toEventModel(sessionID, e)
		if err != nil {
			return fmt.Errorf("rewind/sqlite: %w", err)
		}
		models[i] = *m
	}
	_, err := s.sdb.NewInsert(&models).
		OnConflict("(session_id, seq) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *Store) ListEvents(ctx context.Context, sessionID id.ID, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.sdb.NewSelect(&models).Where("session_id = ?", sessionID.String())

	if opts.After != nil {
		q = q.Where("(ts > ? OR (ts = ? AND seq > ?))",
			opts.After.Timestamp, opts.After.Timestamp, opts.After.Seq)
	}
	if opts.SinceSeq > 0 {
		q = q.Where("seq > ?", opts.SinceSeq)
	}
	if len(opts.Types) > 0 {
		args := make([]any, len(opts.Types))
		for i, t := range opts.Types {
			args[i] = int(t)
		}
		q = q.Where("type IN ("+placeholders(len(args))+")", args...)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	q = q.OrderExpr("ts ASC, seq ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return convertAll(models, fromEventModel)
}

func (s *Store) CountEvents(ctx context.Context, sessionID id.ID) (int64, error) {
	return s.sdb.NewSelect((*eventModel)(nil)).
		Where("session_id = ?", sessionID.String()).
		Count(ctx)
}

func (s *Store) DeleteEvents(ctx context.Context, sessionID id.ID) error {
	_, err := s.sdb.NewDelete((*eventModel)(nil)).
		Where("session_id = ?", sessionID.String()).
		Exec(ctx)
	return err
}

// ==================== Signal Store ====================

func (s *Store) UpsertErrorGroup(ctx context.Context, g *signal.ErrorGroup) error {
	m := toErrorGroupModel(g)
	_, err := s.sdb.NewInsert(m).
		OnConflict("(id) DO UPDATE").
		Set("message = EXCLUDED.message").
		Set("top_frame = EXCLUDED.top_frame").
		Set("count = EXCLUDED.count").
		Set("first_seen = EXCLUDED.first_seen").
		Set("last_seen = EXCLUDED.last_seen").
		Set("session_ids = EXCLUDED.session_ids").
		Set("pages = EXCLUDED.pages").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) GetErrorGroup(ctx context.Context, groupID id.ID) (*signal.ErrorGroup, error) {
	m := new(errorGroupModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", groupID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rewind.ErrErrorGroupNotFound
		}
		return nil, err
	}
	return fromErrorGroupModel(m)
}

func (s *Store) GetErrorGroupByFingerprint(ctx context.Context, projectID id.ID, fingerprint string) (*signal.ErrorGroup, error) {
	m := new(errorGroupModel)
	err := s.sdb.NewSelect(m).
		Where("project_id = ?", projectID.String()).
		Where("fingerprint = ?", fingerprint).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rewind.ErrErrorGroupNotFound
		}
		return nil, err
	}
	return fromErrorGroupModel(m)
}

func (s *Store) ListErrorGroups(ctx context.Context, opts signal.ListOpts) ([]*signal.ErrorGroup, error) {
	var models []errorGroupModel
	q := s.sdb.NewSelect(&models)

	if !opts.ProjectID.IsNil() {
		q = q.Where("project_id = ?", opts.ProjectID.String())
	}
	if opts.From != nil {
		q = q.Where("last_seen >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("first_seen <= ?", *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("count DESC, fingerprint ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return convertAll(models, fromErrorGroupModel)
}

func (s *Store) DeleteErrorGroups(ctx context.Context, projectID id.ID) (int64, error) {
	res, err := s.sdb.NewDelete((*errorGroupModel)(nil)).
		Where("project_id = ?", projectID.String()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ==================== Catalog Store ====================

func (s *Store) RegisterDefinition(ctx context.Context, d *catalog.EventDefinition) error {
	existing, err := s.GetDefinition(ctx, d.Definition.Name)
	switch {
	case err == nil:
		d.ID = existing.ID
		d.CreatedAt = existing.CreatedAt
		d.UpdatedAt = now()
		d.Deprecated = false
		d.DeprecatedAt = nil
	case !errors.Is(err, rewind.ErrDefinitionNotFound):
		return err
	}

	m := toDefinitionModel(d)
	_, err = s.sdb.NewInsert(m).
		OnConflict("(name) DO UPDATE").
		Set("description = EXCLUDED.description").
		Set("group_name = EXCLUDED.group_name").
		Set("schema = EXCLUDED.schema").
		Set("version = EXCLUDED.version").
		Set("example = EXCLUDED.example").
		Set("metadata = EXCLUDED.metadata").
		Set("is_deprecated = 0").
		Set("deprecated_at = NULL").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) GetDefinition(ctx context.Context, name string) (*catalog.EventDefinition, error) {
	m := new(definitionModel)
	err := s.sdb.NewSelect(m).
		Where("name = ?", name).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rewind.ErrDefinitionNotFound
		}
		return nil, err
	}
	return fromDefinitionModel(m)
}

func (s *Store) GetDefinitionByID(ctx context.Context, defID id.ID) (*catalog.EventDefinition, error) {
	m := new(definitionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", defID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rewind.ErrDefinitionNotFound
		}
		return nil, err
	}
	return fromDefinitionModel(m)
}

func (s *Store) ListDefinitions(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventDefinition, error) {
	var models []definitionModel
	q := s.sdb.NewSelect(&models)

	if opts.Group != "" {
		q = q.Where("group_name = ?", opts.Group)
	}
	if !opts.IncludeDeprecated {
		q = q.Where("is_deprecated = 0")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("name ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return convertAll(models, fromDefinitionModel)
}

func (s *Store) DeprecateDefinition(ctx context.Context, name string) error {
	t := now()
	res, err := s.sdb.NewUpdate((*definitionModel)(nil)).
		Set("is_deprecated = ?", true).
		Set("deprecated_at = ?", t).
		Set("updated_at = ?", t).
		Where("name = ?", name).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, rewind.ErrDefinitionNotFound)
}

func (s *Store) MatchDefinitions(ctx context.Context, pattern string) ([]*catalog.EventDefinition, error) {
	var models []definitionModel
	if err := s.sdb.NewSelect(&models).
		Where("is_deprecated = 0").
		OrderExpr("name ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	var result []*catalog.EventDefinition
	for i := range models {
		if !catalog.Match(pattern, models[i].Name) {
			continue
		}
		d, err := fromDefinitionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}

// ==================== Quarantine Store ====================

func (s *Store) PushQuarantine(ctx context.Context, entries ...*quarantine.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	models := make([]quarantineModel, len(entries))
	for i, e := range entries {
		models[i] = *toQuarantineModel(e)
	}
	_, err := s.sdb.NewInsert(&models).Exec(ctx)
	return err
}

func (s *Store) GetQuarantine(ctx context.Context, entryID id.ID) (*quarantine.Entry, error) {
	m := new(quarantineModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", entryID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rewind.ErrQuarantineNotFound
		}
		return nil, err
	}
	return fromQuarantineModel(m)
}

func (s *Store) ListQuarantine(ctx context.Context, opts quarantine.ListOpts) ([]*quarantine.Entry, error) {
	var models []quarantineModel
	q := s.sdb.NewSelect(&models)
	for _, c := range quarantineConds(opts) {
		q = q.Where(c.expr, c.args...)
	}

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("failed_at DESC, batch_id DESC, idx ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return convertAll(models, fromQuarantineModel)
}

func (s *Store) CountQuarantine(ctx context.Context, opts quarantine.ListOpts) (int64, error) {
	q := s.sdb.NewSelect((*quarantineModel)(nil))
	for _, c := range quarantineConds(opts) {
		q = q.Where(c.expr, c.args...)
	}
	return q.Count(ctx)
}

type cond struct {
	expr string
	args []any
}

// quarantineConds is shared by ListQuarantine and CountQuarantine.
func quarantineConds(opts quarantine.ListOpts) []cond {
	var conds []cond
	if !opts.ProjectID.IsNil() {
		conds = append(conds, cond{"project_id = ?", []any{opts.ProjectID.String()}})
	}
	if !opts.SessionID.IsNil() {
		conds = append(conds, cond{"session_id = ?", []any{opts.SessionID.String()}})
	}
	if opts.Pending {
		conds = append(conds, cond{"replayed_at IS NULL", nil})
	}
	if opts.From != nil {
		conds = append(conds, cond{"failed_at >= ?", []any{*opts.From}})
	}
	if opts.To != nil {
		conds = append(conds, cond{"failed_at < ?", []any{*opts.To}})
	}
	return conds
}

func (s *Store) MarkReplayed(ctx context.Context, entryID id.ID, at time.Time) error {
	at = at.UTC()
	res, err := s.sdb.NewUpdate((*quarantineModel)(nil)).
		Set("replayed_at = ?", at).
		Set("updated_at = ?", now()).
		Where("id = ?", entryID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, rewind.ErrQuarantineNotFound)
}

func (s *Store) PurgeQuarantine(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.sdb.NewDelete((*quarantineModel)(nil)).
		Where("failed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ==================== Project Store ====================

func (s *Store) CreateProject(ctx context.Context, p *project.Project) error {
	_, err := s.sdb.NewInsert(toProjectModel(p)).Exec(ctx)
	return err
}

func (s *Store) GetProject(ctx context.Context, projectID id.ID) (*project.Project, error) {
	m := new(projectModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", projectID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rewind.ErrProjectNotFound
		}
		return nil, err
	}
	return fromProjectModel(m)
}

func (s *Store) GetProjectByKey(ctx context.Context, key string) (*project.Project, error) {
	m := new(projectModel)
	err := s.sdb.NewSelect(m).
		Where("ingest_key = ?", key).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, rewind.ErrProjectNotFound
		}
		return nil, err
	}
	return fromProjectModel(m)
}

func (s *Store) UpdateProject(ctx context.Context, p *project.Project) error {
	res, err := s.sdb.NewUpdate(toProjectModel(p)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, rewind.ErrProjectNotFound)
}

func (s *Store) DeleteProject(ctx context.Context, projectID id.ID) error {
	res, err := s.sdb.NewDelete((*projectModel)(nil)).
		Where("id = ?", projectID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, rewind.ErrProjectNotFound)
}

func (s *Store) ListProjects(ctx context.Context, opts project.ListOpts) ([]*project.Project, error) {
	var models []projectModel
	q := s.sdb.NewSelect(&models)

	if opts.Enabled != nil {
		q = q.Where("recording_enabled = ?", *opts.Enabled)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("name ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return convertAll(models, fromProjectModel)
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// rowsResult is the part of a write result expectRows reads.
type rowsResult interface {
	RowsAffected() (int64, error)
}

// expectRows maps a zero-row write to notFound.
func expectRows(res rowsResult, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

func convertAll[M, T any](models []M, conv func(*M) (*T, error)) ([]*T, error) {
	result := make([]*T, len(models))
	for i := range models {
		v, err := conv(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = v
	}
	return result, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
