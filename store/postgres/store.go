package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("rewind/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("rewind/postgres: %w: %w", rewind.ErrMigrationFailed, err)
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
	_, err := s.pg.NewInsert(toSessionModel(sess)).Exec(ctx)
	return err
}

func (s *Store) GetSession(ctx context.Context, sessionID id.ID) (*session.Session, error) {
	m := new(sessionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", sessionID.String()).
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
	res, err := s.pg.NewUpdate(toSessionModel(sess)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, rewind.ErrSessionNotFound)
}

func (s *Store) ListSessions(ctx context.Context, opts session.ListOpts) ([]*session.Session, error) {
	var models []sessionModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if !opts.ProjectID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("project_id = $%d", argIdx), opts.ProjectID.String())
	}
	if opts.UserID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("user_id = $%d", argIdx), opts.UserID)
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("started_at >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("started_at <= $%d", argIdx), *opts.To)
	}
	if opts.HasErrors != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("has_errors = $%d", argIdx), *opts.HasErrors)
	}
	if opts.HasRageClicks != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("has_rage_clicks = $%d", argIdx), *opts.HasRageClicks)
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
	q := s.pg.NewSelect(&models).
		Where("ended_at IS NULL").
		Where("last_seen_at < $1", before).
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
	res, err := s.pg.NewDelete((*sessionModel)(nil)).
		Where("id = $1", sessionID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	if err := expectRows(res, rewind.ErrSessionNotFound); err != nil {
		return err
	}
	_, err = s.pg.NewDelete((*batchModel)(nil)).
		Where("session_id = $1", sessionID.String()).
		Exec(ctx)
	return err
}

func (s *Store) ClaimBatch(ctx context.Context, sessionID, batchID id.ID) (bool, error) {
	m := &batchModel{
		SessionID: sessionID.String(),
		BatchID:   batchID.String(),
		ClaimedAt: now(),
	}
	res, err := s.pg.NewInsert(m).
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
			return fmt.Errorf("rewind/postgres: %w", err)
		}
		models[i] = *m
	}
	_, err := s.pg.NewInsert(&models).
		OnConflict("(session_id, seq) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *Store) ListEvents(ctx context.Context, sessionID id.ID, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.pg.NewSelect(&models).Where("session_id = $1", sessionID.String())

	argIdx := 1
	if opts.After != nil {
		q = q.Where(fmt.Sprintf("(ts > $%d OR (ts = $%d AND seq > $%d))", argIdx+1, argIdx+2, argIdx+3),
			opts.After.Timestamp, opts.After.Timestamp, opts.After.Seq)
		argIdx += 3
	}
	if opts.SinceSeq > 0 {
		argIdx++
		q = q.Where(fmt.Sprintf("seq > $%d", argIdx), opts.SinceSeq)
	}
	if len(opts.Types) > 0 {
		marks := make([]string, len(opts.Types))
		args := make([]any, len(opts.Types))
		for i, t := range opts.Types {
			argIdx++
			marks[i] = fmt.Sprintf("$%d", argIdx)
			args[i] = int(t)
		}
		q = q.Where("type IN ("+strings.Join(marks, ", ")+")", args...)
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
	return s.pg.NewSelect((*eventModel)(nil)).
		Where("session_id = $1", sessionID.String()).
		Count(ctx)
}

func (s *Store) DeleteEvents(ctx context.Context, sessionID id.ID) error {
	_, err := s.pg.NewDelete((*eventModel)(nil)).
		Where("session_id = $1", sessionID.String()).
		Exec(ctx)
	return err
}

// ==================== Signal Store ====================

func (s *Store) UpsertErrorGroup(ctx context.Context, g *signal.ErrorGroup) error {
	m := toErrorGroupModel(g)
	_, err := s.pg.NewInsert(m).
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
	err := s.pg.NewSelect(m).
		Where("id = $1", groupID.String()).
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
	err := s.pg.NewSelect(m).
		Where("project_id = $1", projectID.String()).
		Where("fingerprint = $2", fingerprint).
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
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if !opts.ProjectID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("project_id = $%d", argIdx), opts.ProjectID.String())
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("last_seen >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("first_seen <= $%d", argIdx), *opts.To)
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
	res, err := s.pg.NewDelete((*errorGroupModel)(nil)).
		Where("project_id = $1", projectID.String()).
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
	_, err = s.pg.NewInsert(m).
		OnConflict("(name) DO UPDATE").
		Set("description = EXCLUDED.description").
		Set("group_name = EXCLUDED.group_name").
		Set("schema = EXCLUDED.schema").
		Set("version = EXCLUDED.version").
		Set("example = EXCLUDED.example").
		Set("metadata = EXCLUDED.metadata").
		Set("is_deprecated = false").
		Set("deprecated_at = NULL").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) GetDefinition(ctx context.Context, name string) (*catalog.EventDefinition, error) {
	m := new(definitionModel)
	err := s.pg.NewSelect(m).
		Where("name = $1", name).
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
	err := s.pg.NewSelect(m).
		Where("id = $1", defID.String()).
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
	q := s.pg.NewSelect(&models)

	if opts.Group != "" {
		q = q.Where("group_name = $1", opts.Group)
	}
	if !opts.IncludeDeprecated {
		q = q.Where("is_deprecated = false")
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
	res, err := s.pg.NewUpdate((*definitionModel)(nil)).
		Set("is_deprecated = $1", true).
		Set("deprecated_at = $2", t).
		Set("updated_at = $3", t).
		Where("name = $4", name).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, rewind.ErrDefinitionNotFound)
}

func (s *Store) MatchDefinitions(ctx context.Context, pattern string) ([]*catalog.EventDefinition, error) {
	var models []definitionModel
	if err := s.pg.NewSelect(&models).
		Where("is_deprecated = false").
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
	_, err := s.pg.NewInsert(&models).Exec(ctx)
	return err
}

func (s *Store) GetQuarantine(ctx context.Context, entryID id.ID) (*quarantine.Entry, error) {
	m := new(quarantineModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", entryID.String()).
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
	q := s.pg.NewSelect(&models)
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
	q := s.pg.NewSelect((*quarantineModel)(nil))
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
	argIdx := 0
	add := func(format string, arg any) {
		argIdx++
		conds = append(conds, cond{fmt.Sprintf(format, argIdx), []any{arg}})
	}
	if !opts.ProjectID.IsNil() {
		add("project_id = $%d", opts.ProjectID.String())
	}
	if !opts.SessionID.IsNil() {
		add("session_id = $%d", opts.SessionID.String())
	}
	if opts.Pending {
		conds = append(conds, cond{"replayed_at IS NULL", nil})
	}
	if opts.From != nil {
		add("failed_at >= $%d", *opts.From)
	}
	if opts.To != nil {
		add("failed_at < $%d", *opts.To)
	}
	return conds
}

func (s *Store) MarkReplayed(ctx context.Context, entryID id.ID, at time.Time) error {
	at = at.UTC()
	res, err := s.pg.NewUpdate((*quarantineModel)(nil)).
		Set("replayed_at = $1", at).
		Set("updated_at = $2", now()).
		Where("id = $3", entryID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, rewind.ErrQuarantineNotFound)
}

func (s *Store) PurgeQuarantine(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.pg.NewDelete((*quarantineModel)(nil)).
		Where("failed_at < $1", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ==================== Project Store ====================

func (s *Store) CreateProject(ctx context.Context, p *project.Project) error {
	_, err := s.pg.NewInsert(toProjectModel(p)).Exec(ctx)
	return err
}

func (s *Store) GetProject(ctx context.Context, projectID id.ID) (*project.Project, error) {
	m := new(projectModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", projectID.String()).
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
	err := s.pg.NewSelect(m).
		Where("ingest_key = $1", key).
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
	res, err := s.pg.NewUpdate(toProjectModel(p)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, rewind.ErrProjectNotFound)
}

func (s *Store) DeleteProject(ctx context.Context, projectID id.ID) error {
	res, err := s.pg.NewDelete((*projectModel)(nil)).
		Where("id = $1", projectID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, rewind.ErrProjectNotFound)
}

func (s *Store) ListProjects(ctx context.Context, opts project.ListOpts) ([]*project.Project, error) {
	var models []projectModel
	q := s.pg.NewSelect(&models)

	if opts.Enabled != nil {
		q = q.Where("recording_enabled = $1", *opts.Enabled)
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
