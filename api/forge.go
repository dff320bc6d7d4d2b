package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/xraph/forge"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/project"
	"github.com/xraph/rewind/quarantine"
	"github.com/xraph/rewind/session"
	"github.com/xraph/rewind/signal"
)

// ForgeAPI wires the Forge-style admin handlers together. Ingestion and
// the websocket live tail need the raw request, so they are served by
// Handler and mounted next to these routes.
type ForgeAPI struct {
	rw  *rewind.Rewind
	log forge.Logger
}

// NewForgeAPI creates a ForgeAPI over a Rewind engine.
func NewForgeAPI(rw *rewind.Rewind, log forge.Logger) *ForgeAPI {
	return &ForgeAPI{rw: rw, log: log}
}

// RegisterRoutes registers all Rewind admin API routes into the given Forge
// router with full OpenAPI metadata.
func (a *ForgeAPI) RegisterRoutes(router forge.Router) {
	a.registerSessionRoutes(router)
	a.registerSignalRoutes(router)
	a.registerDefinitionRoutes(router)
	a.registerQuarantineRoutes(router)
	a.registerProjectRoutes(router)
	a.registerStatsRoutes(router)
}

// ---------------------------------------------------------------------------
// Session routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerSessionRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("sessions"))

	if err := g.GET("/sessions", a.listSessions,
		forge.WithSummary("List sessions"),
		forge.WithDescription("Returns recorded sessions newest first, filtered by project, user, time range and signals."),
		forge.WithOperationID("listSessions"),
		forge.WithRequestSchema(ListSessionsForgeRequest{}),
		forge.WithListResponse(session.Session{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listSessions route", forge.Error(err))
	}

	if err := g.GET("/sessions/:id", a.getSession,
		forge.WithSummary("Get session"),
		forge.WithDescription("Returns a session's metadata and summary."),
		forge.WithOperationID("getSession"),
		forge.WithResponseSchema(http.StatusOK, "Session details", session.Session{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getSession route", forge.Error(err))
	}

	if err := g.POST("/sessions/:id/close", a.closeSession,
		forge.WithSummary("Close session"),
		forge.WithDescription("Fixes the session end time. Late batches are still accepted."),
		forge.WithOperationID("closeSession"),
		forge.WithResponseSchema(http.StatusOK, "Closed session", session.Session{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register closeSession route", forge.Error(err))
	}

	if err := g.GET("/sessions/:id/events", a.listEvents,
		forge.WithSummary("List session events"),
		forge.WithDescription("Pages through a session's stream in (timestamp, seq) order."),
		forge.WithOperationID("listSessionEvents"),
		forge.WithRequestSchema(ListEventsForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Event page", eventPage{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listSessionEvents route", forge.Error(err))
	}

	if err := g.GET("/sessions/:id/replay", a.replaySession,
		forge.WithSummary("Replay session"),
		forge.WithDescription("Returns the session with its full ordered stream and any stream violations."),
		forge.WithOperationID("replaySession"),
		forge.WithResponseSchema(http.StatusOK, "Replay data", rewind.ReplayData{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register replaySession route", forge.Error(err))
	}

	if err := g.GET("/sessions/:id/signals", a.sessionSignals,
		forge.WithSummary("Session signals"),
		forge.WithDescription("Computes rage clicks, scroll milestones and errors for a session."),
		forge.WithOperationID("sessionSignals"),
		forge.WithResponseSchema(http.StatusOK, "Signal report", signal.Report{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register sessionSignals route", forge.Error(err))
	}
}

func (a *ForgeAPI) listSessions(ctx forge.Context, req *ListSessionsForgeRequest) ([]*session.Session, error) {
	limit := req.Limit
	if limit == 0 {
		limit = 50
	}

	opts := session.ListOpts{
		Offset:        req.Offset,
		Limit:         limit,
		UserID:        req.UserID,
		HasErrors:     parseOptBool(req.HasErrors),
		HasRageClicks: parseOptBool(req.HasRageClicks),
		OnlyOpen:      req.Open == "true",
	}
	if req.ProjectID != "" {
		pid, err := id.ParseProjectID(req.ProjectID)
		if err != nil {
			return nil, forge.BadRequest("invalid project_id")
		}
		opts.ProjectID = pid
	}
	var err error
	if opts.From, err = parseOptTime("from", req.From); err != nil {
		return nil, err
	}
	if opts.To, err = parseOptTime("to", req.To); err != nil {
		return nil, err
	}

	sessions, err := a.rw.ListSessions(ctx.Context(), opts)
	if err != nil {
		return nil, mapError(err)
	}

	return sessions, nil
}

func (a *ForgeAPI) getSession(ctx forge.Context, req *SessionForgeRequest) (*session.Session, error) {
	sid, err := id.ParseSessionID(req.SessionID)
	if err != nil {
		return nil, forge.BadRequest("invalid session ID")
	}

	sess, err := a.rw.Session(ctx.Context(), sid)
	if err != nil {
		return nil, mapError(err)
	}

	return sess, nil
}

func (a *ForgeAPI) closeSession(ctx forge.Context, req *SessionForgeRequest) (*session.Session, error) {
	sid, err := id.ParseSessionID(req.SessionID)
	if err != nil {
		return nil, forge.BadRequest("invalid session ID")
	}

	sess, err := a.rw.CloseSession(ctx.Context(), sid)
	if err != nil {
		return nil, mapError(err)
	}

	return sess, nil
}

func (a *ForgeAPI) listEvents(ctx forge.Context, req *ListEventsForgeRequest) (*eventPage, error) {
	sid, err := id.ParseSessionID(req.SessionID)
	if err != nil {
		return nil, forge.BadRequest("invalid session ID")
	}

	limit := req.Limit
	if limit == 0 {
		limit = 500
	}
	opts := event.ListOpts{Limit: limit, SinceSeq: req.Since}
	if req.After != "" {
		c, cerr := event.ParseCursor(req.After)
		if cerr != nil {
			return nil, forge.BadRequest(cerr.Error())
		}
		opts.After = &c
	}
	if opts.Types, err = event.ParseTypes(req.Types); err != nil {
		return nil, forge.BadRequest(err.Error())
	}

	events, err := a.rw.Events(ctx.Context(), sid, opts)
	if err != nil {
		return nil, mapError(err)
	}

	page := &eventPage{Events: events}
	if page.Events == nil {
		page.Events = []*event.Event{}
	}
	if len(events) == limit {
		page.Next = event.CursorOf(events[len(events)-1]).String()
	}
	return page, nil
}

func (a *ForgeAPI) replaySession(ctx forge.Context, req *SessionForgeRequest) (*rewind.ReplayData, error) {
	sid, err := id.ParseSessionID(req.SessionID)
	if err != nil {
		return nil, forge.BadRequest("invalid session ID")
	}

	data, err := a.rw.Replay(ctx.Context(), sid)
	if err != nil {
		return nil, mapError(err)
	}

	return data, nil
}

func (a *ForgeAPI) sessionSignals(ctx forge.Context, req *SessionForgeRequest) (*signal.Report, error) {
	sid, err := id.ParseSessionID(req.SessionID)
	if err != nil {
		return nil, forge.BadRequest("invalid session ID")
	}

	rep, err := a.rw.SessionSignals(ctx.Context(), sid)
	if err != nil {
		return nil, mapError(err)
	}

	return rep, nil
}

// ---------------------------------------------------------------------------
// Signal routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerSignalRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("signals"))

	if err := g.GET("/signals", a.projectSignals,
		forge.WithSummary("Project signals"),
		forge.WithDescription("Aggregates rage clicks, scroll reach and error groups across a project's sessions."),
		forge.WithOperationID("projectSignals"),
		forge.WithRequestSchema(ProjectSignalsForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Project signal report", signal.ProjectReport{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register projectSignals route", forge.Error(err))
	}

	if err := g.GET("/error-groups", a.listErrorGroups,
		forge.WithSummary("List error groups"),
		forge.WithDescription("Returns materialized error groups, most frequent first."),
		forge.WithOperationID("listErrorGroups"),
		forge.WithRequestSchema(ListErrorGroupsForgeRequest{}),
		forge.WithListResponse(signal.ErrorGroup{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listErrorGroups route", forge.Error(err))
	}

	if err := g.GET("/error-groups/:id", a.getErrorGroup,
		forge.WithSummary("Get error group"),
		forge.WithDescription("Returns a single error group with its sessions and pages."),
		forge.WithOperationID("getErrorGroup"),
		forge.WithResponseSchema(http.StatusOK, "Error group", signal.ErrorGroup{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getErrorGroup route", forge.Error(err))
	}

	if err := g.POST("/error-groups/rebuild", a.rebuildErrorGroups,
		forge.WithSummary("Rebuild error groups"),
		forge.WithDescription("Regenerates a project's error groups from its stored events."),
		forge.WithOperationID("rebuildErrorGroups"),
		forge.WithRequestSchema(RebuildErrorGroupsForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Rebuild result", RebuildForgeResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register rebuildErrorGroups route", forge.Error(err))
	}
}

func (a *ForgeAPI) projectSignals(ctx forge.Context, req *ProjectSignalsForgeRequest) (*signal.ProjectReport, error) {
	q := signal.ProjectQuery{MaxSessions: req.MaxSessions}
	if req.ProjectID != "" {
		pid, err := id.ParseProjectID(req.ProjectID)
		if err != nil {
			return nil, forge.BadRequest("invalid project_id")
		}
		q.ProjectID = pid
	}
	var err error
	if q.From, err = parseOptTime("from", req.From); err != nil {
		return nil, err
	}
	if q.To, err = parseOptTime("to", req.To); err != nil {
		return nil, err
	}

	rep, err := a.rw.ProjectSignals(ctx.Context(), q)
	if err != nil {
		return nil, mapError(err)
	}

	return rep, nil
}

func (a *ForgeAPI) listErrorGroups(ctx forge.Context, req *ListErrorGroupsForgeRequest) ([]*signal.ErrorGroup, error) {
	limit := req.Limit
	if limit == 0 {
		limit = 50
	}

	opts := signal.ListOpts{Offset: req.Offset, Limit: limit}
	if req.ProjectID != "" {
		pid, err := id.ParseProjectID(req.ProjectID)
		if err != nil {
			return nil, forge.BadRequest("invalid project_id")
		}
		opts.ProjectID = pid
	}
	var err error
	if opts.From, err = parseOptTime("from", req.From); err != nil {
		return nil, err
	}
	if opts.To, err = parseOptTime("to", req.To); err != nil {
		return nil, err
	}

	groups, err := a.rw.ErrorGroups(ctx.Context(), opts)
	if err != nil {
		return nil, mapError(err)
	}

	return groups, nil
}

func (a *ForgeAPI) getErrorGroup(ctx forge.Context, req *GetErrorGroupForgeRequest) (*signal.ErrorGroup, error) {
	gid, err := id.ParseErrorGroupID(req.GroupID)
	if err != nil {
		return nil, forge.BadRequest("invalid error group ID")
	}

	g, err := a.rw.Signals().GetErrorGroup(ctx.Context(), gid)
	if err != nil {
		return nil, mapError(err)
	}

	return g, nil
}

func (a *ForgeAPI) rebuildErrorGroups(ctx forge.Context, req *RebuildErrorGroupsForgeRequest) (*RebuildForgeResponse, error) {
	pid, err := id.ParseProjectID(req.ProjectID)
	if err != nil {
		return nil, forge.BadRequest("invalid project_id")
	}

	n, err := a.rw.RebuildErrorGroups(ctx.Context(), pid)
	if err != nil {
		return nil, mapError(err)
	}

	return &RebuildForgeResponse{Groups: n}, nil
}

// ---------------------------------------------------------------------------
// Definition routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerDefinitionRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("definitions"))

	if err := g.POST("/definitions", a.createDefinition,
		forge.WithSummary("Register event definition"),
		forge.WithDescription("Registers or updates a custom event definition. Re-registering clears deprecation."),
		forge.WithOperationID("createDefinition"),
		forge.WithRequestSchema(CreateDefinitionForgeRequest{}),
		forge.WithCreatedResponse(catalog.EventDefinition{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register createDefinition route", forge.Error(err))
	}

	if err := g.GET("/definitions", a.listDefinitions,
		forge.WithSummary("List event definitions"),
		forge.WithDescription("Returns registered definitions, optionally matching a glob pattern."),
		forge.WithOperationID("listDefinitions"),
		forge.WithRequestSchema(ListDefinitionsForgeRequest{}),
		forge.WithListResponse(catalog.EventDefinition{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listDefinitions route", forge.Error(err))
	}

	if err := g.GET("/definitions/:name", a.getDefinition,
		forge.WithSummary("Get event definition"),
		forge.WithDescription("Returns a single definition by name."),
		forge.WithOperationID("getDefinition"),
		forge.WithResponseSchema(http.StatusOK, "Event definition", catalog.EventDefinition{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getDefinition route", forge.Error(err))
	}

	if err := g.DELETE("/definitions/:name", a.deleteDefinition,
		forge.WithSummary("Deprecate event definition"),
		forge.WithDescription("Deprecates a definition. Its events are quarantined until it is registered again."),
		forge.WithOperationID("deleteDefinition"),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register deleteDefinition route", forge.Error(err))
	}
}

func (a *ForgeAPI) createDefinition(ctx forge.Context, req *CreateDefinitionForgeRequest) (*catalog.EventDefinition, error) {
	if req.Name == "" {
		return nil, forge.BadRequest("name is required")
	}

	var opts []catalog.RegisterOption
	if req.Metadata != nil {
		opts = append(opts, catalog.WithMetadata(req.Metadata))
	}

	def, err := a.rw.Catalog().Register(ctx.Context(), req.Definition, opts...)
	if err != nil {
		return nil, mapError(err)
	}

	err = ctx.JSON(http.StatusCreated, def)
	if err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.JSON.
	return nil, nil
}

func (a *ForgeAPI) listDefinitions(ctx forge.Context, req *ListDefinitionsForgeRequest) ([]*catalog.EventDefinition, error) {
	if req.Match != "" {
		defs, err := a.rw.Catalog().Matching(ctx.Context(), req.Match)
		if err != nil {
			return nil, mapError(err)
		}
		return defs, nil
	}

	limit := req.Limit
	if limit == 0 {
		limit = 50
	}

	defs, err := a.rw.Catalog().List(ctx.Context(), catalog.ListOpts{
		Offset:            req.Offset,
		Limit:             limit,
		Group:             req.Group,
		IncludeDeprecated: req.IncludeDeprecated == "true",
	})
	if err != nil {
		return nil, mapError(err)
	}

	return defs, nil
}

func (a *ForgeAPI) getDefinition(ctx forge.Context, req *DefinitionForgeRequest) (*catalog.EventDefinition, error) {
	def, err := a.rw.Catalog().Get(ctx.Context(), req.Name)
	if err != nil {
		return nil, mapError(err)
	}

	return def, nil
}

func (a *ForgeAPI) deleteDefinition(ctx forge.Context, req *DefinitionForgeRequest) (*catalog.EventDefinition, error) {
	if err := a.rw.Catalog().Deprecate(ctx.Context(), req.Name); err != nil {
		return nil, mapError(err)
	}

	err := ctx.NoContent(http.StatusNoContent)
	if err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.NoContent.
	return nil, nil
}

// ---------------------------------------------------------------------------
// Quarantine routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerQuarantineRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("quarantine"))

	if err := g.GET("/quarantine", a.listQuarantine,
		forge.WithSummary("List quarantined events"),
		forge.WithDescription("Returns events diverted at ingestion, newest first."),
		forge.WithOperationID("listQuarantine"),
		forge.WithRequestSchema(ListQuarantineForgeRequest{}),
		forge.WithListResponse(quarantine.Entry{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listQuarantine route", forge.Error(err))
	}

	if err := g.GET("/quarantine/:id", a.getQuarantine,
		forge.WithSummary("Get quarantined event"),
		forge.WithDescription("Returns a quarantine entry with its raw event."),
		forge.WithOperationID("getQuarantine"),
		forge.WithResponseSchema(http.StatusOK, "Quarantine entry", quarantine.Entry{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getQuarantine route", forge.Error(err))
	}

	if err := g.POST("/quarantine/:id/replay", a.replayQuarantine,
		forge.WithSummary("Replay quarantined event"),
		forge.WithDescription("Re-ingests a quarantined event into its session once the cause is fixed."),
		forge.WithOperationID("replayQuarantine"),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register replayQuarantine route", forge.Error(err))
	}
}

func (a *ForgeAPI) listQuarantine(ctx forge.Context, req *ListQuarantineForgeRequest) ([]*quarantine.Entry, error) {
	limit := req.Limit
	if limit == 0 {
		limit = 50
	}

	opts := quarantine.ListOpts{
		Offset:  req.Offset,
		Limit:   limit,
		Pending: req.Pending == "true",
	}
	if req.ProjectID != "" {
		pid, err := id.ParseProjectID(req.ProjectID)
		if err != nil {
			return nil, forge.BadRequest("invalid project_id")
		}
		opts.ProjectID = pid
	}
	if req.SessionID != "" {
		sid, err := id.ParseSessionID(req.SessionID)
		if err != nil {
			return nil, forge.BadRequest("invalid session_id")
		}
		opts.SessionID = sid
	}

	entries, err := a.rw.Quarantine().List(ctx.Context(), opts)
	if err != nil {
		return nil, mapError(err)
	}

	return entries, nil
}

func (a *ForgeAPI) getQuarantine(ctx forge.Context, req *QuarantineForgeRequest) (*quarantine.Entry, error) {
	qid, err := id.ParseQuarantineID(req.EntryID)
	if err != nil {
		return nil, forge.BadRequest("invalid quarantine ID")
	}

	entry, err := a.rw.Quarantine().Get(ctx.Context(), qid)
	if err != nil {
		return nil, mapError(err)
	}

	return entry, nil
}

func (a *ForgeAPI) replayQuarantine(ctx forge.Context, req *QuarantineForgeRequest) (*quarantine.Entry, error) {
	qid, err := id.ParseQuarantineID(req.EntryID)
	if err != nil {
		return nil, forge.BadRequest("invalid quarantine ID")
	}

	if replayErr := a.rw.ReplayQuarantined(ctx.Context(), qid); replayErr != nil {
		return nil, mapError(replayErr)
	}

	err = ctx.NoContent(http.StatusNoContent)
	if err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.NoContent.
	return nil, nil
}

// ---------------------------------------------------------------------------
// Project routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerProjectRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("projects"))

	if err := g.POST("/projects", a.createProject,
		forge.WithSummary("Create project"),
		forge.WithDescription("Creates a project and mints its ingest key. The key is only returned here and on rotation."),
		forge.WithOperationID("createProject"),
		forge.WithRequestSchema(CreateProjectForgeRequest{}),
		forge.WithCreatedResponse(projectWithKey{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register createProject route", forge.Error(err))
	}

	if err := g.GET("/projects", a.listProjects,
		forge.WithSummary("List projects"),
		forge.WithDescription("Returns a paginated list of projects."),
		forge.WithOperationID("listProjects"),
		forge.WithRequestSchema(ListProjectsForgeRequest{}),
		forge.WithListResponse(project.Project{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listProjects route", forge.Error(err))
	}

	if err := g.GET("/projects/:id", a.getProject,
		forge.WithSummary("Get project"),
		forge.WithDescription("Returns a project's settings."),
		forge.WithOperationID("getProject"),
		forge.WithResponseSchema(http.StatusOK, "Project details", project.Project{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getProject route", forge.Error(err))
	}

	if err := g.PUT("/projects/:id", a.updateProject,
		forge.WithSummary("Update project"),
		forge.WithDescription("Updates a project's recording settings."),
		forge.WithOperationID("updateProject"),
		forge.WithRequestSchema(UpdateProjectForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Updated project", project.Project{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register updateProject route", forge.Error(err))
	}

	if err := g.DELETE("/projects/:id", a.deleteProject,
		forge.WithSummary("Delete project"),
		forge.WithDescription("Deletes a project. Its sessions are kept until purged."),
		forge.WithOperationID("deleteProject"),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register deleteProject route", forge.Error(err))
	}

	if err := g.POST("/projects/:id/rotate-key", a.rotateKey,
		forge.WithSummary("Rotate ingest key"),
		forge.WithDescription("Mints a new ingest key. The old key stops working immediately."),
		forge.WithOperationID("rotateProjectKey"),
		forge.WithResponseSchema(http.StatusOK, "New ingest key", KeyForgeResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register rotateKey route", forge.Error(err))
	}

	if err := g.POST("/projects/:id/purge", a.purgeProject,
		forge.WithSummary("Purge sessions"),
		forge.WithDescription("Deletes the project's sessions that started before a threshold."),
		forge.WithOperationID("purgeProject"),
		forge.WithRequestSchema(PurgeProjectForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Purge result", PurgeForgeResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register purgeProject route", forge.Error(err))
	}
}

func (req CreateProjectForgeRequest) input() project.Input {
	return project.Input{
		Name:             req.Name,
		RecordingEnabled: req.RecordingEnabled,
		ConsentRequired:  req.ConsentRequired,
		MaskAllInputs:    req.MaskAllInputs,
		MaskSelectors:    req.MaskSelectors,
		RetentionDays:    req.RetentionDays,
		RateLimit:        req.RateLimit,
		Metadata:         req.Metadata,
	}
}

func (a *ForgeAPI) createProject(ctx forge.Context, req *CreateProjectForgeRequest) (*projectWithKey, error) {
	p, err := a.rw.Projects().Create(ctx.Context(), req.input())
	if err != nil {
		return nil, mapError(err)
	}

	err = ctx.JSON(http.StatusCreated, projectWithKey{Project: p, IngestKey: p.IngestKey})
	if err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.JSON.
	return nil, nil
}

func (a *ForgeAPI) listProjects(ctx forge.Context, req *ListProjectsForgeRequest) ([]*project.Project, error) {
	limit := req.Limit
	if limit == 0 {
		limit = 50
	}

	projects, err := a.rw.Projects().List(ctx.Context(), project.ListOpts{
		Offset:  req.Offset,
		Limit:   limit,
		Enabled: parseOptBool(req.Enabled),
	})
	if err != nil {
		return nil, mapError(err)
	}

	return projects, nil
}

func (a *ForgeAPI) getProject(ctx forge.Context, req *ProjectForgeRequest) (*project.Project, error) {
	pid, err := id.ParseProjectID(req.ProjectID)
	if err != nil {
		return nil, forge.BadRequest("invalid project ID")
	}

	p, err := a.rw.Projects().Get(ctx.Context(), pid)
	if err != nil {
		return nil, mapError(err)
	}

	return p, nil
}

func (a *ForgeAPI) updateProject(ctx forge.Context, req *UpdateProjectForgeRequest) (*project.Project, error) {
	pid, err := id.ParseProjectID(req.ProjectID)
	if err != nil {
		return nil, forge.BadRequest("invalid project ID")
	}

	p, err := a.rw.Projects().Update(ctx.Context(), pid, req.input())
	if err != nil {
		return nil, mapError(err)
	}

	return p, nil
}

func (a *ForgeAPI) deleteProject(ctx forge.Context, req *ProjectForgeRequest) (*project.Project, error) {
	pid, err := id.ParseProjectID(req.ProjectID)
	if err != nil {
		return nil, forge.BadRequest("invalid project ID")
	}

	if delErr := a.rw.Projects().Delete(ctx.Context(), pid); delErr != nil {
		return nil, mapError(delErr)
	}

	err = ctx.NoContent(http.StatusNoContent)
	if err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.NoContent.
	return nil, nil
}

func (a *ForgeAPI) rotateKey(ctx forge.Context, req *ProjectForgeRequest) (*KeyForgeResponse, error) {
	pid, err := id.ParseProjectID(req.ProjectID)
	if err != nil {
		return nil, forge.BadRequest("invalid project ID")
	}

	key, err := a.rw.Projects().RotateKey(ctx.Context(), pid)
	if err != nil {
		return nil, mapError(err)
	}

	return &KeyForgeResponse{IngestKey: key}, nil
}

func (a *ForgeAPI) purgeProject(ctx forge.Context, req *PurgeProjectForgeRequest) (*PurgeForgeResponse, error) {
	pid, err := id.ParseProjectID(req.ProjectID)
	if err != nil {
		return nil, forge.BadRequest("invalid project ID")
	}
	before, err := time.Parse(time.RFC3339, req.Before)
	if err != nil {
		return nil, forge.BadRequest("invalid 'before' time format (use RFC3339)")
	}

	if _, getErr := a.rw.Projects().Get(ctx.Context(), pid); getErr != nil {
		return nil, mapError(getErr)
	}
	n, err := a.rw.PurgeSessions(ctx.Context(), pid, before)
	if err != nil {
		return nil, mapError(err)
	}

	return &PurgeForgeResponse{Purged: n}, nil
}

// ---------------------------------------------------------------------------
// Stats routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerStatsRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("stats"))

	if err := g.GET("/stats", a.getStats,
		forge.WithSummary("System statistics"),
		forge.WithDescription("Returns project, definition and quarantine counts."),
		forge.WithOperationID("getStats"),
		forge.WithResponseSchema(http.StatusOK, "System statistics", Stats{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getStats route", forge.Error(err))
	}
}

func (a *ForgeAPI) getStats(ctx forge.Context, _ *StatsForgeRequest) (*Stats, error) {
	st, err := collectStats(ctx.Context(), a.rw)
	if err != nil {
		return nil, mapError(err)
	}
	return st, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func parseOptTime(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, forge.BadRequest("invalid '" + name + "' time format (use RFC3339)")
	}
	return &t, nil
}

func parseOptBool(v string) *bool {
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}
