package api

import (
	"github.com/xraph/rewind/catalog"
)

// ---------------------------------------------------------------------------
// Session requests
// ---------------------------------------------------------------------------

// ListSessionsForgeRequest binds query parameters for GET /sessions.
type ListSessionsForgeRequest struct {
	ProjectID     string `description:"Filter by project"                   query:"project_id"`
	UserID        string `description:"Filter by identified user"           query:"user_id"`
	From          string `description:"Started at or after (RFC3339)"       query:"from"`
	To            string `description:"Started at or before (RFC3339)"      query:"to"`
	HasErrors     string `description:"Only sessions with errors (true/false)" query:"has_errors"`
	HasRageClicks string `description:"Only sessions with rage clicks"      query:"has_rage_clicks"`
	Open          string `description:"Only sessions not yet closed"        query:"open"`
	Offset        int    `description:"Pagination offset"                   query:"offset"`
	Limit         int    `description:"Page size (default 50)"              query:"limit"`
}

// SessionForgeRequest binds the path for /sessions/:id routes.
type SessionForgeRequest struct {
	SessionID string `description:"Session identifier" path:"id"`
}

// ListEventsForgeRequest binds path + query for GET /sessions/:id/events.
type ListEventsForgeRequest struct {
	SessionID string `description:"Session identifier"                          path:"id"`
	After     string `description:"Cursor (timestamp.seq) to read after"        query:"after"`
	Since     int64  `description:"Only events ingested after this sequence"    query:"since"`
	Types     string `description:"Comma-separated event type names"           query:"types"`
	Limit     int    `description:"Page size (default 500)"                     query:"limit"`
}

// ---------------------------------------------------------------------------
// Signal requests
// ---------------------------------------------------------------------------

// ProjectSignalsForgeRequest binds query parameters for GET /signals.
type ProjectSignalsForgeRequest struct {
	ProjectID   string `description:"Project identifier"              query:"project_id"`
	From        string `description:"Sessions started at or after"    query:"from"`
	To          string `description:"Sessions started at or before"   query:"to"`
	MaxSessions int    `description:"Bound on sessions scanned"       query:"max_sessions"`
}

// ListErrorGroupsForgeRequest binds query parameters for GET /error-groups.
type ListErrorGroupsForgeRequest struct {
	ProjectID string `description:"Filter by project"          query:"project_id"`
	From      string `description:"Last seen at or after"      query:"from"`
	To        string `description:"First seen at or before"    query:"to"`
	Offset    int    `description:"Pagination offset"          query:"offset"`
	Limit     int    `description:"Page size (default 50)"     query:"limit"`
}

// GetErrorGroupForgeRequest binds the path for GET /error-groups/:id.
type GetErrorGroupForgeRequest struct {
	GroupID string `description:"Error group identifier" path:"id"`
}

// RebuildErrorGroupsForgeRequest binds the body for POST /error-groups/rebuild.
type RebuildErrorGroupsForgeRequest struct {
	ProjectID string `description:"Project whose groups are regenerated" json:"project_id"`
}

// RebuildForgeResponse reports how many groups a rebuild produced.
type RebuildForgeResponse struct {
	Groups int `json:"groups"`
}

// ---------------------------------------------------------------------------
// Definition requests
// ---------------------------------------------------------------------------

// CreateDefinitionForgeRequest binds the body for POST /definitions.
type CreateDefinitionForgeRequest struct {
	catalog.Definition
	Metadata map[string]string `description:"Arbitrary key-value metadata" json:"metadata,omitempty"`
}

// ListDefinitionsForgeRequest binds query parameters for GET /definitions.
type ListDefinitionsForgeRequest struct {
	Match             string `description:"Glob pattern over names (e.g. checkout.*)" query:"match"`
	Group             string `description:"Filter by group"                           query:"group"`
	IncludeDeprecated string `description:"Include deprecated definitions"            query:"include_deprecated"`
	Offset            int    `description:"Pagination offset"                         query:"offset"`
	Limit             int    `description:"Page size (default 50)"                    query:"limit"`
}

// DefinitionForgeRequest binds the path for /definitions/:name routes.
type DefinitionForgeRequest struct {
	Name string `description:"Definition name" path:"name"`
}

// ---------------------------------------------------------------------------
// Quarantine requests
// ---------------------------------------------------------------------------

// ListQuarantineForgeRequest binds query parameters for GET /quarantine.
type ListQuarantineForgeRequest struct {
	ProjectID string `description:"Filter by project"            query:"project_id"`
	SessionID string `description:"Filter by session"            query:"session_id"`
	Pending   string `description:"Only entries not replayed"    query:"pending"`
	Offset    int    `description:"Pagination offset"            query:"offset"`
	Limit     int    `description:"Page size (default 50)"       query:"limit"`
}

// QuarantineForgeRequest binds the path for /quarantine/:id routes.
type QuarantineForgeRequest struct {
	EntryID string `description:"Quarantine entry identifier" path:"id"`
}

// ---------------------------------------------------------------------------
// Project requests
// ---------------------------------------------------------------------------

// CreateProjectForgeRequest binds the body for POST /projects.
type CreateProjectForgeRequest struct {
	Name             string            `description:"Project name"                        json:"name"`
	RecordingEnabled *bool             `description:"Accept uploads (default true)"       json:"recording_enabled,omitempty"`
	ConsentRequired  *bool             `description:"Record only after consent"           json:"consent_required,omitempty"`
	MaskAllInputs    *bool             `description:"Mask every input value"              json:"mask_all_inputs,omitempty"`
	MaskSelectors    []string          `description:"Selectors whose content is masked"   json:"mask_selectors,omitempty"`
	RetentionDays    *int              `description:"Days sessions are kept (0 = forever)" json:"retention_days,omitempty"`
	RateLimit        *int              `description:"Events per second per session"       json:"rate_limit,omitempty"`
	Metadata         map[string]string `description:"Arbitrary key-value metadata"        json:"metadata,omitempty"`
}

// ListProjectsForgeRequest binds query parameters for GET /projects.
type ListProjectsForgeRequest struct {
	Enabled string `description:"Filter by recording state (true/false)" query:"enabled"`
	Offset  int    `description:"Pagination offset"                      query:"offset"`
	Limit   int    `description:"Page size (default 50)"                 query:"limit"`
}

// ProjectForgeRequest binds the path for /projects/:id routes.
type ProjectForgeRequest struct {
	ProjectID string `description:"Project identifier" path:"id"`
}

// UpdateProjectForgeRequest binds path + body for PUT /projects/:id.
type UpdateProjectForgeRequest struct {
	ProjectID string `description:"Project identifier" path:"id"`
	CreateProjectForgeRequest
}

// PurgeProjectForgeRequest binds path + body for POST /projects/:id/purge.
type PurgeProjectForgeRequest struct {
	ProjectID string `description:"Project identifier"                   path:"id"`
	Before    string `description:"Delete sessions started before (RFC3339)" json:"before"`
}

// PurgeForgeResponse reports how many sessions a purge removed.
type PurgeForgeResponse struct {
	Purged int `json:"purged"`
}

// KeyForgeResponse carries a freshly minted ingest key.
type KeyForgeResponse struct {
	IngestKey string `json:"ingest_key"`
}

// StatsForgeRequest is the empty request for GET /stats.
type StatsForgeRequest struct{}
