package postgres

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/xraph/grove"

	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/internal/entity"
	"github.com/xraph/rewind/project"
	"github.com/xraph/rewind/quarantine"
	"github.com/xraph/rewind/session"
	"github.com/xraph/rewind/signal"
)

// --- Session models ---

type sessionModel struct {
	grove.BaseModel `grove:"table:rewind_sessions"`

	ID            string     `grove:"id,pk"`
	ProjectID     string     `grove:"project_id"`
	UserID        string     `grove:"user_id"`
	UserAgent     string     `grove:"user_agent"`
	Browser       string     `grove:"browser"`
	OS            string     `grove:"os"`
	Device        string     `grove:"device"`
	Country       string     `grove:"country"`
	EntryURL      string     `grove:"entry_url"`
	StartedAt     time.Time  `grove:"started_at"`
	EndedAt       *time.Time `grove:"ended_at"`
	LastSeenAt    time.Time  `grove:"last_seen_at"`
	Partial       bool       `grove:"partial"`
	NextSeq       int64      `grove:"next_seq"`
	DurationMs    int64      `grove:"duration_ms"`
	PageCount     int        `grove:"page_count"`
	EventCount    int64      `grove:"event_count"`
	ClickCount    int        `grove:"click_count"`
	ErrorCount    int        `grove:"error_count"`
	HasRageClicks bool       `grove:"has_rage_clicks"`
	HasErrors     bool       `grove:"has_errors"`
	CreatedAt     time.Time  `grove:"created_at"`
	UpdatedAt     time.Time  `grove:"updated_at"`
}

func toSessionModel(s *session.Session) *sessionModel {
	return &sessionModel{
		ID:            s.ID.String(),
		ProjectID:     s.ProjectID.String(),
		UserID:        s.UserID,
		UserAgent:     s.UserAgent,
		Browser:       s.Browser,
		OS:            s.OS,
		Device:        s.Device,
		Country:       s.Country,
		EntryURL:      s.EntryURL,
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
		LastSeenAt:    s.LastSeenAt,
		Partial:       s.Partial,
		NextSeq:       s.NextSeq,
		DurationMs:    s.DurationMs,
		PageCount:     s.PageCount,
		EventCount:    s.EventCount,
		ClickCount:    s.ClickCount,
		ErrorCount:    s.ErrorCount,
		HasRageClicks: s.HasRageClicks,
		HasErrors:     s.HasErrors,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func fromSessionModel(m *sessionModel) (*session.Session, error) {
	sid, err := id.ParseSessionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse session ID %q: %w", m.ID, err)
	}
	pid, err := id.ParseProjectID(m.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("parse project ID %q: %w", m.ProjectID, err)
	}
	return &session.Session{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         sid,
		ProjectID:  pid,
		UserID:     m.UserID,
		UserAgent:  m.UserAgent,
		Browser:    m.Browser,
		OS:         m.OS,
		Device:     m.Device,
		Country:    m.Country,
		EntryURL:   m.EntryURL,
		StartedAt:  m.StartedAt,
		EndedAt:    m.EndedAt,
		LastSeenAt: m.LastSeenAt,
		Partial:    m.Partial,
		NextSeq:    m.NextSeq,
		Summary: session.Summary{
			DurationMs:    m.DurationMs,
			PageCount:     m.PageCount,
			EventCount:    m.EventCount,
			ClickCount:    m.ClickCount,
			ErrorCount:    m.ErrorCount,
			HasRageClicks: m.HasRageClicks,
			HasErrors:     m.HasErrors,
		},
	}, nil
}

type batchModel struct {
	grove.BaseModel `grove:"table:rewind_session_batches"`

	SessionID string    `grove:"session_id,pk"`
	BatchID   string    `grove:"batch_id,pk"`
	ClaimedAt time.Time `grove:"claimed_at"`
}

// --- Event models ---

// eventModel keeps the full wire form in Data; the other columns exist for
// ordering and filtering.
type eventModel struct {
	grove.BaseModel `grove:"table:rewind_events"`

	SessionID string          `grove:"session_id,pk"`
	Seq       int64           `grove:"seq,pk"`
	Timestamp int64           `grove:"ts"`
	Type      int             `grove:"type"`
	URL       string          `grove:"url"`
	Data      json.RawMessage `grove:"data,type:jsonb"`
}

func toEventModel(sessionID id.ID, e *event.Event) (*eventModel, error) {
	c := e.Clone()
	c.SessionID = sessionID
	raw, err := event.Encode(c)
	if err != nil {
		return nil, err
	}
	return &eventModel{
		SessionID: sessionID.String(),
		Seq:       c.Seq,
		Timestamp: c.Timestamp,
		Type:      int(c.Type),
		URL:       c.URL,
		Data:      raw,
	}, nil
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	e, err := event.Decode(m.Data)
	if err != nil {
		return nil, fmt.Errorf("decode event %s/%d: %w", m.SessionID, m.Seq, err)
	}
	return e, nil
}

// --- Error group models ---

type errorGroupModel struct {
	grove.BaseModel `grove:"table:rewind_error_groups"`

	ID          string    `grove:"id,pk"`
	ProjectID   string    `grove:"project_id"`
	Fingerprint string    `grove:"fingerprint"`
	Message     string    `grove:"message"`
	TopFrame    string    `grove:"top_frame"`
	Count       int64     `grove:"count"`
	FirstSeen   time.Time `grove:"first_seen"`
	LastSeen    time.Time `grove:"last_seen"`
	SessionIDs  []string  `grove:"session_ids,array"`
	Pages       []string  `grove:"pages,array"`
	CreatedAt   time.Time `grove:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"`
}

func toErrorGroupModel(g *signal.ErrorGroup) *errorGroupModel {
	return &errorGroupModel{
		ID:          g.ID.String(),
		ProjectID:   g.ProjectID.String(),
		Fingerprint: g.Fingerprint,
		Message:     g.Message,
		TopFrame:    g.TopFrame,
		Count:       g.Count,
		FirstSeen:   g.FirstSeen,
		LastSeen:    g.LastSeen,
		SessionIDs:  nonNil(g.SessionIDs),
		Pages:       nonNil(g.Pages),
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}

func fromErrorGroupModel(m *errorGroupModel) (*signal.ErrorGroup, error) {
	gid, err := id.ParseErrorGroupID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse error group ID %q: %w", m.ID, err)
	}
	pid, err := id.ParseProjectID(m.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("parse project ID %q: %w", m.ProjectID, err)
	}

	return &signal.ErrorGroup{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          gid,
		ProjectID:   pid,
		Fingerprint: m.Fingerprint,
		Message:     m.Message,
		TopFrame:    m.TopFrame,
		Count:       m.Count,
		FirstSeen:   m.FirstSeen,
		LastSeen:    m.LastSeen,
		SessionIDs:  m.SessionIDs,
		Pages:       m.Pages,
	}, nil
}

// --- Event definition models ---

type definitionModel struct {
	grove.BaseModel `grove:"table:rewind_event_definitions"`

	ID           string            `grove:"id,pk"`
	Name         string            `grove:"name,unique"`
	Description  string            `grove:"description"`
	GroupName    string            `grove:"group_name"`
	Schema       json.RawMessage   `grove:"schema,type:jsonb"`
	Version      string            `grove:"version"`
	Example      json.RawMessage   `grove:"example,type:jsonb"`
	IsDeprecated bool              `grove:"is_deprecated"`
	DeprecatedAt *time.Time        `grove:"deprecated_at"`
	Metadata     map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt    time.Time         `grove:"created_at"`
	UpdatedAt    time.Time         `grove:"updated_at"`
}

func toDefinitionModel(d *catalog.EventDefinition) *definitionModel {
	return &definitionModel{
		ID:           d.ID.String(),
		Name:         d.Definition.Name,
		Description:  d.Definition.Description,
		GroupName:    d.Definition.Group,
		Schema:       d.Definition.Schema,
		Version:      d.Definition.Version,
		Example:      d.Definition.Example,
		IsDeprecated: d.Deprecated,
		DeprecatedAt: d.DeprecatedAt,
		Metadata:     d.Metadata,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func fromDefinitionModel(m *definitionModel) (*catalog.EventDefinition, error) {
	defID, err := id.ParseWithPrefix(m.ID, id.PrefixDefinition)
	if err != nil {
		return nil, fmt.Errorf("parse definition ID %q: %w", m.ID, err)
	}

	return &catalog.EventDefinition{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID: defID,
		Definition: catalog.Definition{
			Name:        m.Name,
			Description: m.Description,
			Group:       m.GroupName,
			Schema:      m.Schema,
			Version:     m.Version,
			Example:     m.Example,
		},
		Deprecated:   m.IsDeprecated,
		DeprecatedAt: m.DeprecatedAt,
		Metadata:     m.Metadata,
	}, nil
}

// --- Quarantine models ---

type quarantineModel struct {
	grove.BaseModel `grove:"table:rewind_quarantine"`

	ID         string     `grove:"id,pk"`
	ProjectID  string     `grove:"project_id"`
	SessionID  string     `grove:"session_id"`
	BatchID    string     `grove:"batch_id"`
	Index      int        `grove:"idx"`
	Code       int        `grove:"code"`
	Kind       string     `grove:"kind"`
	Reason     string     `grove:"reason"`
	Raw        []byte     `grove:"raw"`
	FailedAt   time.Time  `grove:"failed_at"`
	ReplayedAt *time.Time `grove:"replayed_at"`
	CreatedAt  time.Time  `grove:"created_at"`
	UpdatedAt  time.Time  `grove:"updated_at"`
}

func toQuarantineModel(e *quarantine.Entry) *quarantineModel {
	return &quarantineModel{
		ID:         e.ID.String(),
		ProjectID:  e.ProjectID.String(),
		SessionID:  e.SessionID.String(),
		BatchID:    e.BatchID.String(),
		Index:      e.Index,
		Code:       int(e.Code),
		Kind:       e.Kind,
		Reason:     e.Reason,
		Raw:        e.Raw,
		FailedAt:   e.FailedAt,
		ReplayedAt: e.ReplayedAt,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

func fromQuarantineModel(m *quarantineModel) (*quarantine.Entry, error) {
	qid, err := id.ParseQuarantineID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse quarantine ID %q: %w", m.ID, err)
	}
	e := &quarantine.Entry{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         qid,
		Index:      m.Index,
		Code:       event.Type(m.Code),
		Kind:       m.Kind,
		Reason:     m.Reason,
		Raw:        m.Raw,
		FailedAt:   m.FailedAt,
		ReplayedAt: m.ReplayedAt,
	}
	if e.ProjectID, err = parseOptional(m.ProjectID, id.ParseProjectID); err != nil {
		return nil, err
	}
	if e.SessionID, err = parseOptional(m.SessionID, id.ParseSessionID); err != nil {
		return nil, err
	}
	if e.BatchID, err = parseOptional(m.BatchID, id.ParseBatchID); err != nil {
		return nil, err
	}
	return e, nil
}

// --- Project models ---

type projectModel struct {
	grove.BaseModel `grove:"table:rewind_projects"`

	ID               string            `grove:"id,pk"`
	Name             string            `grove:"name"`
	IngestKey        string            `grove:"ingest_key,unique"`
	RecordingEnabled bool              `grove:"recording_enabled"`
	ConsentRequired  bool              `grove:"consent_required"`
	MaskAllInputs    bool              `grove:"mask_all_inputs"`
	MaskSelectors    []string          `grove:"mask_selectors,array"`
	RetentionDays    int               `grove:"retention_days"`
	RateLimit        int               `grove:"rate_limit"`
	Metadata         map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt        time.Time         `grove:"created_at"`
	UpdatedAt        time.Time         `grove:"updated_at"`
}

func toProjectModel(p *project.Project) *projectModel {
	return &projectModel{
		ID:               p.ID.String(),
		Name:             p.Name,
		IngestKey:        p.IngestKey,
		RecordingEnabled: p.RecordingEnabled,
		ConsentRequired:  p.ConsentRequired,
		MaskAllInputs:    p.MaskAllInputs,
		MaskSelectors:    nonNil(p.MaskSelectors),
		RetentionDays:    p.RetentionDays,
		RateLimit:        p.RateLimit,
		Metadata:         p.Metadata,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func fromProjectModel(m *projectModel) (*project.Project, error) {
	pid, err := id.ParseProjectID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse project ID %q: %w", m.ID, err)
	}

	var selectors []string
	if len(m.MaskSelectors) > 0 {
		selectors = m.MaskSelectors
	}

	return &project.Project{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:               pid,
		Name:             m.Name,
		IngestKey:        m.IngestKey,
		RecordingEnabled: m.RecordingEnabled,
		ConsentRequired:  m.ConsentRequired,
		MaskAllInputs:    m.MaskAllInputs,
		MaskSelectors:    selectors,
		RetentionDays:    m.RetentionDays,
		RateLimit:        m.RateLimit,
		Metadata:         m.Metadata,
	}, nil
}

// --- helpers ---

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func parseOptional(s string, parse func(string) (id.ID, error)) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	v, err := parse(s)
	if err != nil {
		return id.Nil, fmt.Errorf("parse ID %q: %w", s, err)
	}
	return v, nil
}
