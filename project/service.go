// Package project manages recording projects and their ingest keys.
package project

import (
	"context"
	"log/slog"
	"strings"

	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/internal/entity"
	"github.com/xraph/rewind/signature"
)

// Service provides project management operations.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new project service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Create registers a project with a fresh ingest key. Recording is enabled
// unless the input says otherwise.
func (svc *Service) Create(ctx context.Context, in Input) (*Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "required"}
	}
	if err := validate(in); err != nil {
		return nil, err
	}

	p := &Project{
		Entity:           entity.New(),
		ID:               id.NewProjectID(),
		Name:             name,
		IngestKey:        signature.GenerateKey(),
		RecordingEnabled: true,
		MaskSelectors:    in.MaskSelectors,
		Metadata:         in.Metadata,
	}
	apply(p, in)

	if err := svc.store.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	svc.logger.InfoContext(ctx, "project created", "project_id", p.ID, "name", p.Name)
	return p, nil
}

// Get returns a project by id.
func (svc *Service) Get(ctx context.Context, projectID id.ID) (*Project, error) {
	return svc.store.GetProject(ctx, projectID)
}

// GetByKey resolves an ingest key.
func (svc *Service) GetByKey(ctx context.Context, key string) (*Project, error) {
	return svc.store.GetProjectByKey(ctx, key)
}

// Update modifies an existing project.
func (svc *Service) Update(ctx context.Context, projectID id.ID, in Input) (*Project, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	p, err := svc.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(in.Name); name != "" {
		p.Name = name
	}
	if in.MaskSelectors != nil {
		p.MaskSelectors = in.MaskSelectors
	}
	if in.Metadata != nil {
		p.Metadata = in.Metadata
	}
	apply(p, in)
	p.Touch()

	if err := svc.store.UpdateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// SetRecording enables or disables ingestion for a project.
func (svc *Service) SetRecording(ctx context.Context, projectID id.ID, enabled bool) error {
	_, err := svc.Update(ctx, projectID, Input{RecordingEnabled: &enabled})
	return err
}

// Delete removes a project. Its sessions are not touched.
func (svc *Service) Delete(ctx context.Context, projectID id.ID) error {
	return svc.store.DeleteProject(ctx, projectID)
}

// List returns projects.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Project, error) {
	return svc.store.ListProjects(ctx, opts)
}

// RotateKey replaces the ingest key and returns the new one. The old key
// stops working immediately.
func (svc *Service) RotateKey(ctx context.Context, projectID id.ID) (string, error) {
	p, err := svc.store.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}

	p.IngestKey = signature.GenerateKey()
	p.Touch()
	if err := svc.store.UpdateProject(ctx, p); err != nil {
		return "", err
	}
	svc.logger.InfoContext(ctx, "ingest key rotated", "project_id", p.ID)
	return p.IngestKey, nil
}

func validate(in Input) error {
	if in.RetentionDays != nil && *in.RetentionDays < 0 {
		return &ValidationError{Field: "retention_days", Message: "must not be negative"}
	}
	if in.RateLimit != nil && *in.RateLimit < 0 {
		return &ValidationError{Field: "rate_limit", Message: "must not be negative"}
	}
	for _, sel := range in.MaskSelectors {
		if strings.TrimSpace(sel) == "" {
			return &ValidationError{Field: "mask_selectors", Message: "empty selector"}
		}
	}
	return nil
}

func apply(p *Project, in Input) {
	if in.RecordingEnabled != nil {
		p.RecordingEnabled = *in.RecordingEnabled
	}
	if in.ConsentRequired != nil {
		p.ConsentRequired = *in.ConsentRequired
	}
	if in.MaskAllInputs != nil {
		p.MaskAllInputs = *in.MaskAllInputs
	}
	if in.RetentionDays != nil {
		p.RetentionDays = *in.RetentionDays
	}
	if in.RateLimit != nil {
		p.RateLimit = *in.RateLimit
	}
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "project validation: " + e.Field + ": " + e.Message
}
