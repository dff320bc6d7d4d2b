package project

import (
	"context"

	"github.com/xraph/rewind/id"
)

// Store defines the persistence contract for projects.
type Store interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, projectID id.ID) (*Project, error)

	// GetProjectByKey resolves an ingest key. This is the hot path of
	// every upload.
	GetProjectByKey(ctx context.Context, key string) (*Project, error)

	UpdateProject(ctx context.Context, p *Project) error
	DeleteProject(ctx context.Context, projectID id.ID) error
	ListProjects(ctx context.Context, opts ListOpts) ([]*Project, error)
}
