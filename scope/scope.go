// Package scope carries the project a request acts for through a context.
// Ingestion sets it once the ingest key is resolved; read paths use it as
// the default project filter.
package scope

import (
	"context"

	"github.com/xraph/rewind/id"
)

type projectKey struct{}

// WithProject returns a context scoped to projectID. A nil id returns ctx
// unchanged.
func WithProject(ctx context.Context, projectID id.ID) context.Context {
	if projectID.IsNil() {
		return ctx
	}
	return context.WithValue(ctx, projectKey{}, projectID)
}

// Project returns the scoped project id and whether one is set.
func Project(ctx context.Context) (id.ID, bool) {
	pid, ok := ctx.Value(projectKey{}).(id.ID)
	return pid, ok && !pid.IsNil()
}

// Capture extracts the scoped project as a string for handing to work
// that outlives the request, such as quarantine replay.
// Returns an empty string when no project is scoped.
func Capture(ctx context.Context) string {
	pid, ok := Project(ctx)
	if !ok {
		return ""
	}
	return pid.String()
}

// Restore re-applies a captured scope. Empty or unparsable values return
// the context unchanged.
func Restore(ctx context.Context, projectID string) context.Context {
	if projectID == "" {
		return ctx
	}
	pid, err := id.ParseProjectID(projectID)
	if err != nil {
		return ctx
	}
	return WithProject(ctx, pid)
}
