package api

import (
	"context"
	"net/http"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/project"
	"github.com/xraph/rewind/quarantine"
)

// Stats is a point-in-time overview of the deployment.
type Stats struct {
	Projects          int   `json:"projects"`
	Definitions       int   `json:"definitions"`
	QuarantinePending int64 `json:"quarantine_pending"`
	QuarantineTotal   int64 `json:"quarantine_total"`
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	st, err := collectStats(r.Context(), h.rw)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func collectStats(ctx context.Context, rw *rewind.Rewind) (*Stats, error) {
	projects, err := rw.Projects().List(ctx, project.ListOpts{})
	if err != nil {
		return nil, err
	}
	defs, err := rw.Catalog().List(ctx, catalog.ListOpts{IncludeDeprecated: true})
	if err != nil {
		return nil, err
	}
	pending, err := rw.Quarantine().Count(ctx, quarantine.ListOpts{Pending: true})
	if err != nil {
		return nil, err
	}
	total, err := rw.Quarantine().Count(ctx, quarantine.ListOpts{})
	if err != nil {
		return nil, err
	}

	return &Stats{
		Projects:          len(projects),
		Definitions:       len(defs),
		QuarantinePending: pending,
		QuarantineTotal:   total,
	}, nil
}
