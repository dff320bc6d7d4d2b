package api

import (
	"net/http"
	"time"

	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/project"
)

// projectWithKey is returned when a key is minted. It is the only response
// that carries the ingest key.
type projectWithKey struct {
	*project.Project
	IngestKey string `json:"ingest_key"`
}

func (h *Handler) createProject(w http.ResponseWriter, r *http.Request) {
	var in project.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := h.rw.Projects().Create(r.Context(), in)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, projectWithKey{Project: p, IngestKey: p.IngestKey})
}

func (h *Handler) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.rw.Projects().List(r.Context(), project.ListOpts{
		Offset:  queryInt(r, "offset", 0),
		Limit:   queryInt(r, "limit", 50),
		Enabled: queryBool(r, "enabled"),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if projects == nil {
		projects = []*project.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	p, err := h.rw.Projects().Get(r.Context(), pid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) updateProject(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	var in project.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := h.rw.Projects().Update(r.Context(), pid, in)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) deleteProject(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	if err := h.rw.Projects().Delete(r.Context(), pid); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rotateKey(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	key, err := h.rw.Projects().RotateKey(r.Context(), pid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ingest_key": key})
}

type purgeRequest struct {
	Before time.Time `json:"before"`
}

func (h *Handler) purgeProject(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectIDParam(w, r)
	if !ok {
		return
	}
	var req purgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Before.IsZero() {
		writeError(w, http.StatusBadRequest, "before is required")
		return
	}
	if _, err := h.rw.Projects().Get(r.Context(), pid); err != nil {
		writeErr(w, err)
		return
	}
	n, err := h.rw.PurgeSessions(r.Context(), pid, req.Before)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}

func projectIDParam(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	pid, err := id.ParseProjectID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return id.Nil, false
	}
	return pid, true
}
