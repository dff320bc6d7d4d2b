package api

import (
	"net/http"

	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/signal"
)

func (h *Handler) projectSignals(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectIDQuery(w, r)
	if !ok {
		return
	}
	q := signal.ProjectQuery{
		ProjectID:   pid,
		MaxSessions: queryInt(r, "max_sessions", 0),
	}
	var err error
	if q.From, err = queryTime(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.To, err = queryTime(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := h.rw.ProjectSignals(r.Context(), q)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) listErrorGroups(w http.ResponseWriter, r *http.Request) {
	pid, ok := projectIDQuery(w, r)
	if !ok {
		return
	}
	opts := signal.ListOpts{
		Offset:    queryInt(r, "offset", 0),
		Limit:     queryInt(r, "limit", 50),
		ProjectID: pid,
	}
	var err error
	if opts.From, err = queryTime(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if opts.To, err = queryTime(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	groups, err := h.rw.ErrorGroups(r.Context(), opts)
	if err != nil {
		writeErr(w, err)
		return
	}
	if groups == nil {
		groups = []*signal.ErrorGroup{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *Handler) getErrorGroup(w http.ResponseWriter, r *http.Request) {
	gid, err := id.ParseErrorGroupID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid error group id")
		return
	}
	g, err := h.rw.Signals().GetErrorGroup(r.Context(), gid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

type rebuildRequest struct {
	ProjectID id.ID `json:"project_id"`
}

func (h *Handler) rebuildErrorGroups(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProjectID.IsNil() {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	n, err := h.rw.RebuildErrorGroups(r.Context(), req.ProjectID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"groups": n})
}

// projectIDQuery parses the optional project_id query parameter.
func projectIDQuery(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	v := queryParam(r, "project_id")
	if v == "" {
		return id.Nil, true
	}
	pid, err := id.ParseProjectID(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project_id")
		return id.Nil, false
	}
	return pid, true
}
