package api

import (
	"net/http"

	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/quarantine"
)

func (h *Handler) listQuarantine(w http.ResponseWriter, r *http.Request) {
	opts := quarantine.ListOpts{
		Offset:  queryInt(r, "offset", 0),
		Limit:   queryInt(r, "limit", 50),
		Pending: queryParam(r, "pending") == "true",
	}
	pid, ok := projectIDQuery(w, r)
	if !ok {
		return
	}
	opts.ProjectID = pid
	if v := queryParam(r, "session_id"); v != "" {
		sid, err := id.ParseSessionID(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid session_id")
			return
		}
		opts.SessionID = sid
	}

	entries, err := h.rw.Quarantine().List(r.Context(), opts)
	if err != nil {
		writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []*quarantine.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) getQuarantine(w http.ResponseWriter, r *http.Request) {
	qid, ok := quarantineIDParam(w, r)
	if !ok {
		return
	}
	entry, err := h.rw.Quarantine().Get(r.Context(), qid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) replayQuarantine(w http.ResponseWriter, r *http.Request) {
	qid, ok := quarantineIDParam(w, r)
	if !ok {
		return
	}
	if err := h.rw.ReplayQuarantined(r.Context(), qid); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "replayed"})
}

func quarantineIDParam(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	qid, err := id.ParseQuarantineID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid quarantine id")
		return id.Nil, false
	}
	return qid, true
}
