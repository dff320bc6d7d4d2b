package api

import (
	"net/http"

	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/session"
)

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	opts := session.ListOpts{
		Offset:   queryInt(r, "offset", 0),
		Limit:    queryInt(r, "limit", 50),
		UserID:   queryParam(r, "user_id"),
		OnlyOpen: queryParam(r, "open") == "true",
	}

	if v := queryParam(r, "project_id"); v != "" {
		pid, err := id.ParseProjectID(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid project_id")
			return
		}
		opts.ProjectID = pid
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
	opts.HasErrors = queryBool(r, "has_errors")
	opts.HasRageClicks = queryBool(r, "has_rage_clicks")

	sessions, err := h.rw.ListSessions(r.Context(), opts)
	if err != nil {
		writeErr(w, err)
		return
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	sess, err := h.rw.Session(r.Context(), sid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	sess, err := h.rw.CloseSession(r.Context(), sid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// eventPage is one page of a session's stream. Next is the cursor to pass
// as "after" for the following page, empty when the page was not full.
type eventPage struct {
	Events []*event.Event `json:"events"`
	Next   string         `json:"next,omitempty"`
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	opts := event.ListOpts{
		Limit:    queryInt(r, "limit", 500),
		SinceSeq: int64(queryInt(r, "since", 0)),
	}
	if v := queryParam(r, "after"); v != "" {
		c, err := event.ParseCursor(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.After = &c
	}
	types, err := event.ParseTypes(queryParam(r, "types"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts.Types = types

	events, err := h.rw.Events(r.Context(), sid, opts)
	if err != nil {
		writeErr(w, err)
		return
	}

	page := eventPage{Events: events}
	if page.Events == nil {
		page.Events = []*event.Event{}
	}
	if opts.Limit > 0 && len(events) == opts.Limit {
		page.Next = event.CursorOf(events[len(events)-1]).String()
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) replaySession(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	data, err := h.rw.Replay(r.Context(), sid)
	if err != nil {
		writeErr(w, err)
		return
	}
	if data.Events == nil {
		data.Events = []*event.Event{}
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *Handler) sessionSignals(w http.ResponseWriter, r *http.Request) {
	sid, ok := sessionIDParam(w, r)
	if !ok {
		return
	}
	rep, err := h.rw.SessionSignals(r.Context(), sid)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func sessionIDParam(w http.ResponseWriter, r *http.Request) (id.ID, bool) {
	sid, err := id.ParseSessionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return id.Nil, false
	}
	return sid, true
}
