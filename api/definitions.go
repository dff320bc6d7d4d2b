package api

import (
	"net/http"

	"github.com/xraph/rewind/catalog"
)

type createDefinitionRequest struct {
	catalog.Definition
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (h *Handler) createDefinition(w http.ResponseWriter, r *http.Request) {
	var req createDefinitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	var opts []catalog.RegisterOption
	if len(req.Metadata) > 0 {
		opts = append(opts, catalog.WithMetadata(req.Metadata))
	}
	def, err := h.rw.Catalog().Register(r.Context(), req.Definition, opts...)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

func (h *Handler) listDefinitions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		defs []*catalog.EventDefinition
		err  error
	)
	if pattern := queryParam(r, "match"); pattern != "" {
		defs, err = h.rw.Catalog().Matching(ctx, pattern)
	} else {
		defs, err = h.rw.Catalog().List(ctx, catalog.ListOpts{
			Offset:            queryInt(r, "offset", 0),
			Limit:             queryInt(r, "limit", 50),
			Group:             queryParam(r, "group"),
			IncludeDeprecated: queryParam(r, "include_deprecated") == "true",
		})
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	if defs == nil {
		defs = []*catalog.EventDefinition{}
	}
	writeJSON(w, http.StatusOK, defs)
}

func (h *Handler) getDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := h.rw.Catalog().Get(r.Context(), r.PathValue("name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// deleteDefinition deprecates a definition. Definitions are never removed
// so quarantined events keep a resolvable name.
func (h *Handler) deleteDefinition(w http.ResponseWriter, r *http.Request) {
	if err := h.rw.Catalog().Deprecate(r.Context(), r.PathValue("name")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
