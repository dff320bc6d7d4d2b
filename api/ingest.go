package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/xraph/rewind/transport"
)

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(transport.HeaderKey)
	if key == "" {
		writeError(w, http.StatusUnauthorized, "missing "+transport.HeaderKey+" header")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "batch exceeds size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if h.verifier != nil {
		if err := h.verifier.Check(body, key,
			r.Header.Get(transport.HeaderTimestamp),
			r.Header.Get(transport.HeaderSignature),
		); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	res, err := h.rw.IngestRaw(r.Context(), key, body)
	if err != nil {
		writeError(w, h.ingestStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *Handler) recorderConfig(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(transport.HeaderKey)
	if key == "" {
		key = queryParam(r, "key")
	}
	if key == "" {
		writeError(w, http.StatusUnauthorized, "missing ingest key")
		return
	}

	settings, err := h.rw.RecorderConfig(r.Context(), key)
	if err != nil {
		writeError(w, h.ingestStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
