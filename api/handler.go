// Package api provides the HTTP API for Rewind: batch ingestion, session
// reads and replay, signals, the custom event catalog and quarantine.
//
// All routes are mounted under a configurable prefix (default: /rewind).
package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/feed"
	"github.com/xraph/rewind/project"
	"github.com/xraph/rewind/quarantine"
	"github.com/xraph/rewind/signature"
)

// DefaultMaxBodyBytes bounds an ingestion request body.
const DefaultMaxBodyBytes = 4 << 20

// Handler is the root HTTP handler for the Rewind API.
type Handler struct {
	rw       *rewind.Rewind
	hub      *feed.Hub
	verifier *signature.Verifier
	maxBody  int64
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHub enables the websocket live tail backed by hub.
func WithHub(hub *feed.Hub) HandlerOption {
	return func(h *Handler) { h.hub = hub }
}

// WithVerifier requires signed uploads and checks them with v.
func WithVerifier(v *signature.Verifier) HandlerOption {
	return func(h *Handler) { h.verifier = v }
}

// WithMaxBodyBytes bounds ingestion request bodies.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handler) { h.maxBody = n }
}

// WithCheckOrigin sets the websocket origin policy. The default accepts
// every origin.
func WithCheckOrigin(fn func(r *http.Request) bool) HandlerOption {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

// NewHandler creates a new API handler.
func NewHandler(rw *rewind.Rewind, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		rw:      rw,
		maxBody: DefaultMaxBodyBytes,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	// Ingestion
	h.mux.HandleFunc("POST /ingest", h.ingest)
	h.mux.HandleFunc("GET /recorder-config", h.recorderConfig)

	// Sessions
	h.mux.HandleFunc("GET /sessions", h.listSessions)
	h.mux.HandleFunc("GET /sessions/{id}", h.getSession)
	h.mux.HandleFunc("POST /sessions/{id}/close", h.closeSession)
	h.mux.HandleFunc("GET /sessions/{id}/events", h.listEvents)
	h.mux.HandleFunc("GET /sessions/{id}/replay", h.replaySession)
	h.mux.HandleFunc("GET /sessions/{id}/signals", h.sessionSignals)
	h.mux.HandleFunc("GET /sessions/{id}/live", h.liveTail)

	// Signals
	h.mux.HandleFunc("GET /signals", h.projectSignals)
	h.mux.HandleFunc("GET /error-groups", h.listErrorGroups)
	h.mux.HandleFunc("GET /error-groups/{id}", h.getErrorGroup)
	h.mux.HandleFunc("POST /error-groups/rebuild", h.rebuildErrorGroups)

	// Definitions
	h.mux.HandleFunc("POST /definitions", h.createDefinition)
	h.mux.HandleFunc("GET /definitions", h.listDefinitions)
	h.mux.HandleFunc("GET /definitions/{name}", h.getDefinition)
	h.mux.HandleFunc("DELETE /definitions/{name}", h.deleteDefinition)

	// Quarantine
	h.mux.HandleFunc("GET /quarantine", h.listQuarantine)
	h.mux.HandleFunc("GET /quarantine/{id}", h.getQuarantine)
	h.mux.HandleFunc("POST /quarantine/{id}/replay", h.replayQuarantine)

	// Projects
	h.mux.HandleFunc("POST /projects", h.createProject)
	h.mux.HandleFunc("GET /projects", h.listProjects)
	h.mux.HandleFunc("GET /projects/{id}", h.getProject)
	h.mux.HandleFunc("PUT /projects/{id}", h.updateProject)
	h.mux.HandleFunc("DELETE /projects/{id}", h.deleteProject)
	h.mux.HandleFunc("POST /projects/{id}/rotate-key", h.rotateKey)
	h.mux.HandleFunc("POST /projects/{id}/purge", h.purgeProject)

	// Stats
	h.mux.HandleFunc("GET /stats", h.getStats)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(next))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer so the websocket upgrade can reach
// its Hijacker.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack lets the live tail take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("api: response writer cannot hijack")
	}
	rw.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps a sentinel error to its status and writes it.
func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusOf(err), err.Error())
}

// ingestStatus maps errors on the ingestion path, where an unknown key is
// an authentication failure rather than a missing resource.
func (h *Handler) ingestStatus(err error) int {
	return rewind.HTTPStatus(err)
}

// statusOf maps rewind sentinel errors to HTTP status codes.
func statusOf(err error) int {
	var verr *project.ValidationError
	switch {
	case errors.Is(err, rewind.ErrSessionNotFound),
		errors.Is(err, rewind.ErrEventNotFound),
		errors.Is(err, rewind.ErrDefinitionNotFound),
		errors.Is(err, rewind.ErrQuarantineNotFound),
		errors.Is(err, rewind.ErrErrorGroupNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrInvalidDefinition),
		errors.Is(err, rewind.ErrPayloadValidationFailed),
		errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, rewind.ErrDefinitionDeprecated),
		errors.Is(err, catalog.ErrUndefined),
		errors.Is(err, quarantine.ErrReplayed):
		return http.StatusConflict
	case errors.Is(err, rewind.ErrProjectNotFound):
		return http.StatusNotFound
	}
	return rewind.HTTPStatus(err)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryParam returns a query parameter value, or empty string if not present.
func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryInt returns a query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}

// queryBool returns a pointer to a boolean query parameter, nil when absent
// or unparsable.
func queryBool(r *http.Request, key string) *bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}

// queryTime parses an RFC 3339 query parameter. A missing parameter is
// nil with no error.
func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, errors.New("invalid '" + key + "' time format (use RFC3339)")
	}
	return &t, nil
}
