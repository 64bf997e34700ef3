package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/agentmesh/workshop/internal/blobstore"
	"github.com/agentmesh/workshop/internal/registry"
	"github.com/agentmesh/workshop/internal/store"
	"github.com/agentmesh/workshop/internal/workshop"
)

// handler is a server endpoint that may fail with a typed error; the
// router is the sole point that renders the failure (spec §4.K, §7).
type handler struct {
	ws     *workshop.Workshop
	st     *store.Store
	blobs  *blobstore.Store
	reg    *registry.Registry
	logger *slog.Logger
}

// NewRouter builds the complete HTTP surface described in spec §6.
func NewRouter(ws *workshop.Workshop, st *store.Store, blobs *blobstore.Store, reg *registry.Registry, logger *slog.Logger, verbose bool) http.Handler {
	h := &handler{ws: ws, st: st, blobs: blobs, reg: reg, logger: logger}

	mux := http.NewServeMux()

	wrap(mux, "POST /ch/{ch}", h.publish)
	mux.HandleFunc("GET /ch/{ch}", h.subscribeChannel)
	mux.HandleFunc("HEAD /ch/{ch}", h.subscribeChannel)
	wrap(mux, "GET /ch/{ch}/history", h.channelHistory)
	wrap(mux, "GET /history", h.globalHistory)
	wrap(mux, "GET /channels", h.channels)

	wrap(mux, "POST /tasks", h.createTask)
	wrap(mux, "GET /tasks", h.listTasks)
	wrap(mux, "GET /tasks/{id}", h.getTask)
	wrap(mux, "POST /tasks/{id}/claim", h.claimTask)
	wrap(mux, "POST /tasks/{id}/update", h.updateTask)
	wrap(mux, "POST /tasks/{id}/done", h.doneTask)
	wrap(mux, "POST /tasks/{id}/abandon", h.abandonTask)
	wrap(mux, "POST /tasks/{id}/interrupt", h.interruptTask)

	wrap(mux, "POST /files", h.uploadFile)
	wrap(mux, "GET /files/{hash}", h.downloadFile)

	wrap(mux, "POST /presence", h.heartbeat)
	wrap(mux, "GET /presence", h.livePresence)

	mux.HandleFunc("GET /{$}", h.subscribeChannel)
	mux.HandleFunc("HEAD /{$}", h.subscribeChannel)
	wrap(mux, "GET /status", h.status)

	return withLogging(withCORS(mux), logger, verbose)
}

// wrap adapts an error-returning handler into an http.HandlerFunc, rendering
// any returned error through writeError.
func wrap(mux *http.ServeMux, pattern string, fn func(w http.ResponseWriter, r *http.Request) error) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			writeError(w, err)
		}
	})
}

// withCORS sets the permissive cross-origin header spec §6 requires on
// every response and answers preflight requests directly (spec §4.K).
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written so withLogging can report
// it after the fact, mirroring the teacher's request-logging middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush forwards to the wrapped writer so push streams can flush through
// the logging middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// withLogging logs method, path, status, and duration for every request at
// Info level. When verbose is set, the query string and content length are
// attached too; the request body itself is never logged, verbose or not,
// since it may carry arbitrary agent payloads.
func withLogging(next http.Handler, logger *slog.Logger, verbose bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		}
		if verbose {
			args = append(args, "query", r.URL.RawQuery, "content_length", r.ContentLength)
		}
		logger.Info("request", args...)
	})
}
