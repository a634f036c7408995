// Package api provides the admin HTTP API for webhook management.
//
// The handler is mounted by the Formatic backend under a configurable
// prefix (default: /hooks). Actor identity arrives via the X-Actor-ID and
// X-Actor-Role headers set by the backend's auth layer.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	hooks "github.com/formatic/hooks"
	"github.com/formatic/hooks/actor"
)

// Handler is the root HTTP handler for the hooks admin API.
type Handler struct {
	engine *hooks.Engine
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewHandler creates a new admin API handler.
func NewHandler(eng *hooks.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		engine: eng,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	// Webhooks
	h.mux.HandleFunc("POST /webhooks", h.createWebhook)
	h.mux.HandleFunc("GET /webhooks", h.listWebhooks)
	h.mux.HandleFunc("GET /webhooks/{id}", h.getWebhook)
	h.mux.HandleFunc("PUT /webhooks/{id}", h.updateWebhook)
	h.mux.HandleFunc("DELETE /webhooks/{id}", h.deleteWebhook)
	h.mux.HandleFunc("PATCH /webhooks/{id}/enable", h.enableWebhook)
	h.mux.HandleFunc("PATCH /webhooks/{id}/disable", h.disableWebhook)
	h.mux.HandleFunc("POST /webhooks/{id}/rotate-secret", h.rotateSecret)
	h.mux.HandleFunc("POST /webhooks/{id}/test", h.testWebhook)

	// Approval workflow
	h.mux.HandleFunc("POST /webhooks/{id}/approve", h.approveWebhook)
	h.mux.HandleFunc("POST /webhooks/{id}/reject", h.rejectWebhook)
	h.mux.HandleFunc("POST /webhooks/{id}/reset-review", h.resetReview)
	h.mux.HandleFunc("POST /webhooks/approve-all", h.approveAll)

	// Events
	h.mux.HandleFunc("POST /events", h.dispatchEvent)
	h.mux.HandleFunc("GET /events", h.listEvents)
	h.mux.HandleFunc("GET /events/{id}", h.getEvent)

	// Delivery log
	h.mux.HandleFunc("GET /logs", h.listLogs)
	h.mux.HandleFunc("GET /logs/{id}", h.getLog)
	h.mux.HandleFunc("GET /logs/{id}/sequence", h.getLogSequence)
	h.mux.HandleFunc("POST /logs/{id}/retry", h.retryLog)
	h.mux.HandleFunc("GET /webhooks/{id}/deliveries", h.listDeliveries)
	h.mux.HandleFunc("GET /webhooks/{id}/stats", h.getWebhookStats)

	// Overview
	h.mux.HandleFunc("GET /stats", h.getStats)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(actorContext(next)))
}

// actorContext lifts the caller identity headers into the request context.
func actorContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorID := r.Header.Get("X-Actor-ID")
		if actorID != "" {
			a := actor.Actor{
				ID:   actorID,
				Role: actor.Role(r.Header.Get("X-Actor-Role")),
			}
			r = r.WithContext(actor.WithActor(r.Context(), a))
		}
		next.ServeHTTP(w, r)
	})
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

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
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
	var n int
	for _, c := range v {
		if c < '0' || c > '9' {
			return defaultVal
		}
		n = n*10 + int(c-'0')
	}
	return n
}
