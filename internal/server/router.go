// Package server exposes the daemon's health, status and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/connectivity"
	"github.com/goliatone/go-offline-sync/internal/logging"
	"github.com/goliatone/go-offline-sync/prefetch"
	"github.com/goliatone/go-offline-sync/syncqueue"
)

// Oracle reports the cached connectivity flag.
type Oracle interface {
	Status() connectivity.Status
}

// Queue reports queue counters.
type Queue interface {
	Stats(ctx context.Context) (syncqueue.Stats, error)
}

// Syncer drains the queue on demand.
type Syncer interface {
	Sync(ctx context.Context) error
}

// Navigator warms the pages predicted from the current one.
type Navigator interface {
	Navigate(ctx context.Context, page string) []prefetch.Prediction
}

// Deps are the components behind the routes. Nil members disable their
// routes, except Oracle and Queue which /status requires.
type Deps struct {
	Oracle    Oracle
	Queue     Queue
	Syncer    Syncer
	Navigator Navigator
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Online    bool            `json:"online"`
	CheckedAt time.Time       `json:"checked_at"`
	Queue     syncqueue.Stats `json:"queue"`
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	logger := logging.WithModule(d.Logger, "server")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		stats, err := d.Queue.Stats(req.Context())
		if err != nil {
			logger.Error("queue stats failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		status := d.Oracle.Status()
		writeJSON(w, http.StatusOK, StatusResponse{
			Online:    status.Online,
			CheckedAt: status.CheckedAt,
			Queue:     stats,
		})
	})

	if d.Syncer != nil {
		r.Post("/sync", func(w http.ResponseWriter, req *http.Request) {
			if err := d.Syncer.Sync(req.Context()); err != nil {
				writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]bool{"success": true})
		})
	}

	if d.Navigator != nil {
		r.Post("/prefetch", func(w http.ResponseWriter, req *http.Request) {
			page := req.URL.Query().Get("page")
			if page == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "page is required"})
				return
			}
			predictions := d.Navigator.Navigate(req.Context(), page)
			writeJSON(w, http.StatusAccepted, map[string]int{"predictions": len(predictions)})
		})
	}

	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
