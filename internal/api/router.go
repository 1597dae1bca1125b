// Package api exposes the sync operations as JSON over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"lms-course-sync/internal/coursesync"
	"lms-course-sync/internal/domain"
	"lms-course-sync/internal/logging"
)

// Operations is implemented by *coursesync.Service.
type Operations interface {
	TestConnection(ctx context.Context) (coursesync.ConnectionResult, error)
	GetCourses(ctx context.Context, refresh bool) (coursesync.CourseList, error)
	SyncCourses(ctx context.Context, remoteIDs []int64) (domain.SyncSummary, error)
	GetSyncStatus(ctx context.Context) domain.SyncStatusSnapshot
	OmitCourses(ctx context.Context, remoteIDs []int64) (coursesync.OmitResult, error)
	RestoreOmitted(ctx context.Context) (coursesync.RestoreResult, error)
	CleanupOrphaned(ctx context.Context) (coursesync.CleanupResult, error)
	RunScheduledSync(ctx context.Context) bool
	SetAutoSync(ctx context.Context, enabled bool) (coursesync.AutoSyncResult, error)
	RecentLogs(ctx context.Context, n int) ([]logging.Line, error)
	Ping(ctx context.Context) error
}

type Handler struct {
	ops Operations
	log zerolog.Logger
}

func NewHandler(ops Operations, log zerolog.Logger) *Handler {
	return &Handler{ops: ops, log: log.With().Str("component", "api").Logger()}
}

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/connection", h.TestConnection)
		r.Get("/courses", h.GetCourses)
		r.Post("/sync", h.SyncCourses)
		r.Get("/sync/status", h.GetSyncStatus)
		r.Post("/omit", h.OmitCourses)
		r.Post("/omit/restore", h.RestoreOmitted)
		r.Post("/cleanup", h.CleanupOrphaned)
		r.Post("/scheduled/run", h.RunScheduledSync)
		r.Post("/schedule", h.SetAutoSync)
		r.Get("/logs", h.RecentLogs)
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		ev := h.log.Debug()
		if ww.Status() >= 500 {
			ev = h.log.Warn()
		}
		ev.Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}
