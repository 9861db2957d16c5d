// =============================================================================
// Merchant Analytics - HTTP API
// =============================================================================
//
// A thin read and enqueue surface over the store and the sync queue.
//
// ROUTES:
//   GET  /healthz
//   GET  /metrics
//   GET  /api/periods
//   GET  /api/periods/{period}/merged
//   GET  /api/periods/{period}/summary
//   GET  /api/periods/{period}/top?metric=&n=
//   GET  /api/periods/{period}/agents
//   GET  /api/trends/volume
//   GET  /api/ingestions?limit=
//   POST /api/sync/jobs
//   GET  /api/sync/jobs/{id}
//   DELETE /api/sync/jobs/{id}
//   GET  /api/sync/stats
//
// =============================================================================

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/ginjaninja78/merchant-analytics/internal/crm"
	"github.com/ginjaninja78/merchant-analytics/internal/metrics"
	"github.com/ginjaninja78/merchant-analytics/internal/residuals"
	"github.com/ginjaninja78/merchant-analytics/internal/store"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

const shutdownTimeout = 10 * time.Second

// Reader is the read side of the store used by the API.
type Reader interface {
	Ping(ctx context.Context) error
	Periods(ctx context.Context) ([]string, error)
	MergedByPeriod(ctx context.Context, period string) ([]types.MergedRecord, error)
	AgentEarningsByPeriod(ctx context.Context, period string) ([]residuals.AgentEarning, error)
	MerchantsByPeriod(ctx context.Context, period string) ([]types.MerchantRecord, error)
	MerchantHistory(ctx context.Context) (map[string][]types.MerchantRecord, error)
	ResidualHistory(ctx context.Context) (map[string][]types.ResidualRecord, error)
	IngestionLogs(ctx context.Context, limit int) ([]store.IngestionLog, error)
}

// Jobs is the sync queue as seen by the API.
type Jobs interface {
	Enqueue(jobType crm.JobType, year, month, priority int) (crm.Job, error)
	Get(id string) (crm.Job, bool)
	Cancel(id string) error
	Stats() map[crm.JobStatus]int
}

// Server serves the analytics API.
type Server struct {
	reader   Reader
	jobs     Jobs
	metrics  *metrics.Metrics
	validate *validator.Validate
	logger   *slog.Logger
	router   chi.Router
}

// New builds the router. jobs and m may be nil; the sync routes then
// answer 503 and /metrics is not mounted.
func New(reader Reader, jobs Jobs, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		reader:   reader,
		jobs:     jobs,
		metrics:  m,
		validate: validator.New(),
		logger:   logger.With(slog.String("component", "http")),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/periods", s.listPeriods)
		r.Route("/periods/{period}", func(r chi.Router) {
			r.Use(periodCtx)
			r.Get("/merged", s.periodMerged)
			r.Get("/summary", s.periodSummary)
			r.Get("/top", s.periodTop)
			r.Get("/agents", s.periodAgents)
		})
		r.Get("/trends/volume", s.volumeTrend)
		r.Get("/ingestions", s.listIngestions)

		r.Route("/sync", func(r chi.Router) {
			r.Post("/jobs", s.createSyncJob)
			r.Get("/jobs/{id}", s.getSyncJob)
			r.Delete("/jobs/{id}", s.cancelSyncJob)
			r.Get("/stats", s.syncStats)
		})
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// renderError writes err, logging server-side failures.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, apiErr *APIError, cause error) {
	if apiErr.StatusCode >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", cause),
		)
	}
	render.Render(w, r, apiErr)
}
