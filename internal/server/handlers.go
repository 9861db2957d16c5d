// =============================================================================
// Merchant Analytics - API Handlers
// =============================================================================

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/ginjaninja78/merchant-analytics/internal/analytics"
	"github.com/ginjaninja78/merchant-analytics/internal/crm"
	"github.com/ginjaninja78/merchant-analytics/internal/store"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

const (
	defaultTopN     = 10
	maxTopN         = 1000
	summaryTopCount = 5

	defaultIngestionLimit = 50
	maxIngestionLimit     = 500
)

type ctxKey struct{}

// periodCtx validates the {period} URL parameter.
func periodCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		period := chi.URLParam(r, "period")
		if err := types.ValidatePeriodKey(period); err != nil {
			render.Render(w, r, errInvalidParameter("period", err))
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, period)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func periodFrom(r *http.Request) string {
	period, _ := r.Context().Value(ctxKey{}).(string)
	return period
}

// =============================================================================
// HEALTH
// =============================================================================

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.reader.Ping(r.Context()); err != nil {
		s.renderError(w, r, errUnavailable(err), err)
		return
	}
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// =============================================================================
// PERIODS
// =============================================================================

// PeriodSummary totals one period's merged records.
type PeriodSummary struct {
	PeriodKey       string                      `json:"period_key"`
	TotalMerchants  int                         `json:"total_merchants"`
	TotalVolume     float64                     `json:"total_volume"`
	TotalTxns       float64                     `json:"total_txns"`
	TotalProfit     float64                     `json:"total_profit"`
	AvgProfitMargin float64                     `json:"avg_profit_margin"`
	TopMerchants    []analytics.MerchantSummary `json:"top_merchants"`
}

func (s *Server) listPeriods(w http.ResponseWriter, r *http.Request) {
	periods, err := s.reader.Periods(r.Context())
	if err != nil {
		s.renderError(w, r, errInternal(), err)
		return
	}
	if periods == nil {
		periods = []string{}
	}
	render.JSON(w, r, map[string]any{"periods": periods})
}

func (s *Server) periodMerged(w http.ResponseWriter, r *http.Request) {
	period := periodFrom(r)
	merged, err := s.reader.MergedByPeriod(r.Context(), period)
	if err != nil {
		s.renderError(w, r, errInternal(), err)
		return
	}
	if len(merged) == 0 {
		s.renderError(w, r, errNotFound("period "+period), nil)
		return
	}
	render.JSON(w, r, map[string]any{"period_key": period, "count": len(merged), "records": merged})
}

func (s *Server) periodSummary(w http.ResponseWriter, r *http.Request) {
	period := periodFrom(r)
	merged, err := s.reader.MergedByPeriod(r.Context(), period)
	if err != nil {
		s.renderError(w, r, errInternal(), err)
		return
	}
	if len(merged) == 0 {
		s.renderError(w, r, errNotFound("period "+period), nil)
		return
	}

	summaries := analytics.Summarize(merged)
	out := PeriodSummary{PeriodKey: period, TotalMerchants: len(summaries)}
	var marginSum float64
	for _, m := range summaries {
		out.TotalVolume += m.TotalVolume
		out.TotalTxns += m.TotalTransactionCount
		out.TotalProfit += m.NetProfit
		marginSum += m.ProfitMargin
	}
	out.AvgProfitMargin = marginSum / float64(len(summaries))
	out.TopMerchants = analytics.TopMerchants(summaries, analytics.MetricVolume, summaryTopCount)

	render.JSON(w, r, out)
}

func (s *Server) periodTop(w http.ResponseWriter, r *http.Request) {
	metric := analytics.MetricVolume
	if raw := r.URL.Query().Get("metric"); raw != "" {
		m, err := analytics.ParseMetric(raw)
		if err != nil {
			render.Render(w, r, errInvalidParameter("metric", err))
			return
		}
		metric = m
	}

	n := defaultTopN
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err == nil && (v < 1 || v > maxTopN) {
			err = fmt.Errorf("n must be between 1 and %d", maxTopN)
		}
		if err != nil {
			render.Render(w, r, errInvalidParameter("n", err))
			return
		}
		n = v
	}

	period := periodFrom(r)
	merged, err := s.reader.MergedByPeriod(r.Context(), period)
	if err != nil {
		s.renderError(w, r, errInternal(), err)
		return
	}

	top := analytics.TopMerchants(analytics.Summarize(merged), metric, n)
	if top == nil {
		top = []analytics.MerchantSummary{}
	}
	render.JSON(w, r, map[string]any{"period_key": period, "metric": metric, "merchants": top})
}

func (s *Server) periodAgents(w http.ResponseWriter, r *http.Request) {
	period := periodFrom(r)
	earnings, err := s.reader.AgentEarningsByPeriod(r.Context(), period)
	if err != nil {
		s.renderError(w, r, errInternal(), err)
		return
	}
	merchants, err := s.reader.MerchantsByPeriod(r.Context(), period)
	if err != nil {
		s.renderError(w, r, errInternal(), err)
		return
	}

	agents := analytics.SummarizeAgents(earnings, merchants)
	if agents == nil {
		agents = []analytics.AgentSummary{}
	}
	render.JSON(w, r, map[string]any{"period_key": period, "agents": agents})
}

// =============================================================================
// TRENDS
// =============================================================================

func (s *Server) volumeTrend(w http.ResponseWriter, r *http.Request) {
	merchants, err := s.reader.MerchantHistory(r.Context())
	if err != nil {
		s.renderError(w, r, errInternal(), err)
		return
	}
	profits, err := s.reader.ResidualHistory(r.Context())
	if err != nil {
		s.renderError(w, r, errInternal(), err)
		return
	}

	trend := analytics.CombineTrends(analytics.VolumeTrend(merchants), analytics.ProfitTrend(profits))
	if trend == nil {
		trend = []analytics.TrendPoint{}
	}
	render.JSON(w, r, map[string]any{"points": trend})
}

// =============================================================================
// INGESTION LOG
// =============================================================================

func (s *Server) listIngestions(w http.ResponseWriter, r *http.Request) {
	limit := defaultIngestionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxIngestionLimit {
			render.Render(w, r, errInvalidParameter("limit", fmt.Errorf("must be between 1 and %d", maxIngestionLimit)))
			return
		}
		limit = n
	}

	logs, err := s.reader.IngestionLogs(r.Context(), limit)
	if err != nil {
		s.renderError(w, r, errInternal(), err)
		return
	}
	if logs == nil {
		logs = []store.IngestionLog{}
	}
	render.JSON(w, r, map[string]any{"ingestions": logs})
}

// =============================================================================
// SYNC JOBS
// =============================================================================

type syncJobRequest struct {
	Type     string `json:"type" validate:"required,oneof=merchants residuals volumes"`
	Year     int    `json:"year" validate:"omitempty,min=2000,max=2100"`
	Month    int    `json:"month" validate:"omitempty,min=1,max=12"`
	Priority int    `json:"priority" validate:"min=0,max=10"`
}

func (s *Server) createSyncJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.renderError(w, r, errUnavailable(errors.New("sync queue is not configured")), nil)
		return
	}

	var req syncJobRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		render.Render(w, r, newAPIError(http.StatusBadRequest, "VALIDATION_FAILED", "request validation failed", err.Error()))
		return
	}

	job, err := s.jobs.Enqueue(crm.JobType(req.Type), req.Year, req.Month, req.Priority)
	if err != nil {
		render.Render(w, r, errInvalidRequest(err))
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, job)
}

func (s *Server) getSyncJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.renderError(w, r, errUnavailable(errors.New("sync queue is not configured")), nil)
		return
	}
	id := chi.URLParam(r, "id")
	job, ok := s.jobs.Get(id)
	if !ok {
		render.Render(w, r, errNotFound("sync job "+id))
		return
	}
	render.JSON(w, r, job)
}

// cancelSyncJob cancels a job that has not started. Running and finished
// jobs answer 409.
func (s *Server) cancelSyncJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.renderError(w, r, errUnavailable(errors.New("sync queue is not configured")), nil)
		return
	}
	id := chi.URLParam(r, "id")
	err := s.jobs.Cancel(id)
	switch {
	case errors.Is(err, crm.ErrJobNotFound):
		render.Render(w, r, errNotFound("sync job "+id))
		return
	case errors.Is(err, crm.ErrJobNotCancellable):
		render.Render(w, r, errConflict(err))
		return
	case err != nil:
		s.renderError(w, r, errInternal(), err)
		return
	}
	job, _ := s.jobs.Get(id)
	render.JSON(w, r, job)
}

func (s *Server) syncStats(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.renderError(w, r, errUnavailable(errors.New("sync queue is not configured")), nil)
		return
	}
	render.JSON(w, r, s.jobs.Stats())
}
