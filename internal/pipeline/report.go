// =============================================================================
// Merchant Analytics - Reports
// =============================================================================
//
// Builds the analytics view of one period from the store and writes it to
// the dashboard directory.
//
// =============================================================================

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/ginjaninja78/merchant-analytics/internal/analytics"
	"github.com/ginjaninja78/merchant-analytics/internal/config"
	"github.com/ginjaninja78/merchant-analytics/internal/exporter"
	"github.com/ginjaninja78/merchant-analytics/internal/notify"
	"github.com/ginjaninja78/merchant-analytics/internal/residuals"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

// ErrNoData is returned when the store holds nothing to report on.
var ErrNoData = errors.New("no merged data")

// ReportStore is the read side of the store used by reports.
type ReportStore interface {
	Periods(ctx context.Context) ([]string, error)
	MergedByPeriod(ctx context.Context, period string) ([]types.MergedRecord, error)
	MerchantsByPeriod(ctx context.Context, period string) ([]types.MerchantRecord, error)
	AgentEarningsByPeriod(ctx context.Context, period string) ([]residuals.AgentEarning, error)
	MerchantHistory(ctx context.Context) (map[string][]types.MerchantRecord, error)
	ResidualHistory(ctx context.Context) (map[string][]types.ResidualRecord, error)
}

// ReportOptions select what a report covers.
type ReportOptions struct {
	// Period defaults to the newest stored period.
	Period string

	// Top overrides analytics.top_merchants and analytics.top_agents.
	Top int

	// ForecastMonths overrides analytics.forecast_months.
	ForecastMonths int

	// Merchant adds a detail section for one MID.
	Merchant string
}

// Report is the analytics view of one period against the stored history.
type Report struct {
	PeriodKey string `json:"period_key"`

	TopMerchants      []analytics.MerchantSummary `json:"top_merchants"`
	VolumeOutliers    []analytics.MerchantSummary `json:"volume_outliers"`
	Agents            []analytics.AgentSummary    `json:"agents"`
	TopAgents         []analytics.AgentSummary    `json:"top_agents"`
	EarningsOutliers  []analytics.AgentSummary    `json:"earnings_outliers"`
	AgentTrend        []analytics.AgentMonth      `json:"agent_trend"`
	Trend             []analytics.TrendPoint      `json:"trend"`
	Forecast          []analytics.TrendPoint      `json:"forecast,omitempty"`
	Retention         []analytics.RetentionPoint  `json:"retention"`
	AvgRetentionRate  float64                     `json:"avg_retention_rate"`
	Seasonality       *analytics.Seasonality      `json:"seasonality,omitempty"`
	Merchant          *analytics.MerchantReport   `json:"merchant,omitempty"`
	AgentReports      []*analytics.AgentReport    `json:"-"`
	MerchantSummaries []analytics.MerchantSummary `json:"-"`

	topMerchants, topAgents int
}

// Reporter builds analytics reports from the store and writes them to the
// dashboard directory.
type Reporter struct {
	store     ReportStore
	cfg       config.AnalyticsConfig
	dashboard *exporter.Dashboard
	logger    *slog.Logger
}

// NewReporter creates a Reporter writing into outputDir/dashboard.
func NewReporter(st ReportStore, cfg *config.MainConfig, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("component", "reporter")
	return &Reporter{
		store:     st,
		cfg:       cfg.Analytics,
		dashboard: exporter.NewDashboard(filepath.Join(cfg.OutputDir, "dashboard"), logger),
		logger:    logger,
	}
}

// Build assembles the report. Forecasts and seasonality are left empty when
// the history is too short for them.
//
// PARAMETERS:
//   - ctx: Cancels the store reads.
//   - opts: Period, sizes and an optional merchant detail.
//
// RETURNS:
//   - The report.
//   - ErrNoData when the store has no periods, or a store error.
func (r *Reporter) Build(ctx context.Context, opts ReportOptions) (*Report, error) {
	periods, err := r.store.Periods(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list periods: %w", err)
	}
	if len(periods) == 0 {
		return nil, ErrNoData
	}

	period := opts.Period
	if period == "" {
		period = periods[0]
	}
	topMerchants, topAgents := r.cfg.TopMerchants, r.cfg.TopAgents
	if opts.Top > 0 {
		topMerchants, topAgents = opts.Top, opts.Top
	}
	forecastMonths := r.cfg.ForecastMonths
	if opts.ForecastMonths > 0 {
		forecastMonths = opts.ForecastMonths
	}

	merged, err := r.store.MergedByPeriod(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("failed to load merged records: %w", err)
	}
	if len(merged) == 0 {
		return nil, fmt.Errorf("period %s: %w", period, ErrNoData)
	}
	merchants, err := r.store.MerchantsByPeriod(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("failed to load merchants: %w", err)
	}

	report := &Report{PeriodKey: period, topMerchants: topMerchants, topAgents: topAgents}

	// =========================================================================
	// MERCHANTS
	// =========================================================================

	summaries := analytics.Summarize(merged)
	report.MerchantSummaries = summaries
	report.TopMerchants = analytics.TopMerchants(summaries, analytics.MetricVolume, topMerchants)
	report.VolumeOutliers = analytics.Outliers(summaries, analytics.MetricVolume, r.cfg.OutlierThreshold)

	// =========================================================================
	// AGENTS
	// =========================================================================

	earningsByMonth := make(map[string][]residuals.AgentEarning, len(periods))
	for _, p := range periods {
		earnings, err := r.store.AgentEarningsByPeriod(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to load agent earnings for %s: %w", p, err)
		}
		if len(earnings) > 0 {
			earningsByMonth[p] = earnings
		}
	}

	current := earningsByMonth[period]
	report.Agents = analytics.SummarizeAgents(current, merchants)
	report.TopAgents = analytics.TopAgents(report.Agents, topAgents)
	report.EarningsOutliers = analytics.AgentOutliers(report.Agents, r.cfg.OutlierThreshold)
	report.AgentTrend = analytics.AgentTrend(earningsByMonth)
	for _, a := range report.Agents {
		agentReport, err := analytics.BuildAgentReport(a.AgentName, current, merchants)
		if err != nil {
			continue
		}
		report.AgentReports = append(report.AgentReports, agentReport)
	}

	// =========================================================================
	// TRENDS
	// =========================================================================

	volumes, err := r.store.MerchantHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant history: %w", err)
	}
	profits, err := r.store.ResidualHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load residual history: %w", err)
	}
	report.Trend = analytics.CombineTrends(analytics.VolumeTrend(volumes), analytics.ProfitTrend(profits))
	report.Retention, report.AvgRetentionRate = analytics.Retention(volumes)

	report.Forecast, err = analytics.Forecast(report.Trend, forecastMonths)
	if err != nil && !errors.Is(err, analytics.ErrInsufficientHistory) {
		return nil, err
	}
	report.Seasonality, err = analytics.SeasonalPatterns(report.Trend)
	if err != nil && !errors.Is(err, analytics.ErrInsufficientHistory) {
		return nil, err
	}

	// =========================================================================
	// MERCHANT DETAIL
	// =========================================================================

	if opts.Merchant != "" {
		var history []analytics.MerchantSummary
		for _, p := range periods {
			records, err := r.store.MergedByPeriod(ctx, p)
			if err != nil {
				return nil, fmt.Errorf("failed to load merged records for %s: %w", p, err)
			}
			history = append(history, analytics.Summarize(records)...)
		}
		if report.Merchant, err = analytics.BuildMerchantReport(opts.Merchant, summaries, history); err != nil {
			return nil, err
		}
	}

	r.logger.Info("report built",
		slog.String("period", period),
		slog.Int("merchants", len(summaries)),
		slog.Int("agents", len(report.Agents)),
		slog.Int("trend_points", len(report.Trend)),
	)
	return report, nil
}

// Write stores the report and its dashboard views. It returns the written
// paths.
func (r *Reporter) Write(report *Report) ([]string, error) {
	var written []string
	add := func(path string, err error) error {
		if err == nil {
			written = append(written, path)
		}
		return err
	}

	if err := add(r.dashboard.WriteTopMerchants(report.MerchantSummaries, report.topMerchants)); err != nil {
		return written, err
	}
	if err := add(r.dashboard.WriteTopAgents(report.Agents, report.topAgents)); err != nil {
		return written, err
	}
	for _, a := range report.AgentReports {
		if err := add(r.dashboard.WriteAgentMerchants(a)); err != nil {
			return written, err
		}
	}

	trend := report.Trend
	if len(report.Forecast) > 0 {
		trend = report.Forecast
	}
	if err := add(r.dashboard.WriteVolumeTrend(trend)); err != nil {
		return written, err
	}
	if err := add(r.dashboard.WriteAnalyticsReport(report.PeriodKey, report)); err != nil {
		return written, err
	}
	return written, nil
}

// NotifyAgents tells every agent in the report with a known address that
// their statement is ready. It returns how many notices were sent.
func (r *Reporter) NotifyAgents(ctx context.Context, n *notify.Notifier, report *Report, emails map[string]string) (int, error) {
	names := make([]string, 0, len(report.Agents))
	for _, a := range report.Agents {
		names = append(names, a.AgentName)
	}
	sort.Strings(names)

	var (
		sent int
		errs []error
	)
	for _, name := range names {
		email, ok := emails[name]
		if !ok {
			r.logger.Debug("no address for agent", slog.String("agent", name))
			continue
		}
		if err := n.AgentStatementReady(ctx, name, report.PeriodKey, email); err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", name, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}
