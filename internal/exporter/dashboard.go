// =============================================================================
// Merchant Analytics - Dashboard JSON
// =============================================================================
//
// The dashboard reads static JSON files from the output directory:
//
//   top_<n>_merchants.json          {merchants, generated_at, count}
//   top_<n>_agents.json             {agents, generated_at, count}
//   volume_trend.json               {trend, generated_at, count}
//   agent_<name>_merchants.json     {agent_name, merchants, generated_at, count}
//   monthly_summary_<YYYY-MM>.json  {month, summary, generated_at}
//   analytics_report_<YYYY-MM>.json {month, report, generated_at}
//
// Spaces in agent names become underscores in file names.
//
// =============================================================================

package exporter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ginjaninja78/merchant-analytics/internal/analytics"
)

// Dashboard writes dashboard JSON files into a directory.
type Dashboard struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

// NewDashboard creates a Dashboard writing into dir.
func NewDashboard(dir string, logger *slog.Logger) *Dashboard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dashboard{dir: dir, now: time.Now, logger: logger.With("component", "dashboard")}
}

type merchantEntry struct {
	MerchantID   string  `json:"mid"`
	MerchantName string  `json:"merchant_dba"`
	TotalVolume  float64 `json:"total_volume"`
	TotalTxns    int64   `json:"total_txns"`
	NetProfit    float64 `json:"net_profit"`
	BPS          float64 `json:"bps"`
	ProfitMargin float64 `json:"profit_margin"`
}

type agentEntry struct {
	AgentName     string  `json:"agent_name"`
	MerchantCount int     `json:"merchant_count"`
	TotalEarnings float64 `json:"total_earnings"`
	TotalVolume   float64 `json:"total_volume"`
	EffectiveBPS  float64 `json:"effective_bps"`
}

type trendEntry struct {
	Month           string  `json:"month"`
	TotalVolume     float64 `json:"total_volume"`
	TotalTxns       int64   `json:"total_txns"`
	MerchantCount   int     `json:"merchant_count"`
	VolumeChangePct float64 `json:"volume_change_pct"`
	IsForecast      bool    `json:"is_forecast,omitempty"`
}

type agentMerchantEntry struct {
	MerchantID   string  `json:"mid"`
	MerchantName string  `json:"merchant_dba"`
	TotalVolume  float64 `json:"total_volume"`
	Earnings     float64 `json:"earnings"`
}

// WriteTopMerchants writes the n best merchants by volume.
func (d *Dashboard) WriteTopMerchants(summaries []analytics.MerchantSummary, n int) (string, error) {
	top := analytics.TopMerchants(summaries, analytics.MetricVolume, n)

	entries := make([]merchantEntry, 0, len(top))
	for _, s := range top {
		entries = append(entries, merchantEntry{
			MerchantID:   s.MerchantID,
			MerchantName: orUnknown(s.MerchantName),
			TotalVolume:  s.TotalVolume,
			TotalTxns:    int64(s.TotalTransactionCount),
			NetProfit:    s.NetProfit,
			BPS:          s.BPS,
			ProfitMargin: s.ProfitMargin,
		})
	}

	return d.write(fmt.Sprintf("top_%d_merchants.json", n), map[string]any{
		"merchants":    entries,
		"generated_at": d.generatedAt(),
		"count":        len(entries),
	})
}

// WriteTopAgents writes the n best agents by earnings.
func (d *Dashboard) WriteTopAgents(summaries []analytics.AgentSummary, n int) (string, error) {
	top := analytics.TopAgents(summaries, n)

	entries := make([]agentEntry, 0, len(top))
	for _, s := range top {
		entries = append(entries, agentEntry{
			AgentName:     s.AgentName,
			MerchantCount: s.MerchantCount,
			TotalEarnings: s.TotalEarnings,
			TotalVolume:   s.TotalVolume,
			EffectiveBPS:  s.EffectiveBPS,
		})
	}

	return d.write(fmt.Sprintf("top_%d_agents.json", n), map[string]any{
		"agents":       entries,
		"generated_at": d.generatedAt(),
		"count":        len(entries),
	})
}

// WriteVolumeTrend writes the volume trend, forecast points included.
func (d *Dashboard) WriteVolumeTrend(points []analytics.TrendPoint) (string, error) {
	entries := make([]trendEntry, 0, len(points))
	for _, p := range points {
		entries = append(entries, trendEntry{
			Month:           p.PeriodKey,
			TotalVolume:     p.TotalVolume,
			TotalTxns:       int64(p.TotalTxns),
			MerchantCount:   p.MerchantCount,
			VolumeChangePct: p.VolumeChangePct,
			IsForecast:      p.IsForecast,
		})
	}

	return d.write("volume_trend.json", map[string]any{
		"trend":        entries,
		"generated_at": d.generatedAt(),
		"count":        len(entries),
	})
}

// WriteAgentMerchants writes the merchants of one agent report.
func (d *Dashboard) WriteAgentMerchants(report *analytics.AgentReport) (string, error) {
	entries := make([]agentMerchantEntry, 0, len(report.Merchants))
	for _, m := range report.Merchants {
		entries = append(entries, agentMerchantEntry{
			MerchantID:   m.MerchantID,
			MerchantName: orUnknown(m.MerchantName),
			TotalVolume:  m.TotalVolume,
			Earnings:     m.Earnings,
		})
	}

	name := fmt.Sprintf("agent_%s_merchants.json", strings.ReplaceAll(report.AgentName, " ", "_"))
	return d.write(name, map[string]any{
		"agent_name":   report.AgentName,
		"merchants":    entries,
		"generated_at": d.generatedAt(),
		"count":        len(entries),
	})
}

// WriteMonthlySummary writes an arbitrary summary document for month.
func (d *Dashboard) WriteMonthlySummary(month string, summary any) (string, error) {
	return d.write(fmt.Sprintf("monthly_summary_%s.json", month), map[string]any{
		"month":        month,
		"summary":      summary,
		"generated_at": d.generatedAt(),
	})
}

// WriteAnalyticsReport writes the full analytics report for month.
func (d *Dashboard) WriteAnalyticsReport(month string, report any) (string, error) {
	return d.write(fmt.Sprintf("analytics_report_%s.json", month), map[string]any{
		"month":        month,
		"report":       report,
		"generated_at": d.generatedAt(),
	})
}

func (d *Dashboard) write(name string, doc any) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create dashboard directory: %w", err)
	}

	path := filepath.Join(d.dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}

	d.logger.Info("dashboard file written", slog.String("path", path))
	return path, nil
}

func (d *Dashboard) generatedAt() string {
	return d.now().Format(time.RFC3339)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
