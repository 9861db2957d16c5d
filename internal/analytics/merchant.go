// =============================================================================
// Merchant Analytics - Merchant Summaries
// =============================================================================
//
// Summaries are built from merged records of a single period:
//   - bps           = net_profit / total_volume * 10000
//   - avg_txn_size  = total_volume / total_txns
//   - profit_margin = carried from the merge (ratio)
//
// Every division guards against a zero or negative denominator and yields 0.
//
// =============================================================================

package analytics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ginjaninja78/merchant-analytics/internal/residuals"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

// Metric names a numeric column of a MerchantSummary.
type Metric string

const (
	MetricVolume       Metric = "total_volume"
	MetricTxns         Metric = "total_txns"
	MetricNetProfit    Metric = "net_profit"
	MetricBPS          Metric = "bps"
	MetricProfitMargin Metric = "profit_margin"
	MetricAvgTxnSize   Metric = "avg_txn_size"
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MetricVolume, MetricTxns, MetricNetProfit, MetricBPS, MetricProfitMargin, MetricAvgTxnSize:
		return m, nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// MerchantSummary is one merchant's figures for a period.
type MerchantSummary struct {
	MerchantID            string  `json:"mid"`
	MerchantName          string  `json:"merchant_dba"`
	PeriodKey             string  `json:"month"`
	TotalVolume           float64 `json:"total_volume"`
	TotalTransactionCount float64 `json:"total_txns"`
	NetProfit             float64 `json:"net_profit"`
	BPS                   float64 `json:"bps"`
	ProfitMargin          float64 `json:"profit_margin"`
	AvgTxnSize            float64 `json:"avg_txn_size"`
}

// Value returns the summary's value for metric.
func (s MerchantSummary) Value(metric Metric) float64 {
	switch metric {
	case MetricVolume:
		return s.TotalVolume
	case MetricTxns:
		return s.TotalTransactionCount
	case MetricNetProfit:
		return s.NetProfit
	case MetricBPS:
		return s.BPS
	case MetricProfitMargin:
		return s.ProfitMargin
	case MetricAvgTxnSize:
		return s.AvgTxnSize
	}
	return 0
}

// Summarize builds a summary per merged record, sorted by MID.
func Summarize(merged []types.MergedRecord) []MerchantSummary {
	out := make([]MerchantSummary, 0, len(merged))
	for _, m := range merged {
		out = append(out, MerchantSummary{
			MerchantID:            m.MerchantID,
			MerchantName:          m.MerchantName,
			PeriodKey:             m.PeriodKey,
			TotalVolume:           m.TotalVolume,
			TotalTransactionCount: m.TotalTransactionCount,
			NetProfit:             m.NetProfit,
			BPS:                   residuals.BPS(m.NetProfit, m.TotalVolume),
			ProfitMargin:          m.ProfitMargin,
			AvgTxnSize:            safeDiv(m.TotalVolume, m.TotalTransactionCount),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MerchantID < out[j].MerchantID })
	return out
}

// TopMerchants returns the n merchants with the highest metric. Ties keep
// MID order. n <= 0 returns every merchant.
func TopMerchants(summaries []MerchantSummary, metric Metric, n int) []MerchantSummary {
	sorted := make([]MerchantSummary, len(summaries))
	copy(sorted, summaries)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Value(metric), sorted[j].Value(metric)
		if a != b {
			return a > b
		}
		return sorted[i].MerchantID < sorted[j].MerchantID
	})

	if n > 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// Outliers returns merchants whose metric lies more than k sample standard
// deviations from the mean. Fewer than two merchants yields nothing.
func Outliers(summaries []MerchantSummary, metric Metric, k float64) []MerchantSummary {
	values := make([]float64, len(summaries))
	for i, s := range summaries {
		values[i] = s.Value(metric)
	}

	var out []MerchantSummary
	for _, i := range outlierIndexes(values, k) {
		out = append(out, summaries[i])
	}
	return out
}

// MerchantChange is the month-over-month movement for one merchant.
type MerchantChange struct {
	MerchantID      string  `json:"mid"`
	PeriodKey       string  `json:"month"`
	VolumeChangePct float64 `json:"volume_change_pct"`
	TxnsChangePct   float64 `json:"txns_change_pct"`
	ProfitChangePct float64 `json:"profit_change_pct"`
}

// MonthOverMonth compares each merchant's month with its previous month in
// history. The first month of a merchant, and any month whose previous
// value is not positive, reports 0. Output is sorted by MID then month.
func MonthOverMonth(history []MerchantSummary) []MerchantChange {
	sorted := make([]MerchantSummary, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].MerchantID != sorted[j].MerchantID {
			return sorted[i].MerchantID < sorted[j].MerchantID
		}
		return sorted[i].PeriodKey < sorted[j].PeriodKey
	})

	out := make([]MerchantChange, 0, len(sorted))
	for i, cur := range sorted {
		change := MerchantChange{MerchantID: cur.MerchantID, PeriodKey: cur.PeriodKey}
		if i > 0 && sorted[i-1].MerchantID == cur.MerchantID {
			prev := sorted[i-1]
			change.VolumeChangePct = PercentChange(prev.TotalVolume, cur.TotalVolume)
			change.TxnsChangePct = PercentChange(prev.TotalTransactionCount, cur.TotalTransactionCount)
			change.ProfitChangePct = PercentChange(prev.NetProfit, cur.NetProfit)
		}
		out = append(out, change)
	}
	return out
}

// MerchantReport is the detail view of a single merchant.
type MerchantReport struct {
	MerchantSummary
	History []MerchantSummary `json:"history,omitempty"`
	Changes []MerchantChange  `json:"changes,omitempty"`
}

// BuildMerchantReport returns the report for mid from the current period's
// summaries and an optional multi-month history.
func BuildMerchantReport(mid string, current, history []MerchantSummary) (*MerchantReport, error) {
	var report *MerchantReport
	for _, s := range current {
		if s.MerchantID == mid {
			report = &MerchantReport{MerchantSummary: s}
			break
		}
	}
	if report == nil {
		return nil, fmt.Errorf("merchant %s not found", mid)
	}

	if report.MerchantName == "" {
		report.MerchantName = "Unknown"
	}

	for _, h := range history {
		if h.MerchantID == mid {
			report.History = append(report.History, h)
		}
	}
	sort.SliceStable(report.History, func(i, j int) bool {
		return report.History[i].PeriodKey < report.History[j].PeriodKey
	})
	if len(report.History) > 1 {
		report.Changes = MonthOverMonth(report.History)
	}

	return report, nil
}
