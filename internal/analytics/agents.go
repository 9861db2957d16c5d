// =============================================================================
// Merchant Analytics - Agent Summaries
// =============================================================================
//
// Agent figures come from the residual calculator's agent earnings joined
// with the period's merchant volumes:
//   - total_earnings = sum of the agent's earnings
//   - merchant_count = distinct MIDs the agent earned on
//   - total_volume   = volume of those MIDs
//   - effective_bps  = total_earnings / total_volume * 10000
//
// =============================================================================

package analytics

import (
	"fmt"
	"sort"

	"github.com/ginjaninja78/merchant-analytics/internal/residuals"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

// AgentSummary aggregates one agent's earnings for a period.
type AgentSummary struct {
	AgentName     string  `json:"agent_name"`
	PeriodKey     string  `json:"month,omitempty"`
	TotalEarnings float64 `json:"total_earnings"`
	MerchantCount int     `json:"merchant_count"`
	TotalVolume   float64 `json:"total_volume"`
	EffectiveBPS  float64 `json:"effective_bps"`
}

// SummarizeAgents groups earnings by agent, sorted by agent name. The
// period is the most common period among the earnings.
func SummarizeAgents(earnings []residuals.AgentEarning, merchants []types.MerchantRecord) []AgentSummary {
	if len(earnings) == 0 {
		return nil
	}

	volumes := make(map[string]float64, len(merchants))
	for _, m := range merchants {
		volumes[m.MerchantID] += m.TotalVolume
	}

	type acc struct {
		earnings float64
		mids     map[string]bool
	}
	byAgent := make(map[string]*acc)
	periodCounts := make(map[string]int)

	for _, e := range earnings {
		a := byAgent[e.AgentName]
		if a == nil {
			a = &acc{mids: make(map[string]bool)}
			byAgent[e.AgentName] = a
		}
		a.earnings += e.Earnings
		a.mids[e.MerchantID] = true
		periodCounts[e.PeriodKey]++
	}

	period := modeKey(periodCounts)

	out := make([]AgentSummary, 0, len(byAgent))
	for name, a := range byAgent {
		var volume float64
		for mid := range a.mids {
			volume += volumes[mid]
		}
		out = append(out, AgentSummary{
			AgentName:     name,
			PeriodKey:     period,
			TotalEarnings: a.earnings,
			MerchantCount: len(a.mids),
			TotalVolume:   volume,
			EffectiveBPS:  residuals.BPS(a.earnings, volume),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].AgentName < out[j].AgentName })
	return out
}

// TopAgents returns the n agents with the highest earnings. n <= 0 returns
// every agent.
func TopAgents(summaries []AgentSummary, n int) []AgentSummary {
	sorted := make([]AgentSummary, len(summaries))
	copy(sorted, summaries)

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].TotalEarnings != sorted[j].TotalEarnings {
			return sorted[i].TotalEarnings > sorted[j].TotalEarnings
		}
		return sorted[i].AgentName < sorted[j].AgentName
	})

	if n > 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// AgentOutliers returns agents whose earnings lie more than k sample
// standard deviations from the mean.
func AgentOutliers(summaries []AgentSummary, k float64) []AgentSummary {
	values := make([]float64, len(summaries))
	for i, s := range summaries {
		values[i] = s.TotalEarnings
	}

	var out []AgentSummary
	for _, i := range outlierIndexes(values, k) {
		out = append(out, summaries[i])
	}
	return out
}

// AgentMonth is one agent's totals for one month plus the change from the
// agent's previous month.
type AgentMonth struct {
	AgentName           string  `json:"agent_name"`
	PeriodKey           string  `json:"month"`
	TotalEarnings       float64 `json:"total_earnings"`
	MerchantCount       int     `json:"merchant_count"`
	EarningsChangePct   float64 `json:"earnings_change_pct"`
	MerchantCountChange int     `json:"merchant_count_change"`
}

// AgentTrend builds per-agent monthly totals from earnings keyed by period,
// sorted by agent then month.
func AgentTrend(byMonth map[string][]residuals.AgentEarning) []AgentMonth {
	var rows []AgentMonth
	for month, earnings := range byMonth {
		for _, s := range SummarizeAgents(earnings, nil) {
			rows = append(rows, AgentMonth{
				AgentName:     s.AgentName,
				PeriodKey:     month,
				TotalEarnings: s.TotalEarnings,
				MerchantCount: s.MerchantCount,
			})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].AgentName != rows[j].AgentName {
			return rows[i].AgentName < rows[j].AgentName
		}
		return rows[i].PeriodKey < rows[j].PeriodKey
	})

	for i := 1; i < len(rows); i++ {
		if rows[i-1].AgentName != rows[i].AgentName {
			continue
		}
		rows[i].EarningsChangePct = PercentChange(rows[i-1].TotalEarnings, rows[i].TotalEarnings)
		rows[i].MerchantCountChange = rows[i].MerchantCount - rows[i-1].MerchantCount
	}
	return rows
}

// AgentMerchant is one merchant within an agent report.
type AgentMerchant struct {
	MerchantID   string  `json:"mid"`
	MerchantName string  `json:"merchant_dba"`
	TotalVolume  float64 `json:"total_volume"`
	Earnings     float64 `json:"earnings"`
}

// AgentReport is the detail view of one agent, including its five largest
// merchants by volume.
type AgentReport struct {
	AgentSummary
	TopMerchants []AgentMerchant `json:"top_merchants"`
	Merchants    []AgentMerchant `json:"merchants"`
}

const agentReportTopMerchants = 5

// BuildAgentReport returns the report for one agent.
func BuildAgentReport(agent string, earnings []residuals.AgentEarning, merchants []types.MerchantRecord) (*AgentReport, error) {
	var own []residuals.AgentEarning
	for _, e := range earnings {
		if e.AgentName == agent {
			own = append(own, e)
		}
	}
	if len(own) == 0 {
		return nil, fmt.Errorf("agent %q has no earnings", agent)
	}

	summaries := SummarizeAgents(own, merchants)
	report := &AgentReport{AgentSummary: summaries[0]}

	byMID := make(map[string]*AgentMerchant)
	var order []string
	for _, e := range own {
		am := byMID[e.MerchantID]
		if am == nil {
			am = &AgentMerchant{MerchantID: e.MerchantID, MerchantName: "Unknown"}
			byMID[e.MerchantID] = am
			order = append(order, e.MerchantID)
		}
		am.Earnings += e.Earnings
	}
	for _, m := range merchants {
		if am := byMID[m.MerchantID]; am != nil {
			am.TotalVolume += m.TotalVolume
			if m.MerchantName != "" {
				am.MerchantName = m.MerchantName
			}
		}
	}

	sort.Strings(order)
	for _, mid := range order {
		report.Merchants = append(report.Merchants, *byMID[mid])
	}

	top := make([]AgentMerchant, len(report.Merchants))
	copy(top, report.Merchants)
	sort.SliceStable(top, func(i, j int) bool { return top[i].TotalVolume > top[j].TotalVolume })
	if len(top) > agentReportTopMerchants {
		top = top[:agentReportTopMerchants]
	}
	report.TopMerchants = top

	return report, nil
}

// modeKey returns the most frequent key, preferring the smallest on ties.
func modeKey(counts map[string]int) string {
	best, bestCount := "", -1
	for k, c := range counts {
		if c > bestCount || (c == bestCount && k < best) {
			best, bestCount = k, c
		}
	}
	return best
}
