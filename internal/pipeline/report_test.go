package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/merchant-analytics/internal/notify"
	"github.com/ginjaninja78/merchant-analytics/internal/residuals"
	"github.com/ginjaninja78/merchant-analytics/internal/store"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

// seedHistory stores three months where merchant 1 grows 10% a month and
// merchant 2 stays flat.
func seedHistory(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	for i, period := range []string{"2024-01", "2024-02", "2024-03"} {
		vol := 1000 * (1 + 0.1*float64(i))
		merchants := []types.MerchantRecord{
			{MerchantID: "1", MerchantName: "Alpha", TotalVolume: vol, TotalTransactionCount: 10, PeriodKey: period, CreatedAt: fixedNow},
			{MerchantID: "2", MerchantName: "Beta", TotalVolume: 500, TotalTransactionCount: 5, PeriodKey: period, CreatedAt: fixedNow},
		}
		residualRecords := []types.ResidualRecord{
			{MerchantID: "1", NetProfit: vol / 20, PeriodKey: period, CreatedAt: fixedNow},
			{MerchantID: "2", NetProfit: 10, PeriodKey: period, CreatedAt: fixedNow},
		}
		_, err := st.UpsertMerchants(ctx, merchants)
		require.NoError(t, err)
		_, err = st.UpsertResiduals(ctx, residualRecords)
		require.NoError(t, err)

		merged := make([]types.MergedRecord, 0, 2)
		for j, m := range merchants {
			merged = append(merged, types.MergedRecord{
				MerchantID:   m.MerchantID,
				MerchantName: m.MerchantName,
				TotalVolume:  m.TotalVolume,
				NetProfit:    residualRecords[j].NetProfit,
				ProfitMargin: residualRecords[j].NetProfit / m.TotalVolume,
				PeriodKey:    period,
				CreatedAt:    fixedNow,
			})
		}
		_, err = st.UpsertMerged(ctx, merged)
		require.NoError(t, err)

		_, err = st.UpsertAgentEarnings(ctx, []residuals.AgentEarning{
			{MerchantID: "1", AgentName: "Jane Doe", PeriodKey: period, SplitPercentage: 0.5, Earnings: vol / 40},
			{MerchantID: "2", AgentName: "Bob", PeriodKey: period, SplitPercentage: 1, Earnings: 9},
		})
		require.NoError(t, err)
	}
}

func TestReporterBuildsFromHistory(t *testing.T) {
	cfg := testConfig(t)
	st := openStore(t)
	seedHistory(t, st)

	r := NewReporter(st, cfg, nil)
	report, err := r.Build(context.Background(), ReportOptions{Top: 1, ForecastMonths: 2, Merchant: "1"})
	require.NoError(t, err)

	assert.Equal(t, "2024-03", report.PeriodKey, "newest period by default")
	require.Len(t, report.TopMerchants, 1)
	assert.Equal(t, "1", report.TopMerchants[0].MerchantID)

	require.Len(t, report.Agents, 2)
	require.Len(t, report.TopAgents, 1)
	assert.Equal(t, "Jane Doe", report.TopAgents[0].AgentName)
	assert.Len(t, report.AgentTrend, 6)
	assert.Len(t, report.AgentReports, 2)

	require.Len(t, report.Trend, 3)
	require.Len(t, report.Forecast, 5)
	assert.True(t, report.Forecast[4].IsForecast)
	assert.Equal(t, "2024-05", report.Forecast[4].PeriodKey)
	assert.Nil(t, report.Seasonality, "a year of history is needed")

	require.Len(t, report.Retention, 2)
	assert.InDelta(t, 100.0, report.AvgRetentionRate, 1e-9)

	require.NotNil(t, report.Merchant)
	assert.Len(t, report.Merchant.History, 3)
	require.Len(t, report.Merchant.Changes, 3)
	assert.InDelta(t, 10.0, report.Merchant.Changes[1].VolumeChangePct, 1e-9)

	written, err := r.Write(report)
	require.NoError(t, err)
	dashboard := filepath.Join(cfg.OutputDir, "dashboard")
	assert.Contains(t, written, filepath.Join(dashboard, "top_1_merchants.json"))
	assert.Contains(t, written, filepath.Join(dashboard, "agent_Jane_Doe_merchants.json"))
	assert.Contains(t, written, filepath.Join(dashboard, "analytics_report_2024-03.json"))
	for _, path := range written {
		assert.FileExists(t, path)
	}
}

func TestReporterErrors(t *testing.T) {
	cfg := testConfig(t)
	st := openStore(t)
	r := NewReporter(st, cfg, nil)

	_, err := r.Build(context.Background(), ReportOptions{})
	assert.ErrorIs(t, err, ErrNoData)

	seedHistory(t, st)
	_, err = r.Build(context.Background(), ReportOptions{Period: "2023-01"})
	assert.ErrorIs(t, err, ErrNoData)

	_, err = r.Build(context.Background(), ReportOptions{Merchant: "404"})
	assert.ErrorContains(t, err, "merchant 404 not found")
}

func TestReporterNotifyAgents(t *testing.T) {
	cfg := testConfig(t)
	st := openStore(t)
	seedHistory(t, st)

	r := NewReporter(st, cfg, nil)
	report, err := r.Build(context.Background(), ReportOptions{Period: "2024-02"})
	require.NoError(t, err)

	sender := &recordingSender{}
	n := notify.NewNotifier(sender, nil, nil, nil)
	sent, err := r.NotifyAgents(context.Background(), n, report, map[string]string{
		"Jane Doe": "jane@example.com",
		"Nobody":   "nobody@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{fmt.Sprintf("Ireland Pay Agent Statement - %s", "2024-02")}, sender.subjects)
}

func TestMergeRecords(t *testing.T) {
	cfg := testConfig(t)
	st := openStore(t)

	p := New(cfg, Options{}, WithStore(st))
	pr := p.MergeRecords(context.Background(), "2024-03",
		[]types.MerchantRecord{{MerchantID: "5", MerchantName: "Crm Co", TotalVolume: 200, PeriodKey: "2024-03", SourceTag: "crm"}},
		[]types.ResidualRecord{{MerchantID: "5", NetProfit: 4, PeriodKey: "2024-03", RecordID: "5_2024-03"}},
	)
	require.NoError(t, pr.Error)
	require.Len(t, pr.Merged, 1)
	assert.InDelta(t, 0.02, pr.Merged[0].ProfitMargin, 1e-9)
	assert.NotEmpty(t, pr.OutputFiles)

	stored, err := st.MergedByPeriod(context.Background(), "2024-03")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}
