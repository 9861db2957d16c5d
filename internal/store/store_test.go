package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/merchant-analytics/internal/crm"
	"github.com/ginjaninja78/merchant-analytics/internal/ingest"
	"github.com/ginjaninja78/merchant-analytics/internal/residuals"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "analytics.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var created = time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)

func TestUpsertMerchantsCountsInsertsAndUpdates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	records := []types.MerchantRecord{
		{MerchantID: "1", MerchantName: "Alpha", TotalVolume: 100, TotalTransactionCount: 2, PeriodKey: "2024-03", CreatedAt: created},
		{MerchantID: "2", MerchantName: "Beta", TotalVolume: 200, PeriodKey: "2024-03", CreatedAt: created},
	}
	res, err := s.UpsertMerchants(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Inserted: 2}, res)

	records[0].TotalVolume = 150
	records = append(records, types.MerchantRecord{MerchantID: "1", PeriodKey: "2024-02", CreatedAt: created})
	res, err = s.UpsertMerchants(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Inserted: 1, Updated: 2}, res)

	got, err := s.MerchantsByPeriod(ctx, "2024-03")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 150.0, got[0].TotalVolume)
	assert.Equal(t, created, got[0].CreatedAt)

	history, err := s.MerchantHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Len(t, history["2024-02"], 1)
}

func TestResidualsAndMerged(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.UpsertResiduals(ctx, []types.ResidualRecord{
		{MerchantID: "1", NetProfit: 5, PeriodKey: "2024-03", RecordID: "1_2024-03", CreatedAt: created},
		{MerchantID: "9", NetProfit: 7, PeriodKey: "2024-03", CreatedAt: created, AgentName: "Jane"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	residualRows, err := s.ResidualsByPeriod(ctx, "2024-03")
	require.NoError(t, err)
	require.Len(t, residualRows, 2)
	assert.Equal(t, "9_2024-03", residualRows[1].RecordID, "record id derived when blank")
	assert.Equal(t, "Jane", residualRows[1].AgentName)

	merged := []types.MergedRecord{
		{MerchantID: "1", MerchantName: "Alpha", TotalVolume: 100, NetProfit: 5, ProfitMargin: 0.05, PeriodKey: "2024-03", CreatedAt: created},
	}
	res, err = s.UpsertMerged(ctx, merged)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	got, err := s.MergedByPeriod(ctx, "2024-03")
	require.NoError(t, err)
	assert.Equal(t, merged, got)

	periods, err := s.Periods(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03"}, periods)
}

func TestAgentEarnings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	earnings := []residuals.AgentEarning{
		{MerchantID: "1", AgentName: "Jane", PeriodKey: "2024-03", SplitPercentage: 0.7, Earnings: 299.25},
		{MerchantID: "1", AgentName: "Bob", PeriodKey: "2024-03", SplitPercentage: 0.3, Earnings: 128.25},
	}
	res, err := s.UpsertAgentEarnings(ctx, earnings)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	res, err = s.UpsertAgentEarnings(ctx, earnings[:1])
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Updated: 1}, res)

	got, err := s.AgentEarningsByPeriod(ctx, "2024-03")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Bob", got[0].AgentName)
}

func TestIngestionLogs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, name := range []string{"a.xlsx", "b.xlsx"} {
		require.NoError(t, s.LogIngestion(ctx, IngestionLog{
			ID:         name,
			RunID:      "run-1",
			FileName:   name,
			Kind:       "merchant",
			PeriodKey:  "2024-03",
			Status:     "success",
			RowsTotal:  10,
			StartedAt:  created.Add(time.Duration(i) * time.Minute),
			FinishedAt: created.Add(time.Duration(i)*time.Minute + time.Second),
		}))
	}

	logs, err := s.IngestionLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "b.xlsx", logs[0].FileName)
	assert.Equal(t, 10, logs[0].RowsTotal)
}

func TestCRMUpsertsAndMonthRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inserted, err := s.UpsertCRMMerchant(ctx, crm.Merchant{MID: "1", Name: "Alpha"})
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = s.UpsertCRMMerchant(ctx, crm.Merchant{MID: "1", Name: "Alpha Ltd"})
	require.NoError(t, err)
	assert.False(t, inserted)

	_, err = s.UpsertCRMVolume(ctx, crm.Volume{MID: "1", Month: "2024-03", GrossVolume: 1000, TransactionCount: 4, AvgTicket: 250})
	require.NoError(t, err)
	_, err = s.UpsertCRMResidual(ctx, crm.Residual{MID: "1", PayoutMonth: "2024-03", ResidualSummary: crm.ResidualSummary{NetProfit: 50, BPS: 500}})
	require.NoError(t, err)

	merchants, residualRows, err := s.CRMMonthRecords(ctx, "2024-03")
	require.NoError(t, err)
	require.Len(t, merchants, 1)
	assert.Equal(t, "Alpha Ltd", merchants[0].MerchantName)
	assert.Equal(t, 4.0, merchants[0].TotalTransactionCount)
	assert.Equal(t, "crm", merchants[0].SourceTag)
	require.Len(t, residualRows, 1)
	assert.Equal(t, 50.0, residualRows[0].NetProfit)
	assert.Equal(t, "1_2024-03", residualRows[0].RecordID)
}

func TestCRMMonthRecordsCleansMIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertCRMMerchant(ctx, crm.Merchant{MID: "4213-77", Name: "Gamma"})
	require.NoError(t, err)
	_, err = s.UpsertCRMVolume(ctx, crm.Volume{MID: "4213-77", Month: "2024-03", GrossVolume: 1000, TransactionCount: 10})
	require.NoError(t, err)
	_, err = s.UpsertCRMVolume(ctx, crm.Volume{MID: " -- ", Month: "2024-03", GrossVolume: 9})
	require.NoError(t, err)
	_, err = s.UpsertCRMResidual(ctx, crm.Residual{MID: "", PayoutMonth: "2024-03", ResidualSummary: crm.ResidualSummary{NetProfit: 3}})
	require.NoError(t, err)
	_, err = s.UpsertCRMResidual(ctx, crm.Residual{MID: "4213-77", PayoutMonth: "2024-03", ResidualSummary: crm.ResidualSummary{NetProfit: 20}})
	require.NoError(t, err)

	merchants, residualRows, err := s.CRMMonthRecords(ctx, "2024-03")
	require.NoError(t, err)
	require.Len(t, merchants, 1)
	assert.Equal(t, "421377", merchants[0].MerchantID)
	assert.Equal(t, "Gamma", merchants[0].MerchantName)
	require.Len(t, residualRows, 1)
	assert.Equal(t, "421377", residualRows[0].MerchantID)
	assert.Equal(t, "421377_2024-03", residualRows[0].RecordID)

	// A spreadsheet record for the same merchant joins the CRM rows.
	excel := types.MerchantRecord{MerchantID: "421377", MerchantName: "Gamma", TotalVolume: 5, PeriodKey: "2024-03", CreatedAt: created}
	merged := ingest.Merge(append([]types.MerchantRecord{excel}, merchants...), residualRows)
	require.Len(t, merged, 1)
	assert.Equal(t, "421377", merged[0].MerchantID)
	assert.Equal(t, 1000.0, merged[0].TotalVolume, "last write wins")
	assert.Equal(t, 20.0, merged[0].NetProfit)
}
