package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/merchant-analytics/internal/config"
	"github.com/ginjaninja78/merchant-analytics/internal/metrics"
	"github.com/ginjaninja78/merchant-analytics/internal/notify"
	"github.com/ginjaninja78/merchant-analytics/internal/residuals"
	"github.com/ginjaninja78/merchant-analytics/internal/store"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

var fixedNow = time.Date(2024, 4, 5, 9, 30, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.MainConfig {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultMainConfig()
	cfg.InputDir = filepath.Join(root, "input")
	cfg.OutputDir = filepath.Join(root, "output")
	cfg.InputArchiveDir = filepath.Join(root, "input_archive")
	cfg.OutputArchiveDir = filepath.Join(root, "output_archive")
	cfg.MaxConcurrency = 2
	require.NoError(t, os.MkdirAll(cfg.InputDir, 0755))
	return cfg
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "pipeline.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writeWorkbook(t *testing.T, dir, name string, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	path := filepath.Join(dir, name)
	require.NoError(t, f.SaveAs(path))
	return path
}

type recordingSender struct {
	subjects []string
}

func (r *recordingSender) SendEmail(_ context.Context, subject, _, _ string, _ []string) error {
	r.subjects = append(r.subjects, subject)
	return nil
}

func seedInputs(t *testing.T, cfg *config.MainConfig) {
	t.Helper()
	writeWorkbook(t, cfg.InputDir, "merchant_volume_2024-03.xlsx", [][]any{
		{"MID", "DBA Name", "Volume", "Transactions"},
		{"1", "Alpha", "$1,000.00", 10},
		{"2", "Beta", 2000, 20},
		{"", "No MID", 5, 1},
	})
	writeFile(t, cfg.InputDir, "residuals_2024_03.csv", "MID,Net Residual\n1,50\n3,7\n")
}

func TestRunMergesStoresAndExports(t *testing.T) {
	cfg := testConfig(t)
	seedInputs(t, cfg)
	st := openStore(t)
	sender := &recordingSender{}

	p := New(cfg, Options{},
		WithStore(st),
		WithClock(func() time.Time { return fixedNow }),
		WithMetrics(metrics.New()),
		WithResidualInputs(nil, residuals.AgentSplits{"1": {"Jane Doe": 0.5}}),
		WithNotifier(notify.NewNotifier(sender, []string{"ops@example.com"}, nil, nil)),
	)

	files, err := p.Files().DiscoverInputFiles(cfg.FilePatterns...)
	require.NoError(t, err)
	require.Len(t, files, 2)

	run, err := p.Run(context.Background(), files)
	require.NoError(t, err)
	assert.Empty(t, run.FailedFiles())

	require.Len(t, run.Periods, 1)
	period := run.Periods[0]
	assert.Equal(t, "2024-03", period.PeriodKey)
	assert.Equal(t, 2, period.Merchants)
	assert.Equal(t, 2, period.Residuals)
	require.Len(t, period.Merged, 3, "full outer join over MIDs 1, 2 and 3")

	byMID := make(map[string]types.MergedRecord)
	for _, m := range period.Merged {
		byMID[m.MerchantID] = m
	}
	assert.Equal(t, 1000.0, byMID["1"].TotalVolume)
	assert.Equal(t, 50.0, byMID["1"].NetProfit)
	assert.InDelta(t, 0.05, byMID["1"].ProfitMargin, 1e-9)
	assert.Zero(t, byMID["3"].ProfitMargin)
	require.Len(t, period.AgentEarnings, 1)
	assert.Equal(t, "Jane Doe", period.AgentEarnings[0].AgentName)

	ctx := context.Background()
	stored, err := st.MergedByPeriod(ctx, "2024-03")
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	logs, err := st.IngestionLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	statuses := []string{logs[0].Status, logs[1].Status}
	assert.ElementsMatch(t, []string{StatusSuccess, StatusPartial}, statuses)

	for _, out := range period.OutputFiles {
		assert.FileExists(t, out)
	}
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "dashboard", "agent_Jane_Doe_merchants.json"))
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "dashboard", "monthly_summary_2024-03.json"))

	remaining, err := os.ReadDir(cfg.InputDir)
	require.NoError(t, err)
	assert.Empty(t, remaining, "inputs are archived")
	archived, err := os.ReadDir(cfg.InputArchiveDir)
	require.NoError(t, err)
	assert.Len(t, archived, 2)

	assert.FileExists(t, run.ErrorLog, "the skipped row is logged")
	assert.FileExists(t, run.SummaryLog)
	assert.Equal(t, 1, run.Summary().RowsFailed)

	assert.Equal(t, []string{"Ireland Pay Analytics Pipeline Success - 2024-03"}, sender.subjects)
}

func TestRunMergesWithEarlierRuns(t *testing.T) {
	cfg := testConfig(t)
	st := openStore(t)
	ctx := context.Background()

	merchantFile := writeFile(t, cfg.InputDir, "volume_2024-03.csv", "MID,DBA,Volume,Transactions\n1,Alpha,400,4\n")
	_, err := New(cfg, Options{}, WithStore(st)).Run(ctx, []string{merchantFile})
	require.NoError(t, err)

	residualFile := writeFile(t, cfg.InputDir, "residual_2024-03.csv", "MID,Net Residual\n1,20\n")
	run, err := New(cfg, Options{}, WithStore(st)).Run(ctx, []string{residualFile})
	require.NoError(t, err)

	require.Len(t, run.Periods, 1)
	require.Len(t, run.Periods[0].Merged, 1)
	merged := run.Periods[0].Merged[0]
	assert.Equal(t, "Alpha", merged.MerchantName)
	assert.Equal(t, 400.0, merged.TotalVolume)
	assert.Equal(t, 20.0, merged.NetProfit)
}

func TestRunDryRunWritesNothing(t *testing.T) {
	cfg := testConfig(t)
	seedInputs(t, cfg)
	st := openStore(t)
	sender := &recordingSender{}

	p := New(cfg, Options{DryRun: true}, WithStore(st),
		WithNotifier(notify.NewNotifier(sender, []string{"ops@example.com"}, nil, nil)))
	files, err := p.Files().DiscoverInputFiles()
	require.NoError(t, err)

	run, err := p.Run(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, run.Periods, 1)
	assert.Len(t, run.Periods[0].Merged, 3)
	assert.Empty(t, run.Periods[0].OutputFiles)

	stored, err := st.MergedByPeriod(context.Background(), "2024-03")
	require.NoError(t, err)
	assert.Empty(t, stored)

	assert.NoDirExists(t, cfg.OutputDir)
	remaining, err := os.ReadDir(cfg.InputDir)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
	assert.Empty(t, sender.subjects)
}

func TestRunStopsOnFailureWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.ContinueOnError = false
	cfg.MaxConcurrency = 1
	seedInputs(t, cfg)
	broken := writeFile(t, cfg.InputDir, "broken_2024-03.xlsx", "not a workbook")
	sender := &recordingSender{}

	p := New(cfg, Options{}, WithNotifier(notify.NewNotifier(sender, []string{"ops@example.com"}, nil, nil)))
	run, err := p.Run(context.Background(), []string{broken, filepath.Join(cfg.InputDir, "residuals_2024_03.csv")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken_2024-03.xlsx")
	assert.Empty(t, run.Periods)
	assert.FileExists(t, broken, "failed inputs stay in place")
	require.Len(t, sender.subjects, 1)
	assert.Contains(t, sender.subjects[0], "Pipeline Error")
}

func TestRunContinuesPastFailedFile(t *testing.T) {
	cfg := testConfig(t)
	seedInputs(t, cfg)
	broken := writeFile(t, cfg.InputDir, "broken_2024-03.xlsx", "not a workbook")

	p := New(cfg, Options{NoArchive: true})
	files, err := p.Files().DiscoverInputFiles()
	require.NoError(t, err)

	run, err := p.Run(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, run.FailedFiles(), 1)
	assert.Equal(t, broken, run.FailedFiles()[0].FilePath)
	assert.Equal(t, StatusError, run.FailedFiles()[0].Status())
	require.Len(t, run.Periods, 1)

	remaining, err := os.ReadDir(cfg.InputDir)
	require.NoError(t, err)
	assert.Len(t, remaining, 3, "--no-archive leaves inputs")
}

func TestProcessFileUsesProfile(t *testing.T) {
	cfg := testConfig(t)
	profiles := []*config.SourceProfile{{
		Name:                 "acme",
		FileMatchingPatterns: []string{"acme_*.csv"},
		Kind:                 types.KindMerchant,
		CSVSettings:          config.CSVSettings{Delimiter: "|"},
		ColumnSynonyms:       []config.ColumnSynonym{{Alias: "Gross", Canonical: "total_volume"}},
	}}
	path := writeFile(t, cfg.InputDir, "ACME_2024-02.csv", "MID|Gross\n7|300\n")

	p := New(cfg, Options{}, WithProfiles(profiles))
	result := p.ProcessFile(context.Background(), path)
	require.NoError(t, result.Error)

	assert.Equal(t, "acme", result.Profile)
	assert.Equal(t, types.KindMerchant, result.Kind)
	assert.Equal(t, "2024-02", result.PeriodKey)
	require.Len(t, result.Batch.Merchants, 1)
	assert.Equal(t, 300.0, result.Batch.Merchants[0].TotalVolume)
	assert.Equal(t, StatusSuccess, result.Status())
}

func TestProcessFileFlagOverrides(t *testing.T) {
	cfg := testConfig(t)
	path := writeFile(t, cfg.InputDir, "export.csv", "MID,Profit\n9,12.5\n")

	p := New(cfg, Options{Kind: types.KindResidual, Period: "2023-12"})
	result := p.ProcessFile(context.Background(), path)
	require.NoError(t, result.Error)

	assert.Equal(t, types.KindResidual, result.Kind)
	assert.Equal(t, "2023-12", result.PeriodKey)
	require.Len(t, result.Batch.Residuals, 1)
	assert.Equal(t, "9_2023-12", result.Batch.Residuals[0].RecordID)
}

func TestProcessFileCancelled(t *testing.T) {
	cfg := testConfig(t)
	path := writeFile(t, cfg.InputDir, "volume_2024-03.csv", "MID,Volume\n1,5\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := New(cfg, Options{}).ProcessFile(ctx, path)
	assert.ErrorIs(t, result.Error, context.Canceled)
	assert.False(t, result.Success)
}
