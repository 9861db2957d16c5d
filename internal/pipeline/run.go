// =============================================================================
// Merchant Analytics - Pipeline Run
// =============================================================================
//
// Run fans out ProcessFile over the inputs, groups the batches by period and
// processes each period oldest first: store, merge, residuals, export,
// archive. The run ends with the error log, the summary log, metrics and a
// notification.
//
// =============================================================================

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ginjaninja78/merchant-analytics/internal/analytics"
	"github.com/ginjaninja78/merchant-analytics/internal/exporter"
	"github.com/ginjaninja78/merchant-analytics/internal/ingest"
	"github.com/ginjaninja78/merchant-analytics/internal/notify"
	"github.com/ginjaninja78/merchant-analytics/internal/residuals"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
	"github.com/ginjaninja78/merchant-analytics/pkg/utils"
)

// =============================================================================
// RUN RESULT
// =============================================================================

// PeriodResult is the merged output of one period.
type PeriodResult struct {
	PeriodKey     string
	Merchants     int
	Residuals     int
	Merged        []types.MergedRecord
	Statements    []residuals.Statement
	AgentEarnings []residuals.AgentEarning
	OutputFiles   []string
	Error         error
}

// RunSummary is the outcome of Run.
type RunSummary struct {
	RunID   string
	Files   []FileResult
	Periods []PeriodResult

	ErrorLog   string
	SummaryLog string

	summary utils.ProcessingSummary
}

// FailedFiles returns the files that could not be ingested.
func (s *RunSummary) FailedFiles() []FileResult {
	var failed []FileResult
	for _, f := range s.Files {
		if !f.Success {
			failed = append(failed, f)
		}
	}
	return failed
}

// Summary returns the file manager's view of the run.
func (s *RunSummary) Summary() utils.ProcessingSummary {
	return s.summary
}

// periodInput collects the successful batches of one period.
type periodInput struct {
	merchants []types.MerchantRecord
	residuals []types.ResidualRecord
	files     []int
}

// =============================================================================
// RUN
// =============================================================================

// Run ingests files, then merges, stores and exports every period they
// touch. With continue_on_error disabled the first failed file aborts the
// run before anything is merged.
func (p *Pipeline) Run(ctx context.Context, files []string) (*RunSummary, error) {
	start := p.now()
	run := &RunSummary{
		RunID: uuid.NewString(),
		Files: make([]FileResult, len(files)),
	}
	logger := p.logger.With(slog.String("run_id", run.RunID))
	logger.Info("run started", slog.Int("files", len(files)), slog.Bool("dry_run", p.opts.DryRun))

	if p.writes() {
		if err := p.files.EnsureDirectories(); err != nil {
			return run, err
		}
	}

	// =========================================================================
	// STEP 1: PROCESS FILES CONCURRENTLY
	// =========================================================================

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.cfg.MaxConcurrency, 1))
	for i, path := range files {
		g.Go(func() error {
			res := p.processFile(gctx, run.RunID, path)
			run.Files[i] = res
			if !res.Success && !p.cfg.ContinueOnError {
				return fmt.Errorf("failed to process %s: %w", filepath.Base(path), res.Error)
			}
			return nil
		})
	}
	runErr := g.Wait()

	// =========================================================================
	// STEP 2: GROUP BY PERIOD AND MERGE
	// =========================================================================

	if runErr == nil {
		byPeriod := make(map[string]*periodInput)
		for i, f := range run.Files {
			if !f.Success {
				continue
			}
			in := byPeriod[f.PeriodKey]
			if in == nil {
				in = &periodInput{}
				byPeriod[f.PeriodKey] = in
			}
			in.merchants = append(in.merchants, f.Batch.Merchants...)
			in.residuals = append(in.residuals, f.Batch.Residuals...)
			in.files = append(in.files, i)
		}

		periods := make([]string, 0, len(byPeriod))
		for period := range byPeriod {
			periods = append(periods, period)
		}
		sort.Strings(periods)

		for _, period := range periods {
			in := byPeriod[period]
			pr := p.processPeriod(ctx, period, in)
			run.Periods = append(run.Periods, pr)

			if pr.Error != nil {
				logger.Error("period failed", slog.String("period", period), "error", pr.Error)
				if !p.cfg.ContinueOnError {
					runErr = pr.Error
					break
				}
				continue
			}

			// STEP 3: ARCHIVE INPUTS
			for _, i := range in.files {
				p.archiveInput(&run.Files[i])
			}
		}
	}

	// =========================================================================
	// STEP 4: LOGS AND NOTIFICATIONS
	// =========================================================================

	run.summary = p.buildSummary(run, start)
	if p.writes() {
		p.writeLogs(run)
	}
	p.notify(ctx, run, runErr)

	logger.Info("run finished",
		slog.Int("succeeded", run.summary.SuccessfulFiles),
		slog.Int("failed", run.summary.FailedFiles),
		slog.Int("periods", len(run.Periods)),
		slog.Duration("duration", run.summary.EndTime.Sub(start)),
	)
	return run, runErr
}

// processPeriod stores, merges and exports one period.
func (p *Pipeline) processPeriod(ctx context.Context, period string, in *periodInput) PeriodResult {
	pr := PeriodResult{PeriodKey: period}
	merchants, residualRecords := in.merchants, in.residuals

	if p.storing() {
		if _, err := p.store.UpsertMerchants(ctx, merchants); err != nil {
			pr.Error = err
			return pr
		}
		if _, err := p.store.UpsertResiduals(ctx, residualRecords); err != nil {
			pr.Error = err
			return pr
		}

		// Merge the whole period so files from earlier runs still join.
		var err error
		if merchants, err = p.store.MerchantsByPeriod(ctx, period); err != nil {
			pr.Error = err
			return pr
		}
		if residualRecords, err = p.store.ResidualsByPeriod(ctx, period); err != nil {
			pr.Error = err
			return pr
		}
	}

	pr.Merchants, pr.Residuals = len(merchants), len(residualRecords)
	pr.Merged = ingest.Merge(merchants, residualRecords)

	calc := p.calculator.Process(merchants, residualRecords, p.balances, p.splits)
	pr.Statements, pr.AgentEarnings = calc.Statements, calc.AgentEarnings

	if p.storing() {
		if _, err := p.store.UpsertMerged(ctx, pr.Merged); err != nil {
			pr.Error = err
			return pr
		}
		if _, err := p.store.UpsertAgentEarnings(ctx, pr.AgentEarnings); err != nil {
			pr.Error = err
			return pr
		}
	}

	if p.writes() {
		outputs, err := p.export(ctx, period, merchants, pr)
		pr.OutputFiles = outputs
		if err != nil {
			pr.Error = err
			return pr
		}
	}

	p.logger.Info("period merged",
		slog.String("period", period),
		slog.Int("merchants", pr.Merchants),
		slog.Int("residuals", pr.Residuals),
		slog.Int("merged", len(pr.Merged)),
		slog.Int("agent_earnings", len(pr.AgentEarnings)),
	)
	return pr
}

// MergeRecords stores, merges and exports records that did not come from
// input files, such as synced CRM data, as a single period.
func (p *Pipeline) MergeRecords(ctx context.Context, period string, merchants []types.MerchantRecord, residualRecords []types.ResidualRecord) PeriodResult {
	if p.writes() {
		if err := p.files.EnsureDirectories(); err != nil {
			return PeriodResult{PeriodKey: period, Error: err}
		}
	}
	return p.processPeriod(ctx, period, &periodInput{merchants: merchants, residuals: residualRecords})
}

// =============================================================================
// EXPORT
// =============================================================================

// export writes the merged CSV, the XLSX report and the dashboard JSON for
// a period, and archives the reports.
func (p *Pipeline) export(ctx context.Context, period string, merchants []types.MerchantRecord, pr PeriodResult) ([]string, error) {
	base := utils.GenerateOutputFileName(p.cfg.OutputNameFormat, map[string]string{
		"period": period,
		"kind":   "merged",
	}, "")
	csvPath := filepath.Join(p.cfg.OutputDir, base+".csv")
	xlsxPath := filepath.Join(p.cfg.OutputDir, base+".xlsx")

	if err := writeCSV(csvPath, pr.Merged); err != nil {
		return nil, err
	}
	outputs := []string{csvPath}

	summaries := analytics.Summarize(pr.Merged)
	top := analytics.TopMerchants(summaries, analytics.MetricVolume, p.cfg.Analytics.TopMerchants)
	if err := exporter.WriteWorkbook(xlsxPath, pr.Merged, exporter.WorkbookOptions{TopMerchants: top}); err != nil {
		return outputs, err
	}
	outputs = append(outputs, xlsxPath)

	dashboardFiles, err := p.writeDashboard(ctx, period, merchants, summaries, pr)
	outputs = append(outputs, dashboardFiles...)
	if err != nil {
		return outputs, err
	}

	for _, out := range []string{csvPath, xlsxPath} {
		if _, err := p.files.ArchiveOutputFile(out); err != nil {
			p.logger.Warn("failed to archive report", "file", out, "error", err)
		}
	}
	return outputs, nil
}

func writeCSV(path string, records []types.MergedRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := exporter.WriteMergedCSV(f, records); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// monthlySummary is the body of monthly_summary_<period>.json.
type monthlySummary struct {
	TotalMerchants    int     `json:"total_merchants"`
	TotalVolume       float64 `json:"total_volume"`
	TotalTransactions float64 `json:"total_transactions"`
	TotalProfit       float64 `json:"total_profit"`
	AvgProfitMargin   float64 `json:"avg_profit_margin"`
	TotalAgents       int     `json:"total_agents"`
	TotalAgentPayout  float64 `json:"total_agent_payout"`
}

func (p *Pipeline) writeDashboard(ctx context.Context, period string, merchants []types.MerchantRecord, summaries []analytics.MerchantSummary, pr PeriodResult) ([]string, error) {
	var written []string
	add := func(path string, err error) error {
		if err == nil {
			written = append(written, path)
		}
		return err
	}

	if err := add(p.dashboard.WriteTopMerchants(summaries, p.cfg.Analytics.TopMerchants)); err != nil {
		return written, err
	}

	agents := analytics.SummarizeAgents(pr.AgentEarnings, merchants)
	if err := add(p.dashboard.WriteTopAgents(agents, p.cfg.Analytics.TopAgents)); err != nil {
		return written, err
	}
	for _, agent := range agents {
		report, err := analytics.BuildAgentReport(agent.AgentName, pr.AgentEarnings, merchants)
		if err != nil {
			continue
		}
		if err := add(p.dashboard.WriteAgentMerchants(report)); err != nil {
			return written, err
		}
	}

	monthly := monthlySummary{TotalMerchants: len(summaries), TotalAgents: len(agents)}
	for _, s := range summaries {
		monthly.TotalVolume += s.TotalVolume
		monthly.TotalTransactions += s.TotalTransactionCount
		monthly.TotalProfit += s.NetProfit
		monthly.AvgProfitMargin += s.ProfitMargin
	}
	if len(summaries) > 0 {
		monthly.AvgProfitMargin /= float64(len(summaries))
	}
	for _, a := range agents {
		monthly.TotalAgentPayout += a.TotalEarnings
	}
	if err := add(p.dashboard.WriteMonthlySummary(period, monthly)); err != nil {
		return written, err
	}

	trend, err := p.trend(ctx, period, merchants)
	if err != nil {
		return written, err
	}
	if err := add(p.dashboard.WriteVolumeTrend(trend)); err != nil {
		return written, err
	}
	return written, nil
}

// trend builds the volume and profit trend from the store, or from the
// current period alone when there is no store.
func (p *Pipeline) trend(ctx context.Context, period string, merchants []types.MerchantRecord) ([]analytics.TrendPoint, error) {
	if p.store == nil {
		return analytics.VolumeTrend(map[string][]types.MerchantRecord{period: merchants}), nil
	}
	volumes, err := p.store.MerchantHistory(ctx)
	if err != nil {
		return nil, err
	}
	profits, err := p.store.ResidualHistory(ctx)
	if err != nil {
		return nil, err
	}
	return analytics.CombineTrends(analytics.VolumeTrend(volumes), analytics.ProfitTrend(profits)), nil
}

func (p *Pipeline) archiveInput(f *FileResult) {
	archived, err := p.files.ArchiveInputFile(f.FilePath)
	if err != nil {
		p.logger.Warn("failed to archive input", "file", f.FilePath, "error", err)
		return
	}
	if archived != f.FilePath {
		f.ArchivePath = archived
	}
}

// =============================================================================
// LOGS AND NOTIFICATIONS
// =============================================================================

func (p *Pipeline) buildSummary(run *RunSummary, start time.Time) utils.ProcessingSummary {
	summary := utils.ProcessingSummary{
		RunID:      run.RunID,
		StartTime:  start,
		EndTime:    p.now(),
		TotalFiles: len(run.Files),
	}

	for _, f := range run.Files {
		summary.TotalRows += f.Stats.TotalRows
		summary.RowsSuccess += f.Stats.RowsSuccess
		summary.RowsFailed += f.Stats.RowsFailed
		if !f.Success {
			summary.FailedFiles++
			msg := "not processed"
			if f.Error != nil {
				msg = f.Error.Error()
			}
			summary.FailedFilesList = append(summary.FailedFilesList, utils.FailedFileInfo{
				InputFile:    f.FilePath,
				ErrorMessage: msg,
			})
			continue
		}
		summary.SuccessfulFiles++
		summary.ProcessedFiles = append(summary.ProcessedFiles, utils.ProcessedFileInfo{
			InputFile:   f.FilePath,
			ArchivePath: f.ArchivePath,
			Kind:        string(f.Kind),
			PeriodKey:   f.PeriodKey,
			Rows:        f.Stats.TotalRows,
			RowsFailed:  f.Stats.RowsFailed,
			ProcessTime: f.Stats.ProcessingTime,
		})
	}

	for _, pr := range run.Periods {
		summary.Periods = append(summary.Periods, pr.PeriodKey)
		summary.MergedRecords += len(pr.Merged)
		summary.OutputFiles = append(summary.OutputFiles, pr.OutputFiles...)
	}
	return summary
}

// errorEntries lists failed files, failed periods and skipped rows.
func errorEntries(run *RunSummary, at time.Time) []utils.ErrorLogEntry {
	var entries []utils.ErrorLogEntry
	for _, f := range run.Files {
		name := filepath.Base(f.FilePath)
		if !f.Success {
			msg := "not processed"
			if f.Error != nil {
				msg = f.Error.Error()
			}
			entries = append(entries, utils.ErrorLogEntry{Timestamp: at, FileName: name, ErrorType: "file", ErrorMessage: msg})
			continue
		}
		for _, skipped := range f.Batch.Skipped {
			entry := utils.ErrorLogEntry{
				Timestamp:    at,
				FileName:     name,
				ErrorType:    "row",
				ErrorMessage: skipped.Reason(),
				RowNumber:    skipped.RowNumber,
			}
			if len(skipped.Errors) > 0 {
				entry.FieldName = skipped.Errors[0].Field
				entry.FieldValue = skipped.Errors[0].Value
			}
			entries = append(entries, entry)
		}
	}
	for _, pr := range run.Periods {
		if pr.Error != nil {
			entries = append(entries, utils.ErrorLogEntry{
				Timestamp:    at,
				FileName:     pr.PeriodKey,
				ErrorType:    "period",
				ErrorMessage: pr.Error.Error(),
			})
		}
	}
	return entries
}

func (p *Pipeline) writeLogs(run *RunSummary) {
	path, err := utils.WriteErrorLog(errorEntries(run, run.summary.EndTime), p.cfg.OutputDir)
	if err != nil {
		p.logger.Warn("failed to write error log", "error", err)
	}
	run.ErrorLog = path

	if path, err = utils.WriteSummaryLog(run.summary, p.cfg.OutputDir); err != nil {
		p.logger.Warn("failed to write summary log", "error", err)
	}
	run.SummaryLog = path
}

// notify reports the run. Any failed file or period makes it an error
// notification.
func (p *Pipeline) notify(ctx context.Context, run *RunSummary, runErr error) {
	if p.notifier == nil || p.opts.DryRun {
		return
	}

	label := strings.Join(run.summary.Periods, ", ")
	if label == "" {
		label = "no data"
	}

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	for _, f := range run.FailedFiles() {
		if f.Error != nil && !errors.Is(f.Error, context.Canceled) {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(f.FilePath), f.Error))
		}
	}
	for _, pr := range run.Periods {
		if pr.Error != nil {
			errs = append(errs, fmt.Errorf("period %s: %w", pr.PeriodKey, pr.Error))
		}
	}

	var err error
	if len(errs) > 0 {
		headline := fmt.Errorf("%d of %d files failed", run.summary.FailedFiles, run.summary.TotalFiles)
		if runErr != nil {
			headline = runErr
		}
		err = p.notifier.PipelineError(ctx, label, headline, errors.Join(errs...).Error())
	} else {
		stats := notify.PipelineStats{ProcessingTime: run.summary.EndTime.Sub(run.summary.StartTime)}
		for _, pr := range run.Periods {
			stats.TotalMerchants += len(pr.Merged)
			for _, m := range pr.Merged {
				stats.TotalVolume += m.TotalVolume
				stats.TotalProfit += m.NetProfit
			}
		}
		err = p.notifier.PipelineSuccess(ctx, label, stats)
	}
	if err != nil {
		p.logger.Warn("notification failed", "error", err)
	}
}
