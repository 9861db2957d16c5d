// =============================================================================
// Merchant Analytics - Ingest Command
// =============================================================================
//
// This file defines the 'ingest' command, which runs the full ingestion
// pipeline over the input directory or a single file.
//
// COMMAND USAGE:
//   analytics ingest [flags]
//
// FLAGS:
//   --file                    : Ingest a single file instead of the input directory
//   --dry-run                 : Parse and merge without storing or writing anything
//   --kind                    : Force the record kind (merchant or residual)
//   --period                  : Force the period key (YYYY-MM)
//   --no-archive              : Leave inputs and reports in place
//   --archive-retention-days  : Delete archived files older than this many days
//
// PROCESSING PIPELINE:
//   1. Load source profiles and residual inputs
//   2. Discover input files
//   3. Ingest each file concurrently (see internal/pipeline)
//   4. Merge, store and export each period
//   5. Archive inputs, write logs and send notifications
//   6. Print the summary
//
// =============================================================================

package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/merchant-analytics/internal/config"
	"github.com/ginjaninja78/merchant-analytics/internal/metrics"
	"github.com/ginjaninja78/merchant-analytics/internal/notify"
	"github.com/ginjaninja78/merchant-analytics/internal/pipeline"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
	"github.com/ginjaninja78/merchant-analytics/pkg/utils"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	ingestFile          string
	ingestDryRun        bool
	ingestKind          string
	ingestPeriod        string
	ingestNoArchive     bool
	ingestRetentionDays int
)

// =============================================================================
// INGEST COMMAND DEFINITION
// =============================================================================

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest merchant and residual exports",
	Long: `The ingest command scans the input directory for merchant volume and
residual exports, detects their columns, cleans every row and merges the
records of each period.

On success:
  - Records, merged data and agent earnings are stored in the database
  - Merged CSV and XLSX reports and dashboard JSON files are written
  - The inputs are moved to the input archive

On error:
  - An error log is created in the output directory
  - Inputs of failed periods stay in the input directory
  - Processing continues for other files unless continue_on_error is false`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "Path to a single file to ingest")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "Parse and merge without storing or writing anything")
	ingestCmd.Flags().StringVar(&ingestKind, "kind", "", "Force the record kind (merchant or residual)")
	ingestCmd.Flags().StringVar(&ingestPeriod, "period", "", "Force the period key (YYYY-MM)")
	ingestCmd.Flags().BoolVar(&ingestNoArchive, "no-archive", false, "Leave inputs and reports in place")
	ingestCmd.Flags().IntVar(&ingestRetentionDays, "archive-retention-days", 0, "Delete archived files older than this many days (0 keeps everything)")
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

func runIngest(cmd *cobra.Command) error {
	ctx := cmd.Context()
	startTime := time.Now()

	opts := pipeline.Options{
		Period:    ingestPeriod,
		DryRun:    ingestDryRun,
		NoArchive: ingestNoArchive,
	}
	if ingestKind != "" {
		kind, err := types.ParseKind(ingestKind)
		if err != nil {
			return err
		}
		opts.Kind = kind
	}
	if ingestPeriod != "" {
		if err := types.ValidatePeriodKey(ingestPeriod); err != nil {
			return err
		}
	}

	// =========================================================================
	// STEP 1: LOAD PROFILES AND RESIDUAL INPUTS
	// =========================================================================

	fmt.Println("=== Merchant Analytics Ingest ===")

	profiles, err := config.LoadSourceProfiles(mainConfig.ProfilesDir)
	if err != nil {
		return fmt.Errorf("failed to load source profiles: %w", err)
	}
	fmt.Printf("Loaded %d source profile(s)\n", len(profiles))

	balances, splits, err := pipeline.LoadResidualInputs(mainConfig.Residuals)
	if err != nil {
		return err
	}

	options := []pipeline.Option{
		pipeline.WithProfiles(profiles),
		pipeline.WithResidualInputs(balances, splits),
		pipeline.WithNotifier(notify.New(mainConfig.Notify, log)),
		pipeline.WithMetrics(metrics.New()),
		pipeline.WithLogger(log),
	}

	// A dry run never touches the database.
	if !ingestDryRun {
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		options = append(options, pipeline.WithStore(st))
	}

	p := pipeline.New(mainConfig, opts, options...)

	// =========================================================================
	// STEP 2: DISCOVER INPUT FILES
	// =========================================================================

	var inputFiles []string
	if ingestFile != "" {
		inputFiles = []string{ingestFile}
	} else {
		fmt.Println("Discovering input files...")
		inputFiles, err = p.Files().DiscoverInputFiles(mainConfig.FilePatterns...)
		if err != nil {
			return fmt.Errorf("failed to discover input files: %w", err)
		}
	}

	if len(inputFiles) == 0 {
		fmt.Println("No input files found in the input directory.")
		return nil
	}
	fmt.Printf("Found %d file(s) to process\n", len(inputFiles))

	// =========================================================================
	// STEP 3: RUN THE PIPELINE
	// =========================================================================

	fmt.Println("Processing files...")
	run, runErr := p.Run(ctx, inputFiles)

	for _, result := range run.Files {
		name := filepath.Base(result.FilePath)
		if result.Success {
			fmt.Printf("  ✓ %s [%s %s] %d rows, %d skipped\n",
				name, result.Kind, result.PeriodKey, result.Stats.RowsSuccess, result.Stats.RowsFailed)
		} else if result.Error != nil {
			fmt.Printf("  ✗ %s: %v\n", name, result.Error)
		}
	}
	for _, period := range run.Periods {
		if period.Error != nil {
			fmt.Printf("  ✗ period %s: %v\n", period.PeriodKey, period.Error)
			continue
		}
		fmt.Printf("  ✓ period %s: %d merged, %d agent earnings\n",
			period.PeriodKey, len(period.Merged), len(period.AgentEarnings))
	}

	// =========================================================================
	// STEP 4: CLEAN OLD ARCHIVES
	// =========================================================================

	if ingestRetentionDays > 0 && !ingestDryRun {
		maxAge := time.Duration(ingestRetentionDays) * 24 * time.Hour
		for _, dir := range []string{mainConfig.InputArchiveDir, mainConfig.OutputArchiveDir} {
			removed, err := utils.CleanOldArchives(dir, maxAge)
			if err != nil {
				log.Warn("failed to clean archive", "dir", dir, "error", err)
				continue
			}
			if removed > 0 {
				fmt.Printf("Removed %d archived file(s) from %s\n", removed, dir)
			}
		}
	}

	// =========================================================================
	// STEP 5: PRINT SUMMARY
	// =========================================================================

	summary := run.Summary()
	fmt.Println("\n=== Processing Complete ===")
	fmt.Printf("Total files:     %d\n", summary.TotalFiles)
	fmt.Printf("Successful:      %d\n", summary.SuccessfulFiles)
	fmt.Printf("Errors:          %d\n", summary.FailedFiles)
	fmt.Printf("Rows skipped:    %d\n", summary.RowsFailed)
	fmt.Printf("Merged records:  %d\n", summary.MergedRecords)
	fmt.Printf("Time elapsed:    %s\n", time.Since(startTime).Round(time.Millisecond))

	if run.ErrorLog != "" {
		fmt.Printf("\nErrors have been logged to %s\n", run.ErrorLog)
	}
	if ingestDryRun {
		fmt.Println("\nDry run: nothing was stored, written or archived.")
	}

	return runErr
}
