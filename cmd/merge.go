// =============================================================================
// Merchant Analytics - Merge Command
// =============================================================================
//
// Merges one merchant file with one residual file and writes the merged CSV.
// Nothing is stored or archived.
//
// COMMAND USAGE:
//   analytics merge --merchant volume.xlsx --residual residuals.csv [--period 2024-03] [--out merged.csv]
//
// =============================================================================

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/merchant-analytics/internal/config"
	"github.com/ginjaninja78/merchant-analytics/internal/exporter"
	"github.com/ginjaninja78/merchant-analytics/internal/ingest"
	"github.com/ginjaninja78/merchant-analytics/internal/pipeline"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

var (
	mergeMerchantFile string
	mergeResidualFile string
	mergePeriod       string
	mergeOut          string
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge a merchant file with a residual file",
	Long: `The merge command ingests one merchant export and one residual export,
joins them on merchant ID and writes the merged records as CSV. Merchants
missing from either file are kept with zero values for the other side.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runMerge(cmd)
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().StringVar(&mergeMerchantFile, "merchant", "", "Merchant volume export")
	mergeCmd.Flags().StringVar(&mergeResidualFile, "residual", "", "Residual export")
	mergeCmd.Flags().StringVar(&mergePeriod, "period", "", "Period key (YYYY-MM); derived from file names when empty")
	mergeCmd.Flags().StringVar(&mergeOut, "out", "-", "Output CSV path, - for stdout")
	mergeCmd.MarkFlagRequired("merchant")
	mergeCmd.MarkFlagRequired("residual")
}

func runMerge(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if mergePeriod != "" {
		if err := types.ValidatePeriodKey(mergePeriod); err != nil {
			return err
		}
	}

	profiles, err := config.LoadSourceProfiles(mainConfig.ProfilesDir)
	if err != nil {
		return fmt.Errorf("failed to load source profiles: %w", err)
	}

	ingestAs := func(path string, kind types.Kind) (pipeline.FileResult, error) {
		p := pipeline.New(mainConfig,
			pipeline.Options{Kind: kind, Period: mergePeriod, DryRun: true},
			pipeline.WithProfiles(profiles),
			pipeline.WithLogger(log),
		)
		result := p.ProcessFile(ctx, path)
		if result.Error != nil {
			return result, result.Error
		}
		return result, nil
	}

	merchantResult, err := ingestAs(mergeMerchantFile, types.KindMerchant)
	if err != nil {
		return err
	}
	residualResult, err := ingestAs(mergeResidualFile, types.KindResidual)
	if err != nil {
		return err
	}
	if merchantResult.PeriodKey != residualResult.PeriodKey {
		return fmt.Errorf("files resolve to different periods (%s and %s); set --period",
			merchantResult.PeriodKey, residualResult.PeriodKey)
	}

	merged := ingest.Merge(merchantResult.Batch.Merchants, residualResult.Batch.Residuals)

	var w io.Writer = os.Stdout
	if mergeOut != "-" {
		f, err := os.Create(mergeOut)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", mergeOut, err)
		}
		defer f.Close()
		w = f
	}
	if err := exporter.WriteMergedCSV(w, merged); err != nil {
		return fmt.Errorf("failed to write merged CSV: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Merged %d merchant and %d residual records into %d rows for %s\n",
		len(merchantResult.Batch.Merchants), len(residualResult.Batch.Residuals), len(merged), merchantResult.PeriodKey)
	return nil
}
