// =============================================================================
// Merchant Analytics - Report Command
// =============================================================================
//
// Builds the analytics report for a stored period and writes the dashboard
// files.
//
// COMMAND USAGE:
//   analytics report [--period 2024-03] [--top 10] [--forecast-months 3]
//                    [--merchant 123456] [--notify-agents]
//
// =============================================================================

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/merchant-analytics/internal/notify"
	"github.com/ginjaninja78/merchant-analytics/internal/pipeline"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

var (
	reportPeriod         string
	reportTop            int
	reportForecastMonths int
	reportMerchant       string
	reportNotifyAgents   bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Build analytics and dashboard files from stored data",
	Long: `The report command reads merged data, agent earnings and history from the
database and writes top merchant and agent lists, per-agent merchant lists,
the volume trend with forecasts and a full analytics report into the
dashboard directory.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runReport(cmd)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportPeriod, "period", "", "Period key (YYYY-MM); defaults to the newest stored period")
	reportCmd.Flags().IntVar(&reportTop, "top", 0, "Number of top merchants and agents (defaults to the analytics config)")
	reportCmd.Flags().IntVar(&reportForecastMonths, "forecast-months", 0, "Months to forecast (defaults to the analytics config)")
	reportCmd.Flags().StringVar(&reportMerchant, "merchant", "", "Include the history of one merchant ID")
	reportCmd.Flags().BoolVar(&reportNotifyAgents, "notify-agents", false, "Email agents with a configured address that their statement is ready")
}

func runReport(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if reportPeriod != "" {
		if err := types.ValidatePeriodKey(reportPeriod); err != nil {
			return err
		}
	}
	if reportTop < 0 || reportForecastMonths < 0 {
		return fmt.Errorf("--top and --forecast-months must not be negative")
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	reporter := pipeline.NewReporter(st, mainConfig, log)
	report, err := reporter.Build(ctx, pipeline.ReportOptions{
		Period:         reportPeriod,
		Top:            reportTop,
		ForecastMonths: reportForecastMonths,
		Merchant:       reportMerchant,
	})
	if err != nil {
		return err
	}

	written, err := reporter.Write(report)
	if err != nil {
		return err
	}

	fmt.Printf("=== Report %s ===\n", report.PeriodKey)
	fmt.Printf("Merchants:        %d\n", len(report.MerchantSummaries))
	fmt.Printf("Agents:           %d\n", len(report.Agents))
	fmt.Printf("Volume outliers:  %d\n", len(report.VolumeOutliers))
	fmt.Printf("Trend months:     %d\n", len(report.Trend))
	fmt.Printf("Avg retention:    %.1f%%\n", report.AvgRetentionRate)
	if report.Seasonality != nil {
		fmt.Printf("Peak volume month: %d\n", report.Seasonality.PeakVolumeMonth)
	}

	fmt.Println("\nTop merchants by volume:")
	for i, m := range report.TopMerchants {
		fmt.Printf("  %2d. %-12s %-30s %14.2f\n", i+1, m.MerchantID, m.MerchantName, m.TotalVolume)
	}

	fmt.Println("\nFiles written:")
	for _, path := range written {
		fmt.Printf("  ✓ %s\n", path)
	}

	if reportNotifyAgents {
		sent, err := reporter.NotifyAgents(ctx, notify.New(mainConfig.Notify, log), report, mainConfig.Notify.AgentEmails)
		fmt.Printf("\nNotified %d agent(s)\n", sent)
		if err != nil {
			return err
		}
	}
	return nil
}
