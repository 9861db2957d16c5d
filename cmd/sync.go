// =============================================================================
// Merchant Analytics - Sync Command
// =============================================================================
//
// Runs one CRM sync through the job queue, waiting out retries.
//
// COMMAND USAGE:
//   analytics sync merchants
//   analytics sync residuals --year 2024 --month 3 [--merge]
//   analytics sync volumes   [--priority 5]
//
// Residual and volume syncs default to the previous calendar month.
//
// =============================================================================

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/merchant-analytics/internal/crm"
	"github.com/ginjaninja78/merchant-analytics/internal/metrics"
)

var (
	syncYear     int
	syncMonth    int
	syncPriority int
	syncMerge    bool
)

var syncCmd = &cobra.Command{
	Use:       "sync merchants|residuals|volumes",
	Short:     "Sync data from the Ireland Pay CRM",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(crm.JobMerchants), string(crm.JobResiduals), string(crm.JobVolumes)},
	Long: `The sync command pulls merchants, residual reports or monthly volumes
from the CRM into the database. Failed requests are retried with backoff and
the job is retried by the queue when the whole sync fails.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().IntVar(&syncYear, "year", 0, "Year to sync (residuals and volumes)")
	syncCmd.Flags().IntVar(&syncMonth, "month", 0, "Month to sync, 1-12 (residuals and volumes)")
	syncCmd.Flags().IntVar(&syncPriority, "priority", 0, "Job priority; higher runs first")
	syncCmd.Flags().BoolVar(&syncMerge, "merge", false, "Merge the synced month into the merged data afterwards")
}

func runSync(cmd *cobra.Command, arg string) error {
	ctx := cmd.Context()

	jobType, err := crm.ParseJobType(arg)
	if err != nil {
		return err
	}
	year, month := syncYear, syncMonth
	if jobType != crm.JobMerchants && (year == 0 || month == 0) {
		prev := time.Now().AddDate(0, -1, 0)
		if year == 0 {
			year = prev.Year()
		}
		if month == 0 {
			month = int(prev.Month())
		}
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New()
	handle, err := newSyncHandler(st, m, syncMerge)
	if err != nil {
		return err
	}

	queue := crm.NewQueue(m, log)
	job, err := queue.Enqueue(jobType, year, month, syncPriority)
	if err != nil {
		return err
	}
	fmt.Printf("Queued %s sync %s\n", jobType, job.ID)

	// =========================================================================
	// RUN UNTIL THE JOB SETTLES
	// =========================================================================

	for {
		if _, err := queue.Process(ctx, handle); err != nil {
			return err
		}
		job, _ = queue.Get(job.ID)
		if job.Status != crm.StatusRetrying {
			break
		}

		wait := time.Until(job.NextAttempt)
		fmt.Printf("  retry %d/%d in %s: %s\n", job.RetryCount, job.MaxRetries, wait.Round(time.Second), job.LastError)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	if job.Status != crm.StatusCompleted {
		return fmt.Errorf("%s sync %s: %s", jobType, job.Status, job.LastError)
	}

	r := job.Result
	if r == nil {
		r = &crm.SyncResult{Type: string(jobType)}
	}
	fmt.Println("\n=== Sync Complete ===")
	fmt.Printf("Total:     %d\n", r.Total)
	fmt.Printf("Added:     %d\n", r.Added)
	fmt.Printf("Updated:   %d\n", r.Updated)
	fmt.Printf("Failed:    %d\n", r.Failed)
	for _, e := range r.Errors {
		fmt.Printf("  ✗ %s\n", e)
	}
	return nil
}
