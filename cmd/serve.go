// =============================================================================
// Merchant Analytics - Serve Command
// =============================================================================
//
// Serves the HTTP API. When the CRM is configured, a worker drains the sync
// queue in the background.
//
// COMMAND USAGE:
//   analytics serve [--addr :8080] [--merge-crm]
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/merchant-analytics/internal/crm"
	"github.com/ginjaninja78/merchant-analytics/internal/metrics"
	"github.com/ginjaninja78/merchant-analytics/internal/server"
)

// workerInterval is how often the sync worker looks for due jobs.
const workerInterval = 2 * time.Second

var (
	serveAddr     string
	serveMergeCRM bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `The serve command exposes stored periods, merged records, summaries, top
merchants, agents and trends over HTTP, plus Prometheus metrics and the CRM
sync job endpoints.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (defaults to server.addr)")
	serveCmd.Flags().BoolVar(&serveMergeCRM, "merge-crm", false, "Merge synced residual and volume months into the merged data")
}

func runServe(cmd *cobra.Command) error {
	ctx := cmd.Context()
	addr := serveAddr
	if addr == "" {
		addr = mainConfig.Server.Addr
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New()

	var jobs server.Jobs
	handle, err := newSyncHandler(st, m, serveMergeCRM)
	if err != nil {
		log.Warn("crm sync disabled", "error", err)
	} else {
		queue := crm.NewQueue(m, log)
		jobs = queue
		go runSyncWorker(ctx, queue, handle)
	}

	srv := server.New(st, jobs, m, log)
	return srv.ListenAndServe(ctx, addr)
}

// runSyncWorker processes due jobs and prunes finished ones until ctx is
// done.
func runSyncWorker(ctx context.Context, queue *crm.Queue, handle crm.Handler) {
	ticker := time.NewTicker(workerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := queue.Process(ctx, handle)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("sync worker failed", "error", err)
			}
			if n > 0 {
				log.Debug("sync jobs processed", slog.Int("count", n))
			}
			queue.Prune()
		}
	}
}
