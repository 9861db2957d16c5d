// =============================================================================
// Merchant Analytics - CRM Merge
// =============================================================================
//
// Residual and volume syncs can be followed by a merge of the synced month,
// so CRM data reaches merged_data and the dashboard like ingested files do.
//
// A sync that stored its data is complete. Failures after that point, while
// reading the CRM month back or merging it, are logged and never turn the
// job into a failure: retrying the sync would not fix them.
//
// =============================================================================

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/ginjaninja78/merchant-analytics/internal/crm"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

// CRMSource reads a synced CRM month as ingestion records.
type CRMSource interface {
	CRMMonthRecords(ctx context.Context, period string) ([]types.MerchantRecord, []types.ResidualRecord, error)
}

// MergeAfterSync wraps a sync handler so residual and volume jobs merge
// their month once the sync succeeds.
//
// PARAMETERS:
//   - next: The sync handler, usually SyncManager.Handle.
//   - src: Where the synced month is read back from.
//
// RETURNS:
//   - A handler returning next's result and error unchanged.
func (p *Pipeline) MergeAfterSync(next crm.Handler, src CRMSource) crm.Handler {
	return func(ctx context.Context, job crm.Job) (*crm.SyncResult, error) {
		result, err := next(ctx, job)
		if err != nil || job.Type == crm.JobMerchants {
			return result, err
		}

		period := types.PeriodKeyFor(time.Date(job.Year, time.Month(job.Month), 1, 0, 0, 0, 0, time.UTC))
		merchants, residualRecords, err := src.CRMMonthRecords(ctx, period)
		if err != nil {
			p.logger.Error("failed to read synced crm month", slog.String("period", period), "error", err)
			return result, nil
		}

		pr := p.MergeRecords(ctx, period, merchants, residualRecords)
		if pr.Error != nil {
			p.logger.Error("failed to merge crm data", slog.String("period", period), "error", pr.Error)
			return result, nil
		}
		p.logger.Info("crm data merged", slog.String("period", period), slog.Int("merged", len(pr.Merged)))
		return result, nil
	}
}
