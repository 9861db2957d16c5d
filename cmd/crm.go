// =============================================================================
// Merchant Analytics - CRM Sync Wiring
// =============================================================================
//
// Builds the queue handler shared by the sync and serve commands.
//
// =============================================================================

package cmd

import (
	"github.com/ginjaninja78/merchant-analytics/internal/crm"
	"github.com/ginjaninja78/merchant-analytics/internal/metrics"
	"github.com/ginjaninja78/merchant-analytics/internal/pipeline"
	"github.com/ginjaninja78/merchant-analytics/internal/store"
)

// newSyncHandler builds the queue handler for CRM jobs. With merge set,
// residual and volume jobs are followed by a merge of the synced month so
// CRM data shows up in reports like ingested files do.
func newSyncHandler(st *store.Store, m *metrics.Metrics, merge bool) (crm.Handler, error) {
	client, err := crm.NewClient(mainConfig.CRM, crm.WithLogger(log), crm.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	manager := crm.NewSyncManager(client, st, mainConfig.CRM.PerPage, log)
	if !merge {
		return manager.Handle, nil
	}

	p := pipeline.New(mainConfig, pipeline.Options{NoArchive: true},
		pipeline.WithStore(st),
		pipeline.WithMetrics(m),
		pipeline.WithLogger(log),
	)
	return p.MergeAfterSync(manager.Handle, st), nil
}
