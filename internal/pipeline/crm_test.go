package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/merchant-analytics/internal/crm"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

type brokenSource struct{ calls int }

func (s *brokenSource) CRMMonthRecords(context.Context, string) ([]types.MerchantRecord, []types.ResidualRecord, error) {
	s.calls++
	return nil, nil, errors.New("database is locked")
}

func syncedOK(_ context.Context, job crm.Job) (*crm.SyncResult, error) {
	return &crm.SyncResult{Type: string(job.Type), Total: 1, Added: 1}, nil
}

func TestMergeAfterSyncReadFailureCompletesJob(t *testing.T) {
	p := New(testConfig(t), Options{NoArchive: true}, WithStore(openStore(t)))
	src := &brokenSource{}

	q := crm.NewQueue(nil, nil)
	job, err := q.Enqueue(crm.JobResiduals, 2024, 3, 0)
	require.NoError(t, err)

	n, err := q.Process(context.Background(), p.MergeAfterSync(syncedOK, src))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, src.calls)

	got, ok := q.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, crm.StatusCompleted, got.Status)
	assert.Zero(t, got.RetryCount)
	require.NotNil(t, got.Result)
	assert.Equal(t, 1, got.Result.Added)
}

func TestMergeAfterSyncPassesSyncErrorsThrough(t *testing.T) {
	p := New(testConfig(t), Options{NoArchive: true})
	src := &brokenSource{}
	boom := errors.New("crm unavailable")

	handle := p.MergeAfterSync(func(context.Context, crm.Job) (*crm.SyncResult, error) {
		return nil, boom
	}, src)

	_, err := handle(context.Background(), crm.Job{Type: crm.JobVolumes, Year: 2024, Month: 3})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, src.calls, "nothing to merge after a failed sync")

	_, err = p.MergeAfterSync(syncedOK, src)(context.Background(), crm.Job{Type: crm.JobMerchants})
	require.NoError(t, err)
	assert.Zero(t, src.calls, "merchant syncs carry no month")
}

func TestMergeAfterSyncMergesCleanedCRMMonth(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	_, err := st.UpsertCRMVolume(ctx, crm.Volume{MID: "4213-77", Month: "2024-03", GrossVolume: 1000, TransactionCount: 10})
	require.NoError(t, err)
	_, err = st.UpsertCRMResidual(ctx, crm.Residual{MID: "", PayoutMonth: "2024-03", ResidualSummary: crm.ResidualSummary{NetProfit: 3}})
	require.NoError(t, err)
	_, err = st.UpsertCRMResidual(ctx, crm.Residual{MID: "4213-77", PayoutMonth: "2024-03", ResidualSummary: crm.ResidualSummary{NetProfit: 50}})
	require.NoError(t, err)

	p := New(testConfig(t), Options{NoArchive: true}, WithStore(st), WithClock(func() time.Time { return fixedNow }))
	result, err := p.MergeAfterSync(syncedOK, st)(ctx, crm.Job{Type: crm.JobResiduals, Year: 2024, Month: 3})
	require.NoError(t, err)
	require.NotNil(t, result)

	merged, err := st.MergedByPeriod(ctx, "2024-03")
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, "421377", merged[0].MerchantID)
	assert.InDelta(t, 0.05, merged[0].ProfitMargin, 1e-9)
}
