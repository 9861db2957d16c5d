package crm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu        sync.Mutex
	merchants map[string]Merchant
	residuals map[string]Residual
	volumes   map[string]Volume
	failMID   string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		merchants: make(map[string]Merchant),
		residuals: make(map[string]Residual),
		volumes:   make(map[string]Volume),
	}
}

func (s *memoryStore) UpsertCRMMerchant(_ context.Context, m Merchant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.MID == s.failMID {
		return false, errors.New("constraint failed")
	}
	_, exists := s.merchants[m.MID]
	s.merchants[m.MID] = m
	return !exists, nil
}

func (s *memoryStore) UpsertCRMResidual(_ context.Context, r Residual) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := r.MID + "|" + r.PayoutMonth
	_, exists := s.residuals[key]
	s.residuals[key] = r
	return !exists, nil
}

func (s *memoryStore) UpsertCRMVolume(_ context.Context, v Volume) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := v.MID + "|" + v.Month
	_, exists := s.volumes[key]
	s.volumes[key] = v
	return !exists, nil
}

// crmFixture serves five merchants over pages of two.
func crmFixture(t *testing.T) *Client {
	merchants := []Merchant{{MID: "1"}, {MID: "2"}, {MID: "3"}, {MID: "4"}, {MID: "5", Name: "Last"}}

	return newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/merchants":
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
			start := min((page-1)*perPage, len(merchants))
			end := min(start+perPage, len(merchants))
			writeJSON(w, map[string]any{"data": merchants[start:end]})

		case r.URL.Path == "/residuals/reports/summary/2024/3":
			w.Write([]byte(`{"data":{"1":{"net_profit":10},"2":{"net_profit":"20.5"}}}`))

		case r.URL.Path == "/residuals/reports/summary/2024/4":
			w.Write([]byte(`{"data":{"":{"net_profit":3},"7":{"net_profit":1}}}`))

		case strings.HasPrefix(r.URL.Path, "/residuals/"):
			http.NotFound(w, r)

		case r.URL.Path == "/merchants/3/transactions":
			http.Error(w, "forbidden", http.StatusForbidden)

		default:
			if r.URL.Query().Get("page") != "1" {
				writeJSON(w, map[string]any{"data": []any{}})
				return
			}
			writeJSON(w, map[string]any{"data": []map[string]any{{"amount": 100}, {"amount": "50"}}})
		}
	})
}

func TestSyncMerchantsPaginates(t *testing.T) {
	store := newMemoryStore()
	store.failMID = "4"
	m := NewSyncManager(crmFixture(t), store, 2, nil)

	result, err := m.SyncMerchants(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 4, result.Added)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "merchant 4")
	assert.False(t, result.FinishedAt.Before(result.StartedAt))

	store.failMID = ""
	result, err = m.SyncMerchants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 4, result.Updated)
}

func TestSyncResiduals(t *testing.T) {
	store := newMemoryStore()
	m := NewSyncManager(crmFixture(t), store, 2, nil)

	result, err := m.SyncResiduals(context.Background(), 2024, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, Amount(20.5), store.residuals["2|2024-03"].NetProfit)

	_, err = m.SyncResiduals(context.Background(), 2024, 0)
	assert.Error(t, err)
}

func TestSyncResidualsRejectsBlankMID(t *testing.T) {
	store := newMemoryStore()
	m := NewSyncManager(crmFixture(t), store, 2, nil)

	result, err := m.SyncResiduals(context.Background(), 2024, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], ErrEmptyMID.Error())

	assert.Len(t, store.residuals, 1)
	assert.Contains(t, store.residuals, "7|2024-04")
}

func TestSyncVolumes(t *testing.T) {
	store := newMemoryStore()
	m := NewSyncManager(crmFixture(t), store, 2, nil)

	result, err := m.SyncVolumes(context.Background(), 2024, 3)
	require.NoError(t, err)

	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 4, result.Added)
	assert.Equal(t, 1, result.Failed, "merchant 3 transactions are forbidden")

	v := store.volumes["1|2024-03"]
	assert.Equal(t, 150.0, v.GrossVolume)
	assert.Equal(t, 2, v.TransactionCount)
	assert.Equal(t, 75.0, v.AvgTicket)
}

func TestHandleDispatches(t *testing.T) {
	store := newMemoryStore()
	m := NewSyncManager(crmFixture(t), store, 2, nil)

	result, err := m.Handle(context.Background(), Job{Type: JobResiduals, Year: 2024, Month: 3})
	require.NoError(t, err)
	assert.Equal(t, string(JobResiduals), result.Type)

	_, err = m.Handle(context.Background(), Job{Type: "leads"})
	assert.Error(t, err)
}

func TestSyncViaQueue(t *testing.T) {
	store := newMemoryStore()
	m := NewSyncManager(crmFixture(t), store, 2, nil)
	q, _ := newTestQueue()

	for month := 1; month <= 3; month++ {
		_, err := q.Enqueue(JobResiduals, 2024, month, month)
		require.NoError(t, err)
	}

	n, err := q.Process(context.Background(), m.Handle)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stats := q.Stats()
	assert.Equal(t, 1, stats[StatusCompleted], fmt.Sprint(stats))
	assert.Equal(t, 2, stats[StatusRetrying], "months 1 and 2 are 404s")
}
