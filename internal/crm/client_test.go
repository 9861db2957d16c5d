package crm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/merchant-analytics/internal/config"
)

func testConfig(baseURL string) config.CRMConfig {
	return config.CRMConfig{
		BaseURL:             baseURL,
		APIKey:              "secret",
		TimeoutSeconds:      5,
		MaxRetries:          3,
		BackoffBaseMS:       1,
		CircuitMaxFailures:  5,
		CircuitResetSeconds: 60,
		PerPage:             2,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*config.CRMConfig)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	cfg := testConfig("http://localhost")
	cfg.APIKey = ""
	_, err := NewClient(cfg)
	assert.Error(t, err)
}

func TestListMerchantsSendsAPIKeyAndPaging(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "/merchants", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("per_page"))
		writeJSON(w, map[string]any{"data": []map[string]any{{"mid": "123", "name": "Cafe"}}})
	})

	merchants, err := c.ListMerchants(context.Background(), 2, 50)
	require.NoError(t, err)
	assert.Equal(t, []Merchant{{MID: "123", Name: "Cafe"}}, merchants)
}

func TestListTransactionsDecodesStringAmounts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/merchants/123/transactions", r.URL.Path)
		assert.Equal(t, "2024-03-01", r.URL.Query().Get("start_date"))
		assert.Equal(t, "2024-04-01", r.URL.Query().Get("end_date"))
		w.Write([]byte(`{"data":[{"amount":"12.50"},{"amount":7},{"amount":null}]}`))
	})

	txns, err := c.ListTransactions(context.Background(), "123", "2024-03-01", "2024-04-01", 1, 100)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.Equal(t, Amount(12.5), txns[0].Amount)
	assert.Equal(t, Amount(7), txns[1].Amount)
	assert.Zero(t, txns[2].Amount)
}

func TestResidualSummaries(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/residuals/reports/summary/2024/3", r.URL.Path)
		w.Write([]byte(`{"data":{"123":{"merchant_name":"Cafe","net_profit":"45.5","bps":12}}}`))
	})

	summaries, err := c.ResidualSummaries(context.Background(), 2024, 3)
	require.NoError(t, err)
	assert.Equal(t, "Cafe", summaries["123"].MerchantName)
	assert.Equal(t, Amount(45.5), summaries["123"].NetProfit)
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{"data": map[string]any{"mid": "9"}})
	})

	m, err := c.GetMerchant(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, "9", m.MID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusNotFound)
	})

	_, err := c.GetMerchant(context.Background(), "missing")
	require.Error(t, err)

	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, http.StatusNotFound, fatal.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.ListMerchants(context.Background(), 1, 10)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestCircuitOpensAndFailsFast(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, func(cfg *config.CRMConfig) {
		cfg.MaxRetries = 1
		cfg.CircuitMaxFailures = 2
	})

	ctx := context.Background()
	_, err := c.ListMerchants(ctx, 1, 10)
	assert.True(t, IsRetryable(err))
	_, err = c.ListMerchants(ctx, 1, 10)
	assert.True(t, IsRetryable(err))

	_, err = c.ListMerchants(ctx, 1, 10)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResponsesAreCached(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, map[string]any{"data": []map[string]any{{"mid": "1"}}})
	}, func(cfg *config.CRMConfig) {
		cfg.CacheTTLSeconds = 60
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.ListMerchants(ctx, 1, 10)
		require.NoError(t, err)
	}
	_, err := c.ListMerchants(ctx, 2, 10)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
}

func TestGetHonorsContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, func(cfg *config.CRMConfig) {
		cfg.BackoffBaseMS = 10_000
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.ListMerchants(ctx, 1, 10)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
