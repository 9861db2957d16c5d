// =============================================================================
// Merchant Analytics - CRM API Client
// =============================================================================
//
// The client talks to the CRM's REST API with an X-API-KEY header. Every
// GET goes through, in order:
//
//   1. The response cache (go-cache, keyed by path and query)
//   2. Retry with exponential backoff
//   3. The circuit breaker
//   4. The rate limiter
//
// Responses are wrapped in a {"data": ...} envelope.
//
// =============================================================================

package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/ginjaninja78/merchant-analytics/internal/config"
	"github.com/ginjaninja78/merchant-analytics/internal/metrics"
)

// =============================================================================
// API TYPES
// =============================================================================

// Amount decodes a JSON number or a numeric string.
type Amount float64

// UnmarshalJSON accepts 12.5, "12.5" and null.
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*a = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %s: %w", b, err)
	}
	*a = Amount(f)
	return nil
}

// Merchant is a merchant account in the CRM.
type Merchant struct {
	MID       string `json:"mid"`
	Name      string `json:"name"`
	Processor string `json:"processor,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Transaction is one batch or transaction line of a merchant.
type Transaction struct {
	ID     string `json:"id,omitempty"`
	Date   string `json:"date,omitempty"`
	Amount Amount `json:"amount"`
}

// ResidualSummary is one merchant's row in the monthly residual report.
type ResidualSummary struct {
	MerchantName  string `json:"merchant_name"`
	Transactions  Amount `json:"transactions"`
	SalesAmount   Amount `json:"sales_amount"`
	Income        Amount `json:"income"`
	Expenses      Amount `json:"expenses"`
	NetProfit     Amount `json:"net_profit"`
	BPS           Amount `json:"bps"`
	CommissionPct Amount `json:"commission_pct"`
	AgentNet      Amount `json:"agent_net"`
}

type envelope[T any] struct {
	Data T `json:"data"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a CRM API client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *cache.Cache
	breaker    *Breaker
	retry      RetryPolicy
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l.With("component", "crm") }
}

// WithMetrics records each request attempt.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithBreaker replaces the breaker built from the config.
func WithBreaker(b *Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// NewClient creates a client from the CRM config section.
func NewClient(cfg config.CRMConfig, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("crm api key is not configured")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid crm base url: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		limiter:    rate.NewLimiter(limit, 1),
		retry: RetryPolicy{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   time.Duration(cfg.BackoffBaseMS) * time.Millisecond,
		},
		logger: slog.New(slog.DiscardHandler),
	}
	if cfg.CacheTTLSeconds > 0 {
		ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
		c.cache = cache.New(ttl, 2*ttl)
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = NewBreaker(cfg.CircuitMaxFailures, time.Duration(cfg.CircuitResetSeconds)*time.Second, c.logger)
	}

	return c, nil
}

// ListMerchants returns one page of merchants.
func (c *Client) ListMerchants(ctx context.Context, page, perPage int) ([]Merchant, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	var env envelope[[]Merchant]
	if err := c.get(ctx, "/merchants", q, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// GetMerchant returns a single merchant.
func (c *Client) GetMerchant(ctx context.Context, mid string) (*Merchant, error) {
	var env envelope[Merchant]
	if err := c.get(ctx, "/merchants/"+url.PathEscape(mid), nil, &env); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// ListTransactions returns one page of a merchant's transactions between
// start and end (YYYY-MM-DD, either may be empty).
func (c *Client) ListTransactions(ctx context.Context, mid, start, end string, page, perPage int) ([]Transaction, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	if start != "" {
		q.Set("start_date", start)
	}
	if end != "" {
		q.Set("end_date", end)
	}

	var env envelope[[]Transaction]
	if err := c.get(ctx, "/merchants/"+url.PathEscape(mid)+"/transactions", q, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// ResidualSummaries returns the residual report for a month keyed by MID.
func (c *Client) ResidualSummaries(ctx context.Context, year, month int) (map[string]ResidualSummary, error) {
	var env envelope[map[string]ResidualSummary]
	if err := c.get(ctx, fmt.Sprintf("/residuals/reports/summary/%d/%d", year, month), nil, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// get performs a cached, retried, breaker-guarded GET and decodes the body
// into out.
func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(target); ok {
			return json.Unmarshal(cached.([]byte), out)
		}
	}

	var body []byte
	err := Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.breaker.Execute(func() error {
			var err error
			body, err = c.do(ctx, endpoint, target)
			c.metrics.ObserveCRMRequest(metricEndpoint(endpoint), outcome(err))
			return err
		})
	})
	if err != nil {
		c.logger.Error("crm request failed", slog.String("endpoint", endpoint), slog.String("error", err.Error()))
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &FatalError{Endpoint: endpoint, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if c.cache != nil {
		c.cache.SetDefault(target, body)
	}
	return nil
}

func (c *Client) do(ctx context.Context, endpoint, target string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FatalError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RetryableError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RetryableError{Endpoint: endpoint, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RetryableError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: errors.New(snippet(body))}
	case resp.StatusCode >= 400:
		return nil, &FatalError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: errors.New(snippet(body))}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	return body, nil
}

// metricEndpoint collapses path parameters so label cardinality stays small.
func metricEndpoint(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "/residuals/"):
		return "/residuals/reports/summary"
	case strings.HasSuffix(endpoint, "/transactions"):
		return "/merchants/{mid}/transactions"
	case strings.HasPrefix(endpoint, "/merchants/"):
		return "/merchants/{mid}"
	}
	return endpoint
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsFatal(err):
		return "fatal"
	case IsRetryable(err):
		return "retryable"
	}
	return "error"
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		s = "empty response"
	}
	return s
}
