// =============================================================================
// Merchant Analytics - CRM Sync
// =============================================================================
//
// SyncManager copies merchants, residual reports and monthly volumes from the
// CRM into the store. Each sync returns a SyncResult counting added, updated
// and failed records. A record without a MID is counted as failed and is not
// stored.
//
// =============================================================================

package crm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

// Residual is one merchant's residual report row for a payout month.
type Residual struct {
	MID         string
	PayoutMonth string
	ResidualSummary
}

// Volume is one merchant's processed volume for a month.
type Volume struct {
	MID              string
	Month            string
	GrossVolume      float64
	TransactionCount int
	AvgTicket        float64
}

// Store persists synced CRM data. Each upsert reports whether the row was
// newly inserted.
type Store interface {
	UpsertCRMMerchant(ctx context.Context, m Merchant) (inserted bool, err error)
	UpsertCRMResidual(ctx context.Context, r Residual) (inserted bool, err error)
	UpsertCRMVolume(ctx context.Context, v Volume) (inserted bool, err error)
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	Type       string    `json:"type"`
	Total      int       `json:"total"`
	Added      int       `json:"added"`
	Updated    int       `json:"updated"`
	Failed     int       `json:"failed"`
	Errors     []string  `json:"errors,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r *SyncResult) record(inserted bool, err error, what string) {
	r.Total++
	switch {
	case err != nil:
		r.Failed++
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", what, err))
	case inserted:
		r.Added++
	default:
		r.Updated++
	}
}

// ErrEmptyMID is recorded for CRM records that carry no merchant id.
var ErrEmptyMID = errors.New("crm record has no mid")

// SyncManager copies CRM data into the store.
type SyncManager struct {
	client  *Client
	store   Store
	perPage int
	now     func() time.Time
	logger  *slog.Logger
}

// NewSyncManager creates a manager. perPage <= 0 uses 100.
func NewSyncManager(client *Client, store Store, perPage int, logger *slog.Logger) *SyncManager {
	if perPage <= 0 {
		perPage = 100
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SyncManager{
		client:  client,
		store:   store,
		perPage: perPage,
		now:     time.Now,
		logger:  logger.With("component", "crm_sync"),
	}
}

// SyncMerchants pages through every merchant until a short page.
func (s *SyncManager) SyncMerchants(ctx context.Context) (*SyncResult, error) {
	result := s.start(string(JobMerchants))
	defer s.finish(result)

	err := s.eachMerchant(ctx, func(m Merchant) {
		if strings.TrimSpace(m.MID) == "" {
			result.record(false, ErrEmptyMID, "merchant "+m.Name)
			return
		}
		inserted, err := s.store.UpsertCRMMerchant(ctx, m)
		result.record(inserted, err, "merchant "+m.MID)
	})
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, fmt.Errorf("failed to sync merchants: %w", err)
	}
	return result, nil
}

// SyncResiduals loads the residual report for one month.
func (s *SyncManager) SyncResiduals(ctx context.Context, year, month int) (*SyncResult, error) {
	result := s.start(string(JobResiduals))
	defer s.finish(result)

	period, err := periodKey(year, month)
	if err != nil {
		return result, err
	}

	summaries, err := s.client.ResidualSummaries(ctx, year, month)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, fmt.Errorf("failed to sync residuals for %s: %w", period, err)
	}

	for mid, summary := range summaries {
		if strings.TrimSpace(mid) == "" {
			result.record(false, ErrEmptyMID, "residual")
			continue
		}
		inserted, err := s.store.UpsertCRMResidual(ctx, Residual{MID: mid, PayoutMonth: period, ResidualSummary: summary})
		result.record(inserted, err, "residual "+mid)
	}
	return result, nil
}

// SyncVolumes sums every merchant's transaction amounts over one month.
// Zero amounts are not counted as transactions.
func (s *SyncManager) SyncVolumes(ctx context.Context, year, month int) (*SyncResult, error) {
	result := s.start(string(JobVolumes))
	defer s.finish(result)

	period, err := periodKey(year, month)
	if err != nil {
		return result, err
	}
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	start, end := first.Format(time.DateOnly), first.AddDate(0, 1, 0).Format(time.DateOnly)

	var merchants []Merchant
	if err := s.eachMerchant(ctx, func(m Merchant) { merchants = append(merchants, m) }); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, fmt.Errorf("failed to list merchants for volume sync: %w", err)
	}

	for _, m := range merchants {
		if strings.TrimSpace(m.MID) == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		v := Volume{MID: m.MID, Month: period}
		err := s.eachTransaction(ctx, m.MID, start, end, func(t Transaction) {
			if t.Amount != 0 {
				v.GrossVolume += float64(t.Amount)
				v.TransactionCount++
			}
		})
		if err != nil {
			result.record(false, err, "transactions for "+m.MID)
			continue
		}
		if v.TransactionCount > 0 {
			v.AvgTicket = v.GrossVolume / float64(v.TransactionCount)
		}

		inserted, err := s.store.UpsertCRMVolume(ctx, v)
		result.record(inserted, err, "volume "+m.MID)
	}
	return result, nil
}

// Handle runs the sync a job describes. It matches the queue's Handler.
func (s *SyncManager) Handle(ctx context.Context, job Job) (*SyncResult, error) {
	switch job.Type {
	case JobMerchants:
		return s.SyncMerchants(ctx)
	case JobResiduals:
		return s.SyncResiduals(ctx, job.Year, job.Month)
	case JobVolumes:
		return s.SyncVolumes(ctx, job.Year, job.Month)
	}
	return nil, fmt.Errorf("unknown sync job type %q", job.Type)
}

func (s *SyncManager) eachMerchant(ctx context.Context, fn func(Merchant)) error {
	for page := 1; ; page++ {
		merchants, err := s.client.ListMerchants(ctx, page, s.perPage)
		if err != nil {
			return fmt.Errorf("merchants page %d: %w", page, err)
		}
		for _, m := range merchants {
			fn(m)
		}
		if len(merchants) < s.perPage {
			return nil
		}
	}
}

func (s *SyncManager) eachTransaction(ctx context.Context, mid, start, end string, fn func(Transaction)) error {
	for page := 1; ; page++ {
		txns, err := s.client.ListTransactions(ctx, mid, start, end, page, s.perPage)
		if err != nil {
			return err
		}
		for _, t := range txns {
			fn(t)
		}
		if len(txns) < s.perPage {
			return nil
		}
	}
}

func (s *SyncManager) start(kind string) *SyncResult {
	s.logger.Info("sync started", slog.String("type", kind))
	return &SyncResult{Type: kind, StartedAt: s.now()}
}

func (s *SyncManager) finish(r *SyncResult) {
	r.FinishedAt = s.now()
	s.logger.Info("sync finished",
		slog.String("type", r.Type),
		slog.Int("added", r.Added),
		slog.Int("updated", r.Updated),
		slog.Int("failed", r.Failed),
	)
}

func periodKey(year, month int) (string, error) {
	key := fmt.Sprintf("%04d-%02d", year, month)
	if err := types.ValidatePeriodKey(key); err != nil {
		return "", err
	}
	return key, nil
}
