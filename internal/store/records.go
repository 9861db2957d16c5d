// =============================================================================
// Merchant Analytics - Record Tables
// =============================================================================

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ginjaninja78/merchant-analytics/internal/residuals"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

// =============================================================================
// INGESTED RECORDS
// =============================================================================

// UpsertMerchants stores merchant records keyed on (mid, period_key).
func (s *Store) UpsertMerchants(ctx context.Context, records []types.MerchantRecord) (UpsertResult, error) {
	var res UpsertResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			found, err := exists(ctx, tx, `SELECT 1 FROM merchant_data WHERE mid = ? AND period_key = ?`, r.MerchantID, r.PeriodKey)
			if err != nil {
				return fmt.Errorf("failed to look up merchant %s: %w", r.MerchantID, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO merchant_data (mid, period_key, merchant_dba, total_volume, total_txns, source_tag, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (mid, period_key) DO UPDATE SET
					merchant_dba = excluded.merchant_dba,
					total_volume = excluded.total_volume,
					total_txns = excluded.total_txns,
					source_tag = excluded.source_tag,
					created_at = excluded.created_at`,
				r.MerchantID, r.PeriodKey, r.MerchantName, r.TotalVolume, r.TotalTransactionCount, r.SourceTag, formatTime(r.CreatedAt))
			if err != nil {
				return fmt.Errorf("failed to upsert merchant %s: %w", r.MerchantID, err)
			}
			res.count(found)
		}
		return nil
	})
	return res, err
}

// UpsertResiduals stores residual records keyed on their record id.
func (s *Store) UpsertResiduals(ctx context.Context, records []types.ResidualRecord) (UpsertResult, error) {
	var res UpsertResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			id := r.RecordID
			if id == "" {
				id = r.MerchantID + "_" + r.PeriodKey
			}
			found, err := exists(ctx, tx, `SELECT 1 FROM residual_data WHERE id = ?`, id)
			if err != nil {
				return fmt.Errorf("failed to look up residual %s: %w", id, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO residual_data (id, mid, period_key, net_profit, bps, agent_name, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET
					mid = excluded.mid,
					period_key = excluded.period_key,
					net_profit = excluded.net_profit,
					bps = excluded.bps,
					agent_name = excluded.agent_name,
					created_at = excluded.created_at`,
				id, r.MerchantID, r.PeriodKey, r.NetProfit, r.BPS, r.AgentName, formatTime(r.CreatedAt))
			if err != nil {
				return fmt.Errorf("failed to upsert residual %s: %w", id, err)
			}
			res.count(found)
		}
		return nil
	})
	return res, err
}

// UpsertMerged stores merged records keyed on (mid, period_key).
func (s *Store) UpsertMerged(ctx context.Context, records []types.MergedRecord) (UpsertResult, error) {
	var res UpsertResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			found, err := exists(ctx, tx, `SELECT 1 FROM merged_data WHERE mid = ? AND period_key = ?`, r.MerchantID, r.PeriodKey)
			if err != nil {
				return fmt.Errorf("failed to look up merged %s: %w", r.MerchantID, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO merged_data (mid, period_key, merchant_dba, total_volume, total_txns, net_profit, profit_margin, source_tag, record_id, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (mid, period_key) DO UPDATE SET
					merchant_dba = excluded.merchant_dba,
					total_volume = excluded.total_volume,
					total_txns = excluded.total_txns,
					net_profit = excluded.net_profit,
					profit_margin = excluded.profit_margin,
					source_tag = excluded.source_tag,
					record_id = excluded.record_id,
					created_at = excluded.created_at`,
				r.MerchantID, r.PeriodKey, r.MerchantName, r.TotalVolume, r.TotalTransactionCount,
				r.NetProfit, r.ProfitMargin, r.SourceTag, r.RecordID, formatTime(r.CreatedAt))
			if err != nil {
				return fmt.Errorf("failed to upsert merged %s: %w", r.MerchantID, err)
			}
			res.count(found)
		}
		return nil
	})
	return res, err
}

// UpsertAgentEarnings stores agent earnings keyed on (mid, agent, period).
func (s *Store) UpsertAgentEarnings(ctx context.Context, earnings []residuals.AgentEarning) (UpsertResult, error) {
	var res UpsertResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range earnings {
			found, err := exists(ctx, tx, `SELECT 1 FROM agent_earnings WHERE mid = ? AND agent_name = ? AND period_key = ?`,
				e.MerchantID, e.AgentName, e.PeriodKey)
			if err != nil {
				return fmt.Errorf("failed to look up agent earning: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO agent_earnings (mid, agent_name, period_key, split_percentage, earnings)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (mid, agent_name, period_key) DO UPDATE SET
					split_percentage = excluded.split_percentage,
					earnings = excluded.earnings`,
				e.MerchantID, e.AgentName, e.PeriodKey, e.SplitPercentage, e.Earnings)
			if err != nil {
				return fmt.Errorf("failed to upsert agent earning for %s: %w", e.AgentName, err)
			}
			res.count(found)
		}
		return nil
	})
	return res, err
}

func (r *UpsertResult) count(existed bool) {
	if existed {
		r.Updated++
	} else {
		r.Inserted++
	}
}

// =============================================================================
// READS
// =============================================================================

// Periods lists every period with stored data, newest first.
func (s *Store) Periods(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT period_key FROM merchant_data
		UNION SELECT period_key FROM residual_data
		UNION SELECT period_key FROM merged_data
		ORDER BY 1 DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list periods: %w", err)
	}
	defer rows.Close()

	var periods []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan period: %w", err)
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// MerchantsByPeriod returns a period's merchant records sorted by MID.
// An empty period returns every period.
func (s *Store) MerchantsByPeriod(ctx context.Context, period string) ([]types.MerchantRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mid, period_key, merchant_dba, total_volume, total_txns, source_tag, created_at
		FROM merchant_data WHERE ? = '' OR period_key = ? ORDER BY period_key, mid`, period, period)
	if err != nil {
		return nil, fmt.Errorf("failed to query merchants: %w", err)
	}
	defer rows.Close()

	var out []types.MerchantRecord
	for rows.Next() {
		var r types.MerchantRecord
		var created string
		if err := rows.Scan(&r.MerchantID, &r.PeriodKey, &r.MerchantName, &r.TotalVolume, &r.TotalTransactionCount, &r.SourceTag, &created); err != nil {
			return nil, fmt.Errorf("failed to scan merchant: %w", err)
		}
		r.CreatedAt = parseTime(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResidualsByPeriod returns a period's residual records sorted by MID. An
// empty period returns every period.
func (s *Store) ResidualsByPeriod(ctx context.Context, period string) ([]types.ResidualRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mid, period_key, net_profit, bps, agent_name, created_at
		FROM residual_data WHERE ? = '' OR period_key = ? ORDER BY period_key, mid`, period, period)
	if err != nil {
		return nil, fmt.Errorf("failed to query residuals: %w", err)
	}
	defer rows.Close()

	var out []types.ResidualRecord
	for rows.Next() {
		var r types.ResidualRecord
		var created string
		if err := rows.Scan(&r.RecordID, &r.MerchantID, &r.PeriodKey, &r.NetProfit, &r.BPS, &r.AgentName, &created); err != nil {
			return nil, fmt.Errorf("failed to scan residual: %w", err)
		}
		r.CreatedAt = parseTime(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MergedByPeriod returns a period's merged records sorted by MID.
func (s *Store) MergedByPeriod(ctx context.Context, period string) ([]types.MergedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mid, period_key, merchant_dba, total_volume, total_txns, net_profit, profit_margin, source_tag, record_id, created_at
		FROM merged_data WHERE period_key = ? ORDER BY mid`, period)
	if err != nil {
		return nil, fmt.Errorf("failed to query merged data: %w", err)
	}
	defer rows.Close()

	var out []types.MergedRecord
	for rows.Next() {
		var r types.MergedRecord
		var created string
		if err := rows.Scan(&r.MerchantID, &r.PeriodKey, &r.MerchantName, &r.TotalVolume, &r.TotalTransactionCount,
			&r.NetProfit, &r.ProfitMargin, &r.SourceTag, &r.RecordID, &created); err != nil {
			return nil, fmt.Errorf("failed to scan merged record: %w", err)
		}
		r.CreatedAt = parseTime(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AgentEarningsByPeriod returns a period's agent earnings sorted by MID then
// agent. An empty period returns every period.
func (s *Store) AgentEarningsByPeriod(ctx context.Context, period string) ([]residuals.AgentEarning, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mid, agent_name, period_key, split_percentage, earnings
		FROM agent_earnings WHERE ? = '' OR period_key = ? ORDER BY period_key, mid, agent_name`, period, period)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent earnings: %w", err)
	}
	defer rows.Close()

	var out []residuals.AgentEarning
	for rows.Next() {
		var e residuals.AgentEarning
		if err := rows.Scan(&e.MerchantID, &e.AgentName, &e.PeriodKey, &e.SplitPercentage, &e.Earnings); err != nil {
			return nil, fmt.Errorf("failed to scan agent earning: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MerchantHistory groups every stored merchant record by period.
func (s *Store) MerchantHistory(ctx context.Context) (map[string][]types.MerchantRecord, error) {
	all, err := s.MerchantsByPeriod(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make(map[string][]types.MerchantRecord)
	for _, r := range all {
		out[r.PeriodKey] = append(out[r.PeriodKey], r)
	}
	return out, nil
}

// ResidualHistory groups every stored residual record by period.
func (s *Store) ResidualHistory(ctx context.Context) (map[string][]types.ResidualRecord, error) {
	all, err := s.ResidualsByPeriod(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make(map[string][]types.ResidualRecord)
	for _, r := range all {
		out[r.PeriodKey] = append(out[r.PeriodKey], r)
	}
	return out, nil
}

// =============================================================================
// INGESTION LOG
// =============================================================================

// IngestionLog is one processed file.
type IngestionLog struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	FileName     string    `json:"file_name"`
	Kind         string    `json:"kind"`
	PeriodKey    string    `json:"period_key"`
	Status       string    `json:"status"`
	RowsTotal    int       `json:"rows_total"`
	RowsSuccess  int       `json:"rows_success"`
	RowsFailed   int       `json:"rows_failed"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// LogIngestion records one processed file.
func (s *Store) LogIngestion(ctx context.Context, l IngestionLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_logs (id, run_id, file_name, kind, period_key, status, rows_total, rows_success, rows_failed, error_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.RunID, l.FileName, l.Kind, l.PeriodKey, l.Status, l.RowsTotal, l.RowsSuccess, l.RowsFailed,
		l.ErrorMessage, formatTime(l.StartedAt), formatTime(l.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to log ingestion of %s: %w", l.FileName, err)
	}
	return nil
}

// IngestionLogs returns the most recent logs first. limit <= 0 means 100.
func (s *Store) IngestionLogs(ctx context.Context, limit int) ([]IngestionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, file_name, kind, period_key, status, rows_total, rows_success, rows_failed, error_message, started_at, finished_at
		FROM ingestion_logs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ingestion logs: %w", err)
	}
	defer rows.Close()

	var out []IngestionLog
	for rows.Next() {
		var l IngestionLog
		var started, finished string
		if err := rows.Scan(&l.ID, &l.RunID, &l.FileName, &l.Kind, &l.PeriodKey, &l.Status,
			&l.RowsTotal, &l.RowsSuccess, &l.RowsFailed, &l.ErrorMessage, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan ingestion log: %w", err)
		}
		l.StartedAt, l.FinishedAt = parseTime(started), parseTime(finished)
		out = append(out, l)
	}
	return out, rows.Err()
}
