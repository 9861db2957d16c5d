// =============================================================================
// Merchant Analytics - CRM Tables
// =============================================================================
//
// crm_merchants, crm_residuals and crm_volumes hold CRM data as the CRM
// returned it. CRMMonthRecords is the only path from these tables into the
// merge, and it cleans every MID on the way out, exactly as the spreadsheet
// cleaner does. Rows whose MID cleans to "" are dropped.
//
// =============================================================================

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ginjaninja78/merchant-analytics/internal/crm"
	"github.com/ginjaninja78/merchant-analytics/internal/ingest"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

// Store satisfies the sync manager's persistence interface.
var _ crm.Store = (*Store)(nil)

// UpsertCRMMerchant stores a CRM merchant keyed on mid.
func (s *Store) UpsertCRMMerchant(ctx context.Context, m crm.Merchant) (bool, error) {
	var inserted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		found, err := exists(ctx, tx, `SELECT 1 FROM crm_merchants WHERE mid = ?`, m.MID)
		if err != nil {
			return fmt.Errorf("failed to look up crm merchant %s: %w", m.MID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO crm_merchants (mid, name, processor, status, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (mid) DO UPDATE SET
				name = excluded.name,
				processor = excluded.processor,
				status = excluded.status,
				updated_at = excluded.updated_at`,
			m.MID, m.Name, m.Processor, m.Status, formatTime(s.now()))
		if err != nil {
			return fmt.Errorf("failed to upsert crm merchant %s: %w", m.MID, err)
		}
		inserted = !found
		return nil
	})
	return inserted, err
}

// UpsertCRMResidual stores a residual report row keyed on (mid, payout_month).
func (s *Store) UpsertCRMResidual(ctx context.Context, r crm.Residual) (bool, error) {
	var inserted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		found, err := exists(ctx, tx, `SELECT 1 FROM crm_residuals WHERE mid = ? AND payout_month = ?`, r.MID, r.PayoutMonth)
		if err != nil {
			return fmt.Errorf("failed to look up crm residual %s: %w", r.MID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO crm_residuals (mid, payout_month, merchant_name, transactions, sales_amount, income, expenses, net_profit, bps, commission_pct, agent_net, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (mid, payout_month) DO UPDATE SET
				merchant_name = excluded.merchant_name,
				transactions = excluded.transactions,
				sales_amount = excluded.sales_amount,
				income = excluded.income,
				expenses = excluded.expenses,
				net_profit = excluded.net_profit,
				bps = excluded.bps,
				commission_pct = excluded.commission_pct,
				agent_net = excluded.agent_net,
				updated_at = excluded.updated_at`,
			r.MID, r.PayoutMonth, r.MerchantName, float64(r.Transactions), float64(r.SalesAmount), float64(r.Income),
			float64(r.Expenses), float64(r.NetProfit), float64(r.BPS), float64(r.CommissionPct), float64(r.AgentNet),
			formatTime(s.now()))
		if err != nil {
			return fmt.Errorf("failed to upsert crm residual %s: %w", r.MID, err)
		}
		inserted = !found
		return nil
	})
	return inserted, err
}

// UpsertCRMVolume stores a monthly volume keyed on (mid, month).
func (s *Store) UpsertCRMVolume(ctx context.Context, v crm.Volume) (bool, error) {
	var inserted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		found, err := exists(ctx, tx, `SELECT 1 FROM crm_volumes WHERE mid = ? AND month = ?`, v.MID, v.Month)
		if err != nil {
			return fmt.Errorf("failed to look up crm volume %s: %w", v.MID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO crm_volumes (mid, month, gross_volume, transaction_count, avg_ticket, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (mid, month) DO UPDATE SET
				gross_volume = excluded.gross_volume,
				transaction_count = excluded.transaction_count,
				avg_ticket = excluded.avg_ticket,
				updated_at = excluded.updated_at`,
			v.MID, v.Month, v.GrossVolume, v.TransactionCount, v.AvgTicket, formatTime(s.now()))
		if err != nil {
			return fmt.Errorf("failed to upsert crm volume %s: %w", v.MID, err)
		}
		inserted = !found
		return nil
	})
	return inserted, err
}

// CRMMonthRecords returns the synced CRM data for a month as ingestion
// records, so CRM data can be merged like spreadsheet data. Volumes are
// joined with merchant names; residual net profit comes from the report.
// MIDs are cleaned to [a-zA-Z0-9] and RecordID is built from the cleaned
// MID.
func (s *Store) CRMMonthRecords(ctx context.Context, period string) ([]types.MerchantRecord, []types.ResidualRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.mid, COALESCE(m.name, ''), v.gross_volume, v.transaction_count, v.updated_at
		FROM crm_volumes v LEFT JOIN crm_merchants m ON m.mid = v.mid
		WHERE v.month = ? ORDER BY v.mid`, period)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query crm volumes: %w", err)
	}
	var merchants []types.MerchantRecord
	for rows.Next() {
		r := types.MerchantRecord{PeriodKey: period, SourceTag: "crm"}
		var mid, updated string
		var count int
		if err := rows.Scan(&mid, &r.MerchantName, &r.TotalVolume, &count, &updated); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to scan crm volume: %w", err)
		}
		if r.MerchantID = ingest.CleanMerchantID(mid); r.MerchantID == "" {
			s.logger.Warn("dropping crm volume without a usable mid", "mid", mid, "period", period)
			continue
		}
		r.TotalTransactionCount = float64(count)
		r.CreatedAt = parseTime(updated)
		merchants = append(merchants, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT mid, net_profit, bps, updated_at FROM crm_residuals WHERE payout_month = ? ORDER BY mid`, period)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query crm residuals: %w", err)
	}
	defer rows.Close()

	var residualRecords []types.ResidualRecord
	for rows.Next() {
		r := types.ResidualRecord{PeriodKey: period}
		var mid, updated string
		if err := rows.Scan(&mid, &r.NetProfit, &r.BPS, &updated); err != nil {
			return nil, nil, fmt.Errorf("failed to scan crm residual: %w", err)
		}
		if r.MerchantID = ingest.CleanMerchantID(mid); r.MerchantID == "" {
			s.logger.Warn("dropping crm residual without a usable mid", "mid", mid, "period", period)
			continue
		}
		r.RecordID = r.MerchantID + "_" + period
		r.CreatedAt = parseTime(updated)
		residualRecords = append(residualRecords, r)
	}
	return merchants, residualRecords, rows.Err()
}
