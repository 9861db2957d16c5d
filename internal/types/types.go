// =============================================================================
// Merchant Analytics - Shared Types
// =============================================================================
//
// This package contains the record types shared across the ingestion
// pipeline. Keeping them here avoids import cycles between:
//   - ingest      (normalizer, cleaner, transformer, merger)
//   - residuals   (fee and split calculations)
//   - analytics   (summaries and trends)
//   - exporter    (CSV, XLSX, JSON)
//   - store       (SQLite persistence)
//
// =============================================================================

package types

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// RECORD KIND
// =============================================================================

// Kind discriminates the two spreadsheet families the pipeline ingests.
type Kind string

const (
	// KindMerchant identifies volume data (MID, DBA, volume, transaction count).
	KindMerchant Kind = "merchant"

	// KindResidual identifies residual/commission data (MID, net profit).
	KindResidual Kind = "residual"
)

// ParseKind converts a user-supplied string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindMerchant:
		return KindMerchant, nil
	case KindResidual:
		return KindResidual, nil
	}
	return "", fmt.Errorf("unknown record kind %q (expected %q or %q)", s, KindMerchant, KindResidual)
}

// =============================================================================
// RAW ROWS
// =============================================================================

// RawRow is one spreadsheet row keyed by column header.
//
// Values are strings, numeric Go types, or nil. A key that is absent or
// holds nil is treated as null by the cleaner.
type RawRow map[string]any

// Clone returns a shallow copy of the row.
func (r RawRow) Clone() RawRow {
	out := make(RawRow, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// IsNull reports whether the column is absent or nil.
func (r RawRow) IsNull(column string) bool {
	v, ok := r[column]
	return !ok || v == nil
}

// =============================================================================
// TYPED RECORDS
// =============================================================================

// MerchantRecord is a cleaned row from a merchant volume sheet.
type MerchantRecord struct {
	MerchantID            string    `json:"mid"`
	MerchantName          string    `json:"merchant_dba"`
	TotalVolume           float64   `json:"total_volume"`
	TotalTransactionCount float64   `json:"total_txns"`
	PeriodKey             string    `json:"period_key"`
	SourceTag             string    `json:"source_tag"`
	CreatedAt             time.Time `json:"created_at"`
}

// ResidualRecord is a cleaned row from a residual sheet.
type ResidualRecord struct {
	MerchantID string  `json:"mid"`
	NetProfit  float64 `json:"net_profit"`
	PeriodKey  string  `json:"period_key"`

	// RecordID is derived as "<mid>_<periodKey>".
	RecordID  string    `json:"record_id"`
	CreatedAt time.Time `json:"created_at"`

	// BPS and AgentName are carried when the sheet provides them.
	BPS       float64 `json:"bps,omitempty"`
	AgentName string  `json:"agent_name,omitempty"`
}

// MergedRecord joins the merchant and residual sides for one MID.
type MergedRecord struct {
	MerchantID            string    `json:"mid"`
	MerchantName          string    `json:"merchant_dba"`
	TotalVolume           float64   `json:"total_volume"`
	TotalTransactionCount float64   `json:"total_txns"`
	NetProfit             float64   `json:"net_profit"`
	PeriodKey             string    `json:"period_key"`
	SourceTag             string    `json:"source_tag"`
	RecordID              string    `json:"record_id"`
	CreatedAt             time.Time `json:"created_at"`

	// ProfitMargin is NetProfit / TotalVolume as a ratio (0.05 == 5%).
	// It is 0 whenever TotalVolume is not positive.
	ProfitMargin float64 `json:"profit_margin"`
}

// =============================================================================
// PERIOD KEYS
// =============================================================================

// PeriodLayout is the time layout of a period key.
const PeriodLayout = "2006-01"

// ValidatePeriodKey checks that key is a YYYY-MM string.
func ValidatePeriodKey(key string) error {
	if len(key) != 7 {
		return fmt.Errorf("invalid period key %q: expected YYYY-MM", key)
	}
	if _, err := time.Parse(PeriodLayout, key); err != nil {
		return fmt.Errorf("invalid period key %q: expected YYYY-MM", key)
	}
	return nil
}

// PeriodKeyFor formats t as a period key.
func PeriodKeyFor(t time.Time) string {
	return t.Format(PeriodLayout)
}
