// =============================================================================
// Merchant Analytics - Row Cleaner
// =============================================================================
//
// The cleaner turns normalized RawRows into typed records.
//
// NUMERIC COERCION:
//   CleanNumericValue never fails. Currency symbols, thousands separators and
//   percent signs are stripped before parsing; anything unparseable becomes 0.
//
// REQUIRED FIELDS:
//   merchant: mid (non-empty), merchant_dba (non-empty),
//             total_volume and total_txns (not null; zero is fine)
//   residual: mid (non-empty), net_profit (not null)
//
//   Rows that fail are returned as SkippedRows with the reasons attached
//   instead of being dropped silently.
//
// =============================================================================

package ingest

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ginjaninja78/merchant-analytics/internal/types"
	"github.com/ginjaninja78/merchant-analytics/internal/validation"
)

// SourceTagPrefix prefixes the period key in MerchantRecord.SourceTag.
const SourceTagPrefix = "excel_import_"

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// numericStripper removes the characters tolerated in numeric cells.
var numericStripper = strings.NewReplacer("$", "", ",", "", "%", "")

// =============================================================================
// NUMERIC COERCION
// =============================================================================

// CleanNumericValue coerces a cell value to a finite float64.
//
// EXAMPLES:
//   CleanNumericValue(nil)         == 0
//   CleanNumericValue("$1,234.50") == 1234.5
//   CleanNumericValue("12%")       == 12
//   CleanNumericValue("abc")       == 0
func CleanNumericValue(v any) float64 {
	var f float64

	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint64:
		f = float64(n)
	case uint32:
		f = float64(n)
	case string:
		s := strings.TrimSpace(numericStripper.Replace(n))
		if s == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// isNumeric reports whether a present value survives coercion without
// falling back to zero by failure.
func isNumeric(v any) bool {
	s, ok := v.(string)
	if !ok {
		return true
	}
	s = strings.TrimSpace(numericStripper.Replace(s))
	if s == "" {
		return true
	}
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
}

// CleanMerchantID renders a MID cell as text and strips non-alphanumerics.
func CleanMerchantID(v any) string {
	s := strings.TrimSpace(validation.FormatValue(v))
	return nonAlphanumeric.ReplaceAllString(s, "")
}

func cleanText(v any) string {
	return strings.TrimSpace(validation.FormatValue(v))
}

// =============================================================================
// SKIPPED ROWS
// =============================================================================

// SkippedRow is a source row that failed the required-field check.
type SkippedRow struct {
	// RowNumber is the 1-based position of the row in the cleaner input.
	RowNumber int `json:"row_number"`

	Row    types.RawRow                  `json:"row"`
	Errors []*validation.ValidationError `json:"errors"`
}

// Reason joins the error messages of the row.
func (s SkippedRow) Reason() string {
	msgs := make([]string, 0, len(s.Errors))
	for _, e := range s.Errors {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

// =============================================================================
// CLEANER
// =============================================================================

// Cleaner converts normalized rows into typed records.
type Cleaner struct {
	now func() time.Time

	merchantRules *validation.RowValidator
	residualRules *validation.RowValidator
}

// NewCleaner creates a Cleaner using the wall clock.
func NewCleaner() *Cleaner {
	return NewCleanerWithClock(time.Now)
}

// NewCleanerWithClock creates a Cleaner whose CreatedAt values come from now.
func NewCleanerWithClock(now func() time.Time) *Cleaner {
	numericWarning := func(field string) validation.Rule {
		return validation.Rule{
			Field:    field,
			Check:    validation.CheckCustom,
			Severity: validation.SeverityWarning,
			Custom: func(v any) string {
				if v == nil || isNumeric(v) {
					return ""
				}
				return fmt.Sprintf("Value for '%s' is not numeric and was coerced to 0", field)
			},
		}
	}

	return &Cleaner{
		now: now,
		merchantRules: validation.NewRowValidator([]validation.Rule{
			{Field: FieldMID, Check: validation.CheckNonEmpty, Prepare: CleanMerchantID},
			{Field: FieldMerchantDBA, Check: validation.CheckNonEmpty},
			{Field: FieldTotalVolume, Check: validation.CheckNotNull},
			{Field: FieldTotalTxns, Check: validation.CheckNotNull},
			numericWarning(FieldTotalVolume),
			numericWarning(FieldTotalTxns),
		}),
		residualRules: validation.NewRowValidator([]validation.Rule{
			{Field: FieldMID, Check: validation.CheckNonEmpty, Prepare: CleanMerchantID},
			{Field: FieldNetProfit, Check: validation.CheckNotNull},
			numericWarning(FieldNetProfit),
		}),
	}
}

// CleanMerchantRows converts normalized merchant rows into MerchantRecords.
//
// RETURNS:
//   - The retained records, in input order.
//   - The rows that failed the required-field check.
//   - Warnings for rows that were kept despite non-numeric values.
func (c *Cleaner) CleanMerchantRows(rows []types.RawRow, periodKey string) ([]types.MerchantRecord, []SkippedRow, []*validation.ValidationError) {
	createdAt := c.now()
	records := make([]types.MerchantRecord, 0, len(rows))
	var skipped []SkippedRow
	var warnings []*validation.ValidationError

	for i, row := range rows {
		errs := c.merchantRules.ValidateRow(row, i+1)
		if c.merchantRules.Rejects(errs) {
			skipped = append(skipped, SkippedRow{RowNumber: i + 1, Row: row, Errors: errs})
			continue
		}
		warnings = append(warnings, errs...)

		records = append(records, types.MerchantRecord{
			MerchantID:            CleanMerchantID(row[FieldMID]),
			MerchantName:          cleanText(row[FieldMerchantDBA]),
			TotalVolume:           CleanNumericValue(row[FieldTotalVolume]),
			TotalTransactionCount: CleanNumericValue(row[FieldTotalTxns]),
			PeriodKey:             periodKey,
			SourceTag:             SourceTagPrefix + periodKey,
			CreatedAt:             createdAt,
		})
	}

	return records, skipped, warnings
}

// CleanResidualRows converts normalized residual rows into ResidualRecords.
func (c *Cleaner) CleanResidualRows(rows []types.RawRow, periodKey string) ([]types.ResidualRecord, []SkippedRow, []*validation.ValidationError) {
	createdAt := c.now()
	records := make([]types.ResidualRecord, 0, len(rows))
	var skipped []SkippedRow
	var warnings []*validation.ValidationError

	for i, row := range rows {
		errs := c.residualRules.ValidateRow(row, i+1)
		if c.residualRules.Rejects(errs) {
			skipped = append(skipped, SkippedRow{RowNumber: i + 1, Row: row, Errors: errs})
			continue
		}
		warnings = append(warnings, errs...)

		mid := CleanMerchantID(row[FieldMID])
		records = append(records, types.ResidualRecord{
			MerchantID: mid,
			NetProfit:  CleanNumericValue(row[FieldNetProfit]),
			PeriodKey:  periodKey,
			RecordID:   RecordID(mid, periodKey),
			CreatedAt:  createdAt,
			BPS:        CleanNumericValue(row[FieldBPS]),
			AgentName:  cleanText(row[FieldAgentName]),
		})
	}

	return records, skipped, warnings
}

// RecordID derives the residual record identifier.
func RecordID(mid, periodKey string) string {
	return mid + "_" + periodKey
}
