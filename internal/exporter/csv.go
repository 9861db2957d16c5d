// =============================================================================
// Merchant Analytics - CSV Export Module
// =============================================================================
//
// This module writes merged records as CSV. Quoting follows RFC 4180:
//
//   - A value containing a comma, a double quote, CR or LF is wrapped in
//     double quotes.
//   - Double quotes inside a quoted value are doubled.
//
//   Example:
//     Hello, "World"   ->   "Hello, ""World"""
//
// Any quote-aware reader (encoding/csv included) restores the original
// field values exactly.
//
// =============================================================================

package exporter

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

// MergedHeaders is the column order of the merged CSV.
var MergedHeaders = []string{
	"mid",
	"merchant_dba",
	"total_volume",
	"total_txns",
	"net_profit",
	"profit_margin",
	"period_key",
	"source_tag",
	"record_id",
	"created_at",
}

// =============================================================================
// ESCAPING
// =============================================================================

// EscapeCSVValue quotes s when it holds a delimiter, quote or line break.
func EscapeCSVValue(s string) string {
	if !strings.ContainsAny(s, ",\"\r\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// =============================================================================
// GENERATION
// =============================================================================

// GenerateCSV renders a header line followed by one line per row. Lines are
// terminated with "\n".
func GenerateCSV(headers []string, rows [][]string) string {
	var b strings.Builder
	writeLine(&b, headers)
	for _, row := range rows {
		writeLine(&b, row)
	}
	return b.String()
}

// WriteMergedCSV writes records to w with MergedHeaders.
func WriteMergedCSV(w io.Writer, records []types.MergedRecord) error {
	bw := bufio.NewWriter(w)

	writeLine(bw, MergedHeaders)
	for _, r := range records {
		writeLine(bw, MergedRow(r))
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

// MergedRow formats one record in MergedHeaders order.
func MergedRow(r types.MergedRecord) []string {
	created := ""
	if !r.CreatedAt.IsZero() {
		created = r.CreatedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		r.MerchantID,
		r.MerchantName,
		FormatNumber(r.TotalVolume),
		FormatNumber(r.TotalTransactionCount),
		FormatNumber(r.NetProfit),
		FormatNumber(r.ProfitMargin),
		r.PeriodKey,
		r.SourceTag,
		r.RecordID,
		created,
	}
}

// FormatNumber renders f with the fewest digits that parse back to f.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func writeLine(w io.StringWriter, fields []string) {
	for i, f := range fields {
		if i > 0 {
			w.WriteString(",")
		}
		w.WriteString(EscapeCSVValue(f))
	}
	w.WriteString("\n")
}
