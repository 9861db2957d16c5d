// =============================================================================
// Merchant Analytics - XLSX Report
// =============================================================================

package exporter

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/merchant-analytics/internal/analytics"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

const (
	mergedSheet  = "Merged"
	summarySheet = "Top Merchants"
)

// WorkbookOptions adds optional sheets to the XLSX report.
type WorkbookOptions struct {
	// TopMerchants, when set, is written to a second sheet.
	TopMerchants []analytics.MerchantSummary
}

// WriteWorkbook writes merged records to an XLSX file at path. Numeric
// columns are stored as numbers so they sort and sum in a spreadsheet.
func WriteWorkbook(path string, records []types.MergedRecord, opts WorkbookOptions) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), mergedSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			r.MerchantID,
			r.MerchantName,
			r.TotalVolume,
			r.TotalTransactionCount,
			r.NetProfit,
			r.ProfitMargin,
			r.PeriodKey,
			r.SourceTag,
			r.RecordID,
			MergedRow(r)[9],
		})
	}
	if err := writeSheet(f, mergedSheet, MergedHeaders, rows, headerStyle); err != nil {
		return err
	}

	if len(opts.TopMerchants) > 0 {
		if _, err := f.NewSheet(summarySheet); err != nil {
			return fmt.Errorf("failed to add sheet: %w", err)
		}
		headers := []string{"mid", "merchant_dba", "total_volume", "total_txns", "net_profit", "bps", "profit_margin", "avg_txn_size"}
		rows := make([][]any, 0, len(opts.TopMerchants))
		for _, s := range opts.TopMerchants {
			rows = append(rows, []any{
				s.MerchantID, s.MerchantName, s.TotalVolume, s.TotalTransactionCount,
				s.NetProfit, s.BPS, s.ProfitMargin, s.AvgTxnSize,
			})
		}
		if err := writeSheet(f, summarySheet, headers, rows, headerStyle); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]any, headerStyle int) error {
	headerRow := make([]any, len(headers))
	for i, h := range headers {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return fmt.Errorf("failed to write header row: %w", err)
	}

	lastCol, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return fmt.Errorf("failed to resolve column: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", lastCol+"1", headerStyle); err != nil {
		return fmt.Errorf("failed to style header row: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to resolve cell: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(sheet, "A", lastCol, 16); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	return nil
}
