// =============================================================================
// Merchant Analytics - XLSX Sheet Parser
// =============================================================================
//
// This module reads merchant volume and residual exports from XLSX files
// into RawRows.
//
// CELL VALUES:
//   Cells are read raw (no number formats applied), so 1234.5 formatted as
//   "$1,234.50" arrives as "1234.5". Blank cells become nil.
//
// HEADER DETECTION:
//   With Options.HeaderRow set, that row is the header. Otherwise row 1 is
//   tried first and row 2 is used instead when:
//     - row 1 yields no data rows, or
//     - more than half of row 1's cells are blank (a title row)
//
// =============================================================================

package xlsxparser

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

// Options controls which sheet and header row are read.
type Options struct {
	// SheetName selects the worksheet. Empty means the first sheet.
	SheetName string

	// HeaderRow is the 1-based header row. Zero means auto-detect.
	HeaderRow int
}

// =============================================================================
// PARSER FUNCTIONS
// =============================================================================

// Parse reads one worksheet of an XLSX file.
//
// PARAMETERS:
//   - filePath: The path to the XLSX file.
//   - opts: Sheet and header selection.
//
// RETURNS:
//   - The decoded sheet.
//   - An error if the file cannot be opened or the sheet does not exist.
func Parse(filePath string, opts Options) (*types.Sheet, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheetName := opts.SheetName
	if sheetName == "" {
		sheetName = f.GetSheetName(0)
		if sheetName == "" {
			return nil, fmt.Errorf("workbook has no sheets")
		}
	}

	idx, err := f.GetSheetIndex(sheetName)
	if err != nil || idx < 0 {
		return nil, fmt.Errorf("sheet %q not found in %s", sheetName, filePath)
	}

	rows, err := f.GetRows(sheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return sheetFromRows(filePath, sheetName, rows, opts.HeaderRow)
}

// SheetNames lists the worksheets of an XLSX file.
func SheetNames(filePath string) ([]string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	return f.GetSheetList(), nil
}

// sheetFromRows applies header selection to raw rows.
func sheetFromRows(filePath, sheetName string, rows [][]string, headerRow int) (*types.Sheet, error) {
	if headerRow > 0 {
		idx := headerRow - 1
		if idx >= len(rows) {
			return nil, fmt.Errorf("header row %d is beyond the last row (%d)", headerRow, len(rows))
		}
		return types.NewSheet(filePath, sheetName, rows[idx], rows[idx+1:]), nil
	}

	if len(rows) == 0 {
		return types.NewSheet(filePath, sheetName, nil, nil), nil
	}

	sheet := types.NewSheet(filePath, sheetName, rows[0], rows[1:])
	if len(rows) > 1 && needsHeaderFallback(sheet, rows) {
		return types.NewSheet(filePath, sheetName, rows[1], rows[2:]), nil
	}

	return sheet, nil
}

// needsHeaderFallback reports whether row 1 looks like a title row rather
// than a header.
func needsHeaderFallback(sheet *types.Sheet, rows [][]string) bool {
	if len(sheet.Rows) == 0 {
		return true
	}

	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}

	header := rows[0]
	blanks := types.BlankHeaderCount(header) + (width - len(header))
	return blanks*2 > width
}
