// =============================================================================
// Merchant Analytics - Decoded Sheets
// =============================================================================
//
// Both parsers produce a Sheet. Blank cells are nil, blank headers are named
// by position and duplicate headers get a unique numeric suffix.
//
// =============================================================================

package types

import (
	"fmt"
	"strings"
)

// Sheet is a decoded spreadsheet: headers plus one RawRow per data row.
type Sheet struct {
	// SourceFile is the path the sheet was read from.
	SourceFile string

	// SheetName is the worksheet name, empty for CSV files.
	SheetName string

	Headers []string
	Rows    []RawRow
}

// NewSheet builds a Sheet from a header row and raw string records.
//
// Blank header cells become "Column_N" and repeated headers get a "_2",
// "_3", ... suffix. Blank cells become nil, missing trailing cells are nil,
// and rows with no non-blank cell are skipped.
func NewSheet(sourceFile, sheetName string, headers []string, records [][]string) *Sheet {
	cleaned := CleanHeaders(headers)

	sheet := &Sheet{
		SourceFile: sourceFile,
		SheetName:  sheetName,
		Headers:    cleaned,
		Rows:       make([]RawRow, 0, len(records)),
	}

	for _, record := range records {
		if IsBlankRecord(record) {
			continue
		}

		row := make(RawRow, len(cleaned))
		for i, header := range cleaned {
			var value any
			if i < len(record) {
				if s := strings.TrimSpace(record[i]); s != "" {
					value = s
				}
			}
			row[header] = value
		}
		sheet.Rows = append(sheet.Rows, row)
	}

	return sheet
}

// CleanHeaders trims headers, names blank ones by position and makes
// duplicates unique. A duplicate gets the first "<name>_<n>" suffix, n >= 2,
// that no other column uses.
func CleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	used := make(map[string]bool, len(headers))
	next := make(map[string]int, len(headers))

	trimmed := make([]string, len(headers))
	for i, header := range headers {
		header = strings.TrimSpace(header)
		if header == "" {
			header = fmt.Sprintf("Column_%d", i+1)
		}
		trimmed[i] = header
	}

	for i, header := range trimmed {
		if !used[header] {
			used[header] = true
			cleaned[i] = header
			continue
		}

		n := max(next[header], 2)
		candidate := fmt.Sprintf("%s_%d", header, n)
		for used[candidate] || laterHeader(trimmed[i+1:], candidate) {
			n++
			candidate = fmt.Sprintf("%s_%d", header, n)
		}
		next[header] = n + 1
		used[candidate] = true
		cleaned[i] = candidate
	}

	return cleaned
}

// IsBlankRecord reports whether every cell is blank.
func IsBlankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// BlankHeaderCount counts the blank cells of a header row.
func BlankHeaderCount(headers []string) int {
	n := 0
	for _, h := range headers {
		if strings.TrimSpace(h) == "" {
			n++
		}
	}
	return n
}

// laterHeader reports whether name appears in the remaining headers, so a
// suffix never takes a name a later column already has.
func laterHeader(rest []string, name string) bool {
	for _, h := range rest {
		if h == name {
			return true
		}
	}
	return false
}
