// =============================================================================
// Merchant Analytics - CSV Parser Module
// =============================================================================
//
// This module parses CSV exports (processor volume reports, back office
// residual statements, equipment balance and agent split lists). It handles:
//   - Different delimiters (comma, pipe, tab, semicolon)
//   - Multi-line headers
//   - Custom data start rows
//   - A UTF-8 byte order mark on the first header
//
// Blank cells become nil so the cleaner can tell "missing" from "0".
//
// =============================================================================

package csvparser

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ginjaninja78/merchant-analytics/internal/config"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

const utf8BOM = "\uFEFF"

// =============================================================================
// PARSER FUNCTIONS
// =============================================================================

// Parse reads a CSV file and returns the parsed sheet.
//
// PARAMETERS:
//   - filePath: The path to the CSV file.
//   - settings: The CSV parsing settings from the source profile.
//
// RETURNS:
//   - The decoded sheet.
//   - An error if the file cannot be read or parsed.
func Parse(filePath string, settings config.CSVSettings) (*types.Sheet, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	sheet, err := ParseReader(file, settings)
	if err != nil {
		return nil, err
	}
	sheet.SourceFile = filePath
	return sheet, nil
}

// ParseReader reads CSV data from r.
//
// PARSING PROCESS:
//   1. Configure the CSV reader with the delimiter
//   2. Read and merge header rows (for multi-line headers)
//   3. Read data rows starting from the configured data start row
//   4. Convert each row to a RawRow keyed by header
func ParseReader(r io.Reader, settings config.CSVSettings) (*types.Sheet, error) {
	settings = settings.WithDefaults()

	csvReader := csv.NewReader(bufio.NewReader(r))
	configureReader(csvReader, settings)

	allRows, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	if len(allRows) == 0 {
		return nil, fmt.Errorf("CSV file is empty")
	}
	if len(allRows[0]) > 0 {
		allRows[0][0] = strings.TrimPrefix(allRows[0][0], utf8BOM)
	}

	headers, err := extractHeaders(allRows, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to extract headers: %w", err)
	}

	startIndex := settings.DataStartRow - 1
	if startIndex < settings.HeaderRows {
		startIndex = settings.HeaderRows
	}
	var records [][]string
	if startIndex < len(allRows) {
		records = allRows[startIndex:]
	}

	return types.NewSheet("", "", headers, records), nil
}

// configureReader configures the CSV reader based on the settings.
func configureReader(reader *csv.Reader, settings config.CSVSettings) {
	switch settings.Delimiter {
	case "\\t", "\t", "tab", "TAB":
		reader.Comma = '\t'
	case "|", "pipe", "PIPE":
		reader.Comma = '|'
	case ";", "semicolon":
		reader.Comma = ';'
	default:
		if len(settings.Delimiter) > 0 {
			reader.Comma = rune(settings.Delimiter[0])
		} else {
			reader.Comma = ','
		}
	}

	// Exports often have ragged trailing columns.
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
}

// extractHeaders extracts and merges headers from the CSV.
//
// MULTI-LINE HEADER HANDLING:
//   Non-empty values from each header row are joined with a space per column.
//
//   Example:
//   Row 1: "Merchant", "",       "Net",    ""
//   Row 2: "ID",       "Volume", "Profit", "Agent"
//   Result: "Merchant ID", "Volume", "Net Profit", "Agent"
func extractHeaders(allRows [][]string, settings config.CSVSettings) ([]string, error) {
	if settings.HeaderRows <= 0 {
		return nil, fmt.Errorf("header_rows must be at least 1")
	}

	if len(allRows) < settings.HeaderRows {
		return nil, fmt.Errorf("file has fewer rows than header_rows setting")
	}

	if settings.HeaderRows == 1 {
		return allRows[0], nil
	}

	maxCols := 0
	for i := 0; i < settings.HeaderRows; i++ {
		if len(allRows[i]) > maxCols {
			maxCols = len(allRows[i])
		}
	}

	headers := make([]string, maxCols)
	for col := 0; col < maxCols; col++ {
		var parts []string

		for row := 0; row < settings.HeaderRows; row++ {
			if col < len(allRows[row]) {
				value := strings.TrimSpace(allRows[row][col])
				if value != "" {
					parts = append(parts, value)
				}
			}
		}

		headers[col] = strings.Join(parts, " ")
	}

	return headers, nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// HasColumns reports which of the wanted headers are missing, matched
// case-insensitively.
func HasColumns(sheet *types.Sheet, wanted ...string) (missing []string) {
	present := make(map[string]bool, len(sheet.Headers))
	for _, h := range sheet.Headers {
		present[strings.ToLower(strings.TrimSpace(h))] = true
	}

	for _, w := range wanted {
		if !present[strings.ToLower(w)] {
			missing = append(missing, w)
		}
	}
	return missing
}
