package xlsxparser

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

// writeWorkbook saves rows to Sheet1 of a new workbook.
func writeWorkbook(t *testing.T, name string, rows [][]any) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestParseMerchantSheet(t *testing.T) {
	path := writeWorkbook(t, "merchant_volume_2024-03.xlsx", [][]any{
		{"Merchant ID", "DBA Name", "Volume", "Transactions"},
		{"123456", "Corner Cafe", 1234.5, 20},
		{"222", "Book Nook", nil, 3},
		{nil, nil, nil, nil},
		{"333", "", 50, 1},
	})

	sheet, err := Parse(path, Options{})
	require.NoError(t, err)

	assert.Equal(t, "Sheet1", sheet.SheetName)
	assert.Equal(t, []string{"Merchant ID", "DBA Name", "Volume", "Transactions"}, sheet.Headers)
	require.Len(t, sheet.Rows, 3)

	assert.Equal(t, "123456", sheet.Rows[0]["Merchant ID"])
	assert.Equal(t, "1234.5", sheet.Rows[0]["Volume"])
	assert.Equal(t, "20", sheet.Rows[0]["Transactions"])
	assert.Nil(t, sheet.Rows[1]["Volume"])
	assert.Nil(t, sheet.Rows[2]["DBA Name"])
}

func TestParseTitleRowFallback(t *testing.T) {
	path := writeWorkbook(t, "residuals.xlsx", [][]any{
		{"March Residual Statement", nil, nil},
		{"MID", "Net Profit", "Agent"},
		{"123456", 50, "Jane"},
	})

	// A blank third cell pads the header to the sheet width.
	sheet, err := Parse(path, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"MID", "Net Profit", "Agent"}, sheet.Headers)
	require.Len(t, sheet.Rows, 1)
	assert.Equal(t, "50", sheet.Rows[0]["Net Profit"])
}

func TestParseExplicitHeaderRow(t *testing.T) {
	path := writeWorkbook(t, "export.xlsx", [][]any{
		{"Processor export"},
		{"generated 2024-04-01"},
		{"MID", "Net Profit"},
		{"1", 10},
	})

	sheet, err := Parse(path, Options{HeaderRow: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"MID", "Net Profit"}, sheet.Headers)
	require.Len(t, sheet.Rows, 1)

	_, err = Parse(path, Options{HeaderRow: 10})
	assert.Error(t, err)
}

func TestParseMissingSheet(t *testing.T) {
	path := writeWorkbook(t, "export.xlsx", [][]any{{"MID"}})

	_, err := Parse(path, Options{SheetName: "Summary"})
	assert.Error(t, err)

	_, err = Parse(filepath.Join(t.TempDir(), "absent.xlsx"), Options{})
	assert.Error(t, err)
}

func TestSheetNames(t *testing.T) {
	path := writeWorkbook(t, "export.xlsx", [][]any{{"MID"}})

	names, err := SheetNames(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sheet1"}, names)
}

func TestDetectKind(t *testing.T) {
	tests := []struct {
		headers []string
		want    types.Kind
	}{
		{[]string{"Merchant ID", "DBA Name", "Volume", "Transactions"}, types.KindMerchant},
		{[]string{"MID", "Net Residual", "Agent"}, types.KindResidual},
		{[]string{"Merchant", "Commission"}, types.KindResidual},
		{[]string{"Basis Points"}, types.KindResidual},
		{[]string{"Foo", "Bar"}, types.KindResidual},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectKind(tt.headers), "%v", tt.headers)
	}
}

func TestExtractPeriod(t *testing.T) {
	now := time.Date(2024, 7, 9, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		fileName string
		want     string
	}{
		{"residuals_2024-03.xlsx", "2024-03"},
		{"/data/in/volume_2024_03.xlsx", "2024-03"},
		{"volume 03-2024.csv", "2024-03"},
		{"volume_11_2023.xlsx", "2023-11"},
		{"Residuals_January2024_TSYS.xlsx", "2024-01"},
		{"Residuals_Feb2024.xlsx", "2024-02"},
		{"bad_2024-13.xlsx", "2024-07"},
		{"export.xlsx", "2024-07"},
	}

	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractPeriod(tt.fileName, now))
		})
	}
}
