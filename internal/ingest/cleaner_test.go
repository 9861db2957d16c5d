package ingest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func newTestCleaner() *Cleaner {
	return NewCleanerWithClock(func() time.Time { return fixedNow })
}

func TestCleanNumericValue(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  float64
	}{
		{"nil", nil, 0},
		{"empty string", "", 0},
		{"blank string", "   ", 0},
		{"currency", "$1,234.50", 1234.5},
		{"percent", "12%", 12},
		{"negative", "-42.5", -42.5},
		{"garbage", "abc", 0},
		{"float", 3.25, 3.25},
		{"int", 7, 7},
		{"int64", int64(9), 9},
		{"nan string", "NaN", 0},
		{"inf string", "Inf", 0},
		{"nan float", math.NaN(), 0},
		{"inf float", math.Inf(1), 0},
		{"bool", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanNumericValue(tt.input)
			assert.Equal(t, tt.want, got)
			assert.False(t, math.IsNaN(got) || math.IsInf(got, 0))
		})
	}
}

func TestCleanMerchantID(t *testing.T) {
	assert.Equal(t, "123456", CleanMerchantID(" 123-456 "))
	assert.Equal(t, "123456", CleanMerchantID(123456.0))
	assert.Equal(t, "AB12", CleanMerchantID("AB#12"))
	assert.Equal(t, "", CleanMerchantID(nil))
}

func TestCleanMerchantRows(t *testing.T) {
	c := newTestCleaner()

	rows := []types.RawRow{
		{FieldMID: "123-456", FieldMerchantDBA: " Corner Cafe ", FieldTotalVolume: "$1,000.00", FieldTotalTxns: 12.0},
		{FieldMID: "999", FieldMerchantDBA: "Zero Shop", FieldTotalVolume: 0, FieldTotalTxns: 0},
	}

	records, skipped, warnings := c.CleanMerchantRows(rows, "2024-03")
	require.Len(t, records, 2)
	assert.Empty(t, skipped)
	assert.Empty(t, warnings)

	assert.Equal(t, types.MerchantRecord{
		MerchantID:            "123456",
		MerchantName:          "Corner Cafe",
		TotalVolume:           1000,
		TotalTransactionCount: 12,
		PeriodKey:             "2024-03",
		SourceTag:             "excel_import_2024-03",
		CreatedAt:             fixedNow,
	}, records[0])
	assert.Equal(t, "999", records[1].MerchantID)
	assert.Zero(t, records[1].TotalVolume)
}

func TestCleanMerchantRowsRequiredFields(t *testing.T) {
	c := newTestCleaner()

	rows := []types.RawRow{
		{FieldMID: "1", FieldMerchantDBA: "Null Volume", FieldTotalVolume: nil, FieldTotalTxns: 1},
		{FieldMID: "2", FieldMerchantDBA: "Zero Volume", FieldTotalVolume: 0, FieldTotalTxns: 1},
		{FieldMID: "3", FieldMerchantDBA: "Missing Txns", FieldTotalVolume: 10},
		{FieldMID: "--", FieldMerchantDBA: "Bad MID", FieldTotalVolume: 10, FieldTotalTxns: 1},
		{FieldMID: "5", FieldMerchantDBA: "  ", FieldTotalVolume: 10, FieldTotalTxns: 1},
	}

	records, skipped, _ := c.CleanMerchantRows(rows, "2024-03")
	require.Len(t, records, 1)
	assert.Equal(t, "2", records[0].MerchantID)

	require.Len(t, skipped, 4)
	assert.Equal(t, 1, skipped[0].RowNumber)
	assert.Contains(t, skipped[0].Reason(), "total_volume")
	assert.Equal(t, 3, skipped[1].RowNumber)
	assert.Contains(t, skipped[1].Reason(), "total_txns")
	assert.Equal(t, 4, skipped[2].RowNumber)
	assert.Contains(t, skipped[2].Reason(), "mid")
	assert.Equal(t, 5, skipped[3].RowNumber)
	assert.Contains(t, skipped[3].Reason(), "merchant_dba")
}

func TestCleanMerchantRowsNonNumericWarning(t *testing.T) {
	c := newTestCleaner()

	rows := []types.RawRow{
		{FieldMID: "1", FieldMerchantDBA: "A", FieldTotalVolume: "n/a", FieldTotalTxns: 3},
	}

	records, skipped, warnings := c.CleanMerchantRows(rows, "2024-03")
	require.Len(t, records, 1)
	assert.Empty(t, skipped)
	assert.Zero(t, records[0].TotalVolume)

	require.Len(t, warnings, 1)
	assert.Equal(t, FieldTotalVolume, warnings[0].Field)
	assert.Equal(t, 1, warnings[0].RowNumber)
}

func TestCleanResidualRows(t *testing.T) {
	c := newTestCleaner()

	rows := []types.RawRow{
		{FieldMID: "123456", FieldNetProfit: "$50.00", FieldBPS: "25", FieldAgentName: " Jane Doe "},
		{FieldMID: "777", FieldNetProfit: -12.5},
		{FieldMID: "888", FieldNetProfit: nil},
		{FieldMID: "", FieldNetProfit: 3},
	}

	records, skipped, warnings := c.CleanResidualRows(rows, "2024-03")
	require.Len(t, records, 2)
	assert.Len(t, skipped, 2)
	assert.Empty(t, warnings)

	assert.Equal(t, types.ResidualRecord{
		MerchantID: "123456",
		NetProfit:  50,
		PeriodKey:  "2024-03",
		RecordID:   "123456_2024-03",
		CreatedAt:  fixedNow,
		BPS:        25,
		AgentName:  "Jane Doe",
	}, records[0])

	assert.Equal(t, -12.5, records[1].NetProfit, "negative residuals are kept")
	assert.Equal(t, "777_2024-03", records[1].RecordID)
}

func TestRecordID(t *testing.T) {
	assert.Equal(t, "ABC123_2024-01", RecordID("ABC123", "2024-01"))
}
