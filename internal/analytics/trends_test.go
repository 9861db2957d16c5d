package analytics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

func TestVolumeTrend(t *testing.T) {
	points := VolumeTrend(map[string][]types.MerchantRecord{
		"2024-02": {
			{MerchantID: "1", TotalVolume: 150, TotalTransactionCount: 10},
			{MerchantID: "2", TotalVolume: 50, TotalTransactionCount: 10},
		},
		"2024-01": {{MerchantID: "1", TotalVolume: 100, TotalTransactionCount: 0}},
	})

	require.Len(t, points, 2)
	assert.Equal(t, "2024-01", points[0].PeriodKey)
	assert.Zero(t, points[0].VolumeChangePct)
	assert.InDelta(t, 100.0, points[1].VolumeChangePct, delta)
	assert.Zero(t, points[1].TxnsChangePct, "previous txns were 0")
	assert.Equal(t, 1, points[1].MerchantCountChange)
}

func TestProfitTrend(t *testing.T) {
	points := ProfitTrend(map[string][]types.ResidualRecord{
		"2024-01": {{MerchantID: "1", NetProfit: 100}, {MerchantID: "2", NetProfit: 100}},
		"2024-02": {{MerchantID: "1", NetProfit: 300}},
	})

	require.Len(t, points, 2)
	assert.InDelta(t, 100.0, points[0].AvgProfitPerMerchant, delta)
	assert.InDelta(t, 50.0, points[1].ProfitChangePct, delta)
	assert.Equal(t, -1, points[1].MerchantCountChange)
}

func TestCombineTrends(t *testing.T) {
	volume := []TrendPoint{{PeriodKey: "2024-01", TotalVolume: 100}, {PeriodKey: "2024-02", TotalVolume: 200}}
	profit := []TrendPoint{{PeriodKey: "2024-02", TotalProfit: 20}, {PeriodKey: "2024-01", TotalProfit: 10}}

	points := CombineTrends(volume, profit)
	require.Len(t, points, 2)
	assert.InDelta(t, 10.0, points[0].TotalProfit, delta)
	assert.InDelta(t, 100.0, points[1].VolumeChangePct, delta)
	assert.InDelta(t, 100.0, points[1].ProfitChangePct, delta)
}

func TestRetention(t *testing.T) {
	points, overall := Retention(map[string][]types.MerchantRecord{
		"2024-01": {{MerchantID: "1"}, {MerchantID: "2"}, {MerchantID: "3"}, {MerchantID: "4"}},
		"2024-02": {{MerchantID: "1"}, {MerchantID: "2"}, {MerchantID: "3"}, {MerchantID: "5"}},
		"2024-03": {{MerchantID: "1"}, {MerchantID: "5"}},
	})

	require.Len(t, points, 2)
	assert.Equal(t, RetentionPoint{PrevMonth: "2024-01", CurrMonth: "2024-02", Retained: 3, Lost: 1, New: 1, RetentionRate: 75}, points[0])
	assert.InDelta(t, 50.0, points[1].RetentionRate, delta)
	assert.InDelta(t, 62.5, overall, delta)

	points, overall = Retention(map[string][]types.MerchantRecord{"2024-01": nil})
	assert.Nil(t, points)
	assert.Zero(t, overall)
}

func TestForecast(t *testing.T) {
	trend := []TrendPoint{
		{PeriodKey: "2024-11", TotalVolume: 100},
		{PeriodKey: "2024-12", TotalVolume: 110, VolumeChangePct: 10},
		{PeriodKey: "2024-10", TotalVolume: 90, VolumeChangePct: 20},
	}

	out, err := Forecast(trend, 2)
	require.NoError(t, err)
	require.Len(t, out, 5)

	assert.Equal(t, "2024-10", out[0].PeriodKey)
	assert.False(t, out[2].IsForecast)
	assert.Equal(t, "2025-01", out[3].PeriodKey, "rolls over the year")
	assert.Equal(t, "2025-02", out[4].PeriodKey)
	assert.True(t, out[4].IsForecast)

	assert.InDelta(t, 110*1.1, out[3].TotalVolume, 1e-6)
	assert.InDelta(t, 110*1.1*1.1, out[4].TotalVolume, 1e-6)
	assert.Zero(t, out[3].TotalProfit)
}

func TestForecastInsufficientHistory(t *testing.T) {
	_, err := Forecast([]TrendPoint{{PeriodKey: "2024-01"}, {PeriodKey: "2024-02"}}, 3)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestCalculateForecastedVolume(t *testing.T) {
	assert.InDelta(t, 121.0, CalculateForecastedVolume(100, 10, 2), 1e-6)
	assert.InDelta(t, 100.0, CalculateForecastedVolume(100, 10, 0), delta)
	assert.InDelta(t, 81.0, CalculateForecastedVolume(100, -10, 2), 1e-6)
}

func TestSeasonalPatterns(t *testing.T) {
	var trend []TrendPoint
	for i := 0; i < 12; i++ {
		p := TrendPoint{
			PeriodKey:   fmt.Sprintf("2023-%02d", i+1),
			TotalVolume: 100,
			TotalProfit: 10,
			TotalTxns:   5,
		}
		if i == 10 {
			p.TotalVolume = 500
			p.VolumeChangePct = 400
		}
		if i == 11 {
			p.TotalProfit = 50
			p.VolumeChangePct = -80
		}
		trend = append(trend, p)
	}

	s, err := SeasonalPatterns(trend)
	require.NoError(t, err)

	assert.Equal(t, 11, s.PeakVolumeMonth)
	assert.Equal(t, 12, s.PeakProfitMonth)
	assert.Equal(t, 1, s.PeakTxnsMonth, "earliest month wins ties")
	assert.Len(t, s.MonthlyAverages, 12)
	assert.Greater(t, s.VolumeVolatility, 0.0)
	assert.Zero(t, s.ProfitVolatility)

	_, err = SeasonalPatterns(trend[:11])
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}
