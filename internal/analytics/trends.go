// =============================================================================
// Merchant Analytics - Trends, Retention and Forecasts
// =============================================================================
//
// Trend inputs are maps of period key ("YYYY-MM") to that period's records.
// Points are returned in period order. Change percentages compare a point
// with the previous one and are 0 for the first point or when the previous
// value is not positive.
//
// FORECAST:
//   value(i) = last_value * (1 + avg_change_pct/100)^i,  i = 1..months
//   avg_change_pct is the mean of every point's change, the first point's
//   0 included.
//
// =============================================================================

package analytics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

const (
	// MinForecastPoints is the shortest history Forecast accepts.
	MinForecastPoints = 3

	// MinSeasonalPoints is the shortest history SeasonalPatterns accepts.
	MinSeasonalPoints = 12
)

// ErrInsufficientHistory is returned when a trend is too short to analyze.
var ErrInsufficientHistory = errors.New("insufficient history")

// TrendPoint is one period of a volume or profit trend.
type TrendPoint struct {
	PeriodKey            string  `json:"month"`
	TotalVolume          float64 `json:"total_volume"`
	TotalTxns            float64 `json:"total_txns"`
	TotalProfit          float64 `json:"total_profit"`
	MerchantCount        int     `json:"merchant_count"`
	AvgProfitPerMerchant float64 `json:"avg_profit_per_merchant"`
	VolumeChangePct      float64 `json:"volume_change_pct"`
	TxnsChangePct        float64 `json:"txns_change_pct"`
	ProfitChangePct      float64 `json:"profit_change_pct"`
	MerchantCountChange  int     `json:"merchant_count_change"`
	IsForecast           bool    `json:"is_forecast"`
}

// VolumeTrend totals merchant volume and transactions per period.
func VolumeTrend(byMonth map[string][]types.MerchantRecord) []TrendPoint {
	points := make([]TrendPoint, 0, len(byMonth))
	for month, records := range byMonth {
		p := TrendPoint{PeriodKey: month}
		mids := make(map[string]bool, len(records))
		for _, r := range records {
			p.TotalVolume += r.TotalVolume
			p.TotalTxns += r.TotalTransactionCount
			mids[r.MerchantID] = true
		}
		p.MerchantCount = len(mids)
		points = append(points, p)
	}
	sortPoints(points)

	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], &points[i]
		cur.VolumeChangePct = PercentChange(prev.TotalVolume, cur.TotalVolume)
		cur.TxnsChangePct = PercentChange(prev.TotalTxns, cur.TotalTxns)
		cur.MerchantCountChange = cur.MerchantCount - prev.MerchantCount
	}
	return points
}

// ProfitTrend totals residual net profit per period.
func ProfitTrend(byMonth map[string][]types.ResidualRecord) []TrendPoint {
	points := make([]TrendPoint, 0, len(byMonth))
	for month, records := range byMonth {
		p := TrendPoint{PeriodKey: month}
		mids := make(map[string]bool, len(records))
		for _, r := range records {
			p.TotalProfit += r.NetProfit
			mids[r.MerchantID] = true
		}
		p.MerchantCount = len(mids)
		p.AvgProfitPerMerchant = safeDiv(p.TotalProfit, float64(p.MerchantCount))
		points = append(points, p)
	}
	sortPoints(points)

	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], &points[i]
		cur.ProfitChangePct = PercentChange(prev.TotalProfit, cur.TotalProfit)
		cur.MerchantCountChange = cur.MerchantCount - prev.MerchantCount
	}
	return points
}

// CombineTrends joins a volume trend and a profit trend on period. Change
// fields are recomputed over the combined series.
func CombineTrends(volume, profit []TrendPoint) []TrendPoint {
	byMonth := make(map[string]*TrendPoint)
	for _, v := range volume {
		p := v
		byMonth[v.PeriodKey] = &p
	}
	for _, pr := range profit {
		p := byMonth[pr.PeriodKey]
		if p == nil {
			p = &TrendPoint{PeriodKey: pr.PeriodKey, MerchantCount: pr.MerchantCount}
			byMonth[pr.PeriodKey] = p
		}
		p.TotalProfit = pr.TotalProfit
		p.AvgProfitPerMerchant = pr.AvgProfitPerMerchant
	}

	points := make([]TrendPoint, 0, len(byMonth))
	for _, p := range byMonth {
		points = append(points, *p)
	}
	sortPoints(points)

	for i := range points {
		cur := &points[i]
		cur.VolumeChangePct, cur.TxnsChangePct, cur.ProfitChangePct, cur.MerchantCountChange = 0, 0, 0, 0
		if i == 0 {
			continue
		}
		prev := points[i-1]
		cur.VolumeChangePct = PercentChange(prev.TotalVolume, cur.TotalVolume)
		cur.TxnsChangePct = PercentChange(prev.TotalTxns, cur.TotalTxns)
		cur.ProfitChangePct = PercentChange(prev.TotalProfit, cur.TotalProfit)
		cur.MerchantCountChange = cur.MerchantCount - prev.MerchantCount
	}
	return points
}

// RetentionPoint compares the merchant sets of two consecutive periods.
type RetentionPoint struct {
	PrevMonth     string  `json:"prev_month"`
	CurrMonth     string  `json:"curr_month"`
	Retained      int     `json:"retained_merchants"`
	Lost          int     `json:"lost_merchants"`
	New           int     `json:"new_merchants"`
	RetentionRate float64 `json:"retention_rate"`
}

// Retention compares each pair of consecutive periods. The second return
// value is the mean retention rate, 0 with fewer than two periods.
func Retention(byMonth map[string][]types.MerchantRecord) ([]RetentionPoint, float64) {
	if len(byMonth) < 2 {
		return nil, 0
	}

	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	midSet := func(records []types.MerchantRecord) map[string]bool {
		set := make(map[string]bool, len(records))
		for _, r := range records {
			set[r.MerchantID] = true
		}
		return set
	}

	points := make([]RetentionPoint, 0, len(months)-1)
	rates := make([]float64, 0, len(months)-1)
	for i := 1; i < len(months); i++ {
		prev, cur := midSet(byMonth[months[i-1]]), midSet(byMonth[months[i]])

		p := RetentionPoint{PrevMonth: months[i-1], CurrMonth: months[i]}
		for mid := range prev {
			if cur[mid] {
				p.Retained++
			} else {
				p.Lost++
			}
		}
		for mid := range cur {
			if !prev[mid] {
				p.New++
			}
		}
		if len(prev) > 0 {
			p.RetentionRate = float64(p.Retained) / float64(len(prev)) * 100
		}

		points = append(points, p)
		rates = append(rates, p.RetentionRate)
	}

	return points, mean(rates)
}

// Forecast appends months projected points to a copy of trend. Volume,
// transactions and profit each grow at their own average change.
//
// PARAMETERS:
//   - trend: Historical points (any order). At least MinForecastPoints.
//   - months: Number of periods to project.
//
// RETURNS:
//   - The sorted history followed by the forecast points (IsForecast set).
//   - ErrInsufficientHistory for short trends, or an error when the last
//     period key cannot be parsed.
func Forecast(trend []TrendPoint, months int) ([]TrendPoint, error) {
	if len(trend) < MinForecastPoints {
		return nil, fmt.Errorf("forecast needs %d points, got %d: %w", MinForecastPoints, len(trend), ErrInsufficientHistory)
	}

	history := make([]TrendPoint, len(trend))
	copy(history, trend)
	sortPoints(history)

	last := history[len(history)-1]
	lastMonth, err := time.Parse(types.PeriodLayout, last.PeriodKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse period %q: %w", last.PeriodKey, err)
	}

	var volumeGrowth, txnsGrowth, profitGrowth []float64
	for _, p := range history {
		volumeGrowth = append(volumeGrowth, p.VolumeChangePct)
		txnsGrowth = append(txnsGrowth, p.TxnsChangePct)
		profitGrowth = append(profitGrowth, p.ProfitChangePct)
	}
	avgVolume, avgTxns, avgProfit := mean(volumeGrowth), mean(txnsGrowth), mean(profitGrowth)

	out := history
	for i := 1; i <= months; i++ {
		out = append(out, TrendPoint{
			PeriodKey:   types.PeriodKeyFor(lastMonth.AddDate(0, i, 0)),
			TotalVolume: CalculateForecastedVolume(last.TotalVolume, avgVolume, i),
			TotalTxns:   CalculateForecastedVolume(last.TotalTxns, avgTxns, i),
			TotalProfit: CalculateForecastedVolume(last.TotalProfit, avgProfit, i),
			IsForecast:  true,
		})
	}
	return out, nil
}

// CalculateForecastedVolume projects last forward monthsAhead periods at a
// constant growth percentage.
func CalculateForecastedVolume(last, growthPct float64, monthsAhead int) float64 {
	if monthsAhead <= 0 {
		return last
	}
	return finite(last * math.Pow(1+growthPct/100, float64(monthsAhead)))
}

// MonthlyAverage is the mean of a calendar month across years.
type MonthlyAverage struct {
	Month       int     `json:"month_num"`
	TotalVolume float64 `json:"total_volume"`
	TotalProfit float64 `json:"total_profit"`
	TotalTxns   float64 `json:"total_txns"`
}

// Seasonality summarizes calendar patterns in a trend.
type Seasonality struct {
	PeakVolumeMonth  int              `json:"peak_volume_month"`
	PeakProfitMonth  int              `json:"peak_profit_month"`
	PeakTxnsMonth    int              `json:"peak_txns_month"`
	VolumeVolatility float64          `json:"volume_volatility"`
	ProfitVolatility float64          `json:"profit_volatility"`
	MonthlyAverages  []MonthlyAverage `json:"monthly_averages"`
}

// SeasonalPatterns averages each calendar month and reports the peak
// months. Volatility is the sample standard deviation of the change
// percentages.
func SeasonalPatterns(trend []TrendPoint) (*Seasonality, error) {
	if len(trend) < MinSeasonalPoints {
		return nil, fmt.Errorf("seasonal analysis needs %d points, got %d: %w", MinSeasonalPoints, len(trend), ErrInsufficientHistory)
	}

	type acc struct {
		volume, profit, txns float64
		n                    int
	}
	byMonth := make(map[int]*acc)
	var volumeChanges, profitChanges []float64

	for _, p := range trend {
		t, err := time.Parse(types.PeriodLayout, p.PeriodKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse period %q: %w", p.PeriodKey, err)
		}
		a := byMonth[int(t.Month())]
		if a == nil {
			a = &acc{}
			byMonth[int(t.Month())] = a
		}
		a.volume += p.TotalVolume
		a.profit += p.TotalProfit
		a.txns += p.TotalTxns
		a.n++

		volumeChanges = append(volumeChanges, p.VolumeChangePct)
		profitChanges = append(profitChanges, p.ProfitChangePct)
	}

	result := &Seasonality{
		VolumeVolatility: sampleStd(volumeChanges),
		ProfitVolatility: sampleStd(profitChanges),
	}
	for m := 1; m <= 12; m++ {
		a := byMonth[m]
		if a == nil {
			continue
		}
		n := float64(a.n)
		result.MonthlyAverages = append(result.MonthlyAverages, MonthlyAverage{
			Month:       m,
			TotalVolume: a.volume / n,
			TotalProfit: a.profit / n,
			TotalTxns:   a.txns / n,
		})
	}

	result.PeakVolumeMonth = peakMonth(result.MonthlyAverages, func(a MonthlyAverage) float64 { return a.TotalVolume })
	result.PeakProfitMonth = peakMonth(result.MonthlyAverages, func(a MonthlyAverage) float64 { return a.TotalProfit })
	result.PeakTxnsMonth = peakMonth(result.MonthlyAverages, func(a MonthlyAverage) float64 { return a.TotalTxns })

	return result, nil
}

// peakMonth returns the earliest calendar month holding the maximum.
func peakMonth(averages []MonthlyAverage, value func(MonthlyAverage) float64) int {
	best, bestValue := 0, math.Inf(-1)
	for _, a := range averages {
		if v := value(a); v > bestValue {
			best, bestValue = a.Month, v
		}
	}
	return best
}

func sortPoints(points []TrendPoint) {
	sort.Slice(points, func(i, j int) bool { return points[i].PeriodKey < points[j].PeriodKey })
}
