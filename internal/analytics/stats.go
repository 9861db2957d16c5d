// =============================================================================
// Merchant Analytics - Statistics Helpers
// =============================================================================

package analytics

import "math"

// PercentChange returns (cur-prev)/prev*100, or 0 when prev is not positive.
func PercentChange(prev, cur float64) float64 {
	if !(prev > 0) {
		return 0
	}
	return finite((cur - prev) / prev * 100)
}

func safeDiv(num, den float64) float64 {
	if !(den > 0) {
		return 0
	}
	return finite(num / den)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStd is the n-1 standard deviation. It is 0 for fewer than two values.
func sampleStd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var ss float64
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

// outlierIndexes returns the positions of values strictly outside
// mean ± k·std, in input order.
func outlierIndexes(values []float64, k float64) []int {
	if len(values) < 2 {
		return nil
	}
	m := mean(values)
	band := k * sampleStd(values)

	var out []int
	for i, v := range values {
		if v > m+band || v < m-band {
			out = append(out, i)
		}
	}
	return out
}
