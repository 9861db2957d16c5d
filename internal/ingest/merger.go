// =============================================================================
// Merchant Analytics - Merchant/Residual Merger
// =============================================================================
//
// Merge performs a full outer join of merchant and residual records on MID.
//
// ALGORITHM:
//   1. Index each side by MID (last write wins on duplicates)
//   2. Take the union of the key sets
//   3. Fold each key into a MergedRecord, defaulting the absent side
//   4. Sort by MID
//
// PROFIT MARGIN:
//   NetProfit / TotalVolume when TotalVolume > 0, otherwise 0. The value is
//   a ratio (0.05 means 5%) and is always finite.
//
// =============================================================================

package ingest

import (
	"math"
	"sort"

	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

// Merge joins merchants and residuals into one record per distinct MID.
func Merge(merchants []types.MerchantRecord, residuals []types.ResidualRecord) []types.MergedRecord {
	byMerchant := make(map[string]types.MerchantRecord, len(merchants))
	for _, m := range merchants {
		byMerchant[m.MerchantID] = m
	}

	byResidual := make(map[string]types.ResidualRecord, len(residuals))
	for _, r := range residuals {
		byResidual[r.MerchantID] = r
	}

	keys := make([]string, 0, len(byMerchant)+len(byResidual))
	for k := range byMerchant {
		keys = append(keys, k)
	}
	for k := range byResidual {
		if _, dup := byMerchant[k]; !dup {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]types.MergedRecord, 0, len(keys))
	for _, mid := range keys {
		m, hasMerchant := byMerchant[mid]
		r, hasResidual := byResidual[mid]

		rec := types.MergedRecord{
			MerchantID:            mid,
			MerchantName:          m.MerchantName,
			TotalVolume:           m.TotalVolume,
			TotalTransactionCount: m.TotalTransactionCount,
			NetProfit:             r.NetProfit,
			RecordID:              r.RecordID,
			SourceTag:             m.SourceTag,
			PeriodKey:             m.PeriodKey,
			CreatedAt:             m.CreatedAt,
		}
		if !hasMerchant && hasResidual {
			rec.PeriodKey = r.PeriodKey
			rec.CreatedAt = r.CreatedAt
		}
		rec.ProfitMargin = ProfitMargin(rec.NetProfit, rec.TotalVolume)

		out = append(out, rec)
	}

	return out
}

// ProfitMargin returns netProfit/totalVolume, or 0 when the ratio is not
// defined or not finite.
func ProfitMargin(netProfit, totalVolume float64) float64 {
	if !(totalVolume > 0) {
		return 0
	}
	margin := netProfit / totalVolume
	if math.IsNaN(margin) || math.IsInf(margin, 0) {
		return 0
	}
	return margin
}
