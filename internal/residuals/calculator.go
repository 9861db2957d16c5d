// =============================================================================
// Merchant Analytics - Residual Calculations
// =============================================================================
//
// The calculator turns cleaned residual records into payout statements.
//
// CALCULATION ORDER (per residual record):
//   1. office_fee            = net_profit * office_fee_percentage
//   2. net_profit_after_fees = net_profit - office_fee
//   3. equipment_recovery    = min(after_fees * recovery_rate, balance)
//                              only when balance > 0 and after_fees > 0
//   4. final_net_profit      = after_fees - equipment_recovery
//   5. agent earnings        = final_net_profit * split, one per agent
//
// BASIS POINTS:
//   bps = net_profit / total_volume * 10000, joined on (mid, period).
//   Merchants without volume get 0.
//
// =============================================================================

package residuals

import (
	"log/slog"
	"math"
	"sort"

	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

// Statement is one residual record after fees and recovery.
type Statement struct {
	MerchantID         string  `json:"mid"`
	PeriodKey          string  `json:"payout_month"`
	AgentName          string  `json:"agent_name,omitempty"`
	NetProfit          float64 `json:"net_profit"`
	BPS                float64 `json:"bps"`
	OfficeFee          float64 `json:"office_fee"`
	NetProfitAfterFees float64 `json:"net_profit_after_fees"`
	EquipmentRecovery  float64 `json:"equipment_recovery"`
	FinalNetProfit     float64 `json:"final_net_profit"`
}

// AgentEarning is one agent's share of a merchant's final net profit.
type AgentEarning struct {
	MerchantID      string  `json:"mid"`
	AgentName       string  `json:"agent_name"`
	PeriodKey       string  `json:"payout_month"`
	SplitPercentage float64 `json:"split_percentage"`
	Earnings        float64 `json:"earnings"`
}

// BasisPoints is the effective rate earned on a merchant's volume.
type BasisPoints struct {
	MerchantID  string  `json:"mid"`
	PeriodKey   string  `json:"month"`
	TotalVolume float64 `json:"total_volume"`
	NetProfit   float64 `json:"net_profit"`
	BPS         float64 `json:"bps"`
}

// Result bundles everything Process computes.
type Result struct {
	Statements    []Statement
	AgentEarnings []AgentEarning
	BasisPoints   []BasisPoints
}

// EquipmentBalances maps MID to the outstanding equipment balance.
type EquipmentBalances map[string]float64

// AgentSplits maps MID to agent name to split fraction (0.4 == 40%).
type AgentSplits map[string]map[string]float64

// Calculator applies the office fee and equipment recovery rates.
type Calculator struct {
	officeFeePercentage   float64
	equipmentRecoveryRate float64
	logger                *slog.Logger
}

// NewCalculator creates a Calculator. Rates are fractions.
func NewCalculator(officeFeePercentage, equipmentRecoveryRate float64, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Calculator{
		officeFeePercentage:   officeFeePercentage,
		equipmentRecoveryRate: equipmentRecoveryRate,
		logger:                logger,
	}
}

// OfficeFee returns the office fee and the profit remaining after it.
func (c *Calculator) OfficeFee(netProfit float64) (fee, afterFees float64) {
	fee = netProfit * c.officeFeePercentage
	return fee, netProfit - fee
}

// EquipmentRecovery returns the amount withheld against an equipment balance.
func (c *Calculator) EquipmentRecovery(afterFees, balance float64) float64 {
	if balance <= 0 || afterFees <= 0 {
		return 0
	}
	return math.Min(afterFees*c.equipmentRecoveryRate, balance)
}

// Statement computes the payout statement for one residual record. bps is
// the effective rate to report.
func (c *Calculator) Statement(r types.ResidualRecord, bps, balance float64) Statement {
	fee, afterFees := c.OfficeFee(r.NetProfit)
	recovery := c.EquipmentRecovery(afterFees, balance)

	return Statement{
		MerchantID:         r.MerchantID,
		PeriodKey:          r.PeriodKey,
		AgentName:          r.AgentName,
		NetProfit:          r.NetProfit,
		BPS:                bps,
		OfficeFee:          fee,
		NetProfitAfterFees: afterFees,
		EquipmentRecovery:  recovery,
		FinalNetProfit:     afterFees - recovery,
	}
}

// CalculateBasisPoints joins merchants and residuals on (mid, period) and
// computes the effective bps. Only pairs present on both sides are returned,
// sorted by MID.
func CalculateBasisPoints(merchants []types.MerchantRecord, residuals []types.ResidualRecord) []BasisPoints {
	type key struct{ mid, period string }

	volumes := make(map[key]float64, len(merchants))
	for _, m := range merchants {
		volumes[key{m.MerchantID, m.PeriodKey}] = m.TotalVolume
	}

	out := make([]BasisPoints, 0, len(residuals))
	for _, r := range residuals {
		volume, ok := volumes[key{r.MerchantID, r.PeriodKey}]
		if !ok {
			continue
		}
		out = append(out, BasisPoints{
			MerchantID:  r.MerchantID,
			PeriodKey:   r.PeriodKey,
			TotalVolume: volume,
			NetProfit:   r.NetProfit,
			BPS:         BPS(r.NetProfit, volume),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].MerchantID < out[j].MerchantID })
	return out
}

// BPS returns netProfit/volume in basis points, 0 when volume is not positive.
func BPS(netProfit, volume float64) float64 {
	if !(volume > 0) {
		return 0
	}
	bps := netProfit / volume * 10000
	if math.IsNaN(bps) || math.IsInf(bps, 0) {
		return 0
	}
	return bps
}

// Process runs every calculation for one period.
//
// PARAMETERS:
//   - merchants, residuals: Cleaned records of the same period.
//   - balances: Optional equipment balances (nil means none).
//   - splits: Optional agent splits (nil means no agent earnings).
//
// RETURNS:
//   - Statements in residual order, agent earnings sorted by MID then agent,
//     and the basis point join.
func (c *Calculator) Process(merchants []types.MerchantRecord, residuals []types.ResidualRecord, balances EquipmentBalances, splits AgentSplits) *Result {
	bpsRows := CalculateBasisPoints(merchants, residuals)

	bpsByMID := make(map[string]float64, len(bpsRows))
	for _, b := range bpsRows {
		bpsByMID[b.MerchantID] = b.BPS
	}

	result := &Result{
		Statements:  make([]Statement, 0, len(residuals)),
		BasisPoints: bpsRows,
	}

	for _, r := range residuals {
		bps, ok := bpsByMID[r.MerchantID]
		if !ok {
			bps = r.BPS
		}

		st := c.Statement(r, bps, balances[r.MerchantID])
		result.Statements = append(result.Statements, st)

		for agent, split := range splits[r.MerchantID] {
			result.AgentEarnings = append(result.AgentEarnings, AgentEarning{
				MerchantID:      r.MerchantID,
				AgentName:       agent,
				PeriodKey:       r.PeriodKey,
				SplitPercentage: split,
				Earnings:        st.FinalNetProfit * split,
			})
		}
	}

	sort.Slice(result.AgentEarnings, func(i, j int) bool {
		a, b := result.AgentEarnings[i], result.AgentEarnings[j]
		if a.MerchantID != b.MerchantID {
			return a.MerchantID < b.MerchantID
		}
		if a.AgentName != b.AgentName {
			return a.AgentName < b.AgentName
		}
		return a.PeriodKey < b.PeriodKey
	})

	if len(splits) > 0 && len(result.AgentEarnings) == 0 {
		c.logger.Warn("no agent splits applied", slog.Int("split_merchants", len(splits)))
	}

	c.logger.Info("processed residuals",
		slog.Int("statements", len(result.Statements)),
		slog.Int("agent_earnings", len(result.AgentEarnings)),
		slog.Int("bps_rows", len(result.BasisPoints)),
	)

	return result
}
