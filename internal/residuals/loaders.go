// =============================================================================
// Merchant Analytics - Residual Inputs
// =============================================================================

package residuals

import (
	"fmt"
	"strings"

	"github.com/ginjaninja78/merchant-analytics/internal/config"
	"github.com/ginjaninja78/merchant-analytics/internal/csvparser"
	"github.com/ginjaninja78/merchant-analytics/internal/ingest"
)

// LoadEquipmentBalances reads a CSV with columns mid, balance.
// Later rows for the same MID replace earlier ones.
func LoadEquipmentBalances(path string) (EquipmentBalances, error) {
	sheet, err := csvparser.Parse(path, config.CSVSettings{})
	if err != nil {
		return nil, fmt.Errorf("failed to load equipment balances: %w", err)
	}
	if missing := csvparser.HasColumns(sheet, "mid", "balance"); len(missing) > 0 {
		return nil, fmt.Errorf("equipment balance file %s missing required columns: %s", path, strings.Join(missing, ", "))
	}

	cols := columnIndex(sheet.Headers)
	balances := make(EquipmentBalances, len(sheet.Rows))
	for _, row := range sheet.Rows {
		mid := ingest.CleanMerchantID(row[cols["mid"]])
		if mid == "" {
			continue
		}
		balances[mid] = ingest.CleanNumericValue(row[cols["balance"]])
	}

	return balances, nil
}

// LoadAgentSplits reads a CSV with columns mid, agent_name, split_percentage.
//
// Splits are fractions. A value written with a percent sign ("40%") is
// divided by 100.
func LoadAgentSplits(path string) (AgentSplits, error) {
	sheet, err := csvparser.Parse(path, config.CSVSettings{})
	if err != nil {
		return nil, fmt.Errorf("failed to load agent splits: %w", err)
	}
	if missing := csvparser.HasColumns(sheet, "mid", "agent_name", "split_percentage"); len(missing) > 0 {
		return nil, fmt.Errorf("agent splits file %s missing required columns: %s", path, strings.Join(missing, ", "))
	}

	cols := columnIndex(sheet.Headers)
	splits := make(AgentSplits)
	for _, row := range sheet.Rows {
		mid := ingest.CleanMerchantID(row[cols["mid"]])
		agent, _ := row[cols["agent_name"]].(string)
		agent = strings.TrimSpace(agent)
		if mid == "" || agent == "" {
			continue
		}

		raw := row[cols["split_percentage"]]
		split := ingest.CleanNumericValue(raw)
		if s, ok := raw.(string); ok && strings.Contains(s, "%") {
			split /= 100
		}

		if splits[mid] == nil {
			splits[mid] = make(map[string]float64)
		}
		splits[mid][agent] = split
	}

	return splits, nil
}

// columnIndex maps lowercased header names to the sheet's header.
func columnIndex(headers []string) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, seen := out[key]; !seen {
			out[key] = h
		}
	}
	return out
}
