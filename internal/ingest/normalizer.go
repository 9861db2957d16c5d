// =============================================================================
// Merchant Analytics - Column Normalizer
// =============================================================================
//
// The normalizer rewrites arbitrary spreadsheet headers to canonical field
// names using a SynonymTable chosen by record kind.
//
// MATCHING ORDER (per column, after case-folding and trimming):
//   1. The column already is a canonical name of the table
//   2. Exact alias lookup
//   3. First alias (declaration order) contained in the column
//   Columns that match nothing pass through unchanged.
//
// COLLISIONS:
//   Two source columns can resolve to the same canonical name ("MID" and
//   "Merchant ID"). The stronger match wins (canonical > exact > substring);
//   ties go to the column that sorts first. The losing column keeps its
//   original name so no data is dropped.
//
// =============================================================================

package ingest

import (
	"sort"

	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

// Normalizer maps headers to canonical names.
type Normalizer struct {
	merchant SynonymTable
	residual SynonymTable
}

// NewNormalizer creates a Normalizer from explicit tables.
func NewNormalizer(merchant, residual SynonymTable) *Normalizer {
	return &Normalizer{merchant: merchant, residual: residual}
}

// NewDefaultNormalizer creates a Normalizer with the built-in tables.
func NewDefaultNormalizer() *Normalizer {
	return NewNormalizer(DefaultMerchantSynonyms(), DefaultResidualSynonyms())
}

// Table returns the synonym table used for kind.
func (n *Normalizer) Table(kind types.Kind) SynonymTable {
	if kind == types.KindMerchant {
		return n.merchant
	}
	return n.residual
}

// match strength, lower is stronger
const (
	matchCanonical = iota
	matchExact
	matchSubstring
	matchNone
)

type resolution struct {
	column   string
	target   string
	strength int
}

// resolve finds the canonical target for one column.
func resolve(table SynonymTable, column string) resolution {
	if table.IsCanonical(column) {
		return resolution{column: column, target: column, strength: matchCanonical}
	}
	if c, ok := table.Lookup(column); ok {
		return resolution{column: column, target: c, strength: matchExact}
	}
	if c, ok := table.MatchSubstring(column); ok {
		return resolution{column: column, target: c, strength: matchSubstring}
	}
	return resolution{column: column, target: column, strength: matchNone}
}

// RenameMap computes the source-column to output-column mapping for kind.
//
// PARAMETERS:
//   - columns: Every column observed in the input rows.
//   - kind: Selects the synonym table.
//
// RETURNS:
//   - A map from each input column to its output name. Unmatched columns map
//     to themselves.
func (n *Normalizer) RenameMap(columns []string, kind types.Kind) map[string]string {
	table := n.Table(kind)

	sorted := make([]string, len(columns))
	copy(sorted, columns)
	sort.Strings(sorted)

	resolutions := make([]resolution, 0, len(sorted))
	for _, col := range sorted {
		resolutions = append(resolutions, resolve(table, col))
	}

	// Stable sort keeps column order among equal strengths.
	sort.SliceStable(resolutions, func(i, j int) bool {
		return resolutions[i].strength < resolutions[j].strength
	})

	renames := make(map[string]string, len(resolutions))
	taken := make(map[string]bool, len(resolutions))

	for _, r := range resolutions {
		if r.strength == matchNone {
			continue
		}
		if taken[r.target] {
			continue
		}
		renames[r.column] = r.target
		taken[r.target] = true
	}

	// Losers and unmatched columns keep their names.
	for _, r := range resolutions {
		if _, ok := renames[r.column]; !ok {
			renames[r.column] = r.column
		}
	}

	return renames
}

// Normalize returns new rows whose keys are rewritten to canonical names.
// The input rows are not modified.
func (n *Normalizer) Normalize(rows []types.RawRow, kind types.Kind) []types.RawRow {
	if len(rows) == 0 {
		return []types.RawRow{}
	}

	renames := n.RenameMap(observedColumns(rows), kind)

	out := make([]types.RawRow, len(rows))
	for i, row := range rows {
		renamed := make(types.RawRow, len(row))
		for col, v := range row {
			renamed[renames[col]] = v
		}
		out[i] = renamed
	}
	return out
}

// observedColumns returns the union of keys across rows.
func observedColumns(rows []types.RawRow) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, row := range rows {
		for col := range row {
			if _, ok := seen[col]; ok {
				continue
			}
			seen[col] = struct{}{}
			cols = append(cols, col)
		}
	}
	return cols
}
