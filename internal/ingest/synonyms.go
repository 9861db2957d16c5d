// =============================================================================
// Merchant Analytics - Column Synonym Tables
// =============================================================================
//
// Spreadsheet exports name the same column many ways ("Merchant ID", "MID",
// "merchant_id", "Merchant #"). A SynonymTable maps those aliases to the
// canonical field names the cleaner understands.
//
// ORDERING:
//   Entries are kept in declaration order. Substring matching walks the table
//   top to bottom and takes the first hit, so earlier entries win ties.
//
// IMMUTABILITY:
//   A table is a value with an unexported slice. Nothing outside this file
//   can modify it; With returns a new table.
//
// =============================================================================

package ingest

import "strings"

// Canonical field names produced by normalization.
const (
	FieldMID         = "mid"
	FieldMerchantDBA = "merchant_dba"
	FieldTotalVolume = "total_volume"
	FieldTotalTxns   = "total_txns"
	FieldNetProfit   = "net_profit"
	FieldBPS         = "bps"
	FieldAgentName   = "agent_name"
)

// SynonymEntry maps one folded alias to a canonical field name.
type SynonymEntry struct {
	Alias     string `yaml:"alias"`
	Canonical string `yaml:"canonical"`
}

// SynonymTable is an ordered, immutable alias table.
type SynonymTable struct {
	entries   []SynonymEntry
	exact     map[string]string
	canonical map[string]struct{}
}

// NewSynonymTable builds a table from entries in the given order.
//
// Aliases are case-folded and trimmed. When an alias appears twice, the first
// occurrence wins for exact lookups.
func NewSynonymTable(entries ...SynonymEntry) SynonymTable {
	t := SynonymTable{
		entries:   make([]SynonymEntry, 0, len(entries)),
		exact:     make(map[string]string, len(entries)),
		canonical: make(map[string]struct{}),
	}

	for _, e := range entries {
		alias := foldColumn(e.Alias)
		if alias == "" || e.Canonical == "" {
			continue
		}
		t.entries = append(t.entries, SynonymEntry{Alias: alias, Canonical: e.Canonical})
		if _, seen := t.exact[alias]; !seen {
			t.exact[alias] = e.Canonical
		}
		t.canonical[e.Canonical] = struct{}{}
	}

	return t
}

// With returns a new table in which extra entries take precedence over the
// receiver's entries.
func (t SynonymTable) With(extra ...SynonymEntry) SynonymTable {
	combined := make([]SynonymEntry, 0, len(extra)+len(t.entries))
	combined = append(combined, extra...)
	combined = append(combined, t.entries...)
	return NewSynonymTable(combined...)
}

// Entries returns a copy of the table in declaration order.
func (t SynonymTable) Entries() []SynonymEntry {
	out := make([]SynonymEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t SynonymTable) Len() int {
	return len(t.entries)
}

// IsCanonical reports whether name is one of the table's target names.
func (t SynonymTable) IsCanonical(name string) bool {
	_, ok := t.canonical[name]
	return ok
}

// Lookup returns the canonical name for an exact (folded) alias match.
func (t SynonymTable) Lookup(column string) (string, bool) {
	c, ok := t.exact[foldColumn(column)]
	return c, ok
}

// MatchSubstring returns the canonical name of the first entry whose alias is
// contained in the folded column.
func (t SynonymTable) MatchSubstring(column string) (string, bool) {
	folded := foldColumn(column)
	for _, e := range t.entries {
		if strings.Contains(folded, e.Alias) {
			return e.Canonical, true
		}
	}
	return "", false
}

// foldColumn lowercases and trims a header.
func foldColumn(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// =============================================================================
// DEFAULT TABLES
// =============================================================================

var midAliases = []string{
	"merchant id",
	"merchant_id",
	"mid",
	"merchant #",
	"merchant no",
	"merchant no.",
	"id",
}

func aliases(canonical string, names ...string) []SynonymEntry {
	out := make([]SynonymEntry, len(names))
	for i, n := range names {
		out[i] = SynonymEntry{Alias: n, Canonical: canonical}
	}
	return out
}

// DefaultMerchantSynonyms returns the alias table for merchant volume sheets.
func DefaultMerchantSynonyms() SynonymTable {
	var entries []SynonymEntry
	entries = append(entries, aliases(FieldMID, midAliases...)...)
	entries = append(entries, aliases(FieldMerchantDBA,
		"merchant name",
		"merchant_name",
		"dba",
		"dba name",
		"business name",
		"name",
	)...)
	entries = append(entries, aliases(FieldTotalVolume,
		"volume",
		"processing volume",
		"total volume",
		"monthly volume",
		"amount",
		"sales",
	)...)
	entries = append(entries, aliases(FieldTotalTxns,
		"transactions",
		"transaction count",
		"txn count",
		"txns",
		"count",
		"num transactions",
	)...)
	return NewSynonymTable(entries...)
}

// DefaultResidualSynonyms returns the alias table for residual sheets.
func DefaultResidualSynonyms() SynonymTable {
	var entries []SynonymEntry
	entries = append(entries, aliases(FieldMID, midAliases...)...)
	entries = append(entries, aliases(FieldNetProfit,
		"net profit",
		"profit",
		"residual",
		"commission",
		"net commission",
		"net residual",
		"earnings",
		"agent earnings",
		"agent commission",
	)...)
	entries = append(entries, aliases(FieldBPS,
		"basis points",
		"bps",
		"rate",
		"commission rate",
		"agent bps",
		"agent rate",
	)...)
	entries = append(entries, aliases(FieldAgentName,
		"agent",
		"agent name",
		"rep",
		"rep name",
		"sales rep",
		"sales agent",
	)...)
	return NewSynonymTable(entries...)
}
