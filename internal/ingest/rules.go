// =============================================================================
// Merchant Analytics - Field Rules
// =============================================================================
//
// Source profiles can attach per-field actions that run on normalized rows
// before cleaning. Typical uses:
//   - Zero-padding MIDs exported as numbers ("pad_zeros_to_length")
//   - Mapping agent codes to names ("lookup")
//   - Scrubbing processor suffixes ("regex_replace")
//
// VALUE HANDLING:
//   Cell values are rendered as text before actions run. A nil cell is seen
//   as "" and stays nil unless an action produces a non-empty value (for
//   example "if_empty_use_default").
//
// =============================================================================

package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ginjaninja78/merchant-analytics/internal/config"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
	"github.com/ginjaninja78/merchant-analytics/internal/validation"
)

var (
	digitsPattern     = regexp.MustCompile(`\d+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// FieldRules applies configured actions to canonical fields.
type FieldRules struct {
	rules    []config.TransformationRule
	patterns map[string]*regexp.Regexp
}

// NewFieldRules compiles rules. It fails on unknown action types and on
// invalid regular expressions so that bad profiles are caught at load time.
func NewFieldRules(rules []config.TransformationRule) (*FieldRules, error) {
	fr := &FieldRules{
		rules:    rules,
		patterns: make(map[string]*regexp.Regexp),
	}

	for _, rule := range rules {
		for _, action := range rule.Actions {
			if !knownAction(action.Type) {
				return nil, fmt.Errorf("field %q: unknown transformation type %q", rule.Field, action.Type)
			}
			if action.Type == "regex_replace" && action.Find != "" {
				re, err := regexp.Compile(action.Find)
				if err != nil {
					return nil, fmt.Errorf("field %q: invalid regex pattern: %w", rule.Field, err)
				}
				fr.patterns[action.Find] = re
			}
		}
	}

	return fr, nil
}

// Empty reports whether there is nothing to apply.
func (fr *FieldRules) Empty() bool {
	return fr == nil || len(fr.rules) == 0
}

// Apply returns transformed copies of rows. Input rows are not modified.
func (fr *FieldRules) Apply(rows []types.RawRow) []types.RawRow {
	if fr.Empty() {
		return rows
	}

	out := make([]types.RawRow, len(rows))
	for i, row := range rows {
		next := row.Clone()
		for _, rule := range fr.rules {
			original, present := next[rule.Field]
			value := validation.FormatValue(original)
			for _, action := range rule.Actions {
				value = fr.applyAction(value, action)
			}
			if (!present || original == nil) && value == "" {
				continue
			}
			next[rule.Field] = value
		}
		out[i] = next
	}
	return out
}

// applyAction applies a single transformation action.
//
// SUPPORTED TRANSFORMATIONS:
//   trim, uppercase, lowercase, prepend_string, append_string, replace,
//   regex_replace, remove_special_chars, extract_digits, normalize_whitespace,
//   pad_zeros_to_length, remove_leading_zeros, lookup, if_empty_use_default
func (fr *FieldRules) applyAction(value string, action config.TransformationAction) string {
	switch action.Type {
	case "trim":
		return strings.TrimSpace(value)

	case "uppercase":
		return strings.ToUpper(value)

	case "lowercase":
		return strings.ToLower(value)

	case "prepend_string":
		return action.Value + value

	case "append_string":
		return value + action.Value

	case "replace":
		if action.Find == "" {
			return value
		}
		return strings.ReplaceAll(value, action.Find, action.Value)

	case "regex_replace":
		re, ok := fr.patterns[action.Find]
		if !ok {
			return value
		}
		return re.ReplaceAllString(value, action.Value)

	case "remove_special_chars":
		return nonAlphanumeric.ReplaceAllString(value, "")

	case "extract_digits":
		// "MID-0042-7" -> "00427"
		return strings.Join(digitsPattern.FindAllString(value, -1), "")

	case "normalize_whitespace":
		return strings.TrimSpace(whitespacePattern.ReplaceAllString(value, " "))

	case "pad_zeros_to_length":
		// "4213" with value "8" -> "00004213"
		n, err := strconv.Atoi(action.Value)
		if err != nil || n <= 0 || value == "" {
			return value
		}
		return PadLeft(value, n, '0')

	case "remove_leading_zeros":
		if value == "" {
			return value
		}
		trimmed := strings.TrimLeft(value, "0")
		if trimmed == "" {
			return "0"
		}
		return trimmed

	case "lookup":
		if replacement, ok := action.LookupTable[value]; ok {
			return replacement
		}
		return value

	case "if_empty_use_default":
		if strings.TrimSpace(value) == "" {
			return action.Value
		}
		return value
	}

	return value
}

func knownAction(t string) bool {
	switch t {
	case "trim", "uppercase", "lowercase", "prepend_string", "append_string",
		"replace", "regex_replace", "remove_special_chars", "extract_digits",
		"normalize_whitespace", "pad_zeros_to_length", "remove_leading_zeros",
		"lookup", "if_empty_use_default":
		return true
	}
	return false
}

// PadLeft pads s on the left with padChar to length.
func PadLeft(s string, length int, padChar rune) string {
	if len(s) >= length {
		return s
	}
	return strings.Repeat(string(padChar), length-len(s)) + s
}
