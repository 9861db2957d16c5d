// =============================================================================
// Merchant Analytics - Kind and Period Detection
// =============================================================================

package xlsxparser

import (
	"regexp"
	"strings"
	"time"

	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

// Header keywords used by DetectKind. Residual keywords are checked first
// because residual statements usually also carry merchant columns.
var (
	residualIndicators = []string{"residual", "commission", "bps", "basis point", "agent", "split"}
	merchantIndicators = []string{"merchant", "volume", "transaction", "mid", "dba"}
)

// DetectKind guesses the record kind from a header row. Sheets that match
// neither keyword list are treated as residual.
func DetectKind(headers []string) types.Kind {
	joined := strings.ToLower(strings.Join(headers, " "))

	for _, indicator := range residualIndicators {
		if strings.Contains(joined, indicator) {
			return types.KindResidual
		}
	}
	for _, indicator := range merchantIndicators {
		if strings.Contains(joined, indicator) {
			return types.KindMerchant
		}
	}

	return types.KindResidual
}

// periodPatterns are tried in order. yearFirst tells which group is the year.
var periodPatterns = []struct {
	re        *regexp.Regexp
	yearFirst bool
}{
	{regexp.MustCompile(`(\d{4})-(\d{2})`), true},
	{regexp.MustCompile(`(\d{4})_(\d{2})`), true},
	{regexp.MustCompile(`(\d{2})-(\d{4})`), false},
	{regexp.MustCompile(`(\d{2})_(\d{4})`), false},
}

// monthNamePattern matches processor exports such as "Residuals_January2024_TSYS".
var monthNamePattern = regexp.MustCompile(`_([A-Za-z]+)(\d{4})(?:_|$)`)

// ExtractPeriod derives a YYYY-MM period key from a file name.
//
// EXAMPLES:
//   "residuals_2024-03.xlsx"     -> "2024-03"
//   "volume_2024_03.xlsx"        -> "2024-03"
//   "volume 03-2024.csv"         -> "2024-03"
//   "Residuals_March2024_x.xlsx" -> "2024-03"
//   "export.xlsx"                -> now's month
func ExtractPeriod(fileName string, now time.Time) string {
	stem := baseStem(fileName)

	for _, p := range periodPatterns {
		for _, m := range p.re.FindAllStringSubmatch(stem, -1) {
			year, month := m[1], m[2]
			if !p.yearFirst {
				year, month = m[2], m[1]
			}
			key := year + "-" + month
			if types.ValidatePeriodKey(key) == nil {
				return key
			}
		}
	}

	if m := monthNamePattern.FindStringSubmatch(stem); m != nil {
		if key, ok := monthNamePeriod(m[1], m[2]); ok {
			return key
		}
	}

	return types.PeriodKeyFor(now)
}

func monthNamePeriod(name, year string) (string, bool) {
	for _, layout := range []string{"January 2006", "Jan 2006"} {
		t, err := time.Parse(layout, capitalize(name)+" "+year)
		if err == nil {
			return types.PeriodKeyFor(t), true
		}
	}
	return "", false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func baseStem(fileName string) string {
	if i := strings.LastIndexAny(fileName, `/\`); i >= 0 {
		fileName = fileName[i+1:]
	}
	if i := strings.LastIndex(fileName, "."); i > 0 {
		fileName = fileName[:i]
	}
	return fileName
}
