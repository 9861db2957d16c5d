// =============================================================================
// Merchant Analytics - Source Profiles
// =============================================================================
//
// A source profile describes one family of exports (a processor's merchant
// volume report, the back office residual statement, ...). Profiles let new
// export layouts be onboarded without code changes.
//
// EXAMPLE (profiles/tsys_residuals.yaml):
//
//   name: TSYS Residuals
//   file_matching_patterns: ["tsys_residual*.xlsx"]
//   kind: residual
//   sheet_name: Summary
//   header_row: 3
//   column_synonyms:
//     - alias: "net rev"
//       canonical: net_profit
//   transformation_rules:
//     - field: mid
//       actions:
//         - type: pad_zeros_to_length
//           value: "12"
//
// =============================================================================

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

// =============================================================================
// SOURCE PROFILE STRUCTURE
// =============================================================================

// SourceProfile holds the ingestion rules for one export family.
type SourceProfile struct {
	// Name is the human-readable name used in logs.
	Name string `yaml:"name" validate:"required"`

	// FileMatchingPatterns is a list of glob patterns matched against the
	// base file name, case-insensitively.
	// Examples:
	//   - "merchant_volume_*.xlsx"
	//   - "*residual*"
	FileMatchingPatterns []string `yaml:"file_matching_patterns" validate:"min=1,dive,required"`

	// Kind forces the record kind. Empty means detect from headers.
	Kind types.Kind `yaml:"kind" validate:"omitempty,oneof=merchant residual"`

	// SheetName selects the worksheet. Empty means the first sheet.
	SheetName string `yaml:"sheet_name"`

	// HeaderRow is the 1-based header row. Zero means auto (row 1 with
	// fallback to row 2).
	HeaderRow int `yaml:"header_row" validate:"gte=0"`

	// CSVSettings contains settings for parsing CSV exports.
	CSVSettings CSVSettings `yaml:"csv_settings"`

	// ColumnSynonyms extend the built-in synonym tables for this source.
	ColumnSynonyms []ColumnSynonym `yaml:"column_synonyms" validate:"dive"`

	// TransformationRules run on normalized rows before cleaning.
	TransformationRules []TransformationRule `yaml:"transformation_rules" validate:"dive"`

	// SourceFile is the profile's path, set by the loader.
	SourceFile string `yaml:"-"`
}

// ColumnSynonym maps an extra header alias to a canonical field.
type ColumnSynonym struct {
	Alias     string `yaml:"alias" validate:"required"`
	Canonical string `yaml:"canonical" validate:"required"`
}

// =============================================================================
// CSV SETTINGS STRUCTURE
// =============================================================================

// CSVSettings contains settings for parsing CSV files.
type CSVSettings struct {
	// Delimiter is the character used to separate fields in the CSV.
	// Common values: "," (comma), "|" (pipe), "\t" (tab)
	// Default: ","
	Delimiter string `yaml:"delimiter"`

	// HeaderRows is the number of header rows. Multi-row headers are joined
	// with a space per column.
	// Default: 1
	HeaderRows int `yaml:"header_rows" validate:"gte=0"`

	// DataStartRow is the 1-based row where data begins.
	// Default: HeaderRows + 1
	DataStartRow int `yaml:"data_start_row" validate:"gte=0"`

	// Encoding is informational; files are read as UTF-8.
	// Default: "UTF-8"
	Encoding string `yaml:"encoding"`
}

// =============================================================================
// TRANSFORMATION RULE STRUCTURE
// =============================================================================

// TransformationRule defines a transformation to apply to a specific field.
type TransformationRule struct {
	// Field is the canonical field name (after normalization), e.g. "mid".
	Field string `yaml:"field" validate:"required"`

	// Actions is a list of transformations to apply to this field.
	// Actions are applied in order.
	Actions []TransformationAction `yaml:"actions" validate:"min=1"`
}

// TransformationAction defines a single transformation action.
type TransformationAction struct {
	// Type is the type of transformation to apply.
	// Supported types:
	//   - "trim", "uppercase", "lowercase"
	//   - "prepend_string", "append_string"
	//   - "replace", "regex_replace"
	//   - "remove_special_chars", "extract_digits", "normalize_whitespace"
	//   - "pad_zeros_to_length", "remove_leading_zeros"
	//   - "lookup"
	//   - "if_empty_use_default"
	Type string `yaml:"type" validate:"required"`

	// Value is the parameter for the transformation:
	//   - "prepend_string"       : The string to prepend
	//   - "append_string"        : The string to append
	//   - "pad_zeros_to_length"  : The target length (as a string, e.g., "12")
	//   - "replace"              : The replacement string
	//   - "regex_replace"        : The replacement (may use $1)
	//   - "if_empty_use_default" : The default value
	Value string `yaml:"value"`

	// Find is used for "replace" and "regex_replace" transformations.
	Find string `yaml:"find,omitempty"`

	// LookupTable is used for "lookup" transformations.
	// Example:
	//   lookup_table:
	//     "A01": "Jane Doe"
	//     "A02": "John Roe"
	LookupTable map[string]string `yaml:"lookup_table,omitempty"`
}

// =============================================================================
// PROFILE LOADING FUNCTIONS
// =============================================================================

// LoadSourceProfiles loads all source profiles from a directory.
//
// PARAMETERS:
//   - profilesDir: The directory containing *.yaml / *.yml profile files.
//
// RETURNS:
//   - The profiles ordered by file name. MatchProfile uses this order.
//   - An error if any file cannot be read, parsed or validated.
func LoadSourceProfiles(profilesDir string) ([]*SourceProfile, error) {
	files, err := filepath.Glob(filepath.Join(profilesDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list profile files: %w", err)
	}

	ymlFiles, err := filepath.Glob(filepath.Join(profilesDir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list profile files: %w", err)
	}
	files = append(files, ymlFiles...)
	sort.Strings(files)

	profiles := make([]*SourceProfile, 0, len(files))
	for _, file := range files {
		profile, err := loadSourceProfile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
		profiles = append(profiles, profile)
	}

	return profiles, nil
}

// loadSourceProfile loads a single profile file.
func loadSourceProfile(filePath string) (*SourceProfile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var profile SourceProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse file: %w", err)
	}

	if profile.Name == "" {
		profile.Name = strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	}
	profile.SourceFile = filePath
	applyProfileDefaults(&profile)

	if err := ValidateStruct(&profile); err != nil {
		return nil, err
	}

	return &profile, nil
}

// applyProfileDefaults sets default values for a profile.
func applyProfileDefaults(profile *SourceProfile) {
	profile.CSVSettings = profile.CSVSettings.WithDefaults()
}

// WithDefaults returns a copy of s with unset fields defaulted.
func (s CSVSettings) WithDefaults() CSVSettings {
	if s.Delimiter == "" {
		s.Delimiter = ","
	}
	if s.HeaderRows == 0 {
		s.HeaderRows = 1
	}
	if s.DataStartRow == 0 {
		s.DataStartRow = s.HeaderRows + 1
	}
	if s.Encoding == "" {
		s.Encoding = "UTF-8"
	}
	return s
}

// MatchProfile returns the first profile with a pattern matching the base
// name of filePath, or nil.
func MatchProfile(filePath string, profiles []*SourceProfile) *SourceProfile {
	name := strings.ToLower(filepath.Base(filePath))

	for _, profile := range profiles {
		for _, pattern := range profile.FileMatchingPatterns {
			matched, err := filepath.Match(strings.ToLower(pattern), name)
			if err == nil && matched {
				return profile
			}
		}
	}

	return nil
}
