// =============================================================================
// Merchant Analytics - Row Validation
// =============================================================================
//
// This module decides whether a normalized spreadsheet row carries the fields
// a typed record needs. It does not coerce values; the cleaner does that.
//
// VALIDATION STRATEGY:
//   Each record kind declares a list of Rules. A Rule names a canonical field
//   and a Check:
//   1. not_null:  the column must be present and non-nil (zero is fine)
//   2. non_empty: the column, rendered as text and prepared, must be non-blank
//   3. custom:    a caller-supplied function returns a message on failure
//
// ERROR HANDLING:
//   - Errors are collected per row, never raised
//   - "error" severity means the row is skipped
//   - "warning" severity is reported but the row is kept
//
// =============================================================================

package validation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

// =============================================================================
// VALIDATION ERROR TYPES
// =============================================================================

// Severity levels.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError represents a single row-level validation failure.
type ValidationError struct {
	// Severity is "error" (row skipped) or "warning" (row kept).
	Severity string `json:"severity"`

	// Field is the canonical field name that failed validation.
	Field string `json:"field"`

	// Value is the raw value rendered as text.
	Value string `json:"value"`

	// Rule is the check that was violated.
	Rule string `json:"rule"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// RowNumber is the 1-based data row number within the source sheet.
	RowNumber int `json:"row_number"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] Row %d, Field '%s': %s (value: '%s')",
		strings.ToUpper(e.Severity),
		e.RowNumber,
		e.Field,
		e.Message,
		e.Value,
	)
}

// =============================================================================
// RULES
// =============================================================================

// Check identifies how a Rule inspects its field.
type Check string

const (
	CheckNotNull  Check = "not_null"
	CheckNonEmpty Check = "non_empty"
	CheckCustom   Check = "custom"
)

// CustomValidatorFunc inspects a raw value and returns a message if it fails.
type CustomValidatorFunc func(value any) string

// Rule is a single field requirement.
type Rule struct {
	Field string
	Check Check

	// Severity defaults to "error".
	Severity string

	// Prepare renders the value to text before a non_empty check.
	// When nil, FormatValue followed by TrimSpace is used.
	Prepare func(value any) string

	// Custom is used by CheckCustom.
	Custom CustomValidatorFunc
}

// =============================================================================
// VALIDATOR
// =============================================================================

// RowValidator applies a fixed list of rules to rows.
type RowValidator struct {
	rules   []Rule
	options ValidationOptions
}

// ValidationOptions contains options for validation.
type ValidationOptions struct {
	// StopOnFirstError stops checking a row after its first error.
	StopOnFirstError bool

	// TreatWarningsAsErrors rejects rows that only have warnings.
	TreatWarningsAsErrors bool
}

// DefaultValidationOptions returns the default validation options.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{}
}

// NewRowValidator creates a RowValidator with default options.
func NewRowValidator(rules []Rule) *RowValidator {
	return NewRowValidatorWithOptions(rules, DefaultValidationOptions())
}

// NewRowValidatorWithOptions creates a RowValidator with custom options.
func NewRowValidatorWithOptions(rules []Rule, options ValidationOptions) *RowValidator {
	copied := make([]Rule, len(rules))
	copy(copied, rules)
	return &RowValidator{rules: copied, options: options}
}

// ValidateRow checks one row against every rule.
//
// PARAMETERS:
//   - row: The normalized row.
//   - rowNumber: The 1-based row number used in messages.
//
// RETURNS:
//   - The list of failures, empty when the row is acceptable.
func (v *RowValidator) ValidateRow(row types.RawRow, rowNumber int) []*ValidationError {
	var errs []*ValidationError

	for _, rule := range v.rules {
		ve := v.checkRule(row, rule, rowNumber)
		if ve == nil {
			continue
		}
		errs = append(errs, ve)
		if ve.Severity == SeverityError && v.options.StopOnFirstError {
			break
		}
	}

	return errs
}

// Rejects reports whether errs should cause the row to be skipped.
func (v *RowValidator) Rejects(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
		if v.options.TreatWarningsAsErrors {
			return true
		}
	}
	return false
}

// checkRule evaluates a single rule.
func (v *RowValidator) checkRule(row types.RawRow, rule Rule, rowNumber int) *ValidationError {
	severity := rule.Severity
	if severity == "" {
		severity = SeverityError
	}

	value, present := row[rule.Field]

	switch rule.Check {
	case CheckNotNull:
		if !present || value == nil {
			return &ValidationError{
				Severity:  severity,
				Field:     rule.Field,
				Rule:      string(CheckNotNull),
				Message:   fmt.Sprintf("Required field '%s' is missing", rule.Field),
				RowNumber: rowNumber,
			}
		}

	case CheckNonEmpty:
		var text string
		if rule.Prepare != nil {
			text = rule.Prepare(value)
		} else {
			text = strings.TrimSpace(FormatValue(value))
		}
		if text == "" {
			return &ValidationError{
				Severity:  severity,
				Field:     rule.Field,
				Value:     FormatValue(value),
				Rule:      string(CheckNonEmpty),
				Message:   fmt.Sprintf("Required field '%s' is empty", rule.Field),
				RowNumber: rowNumber,
			}
		}

	case CheckCustom:
		if rule.Custom == nil {
			return nil
		}
		if msg := rule.Custom(value); msg != "" {
			return &ValidationError{
				Severity:  severity,
				Field:     rule.Field,
				Value:     FormatValue(value),
				Rule:      string(CheckCustom),
				Message:   msg,
				RowNumber: rowNumber,
			}
		}
	}

	return nil
}

// =============================================================================
// VALUE HELPERS
// =============================================================================

// FormatValue renders a cell value as text.
//
// Whole floats print without a fractional part so that a numeric MID cell
// (123456.0) renders as "123456".
func FormatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
