package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

var merchantRules = []Rule{
	{Field: "mid", Check: CheckNonEmpty},
	{Field: "total_volume", Check: CheckNotNull},
	{Field: "merchant_dba", Check: CheckNonEmpty, Severity: SeverityWarning},
}

func TestValidateRow(t *testing.T) {
	v := NewRowValidator(merchantRules)

	errs := v.ValidateRow(types.RawRow{"mid": "1", "total_volume": 0.0, "merchant_dba": "Alpha"}, 1)
	assert.Empty(t, errs)

	errs = v.ValidateRow(types.RawRow{"mid": "  ", "merchant_dba": "Alpha"}, 4)
	require.Len(t, errs, 2)
	assert.Equal(t, "mid", errs[0].Field)
	assert.Equal(t, string(CheckNonEmpty), errs[0].Rule)
	assert.Equal(t, 4, errs[0].RowNumber)
	assert.Equal(t, "total_volume", errs[1].Field)
	assert.True(t, v.Rejects(errs))
}

func TestWarningsKeepRowUnlessTreatedAsErrors(t *testing.T) {
	row := types.RawRow{"mid": "1", "total_volume": 10.0}

	errs := NewRowValidator(merchantRules).ValidateRow(row, 1)
	require.Len(t, errs, 1)
	assert.Equal(t, SeverityWarning, errs[0].Severity)
	assert.False(t, NewRowValidator(merchantRules).Rejects(errs))

	strict := NewRowValidatorWithOptions(merchantRules, ValidationOptions{TreatWarningsAsErrors: true})
	assert.True(t, strict.Rejects(strict.ValidateRow(row, 1)))
}

func TestStopOnFirstError(t *testing.T) {
	v := NewRowValidatorWithOptions(merchantRules, ValidationOptions{StopOnFirstError: true})
	errs := v.ValidateRow(types.RawRow{}, 1)
	require.Len(t, errs, 1)
	assert.Equal(t, "mid", errs[0].Field)
}

func TestCustomAndPreparedRules(t *testing.T) {
	rules := []Rule{
		{Field: "mid", Check: CheckNonEmpty, Prepare: func(v any) string {
			out := []rune{}
			for _, r := range FormatValue(v) {
				if r >= '0' && r <= '9' {
					out = append(out, r)
				}
			}
			return string(out)
		}},
		{Field: "net_profit", Check: CheckCustom, Custom: func(v any) string {
			if f, ok := v.(float64); ok && f < 0 {
				return "negative"
			}
			return ""
		}},
	}
	v := NewRowValidator(rules)

	errs := v.ValidateRow(types.RawRow{"mid": "--", "net_profit": -1.0}, 2)
	require.Len(t, errs, 2)
	assert.Equal(t, "--", errs[0].Value)
	assert.Equal(t, "negative", errs[1].Message)
	assert.Contains(t, errs[1].Error(), "[ERROR] Row 2, Field 'net_profit'")
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"abc", "abc"},
		{123456.0, "123456"},
		{12.5, "12.5"},
		{float32(1.5), "1.5"},
		{42, "42"},
		{int64(-7), "-7"},
		{uint32(9), "9"},
		{true, "true"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValue(tt.in))
	}
}
