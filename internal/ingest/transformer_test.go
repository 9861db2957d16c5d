package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/merchant-analytics/internal/config"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

func newTestTransformer(t *testing.T, rules []config.TransformationRule) *Transformer {
	t.Helper()

	fr, err := NewFieldRules(rules)
	require.NoError(t, err)

	return NewTransformer(NewDefaultNormalizer(), newTestCleaner(), WithFieldRules(fr))
}

func TestTransformMerchantSheet(t *testing.T) {
	tr := newTestTransformer(t, nil)

	rows := []types.RawRow{
		{"Merchant ID": "123456", "DBA Name": "M1", "Processing Volume": "$1,000", "Transactions": "20"},
		{"Merchant ID": "222", "DBA Name": "M2", "Processing Volume": nil, "Transactions": "5"},
	}

	batch, err := tr.Transform(rows, types.KindMerchant, "2024-03")
	require.NoError(t, err)

	assert.Equal(t, types.KindMerchant, batch.Kind)
	assert.Equal(t, 2, batch.TotalRows)
	assert.Equal(t, 1, batch.RowsSuccess())
	assert.Equal(t, 1, batch.RowsFailed())
	assert.Empty(t, batch.Residuals)

	require.Len(t, batch.Merchants, 1)
	assert.Equal(t, "123456", batch.Merchants[0].MerchantID)
	assert.Equal(t, 1000.0, batch.Merchants[0].TotalVolume)
	assert.Equal(t, 20.0, batch.Merchants[0].TotalTransactionCount)
}

func TestTransformResidualSheet(t *testing.T) {
	tr := newTestTransformer(t, nil)

	rows := []types.RawRow{
		{"MID": 123456.0, "Net Profit": "50", "Agent": "Jane"},
	}

	batch, err := tr.Transform(rows, types.KindResidual, "2024-03")
	require.NoError(t, err)
	require.Len(t, batch.Residuals, 1)

	r := batch.Residuals[0]
	assert.Equal(t, "123456", r.MerchantID)
	assert.Equal(t, 50.0, r.NetProfit)
	assert.Equal(t, "123456_2024-03", r.RecordID)
	assert.Equal(t, "Jane", r.AgentName)
}

func TestTransformAppliesFieldRules(t *testing.T) {
	tr := newTestTransformer(t, []config.TransformationRule{
		{
			Field: FieldMID,
			Actions: []config.TransformationAction{
				{Type: "extract_digits"},
				{Type: "pad_zeros_to_length", Value: "8"},
			},
		},
		{
			Field: FieldMerchantDBA,
			Actions: []config.TransformationAction{
				{Type: "normalize_whitespace"},
				{Type: "uppercase"},
				{Type: "if_empty_use_default", Value: "UNKNOWN"},
			},
		},
	})

	rows := []types.RawRow{
		{"MID": "MID-4213", "DBA": "corner   cafe", "Volume": 10, "Txns": 1},
		{"MID": "77", "DBA": nil, "Volume": 10, "Txns": 1},
	}

	batch, err := tr.Transform(rows, types.KindMerchant, "2024-03")
	require.NoError(t, err)
	require.Len(t, batch.Merchants, 2)

	assert.Equal(t, "00004213", batch.Merchants[0].MerchantID)
	assert.Equal(t, "CORNER CAFE", batch.Merchants[0].MerchantName)
	assert.Equal(t, "00000077", batch.Merchants[1].MerchantID)
	assert.Equal(t, "UNKNOWN", batch.Merchants[1].MerchantName)
}

func TestTransformRejectsBadInput(t *testing.T) {
	tr := newTestTransformer(t, nil)

	_, err := tr.Transform(nil, types.Kind("volume"), "2024-03")
	assert.Error(t, err)

	_, err = tr.Transform(nil, types.KindMerchant, "2024-3")
	assert.Error(t, err)

	_, err = tr.Transform(nil, types.KindMerchant, "March")
	assert.Error(t, err)
}

func TestTransformEmptyRows(t *testing.T) {
	tr := newTestTransformer(t, nil)

	batch, err := tr.Transform(nil, types.KindResidual, "2024-03")
	require.NoError(t, err)
	assert.Zero(t, batch.TotalRows)
	assert.Empty(t, batch.Residuals)
	assert.Empty(t, batch.Skipped)
}

func TestNewFieldRulesValidation(t *testing.T) {
	_, err := NewFieldRules([]config.TransformationRule{
		{Field: FieldMID, Actions: []config.TransformationAction{{Type: "explode"}}},
	})
	assert.Error(t, err)

	_, err = NewFieldRules([]config.TransformationRule{
		{Field: FieldMID, Actions: []config.TransformationAction{{Type: "regex_replace", Find: "("}}},
	})
	assert.Error(t, err)
}

func TestFieldRulesActions(t *testing.T) {
	tests := []struct {
		name   string
		action config.TransformationAction
		input  string
		want   string
	}{
		{"trim", config.TransformationAction{Type: "trim"}, "  a  ", "a"},
		{"lowercase", config.TransformationAction{Type: "lowercase"}, "ABC", "abc"},
		{"prepend", config.TransformationAction{Type: "prepend_string", Value: "X"}, "1", "X1"},
		{"append", config.TransformationAction{Type: "append_string", Value: "-Z"}, "1", "1-Z"},
		{"replace", config.TransformationAction{Type: "replace", Find: "LLC", Value: ""}, "Cafe LLC", "Cafe "},
		{"regex", config.TransformationAction{Type: "regex_replace", Find: `\s*\(.*\)$`, Value: ""}, "Cafe (TSYS)", "Cafe"},
		{"special", config.TransformationAction{Type: "remove_special_chars"}, "a-b_c!", "abc"},
		{"leading zeros", config.TransformationAction{Type: "remove_leading_zeros"}, "000120", "120"},
		{"all zeros", config.TransformationAction{Type: "remove_leading_zeros"}, "000", "0"},
		{"lookup hit", config.TransformationAction{Type: "lookup", LookupTable: map[string]string{"A1": "Alice"}}, "A1", "Alice"},
		{"lookup miss", config.TransformationAction{Type: "lookup", LookupTable: map[string]string{"A1": "Alice"}}, "B2", "B2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr, err := NewFieldRules([]config.TransformationRule{{Field: "f", Actions: []config.TransformationAction{tt.action}}})
			require.NoError(t, err)

			out := fr.Apply([]types.RawRow{{"f": tt.input}})
			assert.Equal(t, tt.want, out[0]["f"])
		})
	}
}

func TestFieldRulesLeaveNullAlone(t *testing.T) {
	fr, err := NewFieldRules([]config.TransformationRule{
		{Field: FieldTotalVolume, Actions: []config.TransformationAction{{Type: "trim"}}},
	})
	require.NoError(t, err)

	out := fr.Apply([]types.RawRow{{FieldTotalVolume: nil}, {}})
	assert.Nil(t, out[0][FieldTotalVolume])
	_, present := out[1][FieldTotalVolume]
	assert.False(t, present)
}
