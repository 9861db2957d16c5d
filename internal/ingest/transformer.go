// =============================================================================
// Merchant Analytics - Record Transformer
// =============================================================================
//
// The transformer sequences the ingestion steps for one sheet:
//   1. Normalize column names for the record kind
//   2. Apply profile field rules (optional)
//   3. Clean rows into typed records, collecting skipped rows
//
// ERRORS:
//   Only structural problems are returned as errors (unknown kind, malformed
//   period key). Data-quality problems are reported in the Batch.
//
// =============================================================================

package ingest

import (
	"log/slog"

	"github.com/ginjaninja78/merchant-analytics/internal/types"
	"github.com/ginjaninja78/merchant-analytics/internal/validation"
)

// Batch is the typed output of transforming one sheet.
type Batch struct {
	Kind      types.Kind
	PeriodKey string

	// Exactly one of Merchants or Residuals is populated, according to Kind.
	Merchants []types.MerchantRecord
	Residuals []types.ResidualRecord

	Skipped  []SkippedRow
	Warnings []*validation.ValidationError

	// TotalRows is the number of input rows.
	TotalRows int
}

// RowsSuccess returns the number of emitted records.
func (b *Batch) RowsSuccess() int {
	return len(b.Merchants) + len(b.Residuals)
}

// RowsFailed returns the number of skipped rows.
func (b *Batch) RowsFailed() int {
	return len(b.Skipped)
}

// Transformer runs normalization, field rules and cleaning in order.
type Transformer struct {
	normalizer *Normalizer
	cleaner    *Cleaner
	rules      *FieldRules
	logger     *slog.Logger
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithFieldRules attaches profile field rules.
func WithFieldRules(rules *FieldRules) Option {
	return func(t *Transformer) { t.rules = rules }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transformer) { t.logger = logger }
}

// NewTransformer creates a Transformer.
func NewTransformer(normalizer *Normalizer, cleaner *Cleaner, opts ...Option) *Transformer {
	t := &Transformer{
		normalizer: normalizer,
		cleaner:    cleaner,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transform converts raw rows of one kind into a Batch.
func (t *Transformer) Transform(rows []types.RawRow, kind types.Kind, periodKey string) (*Batch, error) {
	if _, err := types.ParseKind(string(kind)); err != nil {
		return nil, err
	}
	if err := types.ValidatePeriodKey(periodKey); err != nil {
		return nil, err
	}

	normalized := t.normalizer.Normalize(rows, kind)
	normalized = t.rules.Apply(normalized)

	batch := &Batch{
		Kind:      kind,
		PeriodKey: periodKey,
		TotalRows: len(rows),
	}

	switch kind {
	case types.KindMerchant:
		batch.Merchants, batch.Skipped, batch.Warnings = t.cleaner.CleanMerchantRows(normalized, periodKey)
	case types.KindResidual:
		batch.Residuals, batch.Skipped, batch.Warnings = t.cleaner.CleanResidualRows(normalized, periodKey)
	}

	t.logger.Info("transformed rows",
		slog.String("kind", string(kind)),
		slog.String("period", periodKey),
		slog.Int("total", batch.TotalRows),
		slog.Int("kept", batch.RowsSuccess()),
		slog.Int("skipped", batch.RowsFailed()),
		slog.Int("warnings", len(batch.Warnings)),
	)

	return batch, nil
}
