// =============================================================================
// Merchant Analytics - File Processing
// =============================================================================
//
// ProcessFile turns one input file into a Batch: match a profile, parse,
// resolve the kind and period, transform, then log the ingestion.
//
// =============================================================================

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ginjaninja78/merchant-analytics/internal/config"
	"github.com/ginjaninja78/merchant-analytics/internal/csvparser"
	"github.com/ginjaninja78/merchant-analytics/internal/ingest"
	"github.com/ginjaninja78/merchant-analytics/internal/store"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
	"github.com/ginjaninja78/merchant-analytics/internal/xlsxparser"
)

// Ingestion log statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
)

// =============================================================================
// RESULT STRUCTURE
// =============================================================================

// FileResult is the outcome of ingesting one file.
type FileResult struct {
	FilePath string

	// Profile is the matched source profile name, empty when none matched.
	Profile string

	Kind      types.Kind
	PeriodKey string

	// Batch holds the typed records. It is nil when the file failed.
	Batch *ingest.Batch

	// ArchivePath is set once the file has been archived.
	ArchivePath string

	Success bool
	Error   error
	Stats   ProcessingStats
}

// ProcessingStats counts the rows of one file.
type ProcessingStats struct {
	TotalRows      int
	RowsSuccess    int
	RowsFailed     int
	ProcessingTime time.Duration
}

// Status returns the ingestion log status of the result.
func (r FileResult) Status() string {
	switch {
	case !r.Success:
		return StatusError
	case r.Stats.RowsFailed > 0:
		return StatusPartial
	default:
		return StatusSuccess
	}
}

// =============================================================================
// SINGLE FILE PROCESSING
// =============================================================================

// ProcessFile ingests one file outside of a run. The records are returned
// in the result but not merged; Run does that per period.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) FileResult {
	return p.processFile(ctx, uuid.NewString(), path)
}

func (p *Pipeline) processFile(ctx context.Context, runID, path string) FileResult {
	start := p.now()
	result := FileResult{FilePath: path}
	name := filepath.Base(path)
	logger := p.logger.With(slog.String("file", name))

	finish := func(err error) FileResult {
		result.Error = err
		result.Success = err == nil
		result.Stats.ProcessingTime = p.now().Sub(start)
		if err != nil {
			logger.Error("file failed", "error", err)
		} else {
			logger.Info("file processed",
				slog.String("kind", string(result.Kind)),
				slog.String("period", result.PeriodKey),
				slog.Int("rows", result.Stats.TotalRows),
				slog.Int("skipped", result.Stats.RowsFailed),
			)
		}
		p.recordFile(ctx, runID, start, result)
		return result
	}

	if err := ctx.Err(); err != nil {
		return finish(err)
	}

	// =========================================================================
	// STEP 1: MATCH PROFILE
	// =========================================================================

	profile := config.MatchProfile(path, p.profiles)
	if profile != nil {
		result.Profile = profile.Name
		logger.Debug("matched profile", slog.String("profile", profile.Name))
	}

	// =========================================================================
	// STEP 2: PARSE
	// =========================================================================

	sheet, err := parseFile(path, profile)
	if err != nil {
		return finish(fmt.Errorf("failed to parse %s: %w", name, err))
	}
	result.Stats.TotalRows = len(sheet.Rows)

	// =========================================================================
	// STEP 3-4: KIND AND PERIOD
	// =========================================================================

	result.Kind = p.resolveKind(profile, sheet)
	result.PeriodKey = p.resolvePeriod(path)

	// =========================================================================
	// STEP 5: TRANSFORM
	// =========================================================================

	transformer, err := p.transformer(profile)
	if err != nil {
		return finish(fmt.Errorf("invalid profile %s: %w", result.Profile, err))
	}

	batch, err := transformer.Transform(sheet.Rows, result.Kind, result.PeriodKey)
	if err != nil {
		return finish(fmt.Errorf("failed to transform %s: %w", name, err))
	}
	result.Batch = batch
	result.Stats.RowsSuccess = batch.RowsSuccess()
	result.Stats.RowsFailed = batch.RowsFailed()

	return finish(nil)
}

// parseFile reads a CSV or workbook according to the file extension.
func parseFile(path string, profile *config.SourceProfile) (*types.Sheet, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		var settings config.CSVSettings
		if profile != nil {
			settings = profile.CSVSettings
		}
		return csvparser.Parse(path, settings.WithDefaults())
	default:
		var opts xlsxparser.Options
		if profile != nil {
			opts = xlsxparser.Options{SheetName: profile.SheetName, HeaderRow: profile.HeaderRow}
		}
		return xlsxparser.Parse(path, opts)
	}
}

func (p *Pipeline) resolveKind(profile *config.SourceProfile, sheet *types.Sheet) types.Kind {
	if profile != nil && profile.Kind != "" {
		return profile.Kind
	}
	if p.opts.Kind != "" {
		return p.opts.Kind
	}
	return xlsxparser.DetectKind(sheet.Headers)
}

func (p *Pipeline) resolvePeriod(path string) string {
	if p.opts.Period != "" {
		return p.opts.Period
	}
	return xlsxparser.ExtractPeriod(filepath.Base(path), p.now())
}

// transformer builds the normalize, rules and clean chain for a profile.
// Profile synonyms extend the table that owns their canonical field, or
// both tables when the field is unknown to either.
func (p *Pipeline) transformer(profile *config.SourceProfile) (*ingest.Transformer, error) {
	merchant := ingest.DefaultMerchantSynonyms()
	residual := ingest.DefaultResidualSynonyms()
	var rules *ingest.FieldRules

	if profile != nil {
		var merchantExtra, residualExtra []ingest.SynonymEntry
		for _, s := range profile.ColumnSynonyms {
			entry := ingest.SynonymEntry{Alias: s.Alias, Canonical: s.Canonical}
			inMerchant, inResidual := merchant.IsCanonical(s.Canonical), residual.IsCanonical(s.Canonical)
			if inMerchant || !inResidual {
				merchantExtra = append(merchantExtra, entry)
			}
			if inResidual || !inMerchant {
				residualExtra = append(residualExtra, entry)
			}
		}
		merchant = merchant.With(merchantExtra...)
		residual = residual.With(residualExtra...)

		var err error
		if rules, err = ingest.NewFieldRules(profile.TransformationRules); err != nil {
			return nil, err
		}
	}

	return ingest.NewTransformer(
		ingest.NewNormalizer(merchant, residual),
		ingest.NewCleanerWithClock(p.now),
		ingest.WithFieldRules(rules),
		ingest.WithLogger(p.logger),
	), nil
}

// recordFile updates metrics and the ingestion log for one file.
func (p *Pipeline) recordFile(ctx context.Context, runID string, start time.Time, r FileResult) {
	p.metrics.ObserveFile(r.Status(), r.Stats.ProcessingTime)
	if r.Batch != nil {
		p.metrics.ObserveRows(string(r.Kind), "success", r.Stats.RowsSuccess)
		p.metrics.ObserveRows(string(r.Kind), "skipped", r.Stats.RowsFailed)
	}

	if !p.storing() {
		return
	}

	entry := store.IngestionLog{
		ID:          uuid.NewString(),
		RunID:       runID,
		FileName:    filepath.Base(r.FilePath),
		Kind:        string(r.Kind),
		PeriodKey:   r.PeriodKey,
		Status:      r.Status(),
		RowsTotal:   r.Stats.TotalRows,
		RowsSuccess: r.Stats.RowsSuccess,
		RowsFailed:  r.Stats.RowsFailed,
		StartedAt:   start,
		FinishedAt:  start.Add(r.Stats.ProcessingTime),
	}
	if r.Error != nil {
		entry.ErrorMessage = r.Error.Error()
	}

	// The run context may already be cancelled; the log is still wanted.
	if err := p.store.LogIngestion(context.WithoutCancel(ctx), entry); err != nil {
		p.logger.Warn("failed to record ingestion log", "file", entry.FileName, "error", err)
	}
}
