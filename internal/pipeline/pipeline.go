// =============================================================================
// Merchant Analytics - Pipeline
// =============================================================================
//
// Orchestrates a full ingestion run.
//
// PER FILE (concurrently, bounded by max_concurrency):
//   1. Match a source profile
//   2. Parse the workbook or CSV
//   3. Resolve the record kind (profile, then --kind, then headers)
//   4. Resolve the period (--period, then file name)
//   5. Normalize, apply field rules and clean
//   6. Record an ingestion log
//
// PER PERIOD (sequentially, oldest first):
//   1. Store merchant and residual records
//   2. Merge the full period (stored and new records)
//   3. Compute residual statements and agent earnings
//   4. Store merged records and agent earnings
//   5. Export CSV, XLSX and dashboard JSON
//   6. Archive the inputs that fed the period
//
// A dry run parses and transforms but writes nothing.
//
// =============================================================================

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ginjaninja78/merchant-analytics/internal/config"
	"github.com/ginjaninja78/merchant-analytics/internal/exporter"
	"github.com/ginjaninja78/merchant-analytics/internal/metrics"
	"github.com/ginjaninja78/merchant-analytics/internal/notify"
	"github.com/ginjaninja78/merchant-analytics/internal/residuals"
	"github.com/ginjaninja78/merchant-analytics/internal/store"
	"github.com/ginjaninja78/merchant-analytics/internal/types"
	"github.com/ginjaninja78/merchant-analytics/pkg/utils"
)

// Store is the persistence the pipeline writes to and merges from.
type Store interface {
	UpsertMerchants(ctx context.Context, records []types.MerchantRecord) (store.UpsertResult, error)
	UpsertResiduals(ctx context.Context, records []types.ResidualRecord) (store.UpsertResult, error)
	UpsertMerged(ctx context.Context, records []types.MergedRecord) (store.UpsertResult, error)
	UpsertAgentEarnings(ctx context.Context, earnings []residuals.AgentEarning) (store.UpsertResult, error)
	MerchantsByPeriod(ctx context.Context, period string) ([]types.MerchantRecord, error)
	ResidualsByPeriod(ctx context.Context, period string) ([]types.ResidualRecord, error)
	MerchantHistory(ctx context.Context) (map[string][]types.MerchantRecord, error)
	ResidualHistory(ctx context.Context) (map[string][]types.ResidualRecord, error)
	LogIngestion(ctx context.Context, l store.IngestionLog) error
}

// Options are per-invocation overrides, usually from command-line flags.
type Options struct {
	// Kind forces the record kind for files whose profile does not set one.
	Kind types.Kind

	// Period forces the period key instead of deriving it from file names.
	Period string

	// DryRun parses and transforms without storing, exporting or archiving.
	DryRun bool

	// NoArchive leaves inputs and reports where they are.
	NoArchive bool
}

// Pipeline runs ingestion for one configuration.
type Pipeline struct {
	cfg      *config.MainConfig
	opts     Options
	profiles []*config.SourceProfile

	store      Store
	files      *utils.FileManager
	calculator *residuals.Calculator
	balances   residuals.EquipmentBalances
	splits     residuals.AgentSplits
	dashboard  *exporter.Dashboard
	notifier   *notify.Notifier
	metrics    *metrics.Metrics

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStore sets the store. Without one, merges use only the run's records.
func WithStore(s Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithProfiles sets the source profiles used to match files.
func WithProfiles(profiles []*config.SourceProfile) Option {
	return func(p *Pipeline) { p.profiles = profiles }
}

// WithResidualInputs sets equipment balances and agent splits.
func WithResidualInputs(balances residuals.EquipmentBalances, splits residuals.AgentSplits) Option {
	return func(p *Pipeline) { p.balances, p.splits = balances, splits }
}

// WithNotifier sets the notifier for run outcomes.
func WithNotifier(n *notify.Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline for cfg.
func New(cfg *config.MainConfig, opts Options, options ...Option) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		opts:   opts,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range options {
		opt(p)
	}
	p.logger = p.logger.With("component", "pipeline")

	p.files = utils.NewFileManager(cfg.InputDir, cfg.OutputDir, cfg.InputArchiveDir, cfg.OutputArchiveDir)
	p.files.ArchiveOnSuccess = !opts.DryRun && !opts.NoArchive

	p.calculator = residuals.NewCalculator(cfg.Residuals.OfficeFeePercentage, cfg.Residuals.EquipmentRecoveryRate, p.logger)
	p.dashboard = exporter.NewDashboard(filepath.Join(cfg.OutputDir, "dashboard"), p.logger)
	return p
}

// Files returns the pipeline's file manager.
func (p *Pipeline) Files() *utils.FileManager {
	return p.files
}

// LoadResidualInputs reads the optional equipment balance and agent split
// files named in cfg. Unset paths yield nil maps.
func LoadResidualInputs(cfg config.ResidualsConfig) (residuals.EquipmentBalances, residuals.AgentSplits, error) {
	var (
		balances residuals.EquipmentBalances
		splits   residuals.AgentSplits
		err      error
	)
	if cfg.EquipmentBalancesFile != "" {
		if balances, err = residuals.LoadEquipmentBalances(cfg.EquipmentBalancesFile); err != nil {
			return nil, nil, fmt.Errorf("failed to load equipment balances: %w", err)
		}
	}
	if cfg.AgentSplitsFile != "" {
		if splits, err = residuals.LoadAgentSplits(cfg.AgentSplitsFile); err != nil {
			return nil, nil, fmt.Errorf("failed to load agent splits: %w", err)
		}
	}
	return balances, splits, nil
}

func (p *Pipeline) writes() bool {
	return !p.opts.DryRun
}

func (p *Pipeline) storing() bool {
	return p.store != nil && !p.opts.DryRun
}
