// =============================================================================
// Merchant Analytics - Root Command
// =============================================================================
//
// COBRA CLI STRUCTURE:
//   rootCmd (analytics)
//   ├── ingestCmd  (analytics ingest)
//   ├── mergeCmd   (analytics merge)
//   ├── reportCmd  (analytics report)
//   ├── syncCmd    (analytics sync)
//   ├── serveCmd   (analytics serve)
//   └── versionCmd (analytics version)
//
// The root command loads the configuration and builds the logger before any
// subcommand runs.
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/merchant-analytics/internal/config"
	"github.com/ginjaninja78/merchant-analytics/internal/logger"
	"github.com/ginjaninja78/merchant-analytics/internal/store"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
var cfgFile string

// verbose forces debug logging.
var verbose bool

// mainConfig and log are set by the root command's PersistentPreRunE.
var (
	mainConfig *config.MainConfig
	log        *slog.Logger
	closeLog   = func() error { return nil }
)

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Merchant Analytics - Ingest, merge and report on merchant payments data",
	Long: `Merchant Analytics ingests monthly merchant volume and residual exports,
merges them per merchant and period, computes residual payouts and agent
earnings, and publishes reports, dashboard files and an HTTP API.

Key Features:
  - Forgiving column detection across export layouts
  - Per-source profiles with extra synonyms and field rules
  - Full outer merge of merchant and residual data with profit margins
  - SQLite history with trends, retention and forecasts
  - CRM sync with retries, a circuit breaker and a job queue

Example Usage:
  analytics ingest                      # Ingest every file in the input directory
  analytics ingest --file march.xlsx    # Ingest a single file
  analytics report --period 2024-03     # Build the March report
  analytics serve                       # Serve the HTTP API`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadMainConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load main config: %w", err)
		}
		if verbose {
			cfg.LogLevel = "debug"
		}

		l, closer, err := logger.Open(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
		if err != nil {
			return err
		}
		mainConfig, log, closeLog = cfg, l, closer
		log.Debug("configuration loaded", slog.String("config", cfgFile))
		return nil
	},

	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. Interrupts cancel the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yaml",
		"Path to the main configuration file",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable verbose output for debugging",
	)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// openStore opens the configured database, creating its directory.
func openStore(ctx context.Context) (*store.Store, error) {
	path := mainConfig.Database.Path
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return store.Open(ctx, path, log)
}
