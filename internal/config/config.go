// =============================================================================
// Merchant Analytics - Configuration Module
// =============================================================================
//
// This module loads the main application configuration and the per-source
// ingestion profiles.
//
// CONFIGURATION FILES:
//   1. Main Config (config.yaml): Directories, processing, residual rates,
//      analytics, database, CRM, notifications, HTTP server
//   2. Source Profiles (profiles/*.yaml): Per-export rules (see profiles.go)
//   3. .env / environment: Secrets and overrides (see env.go)
//
// LOAD ORDER:
//   defaults -> config.yaml -> .env -> IRELANDPAY_* environment -> validate
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// MainConfig holds the global application configuration.
// This is loaded from the main config.yaml file.
type MainConfig struct {
	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// InputDir is the directory where merchant and residual exports are placed.
	// Default: "./input"
	InputDir string `yaml:"input_dir" validate:"required"`

	// OutputDir is the directory where merged CSV/XLSX reports and dashboard
	// JSON files are written.
	// Default: "./output"
	OutputDir string `yaml:"output_dir" validate:"required"`

	// InputArchiveDir is the directory where processed exports are moved.
	// Files are only moved here after successful processing.
	// Default: "./input_archive"
	InputArchiveDir string `yaml:"input_archive_dir" validate:"required"`

	// OutputArchiveDir is the directory where older reports are archived.
	// Default: "./output_archive"
	OutputArchiveDir string `yaml:"output_archive_dir" validate:"required"`

	// ProfilesDir is the directory containing source profiles.
	// Default: "./profiles"
	ProfilesDir string `yaml:"profiles_dir" validate:"required"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	// LogFile is the path to the application log file. Empty logs to stderr.
	LogFile string `yaml:"log_file"`

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error"
	// Default: "info"
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// LogFormat selects the slog handler.
	// Valid values: "json", "text"
	// Default: "text"
	LogFormat string `yaml:"log_format" validate:"oneof=json text"`

	// =========================================================================
	// PROCESSING SETTINGS
	// =========================================================================

	// FilePatterns are the glob patterns used to discover input files.
	// Default: ["*.xlsx", "*.xls", "*.csv"]
	FilePatterns []string `yaml:"file_patterns" validate:"min=1"`

	// OutputNameFormat defines the file name of merged reports (without
	// extension).
	// Placeholders:
	//   {uuid}      - A random UUID
	//   {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
	//   {date}      - Current date (YYYY-MM-DD)
	//   {period}    - The period key (YYYY-MM)
	//   {kind}      - Record kind
	// Default: "merged_{period}_{timestamp}"
	OutputNameFormat string `yaml:"output_name_format" validate:"required"`

	// MaxConcurrency is the maximum number of files to parse concurrently.
	// Set to 1 for sequential processing.
	// Default: 4
	MaxConcurrency int `yaml:"max_concurrency" validate:"min=1,max=64"`

	// ContinueOnError determines whether to continue processing other files
	// if one file fails.
	// Default: true
	ContinueOnError bool `yaml:"continue_on_error"`

	// =========================================================================
	// DOMAIN SECTIONS
	// =========================================================================

	Residuals ResidualsConfig `yaml:"residuals"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Database  DatabaseConfig  `yaml:"database"`
	CRM       CRMConfig       `yaml:"crm"`
	Notify    NotifyConfig    `yaml:"notify"`
	Server    ServerConfig    `yaml:"server"`
}

// ResidualsConfig holds the fee and recovery rates used when computing
// agent payouts.
type ResidualsConfig struct {
	// OfficeFeePercentage is the share of net profit retained by the office.
	// Expressed as a fraction. Default: 0.10
	OfficeFeePercentage float64 `yaml:"office_fee_percentage" validate:"gte=0,lte=1"`

	// EquipmentRecoveryRate is the share of after-fee profit applied to an
	// outstanding equipment balance. Default: 0.05
	EquipmentRecoveryRate float64 `yaml:"equipment_recovery_rate" validate:"gte=0,lte=1"`

	// EquipmentBalancesFile is an optional CSV with columns mid, balance.
	EquipmentBalancesFile string `yaml:"equipment_balances_file"`

	// AgentSplitsFile is an optional CSV with columns mid, agent_name,
	// split_percentage.
	AgentSplitsFile string `yaml:"agent_splits_file"`
}

// AnalyticsConfig holds reporting defaults.
type AnalyticsConfig struct {
	TopMerchants     int     `yaml:"top_merchants" validate:"min=1"`
	TopAgents        int     `yaml:"top_agents" validate:"min=1"`
	OutlierThreshold float64 `yaml:"outlier_threshold" validate:"gt=0"`
	ForecastMonths   int     `yaml:"forecast_months" validate:"min=1,max=24"`
}

// DatabaseConfig points at the SQLite database file.
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// CRMConfig configures the Ireland Pay CRM client.
type CRMConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// APIKey is normally supplied through IRELANDPAY_API_KEY.
	APIKey string `yaml:"api_key"`

	TimeoutSeconds      int `yaml:"timeout_seconds" validate:"min=1"`
	MaxRetries          int `yaml:"max_retries" validate:"min=0,max=10"`
	BackoffBaseMS       int `yaml:"backoff_base_ms" validate:"min=1"`
	CircuitMaxFailures  int `yaml:"circuit_max_failures" validate:"min=1"`
	CircuitResetSeconds int `yaml:"circuit_reset_seconds" validate:"min=1"`

	// RequestsPerSecond limits outgoing calls. Zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`

	PerPage int `yaml:"per_page" validate:"min=1,max=1000"`

	// CacheTTLSeconds controls the GET response cache. Zero disables caching.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" validate:"gte=0"`
}

// NotifyConfig configures email and Slack notifications. Channels left
// unconfigured are skipped.
type NotifyConfig struct {
	MailgunDomain string   `yaml:"mailgun_domain"`
	MailgunAPIKey string   `yaml:"mailgun_api_key"`
	Sender        string   `yaml:"sender" validate:"omitempty,email"`
	Recipients    []string `yaml:"recipients" validate:"omitempty,dive,email"`

	SlackWebhookURL string `yaml:"slack_webhook_url" validate:"omitempty,url"`

	// AgentEmails maps agent names to the address that receives their
	// statement notices.
	AgentEmails map[string]string `yaml:"agent_emails" validate:"omitempty,dive,email"`
}

// EmailEnabled reports whether Mailgun is configured.
func (n NotifyConfig) EmailEnabled() bool {
	return n.MailgunDomain != "" && n.MailgunAPIKey != "" && n.Sender != ""
}

// SlackEnabled reports whether a Slack webhook is configured.
func (n NotifyConfig) SlackEnabled() bool {
	return n.SlackWebhookURL != ""
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// DefaultMainConfig returns a configuration with every default applied.
func DefaultMainConfig() *MainConfig {
	cfg := &MainConfig{ContinueOnError: true}
	applyMainConfigDefaults(cfg)
	return cfg
}

// LoadMainConfig loads the main configuration from a YAML file.
//
// PARAMETERS:
//   - configPath: The path to the main configuration file. A missing file is
//     not an error; defaults and environment overrides are used instead.
//
// RETURNS:
//   - A pointer to the MainConfig struct.
//   - An error if the file cannot be parsed or the result is invalid.
func LoadMainConfig(configPath string) (*MainConfig, error) {
	config := DefaultMainConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Explicitly blank values fall back to defaults.
	applyMainConfigDefaults(config)

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := ApplyEnvOverrides(config); err != nil {
		return nil, err
	}

	if err := ValidateStruct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// EnsureDirectories creates the configured directories when missing.
func (c *MainConfig) EnsureDirectories() error {
	dirs := []string{
		c.InputDir,
		c.OutputDir,
		c.InputArchiveDir,
		c.OutputArchiveDir,
		c.ProfilesDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// applyMainConfigDefaults sets default values for any unset configuration options.
func applyMainConfigDefaults(config *MainConfig) {
	if config.InputDir == "" {
		config.InputDir = "./input"
	}
	if config.OutputDir == "" {
		config.OutputDir = "./output"
	}
	if config.InputArchiveDir == "" {
		config.InputArchiveDir = "./input_archive"
	}
	if config.OutputArchiveDir == "" {
		config.OutputArchiveDir = "./output_archive"
	}
	if config.ProfilesDir == "" {
		config.ProfilesDir = "./profiles"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogFormat == "" {
		config.LogFormat = "text"
	}
	if len(config.FilePatterns) == 0 {
		config.FilePatterns = []string{"*.xlsx", "*.xls", "*.csv"}
	}
	if config.OutputNameFormat == "" {
		config.OutputNameFormat = "merged_{period}_{timestamp}"
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 4
	}

	// Residuals
	if config.Residuals.OfficeFeePercentage == 0 {
		config.Residuals.OfficeFeePercentage = 0.10
	}
	if config.Residuals.EquipmentRecoveryRate == 0 {
		config.Residuals.EquipmentRecoveryRate = 0.05
	}

	// Analytics
	if config.Analytics.TopMerchants == 0 {
		config.Analytics.TopMerchants = 25
	}
	if config.Analytics.TopAgents == 0 {
		config.Analytics.TopAgents = 10
	}
	if config.Analytics.OutlierThreshold == 0 {
		config.Analytics.OutlierThreshold = 2.0
	}
	if config.Analytics.ForecastMonths == 0 {
		config.Analytics.ForecastMonths = 3
	}

	// Database
	if config.Database.Path == "" {
		config.Database.Path = "./data/analytics.db"
	}

	// CRM
	if config.CRM.BaseURL == "" {
		config.CRM.BaseURL = "https://crm.ireland-pay.com/api/v1"
	}
	if config.CRM.TimeoutSeconds == 0 {
		config.CRM.TimeoutSeconds = 30
	}
	if config.CRM.MaxRetries == 0 {
		config.CRM.MaxRetries = 3
	}
	if config.CRM.BackoffBaseMS == 0 {
		config.CRM.BackoffBaseMS = 1000
	}
	if config.CRM.CircuitMaxFailures == 0 {
		config.CRM.CircuitMaxFailures = 5
	}
	if config.CRM.CircuitResetSeconds == 0 {
		config.CRM.CircuitResetSeconds = 60
	}
	if config.CRM.PerPage == 0 {
		config.CRM.PerPage = 100
	}

	// Server
	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report yaml names so messages match the config file.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return v
}

// ValidateStruct validates v against its `validate` tags and flattens the
// failures into one readable error.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	// Drop the root struct name: "MainConfig.crm.base_url" -> "crm.base_url"
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fmt.Sprint(fe.Value()))
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	default:
		return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
	}
}
