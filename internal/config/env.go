// =============================================================================
// Merchant Analytics - Environment Overrides
// =============================================================================
//
// Loads .env when present, then applies IRELANDPAY_* variables on top of
// the YAML configuration.
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "IRELANDPAY"

// EnvOverrides are the IRELANDPAY_* variables. Pointer fields stay nil when
// the variable is unset so that zero values can still be set explicitly.
type EnvOverrides struct {
	APIKey              string   `envconfig:"API_KEY"`
	BaseURL             string   `envconfig:"BASE_URL"`
	MaxRetries          *int     `envconfig:"MAX_RETRIES"`
	BackoffBaseMS       *int     `envconfig:"BACKOFF_BASE_MS"`
	TimeoutSeconds      *int     `envconfig:"TIMEOUT_SECONDS"`
	CircuitMaxFailures  *int     `envconfig:"CIRCUIT_MAX_FAILURES"`
	CircuitResetSeconds *int     `envconfig:"CIRCUIT_RESET_SECONDS"`
	RequestsPerSecond   *float64 `envconfig:"REQUESTS_PER_SECOND"`

	DatabasePath string `envconfig:"DATABASE_PATH"`

	MailgunDomain   string   `envconfig:"MAILGUN_DOMAIN"`
	MailgunAPIKey   string   `envconfig:"MAILGUN_API_KEY"`
	EmailSender     string   `envconfig:"EMAIL_SENDER"`
	EmailRecipients []string `envconfig:"EMAIL_RECIPIENTS"`
	SlackWebhookURL string   `envconfig:"SLACK_WEBHOOK_URL"`

	LogLevel  string `envconfig:"LOG_LEVEL"`
	LogFormat string `envconfig:"LOG_FORMAT"`

	OfficeFeePercentage   *float64 `envconfig:"OFFICE_FEE_PERCENTAGE"`
	EquipmentRecoveryRate *float64 `envconfig:"EQUIPMENT_RECOVERY_RATE"`

	ServerAddr string `envconfig:"SERVER_ADDR"`
}

// LoadDotEnv loads variables from path when the file exists. Variables that
// are already set in the process environment are not replaced.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnvOverrides reads IRELANDPAY_* variables into config.
func ApplyEnvOverrides(config *MainConfig) error {
	var env EnvOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to load config from env: %w", err)
	}
	env.apply(config)
	return nil
}

func (e *EnvOverrides) apply(c *MainConfig) {
	setString(&c.CRM.APIKey, e.APIKey)
	setString(&c.CRM.BaseURL, e.BaseURL)
	setInt(&c.CRM.MaxRetries, e.MaxRetries)
	setInt(&c.CRM.BackoffBaseMS, e.BackoffBaseMS)
	setInt(&c.CRM.TimeoutSeconds, e.TimeoutSeconds)
	setInt(&c.CRM.CircuitMaxFailures, e.CircuitMaxFailures)
	setInt(&c.CRM.CircuitResetSeconds, e.CircuitResetSeconds)
	setFloat(&c.CRM.RequestsPerSecond, e.RequestsPerSecond)

	setString(&c.Database.Path, e.DatabasePath)

	setString(&c.Notify.MailgunDomain, e.MailgunDomain)
	setString(&c.Notify.MailgunAPIKey, e.MailgunAPIKey)
	setString(&c.Notify.Sender, e.EmailSender)
	if len(e.EmailRecipients) > 0 {
		c.Notify.Recipients = e.EmailRecipients
	}
	setString(&c.Notify.SlackWebhookURL, e.SlackWebhookURL)

	setString(&c.LogLevel, e.LogLevel)
	setString(&c.LogFormat, e.LogFormat)

	setFloat(&c.Residuals.OfficeFeePercentage, e.OfficeFeePercentage)
	setFloat(&c.Residuals.EquipmentRecoveryRate, e.EquipmentRecoveryRate)

	setString(&c.Server.Addr, e.ServerAddr)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
