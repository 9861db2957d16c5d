package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/merchant-analytics/internal/types"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadMainConfigDefaults(t *testing.T) {
	cfg, err := LoadMainConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "./input", cfg.InputDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.True(t, cfg.ContinueOnError)
	assert.Equal(t, 0.10, cfg.Residuals.OfficeFeePercentage)
	assert.Equal(t, 0.05, cfg.Residuals.EquipmentRecoveryRate)
	assert.Equal(t, 25, cfg.Analytics.TopMerchants)
	assert.Equal(t, 10, cfg.Analytics.TopAgents)
	assert.Equal(t, "https://crm.ireland-pay.com/api/v1", cfg.CRM.BaseURL)
	assert.Equal(t, 3, cfg.CRM.MaxRetries)
	assert.Equal(t, 100, cfg.CRM.PerPage)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadMainConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
input_dir: ./exports
log_level: debug
max_concurrency: 2
continue_on_error: false
residuals:
  office_fee_percentage: 0.2
analytics:
  top_merchants: 5
crm:
  per_page: 50
`)

	cfg, err := LoadMainConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "./exports", cfg.InputDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2, cfg.MaxConcurrency)
	assert.False(t, cfg.ContinueOnError)
	assert.Equal(t, 0.2, cfg.Residuals.OfficeFeePercentage)
	assert.Equal(t, 0.05, cfg.Residuals.EquipmentRecoveryRate)
	assert.Equal(t, 5, cfg.Analytics.TopMerchants)
	assert.Equal(t, 50, cfg.CRM.PerPage)
}

func TestLoadMainConfigEnvOverrides(t *testing.T) {
	t.Setenv("IRELANDPAY_API_KEY", "secret")
	t.Setenv("IRELANDPAY_MAX_RETRIES", "5")
	t.Setenv("IRELANDPAY_OFFICE_FEE_PERCENTAGE", "0.15")
	t.Setenv("IRELANDPAY_EMAIL_RECIPIENTS", "ops@example.com,cfo@example.com")

	cfg, err := LoadMainConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.CRM.APIKey)
	assert.Equal(t, 5, cfg.CRM.MaxRetries)
	assert.Equal(t, 0.15, cfg.Residuals.OfficeFeePercentage)
	assert.Equal(t, []string{"ops@example.com", "cfo@example.com"}, cfg.Notify.Recipients)
}

func TestLoadMainConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad level", "log_level: loud\n", "log_level"},
		{"bad fee", "residuals:\n  office_fee_percentage: 1.5\n", "residuals.office_fee_percentage"},
		{"bad url", "crm:\n  base_url: not a url\n", "crm.base_url"},
		{"bad email", "notify:\n  recipients: [nobody]\n", "notify.recipients"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tt.content)
			_, err := LoadMainConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMainConfigMalformedYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "input_dir: [unterminated\n")
	_, err := LoadMainConfig(path)
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, ".env", "IRELANDPAY_TEST_DOTENV=from-file\n")

	require.NoError(t, LoadDotEnv(path))
	t.Cleanup(func() { os.Unsetenv("IRELANDPAY_TEST_DOTENV") })
	assert.Equal(t, "from-file", os.Getenv("IRELANDPAY_TEST_DOTENV"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env")))
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultMainConfig()
	cfg.InputDir = filepath.Join(root, "in")
	cfg.OutputDir = filepath.Join(root, "out")
	cfg.InputArchiveDir = filepath.Join(root, "in_archive")
	cfg.OutputArchiveDir = filepath.Join(root, "out_archive")
	cfg.ProfilesDir = filepath.Join(root, "profiles")

	require.NoError(t, cfg.EnsureDirectories())
	for _, dir := range []string{cfg.InputDir, cfg.OutputDir, cfg.InputArchiveDir, cfg.OutputArchiveDir, cfg.ProfilesDir} {
		assert.DirExists(t, dir)
	}
}

func TestNotifyEnabled(t *testing.T) {
	n := NotifyConfig{}
	assert.False(t, n.EmailEnabled())
	assert.False(t, n.SlackEnabled())

	n = NotifyConfig{MailgunDomain: "mg.example.com", MailgunAPIKey: "key", Sender: "a@example.com", SlackWebhookURL: "https://hooks.slack.com/x"}
	assert.True(t, n.EmailEnabled())
	assert.True(t, n.SlackEnabled())
}

func TestLoadSourceProfiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b_tsys.yaml", `
name: TSYS Residuals
file_matching_patterns: ["tsys_residual*.xlsx"]
kind: residual
header_row: 3
column_synonyms:
  - alias: net rev
    canonical: net_profit
transformation_rules:
  - field: mid
    actions:
      - type: pad_zeros_to_length
        value: "12"
`)
	writeFile(t, dir, "a_volume.yml", `
file_matching_patterns: ["*volume*"]
csv_settings:
  delimiter: "|"
  header_rows: 2
`)
	writeFile(t, dir, "notes.txt", "ignored")

	profiles, err := LoadSourceProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	volume := profiles[0]
	assert.Equal(t, "a_volume", volume.Name)
	assert.Empty(t, volume.Kind)
	assert.Equal(t, "|", volume.CSVSettings.Delimiter)
	assert.Equal(t, 3, volume.CSVSettings.DataStartRow)

	tsys := profiles[1]
	assert.Equal(t, "TSYS Residuals", tsys.Name)
	assert.Equal(t, types.KindResidual, tsys.Kind)
	assert.Equal(t, 3, tsys.HeaderRow)
	assert.Equal(t, ",", tsys.CSVSettings.Delimiter)
	require.Len(t, tsys.ColumnSynonyms, 1)
	assert.Equal(t, "net_profit", tsys.ColumnSynonyms[0].Canonical)
	require.Len(t, tsys.TransformationRules, 1)
	assert.Equal(t, "12", tsys.TransformationRules[0].Actions[0].Value)
}

func TestLoadSourceProfilesInvalid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", "name: Bad\nkind: ledger\nfile_matching_patterns: [\"*\"]\n")

	_, err := LoadSourceProfiles(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kind")
}

func TestMatchProfile(t *testing.T) {
	profiles := []*SourceProfile{
		{Name: "volume", FileMatchingPatterns: []string{"*volume*"}},
		{Name: "residual", FileMatchingPatterns: []string{"tsys_residual*.xlsx", "*residual*.csv"}},
	}

	assert.Equal(t, "volume", MatchProfile("/in/Merchant_Volume_2024-03.xlsx", profiles).Name)
	assert.Equal(t, "residual", MatchProfile("TSYS_Residual_2024_03.xlsx", profiles).Name)
	assert.Equal(t, "residual", MatchProfile("agent_residuals.csv", profiles).Name)
	assert.Nil(t, MatchProfile("ledger.xlsx", profiles))
	assert.Nil(t, MatchProfile("ledger.xlsx", nil))
}
