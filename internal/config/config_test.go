package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "projtrack.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 180, cfg.Resolve.TimeWindowDays)
	assert.True(t, cfg.Resolve.AttachExisting)
	assert.InDelta(t, 0.75, cfg.Status.NeutralRecencyWeight, 0.001)
	assert.Equal(t, 55, cfg.Batch.BudgetSecs)
	assert.Equal(t, 55*time.Second, cfg.Batch.Budget())
	assert.Equal(t, 50, cfg.Batch.ResolveCheckEvery)
	assert.Equal(t, 25, cfg.Batch.InferCheckEvery)
	assert.Equal(t, 10, cfg.Batch.BackfillCheckEvery)
	assert.Equal(t, 3, cfg.Batch.RetryAttempts)
	assert.Equal(t, 1, cfg.Extract.Burst)
	assert.Empty(t, cfg.Metrics.Textfile)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/projtrack
log:
  level: debug
  format: console
resolve:
  time_window_days: 90
  attach_existing: false
batch:
  budget_secs: 20
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 90, cfg.Resolve.TimeWindowDays)
	assert.False(t, cfg.Resolve.AttachExisting)
	assert.Equal(t, 20, cfg.Batch.BudgetSecs)
	// Defaults still apply for unset values
	assert.Equal(t, 25, cfg.Batch.InferCheckEvery)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PROJTRACK_STORE_DRIVER", "sqlite")
	t.Setenv("PROJTRACK_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("PROJTRACK_BATCH_BUDGET_SECS", "30")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Batch.BudgetSecs)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unterminated"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Resolve.TimeWindowDays = 180
	cfg.Status.NeutralRecencyWeight = 0.75
	cfg.Batch.BudgetSecs = 55
	cfg.Batch.ResolveCheckEvery = 50
	cfg.Batch.InferCheckEvery = 25
	cfg.Batch.BackfillCheckEvery = 10
	cfg.Batch.RetryAttempts = 3
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, validDefaults().Validate())
}

func TestValidate_PostgresNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/projtrack"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Resolve.TimeWindowDays = -1
	cfg.Status.NeutralRecencyWeight = 0.2
	cfg.Batch.BudgetSecs = 0
	cfg.Batch.InferCheckEvery = 0
	cfg.Batch.RetryAttempts = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "store.driver")
	assert.Contains(t, msg, "time_window_days")
	assert.Contains(t, msg, "neutral_recency_weight")
	assert.Contains(t, msg, "budget_secs")
	assert.Contains(t, msg, "infer_check_every")
	assert.Contains(t, msg, "retry_attempts")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
