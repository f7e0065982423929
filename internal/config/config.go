package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Resolve ResolveConfig `yaml:"resolve" mapstructure:"resolve"`
	Status  StatusConfig  `yaml:"status" mapstructure:"status"`
	Batch   BatchConfig   `yaml:"batch" mapstructure:"batch"`
	Extract ExtractConfig `yaml:"extract" mapstructure:"extract"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ResolveConfig configures the entity resolver.
type ResolveConfig struct {
	TimeWindowDays int  `yaml:"time_window_days" mapstructure:"time_window_days"`
	AttachExisting bool `yaml:"attach_existing" mapstructure:"attach_existing"`
}

// StatusConfig configures the status inference engine.
type StatusConfig struct {
	PatternsFile         string  `yaml:"patterns_file" mapstructure:"patterns_file"`
	NeutralRecencyWeight float64 `yaml:"neutral_recency_weight" mapstructure:"neutral_recency_weight"`
}

// BatchConfig configures the time-boxed batch runner.
type BatchConfig struct {
	BudgetSecs         int `yaml:"budget_secs" mapstructure:"budget_secs"`
	ResolveCheckEvery  int `yaml:"resolve_check_every" mapstructure:"resolve_check_every"`
	InferCheckEvery    int `yaml:"infer_check_every" mapstructure:"infer_check_every"`
	BackfillCheckEvery int `yaml:"backfill_check_every" mapstructure:"backfill_check_every"`
	RetryAttempts      int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// Budget returns the wall-clock budget as a duration.
func (b BatchConfig) Budget() time.Duration {
	return time.Duration(b.BudgetSecs) * time.Second
}

// ExtractConfig configures the card extractor used by backfills.
type ExtractConfig struct {
	CardsFile  string  `yaml:"cards_file" mapstructure:"cards_file"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst      int     `yaml:"burst" mapstructure:"burst"`
}

// MetricsConfig configures metric export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROJTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "projtrack.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("resolve.time_window_days", 180)
	v.SetDefault("resolve.attach_existing", true)
	v.SetDefault("status.neutral_recency_weight", 0.75)
	v.SetDefault("batch.budget_secs", 55)
	v.SetDefault("batch.resolve_check_every", 50)
	v.SetDefault("batch.infer_check_every", 25)
	v.SetDefault("batch.backfill_check_every", 10)
	v.SetDefault("batch.retry_attempts", 3)
	v.SetDefault("extract.burst", 1)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres")
	}
	if c.Resolve.TimeWindowDays < 0 {
		errs = append(errs, "resolve.time_window_days must be >= 0")
	}
	if w := c.Status.NeutralRecencyWeight; w < 0.5 || w > 1 {
		errs = append(errs, "status.neutral_recency_weight must be between 0.5 and 1")
	}
	if c.Batch.BudgetSecs <= 0 {
		errs = append(errs, "batch.budget_secs must be > 0")
	}
	for name, n := range map[string]int{
		"batch.resolve_check_every":  c.Batch.ResolveCheckEvery,
		"batch.infer_check_every":    c.Batch.InferCheckEvery,
		"batch.backfill_check_every": c.Batch.BackfillCheckEvery,
	} {
		if n < 1 || n > 1000 {
			errs = append(errs, fmt.Sprintf("%s must be between 1 and 1000", name))
		}
	}
	if c.Batch.RetryAttempts < 1 {
		errs = append(errs, "batch.retry_attempts must be >= 1")
	}
	if c.Extract.RatePerSec < 0 {
		errs = append(errs, "extract.rate_per_sec must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
