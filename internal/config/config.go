// Package config loads application configuration from config.yaml and
// RADAR_-prefixed environment variables.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. It is constructed once at
// startup and passed by reference; nothing re-reads configuration during a run.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	OWS     OWSConfig     `yaml:"ows" mapstructure:"ows"`
	Ingest  IngestConfig  `yaml:"ingest" mapstructure:"ingest"`
	Scoring ScoringConfig `yaml:"scoring" mapstructure:"scoring"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// OWSConfig holds credentials and tuning for the procurement data API.
type OWSConfig struct {
	BaseURL        string        `yaml:"base_url" mapstructure:"base_url"`
	Token          string        `yaml:"token" mapstructure:"token"`
	RateLimitDelay time.Duration `yaml:"rate_limit_delay" mapstructure:"rate_limit_delay"`
	MaxRetries     int           `yaml:"max_retries" mapstructure:"max_retries"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	PageSize       int           `yaml:"page_size" mapstructure:"page_size"`
}

// IngestConfig configures the backfill and incremental orchestrators.
type IngestConfig struct {
	BackfillDateFrom string `yaml:"backfill_date_from" mapstructure:"backfill_date_from"`
	BackfillDateTo   string `yaml:"backfill_date_to" mapstructure:"backfill_date_to"`
	WithSubjects     bool   `yaml:"with_subjects" mapstructure:"with_subjects"`
}

// ScoringConfig holds the indicator weight table and severity thresholds.
type ScoringConfig struct {
	// Weights maps indicator code to its contribution to the raw score.
	// Empty means "use defaults" (filled in by risk.DefaultWeights).
	Weights map[string]float64 `yaml:"weights" mapstructure:"weights"`

	// LowMax and MediumMax bound the LOW and MEDIUM severity bands on the
	// normalized 0-100 score.
	LowMax    float64 `yaml:"low_max" mapstructure:"low_max"`
	MediumMax float64 `yaml:"medium_max" mapstructure:"medium_max"`

	// MaxLots bounds a single batch recompute over all lots.
	MaxLots int `yaml:"max_lots" mapstructure:"max_lots"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("ows.base_url", "https://ows.goszakup.gov.kz")
	v.SetDefault("ows.token", "")
	v.SetDefault("store.database_url", "")
	v.SetDefault("ows.rate_limit_delay", "500ms")
	v.SetDefault("ows.max_retries", 3)
	v.SetDefault("ows.timeout", "30s")
	v.SetDefault("ows.page_size", 50)
	v.SetDefault("ingest.backfill_date_from", "2024-01-01")
	v.SetDefault("ingest.backfill_date_to", "2025-12-31")
	v.SetDefault("ingest.with_subjects", false)
	v.SetDefault("scoring.low_max", 30)
	v.SetDefault("scoring.medium_max", 60)
	v.SetDefault("scoring.max_lots", 10000)

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
