package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store StoreConfig `yaml:"store" mapstructure:"store"`
	FRED  FREDConfig  `yaml:"fred" mapstructure:"fred"`
	Sync  SyncConfig  `yaml:"sync" mapstructure:"sync"`
	Log   LogConfig   `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the catalog database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// FREDConfig holds FRED API settings.
type FREDConfig struct {
	Key               string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// SyncConfig configures the indicator sync pipeline.
type SyncConfig struct {
	ExcelPath        string `yaml:"excel_path" mapstructure:"excel_path"`
	SheetName        string `yaml:"sheet_name" mapstructure:"sheet_name"`
	DefaultStartDate string `yaml:"default_start_date" mapstructure:"default_start_date"`
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
	v.SetEnvPrefix("INDICATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "fomc_data.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("fred.api_key", "")
	v.SetDefault("fred.base_url", "https://api.stlouisfed.org")
	v.SetDefault("fred.requests_per_minute", 30)
	v.SetDefault("sync.excel_path", "docs/US Economic Indicators with FRED Codes.xlsx")
	v.SetDefault("sync.sheet_name", "Sheet1")
	v.SetDefault("sync.default_start_date", "2010-01-01")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
