// Package config loads application configuration from file and environment.
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
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Sources  SourcesConfig  `yaml:"sources" mapstructure:"sources"`
	Criteria CriteriaConfig `yaml:"criteria" mapstructure:"criteria"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	// Driver selects the criterion value store backend: "postgres" or "sqlite".
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	// CacheMaxAgeSecs controls the Cache-Control max-age on viewport responses.
	CacheMaxAgeSecs int `yaml:"cache_max_age_secs" mapstructure:"cache_max_age_secs"`
}

// IngestConfig configures the criterion ingestion pipeline.
type IngestConfig struct {
	// BatchSize is the number of criterion values upserted per batch.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
	// QueryChunk is the max number of territory codes per enrichment query.
	QueryChunk int `yaml:"query_chunk" mapstructure:"query_chunk"`
	// MapWorkers is the parallelism of the nearest-station mapper.
	MapWorkers int `yaml:"map_workers" mapstructure:"map_workers"`
	// MaxRetries bounds source fetch retries.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
}

// SourcesConfig holds external open-data source settings.
type SourcesConfig struct {
	UserAgent string    `yaml:"user_agent" mapstructure:"user_agent"`
	FTP       FTPConfig `yaml:"ftp" mapstructure:"ftp"`
}

// FTPConfig configures the climate-archive FTP source.
type FTPConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
}

// CriteriaConfig configures the criterion registry.
type CriteriaConfig struct {
	// SeedFile is a YAML file used to bootstrap criterion metadata.
	SeedFile string `yaml:"seed_file" mapstructure:"seed_file"`
	// CacheTTLSecs is the registry cache TTL; 0 disables expiry.
	CacheTTLSecs int `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
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
	v.SetEnvPrefix("TERRITORIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "territoria.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.cache_max_age_secs", 300)
	v.SetDefault("ingest.batch_size", 500)
	v.SetDefault("ingest.query_chunk", 500)
	v.SetDefault("ingest.map_workers", 4)
	v.SetDefault("ingest.max_retries", 5)
	v.SetDefault("sources.user_agent", "territoria/1.0")
	v.SetDefault("criteria.seed_file", "criteria.yaml")
	v.SetDefault("criteria.cache_ttl_secs", 600)
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
