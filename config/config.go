// Package config loads the process configuration from offline-sync.yaml and
// OFFLINE_SYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/goliatone/go-offline-sync/internal/storage"
)

// Config is the runtime configuration of the engine.
type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	API          APIConfig          `mapstructure:"api"`
	Metadata     MetadataConfig     `mapstructure:"metadata"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Upload       UploadConfig       `mapstructure:"upload"`
	Maintenance  MaintenanceConfig  `mapstructure:"maintenance"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the status server of offline-syncd.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the durable store.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// APIConfig points at the application backend.
type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxTries   uint          `mapstructure:"max_tries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// MetadataConfig points at the movie metadata API.
type MetadataConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
	Locale  string `mapstructure:"locale"`
}

// ConnectivityConfig configures the oracle and its probe.
type ConnectivityConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	Endpoints    []string      `mapstructure:"endpoints"`
}

// CacheConfig sizes the fast cache.
type CacheConfig struct {
	Capacity           int           `mapstructure:"capacity"`
	NumShards          int           `mapstructure:"num_shards"`
	EvictionPercentage int           `mapstructure:"eviction_percentage"`
	EvictionInterval   time.Duration `mapstructure:"eviction_interval"`
}

// QueueConfig holds queue limits and retry policy.
type QueueConfig struct {
	Capacity    int           `mapstructure:"capacity"`
	WarnRatio   float64       `mapstructure:"warn_ratio"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	BatchSize   int           `mapstructure:"batch_size"`
	Retention   time.Duration `mapstructure:"retention"`
	Lease       time.Duration `mapstructure:"lease"`
}

// UploadConfig limits uploads.
type UploadConfig struct {
	MaxBytes   int64    `mapstructure:"max_bytes"`
	Types      []string `mapstructure:"types"`
	Extensions []string `mapstructure:"extensions"`
}

// MaintenanceConfig schedules the background jobs.
type MaintenanceConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	BudgetBytes          int64         `mapstructure:"budget_bytes"`
	JobTimeout           time.Duration `mapstructure:"job_timeout"`
	ConnectivitySchedule string        `mapstructure:"connectivity_schedule"`
	SyncSchedule         string        `mapstructure:"sync_schedule"`
	HousekeepingSchedule string        `mapstructure:"housekeeping_schedule"`
	PrewarmSchedule      string        `mapstructure:"prewarm_schedule"`
}

// Load reads offline-sync.yaml from the working directory, ./config and
// paths, then applies OFFLINE_SYNC_* overrides. A missing file is not an
// error.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("offline-sync")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("OFFLINE_SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration Load produces without file or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg, decodeHook())
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("server.address", ":8089")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", storage.DriverSQLite)
	v.SetDefault("database.dsn", storage.DefaultConfig().DSN)
	v.SetDefault("database.max_open_conns", 1)

	v.SetDefault("api.base_url", "http://localhost:8000/api")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", "10s")
	v.SetDefault("api.max_tries", 3)
	v.SetDefault("api.retry_delay", "100ms")

	v.SetDefault("metadata.base_url", "https://api.themoviedb.org/3")
	v.SetDefault("metadata.token", "")
	v.SetDefault("metadata.locale", "en")

	v.SetDefault("connectivity.ttl", "30s")
	v.SetDefault("connectivity.probe_timeout", "3s")
	v.SetDefault("connectivity.endpoints", []string{
		"http://localhost:8000/api/health",
		"https://api.themoviedb.org/3/configuration",
		"https://www.google.com",
	})

	v.SetDefault("cache.capacity", 10000)
	v.SetDefault("cache.num_shards", 64)
	v.SetDefault("cache.eviction_percentage", 10)
	v.SetDefault("cache.eviction_interval", "0s")

	v.SetDefault("queue.capacity", 1000)
	v.SetDefault("queue.warn_ratio", 0.8)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.base_delay", "1m")
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.retention", "168h") // 7 days
	v.SetDefault("queue.lease", "5m")

	v.SetDefault("upload.max_bytes", 5*1024*1024)
	v.SetDefault("upload.types", []string{"image/jpeg", "image/png", "image/gif", "image/webp"})
	v.SetDefault("upload.extensions", []string{"jpg", "jpeg", "png", "gif", "webp"})

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.budget_bytes", 100*1024*1024)
	v.SetDefault("maintenance.job_timeout", "5m")
	v.SetDefault("maintenance.connectivity_schedule", "@every 1m")
	v.SetDefault("maintenance.sync_schedule", "@every 5m")
	v.SetDefault("maintenance.housekeeping_schedule", "0 3 * * *")
	v.SetDefault("maintenance.prewarm_schedule", "0 */3 * * *")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate checks the values the engine cannot start without.
func (c Config) Validate() error {
	return validation.Errors{
		"log":         c.Log.validate(),
		"database":    c.Database.validate(),
		"api":         c.API.validate(),
		"metadata":    validation.ValidateStruct(&c.Metadata, validation.Field(&c.Metadata.BaseURL, validation.Required)),
		"queue":       c.Queue.validate(),
		"upload":      validation.ValidateStruct(&c.Upload, validation.Field(&c.Upload.MaxBytes, validation.Required, validation.Min(int64(1)))),
		"maintenance": validation.ValidateStruct(&c.Maintenance, validation.Field(&c.Maintenance.BudgetBytes, validation.Min(int64(0)))),
	}.Filter()
}

func (c LogConfig) validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Format, validation.In("json", "console")),
	)
}

func (c DatabaseConfig) validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In(storage.DriverSQLite, storage.DriverPostgres)),
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.MaxOpenConns, validation.Min(0)),
	)
}

func (c APIConfig) validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseURL, validation.Required),
		validation.Field(&c.Timeout, validation.Required),
	)
}

func (c QueueConfig) validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.WarnRatio, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
	)
}
