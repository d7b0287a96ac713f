package cacheinfra

import (
	"time"

	"github.com/viccon/sturdyc"
)

// Config holds the sizing options shared by every TTL bucket of the store.
type Config struct {
	// Capacity is the maximum number of entries per TTL bucket.
	Capacity int

	// NumShards is the number of sturdyc shards per bucket. Default: 64
	NumShards int

	// EvictionPercentage is the share of entries dropped when a bucket fills up (1-100).
	EvictionPercentage int

	// EvictionInterval sets how often expired entries are reclaimed. Zero keeps
	// the sturdyc default.
	EvictionInterval time.Duration

	// Granularity rounds entry TTLs so that close values share a bucket.
	// Default: one second.
	Granularity time.Duration
}

// DefaultConfig returns a Config sized for a single device.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          64,
		EvictionPercentage: 10,
		Granularity:        time.Second,
	}
}

func (c Config) sturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate checks if the configuration values are usable.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.NumShards > c.Capacity {
		return &ConfigError{Field: "NumShards", Message: "must not exceed Capacity"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}

	if c.Granularity < 0 {
		return &ConfigError{Field: "Granularity", Message: "must be non-negative"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}
