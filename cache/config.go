package cache

import (
	"time"

	"github.com/goliatone/go-offline-sync/internal/cacheinfra"
)

var _ Store = (*cacheinfra.SturdycStore)(nil)

// Config exposes fast store sizing to consumers of the cache package.
type Config struct {
	Capacity           int
	NumShards          int
	EvictionPercentage int
	EvictionInterval   time.Duration
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// NewStore constructs the default sturdyc backed Store.
func NewStore(cfg Config) (Store, error) {
	return cacheinfra.NewSturdycStore(cfg.toInternal())
}

func (c Config) toInternal() cacheinfra.Config {
	internal := cacheinfra.DefaultConfig()
	internal.Capacity = c.Capacity
	internal.NumShards = c.NumShards
	internal.EvictionPercentage = c.EvictionPercentage
	internal.EvictionInterval = c.EvictionInterval
	return internal
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
