package syncqueue

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config holds queue limits and retry policy.
type Config struct {
	// Capacity is the pending row ceiling. It is a soft limit: concurrent
	// enqueuers may overshoot it by their number minus one.
	Capacity int
	// WarnRatio is the pending share of Capacity above which Enqueue warns.
	WarnRatio float64
	// MaxAttempts failed replays turn a row into failed.
	MaxAttempts int
	// BaseDelay is multiplied by 2^attempts to schedule the next replay.
	BaseDelay time.Duration
	// BatchSize is the default Drain batch.
	BatchSize int
	// Retention is how long completed rows are kept.
	Retention time.Duration
	// Lease holds a claimed row back from other drains while it is replayed.
	// It must outlast one replay including its retries.
	Lease time.Duration
}

// DefaultConfig returns the engine defaults: 1000 rows, warn at 80%, five
// attempts with 2^n minute backoff, batches of 10, 7 days retention and a
// five minute replay lease.
func DefaultConfig() Config {
	return Config{
		Capacity:    1000,
		WarnRatio:   0.8,
		MaxAttempts: 5,
		BaseDelay:   time.Minute,
		BatchSize:   10,
		Retention:   7 * 24 * time.Hour,
		Lease:       5 * time.Minute,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.WarnRatio, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.BaseDelay, validation.Required),
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.Retention, validation.Required),
		validation.Field(&c.Lease, validation.Required),
	)
}

// Backoff returns the delay before the next replay after attempts failures.
func (c Config) Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	return c.BaseDelay * time.Duration(1<<uint(attempts))
}
