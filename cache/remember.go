package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RememberOption tunes a single Remember call.
type RememberOption func(*rememberOptions)

type rememberOptions struct {
	ttl time.Duration
}

// WithTTL overrides the category TTL.
func WithTTL(ttl time.Duration) RememberOption {
	return func(o *rememberOptions) { o.ttl = ttl }
}

// Remember returns the value cached under key, computing it with fetch on a
// miss. A fetch failure, or being offline, falls back to the backup store;
// only when that misses too does Remember return an error (code
// NO_OFFLINE_DATA).
//
// fetch is never retried by the cache and concurrent misses on the same key
// each call it.
func Remember[T any](ctx context.Context, s *Service, key string, category Category, fetch FetchFn[T], opts ...RememberOption) (T, error) {
	o := rememberOptions{ttl: category.TTL()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = category.TTL()
	}

	if cached, ok := s.store.Get(ctx, key); ok {
		if value, ok := cached.(T); ok {
			s.hit(ctx, key, category)
			return value, nil
		}
		s.logger.Debug("cached value has unexpected type, refetching", zap.String("key", key))
	}

	var cause error
	if s.online(ctx) {
		s.metrics.CacheLookups.WithLabelValues(category.String(), "miss").Inc()
		value, err := fetch(ctx)
		if err == nil {
			s.save(ctx, key, category, value, o.ttl)
			return value, nil
		}
		s.logger.Warn("fetch failed, trying offline backup", zap.String("key", key), zap.Error(err))
		cause = err
	}

	var restored T
	if err := s.restore(ctx, key, category, cause, &restored); err != nil {
		var zero T
		return zero, err
	}
	return restored, nil
}
