package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/internal/apperr"
	"github.com/goliatone/go-offline-sync/internal/logging"
	"github.com/goliatone/go-offline-sync/internal/metrics"
)

// Store is the fast key/value cache with per entry TTL.
type Store interface {
	Get(ctx context.Context, key string) (any, bool)
	Put(ctx context.Context, key string, value any, ttl time.Duration) error
	Forget(ctx context.Context, key string) error
	ForgetMatching(ctx context.Context, pattern string) (int, error)
	Flush(ctx context.Context) error
}

// BackupStore keeps the last good payload per key for offline reads.
type BackupStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key, category string, payload []byte, ttl time.Duration) error
}

// AccessRecorder counts cache hits for eviction ranking.
type AccessRecorder interface {
	RecordAccess(ctx context.Context, key string) error
}

// Oracle reports connectivity.
type Oracle interface {
	IsOnline(ctx context.Context) bool
}

// FetchFn computes a value from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// Service is the remember-cache: fast store first, then the fetch function
// when online, then the backup store.
type Service struct {
	store   Store
	backup  BackupStore
	access  AccessRecorder
	oracle  Oracle
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithBackup enables offline fallback and write-through persistence.
func WithBackup(b BackupStore) Option { return func(s *Service) { s.backup = b } }

// WithAccessRecorder enables hit analytics.
func WithAccessRecorder(r AccessRecorder) Option { return func(s *Service) { s.access = r } }

// WithOracle sets the connectivity source. Without one the service assumes online.
func WithOracle(o Oracle) Option { return func(s *Service) { s.oracle = o } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// NewService builds a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.WithModule(s.logger, "cache")
	s.metrics = metrics.OrNop(s.metrics)
	return s
}

// Store exposes the fast store for invalidation.
func (s *Service) Store() Store { return s.store }

// Has reports whether key is live in the fast store.
func (s *Service) Has(ctx context.Context, key string) bool {
	_, ok := s.store.Get(ctx, key)
	return ok
}

// Peek returns the cached value for key without touching analytics.
func (s *Service) Peek(ctx context.Context, key string) (any, bool) {
	return s.store.Get(ctx, key)
}

// Forget removes key from the fast store.
func (s *Service) Forget(ctx context.Context, key string) error {
	return s.store.Forget(ctx, key)
}

func (s *Service) online(ctx context.Context) bool {
	return s.oracle == nil || s.oracle.IsOnline(ctx)
}

func (s *Service) hit(ctx context.Context, key string, category Category) {
	s.metrics.CacheLookups.WithLabelValues(category.String(), "hit").Inc()
	if s.access == nil {
		return
	}
	if err := s.access.RecordAccess(ctx, key); err != nil {
		s.logger.Debug("record access failed", zap.String("key", key), zap.Error(err))
	}
}

// save writes the fast entry first, then the backup record. The backup
// always keeps the category horizon, a per-call ttl only shortens the fast
// entry.
func (s *Service) save(ctx context.Context, key string, category Category, value any, ttl time.Duration) {
	if err := s.store.Put(ctx, key, value, ttl); err != nil {
		s.logger.Warn("cache put failed", zap.String("key", key), zap.Error(err))
		return
	}
	if s.backup == nil {
		return
	}

	payload, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("value is not serializable, backup skipped",
			zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.backup.Put(ctx, key, category.String(), payload, category.TTL()); err != nil {
		s.logger.Warn("backup put failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) restore(ctx context.Context, key string, category Category, cause error, into any) error {
	if s.backup == nil {
		s.metrics.CacheLookups.WithLabelValues(category.String(), "fail").Inc()
		return apperr.NoOfflineData(key, cause)
	}

	payload, found, err := s.backup.Get(ctx, key)
	if err != nil {
		s.logger.Warn("backup lookup failed", zap.String("key", key), zap.Error(err))
		if cause == nil {
			cause = err
		}
		found = false
	}
	if !found {
		s.metrics.CacheLookups.WithLabelValues(category.String(), "fail").Inc()
		return apperr.NoOfflineData(key, cause)
	}

	if err := json.Unmarshal(payload, into); err != nil {
		s.logger.Warn("backup payload does not decode", zap.String("key", key), zap.Error(err))
		s.metrics.CacheLookups.WithLabelValues(category.String(), "fail").Inc()
		return apperr.NoOfflineData(key, err)
	}

	s.metrics.CacheLookups.WithLabelValues(category.String(), "backup").Inc()
	return nil
}

// Warmup describes one key for Prefetch.
type Warmup struct {
	Key      string
	Category Category
	Fetch    FetchFn[any]
}

// Prefetch fills keys that are not already cached, one goroutine per key.
// It waits for all of them and returns how many were stored. Prefetch is a
// no-op while offline.
func (s *Service) Prefetch(ctx context.Context, items ...Warmup) int {
	if !s.online(ctx) {
		return 0
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		stored int
	)
	for _, item := range items {
		if item.Fetch == nil || s.Has(ctx, item.Key) {
			continue
		}

		wg.Add(1)
		go func(w Warmup) {
			defer wg.Done()
			value, err := w.Fetch(ctx)
			if err != nil {
				s.logger.Debug("prefetch failed", zap.String("key", w.Key), zap.Error(err))
				return
			}
			s.save(ctx, w.Key, w.Category, value, w.Category.TTL())
			mu.Lock()
			stored++
			mu.Unlock()
		}(item)
	}
	wg.Wait()
	return stored
}
