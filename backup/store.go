// Package backup is the durable offline copy of cached values plus the hit
// analytics used to rank eviction candidates.
package backup

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/internal/apperr"
	"github.com/goliatone/go-offline-sync/internal/logging"
	"github.com/goliatone/go-offline-sync/internal/metrics"
	"github.com/goliatone/go-offline-sync/internal/pattern"
	"github.com/goliatone/go-offline-sync/internal/storage"
)

// Store reads and writes the offline_cache and cache_analytics tables.
// Every mutation is a single statement on a single row or a single DELETE.
type Store struct {
	db      bun.IDB
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.logger = l } }

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Store) { s.metrics = m } }

// NewStore builds a Store on db.
func NewStore(db bun.IDB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.WithModule(s.logger, "backup")
	s.metrics = metrics.OrNop(s.metrics)
	return s
}

// CreateSchema creates both tables and their indexes.
func (s *Store) CreateSchema(ctx context.Context) error {
	if err := storage.CreateTable(ctx, s.db, (*Record)(nil),
		storage.Index{Name: "offline_cache_category_expires_idx", Columns: []string{"category", "expires_at"}},
		storage.Index{Name: "offline_cache_expires_idx", Columns: []string{"expires_at"}},
	); err != nil {
		return err
	}
	return storage.CreateTable(ctx, s.db, (*AccessStat)(nil),
		storage.Index{Name: "cache_analytics_rank_idx", Columns: []string{"last_accessed_at", "access_count"}},
	)
}

func (s *Store) clock() time.Time { return s.now().UTC() }

// Get returns the payload for key when its record has not expired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var rec Record
	err := s.db.NewSelect().
		Model(&rec).
		Column("data").
		Where("cache_key = ?", key).
		Where("expires_at > ?", s.clock()).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.Storage(err, "read backup record")
	}
	return []byte(rec.Data), true, nil
}

// Put upserts the payload for key, expiring ttl from now.
func (s *Store) Put(ctx context.Context, key, category string, payload []byte, ttl time.Duration) error {
	now := s.clock()
	rec := &Record{
		CacheKey:  key,
		Category:  category,
		Data:      string(payload),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.NewInsert().
		Model(rec).
		On("CONFLICT (cache_key) DO UPDATE").
		Set("category = EXCLUDED.category").
		Set("data = EXCLUDED.data").
		Set("expires_at = EXCLUDED.expires_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return apperr.Storage(err, "upsert backup record")
	}
	return nil
}

// RecordAccess increments the hit counter for key, creating the row on first use.
func (s *Store) RecordAccess(ctx context.Context, key string) error {
	now := s.clock()

	for attempt := 0; attempt < 2; attempt++ {
		res, err := s.db.NewUpdate().
			Model((*AccessStat)(nil)).
			Set("access_count = access_count + 1").
			Set("last_accessed_at = ?", now).
			Set("updated_at = ?", now).
			Where("cache_key = ?", key).
			Exec(ctx)
		if err != nil {
			return apperr.Storage(err, "update access stat")
		}
		if affected(res) > 0 {
			return nil
		}

		res, err = s.db.NewInsert().
			Model(&AccessStat{
				CacheKey:       key,
				AccessCount:    1,
				LastAccessedAt: now,
				CreatedAt:      now,
				UpdatedAt:      now,
			}).
			On("CONFLICT (cache_key) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return apperr.Storage(err, "insert access stat")
		}
		if affected(res) > 0 {
			return nil
		}
		// lost the insert race, the row exists now
	}
	return nil
}

// Stat returns the analytics row for key.
func (s *Store) Stat(ctx context.Context, key string) (*AccessStat, bool, error) {
	stat := new(AccessStat)
	err := s.db.NewSelect().Model(stat).Where("cache_key = ?", key).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.Storage(err, "read access stat")
	}
	return stat, true, nil
}

// Delete removes keys from both tables.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.db.NewDelete().Model((*Record)(nil)).Where("cache_key IN (?)", bun.In(keys)).Exec(ctx); err != nil {
		return apperr.Storage(err, "delete backup records")
	}
	if _, err := s.db.NewDelete().Model((*AccessStat)(nil)).Where("cache_key IN (?)", bun.In(keys)).Exec(ctx); err != nil {
		return apperr.Storage(err, "delete access stats")
	}
	return nil
}

// DeleteMatching removes every key matching the `*` wildcard expression from
// both tables and returns the removed keys.
func (s *Store) DeleteMatching(ctx context.Context, expr string) ([]string, error) {
	like := pattern.ToLike(expr)
	clause := storage.LikeClause("cache_key")

	var recordKeys, statKeys []string
	if err := s.db.NewSelect().Model((*Record)(nil)).Column("cache_key").Where(clause, like).Scan(ctx, &recordKeys); err != nil {
		return nil, apperr.Storage(err, "scan backup keys")
	}
	if err := s.db.NewSelect().Model((*AccessStat)(nil)).Column("cache_key").Where(clause, like).Scan(ctx, &statKeys); err != nil {
		return nil, apperr.Storage(err, "scan access stat keys")
	}

	if _, err := s.db.NewDelete().Model((*Record)(nil)).Where(clause, like).Exec(ctx); err != nil {
		return nil, apperr.Storage(err, "delete matching backup records")
	}
	if _, err := s.db.NewDelete().Model((*AccessStat)(nil)).Where(clause, like).Exec(ctx); err != nil {
		return nil, apperr.Storage(err, "delete matching access stats")
	}

	return union(recordKeys, statKeys), nil
}

// SweepExpired deletes records whose expires_at has passed.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*Record)(nil)).
		Where("expires_at <= ?", s.clock()).
		Exec(ctx)
	if err != nil {
		return 0, apperr.Storage(err, "sweep expired backups")
	}
	n := affected(res)
	if n > 0 {
		s.logger.Info("expired backups swept", zap.Int64("count", n))
	}
	return n, nil
}

// byteLength is the SQL expression for the size of column in bytes. LENGTH
// counts characters on text columns in both dialects.
func (s *Store) byteLength(column string) string {
	if s.db.Dialect().Name() == dialect.PG {
		return "OCTET_LENGTH(" + column + ")"
	}
	return "LENGTH(CAST(" + column + " AS BLOB))"
}

// TotalSize returns the summed payload length in bytes.
func (s *Store) TotalSize(ctx context.Context) (int64, error) {
	var size int64
	err := s.db.NewSelect().
		Model((*Record)(nil)).
		ColumnExpr("COALESCE(SUM(" + s.byteLength("data") + "), 0)").
		Scan(ctx, &size)
	if err != nil {
		return 0, apperr.Storage(err, "sum backup size")
	}
	s.metrics.BackupBytes.Set(float64(size))
	return size, nil
}

// Count returns the number of backup records.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.db.NewSelect().Model((*Record)(nil)).Count(ctx)
	if err != nil {
		return 0, apperr.Storage(err, "count backups")
	}
	return n, nil
}

// EvictLeastValuable deletes records until their total size fits
// budgetBytes. Keys that were never hit go first, then ascending
// (last_accessed_at, access_count).
func (s *Store) EvictLeastValuable(ctx context.Context, budgetBytes int64) (EvictionReport, error) {
	report := EvictionReport{BudgetBytes: budgetBytes}

	total, err := s.TotalSize(ctx)
	if err != nil {
		return report, err
	}
	report.BeforeBytes, report.AfterBytes = total, total
	if total <= budgetBytes {
		return report, nil
	}

	var candidates []candidate
	err = s.db.NewSelect().
		TableExpr("offline_cache AS r").
		Join("LEFT JOIN cache_analytics AS a ON a.cache_key = r.cache_key").
		ColumnExpr("r.cache_key AS cache_key").
		ColumnExpr(s.byteLength("r.data") + " AS size").
		OrderExpr("(a.last_accessed_at IS NOT NULL) ASC").
		OrderExpr("a.last_accessed_at ASC").
		OrderExpr("COALESCE(a.access_count, 0) ASC").
		OrderExpr("r.updated_at ASC").
		Scan(ctx, &candidates)
	if err != nil {
		return report, apperr.Storage(err, "rank eviction candidates")
	}

	for _, c := range candidates {
		if report.AfterBytes <= budgetBytes {
			break
		}
		if err := s.Delete(ctx, c.CacheKey); err != nil {
			return report, err
		}
		report.AfterBytes -= c.Size
		report.Keys = append(report.Keys, c.CacheKey)
	}

	s.metrics.BackupBytes.Set(float64(report.AfterBytes))
	s.logger.Info("backup eviction finished",
		zap.Int("evicted", len(report.Keys)),
		zap.Int64("before_bytes", report.BeforeBytes),
		zap.Int64("after_bytes", report.AfterBytes),
		zap.Int64("budget_bytes", budgetBytes))
	return report, nil
}

func affected(res sql.Result) int64 {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, k := range list {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
