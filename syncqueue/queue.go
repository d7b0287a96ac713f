// Package syncqueue persists writes made while offline and replays them once
// the remote API is reachable again.
package syncqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/internal/apperr"
	"github.com/goliatone/go-offline-sync/internal/logging"
	"github.com/goliatone/go-offline-sync/internal/metrics"
	"github.com/goliatone/go-offline-sync/internal/storage"
)

// Replayer sends a queued mutation to the remote API.
type Replayer interface {
	Replay(ctx context.Context, verb, path string, params map[string]any) error
}

// ReplayerFunc adapts a function to Replayer.
type ReplayerFunc func(ctx context.Context, verb, path string, params map[string]any) error

func (f ReplayerFunc) Replay(ctx context.Context, verb, path string, params map[string]any) error {
	return f(ctx, verb, path, params)
}

// Oracle reports connectivity.
type Oracle interface {
	IsOnline(ctx context.Context) bool
}

// Queue is the durable FIFO of pending mutations.
type Queue struct {
	db       *bun.DB
	repo     repository.Repository[*QueuedMutation]
	cfg      Config
	oracle   Oracle
	validate *validator.Validate
	now      func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Option configures a Queue.
type Option func(*Queue)

// WithConfig replaces the default limits and retry policy.
func WithConfig(cfg Config) Option { return func(q *Queue) { q.cfg = cfg } }

// WithOracle gates Drain on connectivity.
func WithOracle(o Oracle) Option { return func(q *Queue) { q.oracle = o } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(q *Queue) { q.logger = l } }

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(q *Queue) { q.metrics = m } }

// NewQueue builds a Queue backed by the sync_queue table in db.
func NewQueue(db *bun.DB, opts ...Option) *Queue {
	q := &Queue{
		db:       db,
		cfg:      DefaultConfig(),
		validate: validator.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.cfg.Lease <= 0 {
		q.cfg.Lease = DefaultConfig().Lease
	}
	q.logger = logging.WithModule(q.logger, "syncqueue")
	q.metrics = metrics.OrNop(q.metrics)
	q.repo = repository.NewRepository[*QueuedMutation](db, handlers())
	return q
}

func handlers() repository.ModelHandlers[*QueuedMutation] {
	return repository.ModelHandlers[*QueuedMutation]{
		NewRecord: func() *QueuedMutation { return &QueuedMutation{} },
		GetID: func(m *QueuedMutation) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID: func(m *QueuedMutation, id uuid.UUID) { m.ID = id },
		GetIdentifier: func() string { return "id" },
	}
}

// CreateSchema creates the sync_queue table.
func (q *Queue) CreateSchema(ctx context.Context) error {
	return storage.CreateTable(ctx, q.db, (*QueuedMutation)(nil),
		storage.Index{Name: "sync_queue_status_next_idx", Columns: []string{"status", "next_attempt_at"}},
		storage.Index{Name: "sync_queue_created_idx", Columns: []string{"created_at"}},
	)
}

// Config returns the active configuration.
func (q *Queue) Config() Config { return q.cfg }

func (q *Queue) clock() time.Time { return q.now().UTC() }

func statusIs(s Status) repository.SelectCriteria {
	return func(sq *bun.SelectQuery) *bun.SelectQuery {
		return sq.Where("status = ?", s)
	}
}

// Enqueue validates m and appends it as a pending row.
// A full queue rejects the mutation with QUEUE_FULL and stores nothing.
func (q *Queue) Enqueue(ctx context.Context, m Mutation) (*QueuedMutation, error) {
	m.Verb = strings.ToUpper(strings.TrimSpace(m.Verb))
	if err := q.check(m); err != nil {
		return nil, err
	}

	pending, err := q.repo.Count(ctx, statusIs(StatusPending))
	if err != nil {
		return nil, apperr.Storage(err, "count pending mutations")
	}
	if pending >= q.cfg.Capacity {
		q.logger.Warn("sync queue limit reached",
			zap.String("verb", m.Verb),
			zap.String("path", m.Path),
			zap.Int("capacity", q.cfg.Capacity),
		)
		return nil, apperr.Validation(apperr.CodeQueueFull,
			fmt.Sprintf("sync queue has reached its maximum size of %d items", q.cfg.Capacity),
			map[string]any{"capacity": q.cfg.Capacity, "pending": pending},
		)
	}

	params, err := json.Marshal(m.Params)
	if err != nil {
		return nil, apperr.Validation(apperr.CodeInvalidMutation, "params are not JSON encodable",
			map[string]any{"error": err.Error()})
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperr.Internal(err, apperr.CodeStorage, "generate mutation id")
	}
	now := q.clock()
	row, err := q.repo.Create(ctx, &QueuedMutation{
		ID:         id,
		Verb:       m.Verb,
		TargetPath: m.Path,
		Params:     string(params),
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return nil, apperr.Storage(err, "insert queued mutation")
	}

	depth := pending + 1
	q.metrics.QueueDepth.Set(float64(depth))
	if float64(depth) > float64(q.cfg.Capacity)*q.cfg.WarnRatio {
		q.logger.Warn("sync queue is approaching limit",
			zap.Int("pending", depth),
			zap.Int("capacity", q.cfg.Capacity),
			zap.Int("percent", depth*100/q.cfg.Capacity),
		)
	}
	q.logger.Debug("mutation queued",
		zap.String("id", row.ID.String()),
		zap.String("verb", row.Verb),
		zap.String("path", row.TargetPath),
	)
	return row, nil
}

func (q *Queue) check(m Mutation) error {
	err := q.validate.Struct(m)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperr.Validation(apperr.CodeInvalidMutation,
			fmt.Sprintf("invalid mutation: %s failed %q", fe.Field(), fe.Tag()),
			map[string]any{"field": fe.Field(), "rule": fe.Tag()},
		)
	}
	return apperr.Validation(apperr.CodeInvalidMutation, err.Error(), nil)
}

// Get returns the row with id.
func (q *Queue) Get(ctx context.Context, id string) (*QueuedMutation, error) {
	row, err := q.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Storage(err, "get queued mutation")
	}
	return row, nil
}

// List returns rows with status in FIFO order. limit <= 0 returns all.
func (q *Queue) List(ctx context.Context, status Status, limit int) ([]*QueuedMutation, error) {
	rows, _, err := q.repo.List(ctx, statusIs(status), func(sq *bun.SelectQuery) *bun.SelectQuery {
		sq = sq.OrderExpr("created_at ASC, id ASC")
		if limit > 0 {
			sq = sq.Limit(limit)
		}
		return sq
	})
	if err != nil {
		return nil, apperr.Storage(err, "list queued mutations")
	}
	return rows, nil
}

// Drain replays up to batch eligible pending rows, oldest first.
// Rows are left untouched while the oracle reports offline. A row is claimed
// before it is replayed by pushing next_attempt_at forward by the lease, so
// only one of several concurrent drains sends it to the remote API.
func (q *Queue) Drain(ctx context.Context, batch int, r Replayer) (DrainReport, error) {
	var report DrainReport
	if batch <= 0 {
		batch = q.cfg.BatchSize
	}

	now := q.clock()
	rows, _, err := q.repo.List(ctx, statusIs(StatusPending), func(sq *bun.SelectQuery) *bun.SelectQuery {
		return sq.
			WhereGroup(" AND ", func(g *bun.SelectQuery) *bun.SelectQuery {
				return g.Where("next_attempt_at IS NULL").WhereOr("next_attempt_at <= ?", now)
			}).
			OrderExpr("created_at ASC, id ASC").
			Limit(batch)
	})
	if err != nil {
		return report, apperr.Storage(err, "select eligible mutations")
	}
	report.Selected = len(rows)

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if q.oracle != nil && !q.oracle.IsOnline(ctx) {
			report.Skipped++
			continue
		}
		claimed, err := q.claim(ctx, row)
		if err != nil {
			return report, err
		}
		if !claimed {
			report.Conflicts++
			continue
		}
		if err := q.replay(ctx, row, r, &report); err != nil {
			return report, err
		}
	}

	q.refreshDepth(ctx)
	if report.Processed() > 0 {
		q.logger.Info("sync queue drained",
			zap.Int("completed", report.Completed),
			zap.Int("retried", report.Retried),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

func (q *Queue) replay(ctx context.Context, row *QueuedMutation, r Replayer, report *DrainReport) error {
	params, err := row.DecodeParams()
	if err == nil {
		err = r.Replay(ctx, row.Verb, row.TargetPath, params)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	fields := []zap.Field{
		zap.String("id", row.ID.String()),
		zap.String("verb", row.Verb),
		zap.String("path", row.TargetPath),
	}
	now := q.clock()

	if err == nil {
		ok, uerr := q.transition(ctx, row, StatusCompleted, row.Attempts, nil, "", now)
		if uerr != nil {
			return uerr
		}
		if !ok {
			report.Conflicts++
			return nil
		}
		report.Completed++
		q.metrics.QueueReplays.WithLabelValues("completed").Inc()
		q.logger.Info("sync item completed", fields...)
		return nil
	}

	attempts := row.Attempts + 1
	fields = append(fields, zap.Int("attempts", attempts), zap.Error(err))

	if attempts >= q.cfg.MaxAttempts {
		ok, uerr := q.transition(ctx, row, StatusFailed, attempts, nil, err.Error(), now)
		if uerr != nil {
			return uerr
		}
		if !ok {
			report.Conflicts++
			return nil
		}
		report.Failed++
		q.metrics.QueueReplays.WithLabelValues("failed").Inc()
		q.logger.Error("sync item failed permanently",
			append(fields, zap.NamedError("cause", apperr.Exhausted(err, attempts)))...)
		return nil
	}

	next := now.Add(q.cfg.Backoff(attempts))
	ok, uerr := q.transition(ctx, row, StatusPending, attempts, &next, err.Error(), now)
	if uerr != nil {
		return uerr
	}
	if !ok {
		report.Conflicts++
		return nil
	}
	report.Retried++
	q.metrics.QueueReplays.WithLabelValues("retried").Inc()
	q.logger.Warn("sync item will retry", append(fields, zap.Time("next_attempt_at", next))...)
	return nil
}

// claim leases row to the caller. It fails when another drain already
// claimed or moved the row.
func (q *Queue) claim(ctx context.Context, row *QueuedMutation) (bool, error) {
	now := q.clock()
	res, err := q.db.NewUpdate().
		Model((*QueuedMutation)(nil)).
		Set("next_attempt_at = ?", now.Add(q.cfg.Lease)).
		Set("updated_at = ?", now).
		Where("id = ?", row.ID).
		Where("status = ?", StatusPending).
		Where("attempts = ?", row.Attempts).
		Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now).
		Exec(ctx)
	if err != nil {
		return false, apperr.Storage(err, "claim queued mutation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Storage(err, "claim queued mutation")
	}
	return n == 1, nil
}

func (q *Queue) transition(ctx context.Context, row *QueuedMutation, status Status, attempts int, next *time.Time, lastErr string, now time.Time) (bool, error) {
	uq := q.db.NewUpdate().
		Model((*QueuedMutation)(nil)).
		Set("status = ?", status).
		Set("attempts = ?", attempts).
		Set("last_error = ?", lastErr).
		Set("updated_at = ?", now)
	if next != nil {
		uq = uq.Set("next_attempt_at = ?", *next)
	} else {
		uq = uq.Set("next_attempt_at = NULL")
	}

	res, err := uq.
		Where("id = ?", row.ID).
		Where("status = ?", StatusPending).
		Where("attempts = ?", row.Attempts).
		Exec(ctx)
	if err != nil {
		return false, apperr.Storage(err, "update queued mutation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Storage(err, "update queued mutation")
	}
	return n == 1, nil
}

// Resubmit enqueues a fresh pending copy of a failed row. The failed row stays
// as history.
func (q *Queue) Resubmit(ctx context.Context, id string) (*QueuedMutation, error) {
	row, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if row.Status != StatusFailed {
		return nil, apperr.Validation(apperr.CodeInvalidMutation,
			fmt.Sprintf("only failed mutations can be resubmitted, %s is %s", id, row.Status),
			map[string]any{"id": id, "status": string(row.Status)},
		)
	}
	params, err := row.DecodeParams()
	if err != nil {
		return nil, apperr.Validation(apperr.CodeInvalidMutation, "stored params are not valid JSON", nil)
	}
	return q.Enqueue(ctx, Mutation{Verb: row.Verb, Path: row.TargetPath, Params: params})
}

// PurgeCompleted deletes completed rows last updated before the retention window.
func (q *Queue) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = q.cfg.Retention
	}
	res, err := q.db.NewDelete().
		Model((*QueuedMutation)(nil)).
		Where("status = ?", StatusCompleted).
		Where("updated_at < ?", q.clock().Add(-olderThan)).
		Exec(ctx)
	if err != nil {
		return 0, apperr.Storage(err, "purge completed mutations")
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		q.logger.Info("purged completed mutations", zap.Int64("rows", n))
	}
	return n, nil
}

// Stats counts rows per status.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var counts []struct {
		Status Status `bun:"status"`
		Count  int    `bun:"count"`
	}
	err := q.db.NewSelect().
		Model((*QueuedMutation)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Group("status").
		Scan(ctx, &counts)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Stats{}, apperr.Storage(err, "count mutations by status")
	}

	stats := Stats{Capacity: q.cfg.Capacity}
	for _, c := range counts {
		switch c.Status {
		case StatusPending:
			stats.Pending = c.Count
		case StatusCompleted:
			stats.Completed = c.Count
		case StatusFailed:
			stats.Failed = c.Count
		}
	}
	q.metrics.QueueDepth.Set(float64(stats.Pending))
	return stats, nil
}

func (q *Queue) refreshDepth(ctx context.Context) {
	n, err := q.repo.Count(ctx, statusIs(StatusPending))
	if err != nil {
		q.logger.Debug("queue depth refresh failed", zap.Error(err))
		return
	}
	q.metrics.QueueDepth.Set(float64(n))
}
