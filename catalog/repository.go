// Package catalog keeps a local table of movies and shows seen through the
// metadata API, read through a cache with prefix based invalidation.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/cache"
	"github.com/goliatone/go-offline-sync/internal/apperr"
	"github.com/goliatone/go-offline-sync/internal/logging"
	"github.com/goliatone/go-offline-sync/internal/storage"
)

// listResult wraps the List tuple for caching.
type listResult struct {
	Items []MediaItem
	Total int
}

// Repository reads tmdb_items through the fast cache store. Writes go to the
// database and then drop every cached read they can affect.
type Repository struct {
	db       *bun.DB
	base     repository.Repository[*MediaItem]
	store    cache.Store
	keys     cache.KeySerializer
	ttl      time.Duration
	registry *xsync.MapOf[string, struct{}]
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithTTL overrides how long reads stay cached. Default: the movie category TTL.
func WithTTL(ttl time.Duration) Option { return func(r *Repository) { r.ttl = ttl } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(r *Repository) { r.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(r *Repository) { r.logger = l } }

// NewRepository wraps a go-repository-bun repository over db with store.
func NewRepository(db *bun.DB, store cache.Store, opts ...Option) *Repository {
	r := &Repository{
		db:       db,
		store:    store,
		keys:     cache.NewParamSerializer(),
		ttl:      cache.CategoryMovie.TTL(),
		registry: xsync.NewMapOf[string, struct{}](),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.WithModule(r.logger, "catalog")
	r.base = repository.NewRepository[*MediaItem](db, repository.ModelHandlers[*MediaItem]{
		NewRecord: func() *MediaItem { return &MediaItem{} },
		GetID: func(m *MediaItem) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID:         func(m *MediaItem, id uuid.UUID) { m.ID = id },
		GetIdentifier: func() string { return "tmdb_id" },
	})
	return r
}

// CreateSchema creates tmdb_items.
func (r *Repository) CreateSchema(ctx context.Context) error {
	return storage.CreateTable(ctx, r.db, (*MediaItem)(nil),
		storage.Index{Name: "tmdb_items_media_idx", Unique: true, Columns: []string{"tmdb_id", "media_type"}},
		storage.Index{Name: "tmdb_items_popularity_idx", Columns: []string{"media_type", "popularity"}},
	)
}

func byMedia(media string) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		if media == "" {
			return q
		}
		return q.Where("media_type = ?", media)
	}
}

// Get returns one item.
func (r *Repository) Get(ctx context.Context, media string, tmdbID int64) (*MediaItem, error) {
	key := r.key("Get", media, tmdbID)
	item, err := getOrFetch(ctx, r, key, func(ctx context.Context) (MediaItem, error) {
		rows, _, err := r.base.List(ctx, byMedia(media), func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("tmdb_id = ?", tmdbID).Limit(1)
		})
		if err != nil {
			return MediaItem{}, apperr.Storage(err, "get catalog item")
		}
		if len(rows) == 0 {
			return MediaItem{}, apperr.NotFound(
				fmt.Sprintf("%s %d is not in the catalog", media, tmdbID),
				map[string]any{"media_type": media, "tmdb_id": tmdbID},
			)
		}
		return *rows[0], nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// List returns the most popular items of media ("" for all), up to limit.
func (r *Repository) List(ctx context.Context, media string, limit int) ([]*MediaItem, int, error) {
	key := r.key("List", media, limit)
	res, err := getOrFetch(ctx, r, key, func(ctx context.Context) (listResult, error) {
		rows, total, err := r.base.List(ctx, byMedia(media), func(q *bun.SelectQuery) *bun.SelectQuery {
			q = q.OrderExpr("popularity DESC, tmdb_id ASC")
			if limit > 0 {
				q = q.Limit(limit)
			}
			return q
		})
		if err != nil {
			return listResult{}, apperr.Storage(err, "list catalog items")
		}
		out := listResult{Items: make([]MediaItem, len(rows)), Total: total}
		for i, row := range rows {
			out.Items[i] = *row
		}
		return out, nil
	})
	if err != nil {
		return nil, 0, err
	}

	items := make([]*MediaItem, len(res.Items))
	for i := range res.Items {
		item := res.Items[i]
		items[i] = &item
	}
	return items, res.Total, nil
}

// Count returns how many items of media are stored.
func (r *Repository) Count(ctx context.Context, media string) (int, error) {
	key := r.key("Count", media)
	return getOrFetch(ctx, r, key, func(ctx context.Context) (int, error) {
		n, err := r.base.Count(ctx, byMedia(media))
		if err != nil {
			return 0, apperr.Storage(err, "count catalog items")
		}
		return n, nil
	})
}

// Upsert inserts items or refreshes them by (tmdb_id, media_type).
func (r *Repository) Upsert(ctx context.Context, items ...*MediaItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	now := r.now().UTC()
	for _, item := range items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		item.UpdatedAt = now
	}

	_, err := r.db.NewInsert().
		Model(&items).
		On("CONFLICT (tmdb_id, media_type) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("overview = EXCLUDED.overview").
		Set("poster_path = EXCLUDED.poster_path").
		Set("release_date = EXCLUDED.release_date").
		Set("popularity = EXCLUDED.popularity").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return 0, apperr.Storage(err, "upsert catalog items")
	}

	r.invalidateAfterWrite(ctx, items...)
	return len(items), nil
}

// Delete removes one item.
func (r *Repository) Delete(ctx context.Context, media string, tmdbID int64) error {
	err := r.base.DeleteWhere(ctx, func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("media_type = ?", media).Where("tmdb_id = ?", tmdbID)
	})
	if err != nil {
		return apperr.Storage(err, "delete catalog item")
	}
	r.invalidateAfterWrite(ctx, &MediaItem{MediaType: media, TmdbID: tmdbID})
	return nil
}

// key is "catalog::<method>::<serialized args>".
func (r *Repository) key(method string, args ...any) string {
	return "catalog" + cache.KeySeparator + r.keys.SerializeKey(method, args...)
}

func (r *Repository) track(key string) {
	r.registry.Store(key, struct{}{})
}

func (r *Repository) invalidateByPrefix(ctx context.Context, prefix string) int {
	n := 0
	r.registry.Range(func(key string, _ struct{}) bool {
		if !strings.HasPrefix(key, prefix) {
			return true
		}
		if err := r.store.Forget(ctx, key); err != nil {
			r.logger.Debug("forget failed", zap.String("key", key), zap.Error(err))
		}
		r.registry.Delete(key)
		n++
		return true
	})
	return n
}

// invalidateAfterWrite drops every List and Count read plus the exact Get
// reads of the written items.
func (r *Repository) invalidateAfterWrite(ctx context.Context, items ...*MediaItem) {
	n := r.invalidateByPrefix(ctx, r.key("List"))
	n += r.invalidateByPrefix(ctx, r.key("Count"))
	for _, item := range items {
		key := r.key("Get", item.MediaType, item.TmdbID)
		if _, ok := r.registry.LoadAndDelete(key); ok {
			_ = r.store.Forget(ctx, key)
			n++
		}
	}
	r.logger.Debug("catalog reads invalidated", zap.Int("keys", n), zap.Int("items", len(items)))
}

// getOrFetch reads key from the store or computes and stores it. Only a
// value of type T counts as a hit.
func getOrFetch[T any](ctx context.Context, r *Repository, key string, fetch func(context.Context) (T, error)) (T, error) {
	r.track(key)
	if cached, ok := r.store.Get(ctx, key); ok {
		if value, ok := cached.(T); ok {
			return value, nil
		}
	}

	value, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := r.store.Put(ctx, key, value, r.ttl); err != nil {
		r.logger.Debug("catalog cache put failed", zap.String("key", key), zap.Error(err))
	}
	return value, nil
}
