// Package prefetch warms the caches ahead of the pages a user is likely to
// open next: trending lists, a user's wishlists and popular titles.
package prefetch

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/cache"
	"github.com/goliatone/go-offline-sync/catalog"
	"github.com/goliatone/go-offline-sync/gateway"
	"github.com/goliatone/go-offline-sync/internal/logging"
	"github.com/goliatone/go-offline-sync/metadata"
	"github.com/goliatone/go-offline-sync/remote"
)

const (
	// MaxItems caps one PopularItems call.
	MaxItems = 10
	// MaxWishlists is how many wishlists UserData opens.
	MaxWishlists = 3
	// MaxSimilar is how many similar titles Similar warms.
	MaxSimilar = 5

	trendingWindow = "week"
)

// Metadata is the subset of the metadata connector used for warming.
type Metadata interface {
	Trending(ctx context.Context, media, window string, page int) (remote.Envelope, error)
	Details(ctx context.Context, media string, id int64) (remote.Envelope, error)
	Similar(ctx context.Context, media string, id int64, page int) (remote.Envelope, error)
}

// Reader reads backend paths through the cache.
type Reader interface {
	Read(ctx context.Context, path string, opts gateway.ReadOptions) (remote.Envelope, error)
}

// Catalog stores fetched titles locally.
type Catalog interface {
	Upsert(ctx context.Context, items ...*catalog.MediaItem) (int, error)
}

// Service runs the warmers. Every dependency is optional; a warmer whose
// source is missing does nothing.
type Service struct {
	meta    Metadata
	reader  Reader
	catalog Catalog
	cache   *cache.Service
	logger  *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMetadata sets the metadata source.
func WithMetadata(m Metadata) Option { return func(s *Service) { s.meta = m } }

// WithReader sets the backend reader.
func WithReader(r Reader) Option { return func(s *Service) { s.reader = r } }

// WithCatalog sets the local catalog.
func WithCatalog(c Catalog) Option { return func(s *Service) { s.catalog = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// NewService builds a Service. svc holds the per-title keys warmed by
// PopularItems.
func NewService(svc *cache.Service, opts ...Option) *Service {
	s := &Service{cache: svc}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.WithModule(s.logger, "prefetch")
	return s
}

// ItemKey is the cache key of one warmed title.
func ItemKey(media string, tmdbID int64) string {
	return "tmdb." + media + "." + strconv.FormatInt(tmdbID, 10)
}

// Trending fetches the weekly trending lists for movies, shows and both, and
// stores their titles in the catalog. It returns how many titles were stored.
func (s *Service) Trending(ctx context.Context) (int, error) {
	if s.meta == nil {
		return 0, nil
	}

	var (
		stored int
		errs   error
	)
	for _, media := range []string{metadata.MediaMovie, metadata.MediaTV, metadata.MediaAll} {
		env, err := s.meta.Trending(ctx, media, trendingWindow, 1)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("trending %s: %w", media, err))
			continue
		}
		n, err := s.store(ctx, env, media)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		stored += n
	}

	if errs != nil {
		s.logger.Error("failed to prefetch trending data", zap.Error(errs))
		return stored, errs
	}
	s.logger.Info("trending data prefetched", zap.Int("items", stored))
	return stored, nil
}

// PopularItems warms the details of up to MaxItems titles. Titles already in
// the cache are skipped. It returns how many were fetched.
func (s *Service) PopularItems(ctx context.Context, media string, ids []int64) int {
	if s.meta == nil || s.cache == nil {
		return 0
	}
	if len(ids) > MaxItems {
		ids = ids[:MaxItems]
	}

	category := cache.CategoryMovie
	if media == metadata.MediaTV {
		category = cache.CategoryShow
	}

	warm := make([]cache.Warmup, 0, len(ids))
	for _, id := range ids {
		id := id
		warm = append(warm, cache.Warmup{
			Key:      ItemKey(media, id),
			Category: category,
			Fetch: func(ctx context.Context) (any, error) {
				env, err := s.meta.Details(ctx, media, id)
				if err != nil {
					s.logger.Warn("failed to prefetch item",
						zap.String("media_type", media), zap.Int64("tmdb_id", id), zap.Error(err))
					return nil, err
				}
				if _, err := s.store(ctx, env, media); err != nil {
					s.logger.Warn("failed to store prefetched item",
						zap.String("media_type", media), zap.Int64("tmdb_id", id), zap.Error(err))
				}
				return env, nil
			},
		})
	}
	return s.cache.Prefetch(ctx, warm...)
}

// Similar warms the first MaxSimilar titles similar to tmdbID.
func (s *Service) Similar(ctx context.Context, media string, tmdbID int64) (int, error) {
	if s.meta == nil {
		return 0, nil
	}
	env, err := s.meta.Similar(ctx, media, tmdbID, 1)
	if err != nil {
		s.logger.Warn("failed to prefetch similar titles",
			zap.String("media_type", media), zap.Int64("tmdb_id", tmdbID), zap.Error(err))
		return 0, err
	}

	var ids []int64
	for _, entry := range env.Items() {
		if len(ids) == MaxSimilar {
			break
		}
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := m["id"].(float64); ok && id > 0 {
			ids = append(ids, int64(id))
		}
	}
	return s.PopularItems(ctx, media, ids), nil
}

// UserData reads a user's profile, their wishlists and the first
// MaxWishlists wishlists through the backend reader.
func (s *Service) UserData(ctx context.Context, username string) error {
	if s.reader == nil {
		return nil
	}
	err := s.userData(ctx, username)
	if err != nil {
		s.logger.Error("failed to prefetch user data", zap.String("username", username), zap.Error(err))
		return err
	}
	s.logger.Info("user data prefetched", zap.String("username", username))
	return nil
}

func (s *Service) userData(ctx context.Context, username string) error {
	base := "/users/" + username
	if _, err := s.reader.Read(ctx, base, gateway.ReadOptions{}); err != nil {
		return err
	}

	wishlists, err := s.reader.Read(ctx, base+"/wishlists", gateway.ReadOptions{})
	if err != nil {
		return err
	}

	opened := 0
	for _, entry := range wishlists.Items() {
		if opened == MaxWishlists {
			break
		}
		opened++
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["uuid"].(string)
		if id == "" {
			continue
		}
		if _, err := s.reader.Read(ctx, "/wishlists/"+id, gateway.ReadOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// store upserts the titles found in env into the catalog.
func (s *Service) store(ctx context.Context, env remote.Envelope, media string) (int, error) {
	if s.catalog == nil {
		return 0, nil
	}
	items := catalog.ItemsFromEnvelope(env, media)
	if len(items) == 0 {
		return 0, nil
	}
	return s.catalog.Upsert(ctx, items...)
}

// Prediction kinds.
const (
	PredictTrending = "trending"
	PredictUser     = "user"
	PredictItem     = "item"
	PredictSimilar  = "similar"
)

// Prediction is one page the user is expected to open next.
type Prediction struct {
	Kind      string
	MediaType string
	TmdbID    int64
	Username  string
}

var (
	titlePath = regexp.MustCompile(`/(movie|tv)/(\d+)`)
	userPath  = regexp.MustCompile(`^/users/([^/]+)`)
)

// Predict guesses the next pages from the current one.
func Predict(page string) []Prediction {
	switch {
	case page == "/":
		return []Prediction{{Kind: PredictTrending}}
	case strings.Contains(page, "/trending"):
		return []Prediction{{Kind: PredictItem, MediaType: metadata.MediaMovie, TmdbID: 1}}
	}

	if m := titlePath.FindStringSubmatch(page); m != nil {
		id, err := strconv.ParseInt(m[2], 10, 64)
		if err == nil {
			return []Prediction{{Kind: PredictSimilar, MediaType: m[1], TmdbID: id}}
		}
	}
	if m := userPath.FindStringSubmatch(page); m != nil {
		return []Prediction{{Kind: PredictUser, Username: m[1]}}
	}
	return nil
}

// Navigate runs the warmers predicted for page and returns the predictions.
func (s *Service) Navigate(ctx context.Context, page string) []Prediction {
	predictions := Predict(page)
	for _, p := range predictions {
		switch p.Kind {
		case PredictTrending:
			_, _ = s.Trending(ctx)
		case PredictUser:
			_ = s.UserData(ctx, p.Username)
		case PredictItem:
			s.PopularItems(ctx, p.MediaType, []int64{p.TmdbID})
		case PredictSimilar:
			_, _ = s.Similar(ctx, p.MediaType, p.TmdbID)
		}
	}
	return predictions
}
