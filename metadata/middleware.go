package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/cache"
	"github.com/goliatone/go-offline-sync/internal/logging"
	"github.com/goliatone/go-offline-sync/remote"
)

// Response headers set on answers that did not come from the network.
const (
	HeaderCache       = "X-Cache"
	HeaderCachedAt    = "X-Cached-At"
	HeaderOfflineMode = "X-Offline-Mode"
	HeaderError       = "X-Error"
)

// OfflineTTL is how long the offline fallback keeps a response.
const OfflineTTL = 7 * 24 * time.Hour

// NoOfflineDataMessage is the error body of the synthesized 503.
const NoOfflineDataMessage = "No offline data available"

// Oracle reports connectivity.
type Oracle interface {
	IsOnline(ctx context.Context) bool
}

// Snapshot is a stored response.
type Snapshot struct {
	Status   int                 `json:"status"`
	Header   map[string][]string `json:"headers,omitempty"`
	Body     string              `json:"body"`
	CachedAt time.Time           `json:"cached_at"`
}

func snapshotOf(resp *remote.Response, now time.Time) Snapshot {
	return Snapshot{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     string(resp.Body),
		CachedAt: now.UTC(),
	}
}

// Response rebuilds a response marked as a cache hit.
func (s Snapshot) Response() *remote.Response {
	h := http.Header(s.Header).Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(HeaderCache, "HIT")
	h.Set(HeaderCachedAt, s.CachedAt.Format(time.RFC3339))
	status := s.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &remote.Response{StatusCode: status, Header: h, Body: []byte(s.Body)}
}

// MiddlewareOption configures the built in middleware.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	now    func() time.Time
	logger *zap.Logger
}

// WithMiddlewareClock replaces time.Now.
func WithMiddlewareClock(now func() time.Time) MiddlewareOption {
	return func(c *middlewareConfig) { c.now = now }
}

// WithMiddlewareLogger sets the logger.
func WithMiddlewareLogger(l *zap.Logger) MiddlewareOption {
	return func(c *middlewareConfig) { c.logger = l }
}

func newMiddlewareConfig(name string, opts []MiddlewareOption) middlewareConfig {
	c := middlewareConfig{now: time.Now}
	for _, opt := range opts {
		opt(&c)
	}
	c.logger = logging.WithModule(c.logger, name)
	return c
}

// OfflineFallback answers from the backup store while offline or when the
// rest of the chain fails. Successful online answers are saved for OfflineTTL.
// Without a saved answer it synthesizes a 503.
func OfflineFallback(backup cache.BackupStore, oracle Oracle, keys cache.Fingerprinter, opts ...MiddlewareOption) Middleware {
	cfg := newMiddlewareConfig("metadata.offline", opts)

	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req Request) (*remote.Response, error) {
			key := keys.Key("offline", req.Endpoint, req.Query)

			if oracle != nil && !oracle.IsOnline(ctx) {
				return offlineResponse(ctx, backup, key, cfg), nil
			}

			resp, err := next.Handle(ctx, req)
			if err != nil {
				cfg.logger.Debug("metadata request failed, serving offline copy",
					zap.String("endpoint", req.Endpoint), zap.Error(err))
				return offlineResponse(ctx, backup, key, cfg), nil
			}

			if resp.OK() {
				payload, err := json.Marshal(snapshotOf(resp, cfg.now()))
				if err == nil {
					err = backup.Put(ctx, key, req.Category().String(), payload, OfflineTTL)
				}
				if err != nil {
					cfg.logger.Warn("offline copy not saved", zap.String("endpoint", req.Endpoint), zap.Error(err))
				}
			}
			return resp, nil
		})
	}
}

func offlineResponse(ctx context.Context, backup cache.BackupStore, key string, cfg middlewareConfig) *remote.Response {
	payload, found, err := backup.Get(ctx, key)
	if err != nil {
		cfg.logger.Warn("offline lookup failed", zap.String("key", key), zap.Error(err))
	}

	var snap Snapshot
	if found && json.Unmarshal(payload, &snap) == nil {
		resp := snap.Response()
		resp.StatusCode = http.StatusOK
		resp.Header.Set(HeaderCachedAt, cfg.now().UTC().Format(time.RFC3339))
		resp.Header.Set(HeaderOfflineMode, "true")
		return resp
	}

	body, _ := json.Marshal(map[string]string{"error": NoOfflineDataMessage})
	h := http.Header{}
	h.Set(HeaderCache, "HIT")
	h.Set(HeaderCachedAt, cfg.now().UTC().Format(time.RFC3339))
	h.Set(HeaderOfflineMode, "true")
	h.Set(HeaderError, "No cached data")
	h.Set("Content-Type", "application/json")
	return &remote.Response{StatusCode: http.StatusServiceUnavailable, Header: h, Body: body}
}

var errNotCacheable = errors.New("response not cacheable")

// ResponseCache serves successful GET answers from the remember-cache using
// the request category TTL. Unsuccessful answers pass through uncached.
func ResponseCache(svc *cache.Service, keys cache.Fingerprinter, opts ...MiddlewareOption) Middleware {
	cfg := newMiddlewareConfig("metadata.cache", opts)

	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, req Request) (*remote.Response, error) {
			if req.Method != http.MethodGet {
				return next.Handle(ctx, req)
			}

			var passthrough *remote.Response
			key := keys.Key(req.Method, req.Endpoint, cacheParams(req))
			snap, err := cache.Remember[Snapshot](ctx, svc, key, req.Category(), func(ctx context.Context) (Snapshot, error) {
				resp, err := next.Handle(ctx, req)
				if err != nil {
					return Snapshot{}, err
				}
				if !resp.OK() {
					passthrough = resp
					return Snapshot{}, errNotCacheable
				}
				return snapshotOf(resp, cfg.now()), nil
			})
			if passthrough != nil {
				return passthrough, nil
			}
			if err != nil {
				return nil, err
			}
			return snap.Response(), nil
		})
	}
}

// cacheParams keys a request on its query and language.
func cacheParams(req Request) map[string]any {
	return map[string]any{
		"query":    req.Query,
		"language": req.Header.Get("Accept-Language"),
	}
}
