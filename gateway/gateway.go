// Package gateway is the single entry point for reads, writes and uploads
// against the app API. It picks cache keys and categories, decides between
// the online and offline paths, queues writes when asked to, and invalidates
// cached reads after a successful mutation.
package gateway

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/cache"
	"github.com/goliatone/go-offline-sync/internal/apperr"
	"github.com/goliatone/go-offline-sync/internal/logging"
	"github.com/goliatone/go-offline-sync/internal/metrics"
	"github.com/goliatone/go-offline-sync/invalidation"
	"github.com/goliatone/go-offline-sync/remote"
	"github.com/goliatone/go-offline-sync/syncqueue"
)

// Oracle reports connectivity.
type Oracle interface {
	IsOnline(ctx context.Context) bool
}

// Queue accepts writes for later replay.
type Queue interface {
	Enqueue(ctx context.Context, m syncqueue.Mutation) (*syncqueue.QueuedMutation, error)
}

// Invalidator purges cached reads affected by a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, mutatedPath string) (invalidation.Report, error)
	InvalidateAll(ctx context.Context) error
}

// ReadOptions tune Read.
type ReadOptions struct {
	// Token overrides the TokenSource.
	Token  string
	Params map[string]any
	// NoCache sends the request directly and leaves the cache untouched.
	NoCache bool
}

// WriteOptions tune Write.
type WriteOptions struct {
	// QueueOnOffline enqueues the write instead of failing when offline or
	// when the remote call fails at the transport level.
	QueueOnOffline bool
}

// WriteResult is the outcome of Write.
type WriteResult struct {
	Queued  bool
	QueueID string
	// Cause is the transport failure that sent a write to the queue. It is
	// nil when the write was queued because the oracle reported offline.
	Cause  error
	Status int
	Body   remote.Envelope
}

// Gateway composes the remote client, the remember-cache, the queue and the
// invalidation engine.
type Gateway struct {
	baseURL     string
	client      remote.Client
	cache       *cache.Service
	keys        cache.Fingerprinter
	oracle      Oracle
	queue       Queue
	invalidator Invalidator
	tokens      TokenSource
	upload      UploadPolicy
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithOracle decides between the remote API and the offline paths.
func WithOracle(o Oracle) Option { return func(g *Gateway) { g.oracle = o } }

// WithQueue stores writes made while offline.
func WithQueue(q Queue) Option { return func(g *Gateway) { g.queue = q } }

// WithInvalidator drops cached reads after successful writes.
func WithInvalidator(i Invalidator) Option { return func(g *Gateway) { g.invalidator = i } }

// WithTokens sets where the bearer token comes from.
func WithTokens(t TokenSource) Option { return func(g *Gateway) { g.tokens = t } }

// WithFingerprinter sets the cache key builder shared with invalidation.
func WithFingerprinter(f cache.Fingerprinter) Option { return func(g *Gateway) { g.keys = f } }

// WithUploadPolicy replaces the default upload limits.
func WithUploadPolicy(p UploadPolicy) Option { return func(g *Gateway) { g.upload = p } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(g *Gateway) { g.logger = l } }

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(g *Gateway) { g.metrics = m } }

// New builds a Gateway for the API rooted at baseURL. Paths are appended to
// baseURL verbatim.
func New(baseURL string, client remote.Client, svc *cache.Service, opts ...Option) *Gateway {
	g := &Gateway{
		baseURL: baseURL,
		client:  client,
		cache:   svc,
		keys:    cache.NewFingerprinter(cache.DefaultNamespace),
		tokens:  StaticToken(""),
		upload:  DefaultUploadPolicy(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.WithModule(g.logger, "gateway")
	g.metrics = metrics.OrNop(g.metrics)
	return g
}

// CategoryFor maps an API path to its cache category.
func CategoryFor(path string) cache.Category {
	switch {
	case strings.Contains(path, "/users/"):
		return cache.CategoryUserData
	case strings.Contains(path, "/wishlists/"):
		return cache.CategoryWishlist
	case strings.Contains(path, "/items/"):
		return cache.CategoryAPIResponse
	case strings.Contains(path, "/trending"):
		return cache.CategoryTrending
	}
	return cache.CategoryAPIResponse
}

// KeyFor returns the cache key a GET of path with params is stored under.
func (g *Gateway) KeyFor(path string, params map[string]any) string {
	return g.keys.Key("GET", remote.JoinURL(g.baseURL, path), params)
}

func (g *Gateway) online(ctx context.Context) bool {
	return g.oracle == nil || g.oracle.IsOnline(ctx)
}

func (g *Gateway) token(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return g.tokens.Token(ctx)
}

// Read returns the envelope for a GET of path, through the remember-cache
// unless opts.NoCache is set. Non 2xx responses are errors and are never
// cached.
func (g *Gateway) Read(ctx context.Context, path string, opts ReadOptions) (remote.Envelope, error) {
	req := remote.Request{
		Method: "GET",
		URL:    remote.JoinURL(g.baseURL, path),
		Token:  g.token(ctx, opts.Token),
		Params: opts.Params,
	}

	fetch := func(ctx context.Context) (remote.Envelope, error) {
		resp, err := g.do(ctx, req)
		if err != nil {
			return remote.Empty(), err
		}
		if !resp.OK() {
			return remote.Empty(), apperr.RemoteStatus(resp.StatusCode, "GET "+path+" returned "+httpStatus(resp.StatusCode))
		}
		return resp.Envelope(), nil
	}

	if opts.NoCache {
		return fetch(ctx)
	}
	key := g.keys.Key(req.Method, req.URL, opts.Params)
	return cache.Remember[remote.Envelope](ctx, g.cache, key, CategoryFor(path), fetch)
}

// Write sends a POST, PATCH or DELETE. With QueueOnOffline the write is
// queued when the oracle reports offline or the remote call fails at the
// transport level. A response with any status is returned as is; only a 2xx
// triggers invalidation.
func (g *Gateway) Write(ctx context.Context, verb, path string, params map[string]any, opts WriteOptions) (WriteResult, error) {
	verb = strings.ToUpper(verb)
	switch verb {
	case "POST", "PATCH", "DELETE":
	default:
		return WriteResult{}, apperr.Validation(apperr.CodeInvalidMutation,
			"unsupported write verb "+verb, map[string]any{"verb": verb})
	}

	if opts.QueueOnOffline && !g.online(ctx) {
		return g.enqueue(ctx, verb, path, params, nil)
	}

	resp, err := g.do(ctx, remote.Request{
		Method: verb,
		URL:    remote.JoinURL(g.baseURL, path),
		Token:  g.token(ctx, ""),
		Params: params,
	})
	if err != nil {
		if opts.QueueOnOffline {
			g.logger.Warn("write failed, queueing for sync",
				zap.String("verb", verb), zap.String("path", path), zap.Error(err))
			return g.enqueue(ctx, verb, path, params, err)
		}
		return WriteResult{}, err
	}

	if resp.OK() {
		g.invalidate(ctx, path)
	}
	return WriteResult{Status: resp.StatusCode, Body: resp.Envelope()}, nil
}

func (g *Gateway) enqueue(ctx context.Context, verb, path string, params map[string]any, cause error) (WriteResult, error) {
	if g.queue == nil {
		g.metrics.RemoteRequests.WithLabelValues(verb, "offline").Inc()
		if cause != nil {
			return WriteResult{}, cause
		}
		return WriteResult{}, apperr.Transient(errOffline, "offline and no sync queue configured")
	}
	row, err := g.queue.Enqueue(ctx, syncqueue.Mutation{Verb: verb, Path: path, Params: params})
	if err != nil {
		return WriteResult{}, err
	}
	g.metrics.RemoteRequests.WithLabelValues(verb, "queued").Inc()
	return WriteResult{Queued: true, QueueID: row.ID.String(), Cause: cause}, nil
}

// Replay sends a queued mutation. Any failure, including a non 2xx status,
// is returned so the queue can schedule a retry.
func (g *Gateway) Replay(ctx context.Context, verb, path string, params map[string]any) error {
	res, err := g.Write(ctx, verb, path, params, WriteOptions{})
	if err != nil {
		return err
	}
	if res.Status < 200 || res.Status >= 300 {
		return apperr.RemoteStatus(res.Status, verb+" "+path+" returned "+httpStatus(res.Status))
	}
	return nil
}

// Upload validates f locally and posts it with extra form fields.
func (g *Gateway) Upload(ctx context.Context, path string, f remote.File, extra map[string]any) (remote.Envelope, error) {
	if err := g.upload.Check(f); err != nil {
		g.logger.Info("upload rejected", zap.String("path", path), zap.String("file", f.Name), zap.Error(err))
		return remote.Empty(), err
	}

	resp, err := g.do(ctx, remote.Request{
		Method: "POST",
		URL:    remote.JoinURL(g.baseURL, path),
		Token:  g.token(ctx, ""),
		Params: extra,
		File:   &f,
	})
	if err != nil {
		return remote.Empty(), err
	}
	if resp.OK() {
		g.invalidate(ctx, path)
	}
	return resp.Envelope(), nil
}

// InvalidateAll drops every cached read. Call it when the principal changes.
func (g *Gateway) InvalidateAll(ctx context.Context) error {
	if g.invalidator == nil {
		return g.cache.Store().Flush(ctx)
	}
	return g.invalidator.InvalidateAll(ctx)
}

func (g *Gateway) invalidate(ctx context.Context, path string) {
	if g.invalidator == nil {
		return
	}
	if _, err := g.invalidator.Invalidate(ctx, path); err != nil {
		g.logger.Warn("cache invalidation incomplete", zap.String("path", path), zap.Error(err))
	}
}

func (g *Gateway) do(ctx context.Context, req remote.Request) (*remote.Response, error) {
	start := time.Now()
	resp, err := g.client.Do(ctx, req)
	g.metrics.RemoteLatency.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case !resp.OK():
		outcome = "status"
	}
	g.metrics.RemoteRequests.WithLabelValues(req.Method, outcome).Inc()
	return resp, err
}
