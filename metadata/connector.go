// Package metadata talks to the movie metadata API through a middleware
// pipeline. The offline fallback and response cache are middlewares that can
// answer without reaching the transport.
package metadata

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/internal/apperr"
	"github.com/goliatone/go-offline-sync/internal/logging"
	"github.com/goliatone/go-offline-sync/remote"
)

// DefaultBaseURL is the public metadata API root.
const DefaultBaseURL = "https://api.themoviedb.org/3"

// KeyNamespace prefixes metadata cache keys. Metadata is public, so it lives
// outside the per-user namespace and survives a global invalidation.
const KeyNamespace = "tmdb"

// Handler answers a metadata request.
type Handler interface {
	Handle(ctx context.Context, req Request) (*remote.Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (*remote.Response, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (*remote.Response, error) {
	return f(ctx, req)
}

// Middleware wraps a Handler.
type Middleware func(next Handler) Handler

// TokenSource supplies the API bearer token.
type TokenSource interface {
	Token(ctx context.Context) string
}

// Config for a Connector.
type Config struct {
	BaseURL string
	// Locale selects the default language: "fr" means fr-FR, anything else en-US.
	Locale string
}

// DefaultConfig targets the public API in English.
func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, Locale: "en"}
}

// Language returns the API language tag for the locale.
func (c Config) Language() string {
	if strings.HasPrefix(strings.ToLower(c.Locale), "fr") {
		return "fr-FR"
	}
	return "en-US"
}

// Connector sends requests through the middleware chain.
type Connector struct {
	cfg        Config
	client     remote.Client
	tokens     TokenSource
	middleware []Middleware
	handler    Handler
	logger     *zap.Logger
}

// Option configures a Connector.
type Option func(*Connector)

// WithTokens sets the token source.
func WithTokens(t TokenSource) Option { return func(c *Connector) { c.tokens = t } }

// WithMiddleware appends middleware. The first one added is the outermost.
func WithMiddleware(m ...Middleware) Option {
	return func(c *Connector) { c.middleware = append(c.middleware, m...) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(c *Connector) { c.logger = l } }

// NewConnector builds the pipeline once.
func NewConnector(cfg Config, client remote.Client, opts ...Option) *Connector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	c := &Connector{cfg: cfg, client: client}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.WithModule(c.logger, "metadata")

	var h Handler = HandlerFunc(c.transport)
	for i := len(c.middleware) - 1; i >= 0; i-- {
		h = c.middleware[i](h)
	}
	c.handler = h
	return c
}

// URL resolves an endpoint against the base URL.
func (c *Connector) URL(endpoint string) string {
	return remote.JoinURL(c.cfg.BaseURL, endpoint)
}

// Send applies the connector defaults (language query, Accept-Language) and
// runs req through the pipeline.
func (c *Connector) Send(ctx context.Context, req Request) (*remote.Response, error) {
	req = c.boot(req)
	return c.handler.Handle(ctx, req)
}

func (c *Connector) boot(req Request) Request {
	out := req.clone()
	if out.Method == "" {
		out.Method = http.MethodGet
	}
	lang := c.cfg.Language()
	if _, ok := out.Query["language"]; !ok {
		out.Query["language"] = lang
	}
	if out.Header.Get("Accept-Language") == "" {
		out.Header.Set("Accept-Language", lang)
	}
	// the endpoint is resolved here so middleware keys see the full URL
	out.Endpoint = c.URL(req.Endpoint)
	return out
}

func (c *Connector) transport(ctx context.Context, req Request) (*remote.Response, error) {
	var token string
	if c.tokens != nil {
		token = c.tokens.Token(ctx)
	}
	return c.client.Do(ctx, remote.Request{
		Method: req.Method,
		URL:    req.Endpoint,
		Token:  token,
		Params: req.Query,
		Header: req.Header,
	})
}

// Fetch sends req and decodes the body. A non 2xx answer, including the
// synthesized offline 503, is an error.
func (c *Connector) Fetch(ctx context.Context, req Request) (remote.Envelope, error) {
	resp, err := c.Send(ctx, req)
	if err != nil {
		return remote.Empty(), err
	}
	if !resp.OK() {
		c.logger.Debug("metadata request unsuccessful",
			zap.String("endpoint", req.Endpoint), zap.Int("status", resp.StatusCode))
		return remote.Empty(), apperr.RemoteStatus(resp.StatusCode, "metadata request "+req.Endpoint+" failed")
	}
	return resp.Envelope(), nil
}

// Trending lists trending media.
func (c *Connector) Trending(ctx context.Context, media, window string, page int) (remote.Envelope, error) {
	return c.Fetch(ctx, TrendingRequest(media, window, page))
}

// SearchMulti searches across media types.
func (c *Connector) SearchMulti(ctx context.Context, query string, page int) (remote.Envelope, error) {
	return c.Fetch(ctx, SearchMultiRequest(query, page))
}

// Details fetches one movie or show.
func (c *Connector) Details(ctx context.Context, media string, id int64) (remote.Envelope, error) {
	return c.Fetch(ctx, DetailsRequest(media, id))
}

// Similar lists titles similar to one movie or show.
func (c *Connector) Similar(ctx context.Context, media string, id int64, page int) (remote.Envelope, error) {
	return c.Fetch(ctx, SimilarRequest(media, id, page))
}
