package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/internal/apperr"
	"github.com/goliatone/go-offline-sync/internal/logging"
)

// BreakerConfig holds the circuit breaker thresholds.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// MaxTries is the total number of attempts on transient failures.
	MaxTries uint
	// RetryDelay is the constant pause between attempts.
	RetryDelay time.Duration
	Breaker    BreakerConfig
}

// DefaultHTTPConfig returns a 10s timeout with three tries 100ms apart.
func DefaultHTTPConfig(name string) HTTPConfig {
	return HTTPConfig{
		Timeout:    10 * time.Second,
		MaxTries:   3,
		RetryDelay: 100 * time.Millisecond,
		Breaker: BreakerConfig{
			Name:             name,
			MaxRequests:      5,
			Interval:         30 * time.Second,
			Timeout:          60 * time.Second,
			FailureThreshold: 0.8,
			MinRequests:      5,
		},
	}
}

// HTTPClient is the net/http Client with bounded retry and a circuit breaker.
type HTTPClient struct {
	cfg     HTTPConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.http = c }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *zap.Logger) HTTPOption {
	return func(h *HTTPClient) { h.logger = l }
}

// NewHTTPClient builds an HTTPClient.
func NewHTTPClient(cfg HTTPConfig, opts ...HTTPOption) *HTTPClient {
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 1
	}

	c := &HTTPClient{cfg: cfg, http: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.WithModule(c.logger, "remote")

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Breaker.Name,
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.Breaker.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.Breaker.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

// Do sends req, retrying transport failures and 5xx responses.
func (c *HTTPClient) Do(ctx context.Context, req Request) (*Response, error) {
	var last *Response

	op := func() (*Response, error) {
		out, err := c.breaker.Execute(func() (any, error) {
			return c.attempt(ctx, req)
		})
		if resp, ok := out.(*Response); ok && resp != nil {
			last = resp
		}
		if err == nil {
			return last, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, backoff.Permanent(apperr.Transient(err, "remote circuit open"))
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(apperr.Transient(ctx.Err(), "request cancelled"))
		}
		return nil, err
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.RetryDelay)),
		backoff.WithMaxTries(c.cfg.MaxTries),
	)
	if err != nil {
		c.logger.Debug("remote request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Error(err))
		return last, err
	}
	return resp, nil
}

func (c *HTTPClient) attempt(ctx context.Context, req Request) (*Response, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	httpReq, err := buildRequest(ctx, req)
	if err != nil {
		return nil, backoff.Permanent(apperr.Internal(err, apperr.CodeNetwork, "build request"))
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		return nil, apperr.Transient(err, "remote request failed")
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, apperr.Transient(err, "read response body")
	}

	resp := &Response{StatusCode: res.StatusCode, Header: res.Header, Body: body}
	if res.StatusCode >= 500 {
		return resp, apperr.RemoteStatus(res.StatusCode,
			fmt.Sprintf("%s %s returned %d", req.Method, req.URL, res.StatusCode))
	}
	return resp, nil
}

func buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.File != nil:
		buf, ct, err := multipartBody(req.File, req.Params)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	case method == http.MethodGet || method == http.MethodHead:
		if len(req.Params) > 0 {
			q := target.Query()
			encodeQuery(q, req.Params)
			target.RawQuery = q.Encode()
		}
	case req.Params != nil:
		payload, err := json.Marshal(req.Params)
		if err != nil {
			return nil, err
		}
		body, contentType = bytes.NewReader(payload), "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}

	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	return httpReq, nil
}

func encodeQuery(q url.Values, params map[string]any) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := params[k].(type) {
		case nil:
		case []string:
			for _, s := range v {
				q.Add(k, s)
			}
		case []any:
			for _, item := range v {
				q.Add(k, scalarString(item))
			}
		default:
			q.Set(k, scalarString(v))
		}
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(t)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func multipartBody(f *File, fields map[string]any) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if fields[k] == nil {
			continue
		}
		if err := w.WriteField(k, scalarString(fields[k])); err != nil {
			return nil, "", err
		}
	}

	field := f.Field
	if field == "" {
		field = "file"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, field, f.Name))
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	header.Set("Content-Type", ct)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.Content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
