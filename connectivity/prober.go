package connectivity

import (
	"context"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/internal/logging"
)

// HTTPProber reports reachable when any endpoint answers 2xx or 401.
// Endpoints are tried in order and the first success wins.
type HTTPProber struct {
	Endpoints []string
	Client    *http.Client
	Logger    *zap.Logger
}

// NewHTTPProber builds a prober over endpoints.
func NewHTTPProber(logger *zap.Logger, endpoints ...string) *HTTPProber {
	return &HTTPProber{
		Endpoints: endpoints,
		Client:    &http.Client{},
		Logger:    logging.WithModule(logger, "connectivity"),
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) bool {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := logging.OrNop(p.Logger)

	for _, endpoint := range p.Endpoints {
		if endpoint == "" {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			logger.Debug("invalid probe endpoint", zap.String("endpoint", endpoint), zap.Error(err))
			continue
		}

		res, err := client.Do(req)
		if err != nil {
			logger.Debug("probe failed", zap.String("endpoint", endpoint), zap.Error(err))
			if ctx.Err() != nil {
				return false
			}
			continue
		}
		_, _ = io.Copy(io.Discard, res.Body)
		res.Body.Close()

		if reachable(res.StatusCode) {
			return true
		}
	}
	return false
}

// 401 still proves the API answered.
func reachable(status int) bool {
	return (status >= 200 && status < 300) || status == http.StatusUnauthorized
}
