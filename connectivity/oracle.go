// Package connectivity decides whether the remote side is reachable.
//
// The Oracle caches a single online flag for a short TTL. When the flag is
// missing or stale it asks a Prober; a probe failure means offline and is
// never reported as an error.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/internal/logging"
	"github.com/goliatone/go-offline-sync/internal/metrics"
)

// Prober checks reachability. Implementations must honour ctx.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// Config holds the oracle timings.
type Config struct {
	TTL          time.Duration
	ProbeTimeout time.Duration
}

// DefaultConfig caches the flag for 30s and bounds probes to 3s.
func DefaultConfig() Config {
	return Config{TTL: 30 * time.Second, ProbeTimeout: 3 * time.Second}
}

// Status is a snapshot of the cached flag.
type Status struct {
	Online    bool      `json:"online"`
	Known     bool      `json:"known"`
	CheckedAt time.Time `json:"checked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Oracle owns the process wide online flag.
type Oracle struct {
	cfg     Config
	prober  Prober
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	known     bool
	online    bool
	checkedAt time.Time

	hooksMu sync.RWMutex
	hooks   []func(context.Context)
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithProber sets the probe. Without one the oracle is optimistic and reports
// online until told otherwise.
func WithProber(p Prober) Option { return func(o *Oracle) { o.prober = p } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(o *Oracle) { o.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *Oracle) { o.logger = l } }

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(o *Oracle) { o.metrics = m } }

// NewOracle builds an Oracle. Zero Config fields take the defaults.
func NewOracle(cfg Config, opts ...Option) *Oracle {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = def.ProbeTimeout
	}

	o := &Oracle{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.WithModule(o.logger, "connectivity")
	o.metrics = metrics.OrNop(o.metrics)
	return o
}

// OnRestore registers fn to run, on its own goroutine, every time the flag
// flips from offline to online.
func (o *Oracle) OnRestore(fn func(context.Context)) {
	o.hooksMu.Lock()
	o.hooks = append(o.hooks, fn)
	o.hooksMu.Unlock()
}

// IsOnline returns the cached flag, probing when it is stale.
func (o *Oracle) IsOnline(ctx context.Context) bool {
	o.mu.Lock()
	if o.known && o.now().Before(o.checkedAt.Add(o.cfg.TTL)) {
		online := o.online
		o.mu.Unlock()
		return online
	}
	o.mu.Unlock()

	if o.prober == nil {
		return true
	}
	return o.record(o.probe(ctx))
}

// Report stores an externally observed status for the TTL.
func (o *Oracle) Report(online bool) {
	o.record(online)
}

// Refresh probes regardless of the cached flag and returns the result.
func (o *Oracle) Refresh(ctx context.Context) bool {
	if o.prober == nil {
		return o.IsOnline(ctx)
	}
	return o.record(o.probe(ctx))
}

// Status returns the cached flag without probing.
func (o *Oracle) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Status{Online: o.online, Known: o.known, CheckedAt: o.checkedAt}
	if o.known {
		s.ExpiresAt = o.checkedAt.Add(o.cfg.TTL)
	} else {
		s.Online = o.prober == nil
	}
	return s
}

func (o *Oracle) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
	defer cancel()
	return o.prober.Probe(ctx)
}

func (o *Oracle) record(online bool) bool {
	o.mu.Lock()
	// an unknown previous state counts as online, so startup never fires restore hooks
	wasOnline := !o.known || o.online
	o.known = true
	o.online = online
	o.checkedAt = o.now()
	o.mu.Unlock()

	if online {
		o.metrics.Online.Set(1)
	} else {
		o.metrics.Online.Set(0)
	}

	switch {
	case online && !wasOnline:
		o.logger.Info("connectivity restored")
		o.restore()
	case !online && wasOnline:
		o.logger.Warn("lost connectivity")
	}
	return online
}

func (o *Oracle) restore() {
	o.hooksMu.RLock()
	hooks := make([]func(context.Context), len(o.hooks))
	copy(hooks, o.hooks)
	o.hooksMu.RUnlock()

	if len(hooks) == 0 {
		return
	}
	go func() {
		ctx := context.Background()
		for _, hook := range hooks {
			hook(ctx)
		}
	}()
}
