// Package invalidation purges cache entries made stale by a mutation.
//
// Each mutated path is mapped through a Rule to exact keys and wildcard
// patterns. Exact keys are rebuilt with the same Fingerprinter the gateway
// uses for reads, so both sides must share the namespace and base URL.
package invalidation

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/cache"
	"github.com/goliatone/go-offline-sync/internal/logging"
	"github.com/goliatone/go-offline-sync/internal/metrics"
	"github.com/goliatone/go-offline-sync/remote"
)

// Backup is the slice of the backup store the engine needs.
type Backup interface {
	Delete(ctx context.Context, keys ...string) error
	DeleteMatching(ctx context.Context, pattern string) ([]string, error)
}

// Report lists what one invalidation removed.
type Report struct {
	Path     string   `json:"path"`
	Rule     string   `json:"rule,omitempty"`
	ID       string   `json:"id,omitempty"`
	Keys     []string `json:"keys"`
	Patterns []string `json:"patterns"`
	// Members are the ids found by the reverse lookup.
	Members []string `json:"members,omitempty"`
	Removed int      `json:"removed"`
}

// Engine applies invalidation rules.
type Engine struct {
	store   cache.Store
	backup  Backup
	keys    cache.Fingerprinter
	baseURL string
	rules   []Rule
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithBackup also purges the backup store.
func WithBackup(b Backup) Option { return func(e *Engine) { e.backup = b } }

// WithRules replaces DefaultRules.
func WithRules(rules ...Rule) Option { return func(e *Engine) { e.rules = rules } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// NewEngine builds an Engine over the fast store. baseURL is the app API root
// the gateway prepends to request paths.
func NewEngine(store cache.Store, keys cache.Fingerprinter, baseURL string, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		keys:    keys,
		baseURL: baseURL,
		rules:   DefaultRules(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.WithModule(e.logger, "invalidation")
	e.metrics = metrics.OrNop(e.metrics)
	return e
}

// KeyFor returns the cache key of a parameterless GET of path.
func (e *Engine) KeyFor(path string) string {
	return e.keys.Key("GET", remote.JoinURL(e.baseURL, path), nil)
}

// Invalidate purges everything the first matching rule lists for
// mutatedPath. A path no rule matches is a no-op.
func (e *Engine) Invalidate(ctx context.Context, mutatedPath string) (Report, error) {
	report := Report{Path: mutatedPath}

	rule, ok := e.match(mutatedPath)
	if !ok {
		return report, nil
	}
	report.Rule = rule.Resource
	report.ID = ExtractID(mutatedPath, rule.Resource)

	var errs error
	keys := make([]string, 0, len(rule.Paths)*2)
	for _, p := range rule.expand(report.ID) {
		keys = append(keys, e.KeyFor(p))
	}

	if rule.Reverse != nil {
		members := e.reverseLookup(ctx, *rule.Reverse)
		report.Members = members
		for _, id := range members {
			detail := Rule{Paths: []string{rule.Reverse.DetailPath}}
			for _, p := range detail.expand(id) {
				keys = append(keys, e.KeyFor(p))
			}
		}
	}

	for _, key := range keys {
		errs = multierr.Append(errs, e.store.Forget(ctx, key))
	}
	if e.backup != nil {
		errs = multierr.Append(errs, e.backup.Delete(ctx, keys...))
	}
	report.Keys = keys

	for _, p := range rule.Patterns {
		scoped := e.scope(p)
		n, err := e.PurgePattern(ctx, scoped)
		errs = multierr.Append(errs, err)
		report.Patterns = append(report.Patterns, scoped)
		report.Removed += n
	}

	e.metrics.Invalidations.WithLabelValues(rule.Resource).Add(float64(report.Removed))
	e.logger.Debug("cache invalidated",
		zap.String("path", mutatedPath),
		zap.String("rule", rule.Resource),
		zap.String("id", report.ID),
		zap.Int("removed", report.Removed))
	return report, errs
}

// PurgePattern removes every key matching expr from the fast store and the
// backup store, and returns how many distinct keys went away.
func (e *Engine) PurgePattern(ctx context.Context, expr string) (int, error) {
	n, err := e.store.ForgetMatching(ctx, expr)
	if err != nil {
		return 0, fmt.Errorf("forget %q: %w", expr, err)
	}
	if e.backup == nil {
		return n, nil
	}

	removed, err := e.backup.DeleteMatching(ctx, expr)
	if err != nil {
		return n, err
	}
	// keys that only lived in the backup
	for _, key := range removed {
		_ = e.store.Forget(ctx, key)
	}
	if len(removed) > n {
		n = len(removed)
	}
	return n, nil
}

// InvalidateAll purges the whole namespace and flushes the fast store. Used
// when the signed in principal changes.
func (e *Engine) InvalidateAll(ctx context.Context) error {
	n, err := e.PurgePattern(ctx, e.keys.Prefix())
	if flushErr := e.store.Flush(ctx); flushErr != nil {
		err = multierr.Append(err, flushErr)
	}
	e.metrics.Invalidations.WithLabelValues("all").Add(float64(n))
	e.logger.Info("all cached data invalidated", zap.Int("removed", n))
	return err
}

func (e *Engine) match(path string) (Rule, bool) {
	for _, r := range e.rules {
		if r.matches(path) {
			return r, true
		}
	}
	return Rule{}, false
}

func (e *Engine) scope(expr string) string {
	return e.keys.Namespace + cache.KeySeparator + expr
}

// reverseLookup reads member ids from the cached collection list. A missing
// or oddly shaped snapshot yields no ids.
func (e *Engine) reverseLookup(ctx context.Context, rl ReverseLookup) []string {
	seen := make(map[string]struct{})
	for _, p := range spellings(rl.ListPath) {
		value, ok := e.store.Get(ctx, e.KeyFor(p))
		if !ok {
			continue
		}
		for _, member := range members(value) {
			obj, ok := member.(map[string]any)
			if !ok {
				continue
			}
			id, ok := obj[rl.Field].(string)
			if !ok || id == "" {
				continue
			}
			seen[id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func members(value any) []any {
	switch v := value.(type) {
	case remote.Envelope:
		return v.Items()
	case *remote.Envelope:
		if v == nil {
			return nil
		}
		return v.Items()
	case map[string]any:
		return remote.Object(v).Items()
	case []any:
		return v
	default:
		return nil
	}
}
