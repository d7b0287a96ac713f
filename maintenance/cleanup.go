package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/internal/logging"
	"github.com/goliatone/go-offline-sync/internal/metrics"
	"github.com/goliatone/go-offline-sync/syncqueue"
)

// Job names, also used as the metrics label.
const (
	JobConnectivity = "connectivity"
	JobSync         = "sync"
	JobHousekeeping = "housekeeping"
	JobPrewarm      = "prewarm"
)

const (
	defaultConnectivitySpec = "@every 1m"
	defaultSyncSpec         = "@every 5m"
	defaultHousekeepingSpec = "0 3 * * *"
	defaultPrewarmSpec      = "0 */3 * * *"
)

// Refresher re-probes connectivity.
type Refresher interface {
	Refresh(ctx context.Context) bool
}

// Drainer replays queued mutations.
type Drainer interface {
	Drain(ctx context.Context, batch int, r syncqueue.Replayer) (syncqueue.DrainReport, error)
}

// Prewarmer refills the trending lists.
type Prewarmer interface {
	Trending(ctx context.Context) (int, error)
}

// Cleaner schedules the background jobs on a cron. Jobs whose dependency is
// nil are not registered.
type Cleaner struct {
	cron        *cron.Cron
	oracle      Refresher
	queue       Drainer
	replayer    syncqueue.Replayer
	batch       int
	housekeeper *Housekeeper
	prewarmer   Prewarmer
	timeout     time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics

	schedules map[string]string

	// draining is held by the one drain in flight. The cron job, the
	// reconnect hook and manual syncs all share it.
	draining sync.Mutex
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithConnectivity enables the periodic connectivity probe.
func WithConnectivity(r Refresher) Option {
	return func(c *Cleaner) { c.oracle = r }
}

// WithSync enables periodic draining of q through r.
func WithSync(q Drainer, r syncqueue.Replayer, batch int) Option {
	return func(c *Cleaner) {
		c.queue = q
		c.replayer = r
		c.batch = batch
	}
}

// WithHousekeeper enables nightly housekeeping.
func WithHousekeeper(h *Housekeeper) Option {
	return func(c *Cleaner) { c.housekeeper = h }
}

// WithPrewarmer enables the trending prewarm.
func WithPrewarmer(p Prewarmer) Option {
	return func(c *Cleaner) { c.prewarmer = p }
}

// WithSchedule overrides the cron specification of job.
func WithSchedule(job, spec string) Option {
	return func(c *Cleaner) {
		if spec != "" {
			c.schedules[job] = spec
		}
	}
}

// WithJobTimeout bounds each scheduled run.
func WithJobTimeout(d time.Duration) Option {
	return func(c *Cleaner) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cleaner) { c.logger = l }
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cleaner) { c.metrics = m }
}

// NewCleaner constructs a Cleaner with the default schedules.
func NewCleaner(opts ...Option) *Cleaner {
	c := &Cleaner{
		timeout: 5 * time.Minute,
		schedules: map[string]string{
			JobConnectivity: defaultConnectivitySpec,
			JobSync:         defaultSyncSpec,
			JobHousekeeping: defaultHousekeepingSpec,
			JobPrewarm:      defaultPrewarmSpec,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.WithModule(c.logger, "maintenance")
	c.metrics = metrics.OrNop(c.metrics)

	if c.cron == nil {
		c.cron = cron.New(
			cron.WithLogger(cron.DiscardLogger),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		)
	}
	return c
}

type job struct {
	name string
	run  func(context.Context) error
}

func (c *Cleaner) jobs() []job {
	var out []job
	if c.oracle != nil {
		out = append(out, job{JobConnectivity, c.refresh})
	}
	if c.queue != nil && c.replayer != nil {
		out = append(out, job{JobSync, c.drain})
	}
	if c.housekeeper != nil {
		out = append(out, job{JobHousekeeping, c.housekeep})
	}
	if c.prewarmer != nil {
		out = append(out, job{JobPrewarm, c.prewarm})
	}
	return out
}

// Start registers the enabled jobs and launches the scheduler.
func (c *Cleaner) Start() error {
	jobs := c.jobs()
	if len(jobs) == 0 {
		return nil
	}
	for _, j := range jobs {
		j := j
		if _, err := c.cron.AddFunc(c.schedules[j.name], func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			_ = c.run(ctx, j.name, j.run)
		}); err != nil {
			return err
		}
	}
	c.cron.Start()
	return nil
}

// Stop halts the scheduler. The returned context is done once running jobs
// complete.
func (c *Cleaner) Stop() context.Context {
	return c.cron.Stop()
}

// RunOnce executes every enabled job sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	var errs error
	for _, j := range c.jobs() {
		errs = multierr.Append(errs, c.run(ctx, j.name, j.run))
	}
	return errs
}

// Sync drains the queue and refreshes trending data. It is the hook run when
// connectivity comes back.
func (c *Cleaner) Sync(ctx context.Context) error {
	var errs error
	if c.queue != nil && c.replayer != nil {
		errs = multierr.Append(errs, c.run(ctx, JobSync, c.drain))
	}
	if c.prewarmer != nil {
		errs = multierr.Append(errs, c.run(ctx, JobPrewarm, c.prewarm))
	}
	return errs
}

func (c *Cleaner) run(ctx context.Context, name string, fn func(context.Context) error) error {
	err := fn(ctx)
	if err != nil {
		c.metrics.MaintenanceRuns.WithLabelValues(name, "failure").Inc()
		c.logger.Warn("maintenance job failed", zap.String("job", name), zap.Error(err))
		return err
	}
	c.metrics.MaintenanceRuns.WithLabelValues(name, "success").Inc()
	return nil
}

func (c *Cleaner) refresh(ctx context.Context) error {
	c.oracle.Refresh(ctx)
	return nil
}

func (c *Cleaner) drain(ctx context.Context) error {
	if !c.draining.TryLock() {
		c.logger.Debug("sync queue drain already running")
		return nil
	}
	defer c.draining.Unlock()

	_, err := c.queue.Drain(ctx, c.batch, c.replayer)
	return err
}

func (c *Cleaner) housekeep(ctx context.Context) error {
	_, err := c.housekeeper.Run(ctx)
	return err
}

func (c *Cleaner) prewarm(ctx context.Context) error {
	_, err := c.prewarmer.Trending(ctx)
	return err
}
