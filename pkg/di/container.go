package di

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/backup"
	"github.com/goliatone/go-offline-sync/cache"
	"github.com/goliatone/go-offline-sync/catalog"
	"github.com/goliatone/go-offline-sync/config"
	"github.com/goliatone/go-offline-sync/connectivity"
	"github.com/goliatone/go-offline-sync/gateway"
	"github.com/goliatone/go-offline-sync/internal/logging"
	"github.com/goliatone/go-offline-sync/internal/metrics"
	"github.com/goliatone/go-offline-sync/internal/storage"
	"github.com/goliatone/go-offline-sync/invalidation"
	"github.com/goliatone/go-offline-sync/maintenance"
	"github.com/goliatone/go-offline-sync/metadata"
	"github.com/goliatone/go-offline-sync/prefetch"
	"github.com/goliatone/go-offline-sync/remote"
	"github.com/goliatone/go-offline-sync/syncqueue"
)

// KeyNamespace prefixes every response cache key.
const KeyNamespace = "offline"

// Container owns one instance of every engine component. Build it once per
// process with NewContainer and release it with Close.
type Container struct {
	config   config.Config
	logger   *zap.Logger
	registry prometheus.Registerer
	gatherer prometheus.Gatherer
	metrics  *metrics.Metrics

	db       *bun.DB
	ownDB    bool
	store    cache.Store
	keys     cache.Fingerprinter
	metaKeys cache.Fingerprinter
	backup   *backup.Store
	cache    *cache.Service
	oracle   *connectivity.Oracle
	queue    *syncqueue.Queue
	engine   *invalidation.Engine
	session  *gateway.SessionToken
	gateway  *gateway.Gateway
	ui       *gateway.UI
	meta     *metadata.Connector
	catalog  *catalog.Repository
	warmer   *prefetch.Service
	house    *maintenance.Housekeeper
	cleaner  *maintenance.Cleaner

	httpClient *http.Client
	prober     connectivity.Prober
}

// Option customises the Container.
type Option func(*Container)

// WithLogger replaces the logger built from the log config.
func WithLogger(l *zap.Logger) Option {
	return func(c *Container) { c.logger = l }
}

// WithRegistry registers metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(c *Container) {
		c.registry = reg
		c.gatherer = reg
	}
}

// WithDB uses an open database instead of the configured one. The caller
// keeps ownership.
func WithDB(db *bun.DB) Option {
	return func(c *Container) { c.db = db }
}

// WithHTTPClient sets the transport shared by the remote clients and the
// connectivity probe.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Container) { c.httpClient = h }
}

// WithProber replaces the HTTP connectivity probe.
func WithProber(p connectivity.Prober) Option {
	return func(c *Container) { c.prober = p }
}

// NewContainer builds and wires every component from cfg and creates the
// tables.
func NewContainer(ctx context.Context, cfg *config.Config, opts ...Option) (*Container, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	c := &Container{config: *cfg}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		l, err := logging.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, err
		}
		c.logger = l
	}
	if c.registry == nil {
		reg := prometheus.NewRegistry()
		c.registry, c.gatherer = reg, reg
	}
	c.metrics = metrics.New(c.registry)
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}

	if c.db == nil {
		db, err := storage.Open(ctx, storage.Config{
			Driver:       cfg.Database.Driver,
			DSN:          cfg.Database.DSN,
			MaxOpenConns: cfg.Database.MaxOpenConns,
		})
		if err != nil {
			return nil, err
		}
		c.db, c.ownDB = db, true
	}

	if err := c.build(); err != nil {
		_ = c.closeDB()
		return nil, err
	}
	if err := storage.Migrate(ctx, c.backup, c.queue, c.catalog); err != nil {
		_ = c.closeDB()
		return nil, err
	}
	return c, nil
}

func (c *Container) build() error {
	cfg := c.config

	store, err := cache.NewStore(cache.Config{
		Capacity:           cfg.Cache.Capacity,
		NumShards:          cfg.Cache.NumShards,
		EvictionPercentage: cfg.Cache.EvictionPercentage,
		EvictionInterval:   cfg.Cache.EvictionInterval,
	})
	if err != nil {
		return err
	}
	c.store = store
	c.keys = cache.NewFingerprinter(KeyNamespace)
	c.metaKeys = cache.NewFingerprinter(metadata.KeyNamespace)

	prober := c.prober
	if prober == nil {
		p := connectivity.NewHTTPProber(c.logger, cfg.Connectivity.Endpoints...)
		p.Client = c.httpClient
		prober = p
	}
	c.oracle = connectivity.NewOracle(
		connectivity.Config{TTL: cfg.Connectivity.TTL, ProbeTimeout: cfg.Connectivity.ProbeTimeout},
		connectivity.WithProber(prober),
		connectivity.WithLogger(c.logger),
		connectivity.WithMetrics(c.metrics),
	)

	c.backup = backup.NewStore(c.db, backup.WithLogger(c.logger), backup.WithMetrics(c.metrics))
	c.cache = cache.NewService(store,
		cache.WithBackup(c.backup),
		cache.WithAccessRecorder(c.backup),
		cache.WithOracle(c.oracle),
		cache.WithLogger(c.logger),
		cache.WithMetrics(c.metrics),
	)

	queueCfg := syncqueue.Config{
		Capacity:    cfg.Queue.Capacity,
		WarnRatio:   cfg.Queue.WarnRatio,
		MaxAttempts: cfg.Queue.MaxAttempts,
		BaseDelay:   cfg.Queue.BaseDelay,
		BatchSize:   cfg.Queue.BatchSize,
		Retention:   cfg.Queue.Retention,
		Lease:       cfg.Queue.Lease,
	}
	if err := queueCfg.Validate(); err != nil {
		return err
	}
	c.queue = syncqueue.NewQueue(c.db,
		syncqueue.WithConfig(queueCfg),
		syncqueue.WithOracle(c.oracle),
		syncqueue.WithLogger(c.logger),
		syncqueue.WithMetrics(c.metrics),
	)

	c.engine = invalidation.NewEngine(store, c.keys, cfg.API.BaseURL,
		invalidation.WithBackup(c.backup),
		invalidation.WithLogger(c.logger),
		invalidation.WithMetrics(c.metrics),
	)

	upload := gateway.DefaultUploadPolicy()
	upload.MaxBytes = cfg.Upload.MaxBytes
	if len(cfg.Upload.Types) > 0 {
		upload.Types = cfg.Upload.Types
	}
	if len(cfg.Upload.Extensions) > 0 {
		upload.Extensions = cfg.Upload.Extensions
	}

	c.session = &gateway.SessionToken{}
	c.gateway = gateway.New(cfg.API.BaseURL, c.remoteClient("app-api"), c.cache,
		gateway.WithOracle(c.oracle),
		gateway.WithQueue(c.queue),
		gateway.WithInvalidator(c.engine),
		gateway.WithTokens(gateway.ChainTokens{c.session, gateway.StaticToken(cfg.API.Token)}),
		gateway.WithFingerprinter(c.keys),
		gateway.WithUploadPolicy(upload),
		gateway.WithLogger(c.logger),
		gateway.WithMetrics(c.metrics),
	)
	c.ui = gateway.NewUI(c.gateway)

	c.meta = metadata.NewConnector(
		metadata.Config{BaseURL: cfg.Metadata.BaseURL, Locale: cfg.Metadata.Locale},
		c.remoteClient("metadata-api"),
		metadata.WithTokens(gateway.StaticToken(cfg.Metadata.Token)),
		metadata.WithMiddleware(
			metadata.OfflineFallback(c.backup, c.oracle, c.metaKeys, metadata.WithMiddlewareLogger(c.logger)),
			metadata.ResponseCache(c.cache, c.metaKeys, metadata.WithMiddlewareLogger(c.logger)),
		),
		metadata.WithLogger(c.logger),
	)

	c.catalog = catalog.NewRepository(c.db, store, catalog.WithLogger(c.logger))
	c.warmer = prefetch.NewService(c.cache,
		prefetch.WithMetadata(c.meta),
		prefetch.WithReader(c.gateway),
		prefetch.WithCatalog(c.catalog),
		prefetch.WithLogger(c.logger),
	)

	c.house = maintenance.NewHousekeeper(
		maintenance.WithBackup(c.backup),
		maintenance.WithFastCache(store),
		maintenance.WithQueue(c.queue),
		maintenance.WithBudget(cfg.Maintenance.BudgetBytes),
		maintenance.WithRetention(cfg.Queue.Retention),
		maintenance.WithHousekeeperLogger(c.logger),
	)
	c.cleaner = maintenance.NewCleaner(
		maintenance.WithConnectivity(c.oracle),
		maintenance.WithSync(c.queue, c.gateway, cfg.Queue.BatchSize),
		maintenance.WithHousekeeper(c.house),
		maintenance.WithPrewarmer(c.warmer),
		maintenance.WithSchedule(maintenance.JobConnectivity, cfg.Maintenance.ConnectivitySchedule),
		maintenance.WithSchedule(maintenance.JobSync, cfg.Maintenance.SyncSchedule),
		maintenance.WithSchedule(maintenance.JobHousekeeping, cfg.Maintenance.HousekeepingSchedule),
		maintenance.WithSchedule(maintenance.JobPrewarm, cfg.Maintenance.PrewarmSchedule),
		maintenance.WithJobTimeout(cfg.Maintenance.JobTimeout),
		maintenance.WithLogger(c.logger),
		maintenance.WithMetrics(c.metrics),
	)

	c.oracle.OnRestore(func(ctx context.Context) {
		if err := c.cleaner.Sync(ctx); err != nil {
			c.logger.Warn("sync after reconnect failed", zap.Error(err))
		}
	})
	return nil
}

func (c *Container) remoteClient(name string) remote.Client {
	httpCfg := remote.DefaultHTTPConfig(name)
	if c.config.API.Timeout > 0 {
		httpCfg.Timeout = c.config.API.Timeout
	}
	if c.config.API.MaxTries > 0 {
		httpCfg.MaxTries = c.config.API.MaxTries
	}
	httpCfg.RetryDelay = c.config.API.RetryDelay
	return remote.NewHTTPClient(httpCfg,
		remote.WithHTTPClient(c.httpClient),
		remote.WithClientLogger(c.logger),
	)
}

// Start launches the maintenance scheduler when it is enabled.
func (c *Container) Start() error {
	if !c.config.Maintenance.Enabled {
		return nil
	}
	return c.cleaner.Start()
}

// Close stops the scheduler, waits for running jobs and closes the database
// when the container opened it.
func (c *Container) Close(ctx context.Context) error {
	var errs error
	select {
	case <-c.cleaner.Stop().Done():
	case <-ctx.Done():
		errs = multierr.Append(errs, ctx.Err())
	}
	errs = multierr.Append(errs, c.closeDB())
	_ = c.logger.Sync()
	return errs
}

func (c *Container) closeDB() error {
	if !c.ownDB || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() config.Config { return c.config }

// Logger returns the root logger.
func (c *Container) Logger() *zap.Logger { return c.logger }

// Gatherer returns the registry the metrics are registered on.
func (c *Container) Gatherer() prometheus.Gatherer { return c.gatherer }

// DB returns the durable store.
func (c *Container) DB() *bun.DB { return c.db }

// CacheService returns the remember cache.
func (c *Container) CacheService() *cache.Service { return c.cache }

// Keys returns the response key fingerprinter.
func (c *Container) Keys() cache.Fingerprinter { return c.keys }

// Backup returns the offline backup store.
func (c *Container) Backup() *backup.Store { return c.backup }

// Oracle returns the connectivity oracle.
func (c *Container) Oracle() *connectivity.Oracle { return c.oracle }

// Queue returns the mutation queue.
func (c *Container) Queue() *syncqueue.Queue { return c.queue }

// Invalidation returns the invalidation engine.
func (c *Container) Invalidation() *invalidation.Engine { return c.engine }

// Session holds the bearer token of the signed in user.
func (c *Container) Session() *gateway.SessionToken { return c.session }

// Gateway returns the request façade.
func (c *Container) Gateway() *gateway.Gateway { return c.gateway }

// UI returns the envelope returning wrapper around the gateway.
func (c *Container) UI() *gateway.UI { return c.ui }

// Metadata returns the metadata API connector.
func (c *Container) Metadata() *metadata.Connector { return c.meta }

// Catalog returns the local media catalog.
func (c *Container) Catalog() *catalog.Repository { return c.catalog }

// Prefetch returns the cache warmers.
func (c *Container) Prefetch() *prefetch.Service { return c.warmer }

// Housekeeper returns the storage housekeeper.
func (c *Container) Housekeeper() *maintenance.Housekeeper { return c.house }

// Cleaner returns the maintenance scheduler.
func (c *Container) Cleaner() *maintenance.Cleaner { return c.cleaner }
