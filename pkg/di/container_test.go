package di

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-offline-sync/config"
	"github.com/goliatone/go-offline-sync/connectivity"
	"github.com/goliatone/go-offline-sync/pkg/testsupport"
)

func newTestContainer(t *testing.T, cfg *config.Config, opts ...Option) *Container {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	base := []Option{
		WithDB(testsupport.NewTestDB(t)),
		WithLogger(zap.NewNop()),
		WithProber(connectivity.ProberFunc(func(context.Context) bool { return true })),
	}
	container, err := NewContainer(context.Background(), cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = container.Close(ctx)
	})
	return container
}

func TestNewContainer(t *testing.T) {
	container := newTestContainer(t, nil)

	// Verify that dependencies are properly initialized
	if container.CacheService() == nil {
		t.Error("Container should have a non-nil cache service")
	}
	if container.Gateway() == nil || container.UI() == nil {
		t.Error("Container should have a gateway and its UI wrapper")
	}
	if container.Queue() == nil || container.Backup() == nil || container.Catalog() == nil {
		t.Error("Container should have its durable components")
	}
	if container.Oracle() == nil || container.Invalidation() == nil {
		t.Error("Container should have an oracle and an invalidation engine")
	}
	if container.Metadata() == nil || container.Prefetch() == nil {
		t.Error("Container should have the metadata connector and prefetch service")
	}
	if container.Housekeeper() == nil || container.Cleaner() == nil {
		t.Error("Container should have maintenance components")
	}
	if container.Keys().Prefix() != KeyNamespace+"::*" {
		t.Errorf("Keys().Prefix() = %q", container.Keys().Prefix())
	}
}

func TestNewContainerCreatesTables(t *testing.T) {
	container := newTestContainer(t, nil)
	ctx := context.Background()

	if _, err := container.Queue().Stats(ctx); err != nil {
		t.Errorf("queue table missing: %v", err)
	}
	if _, err := container.Backup().Count(ctx); err != nil {
		t.Errorf("backup table missing: %v", err)
	}
	if _, err := container.Catalog().Count(ctx, "movie"); err != nil {
		t.Errorf("catalog table missing: %v", err)
	}
}

func TestNewContainerAppliesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Queue.Capacity = 7
	cfg.Queue.BatchSize = 3

	container := newTestContainer(t, cfg)

	got := container.Queue().Config()
	if got.Capacity != 7 || got.BatchSize != 3 {
		t.Errorf("queue config = %+v, want capacity 7 batch 3", got)
	}
	if container.Config().Queue.Capacity != 7 {
		t.Error("Config() should return the configuration used")
	}
}

func TestNewContainerRejectsInvalidQueueConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Queue.BaseDelay = 0

	_, err := NewContainer(context.Background(), cfg,
		WithDB(testsupport.NewTestDB(t)),
		WithLogger(zap.NewNop()),
	)
	if err == nil {
		t.Fatal("expected an error for a zero base delay")
	}
}

func TestNewContainerOpensConfiguredDatabase(t *testing.T) {
	cfg := config.Default()
	cfg.Database.DSN = ":memory:"

	container, err := NewContainer(context.Background(), cfg, WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	if container.DB() == nil {
		t.Fatal("DB() should not be nil")
	}
	if err := container.Close(context.Background()); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if err := container.DB().Ping(); err == nil {
		t.Error("database should be closed after Close()")
	}
}

func TestContainerStartRespectsMaintenanceFlag(t *testing.T) {
	cfg := config.Default()
	cfg.Maintenance.Enabled = false
	container := newTestContainer(t, cfg)
	if err := container.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	cfg = config.Default()
	cfg.Maintenance.SyncSchedule = "every now and then"
	container = newTestContainer(t, cfg)
	if err := container.Start(); err == nil {
		t.Error("Start() should reject an invalid schedule")
	}
}

func TestContainerMetricsRegistered(t *testing.T) {
	container := newTestContainer(t, nil)
	container.Oracle().Report(true)

	families, err := container.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "offline_sync_online" {
			found = true
		}
	}
	if !found {
		t.Error("expected offline_sync_online to be registered")
	}
}
