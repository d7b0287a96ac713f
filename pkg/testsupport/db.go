package testsupport

import (
	"context"
	"testing"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-offline-sync/internal/storage"
)

// NewTestDB returns a private in-memory SQLite database with schemas applied.
// It is closed when the test ends.
func NewTestDB(t testing.TB, schemas ...func(*bun.DB) storage.Schema) *bun.DB {
	t.Helper()

	ctx := context.Background()
	db, err := storage.Open(ctx, storage.MemoryConfig())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, build := range schemas {
		if err := build(db).CreateSchema(ctx); err != nil {
			t.Fatalf("failed to create schema: %v", err)
		}
	}
	return db
}
