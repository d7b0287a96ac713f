package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-offline-sync/internal/pattern"
)

type widget struct {
	bun.BaseModel `bun:"table:widgets"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Name      string    `bun:"name,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type widgetSchema struct{ db *bun.DB }

func (s widgetSchema) CreateSchema(ctx context.Context) error {
	return CreateTable(ctx, s.db, (*widget)(nil),
		Index{Name: "widgets_name_uidx", Unique: true, Columns: []string{"name"}})
}

func TestOpenMemoryAndMigrate(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, MemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(ctx, widgetSchema{db}))
	// idempotent
	require.NoError(t, Migrate(ctx, widgetSchema{db}))

	rows := []widget{
		{Name: "api::get::/wishlists::1", CreatedAt: time.Now().UTC()},
		{Name: "api::get::/items_100%::2", CreatedAt: time.Now().UTC()},
	}
	_, err = db.NewInsert().Model(&rows).Exec(ctx)
	require.NoError(t, err)

	_, err = db.NewInsert().Model(&widget{Name: rows[0].Name, CreatedAt: time.Now()}).Exec(ctx)
	assert.Error(t, err, "unique index must reject duplicates")

	count, err := db.NewSelect().Model((*widget)(nil)).
		Where(LikeClause("name"), pattern.ToLike("*items_100%*")).
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = db.NewSelect().Model((*widget)(nil)).
		Where(LikeClause("name"), pattern.ToLike("*_1000*")).
		Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "underscore must not act as a wildcard")
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DriverSQLite, cfg.Driver)
	assert.Equal(t, 1, cfg.MaxOpenConns)
}
