// Package storage opens the bun database shared by the backup, queue and
// catalog tables.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the database.
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// DefaultConfig is an on-device SQLite file.
func DefaultConfig() Config {
	return Config{
		Driver:       DriverSQLite,
		DSN:          "file:offline-sync.db?_busy_timeout=5000&_journal_mode=WAL",
		MaxOpenConns: 1,
	}
}

// MemoryConfig is a private in-memory SQLite database. It must keep a single
// connection, every new connection would see an empty database.
func MemoryConfig() Config {
	return Config{Driver: DriverSQLite, DSN: ":memory:", MaxOpenConns: 1}
}

// Open connects and pings the database.
func Open(ctx context.Context, cfg Config) (*bun.DB, error) {
	var (
		sqldb *sql.DB
		err   error
		db    *bun.DB
	)

	switch strings.ToLower(cfg.Driver) {
	case DriverSQLite, "sqlite3", "":
		sqldb, err = sql.Open("sqlite3", cfg.DSN)
		if err != nil {
			return nil, err
		}
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case DriverPostgres, "pg":
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, err
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", cfg.Driver)
	}

	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		sqldb.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", cfg.Driver, err)
	}
	return db, nil
}

// Schema is implemented by every package that owns tables.
type Schema interface {
	CreateSchema(ctx context.Context) error
}

// Migrate creates the tables of each schema in order.
func Migrate(ctx context.Context, schemas ...Schema) error {
	for _, s := range schemas {
		if err := s.CreateSchema(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Index describes a secondary index.
type Index struct {
	Name    string
	Unique  bool
	Columns []string
}

// CreateTable creates the table for model and its indexes if missing.
func CreateTable(ctx context.Context, db bun.IDB, model any, indexes ...Index) error {
	if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("storage: create table: %w", err)
	}

	for _, idx := range indexes {
		q := db.NewCreateIndex().Model(model).Index(idx.Name).Column(idx.Columns...).IfNotExists()
		if idx.Unique {
			q = q.Unique()
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("storage: create index %s: %w", idx.Name, err)
		}
	}
	return nil
}

// LikeClause is the WHERE fragment for escaped wildcard matches on column.
func LikeClause(column string) string {
	return column + ` LIKE ? ESCAPE '\'`
}
