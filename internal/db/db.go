package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	_ "modernc.org/sqlite"

	"github.com/sj48695/langchain-example/internal/config"
	"github.com/sj48695/langchain-example/internal/models"
)

// Open connects to the configured database and wraps it with the matching
// bun dialect.
func Open(cfg *config.DatabaseConfig) (*bun.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	var sqldb *sql.DB
	var err error
	switch cfg.Driver {
	case "", "pgdriver":
		sqldb = ConnectDB(cfg.DSN, cfg.Password)
		return NewDB(sqldb, cfg.Debug), nil
	case "postgres":
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		return NewDB(sqldb, cfg.Debug), nil
	case "sqlite":
		sqldb, err = sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		// a second connection would see a different :memory: database
		sqldb.SetMaxOpenConns(1)
		db := bun.NewDB(sqldb, sqlitedialect.New())
		addDebugHook(db, cfg.Debug)
		return db, nil
	default:
		return nil, fmt.Errorf("%w: database driver %q", models.ErrUnknownBackend, cfg.Driver)
	}
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	addDebugHook(db, debug)
	return db
}

func addDebugHook(db *bun.DB, debug bool) {
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
}

func ConnectDB(dsn, password string) *sql.DB {
	opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
	if password != "" {
		opts = append(opts, pgdriver.WithPassword(password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...))
}
