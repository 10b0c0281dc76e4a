package main

import (
	"context"
	"fmt"

	"github.com/transit-schedules-data/internal/common/config"
	"github.com/transit-schedules-data/internal/common/db"
	"github.com/transit-schedules-data/internal/common/logger"
	"github.com/transit-schedules-data/internal/gtfs-static/importer"
	"github.com/transit-schedules-data/internal/store/pgxstore"
	"github.com/transit-schedules-data/internal/store/postgres"
	"github.com/transit-schedules-data/internal/store/sqlite"
)

type ingestStore interface {
	importer.Store
	EnsureSchema(ctx context.Context) error
}

// storage bundles the ingestion store with a database/sql handle for
// maintenance and health checks. With the pgx driver the two are separate
// pools.
type storage struct {
	store    ingestStore
	database *db.DB
	closers  []func()
}

func (s *storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStorage(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*storage, error) {
	pool := db.PoolConfig{MaxOpenConns: cfg.MaxOpenConns, MaxIdleConns: cfg.MaxOpenConns}

	switch cfg.Driver {
	case db.DriverPostgres:
		database, err := db.New(db.DriverPostgres, cfg.ConnectionString(), pool, log)
		if err != nil {
			return nil, err
		}
		return &storage{
			store:    postgres.New(database),
			database: database,
			closers:  []func(){func() { database.Close() }},
		}, nil

	case db.DriverPgx:
		s, err := pgxstore.New(ctx, cfg.URL(), int32(cfg.MaxOpenConns), log)
		if err != nil {
			return nil, err
		}
		database, err := db.New(db.DriverPgx, cfg.URL(), db.PoolConfig{MaxOpenConns: 2}, log)
		if err != nil {
			s.Close()
			return nil, err
		}
		return &storage{
			store:    s,
			database: database,
			closers:  []func(){s.Close, func() { database.Close() }},
		}, nil

	case db.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		return &storage{
			store:    s,
			database: s.DB(),
			closers:  []func(){func() { s.Close() }},
		}, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}
