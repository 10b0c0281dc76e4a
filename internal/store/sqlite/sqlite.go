// Package sqlite implements the ingestion store on modernc.org/sqlite. Points
// are kept as well-known text. It backs local runs and integration tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/transit-schedules-data/internal/common/db"
	"github.com/transit-schedules-data/internal/common/logger"
	"github.com/transit-schedules-data/internal/store"
	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

type Store struct {
	db *db.DB
}

// DSN adds the pragmas every connection needs to a database path.
// Use ":memory:" for a private in-memory database.
func DSN(path string) string {
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Open opens path with a single connection, as SQLite serialises writers.
func Open(path string, logger logger.Logger) (*Store, error) {
	database, err := db.New(db.DriverSQLite, DSN(path), db.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, logger)
	if err != nil {
		return nil, err
	}
	return New(database), nil
}

func New(database *db.DB) *Store {
	return &Store{db: database}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for maintenance and tests.
func (s *Store) DB() *db.DB {
	return s.db
}

// EnsureSchema applies the reference schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.DB().ExecContext(ctx, store.SQLiteSchema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// InsertReturning inserts row by row in one transaction, collecting each
// LastInsertId in input order.
func (s *Store) InsertReturning(ctx context.Context, table models.Table, rows []models.Row) ([]int64, error) {
	ids := make([]int64, 0, len(rows))
	err := s.inTx(ctx, table, func(stmt *sql.Stmt) error {
		for _, row := range rows {
			res, err := stmt.ExecContext(ctx, store.Args([]models.Row{row}, nil)...)
			if err != nil {
				return fmt.Errorf("inserting into %s: %w", table.Name, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("reading id from %s: %w", table.Name, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) InsertBatch(ctx context.Context, table models.Table, rows []models.Row) error {
	return s.inTx(ctx, table, func(stmt *sql.Stmt) error {
		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, store.Args([]models.Row{row}, nil)...); err != nil {
				return fmt.Errorf("inserting into %s: %w", table.Name, err)
			}
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, table models.Table, fn func(stmt *sql.Stmt) error) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, store.SQLite.InsertSQL(table, 1, false))
	if err != nil {
		return fmt.Errorf("preparing insert into %s: %w", table.Name, err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
