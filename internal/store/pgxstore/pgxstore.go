// Package pgxstore implements the ingestion store on a pgx connection pool,
// using the binary COPY protocol for keyless bulk writes.
package pgxstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/transit-schedules-data/internal/common/logger"
	"github.com/transit-schedules-data/internal/store"
	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

type Store struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// New connects a pool. maxConns of zero keeps the pgxpool default.
func New(ctx context.Context, databaseURL string, maxConns int32, logger logger.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database pool established", "driver", "pgx", "max_conns", cfg.MaxConns)
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema applies the reference schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, store.PostgresSchema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// InsertReturning reserves ids from the table's sequence, then queues one
// INSERT per row in a batch so all rows travel in a single round trip.
func (s *Store) InsertReturning(ctx context.Context, table models.Table, rows []models.Row) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ids, err := reserveIDs(ctx, tx, table.Name, len(rows))
	if err != nil {
		return nil, err
	}

	if err := sendRows(ctx, tx, table, rows, ids); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return ids, nil
}

func reserveIDs(ctx context.Context, tx pgx.Tx, table string, n int) ([]int64, error) {
	rows, err := tx.Query(ctx,
		`SELECT nextval(pg_get_serial_sequence($1::text, 'id')) FROM generate_series(1, $2::int)`, table, n)
	if err != nil {
		return nil, fmt.Errorf("reserving %d ids for %s: %w", n, table, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collecting reserved ids: %w", err)
	}
	if len(ids) != n {
		return nil, fmt.Errorf("reserved %d ids for %s, wanted %d", len(ids), table, n)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// sendRows queues one INSERT per row. ids may be nil for keyless writes.
func sendRows(ctx context.Context, tx pgx.Tx, table models.Table, rows []models.Row, ids []int64) error {
	query := store.Postgres.InsertSQL(table, 1, ids != nil)
	batch := &pgx.Batch{}
	for i, row := range rows {
		var rowIDs []int64
		if ids != nil {
			rowIDs = ids[i : i+1]
		}
		batch.Queue(query, store.Args([]models.Row{row}, rowIDs)...)
	}

	results := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("inserting into %s: %w", table.Name, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("closing batch for %s: %w", table.Name, err)
	}
	return nil
}

// InsertBatch uses COPY FROM. Geometry tables go through a batch of INSERTs
// instead, as COPY cannot wrap values in ST_GeomFromText.
func (s *Store) InsertBatch(ctx context.Context, table models.Table, rows []models.Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if store.HasGeometry(table) {
		if err := sendRows(ctx, tx, table, rows, nil); err != nil {
			return err
		}
	} else {
		source := make([][]any, len(rows))
		for i, row := range rows {
			source[i] = row
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{table.Name}, table.Columns, pgx.CopyFromRows(source))
		if err != nil {
			return fmt.Errorf("copying into %s: %w", table.Name, err)
		}
		if int(n) != len(rows) {
			return fmt.Errorf("copied %d of %d rows into %s", n, len(rows), table.Name)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
