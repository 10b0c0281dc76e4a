// Package postgres implements the ingestion store over database/sql and
// lib/pq against a PostGIS-enabled Postgres.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/lib/pq"

	"github.com/transit-schedules-data/internal/common/db"
	"github.com/transit-schedules-data/internal/store"
	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

type Store struct {
	db *db.DB
}

func New(database *db.DB) *Store {
	return &Store{db: database}
}

// EnsureSchema applies the reference schema.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.DB().ExecContext(ctx, store.PostgresSchema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// InsertReturning reserves one id per row from the table's sequence and
// inserts the rows with those ids, so keys line up with input order.
func (s *Store) InsertReturning(ctx context.Context, table models.Table, rows []models.Row) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	ids, err := reserveIDs(ctx, tx, table.Name, len(rows))
	if err != nil {
		return nil, err
	}

	query := store.Postgres.InsertSQL(table, len(rows), true)
	if _, err := tx.ExecContext(ctx, query, store.Args(rows, ids)...); err != nil {
		return nil, fmt.Errorf("inserting into %s: %w", table.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return ids, nil
}

func reserveIDs(ctx context.Context, tx *sql.Tx, table string, n int) ([]int64, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT nextval(pg_get_serial_sequence($1::text, 'id')) FROM generate_series(1, $2::int)`, table, n)
	if err != nil {
		return nil, fmt.Errorf("reserving %d ids for %s: %w", n, table, err)
	}
	defer rows.Close()

	ids := make([]int64, 0, n)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning reserved id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reserved ids: %w", err)
	}
	if len(ids) != n {
		return nil, fmt.Errorf("reserved %d ids for %s, wanted %d", len(ids), table, n)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// InsertBatch streams rows with COPY FROM STDIN inside one transaction.
func (s *Store) InsertBatch(ctx context.Context, table models.Table, rows []models.Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table.Name, table.Columns...))
	if err != nil {
		return fmt.Errorf("preparing copy into %s: %w", table.Name, err)
	}

	for _, row := range rows {
		values := make([]any, len(row))
		for i, v := range row {
			values[i] = store.EWKT(v)
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			stmt.Close()
			return fmt.Errorf("copying row into %s: %w", table.Name, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flushing copy into %s: %w", table.Name, err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("closing copy into %s: %w", table.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
