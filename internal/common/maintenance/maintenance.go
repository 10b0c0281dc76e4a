package maintenance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/transit-schedules-data/internal/common/db"
	"github.com/transit-schedules-data/internal/common/logger"
	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

// ErrRegionNotFound is returned when no region has the given abbreviation.
var ErrRegionNotFound = errors.New("region not found")

// PurgeResult counts the rows deleted per table.
type PurgeResult struct {
	RegionID int64
	Deleted  map[string]int64
}

// Total is the number of rows deleted across all tables.
func (r *PurgeResult) Total() int64 {
	var n int64
	for _, d := range r.Deleted {
		n += d
	}
	return n
}

// Maintenance handles operator remediation against the schedule tables
type Maintenance struct {
	db     *db.DB
	logger logger.Logger
}

func New(database *db.DB, logger logger.Logger) *Maintenance {
	return &Maintenance{
		db:     database,
		logger: logger,
	}
}

// RegionID looks up a persisted region by abbreviation.
func (m *Maintenance) RegionID(ctx context.Context, abbr string) (int64, error) {
	var id int64
	err := m.db.DB().QueryRowContext(ctx, m.db.Rebind(`SELECT id FROM regions WHERE abbr = ?`), abbr).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrRegionNotFound, abbr)
	}
	if err != nil {
		return 0, fmt.Errorf("looking up region %s: %w", abbr, err)
	}
	return id, nil
}

// purgeStatements delete a region's rows children first. Each takes the
// region id once per placeholder.
var purgeStatements = []struct {
	table string
	query string
}{
	{models.ArrivalPointsTable.Name, `DELETE FROM arrival_departure_points
		WHERE schedule_id IN (SELECT s.id FROM schedules s JOIN agencies a ON s.agency_id = a.id WHERE a.region_id = ?)
		   OR line_id IN (SELECT l.id FROM lines l JOIN agencies a ON l.agency_id = a.id WHERE a.region_id = ?)
		   OR station_id IN (SELECT id FROM stations WHERE region_id = ?)`},
	{models.StationsTable.Name, `DELETE FROM stations WHERE region_id = ?`},
	{models.LinesTable.Name, `DELETE FROM lines WHERE agency_id IN (SELECT id FROM agencies WHERE region_id = ?)`},
	{models.SchedulesTable.Name, `DELETE FROM schedules WHERE agency_id IN (SELECT id FROM agencies WHERE region_id = ?)`},
	{models.AgenciesTable.Name, `DELETE FROM agencies WHERE region_id = ?`},
	{models.RegionsTable.Name, `DELETE FROM regions WHERE id = ?`},
}

// PurgeRegion deletes a region and everything persisted under it in one
// transaction. It is the remediation for a run that failed part way through
// persistence, since committed stages are never rolled back.
func (m *Maintenance) PurgeRegion(ctx context.Context, abbr string) (*PurgeResult, error) {
	regionID, err := m.RegionID(ctx, abbr)
	if err != nil {
		return nil, err
	}
	m.logger.Info("Purging region", "region", abbr, "region_id", regionID)

	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result := &PurgeResult{RegionID: regionID, Deleted: map[string]int64{}}
	for _, stmt := range purgeStatements {
		args := slices.Repeat([]any{regionID}, countPlaceholders(stmt.query))
		res, err := tx.ExecContext(ctx, m.db.Rebind(stmt.query), args...)
		if err != nil {
			return nil, fmt.Errorf("deleting from %s: %w", stmt.table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("counting deleted %s: %w", stmt.table, err)
		}
		result.Deleted[stmt.table] = n
		m.logger.Debug("Deleted rows", "table", stmt.table, "rows", n)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing purge: %w", err)
	}
	m.logger.Info("Region purged", "region", abbr, "rows_deleted", result.Total())

	// Vacuum runs outside the transaction; failure leaves the purge intact.
	if err := m.Vacuum(ctx); err != nil {
		m.logger.Warn("Failed to vacuum tables after purge", "error", err)
	}
	return result, nil
}

// Vacuum reclaims space after a purge: VACUUM ANALYZE per table on Postgres,
// a whole-file VACUUM on SQLite.
func (m *Maintenance) Vacuum(ctx context.Context) error {
	if m.db.Driver() == db.DriverSQLite {
		if _, err := m.db.DB().ExecContext(ctx, `VACUUM`); err != nil {
			return fmt.Errorf("vacuuming database: %w", err)
		}
		return nil
	}
	failed := 0
	for _, table := range models.Tables {
		if _, err := m.db.DB().ExecContext(ctx, "VACUUM ANALYZE "+table.Name); err != nil {
			m.logger.Error("Failed to vacuum table", "table", table.Name, "error", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("vacuum failed for %d out of %d tables", failed, len(models.Tables))
	}
	return nil
}

// Analyze refreshes planner statistics after a large import.
func (m *Maintenance) Analyze(ctx context.Context) error {
	for _, table := range models.Tables {
		if _, err := m.db.DB().ExecContext(ctx, "ANALYZE "+table.Name); err != nil {
			return fmt.Errorf("analyzing %s: %w", table.Name, err)
		}
	}
	m.logger.Debug("Table statistics refreshed", "tables", len(models.Tables))
	return nil
}

func countPlaceholders(query string) int {
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
		}
	}
	return n
}
