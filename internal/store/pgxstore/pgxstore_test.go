package pgxstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transit-schedules-data/internal/common/logger"
	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

func setupStore(t *testing.T) *Store {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set - skipping integration test")
	}
	s, err := New(context.Background(), databaseURL, 4, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func TestCopyArrivalPoints(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	abbr := "pgx-test"
	_, err := s.pool.Exec(ctx, "DELETE FROM regions WHERE abbr = $1", abbr)
	require.NoError(t, err)

	region, err := s.InsertReturning(ctx, models.RegionsTable, []models.Row{{abbr, "Test", nil, nil, "UTC"}})
	require.NoError(t, err)
	agency, err := s.InsertReturning(ctx, models.AgenciesTable, []models.Row{{region[0], "Agency", "AG", "bus", nil}})
	require.NoError(t, err)
	schedule, err := s.InsertReturning(ctx, models.SchedulesTable, []models.Row{{agency[0], nil, "weekday", nil, "WKDY"}})
	require.NoError(t, err)
	line, err := s.InsertReturning(ctx, models.LinesTable, []models.Row{{agency[0], "Line", "bus", nil, "L1"}})
	require.NoError(t, err)
	station, err := s.InsertReturning(ctx, models.StationsTable, []models.Row{{region[0], "Stop", &models.Point{Lon: 1, Lat: 2}, "S1"}})
	require.NoError(t, err)

	err = s.InsertBatch(ctx, models.ArrivalPointsTable, []models.Row{
		{schedule[0], line[0], station[0], 1, "05:00:00", "05:00:30"},
		{schedule[0], line[0], station[0], 2, "25:10:00", "25:10:00"},
	})
	require.NoError(t, err)

	var n int
	require.NoError(t, s.pool.QueryRow(ctx, "SELECT count(*) FROM arrival_departure_points WHERE schedule_id = $1", schedule[0]).Scan(&n))
	assert.Equal(t, 2, n)

	for _, q := range []string{
		"DELETE FROM arrival_departure_points WHERE schedule_id = $1",
	} {
		_, err := s.pool.Exec(ctx, q, schedule[0])
		require.NoError(t, err)
	}
	for _, q := range []string{
		"DELETE FROM stations WHERE region_id = $1",
		"DELETE FROM lines WHERE agency_id IN (SELECT id FROM agencies WHERE region_id = $1)",
		"DELETE FROM schedules WHERE agency_id IN (SELECT id FROM agencies WHERE region_id = $1)",
		"DELETE FROM agencies WHERE region_id = $1",
		"DELETE FROM regions WHERE id = $1",
	} {
		_, err := s.pool.Exec(ctx, q, region[0])
		require.NoError(t, err)
	}
}
