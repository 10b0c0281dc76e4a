package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

func TestInsertSQLPostgres(t *testing.T) {
	got := Postgres.InsertSQL(models.StationsTable, 2, true)
	want := "INSERT INTO stations (id, region_id, station_name, coordinates, station_code) VALUES " +
		"($1, $2, $3, ST_GeomFromText($4, 4326), $5), ($6, $7, $8, ST_GeomFromText($9, 4326), $10)"
	assert.Equal(t, want, got)
}

func TestInsertSQLSQLite(t *testing.T) {
	got := SQLite.InsertSQL(models.LinesTable, 1, false)
	assert.Equal(t, "INSERT INTO lines (agency_id, line_name, route_mode, route_color, route_code) VALUES (?, ?, ?, ?, ?)", got)
}

func TestArgsConvertsGeometry(t *testing.T) {
	var missing *models.Point
	rows := []models.Row{
		{int64(1), "Embarcadero", &models.Point{Lon: -122.39702, Lat: 37.792874}, "EMBR"},
		{int64(1), "Nowhere", missing, "NONE"},
	}
	args := Args(rows, []int64{10, 11})
	assert.Equal(t, []any{
		int64(10), int64(1), "Embarcadero", "POINT(-122.39702 37.792874)", "EMBR",
		int64(11), int64(1), "Nowhere", nil, "NONE",
	}, args)
}

func TestEWKT(t *testing.T) {
	assert.Equal(t, "SRID=4326;POINT(1 2)", EWKT(models.Point{Lon: 1, Lat: 2}))
	assert.Equal(t, "plain", EWKT("plain"))
	assert.Equal(t, 7, EWKT(7))
}

func TestSchemasEmbedded(t *testing.T) {
	for _, table := range models.Tables {
		assert.Contains(t, PostgresSchema, "CREATE TABLE IF NOT EXISTS "+table.Name)
		assert.Contains(t, SQLiteSchema, "CREATE TABLE IF NOT EXISTS "+table.Name)
	}
}
