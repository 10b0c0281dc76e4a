package models

// Table names a store collection and the column order of its rows.
// Geometry names the column holding a Point, if any.
type Table struct {
	Name     string
	Columns  []string
	Geometry string
}

// Row holds one value per Table column. Values are string, int, int64,
// float64, time.Time, nil, Point or *Point (geometry).
type Row []any

var (
	RegionsTable = Table{
		Name:    "regions",
		Columns: []string{"abbr", "name", "description", "notes", "region_tz"},
	}
	AgenciesTable = Table{
		Name:    "agencies",
		Columns: []string{"region_id", "agency_name", "agency_abbr", "transit_mode", "secondary_modes"},
	}
	SchedulesTable = Table{
		Name:    "schedules",
		Columns: []string{"agency_id", "log_time", "schedule_type", "raw_schedule_type", "schedule_code"},
	}
	LinesTable = Table{
		Name:    "lines",
		Columns: []string{"agency_id", "line_name", "route_mode", "route_color", "route_code"},
	}
	StationsTable = Table{
		Name:     "stations",
		Columns:  []string{"region_id", "station_name", "coordinates", "station_code"},
		Geometry: "coordinates",
	}
	ArrivalPointsTable = Table{
		Name:    "arrival_departure_points",
		Columns: []string{"schedule_id", "line_id", "station_id", "stop_sequence", "arrival_time", "departure_time"},
	}
)

// NullIfEmpty maps "" to a SQL NULL.
func NullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Tables lists every table in dependency order, parents first.
var Tables = []Table{RegionsTable, AgenciesTable, SchedulesTable, LinesTable, StationsTable, ArrivalPointsTable}
