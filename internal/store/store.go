// Package store holds what the SQL store implementations share: the reference
// schemas and the statement builder for bulk inserts.
package store

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

// SRID of every stored geometry.
const SRID = 4326

var (
	//go:embed postgres.sql
	PostgresSchema string
	//go:embed sqlite.sql
	SQLiteSchema string
)

// Dialect controls placeholder and geometry syntax.
type Dialect struct {
	Placeholder func(n int) string
	// Geometry wraps the placeholder of a geometry column.
	Geometry func(placeholder string) string
}

var (
	Postgres = Dialect{
		Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		Geometry: func(ph string) string {
			return fmt.Sprintf("ST_GeomFromText(%s, %d)", ph, SRID)
		},
	}
	SQLite = Dialect{
		Placeholder: func(int) string { return "?" },
		Geometry:    func(ph string) string { return ph },
	}
)

// InsertSQL builds a multi-row INSERT of n rows into table. With withID an
// explicit id column leads each row.
func (d Dialect) InsertSQL(table models.Table, n int, withID bool) string {
	columns := table.Columns
	if withID {
		columns = append([]string{"id"}, columns...)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", table.Name, strings.Join(columns, ", "))

	param := 0
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, col := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			param++
			ph := d.Placeholder(param)
			if col == table.Geometry && table.Geometry != "" {
				ph = d.Geometry(ph)
			}
			sb.WriteString(ph)
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// Args flattens rows into statement arguments, prefixing each row with its id
// when ids is non-nil.
func Args(rows []models.Row, ids []int64) []any {
	width := 0
	if len(rows) > 0 {
		width = len(rows[0])
	}
	if ids != nil {
		width++
	}
	args := make([]any, 0, len(rows)*width)
	for i, row := range rows {
		if ids != nil {
			args = append(args, ids[i])
		}
		for _, v := range row {
			args = append(args, Value(v))
		}
	}
	return args
}

// Value converts geometry values to well-known text and leaves the rest alone.
func Value(v any) any {
	switch p := v.(type) {
	case models.Point:
		return p.WKT()
	case *models.Point:
		if p == nil {
			return nil
		}
		return p.WKT()
	}
	return v
}

// EWKT renders geometry values with their SRID for text-format COPY.
func EWKT(v any) any {
	switch v.(type) {
	case models.Point, *models.Point:
		if wkt, ok := Value(v).(string); ok {
			return fmt.Sprintf("SRID=%d;%s", SRID, wkt)
		}
		return nil
	}
	return v
}

// HasGeometry reports whether rows of table carry geometry values.
func HasGeometry(table models.Table) bool {
	return table.Geometry != ""
}
