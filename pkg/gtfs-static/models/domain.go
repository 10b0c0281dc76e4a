package models

import (
	"fmt"
	"strings"
	"time"
)

// Point is a WGS84 coordinate stored as a geometry(point, 4326).
type Point struct {
	Lon float64
	Lat float64
}

// WKT renders the point as well-known text, longitude first.
func (p Point) WKT() string {
	return fmt.Sprintf("POINT(%v %v)", p.Lon, p.Lat)
}

// Region is the destination region of a run. Abbr is unique in the store.
type Region struct {
	Abbr        string
	Name        string
	Timezone    string
	Description string
	Notes       string
}

type Agency struct {
	Code      string // agency_id from agency.txt
	Name      string
	Dominant  Mode
	Secondary []Mode
}

// SecondaryModes renders the secondary modes as stored in agencies.secondary_modes.
func (a Agency) SecondaryModes() string {
	parts := make([]string, len(a.Secondary))
	for i, m := range a.Secondary {
		parts[i] = string(m)
	}
	return strings.Join(parts, ",")
}

type Schedule struct {
	Code       string // service_id
	AgencyCode string
	DayType    DayType
	RawType    string
	LogTime    time.Time
}

type Line struct {
	Code       string // route_id
	AgencyCode string
	Name       string
	Mode       Mode
	Color      string
}

type Station struct {
	Code  string // stop_id of the root (parent) stop
	Name  string
	Point *Point
}

type ArrivalPoint struct {
	LineCode      string
	StationCode   string
	ScheduleCode  string
	ArrivalTime   string
	DepartureTime string
	StopSequence  int
}

// Graph is the fully cross-referenced result of resolving one feed. Children
// reference parents by external code; surrogate keys are assigned on write.
type Graph struct {
	Region        Region
	Agencies      []Agency
	Schedules     []Schedule
	Lines         []Line
	Stations      []Station
	ArrivalPoints []ArrivalPoint
}
