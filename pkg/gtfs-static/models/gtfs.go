package models

import (
	"time"
)

// Raw feed rows. Identifiers are the opaque strings assigned by the feed and
// are only meaningful within one archive.

type RawAgency struct {
	AgencyID   string
	AgencyName string
}

type RawRoute struct {
	RouteID        string
	AgencyID       string
	RouteShortName string
	RouteLongName  string
	RouteType      int
	RouteColor     string
}

// DisplayName prefers the long name, as the serving API labels lines with it.
func (r RawRoute) DisplayName() string {
	if r.RouteLongName != "" {
		return r.RouteLongName
	}
	return r.RouteShortName
}

type RawStop struct {
	StopID        string
	ParentStation string
	StopName      string
	Point         *Point // nil when the feed leaves stop_lat/stop_lon empty
}

type RawService struct {
	ServiceID string
	Monday    bool
	Tuesday   bool
	Wednesday bool
	Thursday  bool
	Friday    bool
	Saturday  bool
	Sunday    bool
	StartDate time.Time
	EndDate   time.Time
}

// RawServiceAttribute is a calendar_attributes.txt row.
type RawServiceAttribute struct {
	ServiceID          string
	ServiceDescription string
}

type RawTrip struct {
	TripID    string
	RouteID   string
	ServiceID string
}

// RawStopTime keeps times and sequence as text. GTFS times run past 24:00:00
// for trips that continue after midnight, so they are never time-of-day values.
type RawStopTime struct {
	TripID        string
	StopID        string
	ArrivalTime   string
	DepartureTime string
	StopSequence  string
	Line          int // line number in stop_times.txt, for error context
}

// RawTables holds everything extracted from one archive.
type RawTables struct {
	Agencies          []RawAgency
	Routes            []RawRoute
	Stops             []RawStop
	Services          []RawService
	ServiceAttributes []RawServiceAttribute
	Trips             []RawTrip
	StopTimes         []RawStopTime

	HasCalendar           bool
	HasCalendarAttributes bool
}
