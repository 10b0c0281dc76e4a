// Package resolver joins the raw feed tables into a cross-referenced domain
// graph keyed by external id.
package resolver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/transit-schedules-data/internal/common/logger"
	"github.com/transit-schedules-data/internal/gtfs-static/classify"
	"github.com/transit-schedules-data/internal/gtfs-static/feederr"
	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

type Resolver struct {
	logger logger.Logger
}

func New(logger logger.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// indexes are built once per run so every join is a map lookup.
type indexes struct {
	agencies   map[string]models.RawAgency
	routes     map[string]models.RawRoute
	stops      map[string]models.RawStop
	trips      map[string]models.RawTrip
	services   map[string]struct{}
	stationFor map[string]string
}

// Resolve builds the domain graph. Every stop time must resolve to a line,
// station and schedule; the first reference that does not is returned as a
// *feederr.DanglingReferenceError and no graph is produced.
func (r *Resolver) Resolve(tables *models.RawTables, params models.RunParams) (*models.Graph, error) {
	idx, err := r.buildIndexes(tables)
	if err != nil {
		return nil, err
	}

	graph := &models.Graph{Region: params.Region}

	modes := classify.Modes(tables.Agencies, tables.Routes)
	for _, a := range tables.Agencies {
		tally := modes[a.AgencyID]
		graph.Agencies = append(graph.Agencies, models.Agency{
			Code:      a.AgencyID,
			Name:      a.AgencyName,
			Dominant:  tally.Dominant,
			Secondary: tally.Secondary,
		})
	}

	if graph.Schedules, err = r.schedules(tables, idx, params); err != nil {
		return nil, err
	}
	if graph.Lines, err = r.lines(tables, idx); err != nil {
		return nil, err
	}
	graph.Stations = stations(tables)
	if graph.ArrivalPoints, err = r.arrivalPoints(tables, idx); err != nil {
		return nil, err
	}

	r.logger.Info("Feed resolved",
		"agencies", len(graph.Agencies),
		"schedules", len(graph.Schedules),
		"lines", len(graph.Lines),
		"stations", len(graph.Stations),
		"arrival_points", len(graph.ArrivalPoints))
	return graph, nil
}

func duplicate(resource, field, id string) error {
	return &feederr.FieldError{Resource: resource, Field: field, Value: id, Err: fmt.Errorf("duplicate id")}
}

func (r *Resolver) buildIndexes(t *models.RawTables) (*indexes, error) {
	idx := &indexes{
		agencies:   make(map[string]models.RawAgency, len(t.Agencies)),
		routes:     make(map[string]models.RawRoute, len(t.Routes)),
		stops:      make(map[string]models.RawStop, len(t.Stops)),
		trips:      make(map[string]models.RawTrip, len(t.Trips)),
		services:   make(map[string]struct{}, len(t.Services)+len(t.ServiceAttributes)),
		stationFor: make(map[string]string, len(t.Stops)),
	}
	for _, a := range t.Agencies {
		if _, dup := idx.agencies[a.AgencyID]; dup {
			return nil, duplicate("agency.txt", "agency_id", a.AgencyID)
		}
		idx.agencies[a.AgencyID] = a
	}
	for _, rt := range t.Routes {
		if _, dup := idx.routes[rt.RouteID]; dup {
			return nil, duplicate("routes.txt", "route_id", rt.RouteID)
		}
		idx.routes[rt.RouteID] = rt
	}
	for _, s := range t.Stops {
		if _, dup := idx.stops[s.StopID]; dup {
			return nil, duplicate("stops.txt", "stop_id", s.StopID)
		}
		idx.stops[s.StopID] = s
	}
	for _, tr := range t.Trips {
		if _, dup := idx.trips[tr.TripID]; dup {
			return nil, duplicate("trips.txt", "trip_id", tr.TripID)
		}
		idx.trips[tr.TripID] = tr
	}
	for _, id := range serviceIDs(t) {
		idx.services[id] = struct{}{}
	}
	for _, s := range t.Stops {
		root, err := idx.rootStation(s.StopID)
		if err != nil {
			return nil, err
		}
		idx.stationFor[s.StopID] = root
	}
	return idx, nil
}

// rootStation follows parent_station links up to the stop with no parent.
func (idx *indexes) rootStation(stopID string) (string, error) {
	if root, ok := idx.stationFor[stopID]; ok {
		return root, nil
	}
	visited := map[string]bool{}
	current := stopID
	for {
		if visited[current] {
			return "", feederr.Dangling("stop", stopID, "stops.txt parent_station cycle")
		}
		visited[current] = true

		stop, ok := idx.stops[current]
		if !ok {
			return "", feederr.Dangling("stop", current, "stops.txt parent_station")
		}
		if stop.ParentStation == "" {
			return current, nil
		}
		if root, ok := idx.stationFor[stop.ParentStation]; ok {
			return root, nil
		}
		current = stop.ParentStation
	}
}

// serviceIDs lists the services that become schedules, in first-seen order.
// Trips supply them only when the feed has neither calendar file.
func serviceIDs(t *models.RawTables) []string {
	var ids []string
	seen := map[string]bool{}
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, s := range t.Services {
		add(s.ServiceID)
	}
	for _, a := range t.ServiceAttributes {
		add(a.ServiceID)
	}
	if !t.HasCalendar && !t.HasCalendarAttributes {
		for _, tr := range t.Trips {
			add(tr.ServiceID)
		}
	}
	return ids
}

// scheduleOwner picks the agency that owns every schedule. An owner is only
// required when the feed has services; a named owner must always exist.
func (r *Resolver) scheduleOwner(t *models.RawTables, idx *indexes, params models.RunParams, services int) (string, error) {
	if params.OwnerAgency != "" {
		if _, ok := idx.agencies[params.OwnerAgency]; !ok {
			return "", feederr.Dangling("agency", params.OwnerAgency, "run owner agency")
		}
		return params.OwnerAgency, nil
	}
	switch {
	case len(t.Agencies) == 1:
		return t.Agencies[0].AgencyID, nil
	case services == 0:
		return "", nil
	}
	agencies := make([]string, len(t.Agencies))
	for i, a := range t.Agencies {
		agencies[i] = a.AgencyID
	}
	return "", &feederr.OwnerError{Agencies: agencies}
}

func (r *Resolver) schedules(t *models.RawTables, idx *indexes, params models.RunParams) ([]models.Schedule, error) {
	ids := serviceIDs(t)
	owner, err := r.scheduleOwner(t, idx, params, len(ids))
	if err != nil {
		return nil, err
	}

	dayTypes := classify.DayTypes(t.Services, params.AsOf)
	descriptions := make(map[string]string, len(t.ServiceAttributes))
	for _, a := range t.ServiceAttributes {
		descriptions[a.ServiceID] = a.ServiceDescription
	}

	schedules := make([]models.Schedule, 0, len(ids))
	for _, id := range ids {
		schedules = append(schedules, models.Schedule{
			Code:       id,
			AgencyCode: owner,
			DayType:    dayTypes[id].DayType,
			RawType:    descriptions[id],
			LogTime:    params.LogTime,
		})
	}
	if !t.HasCalendar {
		r.logger.Warn("Feed has no calendar.txt, schedules are unclassified", "schedules", len(schedules))
	}
	return schedules, nil
}

func (r *Resolver) lines(t *models.RawTables, idx *indexes) ([]models.Line, error) {
	lines := make([]models.Line, 0, len(t.Routes))
	for _, rt := range t.Routes {
		if _, ok := idx.agencies[rt.AgencyID]; !ok {
			return nil, feederr.Dangling("agency", rt.AgencyID, "routes.txt route "+rt.RouteID)
		}
		mode := models.ModeFromRouteType(rt.RouteType)
		if mode == models.ModeUnknown {
			r.logger.Warn("Unknown route type", "route_id", rt.RouteID, "route_type", rt.RouteType)
		}
		lines = append(lines, models.Line{
			Code:       rt.RouteID,
			AgencyCode: rt.AgencyID,
			Name:       rt.DisplayName(),
			Mode:       mode,
			Color:      rt.RouteColor,
		})
	}
	return lines, nil
}

// stations keeps only root stops; platforms and entrances collapse into them.
func stations(t *models.RawTables) []models.Station {
	var out []models.Station
	for _, s := range t.Stops {
		if s.ParentStation != "" {
			continue
		}
		out = append(out, models.Station{Code: s.StopID, Name: s.StopName, Point: s.Point})
	}
	return out
}

func (r *Resolver) arrivalPoints(t *models.RawTables, idx *indexes) ([]models.ArrivalPoint, error) {
	points := make([]models.ArrivalPoint, 0, len(t.StopTimes))
	for _, st := range t.StopTimes {
		from := fmt.Sprintf("stop_times.txt line %d", st.Line)

		trip, ok := idx.trips[st.TripID]
		if !ok {
			return nil, feederr.Dangling("trip", st.TripID, from)
		}
		if _, ok := idx.routes[trip.RouteID]; !ok {
			return nil, feederr.Dangling("route", trip.RouteID, "trips.txt trip "+trip.TripID)
		}
		if _, ok := idx.services[trip.ServiceID]; !ok {
			return nil, feederr.Dangling("service", trip.ServiceID, "trips.txt trip "+trip.TripID)
		}
		station, ok := idx.stationFor[st.StopID]
		if !ok {
			return nil, feederr.Dangling("stop", st.StopID, from)
		}
		sequence, err := strconv.Atoi(st.StopSequence)
		if err != nil || sequence < 0 {
			return nil, &feederr.FieldError{
				Resource: "stop_times.txt",
				Line:     st.Line,
				Field:    "stop_sequence",
				Value:    st.StopSequence,
				Err:      err,
			}
		}

		points = append(points, models.ArrivalPoint{
			LineCode:      trip.RouteID,
			StationCode:   station,
			ScheduleCode:  trip.ServiceID,
			ArrivalTime:   padTime(st.ArrivalTime),
			DepartureTime: padTime(st.DepartureTime),
			StopSequence:  sequence,
		})
	}
	return points, nil
}

// padTime zero-pads the hour of an H:MM:SS value. Values past 24:00:00 are
// kept as they are.
func padTime(v string) string {
	if i := strings.IndexByte(v, ':'); i == 1 {
		return "0" + v
	}
	return v
}
