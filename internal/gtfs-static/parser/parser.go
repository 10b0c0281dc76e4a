package parser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/transit-schedules-data/internal/common/logger"
	"github.com/transit-schedules-data/internal/gtfs-static/archive"
	"github.com/transit-schedules-data/internal/gtfs-static/feederr"
	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

const (
	AgencyFile             = "agency.txt"
	CalendarFile           = "calendar.txt"
	CalendarAttributesFile = "calendar_attributes.txt"
	RoutesFile             = "routes.txt"
	StopsFile              = "stops.txt"
	StopTimesFile          = "stop_times.txt"
	TripsFile              = "trips.txt"

	gtfsDateLayout = "20060102"
	progressEvery  = 100000
)

// RequiredFiles must be present in every archive.
var RequiredFiles = []string{AgencyFile, RoutesFile, StopsFile, StopTimesFile, TripsFile}

type Parser struct {
	logger logger.Logger
}

func New(logger logger.Logger) *Parser {
	return &Parser{logger: logger}
}

// Extract buckets the archive's recognised members into typed raw tables.
// Unrecognised members are ignored. An unreadable recognised member does not
// stop extraction of the others; all such failures are returned together.
func (p *Parser) Extract(ctx context.Context, a *archive.Archive) (*models.RawTables, error) {
	tables := &models.RawTables{}
	seen := map[string]bool{}
	var unreadable []error

	for res, err := range a.Resources() {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		handle := p.handlerFor(res.Name(), tables)
		if handle == nil {
			p.logger.Debug("Ignoring unrecognised archive member", "file", res.Name())
			continue
		}
		seen[res.Name()] = true

		p.logger.Debug("Parsing file", "name", res.Name(), "size", res.Size())
		count, err := p.parseResource(ctx, res, handle)
		if err != nil {
			if errors.Is(err, feederr.ErrResourceUnreadable) {
				p.logger.Error("Archive member unreadable", "file", res.Name(), "error", err)
				unreadable = append(unreadable, err)
				continue
			}
			return nil, err
		}
		p.logger.Info("File parsed", "name", res.Name(), "records", count)
	}

	if len(unreadable) > 0 {
		return nil, errors.Join(unreadable...)
	}
	for _, name := range RequiredFiles {
		if !seen[name] {
			return nil, &feederr.MissingResourceError{Resource: name}
		}
	}
	tables.HasCalendar = seen[CalendarFile]
	tables.HasCalendarAttributes = seen[CalendarAttributesFile]

	fillSingleAgency(tables)
	return tables, nil
}

type rowHandler func(row archive.Row) error

func (p *Parser) handlerFor(name string, t *models.RawTables) rowHandler {
	switch name {
	case AgencyFile:
		return func(row archive.Row) error {
			t.Agencies = append(t.Agencies, p.parseAgency(row))
			return nil
		}
	case RoutesFile:
		return func(row archive.Row) error {
			route, err := p.parseRoute(row)
			if err != nil {
				return err
			}
			t.Routes = append(t.Routes, *route)
			return nil
		}
	case StopsFile:
		return func(row archive.Row) error {
			stop, err := p.parseStop(row)
			if err != nil {
				return err
			}
			t.Stops = append(t.Stops, *stop)
			return nil
		}
	case CalendarFile:
		return func(row archive.Row) error {
			service, err := p.parseCalendar(row)
			if err != nil {
				return err
			}
			t.Services = append(t.Services, *service)
			return nil
		}
	case CalendarAttributesFile:
		return func(row archive.Row) error {
			t.ServiceAttributes = append(t.ServiceAttributes, models.RawServiceAttribute{
				ServiceID:          row.Get("service_id"),
				ServiceDescription: row.Get("service_description"),
			})
			return nil
		}
	case TripsFile:
		return func(row archive.Row) error {
			t.Trips = append(t.Trips, models.RawTrip{
				TripID:    row.Get("trip_id"),
				RouteID:   row.Get("route_id"),
				ServiceID: row.Get("service_id"),
			})
			return nil
		}
	case StopTimesFile:
		return func(row archive.Row) error {
			t.StopTimes = append(t.StopTimes, models.RawStopTime{
				TripID:        row.Get("trip_id"),
				StopID:        row.Get("stop_id"),
				ArrivalTime:   row.Get("arrival_time"),
				DepartureTime: row.Get("departure_time"),
				StopSequence:  row.Get("stop_sequence"),
				Line:          row.Line(),
			})
			return nil
		}
	}
	return nil
}

func (p *Parser) parseResource(ctx context.Context, res *archive.Resource, handle rowHandler) (int, error) {
	count := 0
	for row, err := range res.Rows() {
		if err != nil {
			return count, err
		}
		if err := handle(row); err != nil {
			if errors.Is(err, feederr.ErrMalformedField) {
				p.logger.Debug("Malformed record", "file", res.Name(), "line", row.Line(), "record", row.Map())
			}
			return count, err
		}
		count++
		if count%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return count, err
			}
			p.logger.Debug("Progress", "file", res.Name(), "records", count)
		}
	}
	return count, nil
}

// fillSingleAgency applies the GTFS rule that routes.agency_id may be omitted
// when the feed has exactly one agency.
func fillSingleAgency(t *models.RawTables) {
	if len(t.Agencies) != 1 {
		return
	}
	only := t.Agencies[0].AgencyID
	for i := range t.Routes {
		if t.Routes[i].AgencyID == "" {
			t.Routes[i].AgencyID = only
		}
	}
}

func malformed(row archive.Row, resource, field string, err error) error {
	return &feederr.FieldError{
		Resource: resource,
		Line:     row.Line(),
		Field:    field,
		Value:    row.Get(field),
		Err:      err,
	}
}

func (p *Parser) getInt(row archive.Row, resource, field string, defaultVal int) (int, error) {
	str := row.Get(field)
	if str == "" {
		return defaultVal, nil
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return 0, malformed(row, resource, field, err)
	}
	return val, nil
}

func (p *Parser) getDate(row archive.Row, resource, field string) (time.Time, error) {
	t, err := time.Parse(gtfsDateLayout, row.Get(field))
	if err != nil {
		return time.Time{}, malformed(row, resource, field, err)
	}
	return t, nil
}

func (p *Parser) parseAgency(row archive.Row) models.RawAgency {
	return models.RawAgency{
		AgencyID:   row.Get("agency_id"),
		AgencyName: row.Get("agency_name"),
	}
}

func (p *Parser) parseRoute(row archive.Row) (*models.RawRoute, error) {
	if !row.Has("route_type") {
		return nil, malformed(row, RoutesFile, "route_type", fmt.Errorf("column missing from header"))
	}
	routeType, err := p.getInt(row, RoutesFile, "route_type", -1)
	if err != nil {
		return nil, err
	}
	if routeType < 0 {
		return nil, malformed(row, RoutesFile, "route_type", fmt.Errorf("value is required"))
	}
	return &models.RawRoute{
		RouteID:        row.Get("route_id"),
		AgencyID:       row.Get("agency_id"),
		RouteShortName: row.Get("route_short_name"),
		RouteLongName:  row.Get("route_long_name"),
		RouteType:      routeType,
		RouteColor:     row.Get("route_color"),
	}, nil
}

func (p *Parser) parseStop(row archive.Row) (*models.RawStop, error) {
	stop := &models.RawStop{
		StopID:        row.Get("stop_id"),
		ParentStation: row.Get("parent_station"),
		StopName:      row.Get("stop_name"),
	}
	latStr, lonStr := row.Get("stop_lat"), row.Get("stop_lon")
	if latStr == "" && lonStr == "" {
		return stop, nil
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err == nil && (lat < -90 || lat > 90) {
		err = fmt.Errorf("latitude %g out of range [-90, 90]", lat)
	}
	if err != nil {
		return nil, malformed(row, StopsFile, "stop_lat", err)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err == nil && (lon < -180 || lon > 180) {
		err = fmt.Errorf("longitude %g out of range [-180, 180]", lon)
	}
	if err != nil {
		return nil, malformed(row, StopsFile, "stop_lon", err)
	}
	stop.Point = &models.Point{Lon: lon, Lat: lat}
	return stop, nil
}

func (p *Parser) parseCalendar(row archive.Row) (*models.RawService, error) {
	startDate, err := p.getDate(row, CalendarFile, "start_date")
	if err != nil {
		return nil, err
	}
	endDate, err := p.getDate(row, CalendarFile, "end_date")
	if err != nil {
		return nil, err
	}
	active := func(day string) bool { return row.Get(day) == "1" }
	return &models.RawService{
		ServiceID: row.Get("service_id"),
		Monday:    active("monday"),
		Tuesday:   active("tuesday"),
		Wednesday: active("wednesday"),
		Thursday:  active("thursday"),
		Friday:    active("friday"),
		Saturday:  active("saturday"),
		Sunday:    active("sunday"),
		StartDate: startDate,
		EndDate:   endDate,
	}, nil
}
