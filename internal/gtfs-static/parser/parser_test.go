package parser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transit-schedules-data/internal/common/logger"
	"github.com/transit-schedules-data/internal/gtfs-static/archive"
	"github.com/transit-schedules-data/internal/gtfs-static/feederr"
	"github.com/transit-schedules-data/internal/testutil"
	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

func extract(t *testing.T, zb *testutil.ZipBuilder) (*models.RawTables, error) {
	t.Helper()
	a, err := archive.FromBytes(zb.Build())
	require.NoError(t, err)
	return New(logger.Nop()).Extract(context.Background(), a)
}

func TestExtractBayAreaFeed(t *testing.T) {
	tables, err := extract(t, testutil.BayAreaFeed().Add("shapes.txt", "shape_id", "SH1"))
	require.NoError(t, err)

	assert.Equal(t, []models.RawAgency{{AgencyID: "BA", AgencyName: "Bay Area Rapid Transit"}}, tables.Agencies)
	require.Len(t, tables.Routes, 2)
	assert.Equal(t, 2, tables.Routes[0].RouteType)
	assert.Equal(t, "FFFF33", tables.Routes[0].RouteColor)

	require.Len(t, tables.Stops, 4)
	assert.Equal(t, "EMBR", tables.Stops[1].ParentStation)
	require.NotNil(t, tables.Stops[0].Point)
	assert.InDelta(t, -122.397020, tables.Stops[0].Point.Lon, 1e-9)

	require.Len(t, tables.Services, 1)
	svc := tables.Services[0]
	assert.True(t, svc.Monday && svc.Friday)
	assert.False(t, svc.Saturday || svc.Sunday)
	assert.Equal(t, time.Date(2030, 12, 31, 0, 0, 0, 0, time.UTC), svc.EndDate)

	assert.Equal(t, []models.RawServiceAttribute{{ServiceID: "WKDY", ServiceDescription: "Weekday"}}, tables.ServiceAttributes)
	assert.Len(t, tables.Trips, 1)
	require.Len(t, tables.StopTimes, 3)
	assert.Equal(t, "25:04:00", tables.StopTimes[2].ArrivalTime)
	assert.Equal(t, 4, tables.StopTimes[2].Line)
	assert.True(t, tables.HasCalendar)
	assert.True(t, tables.HasCalendarAttributes)
}

func TestMissingRequiredResource(t *testing.T) {
	for _, name := range RequiredFiles {
		t.Run(name, func(t *testing.T) {
			_, err := extract(t, testutil.BayAreaFeed().Remove(name))
			require.ErrorIs(t, err, feederr.ErrMissingRequiredResource)
			var mre *feederr.MissingResourceError
			require.ErrorAs(t, err, &mre)
			assert.Equal(t, name, mre.Resource)
		})
	}
}

func TestCalendarOptional(t *testing.T) {
	tables, err := extract(t, testutil.BayAreaFeed().Remove(CalendarFile).Remove(CalendarAttributesFile))
	require.NoError(t, err)
	assert.Empty(t, tables.Services)
	assert.False(t, tables.HasCalendar)
	assert.False(t, tables.HasCalendarAttributes)
}

func TestUnreadableMembersReportedTogether(t *testing.T) {
	zb := testutil.BayAreaFeed().
		AddRaw(StopsFile, []byte("stop_id,stop_name\nS1,\xff")).
		AddRaw(TripsFile, []byte("route_id,service_id,trip_id\nR1,\"S1"))
	_, err := extract(t, zb)
	require.ErrorIs(t, err, feederr.ErrResourceUnreadable)
	assert.Contains(t, err.Error(), StopsFile)
	assert.Contains(t, err.Error(), TripsFile)
}

func TestMalformedFields(t *testing.T) {
	cases := []struct {
		name     string
		zb       *testutil.ZipBuilder
		resource string
		field    string
	}{
		{
			name: "route type",
			zb: testutil.BayAreaFeed().Add(RoutesFile,
				"route_id,agency_id,route_type",
				"R1,BA,tram"),
			resource: RoutesFile,
			field:    "route_type",
		},
		{
			name: "latitude",
			zb: testutil.BayAreaFeed().Add(StopsFile,
				"stop_id,stop_name,stop_lat,stop_lon",
				"S1,First,north,-122.1"),
			resource: StopsFile,
			field:    "stop_lat",
		},
		{
			name: "calendar date",
			zb: testutil.BayAreaFeed().Add(CalendarFile,
				"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date",
				"WKDY,1,1,1,1,1,0,0,2020-01-01,20301231"),
			resource: CalendarFile,
			field:    "start_date",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := extract(t, tc.zb)
			require.ErrorIs(t, err, feederr.ErrMalformedField)
			var fe *feederr.FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tc.resource, fe.Resource)
			assert.Equal(t, tc.field, fe.Field)
			assert.Equal(t, 2, fe.Line)
		})
	}
}

func TestFieldErrorExplainsRejection(t *testing.T) {
	cases := []struct {
		name  string
		zb    *testutil.ZipBuilder
		field string
		want  string
	}{
		{
			name: "latitude out of range",
			zb: testutil.BayAreaFeed().Add(StopsFile,
				"stop_id,stop_name,stop_lat,stop_lon",
				"S1,First,91.5,-122.1"),
			field: "stop_lat",
			want:  "out of range [-90, 90]",
		},
		{
			name: "longitude out of range",
			zb: testutil.BayAreaFeed().Add(StopsFile,
				"stop_id,stop_name,stop_lat,stop_lon",
				"S1,First,37.7,-222.1"),
			field: "stop_lon",
			want:  "out of range [-180, 180]",
		},
		{
			name: "route type column absent",
			zb: testutil.BayAreaFeed().Add(RoutesFile,
				"route_id,agency_id,route_short_name",
				"R1,BA,1"),
			field: "route_type",
			want:  "column missing from header",
		},
		{
			name: "route type empty",
			zb: testutil.BayAreaFeed().Add(RoutesFile,
				"route_id,agency_id,route_type",
				"R1,BA,"),
			field: "route_type",
			want:  "value is required",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := extract(t, tc.zb)
			var fe *feederr.FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tc.field, fe.Field)
			require.Error(t, fe.Err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSingleAgencyFillsRouteAgency(t *testing.T) {
	tables, err := extract(t, testutil.BayAreaFeed().Add(RoutesFile,
		"route_id,route_short_name,route_type",
		"R1,1,3"))
	require.NoError(t, err)
	require.Len(t, tables.Routes, 1)
	assert.Equal(t, "BA", tables.Routes[0].AgencyID)
}

func TestStopWithoutCoordinates(t *testing.T) {
	tables, err := extract(t, testutil.BayAreaFeed().Add(StopsFile,
		"stop_id,stop_name,stop_lat,stop_lon",
		"S1,Somewhere,,"))
	require.NoError(t, err)
	require.Len(t, tables.Stops, 1)
	assert.Nil(t, tables.Stops[0].Point)
}

func TestExtractCancelled(t *testing.T) {
	a, err := archive.FromBytes(testutil.BayAreaFeed().Build())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(logger.Nop()).Extract(ctx, a)
	assert.ErrorIs(t, err, context.Canceled)
}
