package classify

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

var (
	validFrom = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	validTo   = time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	midYear   = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
)

func service(id string, flags string) models.RawService {
	on := func(i int) bool { return flags[i] == '1' }
	return models.RawService{
		ServiceID: id,
		Monday:    on(0),
		Tuesday:   on(1),
		Wednesday: on(2),
		Thursday:  on(3),
		Friday:    on(4),
		Saturday:  on(5),
		Sunday:    on(6),
		StartDate: validFrom,
		EndDate:   validTo,
	}
}

func TestDayTypePrecedence(t *testing.T) {
	cases := map[string]models.DayType{
		"1111100": models.DayTypeWeekday,
		"1111111": models.DayTypeWeekday,
		"0000010": models.DayTypeSaturday,
		"1111010": models.DayTypeSaturday,
		"0000011": models.DayTypeSaturday,
		"0000001": models.DayTypeSunday,
		"1101101": models.DayTypeSunday,
		"0000000": models.DayTypeUnclassified,
		"1111000": models.DayTypeUnclassified,
	}
	for flags, want := range cases {
		got := DayTypes([]models.RawService{service("S", flags)}, midYear)
		assert.Equal(t, models.Classification{Active: true, DayType: want}, got["S"], "flags %s", flags)
	}
}

func TestDayTypeValidityWindow(t *testing.T) {
	services := []models.RawService{service("WKDY", "1111100")}

	for _, tc := range []struct {
		desc   string
		asOf   time.Time
		active bool
	}{
		{"first day", validFrom, true},
		{"last day late evening", time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC), true},
		{"day before", time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC), false},
		{"day after", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), false},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			got := DayTypes(services, tc.asOf)["WKDY"]
			assert.Equal(t, tc.active, got.Active)
			if !tc.active {
				assert.Equal(t, models.DayTypeUnclassified, got.DayType)
			}
		})
	}
}

func TestDayTypeUsesLocalCalendarDate(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// 2025-01-01 03:00 UTC is still 2024-12-31 in Los Angeles.
	asOf := time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC).In(la)
	got := DayTypes([]models.RawService{service("WKDY", "1111100")}, asOf)
	assert.True(t, got["WKDY"].Active)
}

func TestDayTypesCoverEveryService(t *testing.T) {
	services := []models.RawService{service("A", "1111100"), service("B", "0000000"), service("C", "0000001")}
	assert.Len(t, DayTypes(services, midYear), 3)
}

func route(id, agency string, routeType int) models.RawRoute {
	return models.RawRoute{RouteID: id, AgencyID: agency, RouteType: routeType}
}

func TestDominantModeByCount(t *testing.T) {
	agencies := []models.RawAgency{{AgencyID: "BA"}}
	routes := []models.RawRoute{
		route("b1", "BA", 3), route("b2", "BA", 3), route("b3", "BA", 3),
		route("r1", "BA", 2), route("r2", "BA", 2), route("r3", "BA", 2), route("r4", "BA", 2), route("r5", "BA", 2),
		route("b4", "BA", 3),
	}

	got := Modes(agencies, routes)
	want := models.ModeTally{Dominant: models.ModeRail, Secondary: []models.Mode{models.ModeBus}}
	if diff := cmp.Diff(want, got["BA"]); diff != "" {
		t.Errorf("tally mismatch (-want +got):\n%s", diff)
	}
}

func TestDominantModeTieGoesToFirstSeen(t *testing.T) {
	agencies := []models.RawAgency{{AgencyID: "MUNI"}}
	routes := []models.RawRoute{
		route("F", "MUNI", 0), route("38", "MUNI", 3), route("PH", "MUNI", 5),
		route("N", "MUNI", 0), route("14", "MUNI", 3),
	}

	got := Modes(agencies, routes)["MUNI"]
	assert.Equal(t, models.ModeTram, got.Dominant)
	assert.Equal(t, []models.Mode{models.ModeBus, models.ModeCableTram}, got.Secondary)
}

func TestAgencyWithoutRoutes(t *testing.T) {
	agencies := []models.RawAgency{{AgencyID: "BA"}, {AgencyID: "EMPTY"}}
	got := Modes(agencies, []models.RawRoute{route("r1", "BA", 2)})

	empty := got["EMPTY"]
	assert.Equal(t, models.Mode(""), empty.Dominant)
	assert.NotNil(t, empty.Secondary)
	assert.Empty(t, empty.Secondary)
	assert.Equal(t, models.ModeRail, got["BA"].Dominant)
}

func TestUnknownRouteTypesNotTallied(t *testing.T) {
	agencies := []models.RawAgency{{AgencyID: "BA"}}
	got := Modes(agencies, []models.RawRoute{route("x", "BA", 8), route("y", "BA", 8), route("r", "BA", 2)})
	assert.Equal(t, models.ModeRail, got["BA"].Dominant)
	assert.Empty(t, got["BA"].Secondary)
}
