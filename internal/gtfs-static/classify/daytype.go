// Package classify derives facts that no single feed table states directly:
// the day type a service operates on and the transit modes an agency runs.
package classify

import (
	"time"

	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

// DayTypes classifies every service against asOf. A service is active when
// asOf falls within its start and end dates, both inclusive, compared as
// calendar dates. Active services are weekday only when all five weekday
// flags are set; otherwise saturday, then sunday. Anything else, and every
// inactive service, is unclassified.
func DayTypes(services []models.RawService, asOf time.Time) map[string]models.Classification {
	today := civilDate(asOf)
	result := make(map[string]models.Classification, len(services))
	for _, svc := range services {
		active := !today.Before(civilDate(svc.StartDate)) && !today.After(civilDate(svc.EndDate))
		c := models.Classification{Active: active}
		if active {
			c.DayType = dayTypeOf(svc)
		}
		result[svc.ServiceID] = c
	}
	return result
}

func dayTypeOf(svc models.RawService) models.DayType {
	switch {
	case svc.Monday && svc.Tuesday && svc.Wednesday && svc.Thursday && svc.Friday:
		return models.DayTypeWeekday
	case svc.Saturday:
		return models.DayTypeSaturday
	case svc.Sunday:
		return models.DayTypeSunday
	}
	return models.DayTypeUnclassified
}

// civilDate drops the clock and zone, keeping the date as seen in t's location.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
