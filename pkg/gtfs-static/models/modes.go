package models

// Mode is a transit vehicle type, named as stored in lines.route_mode.
type Mode string

const (
	ModeTram       Mode = "tram"
	ModeMetro      Mode = "metro"
	ModeRail       Mode = "rail"
	ModeBus        Mode = "bus"
	ModeFerry      Mode = "ferry"
	ModeCableTram  Mode = "cable tram"
	ModeAerialLift Mode = "aerial lift"
	ModeFunicular  Mode = "funicular"
	ModeTrolleybus Mode = "trolleybus"
	ModeMonorail   Mode = "monorail"

	ModeUnknown Mode = "unknown"
)

// ModeFromRouteType maps a routes.txt route_type to a Mode. Extended route
// types are folded onto the base mode of their hundred range.
func ModeFromRouteType(code int) Mode {
	switch code {
	case 0:
		return ModeTram
	case 1:
		return ModeMetro
	case 2:
		return ModeRail
	case 3:
		return ModeBus
	case 4:
		return ModeFerry
	case 5:
		return ModeCableTram
	case 6:
		return ModeAerialLift
	case 7:
		return ModeFunicular
	case 11:
		return ModeTrolleybus
	case 12:
		return ModeMonorail
	}
	switch {
	case code >= 100 && code < 200:
		return ModeRail
	case code >= 200 && code < 300:
		return ModeBus
	case code >= 400 && code < 500:
		return ModeMetro
	case code >= 700 && code < 800:
		return ModeBus
	case code >= 800 && code < 900:
		return ModeTrolleybus
	case code >= 900 && code < 1000:
		return ModeTram
	case code >= 1000 && code < 1300:
		return ModeFerry
	case code >= 1300 && code < 1400:
		return ModeAerialLift
	case code >= 1400 && code < 1500:
		return ModeFunicular
	}
	return ModeUnknown
}

// ModeTally is the derived mode profile of one agency. Dominant is empty when
// the agency operates no routes.
type ModeTally struct {
	Dominant  Mode
	Secondary []Mode
}

// DayType is the schedule classification stored in schedules.schedule_type.
// The zero value means unclassified.
type DayType string

const (
	DayTypeWeekday      DayType = "weekday"
	DayTypeSaturday     DayType = "saturday"
	DayTypeSunday       DayType = "sunday"
	DayTypeUnclassified DayType = ""
)

// Classification is the day-type verdict for one service.
type Classification struct {
	Active  bool
	DayType DayType
}
