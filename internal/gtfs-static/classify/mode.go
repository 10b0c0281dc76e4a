package classify

import (
	"sort"

	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

// Modes tallies each agency's routes by mode. The dominant mode is the first
// to pass the running maximum in route order, so ties go to the mode seen
// first. Every other observed mode is secondary, sorted by name. Routes with
// an unrecognised route_type are left out of the tally.
func Modes(agencies []models.RawAgency, routes []models.RawRoute) map[string]models.ModeTally {
	counts := make(map[string]map[models.Mode]int, len(agencies))
	dominant := make(map[string]models.Mode, len(agencies))
	best := make(map[string]int, len(agencies))
	for _, a := range agencies {
		counts[a.AgencyID] = map[models.Mode]int{}
	}

	for _, r := range routes {
		agencyCounts, ok := counts[r.AgencyID]
		if !ok {
			continue
		}
		mode := models.ModeFromRouteType(r.RouteType)
		if mode == models.ModeUnknown {
			continue
		}
		agencyCounts[mode]++
		if agencyCounts[mode] > best[r.AgencyID] {
			best[r.AgencyID] = agencyCounts[mode]
			dominant[r.AgencyID] = mode
		}
	}

	result := make(map[string]models.ModeTally, len(agencies))
	for _, a := range agencies {
		tally := models.ModeTally{Dominant: dominant[a.AgencyID], Secondary: []models.Mode{}}
		for mode := range counts[a.AgencyID] {
			if mode != tally.Dominant {
				tally.Secondary = append(tally.Secondary, mode)
			}
		}
		sort.Slice(tally.Secondary, func(i, j int) bool { return tally.Secondary[i] < tally.Secondary[j] })
		result[a.AgencyID] = tally
	}
	return result
}
