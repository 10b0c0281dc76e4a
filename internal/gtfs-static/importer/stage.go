package importer

// Stage is a persistence step. Stages run strictly in declaration order.
type Stage int

const (
	StageRegion Stage = iota
	StageAgencies
	StageSchedules
	StageLines
	StageStations
	StageArrivalPoints
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageRegion:
		return "region"
	case StageAgencies:
		return "agencies"
	case StageSchedules:
		return "schedules"
	case StageLines:
		return "lines"
	case StageStations:
		return "stations"
	case StageArrivalPoints:
		return "arrival_points"
	case StageDone:
		return "done"
	}
	return "unknown"
}
