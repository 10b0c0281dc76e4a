package models

import "time"

// RunParams are the caller-supplied inputs of one ingestion run.
type RunParams struct {
	Region Region
	// OwnerAgency is the agency_id that owns the feed's schedules. When empty
	// the feed must contain exactly one agency.
	OwnerAgency string
	// AsOf is the reference date for day-type classification.
	AsOf time.Time
	// LogTime is when the feed was generated, recorded on every schedule.
	LogTime time.Time
}

// WithDefaults fills AsOf and LogTime from now, in the region's timezone when
// it can be loaded.
func (p RunParams) WithDefaults(now time.Time) RunParams {
	if p.Region.Timezone != "" {
		if loc, err := time.LoadLocation(p.Region.Timezone); err == nil {
			now = now.In(loc)
		}
	}
	if p.AsOf.IsZero() {
		p.AsOf = now
	}
	if p.LogTime.IsZero() {
		p.LogTime = now
	}
	return p
}
