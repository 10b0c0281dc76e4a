package models

import "time"

// Operator is one entry of a publisher's operator listing, as served by
// regional open-data APIs alongside the feeds themselves.
type Operator struct {
	ID            string     `json:"Id"`
	Name          string     `json:"Name"`
	LastGenerated CustomTime `json:"LastGenerated"`
}

// GeneratedIn reads LastGenerated's wall clock in loc. Listings publish
// local times without a zone.
func (o Operator) GeneratedIn(loc *time.Location) time.Time {
	t := o.LastGenerated.Time
	if t.IsZero() || loc == nil {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}
