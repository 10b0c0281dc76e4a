// Package testutil holds fixtures shared by the ingestion package tests.
package testutil

import (
	"archive/zip"
	"bytes"
	"io"
	"sort"
	"strings"
)

// ZipBuilder assembles an in-memory feed archive.
type ZipBuilder struct {
	m map[string]string
}

func NewZipBuilder() *ZipBuilder {
	return &ZipBuilder{m: map[string]string{}}
}

// Add sets a member's content; lines are joined with newlines.
func (z *ZipBuilder) Add(fileName string, lines ...string) *ZipBuilder {
	z.m[fileName] = strings.Join(lines, "\n")
	return z
}

// AddRaw sets a member's content byte for byte.
func (z *ZipBuilder) AddRaw(fileName string, content []byte) *ZipBuilder {
	z.m[fileName] = string(content)
	return z
}

func (z *ZipBuilder) Remove(fileName string) *ZipBuilder {
	delete(z.m, fileName)
	return z
}

func (z *ZipBuilder) Build() []byte {
	names := make([]string, 0, len(z.m))
	for name := range z.m {
		names = append(names, name)
	}
	sort.Strings(names)

	var b bytes.Buffer
	zipWriter := zip.NewWriter(&b)
	for _, fileName := range names {
		fileWriter, err := zipWriter.Create(fileName)
		if err != nil {
			panic(err)
		}
		if _, err := io.Copy(fileWriter, bytes.NewBufferString(z.m[fileName])); err != nil {
			panic(err)
		}
	}
	if err := zipWriter.Close(); err != nil {
		panic(err)
	}
	return b.Bytes()
}

// BayAreaFeed is a small complete feed: one agency ("BA"), a rail and a bus
// route, one weekday service valid through 2030, one trip with three stops.
// Stop "EMBR_1" is a platform of station "EMBR".
func BayAreaFeed() *ZipBuilder {
	return NewZipBuilder().Add(
		"agency.txt",
		"agency_id,agency_name,agency_url,agency_timezone",
		"BA,Bay Area Rapid Transit,https://www.bart.gov,America/Los_Angeles",
	).Add(
		"routes.txt",
		"route_id,agency_id,route_short_name,route_long_name,route_type,route_color",
		"YL-N,BA,YL-N,Antioch - SFIA/Millbrae,2,FFFF33",
		"BUS-1,BA,1,Airport Shuttle,3,0099CC",
	).Add(
		"stops.txt",
		"stop_id,stop_name,stop_lat,stop_lon,parent_station",
		"EMBR,Embarcadero,37.792874,-122.397020,",
		"EMBR_1,Embarcadero Platform 1,37.792900,-122.397100,EMBR",
		"MONT,Montgomery St,37.789405,-122.401066,",
		"POWL,Powell St,37.784471,-122.407974,",
	).Add(
		"calendar.txt",
		"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date",
		"WKDY,1,1,1,1,1,0,0,20200101,20301231",
	).Add(
		"calendar_attributes.txt",
		"service_id,service_description",
		"WKDY,Weekday",
	).Add(
		"trips.txt",
		"route_id,service_id,trip_id",
		"YL-N,WKDY,T1",
	).Add(
		"stop_times.txt",
		"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
		"T1,5:00:00,5:00:30,EMBR_1,1",
		"T1,05:02:00,05:02:30,MONT,2",
		"T1,25:04:00,25:04:30,POWL,3",
	)
}
