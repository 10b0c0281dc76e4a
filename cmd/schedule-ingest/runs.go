package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/transit-schedules-data/internal/common/config"
	"github.com/transit-schedules-data/internal/gtfs-static/feederr"
	"github.com/transit-schedules-data/internal/gtfs-static/fetcher"
	"github.com/transit-schedules-data/internal/gtfs-static/importer"
	"github.com/transit-schedules-data/internal/gtfs-static/pipeline"
	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

func regionRuns(rf *config.RunFile) []pipeline.RegionRun {
	runs := make([]pipeline.RegionRun, 0, len(rf.Regions))
	for _, r := range rf.Regions {
		run := pipeline.RegionRun{Region: r.Region()}
		if r.Listing != nil {
			run.Listing = &fetcher.Source{URL: r.Listing.URL, Query: r.Listing.Query}
		}
		for _, f := range r.Feeds {
			run.Feeds = append(run.Feeds, pipeline.Feed{
				Source: fetcher.Source{URL: f.Source, Query: f.Query},
				Params: models.RunParams{
					Region:      r.Region(),
					OwnerAgency: f.Agency,
					AsOf:        f.AsOf.Time,
					LogTime:     f.LogTime.Time,
				},
			})
		}
		runs = append(runs, run)
	}
	return runs
}

// parseQuery turns key=value flags into a query map.
func parseQuery(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	query := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("query parameter %q must look like key=value", pair)
		}
		query[key] = value
	}
	return query, nil
}

// parseTimeFlag reads a timestamp flag in the region's timezone.
func parseTimeFlag(value, timezone string) (time.Time, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("loading timezone %s: %w", timezone, err)
		}
		loc = l
	}
	t, err := models.ParseCustomTimeIn(value, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.Time, nil
}

var stageOrder = []importer.Stage{
	importer.StageRegion,
	importer.StageAgencies,
	importer.StageSchedules,
	importer.StageLines,
	importer.StageStations,
	importer.StageArrivalPoints,
}

// printReports writes one line per run, coloured by outcome.
func printReports(w io.Writer, reports []*pipeline.Report) {
	ok := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)
	bad := color.New(color.FgRed)
	dim := color.New(color.FgCyan)

	sorted := append([]*pipeline.Report(nil), reports...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Region != sorted[j].Region {
			return sorted[i].Region < sorted[j].Region
		}
		return sorted[i].Agency < sorted[j].Agency
	})

	for _, r := range sorted {
		agency := r.Agency
		if agency == "" {
			agency = "-"
		}
		label := fmt.Sprintf("%s/%s", r.Region, agency)

		switch r.Outcome {
		case pipeline.OutcomeSuccess:
			var counts []string
			for _, stage := range stageOrder {
				counts = append(counts, fmt.Sprintf("%s=%d", stage, r.Result.Rows[stage]))
			}
			fmt.Fprintf(w, "%s %s  %s  %s\n", ok.Sprint("OK  "), label, strings.Join(counts, " "), dim.Sprint(r.Duration.Round(time.Millisecond)))
		case pipeline.OutcomePartialWrite:
			var swe *feederr.StoreWriteError
			detail := r.Err.Error()
			if errors.As(r.Err, &swe) {
				detail = fmt.Sprintf("stage %s wrote %d/%d rows: %v", swe.Stage, swe.Succeeded, swe.Total, swe.Err)
				if swe.OutcomeUnknown() {
					detail += " (outcome unknown, verify against the store)"
				}
			}
			fmt.Fprintf(w, "%s %s  %s\n", warn.Sprint("PART"), label, detail)
			fmt.Fprintf(w, "     run `schedule-ingest purge --region %s` before retrying\n", r.Region)
		default:
			fmt.Fprintf(w, "%s %s  %s: %v\n", bad.Sprint("FAIL"), label, r.Outcome, r.Err)
		}
	}
}
