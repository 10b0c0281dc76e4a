package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transit-schedules-data/internal/common/config"
	"github.com/transit-schedules-data/internal/gtfs-static/feederr"
	"github.com/transit-schedules-data/internal/gtfs-static/importer"
	"github.com/transit-schedules-data/internal/gtfs-static/pipeline"
	"github.com/transit-schedules-data/internal/testutil"
)

func TestRegionRuns(t *testing.T) {
	rf, err := config.ParseRunFile([]byte(`
regions:
  - abbr: BA
    name: Bay Area
    timezone: America/Los_Angeles
    feeds:
      - {agency: BA, source: bart.zip, as_of: 2024-03-04}
      - {agency: SF, source: https://example.com/muni.zip, query: {token: abc}}
`))
	require.NoError(t, err)

	runs := regionRuns(rf)
	require.Len(t, runs, 1)
	require.Len(t, runs[0].Feeds, 2)
	assert.Equal(t, "BA", runs[0].Feeds[0].Params.Region.Abbr)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), runs[0].Feeds[0].Params.AsOf)
	assert.Equal(t, "SF", runs[0].Feeds[1].Params.OwnerAgency)
	assert.Equal(t, map[string]string{"token": "abc"}, runs[0].Feeds[1].Source.Query)
}

func TestParseQuery(t *testing.T) {
	q, err := parseQuery([]string{"api_key=secret", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"api_key": "secret", "empty": ""}, q)

	_, err = parseQuery([]string{"novalue"})
	assert.Error(t, err)
}

func TestParseTimeFlag(t *testing.T) {
	got, err := parseTimeFlag("2024-03-04", "America/Los_Angeles")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-04T00:00:00-08:00", got.Format(time.RFC3339))

	_, err = parseTimeFlag("2024-03-04", "Mars/Olympus")
	assert.Error(t, err)
}

func TestPrintReports(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	printReports(&buf, []*pipeline.Report{
		{
			Region:  "LA",
			Agency:  "METRO",
			Outcome: pipeline.OutcomePartialWrite,
			Err:     &feederr.StoreWriteError{Stage: "lines", Succeeded: 1, Total: 2, Err: errors.New("boom")},
		},
		{
			Region:   "BA",
			Outcome:  pipeline.OutcomeSuccess,
			Result:   &importer.Result{Rows: map[importer.Stage]int{importer.StageRegion: 1, importer.StageArrivalPoints: 3}},
			Duration: 1500 * time.Millisecond,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "OK   BA/-  region=1 agencies=0 schedules=0 lines=0 stations=0 arrival_points=3  1.5s")
	assert.Contains(t, out, "PART LA/METRO  stage lines wrote 1/2 rows: boom")
	assert.Contains(t, out, "purge --region LA")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("BA/")), bytes.Index(buf.Bytes(), []byte("LA/")))
}

func TestCommandsAgainstSQLite(t *testing.T) {
	color.NoColor = true
	dir := t.TempDir()
	feed := filepath.Join(dir, "bart.zip")
	require.NoError(t, os.WriteFile(feed, testutil.BayAreaFeed().Build(), 0644))

	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_SQLITE_PATH", filepath.Join(dir, "schedules.db"))
	t.Setenv("LOG_FILE", filepath.Join(dir, "ingest.log"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DOWNLOAD_DIR", filepath.Join(dir, "downloads"))

	run := func(args ...string) string {
		t.Helper()
		var buf bytes.Buffer
		app := newApp()
		app.Writer = &buf
		err := app.RunContext(context.Background(), append([]string{"schedule-ingest", "--env-file", filepath.Join(dir, "missing.env")}, args...))
		require.NoError(t, err, buf.String())
		return buf.String()
	}

	assert.Contains(t, run("schema"), "Schema applied (sqlite)")
	out := run("import", "--source", feed, "--region", "BA", "--tz", "America/Los_Angeles", "--as-of", "2024-03-04")
	assert.Contains(t, out, "OK   BA/-")
	assert.Contains(t, out, "arrival_points=3")

	out = run("import", "--source", feed, "--region", "BA", "--agency", "BA", "--append")
	assert.Contains(t, out, "OK   BA/BA")
	assert.Contains(t, out, "region=0")

	kept, err := os.ReadDir(filepath.Join(dir, "downloads"))
	require.NoError(t, err)
	assert.Len(t, kept, 2)

	assert.Contains(t, run("purge", "--region", "BA"), "Purged region BA: 21 rows deleted")
}
