package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transit-schedules-data/internal/common/logger"
	"github.com/transit-schedules-data/internal/gtfs-static/archive"
	"github.com/transit-schedules-data/internal/gtfs-static/importer"
	"github.com/transit-schedules-data/internal/gtfs-static/parser"
	"github.com/transit-schedules-data/internal/gtfs-static/resolver"
	"github.com/transit-schedules-data/internal/store/sqlite"
	"github.com/transit-schedules-data/internal/testutil"
	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:", logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func seed(t *testing.T, s *sqlite.Store, abbr string) {
	t.Helper()
	ctx := context.Background()
	a, err := archive.FromBytes(testutil.BayAreaFeed().Build())
	require.NoError(t, err)
	tables, err := parser.New(logger.Nop()).Extract(ctx, a)
	require.NoError(t, err)
	graph, err := resolver.New(logger.Nop()).Resolve(tables, models.RunParams{
		Region: models.Region{Abbr: abbr, Name: abbr, Timezone: "America/Los_Angeles"},
		AsOf:   time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	_, err = importer.New(s, logger.Nop(), importer.Options{}).Persist(ctx, graph, importer.PersistOptions{})
	require.NoError(t, err)
}

func count(t *testing.T, s *sqlite.Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().DB().QueryRow("SELECT count(*) FROM "+table).Scan(&n))
	return n
}

func TestPurgeRegion(t *testing.T) {
	s := openStore(t)
	seed(t, s, "BA")
	seed(t, s, "LA")
	m := New(s.DB(), logger.Nop())

	result, err := m.PurgeRegion(context.Background(), "BA")
	require.NoError(t, err)

	assert.Equal(t, map[string]int64{
		"arrival_departure_points": 3,
		"stations":                 3,
		"lines":                    2,
		"schedules":                1,
		"agencies":                 1,
		"regions":                  1,
	}, result.Deleted)
	assert.Equal(t, int64(11), result.Total())

	for table, want := range map[string]int{
		"regions":                  1,
		"agencies":                 1,
		"schedules":                1,
		"lines":                    2,
		"stations":                 3,
		"arrival_departure_points": 3,
	} {
		assert.Equal(t, want, count(t, s, table), table)
	}

	_, err = m.RegionID(context.Background(), "BA")
	assert.ErrorIs(t, err, ErrRegionNotFound)
	id, err := m.RegionID(context.Background(), "LA")
	require.NoError(t, err)
	assert.Positive(t, id)
}

func TestPurgeUnknownRegion(t *testing.T) {
	m := New(openStore(t).DB(), logger.Nop())
	_, err := m.PurgeRegion(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrRegionNotFound)
}

func TestAnalyze(t *testing.T) {
	s := openStore(t)
	seed(t, s, "BA")
	assert.NoError(t, New(s.DB(), logger.Nop()).Analyze(context.Background()))
}

func TestCountPlaceholders(t *testing.T) {
	assert.Equal(t, 3, countPlaceholders(purgeStatements[0].query))
	assert.Equal(t, 1, countPlaceholders(purgeStatements[len(purgeStatements)-1].query))
}
