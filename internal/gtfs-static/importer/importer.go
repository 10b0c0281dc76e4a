// Package importer persists a resolved feed graph in dependency order,
// substituting store-assigned surrogate keys into child rows stage by stage.
package importer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/transit-schedules-data/internal/common/logger"
	"github.com/transit-schedules-data/internal/gtfs-static/feederr"
	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

const (
	DefaultBatchSize = 1000
	DefaultWorkers   = 4
)

// Store is the write capability the coordinator needs.
type Store interface {
	// InsertReturning inserts rows and returns their surrogate keys in input order.
	InsertReturning(ctx context.Context, table models.Table, rows []models.Row) ([]int64, error)
	// InsertBatch appends rows without reporting keys.
	InsertBatch(ctx context.Context, table models.Table, rows []models.Row) error
}

// Recorder receives per-stage write statistics.
type Recorder interface {
	RowsWritten(stage string, n int)
	StageDuration(stage string, d time.Duration)
}

type Options struct {
	BatchSize int
	// Workers bounds the arrival point chunks written in parallel.
	Workers int
	Metrics Recorder
}

// PersistOptions tune a single Persist call.
type PersistOptions struct {
	// RegionKey adopts an already persisted region instead of inserting
	// graph.Region, so several agency feeds can share one region.
	RegionKey int64
}

// Result reports what a successful Persist wrote.
type Result struct {
	RegionKey int64
	Rows      map[Stage]int
}

type Coordinator struct {
	store     Store
	logger    logger.Logger
	batchSize int
	workers   int
	metrics   Recorder
}

func New(store Store, logger logger.Logger, opts Options) *Coordinator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Coordinator{
		store:     store,
		logger:    logger,
		batchSize: opts.BatchSize,
		workers:   opts.Workers,
		metrics:   opts.Metrics,
	}
}

// keys maps the external id of each written entity to its surrogate key.
type keys struct {
	region    int64
	agencies  map[string]int64
	schedules map[string]int64
	lines     map[string]int64
	stations  map[string]int64
}

// Persist writes graph stage by stage. A failed stage ends the run with a
// *feederr.StoreWriteError; rows committed by earlier stages are left in
// place and nothing is retried.
func (c *Coordinator) Persist(ctx context.Context, graph *models.Graph, opts PersistOptions) (*Result, error) {
	k := &keys{region: opts.RegionKey}
	result := &Result{Rows: map[Stage]int{}}

	for stage := StageRegion; stage < StageDone; stage++ {
		start := time.Now()
		n, err := c.runStage(ctx, stage, graph, k)
		if err != nil {
			c.logger.Error("Stage failed", "stage", stage.String(), "error", err)
			return nil, err
		}
		elapsed := time.Since(start)
		result.Rows[stage] = n
		if c.metrics != nil {
			c.metrics.RowsWritten(stage.String(), n)
			c.metrics.StageDuration(stage.String(), elapsed)
		}
		c.logger.Info("Stage complete", "stage", stage.String(), "rows", n, "duration", elapsed.String())
	}

	result.RegionKey = k.region
	return result, nil
}

// PersistRegion writes only the region record and returns its key, for runs
// that load several agency feeds into one region.
func (c *Coordinator) PersistRegion(ctx context.Context, region models.Region) (int64, error) {
	ids, err := c.writeKeyed(ctx, StageRegion, models.RegionsTable, []models.Row{regionRow(region)})
	if err != nil {
		return 0, err
	}
	c.logger.Info("Region persisted", "region", region.Abbr, "region_id", ids[0])
	return ids[0], nil
}

func (c *Coordinator) runStage(ctx context.Context, stage Stage, g *models.Graph, k *keys) (int, error) {
	switch stage {
	case StageRegion:
		if k.region != 0 {
			c.logger.Info("Using existing region", "region_id", k.region)
			return 0, nil
		}
		ids, err := c.writeKeyed(ctx, stage, models.RegionsTable, []models.Row{regionRow(g.Region)})
		if err != nil {
			return 0, err
		}
		k.region = ids[0]
		return 1, nil

	case StageAgencies:
		rows := make([]models.Row, len(g.Agencies))
		for i, a := range g.Agencies {
			rows[i] = agencyRow(k.region, a)
		}
		ids, err := c.writeKeyed(ctx, stage, models.AgenciesTable, rows)
		if err != nil {
			return 0, err
		}
		k.agencies = make(map[string]int64, len(ids))
		for i, a := range g.Agencies {
			k.agencies[a.Code] = ids[i]
		}
		return len(rows), nil

	case StageSchedules:
		rows := make([]models.Row, len(g.Schedules))
		for i, s := range g.Schedules {
			agencyKey, err := lookup(k.agencies, "agency", s.AgencyCode, stage)
			if err != nil {
				return 0, err
			}
			rows[i] = scheduleRow(agencyKey, s)
		}
		ids, err := c.writeKeyed(ctx, stage, models.SchedulesTable, rows)
		if err != nil {
			return 0, err
		}
		k.schedules = make(map[string]int64, len(ids))
		for i, s := range g.Schedules {
			k.schedules[s.Code] = ids[i]
		}
		return len(rows), nil

	case StageLines:
		rows := make([]models.Row, len(g.Lines))
		for i, l := range g.Lines {
			agencyKey, err := lookup(k.agencies, "agency", l.AgencyCode, stage)
			if err != nil {
				return 0, err
			}
			rows[i] = lineRow(agencyKey, l)
		}
		ids, err := c.writeKeyed(ctx, stage, models.LinesTable, rows)
		if err != nil {
			return 0, err
		}
		k.lines = make(map[string]int64, len(ids))
		for i, l := range g.Lines {
			k.lines[l.Code] = ids[i]
		}
		return len(rows), nil

	case StageStations:
		rows := make([]models.Row, len(g.Stations))
		for i, s := range g.Stations {
			rows[i] = stationRow(k.region, s)
		}
		ids, err := c.writeKeyed(ctx, stage, models.StationsTable, rows)
		if err != nil {
			return 0, err
		}
		k.stations = make(map[string]int64, len(ids))
		for i, s := range g.Stations {
			k.stations[s.Code] = ids[i]
		}
		return len(rows), nil

	case StageArrivalPoints:
		rows := make([]models.Row, len(g.ArrivalPoints))
		for i, p := range g.ArrivalPoints {
			row, err := arrivalPointRow(k, p)
			if err != nil {
				return 0, err
			}
			rows[i] = row
		}
		if err := c.writeParallel(ctx, stage, models.ArrivalPointsTable, rows); err != nil {
			return 0, err
		}
		return len(rows), nil
	}
	return 0, fmt.Errorf("unknown stage %d", stage)
}

// writeKeyed writes rows chunk by chunk and returns their keys in input order.
func (c *Coordinator) writeKeyed(ctx context.Context, stage Stage, table models.Table, rows []models.Row) ([]int64, error) {
	ids := make([]int64, 0, len(rows))
	for _, chunk := range chunks(rows, c.batchSize) {
		chunkIDs, err := c.store.InsertReturning(ctx, table, chunk)
		if err == nil && len(chunkIDs) != len(chunk) {
			err = fmt.Errorf("store returned %d keys for %d rows", len(chunkIDs), len(chunk))
		}
		if err != nil {
			return nil, &feederr.StoreWriteError{Stage: stage.String(), Succeeded: len(ids), Total: len(rows), Err: err}
		}
		ids = append(ids, chunkIDs...)
		c.logger.Debug("Chunk written", "stage", stage.String(), "rows", len(ids), "total", len(rows))
	}
	return ids, nil
}

// writeParallel dispatches chunks to at most c.workers concurrent writes. Once
// a chunk fails no further chunk is started; chunks already in flight run to
// completion on the caller's context.
func (c *Coordinator) writeParallel(ctx context.Context, stage Stage, table models.Table, rows []models.Row) error {
	var (
		succeeded atomic.Int64
		failed    atomic.Bool
		g         errgroup.Group
	)
	slots := make(chan struct{}, c.workers)
	var dispatchErr error

	for _, chunk := range chunks(rows, c.batchSize) {
		slots <- struct{}{}
		if failed.Load() {
			<-slots
			break
		}
		if err := ctx.Err(); err != nil {
			<-slots
			dispatchErr = err
			break
		}
		g.Go(func() error {
			defer func() { <-slots }()
			if err := c.store.InsertBatch(ctx, table, chunk); err != nil {
				failed.Store(true)
				return err
			}
			n := succeeded.Add(int64(len(chunk)))
			c.logger.Debug("Chunk written", "stage", stage.String(), "rows", n, "total", len(rows))
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = dispatchErr
	}
	if err != nil {
		return &feederr.StoreWriteError{Stage: stage.String(), Succeeded: int(succeeded.Load()), Total: len(rows), Err: err}
	}
	return nil
}

func chunks(rows []models.Row, size int) [][]models.Row {
	var out [][]models.Row
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}

func lookup(m map[string]int64, kind, code string, stage Stage) (int64, error) {
	key, ok := m[code]
	if !ok {
		return 0, &feederr.StoreWriteError{
			Stage: stage.String(),
			Err:   fmt.Errorf("no %s key for %q", kind, code),
		}
	}
	return key, nil
}

func regionRow(r models.Region) models.Row {
	return models.Row{r.Abbr, r.Name, models.NullIfEmpty(r.Description), models.NullIfEmpty(r.Notes), models.NullIfEmpty(r.Timezone)}
}

func agencyRow(regionKey int64, a models.Agency) models.Row {
	return models.Row{regionKey, a.Name, a.Code, models.NullIfEmpty(string(a.Dominant)), models.NullIfEmpty(a.SecondaryModes())}
}

func scheduleRow(agencyKey int64, s models.Schedule) models.Row {
	return models.Row{agencyKey, s.LogTime, models.NullIfEmpty(string(s.DayType)), models.NullIfEmpty(s.RawType), s.Code}
}

func lineRow(agencyKey int64, l models.Line) models.Row {
	return models.Row{agencyKey, l.Name, string(l.Mode), models.NullIfEmpty(l.Color), l.Code}
}

func stationRow(regionKey int64, s models.Station) models.Row {
	return models.Row{regionKey, s.Name, s.Point, s.Code}
}

func arrivalPointRow(k *keys, p models.ArrivalPoint) (models.Row, error) {
	scheduleKey, err := lookup(k.schedules, "schedule", p.ScheduleCode, StageArrivalPoints)
	if err != nil {
		return nil, err
	}
	lineKey, err := lookup(k.lines, "line", p.LineCode, StageArrivalPoints)
	if err != nil {
		return nil, err
	}
	stationKey, err := lookup(k.stations, "station", p.StationCode, StageArrivalPoints)
	if err != nil {
		return nil, err
	}
	return models.Row{scheduleKey, lineKey, stationKey, p.StopSequence, p.ArrivalTime, p.DepartureTime}, nil
}
