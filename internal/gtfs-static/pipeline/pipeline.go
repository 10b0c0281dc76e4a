// Package pipeline runs feed ingestion end to end: fetch, extract, resolve,
// persist. A run either completes or reports the first failure with enough
// context for an operator to remediate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/transit-schedules-data/internal/common/discord"
	"github.com/transit-schedules-data/internal/common/logger"
	"github.com/transit-schedules-data/internal/gtfs-static/archive"
	"github.com/transit-schedules-data/internal/gtfs-static/feederr"
	"github.com/transit-schedules-data/internal/gtfs-static/fetcher"
	"github.com/transit-schedules-data/internal/gtfs-static/importer"
	"github.com/transit-schedules-data/internal/gtfs-static/parser"
	"github.com/transit-schedules-data/internal/gtfs-static/resolver"
	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

// Run outcomes as reported to metrics.
const (
	OutcomeSuccess      = "success"
	OutcomeFetchFailure = "fetch_failure"
	OutcomeParseFailure = "parse_failure"
	OutcomePartialWrite = "partial_write"
	OutcomeError        = "error"
)

type Fetcher interface {
	Fetch(ctx context.Context, src fetcher.Source) ([]byte, error)
	Keep(content []byte, at time.Time, region, agency string) (string, error)
}

// OperatorLister reads a publisher's operator listing.
type OperatorLister interface {
	Operators(ctx context.Context, src fetcher.Source) ([]models.Operator, error)
}

type Notifier interface {
	NotifyRunFailure(ctx context.Context, f discord.RunFailure) error
}

// Metrics is the union of what the stages record.
type Metrics interface {
	importer.Recorder
	RunFinished(outcome string)
}

type Options struct {
	// RunTimeout bounds each feed run; zero means no deadline.
	RunTimeout time.Duration
	// Concurrency bounds the feeds RunAll processes at once.
	Concurrency int
	Importer    importer.Options
	Notifier    Notifier
	Metrics     Metrics
	// Operators resolves RegionRun.Listing; without it listings are ignored.
	Operators OperatorLister
}

// Feed is one archive to ingest into a region.
type Feed struct {
	Source fetcher.Source
	Params models.RunParams
}

// RegionRun groups the feeds loaded into one region.
type RegionRun struct {
	Region models.Region
	Feeds  []Feed
	// Listing, when set, supplies each feed's log time from the operator
	// entry matching its owner agency.
	Listing *fetcher.Source
}

// Report describes a finished run.
type Report struct {
	RunID    string
	Region   string
	Agency   string
	Outcome  string
	Result   *importer.Result
	Duration time.Duration
	Err      error
}

type Runner struct {
	fetcher Fetcher
	store   importer.Store
	logger  logger.Logger
	opts    Options
	now     func() time.Time
}

func New(f Fetcher, store importer.Store, logger logger.Logger, opts Options) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Metrics != nil && opts.Importer.Metrics == nil {
		opts.Importer.Metrics = opts.Metrics
	}
	return &Runner{
		fetcher: f,
		store:   store,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
	}
}

// Run ingests a single feed. With regionKey zero the feed's region is
// inserted; otherwise the feed is attached to that existing region.
func (r *Runner) Run(ctx context.Context, feed Feed, regionKey int64) *Report {
	start := r.now()
	report := &Report{
		RunID:  uuid.NewString(),
		Region: feed.Params.Region.Abbr,
		Agency: feed.Params.OwnerAgency,
	}
	log := r.logger.With("run_id", report.RunID, "region", report.Region, "agency", report.Agency)

	if r.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.RunTimeout)
		defer cancel()
	}

	params := feed.Params.WithDefaults(start)
	log.Info("Starting feed run", "source", fetcher.Redact(feed.Source.URL), "as_of", params.AsOf.Format(time.DateOnly))

	report.Result, report.Err = r.run(ctx, log, feed.Source, params, regionKey, start)
	report.Outcome = outcomeOf(report.Err)
	report.Duration = r.now().Sub(start)

	if r.opts.Metrics != nil {
		r.opts.Metrics.RunFinished(report.Outcome)
	}
	if report.Err != nil {
		log.Error("Feed run failed", "outcome", report.Outcome, "duration", report.Duration.String(), "error", report.Err)
		r.notify(log, feed, report)
		return report
	}
	log.Info("Feed run complete", "duration", report.Duration.String(), "region_id", report.Result.RegionKey)
	return report
}

// fetchError marks failures that happened before the archive was in hand.
type fetchError struct{ err error }

func (e *fetchError) Error() string { return e.err.Error() }
func (e *fetchError) Unwrap() error { return e.err }

func (r *Runner) run(ctx context.Context, log logger.Logger, src fetcher.Source, params models.RunParams, regionKey int64, start time.Time) (*importer.Result, error) {
	content, err := r.fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, &fetchError{err: err}
	}
	if path, err := r.fetcher.Keep(content, start, params.Region.Abbr, params.OwnerAgency); err != nil {
		log.Warn("Failed to keep archive copy", "error", err)
	} else if path != "" {
		log.Info("Archive copy kept", "path", path)
	}

	a, err := archive.FromBytes(content)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	tables, err := parser.New(log).Extract(ctx, a)
	if err != nil {
		return nil, err
	}
	graph, err := resolver.New(log).Resolve(tables, params)
	if err != nil {
		return nil, err
	}
	return importer.New(r.store, log, r.opts.Importer).Persist(ctx, graph, importer.PersistOptions{RegionKey: regionKey})
}

func outcomeOf(err error) string {
	var fe *fetchError
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &fe):
		return OutcomeFetchFailure
	case feederr.IsParseFailure(err):
		return OutcomeParseFailure
	case feederr.IsPartialWrite(err):
		return OutcomePartialWrite
	default:
		return OutcomeError
	}
}

func (r *Runner) notify(log logger.Logger, feed Feed, report *Report) {
	if r.opts.Notifier == nil {
		return
	}
	failure := discord.RunFailure{
		RunID:  report.RunID,
		Region: report.Region,
		Agency: report.Agency,
		Source: fetcher.Redact(feed.Source.URL),
		Err:    report.Err,
	}
	var swe *feederr.StoreWriteError
	if errors.As(report.Err, &swe) {
		failure.Stage = swe.Stage
		failure.Succeeded = swe.Succeeded
		failure.Total = swe.Total
	}
	// The run context may already be done; the notification gets its own.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := r.opts.Notifier.NotifyRunFailure(ctx, failure); err != nil {
		log.Warn("Failed to send failure notification", "error", err)
	}
}

// RunAll ingests every region's feeds. Each region row is written once before
// its feeds start; feeds then run concurrently up to Options.Concurrency. A
// failed feed does not stop the others. The returned error joins every
// failure.
func (r *Runner) RunAll(ctx context.Context, regions []RegionRun) ([]*Report, error) {
	coordinator := importer.New(r.store, r.logger, r.opts.Importer)

	var (
		reports []*Report
		errs    []error
		jobs    []func() *Report
	)
	for _, region := range regions {
		key, err := coordinator.PersistRegion(ctx, region.Region)
		if err != nil {
			r.logger.Error("Region insert failed, skipping its feeds", "region", region.Region.Abbr, "error", err)
			errs = append(errs, fmt.Errorf("region %s: %w", region.Region.Abbr, err))
			continue
		}
		r.applyListing(ctx, &region)
		for _, feed := range region.Feeds {
			feed.Params.Region = region.Region
			jobs = append(jobs, func() *Report { return r.Run(ctx, feed, key) })
		}
	}

	reports = make([]*Report, len(jobs))
	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			reports[i] = job()
			return nil
		})
	}
	g.Wait()

	for _, report := range reports {
		if report.Err != nil {
			errs = append(errs, fmt.Errorf("region %s agency %s: %w", report.Region, report.Agency, report.Err))
		}
	}
	return reports, errors.Join(errs...)
}

// applyListing fills zero log times from the region's operator listing. An
// unavailable listing leaves them to default to the run time.
func (r *Runner) applyListing(ctx context.Context, region *RegionRun) {
	if region.Listing == nil {
		return
	}
	log := r.logger.With("region", region.Region.Abbr)
	if r.opts.Operators == nil {
		log.Warn("Operator listing configured but no lister available")
		return
	}
	operators, err := r.opts.Operators.Operators(ctx, *region.Listing)
	if err != nil {
		log.Warn("Operator listing unavailable, log times default to run time", "error", err)
		return
	}

	loc := time.UTC
	if region.Region.Timezone != "" {
		if l, err := time.LoadLocation(region.Region.Timezone); err == nil {
			loc = l
		}
	}
	region.Feeds = slices.Clone(region.Feeds)
	generated := make(map[string]time.Time, len(operators))
	for _, op := range operators {
		if t := op.GeneratedIn(loc); !t.IsZero() {
			generated[op.ID] = t
		}
	}
	for i := range region.Feeds {
		params := &region.Feeds[i].Params
		if !params.LogTime.IsZero() {
			continue
		}
		if t, ok := generated[params.OwnerAgency]; ok {
			params.LogTime = t
			log.Debug("Log time taken from operator listing", "agency", params.OwnerAgency, "log_time", t)
		}
	}
}
