package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/transit-schedules-data/internal/common/config"
	"github.com/transit-schedules-data/internal/common/discord"
	"github.com/transit-schedules-data/internal/common/logger"
	"github.com/transit-schedules-data/internal/common/maintenance"
	"github.com/transit-schedules-data/internal/common/metrics"
	"github.com/transit-schedules-data/internal/gtfs-static/fetcher"
	"github.com/transit-schedules-data/internal/gtfs-static/importer"
	"github.com/transit-schedules-data/internal/gtfs-static/pipeline"
	"github.com/transit-schedules-data/pkg/gtfs-static/models"
)

// app holds what every command needs once the environment is loaded.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	metrics *metrics.Metrics
	storage *storage
	stop    func()
}

func bootstrap(c *cli.Context) (*app, error) {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load(c.String("env-file"))

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	loggerConfig := logger.DefaultLoggerConfig()
	loggerConfig.Level = logger.ParseLogLevel(cfg.Logging.Level)
	loggerConfig.FilePath = cfg.Logging.FilePath
	loggerConfig.File = cfg.Logging.FilePath != ""
	loggerConfig.JSON = cfg.Logging.JSON
	log := logger.NewFromConfig(loggerConfig)

	storage, err := openStorage(c.Context, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	a := &app{cfg: cfg, log: log, metrics: metrics.New(), storage: storage, stop: func() {}}
	if cfg.Metrics.Addr != "" {
		a.stop = serveMetrics(cfg.Metrics.Addr, newRouter(a.metrics, storage.database), log)
	}
	return a, nil
}

func (a *app) Close() {
	a.stop()
	a.storage.Close()
}

func (a *app) runner() *pipeline.Runner {
	f := fetcher.New(a.log, fetcher.Options{
		Timeout:     a.cfg.Fetch.Timeout,
		Attempts:    a.cfg.Fetch.Attempts,
		DownloadDir: a.cfg.Fetch.DownloadDir,
		S3: fetcher.S3Config{
			Region:    a.cfg.Fetch.S3Region,
			Endpoint:  a.cfg.Fetch.S3Endpoint,
			PathStyle: a.cfg.Fetch.S3PathStyle,
		},
		Metrics: a.metrics,
	})
	opts := pipeline.Options{
		RunTimeout:  a.cfg.Ingest.RunTimeout,
		Concurrency: a.cfg.Ingest.Concurrency,
		Importer: importer.Options{
			BatchSize: a.cfg.Ingest.BatchSize,
			Workers:   a.cfg.Ingest.Workers,
		},
		Metrics:   a.metrics,
		Operators: fetcher.NewOperatorLister(a.cfg.Fetch.Timeout, a.log),
	}
	if notifier := discord.NewClient(a.cfg.Logging.DiscordWebhookURL); notifier.Enabled() {
		opts.Notifier = notifier
	}
	return pipeline.New(f, a.storage.store, a.log, opts)
}

// afterImport refreshes planner statistics once something was written.
func (a *app) afterImport(ctx context.Context, reports []*pipeline.Report) {
	for _, r := range reports {
		if r.Err == nil {
			if err := maintenance.New(a.storage.database, a.log).Analyze(ctx); err != nil {
				a.log.Warn("Failed to refresh table statistics", "error", err)
			}
			return
		}
	}
}

// withApp wraps a command action with bootstrap and teardown.
func withApp(action func(c *cli.Context, a *app) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		a, err := bootstrap(c)
		if err != nil {
			return err
		}
		defer a.Close()
		return action(c, a)
	}
}

func importCommand(c *cli.Context, a *app) error {
	timezone := c.String("timezone")
	query, err := parseQuery(c.StringSlice("query"))
	if err != nil {
		return err
	}
	params := models.RunParams{
		Region: models.Region{
			Abbr:        c.String("region"),
			Name:        c.String("region-name"),
			Timezone:    timezone,
			Description: c.String("description"),
			Notes:       c.String("notes"),
		},
		OwnerAgency: c.String("agency"),
	}
	if params.Region.Name == "" {
		params.Region.Name = params.Region.Abbr
	}
	if v := c.String("as-of"); v != "" {
		if params.AsOf, err = parseTimeFlag(v, timezone); err != nil {
			return fmt.Errorf("parsing --as-of: %w", err)
		}
	}
	if v := c.String("log-time"); v != "" {
		if params.LogTime, err = parseTimeFlag(v, timezone); err != nil {
			return fmt.Errorf("parsing --log-time: %w", err)
		}
	}

	var regionKey int64
	if c.Bool("append") {
		if regionKey, err = maintenance.New(a.storage.database, a.log).RegionID(c.Context, params.Region.Abbr); err != nil {
			return err
		}
	}

	report := a.runner().Run(c.Context, pipeline.Feed{
		Source: fetcher.Source{URL: c.String("source"), Query: query},
		Params: params,
	}, regionKey)
	printReports(c.App.Writer, []*pipeline.Report{report})
	a.afterImport(c.Context, []*pipeline.Report{report})
	return report.Err
}

func runCommand(c *cli.Context, a *app) error {
	if c.Args().Len() == 0 {
		return fmt.Errorf("a path to the run file was not provided")
	}
	rf, err := config.LoadRunFile(c.Args().First())
	if err != nil {
		return err
	}
	reports, err := a.runner().RunAll(c.Context, regionRuns(rf))
	printReports(c.App.Writer, reports)
	a.afterImport(c.Context, reports)
	return err
}

func purgeCommand(c *cli.Context, a *app) error {
	result, err := maintenance.New(a.storage.database, a.log).PurgeRegion(c.Context, c.String("region"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Purged region %s: %d rows deleted\n", c.String("region"), result.Total())
	return nil
}

func schemaCommand(c *cli.Context, a *app) error {
	if err := a.storage.store.EnsureSchema(c.Context); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Schema applied (%s)\n", a.cfg.Database.Driver)
	return nil
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "schedule-ingest",
		Usage: "load GTFS static feeds into the schedules database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "dotenv file to load before reading the environment",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "import",
				Usage: "ingest a single feed archive",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Required: true, Usage: "http(s) URL, s3://bucket/key or file path"},
					&cli.StringFlag{Name: "region", Aliases: []string{"r"}, Required: true, Usage: "region abbreviation"},
					&cli.StringFlag{Name: "region-name", Usage: "region display name (defaults to the abbreviation)"},
					&cli.StringFlag{Name: "timezone", Aliases: []string{"tz"}, Usage: "IANA timezone of the region"},
					&cli.StringFlag{Name: "description", Usage: "region description"},
					&cli.StringFlag{Name: "notes", Usage: "region notes"},
					&cli.StringFlag{Name: "agency", Aliases: []string{"a"}, Usage: "agency_id owning the feed's schedules"},
					&cli.StringFlag{Name: "as-of", Usage: "reference date for day-type classification"},
					&cli.StringFlag{Name: "log-time", Usage: "when the publisher generated the feed"},
					&cli.StringSliceFlag{Name: "query", Aliases: []string{"q"}, Usage: "extra query parameter key=value for http sources"},
					&cli.BoolFlag{Name: "append", Usage: "attach the feed to an existing region"},
				},
				Action: withApp(importCommand),
			},
			{
				Name:      "run",
				Usage:     "ingest every feed listed in a run file",
				ArgsUsage: "path",
				Action:    withApp(runCommand),
			},
			{
				Name:  "purge",
				Usage: "delete a region and everything loaded under it",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "region", Aliases: []string{"r"}, Required: true, Usage: "region abbreviation"},
				},
				Action: withApp(purgeCommand),
			},
			{
				Name:   "schema",
				Usage:  "apply the reference schema to the configured database",
				Action: withApp(schemaCommand),
			},
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	err := newApp().RunContext(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Done in %s\n", time.Since(start).Round(time.Millisecond))
}
