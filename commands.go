package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"

	"dealer_scraper/config"
	"dealer_scraper/logging"
	"dealer_scraper/models"
	"dealer_scraper/process"
	"dealer_scraper/scheduler"
	"dealer_scraper/scraper"
	"dealer_scraper/services"
	"dealer_scraper/storage"
)

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}

// runFlags are shared by run, start and daemon.
type runFlags struct {
	limit      *int
	all        *bool
	dealer     *string
	model      *string
	year       *string
	platform   *string
	skipDBInit *bool
}

func addRunFlags(fs *flag.FlagSet) *runFlags {
	return &runFlags{
		limit:      fs.Int("limit", 0, "Maximum number of dealers to read from the CSV (default SCRAPE_LIMIT)"),
		all:        fs.Bool("all", false, "Scrape every dealer in the CSV"),
		dealer:     fs.String("dealer", "", "Scrape one dealer by name"),
		model:      fs.String("model", "", "Only this model, e.g. X5 or iX"),
		year:       fs.String("year", "", "Model year, used with --model (default "+scraper.DefaultFilterYear+")"),
		platform:   fs.String("platform", "all", "all, dealercom or roadster"),
		skipDBInit: fs.Bool("skip-db-init", false, "Do not create or migrate the schema"),
	}
}

func (f *runFlags) limitOrDefault(cfg *config.Config) int {
	if *f.limit > 0 {
		return *f.limit
	}
	return cfg.Scraper.Limit
}

func (f *runFlags) platformName() string {
	if *f.platform == "" {
		return "all"
	}
	return *f.platform
}

func (f *runFlags) options(cfg *config.Config) process.RunOptions {
	return process.RunOptions{
		Limit:      f.limitOrDefault(cfg),
		All:        *f.all,
		Dealer:     *f.dealer,
		Model:      *f.model,
		Year:       *f.year,
		Platform:   f.platformName(),
		SkipDBInit: *f.skipDBInit,
	}
}

func runCommand(args []string) error {
	fs := newFlagSet("run")
	jobID := fs.Int64("job-id", 0, "Job created by the launcher; a new one is created when zero")
	csvPath := fs.String("csv", "", "Dealers CSV (default DEALERS_CSV)")
	rf := addRunFlags(fs)
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logFile, err := logging.Setup("", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { logFile.Close() }()

	log.Info().Int("pid", os.Getpid()).Int("ppid", os.Getppid()).Int64("job_id", *jobID).Msg("Scraper process starting")
	log.Info().
		Bool("all", *rf.all).
		Int("limit", rf.limitOrDefault(cfg)).
		Str("dealer", *rf.dealer).
		Str("model", *rf.model).
		Str("year", *rf.year).
		Str("platform", rf.platformName()).
		Bool("skip_db_init", *rf.skipDBInit).
		Msg("Arguments")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []storage.Option
	if *rf.skipDBInit {
		log.Info().Msg("Skipping database initialization")
		opts = append(opts, storage.WithoutMigrate())
	}
	store, err := storage.Open(ctx, cfg.DatabaseURL, opts...)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	tracker := services.NewJobTracker(store, process.OSProbe{})

	id := *jobID
	if id == 0 {
		job, err := tracker.Create(ctx, rf.platformName())
		if err != nil {
			return err
		}
		id = job.ID
		if err := tracker.Attach(ctx, id, os.Getpid()); err != nil {
			return err
		}
		// Started by hand: mirror output into the job's log file too.
		logFile.Close()
		if logFile, err = logging.Setup(logging.JobLogPath(cfg.LogDir, id), cfg.LogLevel); err != nil {
			return err
		}
		log.Info().Int64("job_id", id).Msg("Created job")
	}

	fail := func(msg string) error {
		if err := tracker.Fail(context.WithoutCancel(ctx), id, msg); err != nil {
			log.Error().Err(err).Int64("job_id", id).Msg("Failed to mark job failed")
		}
		return errors.New(msg)
	}

	path := *csvPath
	if path == "" {
		path = cfg.DealersCSV
	}
	dealers, err := config.CSVDealerSource{Path: path}.LoadDealers()
	if err != nil {
		return fail(fmt.Sprintf("Failed to read dealers: %v", err))
	}
	dealers, err = selectDealers(dealers, *rf.dealer, rf.limitOrDefault(cfg), *rf.all)
	if err != nil {
		return fail(err.Error())
	}
	log.Info().Int("dealers", len(dealers)).Str("csv", path).Msg("Read dealers")

	renderer := scraper.NewPlaywrightRenderer(scraper.BrowserConfig{
		Headless:   cfg.Browser.Headless,
		ProxyURL:   cfg.Browser.ProxyURL,
		NavTimeout: cfg.Browser.RenderTimeout,
	})
	defer renderer.Close()

	adapters := scraper.NewAdapters(renderer, scraper.AdapterConfig{
		StateTimeout: cfg.Scraper.StateTimeout,
		MaxPages:     cfg.Scraper.MaxPages,
	})

	orch := scraper.NewOrchestrator(cfg.Platforms, adapters, services.NewVehicleService(store), tracker, store)
	orch.SetDelay(time.Duration(cfg.Scraper.DelayMS) * time.Millisecond)
	archiver := newArchiver(ctx, cfg)
	orch.SetArchiver(archiver)

	stats, runErr := orch.Run(ctx, scraper.RunRequest{
		JobID:    id,
		Dealers:  dealers,
		Filter:   scraper.NewFilter(*rf.model, *rf.year),
		Platform: rf.platformName(),
	})
	if stats != nil {
		log.Info().
			Int("vehicles", stats.Vehicles).
			Int("new", stats.NewVehicles).
			Int("dealers", stats.Dealers).
			Int("unsupported", stats.Unsupported).
			Int("structural_failures", stats.StructuralFailures).
			Int("errors", stats.Errors).
			Msg("Scraping session complete")
	}

	if cfg.S3.Enabled() {
		archiveJobLog(context.WithoutCancel(ctx), archiver, cfg.LogDir, id)
	}
	return runErr
}

// selectDealers applies the --dealer, --limit and --all flags to the CSV rows.
func selectDealers(dealers []models.Dealer, name string, limit int, all bool) ([]models.Dealer, error) {
	if name != "" {
		for _, d := range dealers {
			if d.Name == name {
				return []models.Dealer{d}, nil
			}
		}
		return nil, fmt.Errorf("dealer %q not found in CSV", name)
	}
	if !all && limit > 0 && len(dealers) > limit {
		dealers = dealers[:limit]
	}
	return dealers, nil
}

func newArchiver(ctx context.Context, cfg *config.Config) storage.Archiver {
	if cfg.S3.Enabled() {
		a, err := storage.NewS3Archiver(ctx, cfg.S3)
		if err == nil {
			return a
		}
		log.Warn().Err(err).Msg("S3 unavailable, keeping snapshots on disk")
	}
	return storage.NewDirArchiver(cfg.SnapshotDir)
}

func archiveJobLog(ctx context.Context, archiver storage.Archiver, logDir string, jobID int64) {
	path := logging.JobLogPath(logDir, jobID)
	f, err := os.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("No job log to archive")
		return
	}
	defer f.Close()

	key := fmt.Sprintf("logs/scraper-%d.log", jobID)
	if err := archiver.Archive(ctx, key, f, "text/plain"); err != nil {
		log.Warn().Err(err).Msg("Failed to archive job log")
	}
}

func startCommand(args []string) error {
	fs := newFlagSet("start")
	rf := addRunFlags(fs)
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logFile, err := logging.Setup("", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	launcher, tracker, err := newLauncher(cfg, store)
	if err != nil {
		return err
	}

	latest, err := tracker.Latest(ctx)
	if err != nil {
		return err
	}
	if latest != nil && latest.Status == models.JobStatusRunning {
		return fmt.Errorf("job %d is still running: %w", latest.ID, scheduler.ErrRunInProgress)
	}

	opts := rf.options(cfg)
	opts.SkipDBInit = true
	job, err := launcher.Launch(ctx, rf.platformName(), opts)
	if err != nil {
		return err
	}
	return printJSON(job)
}

func statusCommand(args []string) error {
	fs := newFlagSet("status")
	jobID := fs.Int64("job-id", 0, "Job to read (default: latest)")
	health := fs.Bool("health", false, "Print a health summary instead")
	logs := fs.Bool("logs", false, "Print the job's recent log entries instead")
	logLimit := fs.Int("log-limit", 50, "Maximum log entries to print")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logFile, err := logging.Setup("", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	tracker := services.NewJobTracker(store, process.OSProbe{})

	if *health {
		report, err := tracker.Health(ctx)
		if err != nil {
			return err
		}
		return printJSON(report)
	}

	var job *models.ScrapeJob
	if *jobID > 0 {
		job, err = tracker.Status(ctx, *jobID)
	} else {
		job, err = tracker.Latest(ctx)
	}
	if err != nil {
		return err
	}
	if job == nil {
		if *logs {
			return printJSON([]models.ScrapeLog{})
		}
		return printJSON(map[string]string{"status": "idle"})
	}
	if *logs {
		entries, err := store.ListLogs(ctx, job.ID, *logLimit)
		if err != nil {
			return fmt.Errorf("list logs: %w", err)
		}
		if entries == nil {
			entries = []models.ScrapeLog{}
		}
		return printJSON(entries)
	}
	return printJSON(job.StatusView())
}

func vehiclesCommand(args []string) error {
	fs := newFlagSet("vehicles")
	dealer := fs.String("dealer", "", "Only this dealer")
	model := fs.String("model", "", "Only this model")
	search := fs.String("search", "", "Match title or VIN")
	minPrice := fs.Float64("min-price", 0, "Minimum price")
	maxPrice := fs.Float64("max-price", 0, "Maximum price")
	limit := fs.Int("limit", 100, "Maximum vehicles to print")
	stats := fs.Bool("stats", false, "Print inventory totals instead")
	dealers := fs.Bool("dealers", false, "Print the dealers with stored inventory instead")
	lineup := fs.Bool("models", false, "Print the known models instead")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logFile, err := logging.Setup("", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	svc := services.NewVehicleService(store)
	if *stats {
		s, err := svc.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(s)
	}
	if *dealers {
		names, err := svc.Dealers(ctx)
		if err != nil {
			return err
		}
		return printStrings(names)
	}
	if *lineup {
		names, err := svc.Models(ctx)
		if err != nil {
			return err
		}
		return printStrings(names)
	}

	f := models.VehicleFilter{
		Dealer: *dealer,
		Model:  *model,
		Search: *search,
		Limit:  *limit,
	}
	if *minPrice > 0 {
		f.MinPrice = minPrice
	}
	if *maxPrice > 0 {
		f.MaxPrice = maxPrice
	}

	vehicles, err := svc.List(ctx, f)
	if err != nil {
		return err
	}
	return writeVehicles(os.Stdout, vehicles)
}

func printStrings(values []string) error {
	if values == nil {
		values = []string{}
	}
	return printJSON(values)
}

func writeVehicles(w io.Writer, vehicles []models.Vehicle) error {
	if vehicles == nil {
		vehicles = []models.Vehicle{}
	}
	return jsonEncoder(w).Encode(vehicles)
}
