package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"
	"golang.org/x/time/rate"

	"dealer_scraper/config"
	"dealer_scraper/models"
	"dealer_scraper/storage"
)

// VehicleSink accepts canonical vehicles for persistence.
type VehicleSink interface {
	Ingest(ctx context.Context, v *models.Vehicle) (*models.IngestResult, error)
}

// JobRecorder records a run's progress and outcome on its job.
type JobRecorder interface {
	Progress(ctx context.Context, id int64, vehicles, dealers int) error
	Complete(ctx context.Context, id int64, vehicles, dealers int) error
	Fail(ctx context.Context, id int64, message string) error
}

type RunRequest struct {
	JobID   int64
	Dealers []models.Dealer
	Filter  Filter
	// Platform restricts the run to one platform; empty or "all" means every one.
	Platform string
}

type RunStats struct {
	Vehicles           int
	NewVehicles        int
	Dealers            int
	Unsupported        int
	StructuralFailures int
	Errors             int
}

type Orchestrator struct {
	platforms config.PlatformTable
	adapters  map[string]Adapter
	sink      VehicleSink
	jobs      JobRecorder
	logs      storage.LogStore
	archiver  storage.Archiver
	limiter   *rate.Limiter

	// Runs never overlap inside one process.
	mu sync.Mutex
}

func NewOrchestrator(platforms config.PlatformTable, adapters map[string]Adapter, sink VehicleSink, jobs JobRecorder, logs storage.LogStore) *Orchestrator {
	copied := make(map[string]Adapter, len(adapters))
	for platform, a := range adapters {
		copied[platform] = a
	}
	return &Orchestrator{
		platforms: platforms,
		adapters:  copied,
		sink:      sink,
		jobs:      jobs,
		logs:      logs,
		limiter:   rate.NewLimiter(rate.Inf, 1),
	}
}

// SetDelay enforces a minimum gap between consecutive targets.
func (o *Orchestrator) SetDelay(d time.Duration) {
	if d <= 0 {
		o.limiter = rate.NewLimiter(rate.Inf, 1)
		return
	}
	o.limiter = rate.NewLimiter(rate.Every(d), 1)
}

// SetArchiver enables page snapshots for targets that fail structurally.
func (o *Orchestrator) SetArchiver(a storage.Archiver) {
	o.archiver = a
}

// Run scrapes every supported dealer in the request, one at a time, and
// finishes the job. A failing target never aborts the run.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunStats, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	jobID := req.JobID
	stats := &RunStats{}

	targets, unsupported := config.ResolveTargets(req.Dealers, o.platforms)
	for _, d := range unsupported {
		o.log(ctx, jobID, models.LogLevelWarn, "Skipping unsupported dealer", d.Name)
	}
	stats.Unsupported = len(unsupported)

	if req.Platform != "" && req.Platform != "all" {
		filtered := targets[:0]
		for _, t := range targets {
			if t.Platform == req.Platform {
				filtered = append(filtered, t)
			}
		}
		targets = filtered
	}

	if len(targets) == 0 {
		msg := "No supported dealers found"
		o.log(ctx, jobID, models.LogLevelError, msg, "")
		if err := o.jobs.Fail(context.WithoutCancel(ctx), jobID, msg); err != nil {
			log.Error().Err(err).Int64("job_id", jobID).Msg("Failed to mark job failed")
		}
		return stats, ErrNoSupportedDealers
	}

	o.log(ctx, jobID, models.LogLevelInfo, fmt.Sprintf("Scraping %d dealers", len(targets)), "")

	for i, target := range targets {
		if i > 0 {
			if err := o.limiter.Wait(ctx); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		o.scrapeTarget(ctx, jobID, target, req.Filter, stats)

		if err := o.jobs.Progress(ctx, jobID, stats.Vehicles, stats.Dealers); err != nil {
			log.Warn().Err(err).Int64("job_id", jobID).Msg("Failed to record progress")
		}
	}

	if err := ctx.Err(); err != nil {
		msg := fmt.Sprintf("Run interrupted: %v", err)
		o.log(context.WithoutCancel(ctx), jobID, models.LogLevelError, msg, "")
		if ferr := o.jobs.Fail(context.WithoutCancel(ctx), jobID, msg); ferr != nil {
			log.Error().Err(ferr).Int64("job_id", jobID).Msg("Failed to mark job failed")
		}
		return stats, err
	}

	if err := o.jobs.Complete(ctx, jobID, stats.Vehicles, stats.Dealers); err != nil {
		return stats, fmt.Errorf("complete job: %w", err)
	}

	o.log(ctx, jobID, models.LogLevelInfo,
		fmt.Sprintf("Completed: %d vehicles (%d new) from %d dealers, %d structural failures, %d errors",
			stats.Vehicles, stats.NewVehicles, stats.Dealers, stats.StructuralFailures, stats.Errors), "")
	return stats, nil
}

func (o *Orchestrator) scrapeTarget(ctx context.Context, jobID int64, target models.DealerTarget, filter Filter, stats *RunStats) {
	adapter, ok := o.adapters[target.Platform]
	if !ok {
		o.log(ctx, jobID, models.LogLevelWarn, fmt.Sprintf("No adapter for platform %q, skipping", target.Platform), target.Name)
		return
	}

	o.log(ctx, jobID, models.LogLevelInfo, fmt.Sprintf("Scraping %s inventory", adapter.Platform()), target.Name)

	vehicles, err := adapter.Scrape(ctx, target, filter)
	if err != nil {
		var se *StructuralError
		if errors.As(err, &se) {
			stats.StructuralFailures++
			o.log(ctx, jobID, models.LogLevelError, se.Error(), target.Name)
			o.archiveSnapshot(ctx, jobID, se)
			return
		}
		stats.Errors++
		o.log(ctx, jobID, models.LogLevelError, fmt.Sprintf("Scrape error: %v", err), target.Name)
		return
	}

	saved := 0
	for i := range vehicles {
		res, err := o.sink.Ingest(ctx, &vehicles[i])
		if err != nil {
			stats.Errors++
			o.log(ctx, jobID, models.LogLevelError, fmt.Sprintf("Failed to save %s: %v", vehicles[i].VIN, err), target.Name)
			continue
		}
		saved++
		if res.IsNew {
			stats.NewVehicles++
		}
	}

	stats.Vehicles += saved
	stats.Dealers++
	o.log(ctx, jobID, models.LogLevelInfo, fmt.Sprintf("Saved %d of %d vehicles", saved, len(vehicles)), target.Name)
}

func (o *Orchestrator) archiveSnapshot(ctx context.Context, jobID int64, se *StructuralError) {
	if o.archiver == nil || se.Snapshot == "" {
		return
	}
	key := fmt.Sprintf("snapshots/%d/%s-%s.html", jobID, slug(se.Dealer), uuid.NewString())
	if err := o.archiver.Archive(ctx, key, strings.NewReader(se.Snapshot), "text/html"); err != nil {
		log.Warn().Err(err).Str("dealer", se.Dealer).Msg("Failed to archive page snapshot")
		return
	}
	log.Info().Str("dealer", se.Dealer).Str("key", key).Msg("Archived page snapshot")
}

func (o *Orchestrator) log(ctx context.Context, jobID int64, level models.LogLevel, message, dealer string) {
	var e *log.Entry
	switch level {
	case models.LogLevelError:
		e = log.Error()
	case models.LogLevelWarn:
		e = log.Warn()
	default:
		e = log.Info()
	}
	e.Int64("job_id", jobID).Str("dealer", dealer).Msg(message)

	if o.logs == nil {
		return
	}
	if err := o.logs.AddLog(ctx, &jobID, level, message, dealer); err != nil {
		log.Debug().Err(err).Msg("Failed to persist log entry")
	}
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
		} else if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
