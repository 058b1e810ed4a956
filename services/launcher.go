package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/phuslu/log"

	"dealer_scraper/models"
	"dealer_scraper/process"
)

// RunLauncher starts a job in a separate run process.
type RunLauncher struct {
	tracker *JobTracker
	spawner process.Spawner
}

func NewRunLauncher(tracker *JobTracker, spawner process.Spawner) *RunLauncher {
	return &RunLauncher{tracker: tracker, spawner: spawner}
}

// Launch creates a job, spawns the run process for it and attaches its pid.
// A failed spawn leaves the job failed with the spawn error.
func (l *RunLauncher) Launch(ctx context.Context, platform string, opts process.RunOptions) (*models.ScrapeJob, error) {
	job, err := l.tracker.Create(ctx, platform)
	if err != nil {
		return nil, err
	}

	opts.JobID = job.ID
	if opts.Platform == "" && platform != "all" {
		opts.Platform = platform
	}

	handle, err := l.spawner.Spawn(ctx, opts)
	if err != nil {
		msg := fmt.Sprintf("Failed to start scraper: %v", err)
		if ferr := l.tracker.Fail(context.WithoutCancel(ctx), job.ID, msg); ferr != nil {
			log.Error().Err(ferr).Int64("job_id", job.ID).Msg("failed to record spawn failure")
		}
		return nil, fmt.Errorf("spawn job %d: %w", job.ID, err)
	}

	// A run that already finished on its own is not an error.
	if err := l.tracker.Attach(ctx, job.ID, handle.PID); err != nil && !errors.Is(err, ErrJobTerminal) {
		return nil, err
	}
	pid := handle.PID
	job.PID = &pid

	log.Info().
		Int64("job_id", job.ID).
		Int("pid", handle.PID).
		Str("platform", platform).
		Str("log", handle.LogPath).
		Msg("scraper started")
	return job, nil
}
