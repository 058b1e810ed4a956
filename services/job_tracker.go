package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"

	"dealer_scraper/models"
	"dealer_scraper/process"
	"dealer_scraper/storage"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobTerminal = errors.New("job already finished")
)

// JobTracker owns the scrape job state machine. Liveness of the process doing a
// job's work is checked only when the job is read, never in the background.
type JobTracker struct {
	store storage.JobStore
	probe process.Probe
	now   func() time.Time
}

func NewJobTracker(store storage.JobStore, probe process.Probe) *JobTracker {
	return &JobTracker{
		store: store,
		probe: probe,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (t *JobTracker) Create(ctx context.Context, platform string) (*models.ScrapeJob, error) {
	job := &models.ScrapeJob{
		Platform:  platform,
		Status:    models.JobStatusRunning,
		StartedAt: t.now(),
	}
	id, err := t.store.CreateJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	job.ID = id
	return job, nil
}

// Attach records the pid of the process working on the job. The pid is a
// back-reference only.
func (t *JobTracker) Attach(ctx context.Context, id int64, pid int) error {
	applied, err := t.store.AttachProcess(ctx, id, pid)
	if err != nil {
		return fmt.Errorf("attach process: %w", err)
	}
	return t.checkApplied(ctx, id, applied)
}

func (t *JobTracker) Progress(ctx context.Context, id int64, vehicles, dealers int) error {
	applied, err := t.store.UpdateJobProgress(ctx, id, vehicles, dealers)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return t.checkApplied(ctx, id, applied)
}

func (t *JobTracker) Complete(ctx context.Context, id int64, vehicles, dealers int) error {
	return t.finish(ctx, id, models.JobFinish{
		Status:          models.JobStatusCompleted,
		CompletedAt:     t.now(),
		VehiclesScraped: &vehicles,
		DealersScraped:  &dealers,
	})
}

// Fail moves a running job to failed, keeping whatever counters it reached.
func (t *JobTracker) Fail(ctx context.Context, id int64, message string) error {
	return t.finish(ctx, id, models.JobFinish{
		Status:       models.JobStatusFailed,
		ErrorMessage: &message,
		CompletedAt:  t.now(),
	})
}

func (t *JobTracker) finish(ctx context.Context, id int64, fin models.JobFinish) error {
	applied, err := t.store.FinishJob(ctx, id, fin)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return t.checkApplied(ctx, id, applied)
}

func (t *JobTracker) checkApplied(ctx context.Context, id int64, applied bool) error {
	if applied {
		return nil
	}
	job, err := t.store.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job %d: %w", id, ErrJobNotFound)
	}
	return fmt.Errorf("job %d is %s: %w", id, job.Status, ErrJobTerminal)
}

// Status reads a job, reconciling it against its process first.
func (t *JobTracker) Status(ctx context.Context, id int64) (*models.ScrapeJob, error) {
	job, err := t.store.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %d: %w", id, ErrJobNotFound)
	}
	return t.reconcile(ctx, job)
}

// Latest returns the most recently started job, reconciled, or nil if none exist.
func (t *JobTracker) Latest(ctx context.Context) (*models.ScrapeJob, error) {
	job, err := t.store.LatestJob(ctx)
	if err != nil {
		return nil, fmt.Errorf("get latest job: %w", err)
	}
	if job == nil {
		return nil, nil
	}
	return t.reconcile(ctx, job)
}

func (t *JobTracker) Health(ctx context.Context) (*models.HealthReport, error) {
	job, err := t.Latest(ctx)
	if err != nil {
		return nil, err
	}
	report := &models.HealthReport{LastJob: job}
	if job != nil && job.Status == models.JobStatusRunning {
		report.ScraperRunning = true
		report.PID = job.PID
	}
	return report, nil
}

func (t *JobTracker) reconcile(ctx context.Context, job *models.ScrapeJob) (*models.ScrapeJob, error) {
	if job.Status != models.JobStatusRunning || job.PID == nil {
		return job, nil
	}
	if t.probe.IsAlive(*job.PID) {
		return job, nil
	}

	msg := fmt.Sprintf("process %d terminated unexpectedly", *job.PID)
	completedAt := t.now()
	applied, err := t.store.FinishJob(ctx, job.ID, models.JobFinish{
		Status:       models.JobStatusFailed,
		ErrorMessage: &msg,
		CompletedAt:  completedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("mark job failed: %w", err)
	}
	if !applied {
		// The run finished on its own between our read and write.
		fresh, err := t.store.GetJob(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("get job: %w", err)
		}
		return fresh, nil
	}

	log.Warn().Int64("job_id", job.ID).Int("pid", *job.PID).Msg("job process is gone, marked failed")

	job.Status = models.JobStatusFailed
	job.ErrorMessage = &msg
	job.CompletedAt = &completedAt
	return job, nil
}
