package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"

	"dealer_scraper/config"
	"dealer_scraper/models"
	"dealer_scraper/process"
)

var ErrRunInProgress = errors.New("a scrape job is already running")

type Launcher interface {
	Launch(ctx context.Context, platform string, opts process.RunOptions) (*models.ScrapeJob, error)
}

// JobReader returns the latest job after checking it against its process.
type JobReader interface {
	Latest(ctx context.Context) (*models.ScrapeJob, error)
}

type Scheduler struct {
	cfg      config.SchedulerConfig
	launcher Launcher
	jobs     JobReader
	platform string
	opts     process.RunOptions

	cron     *cron.Cron
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
}

func New(cfg config.SchedulerConfig, launcher Launcher, jobs JobReader, platform string, opts process.RunOptions) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		launcher: launcher,
		jobs:     jobs,
		platform: platform,
		opts:     opts,
		cron:     cron.New(),
		stopCh:   make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Cron != "" {
		log.Info().Str("cron", s.cfg.Cron).Msg("Starting scheduler")
		_, err := s.cron.AddFunc(s.cfg.Cron, func() {
			s.tick(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Interval > 0 {
		log.Info().Dur("interval", s.cfg.Interval).Msg("Starting scheduler")
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.tick(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else {
		log.Info().Msg("No schedule configured, daemon is idle")
	}

	return nil
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cron != nil {
			<-s.cron.Stop().Done()
		}
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
}

func (s *Scheduler) tick(ctx context.Context) {
	job, err := s.TriggerNow(ctx)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			log.Info().Msg("Previous scrape still running, skipping scheduled run")
			return
		}
		log.Error().Err(err).Msg("Scheduled run error")
		return
	}
	log.Info().Int64("job_id", job.ID).Msg("Scheduled run started")
}

// TriggerNow launches a run unless the latest job is still running.
func (s *Scheduler) TriggerNow(ctx context.Context) (*models.ScrapeJob, error) {
	latest, err := s.jobs.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.Status == models.JobStatusRunning {
		return nil, fmt.Errorf("job %d: %w", latest.ID, ErrRunInProgress)
	}
	return s.launcher.Launch(ctx, s.platform, s.opts)
}
