package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"dealer_scraper/models"
	"dealer_scraper/normalize"
)

// ErrPersistenceConflict wraps uniqueness and constraint violations on write.
var ErrPersistenceConflict = errors.New("persistence conflict")

type UpsertResult struct {
	ID        int64
	Inserted  bool
	UpdatedAt time.Time
}

// VehicleStore persists canonical vehicles keyed by VIN.
type VehicleStore interface {
	UpsertVehicle(ctx context.Context, v *models.Vehicle) (*UpsertResult, error)
	GetVehicle(ctx context.Context, vin string) (*models.Vehicle, error)
	ListVehicles(ctx context.Context, f models.VehicleFilter) ([]models.Vehicle, error)
	Stats(ctx context.Context) (*models.InventoryStats, error)
	ListDealers(ctx context.Context) ([]string, error)
	ListModels(ctx context.Context) ([]string, error)
}

// JobStore persists scrape jobs. Every mutation is conditional on the job still
// running and reports whether it applied.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.ScrapeJob) (int64, error)
	GetJob(ctx context.Context, id int64) (*models.ScrapeJob, error)
	LatestJob(ctx context.Context) (*models.ScrapeJob, error)
	AttachProcess(ctx context.Context, id int64, pid int) (bool, error)
	UpdateJobProgress(ctx context.Context, id int64, vehicles, dealers int) (bool, error)
	FinishJob(ctx context.Context, id int64, fin models.JobFinish) (bool, error)
}

type LogStore interface {
	AddLog(ctx context.Context, jobID *int64, level models.LogLevel, message, dealer string) error
}

// LogReader returns a job's most recent log entries, oldest first.
type LogReader interface {
	ListLogs(ctx context.Context, jobID int64, limit int) ([]models.ScrapeLog, error)
}

const defaultLogLimit = 50

type Store interface {
	VehicleStore
	JobStore
	LogStore
	LogReader
	Close() error
}

type options struct {
	migrate bool
}

type Option func(*options)

// WithoutMigrate skips schema creation, for runs against an initialized database.
func WithoutMigrate() Option {
	return func(o *options) { o.migrate = false }
}

// Open picks the backend from the DSN: postgres:// URLs use Postgres, anything
// else is a SQLite file path.
func Open(ctx context.Context, dsn string, opts ...Option) (Store, error) {
	o := options{migrate: true}
	for _, opt := range opts {
		opt(&o)
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		pg, err := NewPostgresStore(ctx, dsn, o.migrate)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}

	lite, err := NewSQLiteStore(strings.TrimPrefix(dsn, "sqlite://"), o.migrate)
	if err != nil {
		return nil, err
	}
	return lite, nil
}

// insertDefaults fills the identity-level defaults applied on first insert.
func insertDefaults(v *models.Vehicle) (title, brand, model string) {
	brand = models.DefaultMake
	if v.Make != nil {
		brand = *v.Make
	}
	model = models.DefaultModel
	if v.Model != nil {
		model = *v.Model
	}
	if v.Title != nil {
		title = *v.Title
	} else {
		title = normalize.Title(v.Year, brand, model, models.StrValue(v.Trim))
	}
	return title, brand, model
}

// nextTimestamp returns now, nudged forward when the clock has not passed prev.
func nextTimestamp(now, prev time.Time) time.Time {
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
