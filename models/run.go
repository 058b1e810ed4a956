package models

import "time"

type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition may leave this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ScrapeJob is one extraction run. PID is a weak reference to the external
// process doing the work; nothing here owns or signals that process.
type ScrapeJob struct {
	ID              int64      `json:"id" db:"id"`
	Platform        string     `json:"platform" db:"platform"`
	Status          JobStatus  `json:"status" db:"status"`
	VehiclesScraped int        `json:"vehicles_scraped" db:"vehicles_scraped"`
	DealersScraped  int        `json:"dealers_scraped" db:"dealers_scraped"`
	ErrorMessage    *string    `json:"error_message" db:"error_message"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	CompletedAt     *time.Time `json:"completed_at" db:"completed_at"`
	PID             *int       `json:"pid" db:"pid"`
}

// JobFinish describes a terminal transition.
type JobFinish struct {
	Status          JobStatus
	ErrorMessage    *string
	CompletedAt     time.Time
	VehiclesScraped *int
	DealersScraped  *int
}

// JobStatusView is the read shape exposed to status readers.
type JobStatusView struct {
	Status          JobStatus  `json:"status"`
	Platform        string     `json:"platform"`
	PID             *int       `json:"pid"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	VehiclesScraped int        `json:"vehicles_scraped"`
	DealersScraped  int        `json:"dealers_scraped"`
	ErrorMessage    *string    `json:"error_message"`
}

func (j *ScrapeJob) StatusView() JobStatusView {
	return JobStatusView{
		Status:          j.Status,
		Platform:        j.Platform,
		PID:             j.PID,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		VehiclesScraped: j.VehiclesScraped,
		DealersScraped:  j.DealersScraped,
		ErrorMessage:    j.ErrorMessage,
	}
}

// HealthReport mirrors what a health endpoint would expose about the latest job.
type HealthReport struct {
	ScraperRunning bool       `json:"scraper_running"`
	PID            *int       `json:"pid"`
	LastJob        *ScrapeJob `json:"last_job,omitempty"`
}
