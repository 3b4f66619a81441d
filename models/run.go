package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IngestRun records one pass over a search profile
type IngestRun struct {
	ID              int64      `json:"id" db:"id"`
	RunUUID         string     `json:"run_uuid" db:"run_uuid"`
	ProfileID       string     `json:"profile_id" db:"profile_id"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at" db:"finished_at"`
	Status          RunStatus  `json:"status" db:"status"`
	PagesFetched    int        `json:"pages_fetched" db:"pages_fetched"`
	ListingsFound   int        `json:"listings_found" db:"listings_found"`
	ListingsSaved   int        `json:"listings_saved" db:"listings_saved"`
	ListingsSkipped int        `json:"listings_skipped" db:"listings_skipped"`
	ErrorsCount     int        `json:"errors_count" db:"errors_count"`
}

type ProfileStats struct {
	ProfileID         string     `json:"profile_id" db:"profile_id"`
	LastRunAt         *time.Time `json:"last_run_at" db:"last_run_at"`
	LastRunStatus     string     `json:"last_run_status" db:"last_run_status"`
	TotalRuns         int        `json:"total_runs" db:"total_runs"`
	TotalSaved        int        `json:"total_saved" db:"total_saved"`
	SuccessRate       float64    `json:"success_rate" db:"success_rate"`
	AvgRunDurationSec int        `json:"avg_run_duration_sec" db:"avg_run_duration_sec"`
	ResumePage        int        `json:"resume_page" db:"resume_page"`
}
