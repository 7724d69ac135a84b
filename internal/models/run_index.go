package models

import "time"

// RunIndexRow is the gateway's denormalized, best-effort read projection
// of a run into Postgres, used for fast listing and audit. It is written
// exactly once, after the run's summary.json is durable on disk; the
// orchestrator never reads or writes it, and a failure to write it never
// affects the run's reported outcome.
type RunIndexRow struct {
	ID              string    `json:"id" db:"id"`
	UserID          string    `json:"user_id" db:"user_id"`
	Prompt          string    `json:"prompt" db:"prompt"`
	Success         bool      `json:"success" db:"success"`
	Fallback        bool      `json:"fallback" db:"fallback"`
	TotalIterations int       `json:"total_iterations" db:"total_iterations"`
	ArtifactDir     string    `json:"artifact_dir" db:"artifact_dir"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	CompletedAt     time.Time `json:"completed_at" db:"completed_at"`
}
