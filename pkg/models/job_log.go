package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	JobLogLevelInfo  = "info"
	JobLogLevelWarn  = "warn"
	JobLogLevelError = "error"
)

// JobLog is a persisted log line for a backup job, kept so a user can inspect
// what happened to a job after the fact.
type JobLog struct {
	bun.BaseModel `bun:"table:job_logs,alias:jl"`

	ID          int       `bun:",pk,nullzero" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	BackupJobID int       `bun:",nullzero" json:"backup_job_id"`
	Level       string    `bun:",nullzero" json:"level"`
	Message     string    `bun:",nullzero" json:"message"`
	Data        *string   `json:"data,omitempty"`
}
