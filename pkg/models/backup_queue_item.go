package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	BackupQueueStatusPending    = "pending"
	BackupQueueStatusProcessing = "processing"
	BackupQueueStatusRetry      = "retry"
	BackupQueueStatusCompleted  = "completed"
	BackupQueueStatusFailed     = "failed"
)

type BackupQueueItem struct {
	bun.BaseModel `bun:"table:backup_queue,alias:bq"`

	ID           int        `bun:",pk,nullzero" json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	BackupJobID  int        `bun:",nullzero" json:"backup_job_id"`
	Status       string     `bun:",nullzero" json:"status"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	Priority     int        `json:"priority"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}
