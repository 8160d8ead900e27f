package models

import (
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

const (
	SyncJobStatusPending   = "pending"
	SyncJobStatusSyncing   = "syncing"
	SyncJobStatusCompleted = "completed"
	SyncJobStatusCancelled = "cancelled"
	SyncJobStatusFailed    = "failed"
)

// SyncJob tracks one server-side photo sync batch. Per-item failures don't
// fail the batch; they accumulate in error_messages for later inspection.
type SyncJob struct {
	bun.BaseModel `bun:"table:sync_jobs,alias:sj"`

	ID              string     `bun:",pk,nullzero" json:"id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	TourID          int        `bun:",nullzero" json:"tour_id"`
	TenantID        string     `bun:",nullzero" json:"tenant_id"`
	Status          string     `bun:",nullzero" json:"status"`
	TotalItems      int        `json:"total_items"`
	ProcessedItems  int        `json:"processed_items"`
	FailedItems     int        `json:"failed_items"`
	ErrorMessages   string     `bun:",nullzero" json:"-"`
	CancelRequested bool       `json:"cancel_requested"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`

	ErrorMessagesParsed []string `bun:"-" json:"error_messages"`
}

func (job *SyncJob) UnmarshalErrorMessages() error {
	if job.ErrorMessages == "" {
		job.ErrorMessagesParsed = []string{}
		return nil
	}
	err := json.Unmarshal([]byte(job.ErrorMessages), &job.ErrorMessagesParsed)
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (job *SyncJob) MarshalErrorMessages() error {
	if len(job.ErrorMessagesParsed) == 0 {
		job.ErrorMessages = ""
		return nil
	}
	data, err := json.Marshal(job.ErrorMessagesParsed)
	if err != nil {
		return errors.WithStack(err)
	}
	job.ErrorMessages = string(data)
	return nil
}
