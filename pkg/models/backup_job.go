package models

import (
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

const (
	BackupJobStatusPending    = "pending"
	BackupJobStatusProcessing = "processing"
	BackupJobStatusCompleted  = "completed"
	BackupJobStatusFailed     = "failed"
)

const (
	BackupJobTypeFull          = "full"
	BackupJobTypeMediaOnly     = "media_only"
	BackupJobTypeStructureOnly = "structure_only"
)

// ContinuationState is the persisted multipart resumption pointer for a
// backup job. The worker reads it at the start of every invocation and never
// holds it in memory across invocations.
type ContinuationState struct {
	CurrentPart  int `json:"current_part"`
	TotalParts   int `json:"total_parts"`
	ItemsPerPart int `json:"items_per_part"`
}

type BackupJob struct {
	bun.BaseModel `bun:"table:backup_jobs,alias:bj"`

	ID                 int        `bun:",pk,nullzero" json:"id"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	TourID             int        `bun:",nullzero" json:"tour_id"`
	UserID             string     `bun:",nullzero" json:"user_id"`
	JobType            string     `bun:",nullzero" json:"job_type"`
	Status             string     `bun:",nullzero" json:"status"`
	TotalItems         int        `json:"total_items"`
	ProcessedItems     int        `json:"processed_items"`
	ProgressPercentage int        `json:"progress_percentage"`
	FileSize           int64      `json:"file_size"`
	StoragePath        *string    `json:"storage_path,omitempty"`
	ErrorMessage       *string    `json:"error_message,omitempty"`
	Metadata           string     `bun:",nullzero" json:"-"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`

	Continuation *ContinuationState `bun:"-" json:"continuation,omitempty"`
}

// UnmarshalMetadata parses the metadata column into the typed continuation
// state. A job that has never been picked up has no metadata yet.
func (job *BackupJob) UnmarshalMetadata() error {
	if job.Metadata == "" {
		job.Continuation = nil
		return nil
	}
	state := &ContinuationState{}
	err := json.Unmarshal([]byte(job.Metadata), state)
	if err != nil {
		return errors.WithStack(err)
	}
	job.Continuation = state
	return nil
}

// MarshalMetadata serializes the typed continuation state back into the
// metadata column before a write.
func (job *BackupJob) MarshalMetadata() error {
	if job.Continuation == nil {
		job.Metadata = ""
		return nil
	}
	data, err := json.Marshal(job.Continuation)
	if err != nil {
		return errors.WithStack(err)
	}
	job.Metadata = string(data)
	return nil
}
