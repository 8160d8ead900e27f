package backups

const (
	ActionProcessQueue     = "process_queue"
	ActionProcessJob       = "process_job"
	ActionCleanupStuckJobs = "cleanup_stuck_jobs"
)

type CreateBackupJobPayload struct {
	TourID      int    `json:"tour_id" validate:"required,min=1"`
	UserID      string `json:"user_id" validate:"required"`
	JobType     string `json:"job_type" validate:"required,oneof=full media_only structure_only"`
	Priority    int    `json:"priority,omitempty" validate:"min=0,max=100"`
	MaxAttempts int    `json:"max_attempts,omitempty" validate:"omitempty,min=1,max=10"`
}

type ListBackupJobsQuery struct {
	Limit  int      `query:"limit" json:"limit,omitempty" default:"10" validate:"min=1,max=100"`
	Offset int      `query:"offset" json:"offset,omitempty" validate:"min=0"`
	Status []string `query:"status" json:"status,omitempty" validate:"dive,oneof=pending processing completed failed"`
	TourID *int     `query:"tour_id" json:"tour_id,omitempty"`
	UserID *string  `query:"user_id" json:"user_id,omitempty"`
}

type ActionPayload struct {
	Action      string `json:"action" validate:"required,oneof=process_queue process_job cleanup_stuck_jobs"`
	BackupJobID *int   `json:"backup_job_id,omitempty" validate:"required_if=Action process_job"`
	MaxJobs     *int   `json:"max_jobs,omitempty" validate:"omitempty,min=1,max=50"`
}
