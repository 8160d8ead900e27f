package backups

import (
	"context"
	"time"

	"github.com/panoven/panoven/pkg/models"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

const (
	retryBaseDelay = 5 * time.Minute
	retryMaxDelay  = 24 * time.Hour
)

var errAttemptsExhausted = errors.New("maximum attempts exhausted")

// RetryManager decides what happens to a queue item after its job fails and
// reclaims items whose worker died mid-part.
type RetryManager struct {
	svc          *Service
	stuckTimeout time.Duration
	log          logger.Logger

	now func() time.Time
}

func NewRetryManager(svc *Service, stuckTimeout time.Duration) *RetryManager {
	return &RetryManager{
		svc:          svc,
		stuckTimeout: stuckTimeout,
		log:          logger.New(),
		now:          time.Now,
	}
}

// Backoff returns the delay before the next attempt, doubling per attempt
// from five minutes up to a day.
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	delay := retryBaseDelay
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}

// HandleFailure reschedules the item with exponential backoff while attempts
// remain, or fails both the item and its job permanently once they are
// exhausted. The job's continuation state is left intact so a retried job
// resumes from the part it failed on.
func (m *RetryManager) HandleFailure(ctx context.Context, item *models.BackupQueueItem, failure error) error {
	msg := failure.Error()
	item.ErrorMessage = &msg

	job, err := m.svc.RetrieveJob(ctx, RetrieveJobOptions{ID: &item.BackupJobID})
	if err != nil {
		return err
	}
	job.ErrorMessage = &msg

	if item.Attempts < item.MaxAttempts {
		delay := Backoff(item.Attempts)
		item.Status = models.BackupQueueStatusRetry
		item.ScheduledAt = m.now().Add(delay)
		err = m.svc.UpdateQueueItem(ctx, item, "status", "scheduled_at", "error_message")
		if err != nil {
			return err
		}

		job.Status = models.BackupJobStatusPending
		err = m.svc.UpdateJob(ctx, job, UpdateJobOptions{Columns: []string{"status", "error_message"}})
		if err != nil {
			return err
		}

		m.log.Warn("backup job scheduled for retry", logger.Data{
			"backup_job_id": item.BackupJobID,
			"attempts":      item.Attempts,
			"max_attempts":  item.MaxAttempts,
			"retry_in":      delay.String(),
			"error":         msg,
		})
		return nil
	}

	item.Status = models.BackupQueueStatusFailed
	err = m.svc.UpdateQueueItem(ctx, item, "status", "error_message")
	if err != nil {
		return err
	}

	job.Status = models.BackupJobStatusFailed
	err = m.svc.UpdateJob(ctx, job, UpdateJobOptions{Columns: []string{"status", "error_message"}})
	if err != nil {
		return err
	}

	m.log.Error("backup job failed permanently", logger.Data{
		"backup_job_id": item.BackupJobID,
		"attempts":      item.Attempts,
		"error":         msg,
	})
	return nil
}

// CleanupStuckJobs resets queue items that have sat in processing past the
// timeout back to retry, scheduled immediately. This catches worker
// invocations that died without updating their row.
func (m *RetryManager) CleanupStuckJobs(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.stuckTimeout)

	res, err := m.svc.db.
		NewUpdate().
		Model((*models.BackupQueueItem)(nil)).
		Set("status = ?", models.BackupQueueStatusRetry).
		Set("scheduled_at = ?", m.now()).
		Set("updated_at = ?", m.now()).
		Where("status = ?", models.BackupQueueStatusProcessing).
		Where("started_at IS NOT NULL").
		Where("started_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WithStack(err)
	}

	if affected > 0 {
		m.log.Warn("reclaimed stuck backup jobs", logger.Data{"count": affected})
	}
	return int(affected), nil
}
