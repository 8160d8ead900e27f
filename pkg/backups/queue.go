package backups

import (
	"context"
	"time"

	"github.com/panoven/panoven/pkg/models"
	"github.com/robinjoseph08/golib/logger"
)

type ProcessQueueResult struct {
	Success   bool                 `json:"success"`
	Processed int                  `json:"processed"`
	Failed    int                  `json:"failed"`
	Skipped   int                  `json:"skipped"`
	Details   []ProcessQueueDetail `json:"details"`
}

type ProcessQueueDetail struct {
	BackupJobID int    `json:"backup_job_id"`
	QueueItemID int    `json:"queue_item_id"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// ProcessQueue pulls up to maxJobs due items and runs each one's next chunk
// sequentially. Sequential processing bounds memory; each job builds an
// in-memory archive.
func (w *Worker) ProcessQueue(ctx context.Context, retry *RetryManager, maxJobs int) (*ProcessQueueResult, error) {
	items, err := w.svc.DueQueueItems(ctx, maxJobs, time.Now())
	if err != nil {
		return nil, err
	}

	result := &ProcessQueueResult{Success: true, Details: []ProcessQueueDetail{}}

	for _, item := range items {
		detail := ProcessQueueDetail{
			BackupJobID: item.BackupJobID,
			QueueItemID: item.ID,
		}

		if item.Attempts >= item.MaxAttempts {
			// Exhausted before we got to it; fail it permanently rather than
			// leaving it to be pulled again.
			if err := retry.HandleFailure(ctx, item, errAttemptsExhausted); err != nil {
				return nil, err
			}
			result.Skipped++
			detail.Status = models.BackupQueueStatusFailed
			detail.Error = errAttemptsExhausted.Error()
			result.Details = append(result.Details, detail)
			continue
		}

		now := time.Now()
		item.Status = models.BackupQueueStatusProcessing
		item.StartedAt = &now
		item.Attempts++
		err = w.svc.UpdateQueueItem(ctx, item, "status", "started_at", "attempts")
		if err != nil {
			return nil, err
		}

		jobResult, err := w.ProcessJob(ctx, item.BackupJobID)
		if err != nil {
			w.log.Err(err).Warn("backup job chunk failed", logger.Data{
				"backup_job_id": item.BackupJobID,
				"attempts":      item.Attempts,
			})
			if err := retry.HandleFailure(ctx, item, err); err != nil {
				return nil, err
			}
			result.Failed++
			detail.Status = models.BackupQueueStatusRetry
			if item.Attempts >= item.MaxAttempts {
				detail.Status = models.BackupQueueStatusFailed
			}
			detail.Error = err.Error()
			result.Details = append(result.Details, detail)
			continue
		}

		result.Processed++
		detail.Status = models.BackupQueueStatusCompleted
		if jobResult.InProgress {
			detail.Status = models.BackupQueueStatusProcessing
		}
		result.Details = append(result.Details, detail)
	}

	return result, nil
}
