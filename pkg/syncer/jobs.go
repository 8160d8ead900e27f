package syncer

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/panoven/panoven/pkg/errcodes"
	"github.com/panoven/panoven/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type StartJobParams struct {
	TourID     int
	TenantID   string
	TotalItems int
}

// JobService is the backend-side record of photo sync batches. The rows are
// what the UI polls; per-item failures accumulate on the row instead of
// failing the batch.
type JobService struct {
	db *bun.DB
}

func NewJobService(db *bun.DB) *JobService {
	return &JobService{db}
}

func (svc *JobService) StartJob(ctx context.Context, params StartJobParams) (*models.SyncJob, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	now := time.Now()
	job := &models.SyncJob{
		ID:         id.String(),
		CreatedAt:  now,
		UpdatedAt:  now,
		TourID:     params.TourID,
		TenantID:   params.TenantID,
		Status:     models.SyncJobStatusSyncing,
		TotalItems: params.TotalItems,
	}
	job.ErrorMessagesParsed = []string{}

	_, err = svc.db.
		NewInsert().
		Model(job).
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return job, nil
}

func (svc *JobService) RetrieveJob(ctx context.Context, id string) (*models.SyncJob, error) {
	job := &models.SyncJob{}

	err := svc.db.
		NewSelect().
		Model(job).
		Where("sj.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Sync job")
		}
		return nil, errors.WithStack(err)
	}

	if err := job.UnmarshalErrorMessages(); err != nil {
		return nil, err
	}

	return job, nil
}

// setTotalItems aligns the job's total with the batch a drain actually found.
func (svc *JobService) setTotalItems(ctx context.Context, id string, total int) error {
	res, err := svc.db.
		NewUpdate().
		Model((*models.SyncJob)(nil)).
		Set("total_items = ?", total).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	return checkFound(res, "Sync job")
}

// cancelRequested reads just the cancel flag, cheap enough to poll between
// items.
func (svc *JobService) cancelRequested(ctx context.Context, id string) (bool, error) {
	var cancelled bool

	err := svc.db.
		NewSelect().
		Model((*models.SyncJob)(nil)).
		Column("cancel_requested").
		Where("id = ?", id).
		Scan(ctx, &cancelled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, errcodes.NotFound("Sync job")
		}
		return false, errors.WithStack(err)
	}

	return cancelled, nil
}

// RecordItemSynced bumps the processed counter for one successful photo.
func (svc *JobService) RecordItemSynced(ctx context.Context, id string) error {
	res, err := svc.db.
		NewUpdate().
		Model((*models.SyncJob)(nil)).
		Set("processed_items = processed_items + 1").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	return checkFound(res, "Sync job")
}

// RecordItemFailed bumps both counters and appends the failure message to the
// job's error list.
func (svc *JobService) RecordItemFailed(ctx context.Context, id, message string) error {
	job, err := svc.RetrieveJob(ctx, id)
	if err != nil {
		return err
	}

	job.ErrorMessagesParsed = append(job.ErrorMessagesParsed, message)
	if err := job.MarshalErrorMessages(); err != nil {
		return err
	}

	_, err = svc.db.
		NewUpdate().
		Model((*models.SyncJob)(nil)).
		Set("processed_items = processed_items + 1").
		Set("failed_items = failed_items + 1").
		Set("error_messages = ?", job.ErrorMessages).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// CompleteJob moves the job to its terminal state. A batch with failures still
// completes unless every item failed.
func (svc *JobService) CompleteJob(ctx context.Context, id string) (*models.SyncJob, error) {
	job, err := svc.RetrieveJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.SyncJobStatusSyncing && job.Status != models.SyncJobStatusPending {
		return nil, errcodes.Conflict("Sync job is already finished.")
	}

	status := models.SyncJobStatusCompleted
	if job.CancelRequested {
		status = models.SyncJobStatusCancelled
	} else if job.TotalItems > 0 && job.FailedItems == job.TotalItems {
		status = models.SyncJobStatusFailed
	}

	now := time.Now()
	_, err = svc.db.
		NewUpdate().
		Model((*models.SyncJob)(nil)).
		Set("status = ?", status).
		Set("completed_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return svc.RetrieveJob(ctx, id)
}

// CancelJob asks an in-progress job to stop. The flag is only honored between
// items; it does not abort the in-flight upload.
func (svc *JobService) CancelJob(ctx context.Context, id string) (*models.SyncJob, error) {
	job, err := svc.RetrieveJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.SyncJobStatusSyncing && job.Status != models.SyncJobStatusPending {
		return nil, errcodes.Conflict("Sync job is already finished.")
	}

	_, err = svc.db.
		NewUpdate().
		Model((*models.SyncJob)(nil)).
		Set("cancel_requested = ?", true).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return svc.RetrieveJob(ctx, id)
}

func checkFound(res sql.Result, resource string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if affected == 0 {
		return errcodes.NotFound(resource)
	}
	return nil
}
