package backups

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/panoven/panoven/pkg/errcodes"
	"github.com/panoven/panoven/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveJobOptions struct {
	ID *int
}

type ListJobsOptions struct {
	Limit    *int
	Offset   *int
	Statuses []string
	TourID   *int
	UserID   *string

	includeTotal bool
}

type UpdateJobOptions struct {
	Columns []string
}

type EnqueueOptions struct {
	Priority    int
	ScheduledAt *time.Time
	MaxAttempts int
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// CreateJob inserts the job row and its schedulable queue item in one
// transaction so a job can never exist without being runnable.
func (svc *Service) CreateJob(ctx context.Context, job *models.BackupJob, opts EnqueueOptions) (*models.BackupQueueItem, error) {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	if job.Status == "" {
		job.Status = models.BackupJobStatusPending
	}

	if err := job.MarshalMetadata(); err != nil {
		return nil, err
	}

	scheduledAt := now
	if opts.ScheduledAt != nil {
		scheduledAt = *opts.ScheduledAt
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	item := &models.BackupQueueItem{
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      models.BackupQueueStatusPending,
		MaxAttempts: maxAttempts,
		Priority:    opts.Priority,
		ScheduledAt: scheduledAt,
	}

	err := svc.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(job).Returning("*").Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		item.BackupJobID = job.ID
		_, err = tx.NewInsert().Model(item).Returning("*").Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

func (svc *Service) RetrieveJob(ctx context.Context, opts RetrieveJobOptions) (*models.BackupJob, error) {
	job := &models.BackupJob{}

	q := svc.db.
		NewSelect().
		Model(job)

	if opts.ID != nil {
		q = q.Where("bj.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Backup job")
		}
		return nil, errors.WithStack(err)
	}

	if err := job.UnmarshalMetadata(); err != nil {
		return nil, err
	}

	return job, nil
}

func (svc *Service) ListJobs(ctx context.Context, opts ListJobsOptions) ([]*models.BackupJob, error) {
	jobs, _, err := svc.listJobsWithTotal(ctx, opts)
	return jobs, errors.WithStack(err)
}

func (svc *Service) ListJobsWithTotal(ctx context.Context, opts ListJobsOptions) ([]*models.BackupJob, int, error) {
	opts.includeTotal = true
	return svc.listJobsWithTotal(ctx, opts)
}

func (svc *Service) listJobsWithTotal(ctx context.Context, opts ListJobsOptions) ([]*models.BackupJob, int, error) {
	jobs := []*models.BackupJob{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&jobs).
		Order("bj.created_at DESC", "bj.id DESC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.Statuses != nil {
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			for _, s := range opts.Statuses {
				sq = sq.WhereOr("bj.status = ?", s)
			}
			return sq
		})
	}
	if opts.TourID != nil {
		q = q.Where("bj.tour_id = ?", *opts.TourID)
	}
	if opts.UserID != nil {
		q = q.Where("bj.user_id = ?", *opts.UserID)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	for _, job := range jobs {
		if err := job.UnmarshalMetadata(); err != nil {
			return nil, 0, err
		}
	}

	return jobs, total, nil
}

func (svc *Service) UpdateJob(ctx context.Context, job *models.BackupJob, opts UpdateJobOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	if err := job.MarshalMetadata(); err != nil {
		return err
	}

	// Update updated_at.
	now := time.Now()
	job.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(job).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Backup job")
		}
		return errors.WithStack(err)
	}

	return nil
}

// UpdateProgress sets processed_items and the progress percentage. The
// counter only ever moves forward; a stale writer can't roll it back.
func (svc *Service) UpdateProgress(ctx context.Context, jobID, processedItems, percentage int) error {
	_, err := svc.db.
		NewUpdate().
		Model((*models.BackupJob)(nil)).
		Set("processed_items = ?", processedItems).
		Set("progress_percentage = ?", percentage).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", jobID).
		Where("processed_items <= ?", processedItems).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// DueQueueItems pulls up to maxJobs runnable items, highest priority first,
// oldest schedule first within a priority.
func (svc *Service) DueQueueItems(ctx context.Context, maxJobs int, now time.Time) ([]*models.BackupQueueItem, error) {
	items := []*models.BackupQueueItem{}

	err := svc.db.
		NewSelect().
		Model(&items).
		Where("bq.status IN (?)", bun.In([]string{models.BackupQueueStatusPending, models.BackupQueueStatusRetry})).
		Where("bq.scheduled_at <= ?", now).
		Order("bq.priority DESC", "bq.scheduled_at ASC", "bq.id ASC").
		Limit(maxJobs).
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return items, nil
}

func (svc *Service) RetrieveQueueItem(ctx context.Context, id int) (*models.BackupQueueItem, error) {
	item := &models.BackupQueueItem{}

	err := svc.db.
		NewSelect().
		Model(item).
		Where("bq.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Backup queue item")
		}
		return nil, errors.WithStack(err)
	}

	return item, nil
}

func (svc *Service) RetrieveQueueItemByJobID(ctx context.Context, backupJobID int) (*models.BackupQueueItem, error) {
	item := &models.BackupQueueItem{}

	err := svc.db.
		NewSelect().
		Model(item).
		Where("bq.backup_job_id = ?", backupJobID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Backup queue item")
		}
		return nil, errors.WithStack(err)
	}

	return item, nil
}

func (svc *Service) UpdateQueueItem(ctx context.Context, item *models.BackupQueueItem, columns ...string) error {
	if len(columns) == 0 {
		return nil
	}

	now := time.Now()
	item.UpdatedAt = now
	columns = append(columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(item).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// CreatePart records one completed chunk. The unique (job, part_number) index
// plus the upsert means a retried chunk overwrites its own row.
func (svc *Service) CreatePart(ctx context.Context, part *models.BackupPart) error {
	if part.CreatedAt.IsZero() {
		part.CreatedAt = time.Now()
	}
	if part.Status == "" {
		part.Status = models.BackupPartStatusCompleted
	}
	if part.CompletedAt.IsZero() {
		part.CompletedAt = time.Now()
	}

	_, err := svc.db.
		NewInsert().
		Model(part).
		On("CONFLICT (backup_job_id, part_number) DO UPDATE").
		Set("storage_path = EXCLUDED.storage_path").
		Set("file_hash = EXCLUDED.file_hash").
		Set("file_size = EXCLUDED.file_size").
		Set("items_count = EXCLUDED.items_count").
		Set("status = EXCLUDED.status").
		Set("completed_at = EXCLUDED.completed_at").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) ListParts(ctx context.Context, backupJobID int) ([]*models.BackupPart, error) {
	parts := []*models.BackupPart{}

	err := svc.db.
		NewSelect().
		Model(&parts).
		Where("bp.backup_job_id = ?", backupJobID).
		Order("bp.part_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return parts, nil
}

// PartTotals sums size and item counts across all recorded parts of a job.
func (svc *Service) PartTotals(ctx context.Context, backupJobID int) (totalSize int64, totalItems int, err error) {
	row := struct {
		TotalSize  int64 `bun:"total_size"`
		TotalItems int   `bun:"total_items"`
	}{}

	err = svc.db.
		NewSelect().
		Model((*models.BackupPart)(nil)).
		ColumnExpr("COALESCE(SUM(file_size), 0) AS total_size").
		ColumnExpr("COALESCE(SUM(items_count), 0) AS total_items").
		Where("backup_job_id = ?", backupJobID).
		Scan(ctx, &row)
	if err != nil {
		return 0, 0, errors.WithStack(err)
	}

	return row.TotalSize, row.TotalItems, nil
}

// QueueDepth counts queue items per status.
func (svc *Service) QueueDepth(ctx context.Context) (map[string]int, error) {
	rows := []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}{}

	err := svc.db.
		NewSelect().
		Model((*models.BackupQueueItem)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	depth := make(map[string]int, len(rows))
	for _, row := range rows {
		depth[row.Status] = row.Count
	}
	return depth, nil
}

// ProgressPercentage derives the rounded percentage for a job's counters.
func ProgressPercentage(processed, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(float64(processed) / float64(total) * 100))
}
