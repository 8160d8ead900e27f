package joblogs

import (
	"context"
	"time"

	"github.com/panoven/panoven/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type ListJobLogsOptions struct {
	BackupJobID int
	AfterID     *int
	Levels      []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateJobLog(ctx context.Context, log *models.JobLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	_, err := svc.db.
		NewInsert().
		Model(log).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) ListJobLogs(ctx context.Context, opts ListJobLogsOptions) ([]*models.JobLog, error) {
	logs := []*models.JobLog{}

	q := svc.db.
		NewSelect().
		Model(&logs).
		Where("jl.backup_job_id = ?", opts.BackupJobID).
		Order("jl.id ASC")

	if opts.AfterID != nil {
		q = q.Where("jl.id > ?", *opts.AfterID)
	}
	if opts.Levels != nil {
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			for _, level := range opts.Levels {
				sq = sq.WhereOr("jl.level = ?", level)
			}
			return sq
		})
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return logs, nil
}

// DeleteJobLogs removes all persisted logs for a backup job.
func (svc *Service) DeleteJobLogs(ctx context.Context, backupJobID int) error {
	_, err := svc.db.
		NewDelete().
		Model((*models.JobLog)(nil)).
		Where("backup_job_id = ?", backupJobID).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}
