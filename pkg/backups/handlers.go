package backups

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/panoven/panoven/pkg/errcodes"
	"github.com/panoven/panoven/pkg/models"
	"github.com/panoven/panoven/pkg/objectstore"
	"github.com/pkg/errors"
)

type handler struct {
	backupService *Service
	worker        *Worker
	retry         *RetryManager
	objects       objectstore.Store
	maxQueueJobs  int
	maxAttempts   int
	signedURLTTL  time.Duration
}

func (h *handler) create(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := CreateBackupJobPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	job := &models.BackupJob{
		TourID:  params.TourID,
		UserID:  params.UserID,
		JobType: params.JobType,
		Status:  models.BackupJobStatusPending,
	}

	maxAttempts := params.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = h.maxAttempts
	}

	_, err := h.backupService.CreateJob(ctx, job, EnqueueOptions{
		Priority:    params.Priority,
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	job, err = h.backupService.RetrieveJob(ctx, RetrieveJobOptions{ID: &job.ID})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, job))
}

type partResponse struct {
	*models.BackupPart
	DownloadURL string `json:"download_url,omitempty"`
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Backup job")
	}

	job, err := h.backupService.RetrieveJob(ctx, RetrieveJobOptions{ID: &id})
	if err != nil {
		return errors.WithStack(err)
	}

	parts, err := h.backupService.ListParts(ctx, job.ID)
	if err != nil {
		return errors.WithStack(err)
	}

	partResponses := make([]partResponse, 0, len(parts))
	for _, part := range parts {
		pr := partResponse{BackupPart: part}
		// Download links are only handed out once the job is done.
		if job.Status == models.BackupJobStatusCompleted {
			url, err := h.objects.SignedURL(part.StoragePath, h.signedURLTTL)
			if err != nil {
				return errors.WithStack(err)
			}
			pr.DownloadURL = url
		}
		partResponses = append(partResponses, pr)
	}

	resp := struct {
		Job   *models.BackupJob `json:"job"`
		Parts []partResponse    `json:"parts"`
	}{job, partResponses}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListBackupJobsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	jobs, total, err := h.backupService.ListJobsWithTotal(ctx, ListJobsOptions{
		Limit:    &params.Limit,
		Offset:   &params.Offset,
		Statuses: params.Status,
		TourID:   params.TourID,
		UserID:   params.UserID,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Jobs  []*models.BackupJob `json:"jobs"`
		Total int                 `json:"total"`
	}{jobs, total}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) stats(c echo.Context) error {
	ctx := c.Request().Context()

	depth, err := h.backupService.QueueDepth(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		QueueDepth map[string]int `json:"queue_depth"`
	}{depth}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) action(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ActionPayload{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	switch params.Action {
	case ActionProcessQueue:
		maxJobs := h.maxQueueJobs
		if params.MaxJobs != nil {
			maxJobs = *params.MaxJobs
		}
		result, err := h.worker.ProcessQueue(ctx, h.retry, maxJobs)
		if err != nil {
			return errors.WithStack(err)
		}
		return errors.WithStack(c.JSON(http.StatusOK, result))

	case ActionProcessJob:
		result, err := h.worker.ProcessJob(ctx, *params.BackupJobID)
		if err != nil {
			return errors.WithStack(err)
		}
		return errors.WithStack(c.JSON(http.StatusOK, result))

	case ActionCleanupStuckJobs:
		count, err := h.retry.CleanupStuckJobs(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		resp := struct {
			Success   bool `json:"success"`
			Reclaimed int  `json:"reclaimed"`
		}{true, count}
		return errors.WithStack(c.JSON(http.StatusOK, resp))
	}

	return errcodes.ValidationError("\"action\" must be one of [process_queue, process_job, cleanup_stuck_jobs]")
}
