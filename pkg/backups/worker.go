package backups

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/panoven/panoven/pkg/errcodes"
	"github.com/panoven/panoven/pkg/joblogs"
	"github.com/panoven/panoven/pkg/models"
	"github.com/panoven/panoven/pkg/objectstore"
	"github.com/panoven/panoven/pkg/tours"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

type WorkerOptions struct {
	ItemsPerPart int
}

// Worker runs the chunked backup algorithm. Each ProcessJob call handles
// exactly one part; everything it needs is reconstructed from the database
// rows, so a job survives the worker process dying between parts.
type Worker struct {
	svc          *Service
	tourService  *tours.Service
	objects      objectstore.Store
	logService   *joblogs.Service
	itemsPerPart int
	log          logger.Logger

	// continueFn hands the job id to whatever owns the processing loop so
	// the next part runs in a fresh invocation. Nil means the caller drives
	// continuation itself.
	continueFn func(backupJobID int)
}

func NewWorker(svc *Service, tourService *tours.Service, objects objectstore.Store, logService *joblogs.Service, opts WorkerOptions) *Worker {
	itemsPerPart := opts.ItemsPerPart
	if itemsPerPart <= 0 {
		itemsPerPart = 10
	}
	return &Worker{
		svc:          svc,
		tourService:  tourService,
		objects:      objects,
		logService:   logService,
		itemsPerPart: itemsPerPart,
		log:          logger.New(),
	}
}

// OnContinue registers the continuation sink. Must be set before any
// multi-part job runs if parts should chain automatically.
func (w *Worker) OnContinue(fn func(backupJobID int)) {
	w.continueFn = fn
}

func (w *Worker) Service() *Service {
	return w.svc
}

type ProcessJobResult struct {
	Success    bool  `json:"success"`
	BackupID   int   `json:"backup_id"`
	PartsCount int   `json:"parts_count"`
	TotalSize  int64 `json:"total_size"`
	TotalItems int   `json:"total_items"`
	InProgress bool  `json:"in_progress,omitempty"`
}

// ProcessJob runs one chunk of the given backup job: slice the image list for
// the current part, build and upload one archive, record the part, then either
// finish the job or schedule its continuation.
func (w *Worker) ProcessJob(ctx context.Context, backupJobID int) (*ProcessJobResult, error) {
	job, err := w.svc.RetrieveJob(ctx, RetrieveJobOptions{ID: &backupJobID})
	if err != nil {
		return nil, err
	}

	// A job finished or failed since this invocation was scheduled. This is
	// the between-chunks cancellation point; in-flight chunks always run to
	// completion.
	if job.Status == models.BackupJobStatusCompleted || job.Status == models.BackupJobStatusFailed {
		return nil, errcodes.Conflict(fmt.Sprintf("Backup job is already %s.", job.Status))
	}

	jobLog := w.logService.NewJobLogger(ctx, job.ID, w.log)

	result, err := w.processChunk(ctx, job, jobLog)
	if err != nil {
		jobLog.Error("backup chunk failed", err, nil)
		return nil, err
	}
	return result, nil
}

func (w *Worker) processChunk(ctx context.Context, job *models.BackupJob, jobLog *joblogs.JobLogger) (*ProcessJobResult, error) {
	// The graph is fetched fresh every invocation; the worker carries no
	// state between parts.
	tour, err := w.tourService.RetrieveTour(ctx, tours.RetrieveTourOptions{
		ID:           &job.TourID,
		IncludeGraph: true,
	})
	if err != nil {
		return nil, err
	}

	refs := jobImageRefs(job.JobType, tour)

	state := job.Continuation
	if state == nil {
		state = &models.ContinuationState{
			CurrentPart:  1,
			ItemsPerPart: w.itemsPerPart,
		}
	}

	if state.CurrentPart == 1 {
		state.TotalParts = totalParts(len(refs), state.ItemsPerPart)

		now := time.Now()
		job.Status = models.BackupJobStatusProcessing
		job.TotalItems = len(refs)
		job.Continuation = state
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
		err = w.svc.UpdateJob(ctx, job, UpdateJobOptions{
			Columns: []string{"status", "total_items", "metadata", "started_at"},
		})
		if err != nil {
			return nil, err
		}

		jobLog.Info("backup started", logger.Data{
			"job_type":       job.JobType,
			"total_items":    job.TotalItems,
			"total_parts":    state.TotalParts,
			"items_per_part": state.ItemsPerPart,
		})
	} else if job.Status != models.BackupJobStatusProcessing {
		// A retried job resumes mid-continuation.
		job.Status = models.BackupJobStatusProcessing
		err = w.svc.UpdateJob(ctx, job, UpdateJobOptions{Columns: []string{"status"}})
		if err != nil {
			return nil, err
		}
	}

	start := (state.CurrentPart - 1) * state.ItemsPerPart
	end := start + state.ItemsPerPart
	if start > len(refs) {
		start = len(refs)
	}
	if end > len(refs) {
		end = len(refs)
	}
	slice := refs[start:end]

	archive, err := w.buildPart(ctx, job, jobLog, tour, state.CurrentPart, slice)
	if err != nil {
		return nil, err
	}

	// The part number and the job's start time are baked into the path, so a
	// retried part overwrites its own object instead of duplicating it.
	path := objectstore.PartPath(job.UserID, job.ID, tour.Name, state.CurrentPart, *job.StartedAt)

	size, err := w.objects.Upload(ctx, path, bytes.NewReader(archive.Data))
	if err != nil {
		return nil, err
	}

	err = w.svc.CreatePart(ctx, &models.BackupPart{
		BackupJobID: job.ID,
		PartNumber:  state.CurrentPart,
		StoragePath: path,
		FileHash:    archive.Hash,
		FileSize:    size,
		ItemsCount:  archive.ItemsCount,
	})
	if err != nil {
		return nil, err
	}

	// Progress is reported in parts, the unit of resumable work.
	if err := w.svc.UpdateProgress(ctx, job.ID, end, ProgressPercentage(state.CurrentPart, state.TotalParts)); err != nil {
		return nil, err
	}

	jobLog.Info("backup part uploaded", logger.Data{
		"part_number": state.CurrentPart,
		"total_parts": state.TotalParts,
		"items_count": archive.ItemsCount,
		"file_size":   size,
	})

	if state.CurrentPart < state.TotalParts {
		state.CurrentPart++
		job.Continuation = state
		err = w.svc.UpdateJob(ctx, job, UpdateJobOptions{Columns: []string{"metadata"}})
		if err != nil {
			return nil, err
		}

		// Fire and forget; this invocation's budget is not spent waiting on
		// the next part.
		if w.continueFn != nil {
			w.continueFn(job.ID)
		}

		return &ProcessJobResult{
			Success:    true,
			BackupID:   job.ID,
			PartsCount: state.CurrentPart - 1,
			TotalItems: job.TotalItems,
			InProgress: true,
		}, nil
	}

	return w.completeJob(ctx, job, jobLog, state)
}

func (w *Worker) completeJob(ctx context.Context, job *models.BackupJob, jobLog *joblogs.JobLogger, state *models.ContinuationState) (*ProcessJobResult, error) {
	totalSize, totalItems, err := w.svc.PartTotals(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	prefix := fmt.Sprintf("%s/%d/", job.UserID, job.ID)
	job.Status = models.BackupJobStatusCompleted
	job.FileSize = totalSize
	job.StoragePath = &prefix
	job.CompletedAt = &now
	err = w.svc.UpdateJob(ctx, job, UpdateJobOptions{
		Columns: []string{"status", "file_size", "storage_path", "completed_at"},
	})
	if err != nil {
		return nil, err
	}

	item, err := w.svc.RetrieveQueueItemByJobID(ctx, job.ID)
	if err == nil {
		item.Status = models.BackupQueueStatusCompleted
		item.CompletedAt = &now
		err = w.svc.UpdateQueueItem(ctx, item, "status", "completed_at")
		if err != nil {
			return nil, err
		}
	} else if !errors.Is(err, errcodes.NotFound("Backup queue item")) {
		return nil, err
	}

	jobLog.Info("backup completed", logger.Data{
		"parts_count": state.TotalParts,
		"total_size":  totalSize,
		"total_items": totalItems,
	})

	return &ProcessJobResult{
		Success:    true,
		BackupID:   job.ID,
		PartsCount: state.TotalParts,
		TotalSize:  totalSize,
		TotalItems: totalItems,
	}, nil
}

func (w *Worker) buildPart(ctx context.Context, job *models.BackupJob, jobLog *joblogs.JobLogger, tour *models.Tour, partNumber int, refs []tours.ImageRef) (*partArchive, error) {
	var structure []byte
	if partNumber == 1 && job.JobType != models.BackupJobTypeMediaOnly {
		data, err := marshalTourStructure(tour)
		if err != nil {
			return nil, err
		}
		structure = data
	}
	return buildPartArchive(ctx, w.objects, jobLog, job.ID, partNumber, refs, structure)
}

// jobImageRefs narrows the tour's images to what the job type covers.
func jobImageRefs(jobType string, tour *models.Tour) []tours.ImageRef {
	if jobType == models.BackupJobTypeStructureOnly {
		return nil
	}
	return tours.ImageRefs(tour)
}

func totalParts(totalImages, itemsPerPart int) int {
	if totalImages == 0 {
		// A job with no images still produces one part carrying the
		// structure manifest.
		return 1
	}
	return (totalImages + itemsPerPart - 1) / itemsPerPart
}
