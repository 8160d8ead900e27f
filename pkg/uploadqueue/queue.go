package uploadqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/panoven/panoven/pkg/errcodes"
	"github.com/panoven/panoven/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type CaptureParams struct {
	HotspotID  int
	TourID     int
	TenantID   string
	Payload    []byte
	Filename   string
	CapturedAt time.Time
}

// Service is the device-local queue of photos captured while offline.
// Capturing never touches the network; records sit here until the sync
// orchestrator drains them.
type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// Capture persists a photo locally and returns its generated id. It always
// succeeds locally regardless of network state.
func (svc *Service) Capture(ctx context.Context, params CaptureParams) (*models.PendingPhoto, error) {
	if len(params.Payload) == 0 {
		return nil, errcodes.ValidationError("\"payload\" is required")
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	capturedAt := params.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	mtype := mimetype.Detect(params.Payload)

	filename := params.Filename
	if filename == "" {
		filename = fmt.Sprintf("capture_%d%s", capturedAt.UnixMilli(), mtype.Extension())
	}

	now := time.Now()
	photo := &models.PendingPhoto{
		ID:          id.String(),
		CreatedAt:   now,
		UpdatedAt:   now,
		HotspotID:   params.HotspotID,
		TourID:      params.TourID,
		TenantID:    params.TenantID,
		Payload:     params.Payload,
		CapturedAt:  capturedAt,
		Filename:    filename,
		ContentType: mtype.String(),
		SyncStatus:  models.PendingPhotoStatusPending,
	}

	_, err = svc.db.
		NewInsert().
		Model(photo).
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return photo, nil
}

// ListPending returns unsynced photos in capture order. Photos stuck in
// "syncing" from an interrupted drain are included so they get retried.
func (svc *Service) ListPending(ctx context.Context) ([]*models.PendingPhoto, error) {
	photos := []*models.PendingPhoto{}

	err := svc.db.
		NewSelect().
		Model(&photos).
		Where("pp.sync_status IN (?)", bun.In([]string{models.PendingPhotoStatusPending, models.PendingPhotoStatusSyncing})).
		Order("pp.captured_at ASC", "pp.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return photos, nil
}

// PendingCount counts photos that have not been confirmed synced.
func (svc *Service) PendingCount(ctx context.Context) (int, error) {
	count, err := svc.db.
		NewSelect().
		Model((*models.PendingPhoto)(nil)).
		Where("sync_status IN (?)", bun.In([]string{models.PendingPhotoStatusPending, models.PendingPhotoStatusSyncing})).
		Count(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return count, nil
}

func (svc *Service) MarkSyncing(ctx context.Context, id string) error {
	return svc.setStatus(ctx, id, models.PendingPhotoStatusSyncing, nil, nil)
}

func (svc *Service) MarkSynced(ctx context.Context, id string) error {
	now := time.Now()
	return svc.setStatus(ctx, id, models.PendingPhotoStatusSynced, nil, &now)
}

func (svc *Service) MarkFailed(ctx context.Context, id string, syncErr error) error {
	msg := syncErr.Error()
	return svc.setStatus(ctx, id, models.PendingPhotoStatusFailed, &msg, nil)
}

// ResetFailed returns failed photos to pending so a later drain retries them.
func (svc *Service) ResetFailed(ctx context.Context) (int, error) {
	res, err := svc.db.
		NewUpdate().
		Model((*models.PendingPhoto)(nil)).
		Set("sync_status = ?", models.PendingPhotoStatusPending).
		Set("sync_error = NULL").
		Set("updated_at = ?", time.Now()).
		Where("sync_status = ?", models.PendingPhotoStatusFailed).
		Exec(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return int(affected), nil
}

// CleanupSynced deletes confirmed-synced photos older than the given age to
// bound local storage growth.
func (svc *Service) CleanupSynced(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	res, err := svc.db.
		NewDelete().
		Model((*models.PendingPhoto)(nil)).
		Where("sync_status = ?", models.PendingPhotoStatusSynced).
		Where("synced_at IS NOT NULL").
		Where("synced_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return int(affected), nil
}

func (svc *Service) setStatus(ctx context.Context, id, status string, syncErr *string, syncedAt *time.Time) error {
	q := svc.db.
		NewUpdate().
		Model((*models.PendingPhoto)(nil)).
		Set("sync_status = ?", status).
		Set("sync_error = ?", syncErr).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id)

	if syncedAt != nil {
		q = q.Set("synced_at = ?", *syncedAt)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if affected == 0 {
		return errcodes.NotFound("Pending photo")
	}
	return nil
}
