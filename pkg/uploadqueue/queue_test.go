package uploadqueue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/panoven/panoven/pkg/migrations"
	"github.com/panoven/panoven/pkg/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// jpegHeader is enough of a JPEG for content sniffing.
var jpegHeader = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 0x4a, 0x46, 0x49, 0x46, 0x00}

func TestCapture(t *testing.T) {
	svc := NewService(newTestDB(t))
	ctx := context.Background()

	photo, err := svc.Capture(ctx, CaptureParams{
		HotspotID: 1,
		TourID:    2,
		TenantID:  "tenant1",
		Payload:   jpegHeader,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, photo.ID)
	assert.Equal(t, models.PendingPhotoStatusPending, photo.SyncStatus)
	assert.Equal(t, "image/jpeg", photo.ContentType)
	assert.Contains(t, photo.Filename, ".jpg")
	assert.False(t, photo.CapturedAt.IsZero())
}

func TestCapture_EmptyPayload(t *testing.T) {
	svc := NewService(newTestDB(t))

	_, err := svc.Capture(context.Background(), CaptureParams{HotspotID: 1, TourID: 2, TenantID: "tenant1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}

func TestListPending_CaptureOrder(t *testing.T) {
	svc := NewService(newTestDB(t))
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	ids := []string{}
	for i := 0; i < 3; i++ {
		photo, err := svc.Capture(ctx, CaptureParams{
			HotspotID:  1,
			TourID:     2,
			TenantID:   "tenant1",
			Payload:    jpegHeader,
			CapturedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		ids = append(ids, photo.ID)
	}

	pending, err := svc.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, photo := range pending {
		assert.Equal(t, ids[i], photo.ID)
	}
}

func TestStatusTransitions(t *testing.T) {
	svc := NewService(newTestDB(t))
	ctx := context.Background()

	photo, err := svc.Capture(ctx, CaptureParams{HotspotID: 1, TourID: 2, TenantID: "tenant1", Payload: jpegHeader})
	require.NoError(t, err)

	require.NoError(t, svc.MarkSyncing(ctx, photo.ID))

	count, err := svc.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, svc.MarkSynced(ctx, photo.ID))

	count, err = svc.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMarkFailed_RetainsError(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	photo, err := svc.Capture(ctx, CaptureParams{HotspotID: 1, TourID: 2, TenantID: "tenant1", Payload: jpegHeader})
	require.NoError(t, err)

	require.NoError(t, svc.MarkFailed(ctx, photo.ID, errors.New("upload timed out")))

	stored := &models.PendingPhoto{}
	err = db.NewSelect().Model(stored).Where("pp.id = ?", photo.ID).Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PendingPhotoStatusFailed, stored.SyncStatus)
	require.NotNil(t, stored.SyncError)
	assert.Equal(t, "upload timed out", *stored.SyncError)
}

func TestResetFailed(t *testing.T) {
	svc := NewService(newTestDB(t))
	ctx := context.Background()

	photo, err := svc.Capture(ctx, CaptureParams{HotspotID: 1, TourID: 2, TenantID: "tenant1", Payload: jpegHeader})
	require.NoError(t, err)
	require.NoError(t, svc.MarkFailed(ctx, photo.ID, errors.New("boom")))

	reset, err := svc.ResetFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reset)

	pending, err := svc.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.PendingPhotoStatusPending, pending[0].SyncStatus)
}

func TestCleanupSynced(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	photo, err := svc.Capture(ctx, CaptureParams{HotspotID: 1, TourID: 2, TenantID: "tenant1", Payload: jpegHeader})
	require.NoError(t, err)
	require.NoError(t, svc.MarkSynced(ctx, photo.ID))

	// Too recent to clean.
	removed, err := svc.CleanupSynced(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	// Age the synced_at timestamp past the cutoff.
	_, err = db.NewUpdate().
		Model((*models.PendingPhoto)(nil)).
		Set("synced_at = ?", time.Now().Add(-2*time.Hour)).
		Where("id = ?", photo.ID).
		Exec(ctx)
	require.NoError(t, err)

	removed, err = svc.CleanupSynced(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
