package syncer

import (
	"context"
	"testing"

	"github.com/panoven/panoven/pkg/errcodes"
	"github.com/panoven/panoven/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLifecycle(t *testing.T) {
	svc := NewJobService(newTestDB(t))
	ctx := context.Background()

	job, err := svc.StartJob(ctx, StartJobParams{TourID: 1, TenantID: "tenant1", TotalItems: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.SyncJobStatusSyncing, job.Status)

	require.NoError(t, svc.RecordItemSynced(ctx, job.ID))
	require.NoError(t, svc.RecordItemSynced(ctx, job.ID))
	require.NoError(t, svc.RecordItemFailed(ctx, job.ID, "upload timed out"))

	job, err = svc.RetrieveJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, job.ProcessedItems)
	assert.Equal(t, 1, job.FailedItems)
	assert.Equal(t, []string{"upload timed out"}, job.ErrorMessagesParsed)

	job, err = svc.CompleteJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncJobStatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)

	// Finishing twice conflicts.
	_, err = svc.CompleteJob(ctx, job.ID)
	require.Error(t, err)
	var cerr *errcodes.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 409, cerr.HTTPCode)
}

func TestCompleteJob_AllFailed(t *testing.T) {
	svc := NewJobService(newTestDB(t))
	ctx := context.Background()

	job, err := svc.StartJob(ctx, StartJobParams{TourID: 1, TenantID: "tenant1", TotalItems: 2})
	require.NoError(t, err)

	require.NoError(t, svc.RecordItemFailed(ctx, job.ID, "boom"))
	require.NoError(t, svc.RecordItemFailed(ctx, job.ID, "boom again"))

	job, err = svc.CompleteJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncJobStatusFailed, job.Status)
	assert.Len(t, job.ErrorMessagesParsed, 2)
}

func TestCancelJob(t *testing.T) {
	svc := NewJobService(newTestDB(t))
	ctx := context.Background()

	job, err := svc.StartJob(ctx, StartJobParams{TourID: 1, TenantID: "tenant1", TotalItems: 5})
	require.NoError(t, err)

	job, err = svc.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, job.CancelRequested)

	// The flag only takes effect at completion time.
	assert.Equal(t, models.SyncJobStatusSyncing, job.Status)

	job, err = svc.CompleteJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncJobStatusCancelled, job.Status)
}

func TestRetrieveJob_NotFound(t *testing.T) {
	svc := NewJobService(newTestDB(t))

	_, err := svc.RetrieveJob(context.Background(), "nope")
	require.Error(t, err)
	var cerr *errcodes.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 404, cerr.HTTPCode)
}
