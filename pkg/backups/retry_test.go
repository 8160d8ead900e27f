package backups

import (
	"context"
	"testing"
	"time"

	"github.com/panoven/panoven/pkg/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 5 * time.Minute},
		{1, 10 * time.Minute},
		{2, 20 * time.Minute},
		{3, 40 * time.Minute},
		{8, 21 * time.Hour + 20*time.Minute},
		{9, 24 * time.Hour},
		{20, 24 * time.Hour},
		{-1, 5 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestHandleFailure_BackoffThenPermanent(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tour := f.seedTour(t, 3)
	job, _ := f.enqueue(t, tour.ID, models.BackupJobTypeFull, EnqueueOptions{MaxAttempts: 3})

	now := time.Now()
	f.retry.now = func() time.Time { return now }

	failure := errors.New("object store unavailable")

	// First failure: attempts 1 of 3 -> retry in 10 minutes.
	item, err := f.svc.RetrieveQueueItemByJobID(ctx, job.ID)
	require.NoError(t, err)
	item.Attempts = 1
	require.NoError(t, f.retry.HandleFailure(ctx, item, failure))

	item, err = f.svc.RetrieveQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BackupQueueStatusRetry, item.Status)
	assert.WithinDuration(t, now.Add(10*time.Minute), item.ScheduledAt, time.Second)

	stored, err := f.svc.RetrieveJob(ctx, RetrieveJobOptions{ID: &job.ID})
	require.NoError(t, err)
	assert.Equal(t, models.BackupJobStatusPending, stored.Status)

	// Second failure: attempts 2 of 3 -> retry in 20 minutes.
	item.Attempts = 2
	require.NoError(t, f.retry.HandleFailure(ctx, item, failure))

	item, err = f.svc.RetrieveQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BackupQueueStatusRetry, item.Status)
	assert.WithinDuration(t, now.Add(20*time.Minute), item.ScheduledAt, time.Second)

	// Third failure: attempts exhausted -> both failed permanently.
	item.Attempts = 3
	require.NoError(t, f.retry.HandleFailure(ctx, item, failure))

	item, err = f.svc.RetrieveQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BackupQueueStatusFailed, item.Status)

	stored, err = f.svc.RetrieveJob(ctx, RetrieveJobOptions{ID: &job.ID})
	require.NoError(t, err)
	assert.Equal(t, models.BackupJobStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "object store unavailable", *stored.ErrorMessage)
}

func TestHandleFailure_RetryKeepsContinuation(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tour := f.seedTour(t, 15)
	job, _ := f.enqueue(t, tour.ID, models.BackupJobTypeFull, EnqueueOptions{})

	// Part 1 succeeds, then the store goes down mid-job.
	_, err := f.worker.ProcessJob(ctx, job.ID)
	require.NoError(t, err)

	f.objects.failUploads = true
	_, procErr := f.worker.ProcessJob(ctx, job.ID)
	require.Error(t, procErr)

	item, err := f.svc.RetrieveQueueItemByJobID(ctx, job.ID)
	require.NoError(t, err)
	item.Attempts = 1
	require.NoError(t, f.retry.HandleFailure(ctx, item, procErr))

	// The continuation pointer survived, so the retried job resumes at part 2
	// instead of rebuilding part 1.
	f.objects.failUploads = false
	result, err := f.worker.ProcessJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, result.InProgress)

	parts, err := f.svc.ListParts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, 1, parts[0].PartNumber)
	assert.Equal(t, 2, parts[1].PartNumber)
}

func TestCleanupStuckJobs(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tour := f.seedTour(t, 3)
	_, stuck := f.enqueue(t, tour.ID, models.BackupJobTypeFull, EnqueueOptions{})
	_, fresh := f.enqueue(t, tour.ID, models.BackupJobTypeFull, EnqueueOptions{})

	now := time.Now()
	f.retry.now = func() time.Time { return now }

	stuckStart := now.Add(-31 * time.Minute)
	stuck.Status = models.BackupQueueStatusProcessing
	stuck.StartedAt = &stuckStart
	require.NoError(t, f.svc.UpdateQueueItem(ctx, stuck, "status", "started_at"))

	freshStart := now.Add(-5 * time.Minute)
	fresh.Status = models.BackupQueueStatusProcessing
	fresh.StartedAt = &freshStart
	require.NoError(t, f.svc.UpdateQueueItem(ctx, fresh, "status", "started_at"))

	reclaimed, err := f.retry.CleanupStuckJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	stuck, err = f.svc.RetrieveQueueItem(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BackupQueueStatusRetry, stuck.Status)
	assert.WithinDuration(t, now, stuck.ScheduledAt, time.Second)

	fresh, err = f.svc.RetrieveQueueItem(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BackupQueueStatusProcessing, fresh.Status)
}
