package backups

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/panoven/panoven/pkg/joblogs"
	"github.com/panoven/panoven/pkg/migrations"
	"github.com/panoven/panoven/pkg/models"
	"github.com/panoven/panoven/pkg/objectstore"
	"github.com/panoven/panoven/pkg/tours"
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

// failingStore wraps a real store and fails uploads or truncates downloads
// on demand.
type failingStore struct {
	objectstore.Store
	failUploads       bool
	truncateDownloads map[string]bool
}

func (s *failingStore) Upload(ctx context.Context, path string, r io.Reader) (int64, error) {
	if s.failUploads {
		return 0, errors.New("object store unavailable")
	}
	return s.Store.Upload(ctx, path, r)
}

func (s *failingStore) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	if s.truncateDownloads[path] {
		return io.NopCloser(io.MultiReader(strings.NewReader("par"), errReader{})), nil
	}
	return s.Store.Download(ctx, path)
}

// errReader fails after the bytes before it are consumed, like a dropped
// connection mid-stream.
type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

type fixture struct {
	db          *bun.DB
	svc         *Service
	tourService *tours.Service
	logService  *joblogs.Service
	objects     *failingStore
	worker      *Worker
	retry       *RetryManager
}

func newFixture(t *testing.T, itemsPerPart int) *fixture {
	t.Helper()

	db := newTestDB(t)
	svc := NewService(db)
	tourService := tours.NewService(db)
	logService := joblogs.NewService(db)

	fsStore, err := objectstore.NewFilesystemStore(t.TempDir(), "test-secret")
	require.NoError(t, err)
	objects := &failingStore{Store: fsStore}

	worker := NewWorker(svc, tourService, objects, logService, WorkerOptions{ItemsPerPart: itemsPerPart})
	retry := NewRetryManager(svc, 30*time.Minute)

	return &fixture{
		db:          db,
		svc:         svc,
		tourService: tourService,
		logService:  logService,
		objects:     objects,
		worker:      worker,
		retry:       retry,
	}
}

// seedTour creates a tour with one floor plan, one hotspot, and photoCount
// panorama photos whose blobs exist in the object store.
func (f *fixture) seedTour(t *testing.T, photoCount int) *models.Tour {
	t.Helper()
	ctx := context.Background()

	tour := &models.Tour{UserID: "user1", Name: "Lakeside Villa"}
	require.NoError(t, f.tourService.CreateTour(ctx, tour))

	plan := &models.FloorPlan{TourID: tour.ID, Name: "Ground Floor", Position: 1}
	require.NoError(t, f.tourService.CreateFloorPlan(ctx, plan))

	hotspot := &models.Hotspot{FloorPlanID: plan.ID, Name: "Entrance", X: 10, Y: 20}
	require.NoError(t, f.tourService.CreateHotspot(ctx, hotspot))

	for i := 1; i <= photoCount; i++ {
		path := fmt.Sprintf("tours/%d/photos/p%03d.jpg", tour.ID, i)
		_, err := f.objects.Upload(ctx, path, strings.NewReader(fmt.Sprintf("image-bytes-%d", i)))
		require.NoError(t, err)

		photo := &models.Photo{
			HotspotID:   hotspot.ID,
			TourID:      tour.ID,
			Filename:    fmt.Sprintf("p%03d.jpg", i),
			ContentType: "image/jpeg",
			StoragePath: path,
		}
		require.NoError(t, f.tourService.CreatePhoto(ctx, photo))
	}

	return tour
}

func (f *fixture) enqueue(t *testing.T, tourID int, jobType string, opts EnqueueOptions) (*models.BackupJob, *models.BackupQueueItem) {
	t.Helper()

	job := &models.BackupJob{
		TourID:  tourID,
		UserID:  "user1",
		JobType: jobType,
	}
	item, err := f.svc.CreateJob(context.Background(), job, opts)
	require.NoError(t, err)
	return job, item
}

func TestProcessJob_ChunkedCompletion(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tour := f.seedTour(t, 25)
	job, _ := f.enqueue(t, tour.ID, models.BackupJobTypeFull, EnqueueOptions{})

	stored, err := f.svc.RetrieveJob(ctx, RetrieveJobOptions{ID: &job.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, stored.ProgressPercentage)

	wantProgress := []int{33, 67, 100}
	for i := 0; i < 3; i++ {
		result, err := f.worker.ProcessJob(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, result.Success)

		stored, err = f.svc.RetrieveJob(ctx, RetrieveJobOptions{ID: &job.ID})
		require.NoError(t, err)
		assert.Equal(t, wantProgress[i], stored.ProgressPercentage)

		if i < 2 {
			assert.True(t, result.InProgress)
			assert.Equal(t, models.BackupJobStatusProcessing, stored.Status)
		} else {
			assert.False(t, result.InProgress)
			assert.Equal(t, 3, result.PartsCount)
			assert.Equal(t, 25, result.TotalItems)
			assert.Equal(t, models.BackupJobStatusCompleted, stored.Status)
			require.NotNil(t, stored.CompletedAt)
		}
	}

	parts, err := f.svc.ListParts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	wantItems := []int{10, 10, 5}
	for i, part := range parts {
		assert.Equal(t, i+1, part.PartNumber)
		assert.Equal(t, wantItems[i], part.ItemsCount)
		assert.NotEmpty(t, part.FileHash)
		assert.Positive(t, part.FileSize)
	}

	// The queue item completed alongside the job.
	item, err := f.svc.RetrieveQueueItemByJobID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BackupQueueStatusCompleted, item.Status)
}

func TestProcessJob_ContinuationSignal(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tour := f.seedTour(t, 15)
	job, _ := f.enqueue(t, tour.ID, models.BackupJobTypeFull, EnqueueOptions{})

	continued := []int{}
	f.worker.OnContinue(func(backupJobID int) {
		continued = append(continued, backupJobID)
	})

	result, err := f.worker.ProcessJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, result.InProgress)
	assert.Equal(t, []int{job.ID}, continued)

	// The persisted continuation pointer moved to part 2.
	stored, err := f.svc.RetrieveJob(ctx, RetrieveJobOptions{ID: &job.ID})
	require.NoError(t, err)
	require.NotNil(t, stored.Continuation)
	assert.Equal(t, 2, stored.Continuation.CurrentPart)
	assert.Equal(t, 2, stored.Continuation.TotalParts)

	result, err = f.worker.ProcessJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, result.InProgress)
	// No continuation after the last part.
	assert.Len(t, continued, 1)
}

func TestProcessJob_IdempotentPartRetry(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tour := f.seedTour(t, 15)
	job, _ := f.enqueue(t, tour.ID, models.BackupJobTypeFull, EnqueueOptions{})

	_, err := f.worker.ProcessJob(ctx, job.ID)
	require.NoError(t, err)

	// Simulate a crash after part 2's upload but before the row update: reset
	// the continuation pointer and run the same part again.
	stored, err := f.svc.RetrieveJob(ctx, RetrieveJobOptions{ID: &job.ID})
	require.NoError(t, err)
	firstParts, err := f.svc.ListParts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, firstParts, 1)

	stored.Continuation.CurrentPart = 1
	require.NoError(t, f.svc.UpdateJob(ctx, stored, UpdateJobOptions{Columns: []string{"metadata"}}))

	_, err = f.worker.ProcessJob(ctx, job.ID)
	require.NoError(t, err)

	// The retried part overwrote its row and its object; no duplicates.
	parts, err := f.svc.ListParts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, firstParts[0].StoragePath, parts[0].StoragePath)
}

func TestProcessJob_SkipsMissingBlobs(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tour := f.seedTour(t, 5)

	// Remove one blob so its download fails mid-archive.
	missing := fmt.Sprintf("tours/%d/photos/p003.jpg", tour.ID)
	require.NoError(t, f.objects.Delete(ctx, missing))

	job, _ := f.enqueue(t, tour.ID, models.BackupJobTypeFull, EnqueueOptions{})

	result, err := f.worker.ProcessJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 4, result.TotalItems)

	recorded, err := f.svc.ListParts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, 4, recorded[0].ItemsCount)

	// The skip was logged against the job.
	logs, err := f.logService.ListJobLogs(ctx, joblogs.ListJobLogsOptions{BackupJobID: job.ID, Levels: []string{models.JobLogLevelWarn}})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0].Message, "skipping image")
}

func TestProcessJob_TruncatedDownloadLeavesNoOrphanEntry(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tour := f.seedTour(t, 5)

	// One blob's reader dies mid-stream instead of failing up front.
	truncated := fmt.Sprintf("tours/%d/photos/p002.jpg", tour.ID)
	f.objects.truncateDownloads = map[string]bool{truncated: true}

	job, _ := f.enqueue(t, tour.ID, models.BackupJobTypeFull, EnqueueOptions{})

	result, err := f.worker.ProcessJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 4, result.TotalItems)

	parts, err := f.svc.ListParts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, 4, parts[0].ItemsCount)

	// The skipped image must be absent from the zip entirely, not present
	// as a truncated entry the manifest doesn't mention.
	rc, err := f.objects.Download(ctx, parts[0].StoragePath)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	for _, file := range zr.File {
		assert.NotContains(t, file.Name, "p002.jpg")
	}
	// 4 images + tour.json + manifest.json.
	assert.Len(t, zr.File, 6)
}

func TestProcessJob_StructureOnly(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tour := f.seedTour(t, 5)
	job, _ := f.enqueue(t, tour.ID, models.BackupJobTypeStructureOnly, EnqueueOptions{})

	result, err := f.worker.ProcessJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, result.InProgress)
	assert.Equal(t, 1, result.PartsCount)

	parts, err := f.svc.ListParts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, parts, 1)

	// The single part holds the tour structure and a manifest, no images.
	rc, err := f.objects.Download(ctx, parts[0].StoragePath)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	names := []string{}
	for _, file := range zr.File {
		names = append(names, file.Name)
	}
	assert.ElementsMatch(t, []string{"tour.json", "manifest.json"}, names)
}

func TestProcessJob_AlreadyFinished(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tour := f.seedTour(t, 3)
	job, _ := f.enqueue(t, tour.ID, models.BackupJobTypeFull, EnqueueOptions{})

	_, err := f.worker.ProcessJob(ctx, job.ID)
	require.NoError(t, err)

	_, err = f.worker.ProcessJob(ctx, job.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already completed")
}

func TestProcessQueue_OrderAndBound(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tour := f.seedTour(t, 3)

	_, lowItem := f.enqueue(t, tour.ID, models.BackupJobTypeFull, EnqueueOptions{Priority: 1})
	highJob, _ := f.enqueue(t, tour.ID, models.BackupJobTypeFull, EnqueueOptions{Priority: 5})
	future := time.Now().Add(time.Hour)
	f.enqueue(t, tour.ID, models.BackupJobTypeFull, EnqueueOptions{Priority: 9, ScheduledAt: &future})

	result, err := f.worker.ProcessQueue(ctx, f.retry, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	require.Len(t, result.Details, 1)

	// Highest priority due item ran first; the future one wasn't touched.
	assert.Equal(t, highJob.ID, result.Details[0].BackupJobID)

	item, err := f.svc.RetrieveQueueItem(ctx, lowItem.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BackupQueueStatusPending, item.Status)
	assert.Zero(t, item.Attempts)
}

func TestProcessQueue_FailureHandsOffToRetry(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tour := f.seedTour(t, 3)
	job, queueItem := f.enqueue(t, tour.ID, models.BackupJobTypeFull, EnqueueOptions{})

	f.objects.failUploads = true

	result, err := f.worker.ProcessQueue(ctx, f.retry, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	item, err := f.svc.RetrieveQueueItem(ctx, queueItem.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BackupQueueStatusRetry, item.Status)
	assert.Equal(t, 1, item.Attempts)
	require.NotNil(t, item.ErrorMessage)

	stored, err := f.svc.RetrieveJob(ctx, RetrieveJobOptions{ID: &job.ID})
	require.NoError(t, err)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "object store unavailable")
}
