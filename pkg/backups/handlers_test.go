package backups

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/panoven/panoven/pkg/binder"
	"github.com/panoven/panoven/pkg/errcodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackupsTestContext(t *testing.T, payload string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()

	e := echo.New()
	b, err := binder.New()
	require.NoError(t, err)
	e.Binder = b
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	req := httptest.NewRequest(http.MethodPost, "/backup_jobs", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rr := httptest.NewRecorder()
	return e.NewContext(req, rr), rr
}

func TestHandlerCreate_DefaultsMaxAttemptsFromConfig(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tour := f.seedTour(t, 1)
	h := &handler{backupService: f.svc, maxAttempts: 5}

	c, rr := newBackupsTestContext(t, fmt.Sprintf(`{"tour_id":%d,"user_id":"user1","job_type":"full"}`, tour.ID))
	require.NoError(t, h.create(c))
	assert.Equal(t, http.StatusCreated, rr.Code)

	jobs, err := f.svc.ListJobs(ctx, ListJobsOptions{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	item, err := f.svc.RetrieveQueueItemByJobID(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 5, item.MaxAttempts)
}

func TestHandlerCreate_ExplicitMaxAttemptsWins(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	tour := f.seedTour(t, 1)
	h := &handler{backupService: f.svc, maxAttempts: 5}

	c, rr := newBackupsTestContext(t, fmt.Sprintf(`{"tour_id":%d,"user_id":"user1","job_type":"full","max_attempts":7}`, tour.ID))
	require.NoError(t, h.create(c))
	assert.Equal(t, http.StatusCreated, rr.Code)

	jobs, err := f.svc.ListJobs(ctx, ListJobsOptions{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	item, err := f.svc.RetrieveQueueItemByJobID(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 7, item.MaxAttempts)
}
