package syncer

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type handler struct {
	jobService *JobService
}

func (h *handler) start(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := StartSyncJobBody{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	job, err := h.jobService.StartJob(ctx, StartJobParams{
		TourID:     params.TourID,
		TenantID:   params.TenantID,
		TotalItems: params.TotalItems,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusCreated, job))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()

	job, err := h.jobService.RetrieveJob(ctx, c.Param("id"))
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, job))
}

func (h *handler) cancel(c echo.Context) error {
	ctx := c.Request().Context()

	job, err := h.jobService.CancelJob(ctx, c.Param("id"))
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, job))
}
