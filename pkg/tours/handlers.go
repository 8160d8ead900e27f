package tours

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/panoven/panoven/pkg/errcodes"
	"github.com/panoven/panoven/pkg/models"
	"github.com/pkg/errors"
)

type handler struct {
	tourService *Service
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Tour")
	}

	// Bind params.
	params := RetrieveTourQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	tour, err := h.tourService.RetrieveTour(ctx, RetrieveTourOptions{
		ID:           &id,
		IncludeGraph: params.IncludeGraph,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, tour))
}

func (h *handler) list(c echo.Context) error {
	ctx := c.Request().Context()

	// Bind params.
	params := ListToursQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	tours, err := h.tourService.ListTours(ctx, ListToursOptions{
		Limit:  &params.Limit,
		Offset: &params.Offset,
		UserID: params.UserID,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Tours []*models.Tour `json:"tours"`
	}{tours}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}
