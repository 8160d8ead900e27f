package joblogs

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/panoven/panoven/pkg/errcodes"
	"github.com/panoven/panoven/pkg/models"
	"github.com/pkg/errors"
)

type handler struct {
	jobLogService *Service
}

func (h *handler) listLogs(c echo.Context) error {
	ctx := c.Request().Context()

	backupJobID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errcodes.NotFound("Backup job")
	}

	// Bind params.
	params := ListJobLogsQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	logs, err := h.jobLogService.ListJobLogs(ctx, ListJobLogsOptions{
		BackupJobID: backupJobID,
		AfterID:     params.AfterID,
		Levels:      params.Level,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Logs []*models.JobLog `json:"logs"`
	}{logs}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}
