package joblogs

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers the per-job log routes on the backup jobs
// group.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB) {
	jobLogService := NewService(db)

	h := &handler{
		jobLogService: jobLogService,
	}

	g.GET("/:id/logs", h.listLogs)
}
