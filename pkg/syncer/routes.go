package syncer

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers sync job routes on a pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB) {
	jobService := NewJobService(db)

	h := &handler{
		jobService: jobService,
	}

	g.POST("", h.start)
	g.GET("/:id", h.retrieve)
	g.POST("/:id/cancel", h.cancel)
}
