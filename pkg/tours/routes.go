package tours

import (
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// RegisterRoutesWithGroup registers tour routes on a pre-configured group.
func RegisterRoutesWithGroup(g *echo.Group, db *bun.DB) {
	tourService := NewService(db)

	h := &handler{
		tourService: tourService,
	}

	g.GET("", h.list)
	g.GET("/:id", h.retrieve)
}
