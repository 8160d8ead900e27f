package objectstore

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutesWithGroup registers the signed download route.
func RegisterRoutesWithGroup(g *echo.Group, store *FilesystemStore) {
	h := &handler{store: store}

	g.GET("/*", h.download)
}
