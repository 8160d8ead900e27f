package objectstore

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/panoven/panoven/pkg/errcodes"
	"github.com/pkg/errors"
)

type handler struct {
	store *FilesystemStore
}

// download streams a stored object if the request carries a valid, unexpired
// signature.
func (h *handler) download(c echo.Context) error {
	ctx := c.Request().Context()
	path := c.Param("*")

	expires, err := strconv.ParseInt(c.QueryParam("expires"), 10, 64)
	if err != nil {
		return errcodes.InvalidSignature()
	}
	sig := c.QueryParam("sig")

	if time.Now().Unix() > expires {
		return errcodes.SignatureExpired()
	}
	if !h.store.VerifySignature(path, expires, sig) {
		return errcodes.InvalidSignature()
	}

	rc, err := h.store.Download(ctx, path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentType, "application/zip")
	c.Response().WriteHeader(http.StatusOK)
	_, err = io.Copy(c.Response(), rc)
	return errors.WithStack(err)
}
