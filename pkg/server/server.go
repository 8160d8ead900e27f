package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/panoven/panoven/pkg/backups"
	"github.com/panoven/panoven/pkg/binder"
	"github.com/panoven/panoven/pkg/config"
	"github.com/panoven/panoven/pkg/errcodes"
	"github.com/panoven/panoven/pkg/joblogs"
	"github.com/panoven/panoven/pkg/objectstore"
	"github.com/panoven/panoven/pkg/syncer"
	"github.com/panoven/panoven/pkg/tours"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/health"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	"github.com/uptrace/bun"
)

type Options struct {
	BackupService *backups.Service
	BackupWorker  *backups.Worker
	Retry         *backups.RetryManager
	Objects       *objectstore.FilesystemStore
}

func New(cfg *config.Config, db *bun.DB, opts Options) (*http.Server, error) {
	e := echo.New()

	b, err := binder.New()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	e.Binder = b

	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	health.RegisterRoutes(e)

	toursGroup := e.Group("/tours")
	tours.RegisterRoutesWithGroup(toursGroup, db)

	backupsGroup := e.Group("/backup_jobs")
	backups.RegisterRoutesWithGroup(backupsGroup, backups.RouteOptions{
		Service:      opts.BackupService,
		Worker:       opts.BackupWorker,
		Retry:        opts.Retry,
		Objects:      opts.Objects,
		MaxQueueJobs: cfg.MaxQueueJobs,
		MaxAttempts:  cfg.MaxAttempts,
		SignedURLTTL: cfg.SignedURLTTL,
	})
	joblogs.RegisterRoutesWithGroup(backupsGroup, db)

	syncGroup := e.Group("/sync_jobs")
	syncer.RegisterRoutesWithGroup(syncGroup, db)

	objectsGroup := e.Group("/objects")
	objectstore.RegisterRoutesWithGroup(objectsGroup, opts.Objects)

	echo.NotFoundHandler = notFoundHandler
	e.HTTPErrorHandler = errcodes.NewHandler().Handle

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort),
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}

	return srv, nil
}

func notFoundHandler(c echo.Context) error {
	return errcodes.NotFound("Route")
}
