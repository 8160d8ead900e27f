package backups

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/panoven/panoven/pkg/objectstore"
)

type RouteOptions struct {
	Service      *Service
	Worker       *Worker
	Retry        *RetryManager
	Objects      objectstore.Store
	MaxQueueJobs int
	MaxAttempts  int
	SignedURLTTL time.Duration
}

// RegisterRoutesWithGroup registers backup job routes on a pre-configured
// group.
func RegisterRoutesWithGroup(g *echo.Group, opts RouteOptions) {
	h := &handler{
		backupService: opts.Service,
		worker:        opts.Worker,
		retry:         opts.Retry,
		objects:       opts.Objects,
		maxQueueJobs:  opts.MaxQueueJobs,
		maxAttempts:   opts.MaxAttempts,
		signedURLTTL:  opts.SignedURLTTL,
	}

	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/stats", h.stats)
	g.GET("/:id", h.retrieve)
	g.POST("/actions", h.action)
}
