package main

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/panoven/panoven/pkg/backups"
	"github.com/panoven/panoven/pkg/config"
	"github.com/panoven/panoven/pkg/database"
	"github.com/panoven/panoven/pkg/joblogs"
	"github.com/panoven/panoven/pkg/localstore"
	"github.com/panoven/panoven/pkg/migrations"
	"github.com/panoven/panoven/pkg/objectstore"
	"github.com/panoven/panoven/pkg/offlinecache"
	"github.com/panoven/panoven/pkg/server"
	"github.com/panoven/panoven/pkg/tours"
	"github.com/panoven/panoven/pkg/version"
	"github.com/panoven/panoven/pkg/worker"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
)

func main() {
	ctx := context.Background()
	log := logger.New()

	log.Info("starting panoven", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		log.Err(err).Fatal("migrations error")
	}
	if group.ID == 0 {
		log.Info("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	objects, err := objectstore.NewFilesystemStore(cfg.ObjectStoreDir, cfg.SignedURLSecret)
	if err != nil {
		log.Err(err).Fatal("object store error")
	}

	tourService := tours.NewService(db)

	// The local cache adapter is bound once here and never re-evaluated.
	localStore, err := localstore.Select(cfg, db)
	if err != nil {
		log.Err(err).Fatal("local store error")
	}
	cache := offlinecache.New(localStore, tourService, objects, cfg.MaxCachedTours, cfg.CacheTTL)

	backupService := backups.NewService(db)
	logService := joblogs.NewService(db)
	backupWorker := backups.NewWorker(backupService, tourService, objects, logService, backups.WorkerOptions{
		ItemsPerPart: cfg.ItemsPerPart,
	})
	retry := backups.NewRetryManager(backupService, cfg.StuckJobTimeout)

	wrkr := worker.New(cfg, backupWorker, retry, cache)

	srv, err := server.New(cfg, db, server.Options{
		BackupService: backupService,
		BackupWorker:  backupWorker,
		Retry:         retry,
		Objects:       objects,
	})
	if err != nil {
		log.Err(err).Fatal("server error")
	}

	graceful := signals.Setup()

	go func() {
		addr := fmt.Sprintf(":%d", cfg.ServerPort)
		lc := net.ListenConfig{}
		listener, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			log.Err(err).Fatal("failed to bind port")
		}

		actualPort := listener.Addr().(*net.TCPAddr).Port
		log.Info("server started", logger.Data{"port": actualPort})

		err = srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Fatal("server stopped")
		}
		log.Info("server stopped")
	}()

	wrkr.Start()
	log.Info("worker started")

	<-graceful
	log.Info("starting graceful shutdown")

	err = srv.Shutdown(ctx)
	if err != nil {
		log.Err(err).Error("server shutdown error")
	}
	log.Info("server shutdown")

	wrkr.Shutdown()
	log.Info("worker shutdown")

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")
}
