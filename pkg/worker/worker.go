package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/panoven/panoven/pkg/backups"
	"github.com/panoven/panoven/pkg/config"
	"github.com/panoven/panoven/pkg/offlinecache"
	"github.com/robinjoseph08/golib/logger"
)

var processID = randStringBytes(8)

// Worker is the long-lived process loop. It polls the backup queue on an
// interval, runs continuations for multi-part jobs as they are signalled, and
// periodically reclaims stuck queue items and sweeps expired cached tours.
//
// Continuations arrive on an in-process channel instead of the queue: a
// multi-part job signals its next part directly, so parts chain without
// waiting for the next poll tick.
type Worker struct {
	config *config.Config
	log    logger.Logger

	backupWorker *backups.Worker
	retry        *backups.RetryManager
	cache        *offlinecache.Cache

	continuations  chan int
	shutdown       chan struct{}
	doneFetching   chan struct{}
	doneProcessing chan struct{}
}

func New(cfg *config.Config, backupWorker *backups.Worker, retry *backups.RetryManager, cache *offlinecache.Cache) *Worker {
	w := &Worker{
		config: cfg,
		log:    logger.New(),

		backupWorker: backupWorker,
		retry:        retry,
		cache:        cache,

		continuations:  make(chan int, 64),
		shutdown:       make(chan struct{}),
		doneFetching:   make(chan struct{}),
		doneProcessing: make(chan struct{}),
	}

	backupWorker.OnContinue(w.enqueueContinuation)

	return w
}

func (w *Worker) Start() {
	go w.runMaintenance()
	go w.processJobs()
}

func (w *Worker) enqueueContinuation(backupJobID int) {
	select {
	case w.continuations <- backupJobID:
	default:
		// Channel full; the next poll tick picks the job up from its queue
		// item instead.
		w.log.Warn("continuation channel full", logger.Data{"backup_job_id": backupJobID})
	}
}

// runMaintenance owns the slow tickers: stuck-job reclamation and the cache
// expiry sweep.
func (w *Worker) runMaintenance() {
	reclaim := time.NewTicker(w.config.StuckJobTimeout)
	defer reclaim.Stop()
	sweep := time.NewTicker(w.config.CacheSweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-w.shutdown:
			w.doneFetching <- struct{}{}
			return
		case <-reclaim.C:
			count, err := w.retry.CleanupStuckJobs(context.Background())
			if err != nil {
				w.log.Err(err).Error("cleanup stuck jobs error")
			} else if count > 0 {
				w.log.Info("reclaimed stuck queue items", logger.Data{"count": count, "process_id": processID})
			}
		case <-sweep.C:
			if w.cache == nil {
				continue
			}
			removed, err := w.cache.CleanExpiredTours(context.Background())
			if err != nil {
				w.log.Err(err).Error("cache sweep error")
			} else if removed > 0 {
				w.log.Info("swept expired cached tours", logger.Data{"count": removed})
			}
		}
	}
}

// processJobs drains the queue on poll ticks and runs continuations as they
// arrive. Everything runs on this one goroutine; jobs within a drain are
// sequential so at most one in-memory archive exists at a time.
func (w *Worker) processJobs() {
	timer := time.NewTimer(w.config.WorkerPollInterval)
	defer timer.Stop()

	for {
		select {
		case <-w.shutdown:
			w.doneProcessing <- struct{}{}
			return
		case backupJobID := <-w.continuations:
			w.runContinuation(backupJobID)
		case <-timer.C:
			w.drainQueue()
			timer.Reset(w.config.WorkerPollInterval)
		}
	}
}

func (w *Worker) drainQueue() {
	id, err := uuid.NewRandom()
	if err != nil {
		w.log.Err(err).Error("new uuid error")
		return
	}
	log := w.log.ID(id.String()).Root(logger.Data{"process_id": processID})
	ctx := log.WithContext(context.Background())

	result, err := w.backupWorker.ProcessQueue(ctx, w.retry, w.config.MaxQueueJobs)
	if err != nil {
		log.Err(err).Error("process backup queue error")
		return
	}
	if result.Processed > 0 || result.Failed > 0 || result.Skipped > 0 {
		log.Info("processed backup queue", logger.Data{
			"processed": result.Processed,
			"failed":    result.Failed,
			"skipped":   result.Skipped,
		})
	}
}

func (w *Worker) runContinuation(backupJobID int) {
	id, err := uuid.NewRandom()
	if err != nil {
		w.log.Err(err).Error("new uuid error")
		return
	}
	log := w.log.ID(id.String()).Root(logger.Data{"backup_job_id": backupJobID, "process_id": processID})
	ctx := log.WithContext(context.Background())

	result, err := w.backupWorker.ProcessJob(ctx, backupJobID)
	if err != nil {
		log.Err(err).Error("continuation error")

		item, rerr := w.backupWorker.Service().RetrieveQueueItemByJobID(ctx, backupJobID)
		if rerr != nil {
			log.Err(rerr).Error("retrieve queue item error")
			return
		}
		if herr := w.retry.HandleFailure(ctx, item, err); herr != nil {
			log.Err(herr).Error("handle failure error")
		}
		return
	}
	if !result.InProgress {
		log.Info("backup job completed", logger.Data{
			"parts_count": result.PartsCount,
			"total_size":  result.TotalSize,
			"total_items": result.TotalItems,
		})
	}
}

func (w *Worker) Shutdown() {
	close(w.shutdown)

	<-w.doneFetching
	<-w.doneProcessing
}

const letterBytes = "abcdef0123456789"

func randStringBytes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letterBytes[rand.Intn(len(letterBytes))]
	}
	return string(b)
}
