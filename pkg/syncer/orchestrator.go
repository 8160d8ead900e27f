package syncer

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/panoven/panoven/pkg/errcodes"
	"github.com/panoven/panoven/pkg/models"
	"github.com/panoven/panoven/pkg/uploadqueue"
	"github.com/robinjoseph08/golib/logger"
)

// Progress is a point-in-time snapshot of a drain, pushed to observers after
// every item.
type Progress struct {
	Total       int    `json:"total"`
	Processed   int    `json:"processed"`
	Failed      int    `json:"failed"`
	Percentage  int    `json:"percentage"`
	CurrentItem string `json:"current_item"`
}

type Observer func(Progress)

// DrainResult summarizes one completed (or cancelled) drain.
type DrainResult struct {
	Total     int  `json:"total"`
	Synced    int  `json:"synced"`
	Failed    int  `json:"failed"`
	Cancelled bool `json:"cancelled"`
}

// Orchestrator watches connectivity and drains the pending upload queue when
// the device comes back online. Items are uploaded one at a time in capture
// order; one item failing never stops the drain.
type Orchestrator struct {
	queue   *uploadqueue.Service
	backend Backend
	jobs    *JobService
	log     logger.Logger

	mu        sync.Mutex
	online    bool
	syncing   bool
	cancelled bool
	observers []Observer
}

// New builds an orchestrator. jobs may be nil, in which case drains run
// without a polled job row.
func New(queue *uploadqueue.Service, backend Backend, jobs *JobService) *Orchestrator {
	return &Orchestrator{
		queue:   queue,
		backend: backend,
		jobs:    jobs,
		log:     logger.New(),
	}
}

// Observe registers a progress callback. Callbacks run on the draining
// goroutine, so they must be quick.
func (o *Orchestrator) Observe(fn Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

// SetOnline records the current connectivity. A transition from offline to
// online with unsynced photos waiting starts a drain immediately; the drain
// runs to completion before SetOnline returns.
func (o *Orchestrator) SetOnline(ctx context.Context, online bool) error {
	o.mu.Lock()
	wasOnline := o.online
	o.online = online
	syncing := o.syncing
	o.mu.Unlock()

	if !online || wasOnline || syncing {
		return nil
	}

	count, err := o.queue.PendingCount(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	_, err = o.Drain(ctx)
	return err
}

func (o *Orchestrator) IsOnline() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

func (o *Orchestrator) IsSyncing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.syncing
}

// Cancel requests that an in-progress drain stop. The in-flight item finishes;
// everything after it stays pending for a later drain.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.syncing {
		o.cancelled = true
	}
}

// Drain uploads every pending photo sequentially in capture order. A failed
// item is marked failed with its error retained and the drain moves on to the
// next one.
func (o *Orchestrator) Drain(ctx context.Context) (*DrainResult, error) {
	return o.drain(ctx, "")
}

// DrainJob runs a drain that reports into a sync job row, which is what the
// UI polls for progress. The row's cancel flag is honored between items, the
// same checkpoint Cancel uses, and the job is moved to its terminal status
// when the drain ends.
func (o *Orchestrator) DrainJob(ctx context.Context, syncJobID string) (*DrainResult, error) {
	if o.jobs == nil {
		return nil, errcodes.NotFound("Sync job")
	}
	if _, err := o.jobs.RetrieveJob(ctx, syncJobID); err != nil {
		return nil, err
	}
	return o.drain(ctx, syncJobID)
}

func (o *Orchestrator) drain(ctx context.Context, syncJobID string) (*DrainResult, error) {
	o.mu.Lock()
	if o.syncing {
		o.mu.Unlock()
		return nil, errcodes.Conflict("A sync is already in progress.")
	}
	o.syncing = true
	o.cancelled = false
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.syncing = false
		o.cancelled = false
		o.mu.Unlock()
	}()

	photos, err := o.queue.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	result := &DrainResult{Total: len(photos)}

	if syncJobID != "" {
		if err := o.jobs.setTotalItems(ctx, syncJobID, len(photos)); err != nil {
			return nil, err
		}
	}

	for _, photo := range photos {
		o.mu.Lock()
		cancelled := o.cancelled
		o.mu.Unlock()
		if !cancelled && syncJobID != "" {
			cancelled, err = o.jobs.cancelRequested(ctx, syncJobID)
			if err != nil {
				return nil, err
			}
		}
		if cancelled {
			result.Cancelled = true
			break
		}

		if err := o.queue.MarkSyncing(ctx, photo.ID); err != nil {
			return nil, err
		}

		if uploadErr := o.backend.UploadPhoto(ctx, photo); uploadErr != nil {
			o.log.Err(uploadErr).Warn("photo sync failed", logger.Data{"photo_id": photo.ID, "tour_id": photo.TourID})
			if err := o.queue.MarkFailed(ctx, photo.ID, uploadErr); err != nil {
				return nil, err
			}
			if syncJobID != "" {
				if err := o.jobs.RecordItemFailed(ctx, syncJobID, uploadErr.Error()); err != nil {
					return nil, err
				}
			}
			result.Failed++
		} else {
			if err := o.queue.MarkSynced(ctx, photo.ID); err != nil {
				return nil, err
			}
			if syncJobID != "" {
				if err := o.jobs.RecordItemSynced(ctx, syncJobID); err != nil {
					return nil, err
				}
			}
			result.Synced++
		}

		o.notify(Progress{
			Total:       result.Total,
			Processed:   result.Synced + result.Failed,
			Failed:      result.Failed,
			Percentage:  percentage(result.Synced+result.Failed, result.Total),
			CurrentItem: photo.Filename,
		})
	}

	if syncJobID != "" {
		job, err := o.jobs.CompleteJob(ctx, syncJobID)
		if err != nil {
			return nil, err
		}
		if job.Status == models.SyncJobStatusCancelled {
			result.Cancelled = true
		}
	}

	return result, nil
}

// Cleanup removes confirmed-synced photos older than the given age.
func (o *Orchestrator) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	return o.queue.CleanupSynced(ctx, olderThan)
}

func (o *Orchestrator) notify(p Progress) {
	o.mu.Lock()
	observers := make([]Observer, len(o.observers))
	copy(observers, o.observers)
	o.mu.Unlock()

	for _, fn := range observers {
		fn(p)
	}
}

func percentage(processed, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(processed) / float64(total) * 100))
}
