package offlinecache

import (
	"context"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/panoven/panoven/pkg/errcodes"
	"github.com/panoven/panoven/pkg/localstore"
	"github.com/panoven/panoven/pkg/objectstore"
	"github.com/panoven/panoven/pkg/tours"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
)

// Cache materializes complete, self-contained tour bundles for offline
// viewing, with a bounded number of live bundles.
type Cache struct {
	store       localstore.Store
	tourService *tours.Service
	objects     objectstore.Store
	maxTours    int
	ttl         time.Duration
	log         logger.Logger

	// Guards the capacity check-then-save sequence so two concurrent
	// downloads can't both claim the last slot.
	mu sync.Mutex

	now func() time.Time
}

func New(store localstore.Store, tourService *tours.Service, objects objectstore.Store, maxTours int, ttl time.Duration) *Cache {
	return &Cache{
		store:       store,
		tourService: tourService,
		objects:     objects,
		maxTours:    maxTours,
		ttl:         ttl,
		log:         logger.New(),
		now:         time.Now,
	}
}

// DownloadForOffline fetches the full tour graph plus every floor-plan image
// and writes one atomic bundle. A single image failing to download is logged
// and skipped; the bundle is still created without it. When the cache already
// holds the maximum number of live bundles the download fails with a capacity
// error; nothing is evicted on the caller's behalf.
func (c *Cache) DownloadForOffline(ctx context.Context, tourID int) (*localstore.StoredTour, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	infos, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}
	live := 0
	for _, info := range infos {
		// Re-downloading an already-cached tour supersedes it rather than
		// claiming a new slot.
		if info.ID != tourID && info.ExpiresAt.After(now) {
			live++
		}
	}
	if live >= c.maxTours {
		return nil, errcodes.CapacityExceeded("Offline tour", c.maxTours)
	}

	tour, err := c.tourService.RetrieveTour(ctx, tours.RetrieveTourOptions{
		ID:           &tourID,
		IncludeGraph: true,
	})
	if err != nil {
		return nil, err
	}

	tourData, err := json.Marshal(tour)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	floorPlans, err := json.Marshal(tour.FloorPlans)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	hotspots := []interface{}{}
	for _, plan := range tour.FloorPlans {
		for _, hotspot := range plan.Hotspots {
			hotspots = append(hotspots, hotspot)
		}
	}
	hotspotData, err := json.Marshal(hotspots)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	images := map[string][]byte{}
	for _, plan := range tour.FloorPlans {
		if plan.ImagePath == nil || *plan.ImagePath == "" {
			continue
		}
		img, err := c.fetchImage(ctx, *plan.ImagePath)
		if err != nil {
			c.log.Err(err).Warn("skipping floor plan image", logger.Data{"tour_id": tourID, "floor_plan_id": plan.ID})
			continue
		}
		images[strconv.Itoa(plan.ID)] = img
	}

	bundle := &localstore.StoredTour{
		TourID:     tour.ID,
		Name:       tour.Name,
		TourData:   tourData,
		FloorPlans: floorPlans,
		Hotspots:   hotspotData,
		Images:     images,
		CachedAt:   now,
		ExpiresAt:  now.Add(c.ttl),
	}

	if err := c.store.Save(ctx, bundle); err != nil {
		return nil, err
	}

	return bundle, nil
}

// GetCachedTour returns the bundle if present and unexpired. An expired
// bundle is deleted on read and reported as absent.
func (c *Cache) GetCachedTour(ctx context.Context, tourID int) (*localstore.StoredTour, error) {
	bundle, err := c.store.Load(ctx, tourID)
	if err != nil {
		return nil, err
	}

	if c.now().After(bundle.ExpiresAt) {
		if err := c.store.Delete(ctx, tourID); err != nil {
			c.log.Err(err).Warn("failed to delete expired tour bundle", logger.Data{"tour_id": tourID})
		}
		return nil, errcodes.NotFound("Cached tour")
	}

	return bundle, nil
}

// CleanExpiredTours sweeps every stored bundle and removes the expired ones.
// It returns the number removed.
func (c *Cache) CleanExpiredTours(ctx context.Context) (int, error) {
	infos, err := c.store.List(ctx)
	if err != nil {
		return 0, err
	}

	now := c.now()
	removed := 0
	for _, info := range infos {
		if now.After(info.ExpiresAt) {
			if err := c.store.Delete(ctx, info.ID); err != nil {
				c.log.Err(err).Warn("failed to delete expired tour bundle", logger.Data{"tour_id": info.ID})
				continue
			}
			removed++
		}
	}

	return removed, nil
}

// DeleteCachedTour frees a bundle slot on explicit user action.
func (c *Cache) DeleteCachedTour(ctx context.Context, tourID int) error {
	return c.store.Delete(ctx, tourID)
}

// CacheSize sums the footprint of all stored bundles. It is shown to the user
// as storage pressure and is never used for enforcement.
func (c *Cache) CacheSize(ctx context.Context) (int64, error) {
	stats, err := c.store.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.Size, nil
}

// Stats exposes the adapter's count/size/limit stats.
func (c *Cache) Stats(ctx context.Context) (*localstore.Stats, error) {
	return c.store.Stats(ctx)
}

func (c *Cache) fetchImage(ctx context.Context, path string) ([]byte, error) {
	r, err := c.objects.Download(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return data, nil
}
