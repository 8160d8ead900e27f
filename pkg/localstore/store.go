package localstore

import (
	"context"
	"time"

	"github.com/panoven/panoven/pkg/config"
	"github.com/uptrace/bun"
)

// StoredTour is the fully-materialized offline bundle for one tour. The
// structured payloads are kept as serialized JSON so both adapters can treat
// them as opaque bytes.
type StoredTour struct {
	TourID     int
	Name       string
	TourData   []byte
	FloorPlans []byte
	Hotspots   []byte
	Images     map[string][]byte
	Size       int64
	CachedAt   time.Time
	ExpiresAt  time.Time
}

// TourInfo is a listing entry for one stored tour.
type TourInfo struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Stats describes current local storage pressure.
type Stats struct {
	Count int   `json:"count"`
	Size  int64 `json:"size"`
	Limit int   `json:"limit"`
}

// Store is the uniform surface over the two storage adapters. Callers must
// stay agnostic to which adapter is bound; nothing adapter-specific may leak
// through this interface.
type Store interface {
	Save(ctx context.Context, tour *StoredTour) error
	// Load returns errcodes.NotFound when the tour isn't stored.
	Load(ctx context.Context, tourID int) (*StoredTour, error)
	List(ctx context.Context) ([]TourInfo, error)
	Delete(ctx context.Context, tourID int) error
	Stats(ctx context.Context) (*Stats, error)
}

// Select binds the concrete adapter for the process lifetime: the filesystem
// adapter when running inside a native shell with storage permission granted,
// the database adapter otherwise. Selection happens exactly once, at startup;
// it is never re-evaluated mid-session.
func Select(cfg *config.Config, db *bun.DB) (Store, error) {
	if cfg.NativeShell && cfg.StoragePermission {
		return NewFilesystemStore(cfg.CacheDir, cfg.MaxCachedTours)
	}
	return NewDatabaseStore(db, cfg.MaxCachedTours), nil
}

// payloadSize computes the footprint recorded for a bundle: serialized
// structured payloads plus raw image bytes.
func payloadSize(tour *StoredTour) int64 {
	size := int64(len(tour.TourData) + len(tour.FloorPlans) + len(tour.Hotspots))
	for _, img := range tour.Images {
		size += int64(len(img))
	}
	return size
}
