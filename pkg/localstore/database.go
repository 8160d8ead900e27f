package localstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/panoven/panoven/pkg/errcodes"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

// cachedTourRow is the database adapter's row shape. It never leaves this
// package.
type cachedTourRow struct {
	bun.BaseModel `bun:"table:cached_tours,alias:ct"`

	TourID     int       `bun:",pk"`
	Name       string    `bun:",nullzero"`
	TourData   []byte    `bun:",nullzero"`
	FloorPlans []byte    `bun:",nullzero"`
	Hotspots   []byte    `bun:",nullzero"`
	Images     []byte    `bun:",nullzero"`
	Size       int64     `bun:""`
	CachedAt   time.Time `bun:""`
	ExpiresAt  time.Time `bun:""`
}

// DatabaseStore keeps tour bundles in the device's structured local database.
// Payloads are stored uncompressed; the backing store already page-compresses.
type DatabaseStore struct {
	db    *bun.DB
	limit int
}

func NewDatabaseStore(db *bun.DB, limit int) *DatabaseStore {
	return &DatabaseStore{db: db, limit: limit}
}

func (s *DatabaseStore) Save(ctx context.Context, tour *StoredTour) error {
	images, err := json.Marshal(tour.Images)
	if err != nil {
		return errors.WithStack(err)
	}

	tour.Size = payloadSize(tour)

	row := &cachedTourRow{
		TourID:     tour.TourID,
		Name:       tour.Name,
		TourData:   tour.TourData,
		FloorPlans: tour.FloorPlans,
		Hotspots:   tour.Hotspots,
		Images:     images,
		Size:       tour.Size,
		CachedAt:   tour.CachedAt,
		ExpiresAt:  tour.ExpiresAt,
	}

	// A later download of the same tour supersedes the stored bundle.
	_, err = s.db.
		NewInsert().
		Model(row).
		On("CONFLICT (tour_id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("tour_data = EXCLUDED.tour_data").
		Set("floor_plans = EXCLUDED.floor_plans").
		Set("hotspots = EXCLUDED.hotspots").
		Set("images = EXCLUDED.images").
		Set("size = EXCLUDED.size").
		Set("cached_at = EXCLUDED.cached_at").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (s *DatabaseStore) Load(ctx context.Context, tourID int) (*StoredTour, error) {
	row := &cachedTourRow{}

	err := s.db.
		NewSelect().
		Model(row).
		Where("ct.tour_id = ?", tourID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Cached tour")
		}
		return nil, errors.WithStack(err)
	}

	images := map[string][]byte{}
	if len(row.Images) > 0 {
		if err := json.Unmarshal(row.Images, &images); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	return &StoredTour{
		TourID:     row.TourID,
		Name:       row.Name,
		TourData:   row.TourData,
		FloorPlans: row.FloorPlans,
		Hotspots:   row.Hotspots,
		Images:     images,
		Size:       row.Size,
		CachedAt:   row.CachedAt,
		ExpiresAt:  row.ExpiresAt,
	}, nil
}

func (s *DatabaseStore) List(ctx context.Context) ([]TourInfo, error) {
	rows := []*cachedTourRow{}

	err := s.db.
		NewSelect().
		Model(&rows).
		Column("ct.tour_id", "ct.name", "ct.size", "ct.cached_at", "ct.expires_at").
		Order("ct.cached_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	infos := make([]TourInfo, 0, len(rows))
	for _, row := range rows {
		infos = append(infos, TourInfo{
			ID:           row.TourID,
			Name:         row.Name,
			Size:         row.Size,
			LastModified: row.CachedAt,
			ExpiresAt:    row.ExpiresAt,
		})
	}

	return infos, nil
}

func (s *DatabaseStore) Delete(ctx context.Context, tourID int) error {
	_, err := s.db.
		NewDelete().
		Model((*cachedTourRow)(nil)).
		Where("tour_id = ?", tourID).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (s *DatabaseStore) Stats(ctx context.Context) (*Stats, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	stats := &Stats{Limit: s.limit}
	for _, info := range infos {
		if !info.ExpiresAt.After(now) {
			continue
		}
		stats.Count++
		stats.Size += info.Size
	}

	return stats, nil
}
