package tours

import (
	"context"
	"database/sql"
	"time"

	"github.com/panoven/panoven/pkg/errcodes"
	"github.com/panoven/panoven/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveTourOptions struct {
	ID           *int
	IncludeGraph bool
}

type ListToursOptions struct {
	Limit  *int
	Offset *int
	UserID *string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateTour(ctx context.Context, tour *models.Tour) error {
	now := time.Now()
	if tour.CreatedAt.IsZero() {
		tour.CreatedAt = now
	}
	tour.UpdatedAt = tour.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(tour).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) RetrieveTour(ctx context.Context, opts RetrieveTourOptions) (*models.Tour, error) {
	tour := &models.Tour{}

	q := svc.db.
		NewSelect().
		Model(tour)

	if opts.ID != nil {
		q = q.Where("t.id = ?", *opts.ID)
	}
	if opts.IncludeGraph {
		q = q.
			Relation("FloorPlans", func(sq *bun.SelectQuery) *bun.SelectQuery {
				return sq.Order("fp.position ASC", "fp.id ASC")
			}).
			Relation("FloorPlans.Hotspots", func(sq *bun.SelectQuery) *bun.SelectQuery {
				return sq.Order("h.id ASC")
			}).
			Relation("FloorPlans.Hotspots.Photos", func(sq *bun.SelectQuery) *bun.SelectQuery {
				return sq.Order("p.id ASC")
			})
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Tour")
		}
		return nil, errors.WithStack(err)
	}

	return tour, nil
}

func (svc *Service) ListTours(ctx context.Context, opts ListToursOptions) ([]*models.Tour, error) {
	tours := []*models.Tour{}

	q := svc.db.
		NewSelect().
		Model(&tours).
		Order("t.created_at ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.UserID != nil {
		q = q.Where("t.user_id = ?", *opts.UserID)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return tours, nil
}

func (svc *Service) CreateFloorPlan(ctx context.Context, plan *models.FloorPlan) error {
	now := time.Now()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = plan.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(plan).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) CreateHotspot(ctx context.Context, hotspot *models.Hotspot) error {
	now := time.Now()
	if hotspot.CreatedAt.IsZero() {
		hotspot.CreatedAt = now
	}
	hotspot.UpdatedAt = hotspot.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(hotspot).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (svc *Service) CreatePhoto(ctx context.Context, photo *models.Photo) error {
	now := time.Now()
	if photo.CreatedAt.IsZero() {
		photo.CreatedAt = now
	}
	photo.UpdatedAt = photo.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(photo).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// ImageRef points at one binary image belonging to a tour, regardless of
// whether it is a floor-plan image or a panorama photo.
type ImageRef struct {
	Name        string
	StoragePath string
}

// ImageRefs flattens a tour graph into its binary images in a stable,
// deterministic order: floor-plan images first (by position, then id), then
// panorama photos (by floor plan, hotspot, photo id). Both the offline cache
// and the chunk slicing of the backup worker rely on this ordering being
// reproducible across invocations.
func ImageRefs(tour *models.Tour) []ImageRef {
	refs := []ImageRef{}

	for _, plan := range tour.FloorPlans {
		if plan.ImagePath != nil && *plan.ImagePath != "" {
			refs = append(refs, ImageRef{
				Name:        plan.Name,
				StoragePath: *plan.ImagePath,
			})
		}
	}

	for _, plan := range tour.FloorPlans {
		for _, hotspot := range plan.Hotspots {
			for _, photo := range hotspot.Photos {
				refs = append(refs, ImageRef{
					Name:        photo.Filename,
					StoragePath: photo.StoragePath,
				})
			}
		}
	}

	return refs
}
